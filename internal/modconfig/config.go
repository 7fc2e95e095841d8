// Package modconfig ties the property codec to the schema registry: a
// Configuration is a decoded property chunk together with the ModuleDef it
// should be interpreted against.
package modconfig

import (
	"encoding/binary"
	"fmt"

	"github.com/naokiiwakami/mission-control/internal/mcerr"
	"github.com/naokiiwakami/mission-control/internal/propcodec"
	"github.com/naokiiwakami/mission-control/internal/schema"
)

// Configuration is a decoded chunk interpreted against a schema ModuleDef.
// Property 1 (module_type) selects the ModuleDef; everything else in
// Properties is interpreted against it.
type Configuration struct {
	Def        *schema.ModuleDef
	Properties []propcodec.Property
}

// Interpret builds a Configuration from raw decoded properties, looking up
// property 1 (module_type, u16 BE) in reg to select the schema row.
func Interpret(reg *schema.Registry, properties []propcodec.Property) (*Configuration, error) {
	var moduleType uint16
	for _, p := range properties {
		if p.ID == 1 {
			if len(p.Data) != 2 {
				return nil, fmt.Errorf("%w: module_type property must be 2 bytes, got %d", mcerr.ErrProtocol, len(p.Data))
			}
			moduleType = binary.BigEndian.Uint16(p.Data)
		}
	}
	return &Configuration{Def: reg.Lookup(moduleType), Properties: properties}, nil
}

// Name returns the decoded "name" property (id 2) as a string, if present.
func (c *Configuration) Name() (string, bool) {
	return c.stringProperty(2)
}

func (c *Configuration) stringProperty(id uint8) (string, bool) {
	for _, p := range c.Properties {
		if p.ID == id {
			return string(p.Data), true
		}
	}
	return "", false
}

// ModuleType returns the decoded module_type property (id 1), if present.
func (c *Configuration) ModuleType() (uint16, bool) {
	for _, p := range c.Properties {
		if p.ID == 1 && len(p.Data) == 2 {
			return binary.BigEndian.Uint16(p.Data), true
		}
	}
	return 0, false
}

// Render formats every property in Properties as "name=value" using the
// associated ModuleDef, skipping properties with no schema definition.
func (c *Configuration) Render() ([]string, error) {
	out := make([]string, 0, len(c.Properties))
	for _, p := range c.Properties {
		def, ok := c.Def.PropertyByID(p.ID)
		if !ok {
			continue
		}
		v, err := schema.FormatValue(def, p.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, fmt.Sprintf("%s=%s", def.Name, v))
	}
	return out, nil
}
