// Package schema is the schema registry: an in-memory catalog
// mapping module-type-id to property definitions, loaded once at startup
// from a directory of declarative YAML module descriptions, parsed with
// gopkg.in/yaml.v3.
package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/naokiiwakami/mission-control/internal/mcerr"
)

// ValueType is the tagged union of property wire types.
type ValueType string

const (
	TypeU8        ValueType = "u8"
	TypeU16       ValueType = "u16"
	TypeU32       ValueType = "u32"
	TypeText      ValueType = "text"
	TypeBoolean   ValueType = "boolean"
	TypeVectorU8  ValueType = "vector_u8"
	TypeVectorU16 ValueType = "vector_u16"
)

// PropertyDef describes one property slot of a module type.
type PropertyDef struct {
	ID        uint8     `yaml:"id"`
	Name      string    `yaml:"name"`
	ValueType ValueType `yaml:"type"`
	EnumNames []string  `yaml:"enum,omitempty"`
	ReadOnly  bool      `yaml:"read_only,omitempty"`
}

// ModuleDef is the merged (common + type-specific) property set for one
// module type.
type ModuleDef struct {
	ModuleType     uint16
	ModuleTypeName string
	Properties     []PropertyDef
}

// PropertyByID returns the property definition for id, or ok=false.
func (m *ModuleDef) PropertyByID(id uint8) (PropertyDef, bool) {
	for _, p := range m.Properties {
		if p.ID == id {
			return p, true
		}
	}
	return PropertyDef{}, false
}

// PropertyByName returns the property definition matching name
// case-insensitively, or ok=false.
func (m *ModuleDef) PropertyByName(name string) (PropertyDef, bool) {
	for _, p := range m.Properties {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return PropertyDef{}, false
}

// yamlModuleDef is the on-disk shape of one schema file.
type yamlModuleDef struct {
	ModuleType     uint16 `yaml:"module_type"`
	ModuleTypeName string `yaml:"module_type_name"`
	Properties     []struct {
		ID       uint8    `yaml:"id"`
		Name     string   `yaml:"name"`
		Type     string   `yaml:"type"`
		Enum     []string `yaml:"enum"`
		ReadOnly bool     `yaml:"read_only"`
	} `yaml:"properties"`
}

// commonProperties are merged into every module type:
// property 0 (module_uid), 1 (module_type), 2 (name).
func commonProperties() []PropertyDef {
	return []PropertyDef{
		{ID: 0, Name: "module_uid", ValueType: TypeU32, ReadOnly: true},
		{ID: 1, Name: "module_type", ValueType: TypeU16, ReadOnly: true},
		{ID: 2, Name: "name", ValueType: TypeText},
	}
}

// Registry is the loaded, immutable schema catalog. No mutation after Load.
type Registry struct {
	byType map[uint16]*ModuleDef
	common *ModuleDef
}

// Load reads every *.yaml/*.yml file in dir and merges the common
// definition into each. Unknown types resolve to the common definition via
// Lookup.
func Load(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: read schema dir %q: %v", mcerr.ErrSchema, dir, err)
	}
	r := &Registry{byType: map[uint16]*ModuleDef{}}
	r.common = &ModuleDef{ModuleTypeName: "unknown", Properties: commonProperties()}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: read %q: %v", mcerr.ErrSchema, path, err)
		}
		var y yamlModuleDef
		if err := yaml.Unmarshal(raw, &y); err != nil {
			return nil, fmt.Errorf("%w: parse %q: %v", mcerr.ErrSchema, path, err)
		}
		def := &ModuleDef{
			ModuleType:     y.ModuleType,
			ModuleTypeName: y.ModuleTypeName,
			Properties:     append([]PropertyDef{}, commonProperties()...),
		}
		for _, p := range y.Properties {
			def.Properties = append(def.Properties, PropertyDef{
				ID:        p.ID,
				Name:      p.Name,
				ValueType: ValueType(p.Type),
				EnumNames: p.Enum,
				ReadOnly:  p.ReadOnly,
			})
		}
		r.byType[def.ModuleType] = def
	}
	return r, nil
}

// Lookup returns the merged definition for moduleType, falling back to the
// common definition for unknown types.
func (r *Registry) Lookup(moduleType uint16) *ModuleDef {
	if d, ok := r.byType[moduleType]; ok {
		return d
	}
	return r.common
}

// Common returns the schema-independent common definition.
func (r *Registry) Common() *ModuleDef { return r.common }
