// Package mcconfig parses mission-control's startup configuration: flags
// with environment-variable overrides, following the
// cmd/can-server/config.go shape (appConfig + parseFlags + applyEnvOverrides).
package mcconfig

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every startup knob mission-control needs.
type Config struct {
	CANBackend      string // "socketcan" | "serial"
	CANIf           string
	SerialDev       string
	SerialBaud      int
	SerialReadTO    time.Duration
	ConsoleListen   string
	SchemaDir       string
	AdminWiresBase  uint32
	WirePoolSize    int
	IndividualBase  uint32
	IDAssignRetries int
	IDAssignTimeout time.Duration
	CommandTimeout  time.Duration
	LogFormat       string
	LogLevel        string
	MetricsAddr     string
	MDNSEnable      bool
	MDNSName        string
	LogStatusEvery  time.Duration
}

// ParseFlags parses os.Args (via the flag package) and applies MC_* env
// overrides for anything not explicitly set on the command line. Returns
// (nil, showVersion) on a validation error, the same as parseFlags does
// elsewhere in this family of daemons.
func ParseFlags() (*Config, bool) {
	cfg := &Config{}
	canBackend := flag.String("can-backend", "socketcan", "CAN backend: serial|socketcan")
	canIf := flag.String("can-if", "can0", "SocketCAN interface (when --can-backend=socketcan)")
	serialDev := flag.String("serial-dev", "/dev/ttyUSB0", "Serial device path (when --can-backend=serial)")
	serialBaud := flag.Int("serial-baud", 115200, "Serial baud rate")
	serialReadTO := flag.Duration("serial-read-timeout", 50*time.Millisecond, "Serial read timeout")
	consoleListen := flag.String("console-listen", ":20000", "Operator console TCP listen address")
	schemaDir := flag.String("schema-dir", "./schema", "Directory of module-type schema YAML files")
	adminWiresBase := flag.Int("admin-wires-base", 0x680, "Base CAN-ID of the admin-wire stream pool")
	wirePoolSize := flag.Int("wire-pool-size", 64, "Number of admin-wire ids in the pool")
	individualBase := flag.Int("individual-base", 0x700, "Base CAN-ID for mission-control outbound and per-module replies")
	idAssignRetries := flag.Int("id-assign-retries", 10, "Max retries for the ID-assignment handshake")
	idAssignTimeout := flag.Duration("id-assign-timeout", 50*time.Millisecond, "Initial ID-assignment timeout (doubles per retry)")
	commandTimeout := flag.Duration("command-timeout", 10*time.Second, "Default timeout for ping/get-name/get-config/set-config")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/Avahi advertisement of the operator console")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default mission-control-<hostname>)")
	logStatusEvery := flag.Duration("log-status-interval", 0, "If >0, periodically log registry status (for non-Prometheus setups)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.CANBackend = *canBackend
	cfg.CANIf = *canIf
	cfg.SerialDev = *serialDev
	cfg.SerialBaud = *serialBaud
	cfg.SerialReadTO = *serialReadTO
	cfg.ConsoleListen = *consoleListen
	cfg.SchemaDir = *schemaDir
	cfg.AdminWiresBase = uint32(*adminWiresBase)
	cfg.WirePoolSize = *wirePoolSize
	cfg.IndividualBase = uint32(*individualBase)
	cfg.IDAssignRetries = *idAssignRetries
	cfg.IDAssignTimeout = *idAssignTimeout
	cfg.CommandTimeout = *commandTimeout
	cfg.LogFormat = *logFormat
	cfg.LogLevel = *logLevel
	cfg.MetricsAddr = *metricsAddr
	cfg.MDNSEnable = *mdnsEnable
	cfg.MDNSName = *mdnsName
	cfg.LogStatusEvery = *logStatusEvery

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation; it never touches the bus or
// filesystem.
func (c *Config) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.LogFormat)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.LogLevel)
	}
	switch c.CANBackend {
	case "serial", "socketcan":
	default:
		return fmt.Errorf("invalid can-backend: %s", c.CANBackend)
	}
	if c.SerialBaud <= 0 {
		return fmt.Errorf("serial-baud must be > 0 (got %d)", c.SerialBaud)
	}
	if c.SerialReadTO <= 0 {
		return errors.New("serial-read-timeout must be > 0")
	}
	if c.WirePoolSize <= 0 || c.WirePoolSize > 256 {
		return fmt.Errorf("wire-pool-size out of range: %d", c.WirePoolSize)
	}
	if c.AdminWiresBase+uint32(c.WirePoolSize) > c.IndividualBase {
		return errors.New("admin wire pool overlaps the individual-module reply range")
	}
	if c.IDAssignRetries <= 0 {
		return errors.New("id-assign-retries must be > 0")
	}
	if c.IDAssignTimeout <= 0 {
		return errors.New("id-assign-timeout must be > 0")
	}
	if c.CommandTimeout <= 0 {
		return errors.New("command-timeout must be > 0")
	}
	return nil
}

// applyEnvOverrides maps MC_* environment variables onto cfg unless the
// corresponding flag was explicitly set (flags win).
func applyEnvOverrides(c *Config, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	setErr := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	str := func(flagName, env string, dst *string) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			*dst = v
		}
	}
	dur := func(flagName, env string, dst *time.Duration) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				*dst = d
			} else if err != nil {
				setErr(fmt.Errorf("invalid %s: %w", env, err))
			}
		}
	}
	pint := func(flagName, env string, dst *int) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			} else {
				setErr(fmt.Errorf("invalid %s: %w", env, err))
			}
		}
	}
	boolv := func(flagName, env string, dst *bool) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				*dst = true
			case "0", "false", "no", "off":
				*dst = false
			}
		}
	}

	str("can-backend", "MC_CAN_BACKEND", &c.CANBackend)
	str("can-if", "MC_CAN_IF", &c.CANIf)
	str("serial-dev", "MC_SERIAL_DEV", &c.SerialDev)
	pint("serial-baud", "MC_SERIAL_BAUD", &c.SerialBaud)
	dur("serial-read-timeout", "MC_SERIAL_READ_TIMEOUT", &c.SerialReadTO)
	str("console-listen", "MC_CONSOLE_LISTEN", &c.ConsoleListen)
	str("schema-dir", "MC_SCHEMA_DIR", &c.SchemaDir)
	str("log-format", "MC_LOG_FORMAT", &c.LogFormat)
	str("log-level", "MC_LOG_LEVEL", &c.LogLevel)
	str("metrics-addr", "MC_METRICS_ADDR", &c.MetricsAddr)
	str("mdns-name", "MC_MDNS_NAME", &c.MDNSName)
	boolv("mdns-enable", "MC_MDNS_ENABLE", &c.MDNSEnable)
	pint("id-assign-retries", "MC_ID_ASSIGN_RETRIES", &c.IDAssignRetries)
	dur("id-assign-timeout", "MC_ID_ASSIGN_TIMEOUT", &c.IDAssignTimeout)
	dur("command-timeout", "MC_COMMAND_TIMEOUT", &c.CommandTimeout)
	dur("log-status-interval", "MC_LOG_STATUS_INTERVAL", &c.LogStatusEvery)

	return firstErr
}
