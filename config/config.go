package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"dcnet/protocol"
)

// Config is the TOML configuration file. Global fields describe the local
// user; each [hubs.<name>] table describes one hub the client may join.
type Config struct {
	Nick        string `toml:"Nick"`
	Description string `toml:"Description"`
	Email       string `toml:"Email"`
	Connection  string `toml:"Connection"`
	Slots       int    `toml:"Slots"`

	// Active mode settings. When Active is false the client relies on
	// passive connect requests and hub-relayed search results.
	Active   bool   `toml:"Active"`
	ActiveIP string `toml:"ActiveIP"`
	TCPPort  int    `toml:"TCPPort"`
	UDPPort  int    `toml:"UDPPort"`

	FileList string `toml:"FileList"`
	HashDB   string `toml:"HashDB"`
	PID      string `toml:"PID"`

	// MetricsAddr exposes Prometheus metrics over HTTP when set, e.g.
	// "127.0.0.1:9815".
	MetricsAddr string `toml:"MetricsAddr"`

	Log    LogConfig            `toml:"log"`
	Shares map[string]string    `toml:"shares"`
	Hubs   map[string]HubConfig `toml:"hubs"`
}

// LogConfig controls structured log output.
type LogConfig struct {
	File       string `toml:"File"`
	Level      string `toml:"Level"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
}

// HubConfig describes one hub entry.
type HubConfig struct {
	Addr        string `toml:"Addr"`
	Dialect     string `toml:"Dialect"`
	Nick        string `toml:"Nick"`
	Password    string `toml:"Password"`
	Encoding    string `toml:"Encoding"`
	AutoConnect bool   `toml:"AutoConnect"`
}

// Load reads the configuration from path, creating a default file when none
// exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyDefaults(cfg, path)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config, path string) {
	dir := filepath.Dir(path)
	if cfg.Nick == "" {
		cfg.Nick = "dcnet_user"
	}
	if cfg.Connection == "" {
		cfg.Connection = "0.01"
	}
	if cfg.Slots <= 0 {
		cfg.Slots = 10
	}
	if cfg.TCPPort == 0 {
		cfg.TCPPort = 4112
	}
	if cfg.UDPPort == 0 {
		cfg.UDPPort = cfg.TCPPort
	}
	if cfg.FileList == "" {
		cfg.FileList = filepath.Join(dir, "files.xml")
	}
	if cfg.HashDB == "" {
		cfg.HashDB = filepath.Join(dir, "hash.db")
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Shares == nil {
		cfg.Shares = map[string]string{}
	}
	if cfg.Hubs == nil {
		cfg.Hubs = map[string]HubConfig{}
	}
	for name, hub := range cfg.Hubs {
		if hub.Dialect == "" {
			if strings.HasPrefix(hub.Addr, "adc://") {
				hub.Dialect = "adc"
			} else {
				hub.Dialect = "nmdc"
			}
		}
		hub.Addr = NormalizeAddr(hub.Addr)
		if hub.Nick == "" {
			hub.Nick = cfg.Nick
		}
		cfg.Hubs[name] = hub
	}
}

// NormalizeAddr turns a hub address as users write it into a dialable
// host:port: the scheme and trailing slash go, and a missing port becomes
// the standard 411. Redirect targets pass through here too.
func NormalizeAddr(addr string) string {
	addr = strings.TrimPrefix(addr, "adc://")
	addr = strings.TrimPrefix(addr, "dchub://")
	addr = strings.TrimSuffix(addr, "/")
	if addr == "" {
		return addr
	}
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(strings.Trim(addr, "[]"), "411")
}

func validate(cfg *Config) error {
	if err := validNick(cfg.Nick); err != nil {
		return err
	}
	if cfg.PID != "" {
		if _, err := protocol.ParseTTH(cfg.PID); err != nil {
			return fmt.Errorf("config: invalid PID: %w", err)
		}
	}
	for name, dir := range cfg.Shares {
		if name == "" || strings.ContainsAny(name, `/\`) {
			return fmt.Errorf("config: invalid share name %q", name)
		}
		if dir == "" {
			return fmt.Errorf("config: share %q has no directory", name)
		}
	}
	for name, hub := range cfg.Hubs {
		if hub.Addr == "" {
			return fmt.Errorf("config: hub %q has no address", name)
		}
		if hub.Dialect != "nmdc" && hub.Dialect != "adc" {
			return fmt.Errorf("config: hub %q has unknown dialect %q", name, hub.Dialect)
		}
		if err := validNick(hub.Nick); err != nil {
			return fmt.Errorf("config: hub %q: %w", name, err)
		}
	}
	return nil
}

func validNick(nick string) error {
	if nick == "" {
		return fmt.Errorf("config: empty nick")
	}
	if strings.ContainsAny(nick, "$| ") {
		return fmt.Errorf("config: nick %q contains reserved characters", nick)
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	pid, _, err := protocol.GenerateIdentity()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg := &Config{PID: pid.String()}
	applyDefaults(cfg, path)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("config: create directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, fmt.Errorf("config: write default: %w", err)
	}
	return cfg, nil
}
