package config

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Settings holds the process-wide configuration. Values are resolved in
// three layers, later layers winning: built-in defaults, an optional YAML
// config file, then HALYARD_* environment variables.
type Settings struct {
	DataPath   string `envconfig:"DATA_PATH" yaml:"data_path"`
	ListenAddr string `envconfig:"LISTEN_ADDR" yaml:"listen_addr"`
	LogPath    string `envconfig:"LOG_PATH" yaml:"log_path"`

	ConnectTimeout    time.Duration `envconfig:"CONNECT_TIMEOUT" yaml:"connect_timeout"`
	KeepaliveInterval time.Duration `envconfig:"KEEPALIVE_INTERVAL" yaml:"keepalive_interval"`
	DisconnectGrace   time.Duration `envconfig:"DISCONNECT_GRACE" yaml:"disconnect_grace"`
	ReconnectAttempts int           `envconfig:"RECONNECT_ATTEMPTS" yaml:"reconnect_attempts"`
}

var Cfg Settings

// Load fills Cfg. The config file is taken from HALYARD_CONFIG_FILE, or
// <data>/config.yaml when one exists. Call once at startup, before any
// other package reads Cfg.
func Load() {
	Cfg = defaults()

	path := os.Getenv("HALYARD_CONFIG_FILE")
	if path == "" {
		candidate := filepath.Join(Cfg.DataPath, "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	if path != "" {
		if err := applyFile(path, &Cfg); err != nil {
			log.Fatalf("failed to load config file %s: %v", path, err)
		}
	}

	if err := envconfig.Process("HALYARD", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if Cfg.DataPath == "" {
		Cfg.DataPath = defaultDataPath()
	}
}

func defaults() Settings {
	return Settings{
		DataPath:          defaultDataPath(),
		ListenAddr:        "127.0.0.1:8700",
		ConnectTimeout:    20 * time.Second,
		KeepaliveInterval: 30 * time.Second,
		DisconnectGrace:   5 * time.Second,
		ReconnectAttempts: 3,
	}
}

// defaultDataPath is the per-user data directory, with a relative fallback
// when the OS config dir cannot be determined (e.g. HOME unset).
func defaultDataPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return "halyard-data"
	}
	return filepath.Join(base, "halyard")
}

func applyFile(path string, s *Settings) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, s)
}
