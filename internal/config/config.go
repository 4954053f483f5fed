// Package config loads the shared configuration surface for the sound
// client and server: a YAML file with environment-variable overrides.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the full option surface. Zero values are filled in by
// defaults before any file or environment override applies.
type Config struct {
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Network struct {
		ServerHost string `yaml:"server_host"`
		ServerPort int    `yaml:"server_port"`
		// TLS turns on encrypted transport. The server requires cert
		// and key when set; the client falls back to plaintext (with a
		// log line) when the CA material is missing.
		TLS     bool   `yaml:"tls"`
		TLSCert string `yaml:"tls_cert"`
		TLSKey  string `yaml:"tls_key"`
		TLSCA   string `yaml:"tls_ca"`
	} `yaml:"network"`

	Sounds struct {
		Dir      string `yaml:"dir"`
		CacheDir string `yaml:"cache_dir"`
		Room     string `yaml:"room"`
		Volume   int    `yaml:"volume"`
		// HeadshotPriority prefers the headshot sound over killstreak
		// sounds when a streak kill is also a headshot.
		HeadshotPriority bool `yaml:"headshot_priority"`
	} `yaml:"sounds"`

	Transfers struct {
		// SuspendWhileAlive pauses up/downloads while the local player
		// is alive in a live round.
		SuspendWhileAlive bool `yaml:"suspend_while_alive"`
	} `yaml:"transfers"`

	Gamestate struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"gamestate"`
}

// Default returns the configuration used when no file and no overrides
// are present.
func Default() *Config {
	cfg := &Config{}
	cfg.Log.Level = "info"
	cfg.Network.ServerHost = "127.0.0.1"
	cfg.Network.ServerPort = 4004
	cfg.Sounds.Dir = "sounds"
	cfg.Sounds.CacheDir = "cache"
	cfg.Sounds.Volume = 50
	cfg.Transfers.SuspendWhileAlive = true
	cfg.Gamestate.ListenAddr = "127.0.0.1:3000"
	return cfg
}

// Load reads the YAML file at path (skipped when path is empty or the
// file is absent) and applies environment overrides on top.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if cfg.Sounds.Volume < 0 || cfg.Sounds.Volume > 100 {
		return nil, fmt.Errorf("volume %d out of range 0-100", cfg.Sounds.Volume)
	}
	if cfg.Network.TLS && (cfg.Network.TLSCert == "") != (cfg.Network.TLSKey == "") {
		return nil, fmt.Errorf("tls cert and key must be configured together")
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Log.Level = getEnv("QUAKE_LOG_LEVEL", c.Log.Level)
	c.Network.ServerHost = getEnv("QUAKE_SERVER_HOST", c.Network.ServerHost)
	c.Network.ServerPort = getEnvAsInt("QUAKE_SERVER_PORT", c.Network.ServerPort)
	c.Network.TLS = getEnvAsBool("QUAKE_TLS", c.Network.TLS)
	c.Network.TLSCert = getEnv("QUAKE_TLS_CERT", c.Network.TLSCert)
	c.Network.TLSKey = getEnv("QUAKE_TLS_KEY", c.Network.TLSKey)
	c.Network.TLSCA = getEnv("QUAKE_TLS_CA", c.Network.TLSCA)
	c.Sounds.Dir = getEnv("QUAKE_SOUNDS_DIR", c.Sounds.Dir)
	c.Sounds.CacheDir = getEnv("QUAKE_CACHE_DIR", c.Sounds.CacheDir)
	c.Sounds.Room = getEnv("QUAKE_ROOM", c.Sounds.Room)
	c.Sounds.Volume = getEnvAsInt("QUAKE_VOLUME", c.Sounds.Volume)
	c.Gamestate.ListenAddr = getEnv("QUAKE_GAMESTATE_ADDR", c.Gamestate.ListenAddr)
}

// ServerAddr renders the host:port dial/bind address.
func (c *Config) ServerAddr() string {
	return net.JoinHostPort(c.Network.ServerHost, strconv.Itoa(c.Network.ServerPort))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
