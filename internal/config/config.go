// Package config is used to load the configuration file
package config

import (
	"fmt"
	"strconv"

	"github.com/spf13/viper"

	"github.com/ant4g0nist/voucher-swap/pkg/kmem/gdbremote"
)

type offsets struct {
	File    string `mapstructure:"file"`
	Layout  string `mapstructure:"layout"`
	Version string `mapstructure:"version"`
	PAC     bool   `mapstructure:"pac"`
}

type gdb struct {
	Addr       string `mapstructure:"addr"`
	Arena      string `mapstructure:"arena"`
	ArenaSize  string `mapstructure:"arena-size"`
	PacketSize int    `mapstructure:"packet-size"`
}

type kmem struct {
	Backend string `mapstructure:"backend"`
	GDB     gdb    `mapstructure:"gdb"`
}

// Config is the configuration struct
type Config struct {
	Offsets  offsets `mapstructure:"offsets"`
	Kmem     kmem    `mapstructure:"kmem"`
	Strategy string  `mapstructure:"strategy"`
}

func (c *Config) verify() error {
	if c.Offsets.Layout == "" && c.Offsets.Version == "" {
		return fmt.Errorf("config: offsets.layout or offsets.version must be set")
	}
	switch c.Kmem.Backend {
	case "":
		c.Kmem.Backend = "gdb"
	case "gdb":
	default:
		return fmt.Errorf("config: unknown kmem backend %q", c.Kmem.Backend)
	}
	switch c.Strategy {
	case "", "copy", "direct":
	default:
		return fmt.Errorf("config: strategy must be copy or direct, got %q", c.Strategy)
	}
	for name, v := range map[string]string{"arena": c.Kmem.GDB.Arena, "arena-size": c.Kmem.GDB.ArenaSize} {
		if v == "" {
			continue
		}
		if _, err := strconv.ParseUint(v, 0, 64); err != nil {
			return fmt.Errorf("config: bad kmem.gdb.%s %q: %v", name, v, err)
		}
	}
	return nil
}

// GDBConfig merges the KMEM_GDB_* environment with the values set here.
func (c *Config) GDBConfig() (*gdbremote.Config, error) {
	conf, err := gdbremote.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if c.Kmem.GDB.Addr != "" {
		conf.Addr = c.Kmem.GDB.Addr
	}
	if c.Kmem.GDB.Arena != "" {
		if err := conf.Arena.UnmarshalText([]byte(c.Kmem.GDB.Arena)); err != nil {
			return nil, err
		}
	}
	if c.Kmem.GDB.ArenaSize != "" {
		if err := conf.ArenaSize.UnmarshalText([]byte(c.Kmem.GDB.ArenaSize)); err != nil {
			return nil, err
		}
	}
	if c.Kmem.GDB.PacketSize > 0 {
		conf.PacketSize = c.Kmem.GDB.PacketSize
	}
	return conf, nil
}

// LoadConfig loads the configuration file
func LoadConfig() (*Config, error) {
	var c *Config

	if err := viper.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %v", err)
	}
	if c == nil {
		c = &Config{}
	}

	if err := c.verify(); err != nil {
		return nil, fmt.Errorf("config: failed to verify: %v", err)
	}

	return c, nil
}
