// Package module wires the other packages in this repository into a
// runnable node: the Module Lifecycle (spec §4.9/§9's "cyclic
// references ... broken by passing interfaces at construction").
// Grounded on original_source/mesh/subnet/server/server.py's Server
// class (__init__ builds validators/authorizers/dht, run starts the
// protocol/announcer/consensus threads, shutdown tears them down in
// reverse).
package module

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/naoina/toml"

	"github.com/hayotensor/subnet-commit-reveal-example/auth"
	"github.com/hayotensor/subnet-commit-reveal-example/chain"
)

// tomlSettings mirrors go-ethereum's cmd/geth/config.go tomlSettings:
// a TOML key matches a field whose name differs from it only in the
// case of the first letter (subnetID or SubnetID, not subnetid), and an
// unrecognized TOML key is a hard config error rather than silently
// ignored.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return strings.ToUpper(key[:1]) + key[1:]
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("module: config has unknown field %q for %s", field, rt.String())
	},
}

// Config is the on-disk node configuration, loaded from TOML via
// github.com/naoina/toml (go-ethereum's own config file library; see
// cmd/geth/config.go for the pattern this mirrors).
type Config struct {
	// IdentityPath points at a local private key file (spec §6:
	// "a local key file storing the identity private key" — an
	// external collaborator; see KeyStore below). Left empty, a fresh
	// ephemeral identity is generated instead, which is fine for a
	// mock-chain demo but never for production use.
	IdentityPath string

	SubnetID       uint32
	MockChain      bool
	BootstrapPeers []string

	UpdatePeriodSeconds int64
	ExpirationSeconds   int64
	MaxPinged           int
	MaxParallelRPC      int64

	PoSMinClass int // chain.Classification, stored as int for TOML round-tripping

	RateLimitPerSecond uint32
	RateLimitPerMinute uint32
	RateLimitPerHour   uint32

	LogFile  string
	LogLevel string
}

// DefaultConfig returns the config a fresh node starts from absent a
// config file, matching the defaults scattered through server.py's
// Server.__init__ keyword arguments and substrate/config.py.
func DefaultConfig() Config {
	return Config{
		SubnetID:            1,
		MockChain:           true,
		UpdatePeriodSeconds: 60,
		ExpirationSeconds:   120, // max(2*update_period, MAX_DHT_TIME_DISCREPANCY_SECONDS)
		MaxPinged:           5,
		MaxParallelRPC:      16,
		PoSMinClass:         int(chain.Idle),
		RateLimitPerSecond:  20,
		RateLimitPerMinute:  600,
		RateLimitPerHour:    6000,
		LogLevel:            "info",
	}
}

// LoadConfig reads a TOML config file, starting from DefaultConfig and
// overlaying whatever the file specifies.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("module: open config %q: %w", path, err)
	}
	defer f.Close()
	if err := tomlSettings.NewDecoder(f).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("module: parse config %q: %w", path, err)
	}
	return cfg, nil
}

func (c Config) updatePeriod() time.Duration { return time.Duration(c.UpdatePeriodSeconds) * time.Second }
func (c Config) expiration() time.Duration   { return time.Duration(c.ExpirationSeconds) * time.Second }

func (c Config) rateLimitConfig() auth.RateLimitConfig {
	d := auth.DefaultRateLimitConfig()
	if c.RateLimitPerSecond > 0 {
		d.PerSecond = c.RateLimitPerSecond
	}
	if c.RateLimitPerMinute > 0 {
		d.PerMinute = c.RateLimitPerMinute
	}
	if c.RateLimitPerHour > 0 {
		d.PerHour = c.RateLimitPerHour
	}
	return d
}
