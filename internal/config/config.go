// Package config loads the runtime configuration from flags, CAST_*
// environment variables and an optional YAML file, in that precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Role is what this process does.
type Role string

const (
	RoleSend    Role = "send"    // caller: streams a media file
	RoleReceive Role = "receive" // callee: records or discards remote media
	RoleRelay   Role = "relay"   // runs the rendezvous relay
)

// Config stores every runtime parameter.
type Config struct {
	Role       Role     `mapstructure:"role"`
	RelayURL   string   `mapstructure:"relay_url"`
	Room       string   `mapstructure:"room"`
	Listen     string   `mapstructure:"listen"`
	ICEServers []string `mapstructure:"ice_servers"`
	MediaFile  string   `mapstructure:"media_file"`
	RecordFile string   `mapstructure:"record_file"`
	Debug      bool     `mapstructure:"debug"`

	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	WriteWait  time.Duration `mapstructure:"write_wait"`

	MaxPendingCandidates int           `mapstructure:"max_pending_candidates"`
	StatsInterval        time.Duration `mapstructure:"stats_interval"`
}

// flag name → config key
var flagKeys = map[string]string{
	"role":                   "role",
	"relay-url":              "relay_url",
	"room":                   "room",
	"listen":                 "listen",
	"ice-server":             "ice_servers",
	"media-file":             "media_file",
	"record-file":            "record_file",
	"debug":                  "debug",
	"read-limit":             "read_limit",
	"ping-period":            "ping_period",
	"pong-wait":              "pong_wait",
	"write-wait":             "write_wait",
	"max-pending-candidates": "max_pending_candidates",
	"stats-interval":         "stats_interval",
}

// RegisterFlags defines every configuration flag on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "YAML config file")
	fs.String("role", "", "send | receive | relay (prompted when empty)")
	fs.String("relay-url", "ws://localhost:8080", "relay base URL")
	fs.String("room", "", "room key shared by both peers")
	fs.String("listen", ":8080", "relay listen address")
	fs.StringSlice("ice-server", nil, "STUN/TURN URL, repeatable (default: public STUN)")
	fs.String("media-file", "", "IVF file to stream (send)")
	fs.String("record-file", "", "IVF file to record remote video to (receive, empty discards)")
	fs.Bool("debug", false, "enable debug logging")
	fs.Int64("read-limit", 64<<10, "largest relay frame in bytes")
	fs.Duration("ping-period", 25*time.Second, "relay keepalive ping interval")
	fs.Duration("pong-wait", 60*time.Second, "relay keepalive timeout")
	fs.Duration("write-wait", 10*time.Second, "relay write deadline")
	fs.Int("max-pending-candidates", 64, "remote candidates held while an offer awaits its answer")
	fs.Duration("stats-interval", 30*time.Second, "signaling stats log interval, 0 disables")
}

// Load resolves the configuration for a parsed flag set created with
// RegisterFlags.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			return nil, fmt.Errorf("flag --%s not registered", name)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}

	v.SetEnvPrefix("CAST")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
		v.SetConfigFile(f.Value.String())
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the fields required by the selected role.
func (c *Config) Validate() error {
	var errs []error

	switch c.Role {
	case RoleSend:
		if c.MediaFile == "" {
			errs = append(errs, errors.New("send requires media_file"))
		}
		errs = append(errs, c.validatePeer()...)
	case RoleReceive:
		errs = append(errs, c.validatePeer()...)
	case RoleRelay:
		if c.Listen == "" {
			errs = append(errs, errors.New("relay requires listen"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown role %q", c.Role))
	}

	if c.ReadLimit <= 0 {
		errs = append(errs, errors.New("read_limit must be positive"))
	}
	if c.PingPeriod <= 0 || c.PongWait <= 0 || c.PingPeriod >= c.PongWait {
		errs = append(errs, errors.New("ping_period must be positive and shorter than pong_wait"))
	}
	if c.MaxPendingCandidates < 0 {
		errs = append(errs, errors.New("max_pending_candidates must not be negative"))
	}
	return errors.Join(errs...)
}

func (c *Config) validatePeer() []error {
	var errs []error
	if c.RelayURL == "" {
		errs = append(errs, errors.New("relay_url is required"))
	}
	if c.Room == "" {
		errs = append(errs, errors.New("room is required"))
	}
	return errs
}
