package config

import (
	"net"
	"path/filepath"
	"time"

	"github.com/go-i2p/go-msgrouter/lib/control"
	"github.com/go-i2p/go-msgrouter/lib/envelope"
	"github.com/go-i2p/go-msgrouter/lib/relay"
	"github.com/go-i2p/go-msgrouter/lib/transport"
	"github.com/go-i2p/go-msgrouter/lib/util/time/skew"
	"github.com/go-i2p/go-msgrouter/lib/util/time/sntp"
	"github.com/go-i2p/logger"
)

// DefaultKeyRingFile is the key ring file name inside WorkingDir.
const DefaultKeyRingFile = "keyring.yaml"

// Config is the complete runtime configuration.
type Config struct {
	// BaseDir is where per-system defaults are stored.
	// Default: $HOME/.go-msgrouter/base
	BaseDir string
	// WorkingDir is where runtime state is written.
	// Default: $HOME/.go-msgrouter/config
	WorkingDir string

	KeyRing   KeyRingConfig
	Relay     RelayConfig
	Router    RouterConfig
	Transport TransportConfig
	Time      TimeConfig
	Control   ControlConfig
}

type KeyRingConfig struct {
	// Path of the YAML key ring. Default: WorkingDir/keyring.yaml
	Path string
}

// RelayConfig bounds the relay store. Zero limits mean unlimited.
type RelayConfig struct {
	// Default: 256
	MaxPerDestination int
	// Default: 65536
	MaxMessages int
	// Default: 64 MiB
	MaxBytes int64
	// Shards is the number of independently locked partitions.
	// Default: 64
	Shards int
	// SweepInterval is how often expired envelopes are purged.
	// Default: 30 seconds
	SweepInterval time.Duration
}

type RouterConfig struct {
	// ExpiryTolerance is added to an envelope's expiry before it counts
	// as elapsed, absorbing clock skew between peers.
	// Default: 0
	ExpiryTolerance time.Duration
}

type TransportConfig struct {
	// Default: 127.0.0.1:7680
	ListenAddr string
	// Default: 1 MiB + 64 KiB
	MaxFrameSize int
	// RateLimit is frames per second per connection, 0 for unlimited.
	// Default: 100
	RateLimit float64
	// Default: 200
	RateBurst int
	// Default: 5 minutes
	IdleTimeout time.Duration
}

type TimeConfig struct {
	// Default: 0.pool.ntp.org, 1.pool.ntp.org, 2.pool.ntp.org
	NTPServers []string
	// Default: 11 minutes
	SyncInterval time.Duration
	// Concurring is how many servers must agree on an offset.
	// Default: 3
	Concurring int
	// Default: 10 seconds
	Timeout time.Duration
	// Disabled turns NTP off; the local clock is trusted as is.
	Disabled bool
}

// ControlConfig enables the JSON-RPC diagnostics endpoint.
type ControlConfig struct {
	// Default: false
	Enabled bool
	// Default: 127.0.0.1:7681
	ListenAddr string
	// Password must be set when Enabled.
	Password string
	// Default: 10 minutes
	TokenTTL time.Duration
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	dir := BuildDirPath()
	working := filepath.Join(dir, "config")
	limits := relay.DefaultLimits()
	tc := transport.DefaultConfig()
	return Config{
		BaseDir:    filepath.Join(dir, "base"),
		WorkingDir: working,
		KeyRing:    KeyRingConfig{Path: filepath.Join(working, DefaultKeyRingFile)},
		Relay: RelayConfig{
			MaxPerDestination: limits.MaxPerDestination,
			MaxMessages:       limits.MaxMessages,
			MaxBytes:          limits.MaxBytes,
			Shards:            relay.DefaultShards,
			SweepInterval:     relay.DefaultSweepInterval,
		},
		Transport: TransportConfig{
			ListenAddr:   tc.ListenAddr,
			MaxFrameSize: tc.MaxFrameSize,
			RateLimit:    tc.RateLimit,
			RateBurst:    tc.RateBurst,
			IdleTimeout:  tc.IdleTimeout,
		},
		Time: TimeConfig{
			NTPServers:   sntp.ParseServers(sntp.DefaultServerList),
			SyncInterval: sntp.DefaultInterval,
			Concurring:   sntp.DefaultConcurring,
			Timeout:      sntp.DefaultTimeout,
		},
		Control: ControlConfig{
			ListenAddr: control.DefaultListenAddr,
			TokenTTL:   control.DefaultTokenTTL,
		},
	}
}

// Limits converts the relay settings for relay.Store.
func (c RelayConfig) Limits() relay.Limits {
	return relay.Limits{
		MaxPerDestination: c.MaxPerDestination,
		MaxMessages:       c.MaxMessages,
		MaxBytes:          c.MaxBytes,
	}
}

// ToleranceSeconds converts ExpiryTolerance for the expiration validator,
// rounding partial seconds up.
func (c RouterConfig) ToleranceSeconds() uint32 {
	if c.ExpiryTolerance <= 0 {
		return 0
	}
	secs := (c.ExpiryTolerance + time.Second - 1) / time.Second
	if secs > 1<<32-1 {
		return 1<<32 - 1
	}
	return uint32(secs)
}

// Server converts the transport settings for transport.NewServer.
func (c TransportConfig) Server() transport.Config {
	return transport.Config{
		ListenAddr:   c.ListenAddr,
		MaxFrameSize: c.MaxFrameSize,
		RateLimit:    c.RateLimit,
		RateBurst:    c.RateBurst,
		IdleTimeout:  c.IdleTimeout,
	}
}

// Syncer converts the time settings for sntp.NewSyncer.
func (c TimeConfig) Syncer() sntp.Config {
	return sntp.Config{
		Servers:    c.NTPServers,
		Interval:   c.SyncInterval,
		Concurring: c.Concurring,
		Timeout:    c.Timeout,
		Disabled:   c.Disabled,
	}
}

// Server converts the control settings for control.NewServer.
func (c ControlConfig) Server() control.Config {
	return control.Config{
		ListenAddr: c.ListenAddr,
		Password:   c.Password,
		TokenTTL:   c.TokenTTL,
	}
}

// Validate checks cfg and returns the first problem found.
func Validate(cfg Config) error {
	log.WithFields(logger.Fields{
		"at":     "config.Validate",
		"reason": "verification_requested",
	}).Debug("validating configuration")

	validators := []func() error{
		func() error { return validatePaths(cfg) },
		func() error { return validateRelay(cfg.Relay) },
		func() error { return validateRouter(cfg.Router) },
		func() error { return validateTransport(cfg.Transport) },
		func() error { return validateTime(cfg.Time) },
		func() error { return validateControl(cfg.Control) },
	}
	for _, validator := range validators {
		if err := validator(); err != nil {
			log.WithError(err).Error("Configuration validation failed")
			return err
		}
	}
	log.WithField("at", "config.Validate").Debug("configuration is valid")
	return nil
}

func validatePaths(cfg Config) error {
	if cfg.WorkingDir == "" {
		return newValidationError("WorkingDir must be set")
	}
	if cfg.KeyRing.Path == "" {
		return newValidationError("KeyRing.Path must be set")
	}
	return nil
}

func validateRelay(r RelayConfig) error {
	if r.MaxPerDestination < 0 || r.MaxMessages < 0 || r.MaxBytes < 0 {
		log.WithFields(logger.Fields{
			"at":                  "validateRelay",
			"max_per_destination": r.MaxPerDestination,
			"max_messages":        r.MaxMessages,
			"max_bytes":           r.MaxBytes,
		}).Error("invalid relay configuration")
		return newValidationError("Relay limits must not be negative")
	}
	if r.Shards < 1 {
		return newValidationError("Relay.Shards must be at least 1")
	}
	if r.SweepInterval < time.Second {
		return newValidationError("Relay.SweepInterval must be at least 1 second")
	}
	return nil
}

func validateRouter(r RouterConfig) error {
	if r.ExpiryTolerance < 0 {
		return newValidationError("Router.ExpiryTolerance must not be negative")
	}
	if r.ExpiryTolerance > skew.MaxClockSkew {
		log.WithFields(logger.Fields{
			"at":               "validateRouter",
			"expiry_tolerance": r.ExpiryTolerance,
			"maximum":          skew.MaxClockSkew,
		}).Error("invalid router configuration")
		return newValidationError("Router.ExpiryTolerance must not exceed the maximum clock skew")
	}
	return nil
}

// minFrameSize fits the envelope routing prefix plus a kind and version.
const minFrameSize = 1 + envelope.FrameHeaderSize + envelope.RoutingPrefixSize

func validateTransport(t TransportConfig) error {
	if _, _, err := net.SplitHostPort(t.ListenAddr); err != nil {
		log.WithError(err).WithField("listen_addr", t.ListenAddr).Error("invalid transport configuration")
		return newValidationError("Transport.ListenAddr must be host:port")
	}
	if t.MaxFrameSize < minFrameSize {
		return newValidationError("Transport.MaxFrameSize is too small to carry an envelope")
	}
	if t.RateLimit < 0 {
		return newValidationError("Transport.RateLimit must not be negative")
	}
	if t.RateLimit > 0 && t.RateBurst < 1 {
		return newValidationError("Transport.RateBurst must be at least 1 when rate limiting")
	}
	if t.IdleTimeout < 0 {
		return newValidationError("Transport.IdleTimeout must not be negative")
	}
	return nil
}

func validateTime(t TimeConfig) error {
	if t.Disabled {
		return nil
	}
	if len(t.NTPServers) == 0 {
		return newValidationError("Time.NTPServers must list at least one server unless time sync is disabled")
	}
	if t.SyncInterval < time.Minute {
		return newValidationError("Time.SyncInterval must be at least 1 minute")
	}
	if t.Concurring < 1 || t.Concurring > 4 {
		return newValidationError("Time.Concurring must be between 1 and 4")
	}
	if t.Timeout <= 0 {
		return newValidationError("Time.Timeout must be positive")
	}
	return nil
}

func validateControl(c ControlConfig) error {
	if !c.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return newValidationError("Control.ListenAddr must be host:port")
	}
	if c.Password == "" {
		log.WithFields(logger.Fields{
			"at":     "validateControl",
			"reason": "empty_password",
		}).Error("invalid control configuration")
		return newValidationError("Control.Password must be set when the control server is enabled")
	}
	return nil
}

// validationError is returned when configuration validation fails
type validationError struct {
	message string
}

func newValidationError(message string) error {
	return &validationError{message: message}
}

func (e *validationError) Error() string {
	return "configuration validation failed: " + e.message
}
