package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-i2p/go-msgrouter/lib/util"
	"github.com/go-i2p/go-msgrouter/lib/util/time/sntp"
	"github.com/go-i2p/logger"
	"github.com/joho/godotenv"
	"github.com/samber/oops"
	"github.com/spf13/viper"
)

var (
	// CfgFile, when set, names the config file to read instead of the
	// default location. It must exist.
	CfgFile string
	log     = logger.GetGoI2PLogger()
)

const (
	MSGROUTER_BASE_DIR = ".go-msgrouter"
	EnvPrefix          = "MSGROUTER"
	envFileName        = ".env"
	configName         = "config"
)

// InitConfig loads .env files, applies defaults, binds the environment
// and reads the config file, writing a default one when none exists.
func InitConfig() error {
	LoadEnv(envFileName, filepath.Join(BuildDirPath(), envFileName))

	if CfgFile != "" {
		viper.SetConfigFile(CfgFile)
	} else {
		viper.AddConfigPath(BuildDirPath())
		viper.SetConfigName(configName)
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnv()
	return handleConfigFile()
}

// LoadEnv loads every existing file in paths into the process
// environment. Variables already set are not overridden.
func LoadEnv(paths ...string) {
	for _, p := range paths {
		if !util.FileExists(p) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			log.WithError(err).WithField("path", p).Warn("Could not load env file")
			continue
		}
		log.WithField("path", p).Debug("Loaded env file")
	}
}

func bindEnv() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

func setDefaults() {
	d := Defaults()
	viper.SetDefault("base_dir", d.BaseDir)
	viper.SetDefault("working_dir", d.WorkingDir)
	viper.SetDefault("keyring.path", "")

	viper.SetDefault("relay.max_per_destination", d.Relay.MaxPerDestination)
	viper.SetDefault("relay.max_messages", d.Relay.MaxMessages)
	viper.SetDefault("relay.max_bytes", d.Relay.MaxBytes)
	viper.SetDefault("relay.shards", d.Relay.Shards)
	viper.SetDefault("relay.sweep_interval", d.Relay.SweepInterval)

	viper.SetDefault("router.expiry_tolerance", d.Router.ExpiryTolerance)

	viper.SetDefault("transport.listen_addr", d.Transport.ListenAddr)
	viper.SetDefault("transport.max_frame_size", d.Transport.MaxFrameSize)
	viper.SetDefault("transport.rate_limit", d.Transport.RateLimit)
	viper.SetDefault("transport.rate_burst", d.Transport.RateBurst)
	viper.SetDefault("transport.idle_timeout", d.Transport.IdleTimeout)

	viper.SetDefault("time.ntp_servers", strings.Join(d.Time.NTPServers, ","))
	viper.SetDefault("time.sync_interval", d.Time.SyncInterval)
	viper.SetDefault("time.concurring", d.Time.Concurring)
	viper.SetDefault("time.timeout", d.Time.Timeout)
	viper.SetDefault("time.disabled", d.Time.Disabled)

	viper.SetDefault("control.enabled", d.Control.Enabled)
	viper.SetDefault("control.listen_addr", d.Control.ListenAddr)
	viper.SetDefault("control.password", d.Control.Password)
	viper.SetDefault("control.token_ttl", d.Control.TokenTTL)
}

// NewConfigFromViper builds a Config from the current viper settings.
func NewConfigFromViper() Config {
	cfg := Config{
		BaseDir:    util.ExpandHome(viper.GetString("base_dir")),
		WorkingDir: util.ExpandHome(viper.GetString("working_dir")),
		KeyRing: KeyRingConfig{
			Path: util.ExpandHome(viper.GetString("keyring.path")),
		},
		Relay: RelayConfig{
			MaxPerDestination: viper.GetInt("relay.max_per_destination"),
			MaxMessages:       viper.GetInt("relay.max_messages"),
			MaxBytes:          viper.GetInt64("relay.max_bytes"),
			Shards:            viper.GetInt("relay.shards"),
			SweepInterval:     viper.GetDuration("relay.sweep_interval"),
		},
		Router: RouterConfig{
			ExpiryTolerance: viper.GetDuration("router.expiry_tolerance"),
		},
		Transport: TransportConfig{
			ListenAddr:   viper.GetString("transport.listen_addr"),
			MaxFrameSize: viper.GetInt("transport.max_frame_size"),
			RateLimit:    viper.GetFloat64("transport.rate_limit"),
			RateBurst:    viper.GetInt("transport.rate_burst"),
			IdleTimeout:  viper.GetDuration("transport.idle_timeout"),
		},
		Time: TimeConfig{
			NTPServers:   ntpServers(),
			SyncInterval: viper.GetDuration("time.sync_interval"),
			Concurring:   viper.GetInt("time.concurring"),
			Timeout:      viper.GetDuration("time.timeout"),
			Disabled:     viper.GetBool("time.disabled"),
		},
		Control: ControlConfig{
			Enabled:    viper.GetBool("control.enabled"),
			ListenAddr: viper.GetString("control.listen_addr"),
			Password:   viper.GetString("control.password"),
			TokenTTL:   viper.GetDuration("control.token_ttl"),
		},
	}
	if cfg.KeyRing.Path == "" {
		cfg.KeyRing.Path = filepath.Join(cfg.WorkingDir, DefaultKeyRingFile)
	}
	return cfg
}

// Reload re-reads the config file and returns the validated result. The
// previous viper state is kept when the file cannot be read.
func Reload() (Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		return Config{}, oops.Wrapf(err, "reload config file")
	}
	cfg := NewConfigFromViper()
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	log.WithField("path", viper.ConfigFileUsed()).Info("Reloaded configuration")
	return cfg, nil
}

// ntpServers accepts either a YAML list or a comma separated string, the
// latter being the only form an environment variable can carry.
func ntpServers() []string {
	switch v := viper.Get("time.ntp_servers").(type) {
	case string:
		return sntp.ParseServers(v)
	case nil:
		return nil
	default:
		var out []string
		for _, s := range viper.GetStringSlice("time.ntp_servers") {
			out = append(out, sntp.ParseServers(s)...)
		}
		return out
	}
}

func handleConfigFile() error {
	err := viper.ReadInConfig()
	if err == nil {
		log.WithField("path", viper.ConfigFileUsed()).Debug("Using config file")
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	switch {
	case CfgFile != "" && (errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)):
		return oops.Wrapf(err, "config file %s not found", CfgFile)
	case errors.As(err, &notFound):
		return createDefaultConfig(BuildDirPath())
	default:
		return oops.Wrapf(err, "read config file")
	}
}

func createDefaultConfig(dir string) error {
	path := filepath.Join(dir, configName+".yaml")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return oops.Wrapf(err, "create config directory %s", dir)
	}
	if err := viper.SafeWriteConfigAs(path); err != nil {
		return oops.Wrapf(err, "write default config %s", path)
	}
	log.WithField("path", path).Info("Created default configuration")
	return nil
}

// BuildDirPath returns $HOME/.go-msgrouter.
func BuildDirPath() string {
	return filepath.Join(util.UserHome(), MSGROUTER_BASE_DIR)
}
