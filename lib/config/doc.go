// Package config loads go-msgrouter settings with viper.
//
// # Sources
//
// Values come, in increasing precedence, from the built-in defaults, the
// YAML file $HOME/.go-msgrouter/config.yaml (created with the defaults on
// first run, or the file named by CfgFile), a .env file in the working
// directory or the config directory, and MSGROUTER_* environment
// variables. Environment names are the key with dots replaced by
// underscores, so relay.max_messages is MSGROUTER_RELAY_MAX_MESSAGES.
//
// # Directories
//
// BaseDir holds read-only defaults shipped with the system; WorkingDir
// holds runtime state such as the key ring. keyring.path defaults to
// WorkingDir/keyring.yaml.
//
// # Usage
//
//	if err := config.InitConfig(); err != nil {
//		return err
//	}
//	cfg := config.NewConfigFromViper()
//	if err := config.Validate(cfg); err != nil {
//		return err
//	}
//	store := relay.NewStore(clock, cfg.Relay.Limits(), cfg.Relay.Shards)
package config
