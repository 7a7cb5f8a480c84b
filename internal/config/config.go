// Package config resolves runtime settings and the deployment pipeline file.
//
// Runtime settings come from flags, then REPLICA_* environment variables,
// then defaults. The pipeline file describes which service this client is and
// which requests it answers.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/roach88/replica/internal/store"
	"github.com/roach88/replica/internal/transport"
)

// Flag and viper keys.
const (
	KeyLogFile       = "log-file"
	KeyHost          = "host"
	KeyPort          = "port"
	KeyLogBackend    = "log-backend"
	KeyPipeline      = "pipeline"
	KeyMetricsListen = "metrics-listen"
	KeyVerbose       = "verbose"
)

// Defaults for the documented settings.
const (
	DefaultLogFile = "replica.log"
	DefaultHost    = "localhost"
	DefaultPort    = 8080
)

// EnvPrefix namespaces environment overrides: --log-file becomes
// REPLICA_LOG_FILE.
const EnvPrefix = "REPLICA"

// Config is the resolved runtime configuration.
type Config struct {
	LogFile       string
	Host          string
	Port          int
	Backend       store.Backend
	PipelinePath  string
	MetricsListen string
	Verbose       bool
}

// Target returns the store URL.
func (c Config) Target() string {
	return transport.Target(c.Host, c.Port)
}

// RegisterLogFlags adds the flags every command that reads the log needs.
func RegisterLogFlags(fs *pflag.FlagSet) {
	fs.String(KeyLogFile, DefaultLogFile, "path of the persistent message log")
	fs.String(KeyLogBackend, string(store.BackendFile), "log backend: file or sqlite")
}

// RegisterRunFlags adds the flags of the run command.
func RegisterRunFlags(fs *pflag.FlagSet) {
	RegisterLogFlags(fs)
	fs.String(KeyHost, DefaultHost, "store hostname")
	fs.Int(KeyPort, DefaultPort, "store port")
	fs.String(KeyPipeline, "", "deployment pipeline file (.yaml, .yml or .cue)")
	fs.String(KeyMetricsListen, "", "address to serve Prometheus metrics on (empty disables)")
}

// Bind attaches every flag in fs to v and enables environment overrides.
func Bind(v *viper.Viper, fs *pflag.FlagSet) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if bindErr != nil {
			return
		}
		if err := v.BindPFlag(f.Name, f); err != nil {
			bindErr = fmt.Errorf("bind flag %s: %w", f.Name, err)
		}
	})
	return bindErr
}

// Load reads and validates the configuration from v.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		LogFile:       strings.TrimSpace(v.GetString(KeyLogFile)),
		Host:          strings.TrimSpace(v.GetString(KeyHost)),
		Port:          v.GetInt(KeyPort),
		PipelinePath:  strings.TrimSpace(v.GetString(KeyPipeline)),
		MetricsListen: strings.TrimSpace(v.GetString(KeyMetricsListen)),
		Verbose:       v.GetBool(KeyVerbose),
	}
	if cfg.LogFile == "" {
		cfg.LogFile = DefaultLogFile
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if !v.IsSet(KeyPort) {
		cfg.Port = DefaultPort
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("config: port %d out of range", cfg.Port)
	}

	backend := v.GetString(KeyLogBackend)
	if backend == "" {
		backend = string(store.BackendFile)
	}
	b, err := store.ParseBackend(backend)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.Backend = b
	return cfg, nil
}
