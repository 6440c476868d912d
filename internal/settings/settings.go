// Package settings loads tool-level configuration: where runs are stored,
// how many workers and engine slots a run gets, and which calculation
// engine to talk to. Values come from KILN_* environment variables, a
// kiln.yaml file and built-in defaults, in that precedence order.
package settings

import (
	"errors"
	"strings"

	"github.com/spf13/viper"

	"github.com/kilnworks/kiln/internal/fault"
)

// Settings is the resolved tool configuration.
type Settings struct {
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`
	Scratch     string `mapstructure:"scratch"`
	Workers     int    `mapstructure:"workers"`
	MaxParallel int    `mapstructure:"max_parallel"`
	StatusAddr  string `mapstructure:"status_addr"`

	Engine EngineSettings `mapstructure:"engine"`
}

// EngineSettings selects and locates the calculation engine.
type EngineSettings struct {
	// Mode is "local" or "remote".
	Mode string `mapstructure:"mode"`

	// Command and Args run tasks as local subprocesses in local mode.
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`

	// URL, Namespace and the TLS toggle locate the compute daemon in
	// remote mode. TimeoutSeconds bounds one task submission.
	URL                string `mapstructure:"url"`
	Namespace          string `mapstructure:"namespace"`
	TimeoutSeconds     int    `mapstructure:"timeout_seconds"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// Load reads the configuration. An explicit path is required to exist;
// otherwise kiln.yaml is searched in the working directory and the user
// config directory, and missing files fall back to defaults.
func Load(path string) (*Settings, error) {
	v := viper.New()

	v.SetEnvPrefix("KILN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fault.Configf("reading settings file %s: %v", path, err)
		}
	} else {
		v.SetConfigName("kiln")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/kiln")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fault.Configf("reading settings: %v", err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fault.Configf("unmarshaling settings: %v", err)
	}
	return &s, nil
}
