package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/msageha/tcexec/internal/model"
)

const (
	configFileName = "tcexec"
	configFileType = "yaml"
	envPrefix      = "TCEXEC"

	// cliResponseTimeoutSec bounds the wait for a remote reply when the
	// config leaves it unset.
	cliResponseTimeoutSec = 300
)

// flagKeys maps command-line flags onto config keys. A flag only overrides
// the config when it is set on the command line.
var flagKeys = map[string]string{
	"log-level":     "logging.level",
	"data-dir":      "data_dir",
	"host":          "server.host",
	"port":          "server.port",
	"read-timeout":  "server.read_timeout_sec",
	"metrics":       "metrics.listen",
	"bindings":      "bindings.file",
	"dsn":           "metadata.dsn",
	"fixtures":      "metadata.fixtures",
	"build":         "orchestrator.build_name",
	"report-upload": "orchestrator.report_results",
	"report":        "orchestrator.report_path",
	"timeout":       "client.response_timeout_sec",
}

// loadConfig reads tcexec.yaml from --config, the working directory or
// ~/.tcexec, overlays TCEXEC_* environment variables and set flags, and
// applies defaults. A missing config file is not an error.
func loadConfig(path string, cmd *cobra.Command) (model.Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType(configFileType)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".tcexec"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return model.Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if cmd != nil {
		if err := bindFlags(v, cmd.Flags()); err != nil {
			return model.Config{}, err
		}
	}

	var c model.Config
	if err := v.Unmarshal(&c); err != nil {
		return model.Config{}, fmt.Errorf("decode config: %w", err)
	}
	c.ApplyDefaults()
	return c, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key needs a default so that Unmarshal sees its env override.
	v.SetDefault("data_dir", model.DefaultDataDir)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", model.DefaultPort)
	v.SetDefault("server.single_session", true)
	v.SetDefault("server.read_timeout_sec", 0)
	v.SetDefault("client.connect_attempts", model.DefaultConnectAttempts)
	v.SetDefault("client.connect_backoff_ms", model.DefaultConnectBackoffMs)
	v.SetDefault("client.response_timeout_sec", cliResponseTimeoutSec)
	v.SetDefault("orchestrator.report_results", false)
	v.SetDefault("orchestrator.build_name", "")
	v.SetDefault("orchestrator.manual_executor", "")
	v.SetDefault("orchestrator.report_path", "")
	v.SetDefault("metadata.dsn", "")
	v.SetDefault("metadata.fixtures", "")
	v.SetDefault("bindings.file", "")
	v.SetDefault("bindings.default", "")
	v.SetDefault("bindings.watch", false)
	v.SetDefault("metrics.listen", "")
	v.SetDefault("logging.level", "info")
	return v
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}
	return nil
}
