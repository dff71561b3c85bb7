package common

import (
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	commonconfig "github.com/G-Research/maestro/internal/common/config"
	"github.com/G-Research/maestro/internal/common/logging"
)

// LoadConfig merges configFile, or $HOME/.<name>.yaml when configFile is empty, into config.
// Environment variables prefixed with MAESTRO_ override file values and flags, keyed by their
// configuration key, override both when set.
func LoadConfig(config interface{}, configFile string, name string, flags map[string]*pflag.Flag) error {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return errors.WithMessage(err, "error getting user home directory")
		}
		v.AddConfigPath(home)
		v.SetConfigName("." + name)
	}
	v.SetEnvPrefix("MAESTRO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// The default config file is optional.
		if !errors.As(err, &notFound) && !(configFile == "" && errors.Is(err, os.ErrNotExist)) {
			return errors.WithMessagef(err, "error reading config file %s", v.ConfigFileUsed())
		}
	}
	for key, flag := range flags {
		if err := v.BindPFlag(key, flag); err != nil {
			return errors.WithStack(err)
		}
	}
	return errors.WithStack(v.Unmarshal(config, commonconfig.CustomHooks...))
}

func ConfigureLogging() {
	if err := logging.Configure(logging.Config{Format: "text", Metrics: true}); err != nil {
		log.Error(err)
	}
}

func ConfigureCommandLineLogging() {
	if err := logging.Configure(logging.Config{Format: "cli"}); err != nil {
		log.Error(err)
	}
}
