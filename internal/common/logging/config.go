package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/weaveworks/promrus"
)

// Config controls the process-wide logrus logger.
type Config struct {
	// One of logrus' level names, e.g. "info" or "debug".
	Level string
	// "text", "json" or "cli". The cli format prints bare messages for command-line tools.
	Format string
	// Count log lines per level in the log_messages Prometheus metric.
	Metrics bool
}

var registerHook sync.Once

func Configure(config Config) error {
	return ConfigureWithOutput(config, os.Stdout)
}

func ConfigureWithOutput(config Config, out io.Writer) error {
	if config.Level != "" {
		level, err := log.ParseLevel(config.Level)
		if err != nil {
			return errors.WithStack(err)
		}
		log.SetLevel(level)
	}
	switch strings.ToLower(config.Format) {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "cli":
		log.SetFormatter(new(CommandLineFormatter))
	default:
		return errors.Errorf("unknown log format %q", config.Format)
	}
	log.SetOutput(out)
	if config.Metrics {
		registerHook.Do(func() {
			log.AddHook(promrus.MustNewPrometheusHook())
		})
	}
	return nil
}
