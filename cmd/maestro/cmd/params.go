package cmd

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/G-Research/maestro/internal/common"
	"github.com/G-Research/maestro/internal/testsuite"
)

// Flags of each command, keyed by flag name, mapped to their configuration key.
var (
	controlPlaneFlags = map[string]string{
		"controlPlaneUrl": "controlPlane.url",
		"connectRetries":  "controlPlane.connectRetries",
		"retryDelay":      "controlPlane.retryDelay",
	}
	workerFlags = map[string]string{
		"role":        "role",
		"group":       "group",
		"logDir":      "logDir",
		"httpAddress": "httpAddress",
	}
	execFlags = map[string]string{
		"brokerUrl":           "brokerUrl",
		"duration":            "duration",
		"rate":                "rate",
		"parallelCount":       "parallelCount",
		"messageSize":         "messageSize",
		"fcl":                 "fcl",
		"managementInterface": "managementInterface",
		"discoveryWindow":     "discoveryWindow",
		"maxLatency":          "sla.maxLatency",
		"maxTests":            "maxTests",
		"reportDir":           "reports.dir",
		"junit":               "reports.junitPath",
		"db":                  "reports.databasePath",
		"redis":               "reports.redisAddress",
	}
)

func addControlPlaneFlags(flags *pflag.FlagSet, app *testsuite.App) {
	defaults := app.Params.Test.ControlPlane
	flags.String("controlPlaneUrl", defaults.Url, "Control-plane url, e.g. nats://localhost:4222 or pulsar://localhost:6650.")
	flags.Uint("connectRetries", defaults.ConnectRetries, "Connection attempts after the first failure.")
	flags.Duration("retryDelay", defaults.RetryDelay, "Delay between connection attempts.")
}

// initParams merges the config file, the environment and the flags of cmd into out.
func initParams(cmd *cobra.Command, out interface{}, flagSets ...map[string]string) error {
	cfgFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return errors.WithStack(err)
	}
	flags := make(map[string]*pflag.Flag)
	for _, flagSet := range flagSets {
		for name, key := range flagSet {
			if flag := cmd.Flags().Lookup(name); flag != nil {
				flags[key] = flag
			}
		}
	}
	return common.LoadConfig(out, cfgFile, "maestro", flags)
}
