package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/G-Research/maestro/cmd/maestro/cmd"
	"github.com/G-Research/maestro/internal/common"
	"github.com/G-Research/maestro/internal/common/logging"
	"github.com/G-Research/maestro/internal/common/maestroerrors"
)

// Config is handled by cmd/params.go
func main() {
	common.ConfigureCommandLineLogging()
	err := cmd.RootCmd().Execute()
	if err != nil {
		logging.WithStacktrace(log.NewEntry(log.StandardLogger()), err).Error("maestro failed")
	}
	os.Exit(maestroerrors.ExitCodeFromError(err))
}
