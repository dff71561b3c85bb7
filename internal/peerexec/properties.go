package peerexec

import (
	"path/filepath"

	"github.com/G-Research/maestro/internal/report"
	"github.com/G-Research/maestro/internal/worker"
	"github.com/G-Research/maestro/pkg/peer"
)

// RunPropertiesFile describes the parameters a run was started with.
const RunPropertiesFile = "test.properties"

func runProperties(info peer.Info, opts worker.Options) report.Properties {
	return report.Properties{}.
		Add("peerId", info.Id).
		Add("role", info.Role).
		Add("host", info.Host).
		AddIf(info.Group != "", "group", info.Group).
		Add("brokerUrl", opts.BrokerUrl).
		Add("rate", opts.Rate).
		Add("duration", opts.Duration).
		Add("parallelCount", opts.ParallelCount).
		Add("messageSize", opts.MessageSize).
		AddIf(opts.FCL > 0, "fcl", opts.FCL.Milliseconds()).
		AddIf(opts.ManagementInterface != "", "managementInterface", opts.ManagementInterface)
}

func writeRunProperties(dir string, info peer.Info, opts worker.Options) error {
	return runProperties(info, opts).Write(filepath.Join(dir, RunPropertiesFile))
}
