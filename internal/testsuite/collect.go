package testsuite

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/maestro/internal/common/maestroerrors"
	"github.com/G-Research/maestro/pkg/note"
	"github.com/G-Research/maestro/pkg/peer"
)

// Polls to wait for parameter acknowledgements and log downloads.
const (
	acknowledgementPolls = 10
	downloadPolls        = 60
)

// poller drains the orchestrator's queue at a fixed cadence.
type poller struct {
	collect  func() []note.Reply
	interval time.Duration
}

// poll waits one interval and returns what was collected meanwhile.
func (p poller) poll(ctx context.Context) ([]note.Reply, error) {
	timer := time.NewTimer(p.interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	case <-timer.C:
		return p.collect(), nil
	}
}

// awaitAcknowledgements waits until every peer acknowledged count parameters. Peers that stay
// silent are only logged: discovery is best effort and the run itself detects missing workers.
// The first InternalError is returned as the failing peer and message.
func (p poller) awaitAcknowledgements(ctx context.Context, peers []peer.Info, count int) (*peer.Info, string, error) {
	acknowledged := make(map[string]int, len(peers))
	for i := 0; i < acknowledgementPolls; i++ {
		replies, err := p.poll(ctx)
		if err != nil {
			return nil, "", err
		}
		for _, reply := range replies {
			switch n := reply.(type) {
			case *note.OkResponse:
				acknowledged[n.Peer.Id]++
			case *note.InternalError:
				origin := n.Peer
				return &origin, n.Message, nil
			}
		}
		if allAcknowledged(peers, acknowledged, count) {
			return nil, "", nil
		}
	}
	for _, info := range peers {
		if acknowledged[info.Id] < count {
			log.WithField("peer", info.PrettyName()).Warnf("acknowledged %d of %d parameters", acknowledged[info.Id], count)
		}
	}
	return nil, "", nil
}

func allAcknowledged(peers []peer.Info, acknowledged map[string]int, count int) bool {
	for _, info := range peers {
		if acknowledged[info.Id] < count {
			return false
		}
	}
	return true
}

type download struct {
	info     peer.Info
	dir      string
	expected int64
	received map[int64]bool
	done     bool
}

// downloadLogs requests the files of location from every peer and writes them to
// <dest>/<peer id>. It returns the directory of each peer that answered. Files whose hash does
// not match are kept and logged.
func downloadLogs(
	ctx context.Context,
	p poller,
	request func(id string) error,
	peers []peer.Info,
	dest string,
) (map[string]string, error) {
	downloads := make(map[string]*download, len(peers))
	for _, info := range peers {
		dir := filepath.Join(dest, info.Id)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.WithStack(err)
		}
		downloads[info.Id] = &download{info: info, dir: dir, expected: -1, received: map[int64]bool{}}
		if err := request(info.Id); err != nil {
			return nil, err
		}
	}

	pending := len(downloads)
	for i := 0; i < downloadPolls && pending > 0; i++ {
		replies, err := p.poll(ctx)
		if err != nil {
			return nil, err
		}
		for _, reply := range replies {
			d, ok := downloads[reply.Origin().Id]
			if !ok || d.done {
				continue
			}
			switch n := reply.(type) {
			case *note.LogResponse:
				if err := d.store(n); err != nil {
					return nil, err
				}
			case *note.InternalError:
				if n.Request != note.CmdLog {
					continue
				}
				log.WithField("peer", d.info.PrettyName()).Warnf("peer could not send its logs: %s", n.Message)
				d.done = true
			default:
				continue
			}
			if d.done {
				pending--
			}
		}
	}

	dirs := make(map[string]string, len(downloads))
	for id, d := range downloads {
		if !d.done {
			log.WithField("peer", d.info.PrettyName()).Warnf("received %d of %d log files", len(d.received), d.expected)
		}
		if len(d.received) > 0 {
			dirs[id] = d.dir
		}
	}
	return dirs, nil
}

func (d *download) store(n *note.LogResponse) error {
	d.expected = n.FileCount
	if n.FileCount == 0 {
		d.done = true
		return nil
	}
	if d.received[n.FileIndex] {
		return nil
	}
	name := filepath.Base(n.FileName)
	if err := os.WriteFile(filepath.Join(d.dir, name), n.Data, 0o644); err != nil {
		return errors.WithStack(err)
	}
	sum := sha256.Sum256(n.Data)
	if actual := hex.EncodeToString(sum[:]); actual != n.FileHash {
		err := errors.WithStack(&maestroerrors.ErrVerification{File: name, Expected: n.FileHash, Actual: actual})
		log.WithError(err).WithField("peer", d.info.PrettyName()).Warn("keeping file that failed verification")
	}
	d.received[n.FileIndex] = true
	d.done = int64(len(d.received)) >= d.expected
	return nil
}
