package testsuite

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/G-Research/maestro/pkg/note"
	"github.com/G-Research/maestro/pkg/peer"
)

// warmUpProgress sums the messages counted by the load workers from their stats responses.
type warmUpProgress struct {
	// expected rate of each worker peer, zero when unbounded
	targetRate float64
	counts     map[string]int64
	total      int64
}

func newWarmUpProgress(profile Profile) *warmUpProgress {
	return &warmUpProgress{
		targetRate: float64(profile.Rate * profile.ParallelCount),
		counts:     make(map[string]int64),
	}
}

func (w *warmUpProgress) add(replies []note.Reply) {
	for _, reply := range replies {
		stats, ok := reply.(*note.StatsResponse)
		if !ok || !stats.Snapshot.Role.IsWorker() {
			continue
		}
		delta := stats.Snapshot.Count - w.counts[stats.Peer.Id]
		if delta > 0 {
			w.total += delta
			w.counts[stats.Peer.Id] = stats.Snapshot.Count
		}
		if rate := stats.Snapshot.Stats.Rate; w.targetRate > 0 && rate < w.targetRate/2 {
			log.WithFields(log.Fields{
				"peer":   stats.Peer.PrettyName(),
				"rate":   rate,
				"target": w.targetRate,
			}).Warn("warm-up rate is below half of the target rate")
		}
	}
}

// warmUp starts the load workers and waits until the threshold is reached or the maximum
// duration elapsed, then stops them. It also ends once every worker finished on its own or the
// reply budget ran out.
func (r *TestRunner) warmUp(ctx context.Context, profile Profile, expected []peer.Info, p poller) error {
	if err := r.Orchestrator.StartReceiver(); err != nil {
		return err
	}
	if err := r.Orchestrator.StartSender(); err != nil {
		return err
	}

	progress := newWarmUpProgress(profile)
	finished := NewProcessor(expected, nil)
	budget := replyBudget(profile.Duration, profile.Rate)
	start := time.Now()
	for polls := 1; ; polls++ {
		if err := r.Orchestrator.StatsRequest(); err != nil {
			return err
		}
		replies, err := p.poll(ctx)
		if err != nil {
			return err
		}
		progress.add(replies)
		finished.Process(replies)
		if profile.WarmUp.Threshold > 0 && progress.total >= profile.WarmUp.Threshold {
			break
		}
		if profile.WarmUp.MaxDuration > 0 && time.Since(start) >= profile.WarmUp.MaxDuration {
			log.Warnf("warm-up reached its maximum duration of %s", profile.WarmUp.MaxDuration)
			break
		}
		if finished.Complete() || polls >= budget {
			log.Warn("warm-up ended before reaching its threshold")
			break
		}
	}
	log.WithFields(log.Fields{"messages": progress.total, "elapsed": time.Since(start)}).Info("warm-up completed")

	if err := r.Orchestrator.StopSender(); err != nil {
		return err
	}
	if err := r.Orchestrator.StopReceiver(); err != nil {
		return err
	}
	// Let the stops land before the queue is cleared for the measured run.
	if _, err := p.poll(ctx); err != nil {
		return err
	}
	r.Orchestrator.ClearCollected()
	return nil
}

// workers are the peers expected to report on the measured run.
func workers(peers *peer.Set) []peer.Info {
	return peers.WithRoles(peer.Sender, peer.Receiver)
}
