package testsuite

import (
	"regexp"
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/maestro/pkg/note"
	"github.com/G-Research/maestro/pkg/peer"
)

// IgnoreRule matches failures known to be benign.
type IgnoreRule struct {
	Peer    *regexp.Regexp
	Message *regexp.Regexp
}

// NewIgnoreRule compiles a rule. An empty pattern matches anything.
func NewIgnoreRule(peerPattern string, messagePattern string) (IgnoreRule, error) {
	var rule IgnoreRule
	var err error
	if peerPattern != "" {
		if rule.Peer, err = regexp.Compile(peerPattern); err != nil {
			return rule, errors.WithMessagef(err, "invalid peer pattern %q", peerPattern)
		}
	}
	if messagePattern != "" {
		if rule.Message, err = regexp.Compile(messagePattern); err != nil {
			return rule, errors.WithMessagef(err, "invalid message pattern %q", messagePattern)
		}
	}
	return rule, nil
}

func (r IgnoreRule) Matches(peerName string, message string) bool {
	return (r.Peer == nil || r.Peer.MatchString(peerName)) && (r.Message == nil || r.Message.MatchString(message))
}

type IgnoreList []IgnoreRule

func (l IgnoreList) Ignores(peerName string, message string) bool {
	for _, rule := range l {
		if rule.Matches(peerName, message) {
			return true
		}
	}
	return false
}

// Processor accumulates the reports of the expected peers for one iteration. Each peer reports
// once; later reports of the same peer are ignored. A single failure fails the iteration, except
// failures matched by the ignore list, which only count as reports.
type Processor struct {
	expected map[string]peer.Info
	ignore   IgnoreList

	reported   map[string]bool
	successes  int
	failures   int
	ignored    int
	failedPeer peer.Info
	message    string
}

func NewProcessor(expected []peer.Info, ignore IgnoreList) *Processor {
	p := &Processor{
		expected: make(map[string]peer.Info, len(expected)),
		ignore:   ignore,
		reported: make(map[string]bool, len(expected)),
	}
	for _, info := range expected {
		p.expected[info.Id] = info
	}
	return p
}

// Process consumes the given replies. Replies other than completion reports are skipped.
func (p *Processor) Process(replies []note.Reply) {
	for _, reply := range replies {
		var failed bool
		var message string
		switch n := reply.(type) {
		case *note.TestSuccessful:
			message = n.Message
		case *note.TestFailed:
			failed, message = true, n.Message
		case *note.InternalError:
			failed, message = true, n.Message
		default:
			continue
		}
		origin := reply.Origin()
		if _, ok := p.expected[origin.Id]; !ok || p.reported[origin.Id] {
			continue
		}
		p.reported[origin.Id] = true
		fields := log.Fields{"peer": origin.PrettyName(), "message": message}
		switch {
		case !failed:
			p.successes++
			log.WithFields(fields).Info("peer completed the test")
		case p.ignore.Ignores(origin.PrettyName(), message):
			p.ignored++
			log.WithFields(fields).Warn("ignoring peer failure")
		default:
			p.failures++
			if p.failures == 1 {
				p.failedPeer = origin
				p.message = message
			}
			log.WithFields(fields).Error("peer failed the test")
		}
	}
}

// Complete reports whether every expected peer reported.
func (p *Processor) Complete() bool {
	return len(p.reported) == len(p.expected)
}

func (p *Processor) Failed() bool {
	return p.failures > 0
}

// FirstFailure is the first peer that failed and its message.
func (p *Processor) FirstFailure() (peer.Info, string) {
	return p.failedPeer, p.message
}

func (p *Processor) Successes() int { return p.successes }
func (p *Processor) Failures() int  { return p.failures }
func (p *Processor) Ignored() int   { return p.ignored }

// Pending lists the peers that have not reported yet.
func (p *Processor) Pending() []string {
	var pending []string
	for id, info := range p.expected {
		if !p.reported[id] {
			pending = append(pending, info.PrettyName())
		}
	}
	sort.Strings(pending)
	return pending
}
