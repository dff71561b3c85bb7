package testsuite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/maestro/pkg/note"
	"github.com/G-Research/maestro/pkg/peer"
)

var (
	sender   = peer.Info{Id: "s1", Role: peer.Sender, Host: "host-a"}
	receiver = peer.Info{Id: "r1", Role: peer.Receiver, Host: "host-b"}
	stranger = peer.Info{Id: "x1", Role: peer.Receiver, Host: "host-c"}
)

func TestProcessor_AllSucceed(t *testing.T) {
	p := NewProcessor([]peer.Info{sender, receiver}, nil)
	p.Process([]note.Reply{
		&note.OkResponse{Peer: sender, Request: note.CmdSetRate},
		&note.TestSuccessful{Peer: sender, Message: "test completed"},
	})
	assert.False(t, p.Complete())
	assert.Equal(t, []string{receiver.PrettyName()}, p.Pending())

	p.Process([]note.Reply{&note.TestSuccessful{Peer: receiver, Message: "test completed"}})
	assert.True(t, p.Complete())
	assert.False(t, p.Failed())
	assert.Equal(t, 2, p.Successes())
	assert.Empty(t, p.Pending())
}

func TestProcessor_FirstFailureIsSticky(t *testing.T) {
	p := NewProcessor([]peer.Info{sender, receiver}, nil)
	p.Process([]note.Reply{
		&note.TestFailed{Peer: receiver, Message: "latency above 2s"},
		&note.TestFailed{Peer: sender, Message: "connection refused"},
	})
	require.True(t, p.Complete())
	assert.True(t, p.Failed())
	assert.Equal(t, 2, p.Failures())
	failedPeer, message := p.FirstFailure()
	assert.Equal(t, receiver, failedPeer)
	assert.Equal(t, "latency above 2s", message)
}

func TestProcessor_IgnoresDuplicatesAndStrangers(t *testing.T) {
	p := NewProcessor([]peer.Info{sender, receiver}, nil)
	p.Process([]note.Reply{
		&note.TestSuccessful{Peer: sender},
		&note.TestFailed{Peer: sender, Message: "late failure"},
		&note.TestFailed{Peer: stranger, Message: "not part of this test"},
	})
	assert.False(t, p.Complete())
	assert.False(t, p.Failed())
	assert.Equal(t, 1, p.Successes())
}

func TestProcessor_InternalErrorFails(t *testing.T) {
	p := NewProcessor([]peer.Info{sender}, nil)
	p.Process([]note.Reply{&note.InternalError{Peer: sender, Request: note.CmdStartSender, Message: "no broker"}})
	assert.True(t, p.Complete())
	assert.True(t, p.Failed())
}

func TestProcessor_IgnoreList(t *testing.T) {
	rule, err := NewIgnoreRule("^receiver@", "connection reset")
	require.NoError(t, err)
	p := NewProcessor([]peer.Info{sender, receiver}, IgnoreList{rule})
	p.Process([]note.Reply{
		&note.TestFailed{Peer: receiver, Message: "read: connection reset by peer"},
		&note.TestSuccessful{Peer: sender},
	})
	assert.True(t, p.Complete())
	assert.False(t, p.Failed())
	assert.Equal(t, 1, p.Ignored())
}

func TestIgnoreRule(t *testing.T) {
	tests := map[string]struct {
		peer    string
		message string
		matches bool
	}{
		"both match":      {peer: "receiver@host-b", message: "timeout waiting", matches: true},
		"peer differs":    {peer: "sender@host-a", message: "timeout waiting", matches: false},
		"message differs": {peer: "receiver@host-b", message: "disk full", matches: false},
	}
	rule, err := NewIgnoreRule("^receiver@", "timeout")
	require.NoError(t, err)
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.matches, rule.Matches(tc.peer, tc.message))
		})
	}

	anything, err := NewIgnoreRule("", "")
	require.NoError(t, err)
	assert.True(t, anything.Matches("anything", "at all"))

	_, err = NewIgnoreRule("(", "")
	assert.Error(t, err)
}
