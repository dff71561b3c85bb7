package peer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet_Counts(t *testing.T) {
	set := NewSet(
		Info{Id: "a", Role: Sender, Host: "h1"},
		Info{Id: "b", Role: Receiver, Host: "h2"},
		Info{Id: "c", Role: Receiver, Host: "h3"},
		Info{Id: "d", Role: Inspector, Host: "h4"},
		Info{Id: "e", Role: Other, Host: "h5"},
		Info{Id: "f", Role: Other, Host: "h6"},
	)
	assert.Equal(t, 6, set.Len())
	assert.Equal(t, 3, set.Workers())
	assert.Equal(t, 2, set.Available())
	assert.Equal(t, 1, set.Count(Inspector))
	assert.Equal(t, 0, set.Count(Agent, Exporter))
	assert.Equal(t, set.Count(Sender)+set.Count(Receiver), set.Workers())
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, set.Ids())

	receivers := set.WithRoles(Receiver)
	require.Len(t, receivers, 2)
	assert.Equal(t, "b", receivers[0].Id)
}

func TestSet_Empty(t *testing.T) {
	set := NewSet()
	assert.Equal(t, 0, set.Len())
	assert.Equal(t, 0, set.Workers())
	assert.Empty(t, set.All())
	_, ok := set.Get("missing")
	assert.False(t, ok)
}

func TestSet_DuplicateIdKeepsLast(t *testing.T) {
	set := NewSet(Info{Id: "a", Role: Other}, Info{Id: "a", Role: Sender})
	assert.Equal(t, 1, set.Len())
	info, ok := set.Get("a")
	require.True(t, ok)
	assert.Equal(t, Sender, info.Role)
}

func TestParseRole(t *testing.T) {
	for _, role := range AllRoles {
		parsed, err := ParseRole(role.String())
		require.NoError(t, err)
		assert.Equal(t, role, parsed)

		fromCode, err := RoleFromCode(role.Code())
		require.NoError(t, err)
		assert.Equal(t, role, fromCode)
	}

	parsed, err := ParseRole(" receiver ")
	require.NoError(t, err)
	assert.Equal(t, Receiver, parsed)

	_, err = ParseRole("conductor")
	assert.Error(t, err)
	_, err = RoleFromCode(42)
	assert.Error(t, err)
}

func TestInfo(t *testing.T) {
	info := NewInfo(Sender, "group-1")
	assert.NotEmpty(t, info.Id)
	assert.NotEmpty(t, info.Host)
	assert.Equal(t, "sender@"+info.Host, info.PrettyName())

	other := info.WithRole(Receiver)
	assert.Equal(t, Receiver, other.Role)
	assert.Equal(t, Sender, info.Role)
	assert.Equal(t, info.Id, other.Id)
}
