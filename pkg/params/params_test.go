package params

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	tests := map[string]struct {
		input   string
		isCount bool
		count   int64
		time    time.Duration
		wantErr bool
	}{
		"count":      {input: "10000", isCount: true, count: 10000},
		"minutes":    {input: "5m", time: 5 * time.Minute},
		"seconds":    {input: " 90s ", time: 90 * time.Second},
		"hours":      {input: "1h", time: time.Hour},
		"zero count": {input: "0", wantErr: true},
		"negative":   {input: "-5", wantErr: true},
		"sub-second": {input: "10ms", wantErr: true},
		"garbage":    {input: "forever", wantErr: true},
		"empty":      {input: "", wantErr: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			policy, err := ParseDuration(tc.input)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.isCount, policy.IsCount())
			assert.Equal(t, tc.count, policy.Count())
			assert.Equal(t, tc.time, policy.Time())

			again, err := ParseDuration(policy.String())
			require.NoError(t, err)
			assert.Equal(t, policy, again)
		})
	}
}

func TestDurationPolicy_Reached(t *testing.T) {
	count := CountPolicy(100)
	assert.False(t, count.Reached(99, time.Hour))
	assert.True(t, count.Reached(100, 0))

	timed := TimePolicy(time.Minute)
	assert.False(t, timed.Reached(1_000_000, 59*time.Second))
	assert.True(t, timed.Reached(0, time.Minute))

	assert.False(t, DurationPolicy{}.Reached(100, time.Hour))
}

func TestDurationPolicy_Eta(t *testing.T) {
	assert.Equal(t, 9*time.Second, CountPolicy(1000).Eta(100, time.Second, 100))
	assert.Equal(t, time.Duration(0), CountPolicy(1000).Eta(100, time.Second, 0))
	assert.Equal(t, 30*time.Second, TimePolicy(time.Minute).Eta(0, 30*time.Second, 0))
	assert.Equal(t, time.Duration(0), TimePolicy(time.Minute).Eta(0, 2*time.Minute, 0))
}

func TestParseMessageSize(t *testing.T) {
	fixed, err := ParseMessageSize("256")
	require.NoError(t, err)
	assert.Equal(t, MessageSize{Base: 256}, fixed)
	assert.Equal(t, "256", fixed.String())

	variable, err := ParseMessageSize("~1000")
	require.NoError(t, err)
	assert.True(t, variable.Variable)
	assert.Equal(t, "~1000", variable.String())

	_, err = ParseMessageSize("4")
	assert.Error(t, err)
	_, err = ParseMessageSize("~big")
	assert.Error(t, err)
}

func TestMessageSize_Next(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	assert.Equal(t, 256, FixedSize(256).Next(r))

	variable := MessageSize{Base: 1000, Variable: true}
	for i := 0; i < 1000; i++ {
		n := variable.Next(r)
		assert.GreaterOrEqual(t, n, 950)
		assert.LessOrEqual(t, n, 1050)
	}
}
