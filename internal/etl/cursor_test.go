package etl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestNextWindow(t *testing.T) {
	now := day("2024-03-15")

	tests := []struct {
		name     string
		state    State
		initial  time.Time
		wantFrom time.Time
		wantTo   time.Time
		wantDone bool
	}{
		{
			name:     "first run far in the past is capped",
			initial:  day("2024-01-01"),
			wantFrom: day("2024-01-01"),
			wantTo:   day("2024-01-31"),
		},
		{
			name:     "checkpoint wins over initial start",
			state:    State{StateKey: "2024-03-01T00:00:00.000Z"},
			initial:  day("2023-01-01"),
			wantFrom: day("2024-03-01"),
			wantTo:   now,
			wantDone: true,
		},
		{
			name:     "recent start ends at now",
			initial:  day("2024-03-10"),
			wantFrom: day("2024-03-10"),
			wantTo:   now,
			wantDone: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			win, done, err := NextWindow(tt.state, tt.initial, now, MaxWindow)
			require.NoError(t, err)
			assert.True(t, tt.wantFrom.Equal(win.From), "from %s", win.From)
			assert.True(t, tt.wantTo.Equal(win.To), "to %s", win.To)
			assert.Equal(t, tt.wantDone, done)
		})
	}
}

func TestNextWindow_Errors(t *testing.T) {
	now := day("2024-03-15")

	_, _, err := NextWindow(nil, time.Time{}, now, MaxWindow)
	assert.Error(t, err)

	_, _, err = NextWindow(State{StateKey: 12}, day("2024-01-01"), now, MaxWindow)
	assert.Error(t, err)

	_, _, err = NextWindow(State{StateKey: "yesterday"}, day("2024-01-01"), now, MaxWindow)
	assert.Error(t, err)
}

func TestWindowState(t *testing.T) {
	w := Window{From: day("2024-01-01"), To: day("2024-01-31")}
	assert.Equal(t, State{StateKey: "2024-01-31T00:00:00.000Z"}, w.State())

	parsed, err := ParseTime("2024-01-31T00:00:00.000Z")
	require.NoError(t, err)
	assert.True(t, parsed.Equal(w.To))

	parsed, err = ParseTime("2024-01-31T02:00:00+02:00")
	require.NoError(t, err)
	assert.True(t, parsed.Equal(w.To))
}
