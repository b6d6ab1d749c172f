package etl

import (
	"fmt"
	"time"
)

// ── Incremental cursor ─────────────────────────────────────
// Windowed APIs only return a bounded time range per request, so a sync
// walks forward window by window and checkpoints the end of each.

// State is the checkpoint persisted between runs.
type State map[string]any

// StateKey holds the exclusive end of the last completed window.
const StateKey = "to_ts"

// MaxWindow is the widest range requested in one window.
const MaxWindow = 30 * 24 * time.Hour

// TimeLayout is the wire format of window bounds and checkpoints.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Window is a half-open time range [From, To).
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (w Window) String() string {
	return w.From.Format(TimeLayout) + ".." + w.To.Format(TimeLayout)
}

// State returns the checkpoint recording w as completed.
func (w Window) State() State {
	return State{StateKey: FormatTime(w.To)}
}

// FormatTime renders t in UTC using TimeLayout ("Z" suffix).
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts TimeLayout, RFC 3339 or a plain date.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range []string{TimeLayout, time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// NextWindow computes the next range to request. It starts at the saved
// checkpoint, or at initialStart on the first run. A start older than
// maxSpan before now yields a window of exactly maxSpan; otherwise the
// window ends at now. done reports that the returned window reaches now.
func NextWindow(state State, initialStart, now time.Time, maxSpan time.Duration) (win Window, done bool, err error) {
	from := initialStart
	if raw, ok := state[StateKey]; ok && raw != nil {
		s, ok := raw.(string)
		if !ok {
			return Window{}, false, fmt.Errorf("checkpoint %s: expected string, got %T", StateKey, raw)
		}
		if from, err = ParseTime(s); err != nil {
			return Window{}, false, fmt.Errorf("checkpoint %s: %w", StateKey, err)
		}
	}
	if from.IsZero() {
		return Window{}, false, fmt.Errorf("no checkpoint and no initial sync start")
	}
	if maxSpan <= 0 {
		maxSpan = MaxWindow
	}

	from, now = from.UTC(), now.UTC()
	if now.Sub(from) > maxSpan {
		return Window{From: from, To: from.Add(maxSpan)}, false, nil
	}
	return Window{From: from, To: now}, true, nil
}
