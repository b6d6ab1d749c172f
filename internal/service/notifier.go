package service

import (
	"context"
	"encoding/json"
	"log"
	"sync"
)

// ─────────────────────────────────────────────────────────────
// Notifier: decouples services from whoever reports run outcomes
// ─────────────────────────────────────────────────────────────

// Events emitted by SyncService.
const (
	EventSyncStarted   = "sync:started"
	EventSyncCompleted = "sync:completed"
	EventSyncFailed    = "sync:failed"
)

// Notifier receives run lifecycle events. The CLI logs them; tests record
// them with MockNotifier.
type Notifier interface {
	Notify(ctx context.Context, event string, data any)
}

// LogNotifier writes every event to the standard logger.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, event string, data any) {
	b, err := json.Marshal(data)
	if err != nil {
		log.Printf("[SYNC] %s: %v", event, data)
		return
	}
	log.Printf("[SYNC] %s: %s", event, b)
}

// MockNotifier is a test-friendly Notifier that records all calls.
type MockNotifier struct {
	mu     sync.Mutex
	Events []NotifiedEvent
}

// NotifiedEvent holds a single recorded notification for test assertions.
type NotifiedEvent struct {
	Event string
	Data  any
}

func (m *MockNotifier) Notify(_ context.Context, event string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, NotifiedEvent{Event: event, Data: data})
}

// Names returns the recorded event names in order.
func (m *MockNotifier) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Events))
	for i, e := range m.Events {
		out[i] = e.Event
	}
	return out
}
