package service

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/duetdate/planner-server-go/internal/model"
	"github.com/duetdate/planner-server-go/internal/realtime"
)

// SessionWatcher keeps one process's in-memory session copy current as the
// other participant (or the analysis job) writes to the shared row. Each
// pushed event carries the full row; the watcher overwrites its copy with it
// (last-write-wins from the store's perspective, no merging) and re-runs the
// trigger gate, because the update that completes the joint flag may
// originate from the other participant's process.
type SessionWatcher struct {
	feed     realtime.Feed
	gate     *TriggerGate
	callerID string
	location *model.Location

	mu      sync.RWMutex
	session *model.PlanningSession

	client  *realtime.Client
	stop    chan struct{}
	stopped sync.Once
	done    chan struct{}
}

func NewSessionWatcher(
	feed realtime.Feed,
	gate *TriggerGate,
	initial *model.PlanningSession,
	callerID string,
	location *model.Location,
) *SessionWatcher {
	return &SessionWatcher{
		feed:     feed,
		gate:     gate,
		callerID: callerID,
		location: location,
		session:  initial,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start subscribes to the change feed for the watched session and begins
// consuming remote updates. The initial copy is observed once so a session
// that is already jointly complete triggers without waiting for an event.
func (w *SessionWatcher) Start(ctx context.Context) {
	w.client = w.feed.Subscribe(w.session.ID)

	w.observe(ctx, w.Session())

	go w.run(ctx)
}

// Stop tears the subscription down. No events are delivered afterwards; the
// subscription is scoped to this watcher's session only.
func (w *SessionWatcher) Stop() {
	w.stopped.Do(func() {
		close(w.stop)
		w.feed.Unsubscribe(w.client)
		<-w.done
	})
}

// Session returns the current local copy.
func (w *SessionWatcher) Session() *model.PlanningSession {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.session
}

func (w *SessionWatcher) run(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-w.client.Done:
			return
		case event, ok := <-w.client.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		}
	}
}

func (w *SessionWatcher) handleEvent(ctx context.Context, event realtime.Event) {
	var session model.PlanningSession
	if err := json.Unmarshal(event.Data, &session); err != nil {
		log.Error().Err(err).Str("type", event.Type).Msg("failed to decode session event")
		return
	}

	w.mu.Lock()
	w.session = &session
	w.mu.Unlock()

	log.Debug().
		Str("sessionId", session.ID).
		Str("type", event.Type).
		Bool("bothComplete", session.BothPreferencesComplete).
		Msg("remote session update applied")

	w.observe(ctx, &session)
}

func (w *SessionWatcher) observe(ctx context.Context, session *model.PlanningSession) {
	if w.gate == nil {
		return
	}
	if err := w.gate.Observe(ctx, session, w.callerID, w.location); err != nil {
		log.Error().Err(err).Str("sessionId", session.ID).Msg("analysis trigger failed")
	}
}
