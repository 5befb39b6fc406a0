package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/duetdate/planner-server-go/internal/model"
	"github.com/duetdate/planner-server-go/internal/realtime"
)

// fakeFeed is an in-process change feed for watcher tests.
type fakeFeed struct {
	mu           sync.Mutex
	client       *realtime.Client
	unsubscribed bool
}

func (f *fakeFeed) Subscribe(sessionID string) *realtime.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.client = &realtime.Client{
		SessionID: sessionID,
		Events:    make(chan realtime.Event, 10),
		Done:      make(chan struct{}),
	}
	return f.client
}

func (f *fakeFeed) Unsubscribe(client *realtime.Client) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.unsubscribed {
		f.unsubscribed = true
		close(client.Done)
	}
}

func (f *fakeFeed) push(t *testing.T, session *model.PlanningSession) {
	t.Helper()
	data, err := json.Marshal(session)
	require.NoError(t, err)
	f.client.Events <- realtime.Event{Type: realtime.EventSessionUpdated, Data: data}
}

func (f *fakeFeed) ClientCount(sessionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client != nil && !f.unsubscribed {
		return 1
	}
	return 0
}

func (f *fakeFeed) isUnsubscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsubscribed
}

func TestSessionWatcher(t *testing.T) {
	t.Run("remote update overwrites the local copy", func(t *testing.T) {
		feed := &fakeFeed{}
		w := NewSessionWatcher(feed, nil, activeSession("s1"), "u1", nil)
		w.Start(context.Background())
		defer w.Stop()

		updated := activeSession("s1")
		updated.PartnerPreferences = prefsFixture()
		updated.PartnerPreferencesComplete = true
		feed.push(t, updated)

		require.Eventually(t, func() bool {
			return w.Session().PartnerPreferencesComplete
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("update completing the joint flag triggers analysis from this process", func(t *testing.T) {
		repo := new(mockSessionRepo)
		engine := &fakeEngine{}
		gate := NewTriggerGate(engine, repo, newFakePublisher(), model.Location{})

		complete := jointlyCompleteSession("s1")
		repo.On("SetAnalysisResult", mock.Anything, "s1", 0.87, mock.Anything).Return(true, nil).Once()
		repo.On("FindByID", mock.Anything, "s1").Return(complete, nil).Once()

		feed := &fakeFeed{}
		w := NewSessionWatcher(feed, gate, activeSession("s1"), "u1", nil)
		w.Start(context.Background())
		defer w.Stop()

		assert.Equal(t, 0, engine.callCount())

		feed.push(t, complete)

		require.Eventually(t, func() bool {
			return engine.callCount() == 1
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("a rapid second observation does not double-trigger", func(t *testing.T) {
		repo := new(mockSessionRepo)
		engine := &fakeEngine{}
		gate := NewTriggerGate(engine, repo, newFakePublisher(), model.Location{})

		complete := jointlyCompleteSession("s1")
		repo.On("SetAnalysisResult", mock.Anything, "s1", 0.87, mock.Anything).Return(true, nil).Once()
		repo.On("FindByID", mock.Anything, "s1").Return(complete, nil).Once()

		feed := &fakeFeed{}
		w := NewSessionWatcher(feed, gate, activeSession("s1"), "u1", nil)
		w.Start(context.Background())
		defer w.Stop()

		feed.push(t, complete)
		feed.push(t, complete)

		require.Eventually(t, func() bool {
			return gate.Fired("s1")
		}, time.Second, 5*time.Millisecond)
		// Give the second event time to drain through the loop.
		time.Sleep(50 * time.Millisecond)

		assert.Equal(t, 1, engine.callCount())
	})

	t.Run("an already complete initial copy triggers without an event", func(t *testing.T) {
		repo := new(mockSessionRepo)
		engine := &fakeEngine{}
		gate := NewTriggerGate(engine, repo, newFakePublisher(), model.Location{})

		complete := jointlyCompleteSession("s1")
		repo.On("SetAnalysisResult", mock.Anything, "s1", 0.87, mock.Anything).Return(true, nil).Once()
		repo.On("FindByID", mock.Anything, "s1").Return(complete, nil).Once()

		feed := &fakeFeed{}
		w := NewSessionWatcher(feed, gate, complete, "u1", nil)
		w.Start(context.Background())
		defer w.Stop()

		assert.Equal(t, 1, engine.callCount())
	})

	t.Run("stop tears the subscription down", func(t *testing.T) {
		feed := &fakeFeed{}
		w := NewSessionWatcher(feed, nil, activeSession("s1"), "u1", nil)
		w.Start(context.Background())

		w.Stop()

		assert.True(t, feed.isUnsubscribed())
	})

	t.Run("malformed event payloads are skipped", func(t *testing.T) {
		feed := &fakeFeed{}
		w := NewSessionWatcher(feed, nil, activeSession("s1"), "u1", nil)
		w.Start(context.Background())
		defer w.Stop()

		feed.client.Events <- realtime.Event{Type: realtime.EventSessionUpdated, Data: []byte("{broken")}

		updated := activeSession("s1")
		updated.InitiatorPreferencesComplete = true
		updated.InitiatorPreferences = prefsFixture()
		feed.push(t, updated)

		require.Eventually(t, func() bool {
			return w.Session().InitiatorPreferencesComplete
		}, time.Second, 5*time.Millisecond)
	})
}
