package service

import (
	"context"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"github.com/duetdate/planner-server-go/internal/analysis"
	"github.com/duetdate/planner-server-go/internal/database"
	"github.com/duetdate/planner-server-go/internal/model"
	"github.com/duetdate/planner-server-go/internal/realtime"
	"github.com/duetdate/planner-server-go/internal/repository"
)

// Fake transaction runner; the mock repository ignores the nil tx.

type fakeTxRunner struct {
	mu    sync.Mutex
	calls int
}

func (r *fakeTxRunner) WithTx(ctx context.Context, fn database.TxFunc) error {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return fn(nil)
}

func (r *fakeTxRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// Mock repository

type mockSessionRepo struct {
	mock.Mock
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*model.PlanningSession, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PlanningSession), args.Error(1)
}

func (m *mockSessionRepo) FindActiveByPair(ctx context.Context, participantA, participantB string) (*model.PlanningSession, error) {
	args := m.Called(ctx, participantA, participantB)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PlanningSession), args.Error(1)
}

func (m *mockSessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.PlanningSession, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PlanningSession), args.Error(1)
}

func (m *mockSessionRepo) SetPreferences(ctx context.Context, id string, role model.Role, prefs *model.Preferences) error {
	args := m.Called(ctx, id, role, prefs)
	return args.Error(0)
}

func (m *mockSessionRepo) SetJointComplete(ctx context.Context, id string, complete bool) error {
	args := m.Called(ctx, id, complete)
	return args.Error(0)
}

func (m *mockSessionRepo) SetCompletionFlags(ctx context.Context, id string, initiator, partner, both bool) error {
	args := m.Called(ctx, id, initiator, partner, both)
	return args.Error(0)
}

func (m *mockSessionRepo) SetAnalysisResult(ctx context.Context, id string, score float64, venues model.VenueCandidates) (bool, error) {
	args := m.Called(ctx, id, score, venues)
	return args.Bool(0), args.Error(1)
}

func (m *mockSessionRepo) Complete(ctx context.Context, id string, venueID string) error {
	args := m.Called(ctx, id, venueID)
	return args.Error(0)
}

func (m *mockSessionRepo) Reset(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockSessionRepo) MarkExpired(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockSessionRepo) ExpireActiveForPair(ctx context.Context, participantA, participantB string) (int64, error) {
	args := m.Called(ctx, participantA, participantB)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockSessionRepo) ExpireOverdue(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockSessionRepo) WithTx(tx *sqlx.Tx) repository.SessionRepository {
	return m
}

// Fake publisher recording everything published per session

type fakePublisher struct {
	mu     sync.Mutex
	events map[string][]realtime.Event
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{events: make(map[string][]realtime.Event)}
}

func (p *fakePublisher) Publish(ctx context.Context, sessionID string, event realtime.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[sessionID] = append(p.events[sessionID], event)
	return nil
}

func (p *fakePublisher) published(sessionID string) []realtime.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]realtime.Event(nil), p.events[sessionID]...)
}

// Fake analysis engine counting its invocations

type fakeEngine struct {
	mu      sync.Mutex
	calls   int
	lastReq analysis.Request
	result  *model.AnalysisResult
	err     error
}

func (e *fakeEngine) Analyze(ctx context.Context, req analysis.Request) (*model.AnalysisResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.lastReq = req
	if e.err != nil {
		return nil, e.err
	}
	if e.result != nil {
		return e.result, nil
	}
	return &model.AnalysisResult{CompatibilityScore: 0.87}, nil
}

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *fakeEngine) lastRequest() analysis.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastReq
}

// Session fixtures

func prefsFixture() *model.Preferences {
	return &model.Preferences{
		Cuisines:      []string{"korean", "italian"},
		PriceRange:    "$$",
		Times:         []string{"evening"},
		Vibes:         []string{"cozy"},
		MaxDistanceKm: 5,
	}
}

func activeSession(id string) *model.PlanningSession {
	now := time.Now()
	return &model.PlanningSession{
		ID:            id,
		InitiatorID:   "u1",
		PartnerID:     "u2",
		SessionStatus: model.SessionStatusActive,
		PlanningMode:  model.PlanningModeCollaborative,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(24 * time.Hour),
	}
}
