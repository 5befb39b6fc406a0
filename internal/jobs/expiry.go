package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/duetdate/planner-server-go/internal/repository"
)

// ExpiryJob periodically marks active sessions past their expires_at as
// expired. Rows are retained as history; this subsystem never deletes.
type ExpiryJob struct {
	sessionRepo repository.SessionRepository
	interval    time.Duration
	done        chan struct{}
}

func NewExpiryJob(sessionRepo repository.SessionRepository, interval time.Duration) *ExpiryJob {
	return &ExpiryJob{
		sessionRepo: sessionRepo,
		interval:    interval,
		done:        make(chan struct{}),
	}
}

func (j *ExpiryJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("session expiry job started")
}

func (j *ExpiryJob) Stop() {
	close(j.done)
	log.Info().Msg("session expiry job stopped")
}

func (j *ExpiryJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.expire()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.expire()
		}
	}
}

func (j *ExpiryJob) expire() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := j.sessionRepo.ExpireOverdue(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to expire overdue sessions")
	} else if count > 0 {
		log.Info().Int64("count", count).Msg("expired overdue sessions")
	}
}
