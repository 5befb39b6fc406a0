package repository

import (
	"database/sql"
	"errors"
)

// HandleNotFound converts sql.ErrNoRows into a nil result without error. An
// absent row is a normal outcome for the session lookups (no active session
// for a pair, unknown id), not a failure.
//
// Usage:
//
//	var session model.PlanningSession
//	err := r.db.GetContext(ctx, &session, query, args...)
//	return HandleNotFound(&session, err)
func HandleNotFound[T any](result *T, err error) (*T, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}
