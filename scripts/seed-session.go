package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/duetdate/planner-server-go/internal/database"
	"github.com/duetdate/planner-server-go/internal/model"
	"github.com/duetdate/planner-server-go/internal/repository"
)

// Dev helper: inserts an active planning session for a participant pair.
func main() {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "Usage: go run scripts/seed-session.go <initiatorId> <partnerId>\n")
		os.Exit(1)
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		fmt.Fprintf(os.Stderr, "DATABASE_URL is required\n")
		os.Exit(1)
	}

	db, err := database.Connect(databaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := repository.NewSessionRepository(db.DB)

	session, err := repo.Create(context.Background(), model.CreateSessionParams{
		InitiatorID:  os.Args[1],
		PartnerID:    os.Args[2],
		PlanningMode: model.PlanningModeCollaborative,
		ExpiresAt:    time.Now().Add(24 * time.Hour),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(session.ID)
}
