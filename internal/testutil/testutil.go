// Package testutil provides shared helpers for package tests.
package testutil

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rlarsen/althing/internal/logger"
	"github.com/rlarsen/althing/internal/models"
	"github.com/rlarsen/althing/internal/repository"
)

// NewTestRepository creates an in-memory SQLite repository for testing.
// The connection is closed automatically when the test finishes.
func NewTestRepository(t *testing.T) *repository.Repository {
	t.Helper()

	repo, err := repository.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test repository: %v", err)
	}
	t.Cleanup(func() {
		repo.Close()
	})
	return repo
}

// NewTestLogger returns a logger that only emits on error, keeping test
// output quiet.
func NewTestLogger() logger.Logger {
	return logger.NewWithLevel(slog.LevelError)
}

// SeedRun creates a run with the given clans and phase defaults and
// returns the run ID plus created entity IDs in creation order.
type SeedResult struct {
	RunID    string
	ClanIDs  []int64
	RoleIDs  []int64
	PhaseIDs []int64
}

// SeedSpec describes the fixture to build
type SeedSpec struct {
	Clans  []SeedClan
	Phases []SeedPhase
}

type SeedClan struct {
	Name           string
	Roles          []string
	HasContingency bool
}

type SeedPhase struct {
	Name    string
	Minutes int
}

// Seed materializes the fixture into the repository
func Seed(t *testing.T, repo *repository.Repository, spec SeedSpec) SeedResult {
	t.Helper()
	ctx := context.Background()

	runID := uuid.New().String()
	if err := repo.CreateRun(ctx, runID, "test run"); err != nil {
		t.Fatalf("seed run: %v", err)
	}

	result := SeedResult{RunID: runID}
	for ci, clan := range spec.Clans {
		clanID, err := repo.CreateClan(ctx, models.Clan{
			RunID:          runID,
			SequenceNumber: ci,
			Name:           clan.Name,
			HasContingency: clan.HasContingency,
		})
		if err != nil {
			t.Fatalf("seed clan %q: %v", clan.Name, err)
		}
		result.ClanIDs = append(result.ClanIDs, clanID)

		for ri, roleName := range clan.Roles {
			roleID, err := repo.CreateRole(ctx, models.Role{
				RunID:           runID,
				ClanID:          clanID,
				SequenceNumber:  ri,
				Name:            roleName,
				ParticipantType: models.ParticipantHuman,
				ClaimToken:      uuid.New().String(),
			})
			if err != nil {
				t.Fatalf("seed role %q: %v", roleName, err)
			}
			result.RoleIDs = append(result.RoleIDs, roleID)
		}
	}

	for pi, phase := range spec.Phases {
		phaseID, err := repo.CreatePhase(ctx, runID, pi, phase.Name, phase.Minutes)
		if err != nil {
			t.Fatalf("seed phase %q: %v", phase.Name, err)
		}
		result.PhaseIDs = append(result.PhaseIDs, phaseID)
	}

	return result
}

// MustTime parses an RFC3339 timestamp, failing the test on error
func MustTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("bad timestamp %q: %v", value, err)
	}
	return parsed
}
