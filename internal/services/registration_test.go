package services_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	apperrors "github.com/rlarsen/althing/internal/errors"
	"github.com/rlarsen/althing/internal/services"
	"github.com/rlarsen/althing/internal/testutil"
)

func TestClaimRole(t *testing.T) {
	repo := testutil.NewTestRepository(t)
	seed := seedRun(t, repo)
	svc := services.NewRegistrationService(testutil.NewTestLogger(), repo, "http://192.168.1.10:8080")
	ctx := context.Background()

	target, err := repo.GetRole(ctx, seed.RoleIDs[0])
	if err != nil {
		t.Fatal(err)
	}

	role, err := svc.ClaimRole(ctx, target.ClaimToken, "user-a")
	if err != nil {
		t.Fatalf("ClaimRole: %v", err)
	}
	if role.AssignedUserID == nil || *role.AssignedUserID != "user-a" {
		t.Errorf("assigned = %v, want user-a", role.AssignedUserID)
	}

	// The race loser gets a conflict, not an overwrite.
	if _, err := svc.ClaimRole(ctx, target.ClaimToken, "user-b"); !errors.Is(err, services.ErrRoleTaken) {
		t.Errorf("double claim: got %v", err)
	}
	role, _ = repo.GetRole(ctx, seed.RoleIDs[0])
	if *role.AssignedUserID != "user-a" {
		t.Errorf("claim overwritten to %q", *role.AssignedUserID)
	}

	if _, err := svc.ClaimRole(ctx, "bogus-token", "user-c"); kindOf(t, err) != apperrors.ErrNotFound {
		t.Errorf("unknown token: got %v", err)
	}
	if _, err := svc.ClaimRole(ctx, target.ClaimToken, ""); kindOf(t, err) != apperrors.ErrValidation {
		t.Error("empty user id should be rejected")
	}
}

func TestCancelClaim(t *testing.T) {
	repo := testutil.NewTestRepository(t)
	seed := seedRun(t, repo)
	svc := services.NewRegistrationService(testutil.NewTestLogger(), repo, "http://localhost:8080")
	ctx := context.Background()

	if err := svc.CancelClaim(ctx, seed.RoleIDs[0]); kindOf(t, err) != apperrors.ErrStateConflict {
		t.Errorf("cancel unclaimed: got %v", err)
	}

	target, _ := repo.GetRole(ctx, seed.RoleIDs[0])
	if _, err := svc.ClaimRole(ctx, target.ClaimToken, "user-a"); err != nil {
		t.Fatal(err)
	}
	if err := svc.CancelClaim(ctx, seed.RoleIDs[0]); err != nil {
		t.Fatalf("CancelClaim: %v", err)
	}

	// Freed slot can be claimed again.
	if _, err := svc.ClaimRole(ctx, target.ClaimToken, "user-b"); err != nil {
		t.Errorf("re-claim after cancel: %v", err)
	}
}

func TestAssignRemaining(t *testing.T) {
	repo := testutil.NewTestRepository(t)
	seed := seedRun(t, repo)
	svc := services.NewRegistrationService(testutil.NewTestLogger(), repo, "http://localhost:8080")
	ctx := context.Background()

	// Claim one of the five roles directly; four remain.
	target, _ := repo.GetRole(ctx, seed.RoleIDs[0])
	if _, err := svc.ClaimRole(ctx, target.ClaimToken, "early-bird"); err != nil {
		t.Fatal(err)
	}

	// Count mismatch is rejected before anything is written.
	if _, err := svc.AssignRemaining(ctx, []string{"u1", "u2"}); kindOf(t, err) != apperrors.ErrValidation {
		t.Errorf("count mismatch: got %v", err)
	}

	users := []string{"u1", "u2", "u3", "u4"}
	assignment, err := svc.AssignRemaining(ctx, users)
	if err != nil {
		t.Fatalf("AssignRemaining: %v", err)
	}
	if len(assignment) != 4 {
		t.Fatalf("assignment size = %d, want 4", len(assignment))
	}

	// Every user placed exactly once and no open human roles remain.
	seen := make(map[string]bool)
	for _, userID := range assignment {
		if seen[userID] {
			t.Errorf("user %q assigned twice", userID)
		}
		seen[userID] = true
	}
	open, err := repo.ListUnassignedHumanRoles(ctx, seed.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 0 {
		t.Errorf("open roles after assignment = %d", len(open))
	}
}

func TestClaimQR(t *testing.T) {
	repo := testutil.NewTestRepository(t)
	svc := services.NewRegistrationService(testutil.NewTestLogger(), repo, "http://192.168.1.10:8080")

	png, err := svc.ClaimQR("some-token", 0)
	if err != nil {
		t.Fatalf("ClaimQR: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Error("output is not a PNG")
	}
}
