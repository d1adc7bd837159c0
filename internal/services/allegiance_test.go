package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/rlarsen/althing/internal/errors"
	"github.com/rlarsen/althing/internal/repository"
	"github.com/rlarsen/althing/internal/services"
	"github.com/rlarsen/althing/internal/testutil"
)

func newAllegiance(t *testing.T) (*services.AllegianceService, *repository.Repository, testutil.SeedResult, *fixedClock) {
	t.Helper()
	repo := testutil.NewTestRepository(t)
	seed := seedRun(t, repo)
	svc := services.NewAllegianceService(testutil.NewTestLogger(), repo)
	clock := newClock()
	svc.Now = clock.Now
	return svc, repo, seed, clock
}

func boolPtr(b bool) *bool { return &b }

func TestAllegianceRoundLifecycle(t *testing.T) {
	svc, _, _, clock := newAllegiance(t)
	ctx := context.Background()

	// Nothing running yet.
	r, err := svc.Remaining(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if r.Running {
		t.Error("round running before start")
	}
	if err := svc.ExtendRound(ctx, 5); !errors.Is(err, services.ErrNoActiveRound) {
		t.Errorf("extend before start: got %v", err)
	}
	if err := svc.StopRound(ctx); !errors.Is(err, services.ErrNoActiveRound) {
		t.Errorf("stop before start: got %v", err)
	}

	if err := svc.StartRound(ctx, 10); err != nil {
		t.Fatalf("StartRound: %v", err)
	}
	if err := svc.StartRound(ctx, 10); kindOf(t, err) != apperrors.ErrStateConflict {
		t.Error("double start should conflict")
	}

	clock.Advance(4 * time.Minute)
	r, _ = svc.Remaining(ctx)
	if !r.Running || r.Seconds != 6*60 {
		t.Errorf("remaining = %+v, want 360s running", r)
	}

	if err := svc.ExtendRound(ctx, 5); err != nil {
		t.Fatalf("ExtendRound: %v", err)
	}
	r, _ = svc.Remaining(ctx)
	if r.Seconds != 11*60 {
		t.Errorf("extended remaining = %d, want 660", r.Seconds)
	}

	if err := svc.StopRound(ctx); err != nil {
		t.Fatalf("StopRound: %v", err)
	}
	r, _ = svc.Remaining(ctx)
	if r.Running || r.Seconds != 0 {
		t.Errorf("stopped remaining = %+v", r)
	}
}

func TestAllegianceSubmit(t *testing.T) {
	svc, _, seed, clock := newAllegiance(t)
	ctx := context.Background()

	// Ravenholt roles 0-2 (no contingency), Eldmark roles 3-4 (contingency).
	if err := svc.Submit(ctx, seed.RoleIDs[0], true, nil); !errors.Is(err, services.ErrNoActiveRound) {
		t.Errorf("submit before start: got %v", err)
	}

	if err := svc.StartRound(ctx, 10); err != nil {
		t.Fatal(err)
	}

	// Eldmark member without a contingency answer.
	if err := svc.Submit(ctx, seed.RoleIDs[3], true, nil); kindOf(t, err) != apperrors.ErrValidation {
		t.Error("missing contingency answer should be rejected")
	}
	if err := svc.Submit(ctx, seed.RoleIDs[3], true, boolPtr(false)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// Ravenholt member: a stray contingency answer is dropped, not stored.
	if err := svc.Submit(ctx, seed.RoleIDs[0], false, boolPtr(true)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// Change of heart overwrites.
	if err := svc.Submit(ctx, seed.RoleIDs[0], true, nil); err != nil {
		t.Fatalf("re-submit: %v", err)
	}

	counts, err := svc.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if len(counts) != 2 {
		t.Fatalf("clan count = %d", len(counts))
	}
	raven, eld := counts[0], counts[1]
	if raven.Members != 3 || raven.Responded != 1 || raven.OathYes != 1 || raven.OathNo != 0 {
		t.Errorf("Ravenholt counts = %+v", raven)
	}
	if raven.ContingencyYes != 0 || raven.ContingencyNo != 0 {
		t.Errorf("Ravenholt has contingency answers: %+v", raven)
	}
	if eld.Members != 2 || eld.Responded != 1 || eld.OathYes != 1 || eld.ContingencyNo != 1 {
		t.Errorf("Eldmark counts = %+v", eld)
	}

	// Deadline expiry closes submissions without any explicit stop.
	clock.Advance(11 * time.Minute)
	if err := svc.Submit(ctx, seed.RoleIDs[4], true, boolPtr(true)); !errors.Is(err, services.ErrNoActiveRound) {
		t.Errorf("submit after deadline: got %v", err)
	}
}

func TestAllegianceManualEntry(t *testing.T) {
	svc, _, seed, clock := newAllegiance(t)
	ctx := context.Background()

	// Manual entry needs a closed round behind it.
	if err := svc.EnterManual(ctx, []services.ManualEntry{{RoleID: seed.RoleIDs[1], Oath: true}}); !errors.Is(err, services.ErrNoActiveRound) {
		t.Errorf("manual entry before any round: got %v", err)
	}

	if err := svc.StartRound(ctx, 5); err != nil {
		t.Fatal(err)
	}

	// The countdown is still running: members answer for themselves.
	if err := svc.EnterManual(ctx, []services.ManualEntry{{RoleID: seed.RoleIDs[1], Oath: true}}); kindOf(t, err) != apperrors.ErrStateConflict {
		t.Errorf("manual entry while running: got %v", err)
	}

	clock.Advance(6 * time.Minute)

	// An incomplete entry rejects the whole batch.
	err := svc.EnterManual(ctx, []services.ManualEntry{
		{RoleID: seed.RoleIDs[1], Oath: true},
		{RoleID: seed.RoleIDs[4], Oath: false}, // Eldmark: contingency required
	})
	if kindOf(t, err) != apperrors.ErrValidation {
		t.Fatalf("incomplete batch: got %v", err)
	}
	counts, _ := svc.Counts(ctx)
	if counts[0].Responded != 0 {
		t.Error("rejected batch still wrote entries")
	}

	if err := svc.EnterManual(ctx, []services.ManualEntry{
		{RoleID: seed.RoleIDs[1], Oath: true},
		{RoleID: seed.RoleIDs[4], Oath: false, Contingency: boolPtr(true)},
	}); err != nil {
		t.Fatalf("EnterManual: %v", err)
	}

	counts, _ = svc.Counts(ctx)
	if counts[0].Responded != 1 || counts[1].Responded != 1 {
		t.Errorf("counts after manual entry = %+v", counts)
	}

	if err := svc.EnterManual(ctx, nil); kindOf(t, err) != apperrors.ErrValidation {
		t.Error("empty batch should be rejected")
	}
}

func TestAllegianceManualEntrySkipsOwnAnswers(t *testing.T) {
	svc, repo, seed, clock := newAllegiance(t)
	ctx := context.Background()

	if err := svc.StartRound(ctx, 5); err != nil {
		t.Fatal(err)
	}
	// role0 answers no for themselves before the close.
	if err := svc.Submit(ctx, seed.RoleIDs[0], false, nil); err != nil {
		t.Fatal(err)
	}
	clock.Advance(6 * time.Minute)

	// The facilitator batch covers role0 and role1; only the actual
	// non-respondent is written.
	if err := svc.EnterManual(ctx, []services.ManualEntry{
		{RoleID: seed.RoleIDs[0], Oath: true},
		{RoleID: seed.RoleIDs[1], Oath: true},
	}); err != nil {
		t.Fatalf("EnterManual: %v", err)
	}

	votes, err := repo.ListAllegianceVotes(ctx, seed.RunID)
	if err != nil {
		t.Fatal(err)
	}
	byRole := make(map[int64]bool)
	for _, v := range votes {
		byRole[v.RoleID] = true
		switch v.RoleID {
		case seed.RoleIDs[0]:
			if v.Manual || v.Oath == nil || *v.Oath {
				t.Errorf("role0's own answer was overwritten: %+v", v)
			}
		case seed.RoleIDs[1]:
			if !v.Manual || v.Oath == nil || !*v.Oath {
				t.Errorf("role1 manual entry = %+v", v)
			}
		}
	}
	if !byRole[seed.RoleIDs[0]] || !byRole[seed.RoleIDs[1]] {
		t.Errorf("votes recorded for %v", byRole)
	}

	// A second manual pass may correct an earlier manual entry.
	if err := svc.EnterManual(ctx, []services.ManualEntry{
		{RoleID: seed.RoleIDs[1], Oath: false},
	}); err != nil {
		t.Fatalf("corrective EnterManual: %v", err)
	}
	votes, _ = repo.ListAllegianceVotes(ctx, seed.RunID)
	for _, v := range votes {
		if v.RoleID == seed.RoleIDs[1] && (v.Oath == nil || *v.Oath) {
			t.Errorf("manual correction not applied: %+v", v)
		}
	}
}

func TestAllegianceReveal(t *testing.T) {
	svc, repo, seed, clock := newAllegiance(t)
	ctx := context.Background()

	if err := svc.Reveal(ctx); !errors.Is(err, services.ErrNoActiveRound) {
		t.Errorf("reveal before any round: got %v", err)
	}

	if err := svc.StartRound(ctx, 5); err != nil {
		t.Fatal(err)
	}
	if err := svc.Submit(ctx, seed.RoleIDs[0], true, nil); err != nil {
		t.Fatal(err)
	}

	// Running round cannot be revealed.
	if err := svc.Reveal(ctx); kindOf(t, err) != apperrors.ErrStateConflict {
		t.Errorf("reveal while running: got %v", err)
	}

	clock.Advance(6 * time.Minute)
	if err := svc.Reveal(ctx); err != nil {
		t.Fatalf("Reveal: %v", err)
	}

	votes, err := repo.ListAllegianceVotes(ctx, seed.RunID)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range votes {
		if !v.Revealed {
			t.Errorf("vote for role %d not revealed", v.RoleID)
		}
	}

	// One-way: everything after the reveal is rejected.
	if err := svc.Reveal(ctx); !errors.Is(err, services.ErrRoundRevealed) {
		t.Errorf("second reveal: got %v", err)
	}
	if err := svc.EnterManual(ctx, []services.ManualEntry{{RoleID: seed.RoleIDs[1], Oath: true}}); !errors.Is(err, services.ErrRoundRevealed) {
		t.Errorf("manual entry after reveal: got %v", err)
	}
	if err := svc.StartRound(ctx, 5); !errors.Is(err, services.ErrRoundRevealed) {
		t.Errorf("restart after reveal: got %v", err)
	}
}
