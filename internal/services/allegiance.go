package services

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/rlarsen/althing/internal/errors"
	"github.com/rlarsen/althing/internal/logger"
	"github.com/rlarsen/althing/internal/models"
	"github.com/rlarsen/althing/internal/repository"
)

// Settings keys for the allegiance round. The round has no status column:
// a deadline in the future means running, a stored reveal flag means done.
const (
	settingAllegianceDeadline = "allegiance_deadline"
	settingAllegianceRevealed = "allegiance_revealed"
)

// ManualEntry is a facilitator-entered answer pair for a member who did
// not respond before the deadline.
type ManualEntry struct {
	RoleID      int64 `json:"role_id"`
	Oath        bool  `json:"oath"`
	Contingency *bool `json:"contingency,omitempty"`
}

// ClanCounts is the per-clan raw tally, computed on read
type ClanCounts struct {
	ClanID         int64  `json:"clan_id"`
	ClanName       string `json:"clan_name"`
	Members        int    `json:"members"`
	Responded      int    `json:"responded"`
	OathYes        int    `json:"oath_yes"`
	OathNo         int    `json:"oath_no"`
	ContingencyYes int    `json:"contingency_yes"`
	ContingencyNo  int    `json:"contingency_no"`
	Revealed       bool   `json:"revealed"`
}

// AllegianceService runs the end-of-exercise clan referendum: every
// member answers an oath question, members of contingency clans answer a
// second one, all under a single shared countdown.
type AllegianceService struct {
	log         logger.Logger
	repo        repository.FullRepository
	broadcaster Broadcaster

	Now func() time.Time
}

// NewAllegianceService creates a new AllegianceService
func NewAllegianceService(log logger.Logger, repo repository.FullRepository) *AllegianceService {
	return &AllegianceService{log: log, repo: repo, Now: time.Now}
}

// SetBroadcaster wires up the change feed after construction
func (s *AllegianceService) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

func (s *AllegianceService) broadcast(msgType string, payload interface{}) {
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(models.WSMessage{Type: msgType, Payload: payload})
	}
}

func (s *AllegianceService) deadline(ctx context.Context) (*time.Time, error) {
	value, err := s.repo.GetSetting(ctx, settingAllegianceDeadline)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return &t, nil
}

func (s *AllegianceService) revealed(ctx context.Context) (bool, error) {
	value, err := s.repo.GetSetting(ctx, settingAllegianceRevealed)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.Internal(err)
	}
	return value == "1", nil
}

// StartRound opens the referendum with the given countdown
func (s *AllegianceService) StartRound(ctx context.Context, durationMinutes int) error {
	if durationMinutes <= 0 {
		return apperrors.Validation("duration must be positive")
	}
	if done, err := s.revealed(ctx); err != nil {
		return err
	} else if done {
		return ErrRoundRevealed
	}
	deadline, err := s.deadline(ctx)
	if err != nil {
		return err
	}
	if deadline != nil && s.Now().Before(*deadline) {
		return apperrors.StateConflict("allegiance round is already running")
	}

	newDeadline := s.Now().Add(time.Duration(durationMinutes) * time.Minute)
	if err := s.repo.SetSetting(ctx, settingAllegianceDeadline, newDeadline.UTC().Format(time.RFC3339Nano)); err != nil {
		return apperrors.Internal(err)
	}
	s.log.Info("allegiance round started", "minutes", durationMinutes)
	s.broadcast("allegiance_status", map[string]interface{}{"running": true, "seconds": durationMinutes * 60})
	return nil
}

// ExtendRound pushes the deadline of a running round further out
func (s *AllegianceService) ExtendRound(ctx context.Context, minutes int) error {
	if minutes <= 0 {
		return apperrors.Validation("extension must be positive")
	}
	deadline, err := s.deadline(ctx)
	if err != nil {
		return err
	}
	if deadline == nil || !s.Now().Before(*deadline) {
		return ErrNoActiveRound
	}

	extended := deadline.Add(time.Duration(minutes) * time.Minute)
	if err := s.repo.SetSetting(ctx, settingAllegianceDeadline, extended.UTC().Format(time.RFC3339Nano)); err != nil {
		return apperrors.Internal(err)
	}
	s.log.Info("allegiance round extended", "minutes", minutes)
	s.broadcast("allegiance_status", map[string]interface{}{
		"running": true,
		"seconds": int(extended.Sub(s.Now()).Seconds()),
	})
	return nil
}

// StopRound ends the voting window early by moving the deadline to now
func (s *AllegianceService) StopRound(ctx context.Context) error {
	deadline, err := s.deadline(ctx)
	if err != nil {
		return err
	}
	if deadline == nil || !s.Now().Before(*deadline) {
		return ErrNoActiveRound
	}
	if err := s.repo.SetSetting(ctx, settingAllegianceDeadline, s.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return apperrors.Internal(err)
	}
	s.log.Info("allegiance round stopped")
	s.broadcast("allegiance_status", map[string]interface{}{"running": false, "seconds": 0})
	return nil
}

// Submit records a member's own answer pair. Members of clans without a
// contingency action answer the oath question alone; any contingency
// value they send is dropped.
func (s *AllegianceService) Submit(ctx context.Context, roleID int64, oath bool, contingency *bool) error {
	deadline, err := s.deadline(ctx)
	if err != nil {
		return err
	}
	if deadline == nil || !s.Now().Before(*deadline) {
		return ErrNoActiveRound
	}

	role, err := s.repo.GetRole(ctx, roleID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NotFoundf("role %d not found", roleID)
	}
	if err != nil {
		return apperrors.Internal(err)
	}
	clan, err := s.repo.GetClan(ctx, role.ClanID)
	if err != nil {
		return apperrors.Internal(err)
	}

	if clan.HasContingency && contingency == nil {
		return apperrors.Validationf("clan %q requires a contingency answer", clan.Name)
	}
	if !clan.HasContingency {
		contingency = nil
	}

	if err := s.repo.UpsertAllegianceVote(ctx, models.AllegianceVote{
		RunID:       role.RunID,
		ClanID:      role.ClanID,
		RoleID:      roleID,
		Oath:        &oath,
		Contingency: contingency,
	}); err != nil {
		return apperrors.Internal(err)
	}

	s.broadcast("allegiance_vote", map[string]interface{}{"clan_id": role.ClanID})
	return nil
}

// EnterManual records facilitator-entered answers for members who did
// not respond before the close. Legal only between the close and the
// reveal. The batch is validated in full before anything is written: an
// incomplete entry rejects the whole batch. Entries for members who
// answered themselves are skipped, never overwritten.
func (s *AllegianceService) EnterManual(ctx context.Context, entries []ManualEntry) error {
	if len(entries) == 0 {
		return apperrors.Validation("no entries given")
	}
	if done, err := s.revealed(ctx); err != nil {
		return err
	} else if done {
		return ErrRoundRevealed
	}
	deadline, err := s.deadline(ctx)
	if err != nil {
		return err
	}
	if deadline == nil {
		return ErrNoActiveRound
	}
	if s.Now().Before(*deadline) {
		return apperrors.StateConflict("round is still running; manual entries come after the close")
	}

	votes := make([]models.AllegianceVote, 0, len(entries))
	runID := ""
	for _, entry := range entries {
		role, err := s.repo.GetRole(ctx, entry.RoleID)
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.Validationf("role %d does not exist", entry.RoleID)
		}
		if err != nil {
			return apperrors.Internal(err)
		}
		clan, err := s.repo.GetClan(ctx, role.ClanID)
		if err != nil {
			return apperrors.Internal(err)
		}
		if clan.HasContingency && entry.Contingency == nil {
			return apperrors.Validationf("entry for role %d is missing the contingency answer", entry.RoleID)
		}
		contingency := entry.Contingency
		if !clan.HasContingency {
			contingency = nil
		}
		oath := entry.Oath
		runID = role.RunID
		votes = append(votes, models.AllegianceVote{
			RunID:       role.RunID,
			ClanID:      role.ClanID,
			RoleID:      entry.RoleID,
			Oath:        &oath,
			Contingency: contingency,
			Manual:      true,
		})
	}

	existing, err := s.repo.ListAllegianceVotes(ctx, runID)
	if err != nil {
		return apperrors.Internal(err)
	}
	answered := make(map[int64]bool, len(existing))
	for _, vote := range existing {
		if !vote.Manual {
			answered[vote.RoleID] = true
		}
	}

	written, skipped := 0, 0
	for _, vote := range votes {
		if answered[vote.RoleID] {
			skipped++
			continue
		}
		if err := s.repo.UpsertAllegianceVote(ctx, vote); err != nil {
			return apperrors.Internal(err)
		}
		written++
	}
	s.log.Info("manual allegiance entries recorded", "count", written, "skipped", skipped)
	return nil
}

// Reveal flips the shared reveal flag. One-way: once revealed the round
// accepts no further answers of any kind.
func (s *AllegianceService) Reveal(ctx context.Context) error {
	if done, err := s.revealed(ctx); err != nil {
		return err
	} else if done {
		return ErrRoundRevealed
	}
	deadline, err := s.deadline(ctx)
	if err != nil {
		return err
	}
	if deadline == nil {
		return ErrNoActiveRound
	}
	if s.Now().Before(*deadline) {
		return apperrors.StateConflict("round is still running; stop it before revealing")
	}

	run, err := s.repo.GetRun(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNoRun
	}
	if err != nil {
		return apperrors.Internal(err)
	}

	if err := s.repo.RevealAllegiance(ctx, run.ID); err != nil {
		return apperrors.Internal(err)
	}
	if err := s.repo.SetSetting(ctx, settingAllegianceRevealed, "1"); err != nil {
		return apperrors.Internal(err)
	}

	counts, err := s.Counts(ctx)
	if err != nil {
		return err
	}
	s.log.Info("allegiance revealed")
	s.broadcast("allegiance_revealed", counts)
	return nil
}

// Counts computes the per-clan raw tally on read
func (s *AllegianceService) Counts(ctx context.Context) ([]ClanCounts, error) {
	run, err := s.repo.GetRun(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNoRun
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	clans, err := s.repo.ListClans(ctx, run.ID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	roles, err := s.repo.ListRoles(ctx, run.ID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	votes, err := s.repo.ListAllegianceVotes(ctx, run.ID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	members := make(map[int64]int)
	for _, role := range roles {
		members[role.ClanID]++
	}

	byClan := make(map[int64]*ClanCounts, len(clans))
	result := make([]ClanCounts, 0, len(clans))
	for _, clan := range clans {
		result = append(result, ClanCounts{
			ClanID:   clan.ID,
			ClanName: clan.Name,
			Members:  members[clan.ID],
		})
	}
	for i := range result {
		byClan[result[i].ClanID] = &result[i]
	}

	for _, vote := range votes {
		counts := byClan[vote.ClanID]
		if counts == nil {
			continue
		}
		counts.Responded++
		counts.Revealed = counts.Revealed || vote.Revealed
		if vote.Oath != nil {
			if *vote.Oath {
				counts.OathYes++
			} else {
				counts.OathNo++
			}
		}
		if vote.Contingency != nil {
			if *vote.Contingency {
				counts.ContingencyYes++
			} else {
				counts.ContingencyNo++
			}
		}
	}
	return result, nil
}

// Remaining derives the shared countdown
func (s *AllegianceService) Remaining(ctx context.Context) (*Remaining, error) {
	deadline, err := s.deadline(ctx)
	if err != nil {
		return nil, err
	}
	if deadline == nil {
		return &Remaining{}, nil
	}
	left := int(deadline.Sub(s.Now()).Seconds())
	if left <= 0 {
		return &Remaining{}, nil
	}
	return &Remaining{Seconds: left, Running: true}, nil
}
