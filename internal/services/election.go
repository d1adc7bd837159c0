package services

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	apperrors "github.com/rlarsen/althing/internal/errors"
	"github.com/rlarsen/althing/internal/logger"
	"github.com/rlarsen/althing/internal/models"
	"github.com/rlarsen/althing/internal/repository"
)

// ElectionService manages timed vote sessions: ballot casting, tallying,
// and the write-once result reveal.
type ElectionService struct {
	log         logger.Logger
	repo        repository.FullRepository
	broadcaster Broadcaster

	Now func() time.Time
}

// NewElectionService creates a new ElectionService
func NewElectionService(log logger.Logger, repo repository.FullRepository) *ElectionService {
	return &ElectionService{log: log, repo: repo, Now: time.Now}
}

// SetBroadcaster wires up the change feed after construction
func (s *ElectionService) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

func (s *ElectionService) broadcast(msgType string, payload interface{}) {
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(models.WSMessage{Type: msgType, Payload: payload})
	}
}

// Create opens a new vote session for a (phase, scope) pair. The
// candidate list is frozen at creation; its order is also the
// deterministic tie-break at tally time.
func (s *ElectionService) Create(ctx context.Context, phaseID int64, scope string, candidateRoleIDs []int64, durationMinutes, threshold int) (*models.VoteSession, error) {
	if len(candidateRoleIDs) == 0 {
		return nil, ErrNoCandidates
	}
	if scope == "" {
		return nil, apperrors.Validation("scope is required")
	}
	if durationMinutes <= 0 {
		return nil, apperrors.Validation("duration must be positive")
	}
	if threshold < 0 {
		return nil, apperrors.Validationf("threshold %d must not be negative", threshold)
	}

	seen := make(map[int64]bool, len(candidateRoleIDs))
	for _, roleID := range candidateRoleIDs {
		if seen[roleID] {
			return nil, apperrors.Validationf("duplicate candidate role %d", roleID)
		}
		seen[roleID] = true
		if _, err := s.repo.GetRole(ctx, roleID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, apperrors.Validationf("candidate role %d does not exist", roleID)
			}
			return nil, apperrors.Internal(err)
		}
	}

	if _, err := s.repo.GetVoteSessionByScope(ctx, phaseID, scope); err == nil {
		return nil, apperrors.StateConflictf("a %q session already exists for this phase", scope)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.Internal(err)
	}

	id, err := s.repo.CreateVoteSession(ctx, models.VoteSession{
		PhaseID:          phaseID,
		Scope:            scope,
		DurationMinutes:  durationMinutes,
		Threshold:        threshold,
		CandidateRoleIDs: candidateRoleIDs,
	})
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	session, err := s.repo.GetVoteSession(ctx, id)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	s.log.Info("vote session created", "session_id", id, "scope", scope, "candidates", len(candidateRoleIDs))
	s.broadcast("session_status", session)
	return session, nil
}

// Start begins the voting window
func (s *ElectionService) Start(ctx context.Context, sessionID int64) (*models.VoteSession, error) {
	if err := s.repo.StartVoteSession(ctx, sessionID, s.Now()); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperrors.StateConflict("session already started or closed")
		}
		return nil, apperrors.Internal(err)
	}
	session, err := s.repo.GetVoteSession(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	s.log.Info("vote session started", "session_id", sessionID, "scope", session.Scope)
	s.broadcast("session_status", session)
	return session, nil
}

// Stop ends the voting window. Ballots cast after this are rejected.
func (s *ElectionService) Stop(ctx context.Context, sessionID int64) error {
	if err := s.repo.CloseVoteSession(ctx, sessionID); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return apperrors.StateConflict("session is not open")
		}
		return apperrors.Internal(err)
	}
	session, err := s.repo.GetVoteSession(ctx, sessionID)
	if err != nil {
		return apperrors.Internal(err)
	}
	s.log.Info("vote session closed", "session_id", sessionID, "scope", session.Scope)
	s.broadcast("session_status", session)
	return nil
}

// CastVote records one ballot. A nil chosenRoleID is an abstention.
// Re-voting before the close overwrites the earlier ballot.
func (s *ElectionService) CastVote(ctx context.Context, sessionID, voterRoleID int64, chosenRoleID *int64) error {
	session, err := s.repo.GetVoteSession(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NotFoundf("session %d not found", sessionID)
	}
	if err != nil {
		return apperrors.Internal(err)
	}
	if !session.Active() || s.expired(session) {
		return ErrVotingClosed
	}
	if chosenRoleID != nil && !session.HasCandidate(*chosenRoleID) {
		return ErrNotACandidate
	}
	if _, err := s.repo.GetRole(ctx, voterRoleID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NotFoundf("voter role %d not found", voterRoleID)
		}
		return apperrors.Internal(err)
	}

	if err := s.repo.SaveVote(ctx, models.Vote{
		SessionID:    sessionID,
		VoterRoleID:  voterRoleID,
		ChosenRoleID: chosenRoleID,
	}); err != nil {
		return apperrors.Internal(err)
	}

	votes, err := s.repo.ListVotes(ctx, sessionID)
	if err != nil {
		return apperrors.Internal(err)
	}
	s.broadcast("vote_cast", map[string]interface{}{
		"session_id": sessionID,
		"ballots":    len(votes),
	})
	return nil
}

func (s *ElectionService) expired(session *models.VoteSession) bool {
	if session.StartedAt == nil {
		return false
	}
	deadline := session.StartedAt.Add(time.Duration(session.DurationMinutes) * time.Minute)
	return !s.Now().Before(deadline)
}

// Reveal tallies a closed session and persists the result. The result is
// written once; revealing an announced session returns the stored
// snapshot unchanged.
func (s *ElectionService) Reveal(ctx context.Context, sessionID int64) (*models.VoteResult, error) {
	session, err := s.repo.GetVoteSession(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFoundf("session %d not found", sessionID)
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	switch session.Status {
	case models.SessionAnnounced:
		result, err := s.repo.GetVoteResult(ctx, sessionID)
		if err != nil {
			return nil, apperrors.Internal(err)
		}
		return result, nil
	case models.SessionOpen:
		return nil, ErrResultNotReady
	}

	votes, err := s.repo.ListVotes(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	result := tally(session, votes, s.Now())
	if err := s.repo.InsertVoteResult(ctx, *result); err != nil {
		return nil, apperrors.Internal(err)
	}
	if err := s.repo.AnnounceVoteSession(ctx, sessionID); err != nil {
		return nil, apperrors.Internal(err)
	}

	s.log.Info("result announced", "session_id", sessionID, "scope", session.Scope,
		"total_votes", result.TotalVotes, "threshold_met", result.ThresholdMet)
	s.broadcast("result_announced", result)
	return result, nil
}

// tally counts non-abstaining ballots per candidate and ranks them.
// Ties keep candidate-list order: the sort is stable over a slice built
// in that order.
func tally(session *models.VoteSession, votes []models.Vote, at time.Time) *models.VoteResult {
	counts := make(map[int64]int, len(session.CandidateRoleIDs))
	total := 0
	for _, v := range votes {
		if v.ChosenRoleID == nil {
			continue
		}
		counts[*v.ChosenRoleID]++
		total++
	}

	ranked := make([]models.RankedCandidate, 0, len(session.CandidateRoleIDs))
	for _, roleID := range session.CandidateRoleIDs {
		c := models.RankedCandidate{RoleID: roleID, Votes: counts[roleID]}
		if total > 0 {
			c.Percentage = int(math.Round(float64(c.Votes) / float64(total) * 100))
		}
		ranked = append(ranked, c)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Votes > ranked[j].Votes
	})

	result := &models.VoteResult{
		SessionID:   session.ID,
		Ranked:      ranked,
		TotalVotes:  total,
		Threshold:   session.Threshold,
		AnnouncedAt: at,
	}
	if total > 0 && ranked[0].Votes >= session.Threshold {
		result.ThresholdMet = true
		winner := ranked[0].RoleID
		result.WinnerRoleID = &winner
	}
	return result
}

// NextRoundCandidates derives the ballot for a follow-up round from an
// announced result: the sole winner when the threshold was met, the top
// two ranked candidates otherwise.
func (s *ElectionService) NextRoundCandidates(ctx context.Context, sessionID int64) ([]int64, error) {
	session, err := s.repo.GetVoteSession(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFoundf("session %d not found", sessionID)
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if session.Status != models.SessionAnnounced {
		return nil, apperrors.StateConflict("result has not been announced yet")
	}

	result, err := s.repo.GetVoteResult(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if result.ThresholdMet {
		return []int64{*result.WinnerRoleID}, nil
	}
	next := make([]int64, 0, 2)
	for _, c := range result.Ranked {
		next = append(next, c.RoleID)
		if len(next) == 2 {
			break
		}
	}
	return next, nil
}

// Remaining derives the voting-window countdown
func (s *ElectionService) Remaining(ctx context.Context, sessionID int64) (*Remaining, error) {
	session, err := s.repo.GetVoteSession(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFoundf("session %d not found", sessionID)
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	total := session.DurationMinutes * 60
	if !session.Active() {
		if session.StartedAt == nil {
			return &Remaining{Seconds: total}, nil
		}
		return &Remaining{}, nil
	}
	left := total - int(s.Now().Sub(*session.StartedAt).Seconds())
	if left < 0 {
		left = 0
	}
	return &Remaining{Seconds: left, Running: true}, nil
}

// CloseExpired closes every active session whose window has run out and
// returns their IDs. The hub ticker calls this each second; it is the
// only automatic transition in the system.
func (s *ElectionService) CloseExpired(ctx context.Context) ([]int64, error) {
	sessions, err := s.repo.ListActiveVoteSessions(ctx)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	var closed []int64
	for i := range sessions {
		if !s.expired(&sessions[i]) {
			continue
		}
		if err := s.repo.CloseVoteSession(ctx, sessions[i].ID); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				continue
			}
			return closed, apperrors.Internal(err)
		}
		closed = append(closed, sessions[i].ID)
		s.log.Info("vote session timed out", "session_id", sessions[i].ID, "scope", sessions[i].Scope)
		sessions[i].Status = models.SessionClosed
		s.broadcast("session_status", &sessions[i])
	}
	return closed, nil
}
