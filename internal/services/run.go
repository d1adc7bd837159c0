package services

import (
	"context"
	"errors"

	apperrors "github.com/rlarsen/althing/internal/errors"
	"github.com/rlarsen/althing/internal/logger"
	"github.com/rlarsen/althing/internal/models"
	"github.com/rlarsen/althing/internal/repository"
)

// RunState is the aggregate snapshot participants and the facilitator
// console poll or receive over the feed.
type RunState struct {
	Run      *models.Run          `json:"run"`
	Phases   []models.Phase       `json:"phases"`
	Clans    []models.Clan        `json:"clans"`
	Roles    []models.Role        `json:"roles"`
	Sessions []models.VoteSession `json:"sessions"`
}

// RunService reads aggregate run state
type RunService struct {
	log  logger.Logger
	repo repository.FullRepository
}

// NewRunService creates a new RunService
func NewRunService(log logger.Logger, repo repository.FullRepository) *RunService {
	return &RunService{log: log, repo: repo}
}

// State assembles the full snapshot of the current run
func (s *RunService) State(ctx context.Context) (*RunState, error) {
	run, err := s.repo.GetRun(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNoRun
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	state := &RunState{Run: run}
	if state.Phases, err = s.repo.ListPhases(ctx, run.ID); err != nil {
		return nil, apperrors.Internal(err)
	}
	if state.Clans, err = s.repo.ListClans(ctx, run.ID); err != nil {
		return nil, apperrors.Internal(err)
	}
	if state.Roles, err = s.repo.ListRoles(ctx, run.ID); err != nil {
		return nil, apperrors.Internal(err)
	}
	if state.Sessions, err = s.repo.ListActiveVoteSessions(ctx); err != nil {
		return nil, apperrors.Internal(err)
	}
	return state, nil
}
