package repository

import (
	"context"
	"time"

	"github.com/rlarsen/althing/internal/models"
)

// RunRepository defines run record operations
type RunRepository interface {
	CreateRun(ctx context.Context, id, name string) error
	GetRun(ctx context.Context) (*models.Run, error)
	SetCurrentPhase(ctx context.Context, runID string, phaseID int64) error
}

// PhaseRepository defines phase record operations. The transition methods
// are conditional writes: they only apply when the stored status matches
// the expected pre-state, and return ErrConflict otherwise.
type PhaseRepository interface {
	CreatePhase(ctx context.Context, runID string, seq int, name string, defaultMinutes int) (int64, error)
	GetPhase(ctx context.Context, id int64) (*models.Phase, error)
	ListPhases(ctx context.Context, runID string) ([]models.Phase, error)
	StartPhase(ctx context.Context, id int64, at time.Time) error
	PausePhase(ctx context.Context, id int64, at time.Time) error
	ResumePhase(ctx context.Context, id int64, rebasedStart time.Time) error
	ExtendPhase(ctx context.Context, id int64, minutes int) error
	CompletePhase(ctx context.Context, id int64, at time.Time) error
	SkipPhase(ctx context.Context, id int64, at time.Time) error
	SetPhaseDuration(ctx context.Context, id int64, minutes int) error
}

// ClanRepository defines clan record operations
type ClanRepository interface {
	CreateClan(ctx context.Context, clan models.Clan) (int64, error)
	GetClan(ctx context.Context, id int64) (*models.Clan, error)
	ListClans(ctx context.Context, runID string) ([]models.Clan, error)
}

// RoleRepository defines role record operations
type RoleRepository interface {
	CreateRole(ctx context.Context, role models.Role) (int64, error)
	GetRole(ctx context.Context, id int64) (*models.Role, error)
	GetRoleByToken(ctx context.Context, token string) (*models.Role, error)
	ListRoles(ctx context.Context, runID string) ([]models.Role, error)
	ListRolesByClan(ctx context.Context, clanID int64) ([]models.Role, error)
	ListUnassignedHumanRoles(ctx context.Context, runID string) ([]models.Role, error)
	AssignUser(ctx context.Context, roleID int64, userID string) error
	ClearAssignment(ctx context.Context, roleID int64) error
}

// SessionRepository defines vote session, ballot, and result operations
type SessionRepository interface {
	CreateVoteSession(ctx context.Context, session models.VoteSession) (int64, error)
	GetVoteSession(ctx context.Context, id int64) (*models.VoteSession, error)
	GetVoteSessionByScope(ctx context.Context, phaseID int64, scope string) (*models.VoteSession, error)
	ListActiveVoteSessions(ctx context.Context) ([]models.VoteSession, error)
	StartVoteSession(ctx context.Context, id int64, at time.Time) error
	CloseVoteSession(ctx context.Context, id int64) error
	AnnounceVoteSession(ctx context.Context, id int64) error
	SaveVote(ctx context.Context, vote models.Vote) error
	ListVotes(ctx context.Context, sessionID int64) ([]models.Vote, error)
	InsertVoteResult(ctx context.Context, result models.VoteResult) error
	GetVoteResult(ctx context.Context, sessionID int64) (*models.VoteResult, error)
}

// AllegianceRepository defines clan allegiance referendum operations
type AllegianceRepository interface {
	UpsertAllegianceVote(ctx context.Context, vote models.AllegianceVote) error
	GetAllegianceVote(ctx context.Context, runID string, roleID int64) (*models.AllegianceVote, error)
	ListAllegianceVotes(ctx context.Context, runID string) ([]models.AllegianceVote, error)
	RevealAllegiance(ctx context.Context, runID string) error
}

// SettingsRepository defines settings data operations
type SettingsRepository interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	ClearTable(ctx context.Context, table string) error
}

// FullRepository combines all repository interfaces.
// Use this when a service needs access to multiple domains.
type FullRepository interface {
	RunRepository
	PhaseRepository
	ClanRepository
	RoleRepository
	SessionRepository
	AllegianceRepository
	SettingsRepository
}

// Ensure Repository implements all interfaces
var _ FullRepository = (*Repository)(nil)
