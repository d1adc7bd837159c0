package services

import (
	"context"

	"github.com/rlarsen/althing/internal/models"
	"github.com/rlarsen/althing/internal/scenario"
)

// Broadcaster pushes change events to connected clients. Services hold
// one so state transitions reach the hub without a reverse dependency;
// it is injected after construction.
type Broadcaster interface {
	Broadcast(msg models.WSMessage)
}

// Remaining is the derived countdown state of a timed entity. Seconds is
// negative once the window has run over; nothing ends automatically on
// overtime except where noted on the operation.
type Remaining struct {
	Seconds  int  `json:"seconds"`
	Running  bool `json:"running"`
	Overtime bool `json:"overtime"`
}

// PhaseServicer manages the phase state machine and countdown
type PhaseServicer interface {
	Start(ctx context.Context, phaseID int64) (*models.Phase, error)
	Pause(ctx context.Context, phaseID int64) (*models.Phase, error)
	Resume(ctx context.Context, phaseID int64) (*models.Phase, error)
	Extend(ctx context.Context, phaseID int64, minutes int) (*models.Phase, error)
	End(ctx context.Context, phaseID int64) (*models.Phase, error)
	Skip(ctx context.Context, phaseID int64) (*models.Phase, error)
	Remaining(ctx context.Context, phaseID int64) (*Remaining, error)
	Redistribute(ctx context.Context, totalMinutes int) ([]models.Phase, error)
	SetBroadcaster(b Broadcaster)
}

// ElectionServicer manages vote sessions, ballots, and results
type ElectionServicer interface {
	Create(ctx context.Context, phaseID int64, scope string, candidateRoleIDs []int64, durationMinutes, threshold int) (*models.VoteSession, error)
	Start(ctx context.Context, sessionID int64) (*models.VoteSession, error)
	Stop(ctx context.Context, sessionID int64) error
	CastVote(ctx context.Context, sessionID, voterRoleID int64, chosenRoleID *int64) error
	Reveal(ctx context.Context, sessionID int64) (*models.VoteResult, error)
	NextRoundCandidates(ctx context.Context, sessionID int64) ([]int64, error)
	Remaining(ctx context.Context, sessionID int64) (*Remaining, error)
	CloseExpired(ctx context.Context) ([]int64, error)
	SetBroadcaster(b Broadcaster)
}

// AllegianceServicer manages the clan allegiance referendum
type AllegianceServicer interface {
	StartRound(ctx context.Context, durationMinutes int) error
	ExtendRound(ctx context.Context, minutes int) error
	StopRound(ctx context.Context) error
	Submit(ctx context.Context, roleID int64, oath bool, contingency *bool) error
	EnterManual(ctx context.Context, entries []ManualEntry) error
	Reveal(ctx context.Context) error
	Counts(ctx context.Context) ([]ClanCounts, error)
	Remaining(ctx context.Context) (*Remaining, error)
	SetBroadcaster(b Broadcaster)
}

// SetupServicer materializes and resets runs
type SetupServicer interface {
	MaterializeRun(ctx context.Context, tmpl *scenario.Template, params MaterializeParams) (*MaterializedRun, error)
	ResetRun(ctx context.Context) error
}

// RegistrationServicer manages participant role claims
type RegistrationServicer interface {
	ClaimRole(ctx context.Context, token, userID string) (*models.Role, error)
	CancelClaim(ctx context.Context, roleID int64) error
	AssignRemaining(ctx context.Context, userIDs []string) (map[int64]string, error)
	ClaimQR(token string, size int) ([]byte, error)
	RoleQR(ctx context.Context, roleID int64, size int) ([]byte, error)
}

// RunServicer reads the aggregate run state
type RunServicer interface {
	State(ctx context.Context) (*RunState, error)
}

// Compile-time interface checks
var (
	_ PhaseServicer        = (*PhaseService)(nil)
	_ ElectionServicer     = (*ElectionService)(nil)
	_ AllegianceServicer   = (*AllegianceService)(nil)
	_ SetupServicer        = (*SetupService)(nil)
	_ RegistrationServicer = (*RegistrationService)(nil)
	_ RunServicer          = (*RunService)(nil)
)
