package services

import apperrors "github.com/rlarsen/althing/internal/errors"

// Common service errors. Handlers map these onto stable API codes.
var (
	ErrNoCandidates   = apperrors.Validation("candidate list is empty")
	ErrVotingClosed   = apperrors.StateConflict("voting window is not open")
	ErrNotACandidate  = apperrors.Validation("chosen role is not on the ballot")
	ErrRoleTaken      = apperrors.StateConflict("role is already claimed")
	ErrNoActiveRound  = apperrors.StateConflict("no allegiance round is running")
	ErrRoundRevealed  = apperrors.StateConflict("allegiance results are already revealed")
	ErrNoRun          = apperrors.NotFound("no run has been set up")
	ErrResultNotReady = apperrors.StateConflict("session is still open")
)
