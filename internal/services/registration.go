package services

import (
	"context"
	"errors"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/rlarsen/althing/internal/allocation"
	apperrors "github.com/rlarsen/althing/internal/errors"
	"github.com/rlarsen/althing/internal/logger"
	"github.com/rlarsen/althing/internal/models"
	"github.com/rlarsen/althing/internal/repository"
)

// RegistrationService handles participant role claims. Each role carries
// a claim token; a participant claims by following the token link, first
// come first served.
type RegistrationService struct {
	log         logger.Logger
	repo        repository.FullRepository
	broadcaster Broadcaster
	baseURL     string
}

// NewRegistrationService creates a new RegistrationService. baseURL is
// the externally reachable server address embedded in claim QR codes.
func NewRegistrationService(log logger.Logger, repo repository.FullRepository, baseURL string) *RegistrationService {
	return &RegistrationService{log: log, repo: repo, baseURL: baseURL}
}

// SetBroadcaster wires up the change feed after construction
func (s *RegistrationService) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

func (s *RegistrationService) broadcast(msgType string, payload interface{}) {
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(models.WSMessage{Type: msgType, Payload: payload})
	}
}

// ClaimRole assigns the token's role to the given user. The write is
// conditional on the slot being free; the loser of a race gets a
// conflict, not a silent overwrite.
func (s *RegistrationService) ClaimRole(ctx context.Context, token, userID string) (*models.Role, error) {
	if userID == "" {
		return nil, apperrors.Validation("user id is required")
	}
	role, err := s.repo.GetRoleByToken(ctx, token)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("unknown claim token")
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if role.ParticipantType != models.ParticipantHuman {
		return nil, apperrors.Validationf("role %q is AI-played and cannot be claimed", role.Name)
	}

	if err := s.repo.AssignUser(ctx, role.ID, userID); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrRoleTaken
		}
		return nil, apperrors.Internal(err)
	}

	role, err = s.repo.GetRole(ctx, role.ID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	s.log.Info("role claimed", "role_id", role.ID, "name", role.Name)
	s.broadcast("roster_changed", role)
	return role, nil
}

// CancelClaim frees a claimed role
func (s *RegistrationService) CancelClaim(ctx context.Context, roleID int64) error {
	if err := s.repo.ClearAssignment(ctx, roleID); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return apperrors.StateConflict("role is not claimed")
		}
		return apperrors.Internal(err)
	}
	role, err := s.repo.GetRole(ctx, roleID)
	if err != nil {
		return apperrors.Internal(err)
	}
	s.log.Info("claim cancelled", "role_id", roleID)
	s.broadcast("roster_changed", role)
	return nil
}

// AssignRemaining pairs the given users with the still-unclaimed human
// roles, one-to-one at random. Counts must match exactly.
func (s *RegistrationService) AssignRemaining(ctx context.Context, userIDs []string) (map[int64]string, error) {
	run, err := s.repo.GetRun(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNoRun
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	open, err := s.repo.ListUnassignedHumanRoles(ctx, run.ID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	roleIDs := make([]int64, len(open))
	for i, role := range open {
		roleIDs[i] = role.ID
	}

	assignment, err := allocation.AssignUsers(roleIDs, userIDs)
	if err != nil {
		return nil, err
	}
	for roleID, userID := range assignment {
		if err := s.repo.AssignUser(ctx, roleID, userID); err != nil {
			return nil, apperrors.Internal(err)
		}
	}

	s.log.Info("remaining roles assigned", "count", len(assignment))
	s.broadcast("roster_changed", nil)
	return assignment, nil
}

// RoleQR renders the claim QR code for a role by ID
func (s *RegistrationService) RoleQR(ctx context.Context, roleID int64, size int) ([]byte, error) {
	role, err := s.repo.GetRole(ctx, roleID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFoundf("role %d not found", roleID)
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return s.ClaimQR(role.ClaimToken, size)
}

// ClaimQR renders the claim link for a token as a PNG QR code
func (s *RegistrationService) ClaimQR(token string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	url := fmt.Sprintf("%s/claim/%s", s.baseURL, token)
	png, err := qrcode.Encode(url, qrcode.Medium, size)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return png, nil
}
