// Package mock wraps a real repository with injectable per-method
// failures, letting service tests exercise storage error paths against
// otherwise working data.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/rlarsen/althing/internal/models"
	"github.com/rlarsen/althing/internal/repository"
)

// Repository delegates to an inner repository unless a failure has been
// registered for the called method.
type Repository struct {
	inner repository.FullRepository

	mu       sync.Mutex
	failures map[string]error
}

var _ repository.FullRepository = (*Repository)(nil)

// Wrap creates a mock around the given repository
func Wrap(inner repository.FullRepository) *Repository {
	return &Repository{inner: inner, failures: make(map[string]error)}
}

// FailWith makes the named method return err on every call until cleared
func (m *Repository) FailWith(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[method] = err
}

// Clear removes a registered failure
func (m *Repository) Clear(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failures, method)
}

func (m *Repository) failure(method string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[method]
}

func (m *Repository) CreateRun(ctx context.Context, id, name string) error {
	if err := m.failure("CreateRun"); err != nil {
		return err
	}
	return m.inner.CreateRun(ctx, id, name)
}

func (m *Repository) GetRun(ctx context.Context) (*models.Run, error) {
	if err := m.failure("GetRun"); err != nil {
		return nil, err
	}
	return m.inner.GetRun(ctx)
}

func (m *Repository) SetCurrentPhase(ctx context.Context, runID string, phaseID int64) error {
	if err := m.failure("SetCurrentPhase"); err != nil {
		return err
	}
	return m.inner.SetCurrentPhase(ctx, runID, phaseID)
}

func (m *Repository) CreatePhase(ctx context.Context, runID string, seq int, name string, defaultMinutes int) (int64, error) {
	if err := m.failure("CreatePhase"); err != nil {
		return 0, err
	}
	return m.inner.CreatePhase(ctx, runID, seq, name, defaultMinutes)
}

func (m *Repository) GetPhase(ctx context.Context, id int64) (*models.Phase, error) {
	if err := m.failure("GetPhase"); err != nil {
		return nil, err
	}
	return m.inner.GetPhase(ctx, id)
}

func (m *Repository) ListPhases(ctx context.Context, runID string) ([]models.Phase, error) {
	if err := m.failure("ListPhases"); err != nil {
		return nil, err
	}
	return m.inner.ListPhases(ctx, runID)
}

func (m *Repository) StartPhase(ctx context.Context, id int64, at time.Time) error {
	if err := m.failure("StartPhase"); err != nil {
		return err
	}
	return m.inner.StartPhase(ctx, id, at)
}

func (m *Repository) PausePhase(ctx context.Context, id int64, at time.Time) error {
	if err := m.failure("PausePhase"); err != nil {
		return err
	}
	return m.inner.PausePhase(ctx, id, at)
}

func (m *Repository) ResumePhase(ctx context.Context, id int64, rebasedStart time.Time) error {
	if err := m.failure("ResumePhase"); err != nil {
		return err
	}
	return m.inner.ResumePhase(ctx, id, rebasedStart)
}

func (m *Repository) ExtendPhase(ctx context.Context, id int64, minutes int) error {
	if err := m.failure("ExtendPhase"); err != nil {
		return err
	}
	return m.inner.ExtendPhase(ctx, id, minutes)
}

func (m *Repository) CompletePhase(ctx context.Context, id int64, at time.Time) error {
	if err := m.failure("CompletePhase"); err != nil {
		return err
	}
	return m.inner.CompletePhase(ctx, id, at)
}

func (m *Repository) SkipPhase(ctx context.Context, id int64, at time.Time) error {
	if err := m.failure("SkipPhase"); err != nil {
		return err
	}
	return m.inner.SkipPhase(ctx, id, at)
}

func (m *Repository) SetPhaseDuration(ctx context.Context, id int64, minutes int) error {
	if err := m.failure("SetPhaseDuration"); err != nil {
		return err
	}
	return m.inner.SetPhaseDuration(ctx, id, minutes)
}

func (m *Repository) CreateClan(ctx context.Context, clan models.Clan) (int64, error) {
	if err := m.failure("CreateClan"); err != nil {
		return 0, err
	}
	return m.inner.CreateClan(ctx, clan)
}

func (m *Repository) GetClan(ctx context.Context, id int64) (*models.Clan, error) {
	if err := m.failure("GetClan"); err != nil {
		return nil, err
	}
	return m.inner.GetClan(ctx, id)
}

func (m *Repository) ListClans(ctx context.Context, runID string) ([]models.Clan, error) {
	if err := m.failure("ListClans"); err != nil {
		return nil, err
	}
	return m.inner.ListClans(ctx, runID)
}

func (m *Repository) CreateRole(ctx context.Context, role models.Role) (int64, error) {
	if err := m.failure("CreateRole"); err != nil {
		return 0, err
	}
	return m.inner.CreateRole(ctx, role)
}

func (m *Repository) GetRole(ctx context.Context, id int64) (*models.Role, error) {
	if err := m.failure("GetRole"); err != nil {
		return nil, err
	}
	return m.inner.GetRole(ctx, id)
}

func (m *Repository) GetRoleByToken(ctx context.Context, token string) (*models.Role, error) {
	if err := m.failure("GetRoleByToken"); err != nil {
		return nil, err
	}
	return m.inner.GetRoleByToken(ctx, token)
}

func (m *Repository) ListRoles(ctx context.Context, runID string) ([]models.Role, error) {
	if err := m.failure("ListRoles"); err != nil {
		return nil, err
	}
	return m.inner.ListRoles(ctx, runID)
}

func (m *Repository) ListRolesByClan(ctx context.Context, clanID int64) ([]models.Role, error) {
	if err := m.failure("ListRolesByClan"); err != nil {
		return nil, err
	}
	return m.inner.ListRolesByClan(ctx, clanID)
}

func (m *Repository) ListUnassignedHumanRoles(ctx context.Context, runID string) ([]models.Role, error) {
	if err := m.failure("ListUnassignedHumanRoles"); err != nil {
		return nil, err
	}
	return m.inner.ListUnassignedHumanRoles(ctx, runID)
}

func (m *Repository) AssignUser(ctx context.Context, roleID int64, userID string) error {
	if err := m.failure("AssignUser"); err != nil {
		return err
	}
	return m.inner.AssignUser(ctx, roleID, userID)
}

func (m *Repository) ClearAssignment(ctx context.Context, roleID int64) error {
	if err := m.failure("ClearAssignment"); err != nil {
		return err
	}
	return m.inner.ClearAssignment(ctx, roleID)
}

func (m *Repository) CreateVoteSession(ctx context.Context, session models.VoteSession) (int64, error) {
	if err := m.failure("CreateVoteSession"); err != nil {
		return 0, err
	}
	return m.inner.CreateVoteSession(ctx, session)
}

func (m *Repository) GetVoteSession(ctx context.Context, id int64) (*models.VoteSession, error) {
	if err := m.failure("GetVoteSession"); err != nil {
		return nil, err
	}
	return m.inner.GetVoteSession(ctx, id)
}

func (m *Repository) GetVoteSessionByScope(ctx context.Context, phaseID int64, scope string) (*models.VoteSession, error) {
	if err := m.failure("GetVoteSessionByScope"); err != nil {
		return nil, err
	}
	return m.inner.GetVoteSessionByScope(ctx, phaseID, scope)
}

func (m *Repository) ListActiveVoteSessions(ctx context.Context) ([]models.VoteSession, error) {
	if err := m.failure("ListActiveVoteSessions"); err != nil {
		return nil, err
	}
	return m.inner.ListActiveVoteSessions(ctx)
}

func (m *Repository) StartVoteSession(ctx context.Context, id int64, at time.Time) error {
	if err := m.failure("StartVoteSession"); err != nil {
		return err
	}
	return m.inner.StartVoteSession(ctx, id, at)
}

func (m *Repository) CloseVoteSession(ctx context.Context, id int64) error {
	if err := m.failure("CloseVoteSession"); err != nil {
		return err
	}
	return m.inner.CloseVoteSession(ctx, id)
}

func (m *Repository) AnnounceVoteSession(ctx context.Context, id int64) error {
	if err := m.failure("AnnounceVoteSession"); err != nil {
		return err
	}
	return m.inner.AnnounceVoteSession(ctx, id)
}

func (m *Repository) SaveVote(ctx context.Context, vote models.Vote) error {
	if err := m.failure("SaveVote"); err != nil {
		return err
	}
	return m.inner.SaveVote(ctx, vote)
}

func (m *Repository) ListVotes(ctx context.Context, sessionID int64) ([]models.Vote, error) {
	if err := m.failure("ListVotes"); err != nil {
		return nil, err
	}
	return m.inner.ListVotes(ctx, sessionID)
}

func (m *Repository) InsertVoteResult(ctx context.Context, result models.VoteResult) error {
	if err := m.failure("InsertVoteResult"); err != nil {
		return err
	}
	return m.inner.InsertVoteResult(ctx, result)
}

func (m *Repository) GetVoteResult(ctx context.Context, sessionID int64) (*models.VoteResult, error) {
	if err := m.failure("GetVoteResult"); err != nil {
		return nil, err
	}
	return m.inner.GetVoteResult(ctx, sessionID)
}

func (m *Repository) UpsertAllegianceVote(ctx context.Context, vote models.AllegianceVote) error {
	if err := m.failure("UpsertAllegianceVote"); err != nil {
		return err
	}
	return m.inner.UpsertAllegianceVote(ctx, vote)
}

func (m *Repository) GetAllegianceVote(ctx context.Context, runID string, roleID int64) (*models.AllegianceVote, error) {
	if err := m.failure("GetAllegianceVote"); err != nil {
		return nil, err
	}
	return m.inner.GetAllegianceVote(ctx, runID, roleID)
}

func (m *Repository) ListAllegianceVotes(ctx context.Context, runID string) ([]models.AllegianceVote, error) {
	if err := m.failure("ListAllegianceVotes"); err != nil {
		return nil, err
	}
	return m.inner.ListAllegianceVotes(ctx, runID)
}

func (m *Repository) RevealAllegiance(ctx context.Context, runID string) error {
	if err := m.failure("RevealAllegiance"); err != nil {
		return err
	}
	return m.inner.RevealAllegiance(ctx, runID)
}

func (m *Repository) GetSetting(ctx context.Context, key string) (string, error) {
	if err := m.failure("GetSetting"); err != nil {
		return "", err
	}
	return m.inner.GetSetting(ctx, key)
}

func (m *Repository) SetSetting(ctx context.Context, key, value string) error {
	if err := m.failure("SetSetting"); err != nil {
		return err
	}
	return m.inner.SetSetting(ctx, key, value)
}

func (m *Repository) ClearTable(ctx context.Context, table string) error {
	if err := m.failure("ClearTable"); err != nil {
		return err
	}
	return m.inner.ClearTable(ctx, table)
}
