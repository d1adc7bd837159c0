package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rlarsen/althing/internal/models"
)

// Repository provides data access methods
type Repository struct {
	db *sql.DB
}

// New creates a new Repository
func New(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign key constraints
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite works best with single connection
	db.SetMaxIdleConns(1)

	repo := &Repository{db: db}

	// Run migrations
	if err := repo.migrate(); err != nil {
		return nil, err
	}

	return repo, nil
}

// NewWithDB wraps an existing database handle; used by tests that drive
// the repository against a mocked connection.
func NewWithDB(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// DB returns the underlying database connection
func (r *Repository) DB() *sql.DB {
	return r.db
}

// Close closes the database connection
func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks if the database connection is alive
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// migrate runs database migrations
func (r *Repository) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			current_phase_id INTEGER,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS phases (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			sequence_number INTEGER NOT NULL,
			name TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			default_duration_minutes INTEGER NOT NULL,
			actual_duration_minutes INTEGER,
			started_at TEXT,
			paused_at TEXT,
			ended_at TEXT,
			FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE,
			UNIQUE(run_id, sequence_number)
		)`,
		`CREATE TABLE IF NOT EXISTS clans (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			sequence_number INTEGER NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			motto TEXT,
			color TEXT,
			has_contingency BOOLEAN DEFAULT 0,
			FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS roles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			clan_id INTEGER NOT NULL,
			sequence_number INTEGER NOT NULL,
			name TEXT NOT NULL,
			participant_type TEXT NOT NULL DEFAULT 'human',
			assigned_user_id TEXT,
			claim_token TEXT UNIQUE,
			FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE,
			FOREIGN KEY (clan_id) REFERENCES clans(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS vote_sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			phase_id INTEGER NOT NULL,
			scope TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'open',
			started_at TEXT,
			duration_minutes INTEGER NOT NULL,
			threshold INTEGER NOT NULL,
			candidate_role_ids TEXT NOT NULL,
			FOREIGN KEY (phase_id) REFERENCES phases(id) ON DELETE CASCADE,
			UNIQUE(phase_id, scope)
		)`,
		`CREATE TABLE IF NOT EXISTS votes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER NOT NULL,
			voter_role_id INTEGER NOT NULL,
			chosen_role_id INTEGER,
			updated_at TEXT,
			FOREIGN KEY (session_id) REFERENCES vote_sessions(id) ON DELETE CASCADE,
			UNIQUE(session_id, voter_role_id)
		)`,
		`CREATE TABLE IF NOT EXISTS vote_results (
			session_id INTEGER PRIMARY KEY,
			winner_role_id INTEGER,
			ranked TEXT NOT NULL,
			total_votes INTEGER NOT NULL,
			threshold INTEGER NOT NULL,
			threshold_met BOOLEAN NOT NULL,
			announced_at TEXT NOT NULL,
			FOREIGN KEY (session_id) REFERENCES vote_sessions(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS allegiance_votes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			clan_id INTEGER NOT NULL,
			role_id INTEGER NOT NULL,
			oath BOOLEAN,
			contingency BOOLEAN,
			manual BOOLEAN NOT NULL DEFAULT 0,
			revealed BOOLEAN NOT NULL DEFAULT 0,
			FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE,
			UNIQUE(run_id, role_id)
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_phases_run ON phases(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_roles_run ON roles(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_roles_clan ON roles(clan_id)`,
		`CREATE INDEX IF NOT EXISTS idx_votes_session ON votes(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_allegiance_run ON allegiance_votes(run_id)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}

// ==================== Time helpers ====================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func scanTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

// ==================== Run Methods ====================

// CreateRun inserts a new run record
func (r *Repository) CreateRun(ctx context.Context, id, name string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO runs (id, name, created_at) VALUES (?, ?, ?)`,
		id, name, formatTime(time.Now()))
	return err
}

// GetRun retrieves the current run (the database holds one run at a time)
func (r *Repository) GetRun(ctx context.Context) (*models.Run, error) {
	var run models.Run
	var phaseID sql.NullInt64
	var createdAt string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, current_phase_id, created_at FROM runs ORDER BY created_at DESC LIMIT 1`).
		Scan(&run.ID, &run.Name, &phaseID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if phaseID.Valid {
		run.CurrentPhaseID = &phaseID.Int64
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		run.CreatedAt = t
	}
	return &run, nil
}

// SetCurrentPhase moves the run's current-phase pointer
func (r *Repository) SetCurrentPhase(ctx context.Context, runID string, phaseID int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE runs SET current_phase_id = ? WHERE id = ?`, phaseID, runID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ==================== Phase Methods ====================

// CreatePhase inserts a pending phase
func (r *Repository) CreatePhase(ctx context.Context, runID string, seq int, name string, defaultMinutes int) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO phases (run_id, sequence_number, name, default_duration_minutes) VALUES (?, ?, ?, ?)`,
		runID, seq, name, defaultMinutes)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const phaseColumns = `id, run_id, sequence_number, name, status,
	default_duration_minutes, actual_duration_minutes, started_at, paused_at, ended_at`

func scanPhase(scan func(...interface{}) error) (*models.Phase, error) {
	var p models.Phase
	var actual sql.NullInt64
	var started, paused, ended sql.NullString
	err := scan(&p.ID, &p.RunID, &p.SequenceNumber, &p.Name, &p.Status,
		&p.DefaultDurationMinutes, &actual, &started, &paused, &ended)
	if err != nil {
		return nil, err
	}
	if actual.Valid {
		v := int(actual.Int64)
		p.ActualDurationMinutes = &v
	}
	p.StartedAt = scanTime(started)
	p.PausedAt = scanTime(paused)
	p.EndedAt = scanTime(ended)
	return &p, nil
}

// GetPhase retrieves one phase by ID
func (r *Repository) GetPhase(ctx context.Context, id int64) (*models.Phase, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+phaseColumns+` FROM phases WHERE id = ?`, id)
	p, err := scanPhase(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return p, err
}

// ListPhases returns a run's phases in sequence order
func (r *Repository) ListPhases(ctx context.Context, runID string) ([]models.Phase, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+phaseColumns+` FROM phases WHERE run_id = ? ORDER BY sequence_number`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var phases []models.Phase
	for rows.Next() {
		p, err := scanPhase(rows.Scan)
		if err != nil {
			return nil, err
		}
		phases = append(phases, *p)
	}
	return phases, rows.Err()
}

// StartPhase activates a pending phase. The write only applies when the
// phase is still pending AND no sibling phase is active or paused, so two
// racing facilitators cannot both succeed.
func (r *Repository) StartPhase(ctx context.Context, id int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE phases SET status = 'active', started_at = ?
		 WHERE id = ? AND status = 'pending'
		   AND NOT EXISTS (
			SELECT 1 FROM phases p2
			WHERE p2.run_id = phases.run_id AND p2.status IN ('active', 'paused'))`,
		formatTime(at), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// PausePhase freezes an active phase, recording the pause moment
func (r *Repository) PausePhase(ctx context.Context, id int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE phases SET status = 'paused', paused_at = ? WHERE id = ? AND status = 'active'`,
		formatTime(at), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ResumePhase reactivates a paused phase with a re-based start timestamp
func (r *Repository) ResumePhase(ctx context.Context, id int64, rebasedStart time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE phases SET status = 'active', started_at = ?, paused_at = NULL
		 WHERE id = ? AND status = 'paused'`,
		formatTime(rebasedStart), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ExtendPhase adds minutes to the effective duration of a running phase
func (r *Repository) ExtendPhase(ctx context.Context, id int64, minutes int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE phases
		 SET actual_duration_minutes = COALESCE(actual_duration_minutes, default_duration_minutes) + ?
		 WHERE id = ? AND status IN ('active', 'paused')`,
		minutes, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// CompletePhase ends an active or paused phase
func (r *Repository) CompletePhase(ctx context.Context, id int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE phases SET status = 'completed', ended_at = ?
		 WHERE id = ? AND status IN ('active', 'paused')`,
		formatTime(at), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SkipPhase terminates any non-terminal phase as intentionally bypassed
func (r *Repository) SkipPhase(ctx context.Context, id int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE phases SET status = 'skipped', ended_at = ?
		 WHERE id = ? AND status IN ('pending', 'active', 'paused')`,
		formatTime(at), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SetPhaseDuration overrides a phase's effective duration
func (r *Repository) SetPhaseDuration(ctx context.Context, id int64, minutes int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE phases SET actual_duration_minutes = ? WHERE id = ?`, minutes, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ==================== Clan Methods ====================

// CreateClan inserts a clan record
func (r *Repository) CreateClan(ctx context.Context, clan models.Clan) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO clans (run_id, sequence_number, name, description, motto, color, has_contingency)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		clan.RunID, clan.SequenceNumber, clan.Name, clan.Description, clan.Motto, clan.Color, clan.HasContingency)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetClan retrieves one clan by ID
func (r *Repository) GetClan(ctx context.Context, id int64) (*models.Clan, error) {
	var c models.Clan
	err := r.db.QueryRowContext(ctx,
		`SELECT id, run_id, sequence_number, name, description, motto, color, has_contingency
		 FROM clans WHERE id = ?`, id).
		Scan(&c.ID, &c.RunID, &c.SequenceNumber, &c.Name, &c.Description, &c.Motto, &c.Color, &c.HasContingency)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return &c, err
}

// ListClans returns a run's clans in sequence order
func (r *Repository) ListClans(ctx context.Context, runID string) ([]models.Clan, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, run_id, sequence_number, name, description, motto, color, has_contingency
		 FROM clans WHERE run_id = ? ORDER BY sequence_number`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clans []models.Clan
	for rows.Next() {
		var c models.Clan
		if err := rows.Scan(&c.ID, &c.RunID, &c.SequenceNumber, &c.Name, &c.Description, &c.Motto, &c.Color, &c.HasContingency); err != nil {
			return nil, err
		}
		clans = append(clans, c)
	}
	return clans, rows.Err()
}

// ==================== Role Methods ====================

const roleColumns = `id, run_id, clan_id, sequence_number, name, participant_type, assigned_user_id, claim_token`

func scanRole(scan func(...interface{}) error) (*models.Role, error) {
	var role models.Role
	var assigned, token sql.NullString
	err := scan(&role.ID, &role.RunID, &role.ClanID, &role.SequenceNumber,
		&role.Name, &role.ParticipantType, &assigned, &token)
	if err != nil {
		return nil, err
	}
	if assigned.Valid {
		role.AssignedUserID = &assigned.String
	}
	role.ClaimToken = token.String
	return &role, nil
}

// CreateRole inserts a role record
func (r *Repository) CreateRole(ctx context.Context, role models.Role) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO roles (run_id, clan_id, sequence_number, name, participant_type, claim_token)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		role.RunID, role.ClanID, role.SequenceNumber, role.Name, role.ParticipantType, role.ClaimToken)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetRole retrieves one role by ID
func (r *Repository) GetRole(ctx context.Context, id int64) (*models.Role, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = ?`, id)
	role, err := scanRole(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return role, err
}

// GetRoleByToken retrieves one role by its claim token
func (r *Repository) GetRoleByToken(ctx context.Context, token string) (*models.Role, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE claim_token = ?`, token)
	role, err := scanRole(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return role, err
}

func (r *Repository) listRoles(ctx context.Context, where string, arg interface{}) ([]models.Role, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+roleColumns+` FROM roles WHERE `+where+` ORDER BY clan_id, sequence_number`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []models.Role
	for rows.Next() {
		role, err := scanRole(rows.Scan)
		if err != nil {
			return nil, err
		}
		roles = append(roles, *role)
	}
	return roles, rows.Err()
}

// ListRoles returns a run's roles in clan and slot order
func (r *Repository) ListRoles(ctx context.Context, runID string) ([]models.Role, error) {
	return r.listRoles(ctx, `run_id = ?`, runID)
}

// ListRolesByClan returns a clan's roles in slot order
func (r *Repository) ListRolesByClan(ctx context.Context, clanID int64) ([]models.Role, error) {
	return r.listRoles(ctx, `clan_id = ?`, clanID)
}

// ListUnassignedHumanRoles returns human roles with no participant yet
func (r *Repository) ListUnassignedHumanRoles(ctx context.Context, runID string) ([]models.Role, error) {
	return r.listRoles(ctx, `run_id = ? AND participant_type = 'human' AND assigned_user_id IS NULL`, runID)
}

// AssignUser sets a role's participant. Conditional: the slot must be an
// unclaimed human role, so a second claim of the same role is rejected.
func (r *Repository) AssignUser(ctx context.Context, roleID int64, userID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE roles SET assigned_user_id = ?
		 WHERE id = ? AND participant_type = 'human' AND assigned_user_id IS NULL`,
		userID, roleID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ClearAssignment removes a role's participant (cancelled registration)
func (r *Repository) ClearAssignment(ctx context.Context, roleID int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE roles SET assigned_user_id = NULL WHERE id = ? AND assigned_user_id IS NOT NULL`, roleID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ==================== Vote Session Methods ====================

const sessionColumns = `id, phase_id, scope, status, started_at, duration_minutes, threshold, candidate_role_ids`

func scanSession(scan func(...interface{}) error) (*models.VoteSession, error) {
	var s models.VoteSession
	var started sql.NullString
	var candidates string
	err := scan(&s.ID, &s.PhaseID, &s.Scope, &s.Status, &started,
		&s.DurationMinutes, &s.Threshold, &candidates)
	if err != nil {
		return nil, err
	}
	s.StartedAt = scanTime(started)
	if err := json.Unmarshal([]byte(candidates), &s.CandidateRoleIDs); err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateVoteSession inserts an open session with its immutable candidate list
func (r *Repository) CreateVoteSession(ctx context.Context, session models.VoteSession) (int64, error) {
	candidates, err := json.Marshal(session.CandidateRoleIDs)
	if err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO vote_sessions (phase_id, scope, duration_minutes, threshold, candidate_role_ids)
		 VALUES (?, ?, ?, ?, ?)`,
		session.PhaseID, session.Scope, session.DurationMinutes, session.Threshold, string(candidates))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetVoteSession retrieves one session by ID
func (r *Repository) GetVoteSession(ctx context.Context, id int64) (*models.VoteSession, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM vote_sessions WHERE id = ?`, id)
	s, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return s, err
}

// GetVoteSessionByScope retrieves the session for a (phase, scope) pair
func (r *Repository) GetVoteSessionByScope(ctx context.Context, phaseID int64, scope string) (*models.VoteSession, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM vote_sessions WHERE phase_id = ? AND scope = ?`, phaseID, scope)
	s, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return s, err
}

// ListActiveVoteSessions returns sessions whose voting window is running
func (r *Repository) ListActiveVoteSessions(ctx context.Context) ([]models.VoteSession, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM vote_sessions WHERE status = 'open' AND started_at IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.VoteSession
	for rows.Next() {
		s, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// StartVoteSession begins the voting window. Conditional: open, not started.
func (r *Repository) StartVoteSession(ctx context.Context, id int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE vote_sessions SET started_at = ?
		 WHERE id = ? AND status = 'open' AND started_at IS NULL`,
		formatTime(at), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// CloseVoteSession ends the voting window. Conditional: open and started.
func (r *Repository) CloseVoteSession(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE vote_sessions SET status = 'closed'
		 WHERE id = ? AND status = 'open' AND started_at IS NOT NULL`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// AnnounceVoteSession marks the result revealed. Conditional: closed.
func (r *Repository) AnnounceVoteSession(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE vote_sessions SET status = 'announced' WHERE id = ? AND status = 'closed'`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ==================== Vote Methods ====================

// SaveVote records one ballot; re-voting overwrites the previous choice
func (r *Repository) SaveVote(ctx context.Context, vote models.Vote) error {
	var chosen interface{}
	if vote.ChosenRoleID != nil {
		chosen = *vote.ChosenRoleID
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO votes (session_id, voter_role_id, chosen_role_id, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id, voter_role_id)
		 DO UPDATE SET chosen_role_id = excluded.chosen_role_id, updated_at = excluded.updated_at`,
		vote.SessionID, vote.VoterRoleID, chosen, formatTime(time.Now()))
	return err
}

// ListVotes returns all ballots of a session
func (r *Repository) ListVotes(ctx context.Context, sessionID int64) ([]models.Vote, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT session_id, voter_role_id, chosen_role_id FROM votes WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var votes []models.Vote
	for rows.Next() {
		var v models.Vote
		var chosen sql.NullInt64
		if err := rows.Scan(&v.SessionID, &v.VoterRoleID, &chosen); err != nil {
			return nil, err
		}
		if chosen.Valid {
			v.ChosenRoleID = &chosen.Int64
		}
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

// ==================== Vote Result Methods ====================

// InsertVoteResult persists a result snapshot. The primary key makes the
// write once-only; a second reveal fails on the constraint.
func (r *Repository) InsertVoteResult(ctx context.Context, result models.VoteResult) error {
	ranked, err := json.Marshal(result.Ranked)
	if err != nil {
		return err
	}
	var winner interface{}
	if result.WinnerRoleID != nil {
		winner = *result.WinnerRoleID
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO vote_results (session_id, winner_role_id, ranked, total_votes, threshold, threshold_met, announced_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		result.SessionID, winner, string(ranked), result.TotalVotes,
		result.Threshold, result.ThresholdMet, formatTime(result.AnnouncedAt))
	return err
}

// GetVoteResult retrieves the persisted outcome of a session
func (r *Repository) GetVoteResult(ctx context.Context, sessionID int64) (*models.VoteResult, error) {
	var result models.VoteResult
	var winner sql.NullInt64
	var ranked, announced string
	err := r.db.QueryRowContext(ctx,
		`SELECT session_id, winner_role_id, ranked, total_votes, threshold, threshold_met, announced_at
		 FROM vote_results WHERE session_id = ?`, sessionID).
		Scan(&result.SessionID, &winner, &ranked, &result.TotalVotes,
			&result.Threshold, &result.ThresholdMet, &announced)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if winner.Valid {
		result.WinnerRoleID = &winner.Int64
	}
	if err := json.Unmarshal([]byte(ranked), &result.Ranked); err != nil {
		return nil, err
	}
	if t, err := time.Parse(time.RFC3339Nano, announced); err == nil {
		result.AnnouncedAt = t
	}
	return &result, nil
}

// ==================== Allegiance Methods ====================

// UpsertAllegianceVote records or overwrites one member's answer pair.
// The revealed flag is never touched by an upsert.
func (r *Repository) UpsertAllegianceVote(ctx context.Context, vote models.AllegianceVote) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO allegiance_votes (run_id, clan_id, role_id, oath, contingency, manual)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, role_id)
		 DO UPDATE SET oath = excluded.oath, contingency = excluded.contingency, manual = excluded.manual`,
		vote.RunID, vote.ClanID, vote.RoleID, nullableBool(vote.Oath), nullableBool(vote.Contingency), vote.Manual)
	return err
}

func nullableBool(b *bool) interface{} {
	if b == nil {
		return nil
	}
	return *b
}

func scanNullableBool(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	return &v.Bool
}

// GetAllegianceVote retrieves one member's answer pair
func (r *Repository) GetAllegianceVote(ctx context.Context, runID string, roleID int64) (*models.AllegianceVote, error) {
	var v models.AllegianceVote
	var oath, contingency sql.NullBool
	err := r.db.QueryRowContext(ctx,
		`SELECT id, run_id, clan_id, role_id, oath, contingency, manual, revealed
		 FROM allegiance_votes WHERE run_id = ? AND role_id = ?`, runID, roleID).
		Scan(&v.ID, &v.RunID, &v.ClanID, &v.RoleID, &oath, &contingency, &v.Manual, &v.Revealed)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	v.Oath = scanNullableBool(oath)
	v.Contingency = scanNullableBool(contingency)
	return &v, nil
}

// ListAllegianceVotes returns all answer pairs of a run
func (r *Repository) ListAllegianceVotes(ctx context.Context, runID string) ([]models.AllegianceVote, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, run_id, clan_id, role_id, oath, contingency, manual, revealed
		 FROM allegiance_votes WHERE run_id = ? ORDER BY clan_id, role_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var votes []models.AllegianceVote
	for rows.Next() {
		var v models.AllegianceVote
		var oath, contingency sql.NullBool
		if err := rows.Scan(&v.ID, &v.RunID, &v.ClanID, &v.RoleID, &oath, &contingency, &v.Manual, &v.Revealed); err != nil {
			return nil, err
		}
		v.Oath = scanNullableBool(oath)
		v.Contingency = scanNullableBool(contingency)
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

// RevealAllegiance flips the revealed flag on every record of the run.
// One-way: there is no corresponding unreveal.
func (r *Repository) RevealAllegiance(ctx context.Context, runID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE allegiance_votes SET revealed = 1 WHERE run_id = ?`, runID)
	return err
}

// ==================== Settings Methods ====================

// GetSetting retrieves a setting value
func (r *Repository) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

// SetSetting saves a setting value
func (r *Repository) SetSetting(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// validTables whitelists the tables a run reset may clear
var validTables = map[string]bool{
	"runs": true, "phases": true, "clans": true, "roles": true,
	"vote_sessions": true, "votes": true, "vote_results": true,
	"allegiance_votes": true, "settings": true,
}

// ClearTable deletes all rows from a whitelisted table
func (r *Repository) ClearTable(ctx context.Context, table string) error {
	if !validTables[table] {
		return ErrInvalidTable
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM `+table)
	return err
}

// requireRow converts a zero-row conditional update into ErrConflict
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}
