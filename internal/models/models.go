package models

import "time"

// PhaseStatus is the lifecycle state of a single run phase
type PhaseStatus string

const (
	PhasePending   PhaseStatus = "pending"
	PhaseActive    PhaseStatus = "active"
	PhasePaused    PhaseStatus = "paused"
	PhaseCompleted PhaseStatus = "completed"
	PhaseSkipped   PhaseStatus = "skipped"
)

// Terminal reports whether no further transitions are possible
func (s PhaseStatus) Terminal() bool {
	return s == PhaseCompleted || s == PhaseSkipped
}

// SessionStatus is the stored lifecycle state of a vote session.
// "active" is derived, not stored: an open session with StartedAt set.
type SessionStatus string

const (
	SessionOpen      SessionStatus = "open"
	SessionClosed    SessionStatus = "closed"
	SessionAnnounced SessionStatus = "announced"
)

// Participant types for roles
const (
	ParticipantHuman = "human"
	ParticipantAI    = "ai"
)

// Run is one exercise run. CurrentPhaseID is the explicit pointer to the
// phase currently active or paused; only a phase start moves it.
type Run struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	CurrentPhaseID *int64    `json:"current_phase_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// Phase is one timed step of the fixed run sequence
type Phase struct {
	ID                     int64       `json:"id"`
	RunID                  string      `json:"run_id"`
	SequenceNumber         int         `json:"sequence_number"`
	Name                   string      `json:"name"`
	Status                 PhaseStatus `json:"status"`
	DefaultDurationMinutes int         `json:"default_duration_minutes"`
	ActualDurationMinutes  *int        `json:"actual_duration_minutes,omitempty"`
	StartedAt              *time.Time  `json:"started_at,omitempty"`
	PausedAt               *time.Time  `json:"paused_at,omitempty"`
	EndedAt                *time.Time  `json:"ended_at,omitempty"`
}

// EffectiveDurationSeconds is the phase length including facilitator extensions
func (p Phase) EffectiveDurationSeconds() int {
	minutes := p.DefaultDurationMinutes
	if p.ActualDurationMinutes != nil {
		minutes = *p.ActualDurationMinutes
	}
	return minutes * 60
}

// Clan is a faction grouping role slots
type Clan struct {
	ID             int64  `json:"id"`
	RunID          string `json:"run_id"`
	SequenceNumber int    `json:"sequence_number"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	Motto          string `json:"motto,omitempty"`
	Color          string `json:"color"`
	HasContingency bool   `json:"has_contingency"`
}

// Role is one character slot, human- or AI-occupied
type Role struct {
	ID              int64   `json:"id"`
	RunID           string  `json:"run_id"`
	ClanID          int64   `json:"clan_id"`
	SequenceNumber  int     `json:"sequence_number"`
	Name            string  `json:"name"`
	ParticipantType string  `json:"participant_type"`
	AssignedUserID  *string `json:"assigned_user_id,omitempty"`
	ClaimToken      string  `json:"claim_token,omitempty"`
}

// VoteSession is one timed election round. Candidates are immutable after
// creation; Status only moves forward (open -> closed -> announced).
type VoteSession struct {
	ID               int64         `json:"id"`
	PhaseID          int64         `json:"phase_id"`
	Scope            string        `json:"scope"`
	Status           SessionStatus `json:"status"`
	StartedAt        *time.Time    `json:"started_at,omitempty"`
	DurationMinutes  int           `json:"duration_minutes"`
	Threshold        int           `json:"threshold"`
	CandidateRoleIDs []int64       `json:"candidate_role_ids"`
}

// Active reports whether the voting window is running
func (s VoteSession) Active() bool {
	return s.Status == SessionOpen && s.StartedAt != nil
}

// HasCandidate reports whether the role is on this session's ballot
func (s VoteSession) HasCandidate(roleID int64) bool {
	for _, id := range s.CandidateRoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

// Vote is one participant's ballot. A nil ChosenRoleID is an abstention.
// At most one vote per (session, voter); re-voting overwrites.
type Vote struct {
	SessionID    int64  `json:"session_id"`
	VoterRoleID  int64  `json:"voter_role_id"`
	ChosenRoleID *int64 `json:"chosen_role_id"`
}

// RankedCandidate is one row of a revealed result
type RankedCandidate struct {
	RoleID     int64 `json:"role_id"`
	Votes      int   `json:"votes"`
	Percentage int   `json:"percentage"`
}

// VoteResult is the write-once outcome snapshot of one session
type VoteResult struct {
	SessionID    int64             `json:"session_id"`
	WinnerRoleID *int64            `json:"winner_role_id"`
	Ranked       []RankedCandidate `json:"ranked"`
	TotalVotes   int               `json:"total_votes"`
	Threshold    int               `json:"threshold"`
	ThresholdMet bool              `json:"threshold_met"`
	AnnouncedAt  time.Time         `json:"announced_at"`
}

// AllegianceVote is one member's answer pair in the final clan referendum.
// Contingency stays nil for clans without a contingency action. Manual
// marks facilitator-entered answers for non-respondents.
type AllegianceVote struct {
	ID          int64  `json:"id"`
	RunID       string `json:"run_id"`
	ClanID      int64  `json:"clan_id"`
	RoleID      int64  `json:"role_id"`
	Oath        *bool  `json:"oath"`
	Contingency *bool  `json:"contingency,omitempty"`
	Manual      bool   `json:"manual"`
	Revealed    bool   `json:"revealed"`
}

// WSMessage is a change event pushed over the subscription feed
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}
