// Package handlers exposes the JSON API: a protected facilitator surface
// for run control and a public participant surface for claims and votes.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rlarsen/althing/internal/auth"
	apperrors "github.com/rlarsen/althing/internal/errors"
	"github.com/rlarsen/althing/internal/logger"
	"github.com/rlarsen/althing/internal/scenario"
	"github.com/rlarsen/althing/internal/services"
)

// Handler carries the services behind the HTTP surface
type Handler struct {
	log          logger.Logger
	auth         *auth.Manager
	run          services.RunServicer
	setup        services.SetupServicer
	phase        services.PhaseServicer
	election     services.ElectionServicer
	allegiance   services.AllegianceServicer
	registration services.RegistrationServicer
}

// New creates a Handler
func New(
	log logger.Logger,
	authManager *auth.Manager,
	run services.RunServicer,
	setup services.SetupServicer,
	phase services.PhaseServicer,
	election services.ElectionServicer,
	allegiance services.AllegianceServicer,
	registration services.RegistrationServicer,
) *Handler {
	return &Handler{
		log:          log,
		auth:         authManager,
		run:          run,
		setup:        setup,
		phase:        phase,
		election:     election,
		allegiance:   allegiance,
		registration: registration,
	}
}

func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, apperrors.Validationf("invalid %s", name)
	}
	return id, nil
}

// ==================== Auth ====================

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	token, err := h.auth.Login(req.Password)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(auth.SessionCookie); err == nil {
		h.auth.Logout(c.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: auth.SessionCookie, Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

// ==================== Setup ====================

func (h *Handler) SetupRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Scenario     string `json:"scenario"`
		Participants int    `json:"participants"`
		AICount      int    `json:"ai_count"`
		TotalMinutes int    `json:"total_minutes"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	tmpl, err := scenario.Parse([]byte(req.Scenario))
	if err != nil {
		writeError(w, h.log, apperrors.Wrap(err, apperrors.ErrValidation, "bad scenario"))
		return
	}

	result, err := h.setup.MaterializeRun(r.Context(), &tmpl, services.MaterializeParams{
		Participants: req.Participants,
		AICount:      req.AICount,
		TotalMinutes: req.TotalMinutes,
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) ResetRun(w http.ResponseWriter, r *http.Request) {
	if err := h.setup.ResetRun(r.Context()); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ==================== Run state ====================

func (h *Handler) RunState(w http.ResponseWriter, r *http.Request) {
	state, err := h.run.State(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// ==================== Phases ====================

func (h *Handler) phaseTransition(w http.ResponseWriter, r *http.Request,
	fn func(r *http.Request, id int64) (interface{}, error)) {
	id, err := idParam(r, "phaseID")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	out, err := fn(r, id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) StartPhase(w http.ResponseWriter, r *http.Request) {
	h.phaseTransition(w, r, func(r *http.Request, id int64) (interface{}, error) {
		return h.phase.Start(r.Context(), id)
	})
}

func (h *Handler) PausePhase(w http.ResponseWriter, r *http.Request) {
	h.phaseTransition(w, r, func(r *http.Request, id int64) (interface{}, error) {
		return h.phase.Pause(r.Context(), id)
	})
}

func (h *Handler) ResumePhase(w http.ResponseWriter, r *http.Request) {
	h.phaseTransition(w, r, func(r *http.Request, id int64) (interface{}, error) {
		return h.phase.Resume(r.Context(), id)
	})
}

func (h *Handler) EndPhase(w http.ResponseWriter, r *http.Request) {
	h.phaseTransition(w, r, func(r *http.Request, id int64) (interface{}, error) {
		return h.phase.End(r.Context(), id)
	})
}

func (h *Handler) SkipPhase(w http.ResponseWriter, r *http.Request) {
	h.phaseTransition(w, r, func(r *http.Request, id int64) (interface{}, error) {
		return h.phase.Skip(r.Context(), id)
	})
}

func (h *Handler) ExtendPhase(w http.ResponseWriter, r *http.Request) {
	h.phaseTransition(w, r, func(r *http.Request, id int64) (interface{}, error) {
		var req struct {
			Minutes int `json:"minutes"`
		}
		if err := decode(r, &req); err != nil {
			return nil, err
		}
		return h.phase.Extend(r.Context(), id, req.Minutes)
	})
}

func (h *Handler) PhaseRemaining(w http.ResponseWriter, r *http.Request) {
	h.phaseTransition(w, r, func(r *http.Request, id int64) (interface{}, error) {
		return h.phase.Remaining(r.Context(), id)
	})
}

func (h *Handler) Redistribute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TotalMinutes int `json:"total_minutes"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	phases, err := h.phase.Redistribute(r.Context(), req.TotalMinutes)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, phases)
}

// ==================== Elections ====================

func (h *Handler) CreateElection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PhaseID          int64   `json:"phase_id"`
		Scope            string  `json:"scope"`
		CandidateRoleIDs []int64 `json:"candidate_role_ids"`
		DurationMinutes  int     `json:"duration_minutes"`
		Threshold        int     `json:"threshold"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	session, err := h.election.Create(r.Context(), req.PhaseID, req.Scope,
		req.CandidateRoleIDs, req.DurationMinutes, req.Threshold)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *Handler) StartElection(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "sessionID")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	session, err := h.election.Start(r.Context(), id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) StopElection(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "sessionID")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.election.Stop(r.Context(), id); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RevealElection(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "sessionID")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	result, err := h.election.Reveal(r.Context(), id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) NextRound(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "sessionID")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	candidates, err := h.election.NextRoundCandidates(r.Context(), id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]int64{"candidate_role_ids": candidates})
}

func (h *Handler) ElectionRemaining(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "sessionID")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	remaining, err := h.election.Remaining(r.Context(), id)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, remaining)
}

func (h *Handler) CastVote(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "sessionID")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	var req struct {
		VoterRoleID  int64  `json:"voter_role_id"`
		ChosenRoleID *int64 `json:"chosen_role_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.election.CastVote(r.Context(), id, req.VoterRoleID, req.ChosenRoleID); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ==================== Allegiance ====================

func (h *Handler) StartAllegiance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Minutes int `json:"minutes"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.allegiance.StartRound(r.Context(), req.Minutes); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ExtendAllegiance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Minutes int `json:"minutes"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.allegiance.ExtendRound(r.Context(), req.Minutes); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) StopAllegiance(w http.ResponseWriter, r *http.Request) {
	if err := h.allegiance.StopRound(r.Context()); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SubmitAllegiance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoleID      int64 `json:"role_id"`
		Oath        *bool `json:"oath"`
		Contingency *bool `json:"contingency"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if req.Oath == nil {
		writeError(w, h.log, apperrors.Validation("oath answer is required"))
		return
	}
	if err := h.allegiance.Submit(r.Context(), req.RoleID, *req.Oath, req.Contingency); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ManualAllegiance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Entries []services.ManualEntry `json:"entries"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.allegiance.EnterManual(r.Context(), req.Entries); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RevealAllegiance(w http.ResponseWriter, r *http.Request) {
	if err := h.allegiance.Reveal(r.Context()); err != nil {
		writeError(w, h.log, err)
		return
	}
	counts, err := h.allegiance.Counts(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (h *Handler) AllegianceCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.allegiance.Counts(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (h *Handler) AllegianceRemaining(w http.ResponseWriter, r *http.Request) {
	remaining, err := h.allegiance.Remaining(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, remaining)
}

// ==================== Registration ====================

func (h *Handler) ClaimRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	role, err := h.registration.ClaimRole(r.Context(), chi.URLParam(r, "token"), req.UserID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (h *Handler) CancelClaim(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "roleID")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.registration.CancelClaim(r.Context(), id); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AssignRemaining(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserIDs []string `json:"user_ids"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	assignment, err := h.registration.AssignRemaining(r.Context(), req.UserIDs)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, assignment)
}

func (h *Handler) RoleQR(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "roleID")
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	size := 0
	if s := r.URL.Query().Get("size"); s != "" {
		if size, err = strconv.Atoi(s); err != nil {
			writeError(w, h.log, apperrors.Validation("invalid size"))
			return
		}
	}
	png, err := h.registration.RoleQR(r.Context(), id, size)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

