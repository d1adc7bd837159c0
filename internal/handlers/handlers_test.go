package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rlarsen/althing/internal/auth"
	"github.com/rlarsen/althing/internal/handlers"
	"github.com/rlarsen/althing/internal/models"
	"github.com/rlarsen/althing/internal/services"
	"github.com/rlarsen/althing/internal/testutil"
)

const scenarioYAML = `
name: The Althing of Thingvellir
clans:
  - name: Ravenholt
    color: "#3b2a4d"
    roles:
      - name: Jarl
      - name: Lawspeaker
      - name: Skald
  - name: Eldmark
    color: "#8c2f1b"
    has_contingency: true
    roles:
      - name: Jarl
      - name: Shieldmaiden
phases:
  - name: Opening
    duration_minutes: 10
  - name: Council
    duration_minutes: 30
  - name: Closing
    duration_minutes: 20
`

type testServer struct {
	server *httptest.Server
	token  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	repo := testutil.NewTestRepository(t)
	log := testutil.NewTestLogger()
	authManager := auth.NewManager(log, "gatekeeper")

	handler := handlers.New(
		log,
		authManager,
		services.NewRunService(log, repo),
		services.NewSetupService(log, repo),
		services.NewPhaseService(log, repo),
		services.NewElectionService(log, repo),
		services.NewAllegianceService(log, repo),
		services.NewRegistrationService(log, repo, "http://localhost:8080"),
	)
	router := handlers.Routes(handler, authManager, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotImplemented)
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	token, err := authManager.Login("gatekeeper")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return &testServer{server: srv, token: token}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, authed bool) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, ts.server.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	resp, err := ts.server.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func setupRun(t *testing.T, ts *testServer) services.MaterializedRun {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/api/setup", map[string]interface{}{
		"scenario":     scenarioYAML,
		"participants": 5,
	}, true)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("setup status = %d", resp.StatusCode)
	}
	var result services.MaterializedRun
	decodeBody(t, resp, &result)
	return result
}

func TestFacilitatorAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/reset", nil, false)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated reset: status = %d", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodPost, "/api/reset", nil, true)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("authenticated reset: status = %d", resp.StatusCode)
	}
}

func TestLoginEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/login", map[string]string{"password": "wrong"}, false)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("wrong password: status = %d", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodPost, "/api/login", map[string]string{"password": "gatekeeper"}, false)
	var body map[string]string
	decodeBody(t, resp, &body)
	if resp.StatusCode != http.StatusOK || body["token"] == "" {
		t.Errorf("login: status=%d token=%q", resp.StatusCode, body["token"])
	}
}

func TestSetupAndState(t *testing.T) {
	ts := newTestServer(t)
	result := setupRun(t, ts)

	if len(result.PhaseIDs) != 3 || len(result.RoleIDs) != 5 {
		t.Errorf("materialized = %+v", result)
	}

	resp := ts.do(t, http.MethodGet, "/api/state", nil, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("state status = %d", resp.StatusCode)
	}
	var state services.RunState
	decodeBody(t, resp, &state)
	if state.Run == nil || state.Run.ID != result.RunID {
		t.Errorf("state run = %+v", state.Run)
	}
	if len(state.Phases) != 3 || len(state.Clans) != 2 {
		t.Errorf("state shape: %d phases, %d clans", len(state.Phases), len(state.Clans))
	}

	// Bad scenario YAML gets a validation envelope.
	resp = ts.do(t, http.MethodPost, "/api/setup", map[string]interface{}{
		"scenario": "{not yaml", "participants": 2,
	}, true)
	var envelope struct {
		Error handlers.APIError `json:"error"`
	}
	decodeBody(t, resp, &envelope)
	if resp.StatusCode != http.StatusBadRequest || envelope.Error.Code != "validation" {
		t.Errorf("bad scenario: status=%d code=%q", resp.StatusCode, envelope.Error.Code)
	}
}

func TestPhaseEndpoints(t *testing.T) {
	ts := newTestServer(t)
	result := setupRun(t, ts)
	phaseID := result.PhaseIDs[0]

	resp := ts.do(t, http.MethodPost, fmt.Sprintf("/api/phases/%d/start", phaseID), nil, true)
	var phase models.Phase
	decodeBody(t, resp, &phase)
	if resp.StatusCode != http.StatusOK || phase.Status != models.PhaseActive {
		t.Fatalf("start: status=%d phase=%+v", resp.StatusCode, phase)
	}

	// Starting a second phase conflicts with a stable code.
	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/api/phases/%d/start", result.PhaseIDs[1]), nil, true)
	var envelope struct {
		Error handlers.APIError `json:"error"`
	}
	decodeBody(t, resp, &envelope)
	if resp.StatusCode != http.StatusConflict || envelope.Error.Code != "state_conflict" {
		t.Errorf("conflict: status=%d code=%q", resp.StatusCode, envelope.Error.Code)
	}

	// Remaining is public.
	resp = ts.do(t, http.MethodGet, fmt.Sprintf("/api/phases/%d/remaining", phaseID), nil, false)
	var remaining services.Remaining
	decodeBody(t, resp, &remaining)
	if !remaining.Running || remaining.Seconds <= 0 {
		t.Errorf("remaining = %+v", remaining)
	}

	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/api/phases/%d/extend", phaseID),
		map[string]int{"minutes": 5}, true)
	decodeBody(t, resp, &phase)
	if phase.EffectiveDurationSeconds() != 15*60 {
		t.Errorf("extended = %d", phase.EffectiveDurationSeconds())
	}

	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/api/phases/%d/end", phaseID), nil, true)
	decodeBody(t, resp, &phase)
	if phase.Status != models.PhaseCompleted {
		t.Errorf("end: %+v", phase)
	}
}

func TestElectionEndpoints(t *testing.T) {
	ts := newTestServer(t)
	result := setupRun(t, ts)

	resp := ts.do(t, http.MethodPost, "/api/elections", map[string]interface{}{
		"phase_id":           result.PhaseIDs[1],
		"scope":              "lawspeaker",
		"candidate_role_ids": []int64{result.RoleIDs[0], result.RoleIDs[1]},
		"duration_minutes":   5,
		"threshold":          1,
	}, true)
	var session models.VoteSession
	decodeBody(t, resp, &session)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status = %d", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/api/elections/%d/start", session.ID), nil, true)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: status = %d", resp.StatusCode)
	}

	// Ballot cast is public.
	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/api/elections/%d/vote", session.ID),
		map[string]interface{}{"voter_role_id": result.RoleIDs[2], "chosen_role_id": result.RoleIDs[0]}, false)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("vote: status = %d", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/api/elections/%d/stop", session.ID), nil, true)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("stop: status = %d", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/api/elections/%d/reveal", session.ID), nil, true)
	var voteResult models.VoteResult
	decodeBody(t, resp, &voteResult)
	if voteResult.WinnerRoleID == nil || *voteResult.WinnerRoleID != result.RoleIDs[0] {
		t.Errorf("winner = %v", voteResult.WinnerRoleID)
	}

	resp = ts.do(t, http.MethodGet, fmt.Sprintf("/api/elections/%d/next-round", session.ID), nil, true)
	var next map[string][]int64
	decodeBody(t, resp, &next)
	if len(next["candidate_role_ids"]) != 1 {
		t.Errorf("next round = %v", next)
	}
}

func TestClaimEndpoint(t *testing.T) {
	ts := newTestServer(t)
	setupRun(t, ts)

	// Fetch a claim token through the state endpoint.
	resp := ts.do(t, http.MethodGet, "/api/state", nil, false)
	var state services.RunState
	decodeBody(t, resp, &state)
	token := state.Roles[0].ClaimToken

	resp = ts.do(t, http.MethodPost, "/api/claim/"+token, map[string]string{"user_id": "user-a"}, false)
	var role models.Role
	decodeBody(t, resp, &role)
	if resp.StatusCode != http.StatusOK || role.AssignedUserID == nil {
		t.Fatalf("claim: status=%d role=%+v", resp.StatusCode, role)
	}

	// Second claim conflicts.
	resp = ts.do(t, http.MethodPost, "/api/claim/"+token, map[string]string{"user_id": "user-b"}, false)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("double claim: status = %d", resp.StatusCode)
	}

	// QR image for the same role, facilitator side.
	resp = ts.do(t, http.MethodGet, fmt.Sprintf("/api/roles/%d/qr", role.ID), nil, true)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Errorf("qr: status=%d type=%q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
}

func TestAllegianceEndpoints(t *testing.T) {
	ts := newTestServer(t)
	setupRun(t, ts)

	resp := ts.do(t, http.MethodPost, "/api/allegiance/start", map[string]int{"minutes": 5}, true)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("start: status = %d", resp.StatusCode)
	}

	// Find a role in the no-contingency clan for a plain oath vote.
	stateResp := ts.do(t, http.MethodGet, "/api/state", nil, false)
	var state services.RunState
	decodeBody(t, stateResp, &state)
	var plainRole int64 = -1
	for _, role := range state.Roles {
		for _, clan := range state.Clans {
			if clan.ID == role.ClanID && !clan.HasContingency {
				plainRole = role.ID
			}
		}
	}
	if plainRole < 0 {
		t.Fatal("no plain-clan role found")
	}

	resp = ts.do(t, http.MethodPost, "/api/allegiance/vote",
		map[string]interface{}{"role_id": plainRole, "oath": true}, false)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("vote: status = %d", resp.StatusCode)
	}

	// Missing oath answer.
	resp = ts.do(t, http.MethodPost, "/api/allegiance/vote",
		map[string]interface{}{"role_id": plainRole}, false)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing oath: status = %d", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodPost, "/api/allegiance/stop", nil, true)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("stop: status = %d", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodPost, "/api/allegiance/reveal", nil, true)
	var counts []services.ClanCounts
	decodeBody(t, resp, &counts)
	if resp.StatusCode != http.StatusOK || len(counts) != 2 {
		t.Errorf("reveal: status=%d counts=%v", resp.StatusCode, counts)
	}
}
