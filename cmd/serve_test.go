package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/hps-group/dealengine/internal/model"
	"github.com/hps-group/dealengine/internal/store"
)

func fptr(v float64) *float64 { return &v }

func apiDefaults() *model.PolicyDefaults {
	return &model.PolicyDefaults{
		OrgID:         "org-1",
		Version:       "2026-08",
		ApprovalRoles: []string{"manager", "vp"},
		Global: model.PolicyValues{
			AIVCapPct:                  fptr(0.97),
			CarryMonthsCap:             fptr(6),
			HoldCostPerMonth:           fptr(1200),
			ListCommissionPct:          fptr(0.03),
			ConcessionsPct:             fptr(0.01),
			SellClosePct:               fptr(0.02),
			FlipMarginPct:              fptr(0.25),
			WholetailMarginPct:         fptr(0.15),
			ContingencyByClass:         map[string]float64{"moderate": 0.15},
			MinSpreadBands:             []model.SpreadBand{{MinARV: 0, MinSpreadDollars: 15000}},
			InvestorDiscountP20Pct:     fptr(0.25),
			InvestorDiscountTypicalPct: fptr(0.18),
			RetainedEquityPct:          fptr(0.05),
			MoveOutCashDefault:         fptr(3000),
			MoveOutCashMin:             fptr(1000),
			MoveOutCashMax:             fptr(5000),
			CashGateMin:                fptr(10000),
			BorderlineBandWidth:        fptr(5000),
		},
	}
}

func apiDeal() *model.Deal {
	return &model.Deal{
		ID:    "deal-1",
		OrgID: "org-1",
		Market: model.Market{
			AIV:    fptr(300000),
			ARV:    fptr(390000),
			DOMZip: fptr(90),
			MOIZip: fptr(4),
		},
		Costs: model.Costs{
			RepairsBase: fptr(40000),
			RepairClass: "moderate",
		},
		Debt: model.Debt{Payoff: fptr(180000)},
	}
}

func newTestServer(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()
	st := store.NewMemory()
	api := &apiServer{st: st, defaults: apiDefaults()}
	srv := httptest.NewServer(api.routes(nil))
	t.Cleanup(srv.Close)
	return srv, st
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestAPI_Health(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestAPI_Analyze(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/analyze", analyzeRequest{
		Posture: "base",
		Deal:    apiDeal(),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Result struct {
			Outputs struct {
				MAO            *float64 `json:"mao"`
				WorkflowState  string   `json:"workflow_state"`
				CashGateStatus string   `json:"cash_gate_status"`
			} `json:"outputs"`
			Trace []model.TraceFrame `json:"trace"`
		} `json:"result"`
		RunID string `json:"run_id"`
	}
	decodeBody(t, resp, &body)
	require.NotNil(t, body.Result.Outputs.MAO)
	assert.Equal(t, "ReadyForOffer", body.Result.Outputs.WorkflowState)
	assert.NotEmpty(t, body.Result.Trace)
	assert.Empty(t, body.RunID, "no run persisted without save")
}

func TestAPI_CreateRun(t *testing.T) {
	srv, _ := newTestServer(t)
	req := analyzeRequest{Posture: "base", Deal: apiDeal(), CreatedBy: "analyst@example.com"}

	resp := postJSON(t, srv.URL+"/v1/runs", req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body struct {
		Run     *model.RunRow `json:"run"`
		Deduped bool          `json:"deduped"`
	}
	decodeBody(t, resp, &body)
	require.NotNil(t, body.Run)
	assert.False(t, body.Deduped)
	assert.Equal(t, "api", body.Run.Input.Meta.Source)

	// The same deal under the same policy dedupes with a 200.
	resp = postJSON(t, srv.URL+"/v1/runs", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var second struct {
		Run     *model.RunRow `json:"run"`
		Deduped bool          `json:"deduped"`
	}
	decodeBody(t, resp, &second)
	assert.True(t, second.Deduped)
	assert.Equal(t, body.Run.ID, second.Run.ID)
}

func TestAPI_AnalyzeSaveIsIdempotent(t *testing.T) {
	srv, _ := newTestServer(t)

	req := analyzeRequest{Posture: "base", Deal: apiDeal(), Save: true, CreatedBy: "analyst@example.com"}

	var first struct {
		RunID   string `json:"run_id"`
		Deduped bool   `json:"deduped"`
	}
	resp := postJSON(t, srv.URL+"/v1/analyze", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &first)
	require.NotEmpty(t, first.RunID)
	assert.False(t, first.Deduped)

	var second struct {
		RunID   string `json:"run_id"`
		Deduped bool   `json:"deduped"`
	}
	resp = postJSON(t, srv.URL+"/v1/analyze", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &second)
	assert.Equal(t, first.RunID, second.RunID)
	assert.True(t, second.Deduped)
}

func TestAPI_AnalyzeRejectsBadRequests(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/v1/analyze", "application/json", bytes.NewReader([]byte("not json")))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/v1/analyze", analyzeRequest{Posture: "base"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/v1/analyze", analyzeRequest{Posture: "reckless", Deal: apiDeal()})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_RunsListAndGet(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/analyze", analyzeRequest{Posture: "base", Deal: apiDeal(), Save: true})
	var saved struct {
		RunID string `json:"run_id"`
	}
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &saved)
	require.NotEmpty(t, saved.RunID)

	listResp, err := http.Get(srv.URL + "/v1/runs?org=org-1&posture=base")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, listResp.StatusCode)
	var list struct {
		Runs []model.RunRow `json:"runs"`
	}
	decodeBody(t, listResp, &list)
	require.Len(t, list.Runs, 1)
	assert.Equal(t, saved.RunID, list.Runs[0].ID)

	getResp, err := http.Get(srv.URL + "/v1/runs/" + saved.RunID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, getResp.StatusCode)
	var run model.RunRow
	decodeBody(t, getResp, &run)
	assert.Equal(t, "deal-1", run.DealID)
	assert.NotEmpty(t, run.InputHash)

	missing, err := http.Get(srv.URL + "/v1/runs/nonexistent")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestAPI_OverrideLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	createResp := postJSON(t, srv.URL+"/v1/overrides", model.PolicyOverride{
		Posture:       model.PostureBase,
		TokenKey:      "aiv_cap_pct",
		NewValue:      json.RawMessage(`0.95`),
		Justification: "storm exposure",
		RequestedBy:   "analyst@example.com",
	})
	require.Equal(t, http.StatusCreated, createResp.StatusCode)
	var created model.PolicyOverride
	decodeBody(t, createResp, &created)
	assert.Equal(t, "org-1", created.OrgID, "org defaults from policy document")
	assert.Equal(t, model.OverrideStatusPending, created.Status)

	// Unauthorized role cannot decide.
	forbidden := postJSON(t, srv.URL+"/v1/overrides/"+created.ID+"/decide",
		decideRequest{Approve: true, DecidedBy: "intern@example.com", Role: "analyst"})
	forbidden.Body.Close()
	assert.Equal(t, http.StatusForbidden, forbidden.StatusCode)

	// Approve.
	approve := postJSON(t, srv.URL+"/v1/overrides/"+created.ID+"/decide",
		decideRequest{Approve: true, DecidedBy: "mia@example.com", Role: "manager"})
	require.Equal(t, http.StatusOK, approve.StatusCode)
	var decided model.PolicyOverride
	decodeBody(t, approve, &decided)
	assert.Equal(t, model.OverrideStatusApproved, decided.Status)

	// Second decision conflicts.
	again := postJSON(t, srv.URL+"/v1/overrides/"+created.ID+"/decide",
		decideRequest{Approve: false, DecidedBy: "vic@example.com", Role: "vp"})
	again.Body.Close()
	assert.Equal(t, http.StatusConflict, again.StatusCode)

	// The approved override now shapes analysis.
	listResp, err := http.Get(srv.URL + "/v1/overrides?status=approved")
	require.NoError(t, err)
	var list struct {
		Overrides []model.PolicyOverride `json:"overrides"`
	}
	decodeBody(t, listResp, &list)
	require.Len(t, list.Overrides, 1)
}

func TestAPI_OverrideValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/overrides", model.PolicyOverride{
		Posture:     model.PostureBase,
		TokenKey:    "made_up_token",
		NewValue:    json.RawMessage(`1`),
		RequestedBy: "analyst@example.com",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	missing := postJSON(t, srv.URL+"/v1/overrides/nonexistent/decide",
		decideRequest{Approve: true, DecidedBy: "mia@example.com", Role: "manager"})
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestAPI_RateLimit(t *testing.T) {
	st := store.NewMemory()
	api := &apiServer{st: st, defaults: apiDefaults()}
	srv := httptest.NewServer(api.routes(rate.NewLimiter(rate.Limit(1), 2)))
	defer srv.Close()

	var tooMany int
	for i := 0; i < 5; i++ {
		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			tooMany++
		}
	}
	assert.Greater(t, tooMany, 0, "burst of 2 cannot admit 5 immediate requests")
}

func TestIntQuery(t *testing.T) {
	assert.Equal(t, 0, intQuery(""))
	assert.Equal(t, 25, intQuery("25"))
	assert.Equal(t, 0, intQuery("abc"))
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "12345678", truncateID("123456789abc"))
	assert.Equal(t, "short", truncateID("short"))
}
