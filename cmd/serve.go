package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hps-group/dealengine/internal/model"
	"github.com/hps-group/dealengine/internal/policy"
	"github.com/hps-group/dealengine/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the underwriting HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		defaults, err := loadPolicyDefaults()
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limiter := rate.NewLimiter(rate.Limit(cfg.Server.RatePerSecond), cfg.Server.RateBurst)
		api := &apiServer{st: st, defaults: defaults}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.routes(limiter),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// apiServer carries the HTTP API's dependencies.
type apiServer struct {
	st       store.Store
	defaults *model.PolicyDefaults
}

func (a *apiServer) routes(limiter *rate.Limiter) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	if limiter != nil {
		r.Use(rateLimit(limiter))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/analyze", a.handleAnalyze)
		r.Post("/runs", a.handleCreateRun)
		r.Get("/runs", a.handleListRuns)
		r.Get("/runs/{id}", a.handleGetRun)
		r.Post("/overrides", a.handleCreateOverride)
		r.Get("/overrides", a.handleListOverrides)
		r.Post("/overrides/{id}/decide", a.handleDecideOverride)
	})

	return r
}

// rateLimit rejects requests beyond the shared token bucket with 429.
func rateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type analyzeRequest struct {
	OrgID     string      `json:"org_id,omitempty"`
	Posture   string      `json:"posture,omitempty"`
	Deal      *model.Deal `json:"deal"`
	CreatedBy string      `json:"created_by,omitempty"`
	Save      bool        `json:"save,omitempty"`
}

func (a *apiServer) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Deal == nil {
		writeError(w, http.StatusBadRequest, "deal is required")
		return
	}
	posture := model.Posture(req.Posture)
	if req.Posture == "" {
		posture = model.PostureBase
	}
	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = "api"
	}

	outcome, err := runAnalysis(r.Context(), a.st, a.defaults, analysisRequest{
		OrgID:   req.OrgID,
		Posture: posture,
		Deal:    req.Deal,
		By:      createdBy,
		Save:    req.Save,
		Source:  "api",
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := map[string]any{"result": outcome.Result}
	if outcome.Run != nil {
		resp["run_id"] = outcome.Run.ID
		resp["deduped"] = outcome.Deduped
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCreateRun is analyze with persistence required: the run is always
// saved, and a dedupe hit returns the prior row rather than a new one.
func (a *apiServer) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Deal == nil {
		writeError(w, http.StatusBadRequest, "deal is required")
		return
	}
	posture := model.Posture(req.Posture)
	if req.Posture == "" {
		posture = model.PostureBase
	}
	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = "api"
	}

	outcome, err := runAnalysis(r.Context(), a.st, a.defaults, analysisRequest{
		OrgID:   req.OrgID,
		Posture: posture,
		Deal:    req.Deal,
		By:      createdBy,
		Save:    true,
		Source:  "api",
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status := http.StatusCreated
	if outcome.Deduped {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"run":     outcome.Run,
		"deduped": outcome.Deduped,
	})
}

func (a *apiServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		OrgID:   q.Get("org"),
		Posture: model.Posture(q.Get("posture")),
		DealID:  q.Get("deal"),
		Limit:   intQuery(q.Get("limit")),
		Offset:  intQuery(q.Get("offset")),
	}

	runs, err := a.st.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list runs failed")
		zap.L().Error("list runs", zap.Error(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (a *apiServer) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := a.st.GetRun(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get run failed")
		zap.L().Error("get run", zap.Error(err))
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (a *apiServer) handleCreateOverride(w http.ResponseWriter, r *http.Request) {
	var o model.PolicyOverride
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if o.OrgID == "" {
		o.OrgID = a.defaults.OrgID
	}

	req, err := policy.NewOverrideRequest(o)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := a.st.CreateOverride(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "create override failed")
		zap.L().Error("create override", zap.Error(err))
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *apiServer) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	overrides, err := a.st.ListOverrides(r.Context(), store.OverrideFilter{
		OrgID:   q.Get("org"),
		Posture: model.Posture(q.Get("posture")),
		Status:  model.OverrideStatus(q.Get("status")),
		Limit:   intQuery(q.Get("limit")),
		Offset:  intQuery(q.Get("offset")),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list overrides failed")
		zap.L().Error("list overrides", zap.Error(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"overrides": overrides})
}

type decideRequest struct {
	Approve   bool   `json:"approve"`
	DecidedBy string `json:"decided_by"`
	Role      string `json:"role"`
}

func (a *apiServer) handleDecideOverride(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	decision := policy.Decision{
		OverrideID: id,
		Approve:    req.Approve,
		DecidedBy:  req.DecidedBy,
		Role:       req.Role,
	}
	if err := policy.ValidateDecision(decision, a.defaults.ApprovalRoles); err != nil {
		if errors.Is(err, policy.ErrRoleNotAllowed) {
			writeError(w, http.StatusForbidden, "role not authorized to decide overrides")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status := model.OverrideStatusRejected
	if req.Approve {
		status = model.OverrideStatusApproved
	}

	decided, err := a.st.DecideOverride(r.Context(), id, status, req.DecidedBy)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "override not found")
		return
	case errors.Is(err, store.ErrAlreadyDecided):
		writeError(w, http.StatusConflict, "override already decided")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "decide override failed")
		zap.L().Error("decide override", zap.Error(err))
		return
	}
	writeJSON(w, http.StatusOK, decided)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func intQuery(s string) int {
	var n int
	_, _ = fmt.Sscanf(s, "%d", &n)
	return n
}
