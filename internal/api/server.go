// Package api provides the local control API of a running node.
// The CLI talks to it for everything that needs the live swarm session:
// distributing tasks, fetching results and managing peers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/torrentnode/torrentnode/internal/domain"
	"github.com/torrentnode/torrentnode/internal/health"
)

// Node is the orchestrator surface the API needs. Implemented by node.Node.
type Node interface {
	NodeID() string
	Status() domain.NodeStatus
	Peers() []domain.PeerRecord
	Connect(ctx context.Context, addr string) error
	DistributeTask(ctx context.Context, spec domain.TaskSpec) (domain.PublishedTask, error)
	AwaitResult(ctx context.Context, taskID string, timeout time.Duration) (domain.ResultEnvelope, error)
	Result(taskID string) (*domain.ResultEnvelope, error)
}

// HealthReporter exposes the latest health check results.
type HealthReporter interface {
	Statuses() []health.Status
	IsHealthy() bool
}

// Server is the local control API server.
type Server struct {
	node           Node
	ledger         domain.Ledger
	health         HealthReporter
	log            *zap.Logger
	metricsEnabled bool
	maxWait        time.Duration
}

// NewServer creates a new API server. health may be nil.
func NewServer(n Node, ledger domain.Ledger, health HealthReporter, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		node:    n,
		ledger:  ledger,
		health:  health,
		log:     log.Named("api"),
		maxWait: 10 * time.Minute,
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewStructuredLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.maxWait + 30*time.Second))

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Get("/peers", s.handleListPeers)
		r.Post("/peers", s.handleConnectPeers)

		r.Post("/tasks", s.handleSubmitTask)
		r.Get("/tasks/{id}/result", s.handleTaskResult)

		r.Get("/balance", s.handleBalance)
		r.Get("/transactions", s.handleTransactions)
		r.Get("/leaderboard", s.handleLeaderboard)
		r.Get("/stats", s.handleStats)

		r.Get("/health/checks", s.handleHealthChecks)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// NewStructuredLogger returns a middleware that logs request details using Zap.
func NewStructuredLogger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Debug("request completed",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("remote_ip", r.RemoteAddr),
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
				)
			}()

			next.ServeHTTP(ww, r)
		}
		return http.HandlerFunc(fn)
	}
}

// ─── Node ───────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.node.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"node_id": st.NodeID,
		"state":   st.State,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.node.Status())
}

func (s *Server) handleListPeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.node.Peers())
}

// ConnectRequest lists multiaddrs to dial.
type ConnectRequest struct {
	Addrs []string `json:"addrs"`
}

// ConnectResult is the outcome of dialing one multiaddr.
type ConnectResult struct {
	Addr      string `json:"addr"`
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleConnectPeers(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errTypeValidation, "invalid request body: "+err.Error())
		return
	}
	if len(req.Addrs) == 0 {
		writeError(w, http.StatusBadRequest, errTypeValidation, "addrs is required")
		return
	}

	results := make([]ConnectResult, 0, len(req.Addrs))
	for _, addr := range req.Addrs {
		res := ConnectResult{Addr: addr}
		if err := s.node.Connect(r.Context(), addr); err != nil {
			if errors.Is(err, domain.ErrNodeNotRunning) {
				writeDomainError(w, err)
				return
			}
			res.Error = err.Error()
		} else {
			res.Connected = true
		}
		results = append(results, res)
	}
	writeJSON(w, http.StatusOK, results)
}

// ─── Tasks ──────────────────────────────────────────────────────────────────

// TaskRequest describes a task to distribute. With Wait set the call blocks
// until the result arrives or WaitSeconds elapse.
type TaskRequest struct {
	domain.TaskSpec
	Wait        bool `json:"wait,omitempty"`
	WaitSeconds int  `json:"wait_seconds,omitempty"`
}

// TaskResponse is returned by POST /v1/tasks.
type TaskResponse struct {
	Task   domain.PublishedTask   `json:"task"`
	Result *domain.ResultEnvelope `json:"result,omitempty"`
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errTypeValidation, "invalid request body: "+err.Error())
		return
	}

	pub, err := s.node.DistributeTask(r.Context(), req.TaskSpec)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := TaskResponse{Task: pub}

	if req.Wait {
		env, err := s.node.AwaitResult(r.Context(), pub.TaskID, s.waitFor(req.WaitSeconds))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		resp.Result = &env
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleTaskResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if raw := r.URL.Query().Get("wait"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs < 0 {
			writeError(w, http.StatusBadRequest, errTypeValidation, "wait must be a non-negative number of seconds")
			return
		}
		env, err := s.node.AwaitResult(r.Context(), id, s.waitFor(secs))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, env)
		return
	}

	env, err := s.node.Result(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if env == nil {
		writeJSON(w, http.StatusAccepted, map[string]string{
			"task_id": id,
			"status":  "pending",
		})
		return
	}
	writeJSON(w, http.StatusOK, env)
}

// waitFor caps a requested wait. Zero means the node's default.
func (s *Server) waitFor(secs int) time.Duration {
	d := time.Duration(secs) * time.Second
	if d > s.maxWait {
		d = s.maxWait
	}
	return d
}

// ─── Ledger ─────────────────────────────────────────────────────────────────

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	acct, err := s.ledger.Balance(r.Context(), s.address(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 10)
	if !ok {
		return
	}
	txs, err := s.ledger.Transactions(r.Context(), s.address(r), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 10)
	if !ok {
		return
	}
	entries, err := s.ledger.Leaderboard(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ledger.Statistics(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// address defaults to this node's own account.
func (s *Server) address(r *http.Request) string {
	if a := r.URL.Query().Get("address"); a != "" {
		return a
	}
	return s.node.NodeID()
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealthChecks(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]any{"healthy": true, "checks": []health.Status{}})
		return
	}
	status := http.StatusOK
	healthy := s.health.IsHealthy()
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"healthy": healthy,
		"checks":  s.health.Statuses(),
	})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func queryInt(w http.ResponseWriter, r *http.Request, key string, def int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		writeError(w, http.StatusBadRequest, errTypeValidation, key+" must be a positive integer")
		return 0, false
	}
	return v, true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, typ, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    typ,
		},
	})
}

func writeDomainError(w http.ResponseWriter, err error) {
	status, typ := classify(err)
	writeError(w, status, typ, err.Error())
}
