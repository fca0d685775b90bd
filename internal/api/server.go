package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"habitloop/internal/config"
	"habitloop/internal/credits"
	"habitloop/internal/events"
	"habitloop/internal/models"
	"habitloop/internal/queue"
	"habitloop/internal/ratelimit"
	"habitloop/internal/store"
	"habitloop/internal/streaks"
	"habitloop/internal/telemetry"
)

// Server wires HTTP handlers for producers (request handlers enqueuing
// work, mutating tasks, consuming credits) and operators (dead jobs).
type Server struct {
	cfg     config.Config
	store   *store.Store
	queue   *queue.Queue
	limiter *ratelimit.TokenBucket
	bus     *events.Bus
	logger  *zap.Logger
}

// New constructs the API server.
func New(cfg config.Config, st *store.Store, q *queue.Queue, limiter *ratelimit.TokenBucket, bus *events.Bus, logger *zap.Logger) *Server {
	return &Server{
		cfg:     cfg,
		store:   st,
		queue:   q,
		limiter: limiter,
		bus:     bus,
		logger:  logger,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/jobs", s.handleEnqueue)
	r.Get("/jobs/dead", s.handleDeadJobs)
	r.Get("/jobs/{id}", s.handleGetJob)

	r.Post("/tasks", s.handleCreateTask)
	r.Get("/tasks/{id}", s.handleGetTask)
	r.Patch("/tasks/{id}", s.handleMutateTask)
	r.Post("/tasks/{id}/complete", s.handleCompleteTask)

	r.Get("/users/{userID}/credits", s.handleGetBalance)
	r.Post("/users/{userID}/credits/consume", s.handleConsume)
	r.Post("/users/{userID}/credits/grant", s.handleGrant)
	r.Get("/users/{userID}/streak", s.handleGetStreak)

	return r
}

type enqueueRequest struct {
	Type           string         `json:"type"`
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotency_key"`
	RunAfter       *time.Time     `json:"run_after"`
	DelaySeconds   int            `json:"delay_seconds"`
	MaxAttempts    int            `json:"max_attempts"`
}

type enqueueResponse struct {
	Job        models.Job `json:"job"`
	Idempotent bool       `json:"idempotent"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if !validJobType(req.Type) {
		http.Error(w, "unknown job type", http.StatusBadRequest)
		return
	}
	runAfter := time.Now().UTC()
	if req.RunAfter != nil {
		runAfter = *req.RunAfter
	}
	if req.DelaySeconds > 0 {
		runAfter = time.Now().UTC().Add(time.Duration(req.DelaySeconds) * time.Second)
	}
	if req.MaxAttempts == 0 {
		req.MaxAttempts = s.cfg.MaxAttempts
	}

	if !s.allow(w, r, "rl:enqueue:"+callerFromRequest(r)) {
		return
	}

	job, idempotent, err := s.queue.Enqueue(r.Context(), queue.EnqueueParams{
		Type:           req.Type,
		Payload:        req.Payload,
		RunAfter:       runAfter,
		MaxAttempts:    req.MaxAttempts,
		IdempotencyKey: req.IdempotencyKey,
		IdempotencyTTL: s.cfg.IdempotencyTTL,
	})
	if err != nil {
		s.logger.Error("enqueue failed", zap.String("type", req.Type), zap.Error(err))
		http.Error(w, "enqueue failed", http.StatusInternalServerError)
		return
	}
	if !idempotent {
		telemetry.EnqueueCounter.Inc()
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{Job: job, Idempotent: idempotent})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleDeadJobs exposes dead jobs to operators; end users never see
// them because the request that enqueued a job has long since returned.
func (s *Server) handleDeadJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.queue.DeadJobs(r.Context(), 100)
	if err != nil {
		http.Error(w, "failed to read dead jobs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": jobs})
}

type createTaskRequest struct {
	UserID  string     `json:"user_id"`
	Title   string     `json:"title"`
	DueDate *time.Time `json:"due_date"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.Title == "" {
		http.Error(w, "user_id and title are required", http.StatusBadRequest)
		return
	}
	task, err := s.store.CreateTask(r.Context(), store.CreateTaskParams{
		UserID:  req.UserID,
		Title:   req.Title,
		DueDate: req.DueDate,
	})
	if err != nil {
		s.logger.Error("create task failed", zap.Error(err))
		http.Error(w, "create task failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "load task failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type mutateTaskRequest struct {
	Version int64              `json:"version"`
	Changes models.TaskChanges `json:"changes"`
}

// handleMutateTask is the single guarded mutation path. A stale
// version gets 409 so the UI can re-fetch and retry; this core never
// retries version conflicts itself.
func (s *Server) handleMutateTask(w http.ResponseWriter, r *http.Request) {
	var req mutateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Changes.Empty() {
		http.Error(w, "no changes provided", http.StatusBadRequest)
		return
	}
	s.applyMutation(w, r, chi.URLParam(r, "id"), req.Version, req.Changes)
}

type completeTaskRequest struct {
	Version int64 `json:"version"`
}

// handleCompleteTask is the force-complete convenience: the same
// guarded path with fixed changes, not a bypass.
func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	var req completeTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	completed := true
	now := time.Now().UTC()
	s.applyMutation(w, r, chi.URLParam(r, "id"), req.Version, models.TaskChanges{
		Completed:   &completed,
		CompletedAt: &now,
	})
}

func (s *Server) applyMutation(w http.ResponseWriter, r *http.Request, taskID string, version int64, changes models.TaskChanges) {
	before, err := s.store.GetTask(r.Context(), taskID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "load task failed", http.StatusInternalServerError)
		return
	}

	task, err := s.store.ApplyTaskMutation(r.Context(), taskID, version, changes)
	if errors.Is(err, store.ErrVersionConflict) {
		telemetry.VersionConflicts.Inc()
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("task mutation failed", zap.String("task_id", taskID), zap.Error(err))
		http.Error(w, "mutation failed", http.StatusInternalServerError)
		return
	}

	if !before.Completed && task.Completed {
		s.onTaskCompleted(r, task)
	}
	writeJSON(w, http.StatusOK, task)
}

// onTaskCompleted publishes the completion event and enqueues the
// follow-up jobs. Enqueue idempotency keys keep double-submits from
// producing duplicate work.
func (s *Server) onTaskCompleted(r *http.Request, task models.Task) {
	ctx := r.Context()
	day := streaks.Day(time.Now().UTC()).Format("2006-01-02")

	s.bus.Publish(ctx, events.Event{
		Type:   events.TaskCompleted,
		UserID: task.UserID,
		Fields: map[string]any{"task_id": task.ID},
	})

	if _, _, err := s.queue.Enqueue(ctx, queue.EnqueueParams{
		Type:           models.JobStreakCalculate,
		Payload:        map[string]any{"user_id": task.UserID, "date": day},
		MaxAttempts:    s.cfg.MaxAttempts,
		IdempotencyKey: fmt.Sprintf("streak:%s:%s", task.UserID, day),
		IdempotencyTTL: s.cfg.IdempotencyTTL,
	}); err != nil {
		s.logger.Error("enqueue streak_calculate failed", zap.String("user_id", task.UserID), zap.Error(err))
	}

	if task.TemplateID != nil {
		if _, _, err := s.queue.Enqueue(ctx, queue.EnqueueParams{
			Type:           models.JobRecurringTaskGenerate,
			Payload:        map[string]any{"task_id": task.ID, "template_id": *task.TemplateID},
			MaxAttempts:    s.cfg.MaxAttempts,
			IdempotencyKey: fmt.Sprintf("recur:%s", task.ID),
			IdempotencyTTL: s.cfg.IdempotencyTTL,
		}); err != nil {
			s.logger.Error("enqueue recurring_task_generate failed", zap.String("task_id", task.ID), zap.Error(err))
		}
	}
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.store.GetBalance(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		http.Error(w, "balance query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

type consumeRequest struct {
	Amount int64 `json:"amount"`
}

func (s *Server) handleConsume(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var req consumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Amount <= 0 {
		http.Error(w, "amount must be positive", http.StatusBadRequest)
		return
	}
	if !s.allow(w, r, "rl:consume:"+userID) {
		return
	}

	breakdown, err := s.store.Consume(r.Context(), userID, req.Amount)
	if errors.Is(err, credits.ErrInsufficientBalance) {
		telemetry.InsufficientBalance.Inc()
		http.Error(w, err.Error(), http.StatusPaymentRequired)
		return
	}
	if err != nil {
		s.logger.Error("consume failed", zap.String("user_id", userID), zap.Error(err))
		http.Error(w, "consume failed", http.StatusInternalServerError)
		return
	}

	telemetry.CreditsConsumed.Add(float64(req.Amount))
	s.bus.Publish(r.Context(), events.Event{
		Type:   events.CreditConsumed,
		UserID: userID,
		Fields: map[string]any{"amount": req.Amount, "breakdown": breakdown},
	})
	writeJSON(w, http.StatusOK, map[string]any{"consumed": req.Amount, "breakdown": breakdown})
}

type grantRequest struct {
	Bucket    models.Bucket `json:"bucket"`
	Amount    int64         `json:"amount"`
	ExpiresAt *time.Time    `json:"expires_at"`
}

// handleGrant is the entry point for grant events produced by external
// collaborators (subscription renewal, signup bonus, purchase).
func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	entry, err := s.store.GrantCredits(r.Context(), store.GrantCreditsParams{
		UserID:    userID,
		Bucket:    req.Bucket,
		Amount:    req.Amount,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleGetStreak(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.GetStreak(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		http.Error(w, "streak query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// allow applies the token bucket at unit cost, writing the rejection
// when denied.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, key string) bool {
	if s.limiter == nil {
		return true
	}
	allowed, _, err := s.limiter.Allow(r.Context(), key)
	if err != nil {
		http.Error(w, "rate limit error", http.StatusInternalServerError)
		return false
	}
	if !allowed {
		telemetry.RateLimitRejects.Inc()
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return false
	}
	return true
}

func validJobType(t string) bool {
	for _, known := range models.AllJobTypes {
		if t == known {
			return true
		}
	}
	return false
}

func callerFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-User-ID"); v != "" {
		return v
	}
	return "default"
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
