package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Marcelo060877/ict-tutor-pwa/internal/learning"
	"github.com/Marcelo060877/ict-tutor-pwa/internal/offline"
	"github.com/Marcelo060877/ict-tutor-pwa/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

const controlTimeout = 15 * time.Second

type SessionRequest struct {
	Answers      []learning.AnswerRecord `json:"answers"`
	StudyMinutes int                     `json:"study_minutes"`
}

type ProfilePatch struct {
	StudyGoal *string `json:"study_goal"`
	ExamDate  *string `json:"exam_date"` // "2006-01-02", empty string clears
}

type CacheURLsRequest struct {
	URLs []string `json:"urls"`
}

type MutationRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

type AppDeps struct {
	Store   *storage.Store
	Tracker *learning.Tracker
	Control *offline.Controller
	Worker  *offline.SyncWorker
	Hub     *offline.Hub
	Token   string // empty disables request authentication

	SyncMaxAttempts int
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	if deps.Token != "" {
		r.Use(BearerAuth(deps.Token))
	}

	r.Get("/health", handleHealth)

	r.Post("/sessions", handleRecordSession(deps))
	r.Get("/profile", handleGetProfile(deps))
	r.Patch("/profile", handlePatchProfile(deps))
	r.Post("/profile/reset", handleResetProfile(deps))
	r.Get("/summary", handleSummary(deps))
	r.Get("/recommendations", handleRecommendations(deps))
	r.Get("/study-plan", handleStudyPlan(deps))

	r.Get("/cache/version", handleCacheVersion(deps))
	r.Post("/cache/urls", handleCacheURLs(deps))
	r.Post("/cache/activate", handleCacheActivate(deps))
	r.Delete("/cache", handleClearCache(deps))

	r.Post("/sync/mutations", handleEnqueueMutation(deps))
	r.Get("/sync/status", handleSyncStatus(deps))
	r.Put("/sync/online", handleSetOnline(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleRecordSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req SessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Answers) == 0 && req.StudyMinutes == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one answer or study time is required")
			return
		}
		if req.StudyMinutes < 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "study_minutes must not be negative")
			return
		}
		for i, a := range req.Answers {
			if a.Topic == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "answer %d is missing a topic", i)
				return
			}
		}

		deps.Tracker.IngestSession(req.Answers, req.StudyMinutes)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(deps.Tracker.Summary())
	}
}

func handleGetProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(deps.Tracker.GetProfile())
	}
}

func handlePatchProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var patch ProfilePatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if patch.StudyGoal == nil && patch.ExamDate == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "nothing to update")
			return
		}

		var goal string
		if patch.StudyGoal != nil {
			goal = *patch.StudyGoal
		}

		var examDate *time.Time
		var clearDate bool
		if patch.ExamDate != nil {
			if *patch.ExamDate == "" {
				clearDate = true
			} else {
				d, err := time.Parse("2006-01-02", *patch.ExamDate)
				if err != nil {
					httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid exam_date: %v", err)
					return
				}
				examDate = &d
			}
		}

		if err := deps.Tracker.SetStudyGoal(goal, examDate, clearDate); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update profile: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "updated"})
	}
}

func handleResetProfile(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Tracker.Reset(); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to reset profile: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "reset"})
	}
}

func handleSummary(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(deps.Tracker.Summary())
	}
}

func handleRecommendations(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recs := deps.Tracker.Recommendations()
		if recs == nil {
			recs = []learning.Recommendation{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(recs)
	}
}

func handleStudyPlan(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var targetDate *time.Time
		if s := r.URL.Query().Get("target_date"); s != "" {
			d, err := time.Parse("2006-01-02", s)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid target_date: %v", err)
				return
			}
			targetDate = &d
		}

		hoursPerDay := 0.0
		if s := r.URL.Query().Get("hours_per_day"); s != "" {
			h, err := strconv.ParseFloat(s, 64)
			if err != nil || h < 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid hours_per_day")
				return
			}
			hoursPerDay = h
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(deps.Tracker.StudyPlan(targetDate, hoursPerDay))
	}
}

// sendControl delivers a control message and waits for its reply.
func sendControl(ctx context.Context, control *offline.Controller, msg offline.Message) (offline.Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, controlTimeout)
	defer cancel()

	if err := control.Send(ctx, msg); err != nil {
		return offline.Reply{}, fmt.Errorf("sending control message: %w", err)
	}
	select {
	case reply := <-msg.Reply:
		return reply, nil
	case <-ctx.Done():
		return offline.Reply{}, ctx.Err()
	}
}

func handleCacheVersion(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msg := offline.Message{Type: offline.MsgGetVersion, Reply: make(chan offline.Reply, 1)}
		reply, err := sendControl(r.Context(), deps.Control, msg)
		if err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "cache manager unavailable: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"version": reply.Version})
	}
}

func handleCacheURLs(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req CacheURLsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.URLs) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "urls is required and must not be empty")
			return
		}

		msg := offline.Message{Type: offline.MsgCacheURLs, URLs: req.URLs, Reply: make(chan offline.Reply, 1)}
		reply, err := sendControl(r.Context(), deps.Control, msg)
		if err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "cache manager unavailable: %v", err)
			return
		}
		if reply.Type == offline.ReplyCacheError {
			httpError(w, http.StatusBadGateway, "api_error", "caching urls: %v", reply.Err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"status": "cached", "urls": reply.URLs})
	}
}

func handleCacheActivate(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), controlTimeout)
		defer cancel()

		if err := deps.Control.Send(ctx, offline.Message{Type: offline.MsgSkipWaiting}); err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "cache manager unavailable: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "activating"})
	}
}

func handleClearCache(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msg := offline.Message{Type: offline.MsgClearCache, Reply: make(chan offline.Reply, 1)}
		if _, err := sendControl(r.Context(), deps.Control, msg); err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "cache manager unavailable: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "cleared"})
	}
}

func handleEnqueueMutation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req MutationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Method == "" || req.URL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "method and url are required")
			return
		}

		headersJSON := ""
		if len(req.Headers) > 0 {
			headers := make(map[string][]string, len(req.Headers))
			for k, v := range req.Headers {
				headers[k] = []string{v}
			}
			b, err := json.Marshal(headers)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to marshal headers: %v", err)
				return
			}
			headersJSON = string(b)
		}

		mut := storage.Mutation{
			ID:          uuid.New().String(),
			Method:      req.Method,
			URL:         req.URL,
			HeadersJSON: headersJSON,
			Body:        []byte(req.Body),
			MaxAttempts: deps.SyncMaxAttempts,
		}
		if err := deps.Store.EnqueueMutation(mut); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue mutation: %v", err)
			return
		}

		// Replay immediately when the network is already up.
		if deps.Worker != nil && (deps.Hub == nil || deps.Hub.Online()) {
			deps.Worker.Wake()
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"id":     mut.ID,
			"status": "queued",
		})
	}
}

func handleSyncStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		pending, err := deps.Store.PendingMutations(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list pending mutations: %v", err)
			return
		}
		if pending == nil {
			pending = []storage.Mutation{}
		}

		online := true
		if deps.Hub != nil {
			online = deps.Hub.Online()
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"online":  online,
			"pending": pending,
		})
	}
}

func handleSetOnline(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			Online *bool `json:"online"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Online == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "online is required")
			return
		}

		deps.Hub.Set(*req.Online)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"online": *req.Online})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
