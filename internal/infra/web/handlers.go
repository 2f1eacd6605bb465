package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"subsearch-pipeline/internal/domain"
	"subsearch-pipeline/internal/domain/model"
	"subsearch-pipeline/internal/infra/logging"

	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 16

type submitRequest struct {
	Keyword           string             `json:"keyword"`
	Limit             int                `json:"limit"`
	UnmoderatedOnly   bool               `json:"unmoderated_only"`
	ExcludeNSFW       bool               `json:"exclude_nsfw"`
	MinSubscribers    int64              `json:"min_subscribers"`
	ActivityMode      model.ActivityMode `json:"activity_mode"`
	ActivityThreshold *time.Time         `json:"activity_threshold"`
}

func (r submitRequest) params() model.JobParams {
	return model.JobParams{
		Keyword:           r.Keyword,
		Limit:             r.Limit,
		UnmoderatedOnly:   r.UnmoderatedOnly,
		ExcludeNSFW:       r.ExcludeNSFW,
		MinSubscribers:    r.MinSubscribers,
		ActivityMode:      r.ActivityMode,
		ActivityThreshold: r.ActivityThreshold,
	}
}

type submitResponse struct {
	JobID         string         `json:"job_id"`
	State         model.JobState `json:"state"`
	QueuePosition *int           `json:"queue_position,omitempty"`
	ETASeconds    *int64         `json:"eta_seconds,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := s.sched.Submit(r.Context(), model.SourceManual, model.PriorityInteractive, req.params())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	resp := submitResponse{JobID: id, State: model.JobStateQueued}
	if v, err := s.sched.Status(r.Context(), id); err == nil {
		resp.State, resp.QueuePosition, resp.ETASeconds = v.State, v.QueuePosition, v.ETASeconds
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	v, err := s.sched.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.sched.Cancel(r.Context(), id) {
		writeError(w, http.StatusNotFound, "job is not queued or running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": id, "cancelled": true})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	items := s.sched.ListQueue()
	if items == nil {
		items = []model.QueueItem{}
	}
	writeJSON(w, http.StatusOK, struct {
		Items []model.QueueItem `json:"items"`
		Stats model.QueueStats  `json:"stats"`
	}{items, s.sched.Stats()})
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	q, err := parseRecordQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := s.records.Query(r.Context(), q)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	store, err := s.records.Stats(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Queue      model.QueueStats `json:"queue"`
		Store      model.StoreStats `json:"store"`
		ETASeconds int64            `json:"eta_seconds_per_job"`
	}{s.sched.Stats(), store, int64(s.sched.Estimate() / time.Second)})
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("X-API-Key")
	if key == "" {
		var body struct {
			APIKey string `json:"api_key"`
		}
		_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body)
		key = body.APIKey
	}
	if !s.auth.CheckAPIKey(key) {
		logging.With(r.Context(), s.log).Warn().Str("remote", r.RemoteAddr).Msg("admin token rejected")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	tok, exp, err := s.auth.Mint(w)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": tok, "expires_at": exp.UTC()})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.auth.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReap(w http.ResponseWriter, r *http.Request) {
	ids := s.reaper.Reap(r.Context(), s.now())
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reaped": ids})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseRecordQuery(r *http.Request) (model.RecordQuery, error) {
	v := r.URL.Query()
	q := model.RecordQuery{
		Q:    strings.TrimSpace(v.Get("q")),
		Sort: model.SortField(v.Get("sort")),
		Desc: !strings.EqualFold(v.Get("order"), "asc"),
	}
	var err error
	if q.Unmoderated, err = optBool(v.Get("unmoderated")); err != nil {
		return q, fmt.Errorf("unmoderated: %w", err)
	}
	if q.NSFW, err = optBool(v.Get("nsfw")); err != nil {
		return q, fmt.Errorf("nsfw: %w", err)
	}
	if q.MinSubscribers, err = optInt64(v.Get("min_subscribers")); err != nil {
		return q, fmt.Errorf("min_subscribers: %w", err)
	}
	if q.MaxSubscribers, err = optInt64(v.Get("max_subscribers")); err != nil {
		return q, fmt.Errorf("max_subscribers: %w", err)
	}
	if p := v.Get("page"); p != "" {
		if q.Page, err = strconv.Atoi(p); err != nil {
			return q, fmt.Errorf("page: %w", err)
		}
	}
	if p := v.Get("page_size"); p != "" {
		if q.PageSize, err = strconv.Atoi(p); err != nil {
			return q, fmt.Errorf("page_size: %w", err)
		}
	}
	q.Normalize()
	return q, nil
}

func optBool(s string) (*bool, error) {
	if s == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func optInt64(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrSchedulerClosed):
		writeError(w, http.StatusServiceUnavailable, "scheduler is shutting down")
	default:
		logging.With(r.Context(), s.log).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
