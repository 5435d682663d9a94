package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/asandberg/crawltask/internal/crawl"
)

const defaultSyncTimeout = 60 * time.Second

type crawlRequest struct {
	URL    string        `json:"url"`
	Config *crawl.Config `json:"config"`
}

type batchRequest struct {
	URLs   []string      `json:"urls"`
	Config *crawl.Config `json:"config"`
}

type syncRequest struct {
	URL            string        `json:"url"`
	Config         *crawl.Config `json:"config"`
	TimeoutSeconds int           `json:"timeout"`
}

// resolveConfig produces the effective task config: the service default
// when the client sent none, otherwise the client's options with
// defaults filled and bounds enforced.
func resolveConfig(in *crawl.Config) (crawl.Config, error) {
	if in == nil {
		return crawl.DefaultConfig(), nil
	}
	cfg := in.Clone()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return crawl.Config{}, err
	}
	return cfg, nil
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := crawl.ValidateTargetURL(req.URL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg, err := resolveConfig(req.Config)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	task, err := s.registry.Submit(req.URL, cfg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.executor.Dispatch(s.baseCtx, task.ID)
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) createBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "urls is required")
		return
	}
	if max := s.cfg.Crawler.BatchMaxURLs; len(req.URLs) > max {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("batch exceeds maximum of %d urls", max))
		return
	}
	for _, u := range req.URLs {
		if err := crawl.ValidateTargetURL(u); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	cfg, err := resolveConfig(req.Config)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	taskIDs := make([]string, 0, len(req.URLs))
	for _, u := range req.URLs {
		task, err := s.registry.Submit(u, cfg)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.executor.Dispatch(s.baseCtx, task.ID)
		taskIDs = append(taskIDs, task.ID)
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"batch_id": uuid.NewString(),
		"task_ids": taskIDs,
		"total":    len(taskIDs),
	})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	var statusFilter *crawl.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := crawl.Status(raw)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status "+raw)
			return
		}
		statusFilter = &status
	}
	limit := queryInt(r, "limit", 0)
	offset := queryInt(r, "offset", 0)

	tasks, hasMore := s.registry.List(statusFilter, limit, offset)
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks":    tasks,
		"count":    len(tasks),
		"offset":   offset,
		"has_more": hasMore,
	})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	task, err := s.registry.Get(taskID)
	if err != nil {
		writeError(w, http.StatusNotFound, "task "+taskID+" not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	task, err := s.registry.Get(taskID)
	if err != nil {
		writeError(w, http.StatusNotFound, "task "+taskID+" not found")
		return
	}
	if !s.registry.Cancel(taskID) {
		writeError(w, http.StatusConflict,
			fmt.Sprintf("task %s is already %s", taskID, task.Status))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"task_id": taskID,
		"status":  string(crawl.StatusCancelled),
	})
}

func (s *Server) crawlSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := crawl.ValidateTargetURL(req.URL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg, err := resolveConfig(req.Config)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	timeout := defaultSyncTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	task, err := s.executor.SubmitAndWait(r.Context(), req.URL, cfg, timeout)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, task)
	case errors.Is(err, crawl.ErrTimeout):
		writeJSON(w, http.StatusRequestTimeout, map[string]any{
			"error": err.Error(),
			"task":  task,
		})
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// completedResult fetches the task and its result, enforcing that
// results exist only on completed tasks.
func (s *Server) completedResult(w http.ResponseWriter, r *http.Request) (crawl.Task, bool) {
	taskID := chi.URLParam(r, "task_id")
	task, err := s.registry.Get(taskID)
	if err != nil {
		writeError(w, http.StatusNotFound, "task "+taskID+" not found")
		return crawl.Task{}, false
	}
	if task.Status != crawl.StatusCompleted || task.Result == nil {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("task %s is %s; result is available only for completed tasks", taskID, task.Status))
		return crawl.Task{}, false
	}
	return task, true
}

func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	task, ok := s.completedResult(w, r)
	if !ok {
		return
	}
	format := resultFormat(r)
	body, contentType, err := renderResult(*task.Result, format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.logger.Error("write result failed", zap.Error(err))
	}
}

func (s *Server) downloadResult(w http.ResponseWriter, r *http.Request) {
	task, ok := s.completedResult(w, r)
	if !ok {
		return
	}
	format := resultFormat(r)
	body, contentType, err := renderResult(*task.Result, format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filename := fmt.Sprintf("crawl_result_%s.%s", task.ID, formatExtensions[format])
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.logger.Error("write download failed", zap.Error(err))
	}
}

func resultFormat(r *http.Request) string {
	format := r.URL.Query().Get("format")
	if format == "" {
		return "json"
	}
	return format
}

var formatExtensions = map[string]string{
	"json":     "json",
	"markdown": "md",
	"html":     "html",
	"text":     "txt",
}

// renderResult serializes a result into the requested format.
func renderResult(result crawl.Result, format string) ([]byte, string, error) {
	switch format {
	case "json":
		body, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("marshal result: %w", err)
		}
		return body, "application/json", nil
	case "markdown":
		return []byte(result.Markdown), "text/markdown; charset=utf-8", nil
	case "html":
		return []byte(result.HTML), "text/html; charset=utf-8", nil
	case "text":
		return []byte(result.Text), "text/plain; charset=utf-8", nil
	default:
		return nil, "", fmt.Errorf("unknown format %q; want json, markdown, html, or text", format)
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return val
}
