package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dealer-sync/internal/fetcher"
	"github.com/sells-group/dealer-sync/internal/ingest"
	"github.com/sells-group/dealer-sync/internal/model"
	"github.com/sells-group/dealer-sync/internal/store"
	"github.com/sells-group/dealer-sync/internal/verify"
)

// uploadResponse acknowledges an accepted upload.
type uploadResponse struct {
	JobID  string            `json:"job_id"`
	Status model.JobStatus   `json:"status"`
	Total  int               `json:"total"`
	Stats  ingest.GroupStats `json:"stats"`
}

// verifyRequest is the body of POST /api/verify.
type verifyRequest struct {
	Phones []string `json:"phones"`
	Status string   `json:"status"`
	All    bool     `json:"all"`
	Limit  int      `json:"limit"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		zap.L().Warn("api: health check failed", zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart upload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close() //nolint:errcheck

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "could not read file")
		return
	}

	sheet, err := fetcher.ParseSheet(r.Context(), header.Filename, data, fetcher.SheetOptions{
		SheetName: r.FormValue("sheet"),
	})
	if eris.Is(err, fetcher.ErrUnsupportedFormat) {
		respondError(w, http.StatusBadRequest, "only .csv and .xlsx files are supported")
		return
	}
	if err != nil {
		zap.L().Warn("api: parse upload", zap.String("file", header.Filename), zap.Error(err))
		respondError(w, http.StatusUnprocessableEntity, "could not parse spreadsheet")
		return
	}

	mapping := ingest.MapColumns(sheet.Headers)
	if !mapping.HasContact() {
		respondError(w, http.StatusUnprocessableEntity, "no name or phone column found")
		return
	}
	customers, stats := ingest.Group(sheet.Rows, mapping)

	job, err := s.importer.Start(r.Context(), header.Filename, len(customers))
	if err != nil {
		zap.L().Error("api: start import", zap.String("file", header.Filename), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "could not create upload job")
		return
	}

	log := zap.L().With(zap.String("job_id", job.ID))
	s.goBackground(func(ctx context.Context) {
		_, err := s.importer.Process(ctx, job, customers, func(processed, errors, total int) {
			log.Debug("api: import progress",
				zap.Int("processed", processed),
				zap.Int("errors", errors),
				zap.Int("total", total),
			)
		})
		if err != nil {
			log.Error("api: import failed", zap.Error(err))
		}
	})

	respondJSON(w, http.StatusAccepted, uploadResponse{
		JobID:  job.ID,
		Status: job.Status,
		Total:  job.TotalRows,
		Stats:  stats,
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filter := model.JobFilter{Status: model.JobStatus(r.URL.Query().Get("status"))}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	jobs, err := s.store.ListJobs(r.Context(), filter)
	if err != nil {
		zap.L().Error("api: list jobs", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "could not list jobs")
		return
	}
	if jobs == nil {
		jobs = []model.UploadJob{}
	}
	respondJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.store.GetJob(r.Context(), id)
	if eris.Is(err, store.ErrJobNotFound) {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		zap.L().Error("api: get job", zap.String("job_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "could not load job")
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if s.verifier == nil {
		respondError(w, http.StatusServiceUnavailable, "verification is not configured")
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	status, ok := parseStatus(req.Status)
	if !ok {
		respondError(w, http.StatusBadRequest, "status must be valid, invalid or unknown")
		return
	}

	sel := verify.Selection{Phones: req.Phones, All: req.All, Status: status, Limit: req.Limit}
	s.goBackground(func(ctx context.Context) {
		if _, err := s.verifier.Run(ctx, sel); err != nil {
			zap.L().Error("api: verification failed", zap.Error(err))
		}
	})

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status, ok := parseStatus(q.Get("status"))
	if !ok {
		respondError(w, http.StatusBadRequest, "status must be valid, invalid or unknown")
		return
	}
	filter := model.CustomerFilter{WhatsAppStatus: status}

	var err error
	if filter.Blocked, err = parseBool(q.Get("blocked")); err != nil {
		respondError(w, http.StatusBadRequest, "blocked must be a boolean")
		return
	}
	if filter.Active, err = parseBool(q.Get("active")); err != nil {
		respondError(w, http.StatusBadRequest, "active must be a boolean")
		return
	}

	n, err := s.store.CountActive(r.Context(), filter)
	if err != nil {
		zap.L().Error("api: count customers", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "could not count customers")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"count": n})
}

// parseStatus accepts an empty string (no filter) or a known status.
func parseStatus(s string) (model.WhatsAppStatus, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch model.WhatsAppStatus(s) {
	case "":
		return "", true
	case model.WhatsAppValid, model.WhatsAppInvalid, model.WhatsAppUnknown:
		return model.WhatsAppStatus(s), true
	default:
		return "", false
	}
}

func parseBool(s string) (*bool, error) {
	if s == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
