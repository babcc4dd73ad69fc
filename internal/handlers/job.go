package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/openlibris/catalog-storage/internal/jobs"
	"github.com/openlibris/catalog-storage/internal/service"
	"github.com/openlibris/catalog-storage/internal/store/model"
)

const tenantHeader = "X-Tenant"

// JobHandler exposes the job record surface: submit, query, cancel.
type JobHandler struct {
	jobs *service.JobService
}

func NewJobHandler(jobService *service.JobService) *JobHandler {
	return &JobHandler{jobs: jobService}
}

func (h *JobHandler) Routes(r chi.Router) {
	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", h.Submit)
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Delete("/{id}", h.Cancel)
	})
}

type submitJobRequest struct {
	Kind   string      `json:"kind"`
	Params jobs.Params `json:"params"`
}

type jobResponse struct {
	ID               string          `json:"id"`
	Kind             string          `json:"kind"`
	Status           string          `json:"status"`
	RecordsPublished int64           `json:"records_published"`
	SubmittedDate    time.Time       `json:"submitted_date"`
	Params           json.RawMessage `json:"params,omitempty"`
}

func toJobResponse(job *model.Job) jobResponse {
	return jobResponse{
		ID:               job.ID.String(),
		Kind:             job.Kind,
		Status:           string(job.Status),
		RecordsPublished: job.RecordsPublished,
		SubmittedDate:    job.SubmittedDate,
		Params:           job.Params,
	}
}

func (h *JobHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if tenant := r.Header.Get(tenantHeader); tenant != "" {
		req.Params.Tenant = tenant
	}

	job, err := h.jobs.Submit(r.Context(), req.Kind, req.Params)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toJobResponse(job))
}

func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.jobs.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	out := make([]jobResponse, 0, len(list))
	for i := range list {
		out = append(out, toJobResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := h.jobs.Cancel(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, toJobResponse(job))
}

func writeServiceError(w http.ResponseWriter, err error) {
	var notFound *service.ErrResourceNotFound
	var invalid *service.ErrInvalidRequest
	var notCancellable *service.ErrJobNotCancellable

	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &notCancellable):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
