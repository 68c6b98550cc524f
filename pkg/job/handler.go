package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/budgetwatch/budgetwatch/pkg/transfer"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

type JobDTO struct {
	ID         string     `json:"id"`
	Kind       Kind       `json:"kind"`
	Format     string     `json:"format"`
	From       *int64     `json:"from,omitempty"`
	To         *int64     `json:"to,omitempty"`
	State      State      `json:"state"`
	Processed  int        `json:"processed"`
	Total      *int       `json:"total,omitempty"`
	Error      string     `json:"error,omitempty"`
	ErrorKind  string     `json:"errorKind,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	FileName   string     `json:"fileName,omitempty"`
}

type Handler struct {
	manager *Manager
}

func NewHandler(manager *Manager) *Handler {
	return &Handler{manager}
}

// Export godoc
// @Summary Start an export of the whole dataset
// @Param format query string true "csv, json or zip"
// @Param from query int false "Start of the range in epoch milliseconds"
// @Param to query int false "End of the range in epoch milliseconds"
// @Success 202 {object} JobDTO
// @Router /api/export [post]
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	format, err := transfer.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rng, err := parseRange(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	job, err := h.manager.StartExport(format, rng)
	if err != nil {
		writeStartError(w, err)
		return
	}
	writeJob(w, http.StatusAccepted, job)
}

// Import godoc
// @Summary Start an import of the request body
// @Param format query string true "csv, json or zip"
// @Success 202 {object} JobDTO
// @Router /api/import [post]
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	format, err := transfer.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	job, err := h.manager.StartUpload(format, r.Body)
	if err != nil {
		writeStartError(w, err)
		return
	}
	writeJob(w, http.StatusAccepted, job)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	jobs := h.manager.List()
	dtos := make([]JobDTO, 0, len(jobs))
	for _, job := range jobs {
		dtos = append(dtos, JobToDTO(job))
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(dtos); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.manager.Get(mux.Vars(r)["id"])
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJob(w, http.StatusOK, job)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	job, err := h.manager.Cancel(mux.Vars(r)["id"])
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeJob(w, http.StatusOK, job)
}

// File godoc
// @Summary Download the result of a succeeded export
// @Param id path string true "Job id"
// @Success 200 {file} file
// @Failure 409 {string} string "Job has not succeeded"
// @Router /api/job/{id}/file [get]
func (h *Handler) File(w http.ResponseWriter, r *http.Request) {
	f, job, err := h.manager.Open(mux.Vars(r)["id"])
	if err != nil {
		writeLookupError(w, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", job.Format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", job.FileName))
	if info, err := f.Stat(); err == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		log.Warnf("download of job %s interrupted: %v", job.ID, err)
	}
}

func parseRange(r *http.Request) (transfer.Range, error) {
	var rng transfer.Range
	query := r.URL.Query()
	for key, dst := range map[string]**int64{"from": &rng.Start, "to": &rng.End} {
		value := query.Get(key)
		if value == "" {
			continue
		}
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return transfer.Range{}, fmt.Errorf("invalid '%s' parameter: %w", key, err)
		}
		*dst = &ms
	}
	if rng.Start != nil && rng.End != nil && *rng.Start > *rng.End {
		return transfer.Range{}, errors.New("'from' must not be after 'to'")
	}
	return rng, nil
}

func writeStartError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrShuttingDown) {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	log.Errorf("could not start job: %v", err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrJobNotFound):
		http.Error(w, "Job not found", http.StatusNotFound)
	case errors.Is(err, ErrJobNotFinished), errors.Is(err, ErrNoOutput):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJob(w http.ResponseWriter, status int, job Job) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(JobToDTO(job)); err != nil {
		log.Errorf("could not encode job %s: %v", job.ID, err)
	}
}

func JobToDTO(job Job) JobDTO {
	dto := JobDTO{
		ID:         job.ID,
		Kind:       job.Kind,
		Format:     string(job.Format),
		From:       job.Range.Start,
		To:         job.Range.End,
		State:      job.State,
		Processed:  job.Processed,
		Total:      job.Total,
		Error:      job.Error,
		CreatedAt:  job.CreatedAt,
		FinishedAt: job.FinishedAt,
		FileName:   job.FileName,
	}
	if job.State == Failed {
		dto.ErrorKind = job.ErrorKind.String()
	}
	return dto
}
