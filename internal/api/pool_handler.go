package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/sunlog-api/internal/api/shared"
	"github.com/phrazzld/sunlog-api/internal/domain"
	"github.com/phrazzld/sunlog-api/internal/platform/logger"
	"github.com/phrazzld/sunlog-api/internal/service/pool"
	"github.com/phrazzld/sunlog-api/internal/store"
)

// uploadField is the multipart field carrying the uploaded images.
const uploadField = "files"

// multipartMemory is how much of a multipart body is held in memory before
// spilling to temporary files.
const multipartMemory = 32 << 20

// PoolService is the set of pool operations the HTTP layer exposes.
type PoolService interface {
	Submit(ctx context.Context, req pool.SubmitRequest) (*pool.SubmitResult, error)
	List(ctx context.Context, q pool.ListQuery) (*pool.ListResult, error)
	Get(ctx context.Context, taskID, groupID uuid.UUID) (*domain.PoolTask, error)
	Claim(ctx context.Context, taskID, groupID, memberID uuid.UUID) (*domain.PoolTask, error)
	Release(ctx context.Context, taskID, groupID, memberID uuid.UUID) (*domain.PoolTask, error)
	Process(ctx context.Context, taskID, groupID, memberID uuid.UUID) (*pool.ProcessingOutcome, error)
	OpenBlob(ctx context.Context, taskID, groupID uuid.UUID) (*domain.PoolTask, []byte, error)
	History(ctx context.Context, taskID, groupID uuid.UUID) ([]*domain.ProcessingJob, error)
	Contributors(ctx context.Context, groupID uuid.UUID) ([]store.MemberCount, error)
	Delete(ctx context.Context, taskID uuid.UUID, requester *domain.Membership) error
}

var _ PoolService = (*pool.Service)(nil)

// PoolHandler handles the family image pool endpoints.
type PoolHandler struct {
	service         PoolService
	maxFileBytes    int64
	maxRequestBytes int64
	logger          *slog.Logger
}

// NewPoolHandler creates a PoolHandler. Files larger than maxFileBytes are
// read only far enough to be rejected; whole request bodies are capped at
// maxRequestBytes.
func NewPoolHandler(service PoolService, maxFileBytes, maxRequestBytes int64, logger *slog.Logger) *PoolHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PoolHandler{
		service:         service,
		maxFileBytes:    maxFileBytes,
		maxRequestBytes: maxRequestBytes,
		logger:          logger.With(slog.String("component", "pool_handler")),
	}
}

// Register mounts the pool routes on r.
func (h *PoolHandler) Register(r chi.Router) {
	r.Route("/pool", func(r chi.Router) {
		r.Get("/contributors", h.ListContributors)
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", h.SubmitTasks)
			r.Get("/", h.ListTasks)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetTask)
				r.Delete("/", h.DeleteTask)
				r.Post("/claim", h.ClaimTask)
				r.Post("/release", h.ReleaseTask)
				r.Post("/process", h.ProcessTask)
				r.Get("/blob", h.DownloadBlob)
				r.Get("/jobs", h.ListJobs)
			})
		})
	})
}

// SubmitTasks handles POST /api/pool/tasks.
func (h *PoolHandler) SubmitTasks(w http.ResponseWriter, r *http.Request) {
	member, ok := requireMembership(w, r)
	if !ok {
		return
	}
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	if h.maxRequestBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxRequestBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			shared.RespondWithError(w, r, http.StatusRequestEntityTooLarge, "Upload too large",
				shared.WithReason(ReasonValidation))
			return
		}
		log.Debug("invalid multipart body", slog.String("error", err.Error()))
		HandleAPIError(w, r, domain.NewValidationError(uploadField, "must be sent as multipart/form-data", nil), "")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	headers := r.MultipartForm.File[uploadField]
	items := make([]pool.SubmitItem, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			HandleAPIError(w, r, domain.NewStorageError("read upload", err), "")
			return
		}
		data, err := io.ReadAll(io.LimitReader(f, h.maxFileBytes+1))
		_ = f.Close()
		if err != nil {
			HandleAPIError(w, r, domain.NewStorageError("read upload", err), "")
			return
		}
		items = append(items, pool.SubmitItem{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	result, err := h.service.Submit(r.Context(), pool.SubmitRequest{
		GroupID:     member.GroupID,
		SubmitterID: member.MemberID,
		Items:       items,
	})
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, SubmitResponse{
		Tasks:   tasksToResponse(result.Tasks),
		Skipped: result.Skipped,
	})
}

// ListTasks handles GET /api/pool/tasks.
func (h *PoolHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	member, ok := requireMembership(w, r)
	if !ok {
		return
	}

	params := ListParams{Status: r.URL.Query().Get("status")}
	var err error
	if params.Limit, err = shared.QueryInt(r, "limit", 0); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if params.Offset, err = shared.QueryInt(r, "offset", 0); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if err := shared.ValidateRequest(&params); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err,
			shared.WithReason(ReasonValidation))
		return
	}

	result, err := h.service.List(r.Context(), pool.ListQuery{
		GroupID: member.GroupID,
		Status:  params.Status,
		Limit:   params.Limit,
		Offset:  params.Offset,
	})
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, ListResponse{
		Tasks:          tasksToResponse(result.Tasks),
		Total:          result.Total,
		PendingCount:   result.PendingCount,
		ActiveCount:    result.ActiveCount,
		ProcessedCount: result.ProcessedCount,
		ErrorCount:     result.ErrorCount,
	})
}

// GetTask handles GET /api/pool/tasks/{id}.
func (h *PoolHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	member, taskID, ok := handleMembershipAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	task, err := h.service.Get(r.Context(), taskID, member.GroupID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(task))
}

// ClaimTask handles POST /api/pool/tasks/{id}/claim.
func (h *PoolHandler) ClaimTask(w http.ResponseWriter, r *http.Request) {
	member, taskID, ok := handleMembershipAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	task, err := h.service.Claim(r.Context(), taskID, member.GroupID, member.MemberID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(task))
}

// ReleaseTask handles POST /api/pool/tasks/{id}/release.
func (h *PoolHandler) ReleaseTask(w http.ResponseWriter, r *http.Request) {
	member, taskID, ok := handleMembershipAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	task, err := h.service.Release(r.Context(), taskID, member.GroupID, member.MemberID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(task))
}

// ProcessTask handles POST /api/pool/tasks/{id}/process.
func (h *PoolHandler) ProcessTask(w http.ResponseWriter, r *http.Request) {
	member, taskID, ok := handleMembershipAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	outcome, err := h.service.Process(r.Context(), taskID, member.GroupID, member.MemberID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, ProcessResponse{
		Readings: outcome.Readings,
		Provider: outcome.Provider,
		Message:  outcome.Message(),
		JobID:    outcome.JobID,
		Task:     taskToResponse(outcome.Task),
	})
}

// DownloadBlob handles GET /api/pool/tasks/{id}/blob.
func (h *PoolHandler) DownloadBlob(w http.ResponseWriter, r *http.Request) {
	member, taskID, ok := handleMembershipAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	task, data, err := h.service.OpenBlob(r.Context(), taskID, member.GroupID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	w.Header().Set("Content-Type", task.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": task.Filename}))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		logger.FromContextOrDefault(r.Context(), h.logger).Debug("failed to write blob", slog.String("error", err.Error()))
	}
}

// ListJobs handles GET /api/pool/tasks/{id}/jobs.
func (h *PoolHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	member, taskID, ok := handleMembershipAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	jobs, err := h.service.History(r.Context(), taskID, member.GroupID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, jobsToResponse(jobs))
}

// DeleteTask handles DELETE /api/pool/tasks/{id}.
func (h *PoolHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	member, taskID, ok := handleMembershipAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), taskID, member); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListContributors handles GET /api/pool/contributors.
func (h *PoolHandler) ListContributors(w http.ResponseWriter, r *http.Request) {
	member, ok := requireMembership(w, r)
	if !ok {
		return
	}

	counts, err := h.service.Contributors(r.Context(), member.GroupID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, counts)
}
