package http

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"

	"github.com/m-mizutani/drover/pkg/domain/interfaces"
	"github.com/m-mizutani/drover/pkg/domain/model"
	"github.com/m-mizutani/drover/pkg/domain/types"
	"github.com/m-mizutani/drover/pkg/utils/token"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// APIHandler serves the run and artifact API
type APIHandler struct {
	runUC   interfaces.RunUseCase
	signer  *token.Signer
	baseURL string
}

// NewAPIHandler creates a new APIHandler
func NewAPIHandler(runUC interfaces.RunUseCase, signer *token.Signer, baseURL string) *APIHandler {
	return &APIHandler{
		runUC:   runUC,
		signer:  signer,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// ListRuns handles GET /api/v1/runs
func (h *APIHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	q := &model.RunQuery{
		Repository: r.URL.Query().Get("repository"),
		Limit:      defaultListLimit,
	}

	if status := r.URL.Query().Get("status"); status != "" {
		switch types.RunStatus(status) {
		case types.RunQueued, types.RunInProgress, types.RunCompleted:
			q.Status = types.RunStatus(status)
		default:
			writeError(w, goerr.New("unknown status",
				goerr.V("status", status), goerr.T(types.ErrTagValidation)),
				http.StatusBadRequest)
			return
		}
	}

	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		limit, err := strconv.Atoi(limitParam)
		if err != nil || limit <= 0 {
			writeError(w, goerr.New("limit must be a positive integer",
				goerr.T(types.ErrTagValidation)), http.StatusBadRequest)
			return
		}
		q.Limit = min(limit, maxListLimit)
	}

	runs, err := h.runUC.ListRuns(ctx, q)
	if err != nil {
		handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// GetRun handles GET /api/v1/runs/{runID}
func (h *APIHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	run, err := h.runUC.GetRun(ctx, types.RunID(chi.URLParam(r, "runID")))
	if err != nil {
		handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// artifactEntry is an artifact record with its download URL attached.
type artifactEntry struct {
	*model.Artifact
	DownloadURL string `json:"download_url,omitempty"`
}

// ListArtifacts handles GET /api/v1/runs/{runID}/artifacts
func (h *APIHandler) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	artifacts, err := h.runUC.ListArtifacts(ctx, types.RunID(chi.URLParam(r, "runID")))
	if err != nil {
		handleError(w, r, err)
		return
	}

	entries := make([]*artifactEntry, 0, len(artifacts))
	for _, artifact := range artifacts {
		entry := &artifactEntry{Artifact: artifact}
		if url, err := h.downloadURL(artifact.ID); err != nil {
			ctxlog.From(ctx).Error("Failed to sign download URL",
				"error", err, "artifact_id", artifact.ID)
		} else {
			entry.DownloadURL = url
		}
		entries = append(entries, entry)
	}

	writeJSON(w, http.StatusOK, map[string]any{"artifacts": entries})
}

func (h *APIHandler) downloadURL(id types.ArtifactID) (string, error) {
	url := h.baseURL + "/api/v1/artifacts/" + id.String()
	if h.signer == nil {
		return url, nil
	}

	signed, err := h.signer.Sign(id)
	if err != nil {
		return "", err
	}
	return url + "?token=" + signed, nil
}

// DownloadArtifact handles GET /api/v1/artifacts/{artifactID}
func (h *APIHandler) DownloadArtifact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := ctxlog.From(ctx)

	artifactID := types.ArtifactID(chi.URLParam(r, "artifactID"))

	if h.signer != nil {
		if err := h.signer.Verify(r.URL.Query().Get("token"), artifactID); err != nil {
			logger.Warn("Rejected artifact download", "error", err, "artifact_id", artifactID)
			writeError(w, goerr.New("invalid download token"), http.StatusUnauthorized)
			return
		}
	}

	record, rc, err := h.runUC.OpenArtifact(ctx, artifactID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", record.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+record.Name+`.zip"`)
	if record.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(record.SizeBytes, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		logger.Warn("Artifact download interrupted", "error", err, "artifact_id", artifactID)
	}
}

// handleError maps tagged domain errors onto HTTP status codes.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case goerr.HasTag(err, types.ErrTagNotFound):
		status = http.StatusNotFound
	case goerr.HasTag(err, types.ErrTagValidation):
		status = http.StatusBadRequest
	case goerr.HasTag(err, types.ErrTagConflict):
		status = http.StatusConflict
	case goerr.HasTag(err, types.ErrTagUnauthorized):
		status = http.StatusUnauthorized
	case goerr.HasTag(err, types.ErrTagExpired):
		status = http.StatusGone
	}

	if status == http.StatusInternalServerError {
		ctxlog.From(r.Context()).Error("API request failed",
			"error", err, "path", r.URL.Path)
	}
	writeError(w, err, status)
}
