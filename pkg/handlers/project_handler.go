package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classml-io/classml-engine/pkg/models"
	"github.com/classml-io/classml-engine/pkg/services"
)

// ProjectHandler exposes project lifecycle endpoints and the per-project
// training trigger.
type ProjectHandler struct {
	projects services.ProjectService
	scratch  services.ScratchService
	training services.TrainingService
	logger   *zap.Logger
}

func NewProjectHandler(
	projects services.ProjectService,
	scratch services.ScratchService,
	training services.TrainingService,
	logger *zap.Logger,
) *ProjectHandler {
	return &ProjectHandler{
		projects: projects,
		scratch:  scratch,
		training: training,
		logger:   logger.Named("project-handler"),
	}
}

// RegisterRoutes registers the project API routes on the given mux.
func (h *ProjectHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/projects", h.Create)
	mux.HandleFunc("GET /api/projects/{id}", h.Get)
	mux.HandleFunc("DELETE /api/projects/{id}", h.Delete)
	mux.HandleFunc("POST /api/projects/{id}/labels", h.AddLabel)
	mux.HandleFunc("DELETE /api/projects/{id}/labels/{label}", h.RemoveLabel)
	mux.HandleFunc("POST /api/projects/{id}/models", h.TrainModel)
	mux.HandleFunc("POST /api/projects/{id}/scratchkeys", h.CreateScratchKey)
}

// Create handles POST /api/projects.
func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	var project models.Project
	if err := json.NewDecoder(r.Body).Decode(&project); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	if err := h.projects.Create(r.Context(), &project); err != nil {
		writeError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusCreated, project); err != nil {
		h.logger.Error("Failed to encode project response", zap.Error(err))
	}
}

// Get handles GET /api/projects/{id}.
func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.projectID(w, r)
	if !ok {
		return
	}

	project, err := h.projects.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, project); err != nil {
		h.logger.Error("Failed to encode project response", zap.Error(err))
	}
}

// Delete handles DELETE /api/projects/{id}.
func (h *ProjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.projectID(w, r)
	if !ok {
		return
	}

	if err := h.projects.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddLabel handles POST /api/projects/{id}/labels.
func (h *ProjectHandler) AddLabel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.projectID(w, r)
	if !ok {
		return
	}

	var body struct {
		Label string `json:"label"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	labels, err := h.projects.AddLabel(r.Context(), id, body.Label)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, map[string][]string{"labels": labels}); err != nil {
		h.logger.Error("Failed to encode labels response", zap.Error(err))
	}
}

// RemoveLabel handles DELETE /api/projects/{id}/labels/{label}.
func (h *ProjectHandler) RemoveLabel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.projectID(w, r)
	if !ok {
		return
	}

	labels, err := h.projects.RemoveLabel(r.Context(), id, r.PathValue("label"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, map[string][]string{"labels": labels}); err != nil {
		h.logger.Error("Failed to encode labels response", zap.Error(err))
	}
}

// TrainModel handles POST /api/projects/{id}/models.
func (h *ProjectHandler) TrainModel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.projectID(w, r)
	if !ok {
		return
	}

	project, err := h.projects.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	classifier, err := h.training.TrainClassifier(r.Context(), project)
	if err != nil {
		h.logger.Info("Training failed",
			zap.String("project_id", id.String()),
			zap.Error(err))
		writeError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusCreated, classifier); err != nil {
		h.logger.Error("Failed to encode model response", zap.Error(err))
	}
}

// CreateScratchKey handles POST /api/projects/{id}/scratchkeys.
func (h *ProjectHandler) CreateScratchKey(w http.ResponseWriter, r *http.Request) {
	id, ok := h.projectID(w, r)
	if !ok {
		return
	}

	project, err := h.projects.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	key, err := h.scratch.GetOrCreateKey(r.Context(), project)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, key); err != nil {
		h.logger.Error("Failed to encode scratch key response", zap.Error(err))
	}
}

func (h *ProjectHandler) projectID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid project id")
		return uuid.Nil, false
	}
	return id, true
}
