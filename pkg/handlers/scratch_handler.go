package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classml-io/classml-engine/pkg/services"
)

// ScratchHandler exposes the scratch key API: classify, train, status and
// model management through a capability key, with no other authentication.
type ScratchHandler struct {
	scratch  services.ScratchService
	training services.TrainingService
	logger   *zap.Logger
}

func NewScratchHandler(scratch services.ScratchService, training services.TrainingService, logger *zap.Logger) *ScratchHandler {
	return &ScratchHandler{
		scratch:  scratch,
		training: training,
		logger:   logger.Named("scratch-handler"),
	}
}

// RegisterRoutes registers the scratch API routes on the given mux.
func (h *ScratchHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/scratch/{key}/classify", h.Classify)
	mux.HandleFunc("POST /api/scratch/{key}/train", h.Train)
	mux.HandleFunc("GET /api/scratch/{key}/status", h.Status)
	mux.HandleFunc("POST /api/scratch/{key}/models", h.TrainModel)
}

type classifyRequestBody struct {
	Text    string   `json:"text,omitempty"`
	Image   string   `json:"image,omitempty"`
	Numbers []string `json:"numbers,omitempty"`
}

type trainRequestBody struct {
	Label   string   `json:"label"`
	Text    string   `json:"text,omitempty"`
	Image   string   `json:"image,omitempty"`
	Numbers []string `json:"numbers,omitempty"`
}

// Classify handles POST /api/scratch/{key}/classify.
func (h *ScratchHandler) Classify(w http.ResponseWriter, r *http.Request) {
	keyID, ok := h.keyID(w, r)
	if !ok {
		return
	}

	var body classifyRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	result, err := h.scratch.Classify(r.Context(), keyID, services.ClassifyRequest{
		Text:      body.Text,
		ImageData: body.Image,
		Numbers:   body.Numbers,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to encode classify response", zap.Error(err))
	}
}

// Train handles POST /api/scratch/{key}/train, adding one training example.
func (h *ScratchHandler) Train(w http.ResponseWriter, r *http.Request) {
	keyID, ok := h.keyID(w, r)
	if !ok {
		return
	}

	var body trainRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	err := h.scratch.Train(r.Context(), keyID, services.TrainRequest{
		Label:     body.Label,
		Text:      body.Text,
		ImageData: body.Image,
		Numbers:   body.Numbers,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// Status handles GET /api/scratch/{key}/status.
func (h *ScratchHandler) Status(w http.ResponseWriter, r *http.Request) {
	keyID, ok := h.keyID(w, r)
	if !ok {
		return
	}

	status, err := h.scratch.Status(r.Context(), keyID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusOK, status); err != nil {
		h.logger.Error("Failed to encode status response", zap.Error(err))
	}
}

// TrainModel handles POST /api/scratch/{key}/models, training a new model
// from the key's project.
func (h *ScratchHandler) TrainModel(w http.ResponseWriter, r *http.Request) {
	keyID, ok := h.keyID(w, r)
	if !ok {
		return
	}

	project, err := h.scratch.ResolveProject(r.Context(), keyID)
	if err != nil {
		writeError(w, err)
		return
	}

	classifier, err := h.training.TrainClassifier(r.Context(), project)
	if err != nil {
		h.logger.Info("Training via scratch key failed",
			zap.String("key_id", keyID.String()),
			zap.String("project_id", project.ID.String()),
			zap.Error(err))
		writeError(w, err)
		return
	}
	if err := WriteJSON(w, http.StatusCreated, classifier); err != nil {
		h.logger.Error("Failed to encode model response", zap.Error(err))
	}
}

func (h *ScratchHandler) keyID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	keyID, err := uuid.Parse(r.PathValue("key"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_key", "Invalid scratch key")
		return uuid.Nil, false
	}
	return keyID, true
}
