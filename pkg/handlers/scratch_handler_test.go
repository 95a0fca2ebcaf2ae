package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/classml-io/classml-engine/pkg/apperrors"
	"github.com/classml-io/classml-engine/pkg/models"
	"github.com/classml-io/classml-engine/pkg/services"
)

func scratchMux(scratch *mockScratchService, training *mockTrainingService) *http.ServeMux {
	mux := http.NewServeMux()
	NewScratchHandler(scratch, training, zap.NewNop()).RegisterRoutes(mux)
	return mux
}

func TestScratchHandler_Classify(t *testing.T) {
	scratch := &mockScratchService{
		ranking: []models.Classification{
			{ClassName: "cat", Confidence: 88, ClassifierTimestamp: time.Now()},
			{ClassName: "dog", Confidence: 12, ClassifierTimestamp: time.Now()},
		},
	}
	mux := scratchMux(scratch, &mockTrainingService{})

	keyID := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/api/scratch/"+keyID.String()+"/classify",
		strings.NewReader(`{"text":"purring loudly"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var ranking []models.Classification
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&ranking))
	require.Len(t, ranking, 2)
	assert.Equal(t, "cat", ranking[0].ClassName)

	require.Len(t, scratch.classifyCalls, 1)
	assert.Equal(t, "purring loudly", scratch.classifyCalls[0].Text)
}

func TestScratchHandler_Classify_InvalidKey(t *testing.T) {
	mux := scratchMux(&mockScratchService{}, &mockTrainingService{})

	req := httptest.NewRequest(http.MethodPost, "/api/scratch/not-a-uuid/classify",
		strings.NewReader(`{"text":"hi"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScratchHandler_Classify_MissingDataIsBadRequest(t *testing.T) {
	mux := scratchMux(&mockScratchService{err: apperrors.ErrMissingData}, &mockTrainingService{})

	req := httptest.NewRequest(http.MethodPost, "/api/scratch/"+uuid.NewString()+"/classify",
		strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScratchHandler_Train(t *testing.T) {
	scratch := &mockScratchService{}
	mux := scratchMux(scratch, &mockTrainingService{})

	req := httptest.NewRequest(http.MethodPost, "/api/scratch/"+uuid.NewString()+"/train",
		strings.NewReader(`{"label":"cat","text":"purring"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, scratch.trainCalls, 1)
	assert.Equal(t, "cat", scratch.trainCalls[0].Label)
	assert.Equal(t, "purring", scratch.trainCalls[0].Text)
}

func TestScratchHandler_Status(t *testing.T) {
	scratch := &mockScratchService{
		status: &services.ScratchStatus{Status: 2, Message: "Ready"},
	}
	mux := scratchMux(scratch, &mockTrainingService{})

	req := httptest.NewRequest(http.MethodGet, "/api/scratch/"+uuid.NewString()+"/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var status services.ScratchStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, 2, status.Status)
	assert.Equal(t, "Ready", status.Message)
}

func TestScratchHandler_TrainModel(t *testing.T) {
	project := &models.Project{ID: uuid.New(), Type: models.ProjectTypeText, Name: "animals"}
	classifier := &models.Classifier{ID: uuid.New(), ProjectID: project.ID}
	scratch := &mockScratchService{project: project}
	training := &mockTrainingService{classifier: classifier}
	mux := scratchMux(scratch, training)

	req := httptest.NewRequest(http.MethodPost, "/api/scratch/"+uuid.NewString()+"/models", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, training.calls)
}

func TestScratchHandler_TrainModel_PoolExhausted(t *testing.T) {
	project := &models.Project{ID: uuid.New(), Type: models.ProjectTypeText}
	scratch := &mockScratchService{project: project}
	training := &mockTrainingService{err: &services.TrainingError{
		Kind:        services.TrainingInsufficientCapacity,
		UserMessage: "No capacity to train right now. Please try again later.",
	}}
	mux := scratchMux(scratch, training)

	req := httptest.NewRequest(http.MethodPost, "/api/scratch/"+uuid.NewString()+"/models", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Contains(t, body["message"], "No capacity")
}
