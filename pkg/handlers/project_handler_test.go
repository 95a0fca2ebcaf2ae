package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/classml-io/classml-engine/pkg/apperrors"
	"github.com/classml-io/classml-engine/pkg/models"
)

func projectMux(projects *mockProjectService, scratch *mockScratchService, training *mockTrainingService) *http.ServeMux {
	mux := http.NewServeMux()
	NewProjectHandler(projects, scratch, training, zap.NewNop()).RegisterRoutes(mux)
	return mux
}

func TestProjectHandler_Create(t *testing.T) {
	projects := &mockProjectService{}
	mux := projectMux(projects, &mockScratchService{}, &mockTrainingService{})

	body := `{"name":"animals","type":"text","classid":"class-1","labels":["cat","dog"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/projects", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var created models.Project
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.Equal(t, "animals", created.Name)
	assert.NotEqual(t, uuid.Nil, created.ID)
}

func TestProjectHandler_Get_NotFound(t *testing.T) {
	projects := &mockProjectService{err: apperrors.ErrProjectNotFound}
	mux := projectMux(projects, &mockScratchService{}, &mockTrainingService{})

	req := httptest.NewRequest(http.MethodGet, "/api/projects/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProjectHandler_Delete(t *testing.T) {
	projects := &mockProjectService{}
	mux := projectMux(projects, &mockScratchService{}, &mockTrainingService{})

	id := uuid.New()
	req := httptest.NewRequest(http.MethodDelete, "/api/projects/"+id.String(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, projects.deleted, 1)
	assert.Equal(t, id, projects.deleted[0])
}

func TestProjectHandler_AddLabel(t *testing.T) {
	projects := &mockProjectService{labels: []string{"cat"}}
	mux := projectMux(projects, &mockScratchService{}, &mockTrainingService{})

	req := httptest.NewRequest(http.MethodPost, "/api/projects/"+uuid.NewString()+"/labels",
		strings.NewReader(`{"label":"dog"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string][]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, []string{"cat", "dog"}, body["labels"])
}

func TestProjectHandler_RemoveLabel(t *testing.T) {
	projects := &mockProjectService{labels: []string{"cat", "dog"}}
	mux := projectMux(projects, &mockScratchService{}, &mockTrainingService{})

	req := httptest.NewRequest(http.MethodDelete, "/api/projects/"+uuid.NewString()+"/labels/dog", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string][]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, []string{"cat"}, body["labels"])
}

func TestProjectHandler_TrainModel(t *testing.T) {
	project := &models.Project{ID: uuid.New(), Type: models.ProjectTypeText}
	training := &mockTrainingService{classifier: &models.Classifier{ID: uuid.New(), ProjectID: project.ID}}
	mux := projectMux(&mockProjectService{project: project}, &mockScratchService{}, training)

	req := httptest.NewRequest(http.MethodPost, "/api/projects/"+project.ID.String()+"/models", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, training.calls)
}

func TestProjectHandler_CreateScratchKey(t *testing.T) {
	project := &models.Project{ID: uuid.New(), Type: models.ProjectTypeText}
	key := &models.ScratchKey{ID: uuid.New(), ProjectID: project.ID, Type: project.Type}
	scratch := &mockScratchService{key: key}
	mux := projectMux(&mockProjectService{project: project}, scratch, &mockTrainingService{})

	req := httptest.NewRequest(http.MethodPost, "/api/projects/"+project.ID.String()+"/scratchkeys", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got models.ScratchKey
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, key.ID, got.ID)
}

func TestProjectHandler_InvalidID(t *testing.T) {
	mux := projectMux(&mockProjectService{}, &mockScratchService{}, &mockTrainingService{})

	req := httptest.NewRequest(http.MethodGet, "/api/projects/nope", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
