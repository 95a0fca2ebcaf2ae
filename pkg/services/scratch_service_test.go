package services

import (
	"context"
	"encoding/base64"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/classml-io/classml-engine/pkg/apperrors"
	"github.com/classml-io/classml-engine/pkg/models"
	"github.com/classml-io/classml-engine/pkg/providers"
)

type scratchFixture struct {
	svc      ScratchService
	projects *mockProjectRepo
	keys     *mockScratchKeyRepo
	training *mockTrainingRepo
	conv     *providers.MockProvider
	visual   *providers.MockProvider
	numbers  *providers.MockProvider
}

func newScratchFixture(seed int64) *scratchFixture {
	f := &scratchFixture{
		projects: newMockProjectRepo(),
		keys:     &mockScratchKeyRepo{},
		training: newMockTrainingRepo(),
		conv:     &providers.MockProvider{Service: models.ServiceConversation},
		visual:   &providers.MockProvider{Service: models.ServiceVisualRecognition},
		numbers:  &providers.MockProvider{Service: models.ServiceNumbers},
	}
	f.svc = NewScratchService(
		f.projects, f.keys, f.training,
		map[models.ServiceType]providers.TrainingProvider{
			models.ServiceConversation:      f.conv,
			models.ServiceVisualRecognition: f.visual,
			models.ServiceNumbers:           f.numbers,
		},
		rand.New(rand.NewSource(seed)),
		zap.NewNop(),
	)
	return f
}

func (f *scratchFixture) addProject(projectType models.ProjectType, labels []string) *models.Project {
	project := &models.Project{
		ID:      uuid.New(),
		UserID:  "student",
		ClassID: "class-1",
		Type:    projectType,
		Name:    "my project",
		Labels:  labels,
	}
	f.projects.projects[project.ID] = project
	return project
}

func (f *scratchFixture) untrainedKey(project *models.Project) *models.ScratchKey {
	key := &models.ScratchKey{
		ID:        uuid.New(),
		ProjectID: project.ID,
		Name:      project.Name,
		Type:      project.Type,
		Updated:   time.Now(),
	}
	f.keys.keys = append(f.keys.keys, key)
	return key
}

func (f *scratchFixture) trainedKey(project *models.Project) *models.ScratchKey {
	key := f.untrainedKey(project)
	key.ClassifierID = "remote-1"
	key.Credentials = &models.Credentials{
		ID:          uuid.New(),
		ServiceType: project.ServiceType(),
		URL:         "https://ml.example.com",
	}
	return key
}

func TestClassify_RandomFallbackIsFullRanking(t *testing.T) {
	f := newScratchFixture(1)
	project := f.addProject(models.ProjectTypeText, []string{"A", "B", "C"})
	key := f.untrainedKey(project)

	result, err := f.svc.Classify(context.Background(), key.ID, ClassifyRequest{Text: "hello"})
	require.NoError(t, err)
	require.Len(t, result, 3)

	seen := make(map[string]bool)
	for _, c := range result {
		assert.True(t, c.Random)
		assert.Equal(t, 33, c.Confidence)
		seen[c.ClassName] = true
	}
	// a permutation of the labels, not repeats of one guess
	assert.Len(t, seen, 3)
	assert.Zero(t, f.conv.ClassifyCalls)
}

func TestClassify_TrainedTextUsesProvider(t *testing.T) {
	f := newScratchFixture(1)
	project := f.addProject(models.ProjectTypeText, []string{"A", "B"})
	key := f.trainedKey(project)

	f.conv.ClassifyFunc = func(ctx context.Context, creds *models.Credentials, remoteID string, input providers.ClassifyInput) ([]providers.RankedLabel, error) {
		assert.Equal(t, "remote-1", remoteID)
		assert.Equal(t, "hello there", input.Text)
		return []providers.RankedLabel{
			{ClassName: "A", Confidence: 80},
			{ClassName: "B", Confidence: 20},
		}, nil
	}

	result, err := f.svc.Classify(context.Background(), key.ID, ClassifyRequest{Text: "hello\tthere"})
	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, "A", result[0].ClassName)
	assert.Equal(t, 80, result[0].Confidence)
	assert.False(t, result[0].Random)
	assert.Equal(t, key.Updated, result[0].ClassifierTimestamp)
}

func TestClassify_EmptyModelResultFallsBackToSingleRandom(t *testing.T) {
	f := newScratchFixture(1)
	project := f.addProject(models.ProjectTypeText, []string{"A", "B"})
	key := f.trainedKey(project)

	result, err := f.svc.Classify(context.Background(), key.ID, ClassifyRequest{Text: "mumble"})
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.True(t, result[0].Random)
	assert.Zero(t, result[0].Confidence)
	assert.Contains(t, project.Labels, result[0].ClassName)
}

func TestClassify_MissingTextFailsFast(t *testing.T) {
	f := newScratchFixture(1)
	project := f.addProject(models.ProjectTypeText, []string{"A", "B"})
	key := f.trainedKey(project)

	_, err := f.svc.Classify(context.Background(), key.ID, ClassifyRequest{Text: "  \n\t "})
	require.ErrorIs(t, err, apperrors.ErrMissingData)
	assert.Zero(t, f.conv.ClassifyCalls)
}

func TestClassify_ImageCleansUpTempFile(t *testing.T) {
	f := newScratchFixture(1)
	project := f.addProject(models.ProjectTypeImages, []string{"cat", "dog"})
	key := f.trainedKey(project)

	var tempPath string
	f.visual.ClassifyFunc = func(ctx context.Context, creds *models.Credentials, remoteID string, input providers.ClassifyInput) ([]providers.RankedLabel, error) {
		tempPath = input.ImageFile
		_, statErr := os.Stat(tempPath)
		assert.NoError(t, statErr)
		return []providers.RankedLabel{{ClassName: "cat", Confidence: 92}}, nil
	}

	payload := base64.StdEncoding.EncodeToString([]byte("not-really-a-jpeg"))
	result, err := f.svc.Classify(context.Background(), key.ID, ClassifyRequest{ImageData: payload})
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, "cat", result[0].ClassName)

	// the decoded temp file does not outlive the request
	require.NotEmpty(t, tempPath)
	_, statErr := os.Stat(tempPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestClassify_ImageTempFileRemovedOnProviderError(t *testing.T) {
	f := newScratchFixture(1)
	project := f.addProject(models.ProjectTypeImages, []string{"cat", "dog"})
	key := f.trainedKey(project)

	var tempPath string
	f.visual.ClassifyFunc = func(ctx context.Context, creds *models.Credentials, remoteID string, input providers.ClassifyInput) ([]providers.RankedLabel, error) {
		tempPath = input.ImageFile
		return nil, providers.NewError(providers.KindNotFound, "classifier not found", 404, nil)
	}

	payload := base64.StdEncoding.EncodeToString([]byte("payload"))
	_, err := f.svc.Classify(context.Background(), key.ID, ClassifyRequest{ImageData: payload})
	require.Error(t, err)
	assert.Equal(t, providers.KindNotFound, providers.KindOf(err))

	require.NotEmpty(t, tempPath)
	_, statErr := os.Stat(tempPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestClassify_MissingProviderIsAnError(t *testing.T) {
	f := newScratchFixture(1)
	svc := NewScratchService(
		f.projects, f.keys, f.training,
		map[models.ServiceType]providers.TrainingProvider{},
		rand.New(rand.NewSource(1)),
		zap.NewNop(),
	)

	text := f.addProject(models.ProjectTypeText, []string{"A", "B"})
	textKey := f.trainedKey(text)
	_, err := svc.Classify(context.Background(), textKey.ID, ClassifyRequest{Text: "hello"})
	require.Error(t, err)

	images := f.addProject(models.ProjectTypeImages, []string{"A", "B"})
	imageKey := f.trainedKey(images)
	encoded := base64.StdEncoding.EncodeToString([]byte("not really a jpeg"))
	_, err = svc.Classify(context.Background(), imageKey.ID, ClassifyRequest{ImageData: encoded})
	require.Error(t, err)

	numbers := f.addProject(models.ProjectTypeNumbers, []string{"high", "low"})
	numbers.Fields = []models.NumberField{{Name: "size", Type: models.FieldTypeNumber}}
	numbersKey := f.trainedKey(numbers)
	_, err = svc.Classify(context.Background(), numbersKey.ID, ClassifyRequest{Numbers: []string{"4"}})
	require.Error(t, err)
}

func TestClassify_NumbersValidatesArity(t *testing.T) {
	f := newScratchFixture(1)
	project := f.addProject(models.ProjectTypeNumbers, []string{"high", "low"})
	project.Fields = []models.NumberField{
		{Name: "size", Type: models.FieldTypeNumber},
		{Name: "colour", Type: models.FieldTypeMultichoice, Choices: []string{"red", "blue"}},
	}
	key := f.trainedKey(project)

	_, err := f.svc.Classify(context.Background(), key.ID, ClassifyRequest{Numbers: []string{"4"}})
	require.ErrorIs(t, err, apperrors.ErrMissingData)
	assert.Zero(t, f.numbers.ClassifyCalls)

	_, err = f.svc.Classify(context.Background(), key.ID, ClassifyRequest{Numbers: []string{"4", "green"}})
	require.ErrorIs(t, err, apperrors.ErrInvalidData)
}

func TestClassify_NumbersMapsFieldsForProvider(t *testing.T) {
	f := newScratchFixture(1)
	project := f.addProject(models.ProjectTypeNumbers, []string{"high", "low"})
	project.Fields = []models.NumberField{
		{Name: "size", Type: models.FieldTypeNumber},
		{Name: "colour", Type: models.FieldTypeMultichoice, Choices: []string{"red", "blue"}},
	}
	key := f.trainedKey(project)

	f.numbers.ClassifyFunc = func(ctx context.Context, creds *models.Credentials, remoteID string, input providers.ClassifyInput) ([]providers.RankedLabel, error) {
		assert.Equal(t, 4.5, input.NumberFields["size"])
		assert.Equal(t, "blue", input.NumberFields["colour"])
		return []providers.RankedLabel{{ClassName: "high", Confidence: 70}}, nil
	}

	result, err := f.svc.Classify(context.Background(), key.ID, ClassifyRequest{Numbers: []string{"4.5", "blue"}})
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, "high", result[0].ClassName)
}

func TestClassify_NumbersProviderFailureFallsBackToRandom(t *testing.T) {
	f := newScratchFixture(1)
	project := f.addProject(models.ProjectTypeNumbers, []string{"high", "low"})
	project.Fields = []models.NumberField{{Name: "size", Type: models.FieldTypeNumber}}
	key := f.trainedKey(project)

	f.numbers.ClassifyFunc = func(ctx context.Context, creds *models.Credentials, remoteID string, input providers.ClassifyInput) ([]providers.RankedLabel, error) {
		return nil, providers.NewError(providers.KindNotFound, "model not found", 404, nil)
	}

	result, err := f.svc.Classify(context.Background(), key.ID, ClassifyRequest{Numbers: []string{"4"}})
	require.NoError(t, err)
	require.Len(t, result, 2)
	for _, c := range result {
		assert.True(t, c.Random)
		assert.Equal(t, 50, c.Confidence)
	}
}

func TestTrain_StoresTextExample(t *testing.T) {
	f := newScratchFixture(1)
	project := f.addProject(models.ProjectTypeText, []string{"A", "B"})
	key := f.untrainedKey(project)

	err := f.svc.Train(context.Background(), key.ID, TrainRequest{Label: "A", Text: "an example"})
	require.NoError(t, err)
	assert.Equal(t, []string{"an example"}, f.training.texts["A"])
}

func TestTrain_RejectsUnknownLabel(t *testing.T) {
	f := newScratchFixture(1)
	project := f.addProject(models.ProjectTypeText, []string{"A", "B"})
	key := f.untrainedKey(project)

	err := f.svc.Train(context.Background(), key.ID, TrainRequest{Label: "C", Text: "an example"})
	require.ErrorIs(t, err, apperrors.ErrInvalidLabel)
	assert.Empty(t, f.training.texts)
}

func TestTrain_RejectsEmptyText(t *testing.T) {
	f := newScratchFixture(1)
	project := f.addProject(models.ProjectTypeText, []string{"A"})
	key := f.untrainedKey(project)

	err := f.svc.Train(context.Background(), key.ID, TrainRequest{Label: "A", Text: "   "})
	require.ErrorIs(t, err, apperrors.ErrMissingData)
}

func TestTrain_StoresNumbersAsIndexes(t *testing.T) {
	f := newScratchFixture(1)
	project := f.addProject(models.ProjectTypeNumbers, []string{"high"})
	project.Fields = []models.NumberField{
		{Name: "size", Type: models.FieldTypeNumber},
		{Name: "colour", Type: models.FieldTypeMultichoice, Choices: []string{"red", "blue"}},
	}
	key := f.untrainedKey(project)

	err := f.svc.Train(context.Background(), key.ID, TrainRequest{Label: "high", Numbers: []string{"4.5", "blue"}})
	require.NoError(t, err)
	require.Len(t, f.training.numbers["high"], 1)
	assert.Equal(t, []float64{4.5, 1}, f.training.numbers["high"][0])
}

func TestStatus_Untrained(t *testing.T) {
	f := newScratchFixture(1)
	project := f.addProject(models.ProjectTypeText, []string{"A"})
	key := f.untrainedKey(project)

	status, err := f.svc.Status(context.Background(), key.ID)
	require.NoError(t, err)
	assert.Zero(t, status.Status)
	assert.Zero(t, f.conv.StatusCalls)
}

func TestStatus_MapsProviderStatus(t *testing.T) {
	f := newScratchFixture(1)
	project := f.addProject(models.ProjectTypeText, []string{"A"})
	key := f.trainedKey(project)

	tests := []struct {
		remote string
		want   int
	}{
		{models.StatusAvailable, 2},
		{models.StatusTraining, 1},
		{models.StatusFailed, 0},
	}
	for _, tt := range tests {
		f.conv.GetStatusFunc = func(ctx context.Context, creds *models.Credentials, remoteID string) (*providers.RemoteModel, error) {
			return &providers.RemoteModel{ID: remoteID, Status: tt.remote}, nil
		}
		status, err := f.svc.Status(context.Background(), key.ID)
		require.NoError(t, err)
		assert.Equal(t, tt.want, status.Status, tt.remote)
	}
}

func TestGetOrCreateKey_ReusesExistingKey(t *testing.T) {
	f := newScratchFixture(1)
	project := f.addProject(models.ProjectTypeText, []string{"A"})

	first, err := f.svc.GetOrCreateKey(context.Background(), project)
	require.NoError(t, err)
	second, err := f.svc.GetOrCreateKey(context.Background(), project)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, f.keys.keys, 1)
}
