package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classml-io/classml-engine/pkg/apperrors"
	"github.com/classml-io/classml-engine/pkg/logging"
	"github.com/classml-io/classml-engine/pkg/models"
	"github.com/classml-io/classml-engine/pkg/providers"
	"github.com/classml-io/classml-engine/pkg/repositories"
)

// ClassifyRequest carries the payload of a scratch classify call. Exactly
// one of the fields is expected, matching the project type.
type ClassifyRequest struct {
	Text      string
	ImageData string
	Numbers   []string
}

// TrainRequest adds one training example through a scratch key.
type TrainRequest struct {
	Label     string
	Text      string
	ImageData string
	Numbers   []string
}

// ScratchStatus is the model status reported to scratch clients.
// Status is 2 for ready, 1 for still training, 0 for failed or untrained.
type ScratchStatus struct {
	Status  int    `json:"status"`
	Message string `json:"msg"`
}

// ScratchService resolves scratch keys and dispatches classify, train and
// status requests to the right provider, falling back to random label
// choice for projects without a trained model.
type ScratchService interface {
	GetOrCreateKey(ctx context.Context, project *models.Project) (*models.ScratchKey, error)
	Classify(ctx context.Context, keyID uuid.UUID, req ClassifyRequest) ([]models.Classification, error)
	Train(ctx context.Context, keyID uuid.UUID, req TrainRequest) error
	Status(ctx context.Context, keyID uuid.UUID) (*ScratchStatus, error)

	// ResolveProject returns the project a key belongs to, for callers that
	// trigger project-level actions (such as training) through a key.
	ResolveProject(ctx context.Context, keyID uuid.UUID) (*models.Project, error)
}

type scratchService struct {
	projects    repositories.ProjectRepository
	scratchKeys repositories.ScratchKeyRepository
	training    repositories.TrainingRepository
	providers   map[models.ServiceType]providers.TrainingProvider
	logger      *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewScratchService creates the scratch dispatch service. The random source
// drives fallback label rankings and is injected so tests can fix it.
func NewScratchService(
	projects repositories.ProjectRepository,
	scratchKeys repositories.ScratchKeyRepository,
	training repositories.TrainingRepository,
	trainingProviders map[models.ServiceType]providers.TrainingProvider,
	rng *rand.Rand,
	logger *zap.Logger,
) ScratchService {
	return &scratchService{
		projects:    projects,
		scratchKeys: scratchKeys,
		training:    training,
		providers:   trainingProviders,
		rng:         rng,
		logger:      logger.Named("scratch-service"),
	}
}

var _ ScratchService = (*scratchService)(nil)

func (s *scratchService) GetOrCreateKey(ctx context.Context, project *models.Project) (*models.ScratchKey, error) {
	key, err := s.scratchKeys.GetForProject(ctx, project.ID)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}
	return s.scratchKeys.Create(ctx, project)
}

func (s *scratchService) Classify(ctx context.Context, keyID uuid.UUID, req ClassifyRequest) ([]models.Classification, error) {
	key, project, err := s.resolve(ctx, keyID)
	if err != nil {
		return nil, err
	}

	switch key.Type {
	case models.ProjectTypeText:
		return s.classifyText(ctx, key, project, req.Text)
	case models.ProjectTypeImages:
		return s.classifyImage(ctx, key, project, req.ImageData)
	case models.ProjectTypeNumbers:
		return s.classifyNumbers(ctx, key, project, req.Numbers)
	}
	return nil, fmt.Errorf("%w: unsupported project type %q", apperrors.ErrInvalidData, key.Type)
}

func (s *scratchService) classifyText(ctx context.Context, key *models.ScratchKey, project *models.Project, text string) ([]models.Classification, error) {
	text = collapseWhitespace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: missing text to classify", apperrors.ErrMissingData)
	}

	if !key.Trained() {
		return s.randomRanking(project.Labels), nil
	}

	provider, ok := s.providers[models.ServiceConversation]
	if !ok {
		return nil, fmt.Errorf("no provider configured for service %q", models.ServiceConversation)
	}
	ranked, err := provider.Classify(ctx, key.Credentials, key.ClassifierID, providers.ClassifyInput{Text: text})
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		// The model had nothing useful to say about this input.
		return []models.Classification{s.randomSingle(project.Labels)}, nil
	}
	return s.rankedToClassifications(ranked, key.Updated), nil
}

func (s *scratchService) classifyImage(ctx context.Context, key *models.ScratchKey, project *models.Project, imageData string) ([]models.Classification, error) {
	if imageData == "" {
		return nil, fmt.Errorf("%w: missing image data to classify", apperrors.ErrMissingData)
	}

	if !key.Trained() {
		return s.randomRanking(project.Labels), nil
	}

	path, err := writeTempImage(imageData)
	if err != nil {
		return nil, err
	}
	// The temp file is removed whatever the provider call does.
	defer os.Remove(path)

	provider, ok := s.providers[models.ServiceVisualRecognition]
	if !ok {
		return nil, fmt.Errorf("no provider configured for service %q", models.ServiceVisualRecognition)
	}
	ranked, err := provider.Classify(ctx, key.Credentials, key.ClassifierID, providers.ClassifyInput{ImageFile: path})
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return s.randomRanking(project.Labels), nil
	}
	return s.rankedToClassifications(ranked, key.Updated), nil
}

func (s *scratchService) classifyNumbers(ctx context.Context, key *models.ScratchKey, project *models.Project, values []string) ([]models.Classification, error) {
	fields, _, err := parseNumberInputs(project, values)
	if err != nil {
		return nil, err
	}

	if !key.Trained() {
		return s.randomRanking(project.Labels), nil
	}

	provider, ok := s.providers[models.ServiceNumbers]
	if !ok {
		return nil, fmt.Errorf("no provider configured for service %q", models.ServiceNumbers)
	}
	ranked, err := provider.Classify(ctx, key.Credentials, key.ClassifierID, providers.ClassifyInput{NumberFields: fields})
	if err != nil {
		// The numbers service forgets models it has not seen recently.
		// A random answer keeps the student's project working while the
		// next training request rebuilds the model.
		s.logger.Warn("Numbers classify failed, falling back to random",
			zap.String("project_id", project.ID.String()),
			zap.String("detail", logging.SanitizeError(err)))
		return s.randomRanking(project.Labels), nil
	}
	if len(ranked) == 0 {
		return s.randomRanking(project.Labels), nil
	}
	return s.rankedToClassifications(ranked, key.Updated), nil
}

func (s *scratchService) Train(ctx context.Context, keyID uuid.UUID, req TrainRequest) error {
	key, project, err := s.resolve(ctx, keyID)
	if err != nil {
		return err
	}

	if req.Label == "" || !project.HasLabel(req.Label) {
		return fmt.Errorf("%w: %q", apperrors.ErrInvalidLabel, req.Label)
	}

	switch key.Type {
	case models.ProjectTypeText:
		text := collapseWhitespace(req.Text)
		if text == "" {
			return fmt.Errorf("%w: missing text to store", apperrors.ErrMissingData)
		}
		return s.training.StoreText(ctx, &models.TextTraining{
			ProjectID: project.ID,
			Label:     req.Label,
			Text:      text,
		})

	case models.ProjectTypeNumbers:
		_, stored, err := parseNumberInputs(project, req.Numbers)
		if err != nil {
			return err
		}
		return s.training.StoreNumbers(ctx, &models.NumberTraining{
			ProjectID: project.ID,
			Label:     req.Label,
			Numbers:   stored,
		})

	case models.ProjectTypeImages:
		if req.ImageData == "" {
			return fmt.Errorf("%w: missing image data to store", apperrors.ErrMissingData)
		}
		url := req.ImageData
		if !strings.HasPrefix(url, "data:") && !strings.HasPrefix(url, "http") {
			url = "data:image/jpeg;base64," + url
		}
		return s.training.StoreImage(ctx, &models.ImageTraining{
			ProjectID: project.ID,
			Label:     req.Label,
			ImageURL:  url,
		})
	}
	return fmt.Errorf("%w: unsupported project type %q", apperrors.ErrInvalidData, key.Type)
}

func (s *scratchService) Status(ctx context.Context, keyID uuid.UUID) (*ScratchStatus, error) {
	key, err := s.scratchKeys.Get(ctx, keyID)
	if err != nil {
		return nil, err
	}

	if !key.Trained() {
		return &ScratchStatus{Status: 0, Message: "No models trained yet - try training one"}, nil
	}

	provider, ok := s.providers[serviceFor(key.Type)]
	if !ok {
		return &ScratchStatus{Status: 0, Message: "Model status unknown"}, nil
	}

	remote, err := provider.GetStatus(ctx, key.Credentials, key.ClassifierID)
	if err != nil {
		s.logger.Warn("Failed to fetch model status",
			zap.String("key_id", keyID.String()),
			zap.String("detail", logging.SanitizeError(err)))
		return &ScratchStatus{Status: 0, Message: "Model status unknown"}, nil
	}

	switch remote.Status {
	case models.StatusAvailable:
		return &ScratchStatus{Status: 2, Message: "Ready"}, nil
	case models.StatusTraining:
		return &ScratchStatus{Status: 1, Message: "Model not ready yet"}, nil
	default:
		return &ScratchStatus{Status: 0, Message: "Model Failed"}, nil
	}
}

func (s *scratchService) ResolveProject(ctx context.Context, keyID uuid.UUID) (*models.Project, error) {
	_, project, err := s.resolve(ctx, keyID)
	return project, err
}

func (s *scratchService) resolve(ctx context.Context, keyID uuid.UUID) (*models.ScratchKey, *models.Project, error) {
	key, err := s.scratchKeys.Get(ctx, keyID)
	if err != nil {
		return nil, nil, err
	}
	project, err := s.projects.Get(ctx, key.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	return key, project, nil
}

// randomRanking returns all project labels in random order, each with the
// same estimated confidence. This is a full estimated ranking, not a single
// guess, so scratch scripts comparing confidences still behave sensibly.
func (s *scratchService) randomRanking(labels []string) []models.Classification {
	if len(labels) == 0 {
		return []models.Classification{}
	}

	shuffled := make([]string, len(labels))
	copy(shuffled, labels)
	s.mu.Lock()
	s.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	s.mu.Unlock()

	confidence := int(math.Round(100 / float64(len(labels))))
	now := time.Now()
	result := make([]models.Classification, len(shuffled))
	for i, label := range shuffled {
		result[i] = models.Classification{
			ClassName:           label,
			Confidence:          confidence,
			Random:              true,
			ClassifierTimestamp: now,
		}
	}
	return result
}

func (s *scratchService) randomSingle(labels []string) models.Classification {
	s.mu.Lock()
	idx := s.rng.Intn(len(labels))
	s.mu.Unlock()
	return models.Classification{
		ClassName:           labels[idx],
		Confidence:          0,
		Random:              true,
		ClassifierTimestamp: time.Now(),
	}
}

func (s *scratchService) rankedToClassifications(ranked []providers.RankedLabel, trained time.Time) []models.Classification {
	result := make([]models.Classification, len(ranked))
	for i, r := range ranked {
		result[i] = models.Classification{
			ClassName:           r.ClassName,
			Confidence:          r.Confidence,
			ClassifierTimestamp: trained,
		}
	}
	return result
}

var whitespaceReplacer = strings.NewReplacer("\t", " ", "\n", " ", "\r", " ")

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceReplacer.Replace(s))
}

// parseNumberInputs validates a numbers payload against the project's field
// definitions. It returns the provider form (field name to value, with
// multichoice fields as the chosen string) and the storage form (one float
// per field, with multichoice fields as the choice index).
func parseNumberInputs(project *models.Project, values []string) (map[string]any, []float64, error) {
	if len(project.Fields) == 0 {
		return nil, nil, fmt.Errorf("%w: project has no number fields", apperrors.ErrInvalidData)
	}
	if len(values) != len(project.Fields) {
		return nil, nil, fmt.Errorf("%w: expected %d values, got %d",
			apperrors.ErrMissingData, len(project.Fields), len(values))
	}

	fields := make(map[string]any, len(values))
	stored := make([]float64, len(values))
	for i, field := range project.Fields {
		value := strings.TrimSpace(values[i])
		if value == "" {
			return nil, nil, fmt.Errorf("%w: empty value for field %q", apperrors.ErrMissingData, field.Name)
		}

		switch field.Type {
		case models.FieldTypeMultichoice:
			idx := choiceIndex(field.Choices, value)
			if idx < 0 {
				return nil, nil, fmt.Errorf("%w: %q is not a choice for field %q",
					apperrors.ErrInvalidData, value, field.Name)
			}
			fields[field.Name] = field.Choices[idx]
			stored[i] = float64(idx)
		default:
			num, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: %q is not a number for field %q",
					apperrors.ErrInvalidData, value, field.Name)
			}
			fields[field.Name] = num
			stored[i] = num
		}
	}
	return fields, stored, nil
}

func choiceIndex(choices []string, value string) int {
	for i, c := range choices {
		if c == value {
			return i
		}
	}
	return -1
}

func serviceFor(projectType models.ProjectType) models.ServiceType {
	switch projectType {
	case models.ProjectTypeImages:
		return models.ServiceVisualRecognition
	case models.ProjectTypeNumbers:
		return models.ServiceNumbers
	default:
		return models.ServiceConversation
	}
}

// writeTempImage decodes a base64 image payload into a temporary file for
// the image service, which takes file uploads rather than inline data.
func writeTempImage(imageData string) (string, error) {
	if idx := strings.Index(imageData, ";base64,"); idx >= 0 {
		imageData = imageData[idx+len(";base64,"):]
	}
	decoded, err := base64.StdEncoding.DecodeString(imageData)
	if err != nil {
		return "", fmt.Errorf("%w: image data is not valid base64", apperrors.ErrInvalidData)
	}

	tmp, err := os.CreateTemp("", "classify-*.jpg")
	if err != nil {
		return "", fmt.Errorf("failed to create temp image: %w", err)
	}
	if _, err := tmp.Write(decoded); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write temp image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close temp image: %w", err)
	}
	return tmp.Name(), nil
}
