package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	cache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/classml-io/classml-engine/pkg/apperrors"
	"github.com/classml-io/classml-engine/pkg/logging"
	"github.com/classml-io/classml-engine/pkg/models"
	"github.com/classml-io/classml-engine/pkg/notifications"
	"github.com/classml-io/classml-engine/pkg/providers"
	"github.com/classml-io/classml-engine/pkg/repositories"
)

const (
	tenantPolicyTTL   = 5 * time.Minute
	tenantPolicySweep = 10 * time.Minute
)

// TrainingService orchestrates model training against the external ML
// services, including credential selection and retry across the shared pool.
type TrainingService interface {
	// TrainClassifier submits the project's training data and returns the
	// resulting local model record. Failures are *TrainingError values
	// whose UserMessage is safe to show to clients.
	TrainClassifier(ctx context.Context, project *models.Project) (*models.Classifier, error)
}

type trainingService struct {
	training    repositories.TrainingRepository
	credentials repositories.CredentialsRepository
	classifiers repositories.ClassifierRepository
	scratchKeys repositories.ScratchKeyRepository
	tenants     repositories.TenantRepository
	providers   map[models.ServiceType]providers.TrainingProvider
	selector    *CredentialsSelector
	notifier    notifications.Notifier
	httpClient  *http.Client
	policyCache *cache.Cache
	logger      *zap.Logger
}

// NewTrainingService wires the training orchestrator. The provided HTTP
// client is used for fetching training images when assembling image
// submissions.
func NewTrainingService(
	training repositories.TrainingRepository,
	credentials repositories.CredentialsRepository,
	classifiers repositories.ClassifierRepository,
	scratchKeys repositories.ScratchKeyRepository,
	tenants repositories.TenantRepository,
	trainingProviders map[models.ServiceType]providers.TrainingProvider,
	selector *CredentialsSelector,
	notifier notifications.Notifier,
	httpClient *http.Client,
	logger *zap.Logger,
) TrainingService {
	return &trainingService{
		training:    training,
		credentials: credentials,
		classifiers: classifiers,
		scratchKeys: scratchKeys,
		tenants:     tenants,
		providers:   trainingProviders,
		selector:    selector,
		notifier:    notifier,
		httpClient:  httpClient,
		policyCache: cache.New(tenantPolicyTTL, tenantPolicySweep),
		logger:      logger.Named("training-service"),
	}
}

var _ TrainingService = (*trainingService)(nil)

func (s *trainingService) TrainClassifier(ctx context.Context, project *models.Project) (*models.Classifier, error) {
	service := project.ServiceType()
	provider, ok := s.providers[service]
	if !ok {
		return nil, newTrainingError(TrainingUnknown, msgTrainingUnknown,
			fmt.Errorf("no provider configured for service %q", service))
	}

	tenant, err := s.getClassTenant(ctx, project.ClassID)
	if err != nil {
		return nil, newTrainingError(TrainingUnknown, msgTrainingUnknown, err)
	}

	spec, cleanup, err := s.assembleTraining(ctx, project)
	if err != nil {
		return nil, newTrainingError(TrainingUnknown, msgTrainingUnknown, err)
	}
	defer cleanup()

	// The numeric service has no credential pool and retrains from scratch
	// on every submission, so create and retrain are the same path.
	if service == models.ServiceNumbers {
		return s.trainNumbers(ctx, provider, project, tenant, spec)
	}

	existing, err := s.classifiers.GetForProject(ctx, project.ID)
	if err != nil {
		return nil, newTrainingError(TrainingUnknown, msgTrainingUnknown, err)
	}

	if len(existing) > 0 {
		if len(existing) > 1 {
			s.logger.Warn("Multiple classifiers found for project, updating the oldest",
				zap.String("project_id", project.ID.String()),
				zap.Int("count", len(existing)))
		}
		return s.updateExisting(ctx, provider, project, tenant, existing[0], spec)
	}

	return s.createNew(ctx, provider, project, tenant, spec)
}

// createNew walks the candidate credentials in order, attempting to create
// a model with each until one succeeds. Capacity and rate-limit rejections
// mark the credential and move on; authorization and unexpected failures
// abort the whole attempt.
func (s *trainingService) createNew(
	ctx context.Context,
	provider providers.TrainingProvider,
	project *models.Project,
	tenant *models.ClassTenant,
	spec *providers.TrainingSpec,
) (*models.Classifier, error) {
	service := project.ServiceType()

	candidates, err := s.selector.Candidates(ctx, tenant, service)
	if err != nil {
		return nil, newTrainingError(TrainingUnknown, msgTrainingUnknown, err)
	}

	var lastRejection *providers.Error
	for _, creds := range candidates {
		remote, err := provider.Create(ctx, creds, spec)
		if err == nil {
			return s.persistTrained(ctx, project, tenant, creds, remote)
		}

		var perr *providers.Error
		if !errors.As(err, &perr) {
			perr = providers.NewError(providers.KindUnknown, "unclassified failure", 0, err)
		}

		switch perr.Kind {
		case providers.KindQuotaExceeded, providers.KindRateLimited:
			s.logger.Info("Credential rejected for capacity, trying next",
				zap.String("project_id", project.ID.String()),
				zap.String("credentials_id", creds.ID.String()),
				zap.String("kind", string(perr.Kind)))
			if creds.Pooled {
				if ferr := s.credentials.RecordPoolFailure(ctx, creds); ferr != nil {
					s.logger.Error("Failed to record credential failure",
						zap.String("credentials_id", creds.ID.String()),
						zap.Error(ferr))
				}
			}
			lastRejection = perr

		case providers.KindUnauthorized:
			s.logger.Warn("Credentials rejected by training service",
				zap.String("project_id", project.ID.String()),
				zap.String("class_id", project.ClassID),
				zap.String("credentials_id", creds.ID.String()))
			return nil, newTrainingError(TrainingUnauthorized, msgUnauthorized, perr)

		default:
			// Unexpected failures are not assumed to be credential-specific,
			// so the rest of the pool is not tried.
			s.logger.Error("Unexpected training service failure",
				zap.String("project_id", project.ID.String()),
				zap.String("credentials_id", creds.ID.String()),
				zap.String("detail", logging.SanitizeError(perr)))
			s.notifier.Notify(notifications.Event{
				Title:   "Training failure",
				Message: fmt.Sprintf("Unexpected %s error training project %s: %s", service, project.ID, logging.SanitizeError(perr)),
				ClassID: project.ClassID,
			})
			return nil, newTrainingError(TrainingUnknown, msgTrainingUnknown, perr)
		}
	}

	return nil, s.exhaustedError(project, tenant, service, lastRejection)
}

// trainNumbers submits a numbers project under its own identity: the model
// lives at (class, student, project) on the numeric service, so there is no
// credential selection and nothing to retry.
func (s *trainingService) trainNumbers(
	ctx context.Context,
	provider providers.TrainingProvider,
	project *models.Project,
	tenant *models.ClassTenant,
	spec *providers.TrainingSpec,
) (*models.Classifier, error) {
	creds := numbersCredentials(project)
	remote, err := provider.Create(ctx, creds, spec)
	if err != nil {
		var perr *providers.Error
		if !errors.As(err, &perr) {
			perr = providers.NewError(providers.KindUnknown, "unclassified failure", 0, err)
		}
		if perr.Kind == providers.KindRateLimited {
			return nil, newTrainingError(TrainingRateLimited, msgRateLimited, perr)
		}
		s.logger.Error("Numbers training failed",
			zap.String("project_id", project.ID.String()),
			zap.String("detail", logging.SanitizeError(perr)))
		s.notifier.Notify(notifications.Event{
			Title:   "Training failure",
			Message: fmt.Sprintf("Unexpected numbers error training project %s: %s", project.ID, logging.SanitizeError(perr)),
			ClassID: project.ClassID,
		})
		return nil, newTrainingError(TrainingUnknown, msgTrainingUnknown, perr)
	}
	return s.persistTrained(ctx, project, tenant, creds, remote)
}

// numbersCredentials builds the identity the numeric service expects for a
// project's model: student id as Username, class id as Password. These are
// never stored in the credentials tables.
func numbersCredentials(project *models.Project) *models.Credentials {
	return &models.Credentials{
		ServiceType: models.ServiceNumbers,
		Username:    project.UserID,
		Password:    project.ClassID,
	}
}

// exhaustedError picks the failure surfaced when no candidate credential
// accepted the model. Managed-pool exhaustion is an operational problem
// worth alerting on; a class running out of its own keys is not.
func (s *trainingService) exhaustedError(
	project *models.Project,
	tenant *models.ClassTenant,
	service models.ServiceType,
	lastRejection *providers.Error,
) error {
	managed := tenant.TenantType == models.TenantManagedPool

	if lastRejection != nil && lastRejection.Kind == providers.KindRateLimited {
		if managed {
			s.notifier.Notify(notifications.Event{
				Title:   "Pool rate-limited",
				Message: fmt.Sprintf("Training pool for %s is rate-limited (class %s)", service, project.ClassID),
				ClassID: project.ClassID,
			})
		}
		return newTrainingError(TrainingRateLimited, msgRateLimited, lastRejection)
	}

	if managed {
		s.notifier.Notify(notifications.Event{
			Title:   "Pool exhausted",
			Message: fmt.Sprintf("No %s pool credentials with capacity left (class %s)", service, project.ClassID),
			ClassID: project.ClassID,
		})
		return newTrainingError(TrainingInsufficientCapacity, msgPoolExhausted, lastRejection)
	}
	return newTrainingError(TrainingInsufficientCapacity, msgInsufficientOwnKeys, lastRejection)
}

// updateExisting retrains the project's known model in place with its
// owning credential. No pool iteration happens here.
func (s *trainingService) updateExisting(
	ctx context.Context,
	provider providers.TrainingProvider,
	project *models.Project,
	tenant *models.ClassTenant,
	classifier *models.Classifier,
	spec *providers.TrainingSpec,
) (*models.Classifier, error) {
	scope := models.ScopeClass
	if tenant.TenantType == models.TenantManagedPool {
		scope = models.ScopePool
	}
	creds, err := s.credentials.GetByID(ctx, scope, classifier.CredentialsID)
	if err != nil {
		return nil, newTrainingError(TrainingUnknown, msgTrainingUnknown,
			fmt.Errorf("failed to fetch classifier credentials: %w", err))
	}

	remote, err := provider.Update(ctx, creds, classifier.RemoteID, spec)
	if err != nil {
		return nil, s.handleUpdateFailure(ctx, project, classifier, err)
	}

	now := time.Now()
	classifier.Updated = now
	classifier.Expiry = now.Add(time.Duration(tenant.ClassifierExpiryHours(classifier.ServiceType)) * time.Hour)
	classifier.Status = remote.Status
	if err := s.classifiers.UpdateExpiry(ctx, classifier); err != nil {
		return nil, newTrainingError(TrainingUnknown, msgTrainingUnknown, err)
	}

	if err := s.scratchKeys.UpdateTimestamp(ctx, project.ID, now); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		s.logger.Warn("Failed to refresh scratch key timestamp",
			zap.String("project_id", project.ID.String()),
			zap.Error(err))
	}

	s.logger.Info("Retrained model",
		zap.String("project_id", project.ID.String()),
		zap.String("classifier_id", classifier.ID.String()),
		zap.Time("expiry", classifier.Expiry))
	return classifier, nil
}

func (s *trainingService) handleUpdateFailure(ctx context.Context, project *models.Project, classifier *models.Classifier, err error) error {
	var perr *providers.Error
	if !errors.As(err, &perr) {
		perr = providers.NewError(providers.KindUnknown, "unclassified failure", 0, err)
	}

	switch perr.Kind {
	case providers.KindRateLimited:
		return newTrainingError(TrainingRateLimited, msgRateLimited, perr)

	case providers.KindNotFound:
		// The remote model vanished out-of-band. Drop the stale local
		// record so the next training attempt creates a fresh model.
		s.logger.Info("Remote model gone, removing stale record",
			zap.String("project_id", project.ID.String()),
			zap.String("classifier_id", classifier.ID.String()))
		if derr := s.classifiers.Delete(ctx, classifier.ID); derr != nil {
			s.logger.Error("Failed to delete stale classifier record",
				zap.String("classifier_id", classifier.ID.String()),
				zap.Error(derr))
		}
		if rerr := s.scratchKeys.ResetForClassifier(ctx, classifier.RemoteID, project.Type); rerr != nil {
			s.logger.Error("Failed to reset scratch key for stale classifier",
				zap.String("classifier_id", classifier.ID.String()),
				zap.Error(rerr))
		}
		return newTrainingError(TrainingModelNotFound, msgModelNotFound, perr)

	default:
		s.logger.Error("Unexpected failure retraining model",
			zap.String("project_id", project.ID.String()),
			zap.String("classifier_id", classifier.ID.String()),
			zap.String("detail", logging.SanitizeError(perr)))
		s.notifier.Notify(notifications.Event{
			Title:   "Retrain failure",
			Message: fmt.Sprintf("Unexpected error retraining project %s: %s", project.ID, logging.SanitizeError(perr)),
			ClassID: project.ClassID,
		})
		return newTrainingError(TrainingUnknown, msgTrainingUnknown, perr)
	}
}

// persistTrained records a freshly created model and points the project's
// scratch key at it.
func (s *trainingService) persistTrained(
	ctx context.Context,
	project *models.Project,
	tenant *models.ClassTenant,
	creds *models.Credentials,
	remote *providers.RemoteModel,
) (*models.Classifier, error) {
	now := time.Now()
	service := project.ServiceType()

	classifier := &models.Classifier{
		ProjectID:     project.ID,
		CredentialsID: creds.ID,
		ServiceType:   service,
		RemoteID:      remote.ID,
		Name:          remote.Name,
		Language:      project.Language,
		URL:           creds.URL,
		Created:       now,
		Updated:       now,
		Expiry:        now.Add(time.Duration(tenant.ClassifierExpiryHours(service)) * time.Hour),
		Status:        remote.Status,
	}

	if err := s.classifiers.Upsert(ctx, classifier); err != nil {
		return nil, newTrainingError(TrainingUnknown, msgTrainingUnknown, err)
	}

	if _, err := s.scratchKeys.StoreOrUpdate(ctx, project, creds, remote.ID, now); err != nil {
		return nil, newTrainingError(TrainingUnknown, msgTrainingUnknown,
			fmt.Errorf("failed to update scratch key: %w", err))
	}

	s.logger.Info("Trained new model",
		zap.String("project_id", project.ID.String()),
		zap.String("classifier_id", classifier.ID.String()),
		zap.String("credentials_id", creds.ID.String()),
		zap.String("service_type", string(service)),
		zap.Time("expiry", classifier.Expiry))
	return classifier, nil
}

func (s *trainingService) getClassTenant(ctx context.Context, classID string) (*models.ClassTenant, error) {
	if cached, found := s.policyCache.Get(classID); found {
		return cached.(*models.ClassTenant), nil
	}
	tenant, err := s.tenants.GetClassTenant(ctx, classID)
	if err != nil {
		return nil, err
	}
	s.policyCache.Set(classID, tenant, cache.DefaultExpiration)
	return tenant, nil
}
