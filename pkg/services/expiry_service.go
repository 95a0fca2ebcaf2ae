package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/classml-io/classml-engine/pkg/apperrors"
	"github.com/classml-io/classml-engine/pkg/logging"
	"github.com/classml-io/classml-engine/pkg/models"
	"github.com/classml-io/classml-engine/pkg/providers"
	"github.com/classml-io/classml-engine/pkg/repositories"
)

// ExpiryService removes models past their expiry deadline, remotely and
// locally, and returns pooled credential capacity to the pool. It is the
// sole mechanism that frees pool capacity under normal operation.
type ExpiryService interface {
	// CleanupExpired deletes all expired models across every service type
	// and returns how many were removed.
	CleanupExpired(ctx context.Context) (int, error)

	// DeleteClassifier removes one model: remote first (tolerating an
	// already-gone model), then the local record, then any scratch key
	// pointing at it. Also the path taken by explicit user deletion.
	DeleteClassifier(ctx context.Context, classifier *models.Classifier) error

	// RunScheduler starts a background goroutine running CleanupExpired on
	// the given interval. Cancel the context to stop it.
	RunScheduler(ctx context.Context, interval time.Duration)
}

type expiryService struct {
	credentials repositories.CredentialsRepository
	classifiers repositories.ClassifierRepository
	scratchKeys repositories.ScratchKeyRepository
	projects    repositories.ProjectRepository
	providers   map[models.ServiceType]providers.TrainingProvider
	logger      *zap.Logger
}

func NewExpiryService(
	credentials repositories.CredentialsRepository,
	classifiers repositories.ClassifierRepository,
	scratchKeys repositories.ScratchKeyRepository,
	projects repositories.ProjectRepository,
	trainingProviders map[models.ServiceType]providers.TrainingProvider,
	logger *zap.Logger,
) ExpiryService {
	return &expiryService{
		credentials: credentials,
		classifiers: classifiers,
		scratchKeys: scratchKeys,
		projects:    projects,
		providers:   trainingProviders,
		logger:      logger.Named("expiry-service"),
	}
}

var _ ExpiryService = (*expiryService)(nil)

func (s *expiryService) CleanupExpired(ctx context.Context) (int, error) {
	deleted := 0
	for service := range s.providers {
		expired, err := s.classifiers.GetExpired(ctx, service)
		if err != nil {
			return deleted, fmt.Errorf("failed to list expired models for %s: %w", service, err)
		}
		for _, classifier := range expired {
			if err := s.DeleteClassifier(ctx, classifier); err != nil {
				// Leave the record in place so the next sweep retries it.
				s.logger.Error("Failed to delete expired model",
					zap.String("classifier_id", classifier.ID.String()),
					zap.String("service_type", string(service)),
					zap.String("detail", logging.SanitizeError(err)))
				continue
			}
			deleted++
		}
	}
	return deleted, nil
}

func (s *expiryService) DeleteClassifier(ctx context.Context, classifier *models.Classifier) error {
	provider, ok := s.providers[classifier.ServiceType]
	if !ok {
		return fmt.Errorf("no provider configured for service %q", classifier.ServiceType)
	}

	creds, err := s.resolveCredentials(ctx, classifier)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return fmt.Errorf("failed to fetch classifier credentials: %w", err)
	}

	if creds != nil {
		if err := provider.Delete(ctx, creds, classifier.RemoteID); err != nil {
			return fmt.Errorf("failed to delete remote model: %w", err)
		}
	} else {
		// With the credentials gone the remote model cannot be reached;
		// the local record is still cleaned up.
		s.logger.Warn("Credentials for expired model no longer exist",
			zap.String("classifier_id", classifier.ID.String()),
			zap.String("credentials_id", classifier.CredentialsID.String()))
	}

	if err := s.classifiers.Delete(ctx, classifier.ID); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return fmt.Errorf("failed to delete classifier record: %w", err)
	}

	if err := s.scratchKeys.ResetForClassifier(ctx, classifier.RemoteID, projectTypeFor(classifier.ServiceType)); err != nil {
		s.logger.Error("Failed to reset scratch key for deleted model",
			zap.String("classifier_id", classifier.ID.String()),
			zap.Error(err))
	}

	if creds != nil && creds.Pooled {
		if err := s.credentials.RecordPoolModelDeletion(ctx, creds); err != nil {
			s.logger.Error("Failed to record freed pool capacity",
				zap.String("credentials_id", creds.ID.String()),
				zap.Error(err))
		}
	}

	s.logger.Info("Deleted model",
		zap.String("classifier_id", classifier.ID.String()),
		zap.String("project_id", classifier.ProjectID.String()),
		zap.String("service_type", string(classifier.ServiceType)))
	return nil
}

// resolveCredentials finds the credentials needed to delete the remote
// model. Numbers models are addressed by project identity rather than a
// stored credential, so that identity is rebuilt from the owning project;
// for the cloud services the pool is checked first since most models train
// on pooled keys.
func (s *expiryService) resolveCredentials(ctx context.Context, classifier *models.Classifier) (*models.Credentials, error) {
	if classifier.ServiceType == models.ServiceNumbers {
		project, err := s.projects.Get(ctx, classifier.ProjectID)
		if err != nil {
			if errors.Is(err, apperrors.ErrProjectNotFound) {
				return nil, apperrors.ErrNotFound
			}
			return nil, err
		}
		return numbersCredentials(project), nil
	}

	creds, err := s.credentials.GetByID(ctx, models.ScopePool, classifier.CredentialsID)
	if err == nil {
		return creds, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}
	return s.credentials.GetByID(ctx, models.ScopeClass, classifier.CredentialsID)
}

func projectTypeFor(service models.ServiceType) models.ProjectType {
	switch service {
	case models.ServiceVisualRecognition:
		return models.ProjectTypeImages
	case models.ServiceNumbers:
		return models.ProjectTypeNumbers
	default:
		return models.ProjectTypeText
	}
}

func (s *expiryService) RunScheduler(ctx context.Context, interval time.Duration) {
	go func() {
		s.logger.Info("Expiry scheduler started", zap.Duration("interval", interval))

		// Run immediately on startup, then at each interval
		s.sweep(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Expiry scheduler stopped")
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

func (s *expiryService) sweep(ctx context.Context) {
	deleted, err := s.CleanupExpired(ctx)
	if err != nil {
		s.logger.Error("Expiry sweep failed", zap.Error(err))
	}
	if deleted > 0 {
		s.logger.Info("Expiry sweep completed", zap.Int("deleted", deleted))
	}
}
