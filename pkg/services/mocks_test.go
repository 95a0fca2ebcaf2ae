package services

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/classml-io/classml-engine/pkg/apperrors"
	"github.com/classml-io/classml-engine/pkg/models"
	"github.com/classml-io/classml-engine/pkg/repositories"
)

// In-memory repository fakes. They mirror the SQL implementations closely
// enough for orchestration tests: pool failure arithmetic, upsert conflict
// behaviour and scratch key resets all behave like the real queries.

type mockCredentialsRepo struct {
	classCreds []*models.Credentials
	pool       []*models.Credentials

	failures  map[uuid.UUID]int
	deletions map[uuid.UUID]int
}

func newMockCredentialsRepo() *mockCredentialsRepo {
	return &mockCredentialsRepo{
		failures:  make(map[uuid.UUID]int),
		deletions: make(map[uuid.UUID]int),
	}
}

var _ repositories.CredentialsRepository = (*mockCredentialsRepo)(nil)

func (m *mockCredentialsRepo) GetForClass(ctx context.Context, classID string, service models.ServiceType) ([]*models.Credentials, error) {
	var out []*models.Credentials
	for _, c := range m.classCreds {
		if c.ClassID == classID && c.ServiceType == service {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *mockCredentialsRepo) GetPoolBatch(ctx context.Context, service models.ServiceType) ([]*models.Credentials, error) {
	var out []*models.Credentials
	for _, c := range m.pool {
		if c.ServiceType == service {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastFail.Before(out[j].LastFail) })
	return out, nil
}

func (m *mockCredentialsRepo) GetByID(ctx context.Context, scope models.CredentialsScope, id uuid.UUID) (*models.Credentials, error) {
	list := m.classCreds
	if scope == models.ScopePool {
		list = m.pool
	}
	for _, c := range list {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockCredentialsRepo) RecordPoolFailure(ctx context.Context, creds *models.Credentials) error {
	m.failures[creds.ID]++
	creds.LastFail = time.Now().Add(25 * time.Hour)
	return nil
}

func (m *mockCredentialsRepo) RecordPoolModelDeletion(ctx context.Context, creds *models.Credentials) error {
	m.deletions[creds.ID]++
	creds.LastFail = time.Now().Add(-time.Hour)
	return nil
}

func (m *mockCredentialsRepo) Store(ctx context.Context, creds *models.Credentials) error {
	if creds.Pooled {
		m.pool = append(m.pool, creds)
	} else {
		m.classCreds = append(m.classCreds, creds)
	}
	return nil
}

func (m *mockCredentialsRepo) Delete(ctx context.Context, scope models.CredentialsScope, id uuid.UUID) error {
	return nil
}

type mockClassifierRepo struct {
	items []*models.Classifier
}

var _ repositories.ClassifierRepository = (*mockClassifierRepo)(nil)

func (m *mockClassifierRepo) GetForProject(ctx context.Context, projectID uuid.UUID) ([]*models.Classifier, error) {
	var out []*models.Classifier
	for _, c := range m.items {
		if c.ProjectID == projectID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out, nil
}

func (m *mockClassifierRepo) Upsert(ctx context.Context, classifier *models.Classifier) error {
	if classifier.ID == uuid.Nil {
		classifier.ID = uuid.New()
	}
	for _, existing := range m.items {
		if existing.ProjectID == classifier.ProjectID && existing.ServiceType == classifier.ServiceType {
			// conflict: existing row keeps its id, other columns replaced
			existing.CredentialsID = classifier.CredentialsID
			existing.RemoteID = classifier.RemoteID
			existing.Name = classifier.Name
			existing.Language = classifier.Language
			existing.URL = classifier.URL
			existing.Updated = classifier.Updated
			existing.Expiry = classifier.Expiry
			existing.Status = classifier.Status
			return nil
		}
	}
	stored := *classifier
	m.items = append(m.items, &stored)
	return nil
}

func (m *mockClassifierRepo) UpdateExpiry(ctx context.Context, classifier *models.Classifier) error {
	for _, existing := range m.items {
		if existing.ID == classifier.ID {
			existing.Updated = classifier.Updated
			existing.Expiry = classifier.Expiry
			existing.Status = classifier.Status
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (m *mockClassifierRepo) Delete(ctx context.Context, id uuid.UUID) error {
	for i, existing := range m.items {
		if existing.ID == id {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (m *mockClassifierRepo) GetExpired(ctx context.Context, service models.ServiceType) ([]*models.Classifier, error) {
	now := time.Now()
	var out []*models.Classifier
	for _, c := range m.items {
		if c.ServiceType == service && c.Expiry.Before(now) {
			out = append(out, c)
		}
	}
	return out, nil
}

type mockScratchKeyRepo struct {
	keys []*models.ScratchKey
}

var _ repositories.ScratchKeyRepository = (*mockScratchKeyRepo)(nil)

func (m *mockScratchKeyRepo) Get(ctx context.Context, id uuid.UUID) (*models.ScratchKey, error) {
	for _, k := range m.keys {
		if k.ID == id {
			return k, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockScratchKeyRepo) GetForProject(ctx context.Context, projectID uuid.UUID) (*models.ScratchKey, error) {
	for _, k := range m.keys {
		if k.ProjectID == projectID {
			return k, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockScratchKeyRepo) StoreOrUpdate(ctx context.Context, project *models.Project, creds *models.Credentials, classifierID string, timestamp time.Time) (*models.ScratchKey, error) {
	credsCopy := *creds
	for _, k := range m.keys {
		if k.ProjectID == project.ID {
			k.ClassifierID = classifierID
			k.Credentials = &credsCopy
			k.Updated = timestamp
			return k, nil
		}
	}
	key := &models.ScratchKey{
		ID:           uuid.New(),
		ProjectID:    project.ID,
		Name:         project.Name,
		Type:         project.Type,
		ClassifierID: classifierID,
		Credentials:  &credsCopy,
		Updated:      timestamp,
	}
	m.keys = append(m.keys, key)
	return key, nil
}

func (m *mockScratchKeyRepo) UpdateTimestamp(ctx context.Context, projectID uuid.UUID, timestamp time.Time) error {
	for _, k := range m.keys {
		if k.ProjectID == projectID {
			k.Updated = timestamp
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (m *mockScratchKeyRepo) ResetForClassifier(ctx context.Context, classifierID string, projectType models.ProjectType) error {
	for _, k := range m.keys {
		if k.ClassifierID == classifierID && k.Type == projectType {
			k.ClassifierID = ""
			k.Credentials = nil
		}
	}
	return nil
}

func (m *mockScratchKeyRepo) Create(ctx context.Context, project *models.Project) (*models.ScratchKey, error) {
	key := &models.ScratchKey{
		ID:        uuid.New(),
		ProjectID: project.ID,
		Name:      project.Name,
		Type:      project.Type,
		Updated:   time.Now(),
	}
	m.keys = append(m.keys, key)
	return key, nil
}

func (m *mockScratchKeyRepo) Delete(ctx context.Context, id uuid.UUID) error {
	for i, k := range m.keys {
		if k.ID == id {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			return nil
		}
	}
	return apperrors.ErrNotFound
}

type mockTrainingRepo struct {
	texts   map[string][]string
	numbers map[string][][]float64
	images  map[string][]string
}

func newMockTrainingRepo() *mockTrainingRepo {
	return &mockTrainingRepo{
		texts:   make(map[string][]string),
		numbers: make(map[string][][]float64),
		images:  make(map[string][]string),
	}
}

var _ repositories.TrainingRepository = (*mockTrainingRepo)(nil)

func (m *mockTrainingRepo) CountByLabel(ctx context.Context, projectType models.ProjectType, projectID uuid.UUID) (map[string]int, error) {
	counts := make(map[string]int)
	switch projectType {
	case models.ProjectTypeText:
		for label, items := range m.texts {
			counts[label] = len(items)
		}
	case models.ProjectTypeNumbers:
		for label, items := range m.numbers {
			counts[label] = len(items)
		}
	case models.ProjectTypeImages:
		for label, items := range m.images {
			counts[label] = len(items)
		}
	}
	return counts, nil
}

func (m *mockTrainingRepo) GetTextsByLabel(ctx context.Context, projectID uuid.UUID, label string, paging models.Paging) ([]string, error) {
	return m.texts[label], nil
}

func (m *mockTrainingRepo) GetNumbersByLabel(ctx context.Context, projectID uuid.UUID, label string, paging models.Paging) ([]*models.NumberTraining, error) {
	var out []*models.NumberTraining
	for _, row := range m.numbers[label] {
		out = append(out, &models.NumberTraining{
			ID:        uuid.New(),
			ProjectID: projectID,
			Label:     label,
			Numbers:   row,
		})
	}
	return out, nil
}

func (m *mockTrainingRepo) GetImagesByLabel(ctx context.Context, projectID uuid.UUID, label string, paging models.Paging) ([]string, error) {
	return m.images[label], nil
}

func (m *mockTrainingRepo) StoreText(ctx context.Context, item *models.TextTraining) error {
	m.texts[item.Label] = append(m.texts[item.Label], item.Text)
	return nil
}

func (m *mockTrainingRepo) StoreNumbers(ctx context.Context, item *models.NumberTraining) error {
	m.numbers[item.Label] = append(m.numbers[item.Label], item.Numbers)
	return nil
}

func (m *mockTrainingRepo) StoreImage(ctx context.Context, item *models.ImageTraining) error {
	m.images[item.Label] = append(m.images[item.Label], item.ImageURL)
	return nil
}

func (m *mockTrainingRepo) DeleteByLabel(ctx context.Context, projectType models.ProjectType, projectID uuid.UUID, label string) error {
	delete(m.texts, label)
	delete(m.numbers, label)
	delete(m.images, label)
	return nil
}

type mockTenantRepo struct {
	tenants    map[string]*models.ClassTenant
	disruptive map[string]bool
}

func newMockTenantRepo() *mockTenantRepo {
	return &mockTenantRepo{
		tenants:    make(map[string]*models.ClassTenant),
		disruptive: make(map[string]bool),
	}
}

var _ repositories.TenantRepository = (*mockTenantRepo)(nil)

func (m *mockTenantRepo) GetClassTenant(ctx context.Context, classID string) (*models.ClassTenant, error) {
	if t, ok := m.tenants[classID]; ok {
		return t, nil
	}
	return models.DefaultClassTenant(classID), nil
}

func (m *mockTenantRepo) IsDisruptiveTenant(ctx context.Context, classID string) (bool, error) {
	return m.disruptive[classID], nil
}

func (m *mockTenantRepo) StoreClassTenant(ctx context.Context, tenant *models.ClassTenant) error {
	m.tenants[tenant.ID] = tenant
	return nil
}

func (m *mockTenantRepo) DeleteClassTenant(ctx context.Context, classID string) error {
	delete(m.tenants, classID)
	return nil
}

type mockProjectRepo struct {
	projects map[uuid.UUID]*models.Project
}

func newMockProjectRepo() *mockProjectRepo {
	return &mockProjectRepo{projects: make(map[uuid.UUID]*models.Project)}
}

var _ repositories.ProjectRepository = (*mockProjectRepo)(nil)

func (m *mockProjectRepo) Create(ctx context.Context, project *models.Project) error {
	if project.ID == uuid.Nil {
		project.ID = uuid.New()
	}
	m.projects[project.ID] = project
	return nil
}

func (m *mockProjectRepo) Get(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	if p, ok := m.projects[id]; ok {
		return p, nil
	}
	return nil, apperrors.ErrProjectNotFound
}

func (m *mockProjectRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.projects[id]; !ok {
		return apperrors.ErrProjectNotFound
	}
	delete(m.projects, id)
	return nil
}

func (m *mockProjectRepo) AddLabel(ctx context.Context, id uuid.UUID, label string) ([]string, error) {
	p, ok := m.projects[id]
	if !ok {
		return nil, apperrors.ErrProjectNotFound
	}
	if !p.HasLabel(label) {
		p.Labels = append(p.Labels, label)
	}
	return p.Labels, nil
}

func (m *mockProjectRepo) RemoveLabel(ctx context.Context, id uuid.UUID, label string) ([]string, error) {
	p, ok := m.projects[id]
	if !ok {
		return nil, apperrors.ErrProjectNotFound
	}
	var kept []string
	for _, l := range p.Labels {
		if l != label {
			kept = append(kept, l)
		}
	}
	p.Labels = kept
	return p.Labels, nil
}
