package services

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/classml-io/classml-engine/pkg/models"
	"github.com/classml-io/classml-engine/pkg/providers"
)

const (
	// maxExamplesPerLabel caps how much training data is submitted for a
	// single label. Matches the most restrictive service-side limit.
	maxExamplesPerLabel = 1000

	defaultLanguage = "en"
)

// assembleTraining collects a project's labelled examples into a provider
// submission. Labels with zero examples are omitted: the services reject
// classes with no examples, so an empty label cannot be submitted.
//
// For image projects the returned cleanup removes the temporary zip files
// and must be called once the submission is done, success or failure.
func (s *trainingService) assembleTraining(ctx context.Context, project *models.Project) (*providers.TrainingSpec, func(), error) {
	counts, err := s.training.CountByLabel(ctx, project.Type, project.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to count training data: %w", err)
	}

	language := project.Language
	if language == "" {
		language = defaultLanguage
	}
	spec := &providers.TrainingSpec{
		Name:      project.Name,
		Language:  language,
		ProjectID: project.ID.String(),
		UserID:    project.UserID,
		ClassID:   project.ClassID,
	}
	cleanup := func() {}

	paging := models.Paging{Start: 0, Limit: maxExamplesPerLabel}

	switch project.Type {
	case models.ProjectTypeText:
		for _, label := range project.Labels {
			if counts[label] == 0 {
				continue
			}
			texts, err := s.training.GetTextsByLabel(ctx, project.ID, label, paging)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to fetch text training for label %q: %w", label, err)
			}
			spec.Intents = append(spec.Intents, providers.Intent{Label: label, Examples: texts})
		}

	case models.ProjectTypeNumbers:
		for _, label := range project.Labels {
			if counts[label] == 0 {
				continue
			}
			rows, err := s.training.GetNumbersByLabel(ctx, project.ID, label, paging)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to fetch number training for label %q: %w", label, err)
			}
			for _, row := range rows {
				fields, err := numberFields(project, row.Numbers)
				if err != nil {
					s.logger.Warn("Skipping malformed number training item",
						zap.String("project_id", project.ID.String()),
						zap.String("item_id", row.ID.String()),
						zap.Error(err))
					continue
				}
				spec.NumberRows = append(spec.NumberRows, providers.NumberExample{Fields: fields, Label: label})
			}
		}

	case models.ProjectTypeImages:
		zips := make(map[string]string)
		cleanup = func() {
			for _, path := range zips {
				os.Remove(path)
			}
		}
		for _, label := range project.Labels {
			if counts[label] == 0 {
				continue
			}
			urls, err := s.training.GetImagesByLabel(ctx, project.ID, label, paging)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("failed to fetch image training for label %q: %w", label, err)
			}
			path, err := s.downloadAndZip(ctx, label, urls)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("failed to prepare images for label %q: %w", label, err)
			}
			zips[label] = path
		}
		spec.ExampleZips = zips

	default:
		return nil, nil, fmt.Errorf("unsupported project type: %s", project.Type)
	}

	return spec, cleanup, nil
}

// numberFields maps a stored numeric row onto the project's field
// definitions. Multichoice values are stored as indexes into the field's
// choice list and are translated back to the chosen string.
func numberFields(project *models.Project, values []float64) (map[string]any, error) {
	if len(values) != len(project.Fields) {
		return nil, fmt.Errorf("expected %d values, got %d", len(project.Fields), len(values))
	}

	fields := make(map[string]any, len(values))
	for i, field := range project.Fields {
		switch field.Type {
		case models.FieldTypeMultichoice:
			idx := int(values[i])
			if idx < 0 || idx >= len(field.Choices) {
				return nil, fmt.Errorf("choice index %d out of range for field %q", idx, field.Name)
			}
			fields[field.Name] = field.Choices[idx]
		default:
			fields[field.Name] = values[i]
		}
	}
	return fields, nil
}

// downloadAndZip fetches the training images for one label and packs them
// into a temporary zip, which is what the image service's create endpoint
// consumes. The caller owns removal of the returned file.
func (s *trainingService) downloadAndZip(ctx context.Context, label string, urls []string) (string, error) {
	tmp, err := os.CreateTemp("", "training-images-*.zip")
	if err != nil {
		return "", fmt.Errorf("failed to create temp zip: %w", err)
	}

	zw := zip.NewWriter(tmp)
	for i, url := range urls {
		if err := s.downloadInto(ctx, zw, fmt.Sprintf("%s-%d.jpg", label, i), url); err != nil {
			zw.Close()
			tmp.Close()
			os.Remove(tmp.Name())
			return "", err
		}
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to finalise zip: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close zip: %w", err)
	}
	return tmp.Name(), nil
}

func (s *trainingService) downloadInto(ctx context.Context, zw *zip.Writer, name, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build image request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download training image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download training image: HTTP %d", resp.StatusCode)
	}

	entry, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("failed to add image to zip: %w", err)
	}
	if _, err := io.Copy(entry, resp.Body); err != nil {
		return fmt.Errorf("failed to write image to zip: %w", err)
	}
	return nil
}
