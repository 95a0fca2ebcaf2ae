package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/classml-io/classml-engine/pkg/models"
)

const visualAPIVersion = "2016-05-20"

// VisualClient talks to the image-classification service. Training data is
// submitted as one zip of example images per label.
type VisualClient struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewVisualClient creates a client for the image-classification service.
// Image training uploads are slow, so the timeout here is typically longer
// than the conversational client's.
func NewVisualClient(timeout time.Duration, logger *zap.Logger) *VisualClient {
	return &VisualClient{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("visual-client"),
	}
}

var _ TrainingProvider = (*VisualClient)(nil)

// ServiceType implements TrainingProvider.
func (c *VisualClient) ServiceType() models.ServiceType {
	return models.ServiceVisualRecognition
}

type visualClassifierResponse struct {
	ClassifierID string `json:"classifier_id"`
	Name         string `json:"name"`
	Status       string `json:"status"`
	Created      string `json:"created"`
	Updated      string `json:"updated"`
	Explanation  string `json:"explanation"`
}

// Create implements TrainingProvider.
func (c *VisualClient) Create(ctx context.Context, creds *models.Credentials, spec *TrainingSpec) (*RemoteModel, error) {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		err := writeTrainingParts(writer, spec)
		if closeErr := writer.Close(); err == nil {
			err = closeErr
		}
		pw.CloseWithError(err)
	}()

	endpoint := c.endpoint(creds, "/v3/classifiers")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		return nil, NewError(KindUnknown, "failed to build request", 0, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var resp visualClassifierResponse
	if err := c.send(req, &resp); err != nil {
		return nil, err
	}
	return classifierToModel(&resp), nil
}

// Update implements TrainingProvider.
//
// The image-classification service has no retrain-in-place API, so an
// update is a delete of the old classifier followed by a fresh create.
// Callers keep their local record and receive the replacement remote id.
func (c *VisualClient) Update(ctx context.Context, creds *models.Credentials, remoteID string, spec *TrainingSpec) (*RemoteModel, error) {
	if err := c.Delete(ctx, creds, remoteID); err != nil {
		return nil, err
	}
	return c.Create(ctx, creds, spec)
}

// GetStatus implements TrainingProvider.
func (c *VisualClient) GetStatus(ctx context.Context, creds *models.Credentials, remoteID string) (*RemoteModel, error) {
	endpoint := c.endpoint(creds, "/v3/classifiers/"+remoteID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, NewError(KindUnknown, "failed to build request", 0, err)
	}
	req.Header.Set("User-Agent", userAgent)

	var resp visualClassifierResponse
	if err := c.send(req, &resp); err != nil {
		return nil, err
	}
	return classifierToModel(&resp), nil
}

type visualClassifyResponse struct {
	Images []struct {
		Classifiers []struct {
			Classes []struct {
				Class string  `json:"class"`
				Score float64 `json:"score"`
			} `json:"classes"`
		} `json:"classifiers"`
	} `json:"images"`
}

// Classify implements TrainingProvider. input.ImageFile is the path of a
// local image file to submit.
func (c *VisualClient) Classify(ctx context.Context, creds *models.Credentials, remoteID string, input ClassifyInput) ([]RankedLabel, error) {
	file, err := os.Open(input.ImageFile)
	if err != nil {
		return nil, NewError(KindUnknown, "failed to read image file", 0, err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		err := writeClassifyParts(writer, remoteID, file, filepath.Base(input.ImageFile))
		if closeErr := writer.Close(); err == nil {
			err = closeErr
		}
		pw.CloseWithError(err)
	}()

	endpoint := c.endpoint(creds, "/v3/classify")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		return nil, NewError(KindUnknown, "failed to build request", 0, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var resp visualClassifyResponse
	if err := c.send(req, &resp); err != nil {
		return nil, err
	}

	var ranked []RankedLabel
	for _, image := range resp.Images {
		for _, classifier := range image.Classifiers {
			for _, class := range classifier.Classes {
				ranked = append(ranked, RankedLabel{
					ClassName:  class.Class,
					Confidence: int(class.Score*100 + 0.5),
				})
			}
		}
	}
	return ranked, nil
}

// Delete implements TrainingProvider. A missing classifier is success.
func (c *VisualClient) Delete(ctx context.Context, creds *models.Credentials, remoteID string) error {
	endpoint := c.endpoint(creds, "/v3/classifiers/"+remoteID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return NewError(KindUnknown, "failed to build request", 0, err)
	}
	req.Header.Set("User-Agent", userAgent)

	err = c.send(req, nil)
	if err != nil && KindOf(err) == KindNotFound {
		c.logger.Debug("Attempted to delete non-existent classifier",
			zap.String("classifier_id", remoteID))
		return nil
	}
	return err
}

// endpoint builds a service URL with the version and api key query values
// the image-classification service expects.
func (c *VisualClient) endpoint(creds *models.Credentials, path string) string {
	values := url.Values{}
	values.Set("version", visualAPIVersion)
	values.Set("api_key", creds.Username+creds.Password)
	return creds.URL + path + "?" + values.Encode()
}

func (c *VisualClient) send(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return NewError(KindUnknown, "request to image-classification service failed", 0, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewError(KindUnknown, "failed to read service response", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ClassifyResponse(resp.StatusCode, string(respBody), nil)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return NewError(KindUnknown, "unexpected response from service", resp.StatusCode, err)
		}
	}
	return nil
}

func writeTrainingParts(writer *multipart.Writer, spec *TrainingSpec) error {
	if err := writer.WriteField("name", spec.Name); err != nil {
		return err
	}
	for label, zipPath := range spec.ExampleZips {
		zipFile, err := os.Open(zipPath)
		if err != nil {
			return err
		}
		part, err := writer.CreateFormFile(fmt.Sprintf("%s_positive_examples", label), filepath.Base(zipPath))
		if err != nil {
			zipFile.Close()
			return err
		}
		if _, err := io.Copy(part, zipFile); err != nil {
			zipFile.Close()
			return err
		}
		zipFile.Close()
	}
	return nil
}

func writeClassifyParts(writer *multipart.Writer, remoteID string, image io.Reader, filename string) error {
	params := fmt.Sprintf(`{"classifier_ids":[%q]}`, remoteID)
	if err := writer.WriteField("parameters", params); err != nil {
		return err
	}
	part, err := writer.CreateFormFile("images_file", filename)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, image)
	return err
}

func classifierToModel(resp *visualClassifierResponse) *RemoteModel {
	status := resp.Status
	if status == "" {
		status = models.StatusTraining
	}
	now := time.Now()
	return &RemoteModel{
		ID:      resp.ClassifierID,
		Name:    resp.Name,
		Status:  status,
		Created: parseServiceTime(resp.Created, now),
		Updated: parseServiceTime(resp.Updated, now),
	}
}
