package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/classml-io/classml-engine/pkg/models"
)

// NumbersClient talks to the companion numeric classifier service. Unlike
// the cloud services, this service authenticates with a single operator
// account and identifies models by (tenant, student, project): training
// takes that identity from the submission itself, and the remote id of a
// trained model is the project id. Credentials passed to Classify, GetStatus
// and Delete are synthesized by the caller from the owning project, with
// the student id as Username and the class id as Password; no credential
// pool is involved.
type NumbersClient struct {
	baseURL    string
	authUser   string
	authPass   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewNumbersClient creates a client for the numeric classifier service.
func NewNumbersClient(baseURL, authUser, authPass string, timeout time.Duration, logger *zap.Logger) *NumbersClient {
	return &NumbersClient{
		baseURL:    baseURL,
		authUser:   authUser,
		authPass:   authPass,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("numbers-client"),
	}
}

var _ TrainingProvider = (*NumbersClient)(nil)

// ServiceType implements TrainingProvider.
func (c *NumbersClient) ServiceType() models.ServiceType {
	return models.ServiceNumbers
}

type numbersTrainRequest struct {
	TenantID  string  `json:"tenantid"`
	StudentID string  `json:"studentid"`
	ProjectID string  `json:"projectid"`
	Data      [][]any `json:"data"`
}

type numbersClassifyRequest struct {
	TenantID  string         `json:"tenantid"`
	StudentID string         `json:"studentid"`
	ProjectID string         `json:"projectid"`
	Data      map[string]any `json:"data"`
}

// Create implements TrainingProvider. Training is synchronous: the service
// fits a decision tree before responding, so a successful response means
// the model is available.
func (c *NumbersClient) Create(ctx context.Context, creds *models.Credentials, spec *TrainingSpec) (*RemoteModel, error) {
	rows := make([][]any, 0, len(spec.NumberRows))
	for _, row := range spec.NumberRows {
		rows = append(rows, []any{row.Fields, row.Label})
	}

	payload := &numbersTrainRequest{
		TenantID:  spec.ClassID,
		StudentID: spec.UserID,
		ProjectID: spec.ProjectID,
		Data:      rows,
	}

	if err := c.do(ctx, http.MethodPost, "/api/models", nil, payload, nil); err != nil {
		return nil, err
	}

	now := time.Now()
	return &RemoteModel{
		ID:      spec.ProjectID,
		Name:    spec.Name,
		Status:  models.StatusAvailable,
		Created: now,
		Updated: now,
	}, nil
}

// Update implements TrainingProvider. The numeric service retrains from
// scratch on every submission, so update and create are the same call.
func (c *NumbersClient) Update(ctx context.Context, creds *models.Credentials, remoteID string, spec *TrainingSpec) (*RemoteModel, error) {
	return c.Create(ctx, creds, spec)
}

// GetStatus implements TrainingProvider. Training is synchronous, so a
// model that exists is always available.
func (c *NumbersClient) GetStatus(ctx context.Context, creds *models.Credentials, remoteID string) (*RemoteModel, error) {
	now := time.Now()
	return &RemoteModel{
		ID:      remoteID,
		Status:  models.StatusAvailable,
		Created: now,
		Updated: now,
	}, nil
}

// Classify implements TrainingProvider. The response is a map of label to
// confidence percentage, returned sorted by descending confidence.
func (c *NumbersClient) Classify(ctx context.Context, creds *models.Credentials, remoteID string, input ClassifyInput) ([]RankedLabel, error) {
	payload := &numbersClassifyRequest{
		TenantID:  creds.Password,
		StudentID: creds.Username,
		ProjectID: remoteID,
		Data:      input.NumberFields,
	}

	var resp map[string]float64
	if err := c.do(ctx, http.MethodPost, "/api/classify", nil, payload, &resp); err != nil {
		return nil, err
	}

	ranked := make([]RankedLabel, 0, len(resp))
	for label, confidence := range resp {
		ranked = append(ranked, RankedLabel{
			ClassName:  label,
			Confidence: int(confidence + 0.5),
		})
	}
	sort.Slice(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})
	return ranked, nil
}

// Delete implements TrainingProvider.
func (c *NumbersClient) Delete(ctx context.Context, creds *models.Credentials, remoteID string) error {
	query := url.Values{}
	query.Set("tenantid", creds.Password)
	query.Set("studentid", creds.Username)
	query.Set("projectid", remoteID)

	err := c.do(ctx, http.MethodDelete, "/api/models", query, nil, nil)
	if err != nil && KindOf(err) == KindNotFound {
		return nil
	}
	return err
}

func (c *NumbersClient) do(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return NewError(KindUnknown, "failed to encode request", 0, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return NewError(KindUnknown, "failed to build request", 0, err)
	}
	req.Header.Set("User-Agent", userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.SetBasicAuth(c.authUser, c.authPass)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return NewError(KindUnknown, "request to numbers service failed", 0, err)
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
