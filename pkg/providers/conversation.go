package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/classml-io/classml-engine/pkg/models"
)

const (
	convAPIVersion = "2018-09-20"
	userAgent      = "classml-engine"

	// MaxTextLength is the longest classify input the conversational-intent
	// service accepts.
	MaxTextLength = 2048
)

// ConversationClient talks to the conversational-intent service used to
// train text classifiers. Models are "workspaces" in the service's API.
type ConversationClient struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewConversationClient creates a client for the conversational-intent
// service. timeout bounds every outbound request.
func NewConversationClient(timeout time.Duration, logger *zap.Logger) *ConversationClient {
	return &ConversationClient{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("conversation-client"),
	}
}

var _ TrainingProvider = (*ConversationClient)(nil)

// ServiceType implements TrainingProvider.
func (c *ConversationClient) ServiceType() models.ServiceType {
	return models.ServiceConversation
}

type convIntent struct {
	Intent   string        `json:"intent"`
	Examples []convExample `json:"examples"`
}

type convExample struct {
	Text string `json:"text"`
}

type convWorkspaceRequest struct {
	Name            string            `json:"name"`
	Language        string            `json:"language"`
	Intents         []convIntent      `json:"intents"`
	DialogNodes     []struct{}        `json:"dialog_nodes"`
	Counterexamples []struct{}        `json:"counterexamples"`
	Entities        []struct{}        `json:"entities"`
	Metadata        map[string]string `json:"metadata"`
}

type convWorkspaceResponse struct {
	WorkspaceID string `json:"workspace_id"`
	Name        string `json:"name"`
	Language    string `json:"language"`
	Status      string `json:"status"`
	Created     string `json:"created"`
	Updated     string `json:"updated"`
}

func trainingPayload(spec *TrainingSpec) *convWorkspaceRequest {
	language := spec.Language
	if language == "" {
		language = "en"
	}

	intents := make([]convIntent, 0, len(spec.Intents))
	for _, intent := range spec.Intents {
		examples := make([]convExample, 0, len(intent.Examples))
		for _, text := range intent.Examples {
			examples = append(examples, convExample{Text: text})
		}
		intents = append(intents, convIntent{
			// the service does not allow spaces in intent names
			Intent:   strings.ReplaceAll(intent.Label, " ", "_"),
			Examples: examples,
		})
	}

	return &convWorkspaceRequest{
		Name:            spec.Name,
		Language:        language,
		Intents:         intents,
		DialogNodes:     []struct{}{},
		Counterexamples: []struct{}{},
		Entities:        []struct{}{},
		Metadata:        map[string]string{"createdby": userAgent},
	}
}

// Create implements TrainingProvider.
func (c *ConversationClient) Create(ctx context.Context, creds *models.Credentials, spec *TrainingSpec) (*RemoteModel, error) {
	url := creds.URL + "/v1/workspaces"
	var resp convWorkspaceResponse
	if err := c.do(ctx, http.MethodPost, url, creds, trainingPayload(spec), &resp); err != nil {
		return nil, err
	}
	return workspaceToModel(&resp), nil
}

// Update implements TrainingProvider.
func (c *ConversationClient) Update(ctx context.Context, creds *models.Credentials, remoteID string, spec *TrainingSpec) (*RemoteModel, error) {
	url := creds.URL + "/v1/workspaces/" + remoteID
	var resp convWorkspaceResponse
	if err := c.do(ctx, http.MethodPost, url, creds, trainingPayload(spec), &resp); err != nil {
		return nil, err
	}
	model := workspaceToModel(&resp)
	if model.ID == "" {
		model.ID = remoteID
	}
	return model, nil
}

// GetStatus implements TrainingProvider.
func (c *ConversationClient) GetStatus(ctx context.Context, creds *models.Credentials, remoteID string) (*RemoteModel, error) {
	url := creds.URL + "/v1/workspaces/" + remoteID
	var resp convWorkspaceResponse
	if err := c.do(ctx, http.MethodGet, url, creds, nil, &resp); err != nil {
		return nil, err
	}
	return workspaceToModel(&resp), nil
}

type convMessageRequest struct {
	Input            convMessageInput `json:"input"`
	AlternateIntents bool             `json:"alternate_intents"`
}

type convMessageInput struct {
	Text string `json:"text"`
}

type convMessageResponse struct {
	Intents []struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	} `json:"intents"`
}

// Classify implements TrainingProvider.
func (c *ConversationClient) Classify(ctx context.Context, creds *models.Credentials, remoteID string, input ClassifyInput) ([]RankedLabel, error) {
	if len(input.Text) > MaxTextLength {
		return nil, NewError(KindTooLong, fmt.Sprintf("text cannot be longer than %d characters", MaxTextLength), http.StatusBadRequest, nil)
	}

	url := creds.URL + "/v1/workspaces/" + remoteID + "/message"
	payload := &convMessageRequest{
		Input:            convMessageInput{Text: input.Text},
		AlternateIntents: true,
	}

	var resp convMessageResponse
	if err := c.do(ctx, http.MethodPost, url, creds, payload, &resp); err != nil {
		return nil, err
	}

	ranked := make([]RankedLabel, 0, len(resp.Intents))
	for _, intent := range resp.Intents {
		ranked = append(ranked, RankedLabel{
			ClassName:  intent.Intent,
			Confidence: int(intent.Confidence*100 + 0.5),
		})
	}
	return ranked, nil
}

// Delete implements TrainingProvider. A missing workspace is success.
func (c *ConversationClient) Delete(ctx context.Context, creds *models.Credentials, remoteID string) error {
	url := creds.URL + "/v1/workspaces/" + remoteID
	err := c.do(ctx, http.MethodDelete, url, creds, nil, nil)
	if err != nil && KindOf(err) == KindNotFound {
		c.logger.Debug("Attempted to delete non-existent workspace",
			zap.String("workspace_id", remoteID))
		return nil
	}
	return err
}

func (c *ConversationClient) do(ctx context.Context, method, url string, creds *models.Credentials, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return NewError(KindUnknown, "failed to encode request", 0, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url+"?version="+convAPIVersion, body)
	if err != nil {
		return NewError(KindUnknown, "failed to build request", 0, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.SetBasicAuth(creds.Username, creds.Password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// transport failures and timeouts cannot be blamed on the credential
		return NewError(KindUnknown, "request to conversational-intent service failed", 0, err)
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

func workspaceToModel(resp *convWorkspaceResponse) *RemoteModel {
	status := resp.Status
	if status == "" {
		status = models.StatusTraining
	}
	model := &RemoteModel{
		ID:     resp.WorkspaceID,
		Name:   resp.Name,
		Status: status,
	}
	// use our own timestamps if the service omitted them
	now := time.Now()
	model.Created = parseServiceTime(resp.Created, now)
	model.Updated = parseServiceTime(resp.Updated, now)
	return model
}

func parseServiceTime(value string, fallback time.Time) time.Time {
	if value == "" {
		return fallback
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return fallback
	}
	return parsed
}
