// Package leadapi provides the HTTP client for the remote lead API.
//
// The lead API is an external collaborator: message send, AI-reply
// generation, and voice upload are consumed as opaque JSON-over-HTTP
// request/response operations.
package leadapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// DefaultTimeout bounds each backend round-trip.
const DefaultTimeout = 15 * time.Second

// SendMessageRequest is the payload for sending one conversation turn.
type SendMessageRequest struct {
	Role           models.MessageRole `json:"role"`
	Content        string             `json:"content"`
	ConversationID string             `json:"conversation_id,omitempty"`
}

// API defines the lead API operations consumed by the session controller.
type API interface {
	// GetConversation fetches the full conversation history for a lead.
	GetConversation(ctx context.Context, companyID, leadID string) (models.Conversation, error)

	// SendMessage delivers a user turn and returns the backend reply.
	SendMessage(ctx context.Context, companyID, leadID string, req SendMessageRequest) (models.BackendReply, error)

	// AIReply requests an AI-generated assistant turn.
	AIReply(ctx context.Context, companyID, leadID string) (models.BackendReply, error)

	// SendVoiceMessage uploads a voice note for a conversation and returns
	// the backend reply (transcription happens server-side).
	SendVoiceMessage(ctx context.Context, conversationKey, fileName string, audio io.Reader) (models.BackendReply, error)
}

// Compile-time check that HTTPClient implements API.
var _ API = (*HTTPClient)(nil)

// HTTPClient is the JSON-over-HTTP implementation of the lead API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient creates a client for the lead API at baseURL. The API key
// is sent as a bearer token on every request.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	slog.Debug("Creating lead API client", "baseURL", baseURL, "apiKey_set", apiKey != "")
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: DefaultTimeout},
	}
}

// GetConversation fetches the conversation history for a lead.
func (c *HTTPClient) GetConversation(ctx context.Context, companyID, leadID string) (models.Conversation, error) {
	var conv models.Conversation
	path := fmt.Sprintf("/companies/%s/leads/%s/conversation", url.PathEscape(companyID), url.PathEscape(leadID))
	if err := c.getJSON(ctx, path, &conv); err != nil {
		return models.Conversation{}, fmt.Errorf("get conversation failed: %w", err)
	}
	if conv.LeadID == "" {
		conv.LeadID = leadID
	}
	return conv, nil
}

// SendMessage delivers a user turn and returns the backend reply.
func (c *HTTPClient) SendMessage(ctx context.Context, companyID, leadID string, req SendMessageRequest) (models.BackendReply, error) {
	var reply models.BackendReply
	path := fmt.Sprintf("/companies/%s/leads/%s/messages", url.PathEscape(companyID), url.PathEscape(leadID))
	if err := c.postJSON(ctx, path, req, &reply); err != nil {
		return models.BackendReply{}, fmt.Errorf("send message failed: %w", err)
	}
	return reply, nil
}

// AIReply requests an AI-generated assistant turn for the lead.
func (c *HTTPClient) AIReply(ctx context.Context, companyID, leadID string) (models.BackendReply, error) {
	var reply models.BackendReply
	path := fmt.Sprintf("/companies/%s/leads/%s/ai-reply", url.PathEscape(companyID), url.PathEscape(leadID))
	if err := c.postJSON(ctx, path, struct{}{}, &reply); err != nil {
		return models.BackendReply{}, fmt.Errorf("ai reply failed: %w", err)
	}
	return reply, nil
}

// SendVoiceMessage uploads a voice note as multipart form data.
func (c *HTTPClient) SendVoiceMessage(ctx context.Context, conversationKey, fileName string, audio io.Reader) (models.BackendReply, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio", fileName)
	if err != nil {
		return models.BackendReply{}, fmt.Errorf("create form file failed: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return models.BackendReply{}, fmt.Errorf("copy audio failed: %w", err)
	}
	if err := writer.Close(); err != nil {
		return models.BackendReply{}, fmt.Errorf("close multipart writer failed: %w", err)
	}

	path := fmt.Sprintf("/conversations/%s/voice", url.PathEscape(conversationKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return models.BackendReply{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.authorize(req)

	var reply models.BackendReply
	if err := c.do(req, &reply); err != nil {
		return models.BackendReply{}, fmt.Errorf("send voice message failed: %w", err)
	}
	return reply, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	return c.do(req, out)
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	return c.do(req, out)
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *HTTPClient) do(req *http.Request, out interface{}) error {
	slog.Debug("Lead API request", "method", req.Method, "url", req.URL.String())
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		slog.Error("Lead API error response", "status", resp.Status, "url", req.URL.String())
		return fmt.Errorf("lead api error: %s body=%s", resp.Status, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response failed: %w", err)
	}
	return nil
}
