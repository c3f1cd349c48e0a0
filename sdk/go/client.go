package fieldlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Fieldline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Campaign represents the API campaign model.
type Campaign struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	IsDisabled  bool    `json:"is_disabled"`
	StartAt     *string `json:"start_at,omitempty"`
	EndAt       *string `json:"end_at,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

// Questionnaire represents the API questionnaire model.
type Questionnaire struct {
	ID            string `json:"id"`
	CampaignID    string `json:"campaign_id"`
	Title         string `json:"title"`
	Condition     string `json:"condition"`
	FrequencyDays *int   `json:"frequency_days,omitempty"`
	FormJSON      string `json:"form_json,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// PendingQuestionnaire is a questionnaire still owed, with the reason it is due.
type PendingQuestionnaire struct {
	Questionnaire
	Reason string `json:"reason"`
}

// Response is a recorded submission.
type Response struct {
	ID              string `json:"id"`
	UserID          string `json:"user_id"`
	QuestionnaireID string `json:"questionnaire_id"`
	Condition       string `json:"condition"`
	AnswersJSON     string `json:"answers_json"`
	CreatedAt       string `json:"created_at"`
}

// User represents the API user model.
type User struct {
	ID          string `json:"id"`
	Subject     string `json:"subject"`
	DisplayName string `json:"display_name,omitempty"`
	IsAdmin     bool   `json:"is_admin"`
	CreatedAt   string `json:"created_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ListCampaigns returns visible campaigns.
func (c *Client) ListCampaigns(ctx context.Context) ([]Campaign, error) {
	var resp []Campaign
	err := c.do(ctx, http.MethodGet, "v0/campaigns", nil, &resp)
	return resp, err
}

// Pending returns the questionnaires the authenticated user still has to
// answer for a campaign. An unknown campaign id yields an empty list.
func (c *Client) Pending(ctx context.Context, campaignID string) ([]PendingQuestionnaire, error) {
	var resp []PendingQuestionnaire
	endpoint := fmt.Sprintf("v0/campaigns/%s/pending", url.PathEscape(campaignID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SubmitResponse records a submission for a questionnaire.
func (c *Client) SubmitResponse(ctx context.Context, questionnaireID, answersJSON string) (Response, error) {
	body := map[string]any{"answers_json": answersJSON}
	var resp Response
	endpoint := fmt.Sprintf("v0/questionnaires/%s/responses", url.PathEscape(questionnaireID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// JoinCampaign adds the authenticated user to a campaign.
func (c *Client) JoinCampaign(ctx context.Context, campaignID string) error {
	endpoint := fmt.Sprintf("v0/campaigns/%s/members", url.PathEscape(campaignID))
	return c.do(ctx, http.MethodPost, endpoint, map[string]any{}, nil)
}

// Register creates (or returns) the user record for a subject.
func (c *Client) Register(ctx context.Context, subject, displayName string) (User, error) {
	body := map[string]any{"subject": subject, "display_name": displayName}
	var resp User
	err := c.do(ctx, http.MethodPost, "v0/users", body, &resp)
	return resp, err
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodGet, "v0/me", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
