package planlinesdk

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

// Client is a minimal Planline HTTP API client for agent integrations.
type Client struct {
	BaseURL     string
	BasePath    string
	AgentToken  string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "api",
		Timeout:  10 * time.Second,
	}
}

// Project mirrors the API project model (partial).
type Project struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Status    string   `json:"status"`
	Priority  string   `json:"priority"`
	Progress  int      `json:"progress"`
	Category  string   `json:"category"`
	Tags      []string `json:"tags"`
	UpdatedAt string   `json:"updatedAt"`
}

// Run mirrors the API agent run model (partial).
type Run struct {
	ID        string  `json:"id"`
	ProjectID *string `json:"projectId"`
	AgentID   *string `json:"agentId"`
	Status    string  `json:"status"`
	StartedAt string  `json:"startedAt"`
}

// Event mirrors a ledger entry.
type Event struct {
	ID        string  `json:"id"`
	TS        string  `json:"ts"`
	Type      string  `json:"type"`
	Level     string  `json:"level"`
	ProjectID *string `json:"projectId"`
	Message   *string `json:"message"`
}

// Action is one mutation to apply.
type Action struct {
	ID          string         `json:"id,omitempty"`
	ProjectID   string         `json:"projectId,omitempty"`
	Type        string         `json:"type"`
	Params      map[string]any `json:"params"`
	RecordOnly  bool           `json:"recordOnly,omitempty"`
	IfUpdatedAt string         `json:"ifUpdatedAt,omitempty"`
}

// ActionResult is the per-action outcome.
type ActionResult struct {
	ID       string   `json:"id"`
	Status   string   `json:"status"`
	Error    string   `json:"error,omitempty"`
	Expected string   `json:"expected,omitempty"`
	Actual   string   `json:"actual,omitempty"`
	Project  *Project `json:"project,omitempty"`
}

// ActionOutcome is the whole-request outcome.
type ActionOutcome struct {
	Results     []ActionResult `json:"results"`
	Changed     bool           `json:"changed"`
	LastUpdated string         `json:"lastUpdated,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ApplyActions posts a batch of actions for a project.
func (c *Client) ApplyActions(ctx context.Context, agentID, runID, projectID string, actions []Action) (ActionOutcome, error) {
	body := map[string]any{
		"agentId":   agentID,
		"runId":     runID,
		"projectId": projectID,
		"actions":   actions,
	}
	var resp ActionOutcome
	err := c.do(ctx, http.MethodPost, c.apiPath("agent/actions"), body, &resp)
	return resp, err
}

// CreateRun creates (or fetches, when the id exists) an agent run.
func (c *Client) CreateRun(ctx context.Context, run map[string]any) (Run, error) {
	var resp struct {
		Data Run `json:"data"`
	}
	err := c.do(ctx, http.MethodPost, c.apiPath("agent/runs"), run, &resp)
	return resp.Data, err
}

// AppendEvent appends a ledger event; replaying an id is a no-op.
func (c *Client) AppendEvent(ctx context.Context, event map[string]any) (Event, bool, error) {
	var resp struct {
		Data     Event `json:"data"`
		Inserted bool  `json:"inserted"`
	}
	err := c.do(ctx, http.MethodPost, c.apiPath("agent/events"), event, &resp)
	return resp.Data, resp.Inserted, err
}

// Events returns recent ledger events in chronological order.
func (c *Client) Events(ctx context.Context, projectID string, limit int) ([]Event, error) {
	endpoint := c.apiPath("agent/events")
	params := url.Values{}
	if projectID != "" {
		params.Set("projectId", projectID)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp struct {
		Data []Event `json:"data"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Data, err
}

// GetProject fetches one project.
func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp struct {
		Data Project `json:"data"`
	}
	err := c.do(ctx, http.MethodGet, c.apiPath("projects/"+url.PathEscape(id)), nil, &resp)
	return resp.Data, err
}

// IngestUsage records token usage; replaying an id is a no-op.
func (c *Client) IngestUsage(ctx context.Context, record map[string]any) error {
	return c.do(ctx, http.MethodPost, c.apiPath("agent/usage"), record, nil)
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
	case c.AgentToken != "":
		req.Header.Set("X-Agent-Token", c.AgentToken)
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

func (c *Client) apiPath(p string) string {
	return strings.Trim(c.BasePath, "/") + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
