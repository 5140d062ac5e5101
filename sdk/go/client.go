// Package pfmtsdk is a small HTTP client for the PFMT API.
package pfmtsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to one PFMT server. Exactly one of BearerToken or APIKey is
// normally set; the dev headers are only honoured by servers started with
// --allow-dev-headers.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	DevUserID   string
	DevRole     string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/api",
		Timeout:  10 * time.Second,
	}
}

type Session struct {
	ID          string                    `json:"session_id"`
	UserID      string                    `json:"user_id"`
	CurrentStep int                       `json:"current_step"`
	TemplateID  *string                   `json:"template_id,omitempty"`
	StepData    map[string]map[string]any `json:"step_data"`
	Status      string                    `json:"status"`
	ProjectID   *string                   `json:"project_id,omitempty"`
	Version     int                       `json:"version"`
	CreatedAt   string                    `json:"created_at"`
	UpdatedAt   string                    `json:"updated_at"`
}

type Template struct {
	ID          string                    `json:"id"`
	Name        string                    `json:"name"`
	Description string                    `json:"description,omitempty"`
	Defaults    map[string]map[string]any `json:"defaults,omitempty"`
}

type SessionInit struct {
	Session  Session   `json:"session"`
	Template *Template `json:"template,omitempty"`
}

type Project struct {
	ID                     string  `json:"id"`
	Code                   string  `json:"code"`
	Name                   string  `json:"name"`
	Category               string  `json:"category,omitempty"`
	Budget                 float64 `json:"budget"`
	FundingSource          string  `json:"funding_source,omitempty"`
	ProjectManagerID       *string `json:"project_manager_id,omitempty"`
	SeniorProjectManagerID *string `json:"senior_project_manager_id,omitempty"`
	WorkflowStatus         string  `json:"workflow_status"`
	LifecycleStatus        string  `json:"lifecycle_status"`
	CreatedBy              string  `json:"created_by"`
	Source                 string  `json:"source"`
	CreatedAt              string  `json:"created_at"`
	UpdatedAt              string  `json:"updated_at"`
}

type Counts struct {
	Stakeholders int `json:"stakeholders"`
	Risks        int `json:"risks"`
	Vendors      int `json:"vendors"`
	Milestones   int `json:"milestones"`
	Locations    int `json:"locations"`
	BudgetItems  int `json:"budget_items"`
}

type WorkflowStatus struct {
	ProjectID       string  `json:"projectId"`
	Code            string  `json:"code"`
	WorkflowStatus  string  `json:"workflowStatus"`
	LifecycleStatus string  `json:"lifecycleStatus"`
	AssignedPM      *string `json:"assignedPM,omitempty"`
	AssignedSPM     *string `json:"assignedSPM,omitempty"`
	Counts          Counts  `json:"counts"`
}

type Version struct {
	ID             string  `json:"id"`
	ProjectID      string  `json:"project_id"`
	VersionNumber  int     `json:"version_number"`
	Status         string  `json:"status"`
	IsCurrent      bool    `json:"is_current"`
	ChangeSummary  string  `json:"change_summary,omitempty"`
	DecisionReason *string `json:"decision_reason,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// EventsPage is one page of a project's audit trail, newest first.
type EventsPage struct {
	Items      []Event `json:"items"`
	NextCursor int64   `json:"nextCursor,omitempty"`
}

type FieldDetail struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type Validation struct {
	Valid       bool                     `json:"valid"`
	FieldErrors map[string][]FieldDetail `json:"fieldErrors,omitempty"`
}

// APIError is the server's error envelope for any non-2xx response.
type APIError struct {
	StatusCode    int                      `json:"-"`
	Code          string                   `json:"code"`
	Message       string                   `json:"message"`
	FieldErrors   map[string][]FieldDetail `json:"fieldErrors,omitempty"`
	NextAllowed   *int                     `json:"nextAllowed,omitempty"`
	CurrentStep   *int                     `json:"currentStep,omitempty"`
	CorrelationID string                   `json:"correlationId,omitempty"`
	Body          string                   `json:"-"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// HasField reports whether the error carries a field error with code.
func (e *APIError) HasField(field, code string) bool {
	for _, d := range e.FieldErrors[field] {
		if d.Code == code {
			return true
		}
	}
	return false
}

// Wizard

func (c *Client) Templates(ctx context.Context) ([]Template, error) {
	var out []Template
	err := c.do(ctx, http.MethodGet, "project-wizard/templates", nil, &out)
	return out, err
}

// StartSession opens a wizard session, prefilled from templateID when set.
func (c *Client) StartSession(ctx context.Context, templateID string) (SessionInit, error) {
	var body any
	if templateID != "" {
		body = map[string]string{"templateId": templateID}
	}
	var out SessionInit
	err := c.do(ctx, http.MethodPost, "project-wizard/init", body, &out)
	return out, err
}

func (c *Client) Session(ctx context.Context, id string) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodGet, "project-wizard/session/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *Client) Sessions(ctx context.Context, status string) ([]Session, error) {
	endpoint := "project-wizard/sessions"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var out []Session
	err := c.do(ctx, http.MethodGet, endpoint, nil, &out)
	return out, err
}

// SubmitStep merges data into step. With advance set the session also moves
// to the next step.
func (c *Client) SubmitStep(ctx context.Context, id string, step int, data map[string]any, advance bool) (Session, error) {
	var out Session
	endpoint := fmt.Sprintf("project-wizard/session/%s/step/%d", url.PathEscape(id), step)
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"data": data, "advance": advance}, &out)
	return out, err
}

func (c *Client) Next(ctx context.Context, id string) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "project-wizard/session/"+url.PathEscape(id)+"/next", nil, &out)
	return out, err
}

func (c *Client) Back(ctx context.Context, id string) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "project-wizard/session/"+url.PathEscape(id)+"/back", nil, &out)
	return out, err
}

// Validate dry-runs validation. Step 0 checks everything collected so far
// against the completion rules.
func (c *Client) Validate(ctx context.Context, id string, step int, data map[string]any) (Validation, error) {
	var body any
	if step > 0 || data != nil {
		body = map[string]any{"step": step, "data": data}
	}
	var out Validation
	err := c.do(ctx, http.MethodPost, "project-wizard/session/"+url.PathEscape(id)+"/validate", body, &out)
	return out, err
}

func (c *Client) Complete(ctx context.Context, id string) (Project, error) {
	var out Project
	err := c.do(ctx, http.MethodPost, "project-wizard/session/"+url.PathEscape(id)+"/complete", nil, &out)
	return out, err
}

func (c *Client) Cancel(ctx context.Context, id, reason string) (Session, error) {
	endpoint := "project-wizard/session/" + url.PathEscape(id)
	if reason != "" {
		endpoint += "?reason=" + url.QueryEscape(reason)
	}
	var out Session
	err := c.do(ctx, http.MethodDelete, endpoint, nil, &out)
	return out, err
}

// Workflow

// Initiate starts a project through the workflow. req uses the API's field
// names (projectName, category, budget, fundingSource, ...).
func (c *Client) Initiate(ctx context.Context, req map[string]any) (Project, error) {
	var out Project
	err := c.do(ctx, http.MethodPost, "project-workflow/initiate", req, &out)
	return out, err
}

func (c *Client) Assign(ctx context.Context, projectID, pm, spm string) (Project, error) {
	body := map[string]any{"assignedPM": pm}
	if spm != "" {
		body["assignedSPM"] = spm
	}
	var out Project
	err := c.do(ctx, http.MethodPost, "project-workflow/"+url.PathEscape(projectID)+"/assign", body, &out)
	return out, err
}

func (c *Client) Finalize(ctx context.Context, projectID string, req map[string]any) (Project, error) {
	var out Project
	err := c.do(ctx, http.MethodPost, "project-workflow/"+url.PathEscape(projectID)+"/finalize", req, &out)
	return out, err
}

func (c *Client) Transition(ctx context.Context, projectID, status string) (Project, error) {
	var out Project
	err := c.do(ctx, http.MethodPost, "project-workflow/"+url.PathEscape(projectID)+"/transition", map[string]string{"status": status}, &out)
	return out, err
}

func (c *Client) WorkflowStatus(ctx context.Context, projectID string) (WorkflowStatus, error) {
	var out WorkflowStatus
	err := c.do(ctx, http.MethodGet, "project-workflow/"+url.PathEscape(projectID)+"/status", nil, &out)
	return out, err
}

// Projects and versions

func (c *Client) Projects(ctx context.Context, workflowStatus string, limit int) ([]Project, error) {
	q := url.Values{}
	if workflowStatus != "" {
		q.Set("workflowStatus", workflowStatus)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	endpoint := "projects"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var out []Project
	err := c.do(ctx, http.MethodGet, endpoint, nil, &out)
	return out, err
}

func (c *Client) Events(ctx context.Context, projectID string, limit int, cursor int64) (EventsPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor > 0 {
		q.Set("cursor", strconv.FormatInt(cursor, 10))
	}
	endpoint := "projects/" + url.PathEscape(projectID) + "/events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var out EventsPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &out)
	return out, err
}

func (c *Client) Versions(ctx context.Context, projectID string) ([]Version, error) {
	var out []Version
	err := c.do(ctx, http.MethodGet, c.versionsPath(projectID, ""), nil, &out)
	return out, err
}

func (c *Client) CreateDraft(ctx context.Context, projectID, summary string, snapshot map[string]any) (Version, error) {
	var out Version
	body := map[string]any{"changeSummary": summary}
	if snapshot != nil {
		body["snapshot"] = snapshot
	}
	err := c.do(ctx, http.MethodPost, c.versionsPath(projectID, ""), body, &out)
	return out, err
}

func (c *Client) SubmitVersion(ctx context.Context, projectID, versionID string) (Version, error) {
	var out Version
	err := c.do(ctx, http.MethodPost, c.versionsPath(projectID, versionID)+"/submit", nil, &out)
	return out, err
}

func (c *Client) ApproveVersion(ctx context.Context, projectID, versionID string) (Version, error) {
	var out Version
	err := c.do(ctx, http.MethodPost, c.versionsPath(projectID, versionID)+"/approve", nil, &out)
	return out, err
}

func (c *Client) RejectVersion(ctx context.Context, projectID, versionID, reason string) (Version, error) {
	var out Version
	err := c.do(ctx, http.MethodPost, c.versionsPath(projectID, versionID)+"/reject", map[string]string{"reason": reason}, &out)
	return out, err
}

func (c *Client) versionsPath(projectID, versionID string) string {
	p := "projects/" + url.PathEscape(projectID) + "/versions"
	if versionID != "" {
		p += "/" + url.PathEscape(versionID)
	}
	return p
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	var reader io.Reader = http.NoBody
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		reader = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(endpoint), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.DevUserID != "":
		req.Header.Set("X-User-Id", c.DevUserID)
		if c.DevRole != "" {
			req.Header.Set("X-User-Role", c.DevRole)
		}
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	if !env.Success {
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	return json.Unmarshal(env.Data, out)
}

func (c *Client) url(endpoint string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base + "/" + strings.TrimLeft(endpoint, "/")
}
