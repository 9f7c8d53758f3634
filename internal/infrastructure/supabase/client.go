package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/stripe-experiments/sync-data-stripe-app/internal/application/ports"
)

// DefaultAPIURL is the Supabase management API.
const DefaultAPIURL = "https://api.supabase.com"

// DefaultRegion is used when SUPABASE_REGION is unset.
const DefaultRegion = "us-east-1"

// UpstreamError carries a non-2xx control-plane response. The body is kept
// for FSM error classification, never returned raw over HTTP.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("supabase: status %d: %s", e.Status, e.Body)
}

// Client is a thin wrapper over the managed-Postgres control-plane API.
type Client struct {
	apiURL         string
	accessToken    string
	organizationID string
	http           *http.Client
	log            zerolog.Logger
}

func NewClient(apiURL, accessToken, organizationID string, log zerolog.Logger) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	return &Client{
		apiURL:         apiURL,
		accessToken:    accessToken,
		organizationID: organizationID,
		http:           &http.Client{Timeout: 30 * time.Second},
		log:            log,
	}
}

type createProjectRequest struct {
	Name           string `json:"name"`
	OrganizationID string `json:"organization_id"`
	DBPass         string `json:"db_pass"`
	Region         string `json:"region"`
}

type createProjectResponse struct {
	ID     string `json:"id"`
	Region string `json:"region"`
}

func (c *Client) CreateProject(ctx context.Context, name, dbPassword, region string) (*ports.ControlPlaneProject, error) {
	if region == "" {
		region = DefaultRegion
	}
	body, err := c.do(ctx, http.MethodPost, "/v1/projects", createProjectRequest{
		Name:           name,
		OrganizationID: c.organizationID,
		DBPass:         dbPassword,
		Region:         region,
	})
	if err != nil {
		return nil, err
	}
	var resp createProjectResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("supabase: decode create project response: %w", err)
	}
	if resp.Region == "" {
		resp.Region = region
	}
	c.log.Info().Str("project_ref", resp.ID).Str("region", resp.Region).Msg("supabase project created")
	return &ports.ControlPlaneProject{Ref: resp.ID, Region: resp.Region}, nil
}

type runQueryRequest struct {
	Query string `json:"query"`
}

func (c *Client) RunQuery(ctx context.Context, projectRef, sql string) ([]map[string]any, error) {
	body, err := c.do(ctx, http.MethodPost, "/v1/projects/"+projectRef+"/database/query", runQueryRequest{Query: sql})
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, fmt.Errorf("supabase: decode query response: %w", err)
		}
	}
	return rows, nil
}

// DeleteProject removes a project. A 404 propagates as an UpstreamError like
// any other non-2xx: the caller must not treat an unknown ref as deleted.
func (c *Client) DeleteProject(ctx context.Context, projectRef string) error {
	_, err := c.do(ctx, http.MethodDelete, "/v1/projects/"+projectRef, nil)
	if err == nil {
		c.log.Info().Str("project_ref", projectRef).Msg("supabase project deleted")
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

var _ ports.ControlPlane = (*Client)(nil)
