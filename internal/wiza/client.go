package wiza

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/productcareerlyst/careerlyst/backend/internal/models"
	"github.com/productcareerlyst/careerlyst/backend/internal/tracing"
)

// ErrNoAPIKey is returned when the client was built without a key.
var ErrNoAPIKey = errors.New("wiza: api key not configured")

const (
	DefaultBaseURL     = "https://wiza.co"
	defaultMaxProfiles = 25
	defaultTimeout     = 15 * time.Second
)

// ListRequest describes the prospect list to build for one company.
type ListRequest struct {
	Name          string
	CompanyName   string
	CompanyDomain string
	MaxProfiles   int
}

// List is a Wiza prospect list as reported by the API.
type List struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Profiles int    `json:"stats_people,omitempty"`
}

type envelope struct {
	Status struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"status"`
	Data json.RawMessage `json:"data"`
}

// Client calls the Wiza REST API with bearer auth.
type Client struct {
	apiKey      string
	baseURL     string
	maxProfiles int
	httpClient  *http.Client
}

// NewClient builds a client. An empty baseURL selects the public API.
func NewClient(apiKey, baseURL string, maxProfiles int) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if maxProfiles <= 0 {
		maxProfiles = defaultMaxProfiles
	}
	return &Client{
		apiKey:      apiKey,
		baseURL:     strings.TrimRight(baseURL, "/"),
		maxProfiles: maxProfiles,
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// CreateProspectList asks Wiza to assemble a list of people at the company.
func (c *Client) CreateProspectList(ctx context.Context, req ListRequest) (*List, error) {
	ctx, span := tracing.StartSpan(ctx, "wiza.CreateProspectList",
		attribute.String("wiza.company_domain", req.CompanyDomain))
	defer span.End()

	if c.apiKey == "" {
		err := fmt.Errorf("%w: %w", models.ErrUpstream, ErrNoAPIKey)
		tracing.RecordError(span, err)
		return nil, err
	}
	if req.CompanyName == "" && req.CompanyDomain == "" {
		err := fmt.Errorf("wiza: company name or domain is required: %w", models.ErrValidation)
		tracing.RecordError(span, err)
		return nil, err
	}
	maxProfiles := req.MaxProfiles
	if maxProfiles <= 0 {
		maxProfiles = c.maxProfiles
	}
	name := req.Name
	if name == "" {
		company, _ := lo.Coalesce(req.CompanyName, req.CompanyDomain)
		name = company + " prospects"
	}

	filters := map[string]any{}
	if req.CompanyDomain != "" {
		filters["company_domain"] = []map[string]string{{"v": req.CompanyDomain, "s": "i"}}
	} else {
		filters["job_company"] = []map[string]string{{"v": req.CompanyName, "s": "i"}}
	}
	body := map[string]any{
		"list": map[string]any{
			"name":             name,
			"max_profiles":     maxProfiles,
			"enrichment_level": "partial",
			"filters":          filters,
		},
	}

	var list List
	if err := c.do(ctx, http.MethodPost, "/api/prospects/create_prospect_list", body, &list); err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("wiza: create prospect list: %w", err)
	}
	if list.ID == "" {
		err := fmt.Errorf("wiza: create prospect list: response has no list id: %w", models.ErrUpstream)
		tracing.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("wiza.list_id", list.ID))
	return &list, nil
}

// GetList fetches the current state of a list.
func (c *Client) GetList(ctx context.Context, listID string) (*List, error) {
	ctx, span := tracing.StartSpan(ctx, "wiza.GetList", attribute.String("wiza.list_id", listID))
	defer span.End()

	var list List
	if err := c.do(ctx, http.MethodGet, "/api/lists/"+url.PathEscape(listID), nil, &list); err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("wiza: get list %s: %w", listID, err)
	}
	return &list, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w: %w", models.ErrUpstream, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w: %w", models.ErrUpstream, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", message(env, resp), models.ErrNotFound)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("api error (%d): %s: %w", resp.StatusCode, message(env, resp), models.ErrUpstream)
	}
	if decodeErr != nil {
		return fmt.Errorf("parse response: %w: %w", models.ErrUpstream, decodeErr)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("parse response data: %w: %w", models.ErrUpstream, err)
	}
	return nil
}

func message(env envelope, resp *http.Response) string {
	if env.Status.Message != "" {
		return env.Status.Message
	}
	return http.StatusText(resp.StatusCode)
}

