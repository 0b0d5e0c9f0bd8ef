package openbanking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultTimeout   = 30 * time.Second
	institutionsPath = "/institutions"
	requisitionsPath = "/requisitions"
)

// Requisition statuses reported by the provider. A requisition is pending
// while the end user is still on the provider's consent screens.
const (
	StatusCreated   = "CR"
	StatusGiving    = "GA"
	StatusUndergone = "UA"
	StatusLinked    = "LN"
	StatusRejected  = "RJ"
	StatusExpired   = "EX"
	StatusSuspended = "SU"
)

// ErrRequisitionNotFound is returned when the provider no longer knows the
// requisition reference (404).
var ErrRequisitionNotFound = errors.New("requisition not found")

// Client handles communication with the open-banking provider API
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Ensure Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)

// NewClient creates a new open-banking provider client
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

// Institution is a bank supported by the provider
type Institution struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	LogoURL string `json:"logo"`
}

// InstitutionResponse represents the API response for the institution catalog
type InstitutionResponse struct {
	Success      bool          `json:"success"`
	Institutions []Institution `json:"institutions"`
	Count        int           `json:"count"`
	Timestamp    string        `json:"timestamp"`
}

// CreateRequisitionParams are the inputs for a new consent requisition
type CreateRequisitionParams struct {
	Reference         string `json:"reference"`
	InstitutionID     string `json:"institutionId"`
	RedirectURL       string `json:"redirect"`
	AccessWindowDays  int    `json:"accessValidForDays"`
	HistoryWindowDays int    `json:"maxHistoricalDays"`
}

// Requisition is the provider-side consent record. ConsentURL hosts the
// provider's consent screens; IBAN and AccountName are populated once the
// requisition reaches StatusLinked.
type Requisition struct {
	Ref           string `json:"reference"`
	InstitutionID string `json:"institutionId"`
	Status        string `json:"status"`
	ConsentURL    string `json:"link"`
	IBAN          string `json:"iban"`
	AccountName   string `json:"accountName"`
}

// Pending reports whether the end user is still inside the provider's
// consent screens.
func (r *Requisition) Pending() bool {
	switch r.Status {
	case StatusCreated, StatusGiving, StatusUndergone:
		return true
	}
	return false
}

// Linked reports whether consent was granted and accounts are available.
func (r *Requisition) Linked() bool {
	return r.Status == StatusLinked
}

// ErrorResponse represents an error response from the provider API
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ListInstitutions fetches the catalog of supported banking institutions.
// The catalog is fetched fresh on every call; it is deliberately not cached.
func (c *Client) ListInstitutions(ctx context.Context) ([]Institution, error) {
	body, _, err := c.doRequest(ctx, http.MethodGet, c.baseURL+institutionsPath, nil)
	if err != nil {
		return nil, err
	}

	var instResp InstitutionResponse
	if err := json.Unmarshal(body, &instResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if !instResp.Success {
		return nil, fmt.Errorf("API returned success=false")
	}

	return instResp.Institutions, nil
}

// CreateRequisition creates a new consent requisition for an institution.
// Every call creates a fresh requisition; re-running a wizard step never
// reuses a previous one.
func (c *Client) CreateRequisition(ctx context.Context, params CreateRequisitionParams) (*Requisition, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal requisition params: %w", err)
	}

	body, _, err := c.doRequest(ctx, http.MethodPost, c.baseURL+requisitionsPath, payload)
	if err != nil {
		return nil, err
	}

	var req Requisition
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &req, nil
}

// GetRequisition fetches the current state of a requisition by reference
func (c *Client) GetRequisition(ctx context.Context, ref string) (*Requisition, error) {
	body, status, err := c.doRequest(ctx, http.MethodGet, c.baseURL+requisitionsPath+"/"+ref, nil)
	if err != nil {
		if status == http.StatusNotFound {
			return nil, ErrRequisitionNotFound
		}
		return nil, err
	}

	var req Requisition
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &req, nil
}

// DeleteRequisition revokes a requisition and the consent behind it
func (c *Client) DeleteRequisition(ctx context.Context, ref string) error {
	_, status, err := c.doRequest(ctx, http.MethodDelete, c.baseURL+requisitionsPath+"/"+ref, nil)
	if err != nil {
		if status == http.StatusNotFound {
			return ErrRequisitionNotFound
		}
		return err
	}
	return nil
}

// doRequest executes an authenticated request and returns the raw body and
// HTTP status. Non-2xx responses are decoded into ErrorResponse when possible.
func (c *Client) doRequest(ctx context.Context, method, url string, payload []byte) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err != nil {
			return nil, resp.StatusCode, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
		}
		return nil, resp.StatusCode, fmt.Errorf("API error (status %d): %s - %s", resp.StatusCode, errResp.Error, errResp.Message)
	}

	return body, resp.StatusCode, nil
}
