// hubspot/client.go
package hubspot

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
)

const DefaultBaseURL = "https://api.hubapi.com"

var (
	dealProperties    = []string{"amount", "description", "closedate", "dealname"}
	contactProperties = []string{"firstname", "lastname", "email"}
)

// TokenFunc returns the private-app access token used for every request.
type TokenFunc func(ctx context.Context) (string, error)

// APIError is a non-2xx HubSpot response.
type APIError struct {
	StatusCode    int
	Category      string
	Message       string
	CorrelationID string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("HubSpot API error (status %d", e.StatusCode)
	if e.Category != "" {
		msg += ", " + e.Category
	}
	msg += ")"
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// IsNotFound reports whether err is a HubSpot 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Object is a CRM v3 object with its requested properties.
type Object struct {
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
	Archived   bool              `json:"archived"`
}

// Deal carries the deal fields an invoice is built from. Amount is left as
// the raw property value.
type Deal struct {
	ID          string
	Name        string
	Amount      string
	Description string
	CloseDate   string
}

type Contact struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
}

// Client is a minimal HubSpot CRM v3 client.
type Client struct {
	baseURL        string
	token          TokenFunc
	onUnauthorized func()
	httpClient     *http.Client
}

type Option func(*Client)

// WithUnauthorizedHook registers a callback run once when HubSpot rejects the
// token; the request is then retried with a freshly resolved token.
func WithUnauthorizedHook(fn func()) Option {
	return func(c *Client) { c.onUnauthorized = fn }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(baseURL string, token TokenFunc, timeout time.Duration, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StaticToken adapts a fixed token to a TokenFunc.
func StaticToken(token string) TokenFunc {
	return func(context.Context) (string, error) {
		if token == "" {
			return "", errors.New("hubspot access token not configured")
		}
		return token, nil
	}
}

func (c *Client) GetDeal(ctx context.Context, id string) (*Deal, error) {
	obj, err := c.getObject(ctx, "deals", id, dealProperties)
	if err != nil {
		return nil, fmt.Errorf("failed to get deal %s: %w", id, err)
	}
	return &Deal{
		ID:          obj.ID,
		Name:        obj.Properties["dealname"],
		Amount:      obj.Properties["amount"],
		Description: obj.Properties["description"],
		CloseDate:   obj.Properties["closedate"],
	}, nil
}

func (c *Client) GetContact(ctx context.Context, id string) (*Contact, error) {
	obj, err := c.getObject(ctx, "contacts", id, contactProperties)
	if err != nil {
		return nil, fmt.Errorf("failed to get contact %s: %w", id, err)
	}
	return &Contact{
		ID:        obj.ID,
		FirstName: obj.Properties["firstname"],
		LastName:  obj.Properties["lastname"],
		Email:     obj.Properties["email"],
	}, nil
}

// UpdateDeal patches the given properties onto a deal.
func (c *Client) UpdateDeal(ctx context.Context, id string, props map[string]string) error {
	body, err := json.Marshal(map[string]any{"properties": props})
	if err != nil {
		return fmt.Errorf("failed to marshal deal update: %w", err)
	}
	endpoint := fmt.Sprintf("%s/crm/v3/objects/deals/%s", c.baseURL, url.PathEscape(id))
	if err := c.do(ctx, http.MethodPatch, endpoint, body, nil); err != nil {
		return fmt.Errorf("failed to update deal %s: %w", id, err)
	}
	return nil
}

func (c *Client) getObject(ctx context.Context, objectType, id string, props []string) (*Object, error) {
	q := url.Values{}
	q.Set("properties", strings.Join(props, ","))
	endpoint := fmt.Sprintf("%s/crm/v3/objects/%s/%s?%s", c.baseURL, objectType, url.PathEscape(id), q.Encode())
	var obj Object
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	err := c.send(ctx, method, endpoint, body, out)
	var apiErr *APIError
	if c.onUnauthorized != nil && errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		c.onUnauthorized()
		return c.send(ctx, method, endpoint, body, out)
	}
	return err
}

func (c *Client) send(ctx context.Context, method, endpoint string, body []byte, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve access token: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload struct {
			Category      string `json:"category"`
			Message       string `json:"message"`
			CorrelationID string `json:"correlationId"`
		}
		if json.Unmarshal(data, &payload) == nil && payload.Message != "" {
			apiErr.Category = payload.Category
			apiErr.Message = payload.Message
			apiErr.CorrelationID = payload.CorrelationID
		} else {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse HubSpot response: %w", err)
	}
	return nil
}
