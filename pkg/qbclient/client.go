// qbclient/client.go
package qbclient

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

const defaultMinorVersion = "75"

// APIError is a QuickBooks fault or a non-2xx response.
type APIError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
	Detail     string
	Element    string
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "QuickBooks API error (status %d", e.StatusCode)
	if e.Code != "" {
		fmt.Fprintf(&b, ", code %s", e.Code)
	}
	b.WriteString(")")
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if e.Detail != "" && e.Detail != e.Message {
		b.WriteString(" - " + e.Detail)
	}
	if e.Element != "" {
		b.WriteString(" [element " + e.Element + "]")
	}
	return b.String()
}

// IsAuthError reports whether err means the access token was not accepted.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden {
		return true
	}
	switch apiErr.Code {
	case "3200", "3100", "AuthenticationFailed":
		return true
	}
	return strings.EqualFold(apiErr.Type, "AUTHENTICATION")
}

// Client is the main QuickBooks API client
type Client struct {
	baseURL      string
	appBaseURL   string
	minorVersion string
	accessToken  string
	realmID      string
	httpClient   *http.Client
}

// NewClient creates a new QuickBooks API client
func NewClient(baseURL, appBaseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		appBaseURL:   strings.TrimRight(appBaseURL, "/"),
		minorVersion: defaultMinorVersion,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// WithSession returns a copy of the client bound to an access token and company
func (c *Client) WithSession(accessToken, realmID string) *Client {
	client := *c
	client.accessToken = accessToken
	client.realmID = realmID
	return &client
}

// InvoiceURL builds the human-viewable link for an invoice id
func (c *Client) InvoiceURL(invoiceID string) string {
	return fmt.Sprintf("%s/app/invoice?txnId=%s", c.appBaseURL, url.QueryEscape(invoiceID))
}

// Query runs a QuickBooks SQL-like query; out receives the QueryResponse object.
func (c *Client) Query(ctx context.Context, query string, out any) error {
	endpoint := fmt.Sprintf("%s/v3/company/%s/query?query=%s", c.baseURL, url.PathEscape(c.realmID), url.QueryEscape(query))
	var envelope struct {
		QueryResponse json.RawMessage `json:"QueryResponse"`
	}
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &envelope); err != nil {
		return err
	}
	if len(envelope.QueryResponse) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.QueryResponse, out)
}

func (c *Client) create(ctx context.Context, entity string, in, out any) error {
	endpoint := fmt.Sprintf("%s/v3/company/%s/%s", c.baseURL, url.PathEscape(c.realmID), strings.ToLower(entity))
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", entity, err)
	}
	var raw map[string]json.RawMessage
	if err := c.do(ctx, http.MethodPost, endpoint, body, &raw); err != nil {
		return err
	}
	payload, ok := raw[entity]
	if !ok {
		return nil
	}
	return json.Unmarshal(payload, out)
}

// do makes an authenticated request to the QuickBooks API
func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	if c.accessToken == "" || c.realmID == "" {
		return errors.New("QuickBooks session not set")
	}

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	query := req.URL.Query()
	query.Set("minorversion", c.minorVersion)
	req.URL.RawQuery = query.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseFault(resp.StatusCode, data)
	}

	// QuickBooks may answer 200 with a Fault body.
	if apiErr := faultFrom(resp.StatusCode, data); apiErr != nil {
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse QuickBooks response: %w", err)
	}
	return nil
}

type faultBody struct {
	Fault *struct {
		Type  string `json:"type"`
		Error []struct {
			Message string `json:"Message"`
			Detail  string `json:"Detail"`
			Code    string `json:"code"`
			Element string `json:"element"`
		} `json:"Error"`
	} `json:"Fault"`
}

func faultFrom(status int, data []byte) *APIError {
	var fb faultBody
	if err := json.Unmarshal(data, &fb); err != nil || fb.Fault == nil || len(fb.Fault.Error) == 0 {
		return nil
	}
	first := fb.Fault.Error[0]
	return &APIError{
		StatusCode: status,
		Type:       fb.Fault.Type,
		Code:       first.Code,
		Message:    first.Message,
		Detail:     first.Detail,
		Element:    first.Element,
	}
}

func parseFault(status int, data []byte) error {
	if apiErr := faultFrom(status, data); apiErr != nil {
		return apiErr
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return &APIError{StatusCode: status, Message: msg}
}

// quote escapes a value for use inside a QuickBooks query string literal.
func quote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", `\'`) + "'"
}
