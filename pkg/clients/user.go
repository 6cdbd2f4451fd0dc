package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/verdantops/verdant-events/pkg/errors"
)

// ClientInfo is the user service's view of a booking client.
type ClientInfo struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Email  string    `json:"email"`
	Active bool      `json:"active"`
}

// UserClient resolves client accounts from the user service.
type UserClient struct {
	httpClient *http.Client
	baseURL    string
}

// UserOption configures optional user client behavior.
type UserOption func(*UserClient)

// WithUserHTTPClient overrides the default HTTP client.
func WithUserHTTPClient(hc *http.Client) UserOption {
	return func(c *UserClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func NewUserClient(baseURL string, timeout time.Duration, opts ...UserOption) (*UserClient, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user service base url is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := &UserClient{
		baseURL:    trimmed,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// GetClient fetches one client account by id. Deactivated accounts are
// reported as CodeNotFound so callers treat them like missing ones.
func (c *UserClient) GetClient(ctx context.Context, clientID uuid.UUID) (*ClientInfo, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "user client not configured")
	}
	if clientID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "client id is required")
	}

	reqURL := fmt.Sprintf("%s/api/v1/clients/%s", c.baseURL, url.PathEscape(clientID.String()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build client lookup request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute client lookup")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("client %s not found", clientID))
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
			"client lookup failed")
	}

	var info ClientInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode client response")
	}
	if !info.Active {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("client %s is deactivated", clientID))
	}
	return &info, nil
}
