package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/verdantops/verdant-events/pkg/errors"
)

const responseBodyReadLimit int64 = 1024

// ServiceInfo is the catalog service's view of a bookable service.
type ServiceInfo struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	SpecialtyID int64           `json:"specialty_id"`
	BasePrice   decimal.Decimal `json:"base_price"`
	Active      bool            `json:"active"`
}

// CatalogClient checks service references against the catalog service.
type CatalogClient struct {
	httpClient *http.Client
	baseURL    string
}

// CatalogOption configures optional catalog client behavior.
type CatalogOption func(*CatalogClient)

// WithCatalogHTTPClient overrides the default HTTP client.
func WithCatalogHTTPClient(hc *http.Client) CatalogOption {
	return func(c *CatalogClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewCatalogClient builds a catalog client. The timeout bounds every lookup;
// workflows treat an exceeded deadline as a dependency failure, not a veto.
func NewCatalogClient(baseURL string, timeout time.Duration, opts ...CatalogOption) (*CatalogClient, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "catalog base url is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := &CatalogClient{
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

// GetService fetches one service by id. A missing or retired service comes
// back as CodeNotFound; transport and server failures as CodeDependency.
func (c *CatalogClient) GetService(ctx context.Context, serviceID int64) (*ServiceInfo, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "catalog client not configured")
	}
	if serviceID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "service id must be positive")
	}

	reqURL := fmt.Sprintf("%s/api/v1/services/%d", c.baseURL, serviceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build service lookup request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute service lookup")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("service %d not found", serviceID))
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
			"service lookup failed")
	}

	var info ServiceInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode service response")
	}
	if !info.Active {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("service %d is retired", serviceID))
	}
	return &info, nil
}
