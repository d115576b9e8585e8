package provisioning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/biocloudlabs/backend/internal/domain/shared"
	"github.com/biocloudlabs/backend/internal/domain/vm"
	"github.com/biocloudlabs/backend/internal/infrastructure/config"
)

// Client talks to the infrastructure manager service over HTTP. The manager
// owns the actual cloud resources; this service only records the results.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a provisioning client from configuration
func NewClient(cfg config.ProvisioningConfig, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// setupResponse is the manager's provisioning reply. A populated Code field
// signals a manager-side failure even under HTTP 200.
type setupResponse struct {
	DNS  string `json:"dns"`
	IP   string `json:"ip"`
	Code int    `json:"code"`
}

// Setup requests a new machine from the manager
func (c *Client) Setup(ctx context.Context) (*vm.ProvisionedHost, error) {
	body, err := c.get(ctx, c.baseURL+"/vm/setup")
	if err != nil {
		return nil, err
	}

	var resp setupResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.logger.Error("provisioning setup returned malformed payload", zap.Error(err))
		return nil, shared.ErrUpstreamUnavailable
	}
	if resp.Code != 0 || resp.DNS == "" {
		c.logger.Error("provisioning setup failed upstream", zap.Int("code", resp.Code))
		return nil, shared.ErrUpstreamUnavailable
	}

	return &vm.ProvisionedHost{DNSName: resp.DNS, IP: resp.IP}, nil
}

// PowerOff asks the manager to deallocate a machine by its short host name
func (c *Client) PowerOff(ctx context.Context, name string) error {
	_, err := c.get(ctx, c.baseURL+"/vm/poweroff/"+url.PathEscape(name))
	return err
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("provisioning: failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		c.logger.Error("provisioning request failed", zap.String("endpoint", endpoint), zap.Error(err))
		return nil, shared.ErrUpstreamUnavailable
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, shared.ErrUpstreamUnavailable
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("provisioning returned non-OK status",
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode),
		)
		return nil, shared.ErrUpstreamUnavailable
	}

	return body, nil
}

var _ vm.Provisioner = (*Client)(nil)
