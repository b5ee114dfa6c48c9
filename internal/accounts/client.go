package accounts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/convohq/convo/internal/models"
	"github.com/convohq/convo/internal/service"
)

const requestTimeout = 3 * time.Second

// Client resolves user display profiles from the account service.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
		logger:  logger.Named("accounts"),
	}
}

// Profile fetches one user's profile. A missing user maps onto the
// not-found sentinel so callers can degrade instead of erroring.
func (c *Client) Profile(ctx context.Context, tenantID, userID uuid.UUID) (*service.Profile, error) {
	if c.baseURL == "" {
		return nil, models.NotFoundf("profile %s", userID)
	}

	url := fmt.Sprintf("%s/internal/users/%s", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build profile request: %w", err)
	}
	req.Header.Set("X-Tenant-ID", tenantID.String())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch profile %s: %w", userID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, models.NotFoundf("profile %s", userID)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("fetch profile %s: status %d", userID, resp.StatusCode)
	}

	var profile service.Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", userID, err)
	}
	return &profile, nil
}
