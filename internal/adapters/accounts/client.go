// Package accounts looks up user profiles in the accounts directory service.
package accounts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/crestgen/annex/config"
	"github.com/crestgen/annex/internal/domain/model"
	apperrors "github.com/crestgen/annex/internal/errors"
)

const maxErrorBodyBytes = 512

// Client fetches profiles over HTTP from the accounts service.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// ClientOptions carries optional Client dependencies.
type ClientOptions struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewClient constructs an accounts Client.
func NewClient(cfg config.AccountsConfig, opts ClientOptions) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, apperrors.Validation("accounts base url is required")
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    hc,
		logger:  logger.With("component", "accounts_client"),
	}, nil
}

// GetProfile fetches the user's profile. An unknown user yields a NotFound
// error; any other non-200 response is an internal error.
func (c *Client) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	if userID == "" {
		return nil, apperrors.Validation("user id is required")
	}

	endpoint := c.baseURL + "/profiles/" + url.PathEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build profile request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch profile for %s: %w", userID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		// decoded below
	case http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, apperrors.NotFoundf("profile %q not found", userID)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, apperrors.Internalf("accounts service returned %d for %s: %s",
			resp.StatusCode, userID, string(body))
	}

	var profile model.Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("decode profile for %s: %w", userID, err)
	}
	if profile.Identity == "" {
		profile.Identity = userID
	}
	return &profile, nil
}
