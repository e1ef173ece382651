package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/CloudNativeWorks/elchi-runner/internal/httpclient"
	"github.com/CloudNativeWorks/elchi-runner/pkg/logger"
)

var ErrToken = errors.New("runner token request failed")

// TokenSource mints the short-lived tokens config.sh needs
type TokenSource interface {
	RegistrationToken(ctx context.Context) (string, error)
	RemoveToken(ctx context.Context) (string, error)
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenClient requests runner tokens from the GitHub actions API
type TokenClient struct {
	http    *httpclient.Client
	baseURL string
	scope   string
	logger  *logger.Logger
}

// NewTokenClient creates a client for scope ("repos/<owner>/<repo>" or
// "orgs/<org>"). h must carry the access token.
func NewTokenClient(h *httpclient.Client, baseURL, scope string) *TokenClient {
	return &TokenClient{
		http:    h,
		baseURL: strings.TrimRight(baseURL, "/"),
		scope:   scope,
		logger:  logger.NewLogger("runner-token"),
	}
}

// RegistrationToken returns a token for config.sh
func (c *TokenClient) RegistrationToken(ctx context.Context) (string, error) {
	return c.request(ctx, "registration-token")
}

// RemoveToken returns a token for config.sh remove
func (c *TokenClient) RemoveToken(ctx context.Context) (string, error) {
	return c.request(ctx, "remove-token")
}

func (c *TokenClient) request(ctx context.Context, kind string) (string, error) {
	url := fmt.Sprintf("%s/%s/actions/runners/%s", c.baseURL, c.scope, kind)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrToken, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrToken, kind, err)
	}
	defer resp.Body.Close()

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("%w: failed to decode %s response: %v", ErrToken, kind, err)
	}
	if tr.Token == "" {
		return "", fmt.Errorf("%w: empty %s in response", ErrToken, kind)
	}

	c.logger.WithFields(logger.Fields{
		"kind":       kind,
		"expires_at": tr.ExpiresAt,
	}).Debug("Runner token issued")
	return tr.Token, nil
}
