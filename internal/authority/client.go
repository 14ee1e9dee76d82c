package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"codeberg.org/d-buckner/market-agent/internal/operror"
)

// Client talks to the install authority
type Client struct {
	baseURL      string
	clientID     string
	httpClient   *http.Client // install tokens
	pinnedClient *http.Client // promo redemption
}

// Config holds client settings. HTTPClient and PinnedClient override the defaults.
type Config struct {
	BaseURL      string
	ClientID     string
	Pin          PinConfig
	HTTPClient   *http.Client
	PinnedClient *http.Client
}

// NewClient creates a new install authority client
func NewClient(cfg Config) (*Client, error) {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	pinnedClient := cfg.PinnedClient
	if pinnedClient == nil {
		transport, err := NewPinnedTransport(cfg.Pin)
		if err != nil {
			return nil, fmt.Errorf("failed to create pinned transport: %w", err)
		}
		pinnedClient = &http.Client{Transport: transport, Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		clientID:     cfg.ClientID,
		httpClient:   httpClient,
		pinnedClient: pinnedClient,
	}, nil
}

type installTokenRequest struct {
	BundleID   string `json:"bundleID"`
	Redownload bool   `json:"redownload"`
}

type installTokenResponse struct {
	Token string `json:"token"`
}

type promoRequest struct {
	Session string `json:"session"`
	Email   string `json:"email"`
}

type promoResponse struct {
	PromoExpiration string `json:"promoExpiration"`
}

// RequestInstallToken exchanges a bundle identifier for a one-time install token.
// Failures are not retried.
func (c *Client) RequestInstallToken(ctx context.Context, bundleID string, isRedownload bool) (string, error) {
	var resp installTokenResponse
	err := c.post(ctx, c.httpClient, "/install-token", installTokenRequest{BundleID: bundleID, Redownload: isRedownload}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("install authority returned an empty token")
	}
	return resp.Token, nil
}

// RedeemPromo redeems a promotion session over the pinned connection and returns when
// the promotion expires.
func (c *Client) RedeemPromo(ctx context.Context, session, email string) (time.Time, error) {
	var resp promoResponse
	if err := c.post(ctx, c.pinnedClient, "/pal-promo", promoRequest{Session: session, Email: email}, &resp); err != nil {
		return time.Time{}, err
	}

	expiration, err := time.Parse(time.RFC3339, resp.PromoExpiration)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse promo expiration %q: %w", resp.PromoExpiration, err)
	}
	return expiration, nil
}

func (c *Client) post(ctx context.Context, client *http.Client, path string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.clientID != "" {
		req.Header.Set("X-Client-ID", c.clientID)
	}

	resp, err := client.Do(req)
	if err != nil {
		return &operror.NetworkError{Err: fmt.Errorf("executing request: %w", err)}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return &operror.NetworkError{
			Status: resp.StatusCode,
			Err:    fmt.Errorf("POST %s: %s", path, strings.TrimSpace(string(body))),
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
