// Package installer talks to the external installer daemon over its Unix socket.
package installer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"codeberg.org/d-buckner/market-agent/internal/progress"
)

// Metadata is what the installer reports about an installed package
type Metadata struct {
	ShortVersion string `json:"shortVersion"`
	BuildVersion string `json:"buildVersion"`
}

// InstalledEntry is one element of the installed set
type InstalledEntry struct {
	MarketplaceID int64  `json:"marketplaceId"`
	ShortVersion  string `json:"shortVersion,omitempty"`
	BuildVersion  string `json:"buildVersion,omitempty"`
}

// Installation is an in-flight installation as reported by the daemon.
// FractionCompleted is negative while the installer has no estimate.
type Installation struct {
	ID                string  `json:"id"`
	FractionCompleted float64 `json:"fractionCompleted"`
	Cancelled         bool    `json:"cancelled"`
}

type appResponse struct {
	Installation      *Installation `json:"installation,omitempty"`
	InstalledMetadata *Metadata     `json:"installedMetadata,omitempty"`
	Installed         bool          `json:"installed"`
}

// AppState is the installer's view of one app. Installation is nil when nothing is in
// flight; Metadata is nil until the installer published it.
type AppState struct {
	Installed    bool
	Installation progress.Source
	Metadata     *Metadata
}

// InstallRequest hands a package to the installer
type InstallRequest struct {
	Account       string `json:"account"`
	MarketplaceID int64  `json:"marketplaceId"`
	PackageURL    string `json:"packageUrl"`
	IsUpdate      bool   `json:"isUpdate"`
	Token         string `json:"token"`
}

// Client communicates with the installer daemon via Unix socket
type Client struct {
	httpClient *http.Client
	socketPath string

	mu       sync.Mutex
	progress map[int64]*remoteProgress
}

// NewClient creates an installer client for the socket at socketPath
func NewClient(socketPath string) (*Client, error) {
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("installer socket not found at %s", socketPath)
	}
	return NewClientWithSocket(socketPath), nil
}

// NewClientWithSocket creates a client without checking that the socket exists
func NewClientWithSocket(socketPath string) *Client {
	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
		Timeout: 30 * time.Second,
	}

	return &Client{
		httpClient: httpClient,
		socketPath: socketPath,
		progress:   make(map[int64]*remoteProgress),
	}
}

// InstalledApps returns the installed set, keyed by marketplace identifier. The metadata
// is nil for entries the installer has not described yet.
func (c *Client) InstalledApps(ctx context.Context) (map[int64]*Metadata, error) {
	var entries []InstalledEntry
	if err := c.getJSON(ctx, "/v1/installed", &entries); err != nil {
		return nil, fmt.Errorf("failed to list installed apps: %w", err)
	}

	installed := make(map[int64]*Metadata, len(entries))
	for _, e := range entries {
		var md *Metadata
		if e.ShortVersion != "" {
			md = &Metadata{ShortVersion: e.ShortVersion, BuildVersion: e.BuildVersion}
		}
		installed[e.MarketplaceID] = md
	}
	return installed, nil
}

// App returns the installer's state for one app. The returned Installation is the same
// object across polls of the same installation and is refreshed by each call.
func (c *Client) App(ctx context.Context, marketplaceID int64) (*AppState, error) {
	var resp appResponse
	if err := c.getJSON(ctx, "/v1/apps/"+strconv.FormatInt(marketplaceID, 10), &resp); err != nil {
		return nil, fmt.Errorf("failed to get app %d: %w", marketplaceID, err)
	}

	state := &AppState{
		Installed: resp.Installed,
		Metadata:  resp.InstalledMetadata,
	}
	if p := c.trackInstallation(marketplaceID, resp.Installation); p != nil {
		state.Installation = p
	}
	return state, nil
}

func (c *Client) trackInstallation(marketplaceID int64, inst *Installation) *remoteProgress {
	c.mu.Lock()
	defer c.mu.Unlock()

	if inst == nil {
		delete(c.progress, marketplaceID)
		return nil
	}

	p, ok := c.progress[marketplaceID]
	if !ok || p.id != inst.ID {
		p = &remoteProgress{id: inst.ID, client: c}
		c.progress[marketplaceID] = p
	}
	p.update(inst.FractionCompleted, inst.Cancelled)
	return p
}

// Install hands a package to the installer. It returns once the daemon accepted the job.
func (c *Client) Install(ctx context.Context, req InstallRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal install request: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/install", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to start install: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("install returned status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// CancelInstallation cancels an in-flight installation
func (c *Client) CancelInstallation(ctx context.Context, id string) error {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/installations/"+url.PathEscape(id)+"/cancel", nil)
	if err != nil {
		return fmt.Errorf("failed to cancel installation: %w", err)
	}
	defer resp.Body.Close()

	// 404: the installation already finished
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("cancel returned status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// IsOpenable reports whether the installed app can be launched by bundle identifier
func (c *Client) IsOpenable(ctx context.Context, bundleID string) (bool, error) {
	params := url.Values{}
	params.Set("bundleId", bundleID)

	var result struct {
		Openable bool `json:"openable"`
	}
	if err := c.getJSON(ctx, "/v1/openable?"+params.Encode(), &result); err != nil {
		return false, fmt.Errorf("failed to check openable: %w", err)
	}
	return result.Openable, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s returned status %d: %s", path, resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	// Host is ignored by the unix dialer
	req, err := http.NewRequestWithContext(ctx, method, "http://installer"+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// remoteProgress mirrors the daemon's progress object for one installation
type remoteProgress struct {
	id     string
	client *Client

	mu         sync.Mutex
	fraction   float64
	cancelled  bool
	cancelOnce sync.Once
}

func (p *remoteProgress) update(fraction float64, cancelled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fraction = fraction
	// Local cancellation sticks even if the daemon has not caught up
	p.cancelled = p.cancelled || cancelled
}

func (p *remoteProgress) FractionCompleted() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fraction
}

func (p *remoteProgress) IsCancelled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelled
}

// Cancel marks the installation cancelled and asks the daemon to stop it
func (p *remoteProgress) Cancel() {
	p.mu.Lock()
	p.cancelled = true
	p.mu.Unlock()

	p.cancelOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// Best effort; the monitor observes the outcome on its next poll
		_ = p.client.CancelInstallation(ctx, p.id)
	})
}
