// Package manifest checks that the package hosted at a download URL is the one the
// catalog describes.
package manifest

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"codeberg.org/d-buckner/market-agent/internal/catalog"
	"codeberg.org/d-buckner/market-agent/internal/operror"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "manifest.schema.json"

// Manifest is the document hosted next to a package
type Manifest struct {
	MarketplaceAppID json.Number `json:"marketplaceAppId"`
	BundleID         string      `json:"bundleId"`
	ShortVersion     string      `json:"shortVersionString"`
	BundleVersion    string      `json:"bundleVersion"`
}

// VerifierInterface is implemented by Verifier
type VerifierInterface interface {
	Verify(ctx context.Context, app *catalog.App, version *catalog.AppVersion) error
}

var _ VerifierInterface = (*Verifier)(nil)

// Config holds the verifier's optional dependencies
type Config struct {
	HTTPClient *http.Client // Defaults to a client with a cookie jar
	Exceptions *Exceptions  // Defaults to the embedded table
	Language   string       // Language for failure titles
	Logger     *slog.Logger
}

// Verifier fetches hosted manifests and compares them with catalog metadata
type Verifier struct {
	httpClient *http.Client
	schema     *jsonschema.Schema
	exceptions *Exceptions
	language   string
	logger     *slog.Logger
}

// NewVerifier creates a verifier
func NewVerifier(cfg Config) (*Verifier, error) {
	sch, err := compileSchema()
	if err != nil {
		return nil, err
	}

	exceptions := cfg.Exceptions
	if exceptions == nil {
		if exceptions, err = DefaultExceptions(); err != nil {
			return nil, err
		}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		httpClient = &http.Client{Jar: jar, Timeout: 30 * time.Second}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Verifier{
		httpClient: httpClient,
		schema:     sch,
		exceptions: exceptions,
		language:   cfg.Language,
		logger:     logger,
	}, nil
}

func compileSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("failed to add manifest schema: %w", err)
	}

	sch, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile manifest schema: %w", err)
	}
	return sch, nil
}

// Verify fetches <downloadURL>/manifest.json and compares it field by field with the
// catalog. The first mismatch is returned as *operror.VerificationError unless the
// (bundle identifier, version) pair is a known exception.
func (v *Verifier) Verify(ctx context.Context, app *catalog.App, version *catalog.AppVersion) error {
	title := operror.Printer(v.language).Sprintf(operror.MsgCouldNotVerify, app.Name)

	m, err := v.Fetch(ctx, version.DownloadURL)
	if err != nil {
		return operror.WithTitle(&operror.UnknownError{Reason: "failed to fetch manifest", Err: err}, title)
	}

	mismatch := compare(app, version, m)
	if mismatch == nil {
		return nil
	}

	if ex, ok := v.exceptions.Lookup(app.BundleID, version.Version); ok {
		v.logger.Warn("ignoring manifest mismatch for grandfathered release",
			"app", app.BundleID,
			"version", version.Version,
			"field", mismatch.Field,
			"reason", ex.Reason,
		)
		return nil
	}

	return operror.WithTitle(mismatch, title)
}

// Fetch downloads and validates the manifest hosted next to downloadURL
func (v *Verifier) Fetch(ctx context.Context, downloadURL string) (*Manifest, error) {
	manifestURL, err := url.JoinPath(downloadURL, "manifest.json")
	if err != nil {
		return nil, fmt.Errorf("invalid download url %q: %w", downloadURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &operror.NetworkError{Status: resp.StatusCode, Err: fmt.Errorf("GET %s: %s", manifestURL, string(body))}
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := v.schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}

	return &m, nil
}

// compare checks bundle ID, marketplace ID, version and build version in that order
func compare(app *catalog.App, version *catalog.AppVersion, m *Manifest) *operror.VerificationError {
	mismatch := func(field operror.Field, expected, actual string) *operror.VerificationError {
		return &operror.VerificationError{BundleID: app.BundleID, Field: field, Expected: expected, Actual: actual}
	}

	if m.BundleID != app.BundleID {
		return mismatch(operror.FieldBundleID, app.BundleID, m.BundleID)
	}

	expectedID := ""
	if app.MarketplaceID != nil {
		expectedID = strconv.FormatInt(*app.MarketplaceID, 10)
	}
	if expectedID == "" || m.MarketplaceAppID.String() != expectedID {
		return mismatch(operror.FieldMarketplaceID, expectedID, m.MarketplaceAppID.String())
	}

	if m.ShortVersion != version.Version {
		return mismatch(operror.FieldVersion, version.Version, m.ShortVersion)
	}

	// A catalog version without a build number cannot be verified
	if version.BuildVersion == "" || m.BundleVersion != version.BuildVersion {
		return mismatch(operror.FieldBuildVersion, version.BuildVersion, m.BundleVersion)
	}

	return nil
}
