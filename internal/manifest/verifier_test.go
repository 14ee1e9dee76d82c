package manifest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/d-buckner/market-agent/internal/catalog"
	"codeberg.org/d-buckner/market-agent/internal/operror"
)

func int64Ptr(v int64) *int64 {
	return &v
}

// serveManifest serves body at /pkg/manifest.json and returns the download URL
func serveManifest(t *testing.T, status int, body string) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pkg/manifest.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server.URL + "/pkg"
}

func newTestVerifier(t *testing.T, exceptions *Exceptions) *Verifier {
	t.Helper()
	if exceptions == nil {
		var err error
		exceptions, err = LoadExceptions([]byte("version: 1\nexceptions: []\n"))
		require.NoError(t, err)
	}
	v, err := NewVerifier(Config{
		Exceptions: exceptions,
		Logger:     slog.New(slog.DiscardHandler),
	})
	require.NoError(t, err)
	return v
}

func testAppVersion(downloadURL string) (*catalog.App, *catalog.AppVersion) {
	app := &catalog.App{BundleID: "com.example.b", MarketplaceID: int64Ptr(555), Name: "B"}
	version := &catalog.AppVersion{Version: "1.1", BuildVersion: "99", DownloadURL: downloadURL}
	return app, version
}

func TestVerifier_Match(t *testing.T) {
	url := serveManifest(t, http.StatusOK, `{"marketplaceAppId": 555, "bundleId": "com.example.b", "shortVersionString": "1.1", "bundleVersion": "99"}`)
	app, version := testAppVersion(url)

	require.NoError(t, newTestVerifier(t, nil).Verify(context.Background(), app, version))
}

func TestVerifier_MarketplaceIDAsString(t *testing.T) {
	url := serveManifest(t, http.StatusOK, `{"marketplaceAppId": "555", "bundleId": "com.example.b", "shortVersionString": "1.1", "bundleVersion": "99"}`)
	app, version := testAppVersion(url)

	require.NoError(t, newTestVerifier(t, nil).Verify(context.Background(), app, version))
}

func TestVerifier_Mismatch(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		field    operror.Field
		actual   string
	}{
		{
			name:     "bundle id",
			manifest: `{"marketplaceAppId": 555, "bundleId": "com.evil.b", "shortVersionString": "1.1", "bundleVersion": "99"}`,
			field:    operror.FieldBundleID,
			actual:   "com.evil.b",
		},
		{
			name:     "marketplace id",
			manifest: `{"marketplaceAppId": 556, "bundleId": "com.example.b", "shortVersionString": "1.1", "bundleVersion": "99"}`,
			field:    operror.FieldMarketplaceID,
			actual:   "556",
		},
		{
			name:     "version",
			manifest: `{"marketplaceAppId": 555, "bundleId": "com.example.b", "shortVersionString": "1.0", "bundleVersion": "99"}`,
			field:    operror.FieldVersion,
			actual:   "1.0",
		},
		{
			name:     "build version",
			manifest: `{"marketplaceAppId": 555, "bundleId": "com.example.b", "shortVersionString": "1.1", "bundleVersion": "100"}`,
			field:    operror.FieldBuildVersion,
			actual:   "100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := serveManifest(t, http.StatusOK, tt.manifest)
			app, version := testAppVersion(url)

			err := newTestVerifier(t, nil).Verify(context.Background(), app, version)

			var verr *operror.VerificationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.Equal(t, tt.actual, verr.Actual)
			assert.Equal(t, "Could not verify B", operror.Title(err))
		})
	}
}

func TestVerifier_MissingLocalBuildVersion(t *testing.T) {
	url := serveManifest(t, http.StatusOK, `{"marketplaceAppId": 555, "bundleId": "com.example.b", "shortVersionString": "1.1", "bundleVersion": "99"}`)
	app, version := testAppVersion(url)
	version.BuildVersion = ""

	err := newTestVerifier(t, nil).Verify(context.Background(), app, version)

	var verr *operror.VerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, operror.FieldBuildVersion, verr.Field)
}

func TestVerifier_ExceptionBypassesMismatch(t *testing.T) {
	exceptions, err := LoadExceptions([]byte(`
version: 1
exceptions:
  - bundleID: com.example.b
    version: "1.1"
    reason: legacy
`))
	require.NoError(t, err)

	manifests := []string{
		`{"marketplaceAppId": 1, "bundleId": "com.example.b", "shortVersionString": "1.1", "bundleVersion": "99"}`,
		`{"marketplaceAppId": 555, "bundleId": "com.other", "shortVersionString": "9", "bundleVersion": "1"}`,
	}
	for _, m := range manifests {
		url := serveManifest(t, http.StatusOK, m)
		app, version := testAppVersion(url)
		assert.NoError(t, newTestVerifier(t, exceptions).Verify(context.Background(), app, version))
	}
}

func TestVerifier_FetchFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"not found", http.StatusNotFound, `{"error": "missing"}`},
		{"not json", http.StatusOK, `<html>`},
		{"schema violation", http.StatusOK, `{"marketplaceAppId": 555, "shortVersionString": "1.1"}`},
		{"wrong type", http.StatusOK, `{"bundleId": 42, "shortVersionString": "1.1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := serveManifest(t, tt.status, tt.body)
			app, version := testAppVersion(url)

			err := newTestVerifier(t, nil).Verify(context.Background(), app, version)

			var unknown *operror.UnknownError
			require.ErrorAs(t, err, &unknown)
			assert.Equal(t, "Could not verify B", operror.Title(err))

			var verr *operror.VerificationError
			assert.False(t, errors.As(err, &verr))
		})
	}
}

func TestVerifier_NotFoundCarriesStatus(t *testing.T) {
	url := serveManifest(t, http.StatusForbidden, "denied")
	app, version := testAppVersion(url)

	err := newTestVerifier(t, nil).Verify(context.Background(), app, version)

	var nerr *operror.NetworkError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, http.StatusForbidden, nerr.Status)
}

func TestDefaultExceptions(t *testing.T) {
	exceptions, err := DefaultExceptions()
	require.NoError(t, err)

	assert.Positive(t, exceptions.Version())
	assert.Positive(t, exceptions.Len())

	_, ok := exceptions.Lookup("com.rileytestut.Delta", "1.5")
	assert.True(t, ok)
	_, ok = exceptions.Lookup("com.rileytestut.Delta", "1.7")
	assert.False(t, ok)
}

func TestLoadExceptions_Invalid(t *testing.T) {
	_, err := LoadExceptions([]byte("exceptions: []\n"))
	assert.ErrorContains(t, err, "no version")

	_, err = LoadExceptions([]byte(`
version: 1
exceptions:
  - bundleID: a
    version: "1"
  - bundleID: a
    version: "1"
`))
	assert.ErrorContains(t, err, "duplicate")
}
