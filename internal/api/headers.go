package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"codeberg.org/d-buckner/market-agent/internal/catalog"
)

// Headers attached to installer requests
const (
	HeaderAgentVersion = "X-Agent-Version"
	HeaderAgentError   = "X-Agent-Error"

	headerAssetURLPrefix     = "X-Asset-URL-"
	headerBundleIDPrefix     = "X-Bundle-ID-"
	headerADPURLPrefix       = "X-ADP-URL-"
	headerVersionPrefix      = "X-Version-"
	headerBuildVersionPrefix = "X-Build-Version-"
)

// installerPayload is the body of the installer's update and restore requests
type installerPayload struct {
	Apps []struct {
		ItemID string `json:"itemId"`
	} `json:"apps"`
}

// handleInstallerHeaders returns the extra headers the installer extension attaches to a
// request for path with the given body. Lookup failures are reported in the error header
// rather than as an HTTP error so the request can still proceed.
func (s *Server) handleInstallerHeaders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	headers, err := s.installerHeaders(r.Context(), q.Get("path"), q.Get("body"))
	if err != nil {
		s.logger.Error("failed to provide installer headers", "path", q.Get("path"), "error", err)
		headers[HeaderAgentError] = err.Error()
	}

	respondJSON(w, http.StatusOK, headers)
}

// installerHeaders always returns a non-nil map carrying at least the agent version
func (s *Server) installerHeaders(ctx context.Context, path, body string) (map[string]string, error) {
	headers := map[string]string{HeaderAgentVersion: s.agentVersion}

	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(segments) == 0 {
		return headers, nil
	}

	switch strings.ToLower(segments[0]) {
	case "install":
		if len(segments) < 2 {
			return headers, nil
		}
		key, err := url.PathUnescape(segments[1])
		if err != nil {
			return headers, fmt.Errorf("invalid install path: %w", err)
		}
		_, version, err := s.catalog.FindByInstallKey(ctx, key)
		if err != nil {
			return headers, err
		}
		if version != nil {
			addAssetHeaders(headers, version)
		}
		return headers, nil

	case "update", "restore":
		if body == "" {
			return headers, fmt.Errorf("missing request body for %s", path)
		}
		var payload installerPayload
		if err := json.Unmarshal([]byte(body), &payload); err != nil {
			return headers, fmt.Errorf("failed to decode request body: %w", err)
		}

		for _, app := range payload.Apps {
			marketplaceID, err := strconv.ParseInt(app.ItemID, 10, 64)
			if err != nil {
				continue
			}
			if err := s.addVersionHeaders(ctx, headers, marketplaceID); err != nil {
				return headers, err
			}
		}
		return headers, nil

	default:
		return headers, nil
	}
}

// addVersionHeaders describes the installed version of the app, or the latest version this
// device supports when the ledger has no record. Versions without a build number are
// skipped since the installer cannot match them.
func (s *Server) addVersionHeaders(ctx context.Context, headers map[string]string, marketplaceID int64) error {
	app, err := s.catalog.GetByMarketplaceID(ctx, marketplaceID)
	if err != nil {
		return err
	}
	if app == nil {
		return nil
	}

	var versionName string
	record, err := s.ledger.GetByBundleID(ctx, app.BundleID)
	if err != nil {
		return err
	}
	if record != nil {
		versionName = record.Version
	} else if latest := app.LatestSupportedVersion(s.osVersion); latest != nil {
		versionName = latest.Version
	}

	var version *catalog.AppVersion
	for i := range app.Versions {
		if app.Versions[i].Version == versionName {
			version = &app.Versions[i]
			break
		}
	}
	if version == nil || version.BuildVersion == "" {
		return nil
	}

	adpURL, err := catalog.InstallURL(s.marketplaceDomain, version.DownloadURL)
	if err != nil {
		return err
	}

	id := strconv.FormatInt(marketplaceID, 10)
	headers[headerBundleIDPrefix+id] = app.BundleID
	headers[headerADPURLPrefix+id] = adpURL
	headers[headerVersionPrefix+id] = version.Version
	headers[headerBuildVersionPrefix+id] = version.BuildVersion
	addAssetHeaders(headers, version)

	return nil
}

func addAssetHeaders(headers map[string]string, version *catalog.AppVersion) {
	for assetID, assetURL := range version.AssetURLs {
		headers[headerAssetURLPrefix+assetID] = assetURL
	}
}
