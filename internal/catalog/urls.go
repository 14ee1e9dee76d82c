package catalog

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL reduces a download URL to a scheme-less, lowercase, percent-decoded form so
// the same package hosted behind slightly different URLs maps to one key.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}

	if u.Scheme == "" && u.Host == "" {
		// "example.com/path" parses as a bare path
		u, err = url.Parse("https://" + raw)
		if err != nil {
			return "", fmt.Errorf("invalid url %q: %w", raw, err)
		}
	}

	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}

	normalized := host
	if port := u.Port(); port != "" && port != "80" && port != "443" {
		normalized += ":" + port
	}

	normalized += strings.ReplaceAll(u.Path, "//", "/")
	normalized = strings.ToLower(normalized)
	normalized = strings.TrimSuffix(normalized, "/")
	normalized = strings.TrimPrefix(normalized, "www.")

	return normalized, nil
}

// InstallKey encodes a download URL as a single path segment. The redirect service cannot
// route encoded slashes, so "/" becomes "|". URLs that already contain "|" are not
// round-trippable.
func InstallKey(downloadURL string) string {
	return strings.ReplaceAll(downloadURL, "/", "|")
}

// InstallURL builds the marketplace redirect URL the installer fetches for a package.
func InstallURL(marketplaceDomain, downloadURL string) (string, error) {
	u, err := url.Parse(marketplaceDomain)
	if err != nil {
		return "", fmt.Errorf("invalid marketplace domain %q: %w", marketplaceDomain, err)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/install/" + InstallKey(downloadURL)
	u.RawPath = ""

	return u.String(), nil
}
