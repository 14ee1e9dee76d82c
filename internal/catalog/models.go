package catalog

// App represents a distributable application listed in the marketplace catalog
type App struct {
	BundleID         string       `yaml:"bundleIdentifier" json:"bundleIdentifier"`
	MarketplaceID    *int64       `yaml:"marketplaceID,omitempty" json:"marketplaceID,omitempty"`
	Name             string       `yaml:"name" json:"name"`
	DeveloperName    string       `yaml:"developerName" json:"developerName"`
	TintColor        string       `yaml:"tintColor,omitempty" json:"tintColor,omitempty"`
	PledgeRequired   bool         `yaml:"pledgeRequired" json:"pledgeRequired"`
	PledgeAmount     string       `yaml:"pledgeAmount,omitempty" json:"pledgeAmount,omitempty"`
	PledgeCurrency   string       `yaml:"pledgeCurrency,omitempty" json:"pledgeCurrency,omitempty"`
	SourceIdentifier string       `yaml:"sourceIdentifier,omitempty" json:"sourceIdentifier,omitempty"`
	SourceURL        string       `yaml:"sourceURL,omitempty" json:"sourceURL,omitempty"`
	PatreonURL       string       `yaml:"patreonURL,omitempty" json:"patreonURL,omitempty"`
	Versions         []AppVersion `yaml:"versions" json:"versions"` // newest first
}

// AppVersion is one published build of an App
type AppVersion struct {
	Version      string            `yaml:"version" json:"version"`
	BuildVersion string            `yaml:"buildVersion,omitempty" json:"buildVersion,omitempty"`
	MinOSVersion string            `yaml:"minOSVersion,omitempty" json:"minOSVersion,omitempty"`
	MaxOSVersion string            `yaml:"maxOSVersion,omitempty" json:"maxOSVersion,omitempty"`
	DownloadURL  string            `yaml:"downloadURL" json:"downloadURL"`
	AssetURLs    map[string]string `yaml:"assetURLs,omitempty" json:"assetURLs,omitempty"`
	Size         int64             `yaml:"size,omitempty" json:"size,omitempty"`
}

// LatestAvailableVersion returns the newest published version, or nil if there is none
func (a *App) LatestAvailableVersion() *AppVersion {
	if len(a.Versions) == 0 {
		return nil
	}
	return &a.Versions[0]
}

// LatestSupportedVersion returns the newest version whose OS bounds admit osVersion
func (a *App) LatestSupportedVersion(osVersion string) *AppVersion {
	for i := range a.Versions {
		if a.Versions[i].CheckOS(osVersion) == "" {
			return &a.Versions[i]
		}
	}
	return nil
}

// FindVersion returns the version matching (version, buildVersion) exactly
func (a *App) FindVersion(version, buildVersion string) *AppVersion {
	for i := range a.Versions {
		if a.Versions[i].Matches(version, buildVersion) {
			return &a.Versions[i]
		}
	}
	return nil
}

// Matches reports whether v is exactly (version, buildVersion)
func (v *AppVersion) Matches(version, buildVersion string) bool {
	return v.Version == version && v.BuildVersion == buildVersion
}

// CheckOS returns the violated bound if osVersion falls outside [MinOSVersion, MaxOSVersion],
// or "" if the version supports it. Unparseable bounds are ignored.
func (v *AppVersion) CheckOS(osVersion string) string {
	if v.MinOSVersion != "" && CompareOSVersions(osVersion, v.MinOSVersion) < 0 {
		return v.MinOSVersion
	}
	if v.MaxOSVersion != "" && CompareOSVersions(osVersion, v.MaxOSVersion) > 0 {
		return v.MaxOSVersion
	}
	return ""
}

// VersionRef identifies an installed (version, build) pair
type VersionRef struct {
	Version      string
	BuildVersion string
}
