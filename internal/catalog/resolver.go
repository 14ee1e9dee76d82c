package catalog

import (
	"context"
	"errors"
	"log/slog"

	"codeberg.org/d-buckner/market-agent/internal/operror"
)

// FallbackConfirmer asks the user whether to install an older, OS-compatible version
// instead of the one that failed the OS check. A nil error means accepted.
type FallbackConfirmer interface {
	ConfirmFallback(ctx context.Context, app *App, fallback *AppVersion, cause error) error
}

// Resolver picks the version to install for the device it runs on
type Resolver struct {
	osVersion string
	logger    *slog.Logger
}

// NewResolver creates a resolver for a device running osVersion
func NewResolver(osVersion string, logger *slog.Logger) *Resolver {
	return &Resolver{
		osVersion: osVersion,
		logger:    logger,
	}
}

// OSVersion returns the device OS version the resolver checks against
func (r *Resolver) OSVersion() string {
	return r.osVersion
}

// Verify fails with *operror.UnsupportedOSVersionError if the device OS is outside the
// version's bounds.
func (r *Resolver) Verify(app *App, v *AppVersion) error {
	if required := v.CheckOS(r.osVersion); required != "" {
		return &operror.UnsupportedOSVersionError{
			App:      app.Name,
			Version:  v.Version,
			Required: required,
		}
	}
	return nil
}

// Resolve returns explicit if given, otherwise the latest available version, after checking
// OS compatibility. On an OS failure it offers the latest supported version through
// confirmer, unless confirmer is nil, there is no such version, or it is already installed.
func (r *Resolver) Resolve(ctx context.Context, app *App, explicit *AppVersion, installed *VersionRef, confirmer FallbackConfirmer) (*AppVersion, error) {
	version := explicit
	if version == nil {
		version = app.LatestAvailableVersion()
	}
	if version == nil {
		p := operror.Printer("")
		return nil, &operror.UnknownError{Reason: p.Sprintf(operror.MsgLatestUnknown, app.Name)}
	}

	err := r.Verify(app, version)
	if err == nil {
		return version, nil
	}

	var osErr *operror.UnsupportedOSVersionError
	if !errors.As(err, &osErr) || confirmer == nil {
		return nil, err
	}

	fallback := app.LatestSupportedVersion(r.osVersion)
	if fallback == nil {
		return nil, err
	}
	if installed != nil && fallback.Matches(installed.Version, installed.BuildVersion) {
		return nil, err
	}

	r.logger.Info("offering OS-compatible fallback version",
		"app", app.BundleID,
		"requested", version.Version,
		"fallback", fallback.Version,
		"required", osErr.Required,
	)

	if cerr := confirmer.ConfirmFallback(ctx, app, fallback, err); cerr != nil {
		return nil, cerr
	}

	return fallback, nil
}
