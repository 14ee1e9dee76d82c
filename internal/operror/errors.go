// Package operror defines the failures an install or update operation can end with.
//
// Every cancellation-flavoured error (version mismatch, stall, manual update) matches
// ErrCancelled through errors.Is so callers can keep cancellations silent.
package operror

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCancelled is returned when the user, the installer or the caller cancelled the operation.
	ErrCancelled = errors.New("operation cancelled")

	// ErrEntitlementDenied is returned when the user is not entitled to a gated app.
	ErrEntitlementDenied = errors.New("entitlement denied")
)

// UnsupportedOSVersionError reports a version whose OS bounds exclude this device.
type UnsupportedOSVersionError struct {
	App      string
	Version  string
	Required string
}

func (e *UnsupportedOSVersionError) Error() string {
	return fmt.Sprintf("%s %s requires OS version %s", e.App, e.Version, e.Required)
}

// AppNotFoundError reports an app (or a version of it) missing from the catalog.
type AppNotFoundError struct {
	Name string
}

func (e *AppNotFoundError) Error() string {
	return fmt.Sprintf("%s could not be found", e.Name)
}

// UnknownMarketplaceIDError reports an app that has no marketplace identifier yet.
type UnknownMarketplaceIDError struct {
	Name string
}

func (e *UnknownMarketplaceIDError) Error() string {
	return fmt.Sprintf("%s does not have a marketplace identifier", e.Name)
}

// Field names the manifest attribute that failed verification.
type Field string

const (
	FieldBundleID      Field = "bundleID"
	FieldMarketplaceID Field = "marketplaceID"
	FieldVersion       Field = "version"
	FieldBuildVersion  Field = "buildVersion"
)

// VerificationError reports a remote manifest that disagrees with the catalog.
type VerificationError struct {
	BundleID string
	Field    Field
	Expected string
	Actual   string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("remote manifest for %s does not match catalog: %s is %q, expected %q",
		e.BundleID, e.Field, e.Actual, e.Expected)
}

// NetworkError reports a non-200 response from a remote endpoint.
type NetworkError struct {
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("network request failed (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("network request failed (status %d)", e.Status)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// UnknownError is the catch-all failure with a human readable reason.
type UnknownError struct {
	Reason string
	Err    error
}

func (e *UnknownError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *UnknownError) Unwrap() error { return e.Err }

// VersionMismatchError is raised when the installer finished with a different version than
// the one requested.
type VersionMismatchError struct {
	Expected string
	Actual   string
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("installer reported version %s, expected %s", e.Actual, e.Expected)
}

func (e *VersionMismatchError) Is(target error) bool { return target == ErrCancelled }

// StalledError is raised when the installer never converged within the configured wait.
type StalledError struct {
	Waited time.Duration
}

func (e *StalledError) Error() string {
	return fmt.Sprintf("installation did not finish within %s", e.Waited)
}

func (e *StalledError) Is(target error) bool { return target == ErrCancelled }

// ManualUpdateError is raised for apps that must be updated through an external link.
type ManualUpdateError struct {
	URL string
}

func (e *ManualUpdateError) Error() string {
	return fmt.Sprintf("app must be updated manually at %s", e.URL)
}

func (e *ManualUpdateError) Is(target error) bool { return target == ErrCancelled }

// IsCancellation reports whether err represents a cancellation rather than a failure.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// TitledError pairs a failure with the localized title shown to the user.
type TitledError struct {
	Title string
	Err   error
}

func (e *TitledError) Error() string { return e.Title + ": " + e.Err.Error() }

func (e *TitledError) Unwrap() error { return e.Err }

// WithTitle attaches a localized title to err. A nil err stays nil.
func WithTitle(err error, title string) error {
	if err == nil {
		return nil
	}
	return &TitledError{Title: title, Err: err}
}

// Title returns the localized title attached to err, if any.
func Title(err error) string {
	var titled *TitledError
	if errors.As(err, &titled) {
		return titled.Title
	}
	return ""
}
