package orchestrator

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/message"

	"codeberg.org/d-buckner/market-agent/internal/analytics"
	"codeberg.org/d-buckner/market-agent/internal/catalog"
	"codeberg.org/d-buckner/market-agent/internal/operror"
)

// Kind is the closed set of operations the agent can run against an app
type Kind string

const (
	KindInstall    Kind = "install"
	KindUpdate     Kind = "update"
	KindRefresh    Kind = "refresh"
	KindActivate   Kind = "activate"
	KindDeactivate Kind = "deactivate"
	KindBackup     Kind = "backup"
	KindRestore    Kind = "restore"
)

// Kinds lists every operation kind
var Kinds = []Kind{KindInstall, KindUpdate, KindRefresh, KindActivate, KindDeactivate, KindBackup, KindRestore}

// ParseKind returns the Kind named s
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown operation kind %q", s)
}

// Title returns the localized failure title for an operation of this kind on appName
func (k Kind) Title(appName string, p *message.Printer) string {
	switch k {
	case KindInstall:
		return p.Sprintf(operror.MsgFailedInstall, appName)
	case KindUpdate:
		return p.Sprintf(operror.MsgFailedUpdate, appName)
	case KindRefresh:
		return p.Sprintf(operror.MsgFailedRefresh, appName)
	case KindActivate:
		return p.Sprintf(operror.MsgFailedActivate, appName)
	case KindDeactivate:
		return p.Sprintf(operror.MsgFailedDeactivate, appName)
	case KindBackup:
		return p.Sprintf(operror.MsgFailedBackup, appName)
	case KindRestore:
		return p.Sprintf(operror.MsgFailedRestore, appName)
	default:
		panic(fmt.Sprintf("unhandled operation kind %q", string(k)))
	}
}

// AnalyticsEvent returns the event emitted when an operation of this kind completes.
// Activation, deactivation, backup and restore emit nothing.
func (k Kind) AnalyticsEvent() (analytics.EventName, bool) {
	switch k {
	case KindInstall:
		return analytics.EventInstalledApp, true
	case KindUpdate:
		return analytics.EventUpdatedApp, true
	case KindRefresh:
		return analytics.EventRefreshedApp, true
	case KindActivate, KindDeactivate, KindBackup, KindRestore:
		return "", false
	default:
		panic(fmt.Sprintf("unhandled operation kind %q", string(k)))
	}
}

// Operation is one request to act on an app
type Operation struct {
	ID        uuid.UUID `json:"id"`
	Kind      Kind      `json:"kind"`
	BundleID  string    `json:"bundleIdentifier"`
	AppName   string    `json:"name"`
	StartedAt time.Time `json:"startedAt"`
}

// NewOperation creates an operation of kind on app
func NewOperation(kind Kind, app *catalog.App) Operation {
	return Operation{
		ID:        uuid.New(),
		Kind:      kind,
		BundleID:  app.BundleID,
		AppName:   app.Name,
		StartedAt: time.Now(),
	}
}

// Key identifies the operation in the registry. At most one operation per key runs at a time.
func (o Operation) Key() string {
	return OperationKey(o.Kind, o.BundleID)
}

// OperationKey builds a registry key
func OperationKey(kind Kind, bundleID string) string {
	return string(kind) + ":" + bundleID
}
