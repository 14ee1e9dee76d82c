// Package analytics emits product events for completed operations.
package analytics

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"codeberg.org/d-buckner/market-agent/internal/catalog"
	"codeberg.org/d-buckner/market-agent/internal/store"
)

// EventName identifies an analytics event
type EventName string

const (
	EventInstalledApp EventName = "installed_app"
	EventUpdatedApp   EventName = "updated_app"
	EventRefreshedApp EventName = "refreshed_app"
)

// Property keys
const (
	PropName             = "name"
	PropBundleIdentifier = "bundleIdentifier"
	PropDeveloperName    = "developerName"
	PropVersion          = "version"
	PropBuildVersion     = "buildVersion"
	PropSize             = "size"
	PropTintColor        = "tintColor"
	PropSourceIdentifier = "sourceIdentifier"
	PropSourceURL        = "sourceURL"
	PropPatreonURL       = "patreonURL"
	PropPledgeAmount     = "pledgeAmount"
	PropPledgeCurrency   = "pledgeCurrency"
)

// Event is a typed event with flat string properties
type Event struct {
	Name       EventName
	Properties map[string]string
}

var eventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "market_analytics_events_total",
		Help: "Analytics events emitted by name",
	},
	[]string{"event"},
)

func init() {
	prometheus.MustRegister(eventsTotal)
}

// NewAppEvent builds an app event from the ledger record and its catalog entry.
// Empty properties are left out.
func NewAppEvent(name EventName, record *store.InstalledApp, app *catalog.App, version *catalog.AppVersion) Event {
	props := map[string]string{
		PropName:             record.Name,
		PropBundleIdentifier: record.BundleID,
		PropVersion:          record.Version,
		PropBuildVersion:     record.BuildVersion,
	}

	if app != nil {
		props[PropDeveloperName] = app.DeveloperName
		props[PropTintColor] = app.TintColor
		props[PropSourceIdentifier] = app.SourceIdentifier
		props[PropSourceURL] = app.SourceURL
		props[PropPatreonURL] = app.PatreonURL
		props[PropPledgeAmount] = app.PledgeAmount
		props[PropPledgeCurrency] = app.PledgeCurrency
	}
	if version != nil && version.Size > 0 {
		props[PropSize] = strconv.FormatInt(version.Size, 10)
	}

	for k, v := range props {
		if v == "" {
			delete(props, k)
		}
	}

	return Event{Name: name, Properties: props}
}

// Tracker receives analytics events
type Tracker interface {
	Track(ctx context.Context, event Event)
}

// Manager logs events and counts them for /metrics
type Manager struct {
	logger *slog.Logger
}

// NewManager creates an analytics manager
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{logger: logger}
}

// Compile-time assertion
var _ Tracker = (*Manager)(nil)

func (m *Manager) Track(ctx context.Context, event Event) {
	eventsTotal.WithLabelValues(string(event.Name)).Inc()

	attrs := make([]any, 0, 2*len(event.Properties)+2)
	attrs = append(attrs, "event", string(event.Name))
	for k, v := range event.Properties {
		attrs = append(attrs, k, v)
	}
	m.logger.InfoContext(ctx, "analytics event", attrs...)
}
