package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"codeberg.org/d-buckner/market-agent/internal/catalog"
	"codeberg.org/d-buckner/market-agent/internal/installer"
	"codeberg.org/d-buckner/market-agent/internal/operror"
	"codeberg.org/d-buckner/market-agent/internal/progress"
)

// State is a state of the installation progress monitor
type State string

const (
	StateAwaitingInstallerMetadata State = "awaiting_installer_metadata"
	StateTrackingChildProgress     State = "tracking_child_progress"
	StatePollingForCompletion      State = "polling_for_completion"
	StateInstalled                 State = "installed"
	StateCancelled                 State = "cancelled"
	StateStalled                   State = "stalled"
)

// Terminal reports whether s ends monitoring
func (s State) Terminal() bool {
	return s == StateInstalled || s == StateCancelled || s == StateStalled
}

var monitorDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "market_install_monitor_duration_seconds",
		Help:    "Time spent waiting for the installer, by terminal state",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	},
	[]string{"state"},
)

func init() {
	prometheus.MustRegister(monitorDuration)
}

// MonitorConfig controls installer polling
type MonitorConfig struct {
	FastPoll time.Duration // Cadence while no valid progress is available (default: 50ms)
	SlowPoll time.Duration // Cadence while tracking installer progress (default: 500ms)
	MaxWait  time.Duration // 0 waits forever

	// When false, a completed installation is trusted even if it reports another version
	// or no version at all
	InstallTracking bool
}

// DefaultMonitorConfig returns the default polling cadence
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		FastPoll:        50 * time.Millisecond,
		SlowPoll:        500 * time.Millisecond,
		InstallTracking: true,
	}
}

// Target is what the monitor waits for
type Target struct {
	BundleID      string
	MarketplaceID int64
	Version       *catalog.AppVersion

	// Previous is the version installed before an update, nil for fresh installs.
	// Until the installer reports something else the update has not landed.
	Previous *catalog.VersionRef
}

// Monitor follows an installation handed to the external installer until it reaches
// a terminal state
type Monitor struct {
	installer installer.ClientInterface
	config    MonitorConfig
	logger    *slog.Logger
}

// NewMonitor creates a new installation monitor
func NewMonitor(inst installer.ClientInterface, cfg MonitorConfig, logger *slog.Logger) *Monitor {
	defaults := DefaultMonitorConfig()
	if cfg.FastPoll <= 0 {
		cfg.FastPoll = defaults.FastPoll
	}
	if cfg.SlowPoll <= 0 {
		cfg.SlowPoll = defaults.SlowPoll
	}

	return &Monitor{
		installer: inst,
		config:    cfg,
		logger:    logger,
	}
}

// errNotReady means the installer has not published a verdict yet
var errNotReady = errors.New("installer metadata not available")

// Wait polls the installer until target is installed, cancelled or stalled. It returns
// nil only with StateInstalled. handle is completed on success and cancelled, together
// with any attached installer progress, on every other outcome.
func (m *Monitor) Wait(ctx context.Context, target Target, handle *progress.Handle) (State, error) {
	start := time.Now()
	state, err := m.run(ctx, target, handle, start)

	outcome := string(state)
	if !state.Terminal() {
		outcome = "failed"
	}
	monitorDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		handle.Cancel()
		m.logger.Info("installation did not complete",
			"app", target.BundleID,
			"state", state,
			"error", err,
		)
		return state, err
	}

	handle.Complete()
	m.logger.Info("installation complete",
		"app", target.BundleID,
		"version", target.Version.Version,
		"duration", time.Since(start),
	)
	return state, nil
}

func (m *Monitor) run(ctx context.Context, target Target, handle *progress.Handle, start time.Time) (State, error) {
	state := StateAwaitingInstallerMetadata
	var (
		lastNegative float64
		sawNegative  bool
	)

	for {
		if handle.IsCancelled() {
			return StateCancelled, operror.ErrCancelled
		}
		if m.config.MaxWait > 0 && time.Since(start) >= m.config.MaxWait {
			return StateStalled, &operror.StalledError{Waited: m.config.MaxWait}
		}

		installed, err := m.installer.InstalledApps(ctx)
		if err != nil {
			return m.interrupted(ctx, state, err)
		}
		app, err := m.installer.App(ctx, target.MarketplaceID)
		if err != nil {
			return m.interrupted(ctx, state, err)
		}

		metadata := app.Metadata
		listed, inSet := installed[target.MarketplaceID]
		if metadata == nil {
			metadata = listed
		}

		if inSet && m.membershipCounts(target, metadata) {
			m.logger.Debug("target in installed set", "app", target.BundleID, "state", state)
			return StateInstalled, nil
		}

		if inst := app.Installation; inst != nil {
			fraction := inst.FractionCompleted()

			if fraction < 0 {
				// Transient: the installer has no estimate yet
				repeated := sawNegative && fraction == lastNegative
				lastNegative, sawNegative = fraction, true

				if repeated {
					state = StatePollingForCompletion
					if done, err := m.checkAuthoritative(ctx, target, app, inSet, metadata); done {
						return verdict(err)
					}
				}

				if err := m.sleep(ctx, m.config.FastPoll, handle, nil); err != nil {
					return m.interrupted(ctx, state, err)
				}
				continue
			}
			sawNegative = false

			if !handle.HasChild() {
				if err := handle.AddChild(inst, handle.TotalUnitCount()); err != nil {
					return state, fmt.Errorf("failed to track installer progress: %w", err)
				}
				m.logger.Debug("tracking installer progress", "app", target.BundleID)
			}
			state = StateTrackingChildProgress

			if inst.IsCancelled() {
				return StateCancelled, operror.ErrCancelled
			}

			if fraction < 1 {
				if err := m.sleep(ctx, m.config.SlowPoll, handle, inst); err != nil {
					return m.interrupted(ctx, state, err)
				}
				continue
			}

			state = StatePollingForCompletion
			if err := m.verify(target, metadata); !errors.Is(err, errNotReady) {
				return verdict(err)
			}
		} else if done, err := m.checkAuthoritative(ctx, target, app, inSet, metadata); done {
			return verdict(err)
		}

		if err := m.sleep(ctx, m.config.FastPoll, handle, nil); err != nil {
			return m.interrupted(ctx, state, err)
		}
	}
}

// membershipCounts reports whether being in the installed set means the target landed.
// An update target is listed before the update starts, so its metadata must match.
func (m *Monitor) membershipCounts(target Target, metadata *installer.Metadata) bool {
	if target.Previous == nil || metadata == nil {
		return true
	}
	return matchesVersion(target.Version, metadata)
}

// checkAuthoritative decides from installed state alone. It returns done == false while
// there is nothing to verify yet.
func (m *Monitor) checkAuthoritative(ctx context.Context, target Target, app *installer.AppState, inSet bool, metadata *installer.Metadata) (bool, error) {
	if !app.Installed && !inSet {
		openable, err := m.installer.IsOpenable(ctx, target.BundleID)
		if err != nil {
			m.logger.Debug("openable check failed", "app", target.BundleID, "error", err)
		}
		if !openable {
			return false, nil
		}
	}

	err := m.verify(target, metadata)
	if errors.Is(err, errNotReady) {
		return false, nil
	}
	return true, err
}

// verify compares the installer's metadata with the requested version
func (m *Monitor) verify(target Target, metadata *installer.Metadata) error {
	if metadata == nil {
		if !m.config.InstallTracking {
			m.logger.Debug("installer finished without metadata, trusting it", "app", target.BundleID)
			return nil
		}
		return errNotReady
	}
	if matchesVersion(target.Version, metadata) {
		return nil
	}
	if target.Previous != nil &&
		metadata.ShortVersion == target.Previous.Version &&
		metadata.BuildVersion == target.Previous.BuildVersion {
		return errNotReady
	}

	mismatch := &operror.VersionMismatchError{
		Expected: target.Version.Version,
		Actual:   metadata.ShortVersion,
	}
	if !m.config.InstallTracking {
		m.logger.Warn("installer reported a different version, trusting it",
			"app", target.BundleID,
			"expected", mismatch.Expected,
			"actual", mismatch.Actual,
		)
		return nil
	}
	return mismatch
}

func verdict(err error) (State, error) {
	if err != nil {
		return StateCancelled, err
	}
	return StateInstalled, nil
}

// interrupted maps a failed poll or sleep to its terminal state
func (m *Monitor) interrupted(ctx context.Context, state State, err error) (State, error) {
	if errors.Is(err, operror.ErrCancelled) {
		return StateCancelled, err
	}
	if ctx.Err() != nil {
		return StateCancelled, fmt.Errorf("%w: %w", operror.ErrCancelled, err)
	}
	return state, fmt.Errorf("failed to poll installer: %w", err)
}

// sleep waits for d, returning early with an error when ctx ends or either progress
// object is cancelled. Cancellation flags are checked on the fast cadence.
func (m *Monitor) sleep(ctx context.Context, d time.Duration, handle *progress.Handle, inst progress.Source) error {
	deadline := time.NewTimer(d)
	defer deadline.Stop()

	tick := time.NewTicker(min(m.config.FastPoll, d))
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return nil
		case <-tick.C:
			if handle.IsCancelled() || (inst != nil && inst.IsCancelled()) {
				return operror.ErrCancelled
			}
		}
	}
}

func matchesVersion(v *catalog.AppVersion, metadata *installer.Metadata) bool {
	if metadata.ShortVersion != v.Version {
		return false
	}
	return v.BuildVersion == "" || metadata.BuildVersion == v.BuildVersion
}
