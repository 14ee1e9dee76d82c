// Package progress implements unit-counted progress tracking for long-running operations.
package progress

import (
	"errors"
	"sync"
)

// DefaultTotalUnits is the unit count of an install or update operation.
const DefaultTotalUnits int64 = 100

// ErrChildAttached is returned when a second child is attached to a handle.
var ErrChildAttached = errors.New("progress: child already attached")

// Source is a progress object owned by someone else, typically the external installer.
// Its fraction may be negative or stale; the handle clamps whatever it reads.
type Source interface {
	FractionCompleted() float64
	IsCancelled() bool
	Cancel()
}

// Snapshot is a point-in-time view of a handle.
type Snapshot struct {
	TotalUnitCount     int64   `json:"totalUnitCount"`
	CompletedUnitCount int64   `json:"completedUnitCount"`
	FractionCompleted  float64 `json:"fractionCompleted"`
	Cancelled          bool    `json:"cancelled"`
}

// Handle tracks the progress of one operation. It may own a single child Source whose
// fraction contributes a fixed share of the handle's units. Reported completion never
// goes backwards.
type Handle struct {
	mu         sync.Mutex
	total      int64
	completed  int64
	reported   int64
	child      Source
	childUnits int64
	cancelled  bool
	onCancel   []func()
}

// New creates a handle with the given total unit count.
func New(total int64) *Handle {
	if total <= 0 {
		total = DefaultTotalUnits
	}
	return &Handle{total: total}
}

// TotalUnitCount returns the fixed total.
func (h *Handle) TotalUnitCount() int64 {
	return h.total
}

// CompletedUnitCount returns own units plus the child's proportional share, clamped to
// [previous report, total].
func (h *Handle) CompletedUnitCount() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.completedLocked()
}

func (h *Handle) completedLocked() int64 {
	v := h.completed
	if h.child != nil {
		v += int64(clamp(h.child.FractionCompleted()) * float64(h.childUnits))
	}
	if v > h.total {
		v = h.total
	}
	if v < h.reported {
		v = h.reported
	}
	h.reported = v
	return v
}

// FractionCompleted returns CompletedUnitCount / TotalUnitCount.
func (h *Handle) FractionCompleted() float64 {
	return float64(h.CompletedUnitCount()) / float64(h.total)
}

// SetCompletedUnitCount sets the handle's own units. Values outside [0, total] are clamped.
func (h *Handle) SetCompletedUnitCount(n int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n < 0 {
		n = 0
	}
	if n > h.total {
		n = h.total
	}
	h.completed = n
}

// Complete marks every unit as done.
func (h *Handle) Complete() {
	h.SetCompletedUnitCount(h.total)
}

// AddChild attaches src so that its fraction drives units of this handle.
// Only one child may ever be attached.
func (h *Handle) AddChild(src Source, units int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.child != nil {
		return ErrChildAttached
	}
	if units > h.total-h.completed {
		units = h.total - h.completed
	}
	h.child = src
	h.childUnits = units

	if h.cancelled {
		go src.Cancel()
	}
	return nil
}

// HasChild reports whether a child has been attached.
func (h *Handle) HasChild() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.child != nil
}

// Cancel sets the cancellation flag, cancels the child and runs cancellation handlers once.
func (h *Handle) Cancel() {
	h.mu.Lock()
	if h.cancelled {
		h.mu.Unlock()
		return
	}
	h.cancelled = true
	child := h.child
	handlers := h.onCancel
	h.onCancel = nil
	h.mu.Unlock()

	if child != nil {
		child.Cancel()
	}
	for _, fn := range handlers {
		fn()
	}
}

// IsCancelled reports whether either this handle or its child was cancelled.
func (h *Handle) IsCancelled() bool {
	h.mu.Lock()
	cancelled, child := h.cancelled, h.child
	h.mu.Unlock()

	if cancelled {
		return true
	}
	return child != nil && child.IsCancelled()
}

// OnCancel registers fn to run when the handle is cancelled. If the handle is already
// cancelled fn runs immediately.
func (h *Handle) OnCancel(fn func()) {
	h.mu.Lock()
	if h.cancelled {
		h.mu.Unlock()
		fn()
		return
	}
	h.onCancel = append(h.onCancel, fn)
	h.mu.Unlock()
}

// Snapshot returns the current state.
func (h *Handle) Snapshot() Snapshot {
	completed := h.CompletedUnitCount()
	return Snapshot{
		TotalUnitCount:     h.total,
		CompletedUnitCount: completed,
		FractionCompleted:  float64(completed) / float64(h.total),
		Cancelled:          h.IsCancelled(),
	}
}

func clamp(f float64) float64 {
	switch {
	case f != f, f < 0: // NaN or negative
		return 0
	case f > 1:
		return 1
	}
	return f
}
