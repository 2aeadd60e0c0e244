package service

import (
	"sync"
	"time"

	"github.com/capreport/capacityreport/internal/domain"
)

// lease is the single exclusive lock serializing jobs. It is an explicit
// object with an owner token: acquisition and release are always checked
// against the owning task ID, never ambient state.
type lease struct {
	mu        sync.Mutex
	held      bool
	owner     string
	stage     domain.JobStage
	startedAt time.Time
}

// Acquire takes the lease for owner, failing with ErrBusy if held.
func (l *lease) Acquire(owner string, stage domain.JobStage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return domain.ErrBusy
	}
	l.held = true
	l.owner = owner
	l.stage = stage
	l.startedAt = time.Now()
	return nil
}

// Promote moves the holder to a new stage. If the lease is free (for
// example after a process restart) it is re-acquired instead.
func (l *lease) Promote(owner string, stage domain.JobStage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held && l.owner != owner {
		return domain.ErrBusy
	}
	l.held = true
	l.owner = owner
	l.stage = stage
	if l.startedAt.IsZero() {
		l.startedAt = time.Now()
	}
	return nil
}

// Release frees the lease if owner holds it. Releasing a lease that was
// already freed (or re-acquired by someone else) is a no-op.
func (l *lease) Release(owner string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held && l.owner == owner {
		l.clearLocked()
	}
}

// ForceRelease is the operator escape hatch: it frees the lease only
// when the presented task ID matches the holder.
func (l *lease) ForceRelease(owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return nil
	}
	if owner != "" && l.owner != owner {
		return domain.ErrNotOwner
	}
	l.clearLocked()
	return nil
}

func (l *lease) clearLocked() {
	l.held = false
	l.owner = ""
	l.stage = ""
	l.startedAt = time.Time{}
}

// Holder returns the current holder, if any.
func (l *lease) Holder() (owner string, stage domain.JobStage, startedAt time.Time, held bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner, l.stage, l.startedAt, l.held
}
