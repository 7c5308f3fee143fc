package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/couchcryptid/corona-data-etl/internal/domain"
)

// Snapshots holds the outcome of the most recent invocation. Every
// invocation reserves a generation with Begin before it starts loading; when
// it resolves, its outcome is applied only if no later generation has
// resolved first. A slow, older invocation can therefore never overwrite the
// result of a newer one.
type Snapshots struct {
	mu       sync.RWMutex
	issued   uint64
	resolved uint64
	current  *domain.Snapshot
	failure  *domain.Failure
}

// NewSnapshots returns an empty holder.
func NewSnapshots() *Snapshots {
	return &Snapshots{}
}

// Begin reserves the next generation.
func (s *Snapshots) Begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	return s.issued
}

// Offer applies snap if its generation is newer than every outcome applied
// so far. It reports whether snap was applied; false means it is stale and
// must be discarded.
func (s *Snapshots) Offer(snap domain.Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.Generation <= s.resolved {
		return false
	}
	s.resolved = snap.Generation
	s.current = &snap
	s.failure = nil
	return true
}

// Fail records err as the outcome of generation gen under the same ordering
// rule as Offer. The last applied dataset stays available; it is never
// replaced by a failure.
func (s *Snapshots) Fail(gen uint64, err error, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen <= s.resolved {
		return false
	}
	s.resolved = gen
	s.failure = &domain.Failure{Err: err, At: at, Generation: gen}
	return true
}

// Latest returns the current snapshot, if any. The dataset it carries is
// shared and must not be modified.
func (s *Snapshots) Latest() (domain.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return domain.Snapshot{}, false
	}
	return *s.current, true
}

// Current reports whether generation gen is the snapshot being served.
func (s *Snapshots) Current(gen uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil && s.current.Generation == gen
}

// LastFailure returns the failure of the most recently resolved invocation.
// ok is false when that invocation succeeded or none has resolved yet.
func (s *Snapshots) LastFailure() (f domain.Failure, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failure == nil {
		return domain.Failure{}, false
	}
	return *s.failure, true
}

// CheckReadiness returns nil once a dataset has been applied.
func (s *Snapshots) CheckReadiness(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		if s.failure != nil {
			return fmt.Errorf("no dataset loaded yet: %w", s.failure.Err)
		}
		return errors.New("no dataset loaded yet")
	}
	return nil
}
