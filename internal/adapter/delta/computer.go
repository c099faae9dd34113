// Package delta turns successive Clash /connections snapshots into
// per-connection traffic deltas, tracking each connection's identity and
// cumulative-counter baseline across ticks.
package delta

import (
	"sync"
	"time"

	"github.com/clashwatch/engine/internal/core/domain"
	"github.com/clashwatch/engine/internal/util"
)

// Computer holds the per-connection baselines for one Collector Session. It
// is not safe to share a single Computer across backends: callers run one
// per Backend, matching the one-Session-per-Backend model.
type Computer struct {
	mu    sync.Mutex
	state map[string]*domain.ConnectionState
}

func NewComputer() *Computer {
	return &Computer{state: make(map[string]*domain.ConnectionState)}
}

// Compute folds one snapshot tick against the tracked baselines and returns
// the deltas attributable to this tick plus the IDs of connections that were
// tracked before but are absent from this snapshot (closed).
//
// A connection seen for the first time contributes its full cumulative
// counters as the delta, since there is no prior baseline to subtract. A
// connection whose reported counters went backwards is treated as a
// counter reset (the router restarted counting for that ID): the baseline
// is rebased to the new value and this tick emits zero rather than an
// underflowed delta.
func (c *Computer) Compute(backendID string, snapshots []domain.ConnectionSnapshot, now time.Time) ([]domain.Delta, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]struct{}, len(snapshots))
	deltas := make([]domain.Delta, 0, len(snapshots))

	for _, snap := range snapshots {
		seen[snap.ID] = struct{}{}

		st, tracked := c.state[snap.ID]
		if !tracked {
			identity := identityOf(snap)
			c.state[snap.ID] = &domain.ConnectionState{
				Identity:       identity,
				BaselineUpload: snap.Upload,
				BaselineDown:   snap.Download,
				FirstSeen:      now,
				LastSeen:       now,
			}
			deltas = append(deltas, domain.Delta{
				ConnectionID:  snap.ID,
				Identity:      identity,
				UploadDelta:   snap.Upload,
				DownloadDelta: snap.Download,
				ObservedAt:    now,
				BackendID:     backendID,
				IsNew:         true,
			})
			continue
		}

		if st.Closed {
			// a connection ID resurfaced after being marked closed; treat it
			// as a fresh connection rather than resuming a stale baseline.
			st.Identity = identityOf(snap)
			st.Closed = false
			st.FirstSeen = now
			st.BaselineUpload = snap.Upload
			st.BaselineDown = snap.Download
			st.LastSeen = now
			deltas = append(deltas, domain.Delta{
				ConnectionID:  snap.ID,
				Identity:      st.Identity,
				UploadDelta:   snap.Upload,
				DownloadDelta: snap.Download,
				ObservedAt:    now,
				BackendID:     backendID,
				IsNew:         true,
			})
			continue
		}

		if snap.Upload < st.BaselineUpload || snap.Download < st.BaselineDown {
			st.BaselineUpload = snap.Upload
			st.BaselineDown = snap.Download
			st.LastSeen = now
			deltas = append(deltas, domain.Delta{
				ConnectionID:  snap.ID,
				Identity:      st.Identity,
				UploadDelta:   0,
				DownloadDelta: 0,
				ObservedAt:    now,
				BackendID:     backendID,
			})
			continue
		}

		uploadDelta := safeDiff(snap.Upload, st.BaselineUpload)
		downloadDelta := safeDiff(snap.Download, st.BaselineDown)

		st.BaselineUpload = snap.Upload
		st.BaselineDown = snap.Download
		st.LastSeen = now

		deltas = append(deltas, domain.Delta{
			ConnectionID:  snap.ID,
			Identity:      st.Identity,
			UploadDelta:   uploadDelta,
			DownloadDelta: downloadDelta,
			ObservedAt:    now,
			BackendID:     backendID,
		})
	}

	var closed []string
	for id, st := range c.state {
		if st.Closed {
			continue
		}
		if _, ok := seen[id]; !ok {
			st.Closed = true
			st.LastSeen = now
			closed = append(closed, id)
		}
	}

	return deltas, closed
}

// Sweep evicts connections that have been closed for longer than staleAfter,
// so the tracked-state map doesn't grow without bound across the lifetime of
// a long-running Collector Session.
func (c *Computer) Sweep(now time.Time, staleAfter time.Duration) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []string
	for id, st := range c.state {
		if st.Closed && now.Sub(st.LastSeen) > staleAfter {
			delete(c.state, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// FinalState returns the last known baseline and identity for a tracked
// connection id, so a caller persisting a just-closed connection's record
// can report its real final byte counts instead of zeros.
func (c *Computer) FinalState(id string) (domain.ConnectionState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.state[id]
	if !ok {
		return domain.ConnectionState{}, false
	}
	return *st, true
}

// ActiveCount returns the number of connections currently tracked,
// including ones marked closed but not yet swept.
func (c *Computer) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.state)
}

// Reset discards all tracked state. The Collector Session calls it when its
// run loop exits on Stop; a reconnect after a backoff keeps the existing
// baselines.
func (c *Computer) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = make(map[string]*domain.ConnectionState)
}

func identityOf(snap domain.ConnectionSnapshot) domain.ConnectionIdentity {
	return domain.ConnectionIdentity{
		Host:       snap.Host,
		DestIP:     snap.DestIP,
		SourceIP:   snap.SourceIP,
		ProxyChain: append([]string(nil), snap.ProxyChain...),
		Rule:       snap.Rule,
		Device:     snap.Device,
		Country:    snap.Country,
	}
}

func safeDiff(current, baseline uint64) uint64 {
	return util.SafeUint64(util.SafeInt64Diff(current, baseline))
}
