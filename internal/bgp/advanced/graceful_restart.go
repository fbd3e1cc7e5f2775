package advanced

import (
	"sync"
	"time"
)

// GracefulRestartTracker records, per peer, how long stale routes
// should be kept (marked stale, not withdrawn) after that peer's
// session goes down. internal/bgp reports a session down each time a
// peer with GracefulRestart set in its local Config drops to Idle,
// whether or not the peer advertised the capability. Spec's
// Open-Question resolution: the
// peer's own Restart Time from its capability is authoritative; 120s
// is used only when that capability was absent.
type GracefulRestartTracker interface {
	// OnSessionDown starts the stale timer for peerID and reports the
	// deadline the caller should hold stale routes until.
	OnSessionDown(peerID uint32, restartTime time.Duration) time.Time
	// OnSessionUp clears any stale timer for peerID, called when the
	// peer's session enters Established again (no End-of-RIB marker is
	// awaited).
	OnSessionUp(peerID uint32)
	// IsStale reports whether peerID's stale window is still open.
	IsStale(peerID uint32) bool
}

const DefaultRestartTime = 120 * time.Second

type noopGracefulRestart struct{}

func (noopGracefulRestart) OnSessionDown(uint32, time.Duration) time.Time { return time.Time{} }
func (noopGracefulRestart) OnSessionUp(uint32)                            {}
func (noopGracefulRestart) IsStale(uint32) bool                           { return false }

// NoGracefulRestart is the always-present no-op, used when
// graceful-restart is disabled in configuration.
func NoGracefulRestart() GracefulRestartTracker { return noopGracefulRestart{} }

type restartTracker struct {
	mu       sync.Mutex
	deadline map[uint32]time.Time
}

// NewGracefulRestartTracker builds a tracker that keeps routes from a
// down peer marked stale until either the peer comes back or its
// restart-time deadline passes, whichever the caller observes first.
func NewGracefulRestartTracker() GracefulRestartTracker {
	return &restartTracker{deadline: map[uint32]time.Time{}}
}

func (t *restartTracker) OnSessionDown(peerID uint32, restartTime time.Duration) time.Time {
	if restartTime <= 0 {
		restartTime = DefaultRestartTime
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	d := time.Now().Add(restartTime)
	t.deadline[peerID] = d
	return d
}

func (t *restartTracker) OnSessionUp(peerID uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.deadline, peerID)
}

func (t *restartTracker) IsStale(peerID uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.deadline[peerID]
	return ok && time.Now().Before(d)
}
