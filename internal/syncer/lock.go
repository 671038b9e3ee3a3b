package syncer

import "sync/atomic"

// SyncLock is the two-state IDLE/SYNCING guard of the sync manager.
// Acquisition never blocks: a second caller learns a sync is already running
// and returns.
type SyncLock struct {
	state atomic.Int32 // 0 = idle, 1 = syncing
}

// TryAcquire moves the lock from idle to syncing.
// Returns false if a sync already holds it.
func (l *SyncLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release moves the lock back to idle.
// Must only be called by the goroutine that acquired it.
func (l *SyncLock) Release() {
	l.state.Store(0)
}

// Held reports whether a sync is running
func (l *SyncLock) Held() bool {
	return l.state.Load() == 1
}
