package manager

import (
	"context"
	"time"
)

// admit reserves a queue slot on in for one request. Returns a release func
// to be deferred.
func (m *Manager) admit(ctx context.Context, name string, in *instance) (func(), error) {
	// Fast path: respect an already-canceled context
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}

	select {
	case in.queueCh <- struct{}{}:
	default:
		// Queue full: wait up to maxWait for a slot
		timer := time.NewTimer(m.maxWait)
		defer timer.Stop()
		select {
		case in.queueCh <- struct{}{}:
		case <-ctx.Done():
			return func() {}, ctx.Err()
		case <-timer.C:
			return func() {}, tooBusyError{modelID: name}
		}
	}

	m.mu.Lock()
	in.lastUsed = time.Now()
	m.mu.Unlock()
	return func() { <-in.queueCh }, nil
}
