package manager

import (
	"sync/atomic"
	"time"

	"inferd/internal/adapter/restjson"
	"inferd/internal/executor"
	"inferd/internal/metrics"
	"inferd/internal/modelinstance"
	"inferd/pkg/types"
)

// State represents lifecycle state of the manager.
type State string

const (
	StateReady   State = "ready"
	StateLoading State = "loading"
	StateError   State = "error"
)

type jsonExecutor = executor.Executor[*restjson.Request, *types.InferResponse]

// instance is one served model version plus the manager's bookkeeping.
type instance struct {
	model *modelinstance.Instance
	rep   *metrics.Reporter
	// queueCh holds one token per admitted request.
	queueCh     chan struct{}
	unsubscribe func()
	reloadsSeen atomic.Int64

	// Guarded by Manager.mu.
	lastErr  string
	lastUsed time.Time
}
