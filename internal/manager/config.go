package manager

import (
	"time"

	"github.com/rs/zerolog"

	"inferd/internal/adapter/restjson"
	"inferd/internal/engine"
	"inferd/internal/executor"
	"inferd/internal/modelinstance"
	"inferd/internal/registry"
	"inferd/internal/sequence"
	"inferd/pkg/types"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultMaxQueueDepth   = 32
	defaultMaxWait         = 30 * time.Second
	defaultDrainTimeout    = 30 * time.Second
	defaultLoadParallelism = 4
)

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	// Models are per-model templates; Version is filled in from the
	// version directories found under each BasePath.
	Models []modelinstance.Config
	Engine engine.Engine
	Source modelinstance.ArtifactSource
	Logger zerolog.Logger
	// Publisher receives lifecycle events. Nil drops them.
	Publisher EventPublisher

	// MaxQueueDepth bounds admitted requests per model version.
	MaxQueueDepth int
	// MaxWait bounds the wait for an admission slot.
	MaxWait time.Duration
	// WaitForLoaded bounds the wait for a loading instance.
	WaitForLoaded time.Duration
	// DrainTimeout bounds each version's Reload, Unload and Close.
	DrainTimeout time.Duration
	// CleanerInterval is the sequence idle sweep period. Zero uses the
	// package default of the sequence package; negative disables sweeping.
	CleanerInterval time.Duration
	// Versions lists the versions under a base path. Defaults to
	// registry.Versions.
	Versions func(basePath string) ([]int64, error)
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	m := &Manager{
		state:     StateLoading,
		templates: make(map[string]modelinstance.Config, len(cfg.Models)),
		models:    make(map[string]map[int64]*instance),
		engine:    cfg.Engine,
		source:    cfg.Source,
		log:       cfg.Logger,
		publisher: cfg.Publisher,
		versions:  cfg.Versions,
		startTime: time.Now(),
	}
	for _, t := range cfg.Models {
		m.order = append(m.order, t.Name)
		m.templates[t.Name] = t.Clone()
	}
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	if m.source == nil {
		m.source = registry.LocalSource{}
	}
	if m.versions == nil {
		m.versions = registry.Versions
	}
	// Apply defaults if unset
	if cfg.MaxQueueDepth <= 0 {
		m.maxQueueDepth = defaultMaxQueueDepth
	} else {
		m.maxQueueDepth = cfg.MaxQueueDepth
	}
	if cfg.MaxWait <= 0 {
		m.maxWait = defaultMaxWait
	} else {
		m.maxWait = cfg.MaxWait
	}
	if cfg.DrainTimeout <= 0 {
		m.drainTimeout = defaultDrainTimeout
	} else {
		m.drainTimeout = cfg.DrainTimeout
	}
	if cfg.CleanerInterval >= 0 {
		m.cleaner = sequence.NewCleaner(cfg.CleanerInterval, cfg.Logger)
	}
	m.exec = newExecutor(cfg.Logger, cfg.WaitForLoaded)
	return m
}

func newExecutor(log zerolog.Logger, wait time.Duration) *jsonExecutor {
	return executor.New[*restjson.Request, *types.InferResponse](restjson.Adapter{}, executor.Options{Logger: log, WaitForLoaded: wait})
}
