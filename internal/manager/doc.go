// Package manager coordinates the served model versions: discovery and
// loading, admission, inference, reload and unload. It is structured into
// small files by concern:
//
//   - manager.go: core Manager type, readiness and model listing.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: internal bookkeeping per model version.
//   - errors.go: error types and helpers (IsTooBusy, IsModelNotFound).
//   - load.go: LoadAll/Load, version discovery and registration.
//   - queue_admission.go: per-version bounded admission queue.
//   - infer.go: sync and async inference entry points, version resolution.
//   - reload.go: Reload with batch size, shape and nireq overrides.
//   - unload.go: Unload and Close with a bounded drain.
//   - status_report.go: Status and ModelStatus reporting.
//   - events.go: lifecycle events and metrics fed from instance transitions.
//
// A request passes admission first, then the executor takes a use lease on
// the model version and an execution context from its pool. Versions are
// never replaced while a request holds a lease; reloads and unloads wait for
// in-flight requests to drain.
//
// External packages should treat this package as the orchestration layer and use
// public methods only (e.g., NewWithConfig, LoadAll, Ready, ListModels, Status,
// Infer). Internal types are subject to change.
package manager
