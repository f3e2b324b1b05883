package types

import "encoding/json"

// InferRequest is the body of POST /v1/models/{name}/infer.
type InferRequest struct {
	// Inputs by name.
	Inputs map[string]TensorInput `json:"inputs"`
	// Session id for stateful models. Omit it with control 1 to let the
	// server pick one.
	// example: 42
	SequenceID *uint64 `json:"sequence_id,omitempty" example:"42"`
	// Session control for stateful models: 0 none, 1 start, 2 end.
	// example: 1
	SequenceControl *uint64 `json:"sequence_control_input,omitempty" example:"1"`
}

// TensorInput carries one input. Exactly one of Data, Strings or B64 is set.
type TensorInput struct {
	// Element type, e.g. FP32, I64, U8. Defaults to the model's declared type.
	// example: FP32
	Datatype string `json:"datatype,omitempty" example:"FP32"`
	// Dimensions. Defaults to [len(data)].
	// example: [1,2]
	Shape []int64 `json:"shape,omitempty"`
	// Numeric elements in row-major order.
	Data []json.Number `json:"data,omitempty"`
	// Text elements, one per batch entry.
	Strings []string `json:"strings,omitempty"`
	// Base64 encoded blobs such as images, one per batch entry.
	B64 []string `json:"b64,omitempty"`
}

// InferResponse is returned by a successful inference.
type InferResponse struct {
	// example: resnet
	ModelName string `json:"model_name" example:"resnet"`
	// example: 1
	ModelVersion int64 `json:"model_version" example:"1"`
	// Outputs by name.
	Outputs map[string]TensorOutput `json:"outputs"`
	// Session id for stateful models.
	SequenceID *uint64 `json:"sequence_id,omitempty"`
}

// TensorOutput carries one output.
type TensorOutput struct {
	// example: FP32
	Datatype string `json:"datatype" example:"FP32"`
	// example: [1,2]
	Shape   []int64       `json:"shape"`
	Data    []json.Number `json:"data,omitempty"`
	Strings []string      `json:"strings,omitempty"`
}

// ReloadRequest is the optional body of POST /v1/models/{name}/reload.
// Empty fields keep the current value.
type ReloadRequest struct {
	// "auto" or a positive integer.
	// example: auto
	BatchSize string `json:"batch_size,omitempty" example:"auto"`
	// Per-input shape, e.g. "(1,3,-1,-1)" or "auto".
	Shapes map[string]string `json:"shape,omitempty"`
	// Execution context count.
	// example: 4
	Nireq *int `json:"nireq,omitempty" example:"4"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid input shape
	Error string `json:"error" example:"invalid input shape"`
	// Error class: configuration, concurrency, resource, unavailable,
	// not_found or internal.
	// example: configuration
	Kind string `json:"kind,omitempty" example:"configuration"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Overall server state: loading, ready or error.
	// example: ready
	State string `json:"state" example:"ready"`
	// One entry per served model version.
	Models []ModelStatus `json:"models"`
	// Last load error observed by the manager, if any.
	LastError string `json:"last_error,omitempty"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Live sequences across all stateful models.
	// example: 3
	SequencesTotal int `json:"sequences_total" example:"3"`
}
