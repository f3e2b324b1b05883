package types

// Model is one served model and its versions.
type Model struct {
	// example: resnet
	Name     string         `json:"name" example:"resnet"`
	Versions []ModelVersion `json:"versions"`
}

// ModelVersion is the lifecycle state of one version.
type ModelVersion struct {
	// example: 1
	Version int64 `json:"version" example:"1"`
	// START, LOADING, AVAILABLE, UNLOADING or END.
	// example: AVAILABLE
	State string `json:"state" example:"AVAILABLE"`
	// Last load or reload error.
	Error string `json:"error,omitempty"`
}

// ModelStatus summarizes one model version for /status.
type ModelStatus struct {
	// example: resnet
	Name string `json:"name" example:"resnet"`
	// example: 1
	Version int64 `json:"version" example:"1"`
	// example: AVAILABLE
	State string `json:"state" example:"AVAILABLE"`
	// Requests holding a use lease.
	InUse int64 `json:"in_use"`
	// Execution contexts in the pool and how many are leased.
	PoolSize  int `json:"pool_size"`
	PoolInUse int `json:"pool_in_use"`
	// Completed reloads since load.
	Reloads int64 `json:"reloads"`
	// Requests waiting for admission and the admission limit.
	QueueLen      int `json:"queue_len"`
	MaxQueueDepth int `json:"max_queue_depth"`
	// Stateful models only.
	Stateful     bool `json:"stateful"`
	Sequences    int  `json:"sequences,omitempty"`
	MaxSequences int  `json:"max_sequences,omitempty"`
	// Configured batch size and shapes.
	BatchSize string            `json:"batch_size,omitempty"`
	Shapes    map[string]string `json:"shapes,omitempty"`
	// Declared tensors.
	Inputs  []TensorMetadata `json:"inputs,omitempty"`
	Outputs []TensorMetadata `json:"outputs,omitempty"`
}

// TensorMetadata describes a declared input or output.
type TensorMetadata struct {
	// example: x
	Name string `json:"name" example:"x"`
	// example: FP32
	Datatype string `json:"datatype" example:"FP32"`
	// example: (-1,3,224,224)
	Shape string `json:"shape" example:"(-1,3,224,224)"`
}
