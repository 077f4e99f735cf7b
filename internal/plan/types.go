package plan

import "github.com/eugenenazirov/bmerger/internal/config"

// NumBlocks is the number of UNet blocks that receive a merge weight.
const NumBlocks = 25

// PhaseName identifies the stage an iteration belongs to.
type PhaseName string

const (
	PhaseWarmup       PhaseName = "warmup"
	PhaseOptimisation PhaseName = "optimisation"
)

// Plan summarises what a run will do for a given configuration.
// WarmupIterations and OptimisationIterations are derived from init_points
// and n_iters; TotalIterations is their sum.
type Plan struct {
	RunName      string           `json:"runName"`
	MergeMode    config.MergeMode `json:"mergeMode"`
	Optimiser    config.Optimiser `json:"optimiser"`
	HasBeta      bool             `json:"hasBeta"`
	Parameters   []string         `json:"parameters"`
	PayloadNames []string         `json:"payloads"`

	WarmupIterations       int `json:"warmupIterations"`
	OptimisationIterations int `json:"optimisationIterations"`
	TotalIterations        int `json:"totalIterations"`
	ImagesPerIteration     int `json:"imagesPerIteration"`

	ModelOutName string    `json:"modelOutName"`
	LogName      string    `json:"logName"`
	Artifacts    Artifacts `json:"artifacts"`
}

// Artifacts are the files a run writes. Empty fields are not produced.
type Artifacts struct {
	LogDirectory string `json:"logDirectory"`
	Scores       string `json:"scores"`
	Convergence  string `json:"convergence"`
	UNet         string `json:"unet,omitempty"`
	UNetBeta     string `json:"unetBeta,omitempty"`
	BestLog      string `json:"bestLog"`
	BestModel    string `json:"bestModel,omitempty"`
}

// Phase describes a single iteration of the run.
type Phase struct {
	Iteration int       `json:"iteration"`
	Name      PhaseName `json:"phase"`
	// Index is the position of the iteration inside its phase, starting at 1.
	Index int `json:"index"`
}
