package config

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// MergeMode selects the weight merge algorithm family.
type MergeMode string

const (
	MergeWeightedSum   MergeMode = "weighted_sum"
	MergeAddDifference MergeMode = "add_difference"
	MergeSumTwice      MergeMode = "sum_twice"
	MergeTripleSum     MergeMode = "triple_sum"
)

// MergeModes lists every supported merge mode.
var MergeModes = []MergeMode{MergeWeightedSum, MergeAddDifference, MergeSumTwice, MergeTripleSum}

// Valid reports whether m is a supported merge mode.
func (m MergeMode) Valid() bool { return slices.Contains(MergeModes, m) }

// HasBeta reports whether the merge mode needs a second set of block weights.
func (m MergeMode) HasBeta() bool {
	return m == MergeSumTwice || m == MergeTripleSum
}

// NeedsModelC reports whether the merge mode reads a third model.
func (m MergeMode) NeedsModelC() bool {
	return m == MergeAddDifference || m == MergeSumTwice || m == MergeTripleSum
}

// Optimiser selects the search strategy.
type Optimiser string

const (
	OptimiserBayes Optimiser = "bayes"
	OptimiserTPE   Optimiser = "tpe"
)

// Optimisers lists every supported optimiser.
var Optimisers = []Optimiser{OptimiserBayes, OptimiserTPE}

func (o Optimiser) Valid() bool { return slices.Contains(Optimisers, o) }

// ScorerMethod names the aesthetic scorer.
type ScorerMethod string

const (
	ScorerChad          ScorerMethod = "chad"
	ScorerLaion         ScorerMethod = "laion"
	ScorerAes           ScorerMethod = "aes"
	ScorerCafeAesthetic ScorerMethod = "cafe_aesthetic"
	ScorerCafeStyle     ScorerMethod = "cafe_style"
	ScorerCafeWaifu     ScorerMethod = "cafe_waifu"
)

// ScorerMethods lists every supported scorer method.
var ScorerMethods = []ScorerMethod{
	ScorerChad, ScorerLaion, ScorerAes,
	ScorerCafeAesthetic, ScorerCafeStyle, ScorerCafeWaifu,
}

func (s ScorerMethod) Valid() bool { return slices.Contains(ScorerMethods, s) }

// UsesModelFile reports whether the scorer loads a local model file from
// scorer_model_dir. The cafe scorers are fetched as hub pipelines instead.
func (s ScorerMethod) UsesModelFile() bool {
	switch s {
	case ScorerChad, ScorerLaion, ScorerAes:
		return true
	}
	return false
}

// DefaultModelName returns the model file a scorer method loads when
// scorer_model_name is not set.
func (s ScorerMethod) DefaultModelName() string {
	switch s {
	case ScorerChad:
		return "sac+logos+ava1-l14-linearMSE.pth"
	case ScorerLaion:
		return "laion-sac-logos-ava-v2.2-l14-linearMSE.pth"
	case ScorerAes:
		return "aes-B32-v0.pth"
	}
	return ""
}

// BestFormat is the file format of the saved best merge.
type BestFormat string

const (
	FormatSafetensors BestFormat = "safetensors"
	FormatCkpt        BestFormat = "ckpt"
)

// BestFormats lists every supported output format.
var BestFormats = []BestFormat{FormatSafetensors, FormatCkpt}

func (f BestFormat) Valid() bool { return slices.Contains(BestFormats, f) }

// BestPrecision is the floating point width of the saved best merge.
type BestPrecision int

const (
	Precision16 BestPrecision = 16
	Precision32 BestPrecision = 32
)

// BestPrecisions lists every supported precision.
var BestPrecisions = []BestPrecision{Precision16, Precision32}

func (p BestPrecision) Valid() bool { return slices.Contains(BestPrecisions, p) }

// Device is either "cpu" or a GPU identifier ("cuda", "cuda:N" or "N").
type Device string

const DeviceCPU Device = "cpu"

var gpuDevicePattern = regexp.MustCompile(`^(cuda(:[0-9]+)?|[0-9]+)$`)

func (d Device) Valid() bool {
	return d == DeviceCPU || gpuDevicePattern.MatchString(string(d))
}

// IsGPU reports whether the device names a GPU.
func (d Device) IsGPU() bool {
	return d != DeviceCPU && d.Valid()
}

// GPUIndex returns the GPU ordinal, 0 when the device is plain "cuda".
func (d Device) GPUIndex() (int, error) {
	if !d.IsGPU() {
		return 0, fmt.Errorf("device %q is not a gpu", string(d))
	}
	if d == "cuda" {
		return 0, nil
	}
	if ordinal, ok := strings.CutPrefix(string(d), "cuda:"); ok {
		return strconv.Atoi(ordinal)
	}
	return strconv.Atoi(string(d))
}

func allowed[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

func allowedPrecisions() []string {
	out := make([]string, len(BestPrecisions))
	for i, p := range BestPrecisions {
		out[i] = strconv.Itoa(int(p))
	}
	return out
}
