package config

import (
	"maps"
	"slices"
)

// RunConfiguration is the fully resolved configuration of one optimisation
// run. It is produced by the loader and must not be mutated afterwards.
type RunConfiguration struct {
	RunName      string `yaml:"run_name" json:"run_name"`
	LogDirectory string `yaml:"log_directory" json:"log_directory"`

	ServiceURL string `yaml:"url" json:"url"`
	Device     Device `yaml:"device" json:"device"`

	WildcardsDir   string `yaml:"wildcards_dir" json:"wildcards_dir"`
	ScorerModelDir string `yaml:"scorer_model_dir" json:"scorer_model_dir"`
	ModelA         string `yaml:"model_a" json:"model_a"`
	ModelB         string `yaml:"model_b" json:"model_b"`
	ModelC         string `yaml:"model_c" json:"model_c"`

	SkipPositionIDs   int       `yaml:"skip_position_ids" json:"skip_position_ids"`
	MergeMode         MergeMode `yaml:"merge_mode" json:"merge_mode"`
	Optimiser         Optimiser `yaml:"optimiser" json:"optimiser"`
	BoundsTransformer bool      `yaml:"bounds_transformer" json:"bounds_transformer"`

	BatchSize  int `yaml:"batch_size" json:"batch_size"`
	InitPoints int `yaml:"init_points" json:"init_points"`
	NIters     int `yaml:"n_iters" json:"n_iters"`

	SaveImages        bool `yaml:"save_imgs" json:"save_imgs"`
	SaveBest          bool `yaml:"save_best" json:"save_best"`
	DrawUNetWeights   bool `yaml:"draw_unet_weights" json:"draw_unet_weights"`
	DrawUNetBaseAlpha bool `yaml:"draw_unet_base_alpha" json:"draw_unet_base_alpha"`

	ScorerMethod    ScorerMethod `yaml:"scorer_method" json:"scorer_method"`
	ScorerModelName string       `yaml:"scorer_model_name" json:"scorer_model_name"`

	BestFormat    BestFormat    `yaml:"best_format" json:"best_format"`
	BestPrecision BestPrecision `yaml:"best_precision" json:"best_precision"`

	payloads map[string]Payload
}

// Payload is one image generation request template sent to the service.
type Payload struct {
	Prompt         string  `yaml:"prompt" json:"prompt"`
	NegativePrompt string  `yaml:"negative_prompt,omitempty" json:"negative_prompt,omitempty"`
	Steps          int     `yaml:"steps,omitempty" json:"steps,omitempty"`
	CFGScale       float64 `yaml:"cfg_scale,omitempty" json:"cfg_scale,omitempty"`
	Width          int     `yaml:"width,omitempty" json:"width,omitempty"`
	Height         int     `yaml:"height,omitempty" json:"height,omitempty"`
	SamplerName    string  `yaml:"sampler_name,omitempty" json:"sampler_name,omitempty"`
	Seed           int64   `yaml:"seed,omitempty" json:"seed,omitempty"`
	BatchSize      int     `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`

	// Extra keeps keys the service accepts that have no dedicated field.
	Extra map[string]any `yaml:",inline" json:"extra,omitempty"`
}

func (p Payload) clone() Payload {
	p.Extra = maps.Clone(p.Extra)
	return p
}

// Payloads returns a copy of the payloads selected by the payload layer.
func (c RunConfiguration) Payloads() map[string]Payload {
	out := make(map[string]Payload, len(c.payloads))
	for name, p := range c.payloads {
		out[name] = p.clone()
	}
	return out
}

// PayloadNames returns the payload names in lexical order.
func (c RunConfiguration) PayloadNames() []string {
	return slices.Sorted(maps.Keys(c.payloads))
}

// Payload returns a copy of the named payload.
func (c RunConfiguration) Payload(name string) (Payload, bool) {
	p, ok := c.payloads[name]
	if !ok {
		return Payload{}, false
	}
	return p.clone(), true
}

// Document is the serialisable form of a RunConfiguration, payloads included.
type Document struct {
	RunConfiguration `yaml:",inline"`
	Payloads         map[string]Payload `yaml:"payloads" json:"payloads"`
}

// Document returns the configuration in its serialisable form.
func (c RunConfiguration) Document() Document {
	return Document{RunConfiguration: c, Payloads: c.Payloads()}
}
