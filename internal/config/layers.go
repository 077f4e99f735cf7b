package config

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

const (
	defaultRunName      = "${optimiser}_${scorer_method}"
	defaultLogDirectory = "logs/${run_name}-${hydra:job.name}-${now:%Y-%m-%d_%H-%M-%S}"
	defaultServiceURL   = "http://127.0.0.1:7860"

	// DefaultJobName is the job name substituted for ${hydra:job.name}.
	DefaultJobName = "bayesian_merger"
)

// layer is a partial record. A nil field means the layer does not set the key.
// Layers are merged left to right and are never mutated after construction.
type layer struct {
	RunName    *string `yaml:"run_name" env:"RUN_NAME"`
	ServiceURL *string `yaml:"url" env:"URL"`
	Device     *string `yaml:"device" env:"DEVICE"`

	WildcardsDir   *string `yaml:"wildcards_dir" env:"WILDCARDS_DIR"`
	ScorerModelDir *string `yaml:"scorer_model_dir" env:"SCORER_MODEL_DIR"`
	ModelA         *string `yaml:"model_a" env:"MODEL_A"`
	ModelB         *string `yaml:"model_b" env:"MODEL_B"`
	ModelC         *string `yaml:"model_c" env:"MODEL_C"`

	SkipPositionIDs   *int    `yaml:"skip_position_ids" env:"SKIP_POSITION_IDS"`
	MergeMode         *string `yaml:"merge_mode" env:"MERGE_MODE"`
	Optimiser         *string `yaml:"optimiser" env:"OPTIMISER"`
	BoundsTransformer *bool   `yaml:"bounds_transformer" env:"BOUNDS_TRANSFORMER"`

	BatchSize  *int `yaml:"batch_size" env:"BATCH_SIZE"`
	InitPoints *int `yaml:"init_points" env:"INIT_POINTS"`
	NIters     *int `yaml:"n_iters" env:"N_ITERS"`

	SaveImages        *bool `yaml:"save_imgs" env:"SAVE_IMGS"`
	SaveBest          *bool `yaml:"save_best" env:"SAVE_BEST"`
	DrawUNetWeights   *bool `yaml:"draw_unet_weights" env:"DRAW_UNET_WEIGHTS"`
	DrawUNetBaseAlpha *bool `yaml:"draw_unet_base_alpha" env:"DRAW_UNET_BASE_ALPHA"`

	ScorerMethod    *string `yaml:"scorer_method" env:"SCORER_METHOD"`
	ScorerModelName *string `yaml:"scorer_model_name" env:"SCORER_MODEL_NAME"`

	BestFormat    *string `yaml:"best_format" env:"BEST_FORMAT"`
	BestPrecision *int    `yaml:"best_precision" env:"BEST_PRECISION"`

	Hydra hydraLayer `yaml:"hydra" envPrefix:"HYDRA_"`

	Payloads map[string]Payload `yaml:"payloads"`
}

// hydraLayer holds the run directory template and job name. Other keys of
// the hydra block belong to the launcher and are ignored.
type hydraLayer struct {
	Run struct {
		Dir *string `yaml:"dir" env:"DIR"`
	} `yaml:"run" envPrefix:"RUN_"`
	Job struct {
		Name *string `yaml:"name" env:"NAME"`
	} `yaml:"job" envPrefix:"JOB_"`
}

func (h *hydraLayer) UnmarshalYAML(node *yaml.Node) error {
	type plain hydraLayer
	return node.Decode((*plain)(h))
}

func defaultLayer() layer {
	l := layer{
		RunName:           ptr(defaultRunName),
		ServiceURL:        ptr(defaultServiceURL),
		Device:            ptr(string(DeviceCPU)),
		WildcardsDir:      ptr(""),
		ScorerModelDir:    ptr(""),
		ModelA:            ptr(""),
		ModelB:            ptr(""),
		ModelC:            ptr(""),
		SkipPositionIDs:   ptr(0),
		MergeMode:         ptr(string(MergeWeightedSum)),
		Optimiser:         ptr(string(OptimiserBayes)),
		BoundsTransformer: ptr(false),
		BatchSize:         ptr(1),
		InitPoints:        ptr(1),
		NIters:            ptr(1),
		SaveImages:        ptr(false),
		SaveBest:          ptr(false),
		DrawUNetWeights:   ptr(false),
		DrawUNetBaseAlpha: ptr(false),
		ScorerMethod:      ptr(string(ScorerChad)),
		ScorerModelName:   ptr(""),
		BestFormat:        ptr(string(FormatSafetensors)),
		BestPrecision:     ptr(int(Precision16)),
	}
	l.Hydra.Run.Dir = ptr(defaultLogDirectory)
	l.Hydra.Job.Name = ptr(DefaultJobName)
	return l
}

// mergeLayers overlays layers left to right. Pointers are replaced, not
// dereferenced, so an explicit false or 0 in a later layer still wins.
// Payloads with the same name are merged key by key.
func mergeLayers(layers ...layer) (layer, error) {
	var merged layer
	for i, l := range layers {
		payloads := l.Payloads
		l.Payloads = nil
		if err := mergo.Merge(&merged, l, mergo.WithOverride, mergo.WithoutDereference); err != nil {
			return layer{}, fmt.Errorf("merge layer %d: %w", i, err)
		}
		if err := mergePayloads(&merged, payloads); err != nil {
			return layer{}, fmt.Errorf("merge layer %d: %w", i, err)
		}
	}
	return merged, nil
}

// mergePayloads overlays src onto the payloads of dst. Keys a later payload
// leaves empty keep the earlier value. Neither side's maps are shared.
func mergePayloads(dst *layer, src map[string]Payload) error {
	if len(src) == 0 {
		return nil
	}
	if dst.Payloads == nil {
		dst.Payloads = make(map[string]Payload, len(src))
	}
	for _, name := range slices.Sorted(maps.Keys(src)) {
		over := src[name]
		cur, ok := dst.Payloads[name]
		if !ok {
			dst.Payloads[name] = over.clone()
			continue
		}

		extra, overExtra := maps.Clone(cur.Extra), over.Extra
		cur.Extra, over.Extra = nil, nil
		if err := mergo.Merge(&cur, over, mergo.WithOverride); err != nil {
			return fmt.Errorf("payload %s: %w", name, err)
		}
		if len(overExtra) > 0 {
			if extra == nil {
				extra = make(map[string]any, len(overExtra))
			}
			maps.Copy(extra, overExtra)
		}
		cur.Extra = extra
		dst.Payloads[name] = cur
	}
	return nil
}

func (l layer) resolve() RunConfiguration {
	cfg := RunConfiguration{
		RunName:           deref(l.RunName),
		LogDirectory:      deref(l.Hydra.Run.Dir),
		ServiceURL:        strings.TrimSpace(deref(l.ServiceURL)),
		Device:            Device(deref(l.Device)),
		WildcardsDir:      deref(l.WildcardsDir),
		ScorerModelDir:    deref(l.ScorerModelDir),
		ModelA:            deref(l.ModelA),
		ModelB:            deref(l.ModelB),
		ModelC:            deref(l.ModelC),
		SkipPositionIDs:   deref(l.SkipPositionIDs),
		MergeMode:         MergeMode(deref(l.MergeMode)),
		Optimiser:         Optimiser(deref(l.Optimiser)),
		BoundsTransformer: deref(l.BoundsTransformer),
		BatchSize:         deref(l.BatchSize),
		InitPoints:        deref(l.InitPoints),
		NIters:            deref(l.NIters),
		SaveImages:        deref(l.SaveImages),
		SaveBest:          deref(l.SaveBest),
		DrawUNetWeights:   deref(l.DrawUNetWeights),
		DrawUNetBaseAlpha: deref(l.DrawUNetBaseAlpha),
		ScorerMethod:      ScorerMethod(deref(l.ScorerMethod)),
		ScorerModelName:   deref(l.ScorerModelName),
		BestFormat:        BestFormat(deref(l.BestFormat)),
		BestPrecision:     BestPrecision(deref(l.BestPrecision)),
	}
	if cfg.ScorerModelName == "" {
		cfg.ScorerModelName = cfg.ScorerMethod.DefaultModelName()
	}

	cfg.payloads = make(map[string]Payload, len(l.Payloads))
	for name, p := range l.Payloads {
		p = p.clone()
		if p.BatchSize == 0 {
			p.BatchSize = 1
		}
		cfg.payloads[name] = p
	}

	return cfg
}

// scalarFields calls fn for every pointer field of the layer with its dotted
// YAML key, e.g. "optimiser" or "hydra.run.dir".
func (l *layer) scalarFields(fn func(key string, field reflect.Value)) {
	walkScalars(reflect.ValueOf(l).Elem(), "", fn)
}

func walkScalars(v reflect.Value, prefix string, fn func(string, reflect.Value)) {
	t := v.Type()
	for i := range t.NumField() {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			continue
		}
		field := v.Field(i)
		switch field.Kind() {
		case reflect.Struct:
			walkScalars(field, prefix+name+".", fn)
		case reflect.Pointer:
			fn(prefix+name, field)
		}
	}
}

// knownKeys returns every dotted key a layer can set, plus the payloads group.
func knownKeys() map[string]struct{} {
	keys := map[string]struct{}{payloadsGroup: {}}
	var l layer
	l.scalarFields(func(key string, _ reflect.Value) {
		keys[key] = struct{}{}
	})
	return keys
}

func ptr[T any](v T) *T {
	return &v
}

func deref[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}
