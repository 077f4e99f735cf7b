package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"slices"
	"strings"
)

const maxSkipPositionIDs = 2

// Validate checks every closed value set and range of the configuration.
// All violations are reported, joined; each one is a *ValidationError.
func (c RunConfiguration) Validate() error {
	var errs []error
	add := func(err *ValidationError) {
		errs = append(errs, err)
	}

	if strings.TrimSpace(c.RunName) == "" {
		add(&ValidationError{Field: "run_name", Reason: "must not be empty"})
	}
	if strings.TrimSpace(c.LogDirectory) == "" {
		add(&ValidationError{Field: "hydra.run.dir", Reason: "must not be empty"})
	}
	if err := validateServiceURL(c.ServiceURL); err != nil {
		add(&ValidationError{Field: "url", Value: c.ServiceURL, Reason: err.Error()})
	}
	if !c.Device.Valid() {
		add(&ValidationError{Field: "device", Value: string(c.Device), Allowed: []string{"cpu", "cuda", "cuda:<n>", "<n>"}})
	}

	if c.ModelA == "" {
		add(&ValidationError{Field: "model_a", Reason: "must not be empty"})
	}
	if c.ModelB == "" {
		add(&ValidationError{Field: "model_b", Reason: "must not be empty"})
	}
	if c.MergeMode.NeedsModelC() && c.ModelC == "" {
		add(&ValidationError{Field: "model_c", Reason: fmt.Sprintf("required by merge_mode %s", c.MergeMode)})
	}

	if c.SkipPositionIDs < 0 || c.SkipPositionIDs > maxSkipPositionIDs {
		add(&ValidationError{Field: "skip_position_ids", Value: c.SkipPositionIDs, Allowed: []string{"0", "1", "2"}})
	}
	if !c.MergeMode.Valid() {
		add(&ValidationError{Field: "merge_mode", Value: string(c.MergeMode), Allowed: allowed(MergeModes)})
	}
	if !c.Optimiser.Valid() {
		add(&ValidationError{Field: "optimiser", Value: string(c.Optimiser), Allowed: allowed(Optimisers)})
	}

	for field, v := range map[string]int{"batch_size": c.BatchSize, "init_points": c.InitPoints, "n_iters": c.NIters} {
		if v < 1 {
			add(&ValidationError{Field: field, Value: v, Reason: "must be a positive integer"})
		}
	}

	if !c.ScorerMethod.Valid() {
		add(&ValidationError{Field: "scorer_method", Value: string(c.ScorerMethod), Allowed: allowed(ScorerMethods)})
	} else if c.ScorerMethod.UsesModelFile() {
		if c.ScorerModelDir == "" {
			add(&ValidationError{Field: "scorer_model_dir", Reason: fmt.Sprintf("required by scorer_method %s", c.ScorerMethod)})
		}
		if filepath.Ext(c.ScorerModelName) != ".pth" || filepath.Base(c.ScorerModelName) != c.ScorerModelName {
			add(&ValidationError{
				Field:  "scorer_model_name",
				Value:  c.ScorerModelName,
				Reason: fmt.Sprintf("scorer_method %s needs a .pth file name", c.ScorerMethod),
			})
		}
	}

	if !c.BestFormat.Valid() {
		add(&ValidationError{Field: "best_format", Value: string(c.BestFormat), Allowed: allowed(BestFormats)})
	}
	if !c.BestPrecision.Valid() {
		add(&ValidationError{Field: "best_precision", Value: int(c.BestPrecision), Allowed: allowedPrecisions()})
	}

	for _, name := range c.PayloadNames() {
		p := c.payloads[name]
		if strings.TrimSpace(p.Prompt) == "" {
			add(&ValidationError{Field: "payloads." + name + ".prompt", Reason: "must not be empty"})
		}
		if p.BatchSize < 1 {
			add(&ValidationError{Field: "payloads." + name + ".batch_size", Value: p.BatchSize, Reason: "must be a positive integer"})
		}
	}

	slices.SortStableFunc(errs, func(a, b error) int {
		return strings.Compare(a.(*ValidationError).Field, b.(*ValidationError).Field)
	})
	return errors.Join(errs...)
}

func validateServiceURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("scheme must be http or https")
	}
	if u.Host == "" {
		return errors.New("host must not be empty")
	}
	return nil
}
