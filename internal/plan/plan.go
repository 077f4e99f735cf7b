package plan

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/eugenenazirov/bmerger/internal/config"
)

const (
	modelOutPrefix = "bbwm"
	bestLogName    = "best.log"
)

// New derives the run plan of a validated configuration.
func New(cfg config.RunConfiguration) (Plan, error) {
	if err := cfg.Validate(); err != nil {
		return Plan{}, fmt.Errorf("plan: %w", err)
	}

	names := cfg.PayloadNames()
	if len(names) == 0 {
		return Plan{}, ErrNoPayloads
	}

	imagesPerBatch := 0
	for _, name := range names {
		p, _ := cfg.Payload(name)
		imagesPerBatch += p.BatchSize
	}

	hasBeta := cfg.MergeMode.HasBeta()
	modelOut := modelOutName(cfg.ModelA, cfg.ModelB)
	logName := modelOut + "-" + string(cfg.Optimiser)

	return Plan{
		RunName:                cfg.RunName,
		MergeMode:              cfg.MergeMode,
		Optimiser:              cfg.Optimiser,
		HasBeta:                hasBeta,
		Parameters:             parameters(hasBeta),
		PayloadNames:           names,
		WarmupIterations:       cfg.InitPoints,
		OptimisationIterations: cfg.NIters,
		TotalIterations:        cfg.InitPoints + cfg.NIters,
		ImagesPerIteration:     cfg.BatchSize * imagesPerBatch,
		ModelOutName:           modelOut,
		LogName:                logName,
		Artifacts:              artifacts(cfg, modelOut, logName, hasBeta),
	}, nil
}

// Phase reports which stage the 1-based iteration belongs to.
func (p Plan) Phase(iteration int) (Phase, error) {
	if iteration < 1 || iteration > p.TotalIterations {
		return Phase{}, fmt.Errorf("%w: %d not in 1..%d", ErrInvalidIteration, iteration, p.TotalIterations)
	}
	if iteration <= p.WarmupIterations {
		return Phase{Iteration: iteration, Name: PhaseWarmup, Index: iteration}, nil
	}
	return Phase{
		Iteration: iteration,
		Name:      PhaseOptimisation,
		Index:     iteration - p.WarmupIterations,
	}, nil
}

func parameters(hasBeta bool) []string {
	size := NumBlocks + 1
	if hasBeta {
		size *= 2
	}

	params := make([]string, 0, size)
	for i := range NumBlocks {
		params = append(params, fmt.Sprintf("block_%d", i))
	}
	params = append(params, "base_alpha")
	if hasBeta {
		for i := range NumBlocks {
			params = append(params, fmt.Sprintf("block_%d_beta", i))
		}
		params = append(params, "base_beta")
	}
	return params
}

func modelOutName(modelA, modelB string) string {
	return strings.Join([]string{modelOutPrefix, stem(modelA), stem(modelB)}, "-")
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func artifacts(cfg config.RunConfiguration, modelOut, logName string, hasBeta bool) Artifacts {
	dir := cfg.LogDirectory
	a := Artifacts{
		LogDirectory: dir,
		Scores:       filepath.Join(dir, logName+".json"),
		Convergence:  filepath.Join(dir, logName+".png"),
		UNet:         filepath.Join(dir, logName+"-unet.png"),
		BestLog:      filepath.Join(dir, bestLogName),
	}
	if hasBeta {
		a.UNetBeta = filepath.Join(dir, logName+"-unet_beta.png")
	}
	if cfg.SaveBest {
		a.BestModel = filepath.Join(dir, fmt.Sprintf("%s-best-fp%d.%s", modelOut, cfg.BestPrecision, cfg.BestFormat))
	}
	return a
}
