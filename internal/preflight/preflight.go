// Package preflight runs the checks an orchestrator performs before it
// starts a run: the declared paths exist and the generation service answers.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/bmerger/internal/config"
)

const (
	defaultTimeout   = 5 * time.Second
	defaultProbePath = "/sdapi/v1/options"
)

// ErrServiceUnreachable is returned when the generation service does not
// answer the probe with a 2xx status.
var ErrServiceUnreachable = errors.New("generation service unreachable")

// Options tunes the service probe. Zero values select the defaults.
type Options struct {
	Timeout   time.Duration
	ProbePath string
}

// Checker runs preflight checks against a resolved configuration.
type Checker struct {
	client    *resty.Client
	probePath string
	logger    *zap.Logger
}

// New creates a Checker.
func New(opts Options, logger *zap.Logger) *Checker {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.ProbePath == "" {
		opts.ProbePath = defaultProbePath
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Checker{
		client:    resty.New().SetTimeout(opts.Timeout),
		probePath: "/" + strings.TrimLeft(opts.ProbePath, "/"),
		logger:    logger,
	}
}

// Check verifies the declared paths and probes the service. Every failure
// is reported, joined.
func (c *Checker) Check(ctx context.Context, cfg config.RunConfiguration) error {
	var errs []error

	if err := config.CheckPaths(cfg); err != nil {
		for _, v := range config.Violations(err) {
			c.logger.Warn("path check failed", zap.Error(v))
		}
		errs = append(errs, err)
	}

	if err := c.Probe(ctx, cfg.ServiceURL); err != nil {
		c.logger.Warn("service probe failed", zap.String("url", cfg.ServiceURL), zap.Error(err))
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Probe issues a GET against the service and expects a 2xx answer.
func (c *Checker) Probe(ctx context.Context, serviceURL string) error {
	endpoint := strings.TrimRight(serviceURL, "/") + c.probePath

	start := time.Now()
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		Get(endpoint)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrServiceUnreachable, endpoint, err)
	}
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: %s: http %d", ErrServiceUnreachable, endpoint, resp.StatusCode())
	}

	c.logger.Debug("service probe ok",
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode()),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}
