package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/bmerger/internal/application"
	"github.com/eugenenazirov/bmerger/internal/config"
	"github.com/eugenenazirov/bmerger/internal/logging"
	"github.com/eugenenazirov/bmerger/internal/plan"
	"github.com/eugenenazirov/bmerger/internal/preflight"
)

const (
	exitOK      = 0
	exitInvalid = 1
	exitUsage   = 2
)

const defaultConfigFile = "conf/config.yaml"

var signalNotify = signal.Notify

type cli struct {
	app *kingpin.Application

	configFile *string
	sets       *[]string
	jobName    *string
	checkPaths *bool
	logLevel   *string

	show       *kingpin.CmdClause
	showOutput *string

	validate *kingpin.CmdClause
	plan     *kingpin.CmdClause

	check        *kingpin.CmdClause
	probeTimeout *time.Duration

	serve          *kingpin.CmdClause
	port           *string
	rateLimitRPS   *float64
	rateLimitBurst *int
}

func newCLI(stdout, stderr io.Writer) *cli {
	app := kingpin.New("bmerger", "Bayesian merger configuration loader and inspection service")
	app.UsageWriter(stdout)
	app.ErrorWriter(stderr)

	c := &cli{
		app:        app,
		configFile: app.Flag("config", "Path to the primary YAML configuration document").Short('c').Default(defaultConfigFile).String(),
		sets:       app.Flag("set", "Override as key=value; payloads=<option> selects the payload layer (repeatable)").Short('s').Strings(),
		jobName:    app.Flag("job-name", "Value of ${hydra:job.name}").String(),
		checkPaths: app.Flag("check-paths", "Check declared paths while loading").Bool(),
		logLevel:   app.Flag("log-level", "Log level (debug, info, warn, error)").String(),
	}

	c.show = app.Command("show", "Print the resolved configuration").Default()
	c.showOutput = c.show.Flag("output", "Output format").Short('o').Default("yaml").Enum("yaml", "json")

	c.validate = app.Command("validate", "Load the configuration and report every violation")
	c.plan = app.Command("plan", "Print the run plan derived from the configuration")

	c.check = app.Command("check", "Check declared paths and probe the generation service")
	c.probeTimeout = c.check.Flag("timeout", "Service probe timeout").Default("5s").Duration()

	c.serve = app.Command("serve", "Start the inspection HTTP service")
	c.port = c.serve.Flag("port", "HTTP port exposed by the service").String()
	c.rateLimitRPS = c.serve.Flag("rate-limit-rps", "Requests per second allowed (set 0 to disable)").Default("-1").Float64()
	c.rateLimitBurst = c.serve.Flag("rate-limit-burst", "Burst capacity for rate limiter").Default("-1").Int()

	return c
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	c := newCLI(stdout, stderr)
	exitCode := -1
	c.app.Terminate(func(code int) { exitCode = code })

	command, err := c.app.Parse(args)
	if exitCode >= 0 {
		return exitCode
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "bmerger: %v\n", err)
		return exitUsage
	}

	if command == c.serve.FullCommand() {
		return c.runServe(stderr)
	}

	level := *c.logLevel
	if level == "" {
		level = "warn"
	}
	logger, err := logging.New(level)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "bmerger: %v\n", err)
		return exitUsage
	}
	defer func() {
		_ = logger.Sync()
	}()

	switch command {
	case c.show.FullCommand():
		return c.runShow(stdout, stderr)
	case c.validate.FullCommand():
		return c.runValidate(stdout, stderr)
	case c.plan.FullCommand():
		return c.runPlan(stdout, stderr)
	case c.check.FullCommand():
		return c.runCheck(stdout, stderr, logger)
	}
	return exitUsage
}

func (c *cli) loader(extra ...config.Option) (*config.Loader, error) {
	path, err := application.ResolveConfigPath(*c.configFile)
	if err != nil {
		return nil, err
	}

	opts := []config.Option{config.WithOverrides(*c.sets...)}
	if *c.jobName != "" {
		opts = append(opts, config.WithJobName(*c.jobName))
	}
	if *c.checkPaths {
		opts = append(opts, config.WithPathValidation())
	}
	return config.NewLoader(path, append(opts, extra...)...), nil
}

func (c *cli) load(stderr io.Writer, extra ...config.Option) (config.RunConfiguration, bool) {
	loader, err := c.loader(extra...)
	if err == nil {
		var cfg config.RunConfiguration
		cfg, err = loader.Load()
		if err == nil {
			return cfg, true
		}
	}
	reportViolations(stderr, err)
	return config.RunConfiguration{}, false
}

func (c *cli) runShow(stdout, stderr io.Writer) int {
	cfg, ok := c.load(stderr)
	if !ok {
		return exitInvalid
	}
	if err := writeOutput(stdout, *c.showOutput, cfg.Document()); err != nil {
		_, _ = fmt.Fprintf(stderr, "bmerger: %v\n", err)
		return exitInvalid
	}
	return exitOK
}

func (c *cli) runValidate(stdout, stderr io.Writer) int {
	if _, ok := c.load(stderr); !ok {
		return exitInvalid
	}
	_, _ = fmt.Fprintln(stdout, "ok")
	return exitOK
}

func (c *cli) runPlan(stdout, stderr io.Writer) int {
	cfg, ok := c.load(stderr)
	if !ok {
		return exitInvalid
	}
	p, err := plan.New(cfg)
	if err != nil {
		reportViolations(stderr, err)
		return exitInvalid
	}
	if err := writeOutput(stdout, "json", p); err != nil {
		_, _ = fmt.Fprintf(stderr, "bmerger: %v\n", err)
		return exitInvalid
	}
	return exitOK
}

func (c *cli) runCheck(stdout, stderr io.Writer, logger *zap.Logger) int {
	cfg, ok := c.load(stderr)
	if !ok {
		return exitInvalid
	}

	ctx, cancel := context.WithTimeout(context.Background(), *c.probeTimeout+time.Second)
	defer cancel()

	checker := preflight.New(preflight.Options{Timeout: *c.probeTimeout}, logger)
	if err := checker.Check(ctx, cfg); err != nil {
		reportViolations(stderr, err)
		return exitInvalid
	}
	_, _ = fmt.Fprintln(stdout, "ok")
	return exitOK
}

func (c *cli) runServe(stderr io.Writer) int {
	overrides := &config.ServerOverrides{}
	if *c.port != "" {
		overrides.Port = c.port
	}
	if *c.rateLimitRPS >= 0 {
		overrides.RateLimitRPS = c.rateLimitRPS
	}
	if *c.rateLimitBurst >= 0 {
		overrides.RateLimitBurst = c.rateLimitBurst
	}
	if *c.logLevel != "" {
		overrides.LogLevel = c.logLevel
	}

	cfg, err := config.LoadServer(overrides)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "bmerger: failed to load service settings: %v\n", err)
		return exitUsage
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "bmerger: failed to initialize logger: %v\n", err)
		return exitUsage
	}
	defer func() {
		_ = logger.Sync()
	}()

	undo, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Infof))
	if err != nil {
		logger.Warn("failed to set GOMAXPROCS", zap.Error(err))
	}
	defer undo()

	loader, err := c.loader()
	if err != nil {
		logger.Error("failed to locate configuration", zap.Error(err))
		return exitInvalid
	}

	app, err := application.New(cfg, loader, logger)
	if err != nil {
		logger.Error("failed to initialize application", zap.Error(err))
		return exitInvalid
	}

	if err := app.Start(); err != nil {
		logger.Error("failed to start server", zap.Error(err))
		return exitInvalid
	}

	shutdown(app.Server(), cfg.ShutdownGracePeriod, logger)
	return exitOK
}

func writeOutput(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown output format %q", format)
}

func reportViolations(w io.Writer, err error) {
	for _, v := range config.Violations(err) {
		_, _ = fmt.Fprintf(w, "error: %v\n", v)
	}
}

func shutdown(server *http.Server, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("forced close failed", zap.Error(closeErr))
		}
	}
}
