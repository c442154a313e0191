package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/orneryd/cldispatch/pkg/config"
	"github.com/orneryd/cldispatch/pkg/dispatch"
	"github.com/orneryd/cldispatch/pkg/gpu/opencl"
	"github.com/orneryd/cldispatch/pkg/history"
	"github.com/orneryd/cldispatch/pkg/kernelsrc"
	"github.com/orneryd/cldispatch/pkg/verify"
)

type runFlags struct {
	configPath   string
	kernelPath   string
	entryPoint   string
	deviceType   string
	buildOptions string
	a, b         []float32
	noVerify     bool
	historyDir   string
	verbose      bool
}

func (a *app) runCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Dispatch the kernel over the input vectors and print the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadRunConfig(cmd, &f)
			if err != nil {
				return err
			}
			return a.run(cmd, cfg)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "YAML configuration file")
	fl.StringVar(&f.kernelPath, "kernel", "", "OpenCL C source file (default: built-in ADD kernel)")
	fl.StringVar(&f.entryPoint, "entry", "", "kernel entry point name (default ADD)")
	fl.StringVar(&f.deviceType, "device-type", "", "device filter: cpu, gpu, accelerator or all")
	fl.StringVar(&f.buildOptions, "build-options", "", "options passed to the OpenCL compiler")
	fl.Float32SliceVar(&f.a, "a", nil, "first input vector, comma separated")
	fl.Float32SliceVar(&f.b, "b", nil, "second input vector, comma separated")
	fl.BoolVar(&f.noVerify, "no-verify", false, "skip comparing the result with the host reference")
	fl.StringVar(&f.historyDir, "history-dir", "", "record the run in this history directory")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "log pipeline state transitions")
	return cmd
}

// loadRunConfig layers defaults, the config file, the environment and the
// flags that were set explicitly.
func loadRunConfig(cmd *cobra.Command, f *runFlags) (*config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return nil, &usageError{err: err}
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)

	fl := cmd.Flags()
	if fl.Changed("kernel") {
		cfg.Kernel.Path = f.kernelPath
	}
	if fl.Changed("entry") {
		cfg.Kernel.EntryPoint = f.entryPoint
	}
	if fl.Changed("device-type") {
		cfg.Device.Type = f.deviceType
	}
	if fl.Changed("build-options") {
		cfg.Kernel.BuildOptions = f.buildOptions
	}
	if fl.Changed("a") {
		cfg.Input.A = f.a
	}
	if fl.Changed("b") {
		cfg.Input.B = f.b
	}
	if f.noVerify {
		cfg.Verify.Enabled = false
	}
	if fl.Changed("history-dir") {
		cfg.History.Dir = f.historyDir
		cfg.History.Enabled = true
	}
	if f.verbose {
		cfg.Log.Verbose = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (a *app) run(cmd *cobra.Command, cfg *config.Config) error {
	logger := log.New(a.stderr, "cldispatch: ", 0)
	source := kernelsrc.Resolve(cfg.Kernel.Path, logger)

	obs := &cliObserver{out: a.stdout}
	if cfg.Log.Verbose {
		obs.logger = logger
	}
	pipeline := dispatch.New(a.rt,
		dispatch.WithLogger(logger),
		dispatch.WithObserver(obs),
		dispatch.WithBuildOptions(cfg.Kernel.BuildOptions),
	)

	job := dispatch.Job{
		A:          cfg.Input.A,
		B:          cfg.Input.B,
		Source:     source,
		EntryPoint: cfg.Kernel.EntryPoint,
		DeviceType: cfg.DeviceType(),
	}

	started := time.Now()
	res, err := pipeline.Run(cmd.Context(), job)
	elapsed := time.Since(started)

	if err == nil {
		if werr := dispatch.WriteResults(a.stdout, res.C); werr != nil {
			return werr
		}
		if cfg.Verify.Enabled {
			tol := verify.DefaultTolerance()
			tol.AbsTol = cfg.Verify.AbsTolerance
			err = verify.Compare(res.C, verify.Add(job.A, job.B), tol)
		}
	}

	if cfg.History.Enabled {
		rec := newRecord(job, res, obs, err, started, elapsed)
		if herr := appendHistory(cfg.History.Dir, rec); herr != nil {
			logger.Printf("history: %v", herr)
		}
	}

	if err != nil {
		a.report(err)
		return &reportedError{err: err}
	}
	return nil
}

// report prints a failure the way the diagnostics sink expects: kind and
// code first, compiler log after.
func (a *app) report(err error) {
	fmt.Fprintln(a.stderr, dispatch.Describe(err))
	if errors.Is(err, dispatch.ErrNoPlatforms) && !opencl.IsAvailable() {
		fmt.Fprintln(a.stderr, "hint: no OpenCL ICD was found; binaries built without -tags opencl never see one")
	}
}

// cliObserver prints the selected platform and, when verbose, every state
// transition.
type cliObserver struct {
	out      io.Writer
	logger   *log.Logger
	platform string
	last     dispatch.State
}

func (o *cliObserver) StateChanged(from, to dispatch.State) {
	o.last = to
	if o.logger != nil {
		o.logger.Printf("state: %s → %s", from, to)
	}
}

func (o *cliObserver) PlatformSelected(name string) {
	o.platform = name
	fmt.Fprintf(o.out, "Platform: %s\n", name)
}

func newRecord(job dispatch.Job, res *dispatch.Result, obs *cliObserver, err error, started time.Time, elapsed time.Duration) *history.Record {
	rec := &history.Record{
		StartedAt:         started,
		Duration:          elapsed,
		Platform:          obs.platform,
		DeviceType:        job.DeviceType.String(),
		EntryPoint:        job.EntryPoint,
		SourceFingerprint: kernelsrc.Fingerprint(job.Source),
		N:                 len(job.A),
		FinalState:        obs.last.String(),
		ExitCode:          exitCode(err),
	}
	if res != nil {
		rec.Devices = res.Devices
		rec.Output = res.C
	}
	if err != nil {
		rec.Error = err.Error()
		var de *dispatch.Error
		switch {
		case errors.As(err, &de):
			rec.ErrorKind = de.Kind.String()
			rec.Code = int32(de.Code)
		case errors.Is(err, verify.ErrMismatch):
			rec.ErrorKind = "ResultMismatch"
		}
	}
	return rec
}

func appendHistory(dir string, rec *history.Record) error {
	store, err := history.Open(dir)
	if err != nil {
		return err
	}
	defer store.Close()
	_, err = store.Append(rec)
	return err
}
