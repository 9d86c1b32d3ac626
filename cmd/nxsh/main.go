// Command nxsh is a shell with object pipelines and a compiling executor.
//
//	nxsh [flags] [script [args...]]
//	nxsh [flags] -c command [name [args...]]
//
// Without a script or -c it reads commands from standard input,
// interactively when that is a terminal.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rcarmo/go-nxsh/pkg/config"
	"github.com/rcarmo/go-nxsh/pkg/core"
	"github.com/rcarmo/go-nxsh/pkg/logging"
	"github.com/rcarmo/go-nxsh/pkg/metrics"
	"github.com/rcarmo/go-nxsh/pkg/shell/builtins"
	"github.com/rcarmo/go-nxsh/pkg/shell/engine"
	"github.com/rcarmo/go-nxsh/pkg/shell/jobs"
)

type options struct {
	command     string
	hasCommand  bool
	configPath  string
	jit         bool
	jitSet      bool
	logLevel    string
	metricsFile string
	interactive bool
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// execute runs the command line and returns the exit status.
func execute(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	status := core.ExitSuccess
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "nxsh [script [args...]]",
		Short:         "nxsh runs shell scripts and commands",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.hasCommand = cmd.Flags().Changed("command")
			opts.jitSet = cmd.Flags().Changed("jit")
			status = run(opts, args, stdin, stdout, stderr)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.SetInterspersed(false)
	flags.StringVarP(&opts.command, "command", "c", "", "run `command` and exit")
	flags.StringVar(&opts.configPath, "config", "", "configuration file (default $"+config.EnvVar+" or the user config dir)")
	flags.BoolVar(&opts.jit, "jit", false, "compile hot blocks")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.StringVar(&opts.metricsFile, "metrics-file", "", "write metrics to `file` on exit")
	flags.BoolVarP(&opts.interactive, "interactive", "i", false, "force interactive mode")
	cmd.SetArgs(args)
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "nxsh: %v\n", err)
		return core.ExitUsage
	}
	return status
}

func run(opts *options, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cfg, err := config.Load(config.Locate(opts.configPath))
	if err != nil {
		fmt.Fprintf(stderr, "nxsh: %v\n", err)
		return core.ExitUsage
	}
	if opts.jitSet {
		cfg.JIT.Enabled = opts.jit
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(stderr, "nxsh: %v\n", err)
		return core.ExitUsage
	}
	log := logging.New(level, stderr)
	policy, err := cfg.Policy()
	if err != nil {
		fmt.Fprintf(stderr, "nxsh: %v\n", err)
		return core.ExitUsage
	}

	var m *metrics.Metrics
	reg := prometheus.NewRegistry()
	if opts.metricsFile != "" {
		m = metrics.New(reg)
		defer func() {
			if err := metrics.WriteFile(opts.metricsFile, reg); err != nil {
				log.Error("write metrics", slog.String("file", opts.metricsFile), slog.Any("error", err))
			}
		}()
	}

	sched := jobs.New(
		jobs.WithController(jobs.NewController()),
		jobs.WithLogger(log),
		jobs.WithWorkers(cfg.Jobs.Workers),
		jobs.WithGrace(cfg.Jobs.Grace),
		jobs.WithHook(m.JobTransition),
	)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.Jobs.Grace)
		defer cancel()
		sched.Shutdown(ctx)
	}()

	interactive := opts.interactive || opts.command == "" && len(args) == 0 && isTerminal(stdin)
	name, params := "nxsh", args
	if len(args) > 0 {
		name, params = args[0], args[1:]
	}
	e := engine.New(
		engine.WithName(name),
		engine.WithLogger(log),
		engine.WithRegistry(builtins.Registry()),
		engine.WithScheduler(sched),
		engine.WithStdio(stdin, stdout, stderr),
		engine.WithJIT(cfg.JIT.Enabled, cfg.JIT.Threshold),
		engine.WithOptimize(cfg.Engine.Optimize),
		engine.WithPipefail(cfg.Engine.Pipefail),
		engine.WithPolicy(policy),
		engine.WithMetrics(m),
		engine.WithMaxFields(cfg.Expansion.MaxFields),
		engine.WithPipeCapacity(cfg.Pipe.Capacity),
		engine.WithAliases(cfg.Aliases),
		engine.WithPositional(params...),
		engine.WithInteractive(interactive),
	)

	intr := newInterrupter(sched)
	stop := intr.watch()
	defer stop()

	switch {
	case opts.hasCommand:
		return intr.run(e, opts.command).ExitCode
	case len(args) > 0:
		src, err := policy.ReadFile(args[0])
		if err != nil {
			fmt.Fprintf(stderr, "nxsh: %s: %v\n", args[0], unwrap(err))
			return core.ExitNotFound
		}
		return intr.run(e, string(src)).ExitCode
	case interactive:
		r := &repl{e: e, in: stdin, out: stdout, errw: stderr, intr: intr, log: log}
		return r.loop()
	}
	src, err := io.ReadAll(stdin)
	if err != nil {
		fmt.Fprintf(stderr, "nxsh: %v\n", err)
		return core.ExitFailure
	}
	return intr.run(e, string(src)).ExitCode
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func unwrap(err error) error {
	var pe *os.PathError
	if errors.As(err, &pe) {
		return pe.Err
	}
	return err
}

// interrupter routes SIGINT to the foreground job, or cancels the run in
// progress when the foreground is the shell itself.
type interrupter struct {
	sched *jobs.Scheduler

	mu     sync.Mutex
	cancel context.CancelFunc
}

func newInterrupter(sched *jobs.Scheduler) *interrupter {
	return &interrupter{sched: sched}
}

func (i *interrupter) watch() func() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-sigs:
				i.interrupt()
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

func (i *interrupter) interrupt() {
	if i.sched.InterruptForeground() {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.cancel != nil {
		i.cancel()
	}
}

// run executes src under a context the next interrupt cancels.
func (i *interrupter) run(e *engine.Engine, src string) engine.Result {
	ctx, cancel := context.WithCancel(context.Background())
	i.mu.Lock()
	i.cancel = cancel
	i.mu.Unlock()
	defer func() {
		i.mu.Lock()
		i.cancel = nil
		i.mu.Unlock()
		cancel()
	}()
	return e.Run(ctx, src)
}

// prompt returns PS1, or PS2 for a continuation line.
func prompt(e *engine.Engine, continuation bool) string {
	name, def := "PS1", "nxsh$ "
	if continuation {
		name, def = "PS2", "> "
	}
	if v, ok := e.Session().Vars.Get(name); ok {
		return v
	}
	return def
}
