// Package cli wires the es-schedule command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"es-schedule/internal/config"
	"es-schedule/internal/jobs"
	"es-schedule/internal/logging"
	"es-schedule/internal/observability/metrics"
)

const envPrefix = "ES"

// Options customise the command tree.
type Options struct {
	Stdout io.Writer
	Stderr io.Writer
	// Env is merged into the job environment. Tests use it to inject stores,
	// mailers and clocks.
	Env jobs.Env
}

type app struct {
	v    *viper.Viper
	opts Options
	code int
}

// NewRootCommand builds the command tree. The returned function reports the
// exit code of the last executed command.
func NewRootCommand(opts Options) (*cobra.Command, func() int) {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	a := &app{v: viper.New(), opts: opts}

	root := &cobra.Command{
		Use:   "es-schedule [job]",
		Short: "Run one manufacturing batch job and exit with its status",
		Long: `es-schedule runs exactly one registered batch job per invocation and exits
with its status code:

  0  success or nothing to do
  1  missing or unknown job name, bad parameters
  2  invalid configuration
  3  execution failure

Jobs:
  ActualTimeCalc        aggregate station timesheets into the actual time ledger
  SMT_Stencil_Overdue   mail the overdue SMT stencil digest

Configuration is read from --config (YAML), a .env file and ES_* variables.`,
		Args:          cobra.ArbitraryArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no job name given, available jobs:")
				a.printJobs(cmd.OutOrStdout())
				a.code = jobs.ExitParameterError
				return nil
			}
			a.code = a.runJob(cmd.Context(), args[0])
			return nil
		},
	}
	root.SetOut(opts.Stdout)
	root.SetErr(opts.Stderr)

	flags := root.PersistentFlags()
	flags.String("config", "", "YAML configuration file")
	flags.String("date", "", "calculation date (yyyy-MM-dd) for ActualTimeCalc")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-dir", "", "directory for daily log files")
	_ = a.v.BindPFlags(flags)
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root.AddCommand(a.runCommand(), a.listCommand(), a.migrateCommand())
	return root, func() int { return a.code }
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	return ExecuteArgs(os.Args[1:], Options{})
}

// ExecuteArgs runs the command line with explicit arguments.
func ExecuteArgs(args []string, opts Options) int {
	root, code := NewRootCommand(opts)
	root.SetArgs(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "error:", err)
		return jobs.ExitParameterError
	}
	return code()
}

func (a *app) runCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <job>",
		Short: "Run one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.code = a.runJob(cmd.Context(), args[0])
			return nil
		},
	}
}

func (a *app) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.printJobs(cmd.OutOrStdout())
			a.code = jobs.ExitSuccess
			return nil
		},
	}
}

func (a *app) printJobs(w io.Writer) {
	registry := jobs.NewDefaultRegistry(jobs.Env{Config: config.Default()})
	for _, name := range registry.Names() {
		job, _ := registry.Create(name)
		fmt.Fprintf(w, "  %-22s %s\n", name, job.Description())
	}
}

func (a *app) runJob(ctx context.Context, name string) int {
	if !jobs.NewDefaultRegistry(jobs.Env{Config: config.Default()}).Has(name) {
		fmt.Fprintf(a.opts.Stderr, "unknown job %q, available jobs:\n", name)
		a.printJobs(a.opts.Stderr)
		return jobs.ExitParameterError
	}

	cfg, logger, closer, code := a.bootstrap()
	if code != jobs.ExitSuccess {
		return code
	}
	defer closer.Close()

	wd, _ := os.Getwd()
	logger.Info().Str("job", name).Str("workdir", wd).Msg("es-schedule started")

	env := a.opts.Env
	env.Config = cfg
	env.Logger = logger
	env.CalcDate = a.v.GetString("date")
	if env.Metrics == nil {
		env.Metrics = metrics.New()
	}
	code = jobs.NewDefaultRegistry(env).Run(ctx, name)
	logger.Info().Int("exit_code", code).Msg("es-schedule finished")
	return code
}

// bootstrap loads configuration and builds the run logger.
func (a *app) bootstrap() (config.Config, zerolog.Logger, io.Closer, int) {
	cfg, err := config.Load(a.v.GetString("config"))
	if err != nil {
		logger := zerolog.New(zerolog.ConsoleWriter{Out: a.opts.Stderr, NoColor: true}).With().Timestamp().Logger()
		logger.Error().Err(err).Msg("load configuration")
		return cfg, logger, nil, jobs.ExitConfigError
	}
	if level := a.v.GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if dir := a.v.GetString("log-dir"); dir != "" {
		cfg.Log.Dir = dir
	}

	now := time.Now()
	if a.opts.Env.Clock != nil {
		now = a.opts.Env.Clock.Now()
	}
	logger, closer, err := logging.New(logging.Config{
		Level:   cfg.Log.Level,
		Dir:     cfg.Log.Dir,
		Console: cfg.Log.Console,
	}, now)
	if err != nil {
		fmt.Fprintln(a.opts.Stderr, "error:", err)
		return cfg, logger, nil, jobs.ExitConfigError
	}
	return cfg, logger, closer, jobs.ExitSuccess
}
