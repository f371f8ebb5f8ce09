// Package jobs dispatches named batch jobs and maps their outcome to exit codes.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"es-schedule/internal/config"
	"es-schedule/internal/observability/metrics"
	"es-schedule/internal/platform/database"
	"es-schedule/internal/stencil/notify"
)

// Exit codes surfaced to the caller.
const (
	ExitSuccess        = 0
	ExitParameterError = 1
	ExitConfigError    = 2
	ExitExecutionError = 3
)

// Job is one named unit of work.
type Job interface {
	Name() string
	Description() string
	Execute(ctx context.Context) int
}

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// StoreOpener connects to a named store.
type StoreOpener func(ctx context.Context, store string) (*database.DB, error)

// MailerFactory builds the outbound mail channel.
type MailerFactory func(cfg config.MailConfig) (notify.Channel, error)

// Env carries what jobs need from the process.
type Env struct {
	Config   config.Config
	Logger   zerolog.Logger
	Clock    Clock
	Metrics  *metrics.Metrics
	OpenDB   StoreOpener
	Mailer   MailerFactory
	CalcDate string
}

func (e Env) now() time.Time {
	if e.Clock == nil {
		return time.Now()
	}
	return e.Clock.Now()
}

func (e Env) clock() Clock {
	if e.Clock == nil {
		return systemClock{}
	}
	return e.Clock
}

// Factory constructs a job bound to an environment.
type Factory func(env Env) Job

type registration struct {
	name    string
	factory Factory
}

// Registry maps case-insensitive job names to factories.
type Registry struct {
	mu        sync.RWMutex
	env       Env
	factories map[string]registration
	order     []string
}

// NewRegistry constructs an empty registry.
func NewRegistry(env Env) *Registry {
	if env.OpenDB == nil {
		env.OpenDB = OpenStores(env.Config)
	}
	if env.Mailer == nil {
		env.Mailer = NewMailer
	}
	return &Registry{env: env, factories: make(map[string]registration)}
}

// NewDefaultRegistry returns a registry holding every built-in job.
func NewDefaultRegistry(env Env) *Registry {
	r := NewRegistry(env)
	_ = r.Register(ActualTimeJobName, func(env Env) Job { return NewActualTimeJob(env) })
	_ = r.Register(StencilOverdueJobName, func(env Env) Job { return NewStencilOverdueJob(env) })
	return r
}

// Register adds a job factory.
func (r *Registry) Register(name string, factory Factory) error {
	if r == nil {
		return errors.New("jobs: nil registry")
	}
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return errors.New("jobs: empty registration")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[key]; ok {
		return fmt.Errorf("jobs: %s already registered", name)
	}
	r.factories[key] = registration{name: name, factory: factory}
	r.order = append(r.order, name)
	return nil
}

// Names returns the registered job names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Has reports whether a job is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Create builds the named job with a run-scoped logger.
func (r *Registry) Create(name string) (Job, bool) {
	job, _, ok := r.create(name)
	return job, ok
}

func (r *Registry) create(name string) (Job, Env, bool) {
	r.mu.RLock()
	reg, ok := r.factories[strings.ToLower(strings.TrimSpace(name))]
	r.mu.RUnlock()
	if !ok {
		return nil, Env{}, false
	}
	env := r.env
	env.Logger = r.env.Logger.With().
		Str("job", reg.name).
		Str("run_id", uuid.NewString()).
		Logger()
	return reg.factory(env), env, true
}

// Run executes the named job and returns its exit code. Unknown names list
// the available jobs and return ExitParameterError.
func (r *Registry) Run(ctx context.Context, name string) int {
	job, env, ok := r.create(name)
	if !ok {
		r.env.Logger.Error().Str("job", name).Strs("available", r.Names()).Msg("job not found")
		return ExitParameterError
	}
	logger := env.Logger
	logger.Info().Str("description", job.Description()).Msg("job started")

	if timeout := env.Config.Jobs.Timeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	started := env.now()
	code := execute(ctx, job, logger)
	finished := env.now()
	elapsed := finished.Sub(started)

	env.Metrics.ObserveJob(job.Name(), code, elapsed, finished)
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	sink := metrics.Sink{Textfile: env.Config.Metrics.Textfile, PushgatewayURL: env.Config.Metrics.PushgatewayURL}
	if err := env.Metrics.Flush(flushCtx, sink, job.Name()); err != nil {
		logger.Warn().Err(err).Msg("metrics flush failed")
	}

	logger.Info().Int("exit_code", code).Dur("elapsed", elapsed).Msg("job finished")
	return code
}

func execute(ctx context.Context, job Job, logger zerolog.Logger) (code int) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().Interface("panic", rec).Msg("job aborted")
			code = ExitExecutionError
		}
	}()
	return job.Execute(ctx)
}

// OpenStores returns an opener for the stores named in cfg.
func OpenStores(cfg config.Config) StoreOpener {
	return func(ctx context.Context, store string) (*database.DB, error) {
		db, err := cfg.Database(store)
		if err != nil {
			return nil, err
		}
		loc, err := db.Location()
		if err != nil {
			return nil, err
		}
		return database.Open(ctx, database.Options{
			Driver:       db.Driver,
			DSN:          db.DSN,
			Schema:       db.Schema,
			MaxOpenConns: db.MaxOpenConns,
			Location:     loc,
		})
	}
}

// NewMailer builds an SMTP channel from mail settings.
func NewMailer(cfg config.MailConfig) (notify.Channel, error) {
	ch, err := notify.NewMailChannel(notify.MailConfig{
		Host:       cfg.SMTPHost,
		Port:       cfg.SMTPPort,
		Sender:     cfg.Sender,
		SenderName: cfg.SenderName,
		Username:   cfg.Username,
		Password:   cfg.Password,
		StartTLS:   cfg.StartTLS,
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}
