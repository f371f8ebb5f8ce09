package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"es-schedule/internal/actualtime/application"
	"es-schedule/internal/actualtime/infrastructure/sqldb"
	"es-schedule/internal/config"
	"es-schedule/internal/observability/metrics"
	"es-schedule/internal/platform/database"
	"es-schedule/internal/sequence"
)

// ActualTimeJobName is the dispatch name of the aggregation job.
const ActualTimeJobName = "ActualTimeCalc"

// DefaultCalcLag is how far behind today the default calculation date is.
const DefaultCalcLag = 3

// ActualTimeJob aggregates timesheets into the actual time ledger and writes
// the daily upload file.
type ActualTimeJob struct {
	env Env
	log zerolog.Logger
}

// NewActualTimeJob constructs the job.
func NewActualTimeJob(env Env) *ActualTimeJob {
	return &ActualTimeJob{env: env, log: env.Logger}
}

// Name implements Job.
func (j *ActualTimeJob) Name() string { return ActualTimeJobName }

// Description implements Job.
func (j *ActualTimeJob) Description() string {
	return "Aggregate station timesheets into the actual time ledger and write the ERP upload file"
}

// Execute implements Job.
func (j *ActualTimeJob) Execute(ctx context.Context) int {
	cfg := j.env.Config
	if err := cfg.ValidateActualTime(); err != nil {
		j.log.Error().Err(err).Msg("configuration invalid")
		return ExitConfigError
	}
	calcDate, err := ResolveCalcDate(j.env.CalcDate, cfg.ActualTime.CalcDate, j.env.now())
	if err != nil {
		j.log.Error().Err(err).Msg("calculation date invalid")
		return ExitParameterError
	}
	j.log.Info().Str("calc_date", calcDate.Format(config.DateLayout)).Msg("calculation date resolved")

	source, err := j.env.OpenDB(ctx, config.StoreSource)
	if err != nil {
		j.log.Error().Err(err).Msg("open source store")
		return ExitExecutionError
	}
	defer source.Close()
	target, err := j.env.OpenDB(ctx, config.StoreTarget)
	if err != nil {
		j.log.Error().Err(err).Msg("open target store")
		return ExitExecutionError
	}
	defer target.Close()

	engine, ledger, err := j.wire(source, target)
	if err != nil {
		j.log.Error().Err(err).Msg("wire aggregation")
		return ExitExecutionError
	}
	result, err := engine.Run(ctx, calcDate)
	if err != nil {
		j.log.Error().Err(err).Msg("aggregation failed")
		return ExitExecutionError
	}
	j.env.Metrics.ObserveAggregation(result.Entries, result.Created, result.Existing, result.Failed)
	if result.Status == application.StatusNoData {
		j.log.Warn().Msg("no timesheet entries to process")
		j.env.Metrics.ObserveExport(metrics.ResultSkipped)
		return ExitSuccess
	}

	j.export(ctx, ledger, calcDate)
	return ExitSuccess
}

func (j *ActualTimeJob) wire(source, target *database.DB) (*application.Engine, *sqldb.LedgerRepository, error) {
	cfg := j.env.Config.ActualTime
	reader, err := sqldb.NewTimesheetRepository(source)
	if err != nil {
		return nil, nil, err
	}
	ledger, err := sqldb.NewLedgerRepository(target)
	if err != nil {
		return nil, nil, err
	}
	allocator, err := sequence.NewAllocator(target, sequence.WithClock(j.env.clock()))
	if err != nil {
		return nil, nil, err
	}
	engine, err := application.NewEngine(reader, allocator, ledger,
		application.WithLogger(j.log),
		application.WithClock(j.env.clock()),
		application.WithLocation(j.env.now().Location()),
		application.WithCounterName(cfg.CounterName),
		application.WithWorkers(cfg.Workers),
	)
	if err != nil {
		return nil, nil, err
	}
	return engine, ledger, nil
}

// export is best effort: a failed export is logged and never fails the run.
func (j *ActualTimeJob) export(ctx context.Context, ledger *sqldb.LedgerRepository, calcDate time.Time) {
	cfg := j.env.Config.ActualTime
	exporter, err := application.NewExporter(ledger, cfg.OutputDir,
		application.WithExportClock(j.env.clock()),
		application.WithExportLogger(j.log),
		application.WithFormats(cfg.ExportFormats...),
	)
	if err == nil {
		var path string
		path, err = exporter.Export(ctx, calcDate)
		if err == nil {
			j.log.Info().Str("path", path).Msg("export written")
			j.env.Metrics.ObserveExport(metrics.ResultSuccess)
			return
		}
	}
	j.log.Error().Err(err).Msg("export failed")
	j.env.Metrics.ObserveExport(metrics.ResultError)
}

// ResolveCalcDate picks the calculation date from the flag, then the
// configured value, then today minus DefaultCalcLag days.
func ResolveCalcDate(flag, configured string, now time.Time) (time.Time, error) {
	for _, value := range []string{flag, configured} {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		date, err := time.ParseInLocation(config.DateLayout, value, now.Location())
		if err != nil {
			return time.Time{}, fmt.Errorf("jobs: calc date %q: want yyyy-MM-dd", value)
		}
		return date, nil
	}
	y, m, d := now.AddDate(0, 0, -DefaultCalcLag).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location()), nil
}
