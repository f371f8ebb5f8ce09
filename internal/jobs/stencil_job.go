package jobs

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"es-schedule/internal/observability/metrics"
	"es-schedule/internal/stencil/application"
	"es-schedule/internal/stencil/domain"
	"es-schedule/internal/stencil/infrastructure/sqldb"
	"es-schedule/internal/stencil/notify"
)

// StencilOverdueJobName is the dispatch name of the stencil alerting job.
const StencilOverdueJobName = "SMT_Stencil_Overdue"

var tierLabels = map[domain.Tier]string{
	domain.TierSevere:  "severe",
	domain.TierUrgent:  "urgent",
	domain.TierWarning: "warning",
}

// StencilOverdueJob mails the overdue stencil digest and flags the
// usage-rate warnings it delivered.
type StencilOverdueJob struct {
	env Env
	log zerolog.Logger
}

// NewStencilOverdueJob constructs the job.
func NewStencilOverdueJob(env Env) *StencilOverdueJob {
	return &StencilOverdueJob{env: env, log: env.Logger}
}

// Name implements Job.
func (j *StencilOverdueJob) Name() string { return StencilOverdueJobName }

// Description implements Job.
func (j *StencilOverdueJob) Description() string {
	return "Check SMT stencil usage and dwell time and mail the overdue digest"
}

// Execute implements Job.
func (j *StencilOverdueJob) Execute(ctx context.Context) int {
	cfg := j.env.Config
	if err := cfg.ValidateStencilOverdue(); err != nil {
		j.log.Error().Err(err).Msg("configuration invalid")
		return ExitConfigError
	}
	sc := cfg.StencilOverdue
	thresholds := domain.Thresholds{
		DaysOnline: sc.DaysOnlineThreshold,
		UsageRate:  decimal.NewFromFloat(sc.UsageRateThreshold),
	}
	j.log.Info().
		Int("days_online_threshold", thresholds.DaysOnline).
		Str("usage_rate_threshold", thresholds.UsageRate.String()).
		Str("mail_group", sc.MailGroup).
		Bool("test_mode", sc.TestMode).
		Msg("configuration loaded")

	mailer, err := j.env.Mailer(cfg.Mail)
	if err != nil {
		j.log.Error().Err(err).Msg("mail channel")
		return ExitConfigError
	}

	db, err := j.env.OpenDB(ctx, sc.Database)
	if err != nil {
		j.log.Error().Err(err).Msg("open stencil store")
		return ExitExecutionError
	}
	defer db.Close()

	repo, err := sqldb.NewRepository(db, sqldb.WithClock(j.env.clock()))
	if err != nil {
		j.log.Error().Err(err).Msg("wire stencil repository")
		return ExitExecutionError
	}
	classifier, err := application.NewClassifier(repo,
		application.WithThresholds(thresholds),
		application.WithClassifierClock(j.env.clock()),
	)
	if err != nil {
		j.log.Error().Err(err).Msg("wire classifier")
		return ExitExecutionError
	}

	assets, err := classifier.Classify(ctx)
	if err != nil {
		j.log.Error().Err(err).Msg("classify stencils")
		return ExitExecutionError
	}
	counts := domain.CountByTier(assets)
	for tier, label := range tierLabels {
		j.env.Metrics.SetOverdue(label, counts[tier])
	}
	if len(assets) == 0 {
		j.log.Info().Msg("no overdue stencils")
		j.env.Metrics.ObserveNotification(metrics.ResultSkipped)
		return ExitSuccess
	}
	j.log.Info().
		Int("severe", counts[domain.TierSevere]).
		Int("urgent", counts[domain.TierUrgent]).
		Int("warning", counts[domain.TierWarning]).
		Msg("overdue stencils found")

	recipients, err := repo.Recipients(ctx, sc.MailGroup)
	if err != nil {
		j.log.Error().Err(err).Msg("resolve recipients")
		return ExitExecutionError
	}
	if len(recipients) == 0 {
		j.log.Warn().Str("mail_group", sc.MailGroup).Msg("mail group has no recipients")
		j.env.Metrics.ObserveNotification(metrics.ResultSkipped)
		return ExitSuccess
	}

	gate, err := j.gate(mailer, repo)
	if err != nil {
		j.log.Error().Err(err).Msg("wire notification gate")
		return ExitExecutionError
	}
	if _, err := gate.Notify(ctx, assets, recipients); err != nil {
		j.env.Metrics.ObserveNotification(metrics.ResultError)
		return ExitExecutionError
	}
	j.env.Metrics.ObserveNotification(metrics.ResultSuccess)
	return ExitSuccess
}

func (j *StencilOverdueJob) gate(mailer notify.Channel, flags application.FlagStore) (*application.Gate, error) {
	cfg := j.env.Config
	opts := []application.GateOption{
		application.WithGateLogger(j.log),
		application.WithGateClock(j.env.clock()),
		application.WithFlagObserver(j.env.Metrics.ObserveAlertFlag),
	}
	if cfg.StencilOverdue.TestMode {
		opts = append(opts, application.WithTestRecipient(cfg.StencilOverdue.TestRecipient))
	}
	if cfg.Mail.WebhookURL != "" {
		webhook, err := notify.NewWebhookChannel(cfg.Mail.WebhookURL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, application.WithMirror(webhook))
	}
	return application.NewGate(mailer, flags, opts...)
}
