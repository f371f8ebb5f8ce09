package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"es-schedule/internal/stencil/domain"
	"es-schedule/internal/stencil/notify"
)

// FlagStore persists the already-alerted marker.
type FlagStore interface {
	MarkAlerted(ctx context.Context, id int64) (bool, error)
}

// FlagObserver is told the outcome of each flag update.
type FlagObserver func(result string)

// Flag update outcomes.
const (
	FlagUpdated   = "updated"
	FlagUnchanged = "unchanged"
	FlagFailed    = "failed"
)

// Gate sends the digest and flips alert flags only after a confirmed send.
type Gate struct {
	mail          notify.Channel
	mirror        notify.Channel
	flags         FlagStore
	digest        *notify.Digest
	clock         Clock
	logger        zerolog.Logger
	testMode      bool
	testRecipient string
	onFlag        FlagObserver
}

// GateOption configures the gate.
type GateOption func(*Gate)

// WithTestRecipient redirects every digest to one address with a marked subject.
func WithTestRecipient(address string) GateOption {
	return func(g *Gate) {
		if address != "" {
			g.testMode = true
			g.testRecipient = address
		}
	}
}

// WithMirror sends a text copy of the digest to chat channels. Mirror
// failures are logged and never affect the flags.
func WithMirror(ch notify.Channel) GateOption {
	return func(g *Gate) {
		g.mirror = ch
	}
}

// WithGateLogger sets the run logger.
func WithGateLogger(logger zerolog.Logger) GateOption {
	return func(g *Gate) {
		g.logger = logger
	}
}

// WithGateClock overrides the clock used for the check date.
func WithGateClock(clock Clock) GateOption {
	return func(g *Gate) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// WithFlagObserver registers a flag outcome observer.
func WithFlagObserver(fn FlagObserver) GateOption {
	return func(g *Gate) {
		g.onFlag = fn
	}
}

// NewGate constructs a notification gate.
func NewGate(mail notify.Channel, flags FlagStore, opts ...GateOption) (*Gate, error) {
	if mail == nil {
		return nil, errors.New("stencil: nil mail channel")
	}
	if flags == nil {
		return nil, errors.New("stencil: nil flag store")
	}
	digest, err := notify.NewDigest()
	if err != nil {
		return nil, err
	}
	g := &Gate{
		mail:   mail,
		flags:  flags,
		digest: digest,
		clock:  systemClock{},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Notify sends one digest for the assets. It returns false with the send
// error when delivery fails, in which case no flag is touched.
func (g *Gate) Notify(ctx context.Context, assets []domain.Asset, recipients []domain.Recipient) (bool, error) {
	data := notify.Build(assets, g.clock.Now())
	html, err := g.digest.Render(data)
	if err != nil {
		return false, fmt.Errorf("stencil: render digest: %w", err)
	}

	msg := notify.Message{
		To:      domain.Emails(recipients),
		Subject: notify.Subject,
		HTML:    html,
		Text:    notify.Summary(data),
	}
	if g.testMode {
		msg.To = []string{g.testRecipient}
		msg.Subject = notify.TestSubjectPrefix + msg.Subject
		g.logger.Info().Str("recipient", g.testRecipient).Msg("test mode, redirecting digest")
	}
	if len(msg.To) == 0 {
		return false, errors.New("stencil: no recipient addresses")
	}

	if err := g.mail.Send(ctx, msg); err != nil {
		g.logger.Error().Err(err).Msg("digest send failed")
		return false, err
	}
	g.logger.Info().Strs("to", msg.To).Int("assets", len(assets)).Msg("digest sent")

	g.markAlerted(ctx, assets)

	if g.mirror != nil {
		if err := g.mirror.Send(ctx, msg); err != nil {
			g.logger.Warn().Err(err).Msg("digest mirror failed")
		}
	}
	return true, nil
}

func (g *Gate) markAlerted(ctx context.Context, assets []domain.Asset) {
	for _, a := range assets {
		if !domain.NeedsFlag(a) {
			continue
		}
		changed, err := g.flags.MarkAlerted(ctx, a.ID)
		result := FlagUnchanged
		switch {
		case err != nil:
			result = FlagFailed
			g.logger.Error().Err(err).Str("stencil_no", a.StencilNo).Msg("alert flag update failed")
		case changed:
			result = FlagUpdated
			g.logger.Info().Str("stencil_no", a.StencilNo).Msg("alert flag set")
		default:
			g.logger.Warn().Str("stencil_no", a.StencilNo).Msg("alert flag already set")
		}
		if g.onFlag != nil {
			g.onFlag(result)
		}
	}
}
