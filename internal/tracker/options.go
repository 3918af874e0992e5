package tracker

import (
	"time"

	"codeberg.org/mutker/itrack/internal/config"
	"codeberg.org/mutker/itrack/internal/errors"
	"codeberg.org/mutker/itrack/internal/logger"
	"codeberg.org/mutker/itrack/internal/transport"
)

const (
	DefaultThrottleInterval    = 50 * time.Millisecond
	DefaultSendInterval        = 30 * time.Second
	DefaultVisibilityThreshold = 0.5

	// UnknownQuestion is the question id used when no owning section or
	// name can be found.
	UnknownQuestion = "unknown"
)

// Options configures a Collector. Zero durations and thresholds take the
// defaults above.
type Options struct {
	ThrottleInterval    time.Duration
	SendInterval        time.Duration
	VisibilityThreshold float64
	Sender              transport.Sender
	Logger              logger.Logger
	Clock               func() time.Time
}

// OptionsFromConfig maps the tracker section of the configuration.
func OptionsFromConfig(cfg config.TrackerConfig, sender transport.Sender, log logger.Logger) Options {
	return Options{
		ThrottleInterval:    cfg.ThrottleInterval,
		SendInterval:        cfg.SendInterval,
		VisibilityThreshold: cfg.VisibilityThreshold,
		Sender:              sender,
		Logger:              log,
	}
}

func (o Options) withDefaults() (Options, error) {
	if o.Sender == nil {
		return o, errors.New().WithMessage(errors.ErrInvalidConfig, "tracker requires a sender")
	}
	if o.ThrottleInterval < 0 || o.SendInterval < 0 {
		return o, errors.New().New(errors.ErrInvalidInterval)
	}
	if o.ThrottleInterval == 0 {
		o.ThrottleInterval = DefaultThrottleInterval
	}
	if o.SendInterval == 0 {
		o.SendInterval = DefaultSendInterval
	}
	if o.VisibilityThreshold <= 0 || o.VisibilityThreshold > 1 {
		o.VisibilityThreshold = DefaultVisibilityThreshold
	}
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o, nil
}
