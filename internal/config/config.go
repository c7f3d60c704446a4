package config

import (
	"errors"
	"fmt"
	"time"
)

// Named defaults. These are the tuning constants of the race; config files and
// RACE_* env vars can override them at startup only.
const (
	DefaultAddr     = ":8080"
	DefaultLogLevel = "info"
	DefaultAPIBase  = "https://petition.parliament.uk/petitions"

	DefaultPollInterval   = 15 * time.Second
	DefaultRequestTimeout = 10 * time.Second
	DefaultRetryAttempts  = 3
	DefaultRetryDelay     = time.Second

	DefaultAnimationDuration = time.Second
	DefaultToastDuration     = 5 * time.Second
	DefaultMinPosition       = 50.0
	DefaultMaxPosition       = 80.0
	DefaultAdvanceBias       = 2.0

	DefaultLookaheadTick   = 25 * time.Millisecond
	DefaultScheduleAhead   = 100 * time.Millisecond
	DefaultMeasureDuration = 2 * time.Second
	DefaultVolume          = 0.1
	DefaultVolumeDip       = 0.25
	DefaultDuckAttack      = 100 * time.Millisecond
	DefaultDuckRelease     = time.Second

	DefaultOpusBitrate = 128000
)

// Config holds all runtime configuration.
type Config struct {
	// Server
	Addr     string `koanf:"addr"`
	LogLevel string `koanf:"log_level"`
	Metrics  bool   `koanf:"metrics"`

	// Remote count source
	APIBase     string `koanf:"api_base"`
	EntityAID   string `koanf:"entity_a_id"`
	EntityAName string `koanf:"entity_a_name"`
	EntityBID   string `koanf:"entity_b_id"`
	EntityBName string `koanf:"entity_b_name"`

	// Polling
	PollInterval   time.Duration `koanf:"poll_interval"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	RetryAttempts  int           `koanf:"retry_attempts"`
	RetryDelay     time.Duration `koanf:"retry_delay"` // backoff base, multiplied by attempt number

	// Track and view
	AnimationDuration time.Duration `koanf:"animation_duration"`
	ToastDuration     time.Duration `koanf:"toast_duration"`
	MinPosition       float64       `koanf:"min_position"` // percent along the track
	MaxPosition       float64       `koanf:"max_position"`
	AdvanceBias       float64       `koanf:"advance_bias"`

	// Soundtrack
	LookaheadTick   time.Duration `koanf:"lookahead_tick"`
	ScheduleAhead   time.Duration `koanf:"schedule_ahead"`
	MeasureDuration time.Duration `koanf:"measure_duration"`
	Volume          float64       `koanf:"volume"`
	VolumeDip       float64       `koanf:"volume_dip"`
	DuckAttack      time.Duration `koanf:"duck_attack"`
	DuckRelease     time.Duration `koanf:"duck_release"`
	OpusBitrate     int           `koanf:"opus_bitrate"`
}

// New returns a Config populated with the named defaults.
func New() *Config {
	return &Config{
		Addr:     DefaultAddr,
		LogLevel: DefaultLogLevel,
		Metrics:  true,

		APIBase:     DefaultAPIBase,
		EntityAID:   "700824",
		EntityAName: "anti-immigration",
		EntityBID:   "727360",
		EntityBName: "pro-immigration",

		PollInterval:   DefaultPollInterval,
		RequestTimeout: DefaultRequestTimeout,
		RetryAttempts:  DefaultRetryAttempts,
		RetryDelay:     DefaultRetryDelay,

		AnimationDuration: DefaultAnimationDuration,
		ToastDuration:     DefaultToastDuration,
		MinPosition:       DefaultMinPosition,
		MaxPosition:       DefaultMaxPosition,
		AdvanceBias:       DefaultAdvanceBias,

		LookaheadTick:   DefaultLookaheadTick,
		ScheduleAhead:   DefaultScheduleAhead,
		MeasureDuration: DefaultMeasureDuration,
		Volume:          DefaultVolume,
		VolumeDip:       DefaultVolumeDip,
		DuckAttack:      DefaultDuckAttack,
		DuckRelease:     DefaultDuckRelease,
		OpusBitrate:     DefaultOpusBitrate,
	}
}

// Validate rejects settings the poll engine or scheduler cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr must not be empty"))
	}
	if c.APIBase == "" {
		errs = append(errs, errors.New("api_base must not be empty"))
	}
	if c.EntityAID == "" || c.EntityBID == "" {
		errs = append(errs, errors.New("both entity ids are required"))
	}
	if c.EntityAID == c.EntityBID {
		errs = append(errs, fmt.Errorf("entity ids must differ, both are %q", c.EntityAID))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout))
	}
	if c.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry_attempts must be >= 1, got %d", c.RetryAttempts))
	}
	if c.MinPosition >= c.MaxPosition {
		errs = append(errs, fmt.Errorf("min_position (%v) must be below max_position (%v)", c.MinPosition, c.MaxPosition))
	}
	if c.LookaheadTick <= 0 || c.ScheduleAhead <= 0 || c.MeasureDuration <= 0 {
		errs = append(errs, errors.New("lookahead_tick, schedule_ahead and measure_duration must be positive"))
	}
	if c.VolumeDip <= 0 || c.VolumeDip > 1 {
		errs = append(errs, fmt.Errorf("volume_dip must be in (0, 1], got %v", c.VolumeDip))
	}
	return errors.Join(errs...)
}
