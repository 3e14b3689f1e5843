package main

import (
	"errors"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config carries every tunable the engines consume. Policy values live here
// and nowhere else; call sites never re-derive their own defaults.
type Config struct {
	DatabaseURL string `envconfig:"DATABASE_URL"`
	Port        string `envconfig:"PORT" default:"8080"`
	DevMode     bool   `envconfig:"DEV_MODE" default:"false"`

	WeeklyVoteAllowance int   `envconfig:"WEEKLY_VOTE_ALLOWANCE" default:"3"`
	MaxVotesPerTarget   int   `envconfig:"MAX_VOTES_PER_TARGET" default:"1"`
	VoteRewardCredits   int64 `envconfig:"VOTE_REWARD_CREDITS" default:"100"`

	StartingCredits       int64 `envconfig:"STARTING_CREDITS" default:"100000"`
	ReferralBonusNew      int64 `envconfig:"REFERRAL_BONUS_NEW" default:"25000"`
	ReferralBonusReferrer int64 `envconfig:"REFERRAL_BONUS_REFERRER" default:"10000"`

	MinBounty           int64         `envconfig:"MIN_BOUNTY" default:"50000"`
	BountyDuration      time.Duration `envconfig:"BOUNTY_DURATION" default:"1h"`
	BountySweepInterval time.Duration `envconfig:"BOUNTY_SWEEP_INTERVAL" default:"1m"`

	TxnMaxAttempts     int  `envconfig:"TXN_MAX_ATTEMPTS" default:"5"`
	ResetChunkSize     int  `envconfig:"RESET_CHUNK_SIZE" default:"100"`
	WeeklyResetEnabled bool `envconfig:"WEEKLY_RESET_ENABLED" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	if !cfg.DevMode && cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required unless DEV_MODE is set")
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.WeeklyVoteAllowance < 1 {
		return errors.New("WEEKLY_VOTE_ALLOWANCE must be at least 1")
	}
	if c.MaxVotesPerTarget < 1 {
		return errors.New("MAX_VOTES_PER_TARGET must be at least 1")
	}
	if c.MinBounty < 1 {
		return errors.New("MIN_BOUNTY must be positive")
	}
	if c.BountyDuration <= 0 {
		return errors.New("BOUNTY_DURATION must be positive")
	}
	if c.TxnMaxAttempts < 1 {
		return errors.New("TXN_MAX_ATTEMPTS must be at least 1")
	}
	if c.ResetChunkSize < 1 {
		return errors.New("RESET_CHUNK_SIZE must be at least 1")
	}
	return nil
}

// DefaultConfig returns the stock policy values without touching the
// environment. Used by tests and DEV_MODE bootstrapping.
func DefaultConfig() Config {
	return Config{
		Port:                  "8080",
		WeeklyVoteAllowance:   3,
		MaxVotesPerTarget:     1,
		VoteRewardCredits:     100,
		StartingCredits:       100000,
		ReferralBonusNew:      25000,
		ReferralBonusReferrer: 10000,
		MinBounty:             50000,
		BountyDuration:        time.Hour,
		BountySweepInterval:   time.Minute,
		TxnMaxAttempts:        5,
		ResetChunkSize:        100,
		WeeklyResetEnabled:    true,
	}
}
