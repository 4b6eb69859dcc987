package vote

import (
	"errors"
	"time"

	"postboard/internal/domain/poll"
	"postboard/internal/retry"
)

var (
	ErrAlreadyVoted    = poll.ErrDuplicateVoter
	ErrMissingIdentity = errors.New("voter identity is required")
	ErrPersistence     = errors.New("vote could not be saved")
)

// Policy selects how repeat votes from one identity are treated.
type Policy string

const (
	// PolicyStrict rejects a second vote from an identity.
	PolicyStrict Policy = "strict"
	// PolicyPermissive counts every vote, including repeats.
	PolicyPermissive Policy = "permissive"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyStrict, "":
		return PolicyStrict, nil
	case PolicyPermissive:
		return PolicyPermissive, nil
	default:
		return "", errors.New("unknown vote policy " + s)
	}
}

type Config struct {
	Policy Policy
	// Timeout bounds every single storage call.
	Timeout   time.Duration
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Policy:    PolicyStrict,
		Timeout:   3 * time.Second,
		Attempts:  3,
		BaseDelay: 25 * time.Millisecond,
		MaxDelay:  time.Second,
	}
}

// Result is what a caller sees after a vote or a results read.
type Result struct {
	PollID  string
	Poll    poll.View
	Leading []poll.LeadingView
	// Indexes holds the options counted by the vote, empty for reads.
	Indexes []int
}

func (c Config) retryPolicy(retryable func(error) bool, onRetry func(int, error)) retry.Policy {
	return retry.Policy{
		Attempts:  c.Attempts,
		BaseDelay: c.BaseDelay,
		MaxDelay:  c.MaxDelay,
		Retryable: retryable,
		OnRetry:   onRetry,
	}
}
