package vote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"postboard/internal/domain/poll"
	"postboard/internal/metrics"
	"postboard/internal/retry"
)

// Service is the tally engine. It owns the read-check-apply-swap cycle
// for a poll and never commits a vote the store did not accept.
type Service struct {
	store poll.Store
	cfg   Config
	log   *slog.Logger
}

func NewService(store poll.Store, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.Policy == "" {
		cfg.Policy = def.Policy
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = def.Attempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	return &Service{store: store, cfg: cfg, log: slog.Default()}
}

func (s *Service) SetLogger(l *slog.Logger) {
	if l != nil {
		s.log = l
	}
}

func (s *Service) Policy() Policy { return s.cfg.Policy }

// CastVote counts sel for identity in the poll pollID.
//
// Stores implementing poll.Recorder count the vote in one atomic step, with
// the duplicate check inside it. Other stores go through a version-guarded
// swap: a concurrent writer forces a fresh read, so a second request from
// the same identity always sees the first one's entry.
func (s *Service) CastVote(ctx context.Context, pollID, identity string, sel poll.Selection) (*Result, error) {
	if identity == "" {
		return nil, ErrMissingIdentity
	}

	policy := s.cfg.retryPolicy(s.retryable(ctx), func(attempt int, err error) {
		metrics.IncPersistRetry()
		s.log.Debug("retrying vote", "poll_id", pollID, "attempt", attempt, "error", err)
	})

	recorder, atomic := s.store.(poll.Recorder)
	committed, err := retry.DoValue(ctx, policy, func(ctx context.Context) (*poll.Aggregate, error) {
		if atomic {
			return s.record(ctx, recorder, pollID, identity, sel)
		}
		current, err := s.load(ctx, pollID)
		if err != nil {
			return nil, err
		}
		if s.cfg.Policy == PolicyStrict && current.HasVoted(identity) {
			return nil, ErrAlreadyVoted
		}
		next, err := current.Apply(identity, sel)
		if err != nil {
			return nil, err
		}
		if err := s.swap(ctx, pollID, current.Version, next); err != nil {
			return nil, err
		}
		next.Version = current.Version + 1
		return next, nil
	})
	if err != nil {
		return nil, s.classify(pollID, err)
	}

	metrics.IncVote("accepted")
	mode := "single"
	if sel.IsMultiple() {
		mode = "multiple"
	}
	metrics.IncOptionVotes(mode, len(sel.Indexes()))

	return &Result{
		PollID:  pollID,
		Poll:    committed.ViewFor(identity),
		Leading: committed.LeadingViews(),
		Indexes: sel.Indexes(),
	}, nil
}

// Results reads the latest committed poll. It is not ordered against
// concurrent votes.
func (s *Service) Results(ctx context.Context, pollID, identity string) (*Result, error) {
	current, err := s.load(ctx, pollID)
	if err != nil {
		if errors.Is(err, poll.ErrPollNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return &Result{
		PollID:  pollID,
		Poll:    current.ViewFor(identity),
		Leading: current.LeadingViews(),
	}, nil
}

func (s *Service) load(ctx context.Context, pollID string) (*poll.Aggregate, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	return s.store.LoadPoll(ctx, pollID)
}

func (s *Service) record(ctx context.Context, r poll.Recorder, pollID, identity string, sel poll.Selection) (*poll.Aggregate, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	return r.RecordVote(ctx, pollID, identity, sel, s.cfg.Policy == PolicyStrict)
}

func (s *Service) swap(ctx context.Context, pollID string, version int64, next *poll.Aggregate) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	return s.store.SwapPoll(ctx, pollID, version, next)
}

// retryable rejects client errors, corrupt stored polls and the caller's
// own cancellation; conflicts, per-call timeouts and storage failures get
// another attempt.
func (s *Service) retryable(parent context.Context) func(error) bool {
	return func(err error) bool {
		switch {
		case errors.Is(err, poll.ErrPollNotFound),
			errors.Is(err, poll.ErrInvalidSelection),
			errors.Is(err, poll.ErrInvalidPoll),
			errors.Is(err, ErrAlreadyVoted):
			return false
		case parent.Err() != nil:
			return false
		}
		return true
	}
}

func (s *Service) classify(pollID string, err error) error {
	switch {
	case errors.Is(err, ErrAlreadyVoted):
		metrics.IncVote("duplicate")
		return err
	case errors.Is(err, poll.ErrPollNotFound):
		metrics.IncVote("not_found")
		return err
	case errors.Is(err, poll.ErrInvalidSelection):
		metrics.IncVote("invalid")
		return err
	}
	metrics.IncVote("failed")
	s.log.Error("vote not persisted", "poll_id", pollID, "error", err)
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}
