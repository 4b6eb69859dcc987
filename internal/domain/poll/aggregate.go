package poll

import (
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

// New builds a poll with its full option set. The poll gets no ID; the
// post layer assigns one when it stores the poll.
func New(question string, options []string, allowMultiple bool, now time.Time) (*Aggregate, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", ErrInvalidPoll)
	}
	if utf8.RuneCountInString(question) > MaxQuestionLength {
		return nil, fmt.Errorf("%w: question must be at most %d characters", ErrInvalidPoll, MaxQuestionLength)
	}
	if len(options) < MinOptions || len(options) > MaxOptions {
		return nil, fmt.Errorf("%w: poll must have between %d and %d options", ErrInvalidPoll, MinOptions, MaxOptions)
	}

	opts := make([]Option, 0, len(options))
	for i, text := range options {
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, fmt.Errorf("%w: option %d is empty", ErrInvalidPoll, i+1)
		}
		if utf8.RuneCountInString(text) > MaxOptionLength {
			return nil, fmt.Errorf("%w: option %d must be at most %d characters", ErrInvalidPoll, i+1, MaxOptionLength)
		}
		opts = append(opts, Option{Text: text})
	}

	return &Aggregate{
		Question:      question,
		Options:       opts,
		AllowMultiple: allowMultiple,
		CreatedAt:     now.UTC(),
	}, nil
}

func (a *Aggregate) HasVoted(identity string) bool {
	return slices.Contains(a.VoterIdentities, identity)
}

// Apply returns a copy of the poll with the vote counted. The receiver is
// left untouched so a failed write never leaks a half-applied vote.
// Duplicate-identity policy is the caller's decision; Apply only keeps the
// voter sets free of repeats.
func (a *Aggregate) Apply(identity string, sel Selection) (*Aggregate, error) {
	if identity == "" {
		return nil, fmt.Errorf("%w: voter identity is required", ErrInvalidSelection)
	}
	if err := sel.Validate(len(a.Options), a.AllowMultiple); err != nil {
		return nil, err
	}

	next := a.Clone()
	for _, idx := range sel.indexes {
		opt := &next.Options[idx]
		opt.Votes++
		if !slices.Contains(opt.Voters, identity) {
			opt.Voters = append(opt.Voters, identity)
		}
	}
	if !next.HasVoted(identity) {
		next.VoterIdentities = append(next.VoterIdentities, identity)
	}
	next.recount()
	return next, nil
}

func (a *Aggregate) Clone() *Aggregate {
	c := *a
	c.Options = make([]Option, len(a.Options))
	for i, o := range a.Options {
		c.Options[i] = Option{
			Text:   o.Text,
			Votes:  o.Votes,
			Voters: slices.Clone(o.Voters),
		}
	}
	c.VoterIdentities = slices.Clone(a.VoterIdentities)
	return &c
}

// CheckInvariants verifies the counters agree with each other. Stores call
// it before accepting a write.
func (a *Aggregate) CheckInvariants() error {
	if len(a.Options) < MinOptions || len(a.Options) > MaxOptions {
		return fmt.Errorf("%w: %d options", ErrInvalidPoll, len(a.Options))
	}
	var sum int64
	for i, o := range a.Options {
		if o.Votes < 0 {
			return fmt.Errorf("%w: option %d has negative votes", ErrInvalidPoll, i)
		}
		sum += o.Votes
	}
	if sum != a.TotalVotes {
		return fmt.Errorf("%w: total %d does not match option sum %d", ErrInvalidPoll, a.TotalVotes, sum)
	}
	return nil
}

func (a *Aggregate) recount() {
	var sum int64
	for _, o := range a.Options {
		sum += o.Votes
	}
	a.TotalVotes = sum
}
