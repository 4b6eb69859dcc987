package poll

import (
	"context"
	"errors"
	"time"
)

const (
	MinOptions        = 2
	MaxOptions        = 6
	MaxQuestionLength = 280
	MaxOptionLength   = 120
)

var (
	ErrInvalidPoll      = errors.New("invalid poll")
	ErrInvalidSelection = errors.New("invalid selection")
	ErrPollNotFound     = errors.New("poll not found")
	ErrVersionConflict  = errors.New("poll was modified concurrently")
	ErrDuplicateVoter   = errors.New("identity already voted in this poll")
)

// Aggregate is the full state of one poll. Percentages are never stored;
// they are derived from the option counters on every read.
type Aggregate struct {
	ID              string
	Question        string
	Options         []Option
	AllowMultiple   bool
	TotalVotes      int64
	VoterIdentities []string
	CreatedAt       time.Time
	// Version is the storage revision the aggregate was read at.
	Version int64
}

type Option struct {
	Text   string
	Votes  int64
	Voters []string
}

// Store is the single-document persistence primitive the tally engine runs on.
type Store interface {
	// LoadPoll returns ErrPollNotFound when id is absent or is not a poll.
	LoadPoll(ctx context.Context, id string) (*Aggregate, error)
	// SwapPoll replaces the stored poll with next only if the stored version
	// still equals expectedVersion, and bumps the version. A mismatch yields
	// ErrVersionConflict.
	SwapPoll(ctx context.Context, id string, expectedVersion int64, next *Aggregate) error
}

// Recorder is implemented by stores that can count a vote in one atomic
// step. The tally engine prefers it to the LoadPoll/SwapPoll cycle.
type Recorder interface {
	// RecordVote counts sel for identity and returns the committed poll.
	// With strict set, an identity that already voted yields
	// ErrDuplicateVoter and nothing is written.
	RecordVote(ctx context.Context, id, identity string, sel Selection, strict bool) (*Aggregate, error)
}
