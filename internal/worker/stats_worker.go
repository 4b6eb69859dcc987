package worker

import (
	"context"
	"log/slog"

	"postboard/internal/metrics"
)

type VoteEvent struct {
	PollID   string
	Indexes  []int
	Multiple bool
}

// StatsWorker drains committed vote events into the vote_events_processed_total
// counter. It keeps no per-poll state.
type StatsWorker struct {
	Ch  <-chan VoteEvent
	log *slog.Logger
}

func NewStatsWorker(ch <-chan VoteEvent) *StatsWorker {
	return &StatsWorker{Ch: ch, log: slog.Default()}
}

func (w *StatsWorker) SetLogger(l *slog.Logger) {
	if l != nil {
		w.log = l
	}
}

func (w *StatsWorker) Run(ctx context.Context) {
	w.log.Info("stats worker started")
	for {
		select {
		case <-ctx.Done():
			w.log.Info("stats worker stopped")
			return
		case ev, ok := <-w.Ch:
			if !ok {
				w.log.Info("stats worker channel closed")
				return
			}
			mode := "single"
			if ev.Multiple {
				mode = "multiple"
			}
			metrics.IncVoteEvent(mode)
			w.log.Debug("processing vote event", "poll_id", ev.PollID, "indexes", ev.Indexes, "mode", mode)
		}
	}
}
