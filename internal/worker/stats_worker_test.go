package worker

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"postboard/internal/metrics"
)

func voteEvents(t *testing.T, mode string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "postboard_vote_events_processed_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "mode" && l.GetValue() == mode {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestStatsWorkerExportsEventCounts(t *testing.T) {
	metrics.Register()
	single, multiple := voteEvents(t, "single"), voteEvents(t, "multiple")

	ch := make(chan VoteEvent, 4)
	w := NewStatsWorker(ch)

	ch <- VoteEvent{PollID: "p1", Indexes: []int{0}}
	ch <- VoteEvent{PollID: "p1", Indexes: []int{0, 1}, Multiple: true}
	ch <- VoteEvent{PollID: "p2", Indexes: []int{1}}
	close(ch)

	w.Run(context.Background())

	if got := voteEvents(t, "single") - single; got != 2 {
		t.Fatalf("expected 2 single-choice events, got %v", got)
	}
	if got := voteEvents(t, "multiple") - multiple; got != 1 {
		t.Fatalf("expected 1 multiple-choice event, got %v", got)
	}
}

func TestStatsWorkerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := NewStatsWorker(make(chan VoteEvent))

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("worker did not stop after cancel")
	}
}
