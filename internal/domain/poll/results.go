package poll

import (
	"math"
	"slices"
)

type OptionResult struct {
	Index      int
	Text       string
	Votes      int64
	Percentage int
}

// Percentages rounds each option independently, so the values need not add
// up to exactly 100.
func (a *Aggregate) Percentages() []OptionResult {
	out := make([]OptionResult, len(a.Options))
	for i, o := range a.Options {
		out[i] = OptionResult{
			Index:      i,
			Text:       o.Text,
			Votes:      o.Votes,
			Percentage: percentage(o.Votes, a.TotalVotes),
		}
	}
	return out
}

// LeadingOptions returns every option tied at the highest non-zero percentage.
func (a *Aggregate) LeadingOptions() []OptionResult {
	results := a.Percentages()
	best := 0
	for _, r := range results {
		best = max(best, r.Percentage)
	}
	if best == 0 {
		return []OptionResult{}
	}
	leading := make([]OptionResult, 0, len(results))
	for _, r := range results {
		if r.Percentage == best {
			leading = append(leading, r)
		}
	}
	return leading
}

func percentage(votes, total int64) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(votes) / float64(total) * 100))
}

// View is the serialised form of a poll. It never carries voter identities.
type View struct {
	Question      string       `json:"question"`
	AllowMultiple bool         `json:"allowMultiple"`
	Options       []OptionView `json:"options"`
	TotalVotes    int64        `json:"totalVotes"`
	HasVoted      bool         `json:"hasVoted"`
}

type OptionView struct {
	Text       string `json:"text"`
	Votes      int64  `json:"votes"`
	Percentage int    `json:"percentage"`
	Voted      bool   `json:"voted,omitempty"`
}

type LeadingView struct {
	Text       string `json:"text"`
	Percentage int    `json:"percentage"`
}

// ViewFor renders the poll as seen by identity, which may be empty.
func (a *Aggregate) ViewFor(identity string) View {
	results := a.Percentages()
	v := View{
		Question:      a.Question,
		AllowMultiple: a.AllowMultiple,
		Options:       make([]OptionView, len(results)),
		TotalVotes:    a.TotalVotes,
		HasVoted:      identity != "" && a.HasVoted(identity),
	}
	for i, r := range results {
		v.Options[i] = OptionView{
			Text:       r.Text,
			Votes:      r.Votes,
			Percentage: r.Percentage,
			Voted:      identity != "" && slices.Contains(a.Options[i].Voters, identity),
		}
	}
	return v
}

func (a *Aggregate) LeadingViews() []LeadingView {
	leading := a.LeadingOptions()
	out := make([]LeadingView, len(leading))
	for i, r := range leading {
		out[i] = LeadingView{Text: r.Text, Percentage: r.Percentage}
	}
	return out
}
