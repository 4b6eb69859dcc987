package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"postboard/internal/domain/poll"
	"postboard/internal/platform/apperr"
	"postboard/internal/worker"
)

type voteRequest struct {
	OptionIndex   *int  `json:"optionIndex"`
	OptionIndexes []int `json:"optionIndexes"`
	AllowMultiple *bool `json:"allowMultiple"`
}

type votedPoll struct {
	Options    []poll.OptionView `json:"options"`
	TotalVotes int64             `json:"totalVotes"`
}

type voteResponse struct {
	Message        string             `json:"message"`
	Post           votedPoll          `json:"post"`
	LeadingOptions []poll.LeadingView `json:"leadingOptions"`
}

type resultsResponse struct {
	PostID         string             `json:"postId"`
	Poll           poll.View          `json:"poll"`
	LeadingOptions []poll.LeadingView `json:"leadingOptions"`
}

// @Summary     Vote in a poll
// @Description Single-choice polls take optionIndex; multiple-choice polls take exactly two distinct optionIndexes.
// @Tags        votes
// @Accept      json
// @Produce     json
// @Param       id       path      string       true  "Post ID"
// @Param       request  body      voteRequest  true  "Vote payload"
// @Success     200      {object}  voteResponse
// @Failure     400      {object}  map[string]any  "invalid selection"
// @Failure     404      {object}  map[string]any  "poll not found"
// @Failure     409      {object}  map[string]any  "already voted"
// @Failure     429      {object}  map[string]any  "rate limited"
// @Failure     503      {object}  map[string]any  "vote not saved, retry"
// @Router      /api/v1/posts/{id}/vote [post]
func (h *Handler) handleVote(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "id")

	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, apperr.BadRequest("invalid_input", "invalid body", err))
		return
	}
	sel, err := poll.ParseSelection(req.OptionIndex, req.OptionIndexes, req.AllowMultiple)
	if err != nil {
		errorResponse(w, err)
		return
	}

	res, err := h.votes.CastVote(r.Context(), postID, identityFromCtx(r), sel)
	if err != nil {
		errorResponse(w, err)
		return
	}

	select {
	case h.voteCh <- worker.VoteEvent{PollID: postID, Indexes: res.Indexes, Multiple: sel.IsMultiple()}:
	default:
	}

	writeJSON(w, http.StatusOK, voteResponse{
		Message:        "Vote recorded",
		Post:           votedPoll{Options: res.Poll.Options, TotalVotes: res.Poll.TotalVotes},
		LeadingOptions: res.Leading,
	})
}

// @Summary     Poll results
// @Tags        votes
// @Produce     json
// @Param       id   path      string  true  "Post ID"
// @Success     200  {object}  resultsResponse
// @Failure     404  {object}  map[string]any  "poll not found"
// @Failure     503  {object}  map[string]any  "storage unavailable"
// @Router      /api/v1/posts/{id}/results [get]
func (h *Handler) handlePollResults(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "id")

	res, err := h.votes.Results(r.Context(), postID, identityFromCtx(r))
	if err != nil {
		errorResponse(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resultsResponse{
		PostID:         res.PollID,
		Poll:           res.Poll,
		LeadingOptions: res.Leading,
	})
}
