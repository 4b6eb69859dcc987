package api

import (
	"errors"
	"net/http"
	"strings"

	"postboard/internal/domain/admin"
	"postboard/internal/domain/identity"
	"postboard/internal/domain/media"
	"postboard/internal/domain/poll"
	"postboard/internal/domain/post"
	"postboard/internal/domain/push"
	"postboard/internal/domain/vote"
	"postboard/internal/platform/apperr"
)

func errorResponse(w http.ResponseWriter, err error) {
	appErr := mapError(err)
	if appErr.StatusCode() >= http.StatusInternalServerError {
		slogLogger.Error("request failed", "code", appErr.Code, "error", appErr.Err)
	}
	writeJSON(w, appErr.StatusCode(), appErr.Body())
}

func mapError(err error) *apperr.AppError {
	if err == nil {
		return apperr.Internal("internal_error", "internal server error", nil)
	}

	var appErr *apperr.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var blocked *post.BlockedError
	switch {
	case errors.As(err, &blocked):
		return apperr.Unprocessable("content_blocked", "content violates community guidelines", err).
			With("reasons", blocked.Reasons)
	case errors.Is(err, vote.ErrAlreadyVoted):
		return apperr.Conflict("already_voted", "you have already voted in this poll", err).
			With("alreadyVoted", true)
	case errors.Is(err, vote.ErrPersistence):
		return apperr.Unavailable("vote_not_saved", "vote could not be saved, please retry", err)
	case errors.Is(err, vote.ErrMissingIdentity), errors.Is(err, identity.ErrNoOrigin):
		return apperr.BadRequest("missing_identity", "could not identify the client", err)
	case errors.Is(err, poll.ErrPollNotFound):
		return apperr.NotFound("poll_not_found", "poll not found", err)
	case errors.Is(err, poll.ErrInvalidSelection):
		return apperr.BadRequest("invalid_selection", detail(err, poll.ErrInvalidSelection), err)
	case errors.Is(err, poll.ErrInvalidPoll):
		return apperr.BadRequest("invalid_poll", detail(err, poll.ErrInvalidPoll), err)
	case errors.Is(err, post.ErrPostNotFound):
		return apperr.NotFound("post_not_found", "post not found", err)
	case errors.Is(err, post.ErrInvalidPost):
		return apperr.BadRequest("invalid_post", detail(err, post.ErrInvalidPost), err)
	case errors.Is(err, post.ErrInvalidComment):
		return apperr.BadRequest("invalid_comment", detail(err, post.ErrInvalidComment), err)
	case errors.Is(err, media.ErrTooLarge):
		return apperr.TooLarge("image_too_large", err.Error(), err)
	case errors.Is(err, media.ErrEmptyFile),
		errors.Is(err, media.ErrUnsupportedImage),
		errors.Is(err, media.ErrInvalidKind):
		return apperr.BadRequest("invalid_image", err.Error(), err)
	case errors.Is(err, media.ErrImageBlocked):
		return apperr.Unprocessable("image_blocked", "image violates community guidelines", err)
	case errors.Is(err, media.ErrStorageDisabled):
		return apperr.Unavailable("media_disabled", "image storage is not configured", err)
	case errors.Is(err, push.ErrInvalidSubscription):
		return apperr.BadRequest("invalid_subscription", err.Error(), err)
	case errors.Is(err, push.ErrDisabled):
		return apperr.Unavailable("push_disabled", "push notifications are not configured", err)
	case errors.Is(err, admin.ErrInvalidCredentials):
		return apperr.Unauthorized("invalid_credentials", "invalid credentials", err)
	case errors.Is(err, admin.ErrNotConfigured):
		return apperr.Unavailable("admin_disabled", "admin login is not configured", err)
	default:
		return apperr.Internal("internal_error", http.StatusText(http.StatusInternalServerError), err)
	}
}

// detail strips the sentinel prefix so clients see only the violated rule.
func detail(err, sentinel error) string {
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok {
		return rest
	}
	return msg
}
