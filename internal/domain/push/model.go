package push

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrInvalidSubscription = errors.New("invalid push subscription")
	ErrDisabled            = errors.New("push notifications are not configured")
)

type Keys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     Keys   `json:"keys"`
}

func (s Subscription) Validate() error {
	switch {
	case s.Endpoint == "":
		return errors.Join(ErrInvalidSubscription, errors.New("endpoint is required"))
	case s.Keys.P256dh == "" || s.Keys.Auth == "":
		return errors.Join(ErrInvalidSubscription, errors.New("keys.p256dh and keys.auth are required"))
	}
	return nil
}

// Message is the JSON payload delivered to service workers.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Type  string `json:"type,omitempty"`
}

type Report struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Removed int `json:"removed"`
}

type Repository interface {
	// Save inserts or replaces the subscription for its endpoint.
	Save(ctx context.Context, s Subscription) error
	Delete(ctx context.Context, endpoint string) error
	List(ctx context.Context) ([]Subscription, error)
}

// Sender delivers one payload and reports the push service's HTTP status.
type Sender interface {
	Send(ctx context.Context, s Subscription, payload []byte) (status int, err error)
}

// gone reports whether the push service says the endpoint no longer exists.
func gone(status int) bool {
	return status == http.StatusNotFound || status == http.StatusGone
}
