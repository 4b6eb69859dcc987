package post

import (
	"context"
	"errors"
	"strings"
	"time"

	"postboard/internal/domain/poll"
)

type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindPoll  Kind = "poll"
)

const (
	MaxContentLength = 2000
	MaxCommentLength = 500
)

var (
	ErrPostNotFound   = errors.New("post not found")
	ErrInvalidPost    = errors.New("invalid post")
	ErrInvalidComment = errors.New("invalid comment")
	ErrContentBlocked = errors.New("content blocked by moderation")
)

// BlockedError carries the moderation reasons for rejected content.
type BlockedError struct {
	Reasons []string
}

func (e *BlockedError) Error() string {
	if len(e.Reasons) == 0 {
		return ErrContentBlocked.Error()
	}
	return ErrContentBlocked.Error() + ": " + strings.Join(e.Reasons, ", ")
}

func (e *BlockedError) Is(target error) bool { return target == ErrContentBlocked }

type Post struct {
	ID           string
	Kind         Kind
	Content      string
	ImageURL     string
	Likes        int64
	CommentCount int
	Poll         *poll.Aggregate
	CreatedAt    time.Time
}

type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"postId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type Repository interface {
	Create(ctx context.Context, p *Post) error
	Get(ctx context.Context, id string) (*Post, error)
	// List returns every post, newest first.
	List(ctx context.Context) ([]Post, error)
	// SetLike records or withdraws identity's like and returns the new count.
	// Repeating the current state is a no-op.
	SetLike(ctx context.Context, postID, identity string, liked bool) (int64, error)
	AddComment(ctx context.Context, c Comment) error
	// Comments returns the comments of a post, oldest first.
	Comments(ctx context.Context, postID string) ([]Comment, error)
}

// View is the public JSON shape of a post.
type View struct {
	ID             string             `json:"id"`
	Kind           Kind               `json:"type"`
	Content        string             `json:"content,omitempty"`
	ImageURL       string             `json:"imageUrl,omitempty"`
	Likes          int64              `json:"likes"`
	CommentCount   int                `json:"commentCount"`
	Poll           *poll.View         `json:"poll,omitempty"`
	LeadingOptions []poll.LeadingView `json:"leadingOptions,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
}

// ViewFor renders p for identity. Poll percentages are computed here, on
// every read.
func (p *Post) ViewFor(identity string) View {
	v := View{
		ID:           p.ID,
		Kind:         p.Kind,
		Content:      p.Content,
		ImageURL:     p.ImageURL,
		Likes:        p.Likes,
		CommentCount: p.CommentCount,
		CreatedAt:    p.CreatedAt,
	}
	if p.Poll != nil {
		pv := p.Poll.ViewFor(identity)
		v.Poll = &pv
		v.LeadingOptions = p.Poll.LeadingViews()
	}
	return v
}
