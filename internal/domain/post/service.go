package post

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"postboard/internal/domain/poll"
	"postboard/internal/platform/moderation"
	"postboard/internal/retry"
)

// Moderator screens text before it is stored.
type Moderator interface {
	Check(ctx context.Context, text string, policy moderation.Policy) moderation.Verdict
}

type Policies struct {
	Post    moderation.Policy
	Comment moderation.Policy
}

type Service struct {
	repo      Repository
	moderator Moderator
	policies  Policies
	now       func() time.Time
	log       *slog.Logger
}

// NewService wires the post service. moderator may be nil.
func NewService(repo Repository, moderator Moderator, policies Policies) *Service {
	if policies.Post == "" {
		policies.Post = moderation.FailClosed
	}
	if policies.Comment == "" {
		policies.Comment = moderation.FailOpen
	}
	return &Service{
		repo:      repo,
		moderator: moderator,
		policies:  policies,
		now:       time.Now,
		log:       slog.Default(),
	}
}

func (s *Service) SetLogger(l *slog.Logger) {
	if l != nil {
		s.log = l
	}
}

func (s *Service) CreatePost(ctx context.Context, content, imageURL string) (*Post, error) {
	content = strings.TrimSpace(content)
	imageURL = strings.TrimSpace(imageURL)
	if content == "" && imageURL == "" {
		return nil, fmt.Errorf("%w: content or image is required", ErrInvalidPost)
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return nil, fmt.Errorf("%w: content must be at most %d characters", ErrInvalidPost, MaxContentLength)
	}
	if content != "" {
		if err := s.screen(ctx, content, s.policies.Post); err != nil {
			return nil, err
		}
	}

	p := &Post{
		ID:        uuid.NewString(),
		Kind:      KindText,
		Content:   content,
		ImageURL:  imageURL,
		CreatedAt: s.now().UTC(),
	}
	if imageURL != "" {
		p.Kind = KindImage
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// CreatePoll validates and screens the question and every option, then
// stores the poll with zero votes.
func (s *Service) CreatePoll(ctx context.Context, question string, options []string, allowMultiple bool) (*Post, error) {
	agg, err := poll.New(question, options, allowMultiple, s.now())
	if err != nil {
		return nil, err
	}

	texts := make([]string, 0, len(agg.Options)+1)
	texts = append(texts, agg.Question)
	for _, o := range agg.Options {
		texts = append(texts, o.Text)
	}
	if err := s.screen(ctx, strings.Join(texts, "\n"), s.policies.Post); err != nil {
		return nil, err
	}

	agg.ID = uuid.NewString()
	p := &Post{
		ID:        agg.ID,
		Kind:      KindPoll,
		Content:   agg.Question,
		Poll:      agg,
		CreatedAt: agg.CreatedAt,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) List(ctx context.Context) ([]Post, error) {
	posts, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if posts == nil {
		posts = []Post{}
	}
	return posts, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Post, error) {
	return s.repo.Get(ctx, id)
}

// Like sets identity's like on a post and returns the resulting count.
func (s *Service) Like(ctx context.Context, postID, identity string, liked bool) (int64, error) {
	if identity == "" {
		return 0, fmt.Errorf("%w: identity is required", ErrInvalidPost)
	}
	policy := retry.Policy{
		Attempts:  3,
		BaseDelay: 20 * time.Millisecond,
		MaxDelay:  200 * time.Millisecond,
		Retryable: func(err error) bool {
			return !errors.Is(err, ErrPostNotFound) && ctx.Err() == nil
		},
	}
	return retry.DoValue(ctx, policy, func(ctx context.Context) (int64, error) {
		return s.repo.SetLike(ctx, postID, identity, liked)
	})
}

// AddComment stores a screened comment and returns the post's comments.
func (s *Service) AddComment(ctx context.Context, postID, content string) ([]Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: comment is empty", ErrInvalidComment)
	}
	if utf8.RuneCountInString(content) > MaxCommentLength {
		return nil, fmt.Errorf("%w: comment must be at most %d characters", ErrInvalidComment, MaxCommentLength)
	}
	if err := s.screen(ctx, content, s.policies.Comment); err != nil {
		return nil, err
	}

	c := Comment{
		ID:        uuid.NewString(),
		PostID:    postID,
		Content:   content,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.AddComment(ctx, c); err != nil {
		return nil, err
	}
	return s.Comments(ctx, postID)
}

func (s *Service) Comments(ctx context.Context, postID string) ([]Comment, error) {
	comments, err := s.repo.Comments(ctx, postID)
	if err != nil {
		return nil, err
	}
	if comments == nil {
		comments = []Comment{}
	}
	return comments, nil
}

func (s *Service) screen(ctx context.Context, text string, policy moderation.Policy) error {
	if s.moderator == nil {
		return nil
	}
	v := s.moderator.Check(ctx, text, policy)
	if v.Blocked {
		s.log.Info("content blocked", "reasons", v.Reasons, "degraded", v.Degraded)
		return &BlockedError{Reasons: v.Reasons}
	}
	return nil
}
