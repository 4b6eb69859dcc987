package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"postboard/internal/domain/poll"
	"postboard/internal/domain/post"
)

type PostRepo struct {
	db *sql.DB
}

func NewPostRepo(db *sql.DB) *PostRepo {
	return &PostRepo{db: db}
}

type pollDocument struct {
	Question        string           `json:"question"`
	AllowMultiple   bool             `json:"allowMultiple"`
	Options         []optionDocument `json:"options"`
	TotalVotes      int64            `json:"totalVotes"`
	VoterIdentities []string         `json:"voterIdentities"`
}

type optionDocument struct {
	Text   string   `json:"text"`
	Votes  int64    `json:"votes"`
	Voters []string `json:"voters"`
}

func encodePoll(a *poll.Aggregate) (string, error) {
	doc := pollDocument{
		Question:        a.Question,
		AllowMultiple:   a.AllowMultiple,
		Options:         make([]optionDocument, len(a.Options)),
		TotalVotes:      a.TotalVotes,
		VoterIdentities: a.VoterIdentities,
	}
	for i, o := range a.Options {
		doc.Options[i] = optionDocument{Text: o.Text, Votes: o.Votes, Voters: o.Voters}
	}
	raw, err := json.Marshal(doc)
	return string(raw), err
}

func decodePoll(raw []byte) (*poll.Aggregate, error) {
	var doc pollDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode poll: %w", err)
	}
	a := &poll.Aggregate{
		Question:        doc.Question,
		AllowMultiple:   doc.AllowMultiple,
		Options:         make([]poll.Option, len(doc.Options)),
		TotalVotes:      doc.TotalVotes,
		VoterIdentities: doc.VoterIdentities,
	}
	for i, o := range doc.Options {
		a.Options[i] = poll.Option{Text: o.Text, Votes: o.Votes, Voters: o.Voters}
	}
	return a, nil
}

func (r *PostRepo) Create(ctx context.Context, p *post.Post) error {
	var pollDoc *string
	if p.Poll != nil {
		doc, err := encodePoll(p.Poll)
		if err != nil {
			return err
		}
		pollDoc = &doc
	}
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO posts (id, kind, content, image_url, poll, created_at)
        VALUES ($1, $2, $3, $4, $5::jsonb, $6)
    `, p.ID, string(p.Kind), p.Content, p.ImageURL, pollDoc, p.CreatedAt)
	return err
}

const selectPost = `
        SELECT p.id, p.kind, p.content, p.image_url, p.likes, p.poll, p.version, p.created_at,
               (SELECT COUNT(*) FROM comments c WHERE c.post_id = p.id)
        FROM posts p
    `

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*post.Post, error) {
	var (
		p       post.Post
		kind    string
		rawPoll []byte
		version int64
	)
	if err := row.Scan(&p.ID, &kind, &p.Content, &p.ImageURL, &p.Likes, &rawPoll, &version, &p.CreatedAt, &p.CommentCount); err != nil {
		return nil, err
	}
	p.Kind = post.Kind(kind)
	p.CreatedAt = p.CreatedAt.UTC()
	if p.Kind == post.KindPoll && rawPoll != nil {
		agg, err := decodePoll(rawPoll)
		if err != nil {
			return nil, err
		}
		agg.ID, agg.Version, agg.CreatedAt = p.ID, version, p.CreatedAt
		p.Poll = agg
	}
	return &p, nil
}

func (r *PostRepo) Get(ctx context.Context, id string) (*post.Post, error) {
	p, err := scanPost(r.db.QueryRowContext(ctx, selectPost+" WHERE p.id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, post.ErrPostNotFound
	}
	return p, err
}

func (r *PostRepo) List(ctx context.Context) ([]post.Post, error) {
	rows, err := r.db.QueryContext(ctx, selectPost+" ORDER BY p.created_at DESC, p.id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []post.Post{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *p)
	}
	return res, rows.Err()
}

func (r *PostRepo) SetLike(ctx context.Context, postID, identity string, liked bool) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var likes int64
	err = tx.QueryRowContext(ctx, `SELECT likes FROM posts WHERE id = $1 FOR UPDATE`, postID).Scan(&likes)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, post.ErrPostNotFound
	}
	if err != nil {
		return 0, err
	}

	var (
		res    sql.Result
		update string
	)
	if liked {
		res, err = tx.ExecContext(ctx, `
            INSERT INTO post_likes (post_id, identity) VALUES ($1, $2)
            ON CONFLICT (post_id, identity) DO NOTHING
        `, postID, identity)
		update = `UPDATE posts SET likes = likes + 1 WHERE id = $1 RETURNING likes`
	} else {
		res, err = tx.ExecContext(ctx, `DELETE FROM post_likes WHERE post_id = $1 AND identity = $2`, postID, identity)
		update = `UPDATE posts SET likes = GREATEST(likes - 1, 0) WHERE id = $1 RETURNING likes`
	}
	if err != nil {
		return 0, err
	}
	changed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if changed == 1 {
		if err := tx.QueryRowContext(ctx, update, postID).Scan(&likes); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return likes, nil
}

func (r *PostRepo) AddComment(ctx context.Context, c post.Comment) error {
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO comments (id, post_id, content, created_at)
        VALUES ($1, $2, $3, $4)
    `, c.ID, c.PostID, c.Content, c.CreatedAt)
	if isForeignKeyViolation(err) {
		return post.ErrPostNotFound
	}
	return err
}

func (r *PostRepo) Comments(ctx context.Context, postID string) ([]post.Comment, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM posts WHERE id = $1)`, postID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, post.ErrPostNotFound
	}

	rows, err := r.db.QueryContext(ctx, `
        SELECT id, post_id, content, created_at
        FROM comments WHERE post_id = $1
        ORDER BY created_at, id
    `, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []post.Comment{}
	for rows.Next() {
		var c post.Comment
		if err := rows.Scan(&c.ID, &c.PostID, &c.Content, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r *PostRepo) LoadPoll(ctx context.Context, id string) (*poll.Aggregate, error) {
	var (
		raw       []byte
		version   int64
		createdAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
        SELECT poll, version, created_at FROM posts
        WHERE id = $1 AND kind = 'poll' AND poll IS NOT NULL
    `, id).Scan(&raw, &version, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, poll.ErrPollNotFound
	}
	if err != nil {
		return nil, err
	}
	agg, err := decodePoll(raw)
	if err != nil {
		return nil, err
	}
	agg.ID, agg.Version, agg.CreatedAt = id, version, createdAt.Time.UTC()
	return agg, nil
}

// SwapPoll writes next only while the row is still at expectedVersion.
func (r *PostRepo) SwapPoll(ctx context.Context, id string, expectedVersion int64, next *poll.Aggregate) error {
	if err := next.CheckInvariants(); err != nil {
		return err
	}
	doc, err := encodePoll(next)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
        UPDATE posts SET poll = $1::jsonb, version = version + 1
        WHERE id = $2 AND kind = 'poll' AND version = $3
    `, doc, id, expectedVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM posts WHERE id = $1 AND kind = 'poll')`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return poll.ErrPollNotFound
	}
	return poll.ErrVersionConflict
}

// RecordVote counts a vote under a row lock, so concurrent voters queue on
// the row instead of racing on the version.
func (r *PostRepo) RecordVote(ctx context.Context, id, identity string, sel poll.Selection, strict bool) (*poll.Aggregate, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var (
		raw       []byte
		version   int64
		createdAt sql.NullTime
	)
	err = tx.QueryRowContext(ctx, `
        SELECT poll, version, created_at FROM posts
        WHERE id = $1 AND kind = 'poll' AND poll IS NOT NULL
        FOR UPDATE
    `, id).Scan(&raw, &version, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, poll.ErrPollNotFound
	}
	if err != nil {
		return nil, err
	}
	current, err := decodePoll(raw)
	if err != nil {
		return nil, err
	}
	if strict && current.HasVoted(identity) {
		return nil, poll.ErrDuplicateVoter
	}

	next, err := current.Apply(identity, sel)
	if err != nil {
		return nil, err
	}
	if err := next.CheckInvariants(); err != nil {
		return nil, err
	}
	doc, err := encodePoll(next)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
        UPDATE posts SET poll = $1::jsonb, version = version + 1 WHERE id = $2
    `, doc, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	next.ID, next.Version, next.CreatedAt = id, version+1, createdAt.Time.UTC()
	return next, nil
}
