package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"postboard/internal/domain/media"
	"postboard/internal/domain/push"
	"postboard/internal/platform/moderation"
)

type AssetRepo struct {
	db *sql.DB
}

func NewAssetRepo(db *sql.DB) *AssetRepo {
	return &AssetRepo{db: db}
}

func (r *AssetRepo) SetAsset(ctx context.Context, kind media.Kind, url string) error {
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO site_assets (kind, url) VALUES ($1, $2)
        ON CONFLICT (kind) DO UPDATE
        SET url = EXCLUDED.url,
            updated_at = now()
    `, string(kind), url)
	return err
}

func (r *AssetRepo) Asset(ctx context.Context, kind media.Kind) (string, error) {
	var url string
	err := r.db.QueryRowContext(ctx, `SELECT url FROM site_assets WHERE kind = $1`, string(kind)).Scan(&url)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return url, err
}

type SubscriptionRepo struct {
	db *sql.DB
}

func NewSubscriptionRepo(db *sql.DB) *SubscriptionRepo {
	return &SubscriptionRepo{db: db}
}

func (r *SubscriptionRepo) Save(ctx context.Context, s push.Subscription) error {
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO push_subscriptions (endpoint, p256dh, auth) VALUES ($1, $2, $3)
        ON CONFLICT (endpoint) DO UPDATE
        SET p256dh = EXCLUDED.p256dh,
            auth = EXCLUDED.auth
    `, s.Endpoint, s.Keys.P256dh, s.Keys.Auth)
	return err
}

func (r *SubscriptionRepo) Delete(ctx context.Context, endpoint string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE endpoint = $1`, endpoint)
	return err
}

func (r *SubscriptionRepo) List(ctx context.Context) ([]push.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT endpoint, p256dh, auth FROM push_subscriptions ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []push.Subscription
	for rows.Next() {
		var s push.Subscription
		if err := rows.Scan(&s.Endpoint, &s.Keys.P256dh, &s.Keys.Auth); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// WordRepo is the moderation lexicon source backed by bad_words.
type WordRepo struct {
	db *sql.DB
}

func NewWordRepo(db *sql.DB) *WordRepo {
	return &WordRepo{db: db}
}

func (r *WordRepo) ActiveWords(ctx context.Context, languages []string) ([]moderation.Word, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT word, language, variations
        FROM bad_words
        WHERE is_active AND language = ANY($1)
    `, languages)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []moderation.Word
	for rows.Next() {
		var (
			w   moderation.Word
			raw []byte
		)
		if err := rows.Scan(&w.Word, &w.Language, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &w.Variations); err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

// Seed inserts words that are not present yet.
func (r *WordRepo) Seed(ctx context.Context, words []moderation.Word) error {
	for _, w := range words {
		variations, err := json.Marshal(w.Variations)
		if err != nil {
			return err
		}
		if w.Variations == nil {
			variations = []byte("[]")
		}
		_, err = r.db.ExecContext(ctx, `
            INSERT INTO bad_words (word, language, variations) VALUES ($1, $2, $3::jsonb)
            ON CONFLICT (word, language) DO NOTHING
        `, w.Word, w.Language, string(variations))
		if err != nil && !isUniqueViolation(err) {
			return err
		}
	}
	return nil
}
