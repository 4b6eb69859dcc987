package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"postboard/internal/domain/media"
	"postboard/internal/domain/push"
	"postboard/internal/platform/moderation"
)

type AssetRepo struct {
	assets *mongo.Collection
}

func NewAssetRepo(db *mongo.Database) *AssetRepo {
	return &AssetRepo{assets: db.Collection(assetsCollection)}
}

func (r *AssetRepo) SetAsset(ctx context.Context, kind media.Kind, url string) error {
	_, err := r.assets.UpdateOne(ctx,
		bson.M{"_id": string(kind)},
		bson.M{"$set": bson.M{"url": url, "updatedAt": time.Now().UTC()}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (r *AssetRepo) Asset(ctx context.Context, kind media.Kind) (string, error) {
	var doc struct {
		URL string `bson:"url"`
	}
	err := r.assets.FindOne(ctx, bson.M{"_id": string(kind)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	return doc.URL, err
}

type subscriptionDocument struct {
	Endpoint  string    `bson:"_id"`
	P256dh    string    `bson:"p256dh"`
	Auth      string    `bson:"auth"`
	CreatedAt time.Time `bson:"createdAt"`
}

type SubscriptionRepo struct {
	subs *mongo.Collection
}

func NewSubscriptionRepo(db *mongo.Database) *SubscriptionRepo {
	return &SubscriptionRepo{subs: db.Collection(subscriptionsCollection)}
}

func (r *SubscriptionRepo) Save(ctx context.Context, s push.Subscription) error {
	_, err := r.subs.ReplaceOne(ctx,
		bson.M{"_id": s.Endpoint},
		subscriptionDocument{Endpoint: s.Endpoint, P256dh: s.Keys.P256dh, Auth: s.Keys.Auth, CreatedAt: time.Now().UTC()},
		options.Replace().SetUpsert(true),
	)
	return err
}

func (r *SubscriptionRepo) Delete(ctx context.Context, endpoint string) error {
	_, err := r.subs.DeleteOne(ctx, bson.M{"_id": endpoint})
	return err
}

func (r *SubscriptionRepo) List(ctx context.Context) ([]push.Subscription, error) {
	cur, err := r.subs.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var res []push.Subscription
	for cur.Next(ctx) {
		var doc subscriptionDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		res = append(res, push.Subscription{
			Endpoint: doc.Endpoint,
			Keys:     push.Keys{P256dh: doc.P256dh, Auth: doc.Auth},
		})
	}
	return res, cur.Err()
}

type wordDocument struct {
	Word       string   `bson:"word"`
	Language   string   `bson:"language"`
	Variations []string `bson:"variations"`
	IsActive   bool     `bson:"isActive"`
}

// WordRepo is the moderation lexicon source backed by bad_words.
type WordRepo struct {
	words *mongo.Collection
}

func NewWordRepo(db *mongo.Database) *WordRepo {
	return &WordRepo{words: db.Collection(wordsCollection)}
}

func (r *WordRepo) ActiveWords(ctx context.Context, languages []string) ([]moderation.Word, error) {
	cur, err := r.words.Find(ctx, bson.M{"isActive": true, "language": bson.M{"$in": languages}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var res []moderation.Word
	for cur.Next(ctx) {
		var doc wordDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		res = append(res, moderation.Word{Word: doc.Word, Language: doc.Language, Variations: doc.Variations})
	}
	return res, cur.Err()
}

// Seed inserts words that are not present yet.
func (r *WordRepo) Seed(ctx context.Context, words []moderation.Word) error {
	for _, w := range words {
		_, err := r.words.UpdateOne(ctx,
			bson.M{"word": w.Word, "language": w.Language},
			bson.M{"$setOnInsert": wordDocument{Word: w.Word, Language: w.Language, Variations: nonNil(w.Variations), IsActive: true}},
			options.Update().SetUpsert(true),
		)
		if err != nil {
			return err
		}
	}
	return nil
}
