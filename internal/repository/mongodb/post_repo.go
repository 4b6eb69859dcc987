// Package mongodb stores the board in MongoDB. A poll lives inside its post
// document, so a vote is one conditional single-document update.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"postboard/internal/domain/poll"
	"postboard/internal/domain/post"
)

const (
	postsCollection         = "posts"
	assetsCollection        = "site_assets"
	subscriptionsCollection = "push_subscriptions"
	wordsCollection         = "bad_words"
)

type postDocument struct {
	ID        string            `bson:"_id"`
	Kind      string            `bson:"kind"`
	Content   string            `bson:"content"`
	ImageURL  string            `bson:"imageUrl,omitempty"`
	Likes     int64             `bson:"likes"`
	LikedBy   []string          `bson:"likedBy"`
	Comments  []commentDocument `bson:"comments"`
	Poll      *pollDocument     `bson:"poll,omitempty"`
	Version   int64             `bson:"version"`
	CreatedAt time.Time         `bson:"createdAt"`
}

type commentDocument struct {
	ID        string    `bson:"id"`
	Content   string    `bson:"content"`
	CreatedAt time.Time `bson:"createdAt"`
}

type pollDocument struct {
	Question        string           `bson:"question"`
	AllowMultiple   bool             `bson:"allowMultiple"`
	Options         []optionDocument `bson:"options"`
	TotalVotes      int64            `bson:"totalVotes"`
	VoterIdentities []string         `bson:"voterIdentities"`
}

type optionDocument struct {
	Text   string   `bson:"text"`
	Votes  int64    `bson:"votes"`
	Voters []string `bson:"voters"`
}

func toPollDocument(a *poll.Aggregate) *pollDocument {
	doc := &pollDocument{
		Question:        a.Question,
		AllowMultiple:   a.AllowMultiple,
		Options:         make([]optionDocument, len(a.Options)),
		TotalVotes:      a.TotalVotes,
		VoterIdentities: nonNil(a.VoterIdentities),
	}
	for i, o := range a.Options {
		doc.Options[i] = optionDocument{Text: o.Text, Votes: o.Votes, Voters: nonNil(o.Voters)}
	}
	return doc
}

func (d *postDocument) aggregate() *poll.Aggregate {
	a := &poll.Aggregate{
		ID:              d.ID,
		Question:        d.Poll.Question,
		AllowMultiple:   d.Poll.AllowMultiple,
		Options:         make([]poll.Option, len(d.Poll.Options)),
		TotalVotes:      d.Poll.TotalVotes,
		VoterIdentities: d.Poll.VoterIdentities,
		CreatedAt:       d.CreatedAt.UTC(),
		Version:         d.Version,
	}
	for i, o := range d.Poll.Options {
		a.Options[i] = poll.Option{Text: o.Text, Votes: o.Votes, Voters: o.Voters}
	}
	return a
}

func (d *postDocument) post() post.Post {
	p := post.Post{
		ID:           d.ID,
		Kind:         post.Kind(d.Kind),
		Content:      d.Content,
		ImageURL:     d.ImageURL,
		Likes:        d.Likes,
		CommentCount: len(d.Comments),
		CreatedAt:    d.CreatedAt.UTC(),
	}
	if d.Poll != nil {
		p.Poll = d.aggregate()
	}
	return p
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

type PostRepo struct {
	posts *mongo.Collection
}

func NewPostRepo(db *mongo.Database) *PostRepo {
	return &PostRepo{posts: db.Collection(postsCollection)}
}

// EnsureIndexes creates the indexes the queries rely on.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(postsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "createdAt", Value: -1}},
	})
	if err != nil {
		return err
	}
	_, err = db.Collection(wordsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "word", Value: 1}, {Key: "language", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (r *PostRepo) Create(ctx context.Context, p *post.Post) error {
	doc := postDocument{
		ID:        p.ID,
		Kind:      string(p.Kind),
		Content:   p.Content,
		ImageURL:  p.ImageURL,
		LikedBy:   []string{},
		Comments:  []commentDocument{},
		CreatedAt: p.CreatedAt,
	}
	if p.Poll != nil {
		doc.Poll = toPollDocument(p.Poll)
	}
	_, err := r.posts.InsertOne(ctx, doc)
	return err
}

var withoutLikers = bson.M{"likedBy": 0}

func (r *PostRepo) Get(ctx context.Context, id string) (*post.Post, error) {
	var doc postDocument
	err := r.posts.FindOne(ctx, bson.M{"_id": id}, options.FindOne().SetProjection(withoutLikers)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, post.ErrPostNotFound
	}
	if err != nil {
		return nil, err
	}
	p := doc.post()
	return &p, nil
}

func (r *PostRepo) List(ctx context.Context) ([]post.Post, error) {
	cur, err := r.posts.Find(ctx, bson.M{}, options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}}).
		SetProjection(withoutLikers))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	res := []post.Post{}
	for cur.Next(ctx) {
		var doc postDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		res = append(res, doc.post())
	}
	return res, cur.Err()
}

// SetLike keeps likes equal to the size of likedBy by changing both in one
// filtered update.
func (r *PostRepo) SetLike(ctx context.Context, postID, identity string, liked bool) (int64, error) {
	filter := bson.M{"_id": postID, "likedBy": bson.M{"$ne": identity}}
	update := bson.M{"$addToSet": bson.M{"likedBy": identity}, "$inc": bson.M{"likes": 1}}
	if !liked {
		filter = bson.M{"_id": postID, "likedBy": identity}
		update = bson.M{"$pull": bson.M{"likedBy": identity}, "$inc": bson.M{"likes": -1}}
	}

	var doc struct {
		Likes int64 `bson:"likes"`
	}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"likes": 1})
	err := r.posts.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		// already in the requested state, or no such post
		err = r.posts.FindOne(ctx, bson.M{"_id": postID}, options.FindOne().SetProjection(bson.M{"likes": 1})).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, post.ErrPostNotFound
		}
	}
	if err != nil {
		return 0, err
	}
	return doc.Likes, nil
}

func (r *PostRepo) AddComment(ctx context.Context, c post.Comment) error {
	res, err := r.posts.UpdateOne(ctx, bson.M{"_id": c.PostID}, bson.M{
		"$push": bson.M{"comments": commentDocument{ID: c.ID, Content: c.Content, CreatedAt: c.CreatedAt}},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return post.ErrPostNotFound
	}
	return nil
}

func (r *PostRepo) Comments(ctx context.Context, postID string) ([]post.Comment, error) {
	var doc postDocument
	err := r.posts.FindOne(ctx, bson.M{"_id": postID}, options.FindOne().SetProjection(bson.M{"comments": 1})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, post.ErrPostNotFound
	}
	if err != nil {
		return nil, err
	}
	res := make([]post.Comment, len(doc.Comments))
	for i, c := range doc.Comments {
		res[i] = post.Comment{ID: c.ID, PostID: postID, Content: c.Content, CreatedAt: c.CreatedAt.UTC()}
	}
	return res, nil
}

func (r *PostRepo) LoadPoll(ctx context.Context, id string) (*poll.Aggregate, error) {
	var doc postDocument
	err := r.posts.FindOne(ctx,
		bson.M{"_id": id, "kind": string(post.KindPoll), "poll": bson.M{"$exists": true}},
		options.FindOne().SetProjection(bson.M{"poll": 1, "version": 1, "createdAt": 1}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, poll.ErrPollNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.aggregate(), nil
}

// SwapPoll replaces the embedded poll only while the document is still at
// expectedVersion.
func (r *PostRepo) SwapPoll(ctx context.Context, id string, expectedVersion int64, next *poll.Aggregate) error {
	if err := next.CheckInvariants(); err != nil {
		return err
	}
	res, err := r.posts.UpdateOne(ctx,
		bson.M{"_id": id, "kind": string(post.KindPoll), "version": expectedVersion},
		bson.M{"$set": bson.M{"poll": toPollDocument(next)}, "$inc": bson.M{"version": 1}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 1 {
		return nil
	}

	n, err := r.posts.CountDocuments(ctx, bson.M{"_id": id, "kind": string(post.KindPoll)})
	if err != nil {
		return err
	}
	if n == 0 {
		return poll.ErrPollNotFound
	}
	return poll.ErrVersionConflict
}

// RecordVote counts a vote with one conditional update. The selection is
// checked against a fresh read first; options never change after creation,
// so only the duplicate check has to live in the update filter.
func (r *PostRepo) RecordVote(ctx context.Context, id, identity string, sel poll.Selection, strict bool) (*poll.Aggregate, error) {
	current, err := r.LoadPoll(ctx, id)
	if err != nil {
		return nil, err
	}
	if strict && current.HasVoted(identity) {
		return nil, poll.ErrDuplicateVoter
	}
	if _, err := current.Apply(identity, sel); err != nil {
		return nil, err
	}

	filter := bson.M{"_id": id, "kind": string(post.KindPoll)}
	if strict {
		filter["poll.voterIdentities"] = bson.M{"$ne": identity}
	}
	indexes := sel.Indexes()
	inc := bson.M{"poll.totalVotes": len(indexes), "version": 1}
	addToSet := bson.M{"poll.voterIdentities": identity}
	for _, i := range indexes {
		inc[fmt.Sprintf("poll.options.%d.votes", i)] = 1
		addToSet[fmt.Sprintf("poll.options.%d.voters", i)] = identity
	}

	var doc postDocument
	err = r.posts.FindOneAndUpdate(ctx, filter,
		bson.M{"$inc": inc, "$addToSet": addToSet},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if strict {
			// the poll was there a moment ago, so the identity filter missed
			return nil, poll.ErrDuplicateVoter
		}
		return nil, poll.ErrPollNotFound
	}
	if err != nil {
		return nil, err
	}
	if doc.Poll == nil {
		return nil, poll.ErrPollNotFound
	}
	return doc.aggregate(), nil
}
