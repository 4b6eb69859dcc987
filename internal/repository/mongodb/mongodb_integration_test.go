//go:build integration

package mongodb

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"

	"postboard/internal/domain/media"
	"postboard/internal/domain/poll"
	"postboard/internal/domain/post"
	"postboard/internal/domain/push"
	"postboard/internal/domain/vote"
	"postboard/internal/platform/database"
	"postboard/internal/platform/moderation"
)

func setupDB(t *testing.T) *mongo.Database {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "27017")
	require.NoError(t, err)

	db, err := database.NewMongo(ctx, fmt.Sprintf("mongodb://%s:%s", host, port.Port()), "board_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Client().Disconnect(context.Background()) })
	require.NoError(t, EnsureIndexes(ctx, db))
	return db
}

func TestMongoStoreIntegration(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewPostRepo(db)
	posts := post.NewService(repo, nil, post.Policies{})
	votes := vote.NewService(repo, vote.Config{})

	text, err := posts.CreatePost(ctx, "hello", "")
	require.NoError(t, err)
	p, err := posts.CreatePoll(ctx, "Pick two", []string{"a", "b", "c"}, true)
	require.NoError(t, err)

	res, err := votes.CastVote(ctx, p.ID, "x", poll.Multiple(0, 2))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Poll.TotalVotes)
	_, err = votes.CastVote(ctx, p.ID, "x", poll.Multiple(0, 1))
	assert.ErrorIs(t, err, vote.ErrAlreadyVoted)
	_, err = votes.CastVote(ctx, text.ID, "x", poll.Single(0))
	assert.ErrorIs(t, err, poll.ErrPollNotFound)

	stale, err := repo.LoadPoll(ctx, p.ID)
	require.NoError(t, err)
	next, err := stale.Apply("y", poll.Multiple(1, 2))
	require.NoError(t, err)
	require.NoError(t, repo.SwapPoll(ctx, p.ID, stale.Version, next))
	assert.ErrorIs(t, repo.SwapPoll(ctx, p.ID, stale.Version, next), poll.ErrVersionConflict)

	likes, err := posts.Like(ctx, text.ID, "x", true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), likes)
	likes, err = posts.Like(ctx, text.ID, "x", true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), likes)
	likes, err = posts.Like(ctx, text.ID, "x", false)
	require.NoError(t, err)
	assert.Equal(t, int64(0), likes)
	_, err = posts.Like(ctx, "missing", "x", true)
	assert.ErrorIs(t, err, post.ErrPostNotFound)

	_, err = posts.AddComment(ctx, text.ID, "nice")
	require.NoError(t, err)

	list, err := posts.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, p.ID, list[0].ID)
	assert.Equal(t, 1, list[1].CommentCount)
	assert.Equal(t, int64(4), list[0].Poll.TotalVotes)
}

func TestMongoConcurrentVotersIntegration(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewPostRepo(db)
	posts := post.NewService(repo, nil, post.Policies{})
	votes := vote.NewService(repo, vote.DefaultConfig())

	p, err := posts.CreatePoll(ctx, "Lunch?", []string{"pizza", "salad"}, false)
	require.NoError(t, err)

	const voters = 20
	var wg sync.WaitGroup
	errs := make(chan error, voters)
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := votes.CastVote(ctx, p.ID, fmt.Sprintf("voter-%d", i), poll.Single(i%2))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := repo.LoadPoll(ctx, p.ID)
	require.NoError(t, err)
	require.NoError(t, stored.CheckInvariants())
	assert.Equal(t, int64(voters), stored.TotalVotes)
	assert.Len(t, stored.VoterIdentities, voters)

	_, err = repo.RecordVote(ctx, p.ID, "voter-0", poll.Single(1), true)
	assert.ErrorIs(t, err, poll.ErrDuplicateVoter)
}

func TestMongoSiteReposIntegration(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	assets := NewAssetRepo(db)
	require.NoError(t, assets.SetAsset(ctx, media.KindBackground, "https://cdn/bg.png"))
	url, err := assets.Asset(ctx, media.KindBackground)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/bg.png", url)

	subs := NewSubscriptionRepo(db)
	s := push.Subscription{Endpoint: "https://push/1", Keys: push.Keys{P256dh: "p", Auth: "a"}}
	require.NoError(t, subs.Save(ctx, s))
	require.NoError(t, subs.Save(ctx, s))
	list, err := subs.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []push.Subscription{s}, list)

	words := NewWordRepo(db)
	require.NoError(t, words.Seed(ctx, moderation.ParseWordList("en:darn|dang")))
	require.NoError(t, words.Seed(ctx, moderation.ParseWordList("en:darn")))
	active, err := words.ActiveWords(ctx, []string{"en"})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, []string{"dang"}, active[0].Variations)
}
