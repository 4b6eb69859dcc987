package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"postboard/internal/domain/admin"
	"postboard/internal/domain/identity"
	"postboard/internal/domain/poll"
	"postboard/internal/domain/post"
	"postboard/internal/domain/push"
	"postboard/internal/domain/vote"
	jwtpkg "postboard/internal/platform/jwt"
	"postboard/internal/worker"
)

// memoryBoard backs both the post repository and the poll store.
type memoryBoard struct {
	mu        sync.Mutex
	order     []string
	posts     map[string]*post.Post
	likes     map[string]map[string]bool
	comments  map[string][]post.Comment
	failSwaps bool
}

func newMemoryBoard() *memoryBoard {
	return &memoryBoard{
		posts:    make(map[string]*post.Post),
		likes:    make(map[string]map[string]bool),
		comments: make(map[string][]post.Comment),
	}
}

func (b *memoryBoard) Create(ctx context.Context, p *post.Post) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := *p
	if p.Poll != nil {
		cp.Poll = p.Poll.Clone()
	}
	b.posts[p.ID] = &cp
	b.order = append(b.order, p.ID)
	return nil
}

func (b *memoryBoard) Get(ctx context.Context, id string) (*post.Post, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.posts[id]
	if !ok {
		return nil, post.ErrPostNotFound
	}
	cp := *p
	if p.Poll != nil {
		cp.Poll = p.Poll.Clone()
	}
	return &cp, nil
}

func (b *memoryBoard) List(ctx context.Context) ([]post.Post, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]post.Post, 0, len(b.order))
	for i := len(b.order) - 1; i >= 0; i-- {
		cp := *b.posts[b.order[i]]
		if cp.Poll != nil {
			cp.Poll = cp.Poll.Clone()
		}
		out = append(out, cp)
	}
	return out, nil
}

func (b *memoryBoard) SetLike(ctx context.Context, postID, who string, liked bool) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.posts[postID]
	if !ok {
		return 0, post.ErrPostNotFound
	}
	set := b.likes[postID]
	if set == nil {
		set = make(map[string]bool)
		b.likes[postID] = set
	}
	if liked {
		set[who] = true
	} else {
		delete(set, who)
	}
	p.Likes = int64(len(set))
	return p.Likes, nil
}

func (b *memoryBoard) AddComment(ctx context.Context, c post.Comment) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.posts[c.PostID]
	if !ok {
		return post.ErrPostNotFound
	}
	b.comments[c.PostID] = append(b.comments[c.PostID], c)
	p.CommentCount++
	return nil
}

func (b *memoryBoard) Comments(ctx context.Context, postID string) ([]post.Comment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.posts[postID]; !ok {
		return nil, post.ErrPostNotFound
	}
	return append([]post.Comment{}, b.comments[postID]...), nil
}

func (b *memoryBoard) LoadPoll(ctx context.Context, id string) (*poll.Aggregate, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.posts[id]
	if !ok || p.Poll == nil {
		return nil, poll.ErrPollNotFound
	}
	return p.Poll.Clone(), nil
}

func (b *memoryBoard) SwapPoll(ctx context.Context, id string, expected int64, next *poll.Aggregate) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failSwaps {
		return errors.New("connection refused")
	}
	p, ok := b.posts[id]
	if !ok || p.Poll == nil {
		return poll.ErrPollNotFound
	}
	if p.Poll.Version != expected {
		return poll.ErrVersionConflict
	}
	stored := next.Clone()
	stored.Version = expected + 1
	p.Poll = stored
	return nil
}

type memorySubscriptions struct {
	mu   sync.Mutex
	subs map[string]push.Subscription
}

func (m *memorySubscriptions) Save(ctx context.Context, s push.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[s.Endpoint] = s
	return nil
}

func (m *memorySubscriptions) Delete(ctx context.Context, endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, endpoint)
	return nil
}

func (m *memorySubscriptions) List(ctx context.Context) ([]push.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]push.Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, s)
	}
	return out, nil
}

type okSender struct{}

func (okSender) Send(ctx context.Context, sub push.Subscription, payload []byte) (int, error) {
	return http.StatusCreated, nil
}

type testServer struct {
	board   *memoryBoard
	subs    *memorySubscriptions
	handler http.Handler
	jwt     *jwtpkg.Manager
	voteCh  chan worker.VoteEvent

	mu    sync.Mutex
	addrs map[string]string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("letmein"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}

	board := newMemoryBoard()
	subs := &memorySubscriptions{subs: make(map[string]push.Subscription)}
	jm := jwtpkg.NewManager("test-secret", "postboard")
	voteCh := make(chan worker.VoteEvent, 16)

	pushSvc := push.NewService(subs, okSender{}, "BPublicKey", 2)
	t.Cleanup(pushSvc.Close)

	votes := vote.NewService(board, vote.Config{
		Policy:    vote.PolicyStrict,
		Timeout:   time.Second,
		Attempts:  2,
		BaseDelay: time.Millisecond,
		MaxDelay:  2 * time.Millisecond,
	})

	handler := NewRouter(Deps{
		Posts:    post.NewService(board, nil, post.Policies{}),
		Votes:    votes,
		Push:     pushSvc,
		Admin:    admin.NewService(string(hash), jm),
		Identity: identity.NewHashResolver("identity-secret", false, false),
		JWT:      jm,
		VoteCh:   voteCh,
		Ready:    func(ctx context.Context) error { return nil },
	})

	return &testServer{
		board:   board,
		subs:    subs,
		handler: handler,
		jwt:     jm,
		voteCh:  voteCh,
		addrs:   make(map[string]string),
	}
}

// addrFor gives each named client its own remote address.
func (s *testServer) addrFor(client string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr, ok := s.addrs[client]
	if !ok {
		addr = fmt.Sprintf("198.51.100.%d:40000", len(s.addrs)+1)
		s.addrs[client] = addr
	}
	return addr
}

// do sends a JSON request from the named client's address.
func (s *testServer) do(t *testing.T, method, path, client string, body any) *httptest.ResponseRecorder {
	t.Helper()
	req := s.request(t, method, path, body)
	if client != "" {
		req.RemoteAddr = s.addrFor(client)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) request(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func (s *testServer) createPoll(t *testing.T, allowMultiple bool, options ...string) string {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/api/v1/posts", "author", map[string]any{
		"type":          "poll",
		"question":      "Best lunch?",
		"options":       options,
		"allowMultiple": allowMultiple,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create poll: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var v post.View
	decode(t, rr, &v)
	return v.ID
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t)

	if rr := s.do(t, http.MethodGet, "/health", "", nil); rr.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", rr.Code)
	}
	if rr := s.do(t, http.MethodGet, "/ready", "", nil); rr.Code != http.StatusOK {
		t.Fatalf("ready: expected 200, got %d", rr.Code)
	}
}

func TestVote_RecordsAndRejectsRepeat(t *testing.T) {
	s := newTestServer(t)
	id := s.createPoll(t, false, "Pizza", "Salad", "Soup")

	rr := s.do(t, http.MethodPost, "/api/v1/posts/"+id+"/vote", "alice", map[string]any{"optionIndex": 1})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp voteResponse
	decode(t, rr, &resp)
	if resp.Message != "Vote recorded" {
		t.Fatalf("unexpected message %q", resp.Message)
	}
	if resp.Post.TotalVotes != 1 {
		t.Fatalf("expected totalVotes 1, got %d", resp.Post.TotalVotes)
	}
	if got := resp.Post.Options[1]; got.Votes != 1 || got.Percentage != 100 || !got.Voted {
		t.Fatalf("unexpected option %+v", got)
	}
	if len(resp.LeadingOptions) != 1 || resp.LeadingOptions[0].Text != "Salad" {
		t.Fatalf("unexpected leading options %+v", resp.LeadingOptions)
	}

	select {
	case ev := <-s.voteCh:
		if ev.PollID != id || len(ev.Indexes) != 1 || ev.Indexes[0] != 1 {
			t.Fatalf("unexpected vote event %+v", ev)
		}
	default:
		t.Fatalf("expected a vote event")
	}

	rr = s.do(t, http.MethodPost, "/api/v1/posts/"+id+"/vote", "alice", map[string]any{"optionIndex": 0})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
	}
	var conflict map[string]any
	decode(t, rr, &conflict)
	if conflict["alreadyVoted"] != true {
		t.Fatalf("expected alreadyVoted=true, got %v", conflict)
	}

	rr = s.do(t, http.MethodGet, "/api/v1/posts/"+id+"/results", "bob", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("results: expected 200, got %d", rr.Code)
	}
	var results resultsResponse
	decode(t, rr, &results)
	if results.Poll.TotalVotes != 1 || results.Poll.HasVoted {
		t.Fatalf("unexpected results for a non-voter: %+v", results.Poll)
	}
}

func TestVote_RotatingClientTokenIsStillOneVoter(t *testing.T) {
	s := newTestServer(t)
	id := s.createPoll(t, false, "Pizza", "Salad")

	codes := make([]int, 0, 3)
	for _, token := range []string{"t-1", "t-2", "t-3"} {
		req := s.request(t, http.MethodPost, "/api/v1/posts/"+id+"/vote", map[string]any{"optionIndex": 0})
		req.RemoteAddr = "203.0.113.7:5000"
		req.Header.Set(identity.HeaderClientToken, token)
		rr := httptest.NewRecorder()
		s.handler.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusConflict || codes[2] != http.StatusConflict {
		t.Fatalf("expected one accepted vote then conflicts, got %v", codes)
	}

	agg, err := s.board.LoadPoll(context.Background(), id)
	if err != nil {
		t.Fatalf("load poll: %v", err)
	}
	if agg.TotalVotes != 1 {
		t.Fatalf("expected a single counted vote, got %d", agg.TotalVotes)
	}
}

func TestVote_MultipleChoice(t *testing.T) {
	s := newTestServer(t)
	id := s.createPoll(t, true, "Red", "Green", "Blue")

	rr := s.do(t, http.MethodPost, "/api/v1/posts/"+id+"/vote", "alice", map[string]any{
		"optionIndexes": []int{0, 2},
		"allowMultiple": true,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp voteResponse
	decode(t, rr, &resp)
	if resp.Post.TotalVotes != 2 {
		t.Fatalf("both selected options count toward the total, got %d", resp.Post.TotalVotes)
	}
	if resp.Post.Options[0].Votes != 1 || resp.Post.Options[2].Votes != 1 {
		t.Fatalf("unexpected options %+v", resp.Post.Options)
	}
}

func TestVote_RejectsBadSelections(t *testing.T) {
	s := newTestServer(t)
	single := s.createPoll(t, false, "Yes", "No")
	multi := s.createPoll(t, true, "A", "B", "C")

	cases := []struct {
		name string
		id   string
		body map[string]any
		want int
	}{
		{"index out of range", single, map[string]any{"optionIndex": 5}, http.StatusBadRequest},
		{"two indexes on single poll", single, map[string]any{"optionIndexes": []int{0, 1}}, http.StatusBadRequest},
		{"declared mode mismatch", single, map[string]any{"optionIndex": 0, "allowMultiple": true}, http.StatusBadRequest},
		{"duplicate indexes", multi, map[string]any{"optionIndexes": []int{1, 1}}, http.StatusBadRequest},
		{"empty selection", multi, map[string]any{}, http.StatusBadRequest},
		{"unknown poll", "missing", map[string]any{"optionIndex": 0}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := s.do(t, http.MethodPost, "/api/v1/posts/"+tc.id+"/vote", "carol", tc.body)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestVote_PersistenceFailureIs503(t *testing.T) {
	s := newTestServer(t)
	id := s.createPoll(t, false, "Yes", "No")
	s.board.failSwaps = true

	rr := s.do(t, http.MethodPost, "/api/v1/posts/"+id+"/vote", "dave", map[string]any{"optionIndex": 0})
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", rr.Code, rr.Body.String())
	}

	s.board.failSwaps = false
	rr = s.do(t, http.MethodGet, "/api/v1/posts/"+id+"/results", "dave", nil)
	var results resultsResponse
	decode(t, rr, &results)
	if results.Poll.TotalVotes != 0 {
		t.Fatalf("failed vote must not be counted, got %d", results.Poll.TotalVotes)
	}
}

func TestPosts_ListNewestFirst(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "/api/v1/posts", "", nil)
	if rr.Code != http.StatusOK || bytes.TrimSpace(rr.Body.Bytes())[0] != '[' {
		t.Fatalf("empty board should list [], got %d %s", rr.Code, rr.Body.String())
	}

	for _, text := range []string{"first", "second"} {
		rr := s.do(t, http.MethodPost, "/api/v1/posts", "author", map[string]any{"type": "text", "content": text})
		if rr.Code != http.StatusCreated {
			t.Fatalf("create: expected 201, got %d: %s", rr.Code, rr.Body.String())
		}
	}

	rr = s.do(t, http.MethodGet, "/api/v1/posts", "", nil)
	var views []post.View
	decode(t, rr, &views)
	if len(views) != 2 || views[0].Content != "second" || views[1].Content != "first" {
		t.Fatalf("unexpected order %+v", views)
	}

	rr = s.do(t, http.MethodGet, "/api/v1/posts/"+views[1].ID, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rr.Code)
	}
	if rr := s.do(t, http.MethodGet, "/api/v1/posts/nope", "", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("get missing: expected 404, got %d", rr.Code)
	}
}

func TestPosts_CreateValidation(t *testing.T) {
	s := newTestServer(t)

	cases := []map[string]any{
		{"type": "text", "content": "   "},
		{"type": "video", "content": "hi"},
		{"type": "poll", "question": "Only one?", "options": []string{"yes"}},
	}
	for _, body := range cases {
		if rr := s.do(t, http.MethodPost, "/api/v1/posts", "author", body); rr.Code != http.StatusBadRequest {
			t.Fatalf("%v: expected 400, got %d: %s", body, rr.Code, rr.Body.String())
		}
	}
}

func TestPosts_LikeAndComments(t *testing.T) {
	s := newTestServer(t)
	rr := s.do(t, http.MethodPost, "/api/v1/posts", "author", map[string]any{"content": "hello"})
	var created post.View
	decode(t, rr, &created)

	for _, who := range []string{"alice", "alice", "bob"} {
		rr = s.do(t, http.MethodPost, "/api/v1/posts/"+created.ID+"/like", who, map[string]any{"liked": true})
		if rr.Code != http.StatusOK {
			t.Fatalf("like: expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
	}
	var liked map[string]any
	decode(t, rr, &liked)
	if liked["likes"] != float64(2) {
		t.Fatalf("repeat likes must not count, got %v", liked["likes"])
	}

	rr = s.do(t, http.MethodPost, "/api/v1/posts/"+created.ID+"/like", "bob", map[string]any{"liked": false})
	decode(t, rr, &liked)
	if liked["likes"] != float64(1) {
		t.Fatalf("expected 1 like after unlike, got %v", liked["likes"])
	}

	if rr := s.do(t, http.MethodPost, "/api/v1/posts/"+created.ID+"/like", "bob", map[string]any{}); rr.Code != http.StatusBadRequest {
		t.Fatalf("like without liked: expected 400, got %d", rr.Code)
	}

	rr = s.do(t, http.MethodPost, "/api/v1/posts/"+created.ID+"/comments", "carol", map[string]any{"content": "nice"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("comment: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var comments []post.Comment
	decode(t, rr, &comments)
	if len(comments) != 1 || comments[0].Content != "nice" {
		t.Fatalf("unexpected comments %+v", comments)
	}

	if rr := s.do(t, http.MethodPost, "/api/v1/posts/"+created.ID+"/comments", "carol", map[string]any{"content": ""}); rr.Code != http.StatusBadRequest {
		t.Fatalf("empty comment: expected 400, got %d", rr.Code)
	}
	if rr := s.do(t, http.MethodGet, "/api/v1/posts/nope/comments", "", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("comments on missing post: expected 404, got %d", rr.Code)
	}
}

func TestAdmin_LoginAndProtectedRoutes(t *testing.T) {
	s := newTestServer(t)

	if rr := s.do(t, http.MethodPost, "/api/v1/admin/login", "", map[string]string{"password": "wrong"}); rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad password: expected 401, got %d", rr.Code)
	}

	rr := s.do(t, http.MethodPost, "/api/v1/admin/login", "", map[string]string{"password": "letmein"})
	if rr.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var login struct {
		Token string `json:"token"`
	}
	decode(t, rr, &login)
	if login.Token == "" {
		t.Fatalf("expected a token")
	}

	notify := map[string]string{"title": "Hello", "body": "world"}
	if rr := s.do(t, http.MethodPost, "/api/v1/admin/notify", "", notify); rr.Code != http.StatusUnauthorized {
		t.Fatalf("notify without token: expected 401, got %d", rr.Code)
	}

	userToken, err := s.jwt.Generate("someone", "user", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/notify", bytes.NewBufferString(`{"title":"x"}`))
	req.Header.Set("Authorization", "Bearer "+userToken)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin notify: expected 403, got %d", rec.Code)
	}

	_ = s.subs.Save(context.Background(), push.Subscription{
		Endpoint: "https://push.example/1",
		Keys:     push.Keys{P256dh: "p", Auth: "a"},
	})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/admin/notify", bytes.NewBufferString(`{"title":"Hello"}`))
	req.Header.Set("Authorization", "Bearer "+login.Token)
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin notify: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var report push.Report
	decode(t, rec, &report)
	if report.Sent != 1 {
		t.Fatalf("expected one delivery, got %+v", report)
	}
}

func TestPush_KeyAndSubscribe(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(t, http.MethodGet, "/api/v1/push/key", "", nil)
	var key map[string]string
	decode(t, rr, &key)
	if key["publicKey"] != "BPublicKey" {
		t.Fatalf("unexpected key %v", key)
	}

	if rr := s.do(t, http.MethodPost, "/api/v1/push/subscribe", "", map[string]any{"endpoint": "https://push.example/2"}); rr.Code != http.StatusBadRequest {
		t.Fatalf("subscription without keys: expected 400, got %d", rr.Code)
	}

	sub := push.Subscription{Endpoint: "https://push.example/2", Keys: push.Keys{P256dh: "p", Auth: "a"}}
	if rr := s.do(t, http.MethodPost, "/api/v1/push/subscribe", "", sub); rr.Code != http.StatusCreated {
		t.Fatalf("subscribe: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr := s.do(t, http.MethodPost, "/api/v1/push/unsubscribe", "", map[string]string{"endpoint": sub.Endpoint}); rr.Code != http.StatusNoContent {
		t.Fatalf("unsubscribe: expected 204, got %d", rr.Code)
	}
	if list, _ := s.subs.List(context.Background()); len(list) != 0 {
		t.Fatalf("expected no subscriptions, got %d", len(list))
	}
}
