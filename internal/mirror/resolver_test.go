package mirror

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mirrorwatch/internal/feed"
	logx "mirrorwatch/pkg/logx"
)

type fakeSource struct {
	mu    sync.Mutex
	resp  map[string][]feed.Item
	errs  map[string]error
	calls []string
}

func (f *fakeSource) Fetch(_ context.Context, mirror, url string) ([]feed.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if err := f.errs[mirror]; err != nil {
		return nil, err
	}
	return f.resp[mirror], nil
}

func TestResolveFailover(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		errs: map[string]error{"xcancel.com": errors.New("connection refused")},
		resp: map[string][]feed.Item{
			"nitter.net": {
				{ID: "https://nitter.net/alice/status/2#m", Link: "https://nitter.net/alice/status/2#m"},
				{ID: "https://nitter.net/alice/status/1#m", Link: "https://nitter.net/alice/status/1#m"},
			},
			"nitter.privacydev.net": {{ID: "never", Link: "never"}},
		},
	}
	r := New(src, Options{}, logx.Nop())

	res, err := r.ResolveLatest(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "nitter.net", res.Mirror)
	assert.Equal(t, "https://nitter.net/alice/status/2#m", res.Item.ID)
	assert.Equal(t, "https://x.com/alice/status/2#m", res.Item.Link)
	require.Len(t, res.Attempts, 2)
	assert.Error(t, res.Attempts[0].Err)
	assert.NoError(t, res.Attempts[1].Err)
	assert.Equal(t, []string{"https://xcancel.com/alice/rss", "https://nitter.net/alice/rss"}, src.calls)
}

func TestResolveEmptyFeedIsFailure(t *testing.T) {
	t.Parallel()

	src := &fakeSource{resp: map[string][]feed.Item{
		"a.example": nil,
		"b.example": {{ID: "7", Link: "http://b.example/u/status/7"}},
	}}
	r := New(src, Options{Mirrors: []string{"a.example", "b.example"}, CanonicalHost: "x.com"}, logx.Nop())

	res, err := r.ResolveLatest(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, "b.example", res.Mirror)
	assert.Equal(t, "https://x.com/u/status/7", res.Item.Link)
	assert.ErrorIs(t, res.Attempts[0].Err, feed.ErrEmpty)
}

func TestResolveAllFail(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	src := &fakeSource{errs: map[string]error{"a": boom, "b": &feed.StatusError{URL: "u", Status: 503}}}
	r := New(src, Options{Mirrors: []string{"a", "b"}}, logx.Nop())

	res, err := r.ResolveLatest(context.Background(), "bob")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoMirrorAvailable)
	assert.ErrorIs(t, err, boom)
	var se *feed.StatusError
	assert.ErrorAs(t, err, &se)
	assert.Len(t, res.Attempts, 2)
}

func TestResolveStopsOnCancel(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	r := New(src, Options{Mirrors: []string{"a", "b"}}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.ResolveLatest(ctx, "bob")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, src.calls)
}

func TestRewriteLocator(t *testing.T) {
	t.Parallel()

	tests := []struct {
		link, mirror, want string
	}{
		{"https://nitter.net/alice/status/1#m", "nitter.net", "https://x.com/alice/status/1#m"},
		{"http://NITTER.net/alice/status/1", "nitter.net", "https://x.com/alice/status/1"},
		{"https://xcancel.com:443/a/status/1", "xcancel.com", "https://x.com/a/status/1"},
		{"see xcancel.com/a/status/1", "xcancel.com", "see x.com/a/status/1"},
		{"https://other.host/a/status/1", "nitter.net", "https://other.host/a/status/1"},
		{"", "nitter.net", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RewriteLocator(tt.link, tt.mirror, "x.com"), tt.link)
	}
}

func TestFeedURL(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "https://nitter.net/alice_1/rss", FeedURL(DefaultURLTemplate, "nitter.net", "alice_1"))
	assert.Equal(t, "http://m/rss?u=a%2Fb", FeedURL("http://m/rss?u={id}", "m", "a/b"))
}
