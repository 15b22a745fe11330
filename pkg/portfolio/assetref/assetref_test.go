package assetref_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-portfolio/pkg/portfolio/assetref"
)

func TestNewResolverValidation(t *testing.T) {
	_, err := assetref.NewResolver("cdn.example.com")
	assert.Error(t, err)

	r, err := assetref.NewResolver("https://cdn.example.com/media/")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/media", r.BaseURL())
}

func TestResolverRoundTrip(t *testing.T) {
	r, err := assetref.NewResolver("https://cdn.example.com/media")
	require.NoError(t, err)

	url := r.PublicURL("posts/abc/img.png")
	assert.Equal(t, "https://cdn.example.com/media/posts/abc/img.png", url)

	key, ok := r.ObjectKey(url + "?w=640#top")
	assert.True(t, ok)
	assert.Equal(t, "posts/abc/img.png", key)
}

func TestResolverRejectsForeignURLs(t *testing.T) {
	r, err := assetref.NewResolver("https://cdn.example.com/media")
	require.NoError(t, err)

	for _, u := range []string{
		"https://other.example.com/media/posts/abc/img.png",
		"http://cdn.example.com/media/posts/abc/img.png",
		"https://cdn.example.com/elsewhere/img.png",
		"https://cdn.example.com/media/",
		"not a url at all",
	} {
		_, ok := r.ObjectKey(u)
		assert.False(t, ok, u)
	}
}

func TestScan(t *testing.T) {
	r, err := assetref.NewResolver("https://cdn.example.com")
	require.NoError(t, err)

	body := `[
	  {"type":"image","props":{"url":"https://cdn.example.com/posts/1/b.png"}},
	  {"type":"paragraph","content":[{"type":"text","text":"see https://cdn.example.com/posts/1/a.png here"}]},
	  {"type":"image","props":{"url":"https://cdn.example.com/posts/2/other-item.png"}},
	  {"type":"image","props":{"url":"https://cdn.example.com/posts/1/b.png"}},
	  {"type":"image","props":{"url":"https://elsewhere.com/posts/1/c.png"}}
	]`

	keys, err := r.Scan(body, "posts/1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"posts/1/a.png", "posts/1/b.png"}, keys)
}

func TestScanMalformed(t *testing.T) {
	r, err := assetref.NewResolver("https://cdn.example.com")
	require.NoError(t, err)

	_, err = r.Scan("{not json", "posts/1/")
	assert.Error(t, err)
}
