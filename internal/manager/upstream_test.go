package manager

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulp/pulp-manager/internal/config"
)

func TestScrapeDebDists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pulp/content/deb/debian/dists/" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`<html><body><pre>
<a href="../">../</a>
<a href="bookworm/">bookworm/</a>
<a href="bookworm-updates/">bookworm-updates/</a>
<a href="https://elsewhere.example.com/">absolute</a>
</pre></body></html>`))
	}))
	t.Cleanup(srv.Close)

	m := New(nil, config.Config{}, nil, nil, nil)

	dists, err := m.scrapeDebDists(context.Background(), srv.URL+"/pulp/content/deb/debian/")
	require.NoError(t, err)
	assert.Equal(t, "bookworm bookworm-updates", dists)
}

func TestScrapeDebDistsFlatFeed(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	m := New(nil, config.Config{}, nil, nil, nil)

	dists, err := m.scrapeDebDists(context.Background(), srv.URL+"/pulp/content/deb/flat/")
	require.NoError(t, err)
	assert.Equal(t, "/", dists)
}

func TestBasePrefix(t *testing.T) {
	assert.Equal(t, "deb/external", basePrefix("deb/external/ext-debian", "ext-debian"))
	assert.Equal(t, "", basePrefix("ext-debian", "ext-debian"))
	assert.Equal(t, "deb/external", basePrefix("/deb/external/", "other"))
}
