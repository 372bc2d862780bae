package reconciler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulp/pulp-manager/internal/config"
	"github.com/pulp/pulp-manager/internal/pulp"
	"github.com/pulp/pulp-manager/internal/retry"
	"github.com/pulp/pulp-manager/internal/store"
)

// fakeContentServer serves list endpoints from in-memory slices so tests can
// mutate remote state between reconcile runs.
type fakeContentServer struct {
	repos   []pulp.Repository
	remotes []pulp.Remote
	dists   []pulp.Distribution
}

func (f *fakeContentServer) handler() http.Handler {
	writeList := func(w http.ResponseWriter, results any) {
		_ = json.NewEncoder(w).Encode(map[string]any{"count": 0, "next": nil, "results": results})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/pulp/api/v3/repositories/rpm/"):
			writeList(w, f.repos)
		case strings.HasPrefix(r.URL.Path, "/pulp/api/v3/remotes/rpm/"):
			writeList(w, f.remotes)
		case strings.HasPrefix(r.URL.Path, "/pulp/api/v3/distributions/rpm/"):
			writeList(w, f.dists)
		default:
			writeList(w, []struct{}{})
		}
	})
}

type staticProvider struct {
	baseURL string
}

func (p staticProvider) ForServer(ctx context.Context, server *store.PulpServer) (*pulp.Client, error) {
	return pulp.NewClient(pulp.ClientConfig{
		BaseURL: p.baseURL,
		Retry:   retry.NewPolicy("fixed", time.Millisecond, time.Millisecond, 0),
	})
}

func strp(s string) *string { return &s }

func setup(t *testing.T, fake *fakeContentServer) (*Reconciler, *store.DB, *store.PulpServer) {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	db, err := store.Open(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	server := &store.PulpServer{Name: "pulp01.example.com"}
	require.NoError(t, store.NewPulpServerStore(db).Add(context.Background(), server))

	return New(db, staticProvider{baseURL: srv.URL}, nil), db, server
}

func TestReconcileAddsAndReachesFixpoint(t *testing.T) {
	fake := &fakeContentServer{
		repos: []pulp.Repository{
			{
				PulpHref: "/pulp/api/v3/repositories/rpm/rpm/1/",
				Name:     "ext-epel",
				Remote:   strp("/pulp/api/v3/remotes/rpm/rpm/1/"),
			},
			{
				PulpHref: "/pulp/api/v3/repositories/rpm/rpm/2/",
				Name:     "ext-docker",
			},
		},
		remotes: []pulp.Remote{
			{PulpHref: "/pulp/api/v3/remotes/rpm/rpm/1/", Name: "ext-epel", URL: "https://mirror.example.com/epel"},
			{PulpHref: "/pulp/api/v3/remotes/rpm/rpm/2/", Name: "ext-docker", URL: "https://mirror.example.com/docker"},
		},
		dists: []pulp.Distribution{
			{
				PulpHref:   "/pulp/api/v3/distributions/rpm/rpm/1/",
				Name:       "ext-epel",
				BasePath:   "ext/epel",
				Repository: strp("/pulp/api/v3/repositories/rpm/rpm/1/"),
			},
		},
	}
	r, db, server := setup(t, fake)
	ctx := context.Background()

	result, err := r.Reconcile(ctx, server.Name)
	require.NoError(t, err)
	assert.Equal(t, &Result{Added: 2}, result)

	bindings, err := store.NewPulpServerRepoStore(db).ListByServer(ctx, server.ID)
	require.NoError(t, err)
	require.Len(t, bindings, 2)

	byName := map[string]*store.PulpServerRepo{}
	for _, sr := range bindings {
		byName[sr.RepoName] = sr
	}
	epel := byName["ext-epel"]
	require.NotNil(t, epel)
	assert.Equal(t, "rpm", epel.RepoType)
	require.NotNil(t, epel.RemoteFeed)
	assert.Equal(t, "https://mirror.example.com/epel", *epel.RemoteFeed)
	require.NotNil(t, epel.DistributionHref)

	// docker has no remote href on the repo; the remote resolves by name.
	docker := byName["ext-docker"]
	require.NotNil(t, docker)
	require.NotNil(t, docker.RemoteHref)
	assert.Equal(t, "/pulp/api/v3/remotes/rpm/rpm/2/", *docker.RemoteHref)
	assert.Nil(t, docker.DistributionHref)

	// Second run against unchanged remote state writes nothing.
	result, err = r.Reconcile(ctx, server.Name)
	require.NoError(t, err)
	assert.Equal(t, &Result{}, result)
}

func TestReconcileUpdatesOnlyChangedFields(t *testing.T) {
	fake := &fakeContentServer{
		repos: []pulp.Repository{
			{PulpHref: "/pulp/api/v3/repositories/rpm/rpm/1/", Name: "ext-epel"},
		},
		remotes: []pulp.Remote{
			{PulpHref: "/pulp/api/v3/remotes/rpm/rpm/1/", Name: "ext-epel", URL: "https://old.example.com/epel"},
		},
	}
	r, _, server := setup(t, fake)
	ctx := context.Background()

	_, err := r.Reconcile(ctx, server.Name)
	require.NoError(t, err)

	fake.remotes[0].URL = "https://new.example.com/epel"
	result, err := r.Reconcile(ctx, server.Name)
	require.NoError(t, err)
	assert.Equal(t, &Result{Updated: 1}, result)
}

func TestReconcileDeletesStaleBindings(t *testing.T) {
	fake := &fakeContentServer{
		repos: []pulp.Repository{
			{PulpHref: "/pulp/api/v3/repositories/rpm/rpm/1/", Name: "ext-epel"},
			{PulpHref: "/pulp/api/v3/repositories/rpm/rpm/2/", Name: "ext-docker"},
		},
	}
	r, db, server := setup(t, fake)
	ctx := context.Background()

	_, err := r.Reconcile(ctx, server.Name)
	require.NoError(t, err)

	fake.repos = fake.repos[:1]
	result, err := r.Reconcile(ctx, server.Name)
	require.NoError(t, err)
	assert.Equal(t, &Result{Deleted: 1}, result)

	bindings, err := store.NewPulpServerRepoStore(db).ListByServer(ctx, server.ID)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.Equal(t, "ext-epel", bindings[0].RepoName)

	// The fleet-wide Repo row survives the binding delete.
	_, err = store.NewRepoStore(db).GetByName(ctx, "ext-docker")
	assert.NoError(t, err)
}

func TestReconcileUnknownServer(t *testing.T) {
	r, _, _ := setup(t, &fakeContentServer{})
	_, err := r.Reconcile(context.Background(), "nope.example.com")
	require.Error(t, err)
}
