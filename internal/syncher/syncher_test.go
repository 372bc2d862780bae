package syncher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulp/pulp-manager/internal/config"
	"github.com/pulp/pulp-manager/internal/pulp"
	"github.com/pulp/pulp-manager/internal/reconciler"
	"github.com/pulp/pulp-manager/internal/retry"
	"github.com/pulp/pulp-manager/internal/store"
)

// fakeContent is an in-memory content server driving the state machine. Sync
// tasks return "running" for syncRunningPolls polls before finishing; every
// other server task completes immediately.
type fakeContent struct {
	mu sync.Mutex

	syncRunningPolls int
	syncCreated      []string
	syncFails        bool

	pubs         []pulp.Publication
	packages     []pulp.Package
	pubBodies    []map[string]any
	modifyBodies []map[string]any

	taskSeq       int
	taskRemaining map[string]int
	taskFails     map[string]bool
	taskCreated   map[string][]string
	syncTasks     map[string]bool

	inFlightSyncs int
	maxInFlight   int
}

func newFakeContent() *fakeContent {
	return &fakeContent{
		taskRemaining: map[string]int{},
		taskFails:     map[string]bool{},
		taskCreated:   map[string][]string{},
		syncTasks:     map[string]bool{},
	}
}

func (f *fakeContent) newTask(remaining int, fails bool, created []string) string {
	f.taskSeq++
	href := fmt.Sprintf("/pulp/api/v3/tasks/%d/", f.taskSeq)
	f.taskRemaining[href] = remaining
	f.taskFails[href] = fails
	f.taskCreated[href] = created
	return href
}

func (f *fakeContent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := r.URL.Path

	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/sync/"):
		f.inFlightSyncs++
		if f.inFlightSyncs > f.maxInFlight {
			f.maxInFlight = f.inFlightSyncs
		}
		href := f.newTask(f.syncRunningPolls, f.syncFails, f.syncCreated)
		f.syncTasks[href] = true
		writeJSON(w, map[string]string{"task": href})

	case r.Method == http.MethodGet && strings.HasPrefix(path, "/pulp/api/v3/tasks/"):
		remaining, ok := f.taskRemaining[path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if remaining > 0 {
			f.taskRemaining[path] = remaining - 1
			writeJSON(w, pulp.ServerTask{PulpHref: path, State: "running"})
			return
		}
		if f.syncTasks[path] {
			f.inFlightSyncs--
			f.syncTasks[path] = false
		}
		if f.taskFails[path] {
			writeJSON(w, pulp.ServerTask{
				PulpHref: path, State: pulp.TaskStateFailed,
				Error: map[string]any{"description": "sync blew up"},
			})
			return
		}
		writeJSON(w, pulp.ServerTask{
			PulpHref: path, State: pulp.TaskStateCompleted,
			CreatedResources: f.taskCreated[path],
		})

	case r.Method == http.MethodGet && strings.Contains(path, "/repositories/"):
		writeJSON(w, pulp.Repository{
			PulpHref:          path,
			LatestVersionHref: path + "versions/1/",
		})

	case r.Method == http.MethodGet && strings.Contains(path, "/remotes/"):
		dists := "bookworm"
		writeJSON(w, pulp.Remote{PulpHref: path, Distributions: &dists})

	case r.Method == http.MethodGet && strings.Contains(path, "/publications/"):
		writePage(w, f.pubs)

	case r.Method == http.MethodPost && strings.Contains(path, "/publications/"):
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.pubBodies = append(f.pubBodies, body)
		writeJSON(w, map[string]string{"task": f.newTask(0, false, nil)})

	case r.Method == http.MethodGet && strings.Contains(path, "/content/"):
		writePage(w, f.packages)

	case r.Method == http.MethodPost && strings.HasSuffix(path, "/modify/"):
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.modifyBodies = append(f.modifyBodies, body)
		writeJSON(w, map[string]string{"task": f.newTask(0, false, nil)})

	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writePage[T any](w http.ResponseWriter, results []T) {
	if results == nil {
		results = []T{}
	}
	writeJSON(w, map[string]any{"count": len(results), "next": nil, "results": results})
}

type staticProvider struct{ client *pulp.Client }

func (p staticProvider) ForServer(ctx context.Context, server *store.PulpServer) (*pulp.Client, error) {
	return p.client, nil
}

type noopRecon struct{}

func (noopRecon) Reconcile(ctx context.Context, serverName string) (*reconciler.Result, error) {
	return &reconciler.Result{}, nil
}

type fixture struct {
	db      *store.DB
	cfg     config.Config
	fake    *fakeContent
	syncher *Syncher
	server  *store.PulpServer
}

func setupSyncher(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	fake := newFakeContent()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := pulp.NewClient(pulp.ClientConfig{
		BaseURL: srv.URL,
		Retry:   retry.NewPolicy(config.RetryBackoffFixed, time.Millisecond, time.Millisecond, 1),
	})
	require.NoError(t, err)

	cfg := config.Config{
		Paging: config.PagingConfig{MaxPageSize: 100, DefaultPageSize: 25},
		Sync:   config.SyncConfig{PollInterval: time.Millisecond},
	}

	server := &store.PulpServer{Name: "pulp01.example.com"}
	require.NoError(t, store.NewPulpServerStore(db).Add(context.Background(), server))

	return &fixture{
		db:      db,
		cfg:     cfg,
		fake:    fake,
		syncher: New(db, cfg, staticProvider{client}, noopRecon{}, nil, nil, nil, nil),
		server:  server,
	}
}

// addBinding registers a repo and binds it to the fixture server with hrefs
// on the fake content server.
func (f *fixture) addBinding(t *testing.T, name, kind, feed string) *store.PulpServerRepo {
	t.Helper()
	ctx := context.Background()
	repo := &store.Repo{Name: name, RepoType: kind}
	require.NoError(t, store.NewRepoStore(f.db).Add(ctx, repo))

	plugin := kind
	if kind == "deb" {
		plugin = "deb/apt"
	} else {
		plugin = kind + "/" + kind
	}
	repoHref := fmt.Sprintf("/pulp/api/v3/repositories/%s/%s/", plugin, name)
	remoteHref := fmt.Sprintf("/pulp/api/v3/remotes/%s/%s/", plugin, name)
	sr := &store.PulpServerRepo{
		PulpServerID: f.server.ID,
		RepoID:       repo.ID,
		RepoHref:     &repoHref,
		RemoteHref:   &remoteHref,
	}
	if feed != "" {
		sr.RemoteFeed = &feed
	}
	require.NoError(t, store.NewPulpServerRepoStore(f.db).Add(ctx, sr))
	sr.RepoName = name
	sr.RepoType = kind
	return sr
}

func (f *fixture) stageNames(t *testing.T, taskID int64) []string {
	t.Helper()
	stages, err := store.NewTaskStore(f.db, f.cfg.Paging).Stages(context.Background(), taskID)
	require.NoError(t, err)
	names := make([]string, len(stages))
	for i, st := range stages {
		names[i] = st.Name
	}
	return names
}

func (f *fixture) childTasks(t *testing.T) []*store.Task {
	t.Helper()
	tasks, err := store.NewTaskStore(f.db, f.cfg.Paging).Filter(context.Background(),
		map[string]string{"task_type": "repo_sync"})
	require.NoError(t, err)
	return tasks
}

func TestSyncReposSkipsPublishWhenNoChanges(t *testing.T) {
	f := setupSyncher(t)
	f.addBinding(t, "ext-epel-9", "rpm", "https://mirror.example.com/epel/9/")
	// Sync task completes with no created resources: nothing to publish.
	f.fake.syncCreated = nil

	result, err := f.syncher.SyncRepos(context.Background(), SyncParams{ServerName: f.server.Name})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Selected)
	assert.Equal(t, 1, result.Completed)
	assert.Equal(t, 0, result.Failed)

	tasks := f.childTasks(t)
	require.Len(t, tasks, 1)
	assert.Equal(t, store.TaskStateCompleted, tasks[0].State)
	assert.NotNil(t, tasks[0].DateFinished)
	assert.Equal(t, []string{"sync repo"}, f.stageNames(t, tasks[0].ID))
	assert.Empty(t, f.fake.pubBodies)
}

func TestSyncReposPublishesNewVersion(t *testing.T) {
	f := setupSyncher(t)
	f.addBinding(t, "ext-epel-9", "rpm", "https://mirror.example.com/epel/9/")
	f.fake.syncCreated = []string{"/pulp/api/v3/repositories/rpm/rpm/ext-epel-9/versions/1/"}

	result, err := f.syncher.SyncRepos(context.Background(), SyncParams{ServerName: f.server.Name})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Completed)

	tasks := f.childTasks(t)
	require.Len(t, tasks, 1)
	assert.Equal(t, []string{"sync repo", "publish repo"}, f.stageNames(t, tasks[0].ID))

	require.Len(t, f.fake.pubBodies, 1)
	assert.Equal(t, "sha256", f.fake.pubBodies[0]["metadata_checksum_type"])
	assert.Equal(t, "sha256", f.fake.pubBodies[0]["package_checksum_type"])
}

func TestSyncReposSkipsPublishWhenPublicationExists(t *testing.T) {
	f := setupSyncher(t)
	f.addBinding(t, "ext-epel-9", "rpm", "https://mirror.example.com/epel/9/")
	f.fake.syncCreated = []string{"/pulp/api/v3/repositories/rpm/rpm/ext-epel-9/versions/1/"}
	f.fake.pubs = []pulp.Publication{{PulpHref: "/pulp/api/v3/publications/rpm/rpm/existing/"}}

	result, err := f.syncher.SyncRepos(context.Background(), SyncParams{ServerName: f.server.Name})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Completed)

	tasks := f.childTasks(t)
	require.Len(t, tasks, 1)
	assert.Equal(t, []string{"sync repo"}, f.stageNames(t, tasks[0].ID))
	assert.Empty(t, f.fake.pubBodies)
}

func TestSyncReposRemovesBannedPackages(t *testing.T) {
	f := setupSyncher(t)
	f.cfg.Pulp.BannedPackageRegex = "^banned-"
	f.syncher.cfg = f.cfg
	f.addBinding(t, "ext-epel-9", "rpm", "https://mirror.example.com/epel/9/")
	f.fake.syncCreated = []string{"/pulp/api/v3/repositories/rpm/rpm/ext-epel-9/versions/1/"}
	f.fake.packages = []pulp.Package{
		{PulpHref: "/pulp/api/v3/content/rpm/packages/a/", Name: "banned-tool"},
		{PulpHref: "/pulp/api/v3/content/rpm/packages/b/", Name: "vim"},
	}

	result, err := f.syncher.SyncRepos(context.Background(), SyncParams{ServerName: f.server.Name})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Completed)

	tasks := f.childTasks(t)
	require.Len(t, tasks, 1)
	assert.Equal(t, []string{"sync repo", "remove banned packages", "publish repo"},
		f.stageNames(t, tasks[0].ID))

	require.Len(t, f.fake.modifyBodies, 1)
	removed := f.fake.modifyBodies[0]["remove_content_units"].([]any)
	require.Len(t, removed, 1)
	assert.Equal(t, "/pulp/api/v3/content/rpm/packages/a/", removed[0])
}

func TestSyncReposBannedGateSkipsInternalFeeds(t *testing.T) {
	f := setupSyncher(t)
	f.cfg.Pulp.BannedPackageRegex = "^banned-"
	f.cfg.Pulp.InternalDomains = "internal.example.com"
	f.syncher.cfg = f.cfg
	f.addBinding(t, "int-tools", "rpm", "https://mirror.internal.example.com/tools/")
	f.fake.syncCreated = []string{"/pulp/api/v3/repositories/rpm/rpm/int-tools/versions/1/"}
	f.fake.packages = []pulp.Package{
		{PulpHref: "/pulp/api/v3/content/rpm/packages/a/", Name: "banned-tool"},
	}

	result, err := f.syncher.SyncRepos(context.Background(), SyncParams{ServerName: f.server.Name})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Completed)
	assert.Empty(t, f.fake.modifyBodies)

	tasks := f.childTasks(t)
	require.Len(t, tasks, 1)
	assert.Equal(t, []string{"sync repo", "publish repo"}, f.stageNames(t, tasks[0].ID))
}

func TestSyncReposFanOutRespectsCap(t *testing.T) {
	f := setupSyncher(t)
	for i := 0; i < 6; i++ {
		f.addBinding(t, fmt.Sprintf("ext-repo-%d", i), "rpm",
			fmt.Sprintf("https://mirror.example.com/repo%d/", i))
	}
	// Each sync task stays running for a couple of polls so syncs overlap.
	f.fake.syncRunningPolls = 2

	result, err := f.syncher.SyncRepos(context.Background(), SyncParams{
		ServerName:         f.server.Name,
		MaxConcurrentSyncs: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 6, result.Selected)
	assert.Equal(t, 6, result.Completed)
	assert.LessOrEqual(t, f.fake.maxInFlight, 2)
}

func TestSyncReposFilters(t *testing.T) {
	f := setupSyncher(t)
	f.addBinding(t, "ext-alpha", "rpm", "https://mirror.example.com/alpha/")
	f.addBinding(t, "ext-beta", "rpm", "https://mirror.example.com/beta/")
	f.addBinding(t, "no-feed", "rpm", "")

	result, err := f.syncher.SyncRepos(context.Background(), SyncParams{
		ServerName:   f.server.Name,
		RegexInclude: "^ext-",
		RegexExclude: "beta",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Selected)

	tasks := f.childTasks(t)
	require.Len(t, tasks, 1)
	assert.Equal(t, "sync ext-alpha on pulp01.example.com", tasks[0].Name)
}

func TestSyncReposFailureSetsAmberHealth(t *testing.T) {
	f := setupSyncher(t)
	sr := f.addBinding(t, "ext-epel-9", "rpm", "https://mirror.example.com/epel/9/")
	f.fake.syncFails = true

	result, err := f.syncher.SyncRepos(context.Background(), SyncParams{ServerName: f.server.Name})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	tasks := f.childTasks(t)
	require.Len(t, tasks, 1)
	assert.Equal(t, store.TaskStateFailed, tasks[0].State)
	require.NotNil(t, tasks[0].Error)
	assert.Contains(t, tasks[0].Error.Detail, "sync blew up")

	ctx := context.Background()
	got, err := store.NewPulpServerRepoStore(f.db).Get(ctx, sr.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RepoSyncHealth)
	assert.Equal(t, store.HealthAmber, *got.RepoSyncHealth)

	server, err := store.NewPulpServerStore(f.db).GetByName(ctx, f.server.Name)
	require.NoError(t, err)
	require.NotNil(t, server.RepoSyncHealthRollup)
	assert.Equal(t, store.HealthAmber, *server.RepoSyncHealthRollup)
}

func TestSyncReposParentCancellation(t *testing.T) {
	f := setupSyncher(t)
	f.addBinding(t, "ext-alpha", "rpm", "https://mirror.example.com/alpha/")
	f.addBinding(t, "ext-beta", "rpm", "https://mirror.example.com/beta/")

	ctx := context.Background()
	now := time.Now().UTC()
	parent := &store.Task{
		Name:         "sync repos on pulp01.example.com",
		TaskType:     store.TaskTypeRepoGroupSync,
		State:        store.TaskStateCanceled,
		DateFinished: &now,
	}
	require.NoError(t, store.NewTaskStore(f.db, f.cfg.Paging).Add(ctx, parent))

	result, err := f.syncher.SyncRepos(ctx, SyncParams{
		ServerName:   f.server.Name,
		ParentTaskID: parent.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Canceled)
	assert.Equal(t, 0, result.Completed)

	for _, task := range f.childTasks(t) {
		assert.Equal(t, store.TaskStateCanceled, task.State)
	}
}

func TestComputeHealth(t *testing.T) {
	failed := func() *store.Task { return &store.Task{State: store.TaskStateFailed} }
	completed := func() *store.Task { return &store.Task{State: store.TaskStateCompleted} }
	canceled := func() *store.Task { return &store.Task{State: store.TaskStateCanceled} }

	tests := []struct {
		name   string
		window []*store.Task
		want   store.HealthStatus
	}{
		{"empty window", nil, store.HealthGreen},
		{"all completed", []*store.Task{completed(), completed()}, store.HealthGreen},
		{"newest completed after failures", []*store.Task{completed(), failed(), failed(), failed()}, store.HealthGreen},
		{"newest failed", []*store.Task{failed(), completed(), completed()}, store.HealthAmber},
		{"four failures is red", []*store.Task{failed(), failed(), failed(), failed(), completed()}, store.HealthRed},
		{"red even when newest completed", []*store.Task{completed(), failed(), failed(), failed(), failed()}, store.HealthRed},
		{"canceled carries no signal", []*store.Task{canceled(), completed()}, store.HealthGreen},
		{"running carries no signal", []*store.Task{{State: store.TaskStateRunning}, failed()}, store.HealthAmber},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeHealth(tt.window))
		})
	}
}
