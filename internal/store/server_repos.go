package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pulp/pulp-manager/internal/errors"
)

// serverRepoColumns declares the ServerRepo filter vocabulary. Repo name and
// kind live on the joined repos table and are only reachable through the
// joined variants.
var serverRepoColumns = Columns{
	Direct: map[string]ColumnSpec{
		"id":                    {SQL: "pulp_server_repos.id"},
		"pulp_server_id":        {SQL: "pulp_server_repos.pulp_server_id"},
		"repo_id":               {SQL: "pulp_server_repos.repo_id"},
		"repo_href":             {SQL: "pulp_server_repos.repo_href"},
		"remote_href":           {SQL: "pulp_server_repos.remote_href"},
		"distribution_href":     {SQL: "pulp_server_repos.distribution_href"},
		"remote_feed":           {SQL: "pulp_server_repos.remote_feed"},
		"repo_sync_health":      {SQL: "pulp_server_repos.repo_sync_health", Enum: enumHealth},
		"repo_sync_health_date": {SQL: "pulp_server_repos.repo_sync_health_date"},
		"date_created":          {SQL: "pulp_server_repos.date_created"},
	},
	Joined: map[string]ColumnSpec{
		"name":      {SQL: "repos.name"},
		"repo_type": {SQL: "repos.repo_type"},
	},
}

const serverRepoSelect = `SELECT pulp_server_repos.id, pulp_server_repos.pulp_server_id,
	pulp_server_repos.repo_id, pulp_server_repos.repo_href, pulp_server_repos.remote_href,
	pulp_server_repos.distribution_href, pulp_server_repos.remote_feed,
	pulp_server_repos.repo_sync_health, pulp_server_repos.repo_sync_health_date,
	pulp_server_repos.date_created, repos.name, repos.repo_type
	FROM pulp_server_repos JOIN repos ON repos.id = pulp_server_repos.repo_id`

// serverRepoUpdatable whitelists the columns UpdateFields may write.
var serverRepoUpdatable = map[string]struct{}{
	"repo_href":             {},
	"remote_href":           {},
	"distribution_href":     {},
	"remote_feed":           {},
	"repo_sync_health":      {},
	"repo_sync_health_date": {},
}

// PulpServerRepoStore persists the Repo-to-PulpServer bindings.
type PulpServerRepoStore struct {
	q Querier
}

// NewPulpServerRepoStore binds a PulpServerRepoStore to a Querier.
func NewPulpServerRepoStore(q Querier) *PulpServerRepoStore {
	return &PulpServerRepoStore{q: q}
}

// Add inserts a binding and sets its ID.
func (s *PulpServerRepoStore) Add(ctx context.Context, sr *PulpServerRepo) error {
	if sr.DateCreated.IsZero() {
		sr.DateCreated = time.Now().UTC()
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO pulp_server_repos (pulp_server_id, repo_id, repo_href, remote_href,
			distribution_href, remote_feed, repo_sync_health, repo_sync_health_date, date_created)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sr.PulpServerID, sr.RepoID, nullableString(sr.RepoHref), nullableString(sr.RemoteHref),
		nullableString(sr.DistributionHref), nullableString(sr.RemoteFeed),
		nullableHealth(sr.RepoSyncHealth), fmtTimePtr(sr.RepoSyncHealthDate), fmtTime(sr.DateCreated))
	if err != nil {
		return errors.IntegrityFailure("insert pulp server repo", err)
	}
	sr.ID, err = res.LastInsertId()
	if err != nil {
		return errors.StorageError("insert pulp server repo", err)
	}
	return nil
}

// BulkAdd inserts bindings and sets their IDs, in input order.
func (s *PulpServerRepoStore) BulkAdd(ctx context.Context, bindings []*PulpServerRepo) error {
	for _, sr := range bindings {
		if err := s.Add(ctx, sr); err != nil {
			return err
		}
	}
	return nil
}

// UpdateFields writes only the given whitelisted columns of a binding.
func (s *PulpServerRepoStore) UpdateFields(ctx context.Context, id int64, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	sets := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields)+1)
	for col, val := range fields {
		if _, ok := serverRepoUpdatable[col]; !ok {
			return errors.InvalidArgument("column is not updatable").WithContext("column", col)
		}
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}
	args = append(args, id)
	_, err := s.q.ExecContext(ctx,
		fmt.Sprintf("UPDATE pulp_server_repos SET %s WHERE id = ?", strings.Join(sets, ", ")), args...)
	if err != nil {
		return errors.StorageError("update pulp server repo", err)
	}
	return nil
}

// BulkUpdate applies UpdateFields per entry; each map must carry an "id" key.
func (s *PulpServerRepoStore) BulkUpdate(ctx context.Context, updates []map[string]any) error {
	for _, fields := range updates {
		id, ok := fields["id"].(int64)
		if !ok {
			return errors.InvalidArgument("bulk update entry missing id")
		}
		cols := make(map[string]any, len(fields)-1)
		for k, v := range fields {
			if k != "id" {
				cols[k] = v
			}
		}
		if err := s.UpdateFields(ctx, id, cols); err != nil {
			return err
		}
	}
	return nil
}

// UpdateHealth writes a binding's sync health and timestamp.
func (s *PulpServerRepoStore) UpdateHealth(ctx context.Context, id int64, health HealthStatus, at time.Time) error {
	return s.UpdateFields(ctx, id, map[string]any{
		"repo_sync_health":      int(health),
		"repo_sync_health_date": fmtTime(at),
	})
}

// Delete removes a binding.
func (s *PulpServerRepoStore) Delete(ctx context.Context, id int64) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM pulp_server_repos WHERE id = ?`, id); err != nil {
		return errors.StorageError("delete pulp server repo", err)
	}
	return nil
}

// Get fetches a binding (with its joined repo name/kind) by id.
func (s *PulpServerRepoStore) Get(ctx context.Context, id int64) (*PulpServerRepo, error) {
	row := s.q.QueryRowContext(ctx, serverRepoSelect+" WHERE pulp_server_repos.id = ?", id)
	sr, err := scanServerRepo(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("pulp server repo", itoa(id))
	}
	if err != nil {
		return nil, errors.StorageError("get pulp server repo", err)
	}
	return sr, nil
}

// ListByServer returns all bindings of a server, with repo name/kind joined.
func (s *PulpServerRepoStore) ListByServer(ctx context.Context, serverID int64) ([]*PulpServerRepo, error) {
	rows, err := s.q.QueryContext(ctx,
		serverRepoSelect+" WHERE pulp_server_repos.pulp_server_id = ? ORDER BY pulp_server_repos.id", serverID)
	if err != nil {
		return nil, errors.StorageError("list pulp server repos", err)
	}
	defer rows.Close()
	return scanServerRepos(rows)
}

// FilterJoined returns bindings matching the filter parameters; predicates
// may reference the joined repo columns (name, repo_type).
func (s *PulpServerRepoStore) FilterJoined(ctx context.Context, params map[string]string) ([]*PulpServerRepo, error) {
	query, err := ParseQuery(params, serverRepoColumns, true)
	if err != nil {
		return nil, err
	}
	where, args, err := query.whereClause()
	if err != nil {
		return nil, err
	}
	rows, err := s.q.QueryContext(ctx, serverRepoSelect+where+query.orderClause("pulp_server_repos.id"), args...)
	if err != nil {
		return nil, errors.StorageError("filter pulp server repos", err)
	}
	defer rows.Close()
	return scanServerRepos(rows)
}

func scanServerRepos(rows *sql.Rows) ([]*PulpServerRepo, error) {
	var out []*PulpServerRepo
	for rows.Next() {
		sr, err := scanServerRepo(rows)
		if err != nil {
			return nil, errors.StorageError("scan pulp server repo", err)
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

func scanServerRepo(row rowScanner) (*PulpServerRepo, error) {
	var (
		sr                   PulpServerRepo
		repoHref, remoteHref sql.NullString
		distHref, remoteFeed sql.NullString
		health               sql.NullInt64
		healthDate           sql.NullString
		created              string
	)
	if err := row.Scan(&sr.ID, &sr.PulpServerID, &sr.RepoID, &repoHref, &remoteHref,
		&distHref, &remoteFeed, &health, &healthDate, &created, &sr.RepoName, &sr.RepoType); err != nil {
		return nil, err
	}
	sr.RepoHref = stringPtr(repoHref)
	sr.RemoteHref = stringPtr(remoteHref)
	sr.DistributionHref = stringPtr(distHref)
	sr.RemoteFeed = stringPtr(remoteFeed)
	sr.RepoSyncHealth = healthPtr(health)

	var err error
	if sr.RepoSyncHealthDate, err = parseTimePtr(healthDate); err != nil {
		return nil, err
	}
	if sr.DateCreated, err = parseTime(created); err != nil {
		return nil, err
	}
	return &sr, nil
}
