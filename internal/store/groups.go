package store

import (
	"context"
	"database/sql"

	"github.com/pulp/pulp-manager/internal/errors"
)

// PulpServerRepoGroupStore reads the scheduling configuration for servers.
// Groups are configuration data; the core never mutates them.
type PulpServerRepoGroupStore struct {
	q Querier
}

// NewPulpServerRepoGroupStore binds a group store to a Querier.
func NewPulpServerRepoGroupStore(q Querier) *PulpServerRepoGroupStore {
	return &PulpServerRepoGroupStore{q: q}
}

const groupSelect = `SELECT id, pulp_server_id, name, schedule, max_concurrent_syncs,
	max_runtime_seconds, regex_include, regex_exclude, pulp_master_id
	FROM pulp_server_repo_groups`

// Add inserts a group (used by provisioning and tests).
func (s *PulpServerRepoGroupStore) Add(ctx context.Context, g *PulpServerRepoGroup) error {
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO pulp_server_repo_groups (pulp_server_id, name, schedule,
			max_concurrent_syncs, max_runtime_seconds, regex_include, regex_exclude, pulp_master_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		g.PulpServerID, g.Name, g.Schedule, g.MaxConcurrentSyncs, g.MaxRuntimeSeconds,
		nullableString(g.RegexInclude), nullableString(g.RegexExclude), nullableInt64(g.PulpMasterID))
	if err != nil {
		return errors.IntegrityFailure("insert repo group", err)
	}
	g.ID, err = res.LastInsertId()
	if err != nil {
		return errors.StorageError("insert repo group", err)
	}
	return nil
}

// ListByServer returns the groups configured for a server.
func (s *PulpServerRepoGroupStore) ListByServer(ctx context.Context, serverID int64) ([]*PulpServerRepoGroup, error) {
	rows, err := s.q.QueryContext(ctx, groupSelect+" WHERE pulp_server_id = ? ORDER BY id", serverID)
	if err != nil {
		return nil, errors.StorageError("list repo groups", err)
	}
	defer rows.Close()

	var groups []*PulpServerRepoGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, errors.StorageError("scan repo group", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func scanGroup(row rowScanner) (*PulpServerRepoGroup, error) {
	var (
		g                  PulpServerRepoGroup
		regexInc, regexExc sql.NullString
		masterID           sql.NullInt64
	)
	if err := row.Scan(&g.ID, &g.PulpServerID, &g.Name, &g.Schedule, &g.MaxConcurrentSyncs,
		&g.MaxRuntimeSeconds, &regexInc, &regexExc, &masterID); err != nil {
		return nil, err
	}
	g.RegexInclude = stringPtr(regexInc)
	g.RegexExclude = stringPtr(regexExc)
	g.PulpMasterID = int64Ptr(masterID)
	return &g, nil
}
