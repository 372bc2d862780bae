package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pulp/pulp-manager/internal/errors"
)

var pulpServerColumns = Columns{
	Direct: map[string]ColumnSpec{
		"id":                           {SQL: "pulp_servers.id"},
		"name":                         {SQL: "pulp_servers.name"},
		"username":                     {SQL: "pulp_servers.username"},
		"repo_sync_health_rollup":      {SQL: "pulp_servers.repo_sync_health_rollup", Enum: enumHealth},
		"repo_sync_health_rollup_date": {SQL: "pulp_servers.repo_sync_health_rollup_date"},
		"date_created":                 {SQL: "pulp_servers.date_created"},
	},
}

const pulpServerSelect = `SELECT id, name, username, vault_service_account_mount,
	registration_schedule, registration_regex_include, registration_regex_exclude,
	repo_sync_health_rollup, repo_sync_health_rollup_date, date_created
	FROM pulp_servers`

// PulpServerStore persists the managed content servers.
type PulpServerStore struct {
	q Querier
}

// NewPulpServerStore binds a PulpServerStore to a Querier.
func NewPulpServerStore(q Querier) *PulpServerStore {
	return &PulpServerStore{q: q}
}

// Add inserts a PulpServer and sets its ID.
func (s *PulpServerStore) Add(ctx context.Context, server *PulpServer) error {
	if server.DateCreated.IsZero() {
		server.DateCreated = time.Now().UTC()
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO pulp_servers (name, username, vault_service_account_mount,
			registration_schedule, registration_regex_include, registration_regex_exclude,
			repo_sync_health_rollup, repo_sync_health_rollup_date, date_created)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		server.Name, server.Username, server.VaultServiceAccountMount,
		nullableString(server.RegistrationSchedule),
		nullableString(server.RegistrationRegexInclude),
		nullableString(server.RegistrationRegexExclude),
		nullableHealth(server.RepoSyncHealthRollup),
		fmtTimePtr(server.RepoSyncHealthRollupDate),
		fmtTime(server.DateCreated))
	if err != nil {
		return errors.IntegrityFailure("insert pulp server", err)
	}
	server.ID, err = res.LastInsertId()
	if err != nil {
		return errors.StorageError("insert pulp server", err)
	}
	return nil
}

// Get fetches a PulpServer by id.
func (s *PulpServerStore) Get(ctx context.Context, id int64) (*PulpServer, error) {
	row := s.q.QueryRowContext(ctx, pulpServerSelect+" WHERE id = ?", id)
	server, err := scanPulpServer(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("pulp server", itoa(id))
	}
	if err != nil {
		return nil, errors.StorageError("get pulp server", err)
	}
	return server, nil
}

// GetByName fetches a PulpServer by its unique name.
func (s *PulpServerStore) GetByName(ctx context.Context, name string) (*PulpServer, error) {
	row := s.q.QueryRowContext(ctx, pulpServerSelect+" WHERE name = ?", name)
	server, err := scanPulpServer(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("pulp server", name)
	}
	if err != nil {
		return nil, errors.StorageError("get pulp server", err)
	}
	return server, nil
}

// Filter returns all PulpServers matching the filter parameters.
func (s *PulpServerStore) Filter(ctx context.Context, params map[string]string) ([]*PulpServer, error) {
	query, err := ParseQuery(params, pulpServerColumns, false)
	if err != nil {
		return nil, err
	}
	where, args, err := query.whereClause()
	if err != nil {
		return nil, err
	}
	rows, err := s.q.QueryContext(ctx, pulpServerSelect+where+query.orderClause("pulp_servers.id"), args...)
	if err != nil {
		return nil, errors.StorageError("filter pulp servers", err)
	}
	defer rows.Close()

	var servers []*PulpServer
	for rows.Next() {
		server, err := scanPulpServer(rows)
		if err != nil {
			return nil, errors.StorageError("scan pulp server", err)
		}
		servers = append(servers, server)
	}
	return servers, rows.Err()
}

// UpdateHealthRollup writes the server's rollup health and timestamp.
func (s *PulpServerStore) UpdateHealthRollup(ctx context.Context, id int64, health HealthStatus, at time.Time) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE pulp_servers SET repo_sync_health_rollup = ?, repo_sync_health_rollup_date = ? WHERE id = ?`,
		int(health), fmtTime(at), id)
	if err != nil {
		return errors.StorageError("update health rollup", err)
	}
	return nil
}

func scanPulpServer(row rowScanner) (*PulpServer, error) {
	var (
		server                       PulpServer
		schedule, regexInc, regexExc sql.NullString
		rollup                       sql.NullInt64
		rollupDate                   sql.NullString
		created                      string
	)
	if err := row.Scan(&server.ID, &server.Name, &server.Username,
		&server.VaultServiceAccountMount, &schedule, &regexInc, &regexExc,
		&rollup, &rollupDate, &created); err != nil {
		return nil, err
	}
	server.RegistrationSchedule = stringPtr(schedule)
	server.RegistrationRegexInclude = stringPtr(regexInc)
	server.RegistrationRegexExclude = stringPtr(regexExc)
	server.RepoSyncHealthRollup = healthPtr(rollup)

	var err error
	if server.RepoSyncHealthRollupDate, err = parseTimePtr(rollupDate); err != nil {
		return nil, err
	}
	if server.DateCreated, err = parseTime(created); err != nil {
		return nil, err
	}
	return &server, nil
}

func nullableHealth(h *HealthStatus) any {
	if h == nil {
		return nil
	}
	return int(*h)
}
