package store

import (
	"context"
	"time"

	"github.com/pulp/pulp-manager/internal/config"
	"github.com/pulp/pulp-manager/internal/errors"
)

// serverRepoTaskColumns is the joined vocabulary of the binding table: task
// columns are remote and reachable only through the joined paging variant.
var serverRepoTaskColumns = Columns{
	Direct: map[string]ColumnSpec{
		"id":                  {SQL: "pulp_server_repo_tasks.id"},
		"pulp_server_repo_id": {SQL: "pulp_server_repo_tasks.pulp_server_repo_id"},
		"task_id":             {SQL: "pulp_server_repo_tasks.task_id"},
		"date_created":        {SQL: "pulp_server_repo_tasks.date_created"},
	},
	Joined: map[string]ColumnSpec{
		"state":     {SQL: "tasks.state", Enum: enumTaskState},
		"task_type": {SQL: "tasks.task_type", Enum: enumTaskType},
	},
}

// PulpServerRepoTaskStore persists the child-Task-to-ServerRepo bindings the
// health window is computed over.
type PulpServerRepoTaskStore struct {
	q      Querier
	paging config.PagingConfig
}

// NewPulpServerRepoTaskStore binds the store to a Querier.
func NewPulpServerRepoTaskStore(q Querier, paging config.PagingConfig) *PulpServerRepoTaskStore {
	return &PulpServerRepoTaskStore{q: q, paging: paging}
}

// Add inserts a binding and sets its ID.
func (s *PulpServerRepoTaskStore) Add(ctx context.Context, binding *PulpServerRepoTask) error {
	if binding.DateCreated.IsZero() {
		binding.DateCreated = time.Now().UTC()
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO pulp_server_repo_tasks (pulp_server_repo_id, task_id, date_created)
		 VALUES (?, ?, ?)`,
		binding.PulpServerRepoID, binding.TaskID, fmtTime(binding.DateCreated))
	if err != nil {
		return errors.IntegrityFailure("insert pulp server repo task", err)
	}
	binding.ID, err = res.LastInsertId()
	if err != nil {
		return errors.StorageError("insert pulp server repo task", err)
	}
	return nil
}

// BulkAdd inserts bindings in input order.
func (s *PulpServerRepoTaskStore) BulkAdd(ctx context.Context, bindings []*PulpServerRepoTask) error {
	for _, binding := range bindings {
		if err := s.Add(ctx, binding); err != nil {
			return err
		}
	}
	return nil
}

// RecentTasksForRepo returns the Tasks most recently bound to a ServerRepo,
// newest binding first (ties broken by binding id descending), limited to n.
func (s *PulpServerRepoTaskStore) RecentTasksForRepo(ctx context.Context, serverRepoID int64, n int) ([]*Task, error) {
	rows, err := s.q.QueryContext(ctx,
		taskSelect+` JOIN pulp_server_repo_tasks ON pulp_server_repo_tasks.task_id = tasks.id
		 WHERE pulp_server_repo_tasks.pulp_server_repo_id = ?
		 ORDER BY pulp_server_repo_tasks.date_created DESC, pulp_server_repo_tasks.id DESC
		 LIMIT ?`, serverRepoID, n)
	if err != nil {
		return nil, errors.StorageError("recent tasks for repo", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// FilterPagedWithTask returns one page of bound Tasks; predicates and sort
// keys may reference the joined task columns (state, task_type).
func (s *PulpServerRepoTaskStore) FilterPagedWithTask(ctx context.Context, params map[string]string, page, pageSize int) ([]*Task, error) {
	limit, offset, err := pageBounds(page, pageSize, s.paging.DefaultPageSize, s.paging.MaxPageSize)
	if err != nil {
		return nil, err
	}
	query, err := ParseQuery(params, serverRepoTaskColumns, true)
	if err != nil {
		return nil, err
	}
	where, args, err := query.whereClause()
	if err != nil {
		return nil, err
	}
	args = append(args, limit, offset)
	rows, err := s.q.QueryContext(ctx,
		taskSelect+` JOIN pulp_server_repo_tasks ON pulp_server_repo_tasks.task_id = tasks.id`+
			where+query.orderClause("pulp_server_repo_tasks.date_created DESC, pulp_server_repo_tasks.id")+
			" LIMIT ? OFFSET ?", args...)
	if err != nil {
		return nil, errors.StorageError("filter pulp server repo tasks", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}
