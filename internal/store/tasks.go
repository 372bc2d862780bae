package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pulp/pulp-manager/internal/config"
	"github.com/pulp/pulp-manager/internal/errors"
)

// taskColumns declares the Task filter vocabulary. Enum columns accept
// names at the boundary.
var taskColumns = Columns{
	Direct: map[string]ColumnSpec{
		"id":             {SQL: "tasks.id"},
		"name":           {SQL: "tasks.name"},
		"task_type":      {SQL: "tasks.task_type", Enum: enumTaskType},
		"state":          {SQL: "tasks.state", Enum: enumTaskState},
		"parent_task_id": {SQL: "tasks.parent_task_id"},
		"worker_job_id":  {SQL: "tasks.worker_job_id"},
		"worker_name":    {SQL: "tasks.worker_name"},
		"date_created":   {SQL: "tasks.date_created"},
		"date_started":   {SQL: "tasks.date_started"},
		"date_finished":  {SQL: "tasks.date_finished"},
	},
}

const taskSelect = `SELECT tasks.id, tasks.name, tasks.task_type, tasks.state,
	tasks.parent_task_id, tasks.worker_job_id, tasks.worker_name,
	tasks.date_created, tasks.date_started, tasks.date_finished,
	tasks.task_args, tasks.error FROM tasks`

// TaskStore persists Tasks and their stages.
type TaskStore struct {
	q      Querier
	paging config.PagingConfig
}

// NewTaskStore binds a TaskStore to a Querier (DB or transaction).
func NewTaskStore(q Querier, paging config.PagingConfig) *TaskStore {
	return &TaskStore{q: q, paging: paging}
}

// Add inserts a Task and sets its ID. DateCreated defaults to now.
func (s *TaskStore) Add(ctx context.Context, task *Task) error {
	if task.DateCreated.IsZero() {
		task.DateCreated = time.Now().UTC()
	}
	args, err := marshalJSONMap(task.TaskArgs)
	if err != nil {
		return errors.StorageError("marshal task args", err)
	}
	taskErr, err := marshalTaskError(task.Error)
	if err != nil {
		return errors.StorageError("marshal task error", err)
	}

	res, err := s.q.ExecContext(ctx,
		`INSERT INTO tasks (name, task_type, state, parent_task_id, worker_job_id,
			worker_name, date_created, date_started, date_finished, task_args, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.Name, int(task.TaskType), int(task.State), nullableInt64(task.ParentTaskID),
		nullableString(task.WorkerJobID), nullableString(task.WorkerName),
		fmtTime(task.DateCreated), fmtTimePtr(task.DateStarted), fmtTimePtr(task.DateFinished),
		args, taskErr,
	)
	if err != nil {
		return errors.StorageError("insert task", err)
	}
	task.ID, err = res.LastInsertId()
	if err != nil {
		return errors.StorageError("insert task", err)
	}
	return nil
}

// BulkAdd inserts tasks and sets their IDs, in input order.
func (s *TaskStore) BulkAdd(ctx context.Context, tasks []*Task) error {
	for _, task := range tasks {
		if err := s.Add(ctx, task); err != nil {
			return err
		}
	}
	return nil
}

// Update rewrites the mutable fields of a Task.
func (s *TaskStore) Update(ctx context.Context, task *Task) error {
	args, err := marshalJSONMap(task.TaskArgs)
	if err != nil {
		return errors.StorageError("marshal task args", err)
	}
	taskErr, err := marshalTaskError(task.Error)
	if err != nil {
		return errors.StorageError("marshal task error", err)
	}

	_, err = s.q.ExecContext(ctx,
		`UPDATE tasks SET name = ?, task_type = ?, state = ?, parent_task_id = ?,
			worker_job_id = ?, worker_name = ?, date_started = ?, date_finished = ?,
			task_args = ?, error = ?
		 WHERE id = ?`,
		task.Name, int(task.TaskType), int(task.State), nullableInt64(task.ParentTaskID),
		nullableString(task.WorkerJobID), nullableString(task.WorkerName),
		fmtTimePtr(task.DateStarted), fmtTimePtr(task.DateFinished),
		args, taskErr, task.ID,
	)
	if err != nil {
		return errors.StorageError("update task", err)
	}
	return nil
}

// Get fetches a Task by id.
func (s *TaskStore) Get(ctx context.Context, id int64) (*Task, error) {
	row := s.q.QueryRowContext(ctx, taskSelect+" WHERE tasks.id = ?", id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("task", itoa(id))
	}
	if err != nil {
		return nil, errors.StorageError("get task", err)
	}
	return task, nil
}

// GetByWorkerJobID fetches the Task bound to a worker job.
func (s *TaskStore) GetByWorkerJobID(ctx context.Context, jobID string) (*Task, error) {
	row := s.q.QueryRowContext(ctx, taskSelect+" WHERE tasks.worker_job_id = ?", jobID)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("task", jobID)
	}
	if err != nil {
		return nil, errors.StorageError("get task by worker job", err)
	}
	return task, nil
}

// Filter returns all Tasks matching the given filter parameters.
func (s *TaskStore) Filter(ctx context.Context, params map[string]string) ([]*Task, error) {
	query, err := ParseQuery(params, taskColumns, false)
	if err != nil {
		return nil, err
	}
	where, args, err := query.whereClause()
	if err != nil {
		return nil, err
	}
	rows, err := s.q.QueryContext(ctx, taskSelect+where+query.orderClause("tasks.id"), args...)
	if err != nil {
		return nil, errors.StorageError("filter tasks", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// FilterPaged returns one page of Tasks matching the filter parameters.
// A page size above the configured maximum fails before any read.
func (s *TaskStore) FilterPaged(ctx context.Context, params map[string]string, page, pageSize int) ([]*Task, error) {
	limit, offset, err := pageBounds(page, pageSize, s.paging.DefaultPageSize, s.paging.MaxPageSize)
	if err != nil {
		return nil, err
	}
	query, err := ParseQuery(params, taskColumns, false)
	if err != nil {
		return nil, err
	}
	where, args, err := query.whereClause()
	if err != nil {
		return nil, err
	}
	args = append(args, limit, offset)
	rows, err := s.q.QueryContext(ctx,
		taskSelect+where+query.orderClause("tasks.id")+" LIMIT ? OFFSET ?", args...)
	if err != nil {
		return nil, errors.StorageError("filter tasks paged", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// Count returns the number of Tasks matching the filter parameters.
func (s *TaskStore) Count(ctx context.Context, params map[string]string) (int, error) {
	query, err := ParseQuery(params, taskColumns, false)
	if err != nil {
		return 0, err
	}
	where, args, err := query.whereClause()
	if err != nil {
		return 0, err
	}
	var count int
	if err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks"+where, args...).Scan(&count); err != nil {
		return 0, errors.StorageError("count tasks", err)
	}
	return count, nil
}

// AddStage appends a stage to a Task.
func (s *TaskStore) AddStage(ctx context.Context, stage *TaskStage) error {
	if stage.DateCreated.IsZero() {
		stage.DateCreated = time.Now().UTC()
	}
	detail, err := marshalJSONMap(stage.Detail)
	if err != nil {
		return errors.StorageError("marshal stage detail", err)
	}
	stageErr, err := marshalTaskError(stage.Error)
	if err != nil {
		return errors.StorageError("marshal stage error", err)
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO task_stages (task_id, name, detail, error, date_created) VALUES (?, ?, ?, ?, ?)`,
		stage.TaskID, stage.Name, detail, stageErr, fmtTime(stage.DateCreated))
	if err != nil {
		return errors.StorageError("insert task stage", err)
	}
	stage.ID, err = res.LastInsertId()
	if err != nil {
		return errors.StorageError("insert task stage", err)
	}
	return nil
}

// UpdateStage rewrites a stage's detail and error.
func (s *TaskStore) UpdateStage(ctx context.Context, stage *TaskStage) error {
	detail, err := marshalJSONMap(stage.Detail)
	if err != nil {
		return errors.StorageError("marshal stage detail", err)
	}
	stageErr, err := marshalTaskError(stage.Error)
	if err != nil {
		return errors.StorageError("marshal stage error", err)
	}
	_, err = s.q.ExecContext(ctx,
		`UPDATE task_stages SET name = ?, detail = ?, error = ? WHERE id = ?`,
		stage.Name, detail, stageErr, stage.ID)
	if err != nil {
		return errors.StorageError("update task stage", err)
	}
	return nil
}

// CurrentStage returns the most recently appended stage of a Task, or
// NotFound when the Task has no stages.
func (s *TaskStore) CurrentStage(ctx context.Context, taskID int64) (*TaskStage, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT id, task_id, name, detail, error, date_created FROM task_stages
		 WHERE task_id = ? ORDER BY id DESC LIMIT 1`, taskID)
	stage, err := scanStage(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("task stage", itoa(taskID))
	}
	if err != nil {
		return nil, errors.StorageError("get current stage", err)
	}
	return stage, nil
}

// Stages returns all stages of a Task in append order.
func (s *TaskStore) Stages(ctx context.Context, taskID int64) ([]*TaskStage, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, task_id, name, detail, error, date_created FROM task_stages
		 WHERE task_id = ? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, errors.StorageError("list task stages", err)
	}
	defer rows.Close()

	var stages []*TaskStage
	for rows.Next() {
		stage, err := scanStage(rows)
		if err != nil {
			return nil, errors.StorageError("scan task stage", err)
		}
		stages = append(stages, stage)
	}
	return stages, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		task                Task
		taskType, state     int
		parentID            sql.NullInt64
		workerJobID, worker sql.NullString
		created             string
		started, finished   sql.NullString
		argsJSON, errJSON   sql.NullString
	)
	if err := row.Scan(&task.ID, &task.Name, &taskType, &state, &parentID,
		&workerJobID, &worker, &created, &started, &finished, &argsJSON, &errJSON); err != nil {
		return nil, err
	}
	task.TaskType = TaskType(taskType)
	task.State = TaskState(state)
	task.ParentTaskID = int64Ptr(parentID)
	task.WorkerJobID = stringPtr(workerJobID)
	task.WorkerName = stringPtr(worker)

	var err error
	if task.DateCreated, err = parseTime(created); err != nil {
		return nil, err
	}
	if task.DateStarted, err = parseTimePtr(started); err != nil {
		return nil, err
	}
	if task.DateFinished, err = parseTimePtr(finished); err != nil {
		return nil, err
	}
	if task.TaskArgs, err = unmarshalJSONMap(argsJSON); err != nil {
		return nil, err
	}
	if task.Error, err = unmarshalTaskError(errJSON); err != nil {
		return nil, err
	}
	return &task, nil
}

func scanTasks(rows *sql.Rows) ([]*Task, error) {
	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, errors.StorageError("scan task", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func scanStage(row rowScanner) (*TaskStage, error) {
	var (
		stage               TaskStage
		detailJSON, errJSON sql.NullString
		created             string
	)
	if err := row.Scan(&stage.ID, &stage.TaskID, &stage.Name, &detailJSON, &errJSON, &created); err != nil {
		return nil, err
	}
	var err error
	if stage.DateCreated, err = parseTime(created); err != nil {
		return nil, err
	}
	if stage.Detail, err = unmarshalJSONMap(detailJSON); err != nil {
		return nil, err
	}
	if stage.Error, err = unmarshalTaskError(errJSON); err != nil {
		return nil, err
	}
	return &stage, nil
}

func marshalJSONMap(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func unmarshalJSONMap(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func marshalTaskError(e *TaskError) (any, error) {
	if e == nil {
		return nil, nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func unmarshalTaskError(s sql.NullString) (*TaskError, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var e TaskError
	if err := json.Unmarshal([]byte(s.String), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func nullableInt64(n *int64) any {
	if n == nil {
		return nil
	}
	return *n
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
