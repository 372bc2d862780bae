package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pulp/pulp-manager/internal/errors"
)

var repoColumns = Columns{
	Direct: map[string]ColumnSpec{
		"id":           {SQL: "repos.id"},
		"name":         {SQL: "repos.name"},
		"repo_type":    {SQL: "repos.repo_type"},
		"date_created": {SQL: "repos.date_created"},
	},
}

// RepoStore persists repository names and content kinds.
type RepoStore struct {
	q Querier
}

// NewRepoStore binds a RepoStore to a Querier.
func NewRepoStore(q Querier) *RepoStore {
	return &RepoStore{q: q}
}

// Add inserts a Repo and sets its ID.
func (s *RepoStore) Add(ctx context.Context, repo *Repo) error {
	if repo.DateCreated.IsZero() {
		repo.DateCreated = time.Now().UTC()
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO repos (name, repo_type, date_created) VALUES (?, ?, ?)`,
		repo.Name, repo.RepoType, fmtTime(repo.DateCreated))
	if err != nil {
		return errors.IntegrityFailure("insert repo", err)
	}
	repo.ID, err = res.LastInsertId()
	if err != nil {
		return errors.StorageError("insert repo", err)
	}
	return nil
}

// BulkAdd inserts repos and sets their IDs, in input order.
func (s *RepoStore) BulkAdd(ctx context.Context, repos []*Repo) error {
	for _, repo := range repos {
		if err := s.Add(ctx, repo); err != nil {
			return err
		}
	}
	return nil
}

// GetByName fetches a Repo by its unique name.
func (s *RepoStore) GetByName(ctx context.Context, name string) (*Repo, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT id, name, repo_type, date_created FROM repos WHERE name = ?`, name)
	repo, err := scanRepo(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("repo", name)
	}
	if err != nil {
		return nil, errors.StorageError("get repo", err)
	}
	return repo, nil
}

// Filter returns all Repos matching the filter parameters.
func (s *RepoStore) Filter(ctx context.Context, params map[string]string) ([]*Repo, error) {
	query, err := ParseQuery(params, repoColumns, false)
	if err != nil {
		return nil, err
	}
	where, args, err := query.whereClause()
	if err != nil {
		return nil, err
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, name, repo_type, date_created FROM repos`+where+query.orderClause("repos.id"), args...)
	if err != nil {
		return nil, errors.StorageError("filter repos", err)
	}
	defer rows.Close()

	var repos []*Repo
	for rows.Next() {
		repo, err := scanRepo(rows)
		if err != nil {
			return nil, errors.StorageError("scan repo", err)
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

func scanRepo(row rowScanner) (*Repo, error) {
	var (
		repo    Repo
		created string
	)
	if err := row.Scan(&repo.ID, &repo.Name, &repo.RepoType, &created); err != nil {
		return nil, err
	}
	var err error
	if repo.DateCreated, err = parseTime(created); err != nil {
		return nil, err
	}
	return &repo, nil
}
