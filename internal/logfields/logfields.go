package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyTaskID     = "task_id"
	KeyTaskType   = "task_type"
	KeyTaskState  = "task_state"
	KeyJobID      = "job_id"
	KeyJobType    = "job_type"
	KeyStage      = "stage"
	KeyDurationMS = "duration_ms"
	KeyServer     = "pulp_server"
	KeyRepo       = "repository"
	KeyRepoType   = "repo_type"
	KeyHref       = "href"
	KeyHealth     = "health"
	KeyCount      = "count"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func TaskID(id int64) slog.Attr        { return slog.Int64(KeyTaskID, id) }
func TaskType(t string) slog.Attr      { return slog.String(KeyTaskType, t) }
func TaskState(s string) slog.Attr     { return slog.String(KeyTaskState, s) }
func JobID(id string) slog.Attr        { return slog.String(KeyJobID, id) }
func JobType(t string) slog.Attr       { return slog.String(KeyJobType, t) }
func Stage(name string) slog.Attr      { return slog.String(KeyStage, name) }
func DurationMS(ms float64) slog.Attr  { return slog.Float64(KeyDurationMS, ms) }
func Server(name string) slog.Attr     { return slog.String(KeyServer, name) }
func Repository(name string) slog.Attr { return slog.String(KeyRepo, name) }
func RepoType(t string) slog.Attr      { return slog.String(KeyRepoType, t) }
func Href(href string) slog.Attr       { return slog.String(KeyHref, href) }
func Health(status string) slog.Attr   { return slog.String(KeyHealth, status) }
func Count(n int) slog.Attr            { return slog.Int(KeyCount, n) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
