package jobs

// Worker job type names registered on the queue.
const (
	TypeSyncRepos         = "pulp:sync_repos"
	TypeRegisterRepos     = "pulp:register_repos"
	TypeRemoveRepoContent = "pulp:remove_repo_content"
	TypeRepoSnapshot      = "pulp:repo_snapshot"
	TypeRepoRemoval       = "pulp:repo_removal"
)

// Scheduler entry job types. Installed entries carry these as tags so
// remove-then-recreate per server is a well-defined filter.
const (
	JobTypeRepoGroupSyncScheduled    = "REPO_GROUP_SYNC_SCHEDULED"
	JobTypeRepoRegistrationScheduled = "REPO_REGISTRATION_SCHEDULED"
)

// SyncReposPayload drives one scheduled or ad-hoc sync run.
type SyncReposPayload struct {
	TaskID             int64  `json:"task_id"`
	ServerName         string `json:"pulp_server"`
	UpstreamName       string `json:"upstream_server,omitempty"`
	RegexInclude       string `json:"regex_include,omitempty"`
	RegexExclude       string `json:"regex_exclude,omitempty"`
	MaxConcurrentSyncs int    `json:"max_concurrent_syncs,omitempty"`
}

// RegisterReposPayload drives a repo registration run. An empty ConfigDir
// means "clone the definitions from Git".
type RegisterReposPayload struct {
	TaskID       int64  `json:"task_id"`
	ServerName   string `json:"pulp_server"`
	RegexInclude string `json:"regex_include,omitempty"`
	RegexExclude string `json:"regex_exclude,omitempty"`
	ConfigDir    string `json:"config_dir,omitempty"`
}

// RemoveContentPayload removes content from one repo, either by explicit
// hrefs or by package criteria resolved against the latest version.
type RemoveContentPayload struct {
	TaskID         int64    `json:"task_id"`
	ServerName     string   `json:"pulp_server"`
	RepoName       string   `json:"repository"`
	ContentHrefs   []string `json:"content_hrefs,omitempty"`
	PackageName    string   `json:"package_name,omitempty"`
	PackageVersion string   `json:"package_version,omitempty"`
	PackageSha256  string   `json:"package_sha256,omitempty"`
}

// SnapshotPayload snapshots matching repos under a named prefix.
type SnapshotPayload struct {
	TaskID       int64  `json:"task_id"`
	ServerName   string `json:"pulp_server"`
	SnapshotName string `json:"snapshot_name"`
	RegexInclude string `json:"regex_include,omitempty"`
}

// RemovalPayload removes matching repos from a server.
type RemovalPayload struct {
	TaskID       int64  `json:"task_id"`
	ServerName   string `json:"pulp_server"`
	RegexInclude string `json:"regex_include"`
}
