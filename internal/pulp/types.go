package pulp

import (
	"strings"

	"github.com/pulp/pulp-manager/internal/errors"
)

// Kind identifies a content kind served by a Pulp server. Each kind maps to
// its own plugin path segment pair in the API.
type Kind string

const (
	KindRPM       Kind = "rpm"
	KindDeb       Kind = "deb"
	KindFile      Kind = "file"
	KindPython    Kind = "python"
	KindContainer Kind = "container"
)

// kindPlugins maps a Kind to its "{plugin}/{type}" API path segments.
var kindPlugins = map[Kind]string{
	KindRPM:       "rpm/rpm",
	KindDeb:       "deb/apt",
	KindFile:      "file/file",
	KindPython:    "python/python",
	KindContainer: "container/container",
}

// Kinds returns the supported content kinds in a stable order.
func Kinds() []Kind {
	return []Kind{KindRPM, KindDeb, KindFile, KindPython, KindContainer}
}

// KindFromHref derives the content kind from a resource href, e.g.
// /pulp/api/v3/repositories/deb/apt/<uuid>/ is KindDeb.
func KindFromHref(href string) (Kind, error) {
	parts := strings.Split(strings.Trim(href, "/"), "/")
	for i, p := range parts {
		switch p {
		case "repositories", "remotes", "distributions", "publications", "content":
			if i+1 >= len(parts) {
				return "", errors.InvalidArgument("href has no plugin segment").WithContext("href", href)
			}
			switch parts[i+1] {
			case "rpm":
				return KindRPM, nil
			case "deb":
				return KindDeb, nil
			case "file":
				return KindFile, nil
			case "python":
				return KindPython, nil
			case "container":
				return KindContainer, nil
			default:
				return "", errors.InvalidArgument("unknown plugin segment").WithContext("href", href)
			}
		}
	}
	return "", errors.InvalidArgument("href is not a typed resource path").WithContext("href", href)
}

// Repository is a versioned content container on the server.
type Repository struct {
	PulpHref          string  `json:"pulp_href,omitempty"`
	Name              string  `json:"name"`
	Description       *string `json:"description,omitempty"`
	Remote            *string `json:"remote,omitempty"`
	LatestVersionHref string  `json:"latest_version_href,omitempty"`
	VersionsHref      string  `json:"versions_href,omitempty"`
	// SigningService only applies to deb repositories (release signing).
	SigningService *string `json:"signing_service,omitempty"`
}

// Remote describes how the server fetches content from an upstream feed.
type Remote struct {
	PulpHref           string   `json:"pulp_href,omitempty"`
	Name               string   `json:"name"`
	URL                string   `json:"url"`
	Policy             string   `json:"policy,omitempty"`
	ProxyURL           *string  `json:"proxy_url,omitempty"`
	Username           *string  `json:"username,omitempty"`
	Password           *string  `json:"password,omitempty"`
	TLSValidation      *bool    `json:"tls_validation,omitempty"`
	CACert             *string  `json:"ca_cert,omitempty"`
	SockConnectTimeout *float64 `json:"sock_connect_timeout,omitempty"`
	SockReadTimeout    *float64 `json:"sock_read_timeout,omitempty"`

	// Deb-only upstream layout fields.
	Distributions               *string `json:"distributions,omitempty"`
	Components                  *string `json:"components,omitempty"`
	Architectures               *string `json:"architectures,omitempty"`
	IgnoreMissingPackageIndices *bool   `json:"ignore_missing_package_indices,omitempty"`
}

// Distribution exposes a repository's latest version at a base path.
type Distribution struct {
	PulpHref    string  `json:"pulp_href,omitempty"`
	Name        string  `json:"name"`
	BasePath    string  `json:"base_path"`
	BaseURL     string  `json:"base_url,omitempty"`
	Repository  *string `json:"repository,omitempty"`
	Publication *string `json:"publication,omitempty"`
}

// Publication materializes repository metadata for consumption.
type Publication struct {
	PulpHref          string  `json:"pulp_href,omitempty"`
	Repository        *string `json:"repository,omitempty"`
	RepositoryVersion *string `json:"repository_version,omitempty"`

	// RPM publications.
	MetadataChecksumType string `json:"metadata_checksum_type,omitempty"`
	PackageChecksumType  string `json:"package_checksum_type,omitempty"`

	// Deb publications.
	Structured     *bool   `json:"structured,omitempty"`
	Simple         *bool   `json:"simple,omitempty"`
	SigningService *string `json:"signing_service,omitempty"`
}

// RepositoryVersion is one immutable state of a repository's content.
type RepositoryVersion struct {
	PulpHref   string `json:"pulp_href"`
	Number     int    `json:"number"`
	Repository string `json:"repository"`
}

// Package is a content unit inside a repository version. RPM units carry
// "name", deb units carry "package"; DisplayName papers over the difference.
type Package struct {
	PulpHref   string `json:"pulp_href"`
	Name       string `json:"name,omitempty"`
	DebPackage string `json:"package,omitempty"`
	Version    string `json:"version,omitempty"`
}

// DisplayName returns the package name regardless of content kind.
func (p *Package) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.DebPackage
}

// SigningService signs metadata files on the server's behalf.
type SigningService struct {
	PulpHref  string `json:"pulp_href"`
	Name      string `json:"name"`
	PublicKey string `json:"public_key,omitempty"`
}

// ServerTask is the server-side handle returned by asynchronous operations.
type ServerTask struct {
	PulpHref         string           `json:"pulp_href"`
	Name             string           `json:"name"`
	State            string           `json:"state"`
	Error            map[string]any   `json:"error,omitempty"`
	CreatedResources []string         `json:"created_resources"`
	ProgressReports  []ProgressReport `json:"progress_reports,omitempty"`
}

// ProgressReport is one progress line of a server task.
type ProgressReport struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	State   string `json:"state"`
	Done    int64  `json:"done"`
	Total   *int64 `json:"total,omitempty"`
}

// Server task terminal states.
const (
	TaskStateCompleted = "completed"
	TaskStateFailed    = "failed"
	TaskStateCanceled  = "canceled"
)

// Terminal reports whether the server task has finished.
func (t *ServerTask) Terminal() bool {
	switch t.State {
	case TaskStateCompleted, TaskStateFailed, TaskStateCanceled:
		return true
	}
	return false
}

// ErrorDescription extracts the server task's error description, if any.
func (t *ServerTask) ErrorDescription() string {
	if t.Error == nil {
		return ""
	}
	if desc, ok := t.Error["description"].(string); ok {
		return desc
	}
	return ""
}

// page is the envelope every list endpoint returns.
type page[T any] struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []T     `json:"results"`
}

// asyncResponse is the envelope asynchronous mutations return.
type asyncResponse struct {
	Task string `json:"task"`
}
