// Package registrar turns a tree of per-repo JSON definition files into
// registered repositories on a content server. Definitions live under
// remote/ and internal/ subtrees; remote/global.json supplies defaults that
// per-file keys override.
package registrar

import (
	"context"
	"encoding/json"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pulp/pulp-manager/internal/config"
	"github.com/pulp/pulp-manager/internal/errors"
	"github.com/pulp/pulp-manager/internal/logfields"
	"github.com/pulp/pulp-manager/internal/manager"
	"github.com/pulp/pulp-manager/internal/pulp"
)

// SecretReader is the slice of the secret store vault_load_secrets needs.
type SecretReader interface {
	Read(ctx context.Context, path string) (map[string]string, error)
}

// Upserter is the slice of the manager the registrar drives.
type Upserter interface {
	CreateOrUpdateRepository(ctx context.Context, serverName string, p manager.UpsertParams) error
}

// Registrar registers repositories from definition files.
type Registrar struct {
	cfg     config.Config
	upsert  Upserter
	secrets SecretReader
	log     *slog.Logger
}

// New builds a Registrar. secrets may be nil when no definition uses
// vault_load_secrets.
func New(cfg config.Config, upsert Upserter, secrets SecretReader, log *slog.Logger) *Registrar {
	if log == nil {
		log = slog.Default()
	}
	return &Registrar{cfg: cfg, upsert: upsert, secrets: secrets, log: log}
}

// Result counts what one registration run did.
type Result struct {
	Registered int
	Skipped    int
}

// RegisterRepos registers every definition in configDir onto serverName,
// filtered by the include/exclude regexes (exclude wins). An empty configDir
// means "clone the configured Git source into a temp dir first".
func (r *Registrar) RegisterRepos(ctx context.Context, serverName, regexInclude, regexExclude, configDir string) (*Result, error) {
	if configDir == "" {
		return r.registerFromGit(ctx, serverName, regexInclude, regexExclude)
	}
	return r.registerFromDir(ctx, serverName, regexInclude, regexExclude, configDir)
}

func (r *Registrar) registerFromDir(ctx context.Context, serverName, regexInclude, regexExclude, dir string) (*Result, error) {
	include, err := compileOptional(regexInclude)
	if err != nil {
		return nil, err
	}
	exclude, err := compileOptional(regexExclude)
	if err != nil {
		return nil, err
	}

	global, err := loadGlobal(filepath.Join(dir, "remote", "global.json"))
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, subtree := range []string{"remote", "internal"} {
		root := filepath.Join(dir, subtree)
		if _, err := os.Stat(root); os.IsNotExist(err) {
			continue
		}
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") || d.Name() == "global.json" {
				return nil
			}
			return r.registerFile(ctx, serverName, subtree, path, global, include, exclude, result)
		})
		if err != nil {
			return nil, err
		}
	}
	r.log.Info("repo registration finished",
		logfields.Server(serverName),
		slog.Int("registered", result.Registered),
		slog.Int("skipped", result.Skipped))
	return result, nil
}

func (r *Registrar) registerFile(ctx context.Context, serverName, subtree, path string, global map[string]any, include, exclude *regexp.Regexp, result *Result) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, errors.CategoryConfig, errors.SeverityError, "read repo definition").
			WithContext("path", path)
	}

	var fileGlobal map[string]any
	if subtree == "remote" {
		fileGlobal = global
	}
	def, err := decodeDefinition(raw, fileGlobal)
	if err != nil {
		return errors.Wrap(err, errors.CategoryConfig, errors.SeverityError, "invalid repo definition").
			WithContext("path", path)
	}

	name := r.prefixedName(subtree, def.Name)
	if exclude != nil && exclude.MatchString(name) {
		result.Skipped++
		return nil
	}
	if include != nil && !include.MatchString(name) {
		result.Skipped++
		return nil
	}

	params, err := r.buildParams(ctx, name, def)
	if err != nil {
		return err
	}

	r.log.Info("registering repo", logfields.Server(serverName), logfields.Repository(name))
	if err := r.upsert.CreateOrUpdateRepository(ctx, serverName, *params); err != nil {
		return err
	}
	result.Registered++
	return nil
}

// prefixedName applies the configured subtree prefix unless the name already
// carries it. An empty configured prefix disables the step.
func (r *Registrar) prefixedName(subtree, name string) string {
	prefix := r.cfg.Pulp.ExternalRepoPrefix
	if subtree == "internal" {
		prefix = r.cfg.Pulp.InternalRepoPrefix
	}
	if prefix == "" || strings.HasPrefix(name, prefix) {
		return name
	}
	return prefix + name
}

// buildParams renders the upsert inputs: description with the base_url
// token, deb layout fields with the "stable" release default, secrets
// resolved from the store, proxy stripped for internal feeds.
func (r *Registrar) buildParams(ctx context.Context, name string, def *RepoDefinition) (*manager.UpsertParams, error) {
	kind, err := def.Kind()
	if err != nil {
		return nil, err
	}
	if def.BaseURL == "" {
		return nil, errors.InvalidArgument("repo definition has no base_url").WithContext("name", name)
	}

	params := &manager.UpsertParams{
		Name:        name,
		Description: strings.TrimSpace(def.Description + " base_url:" + def.BaseURL),
		Kind:        kind,
		URL:         def.URL,

		TLSValidation: def.TLSValidation,
	}

	if kind == pulp.KindDeb {
		releases := def.Releases
		if releases == "" {
			releases = "stable"
		}
		params.Distributions = &releases
		if def.Components != "" {
			params.Components = &def.Components
		}
		if def.Architectures != "" {
			params.Architectures = &def.Architectures
		}
		params.IgnoreMissingPackageIndices = def.IgnoreMissingPackageIndices
	}

	if def.Proxy != "" && !r.cfg.Pulp.IsInternalURL(def.URL) {
		params.Proxy = &def.Proxy
	}

	for _, ref := range def.VaultLoadSecrets {
		if err := r.loadSecret(ctx, params, ref); err != nil {
			return nil, err
		}
	}
	return params, nil
}

func (r *Registrar) loadSecret(ctx context.Context, params *manager.UpsertParams, ref VaultSecretRef) error {
	if r.secrets == nil {
		return errors.ConfigRequired("vault.vault_addr")
	}
	data, err := r.secrets.Read(ctx, strings.Trim(ref.KV, "/")+"/"+strings.Trim(ref.Path, "/"))
	if err != nil {
		return err
	}
	value, ok := data[ref.SecretName]
	if !ok {
		return errors.NotFound("vault secret key", ref.SecretName)
	}
	switch ref.RemoteProperty {
	case "username":
		params.Username = &value
	case "password":
		params.Password = &value
	case "proxy":
		params.Proxy = &value
	default:
		return errors.InvalidArgument("unsupported remote_property in vault_load_secrets").
			WithContext("remote_property", ref.RemoteProperty)
	}
	return nil
}

func loadGlobal(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryConfig, errors.SeverityError, "read global.json")
	}
	var global map[string]any
	if err := json.Unmarshal(raw, &global); err != nil {
		return nil, errors.Wrap(err, errors.CategoryConfig, errors.SeverityError, "parse global.json")
	}
	return global, nil
}

func compileOptional(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errors.InvalidArgument("invalid regex").WithContext("pattern", pattern)
	}
	return re, nil
}
