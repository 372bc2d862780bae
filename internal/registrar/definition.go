package registrar

import (
	"encoding/json"
	"fmt"

	"github.com/pulp/pulp-manager/internal/errors"
	"github.com/pulp/pulp-manager/internal/pulp"
)

// VaultSecretRef points a remote property at a key inside a secret-store
// entry.
type VaultSecretRef struct {
	KV             string `json:"kv"`
	Path           string `json:"path"`
	SecretName     string `json:"secret_name"`
	RemoteProperty string `json:"remote_property"`
}

// RepoDefinition is the decoded form of one per-repo JSON file after the
// global.json merge.
type RepoDefinition struct {
	Name                        string           `json:"name"`
	Owner                       string           `json:"owner"`
	Description                 string           `json:"description"`
	ContentRepoType             string           `json:"content_repo_type"`
	BaseURL                     string           `json:"base_url"`
	URL                         string           `json:"url"`
	Proxy                       string           `json:"proxy"`
	TLSValidation               *bool            `json:"tls_validation"`
	Releases                    string           `json:"releases"`
	Architectures               string           `json:"architectures"`
	Components                  string           `json:"components"`
	IgnoreMissingPackageIndices *bool            `json:"ignore_missing_package_indices"`
	VaultLoadSecrets            []VaultSecretRef `json:"vault_load_secrets"`
}

// Kind maps the definition's content_repo_type to a client content kind.
// "iso" is a historical alias for file.
func (d *RepoDefinition) Kind() (pulp.Kind, error) {
	switch d.ContentRepoType {
	case "rpm":
		return pulp.KindRPM, nil
	case "deb":
		return pulp.KindDeb, nil
	case "file", "iso":
		return pulp.KindFile, nil
	case "python":
		return pulp.KindPython, nil
	case "container":
		return pulp.KindContainer, nil
	}
	return "", errors.InvalidArgument("unknown content_repo_type").
		WithContext("content_repo_type", d.ContentRepoType).
		WithContext("name", d.Name)
}

// decodeDefinition merges the global defaults under a per-file config (the
// per-file keys win) and decodes the result.
func decodeDefinition(raw []byte, global map[string]any) (*RepoDefinition, error) {
	var perFile map[string]any
	if err := json.Unmarshal(raw, &perFile); err != nil {
		return nil, fmt.Errorf("parse repo definition: %w", err)
	}
	merged := deepMerge(global, perFile)

	// The global file nests the default base path prefix under pulp.
	if _, ok := merged["base_url"]; !ok {
		if pulpSection, ok := merged["pulp"].(map[string]any); ok {
			if prefix, ok := pulpSection["package_prefix"].(string); ok {
				merged["base_url"] = prefix
			}
		}
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	def := &RepoDefinition{}
	if err := json.Unmarshal(data, def); err != nil {
		return nil, fmt.Errorf("decode repo definition: %w", err)
	}
	return def, nil
}

// deepMerge overlays per-file values onto base. Nested objects merge
// recursively; any other per-file value replaces the base value.
func deepMerge(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		if baseChild, ok := out[k].(map[string]any); ok {
			if overlayChild, ok := v.(map[string]any); ok {
				out[k] = deepMerge(baseChild, overlayChild)
				continue
			}
		}
		out[k] = v
	}
	return out
}
