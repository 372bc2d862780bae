package config

import (
	"regexp"

	"github.com/pulp/pulp-manager/internal/errors"
)

// Validate checks the configuration for contradictions that would only
// surface deep inside a worker job otherwise.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		return errors.New(errors.CategoryConfig, errors.SeverityFatal, "unsupported database driver").
			WithContext("driver", c.Database.Driver)
	}

	if c.Paging.DefaultPageSize > c.Paging.MaxPageSize {
		return errors.New(errors.CategoryConfig, errors.SeverityFatal,
			"paging.default_page_size exceeds paging.max_page_size")
	}

	// Replacement pattern and rule travel together.
	if c.Pulp.PackageNameReplacementPattern != "" {
		if c.Pulp.PackageNameReplacementRule == "" {
			return errors.ConfigRequired("pulp.package_name_replacement_rule")
		}
		if _, err := regexp.Compile(c.Pulp.PackageNameReplacementPattern); err != nil {
			return errors.Wrap(err, errors.CategoryConfig, errors.SeverityFatal,
				"pulp.package_name_replacement_pattern is not a valid regular expression")
		}
	}

	if c.Pulp.BannedPackageRegex != "" {
		if _, err := regexp.Compile(c.Pulp.BannedPackageRegex); err != nil {
			return errors.Wrap(err, errors.CategoryConfig, errors.SeverityFatal,
				"pulp.banned_package_regex is not a valid regular expression")
		}
	}

	if c.Pulp.GitRepoConfig == "" && c.Pulp.LocalRepoConfigDir == "" {
		// Registration is optional; only flag it when a registrar run would
		// have nowhere to read from AND a schedule would be installed.
		// Validation of per-server schedules happens at install time.
		return nil
	}
	return nil
}
