package manager

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/net/html"

	"github.com/pulp/pulp-manager/internal/errors"
	"github.com/pulp/pulp-manager/internal/logfields"
	"github.com/pulp/pulp-manager/internal/pulp"
	"github.com/pulp/pulp-manager/internal/store"
)

// AddReposFromUpstream registers every matching repository of an upstream
// server onto a downstream server, pointing each remote feed at the
// upstream's content path. Deb repositories get their distributions
// discovered from the upstream's dists/ listing; file repositories sync the
// PULP_MANIFEST.
func (m *Manager) AddReposFromUpstream(ctx context.Context, downstreamName, upstreamName, regexInclude, regexExclude string) error {
	include, err := compileOptional(regexInclude)
	if err != nil {
		return err
	}
	exclude, err := compileOptional(regexExclude)
	if err != nil {
		return err
	}

	upstream, upstreamClient, err := m.serverAndClient(ctx, upstreamName)
	if err != nil {
		return err
	}
	bindings, err := store.NewPulpServerRepoStore(m.db).ListByServer(ctx, upstream.ID)
	if err != nil {
		return err
	}

	scheme := "http"
	if m.cfg.Pulp.UseHTTPSForSync {
		scheme = "https"
	}

	for _, sr := range bindings {
		if exclude != nil && exclude.MatchString(sr.RepoName) {
			continue
		}
		if include != nil && !include.MatchString(sr.RepoName) {
			continue
		}
		if sr.DistributionHref == nil {
			m.log.Warn("upstream repo has no distribution, skipping",
				logfields.Server(upstreamName), logfields.Repository(sr.RepoName))
			continue
		}

		dist, err := upstreamClient.GetDistribution(ctx, *sr.DistributionHref)
		if err != nil {
			return err
		}
		feed := fmt.Sprintf("%s://%s/pulp/content/%s/", scheme, upstream.Name, strings.Trim(dist.BasePath, "/"))

		params := UpsertParams{
			Name:        sr.RepoName,
			Description: fmt.Sprintf("Mirror of %s from %s, base_url:%s", sr.RepoName, upstreamName, basePrefix(dist.BasePath, sr.RepoName)),
			Kind:        pulp.Kind(sr.RepoType),
			URL:         feed,
		}
		switch params.Kind {
		case pulp.KindDeb:
			dists, err := m.scrapeDebDists(ctx, feed)
			if err != nil {
				return err
			}
			params.Distributions = &dists
		case pulp.KindFile:
			params.URL = feed + "PULP_MANIFEST"
		}

		m.log.Info("registering repo from upstream",
			logfields.Server(downstreamName), logfields.Repository(sr.RepoName))
		if err := m.CreateOrUpdateRepository(ctx, downstreamName, params); err != nil {
			return err
		}
	}
	return nil
}

// basePrefix recovers the base_url prefix from an upstream base path by
// stripping the repo-name suffix, so the downstream serves the same layout.
func basePrefix(basePath, repoName string) string {
	trimmed := strings.Trim(basePath, "/")
	if cut, ok := strings.CutSuffix(trimmed, "/"+repoName); ok {
		return cut
	}
	if trimmed == repoName {
		return ""
	}
	return trimmed
}

// scrapeDebDists discovers the deb distributions a feed serves by parsing
// the dists/ directory listing. A feed without a dists/ listing is flat; its
// single distribution is the feed root ("/").
func (m *Manager) scrapeDebDists(ctx context.Context, feed string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed+"dists/", nil)
	if err != nil {
		return "", errors.InternalError("build dists request", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", errors.UpstreamTransient("fetch dists listing", err).WithContext("url", feed)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "/", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.UpstreamFailure(fmt.Sprintf("dists listing returned %s", resp.Status), nil).
			WithContext("url", feed)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return "", errors.UpstreamFailure("parse dists listing", err)
	}

	var dists []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				name := strings.Trim(attr.Val, "/")
				if name == "" || name == ".." || strings.Contains(name, "://") {
					continue
				}
				dists = append(dists, name)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if len(dists) == 0 {
		return "/", nil
	}
	return strings.Join(dists, " "), nil
}
