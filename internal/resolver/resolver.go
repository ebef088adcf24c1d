// Package resolver maps image URLs supplied by the CRM to the URL that should
// actually be downloaded. A small closed set of strategies is selected by
// host; each one honors the same Resolve contract.
package resolver

import (
	"context"
	"net/url"
	"strings"
)

// Strategy names.
const (
	StrategyDirect  = "direct"
	StrategyDrive   = "drive"
	StrategyLanding = "landing"
)

// Strategy rewrites URLs for one family of hosts.
type Strategy interface {
	Name() string
	Matches(u *url.URL) bool
	Resolve(u *url.URL) string
}

// Fallback recovers a direct download URL when the first attempt did not
// return an image.
type Fallback interface {
	Extract(ctx context.Context, pageURL string) (string, error)
}

// Resolution is the outcome of resolving one URL.
type Resolution struct {
	// URL is what the first download attempt should fetch.
	URL string
	// Original is the URL as the CRM sent it.
	Original string
	// Strategy names the strategy that produced URL.
	Strategy string
	// Trusted marks hosts whose reported content type is unreliable and is
	// accepted as long as the body is not an HTML page.
	Trusted bool
	// Fallback is set for extraction candidates only.
	Fallback Fallback
}

// Config lists the hosts handled by the non-direct strategies. Entries match
// the host itself or any subdomain of it.
type Config struct {
	DriveHosts   []string
	LandingHosts []string
}

// Resolver picks the first matching strategy; direct is the catch-all.
type Resolver struct {
	strategies []Strategy
	extractor  Fallback
}

// New builds a Resolver. extractor backs the landing page strategy and may be
// nil, in which case landing page links get no fallback.
func New(cfg Config, extractor Fallback) *Resolver {
	return &Resolver{
		strategies: []Strategy{
			driveStrategy{hosts: normalizeHosts(cfg.DriveHosts)},
			landingStrategy{hosts: normalizeHosts(cfg.LandingHosts)},
		},
		extractor: extractor,
	}
}

// Resolve never fails; URLs it cannot parse are passed through for the
// download step to reject.
func (r *Resolver) Resolve(rawURL string) Resolution {
	trimmed := strings.TrimSpace(rawURL)
	res := Resolution{URL: trimmed, Original: rawURL, Strategy: StrategyDirect}
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return res
	}
	for _, s := range r.strategies {
		if !s.Matches(u) {
			continue
		}
		res.URL = s.Resolve(u)
		res.Strategy = s.Name()
		if s.Name() == StrategyLanding {
			res.Trusted = true
			res.Fallback = r.extractor
		}
		return res
	}
	return res
}

type driveStrategy struct {
	hosts []string
}

func (driveStrategy) Name() string { return StrategyDrive }

func (s driveStrategy) Matches(u *url.URL) bool {
	return hostMatches(u.Hostname(), s.hosts)
}

// Resolve rewrites share links to the direct download endpoint. Links without
// a file id are returned unchanged.
func (driveStrategy) Resolve(u *url.URL) string {
	id := driveFileID(u)
	if id == "" {
		return u.String()
	}
	direct := url.URL{
		Scheme:   "https",
		Host:     u.Host,
		Path:     "/uc",
		RawQuery: url.Values{"export": {"download"}, "id": {id}}.Encode(),
	}
	return direct.String()
}

func driveFileID(u *url.URL) string {
	if id := u.Query().Get("id"); id != "" {
		return id
	}
	// /file/d/<id>/view
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "file" && parts[i+1] == "d" {
			return parts[i+2]
		}
	}
	return ""
}

type landingStrategy struct {
	hosts []string
}

func (landingStrategy) Name() string { return StrategyLanding }

func (s landingStrategy) Matches(u *url.URL) bool {
	return hostMatches(u.Hostname(), s.hosts)
}

// Resolve leaves the link alone: some of these links serve the file directly
// and extraction only runs as a fallback.
func (landingStrategy) Resolve(u *url.URL) string {
	return u.String()
}

func normalizeHosts(hosts []string) []string {
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		h = strings.TrimPrefix(h, ".")
		if h != "" {
			out = append(out, h)
		}
	}
	return out
}

func hostMatches(host string, hosts []string) bool {
	host = strings.ToLower(host)
	for _, h := range hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
