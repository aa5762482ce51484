// Package recon implements the reconnaissance phase: passive DNS
// enumeration, subdomain discovery over a candidate wordlist and an
// optional whois lookup through the external whois binary.
package recon

import (
	"context"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"bytemomo/redstorm/internal/adapter/toolexec"
	"bytemomo/redstorm/internal/cache"
	"bytemomo/redstorm/internal/domain"
	"bytemomo/redstorm/internal/pipeline"
)

// Candidate prefixes probed during subdomain discovery.
var defaultPrefixes = []string{
	"www", "mail", "ftp", "api", "dev", "staging", "test", "vpn",
	"admin", "portal", "remote", "webmail", "ns1", "ns2",
}

// resolver is the subset of net.Resolver the executor needs, extracted
// so tests can run without network access.
type resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
	LookupNS(ctx context.Context, name string) ([]*net.NS, error)
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

type Executor struct {
	resolver resolver
	tools    *toolexec.Runner
	cache    *cache.Cache
}

func New(tools *toolexec.Runner, c *cache.Cache) *Executor {
	return &Executor{resolver: net.DefaultResolver, tools: tools, cache: c}
}

// NewWithResolver is used by tests.
func NewWithResolver(r resolver, tools *toolexec.Runner, c *cache.Cache) *Executor {
	return &Executor{resolver: r, tools: tools, cache: c}
}

func (e *Executor) Name() string { return "recon" }

func (e *Executor) Execute(ctx context.Context, target string, opts domain.PhaseOptions) (map[string]any, error) {
	if cached, ok := e.cache.Get(cache.Key(e.Name(), target)); ok {
		log.WithField("target", target).Debug("Recon served from cache")
		return cached, nil
	}

	progress(opts, "resolving", "Resolving target...")
	addrs, err := e.resolver.LookupHost(ctx, target)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("recon: %w", ctx.Err())
		}
		return nil, domain.NewPhaseError(e.Name(), "target does not resolve: %v", err)
	}

	results := map[string]any{
		"target":    target,
		"addresses": addrs,
	}

	progress(opts, "discovering_subdomains", "Discovering subdomains...")
	results["subdomains"] = e.discoverSubdomains(ctx, target, opts)

	progress(opts, "dns_enumeration", "Enumerating DNS records...")
	results["dns_records"] = e.enumerateDNS(ctx, target)

	progress(opts, "whois_lookup", "Performing WHOIS lookup...")
	results["whois"] = e.whois(ctx, target, opts.Timeout)

	e.cache.Set(cache.Key(e.Name(), target), results)
	return results, nil
}

func (e *Executor) discoverSubdomains(ctx context.Context, target string, opts domain.PhaseOptions) []string {
	prefixes := pipeline.ParamStrings(opts.Params, "subdomain_prefixes")
	if len(prefixes) == 0 {
		prefixes = defaultPrefixes
	}

	found := []string{}
	for _, prefix := range prefixes {
		if ctx.Err() != nil {
			break
		}
		candidate := prefix + "." + target
		if _, err := e.resolver.LookupHost(ctx, candidate); err == nil {
			found = append(found, candidate)
		}
	}
	return found
}

func (e *Executor) enumerateDNS(ctx context.Context, target string) map[string]any {
	records := map[string]any{}

	if nss, err := e.resolver.LookupNS(ctx, target); err == nil {
		var hosts []string
		for _, ns := range nss {
			hosts = append(hosts, ns.Host)
		}
		records["ns"] = hosts
	}
	if mxs, err := e.resolver.LookupMX(ctx, target); err == nil {
		var hosts []string
		for _, mx := range mxs {
			hosts = append(hosts, fmt.Sprintf("%s %d", mx.Host, mx.Pref))
		}
		records["mx"] = hosts
	}
	if txts, err := e.resolver.LookupTXT(ctx, target); err == nil {
		records["txt"] = txts
	}
	return records
}

// whois shells out to the system whois client when present. Absence is
// not a failure; the payload just records that the lookup was skipped.
func (e *Executor) whois(ctx context.Context, target string, timeout time.Duration) map[string]any {
	if e.tools == nil || !e.tools.Available("whois") {
		return map[string]any{"skipped": "whois not installed"}
	}
	if timeout <= 0 || timeout > 30*time.Second {
		timeout = 30 * time.Second
	}
	res, err := e.tools.Run(ctx, "whois", []string{target}, timeout)
	if err != nil {
		log.WithField("target", target).WithError(err).Warn("WHOIS lookup failed")
		return map[string]any{"error": err.Error()}
	}
	return map[string]any{"raw": res.Lines()}
}

func progress(opts domain.PhaseOptions, status, message string) {
	if opts.Progress == nil {
		return
	}
	opts.Progress(map[string]any{"status": status, "message": message})
}
