// Package portscan implements the scanning phase as a thin wrapper over
// the nmap library. Option parsing mirrors the per-phase option map;
// result parsing is left to the library.
package portscan

import (
	"context"
	"strings"

	nmap "github.com/Ullaakut/nmap/v3"
	log "github.com/sirupsen/logrus"

	"bytemomo/redstorm/internal/cache"
	"bytemomo/redstorm/internal/domain"
	"bytemomo/redstorm/internal/pipeline"
)

type Executor struct {
	cache *cache.Cache
}

func New(c *cache.Cache) *Executor {
	return &Executor{cache: c}
}

func (e *Executor) Name() string { return "scan" }

func (e *Executor) Execute(ctx context.Context, target string, opts domain.PhaseOptions) (map[string]any, error) {
	if cached, ok := e.cache.Get(cache.Key(e.Name(), target)); ok {
		log.WithField("target", target).Debug("Scan served from cache")
		return cached, nil
	}

	if opts.Progress != nil {
		opts.Progress(map[string]any{"status": "port_scanning", "message": "Scanning for open ports..."})
	}

	scanner, err := nmap.NewScanner(ctx, e.buildOptions(target, opts.Params)...)
	if err != nil {
		return nil, domain.NewPhaseError(e.Name(), "create scanner: %v", err)
	}

	result, warnings, err := scanner.Run()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.NewPhaseError(e.Name(), "scan failed: %v", err)
	}
	if warnings != nil && len(*warnings) > 0 {
		log.WithField("warnings", *warnings).Warn("Scan produced warnings")
	}

	payload := buildPayload(target, result)
	e.cache.Set(cache.Key(e.Name(), target), payload)
	return payload, nil
}

func (e *Executor) buildOptions(target string, params map[string]any) []nmap.Option {
	opts := []nmap.Option{
		nmap.WithTargets(target),
	}

	if ports := pipeline.ParamString(params, "ports", "1-1024"); ports != "" {
		opts = append(opts, nmap.WithPorts(ports))
	}
	if pipeline.ParamBool(params, "open_only", true) {
		opts = append(opts, nmap.WithOpenOnly()) // --open
	}
	if pipeline.ParamBool(params, "skip_host_discovery", true) {
		opts = append(opts, nmap.WithSkipHostDiscovery()) // -Pn
	}
	if pipeline.ParamBool(params, "udp", false) {
		opts = append(opts, nmap.WithUDPScan()) // -sU
	}
	if pipeline.ParamBool(params, "service_detect", true) {
		opts = append(opts, nmap.WithServiceInfo()) // -sV
		if pipeline.ParamBool(params, "version_light", true) {
			opts = append(opts, nmap.WithVersionLight()) // --version-light
		}
	}
	if rate := pipeline.ParamInt(params, "min_rate", 0); rate > 0 {
		opts = append(opts, nmap.WithMinRate(rate))
	}

	switch pipeline.ParamString(params, "timing", "T3") {
	case "T0":
		opts = append(opts, nmap.WithTimingTemplate(nmap.TimingSlowest))
	case "T1":
		opts = append(opts, nmap.WithTimingTemplate(nmap.TimingSneaky))
	case "T2":
		opts = append(opts, nmap.WithTimingTemplate(nmap.TimingPolite))
	case "T3":
		opts = append(opts, nmap.WithTimingTemplate(nmap.TimingNormal))
	case "T4":
		opts = append(opts, nmap.WithTimingTemplate(nmap.TimingAggressive))
	case "T5":
		opts = append(opts, nmap.WithTimingTemplate(nmap.TimingFastest))
	}

	return opts
}

func buildPayload(target string, result *nmap.Run) map[string]any {
	var openPorts []int
	var services []map[string]any
	var hosts []string

	for _, h := range result.Hosts {
		addr := pickHostAddress(h)
		if addr == "" {
			continue
		}
		hosts = append(hosts, addr)

		for _, p := range h.Ports {
			state := strings.ToLower(p.State.State)
			if !strings.HasPrefix(state, "open") {
				continue
			}
			openPorts = append(openPorts, int(p.ID))
			services = append(services, map[string]any{
				"host":     addr,
				"port":     int(p.ID),
				"protocol": p.Protocol,
				"state":    state,
				"name":     p.Service.Name,
				"product":  p.Service.Product,
				"version":  p.Service.Version,
			})
		}
	}

	payload := map[string]any{
		"target":     target,
		"hosts":      hosts,
		"open_ports": openPorts,
		"services":   services,
	}
	if result.Stats.Finished.Summary != "" {
		payload["summary"] = result.Stats.Finished.Summary
	}
	return payload
}

func pickHostAddress(h nmap.Host) string {
	for _, a := range h.Addresses {
		if a.AddrType == "ipv4" {
			return a.Addr
		}
	}
	for _, a := range h.Addresses {
		if a.AddrType == "ipv6" {
			return a.Addr
		}
	}
	if len(h.Addresses) > 0 {
		return h.Addresses[0].Addr
	}
	return ""
}
