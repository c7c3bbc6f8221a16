package node

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hydra-run/hydra/core"
)

// DiscoverManual parses an explicit "host:port" list (spec §6 Discovery
// "manual node list") and registers each entry, collapsing duplicates by
// (host, port) as spec §4.2 requires.
func DiscoverManual(registry *Registry, entries []string) error {
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		host, portStr, err := net.SplitHostPort(entry)
		if err != nil {
			return core.NewHydraError("node.DiscoverManual", "invalid_configuration", err).WithContext(map[string]interface{}{"entry": entry})
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return core.NewHydraError("node.DiscoverManual", "invalid_configuration", err).WithContext(map[string]interface{}{"entry": entry})
		}
		registry.GetOrRegisterByAddress(host, port, KindGPU)
	}
	return nil
}

// DiscoverCIDR sweeps every host address in cidr at the given port,
// probing concurrently, and registers any host that answers (spec §4.2
// "network sweep of a configured CIDR"). Unreachable hosts are silently
// skipped; this is best-effort discovery, not a required source of nodes.
func DiscoverCIDR(ctx context.Context, registry *Registry, prober Prober, cidr string, port int, timeout time.Duration) error {
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return core.NewHydraError("node.DiscoverCIDR", "invalid_configuration", err).WithContext(map[string]interface{}{"cidr": cidr})
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, 64)

	for ip := cloneIP(ipNet.IP.Mask(ipNet.Mask)); ipNet.Contains(ip); incIP(ip) {
		host := ip.String()

		wg.Add(1)
		sem <- struct{}{}
		go func(host string) {
			defer wg.Done()
			defer func() { <-sem }()

			probeCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			baseURL := fmt.Sprintf("http://%s:%d", host, port)
			if prober.Health(probeCtx, baseURL) {
				registry.GetOrRegisterByAddress(host, port, KindGPU)
			}
		}(host)
	}

	wg.Wait()
	return nil
}

func cloneIP(ip net.IP) net.IP {
	out := make(net.IP, len(ip))
	copy(out, ip)
	return out
}

func incIP(ip net.IP) {
	for i := len(ip) - 1; i >= 0; i-- {
		ip[i]++
		if ip[i] != 0 {
			break
		}
	}
}
