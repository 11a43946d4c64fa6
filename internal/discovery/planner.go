package discovery

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/projectdiscovery/mapcidr"
	envutil "github.com/projectdiscovery/utils/env"
)

// SubnetsEnv overrides the built-in subnet shortlist (comma separated prefixes).
const SubnetsEnv = "TERMINALSCAN_SUBNETS"

var defaultSubnets = []string{"192.168.1", "192.168.0", "10.0.0", "192.168.4", "172.16.0"}

// DefaultSubnets returns the shortlist of private prefixes offered to the user.
// This is a fixed list, not interface enumeration.
func DefaultSubnets() []string {
	raw := envutil.GetEnvOrDefault(SubnetsEnv, "")
	if raw == "" {
		return append([]string(nil), defaultSubnets...)
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		prefix, err := NormalizePrefix(part)
		if err != nil {
			continue
		}
		out = append(out, prefix)
	}
	if len(out) == 0 {
		return append([]string(nil), defaultSubnets...)
	}
	return out
}

// DefaultRanges returns host-octet ranges ordered by how likely they hold a live terminal.
func DefaultRanges() []Range {
	return []Range{
		{Start: 100, End: 150}, // primary DHCP lease range
		{Start: 1, End: 10},    // gateways and routers
		{Start: 151, End: 199}, // extended lease range
		{Start: 11, End: 99},   // static assignments
		{Start: 200, End: 254}, // high addresses
	}
}

// NormalizePrefix reduces a subnet written as "a.b.c", "a.b.c.0/24", "a.b.c.x"
// or "a.b.c.d" to its three-octet prefix.
func NormalizePrefix(subnet string) (string, error) {
	subnet = strings.TrimSpace(subnet)
	if subnet == "" {
		return "", fmt.Errorf("empty subnet")
	}
	if idx := strings.IndexByte(subnet, '/'); idx >= 0 {
		ip, ipNet, err := net.ParseCIDR(subnet)
		if err != nil {
			return "", fmt.Errorf("invalid subnet: %w", err)
		}
		if ip.To4() == nil {
			return "", fmt.Errorf("only IPv4 subnets are supported: %s", subnet)
		}
		if ones, _ := ipNet.Mask.Size(); ones != 24 {
			return "", fmt.Errorf("only /24 subnets can be planned by range, got /%d", ones)
		}
		subnet = ipNet.IP.To4().String()
	}

	parts := strings.Split(subnet, ".")
	switch len(parts) {
	case 3:
	case 4:
		if last := parts[3]; last != "x" {
			if octet, err := strconv.Atoi(last); err != nil || octet < 0 || octet > 255 {
				return "", fmt.Errorf("invalid subnet prefix %q", subnet)
			}
		}
		parts = parts[:3]
	default:
		return "", fmt.Errorf("invalid subnet prefix %q", subnet)
	}
	for _, part := range parts {
		octet, err := strconv.Atoi(part)
		if err != nil || octet < 0 || octet > 255 {
			return "", fmt.Errorf("invalid subnet prefix %q", subnet)
		}
	}
	return strings.Join(parts, "."), nil
}

// Plan concatenates, in input order, every address prefix.start..prefix.end of
// each range. Overlapping ranges yield duplicate addresses.
func Plan(prefix string, ranges []Range) ([]string, error) {
	prefix, err := NormalizePrefix(prefix)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, r := range ranges {
		if r.Start < 0 || r.End > 255 || r.Start > r.End {
			return nil, fmt.Errorf("invalid range %s", r)
		}
		total += r.Size()
	}

	addresses := make([]string, 0, total)
	for _, r := range ranges {
		for octet := r.Start; octet <= r.End; octet++ {
			addresses = append(addresses, prefix+"."+strconv.Itoa(octet))
		}
	}
	return addresses, nil
}

// ParseRange parses "start-end" or a single octet.
func ParseRange(value string) (Range, error) {
	value = strings.TrimSpace(value)
	startRaw, endRaw, found := strings.Cut(value, "-")
	if !found {
		endRaw = startRaw
	}
	start, err := strconv.Atoi(strings.TrimSpace(startRaw))
	if err != nil {
		return Range{}, fmt.Errorf("invalid range %q", value)
	}
	end, err := strconv.Atoi(strings.TrimSpace(endRaw))
	if err != nil {
		return Range{}, fmt.Errorf("invalid range %q", value)
	}
	r := Range{Start: start, End: end}
	if r.Start < 0 || r.End > 255 || r.Start > r.End {
		return Range{}, fmt.Errorf("invalid range %q", value)
	}
	return r, nil
}

// MinTargetPrefix bounds explicit CIDR targets to 65536 addresses each.
const MinTargetPrefix = 16

// ExpandTargets expands explicit CIDRs and IPv4 addresses in input order. The
// network and broadcast address of each CIDR are skipped.
func ExpandTargets(targets []string) ([]string, error) {
	var addresses []string
	for _, target := range targets {
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		if ip := net.ParseIP(target); ip != nil {
			ipv4 := ip.To4()
			if ipv4 == nil {
				return nil, fmt.Errorf("only IPv4 addresses are supported: %s", target)
			}
			addresses = append(addresses, ipv4.String())
			continue
		}

		_, network, err := net.ParseCIDR(target)
		if err != nil {
			return nil, fmt.Errorf("invalid target format: %s (must be CIDR or IP)", target)
		}
		if network.IP.To4() == nil {
			return nil, fmt.Errorf("only IPv4 CIDR ranges are supported: %s", target)
		}
		ones, bits := network.Mask.Size()
		if ones < MinTargetPrefix {
			return nil, fmt.Errorf("CIDR %s is too large, the shortest accepted prefix is /%d", target, MinTargetPrefix)
		}
		ips, err := mapcidr.IPAddresses(target)
		if err != nil {
			return nil, fmt.Errorf("failed to expand CIDR %s: %w", target, err)
		}
		for _, raw := range ips {
			ip := net.ParseIP(raw)
			if ip == nil {
				continue
			}
			// /31 and /32 have no network or broadcast address to drop
			if bits-ones > 1 && isNetworkOrBroadcast(ip, network) {
				continue
			}
			addresses = append(addresses, ip.To4().String())
		}
	}
	return addresses, nil
}

func isNetworkOrBroadcast(ip net.IP, network *net.IPNet) bool {
	if ip.Equal(network.IP) {
		return true
	}
	base := network.IP.To4()
	broadcast := make(net.IP, len(base))
	copy(broadcast, base)
	for i := range broadcast {
		broadcast[i] |= ^network.Mask[len(network.Mask)-len(base)+i]
	}
	return ip.Equal(broadcast)
}

// resolveTargets builds the address sequence for a session.
func resolveTargets(cfg Config) ([]string, error) {
	if len(cfg.Targets) > 0 {
		return ExpandTargets(cfg.Targets)
	}
	return Plan(cfg.Subnet, cfg.Ranges)
}
