// Package geoip resolves an IP address to the organization string that
// names its announcing AS, standing in for the production MaxMind GeoIP2
// binary database (out of scope here; see DESIGN.md).
package geoip

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Resolver looks up the organization string for an address. InferenceService
// depends on this interface, not a concrete implementation, so GeoIP data
// sourcing can change without touching the service.
type Resolver interface {
	OrgByAddr(addr net.IP) (string, error)
}

type entry struct {
	network *net.IPNet
	org     string
}

// FileResolver is a Resolver backed by a flat "cidr,org" snapshot file, one
// network per line. Lookups are longest-prefix-match over the loaded
// entries, mirroring MaxMind's own most-specific-network semantics.
type FileResolver struct {
	entries []entry
}

// LoadFile reads a "cidr,org" snapshot, e.g.:
//
//	8.8.8.0/24,AS15169 Google LLC
//	1.1.1.0/24,AS13335 Cloudflare, Inc.
//
// Lines starting with "#" and blank lines are skipped. org may itself
// contain commas; only the first comma on the line separates cidr from org.
func LoadFile(path string) (*FileResolver, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geoip: opening %s: %w", path, err)
	}
	defer f.Close()

	r := &FileResolver{}
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ",", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("geoip: %s:%d: expected \"cidr,org\", got %q", path, lineNum, line)
		}
		_, network, err := net.ParseCIDR(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("geoip: %s:%d: bad network %q: %w", path, lineNum, parts[0], err)
		}
		r.entries = append(r.entries, entry{network: network, org: strings.TrimSpace(parts[1])})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("geoip: reading %s: %w", path, err)
	}

	// Most specific (longest prefix) network wins ties.
	sort.SliceStable(r.entries, func(i, j int) bool {
		si, _ := r.entries[i].network.Mask.Size()
		sj, _ := r.entries[j].network.Mask.Size()
		return si > sj
	})
	return r, nil
}

func (r *FileResolver) OrgByAddr(addr net.IP) (string, error) {
	for _, e := range r.entries {
		if e.network.Contains(addr) {
			return e.org, nil
		}
	}
	return "", fmt.Errorf("geoip: no organization found for %s", addr)
}

// ASNumberFromOrg extracts the leading AS-number token from an organization
// string such as "AS15169 Google LLC", stripping the "AS" prefix, matching
// step 3 of the inference request state machine.
func ASNumberFromOrg(org string) (int, error) {
	fields := strings.Fields(org)
	if len(fields) == 0 {
		return 0, fmt.Errorf("geoip: empty organization string")
	}
	token := fields[0]
	if !strings.HasPrefix(strings.ToUpper(token), "AS") {
		return 0, fmt.Errorf("geoip: organization string %q does not start with an AS token", org)
	}
	n, err := strconv.Atoi(token[2:])
	if err != nil {
		return 0, fmt.Errorf("geoip: parsing AS token %q: %w", token, err)
	}
	return n, nil
}
