// Package geoip resolves client IP addresses to two-letter country codes.
package geoip

import (
	"bufio"
	"fmt"
	"net/netip"
	"os"
	"sort"
	"strings"
	"sync"
)

// Unknown is reported when no range covers the address.
const Unknown = "??"

type ipRange struct {
	start   netip.Addr
	end     netip.Addr
	country string
}

// Resolver maps IPv4/IPv6 addresses to country codes using a sorted
// range table. Safe for concurrent use; Reload swaps the table.
type Resolver struct {
	mu     sync.RWMutex
	ranges []ipRange
}

// Load reads a range database from path. Each line holds
// "startIP,endIP,CC"; blank lines and "#" comments are skipped.
// A missing file yields an empty resolver that reports Unknown.
func Load(path string) (*Resolver, error) {
	r := &Resolver{}
	if err := r.Reload(path); err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, err
	}
	return r, nil
}

// Reload re-reads the range database from path and swaps it in.
func (r *Resolver) Reload(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	var ranges []ipRange
	sc := bufio.NewScanner(file)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) != 3 {
			return fmt.Errorf("geoip %s:%d: want startIP,endIP,CC", path, lineNo)
		}
		start, err := netip.ParseAddr(strings.TrimSpace(parts[0]))
		if err != nil {
			return fmt.Errorf("geoip %s:%d: %w", path, lineNo, err)
		}
		end, err := netip.ParseAddr(strings.TrimSpace(parts[1]))
		if err != nil {
			return fmt.Errorf("geoip %s:%d: %w", path, lineNo, err)
		}
		cc := strings.ToUpper(strings.TrimSpace(parts[2]))
		if len(cc) != 2 {
			return fmt.Errorf("geoip %s:%d: country code %q is not two letters", path, lineNo, cc)
		}
		ranges = append(ranges, ipRange{start: start, end: end, country: cc})
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading geoip database %s: %w", path, err)
	}

	sort.Slice(ranges, func(i, j int) bool {
		return ranges[i].start.Less(ranges[j].start)
	})

	r.mu.Lock()
	r.ranges = ranges
	r.mu.Unlock()
	return nil
}

// Lookup returns the country code covering addr, or Unknown.
func (r *Resolver) Lookup(addr string) string {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return Unknown
	}
	ip = ip.Unmap()

	r.mu.RLock()
	ranges := r.ranges
	r.mu.RUnlock()

	i := sort.Search(len(ranges), func(i int) bool {
		return ip.Less(ranges[i].start)
	})
	if i == 0 {
		return Unknown
	}
	rg := ranges[i-1]
	if ip.Compare(rg.end) <= 0 {
		return rg.country
	}
	return Unknown
}

// Len reports how many ranges are loaded.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ranges)
}
