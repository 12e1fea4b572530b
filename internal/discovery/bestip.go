package discovery

import (
	"net"
)

// Address-class priorities, lower is better. Private ranges rank above
// public or unparseable addresses so the advertised "reachable" address
// is the one a LAN sibling can actually use.
const (
	classPrivate8  = 0 // 10.0.0.0/8
	classPrivate12 = 1 // 172.16.0.0/12
	classPrivate16 = 2 // 192.168.0.0/16
	classPublic    = 3
	classUnknown   = 4
)

func addressClass(raw string) int {
	ip := net.ParseIP(raw)
	if ip == nil {
		return classUnknown
	}
	v4 := ip.To4()
	if v4 == nil {
		return classUnknown
	}
	switch {
	case v4[0] == 10:
		return classPrivate8
	case v4[0] == 172 && v4[1] >= 16 && v4[1] <= 31:
		return classPrivate12
	case v4[0] == 192 && v4[1] == 168:
		return classPrivate16
	default:
		return classPublic
	}
}

// BestIP returns the highest-priority candidate by address class, ties
// broken by input order. Empty input yields "". This is the single
// ranking function for both discovery upserts and status reporting.
func BestIP(candidates []string) string {
	best := ""
	bestClass := classUnknown + 1
	for _, c := range candidates {
		if class := addressClass(c); class < bestClass {
			best = c
			bestClass = class
		}
	}
	return best
}

// LanIP picks the best-ranked non-loopback IPv4 address of the local
// interfaces, best-effort: "" when nothing qualifies.
func LanIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	candidates := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			candidates = append(candidates, v4.String())
		}
	}
	return BestIP(candidates)
}
