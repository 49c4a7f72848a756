// Package rendezvous implements peer discovery and session handoff
// over UDP: the initiator's probe/invite/handoff sequence and the
// responder's receive loop.
package rendezvous

import (
	"net"
	"strconv"
)

// Candidate is one slot in the discovery space: an address/port guess
// that may host a listening responder.
type Candidate struct {
	Host string
	Port int
}

// Addr returns the candidate as host:port.
func (c Candidate) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// UDPAddr resolves the candidate to a UDP address.
func (c Candidate) UDPAddr() (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", c.Addr())
}

// CandidateEnumerator yields the discovery space scanned on every
// probe round. It is pluggable so the fixed host-list × port-range
// scan can be replaced by a smarter mechanism without touching the
// protocol state machine.
type CandidateEnumerator interface {
	Candidates() []Candidate
}

// HostPortEnumerator enumerates the Cartesian product of a host list
// and an inclusive port range.
type HostPortEnumerator struct {
	Hosts   []string
	PortMin int
	PortMax int
}

// Candidates returns every host × port combination.
func (e *HostPortEnumerator) Candidates() []Candidate {
	var out []Candidate
	for _, host := range e.Hosts {
		for port := e.PortMin; port <= e.PortMax; port++ {
			out = append(out, Candidate{Host: host, Port: port})
		}
	}
	return out
}
