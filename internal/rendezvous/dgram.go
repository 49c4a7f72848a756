package rendezvous

import (
	"net"
	"time"

	"github.com/arcadenet/lanlobby/internal/wire"
)

// writeDatagram marshals and sends one rendezvous message.
func writeDatagram(conn *net.UDPConn, to *net.UDPAddr, d *wire.Datagram) error {
	data, err := wire.MarshalDatagram(d)
	if err != nil {
		return err
	}
	_, err = conn.WriteToUDP(data, to)
	return err
}

// readDatagram reads one rendezvous message, honoring the given
// deadline. Undecodable payloads are reported as wire decode errors so
// callers can skip them without resetting their deadline.
func readDatagram(conn *net.UDPConn, deadline time.Time) (*wire.Datagram, *net.UDPAddr, error) {
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, nil, err
	}

	buf := make([]byte, wire.MaxDatagramSize)
	n, from, err := conn.ReadFromUDP(buf)
	if err != nil {
		return nil, nil, err
	}

	d, err := wire.UnmarshalDatagram(buf[:n])
	if err != nil {
		return nil, from, err
	}
	return d, from, nil
}

// isTimeout reports whether err is a read deadline expiry.
func isTimeout(err error) bool {
	netErr, ok := err.(net.Error)
	return ok && netErr.Timeout()
}
