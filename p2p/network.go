//
// network.go
//
// Two-party channel establishment. The protocol role fixes the
// endpoint convention: the sender listens, the receiver dials.
//

package p2p

import (
	"errors"
	"fmt"
	"net"
)

// ErrDesync is returned when the peer's traffic does not match the
// expected protocol framing, typically because the two sides were
// configured with different parameters.
var ErrDesync = errors.New("p2p: protocol desync")

// Listen binds the argument TCP port, accepts exactly one peer
// connection and closes the listener. Bind and accept failures are
// fatal; the function does not retry.
func Listen(port int) (*Conn, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	defer listener.Close()

	nc, err := listener.Accept()
	if err != nil {
		return nil, err
	}
	if tc, ok := nc.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
	return NewConn(nc), nil
}

// Dial connects to the peer listening on addr:port. Connection
// refused and timeouts are fatal; retries, if desired, are the
// caller's responsibility.
func Dial(addr string, port int) (*Conn, error) {
	nc, err := net.Dial("tcp", fmt.Sprintf("%s:%d", addr, port))
	if err != nil {
		return nil, err
	}
	if tc, ok := nc.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
	return NewConn(nc), nil
}
