package transport

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// ListenUDP opens the UDP socket a router serves on.
func ListenUDP(listenAddr string) (net.PacketConn, error) {
	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", listenAddr, err)
	}
	return conn, nil
}

// DialUDP opens a UDP socket connected to routerAddr. A connected socket
// only receives datagrams from that remote address.
func DialUDP(routerAddr string) (*net.UDPConn, error) {
	raddr, err := net.ResolveUDPAddr("udp", routerAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", routerAddr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", routerAddr, err)
	}
	return conn, nil
}

// ReadFrom reads one datagram from conn, waiting no later than deadline.
// A deadline expiry returns n == 0 and an error for which IsTimeout is true.
func ReadFrom(conn net.PacketConn, buf []byte, deadline time.Time) (int, net.Addr, error) {
	if err := conn.SetReadDeadline(deadline); err != nil {
		return 0, nil, err
	}
	return conn.ReadFrom(buf)
}

// Read reads one datagram from a connected socket, waiting no later than
// deadline.
func Read(conn net.Conn, buf []byte, deadline time.Time) (int, error) {
	if err := conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}
	return conn.Read(buf)
}

// IsTimeout reports whether err is a read deadline expiry.
func IsTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsClosed reports whether err comes from a closed socket.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, ErrClosed)
}
