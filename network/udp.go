package network

import (
	"fmt"
	"log/slog"
	"net"
)

// SendUDP fires one datagram and forgets it. Search replies to active
// requesters tolerate loss, so failures are only logged.
func SendUDP(addr string, payload []byte) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		slog.Debug("udp send failed", "component", "network", "error", err)
		return
	}
	defer conn.Close()
	if _, err := conn.Write(payload); err != nil {
		slog.Debug("udp send failed", "component", "network", "error", err)
	}
}

// DatagramFunc receives one inbound datagram on the loop goroutine.
type DatagramFunc func(payload []byte, from net.Addr)

// UDPListener receives search requests sent directly to an active client.
type UDPListener struct {
	pc   net.PacketConn
	loop *Loop
	log  *slog.Logger
}

// ListenUDP binds addr and starts the receive goroutine.
func ListenUDP(loop *Loop, addr string, recv DatagramFunc) (*UDPListener, error) {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("network: listen udp %s: %w", addr, err)
	}
	u := &UDPListener{
		pc:   pc,
		loop: loop,
		log:  slog.With("component", "network", "listen", addr),
	}
	go u.recvLoop(recv)
	u.log.Info("listening for search datagrams")
	return u, nil
}

func (u *UDPListener) Addr() net.Addr { return u.pc.LocalAddr() }

func (u *UDPListener) Close() error { return u.pc.Close() }

func (u *UDPListener) recvLoop(recv DatagramFunc) {
	buf := make([]byte, 64*1024)
	for {
		n, from, err := u.pc.ReadFrom(buf)
		if err != nil {
			u.log.Debug("udp receive loop terminated", "error", err)
			return
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		u.loop.Post(func() { recv(payload, from) })
	}
}
