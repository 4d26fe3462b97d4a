package network

import (
	"fmt"
	"log/slog"
	"net"
)

// AcceptFunc receives newly accepted raw connections on the loop goroutine.
// The callback wraps the connection with Accept and starts it once a
// handler is decided.
type AcceptFunc func(nc net.Conn)

// Listener accepts incoming peer connections and hands them to the loop.
type Listener struct {
	ln   net.Listener
	loop *Loop
	log  *slog.Logger
}

// Listen binds addr and starts the accept goroutine.
func Listen(loop *Loop, addr string, accept AcceptFunc) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("network: listen %s: %w", addr, err)
	}
	l := &Listener{
		ln:   ln,
		loop: loop,
		log:  slog.With("component", "network", "listen", addr),
	}
	go l.acceptLoop(accept)
	l.log.Info("listening for peer connections")
	return l, nil
}

func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

func (l *Listener) Close() error { return l.ln.Close() }

func (l *Listener) acceptLoop(accept AcceptFunc) {
	for {
		nc, err := l.ln.Accept()
		if err != nil {
			l.log.Debug("accept loop terminated", "error", err)
			return
		}
		l.loop.Post(func() { accept(nc) })
	}
}
