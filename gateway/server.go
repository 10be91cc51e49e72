// Package gateway implements the 104 server: the TCP-accepting protocol
// server that manages per-client connection state, enforces an admission
// cap with rate-limited rejection logging, and broadcasts store updates to
// live connections with failure quarantine.
package gateway

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	iec104 "github.com/openfieldgw/iec104-gateway"
	"github.com/openfieldgw/iec104-gateway/asdubuild"
	"github.com/openfieldgw/iec104-gateway/point"
	"github.com/openfieldgw/iec104-gateway/store"
)

// RejectLogInterval bounds rejection-warning spam to at most one line per
// interval, carrying the cumulative rejected count since the last log.
const RejectLogInterval = 30 * time.Second

// Config fixes a Server's listen address and admission cap. The Server does
// not read DefaultCommonAddress: replies carry the request's common address
// and data ASDUs carry the point's own.
type Config struct {
	Address              string
	TLS                  *tls.Config
	MaxConnections       int
	ListenBacklog        int // advisory only; net.Listen has no backlog knob in the std lib
	DefaultCommonAddress uint16
	ReadTimeout          time.Duration
}

// Server is the 104 server in the sense of IEC 104 terminology: also
// called the slave or controlled station.
type Server struct {
	cfg   Config
	store *store.Store
	lg    *logrus.Logger

	listener net.Listener
	token    store.Token

	mu      sync.Mutex
	conns   []*Connection
	running bool

	rejectMu       sync.Mutex
	rejectedSince  int
	lastRejectLog  time.Time
	lastRejectPeer string
}

// NewServer constructs a Server bound to cfg and wired to receive
// spontaneous updates from s once Serve is called.
func NewServer(cfg Config, s *store.Store, lg *logrus.Logger) *Server {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 10
	}
	if lg == nil {
		lg = logrus.New()
	}
	return &Server{cfg: cfg, store: s, lg: lg}
}

// Serve binds the listener and registers the server as a store listener
// for spontaneous broadcast, then accepts connections until Stop is called.
// Serve returns when the listener is closed.
func (srv *Server) Serve() error {
	var listener net.Listener
	var err error
	if srv.cfg.TLS != nil {
		listener, err = tls.Listen("tcp", srv.cfg.Address, srv.cfg.TLS)
	} else {
		listener, err = net.Listen("tcp", srv.cfg.Address)
	}
	if err != nil {
		return fmt.Errorf("gateway: bind %s: %w", srv.cfg.Address, err)
	}
	srv.mu.Lock()
	srv.listener = listener
	srv.running = true
	srv.mu.Unlock()
	srv.lg.Infof("gateway: 104 server listening on %s", listener.Addr())

	srv.token = srv.store.AddListener(srv.onPointUpdate)

	for {
		conn, err := listener.Accept()
		if err != nil {
			srv.mu.Lock()
			stillRunning := srv.running
			srv.mu.Unlock()
			if !stillRunning {
				return nil
			}
			srv.lg.Errorf("gateway: accept: %v", err)
			continue
		}
		srv.handleAccept(conn)
	}
}

func (srv *Server) handleAccept(conn net.Conn) {
	srv.mu.Lock()
	if len(srv.conns) >= srv.cfg.MaxConnections {
		srv.mu.Unlock()
		_ = conn.Close()
		srv.logRejected(conn.RemoteAddr().String())
		return
	}
	c := newConnection(conn, srv)
	srv.conns = append(srv.conns, c)
	srv.mu.Unlock()

	go c.serve()
}

func (srv *Server) logRejected(peer string) {
	srv.rejectMu.Lock()
	defer srv.rejectMu.Unlock()

	srv.rejectedSince++
	srv.lastRejectPeer = peer

	if time.Since(srv.lastRejectLog) < RejectLogInterval {
		return
	}
	srv.lg.Warnf("gateway: rejected %d connection(s) since last log, max-connections cap reached, latest peer %s",
		srv.rejectedSince, srv.lastRejectPeer)
	srv.rejectedSince = 0
	srv.lastRejectLog = time.Now()
}

// Addr reports the server's bound listen address. It returns nil until
// Serve has bound its listener.
func (srv *Server) Addr() net.Addr {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.listener == nil {
		return nil
	}
	return srv.listener.Addr()
}

// ActiveConnectionCount reports the current admission-set size.
func (srv *Server) ActiveConnectionCount() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.conns)
}

// removeConnection drops c from the active set. It is invoked by a
// connection's close callback and is idempotent.
func (srv *Server) removeConnection(c *Connection) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	for i, cc := range srv.conns {
		if cc == c {
			srv.conns = append(srv.conns[:i:i], srv.conns[i+1:]...)
			return
		}
	}
}

// onPointUpdate is the store listener callback: it builds a spontaneous
// ASDU and broadcasts it to every active connection, quarantining any
// connection whose send fails.
func (srv *Server) onPointUpdate(p *point.Point) {
	srv.mu.Lock()
	conns := make([]*Connection, len(srv.conns))
	copy(conns, srv.conns)
	srv.mu.Unlock()

	if len(conns) == 0 {
		srv.lg.Info("gateway: no active connections, skipping spontaneous update")
		return
	}

	asdu, ok := asdubuild.Build(p, iec104.CotSpt)
	if !ok {
		return
	}

	var dead []*Connection
	sent := 0
	for _, c := range conns {
		if !c.isActive() {
			dead = append(dead, c)
			continue
		}
		if err := c.send(asdu); err != nil {
			srv.lg.Warnf("gateway: send to client %s failed: %v", c.RemoteAddr(), err)
			c.close()
			dead = append(dead, c)
			continue
		}
		sent++
	}

	if len(dead) > 0 {
		srv.mu.Lock()
		srv.conns = removeAll(srv.conns, dead)
		srv.mu.Unlock()
	}

	srv.lg.Debugf("gateway: spontaneous update for ioa %d sent to %d client(s), %d removed", p.IOA, sent, len(dead))
}

func removeAll(conns []*Connection, dead []*Connection) []*Connection {
	deadSet := make(map[*Connection]struct{}, len(dead))
	for _, c := range dead {
		deadSet[c] = struct{}{}
	}
	out := conns[:0:0]
	for _, c := range conns {
		if _, isDead := deadSet[c]; !isDead {
			out = append(out, c)
		}
	}
	return out
}

// Stop removes the store listener, closes every active connection, and
// stops the listener socket.
func (srv *Server) Stop() {
	srv.mu.Lock()
	srv.running = false
	conns := make([]*Connection, len(srv.conns))
	copy(conns, srv.conns)
	srv.conns = nil
	srv.mu.Unlock()

	srv.store.RemoveListener(srv.token)

	for _, c := range conns {
		c.close()
	}

	if srv.listener != nil {
		_ = srv.listener.Close()
	}
	srv.lg.Info("gateway: 104 server stopped")
}
