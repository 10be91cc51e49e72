package gateway

import (
	"fmt"
	"net"
	"sync"
	"time"

	iec104 "github.com/openfieldgw/iec104-gateway"
	"github.com/openfieldgw/iec104-gateway/asdubuild"
)

// defaultReadTimeout bounds each ReadAPDU call when a Server's Config does
// not set one, so a connection that never speaks is still discovered dead
// rather than pinning a read goroutine forever.
const defaultReadTimeout = 90 * time.Second

// Connection is the per-client handler described in spec.md §4.5: it is the
// protocol listener for one accepted socket, responsible for inbound
// command dispatch (General/Counter Interrogation, Clock Synchronization)
// and for spontaneous sends pushed by the store's dispatcher.
type Connection struct {
	conn   net.Conn
	server *Server

	mu     sync.Mutex
	active bool
	ssn    uint16
	rsn    uint16

	closeOnce sync.Once
}

func newConnection(conn net.Conn, srv *Server) *Connection {
	return &Connection{conn: conn, server: srv, active: true}
}

// RemoteAddr identifies this connection's peer, for logging.
func (c *Connection) RemoteAddr() string { return c.conn.RemoteAddr().String() }

func (c *Connection) isActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// serve is the connection's read loop. It runs on its own goroutine for the
// lifetime of the socket; it returns, and calls close, when the peer
// disconnects or a read fails.
func (c *Connection) serve() {
	defer c.close()

	timeout := c.server.cfg.ReadTimeout
	if timeout <= 0 {
		timeout = defaultReadTimeout
	}

	for {
		apdu, err := iec104.ReadAPDU(c.conn, timeout)
		if err != nil {
			if !c.isActive() {
				return
			}
			c.server.lg.Debugf("gateway: connection %s closed: %v", c.RemoteAddr(), err)
			return
		}
		c.handleAPDU(apdu)
	}
}

func (c *Connection) handleAPDU(apdu *iec104.APDU) {
	if apdu.APCI == nil {
		return
	}
	switch {
	case apdu.APCI.Cf1&0x3 == iec104.FrameTypeU:
		c.handleUFrame(apdu.APCI)
	case apdu.APCI.Cf1&0x1 == iec104.FrameTypeI:
		c.handleIFrame(apdu)
	default:
		// S-frame: acknowledgement only, nothing to act on.
	}
}

func (c *Connection) handleUFrame(apci *iec104.APCI) {
	switch apci.Cf1 {
	case iec104.UFrameFunctionStartDTA[0]:
		c.server.lg.Debugf("gateway: %s: StartDT activation", c.RemoteAddr())
		c.sendUFrame(iec104.UFrameFunctionStartDTC)
	case iec104.UFrameFunctionStopDTA[0]:
		c.server.lg.Debugf("gateway: %s: StopDT activation", c.RemoteAddr())
		c.sendUFrame(iec104.UFrameFunctionStopDTC)
	case iec104.UFrameFunctionTestFA[0]:
		c.sendUFrame(iec104.UFrameFunctionTestFC)
	}
}

func (c *Connection) sendUFrame(fn iec104.UFrameFunction) {
	apdu := &iec104.APDU{APCI: &iec104.APCI{Cf1: fn[0], Cf2: fn[1], Cf3: fn[2], Cf4: fn[3]}}
	if err := iec104.WriteAPDU(c.conn, apdu); err != nil {
		c.server.lg.Warnf("gateway: %s: write u-frame: %v", c.RemoteAddr(), err)
	}
}

// handleIFrame advances the receive sequence number (reported as N(R) on the
// connection's next I-frame; no S-frame is sent) and dispatches the carried
// ASDU to the command handler.
func (c *Connection) handleIFrame(apdu *iec104.APDU) {
	c.mu.Lock()
	c.rsn++
	c.mu.Unlock()

	if apdu.ASDU != nil {
		c.dispatchCommand(apdu.ASDU)
	}
}

// dispatchCommand implements spec.md §4.5's inbound command surface:
// C_IC_NA_1 and C_CI_NA_1 both reply with the full snapshot framed as an
// interrogation sequence; C_CS_NA_1 only confirms; any other type identifier
// gets an UNKNOWN_TYPE_ID echo.
func (c *Connection) dispatchCommand(asdu *iec104.ASDU) {
	switch asdu.TypeID() {
	case iec104.CIcNa1:
		c.runInterrogation(asdu, iec104.CIcNa1)
	case iec104.CCiNa1:
		// The source repo sends the full snapshot here too, noting it
		// should filter to integrated-total (M_IT_*) points but does not.
		// That behaviour is preserved; see the open-question note in
		// DESIGN.md.
		c.runInterrogation(asdu, iec104.CCiNa1)
	case iec104.CCsNa1:
		c.replyActivationCon(asdu)
	default:
		c.replyUnknownType(asdu)
	}
}

func (c *Connection) runInterrogation(asdu *iec104.ASDU, typeID iec104.TypeID) {
	c.replyActivationCon(asdu)

	ca := uint16(asdu.COA())
	for _, p := range c.server.store.Snapshot(ca) {
		reply, ok := asdubuild.Build(p, iec104.CotInrogen)
		if !ok {
			continue
		}
		if err := c.send(reply); err != nil {
			c.server.lg.Warnf("gateway: %s: interrogation send: %v", c.RemoteAddr(), err)
			c.close()
			return
		}
	}

	c.replyActivationTermination(typeID, asdu.COA(), asdu.Originator())
}

func (c *Connection) replyActivationCon(req *iec104.ASDU) {
	reply := iec104.NewASDU(req.TypeID(), false, iec104.CotActCon, req.COA()).SetOriginator(req.Originator())
	reply.AddInformationObject(echoInformationObject(req))
	_ = c.send(reply)
}

func (c *Connection) replyActivationTermination(typeID iec104.TypeID, coa iec104.COA, org iec104.ORG) {
	reply := iec104.NewASDU(typeID, false, iec104.CotActTerm, coa).SetOriginator(org)
	reply.AddInformationObject(iec104.NewInformationObject(0, []byte{0}))
	_ = c.send(reply)
}

func (c *Connection) replyUnknownType(req *iec104.ASDU) {
	reply := iec104.NewASDU(req.TypeID(), false, iec104.CotUnType, req.COA()).SetOriginator(req.Originator())
	reply.AddInformationObject(echoInformationObject(req))
	_ = c.send(reply)
}

// echoInformationObject rebuilds the single information object carried by
// an inbound command ASDU, for echoing back in ACTIVATION_CON / UNKNOWN_TYPE
// replies. Commands carry exactly one information object per spec.md §4.5.
func echoInformationObject(req *iec104.ASDU) *iec104.InformationObject {
	if len(req.Signals) == 0 {
		return iec104.NewInformationObject(0, []byte{0})
	}
	sig := req.Signals[0]
	return iec104.NewInformationObject(sig.Address, sig.Raw)
}

// send transmits asdu as an I-format APDU, stamping the connection's own
// send sequence number and the latest acknowledged receive sequence number.
func (c *Connection) send(asdu *iec104.ASDU) error {
	if !c.isActive() {
		return fmt.Errorf("gateway: connection %s is closed", c.RemoteAddr())
	}

	c.mu.Lock()
	ssn, rsn := c.ssn, c.rsn
	c.ssn++
	c.mu.Unlock()

	apci := &iec104.APCI{
		Cf1: byte(ssn << 1),
		Cf2: byte(ssn >> 7),
		Cf3: byte(rsn << 1),
		Cf4: byte(rsn >> 7),
	}
	return iec104.WriteAPDU(c.conn, &iec104.APDU{APCI: apci, ASDU: asdu})
}

// close is idempotent: a second call is a no-op. It flips active false,
// closes the socket, and tells the server to drop this connection from the
// active set.
func (c *Connection) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.active = false
		c.mu.Unlock()

		_ = c.conn.Close()
		c.server.removeConnection(c)
	})
}
