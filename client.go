package iec104

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// NewClient constructs a Client (IEC 104 calls this the controlling station
// or master). It is primarily exercised by the gateway's own test suite to
// drive a server implementation end to end, but it is a fully functional
// client against any compliant IEC 104 controlled station.
func NewClient(address string, timeout time.Duration, tc *tls.Config, lg *logrus.Logger) *Client {
	if lg == nil {
		lg = _lg
	}
	return &Client{
		address: address,
		tc:      tc,
		timeout: timeout,

		sendChan: make(chan *APDU, 16),
		recvChan: make(chan *APDU, 1),
		asduChan: make(chan *ASDU, 64),
		lg:       lg,
	}
}

// Client in IEC 104 is also called master or controlling station.
// Server in IEC 104 is also called slave or controlled station.
type Client struct {
	address string      // address of the iec104 server
	tc      *tls.Config // whether we need secure network transmission using TLS
	conn    net.Conn    // network channel with the iec104 substation/server
	timeout time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup

	sendChan chan *APDU // outgoing APDUs, serialized onto the wire by one goroutine
	recvChan chan *APDU // U-frame replies awaited synchronously (StartDTC/StopDTC)
	asduChan chan *ASDU // I-frame payloads delivered to the caller

	mu         sync.Mutex
	connected  bool
	ssn, rsn   uint16 // send sequence number, receive sequence number
	unackedRcv int    // I-frames received since the last S-frame ack
}

// Connect dials the server, starts the STARTDT handshake and the
// read/write pumps, and blocks until the server confirms data transfer.
func (c *Client) Connect() error {
	if err := c.dial(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(2)
	go c.writingToSocket(ctx)
	go c.readingFromSocket(ctx)

	c.sendUFrame(UFrameFunctionStartDTA)
	select {
	case <-c.recvChan: // StartDTC
	case <-time.After(c.deadline()):
		return fmt.Errorf("iec104: client: timed out waiting for StartDTC")
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

func (c *Client) deadline() time.Duration {
	if c.timeout > 0 {
		return c.timeout
	}
	return 15 * time.Second
}

func (c *Client) dial() (err error) {
	var conn net.Conn
	if c.tc != nil {
		conn, err = tls.Dial("tcp", c.address, c.tc)
	} else {
		conn, err = net.Dial("tcp", c.address)
	}
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

func (c *Client) writingToSocket(ctx context.Context) {
	defer c.wg.Done()
	c.lg.Debug("client: start goroutine for writing to socket")
	defer c.lg.Debug("client: stop goroutine for writing to socket")

	for {
		select {
		case <-ctx.Done():
			return
		case apdu := <-c.sendChan:
			if err := WriteAPDU(c.conn, apdu); err != nil {
				c.lg.Errorf("client: write to socket: %s", err.Error())
			}
		}
	}
}

func (c *Client) readingFromSocket(ctx context.Context) {
	defer c.wg.Done()
	c.lg.Debug("client: start goroutine for reading from socket")
	defer c.lg.Debug("client: stop goroutine for reading from socket")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		apdu, err := ReadAPDU(c.conn, c.timeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.lg.Errorf("client: read from socket: %v", err)
			return
		}

		switch {
		case apdu.APCI.Cf1&0x3 == FrameTypeU:
			c.handleUFrame(apdu)
		case apdu.APCI.Cf1&0x1 == FrameTypeI:
			c.handleIFrame(apdu)
		case apdu.APCI.Cf1&0x3 == FrameTypeS:
			// S-frames only acknowledge; nothing to deliver.
		}
	}
}

func (c *Client) handleUFrame(apdu *APDU) {
	switch apdu.APCI.Cf1 {
	case UFrameFunctionStartDTA[0]:
		c.lg.Debug("client: receive u frame: StartDTA")
	case UFrameFunctionStartDTC[0]:
		c.lg.Debug("client: receive u frame: StartDTC")
		c.recvChan <- apdu
	case UFrameFunctionStopDTA[0]:
		c.lg.Debug("client: receive u frame: StopDTA")
	case UFrameFunctionStopDTC[0]:
		c.lg.Debug("client: receive u frame: StopDTC")
		c.recvChan <- apdu
	case UFrameFunctionTestFA[0]:
		c.lg.Debug("client: receive u frame: TestFA")
		c.sendUFrame(UFrameFunctionTestFC)
	case UFrameFunctionTestFC[0]:
		c.lg.Debug("client: receive u frame: TestFC")
	}
}

func (c *Client) handleIFrame(apdu *APDU) {
	c.mu.Lock()
	c.rsn++
	c.unackedRcv++
	needAck := c.unackedRcv >= 8
	if needAck {
		c.unackedRcv = 0
	}
	rsn := c.rsn
	c.mu.Unlock()

	if needAck {
		c.sendChan <- &APDU{APCI: &APCI{Cf1: 0b1, Cf3: byte(rsn << 1), Cf4: byte(rsn >> 7)}}
	}
	if apdu.ASDU != nil {
		select {
		case c.asduChan <- apdu.ASDU:
		default:
			c.lg.Warn("client: asdu channel full, dropping received asdu")
		}
	}
}

// ASDUs returns the channel on which received I-frame payloads are
// delivered.
func (c *Client) ASDUs() <-chan *ASDU { return c.asduChan }

// IsConnected reports whether the STARTDT handshake completed and Close has
// not since been called.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close performs the STOPDT handshake and tears down the connection.
func (c *Client) Close() {
	c.sendUFrame(UFrameFunctionStopDTA)
	select {
	case <-c.recvChan: // StopDTC
	case <-time.After(c.deadline()):
	}

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.wg.Wait()
}

// Send transmits asdu in an I-format APDU, stamping the current send
// sequence number.
func (c *Client) Send(asdu *ASDU) error {
	c.mu.Lock()
	ssn := c.ssn
	c.ssn++
	rsn := c.rsn
	c.mu.Unlock()

	apci := &APCI{
		Cf1: byte(ssn << 1),
		Cf2: byte(ssn >> 7),
		Cf3: byte(rsn << 1),
		Cf4: byte(rsn >> 7),
	}
	apdu := &APDU{APCI: apci, ASDU: asdu}
	select {
	case c.sendChan <- apdu:
		return nil
	default:
		return fmt.Errorf("iec104: client send queue full")
	}
}

func (c *Client) sendUFrame(x UFrameFunction) {
	name := ""
	switch x[0] {
	case UFrameFunctionStartDTA[0]:
		name = "StartDTA"
	case UFrameFunctionStartDTC[0]:
		name = "StartDTC"
	case UFrameFunctionStopDTA[0]:
		name = "StopDTA"
	case UFrameFunctionStopDTC[0]:
		name = "StopDTC"
	case UFrameFunctionTestFA[0]:
		name = "TestFA"
	case UFrameFunctionTestFC[0]:
		name = "TestFC"
	}
	c.lg.Debugf("client: send u frame: %s", name)
	c.sendChan <- &APDU{APCI: &APCI{Cf1: x[0], Cf2: x[1], Cf3: x[2], Cf4: x[3]}}
}
