package iec104

import (
	"fmt"
	"io"
	"net"
	"time"
)

// maxApduBodyLen is the largest APCI+ASDU body IEC 104 permits in the
// one-byte length field of the APCI (the field itself could hold up to 255).
const maxApduBodyLen = 253

/*
APDU (Application Protocol Data Unit).

APDU contains an APCI or an APCI with ASDU.

  | <-   8 bits    -> |  -----    -----
  | Start Byte (Ox68) |    |        |
  | Length of APDU    |    |        |
  | Control Field 1   |   APCI     APDU
  | Control Field 2   |    |        |
  | Control Field 3   |    |        |
  | Control Field 4   |    |        |
  | <-   8 bits    -> |  -----    -----
  <-      APDU with fixed length     ->


  | <-   8 bits    -> |  -----    -----
  | Start Byte (Ox68) |    |        |
  | Length of APDU    |    |        |
  | Control Field 1   |   APCI     APDU
  | Control Field 2   |    |        |
  | Control Field 3   |    |        |
  | Control Field 4   |    |        |
  | ASDU              |   ASDU      |
  | <-   8 bits    -> |  -----    -----
  <-    APDU with variable length    ->

*/
type APDU struct {
	APCI *APCI
	ASDU *ASDU
}

// Marshal renders the full wire frame: start byte, length octet, the four
// control fields, and — for I-format APDUs — the encoded ASDU body.
func (apdu *APDU) Marshal() ([]byte, error) {
	if apdu.APCI == nil {
		return nil, fmt.Errorf("iec104: apdu has no apci")
	}
	body := []byte{apdu.APCI.Cf1, apdu.APCI.Cf2, apdu.APCI.Cf3, apdu.APCI.Cf4}
	if apdu.ASDU != nil {
		body = append(body, apdu.ASDU.Data()...)
	}
	if len(body) > maxApduBodyLen {
		return nil, fmt.Errorf("iec104: apdu body of %d bytes exceeds the %d-byte limit", len(body), maxApduBodyLen)
	}
	frame := make([]byte, 0, len(body)+2)
	frame = append(frame, startByte, byte(len(body)))
	frame = append(frame, body...)
	return frame, nil
}

// ParseAPDU interprets a raw APCI(+ASDU) body, i.e. the bytes that follow the
// start byte and length octet on the wire.
func ParseAPDU(body []byte) (*APDU, error) {
	if len(body) < 4 {
		return nil, &ErrShortFrame{Want: 4, Got: len(body)}
	}
	apci := &APCI{Cf1: body[0], Cf2: body[1], Cf3: body[2], Cf4: body[3]}
	apdu := &APDU{APCI: apci}
	if apci.Cf1&0x1 == FrameTypeI && len(body) > 4 {
		asdu := &ASDU{}
		if err := asdu.Parse(body[4:]); err != nil {
			return nil, err
		}
		apdu.ASDU = asdu
	}
	return apdu, nil
}

// ReadAPDU reads exactly one APDU off conn. A non-zero deadline bounds both
// the two-byte header read and the variable-length body read; it is reset on
// every call so a slow-but-alive peer is not penalised across frames.
func ReadAPDU(conn net.Conn, deadline time.Duration) (*APDU, error) {
	if deadline > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(deadline))
	}
	header := make([]byte, 2)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, err
	}
	if header[0] != startByte {
		return nil, &ErrBadStartByte{Got: header[0]}
	}
	body := make([]byte, header[1])
	if len(body) > 0 {
		if _, err := io.ReadFull(conn, body); err != nil {
			return nil, err
		}
	}
	return ParseAPDU(body)
}

// WriteAPDU marshals apdu and writes it to conn in a single Write call.
func WriteAPDU(conn net.Conn, apdu *APDU) error {
	frame, err := apdu.Marshal()
	if err != nil {
		return err
	}
	_, err = conn.Write(frame)
	return err
}
