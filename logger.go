package iec104

import (
	"encoding/binary"

	"github.com/sirupsen/logrus"
)

var _lg = logrus.New()

// SetLogger replaces the package-wide logger used by the transport layer
// (APCI/APDU framing, connection read/write loops). Callers that embed this
// package in a larger service should call it once at startup with their own
// configured *logrus.Logger.
func SetLogger(lg *logrus.Logger) {
	if lg != nil {
		_lg = lg
	}
}

func serializeBigEndianUint16(i uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, i)
	return b
}

func parseLittleEndianUint16(x []byte) uint16 {
	return binary.LittleEndian.Uint16(x)
}

func parseLittleEndianInt16(x []byte) int16 {
	return int16(parseLittleEndianUint16(x))
}

func serializeLittleEndianUint16(i uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, i)
	return b
}

func parseLittleEndianUint32(x []byte) uint32 {
	return binary.LittleEndian.Uint32(x)
}

func parseLittleEndianInt32(x []byte) int32 {
	return int32(parseLittleEndianUint32(x))
}

func serializeLittleEndianUint32(i uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, i)
	return b
}

type cmdRsp struct {
	err error
}
