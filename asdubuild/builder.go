// Package asdubuild turns a canonical point.Point into a fully-formed IEC
// 104 ASDU for a chosen cause of transmission. It is the only place in the
// gateway that knows the bit-exact layout of the emitted type identifiers.
package asdubuild

import (
	"time"

	"github.com/sirupsen/logrus"

	iec104 "github.com/openfieldgw/iec104-gateway"
	"github.com/openfieldgw/iec104-gateway/point"
)

var lg = logrus.New()

// SetLogger replaces the package-wide logger used to report encoding
// failures.
func SetLogger(l *logrus.Logger) {
	if l != nil {
		lg = l
	}
}

// Build produces an ASDU carrying p's current value with the given cause
// of transmission. It returns (nil, false) on any encoding error, per the
// "no ASDU on failure" contract: the caller must skip the point rather
// than propagate an error.
//
// Unknown or Unset asdu types fall back to M_ME_NC_1 (short floating point
// number), matching the documented default.
func Build(p *point.Point, cot iec104.COT) (*iec104.ASDU, bool) {
	if p == nil {
		lg.Error("asdubuild: refusing to encode a nil point")
		return nil, false
	}

	asduType := p.AsduType
	switch asduType {
	case point.MSpNa1, point.MSpTb1, point.MMeNb1, point.MMeNc1, point.MMeTf1:
	default:
		asduType = point.MMeNc1
	}

	ioa := iec104.IOA(p.IOA)
	quality := qualityFor(p)

	var typeID iec104.TypeID
	var raw []byte

	switch asduType {
	case point.MSpNa1:
		typeID = iec104.MSpNa1
		raw = []byte{iec104.EncodeSIQ(siqValue(p), quality)}
	case point.MSpTb1:
		typeID = iec104.MSpTb1
		raw = append([]byte{iec104.EncodeSIQ(siqValue(p), quality)}, timeBytes(p)...)
	case point.MMeNb1:
		typeID = iec104.MMeNb1
		raw = append(scaledBytes(p), byte(quality))
	case point.MMeNc1:
		typeID = iec104.MMeNc1
		raw = append(floatBytes(p), byte(quality))
	case point.MMeTf1:
		typeID = iec104.MMeTf1
		raw = append(floatBytes(p), byte(quality))
		raw = append(raw, timeBytes(p)...)
	default:
		lg.Errorf("asdubuild: unsupported asdu type %v for ioa %d", asduType, p.IOA)
		return nil, false
	}

	asdu := iec104.NewASDU(typeID, false, cot, iec104.COA(p.CommonAddress))
	asdu.AddInformationObject(iec104.NewInformationObject(ioa, raw))
	return asdu, true
}

// qualityFor sets IV=!valid and leaves OV/BL/SB/NT clear, per the
// documented quality rule: the gateway has no source for those bits.
func qualityFor(p *point.Point) iec104.QualityDescriptor {
	if !p.Valid {
		return iec104.IV
	}
	return 0
}

// siqValue widens the point to the float64 form iec104.EncodeSIQ expects: 1
// for true, 0 for false. Numeric variants report true iff non-zero; Bytes
// and String variants report as false.
func siqValue(p *point.Point) float64 {
	b, err := p.AsBool()
	if err != nil || !b {
		return 0
	}
	return 1
}

// scaledBytes coerces the point's value to an integer and clamps it to the
// INT16 range, silently, per the documented rule.
func scaledBytes(p *point.Point) []byte {
	f, err := p.AsFloat()
	if err != nil {
		f = 0
	}
	return iec104.EncodeScaled(clampInt16(f))
}

func clampInt16(f float64) int16 {
	if f > 32767 {
		return 32767
	}
	if f < -32768 {
		return -32768
	}
	return int16(f)
}

// floatBytes coerces the point's value to float32; a non-numeric variant
// encodes as 0.0.
func floatBytes(p *point.Point) []byte {
	f, err := p.AsFloat()
	if err != nil {
		f = 0
	}
	return iec104.EncodeFloat32(float32(f))
}

// timeBytes encodes CP56Time2a from p.Timestamp, or from the current
// gateway wall clock when the point carries no source timestamp.
func timeBytes(p *point.Point) []byte {
	t := time.Now().UTC()
	if p.Timestamp > 0 {
		t = time.UnixMilli(p.Timestamp).UTC()
	}
	return encodeCP56(t)
}

// encodeCP56 mirrors the root package's own CP56Time2a wire layout.
func encodeCP56(t time.Time) []byte {
	year, month, day := t.Date()
	hour, minute, second := t.Clock()
	millis := uint32(second)*1000 + uint32(t.Nanosecond())/1e6
	dayByte := byte(day&0x1f) | byte(t.Weekday()+1)<<5
	b := make([]byte, 7)
	b[0] = byte(millis)
	b[1] = byte(millis >> 8)
	b[2] = byte(minute) & 0x3f
	b[3] = byte(hour) & 0x1f
	b[4] = dayByte
	b[5] = byte(month) & 0x0f
	b[6] = byte(year % 100)
	return b
}
