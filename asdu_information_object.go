package iec104

import (
	"encoding/binary"
	"time"
)

/*
InformationObject . Each information object is addressed by Information Object
Address (IOA) which identifies the particular data within a defined station. Its length is 3 bytes for IEC 104. The address
is used as destination address in control direction and as source address in monitor direction.
- The third byte of IOA is only used in case of structuring the information object address in order to define unambiguous
  addresses with a specific system.
- If the information object address is not relevant (not used) in some ASDUs, it is set to zero.

All information objects transmitted by one ASDU must have the same ASDU type. If there are more objects of different types
to be transmitted, they are inserted in several ASDUs.

For each defined ASDU type, the IEC 104 standard defines the format of the information object, i.e., what information
elements form such object and how they are structured.
- The following example shows information object Single-point information without time (ASDU type=1). The object format
  has two forms: one for SQ=0 and one for SQ=1. Valid COT for this object are: 2 (background scan), 3 (spontaneous),
  5 (requested), 11, 12 (feedback), 20 +G (interrogated by station interrogation)

        |     Information Object Type 1 (MSpNa1)     |
        | <-                 8 bits                  -> |
        | Information Object Address (IOA)              |
   SQ=0 | IV  | NT  | SB  | BL  |  0  |  0  |  0  | SPI |
  ---------------------------------------------------------
        | <-                 8 bits                  -> |
        | Information Object Address (IOA)              |
   SQ=1 | IV  | NT  | SB  | BL  |  0  |  0  |  0  | SPI |
                                |
                                v
        | IV  | NT  | SB  | BL  |  0  |  0  |  0  | SPI |

- Some information objects contain several information elements. For example, the following example shows information
  object of type 10 (measured value, normalized with time tag). This object is defined only for SQ=0 and contains three
  information elements: normalized value NVA (2 bytes), quality descriptor (1 byte), and binary timestamp (3 bytes).
  For this type of object, valid causes of transmission are 3 (spontaneous), 5 (requested).

        |    Information Object Type 10 (M_ME_TA_1)     |
        | <-                 8 bits                  -> |
        | Information Object Address (IOA)              |
   SQ=0 |                      NVA                      |  normalized value
        |                      NVA                      |
        | IV  | NT  | SB  | BL  |  0  |  0  |  0  | SPI |  quality descriptor
        |                  CP24Time2a                   |  binary timestamp
        |                  CP24Time2a                   |
        |                  CP24Time2a                   |

The number of information objects and information elements within the ASDU is the Number of objects given in the second
byte of ASDU header.
*/
type InformationObject struct {
	ioa IOA
	ies []*InformationElement
}

func (i *InformationObject) Data() []byte {
	data := make([]byte, 0)
	data = append(data, i.serializeIOA()...)
	for _, ie := range i.ies {
		data = append(data, ie.Raw...)
	}
	return data
}

func (i *InformationObject) parseIOA(data []byte) {
	// don't use IOA(binary.LittleEndian.Uint32(append(data, 0x00)))!
	i.ioa = IOA(binary.LittleEndian.Uint32([]byte{data[0], data[1], data[2], 0x00}))
}

func (i *InformationObject) serializeIOA() []byte {
	data := make([]byte, 4, 4)
	binary.LittleEndian.PutUint32(data, uint32(i.ioa))
	return data[:3]
}

// parseCP24Time decodes the three-octet binary time (minute + millisecond,
// no hour, no time zone) and returns it as milliseconds since the start of
// the current hour. See companion standard 101, 7.2.6.19.
func (i *InformationObject) parseCP24Time(data []byte) int32 {
	if len(data) != 3 {
		return 0
	}
	millis := int32(data[0]) | int32(data[1])<<8
	minute := int32(data[2] & 0x3f)
	return minute*60000 + millis
}

// serializeCP24Time encodes t as a CP24Time2a relative to t's own minute and
// millisecond components. The invalid flag (IV, bit 7 of the third octet)
// is left clear.
func serializeCP24Time(t time.Time) []byte {
	_, minute, second := t.Clock()
	millis := uint32(second)*1000 + uint32(t.Nanosecond())/1e6
	b := make([]byte, 3)
	b[0] = byte(millis)
	b[1] = byte(millis >> 8)
	b[2] = byte(minute) & 0x3f
	return b
}

// parseCP56Time decodes the seven-octet binary time (millisecond, minute,
// hour, day, month, year-in-century) into milliseconds since the Unix epoch,
// reading the fields as UTC and assuming the 21st century. The IV bit (byte 2, bit 7) marks the value invalid; in
// that case parseCP56Time returns the zero Unix-millis sentinel.
func (i *InformationObject) parseCP56Time(data []byte) int64 {
	if len(data) != 7 {
		return 0
	}
	if data[2]&0x80 != 0 {
		return 0
	}
	millis := int(data[0]) | int(data[1])<<8
	minute := int(data[2] & 0x3f)
	hour := int(data[3] & 0x1f)
	day := int(data[4] & 0x1f)
	month := time.Month(data[5] & 0x0f)
	year := 2000 + int(data[6]&0x7f)
	sec := millis / 1000
	nsec := (millis % 1000) * 1e6
	t := time.Date(year, month, day, hour, minute, sec, nsec, time.UTC)
	return t.UnixMilli()
}

// serializeCP56Time encodes t as a CP56Time2a, including the day-of-week
// field. The IV bit is left clear; callers representing a missing timestamp
// should send an all-zero buffer with byte 2 set to 0x80 instead of calling
// this function.
func serializeCP56Time(t time.Time) []byte {
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

// invalidCP56Time returns the seven-octet representation of "no timestamp",
// i.e. all-zero with the IV flag set.
func invalidCP56Time() []byte {
	return []byte{0, 0, 0x80, 0, 0, 0, 0}
}

// NewInformationObject builds an information object with a single
// information element addressed at ioa, ready to be attached to an outgoing
// ASDU via AddInformationObject.
func NewInformationObject(ioa IOA, raw []byte) *InformationObject {
	return &InformationObject{
		ioa: ioa,
		ies: []*InformationElement{{Address: ioa, Raw: raw}},
	}
}

func (asdu *ASDU) parseInformationObjects(asduBody []byte) {
	ios := make([]*InformationObject, 0)
	signals := make([]*InformationElement, 0)
	defer func() {
		asdu.ios = ios
		asdu.Signals = signals
	}()

	if asdu.sq {
		io := &InformationObject{}
		io.parseIOA(asduBody[:IOALength])

		size := (len(asduBody) - IOALength) / int(asdu.nObjs)
		for i := 0; i < int(asdu.nObjs); i++ {
			ie := &InformationElement{
				TypeID:  asdu.typeID,
				Address: io.ioa + IOA(i),
			}
			asdu.parseInformationElement(asduBody[IOALength+i*size:IOALength+(i+1)*size], ie)
			io.ies = append(io.ies, ie)

			signals = append(signals, ie)
		}
	} else {
		size := len(asduBody) / int(asdu.nObjs)
		for i := 0; i < int(asdu.nObjs); i++ {
			io := &InformationObject{}
			io.parseIOA(asduBody[i*size : i*size+3])
			{
				ie := &InformationElement{
					TypeID:  asdu.typeID,
					Address: io.ioa,
				}
				asdu.parseInformationElement(asduBody[i*size+IOALength:(i+1)*size], ie)
				io.ies = []*InformationElement{ie}

				signals = append(signals, ie)
			}
			ios = append(ios, io)
		}
	}
}

const (
	IOALength = 3
)

type IOA uint32
