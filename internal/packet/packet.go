// Package packet encodes and decodes E1.31 (sACN) data packets.
package packet

import (
	"bytes"
	"encoding/binary"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Wire offsets of the data packet fields.
const (
	offPreamble      = 0
	offPostamble     = 2
	offPacketID      = 4
	offRootFAL       = 16
	offRootVector    = 18
	offCID           = 22
	offFrameFAL      = 38
	offFrameVector   = 40
	offSourceName    = 44
	offPriority      = 108
	offSyncAddress   = 109
	offSequence      = 111
	offOptions       = 112
	offUniverse      = 113
	offDMPFAL        = 115
	offDMPVector     = 117
	offAddressType   = 118
	offFirstProperty = 119
	offIncrement     = 121
	offValueCount    = 123
	offValues        = 125
)

const (
	preambleSize  = 0x0010
	postambleSize = 0x0000

	vectorRootData  = 0x00000004 // VECTOR_ROOT_E131_DATA
	vectorFrameData = 0x00000002 // VECTOR_E131_DATA_PACKET
	vectorDMPData   = 0x02       // VECTOR_DMP_SET_PROPERTY

	addressType      = 0xa1
	firstProperty    = 0x0000
	addressIncrement = 0x0001

	flagsNibble = 0x7

	// HeaderSize is the number of bytes before the property values.
	HeaderSize = offValues
	// MaxValues is the start code plus 512 channel values.
	MaxValues = 513
	// MaxSize is the size of a full universe packet.
	MaxSize = HeaderSize + MaxValues
	// SourceNameSize is the fixed width of the source name field.
	SourceNameSize = 64
)

// packetID is the ACN packet identifier "ASC-E1.17\0\0\0".
var packetID = [12]byte{0x41, 0x53, 0x43, 0x2d, 0x45, 0x31, 0x2e, 0x31, 0x37, 0x00, 0x00, 0x00}

// Packet is a decoded E1.31 data packet.
type Packet struct {
	CID         uuid.UUID // CID identifies the transmitting source.
	Priority    uint8     // Priority is the per-universe arbitration priority (0-200).
	Sequence    uint8     // Sequence is incremented by the source per packet.
	Universe    uint16    // Universe carried by this packet.
	Data        []byte    // Data[0] is the start code, Data[1:] the channel values.
	SourceLabel string    // SourceLabel is the user facing source name.
}

// StartCode returns the start code of the packet or 0 if it has no data.
func (p *Packet) StartCode() byte {
	if len(p.Data) == 0 {
		return 0
	}
	return p.Data[0]
}

// Channels returns the channel values without the start code.
func (p *Packet) Channels() []byte {
	if len(p.Data) < 2 {
		return nil
	}
	return p.Data[1:]
}

// flagsAndLength encodes the number of bytes from pos to the end of a packet of the given size.
func flagsAndLength(pos, size int) uint16 {
	return uint16(flagsNibble)<<12 | uint16(size-pos)&0x0fff
}

// Parse decodes raw into a Packet. Every constant field is validated and a
// *FormatError naming the first offending field is returned on mismatch.
// The returned packet does not share memory with raw.
func Parse(raw []byte) (*Packet, error) {
	size := len(raw)
	if size < HeaderSize+1 {
		return nil, &FormatError{Field: "length", Got: uint32(size), Want: HeaderSize + 1}
	}

	if err := expect16(raw, offPreamble, preambleSize, "preamble size"); err != nil {
		return nil, err
	}
	if err := expect16(raw, offPostamble, postambleSize, "postamble size"); err != nil {
		return nil, err
	}
	if !bytes.Equal(raw[offPacketID:offRootFAL], packetID[:]) {
		for i := range packetID {
			if raw[offPacketID+i] != packetID[i] {
				return nil, &FormatError{
					Field: "packet identifier",
					Got:   uint32(raw[offPacketID+i]),
					Want:  uint32(packetID[i]),
				}
			}
		}
	}
	if err := expect16(raw, offRootFAL, flagsAndLength(offRootFAL, size), "root flags and length"); err != nil {
		return nil, err
	}
	if err := expect32(raw, offRootVector, vectorRootData, "root vector"); err != nil {
		return nil, err
	}
	if err := expect16(raw, offFrameFAL, flagsAndLength(offFrameFAL, size), "framing flags and length"); err != nil {
		return nil, err
	}
	if err := expect32(raw, offFrameVector, vectorFrameData, "framing vector"); err != nil {
		return nil, err
	}
	if err := expect16(raw, offDMPFAL, flagsAndLength(offDMPFAL, size), "dmp flags and length"); err != nil {
		return nil, err
	}
	if err := expect8(raw, offDMPVector, vectorDMPData, "dmp vector"); err != nil {
		return nil, err
	}
	if err := expect8(raw, offAddressType, addressType, "address and data type"); err != nil {
		return nil, err
	}
	if err := expect16(raw, offFirstProperty, firstProperty, "first property address"); err != nil {
		return nil, err
	}
	if err := expect16(raw, offIncrement, addressIncrement, "address increment"); err != nil {
		return nil, err
	}

	count := int(binary.BigEndian.Uint16(raw[offValueCount:]))
	if count != size-offValues || count > MaxValues {
		want := size - offValues
		if want > MaxValues {
			want = MaxValues
		}
		return nil, &FormatError{Field: "property value count", Got: uint32(count), Want: uint32(want)}
	}

	p := &Packet{
		Priority:    raw[offPriority],
		Sequence:    raw[offSequence],
		Universe:    binary.BigEndian.Uint16(raw[offUniverse:]),
		Data:        append([]byte(nil), raw[offValues:offValues+count]...),
		SourceLabel: string(bytes.TrimRight(raw[offSourceName:offPriority], "\x00")),
	}
	copy(p.CID[:], raw[offCID:offFrameFAL])
	return p, nil
}

// Build encodes p. The result is exactly HeaderSize+len(p.Data) bytes long;
// data beyond MaxValues is cut off and the label is cut at the last whole
// rune within SourceNameSize bytes. Empty data is sent as a lone zero start
// code. Priority and sequence are written as given.
func Build(p *Packet) []byte {
	data := p.Data
	if len(data) == 0 {
		data = []byte{0}
	}
	if len(data) > MaxValues {
		data = data[:MaxValues]
	}
	size := HeaderSize + len(data)
	buf := make([]byte, size)

	// root layer
	binary.BigEndian.PutUint16(buf[offPreamble:], preambleSize)
	binary.BigEndian.PutUint16(buf[offPostamble:], postambleSize)
	copy(buf[offPacketID:], packetID[:])
	binary.BigEndian.PutUint16(buf[offRootFAL:], flagsAndLength(offRootFAL, size))
	binary.BigEndian.PutUint32(buf[offRootVector:], vectorRootData)
	copy(buf[offCID:], p.CID[:])

	// framing layer
	binary.BigEndian.PutUint16(buf[offFrameFAL:], flagsAndLength(offFrameFAL, size))
	binary.BigEndian.PutUint32(buf[offFrameVector:], vectorFrameData)
	copy(buf[offSourceName:offPriority], truncateLabel(p.SourceLabel))
	buf[offPriority] = p.Priority
	buf[offSequence] = p.Sequence
	binary.BigEndian.PutUint16(buf[offUniverse:], p.Universe)

	// dmp layer
	binary.BigEndian.PutUint16(buf[offDMPFAL:], flagsAndLength(offDMPFAL, size))
	buf[offDMPVector] = vectorDMPData
	buf[offAddressType] = addressType
	binary.BigEndian.PutUint16(buf[offFirstProperty:], firstProperty)
	binary.BigEndian.PutUint16(buf[offIncrement:], addressIncrement)
	binary.BigEndian.PutUint16(buf[offValueCount:], uint16(len(data)))
	copy(buf[offValues:], data)

	return buf
}

func truncateLabel(s string) string {
	if len(s) <= SourceNameSize {
		return s
	}
	n := SourceNameSize
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func expect8(raw []byte, off int, want uint8, field string) error {
	if got := raw[off]; got != want {
		return &FormatError{Field: field, Got: uint32(got), Want: uint32(want)}
	}
	return nil
}

func expect16(raw []byte, off int, want uint16, field string) error {
	if got := binary.BigEndian.Uint16(raw[off:]); got != want {
		return &FormatError{Field: field, Got: uint32(got), Want: uint32(want)}
	}
	return nil
}

func expect32(raw []byte, off int, want uint32, field string) error {
	if got := binary.BigEndian.Uint32(raw[off:]); got != want {
		return &FormatError{Field: field, Got: got, Want: want}
	}
	return nil
}
