// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bacnet

import (
	"encoding/binary"
	"math"
)

// Tag encoding helpers. All of them append to buf and return the extended
// slice so requests are built in a single buffer.

func appendTag(buf []byte, tagNum uint8, class TagClass, length int) []byte {
	first := uint8(class) << 3
	if tagNum < 15 {
		first |= tagNum << 4
	} else {
		first |= 0xF0
	}
	if length < 5 {
		first |= uint8(length)
	} else {
		first |= 0x05
	}

	buf = append(buf, first)
	if tagNum >= 15 {
		buf = append(buf, tagNum)
	}

	switch {
	case length < 5:
	case length < 254:
		buf = append(buf, byte(length))
	case length < 65536:
		buf = append(buf, 254)
		buf = binary.BigEndian.AppendUint16(buf, uint16(length))
	default:
		buf = append(buf, 255)
		buf = binary.BigEndian.AppendUint32(buf, uint32(length))
	}
	return buf
}

func appendOpeningTag(buf []byte, tagNum uint8) []byte {
	if tagNum < 15 {
		return append(buf, tagNum<<4|0x0E)
	}
	return append(buf, 0xFE, tagNum)
}

func appendClosingTag(buf []byte, tagNum uint8) []byte {
	if tagNum < 15 {
		return append(buf, tagNum<<4|0x0F)
	}
	return append(buf, 0xFF, tagNum)
}

// unsignedBytes returns the minimal big-endian encoding of v
func unsignedBytes(v uint32) []byte {
	switch {
	case v < 0x100:
		return []byte{byte(v)}
	case v < 0x10000:
		return []byte{byte(v >> 8), byte(v)}
	case v < 0x1000000:
		return []byte{byte(v >> 16), byte(v >> 8), byte(v)}
	}
	return binary.BigEndian.AppendUint32(nil, v)
}

func signedBytes(v int32) []byte {
	switch {
	case v >= -128 && v < 128:
		return []byte{byte(v)}
	case v >= -32768 && v < 32768:
		return []byte{byte(v >> 8), byte(v)}
	case v >= -8388608 && v < 8388608:
		return []byte{byte(v >> 16), byte(v >> 8), byte(v)}
	}
	return binary.BigEndian.AppendUint32(nil, uint32(v))
}

func appendContextUnsigned(buf []byte, tagNum uint8, v uint32) []byte {
	data := unsignedBytes(v)
	buf = appendTag(buf, tagNum, TagClassContext, len(data))
	return append(buf, data...)
}

func appendContextObjectID(buf []byte, tagNum uint8, oid ObjectIdentifier) []byte {
	buf = appendTag(buf, tagNum, TagClassContext, 4)
	return binary.BigEndian.AppendUint32(buf, oid.Encode())
}

func appendApplication(buf []byte, tag ApplicationTag, data []byte) []byte {
	buf = appendTag(buf, uint8(tag), TagClassApplication, len(data))
	return append(buf, data...)
}

// appendApplicationValue encodes a Go value with its natural application tag.
func appendApplicationValue(buf []byte, value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return append(buf, byte(TagNull)<<4), nil
	case bool:
		// Boolean carries its value in the length field
		if v {
			return append(buf, byte(TagBoolean)<<4|1), nil
		}
		return append(buf, byte(TagBoolean)<<4), nil
	case uint32:
		return appendApplication(buf, TagUnsignedInt, unsignedBytes(v)), nil
	case uint:
		return appendApplication(buf, TagUnsignedInt, unsignedBytes(uint32(v))), nil
	case int:
		if v >= 0 {
			return appendApplication(buf, TagUnsignedInt, unsignedBytes(uint32(v))), nil
		}
		return appendApplication(buf, TagSignedInt, signedBytes(int32(v))), nil
	case int32:
		return appendApplication(buf, TagSignedInt, signedBytes(v)), nil
	case float32:
		return appendApplication(buf, TagReal, binary.BigEndian.AppendUint32(nil, math.Float32bits(v))), nil
	case float64:
		// Most devices only accept REAL for analog present values
		return appendApplication(buf, TagReal, binary.BigEndian.AppendUint32(nil, math.Float32bits(float32(v)))), nil
	case Double:
		return appendApplication(buf, TagDouble, binary.BigEndian.AppendUint64(nil, math.Float64bits(float64(v)))), nil
	case string:
		return appendApplication(buf, TagCharacterString, append([]byte{0}, v...)), nil
	case Enumerated:
		return appendApplication(buf, TagEnumerated, unsignedBytes(uint32(v))), nil
	case ObjectIdentifier:
		return appendApplication(buf, TagObjectID, binary.BigEndian.AppendUint32(nil, v.Encode())), nil
	case []byte:
		return appendApplication(buf, TagOctetString, v), nil
	}
	return buf, ErrUnsupportedValue
}

// tag is a decoded tag header
type tag struct {
	Number  uint8
	Class   TagClass
	Length  int
	Opening bool
	Closing bool
}

// IsContext reports whether t is the primitive context tag n
func (t tag) IsContext(n uint8) bool {
	return t.Class == TagClassContext && t.Number == n && !t.Opening && !t.Closing
}

// IsOpening reports whether t opens context tag n
func (t tag) IsOpening(n uint8) bool {
	return t.Opening && t.Number == n
}

// IsClosing reports whether t closes context tag n
func (t tag) IsClosing(n uint8) bool {
	return t.Closing && t.Number == n
}

// decodeTag reads a tag header and returns it with its header length
func decodeTag(data []byte) (tag, int, error) {
	if len(data) < 1 {
		return tag{}, 0, ErrInvalidAPDU
	}

	t := tag{
		Number: data[0] >> 4,
		Class:  TagClass((data[0] >> 3) & 0x01),
	}
	lvt := data[0] & 0x07
	n := 1

	if t.Number == 0x0F {
		if len(data) < 2 {
			return tag{}, 0, ErrInvalidAPDU
		}
		t.Number = data[1]
		n = 2
	}

	if t.Class == TagClassContext {
		switch lvt {
		case 6:
			t.Opening = true
			return t, n, nil
		case 7:
			t.Closing = true
			return t, n, nil
		}
	}

	if lvt < 5 {
		t.Length = int(lvt)
		return t, n, nil
	}

	if len(data) < n+1 {
		return tag{}, 0, ErrInvalidAPDU
	}
	switch ext := data[n]; {
	case ext < 254:
		t.Length = int(ext)
		n++
	case ext == 254:
		if len(data) < n+3 {
			return tag{}, 0, ErrInvalidAPDU
		}
		t.Length = int(binary.BigEndian.Uint16(data[n+1:]))
		n += 3
	default:
		if len(data) < n+5 {
			return tag{}, 0, ErrInvalidAPDU
		}
		t.Length = int(binary.BigEndian.Uint32(data[n+1:]))
		n += 5
	}
	return t, n, nil
}

// decodeUnsigned decodes an unsigned integer of 1 to 4 bytes
func decodeUnsigned(data []byte) uint32 {
	var v uint32
	for _, b := range data {
		v = v<<8 | uint32(b)
	}
	return v
}

func decodeSigned(data []byte) int32 {
	if len(data) == 0 {
		return 0
	}
	v := int32(int8(data[0]))
	for _, b := range data[1:] {
		v = v<<8 | int32(b)
	}
	return v
}

// readContextUnsigned reads the primitive context tag n at data and
// returns its value and the bytes consumed.
func readContextUnsigned(data []byte, n uint8) (uint32, int, error) {
	t, hl, err := decodeTag(data)
	if err != nil {
		return 0, 0, err
	}
	if !t.IsContext(n) || len(data) < hl+t.Length {
		return 0, 0, ErrInvalidResponse
	}
	return decodeUnsigned(data[hl : hl+t.Length]), hl + t.Length, nil
}

// readApplicationUnsigned reads an application tagged unsigned or enumerated
func readApplicationUnsigned(data []byte) (uint32, int, error) {
	t, hl, err := decodeTag(data)
	if err != nil {
		return 0, 0, err
	}
	if t.Class != TagClassApplication || len(data) < hl+t.Length {
		return 0, 0, ErrInvalidResponse
	}
	return decodeUnsigned(data[hl : hl+t.Length]), hl + t.Length, nil
}

// skipConstructed returns the offset just past the closing tag that matches
// the opening tag already consumed.
func skipConstructed(data []byte) (int, error) {
	depth := 1
	offset := 0
	for offset < len(data) {
		t, hl, err := decodeTag(data[offset:])
		if err != nil {
			return 0, err
		}
		offset += hl
		switch {
		case t.Opening:
			depth++
		case t.Closing:
			depth--
			if depth == 0 {
				return offset, nil
			}
		case t.Class == TagClassApplication && t.Number == uint8(TagBoolean):
		default:
			offset += t.Length
		}
	}
	return 0, ErrInvalidResponse
}
