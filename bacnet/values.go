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
	"fmt"
	"math"
	"strings"
	"unicode/utf16"
)

// Enumerated is an application-tagged ENUMERATED value
type Enumerated uint32

// Double is an application-tagged Double value. Writes of a plain float64
// are encoded as REAL.
type Double float64

// BitString is a BACnet bit string, bit 0 first
type BitString []bool

// Bit returns bit i, false when out of range
func (b BitString) Bit(i int) bool {
	return i >= 0 && i < len(b) && b[i]
}

func (b BitString) String() string {
	var sb strings.Builder
	for _, set := range b {
		if set {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// ServicesSupported is the PROTOCOL_SERVICES_SUPPORTED bit string of a device
type ServicesSupported struct {
	Bits BitString
}

const (
	serviceBitReadProperty         = 12
	serviceBitReadPropertyMultiple = 14
	serviceBitWriteProperty        = 15
)

// NewServicesSupported interprets a decoded property value
func NewServicesSupported(value interface{}) (*ServicesSupported, error) {
	bits, ok := value.(BitString)
	if !ok {
		return nil, fmt.Errorf("%w: services supported is %T", ErrInvalidResponse, value)
	}
	return &ServicesSupported{Bits: bits}, nil
}

// SupportsReadPropertyMultiple reports whether the device executes RPM
func (s *ServicesSupported) SupportsReadPropertyMultiple() bool {
	return s != nil && s.Bits.Bit(serviceBitReadPropertyMultiple)
}

// SupportsWriteProperty reports whether the device executes WriteProperty
func (s *ServicesSupported) SupportsWriteProperty() bool {
	return s != nil && s.Bits.Bit(serviceBitWriteProperty)
}

// Date is a BACnet date. Unspecified fields are 0xFF.
type Date struct {
	Year    int
	Month   uint8
	Day     uint8
	Weekday uint8
}

func (d Date) String() string {
	if d.Month == 0xFF || d.Day == 0xFF || d.Year == 1900+0xFF {
		return "*"
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Time is a BACnet time of day. Unspecified fields are 0xFF.
type Time struct {
	Hour       uint8
	Minute     uint8
	Second     uint8
	Hundredths uint8
}

func (t Time) String() string {
	if t.Hour == 0xFF {
		return "*"
	}
	return fmt.Sprintf("%02d:%02d:%02d.%02d", t.Hour, t.Minute, t.Second, t.Hundredths)
}

// DateTime is a date followed by a time, as in MODIFICATION_DATE
type DateTime struct {
	Date Date
	Time Time
}

func (d DateTime) String() string {
	return d.Date.String() + "T" + d.Time.String()
}

// decodeApplicationValue decodes the content of an application tag
func decodeApplicationValue(t tag, content []byte) (interface{}, error) {
	switch ApplicationTag(t.Number) {
	case TagNull:
		return nil, nil
	case TagBoolean:
		return t.Length == 1, nil
	case TagUnsignedInt:
		return decodeUnsigned(content), nil
	case TagSignedInt:
		return decodeSigned(content), nil
	case TagReal:
		if len(content) != 4 {
			return nil, ErrInvalidResponse
		}
		return math.Float32frombits(binary.BigEndian.Uint32(content)), nil
	case TagDouble:
		if len(content) != 8 {
			return nil, ErrInvalidResponse
		}
		return math.Float64frombits(binary.BigEndian.Uint64(content)), nil
	case TagOctetString:
		return append([]byte(nil), content...), nil
	case TagCharacterString:
		return decodeCharacterString(content), nil
	case TagBitString:
		return decodeBitString(content), nil
	case TagEnumerated:
		return Enumerated(decodeUnsigned(content)), nil
	case TagDate:
		if len(content) != 4 {
			return nil, ErrInvalidResponse
		}
		return Date{Year: 1900 + int(content[0]), Month: content[1], Day: content[2], Weekday: content[3]}, nil
	case TagTime:
		if len(content) != 4 {
			return nil, ErrInvalidResponse
		}
		return Time{Hour: content[0], Minute: content[1], Second: content[2], Hundredths: content[3]}, nil
	case TagObjectID:
		if len(content) != 4 {
			return nil, ErrInvalidResponse
		}
		return DecodeObjectIdentifier(binary.BigEndian.Uint32(content)), nil
	}
	return append([]byte(nil), content...), nil
}

func decodeCharacterString(data []byte) string {
	if len(data) < 1 {
		return ""
	}
	switch data[0] {
	case 4: // UCS-2
		u := make([]uint16, 0, (len(data)-1)/2)
		for i := 1; i+1 < len(data); i += 2 {
			u = append(u, binary.BigEndian.Uint16(data[i:]))
		}
		return string(utf16.Decode(u))
	case 5: // ISO 8859-1
		r := make([]rune, 0, len(data)-1)
		for _, b := range data[1:] {
			r = append(r, rune(b))
		}
		return string(r)
	}
	return string(data[1:])
}

func decodeBitString(data []byte) BitString {
	if len(data) < 1 {
		return nil
	}
	unused := int(data[0])
	n := (len(data)-1)*8 - unused
	if n < 0 {
		return nil
	}
	bits := make(BitString, n)
	for i := range bits {
		bits[i] = data[1+i/8]&(0x80>>(i%8)) != 0
	}
	return bits
}

// decodeValueList decodes the property value between an opening tag and its
// closing tag. It returns the decoded value and the offset of the closing
// tag. One element decodes to the element itself, several to []interface{}.
// A date directly followed by a time is folded into a DateTime.
func decodeValueList(data []byte) (interface{}, int, error) {
	var values []interface{}
	offset := 0

	for offset < len(data) {
		t, hl, err := decodeTag(data[offset:])
		if err != nil {
			return nil, 0, err
		}

		switch {
		case t.Closing:
			return collapse(values), offset, nil

		case t.Opening:
			// Constructed element: keep its raw encoding
			end, err := skipConstructed(data[offset+hl:])
			if err != nil {
				return nil, 0, err
			}
			values = append(values, append([]byte(nil), data[offset:offset+hl+end]...))
			offset += hl + end

		case t.Class == TagClassContext:
			if len(data) < offset+hl+t.Length {
				return nil, 0, ErrInvalidResponse
			}
			values = append(values, append([]byte(nil), data[offset+hl:offset+hl+t.Length]...))
			offset += hl + t.Length

		default:
			content := []byte(nil)
			if ApplicationTag(t.Number) != TagBoolean {
				if len(data) < offset+hl+t.Length {
					return nil, 0, ErrInvalidResponse
				}
				content = data[offset+hl : offset+hl+t.Length]
				offset += t.Length
			}
			offset += hl
			v, err := decodeApplicationValue(t, content)
			if err != nil {
				return nil, 0, err
			}
			values = append(values, v)
		}
	}

	return nil, 0, fmt.Errorf("%w: missing closing tag", ErrInvalidResponse)
}

func collapse(values []interface{}) interface{} {
	if len(values) == 2 {
		if d, ok := values[0].(Date); ok {
			if t, ok := values[1].(Time); ok {
				return DateTime{Date: d, Time: t}
			}
		}
	}
	switch len(values) {
	case 0:
		return nil
	case 1:
		return values[0]
	}
	return values
}

// decodeErrorBody decodes the error class and code of an Error PDU or of a
// property access error.
func decodeErrorBody(data []byte) (*BACnetError, int, error) {
	class, n1, err := readApplicationUnsigned(data)
	if err != nil {
		return nil, 0, err
	}
	code, n2, err := readApplicationUnsigned(data[n1:])
	if err != nil {
		return nil, 0, err
	}
	return NewBACnetError(ErrorClass(class), ErrorCode(code)), n1 + n2, nil
}
