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
	"net"
)

const (
	bvlcHeaderLen = 4
	npduVersion   = 0x01
	hopCountMax   = 0xFF
)

// BVLCHeader is the BACnet Virtual Link Control header
type BVLCHeader struct {
	Type     BVLCType
	Function BVLCFunction
	Length   uint16
}

// DecodeBVLC decodes a BVLC header
func DecodeBVLC(data []byte) (*BVLCHeader, error) {
	if len(data) < bvlcHeaderLen || BVLCType(data[0]) != BVLCTypeBACnetIP {
		return nil, ErrInvalidBVLC
	}
	h := &BVLCHeader{
		Type:     BVLCType(data[0]),
		Function: BVLCFunction(data[1]),
		Length:   binary.BigEndian.Uint16(data[2:4]),
	}
	if int(h.Length) > len(data) || h.Length < bvlcHeaderLen {
		return nil, fmt.Errorf("%w: length %d exceeds datagram %d", ErrInvalidBVLC, h.Length, len(data))
	}
	return h, nil
}

// NPDU (Network Protocol Data Unit)
type NPDU struct {
	Control      NPDUControl
	DestNet      uint16
	DestAddr     []byte
	DestHopCount uint8
	SrcNet       uint16
	SrcAddr      []byte
	MessageType  NetworkMessageType
}

// IsNetworkMessage reports whether the NPDU carries a network layer message
// instead of an APDU.
func (n *NPDU) IsNetworkMessage() bool {
	return n.Control&NPDUControlNetworkLayerMessage != 0
}

// appendNPDU writes the network header for dest. Remote stations get a
// DNET/DADR destination specifier so the router on dest.IP forwards the
// message. A global broadcast uses DNET 0xFFFF with an empty DADR.
func appendNPDU(buf []byte, dest Address, global, expectingReply bool) []byte {
	control := NPDUControlPriorityNormal
	if expectingReply {
		control |= NPDUControlExpectingReply
	}

	routed := dest.IsRemote() || global
	if routed {
		control |= NPDUControlDestSpecifier
	}
	buf = append(buf, npduVersion, byte(control))
	if !routed {
		return buf
	}

	dnet, dadr := dest.Net, dest.MAC
	if global {
		dnet, dadr = BroadcastNetwork, nil
	}
	buf = binary.BigEndian.AppendUint16(buf, dnet)
	buf = append(buf, byte(len(dadr)))
	buf = append(buf, dadr...)
	return append(buf, hopCountMax)
}

// DecodeNPDU decodes an NPDU and returns the offset of its payload
func DecodeNPDU(data []byte) (*NPDU, int, error) {
	if len(data) < 2 {
		return nil, 0, ErrInvalidNPDU
	}
	if data[0] != npduVersion {
		return nil, 0, fmt.Errorf("%w: unsupported version %d", ErrInvalidNPDU, data[0])
	}

	npdu := &NPDU{Control: NPDUControl(data[1])}
	offset := 2

	readAddr := func() (uint16, []byte, bool) {
		if len(data) < offset+3 {
			return 0, nil, false
		}
		n := binary.BigEndian.Uint16(data[offset:])
		l := int(data[offset+2])
		offset += 3
		if len(data) < offset+l {
			return 0, nil, false
		}
		addr := append([]byte(nil), data[offset:offset+l]...)
		offset += l
		return n, addr, true
	}

	var ok bool
	if npdu.Control&NPDUControlDestSpecifier != 0 {
		if npdu.DestNet, npdu.DestAddr, ok = readAddr(); !ok {
			return nil, 0, ErrInvalidNPDU
		}
	}
	if npdu.Control&NPDUControlSourceSpecifier != 0 {
		if npdu.SrcNet, npdu.SrcAddr, ok = readAddr(); !ok {
			return nil, 0, ErrInvalidNPDU
		}
	}
	if npdu.Control&NPDUControlDestSpecifier != 0 {
		if len(data) < offset+1 {
			return nil, 0, ErrInvalidNPDU
		}
		npdu.DestHopCount = data[offset]
		offset++
	}

	if npdu.IsNetworkMessage() {
		if len(data) < offset+1 {
			return nil, 0, ErrInvalidNPDU
		}
		npdu.MessageType = NetworkMessageType(data[offset])
		offset++
		if npdu.MessageType >= 0x80 {
			offset += 2
		}
		if offset > len(data) {
			return nil, 0, ErrInvalidNPDU
		}
	}

	return npdu, offset, nil
}

// APDU is a decoded application layer PDU
type APDU struct {
	Type        PDUType
	Segmented   bool
	MoreFollows bool
	Server      bool
	MaxSegments uint8
	MaxAPDU     uint8
	InvokeID    uint8
	SequenceNum uint8
	WindowSize  uint8
	Service     uint8
	Data        []byte
}

// maxAPDUCode maps an accepted APDU size to its 4-bit header encoding
func maxAPDUCode(size int) uint8 {
	switch {
	case size >= 1476:
		return 5
	case size >= 1024:
		return 4
	case size >= 480:
		return 3
	case size >= 206:
		return 2
	case size >= 128:
		return 1
	}
	return 0
}

// maxSegmentsCode maps an accepted segment count to its 3-bit header encoding
func maxSegmentsCode(n int) uint8 {
	switch {
	case n <= 1:
		return 0
	case n <= 2:
		return 1
	case n <= 4:
		return 2
	case n <= 8:
		return 3
	case n <= 16:
		return 4
	case n <= 32:
		return 5
	case n <= 64:
		return 6
	}
	return 7
}

// appendConfirmedRequest writes a confirmed request APDU header plus service data
func appendConfirmedRequest(buf []byte, invokeID uint8, service ConfirmedServiceChoice, data []byte, maxSegments, maxAPDU int) []byte {
	flags := byte(PDUTypeConfirmedRequest)
	if maxSegments > 1 {
		flags |= 0x02 // segmented response accepted
	}
	buf = append(buf,
		flags,
		maxSegmentsCode(maxSegments)<<4|maxAPDUCode(maxAPDU),
		invokeID,
		byte(service),
	)
	return append(buf, data...)
}

func appendUnconfirmedRequest(buf []byte, service UnconfirmedServiceChoice, data []byte) []byte {
	buf = append(buf, byte(PDUTypeUnconfirmedRequest), byte(service))
	return append(buf, data...)
}

func appendSegmentAck(buf []byte, invokeID, sequence, window uint8) []byte {
	return append(buf, byte(PDUTypeSegmentAck), invokeID, sequence, window)
}

// encodePacket frames an APDU into a complete BACnet/IP datagram
func encodePacket(dest Address, broadcast, global, expectingReply bool, apdu []byte) []byte {
	fn := BVLCOriginalUnicastNPDU
	if broadcast {
		fn = BVLCOriginalBroadcastNPDU
	}

	pkt := make([]byte, bvlcHeaderLen, bvlcHeaderLen+12+len(dest.MAC)+len(apdu))
	pkt[0] = byte(BVLCTypeBACnetIP)
	pkt[1] = byte(fn)
	pkt = appendNPDU(pkt, dest, global, expectingReply)
	pkt = append(pkt, apdu...)
	binary.BigEndian.PutUint16(pkt[2:4], uint16(len(pkt)))
	return pkt
}

// DecodeAPDU decodes an APDU
func DecodeAPDU(data []byte) (*APDU, error) {
	if len(data) < 2 {
		return nil, ErrInvalidAPDU
	}

	apdu := &APDU{Type: PDUType(data[0] & 0xF0)}
	flags := data[0] & 0x0F

	switch apdu.Type {
	case PDUTypeConfirmedRequest:
		if len(data) < 4 {
			return nil, ErrInvalidAPDU
		}
		apdu.Segmented = flags&0x08 != 0
		apdu.MoreFollows = flags&0x04 != 0
		apdu.MaxSegments = (data[1] >> 4) & 0x07
		apdu.MaxAPDU = data[1] & 0x0F
		apdu.InvokeID = data[2]
		rest := data[3:]
		if apdu.Segmented {
			if len(rest) < 3 {
				return nil, ErrInvalidAPDU
			}
			apdu.SequenceNum, apdu.WindowSize = rest[0], rest[1]
			rest = rest[2:]
		}
		apdu.Service, apdu.Data = rest[0], rest[1:]

	case PDUTypeUnconfirmedRequest:
		apdu.Service, apdu.Data = data[1], data[2:]

	case PDUTypeSimpleAck, PDUTypeError:
		if len(data) < 3 {
			return nil, ErrInvalidAPDU
		}
		apdu.InvokeID, apdu.Service, apdu.Data = data[1], data[2], data[3:]

	case PDUTypeComplexAck:
		if len(data) < 3 {
			return nil, ErrInvalidAPDU
		}
		apdu.Segmented = flags&0x08 != 0
		apdu.MoreFollows = flags&0x04 != 0
		apdu.InvokeID = data[1]
		rest := data[2:]
		if apdu.Segmented {
			if len(rest) < 3 {
				return nil, ErrInvalidAPDU
			}
			apdu.SequenceNum, apdu.WindowSize = rest[0], rest[1]
			rest = rest[2:]
		}
		apdu.Service, apdu.Data = rest[0], rest[1:]

	case PDUTypeSegmentAck:
		if len(data) < 4 {
			return nil, ErrInvalidAPDU
		}
		apdu.Server = flags&0x01 != 0
		apdu.InvokeID, apdu.SequenceNum, apdu.WindowSize = data[1], data[2], data[3]

	case PDUTypeReject, PDUTypeAbort:
		// Reject and abort reasons travel in the service field
		if len(data) < 3 {
			return nil, ErrInvalidAPDU
		}
		apdu.Server = flags&0x01 != 0
		apdu.InvokeID, apdu.Service = data[1], data[2]

	default:
		return nil, fmt.Errorf("%w: unknown PDU type %02x", ErrInvalidAPDU, apdu.Type)
	}

	return apdu, nil
}

// packet is one decoded datagram
type packet struct {
	Source Address
	NPDU   *NPDU
	APDU   *APDU
}

// decodePacket decodes a datagram received from sender. For messages that
// crossed a router the source network and station are taken from the NPDU.
// Network layer messages decode with a nil APDU.
func decodePacket(data []byte, sender *net.UDPAddr) (*packet, error) {
	bvlc, err := DecodeBVLC(data)
	if err != nil {
		return nil, err
	}

	src := Address{IP: sender.IP.To4(), Port: sender.Port}
	body := data[bvlcHeaderLen:bvlc.Length]

	switch bvlc.Function {
	case BVLCOriginalUnicastNPDU, BVLCOriginalBroadcastNPDU, BVLCDistributeBroadcastToNetwork:
	case BVLCForwardedNPDU:
		// Original source B/IP address precedes the NPDU
		if len(body) < 6 {
			return nil, ErrInvalidBVLC
		}
		src.IP = net.IPv4(body[0], body[1], body[2], body[3]).To4()
		src.Port = int(binary.BigEndian.Uint16(body[4:6]))
		body = body[6:]
	default:
		return &packet{Source: src}, nil
	}

	npdu, offset, err := DecodeNPDU(body)
	if err != nil {
		return nil, err
	}
	if npdu.Control&NPDUControlSourceSpecifier != 0 {
		src.Net = npdu.SrcNet
		src.MAC = npdu.SrcAddr
	}

	pkt := &packet{Source: src, NPDU: npdu}
	if npdu.IsNetworkMessage() {
		return pkt, nil
	}

	if pkt.APDU, err = DecodeAPDU(body[offset:]); err != nil {
		return nil, err
	}
	return pkt, nil
}
