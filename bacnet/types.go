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

// Package bacnet provides the BACnet/IP codec and client used by the gateway
// engine: Who-Is/I-Am discovery, ReadProperty, ReadPropertyMultiple and
// WriteProperty over UDP, including routed MS/TP stations.
package bacnet

import (
	"fmt"
	"strings"
)

// DefaultPort is the standard BACnet/IP UDP port
const DefaultPort = 47808

// MaxAPDULength is the maximum APDU length for BACnet/IP
const MaxAPDULength = 1476

// MaxInstance is the largest object instance number
const MaxInstance = 0x3FFFFF

// BVLC Types (BACnet Virtual Link Control)
type BVLCType uint8

const (
	BVLCTypeBACnetIP BVLCType = 0x81
)

// BVLC Functions
type BVLCFunction uint8

const (
	BVLCResult                       BVLCFunction = 0x00
	BVLCForwardedNPDU                BVLCFunction = 0x04
	BVLCRegisterForeignDevice        BVLCFunction = 0x05
	BVLCDistributeBroadcastToNetwork BVLCFunction = 0x09
	BVLCOriginalUnicastNPDU          BVLCFunction = 0x0A
	BVLCOriginalBroadcastNPDU        BVLCFunction = 0x0B
)

// NPDU Network Layer Protocol Control Information
type NPDUControl uint8

const (
	NPDUControlNetworkLayerMessage NPDUControl = 0x80
	NPDUControlDestSpecifier       NPDUControl = 0x20
	NPDUControlSourceSpecifier     NPDUControl = 0x08
	NPDUControlExpectingReply      NPDUControl = 0x04
	NPDUControlPriorityNormal      NPDUControl = 0x00
)

// NetworkMessageType is the message type of a network layer message
type NetworkMessageType uint8

// BroadcastNetwork is the DNET value addressing every network
const BroadcastNetwork uint16 = 0xFFFF

// PDU Types (Application Layer)
type PDUType uint8

const (
	PDUTypeConfirmedRequest   PDUType = 0x00
	PDUTypeUnconfirmedRequest PDUType = 0x10
	PDUTypeSimpleAck          PDUType = 0x20
	PDUTypeComplexAck         PDUType = 0x30
	PDUTypeSegmentAck         PDUType = 0x40
	PDUTypeError              PDUType = 0x50
	PDUTypeReject             PDUType = 0x60
	PDUTypeAbort              PDUType = 0x70
)

// Confirmed Service Choices
type ConfirmedServiceChoice uint8

const (
	ServiceSubscribeCOV          ConfirmedServiceChoice = 5
	ServiceReadProperty          ConfirmedServiceChoice = 12
	ServiceReadPropertyMultiple  ConfirmedServiceChoice = 14
	ServiceWriteProperty         ConfirmedServiceChoice = 15
	ServiceWritePropertyMultiple ConfirmedServiceChoice = 16
	ServiceReadRange             ConfirmedServiceChoice = 26
)

func (s ConfirmedServiceChoice) String() string {
	switch s {
	case ServiceSubscribeCOV:
		return "SubscribeCOV"
	case ServiceReadProperty:
		return "ReadProperty"
	case ServiceReadPropertyMultiple:
		return "ReadPropertyMultiple"
	case ServiceWriteProperty:
		return "WriteProperty"
	case ServiceWritePropertyMultiple:
		return "WritePropertyMultiple"
	case ServiceReadRange:
		return "ReadRange"
	}
	return fmt.Sprintf("Unknown(%d)", s)
}

// Unconfirmed Service Choices
type UnconfirmedServiceChoice uint8

const (
	ServiceIAm                        UnconfirmedServiceChoice = 0
	ServiceIHave                      UnconfirmedServiceChoice = 1
	ServiceUnconfirmedCOVNotification UnconfirmedServiceChoice = 2
	ServiceWhoHas                     UnconfirmedServiceChoice = 7
	ServiceWhoIs                      UnconfirmedServiceChoice = 8
)

func (s UnconfirmedServiceChoice) String() string {
	switch s {
	case ServiceIAm:
		return "I-Am"
	case ServiceIHave:
		return "I-Have"
	case ServiceUnconfirmedCOVNotification:
		return "UnconfirmedCOVNotification"
	case ServiceWhoHas:
		return "Who-Has"
	case ServiceWhoIs:
		return "Who-Is"
	}
	return fmt.Sprintf("Unknown(%d)", s)
}

// ObjectType represents BACnet object types
type ObjectType uint16

const (
	ObjectTypeAnalogInput          ObjectType = 0
	ObjectTypeAnalogOutput         ObjectType = 1
	ObjectTypeAnalogValue          ObjectType = 2
	ObjectTypeBinaryInput          ObjectType = 3
	ObjectTypeBinaryOutput         ObjectType = 4
	ObjectTypeBinaryValue          ObjectType = 5
	ObjectTypeCalendar             ObjectType = 6
	ObjectTypeCommand              ObjectType = 7
	ObjectTypeDevice               ObjectType = 8
	ObjectTypeEventEnrollment      ObjectType = 9
	ObjectTypeFile                 ObjectType = 10
	ObjectTypeGroup                ObjectType = 11
	ObjectTypeLoop                 ObjectType = 12
	ObjectTypeMultiStateInput      ObjectType = 13
	ObjectTypeMultiStateOutput     ObjectType = 14
	ObjectTypeNotificationClass    ObjectType = 15
	ObjectTypeProgram              ObjectType = 16
	ObjectTypeSchedule             ObjectType = 17
	ObjectTypeAveraging            ObjectType = 18
	ObjectTypeMultiStateValue      ObjectType = 19
	ObjectTypeTrendLog             ObjectType = 20
	ObjectTypeLifeSafetyPoint      ObjectType = 21
	ObjectTypeLifeSafetyZone       ObjectType = 22
	ObjectTypeAccumulator          ObjectType = 23
	ObjectTypePulseConverter       ObjectType = 24
	ObjectTypeEventLog             ObjectType = 25
	ObjectTypeGlobalGroup          ObjectType = 26
	ObjectTypeTrendLogMultiple     ObjectType = 27
	ObjectTypeLoadControl          ObjectType = 28
	ObjectTypeStructuredView       ObjectType = 29
	ObjectTypeCharacterStringValue ObjectType = 40
	ObjectTypeIntegerValue         ObjectType = 45
	ObjectTypeLargeAnalogValue     ObjectType = 46
	ObjectTypePositiveIntegerValue ObjectType = 48
	ObjectTypeNetworkPort          ObjectType = 56
)

type objectTypeInfo struct {
	name   string
	abbrev string
}

var objectTypes = map[ObjectType]objectTypeInfo{
	ObjectTypeAnalogInput:          {"analog-input", "AI"},
	ObjectTypeAnalogOutput:         {"analog-output", "AO"},
	ObjectTypeAnalogValue:          {"analog-value", "AV"},
	ObjectTypeBinaryInput:          {"binary-input", "BI"},
	ObjectTypeBinaryOutput:         {"binary-output", "BO"},
	ObjectTypeBinaryValue:          {"binary-value", "BV"},
	ObjectTypeCalendar:             {"calendar", "CAL"},
	ObjectTypeCommand:              {"command", "CMD"},
	ObjectTypeDevice:               {"device", "DEV"},
	ObjectTypeEventEnrollment:      {"event-enrollment", "EE"},
	ObjectTypeFile:                 {"file", "FILE"},
	ObjectTypeGroup:                {"group", "GRP"},
	ObjectTypeLoop:                 {"loop", "LOOP"},
	ObjectTypeMultiStateInput:      {"multi-state-input", "MSI"},
	ObjectTypeMultiStateOutput:     {"multi-state-output", "MSO"},
	ObjectTypeNotificationClass:    {"notification-class", "NC"},
	ObjectTypeProgram:              {"program", "PRG"},
	ObjectTypeSchedule:             {"schedule", "SCH"},
	ObjectTypeAveraging:            {"averaging", "AVG"},
	ObjectTypeMultiStateValue:      {"multi-state-value", "MSV"},
	ObjectTypeTrendLog:             {"trend-log", "TL"},
	ObjectTypeLifeSafetyPoint:      {"life-safety-point", "LSP"},
	ObjectTypeLifeSafetyZone:       {"life-safety-zone", "LSZ"},
	ObjectTypeAccumulator:          {"accumulator", "ACC"},
	ObjectTypePulseConverter:       {"pulse-converter", "PC"},
	ObjectTypeEventLog:             {"event-log", "EL"},
	ObjectTypeGlobalGroup:          {"global-group", "GG"},
	ObjectTypeTrendLogMultiple:     {"trend-log-multiple", "TLM"},
	ObjectTypeLoadControl:          {"load-control", "LC"},
	ObjectTypeStructuredView:       {"structured-view", "SV"},
	ObjectTypeCharacterStringValue: {"characterstring-value", "CSV"},
	ObjectTypeIntegerValue:         {"integer-value", "IV"},
	ObjectTypeLargeAnalogValue:     {"large-analog-value", "LAV"},
	ObjectTypePositiveIntegerValue: {"positive-integer-value", "PIV"},
	ObjectTypeNetworkPort:          {"network-port", "NP"},
}

func (o ObjectType) String() string {
	if info, ok := objectTypes[o]; ok {
		return info.name
	}
	return fmt.Sprintf("vendor-specific(%d)", o)
}

// Abbrev returns the short upper-case tag used in object keys (AI, BV, MSV, ...)
func (o ObjectType) Abbrev() string {
	if info, ok := objectTypes[o]; ok {
		return info.abbrev
	}
	return fmt.Sprintf("OBJ%d", o)
}

// IsBinary reports whether the present value is an active/inactive enumeration
func (o ObjectType) IsBinary() bool {
	return o == ObjectTypeBinaryInput || o == ObjectTypeBinaryOutput || o == ObjectTypeBinaryValue
}

// IsMultiState reports whether the present value indexes the state text array
func (o ObjectType) IsMultiState() bool {
	return o == ObjectTypeMultiStateInput || o == ObjectTypeMultiStateOutput || o == ObjectTypeMultiStateValue
}

// IsCommandable reports whether objects of this type usually carry a priority array
func (o ObjectType) IsCommandable() bool {
	switch o {
	case ObjectTypeAnalogOutput, ObjectTypeAnalogValue,
		ObjectTypeBinaryOutput, ObjectTypeBinaryValue,
		ObjectTypeMultiStateOutput, ObjectTypeMultiStateValue:
		return true
	}
	return false
}

// ParseObjectType parses a name, an abbreviation or a number to ObjectType
func ParseObjectType(s string) (ObjectType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, info := range objectTypes {
		if s == info.name || s == strings.ToLower(info.abbrev) {
			return t, true
		}
	}
	return 0, false
}

// PropertyIdentifier represents BACnet property identifiers
type PropertyIdentifier uint32

const (
	PropertyAll                       PropertyIdentifier = 8
	PropertyDescription               PropertyIdentifier = 28
	PropertyEventState                PropertyIdentifier = 36
	PropertyFirmwareRevision          PropertyIdentifier = 44
	PropertyLocation                  PropertyIdentifier = 58
	PropertyMaxApduLengthAccepted     PropertyIdentifier = 62
	PropertyModelName                 PropertyIdentifier = 70
	PropertyModificationDate          PropertyIdentifier = 71
	PropertyNumberOfStates            PropertyIdentifier = 74
	PropertyObjectIdentifier          PropertyIdentifier = 75
	PropertyObjectList                PropertyIdentifier = 76
	PropertyObjectName                PropertyIdentifier = 77
	PropertyObjectType                PropertyIdentifier = 79
	PropertyOutOfService              PropertyIdentifier = 81
	PropertyPresentValue              PropertyIdentifier = 85
	PropertyPriorityArray             PropertyIdentifier = 87
	PropertyProgramState              PropertyIdentifier = 92
	PropertyProtocolServicesSupported PropertyIdentifier = 97
	PropertyReliability               PropertyIdentifier = 103
	PropertyRelinquishDefault         PropertyIdentifier = 104
	PropertySegmentationSupported     PropertyIdentifier = 107
	PropertyStateText                 PropertyIdentifier = 110
	PropertyStatusFlags               PropertyIdentifier = 111
	PropertySystemStatus              PropertyIdentifier = 112
	PropertyUnits                     PropertyIdentifier = 117
	PropertyVendorIdentifier          PropertyIdentifier = 120
	PropertyVendorName                PropertyIdentifier = 121
	PropertyRecordCount               PropertyIdentifier = 141
	PropertyPropertyList              PropertyIdentifier = 371
)

var propertyNames = map[PropertyIdentifier]string{
	PropertyAll:                       "all",
	PropertyDescription:               "description",
	PropertyEventState:                "event-state",
	PropertyFirmwareRevision:          "firmware-revision",
	PropertyLocation:                  "location",
	PropertyMaxApduLengthAccepted:     "max-apdu-length-accepted",
	PropertyModelName:                 "model-name",
	PropertyModificationDate:          "modification-date",
	PropertyNumberOfStates:            "number-of-states",
	PropertyObjectIdentifier:          "object-identifier",
	PropertyObjectList:                "object-list",
	PropertyObjectName:                "object-name",
	PropertyObjectType:                "object-type",
	PropertyOutOfService:              "out-of-service",
	PropertyPresentValue:              "present-value",
	PropertyPriorityArray:             "priority-array",
	PropertyProgramState:              "program-state",
	PropertyProtocolServicesSupported: "protocol-services-supported",
	PropertyReliability:               "reliability",
	PropertyRelinquishDefault:         "relinquish-default",
	PropertySegmentationSupported:     "segmentation-supported",
	PropertyStateText:                 "state-text",
	PropertyStatusFlags:               "status-flags",
	PropertySystemStatus:              "system-status",
	PropertyUnits:                     "units",
	PropertyVendorIdentifier:          "vendor-identifier",
	PropertyVendorName:                "vendor-name",
	PropertyRecordCount:               "record-count",
	PropertyPropertyList:              "property-list",
}

var propertyAliases = map[string]PropertyIdentifier{
	"pv":   PropertyPresentValue,
	"name": PropertyObjectName,
	"desc": PropertyDescription,
	"type": PropertyObjectType,
	"oid":  PropertyObjectIdentifier,
	"pa":   PropertyPriorityArray,
}

func (p PropertyIdentifier) String() string {
	if name, ok := propertyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("property(%d)", p)
}

// ParsePropertyIdentifier parses a string to PropertyIdentifier
func ParsePropertyIdentifier(s string) (PropertyIdentifier, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if p, ok := propertyAliases[s]; ok {
		return p, true
	}
	for p, name := range propertyNames {
		if name == s {
			return p, true
		}
	}
	return 0, false
}

// ObjectIdentifier represents a BACnet object identifier (type + instance)
type ObjectIdentifier struct {
	Type     ObjectType
	Instance uint32
}

// NewObjectIdentifier creates a new ObjectIdentifier
func NewObjectIdentifier(objectType ObjectType, instance uint32) ObjectIdentifier {
	return ObjectIdentifier{
		Type:     objectType,
		Instance: instance,
	}
}

// Encode encodes the object identifier to a 4-byte value
func (o ObjectIdentifier) Encode() uint32 {
	return (uint32(o.Type) << 22) | (o.Instance & MaxInstance)
}

// DecodeObjectIdentifier decodes a 4-byte value to an ObjectIdentifier
func DecodeObjectIdentifier(value uint32) ObjectIdentifier {
	return ObjectIdentifier{
		Type:     ObjectType((value >> 22) & 0x3FF),
		Instance: value & MaxInstance,
	}
}

func (o ObjectIdentifier) String() string {
	return fmt.Sprintf("%s:%d", o.Type.String(), o.Instance)
}

// EngineeringUnits represents BACnet engineering units
type EngineeringUnits uint16

var unitSymbols = map[EngineeringUnits]string{
	2:   "mA",
	3:   "A",
	5:   "V",
	15:  "PF",
	18:  "Wh",
	19:  "kWh",
	27:  "Hz",
	29:  "%RH",
	30:  "mm",
	31:  "m",
	33:  "ft",
	41:  "W",
	42:  "kW",
	47:  "Pa",
	48:  "kPa",
	49:  "bar",
	53:  "mmHg",
	62:  "°C",
	63:  "K",
	64:  "°F",
	71:  "h",
	72:  "min",
	73:  "s",
	74:  "m/s",
	80:  "m³",
	82:  "L",
	84:  "cfm",
	85:  "m³/s",
	87:  "L/s",
	88:  "L/min",
	95:  "",
	96:  "ppm",
	98:  "%",
	104: "rpm",
}

func (u EngineeringUnits) String() string {
	if sym, ok := unitSymbols[u]; ok {
		return sym
	}
	return fmt.Sprintf("units(%d)", u)
}

// Segmentation represents the BACnet segmentation capability
type Segmentation uint8

const (
	SegmentationBoth     Segmentation = 0
	SegmentationTransmit Segmentation = 1
	SegmentationReceive  Segmentation = 2
	SegmentationNone     Segmentation = 3
)

func (s Segmentation) String() string {
	switch s {
	case SegmentationBoth:
		return "segmented-both"
	case SegmentationTransmit:
		return "segmented-transmit"
	case SegmentationReceive:
		return "segmented-receive"
	case SegmentationNone:
		return "no-segmentation"
	}
	return fmt.Sprintf("segmentation(%d)", s)
}

// DeviceStatus represents the BACnet device status
type DeviceStatus uint8

func (d DeviceStatus) String() string {
	names := [...]string{
		"operational",
		"operational-read-only",
		"download-required",
		"download-in-progress",
		"non-operational",
		"backup-in-progress",
	}
	if int(d) < len(names) {
		return names[d]
	}
	return fmt.Sprintf("device-status(%d)", d)
}

// ProgramState represents the state of a program object
type ProgramState uint8

func (p ProgramState) String() string {
	names := [...]string{"idle", "loading", "running", "waiting", "halted", "unloading"}
	if int(p) < len(names) {
		return names[p]
	}
	return fmt.Sprintf("program-state(%d)", p)
}

// DeviceInfo is what an I-Am tells about a device
type DeviceInfo struct {
	ObjectID      ObjectIdentifier
	Address       Address
	MaxAPDULength uint16
	Segmentation  Segmentation
	VendorID      uint16
}

// PropertyValue represents a property value with metadata
type PropertyValue struct {
	ObjectID   ObjectIdentifier
	PropertyID PropertyIdentifier
	ArrayIndex *uint32
	Value      interface{}
	// Err is set when the device returned a property access error instead
	// of a value.
	Err error
}

// ReadPropertyRequest represents one property reference of a read
type ReadPropertyRequest struct {
	ObjectID   ObjectIdentifier
	PropertyID PropertyIdentifier
	ArrayIndex *uint32
}

// ReadAccessSpec is one object and its properties in a ReadPropertyMultiple
type ReadAccessSpec struct {
	ObjectID   ObjectIdentifier
	Properties []PropertyIdentifier
}

// Tag types for BACnet encoding
type TagClass uint8

const (
	TagClassApplication TagClass = 0
	TagClassContext     TagClass = 1
)

type ApplicationTag uint8

const (
	TagNull            ApplicationTag = 0
	TagBoolean         ApplicationTag = 1
	TagUnsignedInt     ApplicationTag = 2
	TagSignedInt       ApplicationTag = 3
	TagReal            ApplicationTag = 4
	TagDouble          ApplicationTag = 5
	TagOctetString     ApplicationTag = 6
	TagCharacterString ApplicationTag = 7
	TagBitString       ApplicationTag = 8
	TagEnumerated      ApplicationTag = 9
	TagDate            ApplicationTag = 10
	TagTime            ApplicationTag = 11
	TagObjectID        ApplicationTag = 12
)
