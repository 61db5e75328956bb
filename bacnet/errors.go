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
	"errors"
	"fmt"
)

// Sentinel errors
var (
	ErrTimeout                  = errors.New("bacnet: request timeout")
	ErrConnectionClosed         = errors.New("bacnet: connection closed")
	ErrInvalidResponse          = errors.New("bacnet: invalid response")
	ErrInvalidAPDU              = errors.New("bacnet: invalid APDU")
	ErrInvalidNPDU              = errors.New("bacnet: invalid NPDU")
	ErrInvalidBVLC              = errors.New("bacnet: invalid BVLC header")
	ErrSegmentationNotSupported = errors.New("bacnet: segmentation not supported")
	ErrNotConnected             = errors.New("bacnet: not connected")
	ErrAlreadyConnected         = errors.New("bacnet: already connected")
	ErrNoInvokeID               = errors.New("bacnet: no free invoke id")
	ErrUnsupportedValue         = errors.New("bacnet: unsupported value type")

	// ErrInvalidLocalAddress means the configured local interface cannot be
	// bound. Retrying with the same configuration will not help.
	ErrInvalidLocalAddress = errors.New("bacnet: invalid local address")
)

// ErrorClass represents BACnet error classes
type ErrorClass uint8

const (
	ErrorClassDevice        ErrorClass = 0
	ErrorClassObject        ErrorClass = 1
	ErrorClassProperty      ErrorClass = 2
	ErrorClassResources     ErrorClass = 3
	ErrorClassSecurity      ErrorClass = 4
	ErrorClassServices      ErrorClass = 5
	ErrorClassVT            ErrorClass = 6
	ErrorClassCommunication ErrorClass = 7
)

var errorClassNames = [...]string{
	"device", "object", "property", "resources",
	"security", "services", "vt", "communication",
}

func (e ErrorClass) String() string {
	if int(e) < len(errorClassNames) {
		return errorClassNames[e]
	}
	return fmt.Sprintf("error-class(%d)", e)
}

// ErrorCode represents BACnet error codes
type ErrorCode uint16

const (
	ErrorCodeOther                             ErrorCode = 0
	ErrorCodeConfigurationInProgress           ErrorCode = 2
	ErrorCodeDeviceBusy                        ErrorCode = 3
	ErrorCodeInconsistentParameters            ErrorCode = 7
	ErrorCodeInvalidDataType                   ErrorCode = 9
	ErrorCodeNoObjectsOfSpecifiedType          ErrorCode = 17
	ErrorCodeReadAccessDenied                  ErrorCode = 27
	ErrorCodeServiceRequestDenied              ErrorCode = 29
	ErrorCodeTimeout                           ErrorCode = 30
	ErrorCodeUnknownObject                     ErrorCode = 31
	ErrorCodeUnknownProperty                   ErrorCode = 32
	ErrorCodeValueOutOfRange                   ErrorCode = 37
	ErrorCodeWriteAccessDenied                 ErrorCode = 40
	ErrorCodeInvalidArrayIndex                 ErrorCode = 42
	ErrorCodeOptionalFunctionalityNotSupported ErrorCode = 45
	ErrorCodeDatatypeNotSupported              ErrorCode = 47
	ErrorCodePropertyIsNotAnArray              ErrorCode = 50
	ErrorCodeUnknownDevice                     ErrorCode = 70
	ErrorCodeUnknownRoute                      ErrorCode = 71
)

var errorCodeNames = map[ErrorCode]string{
	ErrorCodeOther:                             "other",
	ErrorCodeConfigurationInProgress:           "configuration-in-progress",
	ErrorCodeDeviceBusy:                        "device-busy",
	ErrorCodeInconsistentParameters:            "inconsistent-parameters",
	ErrorCodeInvalidDataType:                   "invalid-data-type",
	ErrorCodeNoObjectsOfSpecifiedType:          "no-objects-of-specified-type",
	ErrorCodeReadAccessDenied:                  "read-access-denied",
	ErrorCodeServiceRequestDenied:              "service-request-denied",
	ErrorCodeTimeout:                           "timeout",
	ErrorCodeUnknownObject:                     "unknown-object",
	ErrorCodeUnknownProperty:                   "unknown-property",
	ErrorCodeValueOutOfRange:                   "value-out-of-range",
	ErrorCodeWriteAccessDenied:                 "write-access-denied",
	ErrorCodeInvalidArrayIndex:                 "invalid-array-index",
	ErrorCodeOptionalFunctionalityNotSupported: "optional-functionality-not-supported",
	ErrorCodeDatatypeNotSupported:              "datatype-not-supported",
	ErrorCodePropertyIsNotAnArray:              "property-is-not-an-array",
	ErrorCodeUnknownDevice:                     "unknown-device",
	ErrorCodeUnknownRoute:                      "unknown-route",
}

func (e ErrorCode) String() string {
	if name, ok := errorCodeNames[e]; ok {
		return name
	}
	return fmt.Sprintf("error-code(%d)", e)
}

// BACnetError represents a BACnet protocol error
type BACnetError struct {
	Class ErrorClass
	Code  ErrorCode
}

func (e *BACnetError) Error() string {
	return fmt.Sprintf("bacnet error: class=%s, code=%s", e.Class, e.Code)
}

func (e *BACnetError) Is(target error) bool {
	t, ok := target.(*BACnetError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewBACnetError creates a new BACnet error
func NewBACnetError(class ErrorClass, code ErrorCode) *BACnetError {
	return &BACnetError{
		Class: class,
		Code:  code,
	}
}

// RejectReason represents BACnet reject reasons
type RejectReason uint8

var rejectReasonNames = [...]string{
	"other",
	"buffer-overflow",
	"inconsistent-parameters",
	"invalid-parameter-data-type",
	"invalid-tag",
	"missing-required-parameter",
	"parameter-out-of-range",
	"too-many-arguments",
	"undefined-enumeration",
	"unrecognized-service",
}

func (r RejectReason) String() string {
	if int(r) < len(rejectReasonNames) {
		return rejectReasonNames[r]
	}
	return fmt.Sprintf("reject-reason(%d)", r)
}

// RejectError represents a BACnet reject response
type RejectError struct {
	InvokeID uint8
	Reason   RejectReason
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("bacnet reject: invoke-id=%d, reason=%s", e.InvokeID, e.Reason)
}

// AbortReason represents BACnet abort reasons
type AbortReason uint8

const (
	AbortReasonOther                    AbortReason = 0
	AbortReasonBufferOverflow           AbortReason = 1
	AbortReasonSegmentationNotSupported AbortReason = 4
	AbortReasonApduTooLong              AbortReason = 11
)

var abortReasonNames = [...]string{
	"other",
	"buffer-overflow",
	"invalid-apdu-in-this-state",
	"preempted-by-higher-priority-task",
	"segmentation-not-supported",
	"security-error",
	"insufficient-security",
	"window-size-out-of-range",
	"application-exceeded-reply-time",
	"out-of-resources",
	"tsm-timeout",
	"apdu-too-long",
}

func (a AbortReason) String() string {
	if int(a) < len(abortReasonNames) {
		return abortReasonNames[a]
	}
	return fmt.Sprintf("abort-reason(%d)", a)
}

// AbortError represents a BACnet abort response
type AbortError struct {
	InvokeID uint8
	Server   bool
	Reason   AbortReason
}

func (e *AbortError) Error() string {
	origin := "client"
	if e.Server {
		origin = "server"
	}
	return fmt.Sprintf("bacnet abort: invoke-id=%d, origin=%s, reason=%s", e.InvokeID, origin, e.Reason)
}

// IsTimeout returns true if the error is a timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsTerminal reports whether err cannot be cured by re-creating the client
func IsTerminal(err error) bool {
	return errors.Is(err, ErrInvalidLocalAddress)
}

// IsEndOfArray reports whether err is a device's answer to an array index
// past the last element.
func IsEndOfArray(err error) bool {
	var bacnetErr *BACnetError
	if errors.As(err, &bacnetErr) {
		return bacnetErr.Code == ErrorCodeInvalidArrayIndex
	}
	return false
}

// IsPropertyNotFound returns true if the error indicates property not found
func IsPropertyNotFound(err error) bool {
	var bacnetErr *BACnetError
	if errors.As(err, &bacnetErr) {
		return bacnetErr.Code == ErrorCodeUnknownProperty
	}
	return false
}

// IsObjectNotFound returns true if the device has no such object
func IsObjectNotFound(err error) bool {
	var bacnetErr *BACnetError
	if errors.As(err, &bacnetErr) {
		return bacnetErr.Code == ErrorCodeUnknownObject
	}
	return false
}

// IsSegmentationError reports whether a response was too large for an
// unsegmented exchange.
func IsSegmentationError(err error) bool {
	if errors.Is(err, ErrSegmentationNotSupported) {
		return true
	}
	var abortErr *AbortError
	if errors.As(err, &abortErr) {
		return abortErr.Reason == AbortReasonSegmentationNotSupported ||
			abortErr.Reason == AbortReasonBufferOverflow ||
			abortErr.Reason == AbortReasonApduTooLong
	}
	return false
}
