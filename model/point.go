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

// Package model holds the point data model, its keys and the decoder that
// turns raw property reads into point state.
package model

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/edgeo/drivers/bacnetgw/bacnet"
)

// Meta locates the property a point was read from
type Meta struct {
	ObjectID   bacnet.ObjectIdentifier `json:"objectId"`
	ArrayIndex *uint32                 `json:"arrayIndex,omitempty"`
}

// Point is the decoded state of one BACnet object
type Point struct {
	ObjectID   bacnet.ObjectIdentifier `json:"objectId"`
	ObjectType string                  `json:"objectType"`
	ObjectName string                  `json:"objectName,omitempty"`

	DisplayName string `json:"displayName,omitempty"`
	Description string `json:"description,omitempty"`
	Units       string `json:"units,omitempty"`

	PresentValue interface{} `json:"presentValue"`
	RawValue     interface{} `json:"rawValue,omitempty"`
	StateText    []string    `json:"stateText,omitempty"`

	PropertyList     []bacnet.PropertyIdentifier `json:"propertyList,omitempty"`
	SystemStatus     string                      `json:"systemStatus,omitempty"`
	ModificationDate string                      `json:"modificationDate,omitempty"`
	ProgramState     string                      `json:"programState,omitempty"`
	RecordCount      *uint32                     `json:"recordCount,omitempty"`
	VendorName       string                      `json:"vendorName,omitempty"`
	HasPriorityArray bool                        `json:"hasPriorityArray"`

	Meta Meta `json:"meta"`

	// Error holds the last read failure; the values above are the last good ones
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updatedAt" hash:"ignore"`

	// PollID identifies the poll pass that last read the point
	PollID string `json:"pollId,omitempty" hash:"ignore"`
}

// NewPoint returns an empty point for oid
func NewPoint(oid bacnet.ObjectIdentifier) *Point {
	return &Point{
		ObjectID:   oid,
		ObjectType: oid.Type.String(),
		Meta:       Meta{ObjectID: oid},
	}
}

// Key returns the object key of the point
func (p *Point) Key() string {
	return ObjectKey(p.ObjectName, p.ObjectID)
}

// Clone returns a copy that shares no slices with p
func (p *Point) Clone() *Point {
	c := *p
	c.StateText = slices.Clone(p.StateText)
	c.PropertyList = slices.Clone(p.PropertyList)
	if p.RecordCount != nil {
		n := *p.RecordCount
		c.RecordCount = &n
	}
	if p.Meta.ArrayIndex != nil {
		i := *p.Meta.ArrayIndex
		c.Meta.ArrayIndex = &i
	}
	return &c
}

// Sanitize replaces every character that is not an ASCII letter or digit with '_'
func Sanitize(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

// ObjectKey returns "<sanitizedName>_<typeAbbrev>_<instance>". Before the
// object name is known the object type name stands in for it.
func ObjectKey(objectName string, oid bacnet.ObjectIdentifier) string {
	name := objectName
	if name == "" {
		name = oid.Type.String()
	}
	return fmt.Sprintf("%s_%s_%d", Sanitize(name), oid.Type.Abbrev(), oid.Instance)
}
