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

package model

import (
	"math"

	"github.com/edgeo/drivers/bacnetgw/bacnet"
)

// DefaultPrecision is the number of decimals numeric present values keep
const DefaultPrecision = 2

// Decoder merges raw property values into points
type Decoder struct {
	Precision int
}

// NewDecoder returns a decoder rounding to precision decimals. A negative
// precision selects DefaultPrecision.
func NewDecoder(precision int) Decoder {
	if precision < 0 {
		precision = DefaultPrecision
	}
	return Decoder{Precision: precision}
}

// PolledProperties returns the properties read from an object of type t on
// every pass. Their failures mark the point with an error; failures of the
// metadata properties are ignored since many devices lack optional ones.
func PolledProperties(t bacnet.ObjectType) []bacnet.PropertyIdentifier {
	switch t {
	case bacnet.ObjectTypeDevice:
		return []bacnet.PropertyIdentifier{bacnet.PropertySystemStatus}
	case bacnet.ObjectTypeProgram:
		return []bacnet.PropertyIdentifier{bacnet.PropertyProgramState}
	case bacnet.ObjectTypeTrendLog, bacnet.ObjectTypeTrendLogMultiple, bacnet.ObjectTypeEventLog:
		return []bacnet.PropertyIdentifier{bacnet.PropertyRecordCount}
	case bacnet.ObjectTypeFile:
		return []bacnet.PropertyIdentifier{bacnet.PropertyModificationDate, bacnet.PropertyRecordCount}
	}
	return []bacnet.PropertyIdentifier{bacnet.PropertyPresentValue}
}

// IsPolled reports whether prop is one of the polled properties of t
func IsPolled(t bacnet.ObjectType, prop bacnet.PropertyIdentifier) bool {
	for _, p := range PolledProperties(t) {
		if p == prop {
			return true
		}
	}
	return false
}

// ApplyResult merges one property result. A failed polled property marks
// the point with the error and keeps the last value; a successful one
// clears the mark.
func (d Decoder) ApplyResult(p *Point, r bacnet.PropertyValue) bool {
	polled := IsPolled(p.ObjectID.Type, r.PropertyID)
	if r.Err != nil {
		if polled {
			p.Error = r.Err.Error()
		}
		return false
	}
	if r.PropertyID == bacnet.PropertyPresentValue && r.ArrayIndex != nil {
		idx := *r.ArrayIndex
		p.Meta.ArrayIndex = &idx
	}
	ok := d.Apply(p, r.PropertyID, r.Value)
	if ok && polled {
		p.Error = ""
	}
	return ok
}

// ApplyResults merges the results of one read of p. The point keeps the
// error of the first failed polled property, whatever the result order.
func (d Decoder) ApplyResults(p *Point, results []bacnet.PropertyValue) {
	var failure error
	for _, r := range results {
		d.ApplyResult(p, r)
		if failure == nil && r.Err != nil && IsPolled(p.ObjectID.Type, r.PropertyID) {
			failure = r.Err
		}
	}
	if failure != nil {
		p.Error = failure.Error()
	}
}

// Apply merges one property value into p. It returns false and leaves p
// untouched when the value cannot be used for that property.
func (d Decoder) Apply(p *Point, prop bacnet.PropertyIdentifier, value interface{}) bool {
	switch prop {
	case bacnet.PropertyPresentValue:
		if value == nil {
			return false
		}
		if _, ok := toFloat(value); !ok {
			switch value.(type) {
			case bool, string:
			default:
				return false
			}
		}
		p.RawValue = value
		p.PresentValue = d.present(p)

	case bacnet.PropertyStateText:
		texts, ok := toStrings(value)
		if !ok {
			return false
		}
		p.StateText = texts
		if p.RawValue != nil {
			p.PresentValue = d.present(p)
		}

	case bacnet.PropertyObjectName:
		s, ok := value.(string)
		if !ok {
			return false
		}
		p.ObjectName = s
		p.DisplayName = s

	case bacnet.PropertyDescription:
		s, ok := value.(string)
		if !ok {
			return false
		}
		p.Description = s

	case bacnet.PropertyVendorName:
		s, ok := value.(string)
		if !ok {
			return false
		}
		p.VendorName = s

	case bacnet.PropertyUnits:
		n, ok := toUint(value)
		if !ok {
			return false
		}
		p.Units = bacnet.EngineeringUnits(n).String()

	case bacnet.PropertyObjectType:
		n, ok := toUint(value)
		if !ok {
			return false
		}
		p.ObjectType = bacnet.ObjectType(n).String()

	case bacnet.PropertyObjectIdentifier:
		oid, ok := value.(bacnet.ObjectIdentifier)
		if !ok {
			return false
		}
		p.Meta.ObjectID = oid

	case bacnet.PropertyPropertyList:
		list, ok := toPropertyList(value)
		if !ok {
			return false
		}
		p.PropertyList = list

	case bacnet.PropertySystemStatus:
		n, ok := toUint(value)
		if !ok {
			return false
		}
		p.SystemStatus = bacnet.DeviceStatus(n).String()

	case bacnet.PropertyModificationDate:
		switch v := value.(type) {
		case bacnet.DateTime:
			p.ModificationDate = v.String()
		case bacnet.Date:
			p.ModificationDate = v.String()
		default:
			return false
		}

	case bacnet.PropertyProgramState:
		n, ok := toUint(value)
		if !ok {
			return false
		}
		p.ProgramState = bacnet.ProgramState(n).String()

	case bacnet.PropertyRecordCount:
		n, ok := toUint(value)
		if !ok {
			return false
		}
		p.RecordCount = &n

	case bacnet.PropertyPriorityArray:
		// Any answer means the object is commandable, even all NULL slots
		p.HasPriorityArray = true

	default:
		return false
	}
	return true
}

// present derives the present value from RawValue and the object type
func (d Decoder) present(p *Point) interface{} {
	raw := p.RawValue
	switch v := raw.(type) {
	case bool, string:
		return v
	}

	n, ok := toFloat(raw)
	if !ok {
		return raw
	}

	switch {
	case p.ObjectID.Type.IsBinary():
		if n == 0 || n == 1 {
			return n == 1
		}
		return n

	case p.ObjectID.Type.IsMultiState():
		if text, ok := stateText(p.StateText, n); ok {
			return text
		}
		return n
	}

	return d.round(n)
}

// stateText maps a multistate value to its label. States are numbered
// from 1; a raw 0 maps to the first label as some devices count from 0.
func stateText(texts []string, n float64) (string, bool) {
	if len(texts) == 0 || n != math.Trunc(n) {
		return "", false
	}
	i := int(n)
	switch {
	case i == 0:
		return texts[0], true
	case i >= 1 && i <= len(texts):
		return texts[i-1], true
	}
	return "", false
}

func (d Decoder) round(n float64) float64 {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return n
	}
	pow := math.Pow(10, float64(d.Precision))
	return math.Round(n*pow) / pow
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case uint32:
		return float64(n), true
	case int32:
		return float64(n), true
	case bacnet.Enumerated:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func toUint(v interface{}) (uint32, bool) {
	switch n := v.(type) {
	case uint32:
		return n, true
	case bacnet.Enumerated:
		return uint32(n), true
	case float64:
		// values replayed from the JSON cache
		if n >= 0 && n == math.Trunc(n) {
			return uint32(n), true
		}
	}
	return 0, false
}

func toStrings(v interface{}) ([]string, bool) {
	switch s := v.(type) {
	case string:
		return []string{s}, true
	case []interface{}:
		out := make([]string, 0, len(s))
		for _, e := range s {
			str, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	}
	return nil, false
}

func toPropertyList(v interface{}) ([]bacnet.PropertyIdentifier, bool) {
	items, ok := v.([]interface{})
	if !ok {
		items = []interface{}{v}
	}
	out := make([]bacnet.PropertyIdentifier, 0, len(items))
	for _, e := range items {
		n, ok := toUint(e)
		if !ok {
			return nil, false
		}
		out = append(out, bacnet.PropertyIdentifier(n))
	}
	return out, true
}
