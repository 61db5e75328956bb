package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeo/drivers/bacnetgw/bacnet"
)

func oid(t bacnet.ObjectType, instance uint32) bacnet.ObjectIdentifier {
	return bacnet.NewObjectIdentifier(t, instance)
}

func TestMultiStatePresentValue(t *testing.T) {
	states := []interface{}{"Off", "On", "Fault"}

	tests := []struct {
		name string
		raw  interface{}
		want interface{}
	}{
		{"one based", uint32(2), "On"},
		{"zero maps to first", uint32(0), "Off"},
		{"last state", uint32(3), "Fault"},
		{"out of range keeps number", uint32(4), float64(4)},
	}

	d := NewDecoder(DefaultPrecision)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPoint(oid(bacnet.ObjectTypeMultiStateValue, 1))
			require.True(t, d.Apply(p, bacnet.PropertyStateText, states))
			require.True(t, d.Apply(p, bacnet.PropertyPresentValue, tt.raw))
			assert.Equal(t, tt.want, p.PresentValue)
		})
	}
}

func TestStateTextAfterPresentValue(t *testing.T) {
	d := NewDecoder(DefaultPrecision)
	p := NewPoint(oid(bacnet.ObjectTypeMultiStateInput, 3))

	require.True(t, d.Apply(p, bacnet.PropertyPresentValue, uint32(2)))
	assert.Equal(t, float64(2), p.PresentValue)

	require.True(t, d.Apply(p, bacnet.PropertyStateText, []interface{}{"Off", "On", "Fault"}))
	assert.Equal(t, "On", p.PresentValue)
	assert.Equal(t, uint32(2), p.RawValue)
}

func TestPresentValueRules(t *testing.T) {
	tests := []struct {
		name      string
		objType   bacnet.ObjectType
		precision int
		raw       interface{}
		want      interface{}
	}{
		{"real rounded", bacnet.ObjectTypeAnalogInput, 2, float32(21.3), 21.3},
		{"real rounded down", bacnet.ObjectTypeAnalogValue, 2, float64(1.23456), 1.23},
		{"precision zero", bacnet.ObjectTypeAnalogValue, 0, float64(7.6), float64(8)},
		{"binary inactive", bacnet.ObjectTypeBinaryInput, 2, bacnet.Enumerated(0), false},
		{"binary active", bacnet.ObjectTypeBinaryOutput, 2, bacnet.Enumerated(1), true},
		{"binary bool passthrough", bacnet.ObjectTypeBinaryValue, 2, true, true},
		{"unsigned", bacnet.ObjectTypeAnalogInput, 2, uint32(42), float64(42)},
		{"string", bacnet.ObjectTypeAnalogInput, 2, "n/a", "n/a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder(tt.precision)
			p := NewPoint(oid(tt.objType, 1))
			require.True(t, d.Apply(p, bacnet.PropertyPresentValue, tt.raw))
			assert.Equal(t, tt.want, p.PresentValue)
		})
	}
}

func TestUnusableValueLeavesPointUntouched(t *testing.T) {
	d := NewDecoder(DefaultPrecision)
	p := NewPoint(oid(bacnet.ObjectTypeAnalogInput, 1))
	require.True(t, d.Apply(p, bacnet.PropertyPresentValue, float32(10)))
	require.True(t, d.Apply(p, bacnet.PropertyObjectName, "Supply Temp"))

	assert.False(t, d.Apply(p, bacnet.PropertyPresentValue, nil))
	assert.False(t, d.Apply(p, bacnet.PropertyPresentValue, bacnet.Date{Year: 2024, Month: 1, Day: 1}))
	assert.False(t, d.Apply(p, bacnet.PropertyObjectName, uint32(3)))
	assert.False(t, d.Apply(p, bacnet.PropertyUnits, "degrees"))

	assert.Equal(t, float64(10), p.PresentValue)
	assert.Equal(t, "Supply Temp", p.ObjectName)
	assert.Empty(t, p.Units)
}

func TestMetadataRules(t *testing.T) {
	d := NewDecoder(DefaultPrecision)
	p := NewPoint(oid(bacnet.ObjectTypeAnalogOutput, 7))

	d.Apply(p, bacnet.PropertyObjectName, "Valve 1")
	d.Apply(p, bacnet.PropertyDescription, "Heating valve")
	d.Apply(p, bacnet.PropertyUnits, bacnet.Enumerated(98))
	d.Apply(p, bacnet.PropertyPriorityArray, []interface{}{nil, nil, float32(50)})
	d.Apply(p, bacnet.PropertyPropertyList, []interface{}{bacnet.Enumerated(85), bacnet.Enumerated(77)})
	d.Apply(p, bacnet.PropertyRecordCount, uint32(12))
	d.Apply(p, bacnet.PropertySystemStatus, bacnet.Enumerated(0))

	assert.Equal(t, "Valve 1", p.ObjectName)
	assert.Equal(t, "Valve 1", p.DisplayName)
	assert.Equal(t, "Heating valve", p.Description)
	assert.Equal(t, "%", p.Units)
	assert.True(t, p.HasPriorityArray)
	assert.Equal(t, []bacnet.PropertyIdentifier{bacnet.PropertyPresentValue, bacnet.PropertyObjectName}, p.PropertyList)
	require.NotNil(t, p.RecordCount)
	assert.Equal(t, uint32(12), *p.RecordCount)
	assert.Equal(t, "operational", p.SystemStatus)
}

func TestApplyResultErrors(t *testing.T) {
	d := NewDecoder(DefaultPrecision)
	p := NewPoint(oid(bacnet.ObjectTypeAnalogInput, 1))
	id := p.ObjectID

	d.ApplyResult(p, bacnet.PropertyValue{ObjectID: id, PropertyID: bacnet.PropertyPresentValue, Value: float32(5)})
	assert.Empty(t, p.Error)

	readErr := bacnet.NewBACnetError(bacnet.ErrorClassProperty, bacnet.ErrorCodeUnknownProperty)
	assert.False(t, d.ApplyResult(p, bacnet.PropertyValue{ObjectID: id, PropertyID: bacnet.PropertyDescription, Err: readErr}))
	assert.Empty(t, p.Error)

	assert.False(t, d.ApplyResult(p, bacnet.PropertyValue{ObjectID: id, PropertyID: bacnet.PropertyPresentValue, Err: errors.New("timeout")}))
	assert.Equal(t, "timeout", p.Error)
	assert.Equal(t, float64(5), p.PresentValue)

	d.ApplyResult(p, bacnet.PropertyValue{ObjectID: id, PropertyID: bacnet.PropertyPresentValue, Value: float32(6)})
	assert.Empty(t, p.Error)
	assert.Equal(t, float64(6), p.PresentValue)
}

func TestPolledPropertyErrors(t *testing.T) {
	d := NewDecoder(DefaultPrecision)
	timeout := errors.New("timeout")

	dev := NewPoint(oid(bacnet.ObjectTypeDevice, 7))
	d.ApplyResult(dev, bacnet.PropertyValue{ObjectID: dev.ObjectID, PropertyID: bacnet.PropertySystemStatus, Value: bacnet.Enumerated(0)})
	require.Equal(t, "operational", dev.SystemStatus)

	d.ApplyResults(dev, []bacnet.PropertyValue{
		{ObjectID: dev.ObjectID, PropertyID: bacnet.PropertySystemStatus, Err: timeout},
	})
	assert.Equal(t, "timeout", dev.Error)
	assert.Equal(t, "operational", dev.SystemStatus)

	d.ApplyResults(dev, []bacnet.PropertyValue{
		{ObjectID: dev.ObjectID, PropertyID: bacnet.PropertySystemStatus, Value: bacnet.Enumerated(0)},
	})
	assert.Empty(t, dev.Error)

	// a later success of another polled property keeps the failure
	file := NewPoint(oid(bacnet.ObjectTypeFile, 1))
	d.ApplyResults(file, []bacnet.PropertyValue{
		{ObjectID: file.ObjectID, PropertyID: bacnet.PropertyModificationDate, Err: timeout},
		{ObjectID: file.ObjectID, PropertyID: bacnet.PropertyRecordCount, Value: uint32(3)},
	})
	assert.Equal(t, "timeout", file.Error)
	require.NotNil(t, file.RecordCount)
	assert.Equal(t, uint32(3), *file.RecordCount)

	// metadata failures never mark the point
	d.ApplyResults(file, []bacnet.PropertyValue{
		{ObjectID: file.ObjectID, PropertyID: bacnet.PropertyModificationDate, Value: bacnet.Date{Year: 2025, Month: 6, Day: 1}},
		{ObjectID: file.ObjectID, PropertyID: bacnet.PropertyRecordCount, Value: uint32(4)},
		{ObjectID: file.ObjectID, PropertyID: bacnet.PropertyDescription, Err: timeout},
	})
	assert.Empty(t, file.Error)
}

func TestIsPolled(t *testing.T) {
	assert.True(t, IsPolled(bacnet.ObjectTypeAnalogInput, bacnet.PropertyPresentValue))
	assert.False(t, IsPolled(bacnet.ObjectTypeAnalogInput, bacnet.PropertyObjectName))
	assert.True(t, IsPolled(bacnet.ObjectTypeDevice, bacnet.PropertySystemStatus))
	assert.False(t, IsPolled(bacnet.ObjectTypeDevice, bacnet.PropertyPresentValue))
	assert.True(t, IsPolled(bacnet.ObjectTypeProgram, bacnet.PropertyProgramState))
	assert.True(t, IsPolled(bacnet.ObjectTypeTrendLog, bacnet.PropertyRecordCount))
}
