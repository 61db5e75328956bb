package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeo/drivers/bacnetgw/bacnet"
)

func TestParseObjectIdentifier(t *testing.T) {
	tests := []struct {
		in      string
		want    bacnet.ObjectIdentifier
		wantErr bool
	}{
		{in: "analog-input:1", want: bacnet.NewObjectIdentifier(bacnet.ObjectTypeAnalogInput, 1)},
		{in: "ai:1", want: bacnet.NewObjectIdentifier(bacnet.ObjectTypeAnalogInput, 1)},
		{in: "MSV:12", want: bacnet.NewObjectIdentifier(bacnet.ObjectTypeMultiStateValue, 12)},
		{in: "8:1234", want: bacnet.NewObjectIdentifier(bacnet.ObjectTypeDevice, 1234)},
		{in: "ai", wantErr: true},
		{in: "ai:x", wantErr: true},
		{in: "widget:1", wantErr: true},
		{in: "ai:4194304", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseObjectIdentifier(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePropertyIdentifier(t *testing.T) {
	p, err := parsePropertyIdentifier("present-value")
	require.NoError(t, err)
	assert.Equal(t, bacnet.PropertyPresentValue, p)

	p, err = parsePropertyIdentifier("pv")
	require.NoError(t, err)
	assert.Equal(t, bacnet.PropertyPresentValue, p)

	p, err = parsePropertyIdentifier("77")
	require.NoError(t, err)
	assert.Equal(t, bacnet.PropertyObjectName, p)

	_, err = parsePropertyIdentifier("no-such-property")
	assert.Error(t, err)
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want interface{}
	}{
		{"null", nil},
		{"NULL", nil},
		{"true", true},
		{"active", true},
		{"off", false},
		{`"On"`, "On"},
		{"'Zone 1'", "Zone 1"},
		{"21.5", float32(21.5)},
		{"1e3", float32(1000)},
		{"-3", int32(-3)},
		{"7", uint32(7)},
		{"0", uint32(0)},
		{"hello", "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseValue(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "null", formatValue(nil))
	assert.Equal(t, "true", formatValue(true))
	assert.Equal(t, "21.46", formatValue(21.46))
	assert.Equal(t, "1.5", formatValue(float32(1.5)))
	assert.Equal(t, "On", formatValue("On"))
	assert.Equal(t, "analog-input:3", formatValue(bacnet.NewObjectIdentifier(bacnet.ObjectTypeAnalogInput, 3)))
	assert.Equal(t, "42", formatValue(uint32(42)))
}
