package bacnet

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressString(t *testing.T) {
	tests := []struct {
		addr Address
		want string
	}{
		{IPAddress(net.ParseIP("10.0.0.5"), 0), "10.0.0.5"},
		{IPAddress(net.ParseIP("10.0.0.5"), 47809), "10.0.0.5:47809"},
		{Address{IP: net.ParseIP("10.0.0.1").To4(), Net: 2001, MAC: []byte{0x0c}}, "10.0.0.1/2001:0c"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.addr.String())
	}
}

func TestParseAddress(t *testing.T) {
	for _, s := range []string{"10.0.0.5", "10.0.0.5:47809", "10.0.0.1/2001:0c"} {
		addr, err := ParseAddress(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, addr.String())
	}

	for _, s := range []string{"", "host", "10.0.0.1/2001", "10.0.0.1/x:0c", "10.0.0.1/5:zz"} {
		_, err := ParseAddress(s)
		assert.Error(t, err, s)
	}
}

func TestAddressEqual(t *testing.T) {
	a := IPAddress(net.ParseIP("10.0.0.5"), 0)
	b := Address{IP: net.ParseIP("10.0.0.5"), Port: DefaultPort}
	assert.True(t, a.Equal(b))

	routed := Address{IP: a.IP, Net: 1, MAC: []byte{1}}
	assert.False(t, a.Equal(routed))
}

func TestObjectTypeHelpers(t *testing.T) {
	assert.Equal(t, "MSV", ObjectTypeMultiStateValue.Abbrev())
	assert.True(t, ObjectTypeBinaryOutput.IsBinary())
	assert.True(t, ObjectTypeMultiStateInput.IsMultiState())
	assert.False(t, ObjectTypeAnalogInput.IsCommandable())
	assert.True(t, ObjectTypeAnalogOutput.IsCommandable())

	ot, ok := ParseObjectType("av")
	require.True(t, ok)
	assert.Equal(t, ObjectTypeAnalogValue, ot)

	p, ok := ParsePropertyIdentifier("pv")
	require.True(t, ok)
	assert.Equal(t, PropertyPresentValue, p)
}
