package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeo/drivers/bacnetgw/bacnet"
)

func TestObjectKey(t *testing.T) {
	tests := []struct {
		name   string
		object string
		oid    bacnet.ObjectIdentifier
		want   string
	}{
		{"plain", "SupplyTemp", oid(bacnet.ObjectTypeAnalogInput, 1), "SupplyTemp_AI_1"},
		{"spaces and punctuation", "Zone 1.Temp-Set", oid(bacnet.ObjectTypeAnalogValue, 12), "Zone_1_Temp_Set_AV_12"},
		{"non ascii", "Température", oid(bacnet.ObjectTypeAnalogInput, 2), "Temp_rature_AI_2"},
		{"unknown name", "", oid(bacnet.ObjectTypeBinaryValue, 4), "binary_value_BV_4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ObjectKey(tt.object, tt.oid))
			assert.Equal(t, tt.want, ObjectKey(tt.object, tt.oid))
		})
	}
}

func TestPointCacheRekeysOnName(t *testing.T) {
	c := NewPointCache()
	id := oid(bacnet.ObjectTypeAnalogInput, 1)

	c.Merge("10.0.0.5-100", id, func(p *Point) { p.PresentValue = 1.0 })
	pts := c.Device("10.0.0.5-100")
	require.Contains(t, pts, "analog_input_AI_1")

	c.Merge("10.0.0.5-100", id, func(p *Point) { p.ObjectName = "Supply Temp" })
	pts = c.Device("10.0.0.5-100")
	require.Len(t, pts, 1)
	require.Contains(t, pts, "Supply_Temp_AI_1")
	assert.Equal(t, 1.0, pts["Supply_Temp_AI_1"].PresentValue)
}

func TestPointCacheCopies(t *testing.T) {
	c := NewPointCache()
	id := oid(bacnet.ObjectTypeMultiStateValue, 2)
	c.Merge("dev", id, func(p *Point) { p.StateText = []string{"a", "b"} })

	p, ok := c.Lookup("dev", id)
	require.True(t, ok)
	p.StateText[0] = "changed"

	again, _ := c.Lookup("dev", id)
	assert.Equal(t, "a", again.StateText[0])
}

func TestPointCacheRestoreKeepsLive(t *testing.T) {
	c := NewPointCache()
	live := oid(bacnet.ObjectTypeAnalogInput, 1)
	c.Merge("dev", live, func(p *Point) { p.PresentValue = 2.0 })

	stale := NewPoint(live)
	stale.PresentValue = 1.0
	other := NewPoint(oid(bacnet.ObjectTypeAnalogInput, 2))
	c.Restore(Snapshot{"dev": {stale.Key(): stale, other.Key(): other}})

	p, _ := c.Lookup("dev", live)
	assert.Equal(t, 2.0, p.PresentValue)
	assert.True(t, c.Has("dev", other.ObjectID))
}

func TestPointCacheRenameAndPrune(t *testing.T) {
	c := NewPointCache()
	a := oid(bacnet.ObjectTypeAnalogInput, 1)
	b := oid(bacnet.ObjectTypeAnalogInput, 2)
	c.Merge("old", a, func(*Point) {})
	c.Merge("old", b, func(*Point) {})

	c.RenameDevice("old", "new")
	assert.Nil(t, c.Device("old"))
	assert.Len(t, c.Device("new"), 2)

	assert.Equal(t, 1, c.Prune("new", []bacnet.ObjectIdentifier{a}))
	assert.True(t, c.Has("new", a))
	assert.False(t, c.Has("new", b))

	c.RemoveDevice("new")
	assert.Empty(t, c.Snapshot())
}
