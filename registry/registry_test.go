package registry

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeo/drivers/bacnetgw/bacnet"
)

func iAm(id uint32, addr bacnet.Address) bacnet.DeviceInfo {
	return bacnet.DeviceInfo{
		ObjectID:      bacnet.NewObjectIdentifier(bacnet.ObjectTypeDevice, id),
		Address:       addr,
		MaxAPDULength: 1476,
		Segmentation:  bacnet.SegmentationBoth,
		VendorID:      5,
	}
}

func ipAddr(ip string) bacnet.Address {
	return bacnet.IPAddress(net.ParseIP(ip), 0)
}

func mstpAddr(routerIP string, network uint16, mac byte) bacnet.Address {
	a := ipAddr(routerIP)
	a.Net = network
	a.MAC = []byte{mac}
	return a
}

func TestUpsertCreatesAndMerges(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r := New(WithClock(func() time.Time { return now }))

	dev, change := r.Upsert(iAm(100, ipAddr("10.0.0.5")))
	require.Equal(t, Created, change)
	assert.Equal(t, "10.0.0.5-100", dev.Key())
	assert.True(t, dev.InitialQuery)
	assert.True(t, dev.NeedsDiscovery)
	assert.Equal(t, now, dev.LastSeen)

	now = now.Add(time.Minute)
	info := iAm(100, ipAddr("10.0.0.5"))
	info.MaxAPDULength = 480
	dev, change = r.Upsert(info)
	require.Equal(t, Updated, change)
	assert.Equal(t, uint16(480), dev.MaxAPDU)
	assert.Equal(t, now, dev.LastSeen)
	assert.Equal(t, 1, r.Len())
}

func TestUpsertRangeFilter(t *testing.T) {
	r := New(WithRanges(Range{Low: 100, High: 200}, Range{Low: 1000, High: 1000}))

	_, change := r.Upsert(iAm(50, ipAddr("10.0.0.1")))
	assert.Equal(t, Filtered, change)

	_, change = r.Upsert(iAm(150, ipAddr("10.0.0.2")))
	assert.Equal(t, Created, change)

	_, change = r.Upsert(iAm(1000, ipAddr("10.0.0.3")))
	assert.Equal(t, Created, change)

	assert.Equal(t, 2, r.Len())
}

func TestMSTPLinking(t *testing.T) {
	t.Run("parent first", func(t *testing.T) {
		r := New()
		r.Upsert(iAm(1, ipAddr("10.0.0.1")))
		child, _ := r.Upsert(iAm(200, mstpAddr("10.0.0.1", 2001, 12)))

		require.NotNil(t, child.ParentID)
		assert.Equal(t, uint32(1), *child.ParentID)
		assert.True(t, child.IsMSTP)

		parent, _ := r.Get(1)
		assert.Equal(t, []uint32{200}, parent.ChildIDs)
	})

	t.Run("late parent adopts orphans", func(t *testing.T) {
		r := New()
		r.Upsert(iAm(200, mstpAddr("10.0.0.1", 2001, 12)))
		r.Upsert(iAm(201, mstpAddr("10.0.0.1", 2001, 13)))
		r.Upsert(iAm(300, mstpAddr("10.0.0.9", 5, 1)))

		orphan, _ := r.Get(200)
		assert.Nil(t, orphan.ParentID)

		r.Upsert(iAm(1, ipAddr("10.0.0.1")))

		parent, _ := r.Get(1)
		assert.Equal(t, []uint32{200, 201}, parent.ChildIDs)

		child, _ := r.Get(201)
		require.NotNil(t, child.ParentID)
		assert.Equal(t, uint32(1), *child.ParentID)

		other, _ := r.Get(300)
		assert.Nil(t, other.ParentID)
	})
}

func TestUpsertAddressChangeRelinks(t *testing.T) {
	r := New()
	r.Upsert(iAm(1, ipAddr("10.0.0.1")))
	r.Upsert(iAm(2, ipAddr("10.0.0.2")))
	r.Upsert(iAm(200, mstpAddr("10.0.0.1", 2001, 12)))

	child, change := r.Upsert(iAm(200, mstpAddr("10.0.0.2", 2001, 12)))
	require.Equal(t, Updated, change)
	require.NotNil(t, child.ParentID)
	assert.Equal(t, uint32(2), *child.ParentID)

	old, _ := r.Get(1)
	assert.Empty(t, old.ChildIDs)
}

func TestPurge(t *testing.T) {
	r := New()
	r.Upsert(iAm(1, ipAddr("10.0.0.1")))
	r.Upsert(iAm(200, mstpAddr("10.0.0.1", 2001, 12)))

	assert.True(t, r.Purge(1))
	assert.False(t, r.Purge(1))

	child, ok := r.Get(200)
	require.True(t, ok)
	assert.Nil(t, child.ParentID)
}

func TestDevicesReturnsSortedCopies(t *testing.T) {
	r := New()
	r.Upsert(iAm(30, ipAddr("10.0.0.3")))
	r.Upsert(iAm(10, ipAddr("10.0.0.1")))

	devs := r.Devices()
	require.Len(t, devs, 2)
	assert.Equal(t, uint32(10), devs[0].ID)

	devs[0].DisplayName = "changed"
	stored, _ := r.Get(10)
	assert.Empty(t, stored.DisplayName)
}

func TestUpdateAndMarkAll(t *testing.T) {
	r := New()
	r.Upsert(iAm(10, ipAddr("10.0.0.1")))

	ok := r.Update(10, func(d *Device) {
		d.NeedsDiscovery = false
		d.Points = []bacnet.ObjectIdentifier{bacnet.NewObjectIdentifier(bacnet.ObjectTypeAnalogInput, 1)}
	})
	require.True(t, ok)
	assert.False(t, r.Update(99, func(*Device) {}))

	dev, _ := r.Get(10)
	assert.False(t, dev.NeedsDiscovery)
	assert.Len(t, dev.Points, 1)

	r.MarkAllForDiscovery()
	dev, _ = r.Get(10)
	assert.True(t, dev.NeedsDiscovery)
}

func TestRestore(t *testing.T) {
	src := New()
	src.Upsert(iAm(1, ipAddr("10.0.0.1")))
	src.Upsert(iAm(200, mstpAddr("10.0.0.1", 2001, 12)))

	live := New()
	live.Upsert(iAm(1, ipAddr("10.0.0.7")))

	n := live.Restore(src.Devices())
	assert.Equal(t, 1, n)

	kept, _ := live.Get(1)
	assert.Equal(t, "10.0.0.7", kept.Address.IP())

	child, ok := live.Get(200)
	require.True(t, ok)
	assert.Nil(t, child.ParentID)
}
