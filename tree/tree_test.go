package tree

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeo/drivers/bacnetgw/bacnet"
	"github.com/edgeo/drivers/bacnetgw/model"
	"github.com/edgeo/drivers/bacnetgw/registry"
)

func iAm(id uint32, addr bacnet.Address) bacnet.DeviceInfo {
	return bacnet.DeviceInfo{
		ObjectID:      bacnet.NewObjectIdentifier(bacnet.ObjectTypeDevice, id),
		Address:       addr,
		MaxAPDULength: 1476,
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

func samplePoints(deviceKey string) model.Snapshot {
	p := model.NewPoint(bacnet.NewObjectIdentifier(bacnet.ObjectTypeAnalogInput, 1))
	p.ObjectName = "Supply Temp"
	p.DisplayName = "Supply Temp"
	p.PresentValue = 21.5
	return model.Snapshot{deviceKey: {p.Key(): p}}
}

func TestBuildIPDevice(t *testing.T) {
	reg := registry.New()
	dev, _ := reg.Upsert(iAm(100, ipAddr("10.0.0.5")))

	list, err := NewBuilder().Build(reg.Devices(), samplePoints(dev.Key()))
	require.NoError(t, err)
	require.Len(t, list.Roots, 1)

	root := list.Roots[0]
	assert.Equal(t, "10.0.0.5-100", root.ID)
	assert.Equal(t, KindDevice, root.Kind)
	require.NotNil(t, root.DeviceID)
	assert.Equal(t, uint32(100), *root.DeviceID)

	require.Len(t, root.Children, 1)
	points := root.Children[0]
	assert.Equal(t, PointsFolder, points.Name)
	require.Len(t, points.Children, 1)
	assert.Equal(t, "Supply Temp", points.Children[0].Name)
	assert.Equal(t, 21.5, points.Children[0].Value)
}

func TestBuildIsIdempotent(t *testing.T) {
	reg := registry.New()
	reg.Upsert(iAm(1, ipAddr("10.0.0.1")))
	child, _ := reg.Upsert(iAm(200, mstpAddr("10.0.0.1", 2001, 12)))
	reg.Upsert(iAm(300, mstpAddr("10.0.0.9", 5, 3)))

	b := NewBuilder()
	first, err := b.Build(reg.Devices(), samplePoints(child.Key()))
	require.NoError(t, err)
	second, err := b.Build(reg.Devices(), samplePoints(child.Key()))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	fresh, err := NewBuilder().Build(reg.Devices(), samplePoints(child.Key()))
	require.NoError(t, err)
	assert.Equal(t, first, fresh)
}

func TestMSTPNesting(t *testing.T) {
	reg := registry.New()
	reg.Upsert(iAm(1, ipAddr("10.0.0.1")))
	reg.Upsert(iAm(200, mstpAddr("10.0.0.1", 2001, 12)))
	reg.Upsert(iAm(201, mstpAddr("10.0.0.1", 2001, 13)))

	list, err := NewBuilder().Build(reg.Devices(), nil)
	require.NoError(t, err)
	require.Len(t, list.Roots, 1)

	root := list.Roots[0]
	require.Len(t, root.Children, 2)
	assert.Equal(t, PointsFolder, root.Children[0].Name)

	folder := root.Children[1]
	assert.Equal(t, KindNetwork, folder.Kind)
	assert.Equal(t, "MSTP NET2001", folder.Name)
	require.Len(t, folder.Children, 2)
	assert.Equal(t, uint32(200), *folder.Children[0].DeviceID)
	assert.Equal(t, uint32(201), *folder.Children[1].DeviceID)
}

func TestPlaceholderReplacedByParent(t *testing.T) {
	reg := registry.New()
	reg.Upsert(iAm(200, mstpAddr("10.0.0.1", 2001, 12)))

	b := NewBuilder()
	list, err := b.Build(reg.Devices(), nil)
	require.NoError(t, err)
	require.Len(t, list.Roots, 1)

	ph := list.Roots[0]
	assert.True(t, ph.Placeholder)
	assert.Nil(t, ph.DeviceID)
	assert.Equal(t, "10.0.0.1:47808", ph.Address)
	require.Len(t, ph.Children, 1)
	assert.Equal(t, "MSTP NET2001", ph.Children[0].Name)

	reg.Upsert(iAm(1, ipAddr("10.0.0.1")))
	list, err = b.Build(reg.Devices(), nil)
	require.NoError(t, err)
	require.Len(t, list.Roots, 1, "placeholder must not be duplicated")

	root := list.Roots[0]
	assert.False(t, root.Placeholder)
	require.NotNil(t, root.DeviceID)
	assert.Equal(t, uint32(1), *root.DeviceID)
	assert.Equal(t, "10.0.0.1-1", root.ID)

	var stations int
	list.Walk(func(n *Node, _ int) {
		if n.DeviceID != nil && *n.DeviceID == 200 {
			stations++
		}
	})
	assert.Equal(t, 1, stations)

	fresh, err := NewBuilder().Build(reg.Devices(), nil)
	require.NoError(t, err)
	assert.Equal(t, fresh, list)
}

func TestNetworkFolderKeptWhenEmpty(t *testing.T) {
	reg := registry.New()
	reg.Upsert(iAm(1, ipAddr("10.0.0.1")))
	reg.Upsert(iAm(200, mstpAddr("10.0.0.1", 2001, 12)))

	b := NewBuilder()
	_, err := b.Build(reg.Devices(), nil)
	require.NoError(t, err)

	reg.Purge(200)
	list, err := b.Build(reg.Devices(), nil)
	require.NoError(t, err)

	folder := list.Find("net:10.0.0.1:47808/2001")
	require.NotNil(t, folder)
	assert.Empty(t, folder.Children)
}

func TestPurgedDeviceRemoved(t *testing.T) {
	reg := registry.New()
	reg.Upsert(iAm(1, ipAddr("10.0.0.1")))
	reg.Upsert(iAm(2, ipAddr("10.0.0.2")))

	b := NewBuilder()
	_, err := b.Build(reg.Devices(), nil)
	require.NoError(t, err)

	reg.Purge(1)
	list, err := b.Build(reg.Devices(), nil)
	require.NoError(t, err)
	require.Len(t, list.Roots, 1)
	assert.Equal(t, uint32(2), *list.Roots[0].DeviceID)
}

func TestInterrupt(t *testing.T) {
	reg := registry.New()
	reg.Upsert(iAm(1, ipAddr("10.0.0.1")))
	reg.Upsert(iAm(2, ipAddr("10.0.0.2")))

	b := NewBuilder()
	b.testHookDevice = func(dev *registry.Device) {
		if dev.ID == 2 {
			b.Interrupt()
		}
	}
	_, err := b.Build(reg.Devices(), nil)
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.Empty(t, b.Current().Roots)

	b.testHookDevice = nil
	list, err := b.Build(reg.Devices(), nil)
	require.NoError(t, err)
	assert.Len(t, list.Roots, 2)
}

func TestInterruptBetweenPasses(t *testing.T) {
	reg := registry.New()
	reg.Upsert(iAm(1, ipAddr("10.0.0.1")))

	b := NewBuilder()
	b.Interrupt()
	list, err := b.Build(reg.Devices(), nil)
	require.NoError(t, err)
	assert.Len(t, list.Roots, 1)

	_, err = b.Build(reg.Devices(), nil)
	require.NoError(t, err)
}
