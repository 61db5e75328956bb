package cache

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeo/drivers/bacnetgw/bacnet"
	"github.com/edgeo/drivers/bacnetgw/model"
	"github.com/edgeo/drivers/bacnetgw/registry"
)

func sampleBlob() Blob {
	dev := &registry.Device{
		ID:       100,
		Address:  registry.FromBACnet(bacnet.IPAddress(net.ParseIP("10.0.0.5"), 0)),
		MaxAPDU:  480,
		LastSeen: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	p := model.NewPoint(bacnet.NewObjectIdentifier(bacnet.ObjectTypeAnalogInput, 1))
	p.ObjectName = "Supply Temp"
	p.PresentValue = 21.5
	p.UpdatedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	return Blob{
		DeviceList: []*registry.Device{dev},
		PointList:  model.Snapshot{dev.Key(): {p.Key(): p}},
	}
}

func TestAdaptiveIntervalBackoff(t *testing.T) {
	a := NewAdaptiveInterval(0, 0, 0)
	a.Prime(1)

	want := []time.Duration{
		45 * time.Second,
		67500 * time.Millisecond,
		101250 * time.Millisecond,
		151875 * time.Millisecond,
		227812500 * time.Microsecond,
		300 * time.Second,
		300 * time.Second,
	}
	for _, w := range want {
		for i := 0; i < UnchangedThreshold; i++ {
			assert.False(t, a.Observe(1))
		}
		assert.Equal(t, w, a.Interval())
	}

	assert.True(t, a.Observe(2))
	assert.Equal(t, 240*time.Second, a.Interval())
}

func TestAdaptiveIntervalShrinksToFloor(t *testing.T) {
	a := NewAdaptiveInterval(0, 0, 0)

	assert.True(t, a.Observe(1))
	assert.Equal(t, 24*time.Second, a.Interval())
	assert.True(t, a.Observe(2))
	assert.Equal(t, 20*time.Second, a.Interval())
	assert.True(t, a.Observe(3))
	assert.Equal(t, 20*time.Second, a.Interval())
}

func TestAdaptiveIntervalChangeResetsCounter(t *testing.T) {
	a := NewAdaptiveInterval(0, 0, 0)
	a.Prime(1)

	a.Observe(1)
	a.Observe(1)
	a.Observe(2)
	a.Observe(2)
	a.Observe(2)
	assert.Equal(t, 24*time.Second, a.Interval())
	a.Observe(2)
	assert.Equal(t, 36*time.Second, a.Interval())
}

func TestContentHashIgnoresTimestamps(t *testing.T) {
	a := sampleBlob()
	b := sampleBlob()
	b.DeviceList[0].LastSeen = time.Now()
	for _, pts := range b.PointList {
		for _, p := range pts {
			p.UpdatedAt = time.Now()
		}
	}

	ha, err := ContentHash(a)
	require.NoError(t, err)
	hb, err := ContentHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)

	for _, pts := range b.PointList {
		for _, p := range pts {
			p.PresentValue = 22.0
		}
	}
	hc, err := ContentHash(b)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hc)
}

func testStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	empty, err := s.Load(ctx)
	require.NoError(t, err)
	assert.True(t, empty.Empty())

	require.NoError(t, s.Save(ctx, sampleBlob()))
	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got.DeviceList, 1)
	assert.Equal(t, uint32(100), got.DeviceList[0].ID)
	assert.Equal(t, "10.0.0.5", got.DeviceList[0].Address.IP())

	pts := got.PointList["10.0.0.5-100"]
	require.Contains(t, pts, "Supply_Temp_AI_1")
	assert.Equal(t, 21.5, pts["Supply_Temp_AI_1"].PresentValue)

	// a second save replaces the first
	b := sampleBlob()
	b.DeviceList = append(b.DeviceList, &registry.Device{ID: 101})
	require.NoError(t, s.Save(ctx, b))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got.DeviceList, 2)
}

func TestFileStore(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "cache.json"), nil)
	testStore(t, s)
	require.NoError(t, s.Close())
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"), nil)
	require.NoError(t, err)
	defer s.Close()
	testStore(t, s)
}

func TestFileStoreIgnoresCorruptContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	b, err := NewFileStore(path, nil).Load(context.Background())
	require.NoError(t, err)
	assert.True(t, b.Empty())
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open("file", filepath.Join(dir, "c.json"), nil)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = Open("sqlite", filepath.Join(dir, "c.db"), nil)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open("redis", "", nil)
	assert.ErrorIs(t, err, ErrUnknownDriver)
}
