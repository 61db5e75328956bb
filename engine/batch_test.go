package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeo/drivers/bacnetgw/bacnet"
)

func TestDefaultBatchPolicy(t *testing.T) {
	tests := []struct {
		maxAPDU uint16
		want    int
	}{
		{50, 20},
		{480, 20},
		{500, 20},
		{501, 50},
		{700, 50},
		{1000, 50},
		{1001, 100},
		{1400, 100},
		{1476, 100},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DefaultBatchPolicy(tt.maxAPDU), "maxAPDU %d", tt.maxAPDU)
	}
}

func objects(n int) []bacnet.ObjectIdentifier {
	out := make([]bacnet.ObjectIdentifier, n)
	for i := range out {
		out[i] = bacnet.NewObjectIdentifier(bacnet.ObjectTypeAnalogValue, uint32(i))
	}
	return out
}

func TestBatchesCoverEachObjectOnce(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		size  int
		sizes []int
	}{
		{"empty", 0, 20, []int{}},
		{"exact", 40, 20, []int{20, 20}},
		{"remainder", 45, 20, []int{20, 20, 5}},
		{"single batch", 7, 100, []int{7}},
		{"zero size", 3, 0, []int{1, 1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := objects(tt.n)
			batches := Batches(in, tt.size)

			sizes := make([]int, 0, len(batches))
			var flat []bacnet.ObjectIdentifier
			for _, b := range batches {
				sizes = append(sizes, len(b))
				flat = append(flat, b...)
			}
			assert.Equal(t, tt.sizes, sizes)
			if tt.n == 0 {
				assert.Empty(t, flat)
				return
			}
			assert.Equal(t, in, flat)
		})
	}
}

func TestBatchesDoNotAlias(t *testing.T) {
	in := objects(5)
	batches := Batches(in, 2)
	require.Len(t, batches, 3)

	batches[0] = append(batches[0], bacnet.NewObjectIdentifier(bacnet.ObjectTypeDevice, 1))
	assert.Equal(t, objects(5)[2], batches[1][0])
}
