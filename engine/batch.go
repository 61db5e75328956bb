package engine

import "github.com/edgeo/drivers/bacnetgw/bacnet"

// BatchPolicy returns how many objects go into one ReadPropertyMultiple
// for a device accepting APDUs of maxAPDU bytes
type BatchPolicy func(maxAPDU uint16) int

// DefaultBatchPolicy sizes batches by the device's max APDU length
func DefaultBatchPolicy(maxAPDU uint16) int {
	switch {
	case maxAPDU <= 500:
		return 20
	case maxAPDU <= 1000:
		return 50
	}
	return 100
}

// Batches splits objects into consecutive groups of at most size
func Batches(objects []bacnet.ObjectIdentifier, size int) [][]bacnet.ObjectIdentifier {
	if size <= 0 {
		size = 1
	}
	batches := make([][]bacnet.ObjectIdentifier, 0, (len(objects)+size-1)/size)
	for start := 0; start < len(objects); start += size {
		end := min(start+size, len(objects))
		batches = append(batches, objects[start:end:end])
	}
	return batches
}
