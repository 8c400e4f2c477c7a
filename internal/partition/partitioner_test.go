package partition

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPartitioner_RoundRobin(t *testing.T) {
	p := New(RoundRobin, 3)

	got := []int{
		int(p.Partition(nil)),
		int(p.Partition(nil)),
		int(p.Partition(nil)),
		int(p.Partition(nil)),
	}
	require.Equal(t, []int{0, 1, 2, 0}, got)
}

func TestPartitioner_KeyHashIsStable(t *testing.T) {
	p := New(KeyHash, 3)

	key := []byte("same-key")
	p1 := p.Partition(key)
	p2 := p.Partition(key)

	require.Equal(t, p1, p2, "expected the same key to map to the same partition")
}

func TestPartitioner_KeyHashFallsBackToRoundRobinWithoutKey(t *testing.T) {
	p := New(KeyHash, 3)

	p1 := p.Partition(nil)
	p2 := p.Partition(nil)
	require.NotEqual(t, p1, p2, "expected unkeyed records to fall back to round robin rotation")
}

func TestPartitioner_Sticky(t *testing.T) {
	p := New(Sticky, 3)

	require.EqualValues(t, 0, p.Partition(nil), "expected sticky partition to start at 0")
	p.RotateSticky()
	require.EqualValues(t, 1, p.Partition(nil), "expected sticky partition to advance to 1 after rotation")
}

func TestPartitioner_AllPartitions(t *testing.T) {
	p := New(RoundRobin, 4)
	all := p.AllPartitions()
	require.Len(t, all, 4)
}
