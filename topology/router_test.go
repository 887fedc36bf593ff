package topology

import (
	"fmt"
	"testing"

	"github.com/nkvdb/nkv/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSnapshot builds a 64-partition table over 4 nodes with 2 replicas,
// spreading slots round-robin so every node serves some partitions.
func testSnapshot(t *testing.T, rev int64) *Snapshot {
	t.Helper()

	nodes := []string{"node-a:11210", "node-b:11210", "node-c:11210", "node-d:11210"}
	partitions := make([][]int16, 64)
	for i := range partitions {
		primary := int16(i % len(nodes))
		partitions[i] = []int16{
			primary,
			(primary + 1) % int16(len(nodes)),
			(primary + 2) % int16(len(nodes)),
		}
	}

	s, err := NewSnapshot(rev, nodes, partitions, 2)
	require.NoError(t, err)
	return s
}

func TestRouteDeterministic(t *testing.T) {
	router := NewRouter()
	require.True(t, router.Apply(testSnapshot(t, 1)))

	for i := 0; i < 20; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))

		first, err := router.Route(key)
		require.NoError(t, err)

		// Repeated calls with the same snapshot return the same route
		for j := 0; j < 5; j++ {
			again, err := router.Route(key)
			require.NoError(t, err)
			assert.Equal(t, first, again)
		}

		assert.Less(t, int(first.Partition), 64)
		assert.NotEmpty(t, first.Primary)
		assert.Len(t, first.Replicas, 2)
		assert.NotContains(t, first.Replicas, first.Primary)
	}
}

func TestRouteNoSnapshot(t *testing.T) {
	router := NewRouter()

	_, err := router.Route([]byte("key"))
	assert.ErrorIs(t, err, common.ErrTopologyNotReady)

	_, err = router.RouteBatch([][]byte{[]byte("key")})
	assert.ErrorIs(t, err, common.ErrTopologyNotReady)
}

func TestRouteInactiveSlot(t *testing.T) {
	nodes := []string{"node-a:11210"}
	partitions := make([][]int16, 4)
	for i := range partitions {
		partitions[i] = []int16{0}
	}
	// One partition is mid-rebalance
	partitions[2] = []int16{-1}

	s, err := NewSnapshot(1, nodes, partitions, 0)
	require.NoError(t, err)

	router := NewRouter()
	router.Apply(s)

	// Find a key hashing to the inactive partition
	var inactive []byte
	for i := 0; ; i++ {
		key := []byte(fmt.Sprintf("probe-%d", i))
		if PartitionForKey(key, 4) == 2 {
			inactive = key
			break
		}
	}

	_, err = router.Route(inactive)
	assert.ErrorIs(t, err, common.ErrTopologyNotReady)
}

func TestApplyRejectsStaleRev(t *testing.T) {
	router := NewRouter()

	require.True(t, router.Apply(testSnapshot(t, 5)))
	assert.False(t, router.Apply(testSnapshot(t, 5)), "same rev must be rejected")
	assert.False(t, router.Apply(testSnapshot(t, 3)), "older rev must be rejected")
	assert.True(t, router.Apply(testSnapshot(t, 6)))
	assert.EqualValues(t, 6, router.Snapshot().Rev())
}

func TestRouteBatchBuckets(t *testing.T) {
	router := NewRouter()
	router.Apply(testSnapshot(t, 1))

	keys := make([][]byte, 100)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("batch-key-%d", i))
	}

	buckets, err := router.RouteBatch(keys)
	require.NoError(t, err)

	// Union of buckets equals the input set: no duplicates, no omissions
	seen := make(map[string]int)
	for node, routed := range buckets {
		for _, rk := range routed {
			seen[string(rk.Key)]++

			// Each entry's partition matches the single-key route
			route, err := router.Route(rk.Key)
			require.NoError(t, err)
			assert.Equal(t, route.Partition, rk.Partition)
			assert.Equal(t, route.Primary, node)
		}
	}
	assert.Len(t, seen, len(keys))
	for k, n := range seen {
		assert.Equal(t, 1, n, "key %s bucketed %d times", k, n)
	}
}

func TestNewSnapshotValidation(t *testing.T) {
	nodes := []string{"node-a:11210"}

	_, err := NewSnapshot(1, nil, [][]int16{{0}}, 0)
	assert.Error(t, err, "empty node list")

	_, err = NewSnapshot(1, nodes, [][]int16{{0}, {0}, {0}}, 0)
	assert.Error(t, err, "partition count not a power of two")

	_, err = NewSnapshot(1, nodes, [][]int16{{0}, {5}}, 0)
	assert.Error(t, err, "unknown node index")

	_, err = NewSnapshot(1, nodes, [][]int16{{0}, {0}}, 1)
	assert.Error(t, err, "slot count mismatch with replica count")
}

func TestPartitionForKeyMasksIntoRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		p := PartitionForKey(key, 1024)
		assert.Less(t, int(p), 1024)
	}
}
