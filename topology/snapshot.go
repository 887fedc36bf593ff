package topology

import (
	"fmt"
	"hash/crc32"
)

// slotNotActive marks a partition slot without an assigned node, as seen
// mid-rebalance.
const slotNotActive = -1

// --------------------------------------------------------------------------
// Snapshot
// --------------------------------------------------------------------------

// Snapshot is an immutable view of the cluster topology: the ordered node
// list and the partition table mapping each partition to node indexes
// (primary first, replicas after). Snapshots are replaced wholesale on
// reconfiguration; multiple in-flight operations may safely share one.
type Snapshot struct {
	rev         int64
	nodes       []string
	partitions  [][]int16
	numReplicas int
}

// NewSnapshot validates and builds a topology snapshot. The partition count
// must be a power of two (required by the key hashing scheme) and every
// partition entry must carry 1 + numReplicas slots; a slot value of -1
// means not active.
func NewSnapshot(rev int64, nodes []string, partitions [][]int16, numReplicas int) (*Snapshot, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("snapshot needs at least one node")
	}
	if len(partitions) == 0 || len(partitions)&(len(partitions)-1) != 0 {
		return nil, fmt.Errorf("partition count must be a power of two, got %d", len(partitions))
	}
	if numReplicas < 0 || numReplicas > 3 {
		return nil, fmt.Errorf("replica count must be between 0 and 3, got %d", numReplicas)
	}

	for i, slots := range partitions {
		if len(slots) != numReplicas+1 {
			return nil, fmt.Errorf("partition %d has %d slots, want %d", i, len(slots), numReplicas+1)
		}
		for _, idx := range slots {
			if idx != slotNotActive && (idx < 0 || int(idx) >= len(nodes)) {
				return nil, fmt.Errorf("partition %d references unknown node index %d", i, idx)
			}
		}
	}

	return &Snapshot{
		rev:         rev,
		nodes:       nodes,
		partitions:  partitions,
		numReplicas: numReplicas,
	}, nil
}

// Rev returns the configuration revision of this snapshot
func (s *Snapshot) Rev() int64 { return s.rev }

// Nodes returns the node endpoint list of this snapshot
func (s *Snapshot) Nodes() []string { return s.nodes }

// NumPartitions returns the number of partitions in the table
func (s *Snapshot) NumPartitions() int { return len(s.partitions) }

// NumReplicas returns the configured replica count per partition
func (s *Snapshot) NumReplicas() int { return s.numReplicas }

// --------------------------------------------------------------------------
// Key hashing
// --------------------------------------------------------------------------

// PartitionForKey computes the partition id of a key. The hash function is
// fixed by the wire protocol: CRC32 (IEEE), shifted and masked into the
// partition space.
func PartitionForKey(key []byte, numPartitions int) uint16 {
	crc := crc32.ChecksumIEEE(key)
	return uint16(((crc >> 16) & 0x7fff) & uint32(numPartitions-1))
}
