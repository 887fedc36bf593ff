package durability

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkvdb/nkv/common"
	"github.com/nkvdb/nkv/memd"
	"github.com/nkvdb/nkv/pool"
	"github.com/nkvdb/nkv/topology"
)

// --------------------------------------------------------------------------
// Observe fixture
// --------------------------------------------------------------------------

// keyView is what one node reports for the observed key
type keyView struct {
	state memd.ObserveKeyState
	cas   uint64
}

// observeCluster scripts the per-node observe answers. Views are mutable
// mid-test to simulate replication and persistence progressing between
// polling rounds.
type observeCluster struct {
	mu    sync.Mutex
	views map[string]keyView
}

func (c *observeCluster) set(node string, state memd.ObserveKeyState, cas uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.views[node] = keyView{state: state, cas: cas}
}

func (c *observeCluster) GetName() string { return "observe-fixture" }

func (c *observeCluster) UpgradeConnection(net.Conn, common.ClientConfig) error { return nil }

func (c *observeCluster) Connect(endpoint string) (net.Conn, error) {
	clientSide, serverSide := net.Pipe()
	go func() {
		defer serverSide.Close()
		for {
			req, err := memd.ReadPacket(serverSide)
			if err != nil {
				return
			}

			c.mu.Lock()
			view := c.views[endpoint]
			c.mu.Unlock()

			// Echo the single requested entry back with the node's view
			keyLen := int(binary.BigEndian.Uint16(req.Value[2:4]))
			entry := make([]byte, 4+keyLen+9)
			copy(entry, req.Value[:4+keyLen])
			entry[4+keyLen] = byte(view.state)
			binary.BigEndian.PutUint64(entry[4+keyLen+1:], view.cas)

			resp := &memd.Packet{
				Magic:  memd.MagicResponse,
				Opcode: req.Opcode,
				Status: memd.StatusSuccess,
				Opaque: req.Opaque,
				Value:  entry,
			}
			if _, err := serverSide.Write(resp.Encode()); err != nil {
				return
			}
		}
	}()
	return clientSide, nil
}

var testNodes = []string{"primary:11210", "replica-1:11210", "replica-2:11210"}

// testEngine builds an engine over three nodes holding every partition:
// the first node primary, the other two replicas.
func testEngine(t *testing.T, cluster *observeCluster) *Engine {
	t.Helper()

	config, err := common.NewClientConfig(5, 2, 3)
	require.NoError(t, err)

	p := pool.NewPool(cluster, config, nil)
	t.Cleanup(p.Close)

	partitions := make([][]int16, 8)
	for i := range partitions {
		partitions[i] = []int16{0, 1, 2}
	}
	snap, err := topology.NewSnapshot(1, testNodes, partitions, 2)
	require.NoError(t, err)

	router := topology.NewRouter()
	require.True(t, router.Apply(snap))

	return NewEngine(router, p)
}

func newCluster(primary, replica1, replica2 keyView) *observeCluster {
	return &observeCluster{views: map[string]keyView{
		testNodes[0]: primary,
		testNodes[1]: replica1,
		testNodes[2]: replica2,
	}}
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestPersistToTwoSatisfiedWithoutThirdNode(t *testing.T) {
	// Two of three copies persisted: PersistTo.Two must not wait for the third
	cluster := newCluster(
		keyView{memd.ObserveFoundPersisted, 42},
		keyView{memd.ObserveFoundPersisted, 42},
		keyView{memd.ObserveFoundNotPersisted, 42},
	)
	e := testEngine(t, cluster)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := e.Observe(ctx, []byte("key"), 42, Requirement{PersistTo: PersistToTwo})
	assert.NoError(t, err)
}

func TestReplicateToRequiresMatchingCas(t *testing.T) {
	// Replicas still hold the previous mutation: they must not count
	cluster := newCluster(
		keyView{memd.ObserveFoundPersisted, 42},
		keyView{memd.ObserveFoundNotPersisted, 41},
		keyView{memd.ObserveFoundNotPersisted, 41},
	)
	e := testEngine(t, cluster)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := e.Observe(ctx, []byte("key"), 42, Requirement{ReplicateTo: ReplicateToOne})
	assert.ErrorIs(t, err, common.ErrDurabilityTimeout)
}

func TestObserveProgressesAcrossRounds(t *testing.T) {
	cluster := newCluster(
		keyView{memd.ObserveFoundPersisted, 42},
		keyView{memd.ObserveNotFound, 0},
		keyView{memd.ObserveNotFound, 0},
	)
	e := testEngine(t, cluster)

	// Replication arrives while the engine is polling
	go func() {
		time.Sleep(50 * time.Millisecond)
		cluster.set(testNodes[1], memd.ObserveFoundNotPersisted, 42)
		cluster.set(testNodes[2], memd.ObserveFoundNotPersisted, 42)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := e.Observe(ctx, []byte("key"), 42, Requirement{Level: LevelMajority})
	assert.NoError(t, err)
}

func TestDurabilityTimeoutWhenUnderReplicated(t *testing.T) {
	cluster := newCluster(
		keyView{memd.ObserveFoundPersisted, 42},
		keyView{memd.ObserveNotFound, 0},
		keyView{memd.ObserveNotFound, 0},
	)
	e := testEngine(t, cluster)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := e.Observe(ctx, []byte("key"), 42, Requirement{PersistTo: PersistToThree})
	assert.ErrorIs(t, err, common.ErrDurabilityTimeout)
	assert.NotErrorIs(t, err, common.ErrOperationTimeout)
}

func TestDurabilityConflictOnSupersededMutation(t *testing.T) {
	// The primary already holds a newer cas: polling must stop immediately
	cluster := newCluster(
		keyView{memd.ObserveFoundPersisted, 43},
		keyView{memd.ObserveFoundNotPersisted, 42},
		keyView{memd.ObserveFoundNotPersisted, 42},
	)
	e := testEngine(t, cluster)

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := e.Observe(ctx, []byte("key"), 42, Requirement{Level: LevelPersistToMajority})
	assert.ErrorIs(t, err, common.ErrDurabilityConflict)
	assert.Less(t, time.Since(start), time.Second)
}

func TestMajorityAndPersistActiveGatesOnPrimary(t *testing.T) {
	// Majority of replicas hold the mutation but the primary has not
	// persisted it yet
	cluster := newCluster(
		keyView{memd.ObserveFoundNotPersisted, 42},
		keyView{memd.ObserveFoundNotPersisted, 42},
		keyView{memd.ObserveFoundNotPersisted, 42},
	)
	e := testEngine(t, cluster)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := e.Observe(ctx, []byte("key"), 42, Requirement{Level: LevelMajorityAndPersistActive})
	assert.ErrorIs(t, err, common.ErrDurabilityTimeout)

	// Once the primary persists, the same requirement passes
	cluster.set(testNodes[0], memd.ObserveFoundPersisted, 42)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	assert.NoError(t, e.Observe(ctx2, []byte("key"), 42, Requirement{Level: LevelMajorityAndPersistActive}))
}

func TestPersistedDeletionCountsForReplication(t *testing.T) {
	// A persisted delete is both replicated and persisted for the deleting
	// mutation's cas
	cluster := newCluster(
		keyView{memd.ObservePersistedDeleted, 42},
		keyView{memd.ObservePersistedDeleted, 42},
		keyView{memd.ObserveNotFound, 0},
	)
	e := testEngine(t, cluster)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := e.Observe(ctx, []byte("key"), 42, Requirement{ReplicateTo: ReplicateToOne, PersistTo: PersistToTwo})
	assert.NoError(t, err)
}

func TestZeroRequirementIsANoOp(t *testing.T) {
	// No cluster interaction at all
	e := NewEngine(topology.NewRouter(), nil)
	assert.NoError(t, e.Observe(context.Background(), []byte("key"), 42, Requirement{}))
}

// --------------------------------------------------------------------------
// Requirement resolution
// --------------------------------------------------------------------------

func TestRequirementValidate(t *testing.T) {
	tests := []struct {
		name        string
		req         Requirement
		numReplicas int
		wantErr     bool
	}{
		{"legacy within bounds", Requirement{ReplicateTo: ReplicateToTwo, PersistTo: PersistToThree}, 2, false},
		{"replicateTo exceeds replicas", Requirement{ReplicateTo: ReplicateToThree}, 2, true},
		{"persistTo exceeds copies", Requirement{PersistTo: PersistToThree}, 1, true},
		{"level alone", Requirement{Level: LevelMajority}, 2, false},
		{"level mixed with legacy", Requirement{Level: LevelMajority, ReplicateTo: ReplicateToOne}, 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate(tt.numReplicas)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRequirementThresholds(t *testing.T) {
	tests := []struct {
		name          string
		req           Requirement
		numReplicas   int
		persist       int
		replicate     int
		persistActive bool
	}{
		{"legacy pair", Requirement{ReplicateTo: ReplicateToOne, PersistTo: PersistToTwo}, 2, 2, 1, false},
		{"majority of 2 replicas", Requirement{Level: LevelMajority}, 2, 0, 2, false},
		{"majority of 1 replica", Requirement{Level: LevelMajority}, 1, 0, 1, false},
		{"majority and persist active", Requirement{Level: LevelMajorityAndPersistActive}, 2, 1, 2, true},
		{"persist to majority", Requirement{Level: LevelPersistToMajority}, 2, 2, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			persist, replicate, persistActive := tt.req.thresholds(tt.numReplicas)
			assert.Equal(t, tt.persist, persist)
			assert.Equal(t, tt.replicate, replicate)
			assert.Equal(t, tt.persistActive, persistActive)
		})
	}
}
