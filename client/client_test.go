package client

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkvdb/nkv/common"
	"github.com/nkvdb/nkv/durability"
	"github.com/nkvdb/nkv/memd"
	"github.com/nkvdb/nkv/topology"
)

// --------------------------------------------------------------------------
// Scripted server
// --------------------------------------------------------------------------

// memdHandler scripts the server side of a test: it receives every request
// frame and returns the response frame, or nil to swallow the request.
type memdHandler func(endpoint string, req *memd.Packet) *memd.Packet

// scriptedConnector creates an in-memory pipe per dial and runs the handler
// as the far end
type scriptedConnector struct {
	handler memdHandler
}

func (c *scriptedConnector) GetName() string { return "scripted" }

func (c *scriptedConnector) UpgradeConnection(net.Conn, common.ClientConfig) error { return nil }

func (c *scriptedConnector) Connect(endpoint string) (net.Conn, error) {
	clientSide, serverSide := net.Pipe()
	go func() {
		defer serverSide.Close()
		for {
			req, err := memd.ReadPacket(serverSide)
			if err != nil {
				return
			}
			resp := c.handler(endpoint, req)
			if resp == nil {
				continue
			}
			resp.Magic = memd.MagicResponse
			resp.Opcode = req.Opcode
			resp.Opaque = req.Opaque
			if _, err := serverSide.Write(resp.Encode()); err != nil {
				return
			}
		}
	}()
	return clientSide, nil
}

func singleNodeTopology(t *testing.T) *topology.Snapshot {
	t.Helper()
	partitions := make([][]int16, 8)
	for i := range partitions {
		partitions[i] = []int16{0}
	}
	snap, err := topology.NewSnapshot(1, []string{"node-a:11210"}, partitions, 0)
	require.NoError(t, err)
	return snap
}

func testClient(t *testing.T, handler memdHandler, retry IRetryStrategy) *Client {
	t.Helper()
	config, err := common.NewClientConfig(5, 4, 3)
	require.NoError(t, err)

	c := New(config, &scriptedConnector{handler: handler}, retry)
	t.Cleanup(c.Close)

	require.True(t, c.ApplyTopology(singleNodeTopology(t)))
	return c
}

// parseObserveEntries decodes the request body of an observe frame
func parseObserveEntries(body []byte) []memd.ObserveEntry {
	var entries []memd.ObserveEntry
	pos := 0
	for pos < len(body) {
		vb := binary.BigEndian.Uint16(body[pos : pos+2])
		keyLen := int(binary.BigEndian.Uint16(body[pos+2 : pos+4]))
		pos += 4
		entries = append(entries, memd.ObserveEntry{Vbucket: vb, Key: body[pos : pos+keyLen]})
		pos += keyLen
	}
	return entries
}

// observeRecord encodes one response entry of an observe frame
func observeRecord(vb uint16, key []byte, state memd.ObserveKeyState, cas uint64) []byte {
	entry := make([]byte, 4+len(key)+9)
	binary.BigEndian.PutUint16(entry[0:2], vb)
	binary.BigEndian.PutUint16(entry[2:4], uint16(len(key)))
	pos := 4 + copy(entry[4:], key)
	entry[pos] = byte(state)
	binary.BigEndian.PutUint64(entry[pos+1:pos+9], cas)
	return entry
}

// --------------------------------------------------------------------------
// Operation outcomes
// --------------------------------------------------------------------------

func TestGetRoundTrip(t *testing.T) {
	c := testClient(t, func(_ string, req *memd.Packet) *memd.Packet {
		extras := make([]byte, 4)
		binary.BigEndian.PutUint32(extras, 0xdeadbeef)
		return &memd.Packet{
			Status: memd.StatusSuccess,
			Cas:    99,
			Extras: extras,
			Value:  []byte("hello"),
		}
	}, nil)

	result, err := c.Get(context.Background(), "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), result.Value)
	assert.Equal(t, uint32(0xdeadbeef), result.Flags)
	assert.Equal(t, uint64(99), result.Cas)
}

func TestTransientStatusRetriedUntilSuccess(t *testing.T) {
	var attempts atomic.Int32
	c := testClient(t, func(_ string, req *memd.Packet) *memd.Packet {
		if attempts.Add(1) < 3 {
			return &memd.Packet{Status: memd.StatusTempFailure}
		}
		return &memd.Packet{Status: memd.StatusSuccess, Cas: 7}
	}, nil)

	result, err := c.Upsert(context.Background(), "key", []byte("v"), UpsertOptions{})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), result.Cas)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestRetriesExhausted(t *testing.T) {
	var attempts atomic.Int32
	c := testClient(t, func(_ string, req *memd.Packet) *memd.Packet {
		attempts.Add(1)
		return &memd.Packet{Status: memd.StatusTempFailure}
	}, nil)

	_, err := c.Get(context.Background(), "key")
	require.Error(t, err)

	var opErr *common.OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "get", opErr.Op)
	assert.Equal(t, "node-a:11210", opErr.Node)

	// RetryCount bounds the number of dispatches
	assert.Equal(t, int32(3), attempts.Load())
}

func TestBusinessStatusNotRetried(t *testing.T) {
	var attempts atomic.Int32
	c := testClient(t, func(_ string, req *memd.Packet) *memd.Packet {
		attempts.Add(1)
		return &memd.Packet{Status: memd.StatusKeyNotFound}
	}, nil)

	_, err := c.Get(context.Background(), "missing")
	require.Error(t, err)

	var bse *common.BusinessStatusError
	require.ErrorAs(t, err, &bse)
	assert.Equal(t, uint16(memd.StatusKeyNotFound), bse.Status)
	assert.Equal(t, "missing", bse.Key)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestOperationTimeout(t *testing.T) {
	// The server swallows everything
	c := testClient(t, func(string, *memd.Packet) *memd.Packet { return nil }, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := c.Get(ctx, "key")
	assert.ErrorIs(t, err, common.ErrOperationTimeout)
}

func TestOperationCancelled(t *testing.T) {
	c := testClient(t, func(string, *memd.Packet) *memd.Packet { return nil }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := c.Get(ctx, "key")
	assert.ErrorIs(t, err, common.ErrCancelled)
}

func TestCompleteExactlyOnce(t *testing.T) {
	op := newOperation("get", []byte("k"), NewFailFastRetryStrategy(), nil)

	assert.True(t, op.complete(OpCompleted, &memd.Packet{}, nil))
	assert.False(t, op.complete(OpTimedOut, nil, common.ErrOperationTimeout))
	assert.False(t, op.complete(OpCancelled, nil, common.ErrCancelled))

	// The first terminal state sticks and the slot holds exactly one result
	assert.Equal(t, OpCompleted, op.State())
	result := <-op.done
	assert.NoError(t, result.Err)
	select {
	case <-op.done:
		t.Fatal("completion slot was written more than once")
	default:
	}
}

func TestCounterWithoutInitialSendsSentinel(t *testing.T) {
	var captured atomic.Pointer[memd.Packet]
	c := testClient(t, func(_ string, req *memd.Packet) *memd.Packet {
		captured.Store(req)
		return &memd.Packet{Status: memd.StatusKeyNotFound}
	}, nil)

	_, err := c.Decrement(context.Background(), "ctr", 1, CounterOptions{})
	var bse *common.BusinessStatusError
	require.ErrorAs(t, err, &bse)
	assert.Equal(t, uint16(memd.StatusKeyNotFound), bse.Status)

	req := captured.Load()
	require.NotNil(t, req)
	require.Len(t, req.Extras, 20)
	assert.Equal(t, memd.CounterNoInitialExpiry, binary.BigEndian.Uint32(req.Extras[16:20]))
}

func TestExistsMissingKeyIsNotAnError(t *testing.T) {
	c := testClient(t, func(_ string, req *memd.Packet) *memd.Packet {
		return &memd.Packet{Status: memd.StatusKeyNotFound}
	}, nil)

	result, err := c.Exists(context.Background(), "gone")
	require.NoError(t, err)
	assert.False(t, result.Exists)
}

func TestUpsertWithDurability(t *testing.T) {
	var observes atomic.Int32
	c := testClient(t, func(_ string, req *memd.Packet) *memd.Packet {
		switch req.Opcode {
		case memd.OpSet:
			return &memd.Packet{Status: memd.StatusSuccess, Cas: 42}
		case memd.OpObserve:
			observes.Add(1)
			entries := parseObserveEntries(req.Value)
			return &memd.Packet{
				Status: memd.StatusSuccess,
				Value:  observeRecord(entries[0].Vbucket, entries[0].Key, memd.ObserveFoundPersisted, 42),
			}
		}
		return &memd.Packet{Status: memd.StatusUnknownCommand}
	}, nil)

	result, err := c.Upsert(context.Background(), "key", []byte("v"), UpsertOptions{
		Durability: durability.Requirement{PersistTo: durability.PersistToOne},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), result.Cas)
	assert.Equal(t, int32(1), observes.Load())
}

// --------------------------------------------------------------------------
// Batch exists
// --------------------------------------------------------------------------

func TestBatchExists(t *testing.T) {
	// 4 nodes, 100 keys; the even-indexed half exists
	existing := make(map[string]bool)
	keys := make([]string, 100)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%d", i)
		if i%2 == 0 {
			existing[keys[i]] = true
		}
	}

	var mu sync.Mutex
	framesPerNode := make(map[string]int)

	handler := func(endpoint string, req *memd.Packet) *memd.Packet {
		if req.Opcode != memd.OpObserve {
			return &memd.Packet{Status: memd.StatusUnknownCommand}
		}
		mu.Lock()
		framesPerNode[endpoint]++
		mu.Unlock()

		var body []byte
		for _, entry := range parseObserveEntries(req.Value) {
			state := memd.ObserveNotFound
			if existing[string(entry.Key)] {
				state = memd.ObserveFoundPersisted
			}
			body = append(body, observeRecord(entry.Vbucket, entry.Key, state, 1)...)
		}
		return &memd.Packet{Status: memd.StatusSuccess, Value: body}
	}

	config, err := common.NewClientConfig(5, 4, 3)
	require.NoError(t, err)
	c := New(config, &scriptedConnector{handler: handler}, nil)
	t.Cleanup(c.Close)

	nodes := []string{"node-a:11210", "node-b:11210", "node-c:11210", "node-d:11210"}
	partitions := make([][]int16, 8)
	for i := range partitions {
		partitions[i] = []int16{int16(i % len(nodes))}
	}
	snap, err := topology.NewSnapshot(1, nodes, partitions, 0)
	require.NoError(t, err)
	require.True(t, c.ApplyTopology(snap))

	found, err := c.BatchExists(context.Background(), keys)
	require.NoError(t, err)

	// The union of the per-node answers, no duplicates, no omissions
	expected := make([]string, 0, len(existing))
	for key := range existing {
		expected = append(expected, key)
	}
	assert.ElementsMatch(t, expected, found)

	// One observe frame per contacted node, not one per key
	mu.Lock()
	defer mu.Unlock()
	for node, frames := range framesPerNode {
		assert.Equal(t, 1, frames, "node %s", node)
	}
}

func TestBatchExistsDeferredUntilTopologyReady(t *testing.T) {
	handler := func(_ string, req *memd.Packet) *memd.Packet {
		var body []byte
		for _, entry := range parseObserveEntries(req.Value) {
			body = append(body, observeRecord(entry.Vbucket, entry.Key, memd.ObserveFoundPersisted, 1)...)
		}
		return &memd.Packet{Status: memd.StatusSuccess, Value: body}
	}

	config, err := common.NewClientConfig(5, 4, 3)
	require.NoError(t, err)
	c := New(config, &scriptedConnector{handler: handler}, nil)
	t.Cleanup(c.Close)

	// No topology yet: the batch must wait as a unit and run once the
	// first snapshot lands
	snap := singleNodeTopology(t)
	go func() {
		time.Sleep(150 * time.Millisecond)
		c.ApplyTopology(snap)
	}()

	found, err := c.BatchExists(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, found)
}

func TestBatchExistsTimesOutWithoutTopology(t *testing.T) {
	config, err := common.NewClientConfig(5, 4, 3)
	require.NoError(t, err)
	c := New(config, &scriptedConnector{handler: func(string, *memd.Packet) *memd.Packet {
		return &memd.Packet{Status: memd.StatusSuccess}
	}}, nil)
	t.Cleanup(c.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()

	_, err = c.BatchExists(ctx, []string{"a"})
	assert.ErrorIs(t, err, common.ErrOperationTimeout)
}

// --------------------------------------------------------------------------
// Collections
// --------------------------------------------------------------------------

func TestCollectionPrefixesKeysOnTheWire(t *testing.T) {
	var captured atomic.Pointer[memd.Packet]
	c := testClient(t, func(_ string, req *memd.Packet) *memd.Packet {
		captured.Store(req)
		extras := make([]byte, 4)
		return &memd.Packet{Status: memd.StatusSuccess, Extras: extras}
	}, nil)

	_, err := c.Collection(0x57).Get(context.Background(), "key")
	require.NoError(t, err)

	req := captured.Load()
	require.NotNil(t, req)
	assert.Equal(t, memd.KeyWithCollectionID(0x57, []byte("key")), req.Key)

	// The unbound client is untouched
	_, err = c.Get(context.Background(), "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("key"), captured.Load().Key)
}

// --------------------------------------------------------------------------
// Retry strategies
// --------------------------------------------------------------------------

func TestBestEffortRetryStrategyBackoff(t *testing.T) {
	s := NewBestEffortRetryStrategy(4)

	prev := time.Duration(0)
	for attempt := 1; attempt < 4; attempt++ {
		delay, retry := s.ShouldRetry(attempt, common.ErrConnClosed)
		require.True(t, retry, "attempt %d", attempt)
		assert.Greater(t, delay, prev)
		prev = delay
	}

	_, retry := s.ShouldRetry(4, common.ErrConnClosed)
	assert.False(t, retry)
}

func TestFailFastRetryStrategy(t *testing.T) {
	_, retry := NewFailFastRetryStrategy().ShouldRetry(1, common.ErrConnClosed)
	assert.False(t, retry)
}
