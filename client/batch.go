package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nkvdb/nkv/common"
	"github.com/nkvdb/nkv/memd"
	"github.com/nkvdb/nkv/pool"
	"github.com/nkvdb/nkv/topology"
)

// batchDeferDelay is the fixed wait before a batch with no usable topology
// snapshot is retried as a unit. In a steady state this does not happen;
// it covers bootstrap still being in progress.
const batchDeferDelay = 100 * time.Millisecond

// BatchExists bulk-probes which of the given keys exist, issuing one
// observe fan-out request per node instead of one round trip per key. The
// result is the set of found keys: the union of the per-node answers with
// no duplicates and no omissions.
func (c *Client) BatchExists(ctx context.Context, keys []string) ([]string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout())
		defer cancel()
	}

	wireKeys := make([][]byte, len(keys))
	logical := make(map[string]string, len(keys))
	for i, key := range keys {
		wireKeys[i] = c.wireKey(key)
		logical[string(wireKeys[i])] = key
	}

	// Route the whole batch; while the topology is not ready the batch is
	// deferred and retried as a unit rather than partially failing
	var buckets map[string][]topology.RoutedKey
	for {
		var err error
		buckets, err = c.router.RouteBatch(wireKeys)
		if err == nil {
			break
		}
		if !errors.Is(err, common.ErrTopologyNotReady) {
			return nil, err
		}

		log.Debugf("Batch exists deferred, topology not ready")
		timer := time.NewTimer(batchDeferDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, &common.OpError{Op: "batchExists", Err: common.ErrOperationTimeout}
		}
	}

	// One fan-out request per node
	var (
		mu    sync.Mutex
		found = make(map[string]bool)
		errs  []error
		wg    sync.WaitGroup
	)
	for node, routed := range buckets {
		wg.Add(1)
		go func(node string, routed []topology.RoutedKey) {
			defer wg.Done()

			records, err := c.observeNode(ctx, node, routed)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, &common.OpError{Op: "batchExists", Node: node, Err: err})
				return
			}
			for _, rec := range records {
				if rec.State.Found() {
					found[logical[string(rec.Key)]] = true
				}
			}
		}(node, routed)
	}
	wg.Wait()

	if len(errs) > 0 {
		return nil, errs[0]
	}

	result := make([]string, 0, len(found))
	for key := range found {
		result = append(result, key)
	}
	return result, nil
}

// observeNode sends one observe request carrying every key routed to the
// node, retrying transient failures per policy
func (c *Client) observeNode(ctx context.Context, node string, routed []topology.RoutedKey) ([]memd.ObservationRecord, error) {
	entries := make([]memd.ObserveEntry, len(routed))
	for i, rk := range routed {
		entries[i] = memd.ObserveEntry{Vbucket: rk.Partition, Key: rk.Key}
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		records, err := c.observeNodeOnce(ctx, node, entries)
		if err == nil {
			return records, nil
		}
		if ctx.Err() != nil {
			return nil, common.ErrOperationTimeout
		}
		if !common.IsRetryable(err) {
			return nil, err
		}
		lastErr = err

		delay, retry := c.retry.ShouldRetry(attempt, err)
		if !retry {
			return nil, lastErr
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, common.ErrOperationTimeout
		}
	}
}

func (c *Client) observeNodeOnce(ctx context.Context, node string, entries []memd.ObserveEntry) ([]memd.ObservationRecord, error) {
	ep, err := c.pool.Acquire(ctx, node, pool.ServiceKV)
	if err != nil {
		return nil, err
	}
	defer c.pool.Release(ep)

	resp, err := ep.Send(ctx, memd.NewObserveRequest(entries))
	if err != nil {
		return nil, err
	}
	return memd.DecodeObserveResponse(resp)
}
