package durability

import (
	"context"
	"sync"
	"time"

	"github.com/lni/dragonboat/v4/logger"

	"github.com/nkvdb/nkv/common"
	"github.com/nkvdb/nkv/memd"
	"github.com/nkvdb/nkv/pool"
	"github.com/nkvdb/nkv/topology"
)

var log = logger.GetLogger("durability")

// pollBackoff is the bounded ladder waited between unsatisfied rounds
var pollBackoff = []time.Duration{
	10 * time.Millisecond,
	20 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
}

// --------------------------------------------------------------------------
// Engine
// --------------------------------------------------------------------------

// Engine polls replica and persistence state across the nodes holding a
// key's partition until a durability requirement is met.
type Engine struct {
	router *topology.Router
	pool   *pool.Pool
}

// NewEngine creates a durability engine on top of the given router and pool
func NewEngine(router *topology.Router, p *pool.Pool) *Engine {
	return &Engine{router: router, pool: p}
}

// nodeObservation is one node's answer within a polling round
type nodeObservation struct {
	node    string
	primary bool
	record  memd.ObservationRecord
	err     error
}

// Observe blocks until the requirement is satisfied for the mutation
// identified by key and cas, the mutation is observed superseded, or ctx
// expires. The key must be in its wire form (collection prefix included).
func (e *Engine) Observe(ctx context.Context, key []byte, cas uint64, req Requirement) error {
	if req.IsZero() {
		return nil
	}

	route, err := e.router.Route(key)
	if err != nil {
		return err
	}

	snapshot := e.router.Snapshot()
	if err := req.Validate(snapshot.NumReplicas()); err != nil {
		return err
	}

	persistTarget, replicateTarget, persistActive := req.thresholds(snapshot.NumReplicas())

	round := 0
	for {
		common.DurabilityPolls.Inc()

		satisfied, err := e.pollRound(ctx, route, key, cas, persistTarget, replicateTarget, persistActive)
		if err != nil {
			return err
		}
		if satisfied {
			common.DurabilitySatisfied.Inc()
			return nil
		}

		// Unsatisfied: wait out the bounded backoff, then re-poll
		backoff := pollBackoff[len(pollBackoff)-1]
		if round < len(pollBackoff) {
			backoff = pollBackoff[round]
		}
		round++

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			log.Warningf("Durability requirement unmet for key %q after %d rounds", key, round)
			return common.ErrDurabilityTimeout
		}
	}
}

// pollRound queries the primary and every replica once and tallies the
// results against the thresholds. A different cas on the primary terminates
// the poll with a conflict: the mutation has been superseded.
func (e *Engine) pollRound(ctx context.Context, route topology.Route, key []byte, cas uint64,
	persistTarget, replicateTarget int, persistActive bool) (bool, error) {

	targets := make([]string, 0, 1+len(route.Replicas))
	targets = append(targets, route.Primary)
	targets = append(targets, route.Replicas...)

	observations := make([]nodeObservation, len(targets))
	var wg sync.WaitGroup
	for i, node := range targets {
		wg.Add(1)
		go func(i int, node string) {
			defer wg.Done()
			observations[i] = e.pollNode(ctx, node, i == 0, route.Partition, key)
		}(i, node)
	}
	wg.Wait()

	persisted := 0
	replicated := 0
	primaryPersisted := false

	for _, obs := range observations {
		if obs.err != nil {
			// A node failing one round is not terminal, the next round
			// probes it again
			log.Debugf("Observe poll on %s failed: %v", obs.node, obs.err)
			continue
		}

		rec := obs.record

		if obs.primary && rec.Cas != cas && rec.State != memd.ObserveNotFound {
			common.DurabilityConflicts.Inc()
			return false, common.ErrDurabilityConflict
		}
		if rec.Cas != cas {
			continue
		}

		if rec.State.Persisted() {
			persisted++
			if obs.primary {
				primaryPersisted = true
			}
		}
		if !obs.primary && (rec.State.Found() || rec.State == memd.ObservePersistedDeleted) {
			replicated++
		}
	}

	if persistActive && !primaryPersisted {
		return false, nil
	}
	return persisted >= persistTarget && replicated >= replicateTarget, nil
}

// pollNode sends one observe request for the key to one node
func (e *Engine) pollNode(ctx context.Context, node string, primary bool, partition uint16, key []byte) nodeObservation {
	obs := nodeObservation{node: node, primary: primary}

	ep, err := e.pool.Acquire(ctx, node, pool.ServiceKV)
	if err != nil {
		obs.err = err
		return obs
	}
	defer e.pool.Release(ep)

	pkt := memd.NewObserveRequest([]memd.ObserveEntry{{Vbucket: partition, Key: key}})
	resp, err := ep.Send(ctx, pkt)
	if err != nil {
		obs.err = err
		return obs
	}

	records, err := memd.DecodeObserveResponse(resp)
	if err != nil {
		obs.err = err
		return obs
	}
	if len(records) == 0 {
		obs.err = common.ErrProtocolDecode
		return obs
	}

	obs.record = records[0]
	return obs
}
