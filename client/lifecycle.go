package client

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nkvdb/nkv/common"
	"github.com/nkvdb/nkv/memd"
	"github.com/nkvdb/nkv/pool"
)

// --------------------------------------------------------------------------
// Operation state machine
// --------------------------------------------------------------------------

// OpState is the lifecycle state of one operation
type OpState int32

const (
	OpCreated OpState = iota
	OpDispatched
	OpRetrying
	OpCompleted
	OpTimedOut
	OpCancelled
)

// String returns the string representation of an OpState
func (s OpState) String() string {
	switch s {
	case OpCreated:
		return "created"
	case OpDispatched:
		return "dispatched"
	case OpRetrying:
		return "retrying"
	case OpCompleted:
		return "completed"
	case OpTimedOut:
		return "timedOut"
	case OpCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result is what an operation's completion slot is filled with
type Result struct {
	Pkt *memd.Packet
	Err error
}

// Operation wraps one outbound request. It is created by the caller-facing
// API and owned exclusively by the lifecycle until terminal. The encode
// callback is invoked once the route is known, with the resolved partition.
type Operation struct {
	Name  string
	Key   []byte
	Retry IRetryStrategy

	encode func(vbucket uint16) (*memd.Packet, error)

	state     atomic.Int32
	completed atomic.Bool
	done      chan Result
	lastNode  string
}

func newOperation(name string, key []byte, retry IRetryStrategy, encode func(vbucket uint16) (*memd.Packet, error)) *Operation {
	return &Operation{
		Name:   name,
		Key:    key,
		Retry:  retry,
		encode: encode,
		done:   make(chan Result, 1),
	}
}

// State returns the current lifecycle state
func (o *Operation) State() OpState { return OpState(o.state.Load()) }

func (o *Operation) transition(s OpState) { o.state.Store(int32(s)) }

// complete writes the completion slot. Exactly-once: only the first caller
// wins, every later attempt is dropped.
func (o *Operation) complete(terminal OpState, pkt *memd.Packet, err error) bool {
	if !o.completed.CompareAndSwap(false, true) {
		return false
	}
	o.transition(terminal)
	o.done <- Result{Pkt: pkt, Err: err}
	return true
}

// --------------------------------------------------------------------------
// Dispatch loop
// --------------------------------------------------------------------------

// execute drives one operation to a terminal state: route, acquire an
// endpoint, encode, send, then resolve the outcome or loop through the
// retry strategy. The returned response frame is nil on error.
func (c *Client) execute(ctx context.Context, op *Operation) (*memd.Packet, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout())
		defer cancel()
	}

	go c.dispatchLoop(ctx, op)

	result := <-op.done
	if result.Err != nil {
		return nil, &common.OpError{Op: op.Name, Key: string(op.Key), Node: op.lastNode, Err: result.Err}
	}
	return result.Pkt, nil
}

func (c *Client) dispatchLoop(ctx context.Context, op *Operation) {
	common.OpsDispatched.Inc()
	common.OpCounter(op.Name).Inc()

	for attempt := 1; ; attempt++ {
		reason, fatal := c.attempt(ctx, op)
		if op.completed.Load() {
			return
		}
		if fatal {
			c.completeWithError(op, reason)
			return
		}

		// Retryable failure: ask the strategy, wait out the backoff
		delay, retry := op.Retry.ShouldRetry(attempt, reason)
		if !retry {
			c.completeWithError(op, fmt.Errorf("retries exhausted after %d attempts: %w", attempt, reason))
			return
		}

		op.transition(OpRetrying)
		common.OpsRetried.Inc()
		log.Debugf("Operation %s on key %q attempt %d failed (%v), retrying in %v",
			op.Name, op.Key, attempt, reason, delay)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			c.completeWithError(op, ctx.Err())
			return
		}
	}
}

// attempt performs one dispatch. It either completes the operation (on
// success or a non-retryable response) or returns the failure reason and
// whether it is fatal.
func (c *Client) attempt(ctx context.Context, op *Operation) (reason error, fatal bool) {
	route, err := c.router.Route(op.Key)
	if err != nil {
		return err, !common.IsRetryable(err)
	}
	op.lastNode = route.Primary

	pkt, err := op.encode(route.Partition)
	if err != nil {
		return err, true
	}

	ep, err := c.pool.Acquire(ctx, route.Primary, pool.ServiceKV)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr, true
		}
		return err, !common.IsRetryable(err)
	}
	defer c.pool.Release(ep)

	op.transition(OpDispatched)

	resp, err := ep.Send(ctx, pkt)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr, true
		}
		return err, !common.IsRetryable(err)
	}

	// Transient server statuses feed the retry loop; everything else -
	// success or business failure - resolves the operation. The per-op
	// decoders surface business statuses to the caller.
	if stErr := memd.DecodeStatus(resp.Status, string(op.Key)); stErr != nil && common.IsRetryable(stErr) {
		return stErr, false
	}

	op.complete(OpCompleted, resp, nil)
	common.OpsCompleted.Inc()
	return nil, false
}

// completeWithError maps the terminal reason to its lifecycle state and
// error kind before writing the completion slot
func (c *Client) completeWithError(op *Operation, reason error) {
	switch {
	case errors.Is(reason, context.DeadlineExceeded):
		if op.complete(OpTimedOut, nil, common.ErrOperationTimeout) {
			common.OpsTimedOut.Inc()
		}
	case errors.Is(reason, context.Canceled):
		if op.complete(OpCancelled, nil, common.ErrCancelled) {
			common.OpsCancelled.Inc()
		}
	default:
		op.complete(OpCompleted, nil, reason)
	}
}
