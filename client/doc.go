// Package client implements the request lifecycle and the caller-facing
// operation API of the key-value data path.
//
// The package focuses on:
//   - Operation: one outbound request moving through the states
//     created -> dispatched -> {completed | retrying | timedOut | cancelled},
//     with retrying looping back to dispatched until the retry strategy
//     says stop. The completion slot is written exactly once no matter how
//     many retries, timeouts or cancellations race.
//   - Retry strategies: best-effort (exponential backoff with jitter,
//     bounded by the configured attempt count) and fail-fast. Retryable
//     conditions are connection resets, topology-not-ready and transient
//     server overload statuses; business statuses are never retried.
//   - Operations: get, upsert (optionally durable), delete, increment,
//     decrement, exists, sub-document mutate and the batch exists fan-out.
//
// An elapsed deadline surfaces as ErrOperationTimeout. For mutations the
// server-side effect is then unknown; the ambiguity is reported to the
// caller rather than resolved by guessing, since no idempotency token is
// attached to writes.
package client
