// Package resilience wraps calls to the remote dependency with error classification, retries and a circuit breaker.
//
// Errors are mapped to a [Kind] by the pure [Classify] function, and each kind to a fixed [Strategy]. The
// [Retrier] applies the strategy: exponential backoff with jitter, a server retry hint, a credential refresh or a
// conflict resolution before the next attempt, or an immediate failure. The [CircuitBreaker] fails fast while the
// dependency is unhealthy. [Guard] composes both with the quota ledger so that a rejected call consumes neither
// budget nor an attempt.
package resilience
