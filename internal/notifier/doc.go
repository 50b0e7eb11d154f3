// Package notifier is the asynchronous delivery pipeline between the watch
// engine and a chat transport.
//
// Notify only enqueues. A small worker pool drains the queue under a shared
// token bucket, retries transient failures with jittered exponential backoff
// (honouring a platform retry-after), and gives up at once on permanent
// failures. Every outcome is published on the event bus, counted in metrics
// and appended to the delivery journal when one is configured.
//
// An optional dedup window suppresses a repeat of the same notification. With
// PersistDedup the window survives restarts through the storage layer.
package notifier
