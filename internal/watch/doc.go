// Package watch turns the identifier set, the mirror resolver and the
// seen-state into notifications.
//
// Engine runs one poll cycle: for each identifier it resolves the newest
// item, compares it with the last one recorded, persists a change and only
// then emits a notification. The first item ever seen for an identifier is
// recorded as a baseline without notifying.
//
// Service registers the periodic poll and reminder triggers on a Scheduler
// once the delivery identities have been checked.
package watch
