// Package storage is mirrorwatch's persistence layer.
//
// It holds:
//   - the seen-state mapping (identifier -> last item id), always written whole
//   - the delivery journal (one record per notification outcome)
//   - optional notifier dedup state, so the window survives restarts
package storage
