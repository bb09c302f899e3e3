// Package processor replays queued actions through per-type handlers.
//
// A batch snapshots the eligible actions once, then walks them strictly in
// queue order with one action in flight at a time. Handler failures are
// recorded on the action and never abort the batch; only storage write
// failures and context cancellation stop a run early.
package processor
