// Package daemon coordinates the long-running fleetsync agent.
//
// It wires the queue store, processor, backend sender, connectivity monitor,
// and notifier into a single lifecycle with flock-based locking to prevent
// multiple instances. A sync run replays pending actions, retries failed ones
// within budget, and prunes old completed actions. Runs are triggered when the
// backend comes back online, when the CLI touches the trigger file, and on a
// fixed interval while online.
//
// Keep orchestration here: queue semantics belong to the queue and processor
// packages, transport details to the backend package.
package daemon
