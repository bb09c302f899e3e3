// Package backend delivers queued fleet actions to the remote API.
//
// A Sender knows how to push one action payload over a transport (HTTP or
// NATS request/reply). Handlers adapts a Sender into the processor's handler
// map so each known action type replays through the same transport.
package backend
