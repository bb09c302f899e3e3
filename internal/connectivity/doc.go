// Package connectivity tracks whether the fleet backend is reachable.
//
// Monitor probes the backend on a fixed interval and publishes an Event each
// time reachability flips. A netlink listener watching network interface
// uevents can ask for an immediate probe so the agent reacts to a link coming
// up without waiting for the next tick.
package connectivity
