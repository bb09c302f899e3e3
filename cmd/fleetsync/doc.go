// Command fleetsync inspects and manages the offline action queue.
//
// Queue commands open the configured store directly. Commands that would
// race a running agent, such as sync and recover, defer to it instead.
package main
