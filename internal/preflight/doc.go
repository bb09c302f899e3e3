// Package preflight provides readiness checks for the filesystem paths and
// remote backend that fleetsync depends on.
//
// These checks run in two contexts:
//   - The sync agent calls RunAll at startup and refuses to start when a
//     required directory is unusable.
//   - The CLI "fleetsync doctor" command renders every Result as a table.
//
// A failed backend check is informational only; offline operation is the
// normal case for this system.
package preflight
