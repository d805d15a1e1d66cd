// Package registry owns the fully-qualified message name to handler mapping.
//
// Ownership boundary:
// - register / unregister / lookup
// - entry identity for one-shot and cancel races
//
// Registration is last-write-wins: registering an existing name replaces the
// prior handler without error.
package registry
