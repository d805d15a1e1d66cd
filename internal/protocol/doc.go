// Package protocol owns the envelope wire contract.
//
// Ownership boundary:
// - envelope shape and JSON codec
// - fully-qualified message naming (prefix, completion signal)
// - protocol error taxonomy
package protocol
