// Package messenger owns the request/acknowledgment protocol engine.
//
// Ownership boundary:
// - inbound dispatch from one transport subscription
// - listen primitive (persistent and one-shot listeners, auto-acknowledgment)
// - handshake coordination for send
// - in-flight exchange bookkeeping
//
// Lifecycle order:
// - New -> Bootstrap -> On/Once/Send -> Close
//
// Send performs a handshake round trip before posting the payload, so the
// payload is never transmitted to a context that reported no listener for it.
// Replies are correlated by name only: "<name>" is answered by
// "<name>.<completion signal>", and an inbound acknowledgment never triggers
// another acknowledgment. Concurrent sends of the same message name share
// one acknowledgment name; the most recent listener wins it.
//
// Handlers for one fully-qualified name run one at a time in arrival order;
// handlers for different names run concurrently. A handler that blocks on a
// later message of its own name stalls that name until its context ends.
//
// Handshake replies are routed by the name they answer, so a send to a peer
// that never replies does not hold up sends to other peers.
package messenger
