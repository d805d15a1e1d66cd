// Package transport owns the raw cross-context channel boundary.
//
// Ownership boundary:
// - target addressing
// - raw message delivery (post) and inbound subscription
// - target-origin filtering
//
// Implementations live in sub-packages: memory, httpwire, redisbus.
package transport
