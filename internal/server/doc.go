// Package server implements the realtime presence and messaging layer:
// authenticated WebSocket connections, room membership, chat fan-out,
// typing relays, per-user notifications and presence broadcasts.
//
// A single Hub goroutine owns all shared state. Connections, HTTP handlers
// and external dispatchers reach it through channels, which keeps event
// handling sequential without locks around the presence registry or room
// sets.
package server
