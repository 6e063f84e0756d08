// Package server implements the real-time core of the chat service: the
// connection registry binding users to their live WebSocket connections,
// presence tracking and broadcast, store-and-forward message delivery with
// flush on reconnect, and the frame dispatcher tying them together.
//
// The implementation is organized into specialized files for configuration,
// the hub, clients, the registry, presence, delivery, and routing to keep
// the codebase maintainable and testable as the project grows.
package server
