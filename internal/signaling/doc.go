// Package signaling is the WebSocket surface of the pairing service.
//
// Each connection becomes one peer in a pairing.Engine. Inbound JSON frames
// are decoded strictly and turned into engine commands; the events the engine
// returns are encoded and queued on the addressed connections. SDP and ICE
// payloads are opaque here and forwarded byte for byte.
package signaling
