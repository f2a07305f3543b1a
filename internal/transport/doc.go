// Package transport provides the asynchronous connection layer: non-blocking
// connect, TLS negotiation on the same readiness-driven socket, a minimal
// request writer and a framed response reader.
//
// Every blocking point is a suspension of the calling task on the event
// loop. crypto/tls runs over a net.Conn adapter whose Read and Write park the
// task until poll(2) reports the descriptor ready, so the handshake never
// blocks the loop.
//
// A Conn belongs to the task that created it and must only be used from that
// task. Client wraps Connect, SendRequest and ReadFramed into a single Fetch
// that always closes the connection exactly once.
package transport
