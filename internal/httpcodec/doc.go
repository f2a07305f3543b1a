// Package httpcodec implements the small slice of HTTP/1.x the crawler
// speaks: request serialization, incremental response framing for chunked,
// length-delimited and close-delimited bodies, and response parsing.
//
// The Framer only decides where a response ends; it never interprets the
// body. Once framing is complete, ParseResponse hands the raw bytes to
// net/http for header and chunk decoding, so the resulting Response carries
// a plain, already de-chunked body.
package httpcodec
