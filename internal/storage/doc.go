// Package storage persists downloaded media for the crawler's media fast
// path. Payloads are verified by decoding and re-encoding them, file names
// are derived from the media URL and normalized to NFC, and files are
// written atomically.
package storage
