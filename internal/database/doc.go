// Package database provides the SQLite crawl catalog.
//
// The catalog stores:
//   - One row per crawl run with its final report
//   - Every processed job of a run (status, outcome, title, body digest)
//   - Every stored media file with a SHA3-256 digest and an EXIF summary
//
// SQLite (via modernc.org/sqlite) keeps the catalog in a single CGO-free
// file. Writes happen on the crawl loop, between fetches; the connection
// pool is limited to one connection.
package database
