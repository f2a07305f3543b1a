// Package log provides secure logging functionality with automatic sanitization
// of sensitive information, built on top of the standard slog package.
//
// This package extends slog to provide:
//   - Automatic sanitization of sensitive values (cookies, tokens, secrets)
//   - Redaction of credentials carried in URL query strings
//   - Text or JSON output, optionally mirrored to a log file
//
// Info is the default level; verbose mode lowers it to Debug. Components add
// a "component" attribute (crawler, transport, loop) so that records can be
// filtered per subsystem.
//
// # Security Features
//
// The SecureHandler automatically sanitizes sensitive information in log output:
//   - HTTP headers (Authorization, Cookie, Set-Cookie, X-Api-Key)
//   - Secret values detected by pattern matching (passwords, tokens, keys)
//   - Session identifiers and signed URL parameters
//
// Crawled URLs are logged constantly, so a URL attribute is kept readable and
// only the values of sensitive query parameters are replaced.
//
// # Usage
//
//	logger, closer, err := log.New(os.Stderr, log.Options{Verbose: true, Dir: "./log"})
//	if err != nil {
//	    return err
//	}
//	defer closer.Close()
//
//	logger.Info("redirected",
//	    "url", "http://example.com/login",
//	    "location", "http://example.com/?token=abc", // token=REDACTED
//	)
package log
