// Package log builds the slog loggers used by crawlkeeper.
//
// Crawl configuration routinely carries credentials: a session cookie for an
// authenticated site, an Authorization header, or a token in a root URL's
// query string. SecureHandler wraps any slog.Handler and masks those values
// before they reach the output:
//   - attributes whose key names a credential (cookie, authorization, token, ...)
//   - string values that look like secrets (bearer tokens, JWTs, long keys)
//   - credential query parameters and passwords inside URL-valued strings
//
// The URL itself stays readable so logs can still say which page failed.
//
//	logger := log.NewLogger(os.Stderr, log.Options{Verbose: true})
//	logger.Info("fetching", "url", "https://example.com/feed?token=abc")
//	// url=https://example.com/feed?token=***REDACTED***
package log
