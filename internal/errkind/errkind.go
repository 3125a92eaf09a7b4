// Package errkind holds the named error kinds from spec.md §7 as sentinel
// errors, wrapped at each call site with fmt.Errorf("%w: ...", ...). No
// panic is allowed to cross a goroutine boundary uncaught; actor and worker
// loops recover panics locally and log them rather than letting errors of
// this package escape as panics.
package errkind

import "errors"

var (
	ErrGateReject     = errors.New("gate_reject")
	ErrBookDesync     = errors.New("book_desync")
	ErrRestRateLimit  = errors.New("rest_rate_limit")
	ErrRestHTTPError  = errors.New("rest_http_error")
	ErrRestTimeout    = errors.New("rest_timeout")
	ErrFeedDisconnect = errors.New("feed_disconnect")
	ErrLoggerDrop     = errors.New("logger_drop")
	ErrConnectorError = errors.New("connector_error")
)

// Is reports whether err wraps the given kind sentinel.
func Is(err, kind error) bool {
	return errors.Is(err, kind)
}
