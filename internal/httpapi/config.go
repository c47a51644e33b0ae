package httpapi

import "github.com/rs/zerolog"

// Options tunes NewMux. The zero value serves the API without CORS and
// with request logging off.
type Options struct {
	Logger zerolog.Logger
	// RequestLog is the default per-request log level: off|error|info|debug.
	// Requests may override it with ?log= or the X-Log-Level header.
	RequestLog string

	// CORS is enabled when CORSOrigins is non-empty.
	CORSOrigins []string
	CORSMethods []string
	CORSHeaders []string
}

func (o Options) corsMethods() []string {
	if len(o.CORSMethods) > 0 {
		return o.CORSMethods
	}
	return []string{"GET", "POST", "OPTIONS"}
}

func (o Options) corsHeaders() []string {
	if len(o.CORSHeaders) > 0 {
		return o.CORSHeaders
	}
	return []string{"Content-Type", "X-Request-Id", "X-Log-Level"}
}
