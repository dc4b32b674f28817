// Package mid provides HTTP client middleware: RoundTripper decorators that
// are chained onto the transport used for every outbound request.
package mid

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Middleware is a function that wraps an http.RoundTripper.
type Middleware func(http.RoundTripper) http.RoundTripper

// RoundTripFunc adapts a function to http.RoundTripper.
type RoundTripFunc func(*http.Request) (*http.Response, error)

func (f RoundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// Chain applies middlewares to a transport left-to-right (first middleware is outermost).
// A nil base uses http.DefaultTransport.
func Chain(rt http.RoundTripper, mw ...Middleware) http.RoundTripper {
	if rt == nil {
		rt = http.DefaultTransport
	}
	for i := len(mw) - 1; i >= 0; i-- {
		rt = mw[i](rt)
	}
	return rt
}

// UserAgent sets the User-Agent and Accept headers on every request.
// Requests are cloned; the caller's request is never modified.
func UserAgent(ua string) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripFunc(func(r *http.Request) (*http.Response, error) {
			r = r.Clone(r.Context())
			r.Header.Set("User-Agent", ua)
			if r.Header.Get("Accept") == "" {
				r.Header.Set("Accept", "application/json")
			}
			return next.RoundTrip(r)
		})
	}
}

// Logger returns middleware that logs method, url, status, and duration at
// debug level, and transport errors at warn.
func Logger(log *slog.Logger) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripFunc(func(r *http.Request) (*http.Response, error) {
			start := time.Now()
			resp, err := next.RoundTrip(r)
			if err != nil {
				log.Warn("request failed",
					"method", r.Method,
					"url", r.URL.String(),
					"duration", time.Since(start),
					"error", err,
				)
				return nil, err
			}
			log.Debug("request",
				"method", r.Method,
				"url", r.URL.String(),
				"status", resp.StatusCode,
				"duration", time.Since(start),
			)
			return resp, nil
		})
	}
}

// OTel returns middleware that creates OpenTelemetry client spans for each request.
func OTel() Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return otelhttp.NewTransport(next)
	}
}
