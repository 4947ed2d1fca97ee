package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/irsalhamdi/course-cart/api/web"
	"github.com/irsalhamdi/course-cart/api/weberr"
	"github.com/irsalhamdi/course-cart/core/claims"
	"github.com/irsalhamdi/course-cart/rate"
)

var ErrTooManyRequests = errors.New("too many requests")

// RateLimit throttles the acting user, or the client address for anonymous
// requests.
func RateLimit(l *rate.Limiter) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			key := claims.UserID(ctx)
			if key == "" {
				key = r.RemoteAddr
				if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
					key = host
				}
			}

			if !l.Allow(key) {
				return weberr.NewError(
					ErrTooManyRequests,
					"too many attempts, try again later",
					http.StatusTooManyRequests,
					weberr.WithFields(map[string]interface{}{"limited": key}),
				)
			}
			return handler(ctx, w, r)
		}
		return h
	}
	return m
}
