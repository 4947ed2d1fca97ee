package middleware

import (
	"context"
	"net/http"

	"github.com/irsalhamdi/course-cart/api/web"
	"github.com/irsalhamdi/course-cart/core/notify"
)

// Notices gives every request its own notice list.
func Notices() web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			ctx, _ = notify.New(ctx)
			return handler(ctx, w, r)
		}
		return h
	}
	return m
}
