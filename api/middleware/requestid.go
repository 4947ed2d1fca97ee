package middleware

import (
	"context"
	"net/http"
	"regexp"

	"github.com/irsalhamdi/course-cart/api/web"
	"github.com/irsalhamdi/course-cart/validate"
)

const RequestIDHeader = "X-Request-Id"

// Ids coming from a proxy are kept when they are short and printable.
var requestIDRx = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

type reqIDKeyCtx int

const reqIDKey reqIDKeyCtx = 1

// RequestID tags the request with the id sent by the client or a new one,
// and echoes it in the response so carts and payments can be traced back.
func RequestID() web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

			id := r.Header.Get(RequestIDHeader)
			if !requestIDRx.MatchString(id) {
				id = validate.GenerateID()
			}

			ctx = context.WithValue(ctx, reqIDKey, id)
			w.Header().Set(RequestIDHeader, id)

			return handler(ctx, w, r)
		}
		return h
	}
	return m
}

func ContextRequestID(ctx context.Context) (reqID string) {
	id := ctx.Value(reqIDKey)
	if id != nil {
		reqID = id.(string)
	}
	return
}
