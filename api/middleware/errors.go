package middleware

import (
	"context"
	"net/http"

	"github.com/irsalhamdi/course-cart/api/web"
	"github.com/irsalhamdi/course-cart/api/weberr"
	"github.com/irsalhamdi/course-cart/core/claims"
	"github.com/irsalhamdi/course-cart/core/notify"
	"github.com/sirupsen/logrus"
)

// Errors logs a failed handler once and writes its response. Client errors
// are logged as warnings. Notices raised before the failure are returned
// with the error body.
func Errors(log logrus.FieldLogger) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

			err := handler(ctx, w, r)
			if err == nil {
				return nil
			}

			fields := logrus.Fields{
				"req_id":  ContextRequestID(ctx),
				"message": err,
			}
			if uid := claims.UserID(ctx); uid != "" {
				fields["user_id"] = uid
			}
			if f, ok := weberr.Fields(err); ok {
				for k, v := range f {
					fields[k] = v
				}
			}

			body, code, ok := weberr.Response(err)
			if !ok {
				code = http.StatusInternalServerError
				body = &weberr.ErrorResponse{Error: http.StatusText(code)}
			}
			fields["statuscode"] = code

			if code >= http.StatusInternalServerError {
				log.WithFields(fields).Error("ERROR")
			} else {
				log.WithFields(fields).Warn("request rejected")
			}

			if er, ok := body.(*weberr.ErrorResponse); ok {
				resp := *er
				resp.Notices = notify.List(ctx)
				body = &resp
			}
			return web.Respond(ctx, w, body, code)
		}
		return h
	}
	return m
}
