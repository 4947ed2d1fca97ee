package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/irsalhamdi/course-cart/api/web"
	"github.com/irsalhamdi/course-cart/core/claims"
	"github.com/irsalhamdi/course-cart/core/notify"
	"github.com/sirupsen/logrus"
	"github.com/zenazn/goji/web/mutil"
)

// Logger logs the start and the end of every request. It expects the
// request id, the claims and the notice list to be on the context already.
func Logger(log logrus.FieldLogger) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

			log := log

			if rid := ContextRequestID(ctx); rid != "" {
				log = log.WithField("req_id", rid)
			}

			user := "guest"
			if uid := claims.UserID(ctx); uid != "" {
				user = uid
			}

			log = log.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"remoteaddr": r.RemoteAddr,
				"user":       user,
			})

			log.Info("started")
			startTime := time.Now().UTC()

			lw := mutil.WrapWriter(w)
			err := handler(ctx, lw, r)

			log = log.WithFields(logrus.Fields{
				"statuscode": lw.Status(),
				"bytes":      lw.BytesWritten(),
				"since":      time.Since(startTime).Nanoseconds(),
			})
			if ns := notify.List(ctx); len(ns) > 0 {
				log = log.WithField("notices", len(ns))
			}

			if lw.Status() >= http.StatusInternalServerError {
				log.Warn("completed")
			} else {
				log.Info("completed")
			}
			return err
		}
		return h
	}
	return m
}
