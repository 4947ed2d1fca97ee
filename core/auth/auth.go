// Package auth keeps the signed-in user in a server side session and puts
// its claims on the request context.
package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/alexedwards/scs/v2"
	"github.com/irsalhamdi/course-cart/api/web"
	"github.com/irsalhamdi/course-cart/api/weberr"
	"github.com/irsalhamdi/course-cart/core/claims"
)

const (
	userIDKey = "userID"
	roleKey   = "role"
)

// LoadAndSave loads the session of the request and saves it once the
// handler returns.
func LoadAndSave(session *scs.SessionManager) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			var err error
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				err = handler(r.Context(), w, r)
			})

			session.LoadAndSave(next).ServeHTTP(w, r.WithContext(ctx))
			return err
		}
		return h
	}
	return m
}

// Claims puts the claims of a signed-in user on the context. Anonymous
// requests go through untouched.
func Claims(session *scs.SessionManager) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			if clm, ok := fromSession(ctx, session); ok {
				ctx = claims.Set(ctx, clm)
			}
			return handler(ctx, w, r)
		}
		return h
	}
	return m
}

func Authenticate(session *scs.SessionManager) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			clm, ok := fromSession(ctx, session)
			if !ok {
				return weberr.NotAuthorized(errors.New("user not authenticated"))
			}
			return handler(claims.Set(ctx, clm), w, r)
		}
		return h
	}
	return m
}

func Admin(session *scs.SessionManager) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			clm, ok := fromSession(ctx, session)
			if !ok {
				return weberr.NotAuthorized(errors.New("user not authenticated"))
			}
			if clm.Role != claims.RoleAdmin {
				return weberr.Forbidden(errors.New("user is not an administrator"))
			}
			return handler(claims.Set(ctx, clm), w, r)
		}
		return h
	}
	return m
}

func fromSession(ctx context.Context, session *scs.SessionManager) (claims.Claims, bool) {
	clm := claims.Claims{
		UserID: session.GetString(ctx, userIDKey),
		Role:   session.GetString(ctx, roleKey),
	}
	return clm, clm.UserID != ""
}
