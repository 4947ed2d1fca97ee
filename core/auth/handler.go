package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/irsalhamdi/course-cart/api/web"
	"github.com/irsalhamdi/course-cart/api/weberr"
	"github.com/irsalhamdi/course-cart/core/claims"
	"github.com/irsalhamdi/course-cart/core/user"
	"github.com/irsalhamdi/course-cart/validate"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
)

// Hook runs right after a user signs in, with the new claims on the context.
type Hook func(ctx context.Context, w http.ResponseWriter, r *http.Request) error

type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

var errBadCredentials = errors.New("email or password incorrect")

func login(ctx context.Context, session *scs.SessionManager, u user.User, hooks []Hook, w http.ResponseWriter, r *http.Request) error {
	if err := session.RenewToken(ctx); err != nil {
		return fmt.Errorf("renewing session token: %w", err)
	}
	session.Put(ctx, userIDKey, u.ID)
	session.Put(ctx, roleKey, u.Role)

	ctx = claims.Set(ctx, claims.Claims{UserID: u.ID, Role: u.Role})
	for _, hook := range hooks {
		if err := hook(ctx, w, r); err != nil {
			return fmt.Errorf("running login hook for user[%s]: %w", u.ID, err)
		}
	}
	return nil
}

func HandleLogin(db *sqlx.DB, session *scs.SessionManager, hooks ...Hook) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var cred Credentials
		if err := web.Decode(w, r, &cred); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(cred); err != nil {
			return weberr.Invalid(err)
		}

		u, err := user.FetchByEmail(ctx, db, strings.ToLower(cred.Email))
		if err != nil {
			if errors.Is(err, user.ErrNotFound) {
				return weberr.NewError(errBadCredentials, errBadCredentials.Error(), http.StatusUnauthorized)
			}
			return err
		}

		if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(cred.Password)); err != nil {
			return weberr.NewError(errBadCredentials, errBadCredentials.Error(), http.StatusUnauthorized)
		}

		if err := login(ctx, session, u, hooks, w, r); err != nil {
			return err
		}

		return web.Respond(ctx, w, u, http.StatusOK)
	}
}

// HandleSignup registers a user with the default role and signs it in.
func HandleSignup(db *sqlx.DB, session *scs.SessionManager, hooks ...Hook) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var un user.UserNew
		if err := web.Decode(w, r, &un); err != nil {
			return weberr.BadRequest(fmt.Errorf("unable to decode payload: %w", err))
		}

		if err := validate.Check(un); err != nil {
			return weberr.Invalid(err)
		}
		un.Role = claims.RoleUser

		u, err := user.New(un, time.Now().UTC())
		if err != nil {
			return err
		}

		if err := user.Create(ctx, db, u); err != nil {
			if errors.Is(err, user.ErrEmailExists) {
				return weberr.Conflict(err, err.Error())
			}
			return fmt.Errorf("creating user: %w", err)
		}

		if err := login(ctx, session, u, hooks, w, r); err != nil {
			return err
		}

		return web.Respond(ctx, w, u, http.StatusCreated)
	}
}

func HandleLogout(session *scs.SessionManager) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		if err := session.Destroy(ctx); err != nil {
			return fmt.Errorf("destroying session: %w", err)
		}
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}
