package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/irsalhamdi/course-cart/api/web"
	"github.com/irsalhamdi/course-cart/api/weberr"
	"github.com/irsalhamdi/course-cart/core/claims"
	"github.com/irsalhamdi/course-cart/core/user"
	"github.com/irsalhamdi/course-cart/random"
	"github.com/jmoiron/sqlx"
	"golang.org/x/oauth2"
)

const (
	stateKey    = "oauthState"
	providerKey = "oauthProvider"
	stateLength = 32
)

type ProviderConfig struct {
	Name        string
	Client      string
	Secret      string
	URL         string
	RedirectURL string
}

// Provider is an OpenID Connect identity provider users can sign in with.
type Provider struct {
	Name     string
	OAuth    oauth2.Config
	Verifier *oidc.IDTokenVerifier
}

// MakeProviders discovers the endpoints and signing keys of every provider.
func MakeProviders(ctx context.Context, cfgs []ProviderConfig) (map[string]Provider, error) {
	provs := make(map[string]Provider, len(cfgs))
	for _, c := range cfgs {
		p, err := oidc.NewProvider(ctx, c.URL)
		if err != nil {
			return nil, fmt.Errorf("discovering provider[%s]: %w", c.Name, err)
		}

		provs[c.Name] = Provider{
			Name: c.Name,
			OAuth: oauth2.Config{
				ClientID:     c.Client,
				ClientSecret: c.Secret,
				Endpoint:     p.Endpoint(),
				RedirectURL:  c.RedirectURL,
				Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
			},
			Verifier: p.Verifier(&oidc.Config{ClientID: c.Client}),
		}
	}
	return provs, nil
}

type identity struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// HandleOauthLogin sends the user to the provider's consent page.
func HandleOauthLogin(session *scs.SessionManager, provs map[string]Provider) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		name := web.Param(r, "provider")
		prov, ok := provs[name]
		if !ok {
			return weberr.NotFound(fmt.Errorf("oauth provider[%s] not configured", name))
		}

		state, err := random.Code(stateLength)
		if err != nil {
			return fmt.Errorf("generating oauth state: %w", err)
		}
		session.Put(ctx, stateKey, state)
		session.Put(ctx, providerKey, name)

		http.Redirect(w, r, prov.OAuth.AuthCodeURL(state), http.StatusFound)
		return nil
	}
}

// HandleOauthCallback signs in the user the provider vouches for, creating
// the account on first use, runs the login hooks and redirects to
// redirectURL.
func HandleOauthCallback(db *sqlx.DB, session *scs.SessionManager, provs map[string]Provider, redirectURL string, hooks ...Hook) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		name := web.Param(r, "provider")
		prov, ok := provs[name]
		if !ok {
			return weberr.NotFound(fmt.Errorf("oauth provider[%s] not configured", name))
		}

		q := r.URL.Query()
		if e := q.Get("error"); e != "" {
			return weberr.NotAuthorized(fmt.Errorf("oauth provider[%s] refused the login: %s", name, e))
		}

		state := session.PopString(ctx, stateKey)
		started := session.PopString(ctx, providerKey)
		if state == "" || q.Get("state") != state || started != name {
			return weberr.BadRequest(errors.New("oauth state mismatch"))
		}

		tok, err := prov.OAuth.Exchange(ctx, q.Get("code"))
		if err != nil {
			return weberr.NotAuthorized(fmt.Errorf("exchanging oauth code: %w", err))
		}

		raw, ok := tok.Extra("id_token").(string)
		if !ok {
			return weberr.NotAuthorized(errors.New("oauth token without id_token"))
		}

		idt, err := prov.Verifier.Verify(ctx, raw)
		if err != nil {
			return weberr.NotAuthorized(fmt.Errorf("verifying id_token: %w", err))
		}

		var id identity
		if err := idt.Claims(&id); err != nil {
			return weberr.NotAuthorized(fmt.Errorf("reading id_token claims: %w", err))
		}
		if id.Email == "" || !id.EmailVerified {
			return weberr.Forbidden(errors.New("the provider did not vouch for an email"))
		}

		u, err := findOrCreate(ctx, db, id)
		if err != nil {
			return err
		}

		if err := login(ctx, session, u, hooks, w, r); err != nil {
			return err
		}

		http.Redirect(w, r, redirectURL, http.StatusFound)
		return nil
	}
}

// findOrCreate returns the user owning the email. Accounts created here get
// a random password; they sign in through the provider.
func findOrCreate(ctx context.Context, db *sqlx.DB, id identity) (user.User, error) {
	email := strings.ToLower(id.Email)

	u, err := user.FetchByEmail(ctx, db, email)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, user.ErrNotFound) {
		return user.User{}, err
	}

	pass, err := random.String(random.CodeCharset, 32)
	if err != nil {
		return user.User{}, fmt.Errorf("generating password: %w", err)
	}

	name := id.Name
	if name == "" {
		name = email
	}

	u, err = user.New(user.UserNew{
		Name:     name,
		Email:    email,
		Role:     claims.RoleUser,
		Password: pass,
	}, time.Now().UTC())
	if err != nil {
		return user.User{}, err
	}

	if err := user.Create(ctx, db, u); err != nil {
		if errors.Is(err, user.ErrEmailExists) {
			return user.FetchByEmail(ctx, db, email)
		}
		return user.User{}, fmt.Errorf("creating user: %w", err)
	}
	return u, nil
}
