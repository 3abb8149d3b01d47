package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/CodedInternet/gocrane/store"
	"github.com/go-chi/render"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const JWTLifespan = time.Hour

type contextKey string

const claimsKey contextKey = "jwt"

var (
	JWTEmpty        = errors.New("bearer token not provided")
	JWTInvalid      = errors.New("invalid token")
	JWTExpired      = errors.New("token has expired")
	InvalidPassword = errors.New("invalid password")
)

//---
// Payloads
//---

type LoginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (l *LoginPayload) Bind(r *http.Request) error {
	if l.Email == "" {
		return errors.New("email is required")
	}
	return nil
}

type JWTPayload struct {
	SignedToken string `json:"token"`
}

//---
// Tokens
//---

// Auth issues and checks the API tokens of crane operators.
type Auth struct {
	Secret []byte
	Issuer string
	Store  *store.Store
}

// NewJWT produces a signed token for the operator identified by sub.
func (a *Auth) NewJWT(sub string) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    a.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(JWTLifespan)),
		Subject:   sub,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	return token.SignedString(a.Secret)
}

func (a *Auth) parse(tokenStr string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims,
		func(*jwt.Token) (any, error) { return a.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithIssuer(a.Issuer),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, JWTExpired
		}
		return nil, JWTInvalid
	}
	return claims, nil
}

// operatorFrom returns the token subject stored by ValidateJWT.
func operatorFrom(ctx context.Context) string {
	if claims, ok := ctx.Value(claimsKey).(*jwt.RegisteredClaims); ok {
		return claims.Subject
	}
	return ""
}

//---
// Views
//---

// Login looks up an operator, verifies the password and returns a token.
func (a *Auth) Login(w http.ResponseWriter, r *http.Request) {
	data := &LoginPayload{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	op, err := a.Store.OperatorByEmail(data.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			render.Render(w, r, ErrNotFound)
			return
		}
		render.Render(w, r, ErrRender(err))
		return
	}

	if err := op.VerifyPassword([]byte(data.Password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			render.Render(w, r, ErrPermissionDenied(InvalidPassword))
			return
		}
		render.Render(w, r, ErrRender(err))
		return
	}

	tokenString, err := a.NewJWT(op.Email)
	if err != nil {
		render.Render(w, r, ErrRender(err))
		return
	}

	render.JSON(w, r, JWTPayload{tokenString})
}

// JWTRefresh hands the caller a fresh token.
func (a *Auth) JWTRefresh(w http.ResponseWriter, r *http.Request) {
	tokenString, err := a.NewJWT(operatorFrom(r.Context()))
	if err != nil {
		render.Render(w, r, ErrRender(err))
		return
	}

	render.JSON(w, r, JWTPayload{tokenString})
}

//---
// Middleware
//---

// tokenFrom looks in the query, then the Authorization header, then the jwt
// cookie.
func tokenFrom(r *http.Request) string {
	if token := r.URL.Query().Get("jwt"); token != "" {
		return token
	}

	bearer := r.Header.Get("Authorization")
	if len(bearer) > 7 && strings.ToUpper(bearer[0:6]) == "BEARER" {
		return bearer[7:]
	}

	if cookie, err := r.Cookie("jwt"); err == nil {
		return cookie.Value
	}
	return ""
}

func (a *Auth) ValidateJWT(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := tokenFrom(r)
		if tokenStr == "" {
			render.Render(w, r, ErrUnauthorized(JWTEmpty))
			return
		}

		claims, err := a.parse(tokenStr)
		if err != nil {
			render.Render(w, r, ErrUnauthorized(err))
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
