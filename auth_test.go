package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/CodedInternet/gocrane/store"
	"github.com/golang-jwt/jwt/v5"
	. "github.com/smartystreets/goconvey/convey"
)

func newTestStore(t *testing.T) *store.Store {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestAuth(t *testing.T) *Auth {
	return &Auth{Secret: []byte("test secret"), Issuer: "TEST", Store: newTestStore(t)}
}

func postLogin(a *Auth, email, password string) *httptest.ResponseRecorder {
	body, _ := json.Marshal(&LoginPayload{Email: email, Password: password})
	req := httptest.NewRequest("POST", "/api/login", bytes.NewBuffer(body))
	req.Header.Add("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	http.HandlerFunc(a.Login).ServeHTTP(rr, req)
	return rr
}

func TestJWT(t *testing.T) {
	Convey("Tokens", t, func() {
		a := newTestAuth(t)

		ts, err := a.NewJWT("op@crane.test")
		So(err, ShouldBeNil)

		Convey("round trip with their subject", func() {
			claims, err := a.parse(ts)
			So(err, ShouldBeNil)
			So(claims.Subject, ShouldEqual, "op@crane.test")
			So(claims.Issuer, ShouldEqual, "TEST")
		})

		Convey("signed with another secret are invalid", func() {
			other := &Auth{Secret: []byte("other"), Issuer: "TEST"}
			_, err := other.parse(ts)
			So(err, ShouldEqual, JWTInvalid)
		})

		Convey("from another issuer are invalid", func() {
			other := &Auth{Secret: a.Secret, Issuer: "PROD"}
			_, err := other.parse(ts)
			So(err, ShouldEqual, JWTInvalid)
		})

		Convey("past their lifespan are expired", func() {
			past := time.Now().Add(-2 * JWTLifespan)
			token := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
				Issuer:    a.Issuer,
				IssuedAt:  jwt.NewNumericDate(past),
				ExpiresAt: jwt.NewNumericDate(past.Add(JWTLifespan)),
				Subject:   "op@crane.test",
			})
			expired, err := token.SignedString(a.Secret)
			So(err, ShouldBeNil)

			_, err = a.parse(expired)
			So(err, ShouldEqual, JWTExpired)
		})
	})
}

func TestLogin(t *testing.T) {
	Convey("Logging in", t, func() {
		a := newTestAuth(t)
		So(createOperator(a.Store, "login@test.case", "testing123"), ShouldBeNil)

		Convey("Valid request returns a token", func() {
			rr := postLogin(a, "login@test.case", "testing123")
			So(rr.Code, ShouldEqual, http.StatusOK)

			var payload JWTPayload
			So(json.Unmarshal(rr.Body.Bytes(), &payload), ShouldBeNil)
			claims, err := a.parse(payload.SignedToken)
			So(err, ShouldBeNil)
			So(claims.Subject, ShouldEqual, "login@test.case")
		})

		Convey("Incorrect username provides 404", func() {
			rr := postLogin(a, "login-no@test.case", "testing123")
			So(rr.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Incorrect password provides 403", func() {
			rr := postLogin(a, "login@test.case", "testing12")
			So(rr.Code, ShouldEqual, http.StatusForbidden)
			So(rr.Body.String(), ShouldContainSubstring, InvalidPassword.Error())
		})

		Convey("Missing email provides 400", func() {
			rr := postLogin(a, "", "testing123")
			So(rr.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestValidateJWT(t *testing.T) {
	Convey("The JWT middleware", t, func() {
		a := newTestAuth(t)
		var seen string
		handler := a.ValidateJWT(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = operatorFrom(r.Context())
		}))

		ts, err := a.NewJWT("op@crane.test")
		So(err, ShouldBeNil)

		serve := func(req *http.Request) int {
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			return rr.Code
		}

		Convey("rejects requests without a token", func() {
			So(serve(httptest.NewRequest("GET", "/", nil)), ShouldEqual, http.StatusUnauthorized)
			So(seen, ShouldBeEmpty)
		})

		Convey("rejects garbage", func() {
			req := httptest.NewRequest("GET", "/", nil)
			req.Header.Set("Authorization", "Bearer not.a.token")
			So(serve(req), ShouldEqual, http.StatusUnauthorized)
		})

		Convey("accepts a bearer header", func() {
			req := httptest.NewRequest("GET", "/", nil)
			req.Header.Set("Authorization", "Bearer "+ts)
			So(serve(req), ShouldEqual, http.StatusOK)
			So(seen, ShouldEqual, "op@crane.test")
		})

		Convey("accepts the query parameter", func() {
			So(serve(httptest.NewRequest("GET", "/?jwt="+ts, nil)), ShouldEqual, http.StatusOK)
		})

		Convey("accepts the cookie", func() {
			req := httptest.NewRequest("GET", "/", nil)
			req.AddCookie(&http.Cookie{Name: "jwt", Value: ts})
			So(serve(req), ShouldEqual, http.StatusOK)
		})
	})
}
