package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"microblog/internal/domain"
)

type fakeUsers struct {
	users   map[int64]*domain.User
	touched map[int64]int
}

func (f *fakeUsers) GetByID(_ context.Context, id int64) (*domain.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, errors.New("user not found")
}

func (f *fakeUsers) TouchLastSeen(_ context.Context, id int64) error {
	f.touched[id]++
	return nil
}

func newTestGate(t *testing.T) (*Gate, *fakeUsers, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	users := &fakeUsers{
		users:   map[int64]*domain.User{1: {ID: 1, Username: "alice"}},
		touched: map[int64]int{},
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	gate := NewGate(Options{Secret: "test-secret", RememberFor: 48 * time.Hour}, users, logger)

	r := gin.New()
	r.Use(gate.Load())
	r.GET("/login/:id", func(c *gin.Context) {
		id, _ := strconv.ParseInt(c.Param("id"), 10, 64)
		user, err := users.GetByID(c.Request.Context(), id)
		if err != nil {
			c.Status(http.StatusNotFound)
			return
		}
		if err := gate.Login(c, user, c.Query("remember") == "1"); err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNoContent)
	})
	r.GET("/logout", func(c *gin.Context) {
		_ = gate.Logout(c)
		c.Status(http.StatusNoContent)
	})
	r.GET("/whoami", func(c *gin.Context) {
		caller := CallerFrom(c)
		if !caller.Authenticated() {
			c.String(http.StatusOK, "anonymous")
			return
		}
		c.String(http.StatusOK, caller.User.Username)
	})
	r.GET("/flash", func(c *gin.Context) {
		gate.Flash(c, "hello there")
		c.Status(http.StatusNoContent)
	})
	r.GET("/flashes", func(c *gin.Context) {
		c.String(http.StatusOK, strings.Join(gate.Flashes(c), "|"))
	})
	protected := r.Group("/", gate.Require())
	protected.GET("/secret", func(c *gin.Context) { c.String(http.StatusOK, "secret") })

	return gate, users, r
}

func do(r http.Handler, path string, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	var found *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == cookieName {
			found = c
		}
	}
	if found == nil {
		t.Fatal("session cookie not set")
	}
	return found
}

func TestGate_LoginLoadsCaller(t *testing.T) {
	_, users, r := newTestGate(t)

	if body := do(r, "/whoami", nil).Body.String(); body != "anonymous" {
		t.Fatalf("whoami = %q", body)
	}

	cookie := sessionCookie(t, do(r, "/login/1", nil))
	if cookie.MaxAge != 0 {
		t.Fatalf("expected a session-scoped cookie, MaxAge = %d", cookie.MaxAge)
	}
	if !cookie.HttpOnly {
		t.Fatal("expected an HttpOnly cookie")
	}

	if body := do(r, "/whoami", cookie).Body.String(); body != "alice" {
		t.Fatalf("whoami = %q", body)
	}
	if users.touched[1] != 1 {
		t.Fatalf("last seen touched %d times", users.touched[1])
	}
}

func TestGate_RememberMeExtendsCookie(t *testing.T) {
	_, _, r := newTestGate(t)

	cookie := sessionCookie(t, do(r, "/login/1?remember=1", nil))
	if cookie.MaxAge != int((48 * time.Hour).Seconds()) {
		t.Fatalf("MaxAge = %d", cookie.MaxAge)
	}

	// later saves keep the remembered lifetime
	flashed := sessionCookie(t, do(r, "/flash", cookie))
	if flashed.MaxAge != cookie.MaxAge {
		t.Fatalf("flash save changed MaxAge to %d", flashed.MaxAge)
	}
}

func TestGate_LogoutExpiresCookie(t *testing.T) {
	_, _, r := newTestGate(t)
	cookie := sessionCookie(t, do(r, "/login/1", nil))

	expired := sessionCookie(t, do(r, "/logout", cookie))
	if expired.MaxAge >= 0 {
		t.Fatalf("expected an expired cookie, MaxAge = %d", expired.MaxAge)
	}
}

func TestGate_RequireRedirectsAnonymous(t *testing.T) {
	_, _, r := newTestGate(t)

	rec := do(r, "/secret?page=2", nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/login?next=%2Fsecret%3Fpage%3D2" {
		t.Fatalf("Location = %q", loc)
	}

	cookie := sessionCookie(t, do(r, "/login/1", nil))
	rec = do(r, "/secret", cookie)
	if rec.Code != http.StatusOK || rec.Body.String() != "secret" {
		t.Fatalf("authenticated request got %d %q", rec.Code, rec.Body.String())
	}
}

func TestGate_TamperedCookieIsAnonymous(t *testing.T) {
	_, _, r := newTestGate(t)
	cookie := sessionCookie(t, do(r, "/login/1", nil))
	cookie.Value = cookie.Value[:len(cookie.Value)-2] + "xx"

	if body := do(r, "/whoami", cookie).Body.String(); body != "anonymous" {
		t.Fatalf("whoami = %q", body)
	}
}

func TestGate_Flashes(t *testing.T) {
	_, _, r := newTestGate(t)

	cookie := sessionCookie(t, do(r, "/flash", nil))
	rec := do(r, "/flashes", cookie)
	if rec.Body.String() != "hello there" {
		t.Fatalf("flashes = %q", rec.Body.String())
	}

	drained := sessionCookie(t, rec)
	if body := do(r, "/flashes", drained).Body.String(); body != "" {
		t.Fatalf("flashes not drained: %q", body)
	}
}

func TestSafeNext(t *testing.T) {
	tests := map[string]string{
		"":                    "/index",
		"/user/bob?page=2":    "/user/bob?page=2",
		"/explore":            "/explore",
		"http://evil.example": "/index",
		"https://evil/x":      "/index",
		"//evil.example/x":    "/index",
		`/\evil.example`:      "/index",
		"evil":                "/index",
		"javascript:alert(1)": "/index",
	}
	for in, want := range tests {
		if got := SafeNext(in, "/index"); got != want {
			t.Errorf("SafeNext(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGate_LoginExpiresAfterItsLifetime(t *testing.T) {
	gate, _, r := newTestGate(t)
	clock := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	gate.now = func() time.Time { return clock }

	session := sessionCookie(t, do(r, "/login/1", nil))
	remembered := sessionCookie(t, do(r, "/login/1?remember=1", nil))

	clock = clock.Add(23 * time.Hour)
	if body := do(r, "/whoami", session).Body.String(); body != "alice" {
		t.Fatalf("whoami within a day = %q", body)
	}

	// a copied cookie outlives logout only until its lifetime ends
	clock = clock.Add(2 * time.Hour)
	if body := do(r, "/whoami", session).Body.String(); body != "anonymous" {
		t.Fatalf("session cookie still valid after a day: %q", body)
	}
	if body := do(r, "/whoami", remembered).Body.String(); body != "alice" {
		t.Fatalf("remembered cookie rejected early: %q", body)
	}

	clock = clock.Add(24 * time.Hour)
	if body := do(r, "/whoami", remembered).Body.String(); body != "anonymous" {
		t.Fatalf("remembered cookie valid past its lifetime: %q", body)
	}
}
