package http_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"

	"microblog/internal/domain"
	apphttp "microblog/internal/http"
	"microblog/internal/metrics"
	"microblog/internal/repository/sqlite"
	"microblog/internal/service"
	"microblog/internal/session"
)

type resetOutbox struct {
	tokens map[string]string
}

func (o *resetOutbox) NotifyPasswordReset(_ context.Context, user domain.User, token string) error {
	o.tokens[user.Email] = token
	return nil
}

type app struct {
	router  *gin.Engine
	metrics *metrics.Metrics
	outbox  *resetOutbox
}

func newApp(t *testing.T) *app {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "http.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	userRepo := sqlite.NewUserRepository(db)
	postRepo := sqlite.NewPostRepository(db)
	followRepo := sqlite.NewFollowRepository(db)
	for _, initRepo := range []func(context.Context) error{userRepo.Init, postRepo.Init, followRepo.Init} {
		if err := initRepo(ctx); err != nil {
			t.Fatalf("init: %v", err)
		}
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	outbox := &resetOutbox{tokens: map[string]string{}}
	users := service.NewUserService(userRepo, service.NewResetTokens("test-secret"), 10*time.Minute, outbox)
	follows := service.NewFollowService(followRepo, postRepo, 3)
	posts := service.NewPostService(postRepo, 3)
	gate := session.NewGate(session.Options{Secret: "test-secret", RememberFor: 24 * time.Hour}, users, logger)
	m := metrics.New()

	router := gin.New()
	apphttp.NewHandler(users, follows, posts, gate, apphttp.JSONRenderer{}, m, logger).RegisterRoutes(router)

	return &app{router: router, metrics: m, outbox: outbox}
}

// browser keeps the cookies of one client between requests.
type browser struct {
	t       *testing.T
	app     *app
	cookies map[string]*http.Cookie
}

func (a *app) browser(t *testing.T) *browser {
	return &browser{t: t, app: a, cookies: map[string]*http.Cookie{}}
}

func (b *browser) do(req *http.Request) *httptest.ResponseRecorder {
	b.t.Helper()
	for _, c := range b.cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	b.app.router.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(b.cookies, c.Name)
			continue
		}
		b.cookies[c.Name] = c
	}
	return rec
}

func (b *browser) get(path string) *httptest.ResponseRecorder {
	b.t.Helper()
	return b.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (b *browser) post(path string, form url.Values) *httptest.ResponseRecorder {
	b.t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

func (b *browser) register(name, password string) {
	b.t.Helper()
	rec := b.post("/register", url.Values{
		"username":  {name},
		"email":     {name + "@example.com"},
		"password":  {password},
		"password2": {password},
	})
	expectRedirect(b.t, rec, "/login")
}

func (b *browser) login(name, password string) {
	b.t.Helper()
	expectRedirect(b.t, b.post("/login", url.Values{"username": {name}, "password": {password}}), "/index")
}

type view struct {
	Name        string              `json:"view"`
	Flashes     []string            `json:"flashes"`
	Errors      map[string][]string `json:"errors"`
	Form        map[string]string   `json:"form"`
	CurrentUser *struct {
		Username string `json:"username"`
	} `json:"current_user"`
	Data json.RawMessage `json:"data"`
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder, status int) view {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
	var v view
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	return v
}

func decodeFeed(t *testing.T, v view) apphttp.FeedResponse {
	t.Helper()
	var feed apphttp.FeedResponse
	if err := json.Unmarshal(v.Data, &feed); err != nil {
		t.Fatalf("decode feed: %v", err)
	}
	return feed
}

func expectRedirect(t *testing.T, rec *httptest.ResponseRecorder, location string) {
	t.Helper()
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302 (body %s)", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Location"); got != location {
		t.Fatalf("Location = %q, want %q", got, location)
	}
}

func hasFlash(v view, msg string) bool {
	for _, f := range v.Flashes {
		if f == msg {
			return true
		}
	}
	return false
}

func feedBodies(feed apphttp.FeedResponse) []string {
	out := make([]string, len(feed.Posts))
	for i, p := range feed.Posts {
		out[i] = p.Body
	}
	return out
}

func TestRegisterAndLogin(t *testing.T) {
	a := newApp(t)
	b := a.browser(t)

	b.register("alice", "secret")
	v := decodeView(t, b.get("/login"), http.StatusOK)
	if !hasFlash(v, "Congratulations, you are now a registered user!") {
		t.Fatalf("flashes = %v", v.Flashes)
	}

	expectRedirect(t, b.post("/login", url.Values{"username": {"alice"}, "password": {"wrong"}}), "/login")
	v = decodeView(t, b.get("/login"), http.StatusOK)
	if !hasFlash(v, "Invalid username or password") {
		t.Fatalf("flashes = %v", v.Flashes)
	}
	if v.CurrentUser != nil {
		t.Fatal("failed login must stay anonymous")
	}

	b.login("alice", "secret")
	v = decodeView(t, b.get("/index"), http.StatusOK)
	if v.Name != "index" || v.CurrentUser == nil || v.CurrentUser.Username != "alice" {
		t.Fatalf("unexpected index view %+v", v)
	}

	if got := testutil.ToFloat64(a.metrics.LoginSuccess); got != 1 {
		t.Fatalf("login_success_total = %v", got)
	}
	if got := testutil.ToFloat64(a.metrics.LoginFailure.WithLabelValues("invalid_credentials")); got != 1 {
		t.Fatalf("login_failure_total = %v", got)
	}

	// authenticated callers skip the anonymous pages
	expectRedirect(t, b.get("/login"), "/index")
	expectRedirect(t, b.get("/register"), "/index")

	expectRedirect(t, b.get("/logout"), "/index")
	expectRedirect(t, b.get("/index"), "/login?next=%2Findex")
}

func TestRegisterValidation(t *testing.T) {
	a := newApp(t)
	b := a.browser(t)
	b.register("alice", "secret")

	v := decodeView(t, b.post("/register", url.Values{
		"username":  {"bob"},
		"email":     {"not-an-email"},
		"password":  {"one"},
		"password2": {"two"},
	}), http.StatusBadRequest)
	if len(v.Errors["email"]) == 0 || len(v.Errors["password2"]) == 0 {
		t.Fatalf("errors = %v", v.Errors)
	}

	v = decodeView(t, b.post("/register", url.Values{
		"username":  {"alice"},
		"email":     {"alice@example.com"},
		"password":  {"pw"},
		"password2": {"pw"},
	}), http.StatusBadRequest)
	if len(v.Errors["username"]) == 0 || len(v.Errors["email"]) == 0 {
		t.Fatalf("errors = %v", v.Errors)
	}
	if v.Form["username"] != "alice" {
		t.Fatalf("form not echoed: %v", v.Form)
	}

	v = decodeView(t, b.post("/register", url.Values{
		"username":  {"   "},
		"email":     {"carol@example.com"},
		"password":  {"pw"},
		"password2": {"pw"},
	}), http.StatusBadRequest)
	if len(v.Errors["username"]) == 0 {
		t.Fatalf("blank username accepted: %v", v.Errors)
	}
}

func TestProtectedRoutesRedirectToLogin(t *testing.T) {
	a := newApp(t)
	b := a.browser(t)

	for _, path := range []string{"/", "/index", "/explore", "/edit_profile", "/user/alice", "/follow/alice"} {
		rec := b.get(path)
		expectRedirect(t, rec, "/login?next="+url.QueryEscape(path))
	}

	b.register("alice", "secret")
	rec := b.post("/login?next="+url.QueryEscape("/explore?page=2"), url.Values{"username": {"alice"}, "password": {"secret"}})
	expectRedirect(t, rec, "/explore?page=2")
}

func TestLoginRejectsForeignNext(t *testing.T) {
	a := newApp(t)
	b := a.browser(t)
	b.register("alice", "secret")

	for _, next := range []string{"http://evil.example/", "//evil.example", `/\evil.example`, "evil"} {
		b.get("/logout")
		rec := b.post("/login?next="+url.QueryEscape(next), url.Values{"username": {"alice"}, "password": {"secret"}})
		expectRedirect(t, rec, "/index")
	}
}

func TestFollowShapesHomeFeed(t *testing.T) {
	a := newApp(t)
	alice, bob := a.browser(t), a.browser(t)
	alice.register("alice", "pw-a")
	bob.register("bob", "pw-b")
	alice.login("alice", "pw-a")
	bob.login("bob", "pw-b")

	expectRedirect(t, bob.post("/index", url.Values{"post": {"hello"}}), "/index")
	if got := feedBodies(decodeFeed(t, decodeView(t, alice.get("/index"), http.StatusOK))); len(got) != 0 {
		t.Fatalf("alice sees %v before following", got)
	}

	expectRedirect(t, alice.get("/follow/bob"), "/user/bob")
	profile := decodeView(t, alice.get("/user/bob"), http.StatusOK)
	if !hasFlash(profile, "You are now following bob!") {
		t.Fatalf("flashes = %v", profile.Flashes)
	}
	var resp apphttp.ProfileResponse
	if err := json.Unmarshal(profile.Data, &resp); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if !resp.IsFollowing || resp.Followers != 1 || resp.IsSelf {
		t.Fatalf("profile = %+v", resp)
	}

	got := feedBodies(decodeFeed(t, decodeView(t, alice.get("/index"), http.StatusOK)))
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("alice feed = %v", got)
	}

	// following twice keeps a single edge
	expectRedirect(t, alice.get("/follow/bob"), "/user/bob")
	if got := feedBodies(decodeFeed(t, decodeView(t, alice.get("/index"), http.StatusOK))); len(got) != 1 {
		t.Fatalf("alice feed = %v", got)
	}

	expectRedirect(t, alice.get("/unfollow/bob"), "/user/bob")
	if got := feedBodies(decodeFeed(t, decodeView(t, alice.get("/index"), http.StatusOK))); len(got) != 0 {
		t.Fatalf("alice still sees %v", got)
	}

	expectRedirect(t, alice.get("/follow/alice"), "/user/alice")
	v := decodeView(t, alice.get("/user/alice"), http.StatusOK)
	if !hasFlash(v, "You cannot follow yourself!") {
		t.Fatalf("flashes = %v", v.Flashes)
	}

	expectRedirect(t, alice.get("/follow/nobody"), "/index")
	v = decodeView(t, alice.get("/index"), http.StatusOK)
	if !hasFlash(v, "User nobody not found.") {
		t.Fatalf("flashes = %v", v.Flashes)
	}

	if got := testutil.ToFloat64(a.metrics.FollowChanges.WithLabelValues("follow")); got != 2 {
		t.Fatalf("follow_changes_total{follow} = %v", got)
	}
}

func TestUnknownUserIsNotFound(t *testing.T) {
	a := newApp(t)
	b := a.browser(t)
	b.register("alice", "pw")
	b.login("alice", "pw")

	v := decodeView(t, b.get("/user/nobody"), http.StatusNotFound)
	if v.Name != "404" {
		t.Fatalf("view = %q", v.Name)
	}
}

func TestCreatePostValidation(t *testing.T) {
	a := newApp(t)
	b := a.browser(t)
	b.register("alice", "pw")
	b.login("alice", "pw")

	v := decodeView(t, b.post("/index", url.Values{"post": {"   "}}), http.StatusBadRequest)
	if len(v.Errors["post"]) == 0 {
		t.Fatalf("errors = %v", v.Errors)
	}
	v = decodeView(t, b.post("/index", url.Values{"post": {strings.Repeat("x", 141)}}), http.StatusBadRequest)
	if len(v.Errors["post"]) == 0 {
		t.Fatalf("errors = %v", v.Errors)
	}

	expectRedirect(t, b.post("/", url.Values{"post": {strings.Repeat("x", 140)}}), "/index")
	if got := testutil.ToFloat64(a.metrics.PostsCreated); got != 1 {
		t.Fatalf("posts_created_total = %v", got)
	}
}

func TestFeedPagination(t *testing.T) {
	a := newApp(t)
	b := a.browser(t)
	b.register("alice", "pw")
	b.login("alice", "pw")
	for _, body := range []string{"one", "two", "three", "four"} {
		expectRedirect(t, b.post("/index", url.Values{"post": {body}}), "/index")
	}

	first := decodeFeed(t, decodeView(t, b.get("/explore"), http.StatusOK))
	if len(first.Posts) != 3 || first.NextURL != "/explore?page=2" || first.PrevURL != "" {
		t.Fatalf("first page = %+v", first)
	}
	second := decodeFeed(t, decodeView(t, b.get(first.NextURL), http.StatusOK))
	if len(second.Posts) != 1 || second.NextURL != "" || second.PrevURL != "/explore?page=1" {
		t.Fatalf("second page = %+v", second)
	}
	if second.Posts[0].Body != "one" || first.Posts[0].Body != "four" {
		t.Fatal("posts are not newest first")
	}

	past := decodeFeed(t, decodeView(t, b.get("/explore?page=9"), http.StatusOK))
	if len(past.Posts) != 0 || past.NextURL != "" {
		t.Fatalf("page past the end = %+v", past)
	}
	for _, huge := range []string{"6148914691236517206", "3074457345618258603", "9223372036854775807"} {
		far := decodeFeed(t, decodeView(t, b.get("/explore?page="+huge), http.StatusOK))
		if len(far.Posts) != 0 || far.NextURL != "" {
			t.Fatalf("page %s = %+v", huge, far)
		}
	}
	clamped := decodeFeed(t, decodeView(t, b.get("/explore?page=-3"), http.StatusOK))
	if clamped.Page != 1 {
		t.Fatalf("page = %d", clamped.Page)
	}

	profile := decodeView(t, b.get("/user/alice?page=2"), http.StatusOK)
	var resp apphttp.ProfileResponse
	if err := json.Unmarshal(profile.Data, &resp); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if resp.Feed.PrevURL != "/user/alice?page=1" || len(resp.Feed.Posts) != 1 {
		t.Fatalf("profile feed = %+v", resp.Feed)
	}
}

func TestEditProfile(t *testing.T) {
	a := newApp(t)
	other := a.browser(t)
	other.register("bob", "pw")
	b := a.browser(t)
	b.register("alice", "pw")
	b.login("alice", "pw")

	v := decodeView(t, b.get("/edit_profile"), http.StatusOK)
	if v.Form["username"] != "alice" {
		t.Fatalf("form = %v", v.Form)
	}

	v = decodeView(t, b.post("/edit_profile", url.Values{"username": {"bob"}}), http.StatusBadRequest)
	if len(v.Errors["username"]) == 0 {
		t.Fatalf("errors = %v", v.Errors)
	}
	v = decodeView(t, b.post("/edit_profile", url.Values{"username": {"alice"}, "about_me": {strings.Repeat("a", 141)}}), http.StatusBadRequest)
	if len(v.Errors["about_me"]) == 0 {
		t.Fatalf("errors = %v", v.Errors)
	}

	expectRedirect(t, b.post("/edit_profile", url.Values{"username": {"alice"}, "about_me": {"hi there"}}), "/edit_profile")
	v = decodeView(t, b.get("/edit_profile"), http.StatusOK)
	if v.Form["about_me"] != "hi there" || !hasFlash(v, "Your changes have been saved.") {
		t.Fatalf("view = %+v", v)
	}
}

func TestPasswordReset(t *testing.T) {
	a := newApp(t)
	b := a.browser(t)
	b.register("alice", "old-pw")

	known := b.post("/reset_password_request", url.Values{"email": {"alice@example.com"}})
	unknown := b.post("/reset_password_request", url.Values{"email": {"nobody@example.com"}})
	expectRedirect(t, known, "/login")
	expectRedirect(t, unknown, "/login")
	if len(a.outbox.tokens) != 1 {
		t.Fatalf("sent %d reset mails", len(a.outbox.tokens))
	}
	token := a.outbox.tokens["alice@example.com"]

	expectRedirect(t, b.get("/reset_password/garbage"), "/index")
	expectRedirect(t, b.post("/reset_password/garbage", url.Values{"password": {"hacked"}, "password2": {"hacked"}}), "/index")
	b.login("alice", "old-pw")
	b.get("/logout")

	decodeView(t, b.get("/reset_password/"+token), http.StatusOK)
	v := decodeView(t, b.post("/reset_password/"+token, url.Values{"password": {"a"}, "password2": {"b"}}), http.StatusBadRequest)
	if len(v.Errors["password2"]) == 0 {
		t.Fatalf("errors = %v", v.Errors)
	}

	expectRedirect(t, b.post("/reset_password/"+token, url.Values{"password": {"new-pw"}, "password2": {"new-pw"}}), "/login")
	expectRedirect(t, b.post("/login", url.Values{"username": {"alice"}, "password": {"old-pw"}}), "/login")
	b.login("alice", "new-pw")
}

func TestHealthAndMetrics(t *testing.T) {
	a := newApp(t)
	b := a.browser(t)

	rec := b.get("/healthz")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Fatalf("healthz = %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing request id")
	}

	b.register("alice", "pw")
	rec = b.get("/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "register_success_total 1") {
		t.Fatalf("metrics = %d %s", rec.Code, rec.Body.String())
	}
}

func TestLongPasswordsAreFieldErrors(t *testing.T) {
	a := newApp(t)
	b := a.browser(t)

	// 73 ASCII bytes fail the form rule, 40 two-byte runes fail the hash limit
	for _, pw := range []string{strings.Repeat("a", 73), strings.Repeat("é", 40)} {
		v := decodeView(t, b.post("/register", url.Values{
			"username":  {"alice"},
			"email":     {"alice@example.com"},
			"password":  {pw},
			"password2": {pw},
		}), http.StatusBadRequest)
		if len(v.Errors["password"]) == 0 {
			t.Fatalf("errors = %v", v.Errors)
		}
	}

	b.register("alice", "old-pw")
	expectRedirect(t, b.post("/reset_password_request", url.Values{"email": {"alice@example.com"}}), "/login")
	token := a.outbox.tokens["alice@example.com"]

	for _, pw := range []string{strings.Repeat("a", 73), strings.Repeat("é", 40)} {
		v := decodeView(t, b.post("/reset_password/"+token, url.Values{"password": {pw}, "password2": {pw}}), http.StatusBadRequest)
		if len(v.Errors["password"]) == 0 {
			t.Fatalf("errors = %v", v.Errors)
		}
	}
	b.login("alice", "old-pw")
}
