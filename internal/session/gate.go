// Package session tracks the caller of each request and guards the routes
// that require an authenticated user.
package session

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"github.com/sirupsen/logrus"

	"microblog/internal/domain"
)

const (
	cookieName  = "microblog_session"
	userIDKey   = "user_id"
	rememberKey = "remember"
	issuedKey   = "issued_at"
	flashKey    = "flashes"
	callerKey   = "microblog.caller"
)

// Caller is the request-scoped identity. A nil User means anonymous.
type Caller struct {
	User *domain.User
}

func (c Caller) Authenticated() bool { return c.User != nil }

// UserLoader resolves the user stored in a session.
type UserLoader interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	TouchLastSeen(ctx context.Context, id int64) error
}

type Options struct {
	Secret      string
	RememberFor time.Duration
	// SessionFor bounds a login without remember me, even when the browser
	// keeps the cookie around.
	SessionFor  time.Duration
	Secure      bool
	LoginPath   string
	DefaultPath string
}

// Gate owns the session cookie: it loads the caller before dispatch, logs
// callers in and out, and redirects anonymous callers away from protected
// routes.
type Gate struct {
	store  *sessions.CookieStore
	users  UserLoader
	logger *logrus.Logger
	opts   Options
	now    func() time.Time
}

func NewGate(opts Options, users UserLoader, logger *logrus.Logger) *Gate {
	if opts.LoginPath == "" {
		opts.LoginPath = "/login"
	}
	if opts.DefaultPath == "" {
		opts.DefaultPath = "/index"
	}
	if opts.RememberFor <= 0 {
		opts.RememberFor = 365 * 24 * time.Hour
	}
	if opts.SessionFor <= 0 {
		opts.SessionFor = 24 * time.Hour
	}
	if logger == nil {
		logger = logrus.New()
	}
	store := sessions.NewCookieStore([]byte(opts.Secret))
	// the signed timestamp must stay valid as long as a remembered cookie
	store.MaxAge(int(opts.RememberFor / time.Second))
	return &Gate{
		store:  store,
		users:  users,
		logger: logger,
		opts:   opts,
		now:    time.Now,
	}
}

// Load resolves the caller from the session cookie and records activity for
// authenticated callers. A missing, undecodable or stale cookie leaves the
// caller anonymous.
func (g *Gate) Load() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := Caller{}
		sess, _ := g.store.Get(c.Request, cookieName)
		if id, ok := sess.Values[userIDKey].(int64); ok && g.fresh(sess) {
			user, err := g.users.GetByID(c.Request.Context(), id)
			if err != nil {
				g.logger.WithError(err).WithField("user_id", id).Debug("dropping session for unknown user")
			} else {
				caller.User = user
				if err := g.users.TouchLastSeen(c.Request.Context(), id); err != nil {
					g.logger.WithError(err).WithField("user_id", id).Warn("update last seen")
				}
			}
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

// Require short-circuits anonymous callers to the login page, carrying the
// requested location in the next parameter.
func (g *Gate) Require() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CallerFrom(c).Authenticated() {
			c.Next()
			return
		}
		g.Flash(c, "Please log in to access this page.")
		target := g.opts.LoginPath + "?next=" + url.QueryEscape(c.Request.URL.RequestURI())
		c.Redirect(http.StatusFound, target)
		c.Abort()
	}
}

// CallerFrom returns the caller resolved by Load.
func CallerFrom(c *gin.Context) Caller {
	if v, ok := c.Get(callerKey); ok {
		if caller, ok := v.(Caller); ok {
			return caller
		}
	}
	return Caller{}
}

// Login starts a fresh authenticated session. With remember set the cookie
// outlives the browser session.
func (g *Gate) Login(c *gin.Context, user *domain.User, remember bool) error {
	sess, _ := g.store.Get(c.Request, cookieName)
	for k := range sess.Values {
		delete(sess.Values, k)
	}
	sess.Values[userIDKey] = user.ID
	sess.Values[rememberKey] = remember
	sess.Values[issuedKey] = g.now().Unix()
	c.Set(callerKey, Caller{User: user})
	return g.save(c, sess)
}

// Logout discards the session cookie.
func (g *Gate) Logout(c *gin.Context) error {
	sess, _ := g.store.Get(c.Request, cookieName)
	for k := range sess.Values {
		delete(sess.Values, k)
	}
	c.Set(callerKey, Caller{})
	sess.Options = g.cookieOptions(false)
	sess.Options.MaxAge = -1
	return sess.Save(c.Request, c.Writer)
}

// Flash queues a message for the next rendered view.
func (g *Gate) Flash(c *gin.Context, msg string) {
	sess, _ := g.store.Get(c.Request, cookieName)
	queued, _ := sess.Values[flashKey].([]string)
	sess.Values[flashKey] = append(queued, msg)
	if err := g.save(c, sess); err != nil {
		g.logger.WithError(err).Warn("save flash")
	}
}

// Flashes drains the queued messages.
func (g *Gate) Flashes(c *gin.Context) []string {
	sess, _ := g.store.Get(c.Request, cookieName)
	msgs, _ := sess.Values[flashKey].([]string)
	if len(msgs) == 0 {
		return nil
	}
	delete(sess.Values, flashKey)
	if err := g.save(c, sess); err != nil {
		g.logger.WithError(err).Warn("save drained flashes")
	}
	return msgs
}

// SafeNext returns next when it is a same-origin relative path and the
// default landing page otherwise.
func (g *Gate) SafeNext(next string) string {
	return SafeNext(next, g.opts.DefaultPath)
}

func SafeNext(next, fallback string) string {
	if next == "" || !strings.HasPrefix(next, "/") {
		return fallback
	}
	if strings.HasPrefix(next, "//") || strings.Contains(next, `\`) {
		return fallback
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" || u.User != nil {
		return fallback
	}
	return next
}

// fresh reports whether a login is still within its lifetime. Logout only
// drops the cookie from the browser, so a copied cookie stops working once
// this window closes.
func (g *Gate) fresh(sess *sessions.Session) bool {
	issued, ok := sess.Values[issuedKey].(int64)
	if !ok {
		return false
	}
	ttl := g.opts.SessionFor
	if remember, _ := sess.Values[rememberKey].(bool); remember {
		ttl = g.opts.RememberFor
	}
	return g.now().Sub(time.Unix(issued, 0)) < ttl
}

func (g *Gate) save(c *gin.Context, sess *sessions.Session) error {
	remember, _ := sess.Values[rememberKey].(bool)
	sess.Options = g.cookieOptions(remember)
	return sess.Save(c.Request, c.Writer)
}

func (g *Gate) cookieOptions(remember bool) *sessions.Options {
	opts := &sessions.Options{
		Path:     "/",
		HttpOnly: true,
		Secure:   g.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if remember {
		opts.MaxAge = int(g.opts.RememberFor / time.Second)
	}
	return opts
}
