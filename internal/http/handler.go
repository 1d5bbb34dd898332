package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"microblog/internal/metrics"
	"microblog/internal/service"
	"microblog/internal/session"
)

const requestIDKey = "request_id"

// Handler wires HTTP routes to domain services.
type Handler struct {
	users   service.UserService
	follows service.FollowService
	posts   service.PostService
	gate    *session.Gate
	render  Renderer
	metrics *metrics.Metrics
	logger  *logrus.Logger
}

func NewHandler(
	users service.UserService,
	follows service.FollowService,
	posts service.PostService,
	gate *session.Gate,
	render Renderer,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *Handler {
	if render == nil {
		render = JSONRenderer{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	useFormFieldNames()
	return &Handler{
		users:   users,
		follows: follows,
		posts:   posts,
		gate:    gate,
		render:  render,
		metrics: m,
		logger:  logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(requestLogger(h.logger), h.metrics.Instrument())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}

	web := router.Group("/", h.gate.Load())
	web.GET("/logout", h.logout)

	anon := web.Group("/", h.anonymousOnly())
	{
		anon.GET("/login", h.loginForm)
		anon.POST("/login", h.login)
		anon.GET("/register", h.registerForm)
		anon.POST("/register", h.register)
		anon.GET("/reset_password_request", h.resetRequestForm)
		anon.POST("/reset_password_request", h.resetRequest)
		anon.GET("/reset_password/:token", h.resetPasswordForm)
		anon.POST("/reset_password/:token", h.resetPassword)
	}

	authed := web.Group("/", h.gate.Require())
	{
		authed.GET("/", h.index)
		authed.POST("/", h.createPost)
		authed.GET("/index", h.index)
		authed.POST("/index", h.createPost)
		authed.GET("/explore", h.explore)
		authed.GET("/user/:username", h.userProfile)
		authed.GET("/follow/:username", h.follow)
		authed.GET("/unfollow/:username", h.unfollow)
		authed.GET("/edit_profile", h.editProfileForm)
		authed.POST("/edit_profile", h.editProfile)
	}

	router.NoRoute(func(c *gin.Context) {
		h.render.Render(c, http.StatusNotFound, View{Name: "404", Title: "Not Found"})
	})
}

// anonymousOnly sends authenticated callers away from the login, register
// and password reset pages.
func (h *Handler) anonymousOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if session.CallerFrom(c).Authenticated() {
			c.Redirect(http.StatusFound, "/index")
			c.Abort()
			return
		}
		c.Next()
	}
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := uuid.NewString()
		c.Set(requestIDKey, id)
		c.Writer.Header().Set("X-Request-ID", id)

		c.Next()

		entry := logger.WithFields(logrus.Fields{
			requestIDKey: id,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).String(),
		})
		if len(c.Errors) > 0 {
			entry.Warn(c.Errors.String())
			return
		}
		entry.Info("request")
	}
}

// log returns a logger entry tagged with the current request id.
func (h *Handler) log(c *gin.Context) *logrus.Entry {
	return h.logger.WithField(requestIDKey, c.GetString(requestIDKey))
}

// fail logs an unexpected error and renders the generic error view.
func (h *Handler) fail(c *gin.Context, err error, msg string) {
	h.log(c).WithError(err).Error(msg)
	_ = c.Error(err)
	h.render.Render(c, http.StatusInternalServerError, View{Name: "500", Title: "An unexpected error has occurred"})
}

func (h *Handler) redirectWithFlash(c *gin.Context, location, msg string) {
	h.gate.Flash(c, msg)
	c.Redirect(http.StatusFound, location)
}

func pageParam(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("page"))
	if err != nil || n < 1 {
		return 1
	}
	return n
}
