package http

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"microblog/internal/service"
)

const passwordTooLong = "Field cannot be longer than 72 bytes."

func (h *Handler) loginForm(c *gin.Context) {
	h.show(c, http.StatusOK, View{Name: "login", Title: "Sign In"})
}

func (h *Handler) login(c *gin.Context) {
	var f loginForm
	if errs := bindForm(c, &f); errs != nil {
		h.show(c, http.StatusBadRequest, View{
			Name:   "login",
			Title:  "Sign In",
			Form:   map[string]string{"username": f.Username},
			Errors: errs,
		})
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), f.Username, f.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			h.metrics.Login(false, "invalid_credentials")
			h.log(c).WithField("username", f.Username).Info("login rejected")
			h.redirectWithFlash(c, loginRetryPath(c), "Invalid username or password")
			return
		}
		h.metrics.Login(false, "error")
		h.fail(c, err, "authenticate")
		return
	}

	if err := h.gate.Login(c, user, f.remember()); err != nil {
		h.fail(c, err, "start session")
		return
	}
	h.metrics.Login(true, "")
	c.Redirect(http.StatusFound, h.gate.SafeNext(c.Query("next")))
}

// loginRetryPath keeps a pending next parameter across a failed attempt.
func loginRetryPath(c *gin.Context) string {
	if next := c.Query("next"); next != "" {
		return "/login?next=" + url.QueryEscape(next)
	}
	return "/login"
}

func (h *Handler) logout(c *gin.Context) {
	if err := h.gate.Logout(c); err != nil {
		h.log(c).WithError(err).Warn("clear session")
	}
	c.Redirect(http.StatusFound, "/index")
}

func (h *Handler) registerForm(c *gin.Context) {
	h.show(c, http.StatusOK, View{Name: "register", Title: "Register"})
}

func (h *Handler) register(c *gin.Context) {
	var f registerForm
	errs := bindForm(c, &f)
	ctx := c.Request.Context()

	if _, bad := errs["username"]; !bad && f.Username != "" {
		ok, err := h.users.UsernameAvailable(ctx, f.Username)
		if err != nil {
			h.fail(c, err, "check username")
			return
		}
		if !ok {
			errs = addFieldError(errs, "username", "Please use a different username.")
		}
	}
	if _, bad := errs["email"]; !bad && f.Email != "" {
		ok, err := h.users.EmailAvailable(ctx, f.Email)
		if err != nil {
			h.fail(c, err, "check email")
			return
		}
		if !ok {
			errs = addFieldError(errs, "email", "Please use a different email address.")
		}
	}

	if errs == nil {
		_, err := h.users.Register(ctx, f.Username, f.Email, f.Password)
		switch {
		case err == nil:
			h.metrics.Registered()
			h.redirectWithFlash(c, "/login", "Congratulations, you are now a registered user!")
			return
		case errors.Is(err, service.ErrUsernameTaken):
			errs = addFieldError(errs, "username", "Please use a different username.")
		case errors.Is(err, service.ErrEmailTaken):
			errs = addFieldError(errs, "email", "Please use a different email address.")
		case errors.Is(err, service.ErrPasswordTooLong):
			errs = addFieldError(errs, "password", passwordTooLong)
		default:
			h.fail(c, err, "register user")
			return
		}
	}

	h.show(c, http.StatusBadRequest, View{
		Name:   "register",
		Title:  "Register",
		Form:   map[string]string{"username": f.Username, "email": f.Email},
		Errors: errs,
	})
}

func (h *Handler) resetRequestForm(c *gin.Context) {
	h.show(c, http.StatusOK, View{Name: "reset_password_request", Title: "Reset Password"})
}

// resetRequest answers the same way whether or not the email is known.
func (h *Handler) resetRequest(c *gin.Context) {
	var f resetRequestForm
	if errs := bindForm(c, &f); errs != nil {
		h.show(c, http.StatusBadRequest, View{
			Name:   "reset_password_request",
			Title:  "Reset Password",
			Form:   map[string]string{"email": f.Email},
			Errors: errs,
		})
		return
	}

	if err := h.users.RequestPasswordReset(c.Request.Context(), f.Email); err != nil {
		h.log(c).WithError(err).Error("request password reset")
	}
	h.redirectWithFlash(c, "/login", "Check your email for the instructions to reset your password")
}

func (h *Handler) resetPasswordForm(c *gin.Context) {
	if _, ok := h.users.VerifyResetToken(c.Request.Context(), c.Param("token")); !ok {
		c.Redirect(http.StatusFound, "/index")
		return
	}
	h.show(c, http.StatusOK, View{Name: "reset_password", Title: "Reset Your Password"})
}

func (h *Handler) resetPassword(c *gin.Context) {
	token := c.Param("token")
	if _, ok := h.users.VerifyResetToken(c.Request.Context(), token); !ok {
		c.Redirect(http.StatusFound, "/index")
		return
	}

	var f resetPasswordForm
	if errs := bindForm(c, &f); errs != nil {
		h.show(c, http.StatusBadRequest, View{Name: "reset_password", Title: "Reset Your Password", Errors: errs})
		return
	}

	if err := h.users.ResetPassword(c.Request.Context(), token, f.Password); err != nil {
		if errors.Is(err, service.ErrInvalidResetToken) {
			c.Redirect(http.StatusFound, "/index")
			return
		}
		if errors.Is(err, service.ErrPasswordTooLong) {
			h.show(c, http.StatusBadRequest, View{
				Name:   "reset_password",
				Title:  "Reset Your Password",
				Errors: map[string][]string{"password": {passwordTooLong}},
			})
			return
		}
		h.fail(c, err, "reset password")
		return
	}
	h.redirectWithFlash(c, "/login", "Your password has been reset.")
}
