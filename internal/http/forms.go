package http

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

type loginForm struct {
	Username   string `form:"username" binding:"required"`
	Password   string `form:"password" binding:"required"`
	RememberMe string `form:"remember_me"`
}

func (f *loginForm) normalize() { f.Username = strings.TrimSpace(f.Username) }

// remember accepts the values browsers and form libraries send for a
// checked box.
func (f *loginForm) remember() bool {
	switch strings.ToLower(strings.TrimSpace(f.RememberMe)) {
	case "1", "y", "yes", "on", "true":
		return true
	}
	return false
}

type registerForm struct {
	Username  string `form:"username" binding:"required,max=64"`
	Email     string `form:"email" binding:"required,email,max=120"`
	Password  string `form:"password" binding:"required,max=72"`
	Password2 string `form:"password2" binding:"required,eqfield=Password"`
}

func (f *registerForm) normalize() {
	f.Username = strings.TrimSpace(f.Username)
	f.Email = strings.TrimSpace(f.Email)
}

type resetRequestForm struct {
	Email string `form:"email" binding:"required,email"`
}

func (f *resetRequestForm) normalize() { f.Email = strings.TrimSpace(f.Email) }

type resetPasswordForm struct {
	Password  string `form:"password" binding:"required,max=72"`
	Password2 string `form:"password2" binding:"required,eqfield=Password"`
}

func (f *resetPasswordForm) normalize() {}

type postForm struct {
	Post string `form:"post" binding:"required,max=140"`
}

func (f *postForm) normalize() { f.Post = strings.TrimSpace(f.Post) }

type editProfileForm struct {
	Username string `form:"username" binding:"required,max=64"`
	AboutMe  string `form:"about_me" binding:"max=140"`
}

func (f *editProfileForm) normalize() {
	f.Username = strings.TrimSpace(f.Username)
	f.AboutMe = strings.TrimSpace(f.AboutMe)
}

type form interface {
	normalize()
}

// bindForm decodes the posted form, trims it and validates the result. It
// returns the messages per form field, or nil when the form is valid.
func bindForm(c *gin.Context, f form) map[string][]string {
	var verrs validator.ValidationErrors
	if err := c.ShouldBindWith(f, binding.FormPost); err != nil && !errors.As(err, &verrs) {
		return map[string][]string{"form": {"Invalid form submission."}}
	}
	f.normalize()
	return fieldErrors(binding.Validator.ValidateStruct(f))
}

func fieldErrors(err error) map[string][]string {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string][]string{"form": {err.Error()}}
	}
	out := make(map[string][]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = append(out[fe.Field()], fieldMessage(fe))
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "email":
		return "Invalid email address."
	case "eqfield":
		return "Field must be equal to password."
	case "max":
		return fmt.Sprintf("Field cannot be longer than %s characters.", fe.Param())
	default:
		return "Invalid value."
	}
}

func addFieldError(errs map[string][]string, field, msg string) map[string][]string {
	if errs == nil {
		errs = make(map[string][]string)
	}
	errs[field] = append(errs[field], msg)
	return errs
}

var fieldNamesOnce sync.Once

// useFormFieldNames makes validation errors report form field names instead
// of struct field names.
func useFormFieldNames() {
	fieldNamesOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
	})
}
