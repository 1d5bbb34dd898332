package http

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"microblog/internal/domain"
	"microblog/internal/service"
	"microblog/internal/session"
)

func (h *Handler) index(c *gin.Context) {
	h.showIndex(c, http.StatusOK, nil, "")
}

func (h *Handler) createPost(c *gin.Context) {
	caller := session.CallerFrom(c)

	var f postForm
	errs := bindForm(c, &f)
	if errs == nil {
		_, err := h.posts.CreatePost(c.Request.Context(), caller.User, f.Post)
		switch {
		case err == nil:
			h.metrics.PostCreated()
			h.redirectWithFlash(c, "/index", "Your post is now live!")
			return
		case errors.Is(err, service.ErrInvalidPost):
			errs = addFieldError(errs, "post", "This field is required.")
		default:
			h.fail(c, err, "create post")
			return
		}
	}
	h.showIndex(c, http.StatusBadRequest, errs, f.Post)
}

func (h *Handler) showIndex(c *gin.Context, status int, errs map[string][]string, draft string) {
	caller := session.CallerFrom(c)
	page, err := h.follows.FollowedFeed(c.Request.Context(), caller.User.ID, pageParam(c))
	if err != nil {
		h.fail(c, err, "load followed feed")
		return
	}

	view := View{
		Name:   "index",
		Title:  "Home",
		Errors: errs,
		Data:   feedToResponse(page, "/index"),
	}
	if draft != "" {
		view.Form = map[string]string{"post": draft}
	}
	h.show(c, status, view)
}

func (h *Handler) explore(c *gin.Context) {
	page, err := h.posts.Explore(c.Request.Context(), pageParam(c))
	if err != nil {
		h.fail(c, err, "load explore feed")
		return
	}
	h.show(c, http.StatusOK, View{Name: "explore", Title: "Explore", Data: feedToResponse(page, "/explore")})
}

func (h *Handler) userProfile(c *gin.Context) {
	ctx := c.Request.Context()
	caller := session.CallerFrom(c)

	user, err := h.users.GetByUsername(ctx, c.Param("username"))
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			h.show(c, http.StatusNotFound, View{Name: "404", Title: "Not Found"})
			return
		}
		h.fail(c, err, "load user")
		return
	}

	page, err := h.posts.UserPosts(ctx, user.ID, pageParam(c))
	if err != nil {
		h.fail(c, err, "load user posts")
		return
	}
	followers, following, err := h.follows.Counts(ctx, user.ID)
	if err != nil {
		h.fail(c, err, "count follows")
		return
	}

	resp := ProfileResponse{
		User:      userToResponse(*user),
		Followers: followers,
		Following: following,
		IsSelf:    user.ID == caller.User.ID,
		Feed:      feedToResponse(page, "/user/"+url.PathEscape(user.Username)),
	}
	if !resp.IsSelf {
		if resp.IsFollowing, err = h.follows.IsFollowing(ctx, caller.User.ID, user.ID); err != nil {
			h.fail(c, err, "check follow")
			return
		}
	}

	h.show(c, http.StatusOK, View{Name: "user", Title: user.Username, Data: resp})
}

func (h *Handler) follow(c *gin.Context) {
	h.changeFollow(c, "follow")
}

func (h *Handler) unfollow(c *gin.Context) {
	h.changeFollow(c, "unfollow")
}

func (h *Handler) changeFollow(c *gin.Context, action string) {
	ctx := c.Request.Context()
	caller := session.CallerFrom(c)
	username := c.Param("username")

	target, err := h.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			h.redirectWithFlash(c, "/index", fmt.Sprintf("User %s not found.", username))
			return
		}
		h.fail(c, err, "load user")
		return
	}

	profile := "/user/" + url.PathEscape(target.Username)
	if action == "follow" {
		err = h.follows.Follow(ctx, caller.User.ID, target.ID)
	} else {
		err = h.follows.Unfollow(ctx, caller.User.ID, target.ID)
	}
	if err != nil {
		if errors.Is(err, service.ErrSelfFollow) {
			h.redirectWithFlash(c, profile, fmt.Sprintf("You cannot %s yourself!", action))
			return
		}
		h.fail(c, err, action)
		return
	}

	h.metrics.FollowChanged(action)
	if action == "follow" {
		h.redirectWithFlash(c, profile, fmt.Sprintf("You are now following %s!", target.Username))
		return
	}
	h.redirectWithFlash(c, profile, fmt.Sprintf("You are not following %s.", target.Username))
}

func (h *Handler) editProfileForm(c *gin.Context) {
	user := session.CallerFrom(c).User
	h.showEditProfile(c, http.StatusOK, *user, nil)
}

func (h *Handler) editProfile(c *gin.Context) {
	ctx := c.Request.Context()
	caller := session.CallerFrom(c)

	var f editProfileForm
	errs := bindForm(c, &f)
	if _, bad := errs["username"]; !bad && f.Username != caller.User.Username {
		ok, err := h.users.UsernameAvailable(ctx, f.Username)
		if err != nil {
			h.fail(c, err, "check username")
			return
		}
		if !ok {
			errs = addFieldError(errs, "username", "Please use a different username.")
		}
	}

	if errs == nil {
		_, err := h.users.UpdateProfile(ctx, caller.User.ID, f.Username, f.AboutMe)
		switch {
		case err == nil:
			h.redirectWithFlash(c, "/edit_profile", "Your changes have been saved.")
			return
		case errors.Is(err, service.ErrUsernameTaken):
			errs = addFieldError(errs, "username", "Please use a different username.")
		default:
			h.fail(c, err, "update profile")
			return
		}
	}

	h.showEditProfile(c, http.StatusBadRequest, domain.User{Username: f.Username, AboutMe: f.AboutMe}, errs)
}

func (h *Handler) showEditProfile(c *gin.Context, status int, values domain.User, errs map[string][]string) {
	h.show(c, status, View{
		Name:   "edit_profile",
		Title:  "Edit Profile",
		Form:   map[string]string{"username": values.Username, "about_me": values.AboutMe},
		Errors: errs,
	})
}
