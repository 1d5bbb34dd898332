package http

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"microblog/internal/domain"
	"microblog/internal/session"
)

// View is everything a page needs: its name and title, the flashed messages,
// the current user, form errors and the page specific data.
type View struct {
	Name        string              `json:"view"`
	Title       string              `json:"title"`
	Flashes     []string            `json:"flashes,omitempty"`
	CurrentUser *UserResponse       `json:"current_user,omitempty"`
	Form        map[string]string   `json:"form,omitempty"`
	Errors      map[string][]string `json:"errors,omitempty"`
	Data        any                 `json:"data,omitempty"`
}

// Renderer writes a view to the response.
type Renderer interface {
	Render(c *gin.Context, status int, view View)
}

// JSONRenderer renders views as JSON documents.
type JSONRenderer struct{}

func (JSONRenderer) Render(c *gin.Context, status int, view View) {
	c.JSON(status, view)
}

// show attaches the session state to the view before rendering it.
func (h *Handler) show(c *gin.Context, status int, view View) {
	view.Flashes = h.gate.Flashes(c)
	if caller := session.CallerFrom(c); caller.Authenticated() {
		u := userToResponse(*caller.User)
		view.CurrentUser = &u
	}
	h.render.Render(c, status, view)
}

type UserResponse struct {
	ID       int64   `json:"id"`
	Username string  `json:"username"`
	AboutMe  string  `json:"about_me,omitempty"`
	LastSeen *string `json:"last_seen,omitempty"`
}

type PostResponse struct {
	ID        int64  `json:"id"`
	Author    string `json:"author"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
}

type FeedResponse struct {
	Posts   []PostResponse `json:"posts"`
	Page    int            `json:"page"`
	Total   int64          `json:"total"`
	NextURL string         `json:"next_url,omitempty"`
	PrevURL string         `json:"prev_url,omitempty"`
}

type ProfileResponse struct {
	User        UserResponse `json:"user"`
	Followers   int64        `json:"followers"`
	Following   int64        `json:"following"`
	IsSelf      bool         `json:"is_self"`
	IsFollowing bool         `json:"is_following"`
	Feed        FeedResponse `json:"feed"`
}

func userToResponse(user domain.User) UserResponse {
	resp := UserResponse{
		ID:       user.ID,
		Username: user.Username,
		AboutMe:  user.AboutMe,
	}
	if user.LastSeen != nil {
		v := user.LastSeen.UTC().Format(time.RFC3339)
		resp.LastSeen = &v
	}
	return resp
}

// feedToResponse renders a page of posts with links to its neighbours under
// the given path.
func feedToResponse(page domain.Page[domain.Post], path string) FeedResponse {
	resp := FeedResponse{
		Posts: make([]PostResponse, len(page.Items)),
		Page:  page.Number,
		Total: page.Total,
	}
	for i, p := range page.Items {
		resp.Posts[i] = PostResponse{
			ID:        p.ID,
			Author:    p.Author,
			Body:      p.Body,
			CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	if page.HasNext {
		resp.NextURL = fmt.Sprintf("%s?page=%d", path, page.NextNum)
	}
	if page.HasPrev {
		resp.PrevURL = fmt.Sprintf("%s?page=%d", path, page.PrevNum)
	}
	return resp
}
