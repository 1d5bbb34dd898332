package mail

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"microblog/internal/domain"
)

// ResetMailer turns password reset requests into queued emails.
type ResetMailer struct {
	dispatcher Dispatcher
	from       string
	baseURL    string
}

func NewResetMailer(dispatcher Dispatcher, from, baseURL string) *ResetMailer {
	return &ResetMailer{
		dispatcher: dispatcher,
		from:       from,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

func (m *ResetMailer) NotifyPasswordReset(ctx context.Context, user domain.User, token string) error {
	link := m.baseURL + "/reset_password/" + url.PathEscape(token)
	body := fmt.Sprintf(`Dear %s,

To reset your password click on the following link:

%s

If you have not requested a password reset simply ignore this message.
`, user.Username, link)

	return m.dispatcher.Enqueue(ctx, Message{
		From:    m.from,
		To:      []string{user.Email},
		Subject: "[Microblog] Reset Your Password",
		Body:    body,
	})
}
