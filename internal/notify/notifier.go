package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	config "github.com/maheshrc27/postpilot/configs"
	"github.com/maheshrc27/postpilot/internal/models"
)

// Notifier delivers the "post is ready" message for notify-mode posts.
type Notifier interface {
	PostReady(ctx context.Context, email string, post *models.Post, publishLink string) error
}

type smtpNotifier struct {
	cfg config.SMTP
}

// NewNotifier returns the SMTP notifier, or a log-only fallback when SMTP is
// not configured so local setups still work end to end.
func NewNotifier(cfg config.SMTP) Notifier {
	if cfg.Host == "" {
		return &logNotifier{}
	}
	return &smtpNotifier{cfg: cfg}
}

func (n *smtpNotifier) PostReady(ctx context.Context, email string, post *models.Post, publishLink string) error {
	subject := "Your scheduled post is ready to publish"
	body := fmt.Sprintf(
		"Your post %q is ready.\r\n\r\nReview and publish it here:\r\n%s\r\n\r\nThis link expires in 7 days.\r\n",
		summarize(post.Caption), publishLink)

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", email)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%s", n.cfg.Host, n.cfg.Port)
	auth := smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)

	err := smtp.SendMail(addr, auth, n.cfg.From, []string{email}, []byte(msg.String()))
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func summarize(caption string) string {
	runes := []rune(caption)
	if len(runes) > 60 {
		return string(runes[:60]) + "..."
	}
	return caption
}

type logNotifier struct{}

func (n *logNotifier) PostReady(_ context.Context, email string, post *models.Post, publishLink string) error {
	slog.Info(fmt.Sprintf("post %d ready for %s: %s", post.ID, email, publishLink))
	return nil
}
