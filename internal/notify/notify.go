package notify

import (
	"fmt"
	"html"
	"log"
	"strings"

	"gopkg.in/gomail.v2"
)

// Notifier delivers finished comments to the requesting contact. Delivery
// failures are logged and reported but never fail the pipeline: the comment
// is already generated and cached by the time we get here.
type Notifier interface {
	SendComment(to, subject, outlet, comment string) error
}

type emailNotifier struct {
	dialer *gomail.Dialer
	from   string
	logger *log.Logger
}

// NewEmailNotifier creates an SMTP-backed notifier.
func NewEmailNotifier(host string, port int, from, password string, logger *log.Logger) Notifier {
	if logger == nil {
		logger = log.New(log.Writer(), "[NOTIFY] ", log.LstdFlags)
	}
	return &emailNotifier{
		dialer: gomail.NewDialer(host, port, from, password),
		from:   from,
		logger: logger,
	}
}

func (n *emailNotifier) SendComment(to, subject, outlet, comment string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", fmt.Sprintf("Comment ready: %s for %s", subject, outlet))

	paragraphs := make([]string, 0, 4)
	for _, p := range strings.Split(comment, "\n\n") {
		paragraphs = append(paragraphs, "<p>"+html.EscapeString(p)+"</p>")
	}
	body := fmt.Sprintf(`
		<div style="font-family: Arial, sans-serif; padding: 20px; color: #333;">
			<h2>Your comment for %s is ready</h2>
			%s
			<p style="color: #888;">Generated for %s. Review before sending to the journalist.</p>
		</div>
	`, html.EscapeString(outlet), strings.Join(paragraphs, "\n"), html.EscapeString(subject))

	m.SetBody("text/html", body)

	if err := n.dialer.DialAndSend(m); err != nil {
		n.logger.Printf("failed to send comment to %s: %v", to, err)
		return err
	}

	n.logger.Printf("comment sent to %s", to)
	return nil
}

// NoopNotifier is used when notifications are disabled.
type NoopNotifier struct{}

func (NoopNotifier) SendComment(string, string, string, string) error { return nil }
