package email

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ses"
)

const successTemplate = `
<h2 style="color: green;">Task Completed</h2>
<p>The task with ID <strong>%s</strong> has been completed successfully.</p>
<ul>%s</ul>
%s
<p>Download links expire in 72 hours.</p>
<p>Thank you for using Tasknode.</p>
`

const failureTemplate = `
<h2 style="color: red;">Task Failed</h2>
<p>Unfortunately, the task with ID <strong>%s</strong> has failed.</p>
%s
<p>Please check the logs for more details and try again.</p>
<p>Contact support if the issue persists.</p>
`

// GeneratedFile is one manifest entry listed in the completion email.
type GeneratedFile struct {
	Name string
	Size int64
}

// Link is a named signed download link included in a notification.
type Link struct {
	Name string
	URL  string
}

// Config holds SES notifier configuration
type Config struct {
	Region string
	Sender string
}

// Notifier sends job lifecycle emails through SES.
type Notifier struct {
	ses    *ses.SES
	config *Config
	logger *slog.Logger
}

// NewNotifier creates a new SES notifier.
func NewNotifier(config *Config, logger *slog.Logger) (*Notifier, error) {
	sess, err := session.NewSession(aws.NewConfig().WithRegion(config.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &Notifier{
		ses:    ses.New(sess),
		config: config,
		logger: logger,
	}, nil
}

// JobCompleted sends the success notification with the generated file list
// and signed download links.
func (n *Notifier) JobCompleted(ctx context.Context, to, jobID string, files []GeneratedFile, links []Link) error {
	var fileList strings.Builder
	for _, f := range files {
		fmt.Fprintf(&fileList, "<li>%s (%s)</li>\n", f.Name, FormatFileSize(f.Size))
	}

	body := fmt.Sprintf(successTemplate, jobID, fileList.String(), renderLinks(links))
	return n.send(ctx, to, "Tasknode task completed", body)
}

// JobFailed sends the failure notification with whatever log links exist.
func (n *Notifier) JobFailed(ctx context.Context, to, jobID string, links []Link) error {
	body := fmt.Sprintf(failureTemplate, jobID, renderLinks(links))
	return n.send(ctx, to, "Tasknode task failed", body)
}

func (n *Notifier) send(ctx context.Context, to, subject, html string) error {
	_, err := n.ses.SendEmailWithContext(ctx, &ses.SendEmailInput{
		Source: aws.String(n.config.Sender),
		Destination: &ses.Destination{
			ToAddresses: []*string{aws.String(to)},
		},
		Message: &ses.Message{
			Subject: &ses.Content{Data: aws.String(subject)},
			Body: &ses.Body{
				Html: &ses.Content{Data: aws.String(html)},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	n.logger.Info("Notification email sent",
		slog.String("to", to),
		slog.String("subject", subject),
	)

	return nil
}

func renderLinks(links []Link) string {
	if len(links) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("<p>")
	for i, l := range links {
		if i > 0 {
			b.WriteString(" | ")
		}
		fmt.Fprintf(&b, `<a href=%q>%s</a>`, l.URL, l.Name)
	}
	b.WriteString("</p>")
	return b.String()
}

// FormatFileSize renders a byte count as a human-readable size.
func FormatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}

	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
