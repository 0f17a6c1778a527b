// Package clients holds the outbound integrations jobs deliver through:
// SMTP email, chat webhooks, and the spreadsheet service. Each client
// implements delivery.Sender for its target kind.
package clients

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/luminabi/lumina/delivery"
	"github.com/luminabi/lumina/errors"
	"github.com/luminabi/lumina/schedule"
)

// EmailConfig configures the SMTP client.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	SiteURL  string
}

// EmailClient delivers artifacts over SMTP, as an HTML message with the
// artifact attached or linked depending on the target's options.
type EmailClient struct {
	config EmailConfig
	logger *zap.SugaredLogger

	// send is swappable for tests; defaults to smtp.SendMail.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailClient creates an SMTP email client.
func NewEmailClient(cfg EmailConfig, log *zap.SugaredLogger) *EmailClient {
	return &EmailClient{config: cfg, logger: log, send: smtp.SendMail}
}

// Kind implements delivery.Sender.
func (c *EmailClient) Kind() schedule.TargetKind { return schedule.TargetEmail }

// Send delivers the artifact to the target's recipients.
func (c *EmailClient) Send(ctx context.Context, target schedule.Target, artifact *delivery.Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if target.Email == nil || len(target.Email.Recipients) == 0 {
		return errors.NewConfiguration("email target %s has no recipients", target.ID)
	}
	if c.config.Host == "" {
		return errors.NewConfiguration("SMTP host is not configured")
	}

	msg, err := c.buildMessage(target, artifact)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", c.config.Host, c.config.Port)
	var auth smtp.Auth
	if c.config.Username != "" {
		auth = smtp.PlainAuth("", c.config.Username, c.config.Password, c.config.Host)
	}

	start := time.Now()
	if err := c.send(addr, auth, c.config.From, target.Email.Recipients, msg); err != nil {
		return errors.Transient(err, fmt.Sprintf("failed to send email to %d recipients", len(target.Email.Recipients)))
	}

	c.logger.Infow("Email sent",
		"target_id", target.ID,
		"recipients", len(target.Email.Recipients),
		"attached", target.Email.AttachFile,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// buildMessage assembles a multipart MIME message: an HTML body, plus the
// artifact as an attachment when the target asks for one.
func (c *EmailClient) buildMessage(target schedule.Target, artifact *delivery.Artifact) ([]byte, error) {
	var buf bytes.Buffer
	boundary := "lumina-mime-boundary"

	fmt.Fprintf(&buf, "From: %s\r\n", c.config.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(target.Email.Recipients, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", artifact.Title))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n", boundary)
	buf.WriteString("\r\n")

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	buf.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	c.writeHTMLBody(&buf, target, artifact)
	buf.WriteString("\r\n")

	if target.Email.AttachFile && len(artifact.Data) > 0 {
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		fmt.Fprintf(&buf, "Content-Type: %s\r\n", artifact.ContentType)
		buf.WriteString("Content-Transfer-Encoding: base64\r\n")
		fmt.Fprintf(&buf, "Content-Disposition: attachment; filename=%q\r\n\r\n", artifact.Filename)

		encoded := base64.StdEncoding.EncodeToString(artifact.Data)
		// RFC 2045 line length limit.
		for len(encoded) > 76 {
			buf.WriteString(encoded[:76])
			buf.WriteString("\r\n")
			encoded = encoded[76:]
		}
		buf.WriteString(encoded)
		buf.WriteString("\r\n")
	}

	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes(), nil
}

func (c *EmailClient) writeHTMLBody(buf *bytes.Buffer, target schedule.Target, artifact *delivery.Artifact) {
	fmt.Fprintf(buf, "<h2>%s</h2>", artifact.Title)
	if artifact.Description != "" {
		fmt.Fprintf(buf, "<p>%s</p>", artifact.Description)
	}
	if target.Email.IncludeLink && artifact.URL != "" {
		fmt.Fprintf(buf, `<p><a href=%q>Open in Lumina</a></p>`, artifact.URL)
	}
	if !target.Email.AttachFile && artifact.URL != "" {
		fmt.Fprintf(buf, `<p>The latest results are available at <a href=%q>%s</a>.</p>`, artifact.URL, artifact.Filename)
	}
}
