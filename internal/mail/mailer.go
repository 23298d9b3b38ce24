// Package mail delivers the post-call outbound draft: over SMTP when a server
// is configured, otherwise as an .eml file in the outbox for a mail client
// to open.
package mail

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/gomail.v2"

	"github.com/joss/copilot/internal/config"
	"github.com/joss/copilot/internal/logging"
	"github.com/joss/copilot/internal/share"
)

const defaultFrom = "copilot@localhost"

// Draft is the outbound message assembled after a call. Write-once.
type Draft struct {
	ID             string            `json:"id"`
	To             string            `json:"to"`
	Subject        string            `json:"subject"`
	Body           string            `json:"body"`
	References     []share.Reference `json:"references"`
	CloneLink      string            `json:"clone_link,omitempty"`
	AttachmentPath string            `json:"attachment_path,omitempty"`
}

// Method is how a draft left the process.
type Method string

const (
	MethodSMTP   Method = "smtp"
	MethodOutbox Method = "outbox"
)

// Delivery describes a delivered draft.
type Delivery struct {
	Method Method `json:"method"`
	Path   string `json:"path,omitempty"`
}

// Composer is the message-composition collaborator.
type Composer interface {
	Deliver(ctx context.Context, d Draft) (Delivery, error)
}

// Mailer implements Composer with gomail.
type Mailer struct {
	cfg    config.MailConfig
	outbox string
	dialer *gomail.Dialer
	log    *logging.Logger
}

// New creates a mailer. Without cfg.Host every draft goes to outboxDir.
func New(cfg config.MailConfig, outboxDir string) *Mailer {
	m := &Mailer{
		cfg:    cfg,
		outbox: outboxDir,
		log:    logging.New("mail"),
	}
	if cfg.Host != "" {
		m.dialer = gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	}
	return m
}

func (m *Mailer) message(d Draft) *gomail.Message {
	from := m.cfg.From
	if from == "" {
		from = defaultFrom
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", from)
	if d.To != "" {
		msg.SetHeader("To", d.To)
	}
	msg.SetHeader("Subject", d.Subject)
	msg.SetHeader("X-Unsent", "1")
	msg.SetBody("text/plain", d.Body)
	if d.AttachmentPath != "" {
		if _, err := os.Stat(d.AttachmentPath); err == nil {
			msg.Attach(d.AttachmentPath)
		} else {
			m.log.Warn("attachment_missing", map[string]interface{}{"path": d.AttachmentPath}, err)
		}
	}
	return msg
}

// Deliver sends the draft, or writes it to the outbox when SMTP is not
// configured or the draft has no recipient.
func (m *Mailer) Deliver(ctx context.Context, d Draft) (Delivery, error) {
	if err := ctx.Err(); err != nil {
		return Delivery{}, err
	}
	msg := m.message(d)

	if m.dialer != nil && d.To != "" {
		msg.SetHeader("X-Unsent")
		if err := m.dialer.DialAndSend(msg); err != nil {
			return Delivery{}, fmt.Errorf("send draft to %s: %w", d.To, err)
		}
		m.log.Info("draft_sent", map[string]interface{}{"to": d.To, "refs": len(d.References)})
		return Delivery{Method: MethodSMTP}, nil
	}

	path, err := m.writeOutbox(d.ID, msg)
	if err != nil {
		return Delivery{}, err
	}
	m.log.Info("draft_saved", map[string]interface{}{"path": path, "refs": len(d.References)})
	return Delivery{Method: MethodOutbox, Path: path}, nil
}

func (m *Mailer) writeOutbox(id string, msg *gomail.Message) (string, error) {
	if err := os.MkdirAll(m.outbox, 0755); err != nil {
		return "", fmt.Errorf("create outbox: %w", err)
	}
	path := filepath.Join(m.outbox, id+".eml")

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create draft file: %w", err)
	}
	if _, err := msg.WriteTo(f); err != nil {
		f.Close()
		return "", fmt.Errorf("write draft: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close draft: %w", err)
	}
	return path, nil
}
