package core

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

// HotLeadEvent describes a lead that just qualified as HOT.
type HotLeadEvent struct {
	LeadID         string
	ConversationID string
	TenantID       string
	Score          int
	Fields         LeadFields
}

// Notifier tells the team about a HOT lead. Callers treat failures as
// best-effort.
type Notifier interface {
	NotifyHotLead(ctx context.Context, event HotLeadEvent) error
}

// NopNotifier only logs. It is used when SMTP is not configured.
type NopNotifier struct{}

func (NopNotifier) NotifyHotLead(_ context.Context, event HotLeadEvent) error {
	logrus.WithFields(logrus.Fields{
		"lead_id": event.LeadID,
		"score":   event.Score,
	}).Info("HOT lead qualified (email notifications disabled)")
	return nil
}

type EmailOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

type EmailNotifier struct {
	sender mailSender
	from   string
	to     string
}

func NewEmailNotifier(opts EmailOptions) *EmailNotifier {
	return &EmailNotifier{
		sender: gomail.NewDialer(opts.Host, opts.Port, opts.Username, opts.Password),
		from:   opts.From,
		to:     opts.To,
	}
}

var hotLeadTemplate = template.Must(template.New("hot_lead").Parse(`<h2>New HOT lead: {{.Title}}</h2>
<p>Score: <strong>{{.Score}}</strong></p>
<ul>
{{if .Fields.ContactName}}<li>Contact: {{.Fields.ContactName}}</li>{{end}}
{{if .Fields.Email}}<li>Email: {{.Fields.Email}}</li>{{end}}
{{if .Fields.Phone}}<li>Phone: {{.Fields.Phone}}</li>{{end}}
{{if .Fields.Category}}<li>Category: {{.Fields.Category}}</li>{{end}}
{{if .Fields.Location}}<li>Location: {{.Fields.Location}}</li>{{end}}
{{if .Fields.Website}}<li>Website: {{.Fields.Website}}</li>{{end}}
{{if .Fields.IntentTiming}}<li>Timing: {{.Fields.IntentTiming}}</li>{{end}}
</ul>
<p>Lead {{.LeadID}}{{if .ConversationID}}, conversation {{.ConversationID}}{{end}}</p>`))

// NotifyHotLead emails the configured recipient. It gives up when ctx is
// done, though the SMTP exchange itself may still finish in the background.
func (n *EmailNotifier) NotifyHotLead(ctx context.Context, event HotLeadEvent) error {
	title := event.Fields.BusinessName
	if title == "" {
		title = event.Fields.ContactName
	}
	if title == "" {
		title = event.LeadID
	}

	var body bytes.Buffer
	data := struct {
		HotLeadEvent
		Title string
	}{event, title}
	if err := hotLeadTemplate.Execute(&body, data); err != nil {
		return fmt.Errorf("failed to render hot lead email: %w", err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", n.to)
	m.SetHeader("Subject", fmt.Sprintf("HOT lead (%d): %s", event.Score, title))
	m.SetBody("text/html", body.String())

	errChan := make(chan error, 1)
	go func() {
		errChan <- n.sender.DialAndSend(m)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("error sending hot lead email: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("hot lead email timed out: %w", ctx.Err())
	}
}
