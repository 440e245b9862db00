package reminder

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"strings"

	"opsbridge.org/internal/dispatch"
	"opsbridge.org/internal/errs"
	"opsbridge.org/internal/graph"
	"opsbridge.org/internal/remote"
)

//go:embed templates/reminder.html
var templateFS embed.FS

var reminderTemplate = template.Must(template.ParseFS(templateFS, "templates/reminder.html"))

const placeholder = "—"

// Dispatcher is the slice of dispatch.Dispatcher the mail sender needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, action dispatch.Action, payload dispatch.Payload) (remote.Result, error)
}

// MailSender delivers reminders through the Graph mail dispatcher.
type MailSender struct {
	Mail Dispatcher
}

// SendReminder renders d and submits it as sendMail.
func (s MailSender) SendReminder(ctx context.Context, d Decision) error {
	msg, err := Compose(d)
	if err != nil {
		return err
	}
	_, err = s.Mail.Dispatch(ctx, graph.SendMail, msg.Payload())
	return err
}

type view struct {
	Greeting   string
	ClientName string
	Label      string
	StartDate  string
	Missing    []string
	PartnerRef string
	OurRef     string
	FolderURL  string
}

// Compose builds the reminder message for d.
func Compose(d Decision) (graph.Message, error) {
	partner := orPlaceholder(d.Job.PartnerReference())
	ours := orPlaceholder(firstNonEmpty(string(d.Job.MasterJobID), string(d.Job.ID)))
	client := orPlaceholder(d.Job.ClientName)

	v := view{
		Greeting:   greeting(d.Recipient),
		ClientName: client,
		Label:      d.Threshold.Label,
		StartDate:  d.StartsAt.Format("Monday 2 January 2006"),
		Missing:    d.MissingLabels(),
		PartnerRef: partner,
		OurRef:     ours,
		FolderURL:  d.Job.FolderURL,
	}
	var buf bytes.Buffer
	if err := reminderTemplate.Execute(&buf, v); err != nil {
		return graph.Message{}, errs.Wrap(err, "render reminder")
	}
	return graph.Message{
		To:      []string{d.Recipient},
		Subject: fmt.Sprintf("Action Required — Missing Documents: %s / %s — %s", partner, ours, client),
		HTML:    buf.String(),
	}, nil
}

func greeting(addr string) string {
	local, _, _ := strings.Cut(addr, "@")
	if local == "" {
		return "colleague"
	}
	return local
}

func orPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return placeholder
	}
	return s
}
