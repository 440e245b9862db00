package graph

import (
	"net/http"

	"opsbridge.org/internal/dispatch"
	"opsbridge.org/internal/errs"
)

// SendMail submits a message from the configured mailbox. Graph answers 202.
const SendMail dispatch.Action = "sendMail"

// Message is the caller-facing mail request.
type Message struct {
	To      []string
	Cc      []string
	Subject string
	HTML    string
	Text    string
	ReplyTo string
}

// MessageFromPayload reads {to, cc, subject, html|text, replyTo}; to and cc
// may be a string or a list.
func MessageFromPayload(p dispatch.Payload) Message {
	return Message{
		To:      addresses(p["to"]),
		Cc:      addresses(p["cc"]),
		Subject: p.String("subject"),
		HTML:    p.String("html"),
		Text:    p.String("text"),
		ReplyTo: p.String("replyTo"),
	}
}

// Validate requires a recipient, a subject and a body.
func (m Message) Validate() error {
	if len(m.To) == 0 || m.Subject == "" || (m.HTML == "" && m.Text == "") {
		return errs.Validation("missing required fields: to, subject, html or text")
	}
	return nil
}

// Payload renders m in the shape MessageFromPayload reads.
func (m Message) Payload() dispatch.Payload {
	p := dispatch.Payload{"subject": m.Subject}
	p["to"] = toAny(m.To)
	if len(m.Cc) > 0 {
		p["cc"] = toAny(m.Cc)
	}
	if m.HTML != "" {
		p["html"] = m.HTML
	}
	if m.Text != "" {
		p["text"] = m.Text
	}
	if m.ReplyTo != "" {
		p["replyTo"] = m.ReplyTo
	}
	return p
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type itemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type outgoing struct {
	Subject      string      `json:"subject"`
	Body         itemBody    `json:"body"`
	ToRecipients []recipient `json:"toRecipients"`
	CcRecipients []recipient `json:"ccRecipients,omitempty"`
	ReplyTo      []recipient `json:"replyTo,omitempty"`
	From         recipient   `json:"from"`
}

type sendMailRequest struct {
	Message         outgoing `json:"message"`
	SaveToSentItems bool     `json:"saveToSentItems"`
}

// MailCatalog returns the mail action for mailbox.
func MailCatalog(mailbox string) dispatch.Catalog {
	return dispatch.Catalog{
		SendMail: {
			Method:  http.MethodPost,
			Timeout: dispatch.ReadTimeout,
			Build: func(p dispatch.Payload) (dispatch.Call, error) {
				m := MessageFromPayload(p)
				if err := m.Validate(); err != nil {
					return dispatch.Call{}, err
				}
				return dispatch.JSONCall("", userPath(mailbox, "sendMail"), sendMailRequest{
					Message:         m.outgoing(mailbox),
					SaveToSentItems: true,
				})
			},
		},
	}
}

func (m Message) outgoing(mailbox string) outgoing {
	body := itemBody{ContentType: "Text", Content: m.Text}
	if m.HTML != "" {
		body = itemBody{ContentType: "HTML", Content: m.HTML}
	}
	out := outgoing{
		Subject:      m.Subject,
		Body:         body,
		ToRecipients: recipients(m.To),
		CcRecipients: recipients(m.Cc),
		From:         recipient{EmailAddress: emailAddress{Address: mailbox}},
	}
	if m.ReplyTo != "" {
		out.ReplyTo = recipients([]string{m.ReplyTo})
	}
	return out
}

func recipients(addrs []string) []recipient {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]recipient, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, recipient{EmailAddress: emailAddress{Address: a}})
	}
	return out
}

func addresses(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []string:
		return t
	case []any:
		var out []string
		for _, item := range t {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
