package reminder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsbridge.org/internal/dispatch"
	"opsbridge.org/internal/errs"
	"opsbridge.org/internal/graph"
	"opsbridge.org/internal/remote"
)

type fakeMail struct {
	action  dispatch.Action
	payload dispatch.Payload
	err     error
}

func (f *fakeMail) Dispatch(_ context.Context, action dispatch.Action, payload dispatch.Payload) (remote.Result, error) {
	f.action, f.payload = action, payload
	if f.err != nil {
		return remote.Result{}, f.err
	}
	return remote.Result{Status: 202}, nil
}

func decision() Decision {
	return Decision{
		JobID:     "j7",
		Threshold: Threshold{Days: 7, Label: "7 days"},
		Missing:   []Slug{SlugInsurance, SlugDeliveryOrder},
		Recipient: "alice.smith@example.com",
		StartsAt:  time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC),
		Job: JobRecord{
			ID:          "j7",
			ClientName:  "Acme <Ltd>",
			PartnerRef:  "P-100",
			MasterJobID: "OW-42",
			FolderURL:   "https://contoso.sharepoint.com/sites/ops/Jobs/OW-42",
		},
	}
}

func TestComposeRendersReminder(t *testing.T) {
	msg, err := Compose(decision())
	require.NoError(t, err)

	assert.Equal(t, []string{"alice.smith@example.com"}, msg.To)
	assert.Equal(t, "Action Required — Missing Documents: P-100 / OW-42 — Acme <Ltd>", msg.Subject)
	assert.Contains(t, msg.HTML, "Dear alice.smith,")
	assert.Contains(t, msg.HTML, "Monday 6 May 2024")
	assert.Contains(t, msg.HTML, "<li>Insurance Certificate</li>")
	assert.Contains(t, msg.HTML, "<li>Delivery Order / Instructions</li>")
	assert.Contains(t, msg.HTML, "Acme &lt;Ltd&gt;")
	assert.Contains(t, msg.HTML, `href="https://contoso.sharepoint.com/sites/ops/Jobs/OW-42"`)
	assert.NoError(t, msg.Validate())
}

func TestComposeFallsBackToPlaceholders(t *testing.T) {
	d := decision()
	d.Job = JobRecord{ClientRef: "C-9"}
	msg, err := Compose(d)
	require.NoError(t, err)
	assert.Equal(t, "Action Required — Missing Documents: C-9 / — — —", msg.Subject)
	assert.NotContains(t, msg.HTML, "job folder")
}

func TestMailSenderDispatchesSendMail(t *testing.T) {
	mail := &fakeMail{}
	require.NoError(t, MailSender{Mail: mail}.SendReminder(context.Background(), decision()))

	assert.Equal(t, graph.SendMail, mail.action)
	m := graph.MessageFromPayload(mail.payload)
	assert.Equal(t, []string{"alice.smith@example.com"}, m.To)
	assert.Contains(t, m.HTML, "Insurance Certificate")
}

func TestMailSenderReturnsDispatchError(t *testing.T) {
	mail := &fakeMail{err: &errs.UpstreamError{API: "email", Action: "sendMail", Status: 403, Message: "Access denied"}}
	err := MailSender{Mail: mail}.SendReminder(context.Background(), decision())
	require.Error(t, err)
	assert.Equal(t, 403, errs.HTTPStatus(err))
}
