package reminder

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Job statuses that never receive reminders.
const (
	StatusDraft     = "Draft"
	StatusCancelled = "Cancelled"
	StatusCompleted = "Completed"
)

// Slug is a required-document key in a job's checklist.
type Slug string

const (
	SlugPackingList   Slug = "packing-list"
	SlugInsurance     Slug = "insurance"
	SlugSurveyReport  Slug = "survey-report"
	SlugDeliveryOrder Slug = "delivery-order"
)

// RequiredSlugs is the closed document list shared with the operations app,
// in display order.
var RequiredSlugs = []Slug{SlugPackingList, SlugInsurance, SlugSurveyReport, SlugDeliveryOrder}

var slugLabels = map[Slug]string{
	SlugPackingList:   "Packing List / Inventory",
	SlugInsurance:     "Insurance Certificate",
	SlugSurveyReport:  "Survey Report",
	SlugDeliveryOrder: "Delivery Order / Instructions",
}

// Label returns the display name of s.
func (s Slug) Label() string {
	if l, ok := slugLabels[s]; ok {
		return l
	}
	return string(s)
}

// JobRecord is the subset of a client job the engine reads.
type JobRecord struct {
	ID           Ref            `json:"id"`
	StartDate    string         `json:"startDate"`
	Status       string         `json:"status"`
	MoveManager  string         `json:"moveManager"`
	DocChecklist map[string]any `json:"docChecklist"`
	ClientName   string         `json:"clientName"`
	PartnerRef   Ref            `json:"partnerRef"`
	ClientRef    Ref            `json:"clientRef"`
	MasterJobID  Ref            `json:"masterJobId"`
	FolderURL    string         `json:"spFolderUrl"`
}

// Ref is an identifier the operations app may store as a string or a number.
// Numbers keep their JSON text. Other non-string values read as empty so an
// odd reference never hides the job.
type Ref string

func (r *Ref) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0:
		*r = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = Ref(s)
	case b[0] == '-' || (b[0] >= '0' && b[0] <= '9'):
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		*r = Ref(n.String())
	default:
		*r = ""
	}
	return nil
}

func (r Ref) String() string { return string(r) }

// ContactRecord maps a move manager's name to an address.
type ContactRecord struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Missing lists required slugs that are absent, empty, zero, false or marked
// "missing".
func (j JobRecord) Missing() []Slug {
	var out []Slug
	for _, s := range RequiredSlugs {
		if !present(j.DocChecklist[string(s)]) {
			out = append(out, s)
		}
	}
	return out
}

func present(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != "" && t != "missing"
	case bool:
		return t
	case float64:
		return t != 0
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	default:
		return true
	}
}

// Skippable reports jobs that never get reminders.
func (j JobRecord) Skippable() bool {
	switch j.Status {
	case StatusDraft, StatusCancelled, StatusCompleted:
		return true
	}
	return strings.TrimSpace(j.MoveManager) == "" || strings.TrimSpace(j.StartDate) == ""
}

// StartsAt returns noon on the start date in loc. Values carrying a time
// component are reduced to their date.
func (j JobRecord) StartsAt(loc *time.Location) (time.Time, error) {
	date := strings.TrimSpace(j.StartDate)
	if len(date) > 10 {
		date = date[:10]
	}
	d, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return time.Time{}, err
	}
	return d.Add(12 * time.Hour), nil
}

// PartnerReference prefers partnerRef, then clientRef.
func (j JobRecord) PartnerReference() string {
	return firstNonEmpty(string(j.PartnerRef), string(j.ClientRef))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
