package graph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"opsbridge.org/internal/dispatch"
	"opsbridge.org/internal/errs"
	"opsbridge.org/internal/remote"
)

// Calendar and contact actions, all against the configured mailbox.
const (
	CreateCalendarEvent dispatch.Action = "createCalendarEvent"
	UpdateCalendarEvent dispatch.Action = "updateCalendarEvent"
	DeleteCalendarEvent dispatch.Action = "deleteCalendarEvent"
	UpsertContact       dispatch.Action = "upsertContact"
)

// CalendarCatalog returns the calendar/contacts actions for mailbox.
func CalendarCatalog(mailbox string) dispatch.Catalog {
	return dispatch.Catalog{
		CreateCalendarEvent: {
			Method:  http.MethodPost,
			Timeout: dispatch.ReadTimeout,
			Build: func(p dispatch.Payload) (dispatch.Call, error) {
				if len(p) == 0 {
					return dispatch.Call{}, errs.Validation("event payload is empty")
				}
				return dispatch.JSONCall("", userPath(mailbox, "events"), map[string]any(p))
			},
		},
		UpdateCalendarEvent: {
			Method:  http.MethodPatch,
			Timeout: dispatch.ReadTimeout,
			Build: func(p dispatch.Payload) (dispatch.Call, error) {
				if err := p.Require("eventId"); err != nil {
					return dispatch.Call{}, err
				}
				updates, err := p.RequireObject("updates")
				if err != nil {
					return dispatch.Call{}, err
				}
				return dispatch.JSONCall("", userPath(mailbox, "events", p.String("eventId")), updates)
			},
		},
		DeleteCalendarEvent: {
			Method:  http.MethodDelete,
			Timeout: dispatch.ReadTimeout,
			Build: func(p dispatch.Payload) (dispatch.Call, error) {
				if err := p.Require("eventId"); err != nil {
					return dispatch.Call{}, err
				}
				return dispatch.Call{Path: userPath(mailbox, "events", p.String("eventId"))}, nil
			},
		},
		UpsertContact: {
			Timeout:   dispatch.ReadTimeout,
			Composite: upsertContact(mailbox),
		},
	}
}

type contactBody struct {
	DisplayName    string         `json:"displayName"`
	EmailAddresses []emailAddress `json:"emailAddresses"`
	BusinessPhones []string       `json:"businessPhones"`
	CompanyName    string         `json:"companyName"`
	PersonalNotes  string         `json:"personalNotes"`
}

type emailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// upsertContact looks the contact up by exact address, then updates the
// first match or creates a new one. The two steps are not atomic: identical
// concurrent requests can both miss the lookup and create duplicates.
func upsertContact(mailbox string) dispatch.CompositeFunc {
	return func(ctx context.Context, d *dispatch.Dispatcher, p dispatch.Payload) (remote.Result, error) {
		if err := p.Require("email"); err != nil {
			return remote.Result{}, err
		}
		email := p.String("email")
		filter := "emailAddresses/any(e:e/address eq '" + strings.ReplaceAll(email, "'", "''") + "')"

		found, err := d.Do(ctx, UpsertContact, dispatch.Call{
			Method:   http.MethodGet,
			Path:     userPath(mailbox, "contacts"),
			RawQuery: "$filter=" + queryEscape(filter) + "&$top=1",
			Timeout:  dispatch.ReadTimeout,
		})
		if err != nil {
			return remote.Result{}, err
		}
		var existing struct {
			Value []struct {
				ID string `json:"id"`
			} `json:"value"`
		}
		_ = json.Unmarshal(found.Body, &existing)

		body := contactBody{
			DisplayName:    p.String("displayName"),
			EmailAddresses: []emailAddress{{Address: email, Name: p.String("displayName")}},
			BusinessPhones: []string{},
			CompanyName:    p.String("company"),
			PersonalNotes:  p.String("notes"),
		}
		if phone := p.String("phone"); phone != "" {
			body.BusinessPhones = []string{phone}
		}

		method, path := http.MethodPost, userPath(mailbox, "contacts")
		if len(existing.Value) > 0 && existing.Value[0].ID != "" {
			method, path = http.MethodPatch, userPath(mailbox, "contacts", existing.Value[0].ID)
		}
		call, err := dispatch.JSONCall(method, path, body)
		if err != nil {
			return remote.Result{}, err
		}
		call.Timeout = dispatch.ReadTimeout
		return d.Do(ctx, UpsertContact, call)
	}
}

func queryEscape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
