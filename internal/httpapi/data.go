package httpapi

import (
	"net/http"
	"strings"

	"opsbridge.org/internal/audit"
	"opsbridge.org/internal/auth"
	"opsbridge.org/internal/errs"
	"opsbridge.org/internal/store"
)

// handleData serves /api/data?table=T[&id=X]: GET lists, POST upserts by the
// body's id, DELETE removes id.
func (a *API) handleData(w http.ResponseWriter, r *http.Request) {
	if a.deps.Data == nil {
		writeError(w, r, http.StatusServiceUnavailable, "data store is not configured")
		return
	}
	switch r.Method {
	case http.MethodGet:
		if a.permitted(w, r, auth.PermDataRead) {
			a.listRecords(w, r)
		}
	case http.MethodPost:
		if a.permitted(w, r, auth.PermDataWrite) {
			a.upsertRecord(w, r)
		}
	case http.MethodDelete:
		if a.permitted(w, r, auth.PermDataWrite) {
			a.deleteRecord(w, r)
		}
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

func tableParam(r *http.Request) (string, error) {
	table := strings.TrimSpace(r.URL.Query().Get("table"))
	return table, store.ValidateTable(table)
}

func (a *API) listRecords(w http.ResponseWriter, r *http.Request) {
	table, err := tableParam(r)
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	recs, err := a.deps.Data.List(r.Context(), table)
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	if recs == nil {
		recs = []store.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (a *API) upsertRecord(w http.ResponseWriter, r *http.Request) {
	table, err := tableParam(r)
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	var item map[string]any
	if err := decodeBody(r, &item); err != nil {
		a.respondErr(w, r, err)
		return
	}
	rec, err := store.NewRecord(item)
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	if err := a.deps.Data.Upsert(r.Context(), table, rec); err != nil {
		a.respondErr(w, r, err)
		return
	}
	a.auditWrite(r, "data_upsert", table, rec.RowKey)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": rec.RowKey})
}

func (a *API) deleteRecord(w http.ResponseWriter, r *http.Request) {
	table, err := tableParam(r)
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		a.respondErr(w, r, errs.Validation("id required"))
		return
	}
	if err := a.deps.Data.Delete(r.Context(), table, id); err != nil {
		a.respondErr(w, r, err)
		return
	}
	a.auditWrite(r, "data_delete", table, id)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) auditWrite(r *http.Request, event, table, id string) {
	if err := audit.LogEvent(r.Context(), event, map[string]any{"table": table, "id": id}); err != nil {
		a.log.Warnw("audit write failed", "event", event, "error", err)
	}
}

// handleReminderRun runs the reminder engine immediately.
func (a *API) handleReminderRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.permitted(w, r, auth.PermRemindersRun) {
		return
	}
	if a.deps.Reminders == nil {
		writeError(w, r, http.StatusServiceUnavailable, "reminders are not configured")
		return
	}
	sent, err := a.deps.Reminders.Run(r.Context(), a.now())
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sent": sent})
}
