package auth

const (
	PermDispatch     = "proxy.dispatch"
	PermDataRead     = "data.read"
	PermDataWrite    = "data.write"
	PermRemindersRun = "reminders.run"
)

// roleGrants maps built-in roles to the permissions they carry.
var roleGrants = map[string][]string{
	"admin":    {PermDispatch, PermDataRead, PermDataWrite, PermRemindersRun},
	"operator": {PermDispatch, PermDataRead, PermDataWrite},
	"viewer":   {PermDataRead},
}
