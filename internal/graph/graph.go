// Package graph catalogues the document-library, calendar/contacts and mail
// actions of the Microsoft Graph API. All three share one client-credentials
// token through a token.Registry.
package graph

import (
	"net/url"
	"strings"

	"go.uber.org/zap"

	"opsbridge.org/internal/config"
	"opsbridge.org/internal/dispatch"
	"opsbridge.org/internal/errs"
	"opsbridge.org/internal/remote"
	"opsbridge.org/internal/token"
)

// API labels used in logs, metrics and upstream errors.
const (
	APIDocuments = "sharepoint"
	APICalendar  = "graph"
	APIMail      = "email"
)

// Envelope reads Graph's {"error":{"code","message"}} shape.
var Envelope = dispatch.FieldEnvelope("error.message", "error.code")

// Client bundles the Graph dispatchers.
type Client struct {
	Documents *dispatch.Dispatcher
	Calendar  *dispatch.Dispatcher
	Mail      *dispatch.Dispatcher
}

// Options carries the collaborators shared by every Graph dispatcher.
type Options struct {
	Tokens *token.Registry
	Caller remote.Caller
	Logger *zap.SugaredLogger
}

// Credentials converts configuration into a token credential set.
func Credentials(cfg config.Graph) token.CredentialSet {
	return token.CredentialSet{
		TenantID:     cfg.TenantID,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scope:        cfg.Scope,
	}
}

// New wires the three Graph dispatchers over one credential set.
func New(cfg config.Graph, opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	auth := dispatch.BearerAuth{Tokens: opts.Tokens.For(Credentials(cfg))}
	mk := func(api string, catalog dispatch.Catalog, check func() error) *dispatch.Dispatcher {
		return dispatch.New(dispatch.Config{
			API:      api,
			BaseURL:  cfg.BaseURL,
			Catalog:  catalog,
			Auth:     auth,
			Envelope: Envelope,
			Check:    check,
			Caller:   opts.Caller,
			Logger:   opts.Logger.Named(api),
		})
	}
	return &Client{
		Documents: mk(APIDocuments, DocumentCatalog(cfg.SiteURL, nil), cfg.RequireSite),
		Calendar:  mk(APICalendar, CalendarCatalog(cfg.MailFrom), cfg.RequireMailbox),
		Mail:      mk(APIMail, MailCatalog(cfg.MailFrom), cfg.RequireMailbox),
	}
}

// SitePath turns a site URL such as https://contoso.sharepoint.com/sites/Ops
// into the Graph site-by-path address /v1.0/sites/contoso.sharepoint.com:/sites/Ops.
func SitePath(siteURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(siteURL))
	if err != nil || u.Host == "" {
		return "", errs.Mark(errs.Newf("graph.site_url %q is not an absolute URL", siteURL), errs.ErrConfiguration)
	}
	rel := dispatch.SplitPath(u.Path)
	if rel == "" {
		return dispatch.Segments("v1.0", "sites", u.Host), nil
	}
	return dispatch.Segments("v1.0", "sites", u.Host) + ":/" + rel, nil
}

func userPath(mailbox string, rest ...string) string {
	return dispatch.Segments(append([]string{"v1.0", "users", mailbox}, rest...)...)
}
