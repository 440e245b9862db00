package main

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"opsbridge.org/internal/assistant"
	"opsbridge.org/internal/config"
	"opsbridge.org/internal/dispatch"
	"opsbridge.org/internal/errs"
	"opsbridge.org/internal/graph"
	"opsbridge.org/internal/httpapi"
	"opsbridge.org/internal/obs"
	"opsbridge.org/internal/reminder"
	"opsbridge.org/internal/remote"
	"opsbridge.org/internal/store"
	"opsbridge.org/internal/store/pg"
	"opsbridge.org/internal/tasks"
	"opsbridge.org/internal/token"
	"opsbridge.org/internal/twilio"
)

// app holds every long-lived collaborator built from configuration.
type app struct {
	cfg    *config.Config
	log    *zap.SugaredLogger
	tokens *token.Registry
	graph  *graph.Client

	twilio    *dispatch.Dispatcher
	tasks     *dispatch.Dispatcher
	assistant *dispatch.Dispatcher

	data     store.Store
	db       *sql.DB
	closers  []func() error
	reminder *reminder.Engine
}

func newApp(cfg *config.Config) (*app, error) {
	log := obs.Logger()
	caller := remote.NewHTTPCaller(nil)
	tokens := token.NewRegistry(token.Config{
		TokenURL: cfg.Graph.TokenURL,
		Caller:   caller,
		Logger:   obs.Named("token"),
	})

	a := &app{cfg: cfg, log: log, tokens: tokens}
	a.graph = graph.New(cfg.Graph, graph.Options{Tokens: tokens, Caller: caller, Logger: obs.Named("graph")})
	a.twilio = twilio.New(cfg.Twilio, caller, obs.Named("twilio"))
	a.tasks = tasks.New(cfg.Tasks, caller, obs.Named("tasks"))
	a.assistant = assistant.New(cfg.Assistant, caller, obs.Named("assistant"))

	if cfg.Storage.DSN != "" {
		pgs, err := pg.Open(cfg.Storage.DSN)
		if err != nil {
			return nil, errs.Wrap(err, "open dataset store")
		}
		a.data, a.db = pgs, pgs.DB()
		a.closers = append(a.closers, pgs.Close)
	} else {
		log.Warnw("storage.dsn is empty, datasets are kept in memory")
		a.data = store.NewMemory()
	}

	a.reminder = reminder.New(reminder.Config{
		Datasets:      a.data,
		Sender:        reminder.MailSender{Mail: a.graph.Mail},
		JobsTable:     cfg.Storage.JobsTable,
		ContactsTable: cfg.Storage.ContactsTable,
		Preflight:     a.mailPreflight,
		Location:      cfg.Reminder.Location(),
		Logger:        obs.Named("reminder"),
	})
	return a, nil
}

// exposeProxies sets the proxy dispatchers of d for every API with at least
// one credential configured. The others stay nil and answer 503; a partly
// configured API is exposed and reports its missing keys.
func (a *app) exposeProxies(d *httpapi.Deps) {
	if a.cfg.Graph.Configured() {
		d.SharePoint = a.graph.Documents
		d.Graph = a.graph.Calendar
		d.Email = a.graph.Mail
	}
	if a.cfg.Twilio.Configured() {
		d.Twilio = a.twilio
	}
	if a.cfg.Tasks.Configured() {
		d.Tasks = a.tasks
	}
	if a.cfg.Assistant.Configured() {
		d.Assistant = a.assistant
	}
}

// mailPreflight fails the run before any dataset read when the mailbox is
// not configured or no token can be obtained.
func (a *app) mailPreflight(ctx context.Context) error {
	if err := a.cfg.Graph.RequireMailbox(); err != nil {
		return err
	}
	_, err := a.tokens.For(graph.Credentials(a.cfg.Graph)).GetToken(ctx)
	return err
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.log.Warnw("close failed", "error", err)
		}
	}
}
