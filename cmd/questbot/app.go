package main

import (
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/jmoiron/sqlx"

	"log/slog"

	"github.com/m3rciful/questbot/core/bootstrap"
	"github.com/m3rciful/questbot/core/logger"
	coretelegram "github.com/m3rciful/questbot/core/telegram"
	tghelpers "github.com/m3rciful/questbot/core/telegram/helpers"
	"github.com/m3rciful/questbot/quest"
	"github.com/m3rciful/questbot/quest/engine"
	"github.com/m3rciful/questbot/quest/outbox"
	"github.com/m3rciful/questbot/quest/render"
	"github.com/m3rciful/questbot/storage/postgres"

	tele "gopkg.in/telebot.v4"
)

// App owns the wired quest runtime. The engine and the outbox come alive in
// OnStart, once the bot transport exists; routes fire only after bot start,
// so they always observe a ready engine.
type App struct {
	cfg *Config
	db  *sqlx.DB

	graph    *postgres.Graph
	sessions *postgres.Sessions
	chats    *postgres.Chats
	renderer *render.Renderer

	queue  *outbox.Queue
	engine *engine.Engine
}

// NewApp runs the bootstrap pipeline and wires the storage layer.
func NewApp(cfg *Config) (*App, error) {
	res, err := bootstrap.Run(bootstrap.Options{
		Config:   cfg.CoreConfig(),
		Database: cfg.Database,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      cfg,
		db:       res.DB,
		graph:    postgres.NewGraph(res.DB),
		sessions: postgres.NewSessions(res.DB),
		chats:    postgres.NewChats(res.DB),
		renderer: render.New(templateFuncs()),
	}, nil
}

// TelegramRunOptions assembles the bot runtime options.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	cfg := a.cfg.CoreConfig()

	return coretelegram.RunOptions{
		Config:      cfg,
		Middlewares: coretelegram.DefaultMiddlewares(cfg, nil),
		Routes: []coretelegram.Route{
			{Endpoint: tele.OnText, Handler: a.handleUpdate},
			{Endpoint: tele.OnPhoto, Handler: a.handleUpdate},
			{Endpoint: tele.OnCallback, Handler: a.handleUpdate},
		},
		OnStart: func(ctx context.Context, bot *tele.Bot) error {
			a.queue = outbox.New(coretelegram.NewBotTransport(bot), outbox.Options{
				QueueSize:    cfg.Outbox.QueueSize,
				Workers:      cfg.Outbox.Workers,
				MaxRetries:   cfg.Outbox.MaxRetries,
				RetryBackoff: time.Duration(cfg.Outbox.RetryBackoffMS) * time.Millisecond,
				MaxDuration:  time.Duration(cfg.Outbox.MaxDurationMS) * time.Millisecond,
			})
			a.engine = engine.New(a.graph, a.sessions, a.chats, a.renderer, a.queue,
				quest.Evaluator{DateTimeFormat: cfg.Quest.DateTimeFormat})
			return nil
		},
		OnStop: func(ctx context.Context, bot *tele.Bot) error {
			if a.queue != nil {
				a.queue.Close()
			}
			if a.db != nil {
				return a.db.Close()
			}
			return nil
		},
	}, nil
}

func (a *App) handleUpdate(c tele.Context) error {
	eng := a.engine
	if eng == nil {
		return nil
	}

	upd, ok := coretelegram.QuestUpdate(c, a.cfg.Telegram.BotID)
	if !ok {
		return nil
	}

	ctx := tghelpers.BuildContext(c)
	if _, err := eng.Dispatch(ctx, upd); err != nil {
		logger.Error(ctx, "app", "dispatch.fail",
			slog.Int64("user_id", upd.Sender.ID),
			slog.String("action", string(upd.Action)),
			slog.String("err", err.Error()),
		)
	}

	// Acknowledge button presses so clients stop the loading spinner.
	if c.Callback() != nil {
		return c.Respond()
	}
	return nil
}

// templateFuncs is the helper library available inside response templates.
func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"title": func(s string) string {
			if s == "" {
				return s
			}
			return strings.ToUpper(s[:1]) + s[1:]
		},
		"now": func(layout string) string {
			if layout == "" {
				layout = quest.DefaultDateTimeFormat
			}
			return time.Now().Format(layout)
		},
		"printf": fmt.Sprintf,
	}
}
