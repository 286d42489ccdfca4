// Package telegram drives the bot conversation: the token hand-over state
// machine and the repository navigation keyboards.
package telegram

import (
	"context"
	"errors"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/callbackquery"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/message"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"gitrover/internal/github"
	"gitrover/internal/metrics"
	"gitrover/internal/queue"
	"gitrover/internal/storage"
)

type Service struct {
	store       *storage.Store
	gh          *github.Client
	queue       *queue.StreamQueue
	rateLimiter *queue.RateLimiter
	sessions    *sessionStore
	logger      zerolog.Logger
	metrics     *metrics.Metrics

	maxReposDisplay  int
	backReposDisplay int
}

type Config struct {
	Store       *storage.Store
	GitHub      *github.Client
	Queue       *queue.StreamQueue
	RateLimiter *queue.RateLimiter
	Sessions    SessionConfig
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics

	MaxReposDisplay  int
	BackReposDisplay int
}

type SessionConfig struct {
	Redis *redis.Client
	TTL   time.Duration
}

func NewService(cfg Config) *Service {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.Sessions.TTL <= 0 {
		cfg.Sessions.TTL = 24 * time.Hour
	}
	if cfg.MaxReposDisplay < 1 {
		cfg.MaxReposDisplay = 10
	}
	if cfg.BackReposDisplay < cfg.MaxReposDisplay {
		cfg.BackReposDisplay = cfg.MaxReposDisplay
	}
	return &Service{
		store:            cfg.Store,
		gh:               cfg.GitHub,
		queue:            cfg.Queue,
		rateLimiter:      cfg.RateLimiter,
		sessions:         newSessionStore(cfg.Sessions.Redis, cfg.Sessions.TTL),
		logger:           cfg.Logger,
		metrics:          m,
		maxReposDisplay:  cfg.MaxReposDisplay,
		backReposDisplay: cfg.BackReposDisplay,
	}
}

func (s *Service) Register(d *ext.Dispatcher) {
	d.AddHandler(handlers.NewCommand("start", s.start))
	d.AddHandler(handlers.NewCommand("help", s.help))
	d.AddHandler(handlers.NewCommand("repos", s.repos))
	d.AddHandler(handlers.NewCommand("stats", s.stats))
	d.AddHandler(handlers.NewCommand("delete_data", s.deleteData))
	d.AddHandler(handlers.NewCommand("newfile", s.newFile))
	d.AddHandler(handlers.NewCommand("cancel", s.cancel))
	d.AddHandler(handlers.NewCallback(callbackquery.All, s.onCallback))
	d.AddHandler(handlers.NewMessage(func(msg *gotgbot.Message) bool {
		return message.Private(msg) && message.Text(msg)
	}, s.privateText))
}

// currentState resolves the user's conversation state. An expired or
// missing Redis record falls back to token presence, so a restart never
// strands a user who already handed over a token.
func (s *Service) currentState(ctx context.Context, userID int64) string {
	sess, err := s.sessions.Get(ctx, userID)
	if err != nil {
		s.logger.Warn().Err(err).Int64("user_id", userID).Msg("failed to load session")
	}
	if sess != nil && sess.State != "" {
		return sess.State
	}
	if _, err := s.store.GetToken(ctx, userID); err == nil {
		return StateBrowsing
	}
	return StateAwaitingToken
}

func (s *Service) setState(ctx context.Context, userID int64, state string) {
	if err := s.sessions.Set(ctx, userID, session{State: state}); err != nil {
		s.logger.Warn().Err(err).Int64("user_id", userID).Str("state", state).Msg("failed to persist session state")
	}
}

// audit enqueues one action-history entry. Best-effort by design: an
// enqueue failure is logged and counted, never returned.
func (s *Service) audit(userID int64, action, repoName, filePath string) {
	if s.queue == nil {
		return
	}
	_, err := s.queue.Enqueue(context.Background(), queue.ActionJob{
		UserID:   userID,
		Action:   action,
		RepoName: repoName,
		FilePath: filePath,
	})
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", userID).Str("action", action).Msg("failed to enqueue action")
		return
	}
	s.metrics.ActionsEnqueued.Inc()
}

// getToken loads the user's token, mapping both "no token" and storage
// failure onto absence for the caller; failures are logged distinctly.
func (s *Service) getToken(ctx context.Context, userID int64) (string, bool) {
	token, err := s.store.GetToken(ctx, userID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error().Err(err).Int64("user_id", userID).Msg("failed to load token")
		}
		return "", false
	}
	return token, true
}

func (s *Service) allowRate(userID int64, b *gotgbot.Bot, ctx *ext.Context) bool {
	if userID == 0 || s.rateLimiter == nil {
		return true
	}
	ok, _, resetAt, err := s.rateLimiter.Allow(context.Background(), userID, time.Now().UTC())
	if err != nil {
		s.logger.Error().Err(err).Msg("rate limiter failed")
		return true
	}
	if ok {
		return true
	}
	_ = s.reply(ctx, b, "Rate limit exceeded. Try again after "+resetAt.Format("15:04 UTC"))
	return false
}

func (s *Service) reply(ctx *ext.Context, b *gotgbot.Bot, text string) error {
	if ctx.EffectiveChat == nil {
		return nil
	}
	_, err := b.SendMessage(ctx.EffectiveChat.Id, text, nil)
	return err
}

func (s *Service) replyWithMarkup(ctx *ext.Context, b *gotgbot.Bot, text string, markup *gotgbot.InlineKeyboardMarkup) error {
	if ctx == nil || ctx.EffectiveChat == nil {
		return nil
	}
	opts := &gotgbot.SendMessageOpts{}
	if markup != nil {
		opts.ReplyMarkup = *markup
	}
	_, err := b.SendMessage(ctx.EffectiveChat.Id, text, opts)
	return err
}

func userID(ctx *ext.Context) int64 {
	if ctx.EffectiveUser == nil {
		return 0
	}
	return ctx.EffectiveUser.Id
}
