package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"

	"gitrover/internal/storage"
)

func (s *Service) help(b *gotgbot.Bot, ctx *ext.Context) error {
	text := strings.Join([]string{
		"Commands:",
		"/start - connect your GitHub account",
		"/repos - list your repositories",
		"/newfile - create a file in the current repository",
		"/stats - your usage statistics",
		"/delete_data - erase everything stored about you",
		"/cancel - abort the current wizard",
	}, "\n")
	return s.reply(ctx, b, text)
}

// start is the entry event. It may be re-issued from any state; it resets
// the conversation to awaiting-token without touching persisted data.
func (s *Service) start(b *gotgbot.Bot, ctx *ext.Context) error {
	uid := userID(ctx)
	if uid == 0 || ctx.EffectiveChat == nil {
		return nil
	}

	created, err := s.store.EnsureUser(context.Background(), uid)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", uid).Msg("failed to ensure user")
		return s.reply(ctx, b, "Storage is unavailable right now. Try again later.")
	}
	if created {
		s.logger.Info().Int64("user_id", uid).Msg("new user registered")
	}

	s.setState(context.Background(), uid, StateAwaitingToken)

	name := "there"
	if ctx.EffectiveUser != nil && ctx.EffectiveUser.FirstName != "" {
		name = ctx.EffectiveUser.FirstName
	}
	return s.reply(ctx, b, strings.Join([]string{
		fmt.Sprintf("Hi %s! I browse and manage files in your GitHub repositories.", name),
		"",
		"Send me a GitHub Personal Access Token to get started:",
		"1. Open github.com/settings/tokens",
		"2. Generate new token (classic)",
		"3. Grant the repo scope",
		"4. Paste the token here",
		"",
		"The token is encrypted before it is stored, and your message with it is deleted right away.",
	}, "\n"))
}

// privateText receives plain text in a private chat: either the token the
// user was asked for, or a /newfile wizard step.
func (s *Service) privateText(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveChat == nil || ctx.EffectiveUser == nil || ctx.EffectiveMessage == nil {
		return nil
	}
	if ctx.EffectiveChat.Type != "private" {
		return nil
	}
	text := strings.TrimSpace(ctx.EffectiveMessage.GetText())
	if text == "" || strings.HasPrefix(text, "/") {
		return nil
	}
	uid := ctx.EffectiveUser.Id

	sess, err := s.sessions.Get(context.Background(), uid)
	if err != nil {
		s.logger.Warn().Err(err).Int64("user_id", uid).Msg("failed to load session")
	}
	if sess != nil && sess.CreateStep != "" {
		return s.createWizardStep(b, ctx, uid, sess, text)
	}

	if s.currentState(context.Background(), uid) == StateAwaitingToken {
		return s.receiveToken(b, ctx, uid, text)
	}
	return nil
}

func (s *Service) receiveToken(b *gotgbot.Bot, ctx *ext.Context, uid int64, token string) error {
	// The message holds a live credential; scrub it from the chat first.
	// Scrubbing is best-effort and never aborts the flow.
	if _, err := ctx.EffectiveMessage.Delete(b, nil); err != nil {
		s.logger.Warn().Err(err).Int64("user_id", uid).Msg("failed to delete token message")
	}

	s.metrics.GitHubRequests.Inc()
	if !s.gh.ValidateToken(context.Background(), token) {
		s.metrics.GitHubFailures.Inc()
		return s.reply(ctx, b, "That token does not work. Check it and send it again, or /start over.")
	}

	login := "unknown"
	s.metrics.GitHubRequests.Inc()
	if info, err := s.gh.GetAccountInfo(context.Background(), token); err != nil {
		// Account info is cosmetic; its absence does not block progress.
		s.metrics.GitHubFailures.Inc()
		s.logger.Warn().Err(err).Int64("user_id", uid).Msg("failed to fetch account info")
	} else {
		login = info.Login
	}

	if err := s.store.SaveToken(context.Background(), uid, token); err != nil {
		s.logger.Error().Err(err).Int64("user_id", uid).Msg("failed to save token")
		return s.reply(ctx, b, "Could not store the token. Try again later.")
	}

	s.audit(uid, storage.ActionTokenSaved, "", "")
	s.setState(context.Background(), uid, StateBrowsing)

	return s.reply(ctx, b, strings.Join([]string{
		"Token saved (encrypted at rest).",
		fmt.Sprintf("GitHub account: @%s", login),
		"",
		"Commands:",
		"/repos - list repositories",
		"/newfile - create a file",
		"/stats - statistics",
		"/delete_data - erase my data",
	}, "\n"))
}

func (s *Service) repos(b *gotgbot.Bot, ctx *ext.Context) error {
	uid := userID(ctx)
	if uid == 0 {
		return nil
	}
	token, ok := s.getToken(context.Background(), uid)
	if !ok {
		return s.reply(ctx, b, "Send me your GitHub token first via /start.")
	}
	if !s.allowRate(uid, b, ctx) {
		return nil
	}

	_ = s.reply(ctx, b, "Loading repositories...")

	s.metrics.GitHubRequests.Inc()
	repos, err := s.gh.ListRepositories(context.Background(), token)
	if err != nil {
		s.metrics.GitHubFailures.Inc()
		s.logger.Error().Err(err).Int64("user_id", uid).Msg("failed to list repositories")
		return s.reply(ctx, b, "Could not fetch your repositories. Try again later.")
	}
	if len(repos) == 0 {
		return s.reply(ctx, b, "You have no repositories.")
	}

	s.audit(uid, storage.ActionViewRepos, "", "")

	markup := reposKeyboard(repos, s.maxReposDisplay)
	return s.replyWithMarkup(ctx, b, fmt.Sprintf("Your repositories (%d):", len(repos)), markup)
}

func (s *Service) stats(b *gotgbot.Bot, ctx *ext.Context) error {
	uid := userID(ctx)
	if uid == 0 {
		return nil
	}

	st, err := s.store.GetStats(context.Background(), uid)
	if err != nil {
		s.logger.Error().Err(err).Int64("user_id", uid).Msg("failed to load stats")
		return s.reply(ctx, b, "Could not load your statistics right now.")
	}
	total, err := s.store.CountUsers(context.Background())
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to count users")
	}
	return s.reply(ctx, b, statsText(st, total))
}

func (s *Service) deleteData(b *gotgbot.Bot, ctx *ext.Context) error {
	uid := userID(ctx)
	if uid == 0 {
		return nil
	}

	if err := s.store.DeleteUser(context.Background(), uid); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return s.reply(ctx, b, "Nothing stored for you. Use /start to begin.")
		}
		s.logger.Error().Err(err).Int64("user_id", uid).Msg("failed to delete user data")
		return s.reply(ctx, b, "Could not erase your data. Try again later.")
	}
	if err := s.sessions.Clear(context.Background(), uid); err != nil {
		s.logger.Warn().Err(err).Int64("user_id", uid).Msg("failed to clear session after erasure")
	}
	return s.reply(ctx, b, "All your data is gone: token, cursor and action history.\nUse /start to begin again.")
}

func (s *Service) newFile(b *gotgbot.Bot, ctx *ext.Context) error {
	uid := userID(ctx)
	if uid == 0 {
		return nil
	}
	if _, ok := s.getToken(context.Background(), uid); !ok {
		return s.reply(ctx, b, "Send me your GitHub token first via /start.")
	}
	repo, _, err := s.store.GetCursor(context.Background(), uid)
	if err != nil || repo == nil {
		return s.reply(ctx, b, "Open a repository first via /repos.")
	}

	if err := s.sessions.Set(context.Background(), uid, session{
		State:      StateBrowsing,
		CreateStep: createStepPath,
	}); err != nil {
		s.logger.Error().Err(err).Int64("user_id", uid).Msg("failed to start create wizard")
		return s.reply(ctx, b, "Could not start the wizard. Try again.")
	}
	return s.reply(ctx, b, fmt.Sprintf("Creating a file in %s.\nSend the file path (for example docs/notes.md), or /cancel.", *repo))
}

func (s *Service) createWizardStep(b *gotgbot.Bot, ctx *ext.Context, uid int64, sess *session, text string) error {
	switch sess.CreateStep {
	case createStepPath:
		path := strings.Trim(strings.TrimSpace(text), "/")
		if path == "" {
			return s.reply(ctx, b, "Send a non-empty file path, or /cancel.")
		}
		sess.CreatePath = path
		sess.CreateStep = createStepContent
		if err := s.sessions.Set(context.Background(), uid, *sess); err != nil {
			return s.reply(ctx, b, "Could not persist the wizard state. Try again.")
		}
		return s.reply(ctx, b, "Now send the file content.")

	case createStepContent:
		repo, _, err := s.store.GetCursor(context.Background(), uid)
		if err != nil || repo == nil {
			_ = s.sessions.Set(context.Background(), uid, session{State: StateBrowsing})
			return s.reply(ctx, b, "No current repository anymore. Open one via /repos.")
		}
		token, ok := s.getToken(context.Background(), uid)
		if !ok {
			return s.reply(ctx, b, "Send me your GitHub token first via /start.")
		}
		if !s.allowRate(uid, b, ctx) {
			return nil
		}

		path := sess.CreatePath
		_ = s.sessions.Set(context.Background(), uid, session{State: StateBrowsing})

		s.metrics.GitHubRequests.Inc()
		if !s.gh.CreateFile(context.Background(), token, *repo, path, text, "Create "+path+" via GitRover bot") {
			s.metrics.GitHubFailures.Inc()
			return s.reply(ctx, b, fmt.Sprintf("Could not create %s. It may already exist.", path))
		}
		s.audit(uid, storage.ActionCreateFile, *repo, path)
		return s.reply(ctx, b, fmt.Sprintf("Created %s in %s.", path, *repo))
	}
	return nil
}

func (s *Service) cancel(b *gotgbot.Bot, ctx *ext.Context) error {
	uid := userID(ctx)
	if uid == 0 {
		return nil
	}
	sess, err := s.sessions.Get(context.Background(), uid)
	if err != nil || sess == nil || sess.CreateStep == "" {
		return s.reply(ctx, b, "Nothing to cancel.")
	}
	if err := s.sessions.Set(context.Background(), uid, session{State: sess.State}); err != nil {
		return s.reply(ctx, b, "Could not cancel right now.")
	}
	return s.reply(ctx, b, "Canceled.")
}
