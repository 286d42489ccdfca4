package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"

	"gitrover/internal/github"
	"gitrover/internal/storage"
)

// Callback token grammar. Telegram caps callback data at 64 bytes, so
// tokens carry paths and shas raw and the parser splits from the right
// where a field may itself contain the separator.
const (
	cbPrefixRepo   = "repo:"
	cbPrefixItem   = "item:"
	cbPrefixDelete = "delete:"
	cbBackRepos    = "back_repos"
)

func (s *Service) onCallback(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx == nil || ctx.CallbackQuery == nil {
		return nil
	}
	data := strings.TrimSpace(ctx.CallbackQuery.Data)
	// Telegram accepts exactly one answer per query; everything after this
	// point communicates through the message itself.
	s.answerCallback(b, ctx, "", false)

	uid := ctx.CallbackQuery.From.Id
	token, ok := s.getToken(context.Background(), uid)
	if !ok {
		// Stale keyboard: the token was never stored or has been erased
		// since the buttons were sent.
		return s.editOrReplyCallback(ctx, b, "Send me your GitHub token first via /start.", nil)
	}
	if !s.allowRate(uid, b, ctx) {
		return nil
	}

	switch {
	case strings.HasPrefix(data, cbPrefixRepo):
		return s.openRepo(b, ctx, uid, token, strings.TrimPrefix(data, cbPrefixRepo))

	case strings.HasPrefix(data, cbPrefixItem):
		kind, path, ok := parseItem(data)
		if !ok {
			return s.editOrReplyCallback(ctx, b, "That button is no longer valid. Reopen the repository via /repos.", nil)
		}
		if kind == github.EntryTypeDir {
			return s.openFolder(b, ctx, uid, token, path)
		}
		return s.viewFile(b, ctx, uid, token, path)

	case strings.HasPrefix(data, cbPrefixDelete):
		path, sha, ok := parseDelete(data)
		if !ok {
			return s.editOrReplyCallback(ctx, b, "That delete button is no longer valid. Reopen the folder via /repos.", nil)
		}
		return s.deleteFile(b, ctx, uid, token, path, sha)

	case data == cbBackRepos:
		return s.backToRepos(b, ctx, token)

	default:
		return s.editOrReplyCallback(ctx, b, fmt.Sprintf("Unknown action: %s. Use /repos to start over.", data), nil)
	}
}

func (s *Service) openRepo(b *gotgbot.Bot, ctx *ext.Context, uid int64, token, repo string) error {
	if err := s.store.SetCursor(context.Background(), uid, repo, ""); err != nil {
		s.logger.Error().Err(err).Int64("user_id", uid).Msg("failed to set cursor")
		return s.editOrReplyCallback(ctx, b, "Could not open the repository. Try again.", nil)
	}
	s.audit(uid, storage.ActionOpenRepo, repo, "")
	return s.renderListing(b, ctx, uid, token, repo, "")
}

func (s *Service) openFolder(b *gotgbot.Bot, ctx *ext.Context, uid int64, token, path string) error {
	repo, _, err := s.store.GetCursor(context.Background(), uid)
	if err != nil || repo == nil {
		return s.editOrReplyCallback(ctx, b, "No current repository. Open one via /repos.", nil)
	}
	if err := s.store.SetCursor(context.Background(), uid, *repo, path); err != nil {
		s.logger.Error().Err(err).Int64("user_id", uid).Msg("failed to set cursor")
		return s.editOrReplyCallback(ctx, b, "Could not open the folder. Try again.", nil)
	}
	s.audit(uid, storage.ActionOpenFolder, *repo, path)
	return s.renderListing(b, ctx, uid, token, *repo, path)
}

func (s *Service) renderListing(b *gotgbot.Bot, ctx *ext.Context, uid int64, token, repo, path string) error {
	s.metrics.GitHubRequests.Inc()
	entries, err := s.gh.ListContents(context.Background(), token, repo, path)
	if err != nil {
		s.metrics.GitHubFailures.Inc()
		s.logger.Error().Err(err).Int64("user_id", uid).Str("repo", repo).Str("path", path).Msg("failed to list contents")
		return s.editOrReplyCallback(ctx, b, "Could not load the listing. Try again later.", nil)
	}
	return s.editOrReplyCallback(ctx, b, listingText(repo, path, entries), contentsKeyboard(repo, path, entries))
}

func (s *Service) viewFile(b *gotgbot.Bot, ctx *ext.Context, uid int64, token, path string) error {
	repo, _, err := s.store.GetCursor(context.Background(), uid)
	if err != nil || repo == nil {
		return s.editOrReplyCallback(ctx, b, "No current repository. Open one via /repos.", nil)
	}

	s.audit(uid, storage.ActionViewFile, *repo, path)

	s.metrics.GitHubRequests.Inc()
	entry, err := s.gh.GetFile(context.Background(), token, *repo, path)
	if err != nil {
		s.metrics.GitHubFailures.Inc()
		s.logger.Error().Err(err).Int64("user_id", uid).Str("repo", *repo).Str("path", path).Msg("failed to fetch file")
		return s.editOrReplyCallback(ctx, b, "Could not load the file. Try again later.", nil)
	}
	text := fileText(*repo, entry)
	if _, ok := deleteToken(entry); !ok {
		text += "\n\nThe path is too long for an inline delete button."
	}
	return s.editOrReplyCallback(ctx, b, text, fileKeyboard(*repo, entry))
}

func (s *Service) deleteFile(b *gotgbot.Bot, ctx *ext.Context, uid int64, token, path, sha string) error {
	repo, dir, err := s.store.GetCursor(context.Background(), uid)
	if err != nil || repo == nil {
		return s.editOrReplyCallback(ctx, b, "No current repository. Open one via /repos.", nil)
	}

	s.metrics.GitHubRequests.Inc()
	if !s.gh.DeleteFile(context.Background(), token, *repo, path, sha, "Delete "+path+" via GitRover bot") {
		s.metrics.GitHubFailures.Inc()
		// The sha may be stale; a fresh listing picks up the new one.
		return s.editOrReplyCallback(ctx, b, fmt.Sprintf("Could not delete %s. The file may have changed; reopen the folder and retry.", path), contentsBackKeyboard(*repo, dir))
	}

	s.audit(uid, storage.ActionDeleteFile, *repo, path)
	return s.editOrReplyCallback(ctx, b, fmt.Sprintf("Deleted %s from %s.", path, *repo), contentsBackKeyboard(*repo, dir))
}

func (s *Service) backToRepos(b *gotgbot.Bot, ctx *ext.Context, token string) error {
	s.metrics.GitHubRequests.Inc()
	repos, err := s.gh.ListRepositories(context.Background(), token)
	if err != nil {
		s.metrics.GitHubFailures.Inc()
		return s.editOrReplyCallback(ctx, b, "Could not fetch your repositories. Try again later.", nil)
	}
	return s.editOrReplyCallback(ctx, b, fmt.Sprintf("Your repositories (%d):", len(repos)), reposKeyboard(repos, s.backReposDisplay))
}

// parseItem splits "item:<dir|file>:<path>". The path may contain colons,
// so only the first two separators are structural.
func parseItem(data string) (kind, path string, ok bool) {
	parts := strings.SplitN(strings.TrimPrefix(data, cbPrefixItem), ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", "", false
	}
	if parts[0] != github.EntryTypeDir && parts[0] != github.EntryTypeFile {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// parseDelete splits "delete:<path>:<sha>". The sha is hex and never
// contains a colon, so it is taken from the right.
func parseDelete(data string) (path, sha string, ok bool) {
	rest := strings.TrimPrefix(data, cbPrefixDelete)
	i := strings.LastIndex(rest, ":")
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

func (s *Service) answerCallback(b *gotgbot.Bot, ctx *ext.Context, text string, alert bool) {
	if ctx == nil || ctx.CallbackQuery == nil {
		return
	}
	opts := &gotgbot.AnswerCallbackQueryOpts{ShowAlert: alert}
	if text != "" {
		opts.Text = text
	}
	_, _ = b.AnswerCallbackQuery(ctx.CallbackQuery.Id, opts)
}

func (s *Service) editOrReplyCallback(ctx *ext.Context, b *gotgbot.Bot, text string, markup *gotgbot.InlineKeyboardMarkup) error {
	if ctx != nil && ctx.CallbackQuery != nil && ctx.CallbackQuery.Message != nil {
		opts := &gotgbot.EditMessageTextOpts{}
		if markup != nil {
			opts.ReplyMarkup = *markup
		}
		_, _, err := ctx.CallbackQuery.Message.EditText(b, text, opts)
		if err == nil {
			return nil
		}
		if strings.Contains(strings.ToLower(err.Error()), "message is not modified") {
			return nil
		}
		// Fallback to sending a regular message if edit failed.
	}
	return s.replyWithMarkup(ctx, b, text, markup)
}
