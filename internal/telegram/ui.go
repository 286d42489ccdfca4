package telegram

import (
	"fmt"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"

	"gitrover/internal/github"
	"gitrover/internal/storage"
)

var actionEmoji = map[string]string{
	storage.ActionTokenSaved: "🔑",
	storage.ActionViewRepos:  "📦",
	storage.ActionOpenRepo:   "📁",
	storage.ActionOpenFolder: "📂",
	storage.ActionViewFile:   "📄",
	storage.ActionDeleteFile: "🗑",
	storage.ActionCreateFile: "➕",
}

func reposKeyboard(repos []github.RepositorySummary, max int) *gotgbot.InlineKeyboardMarkup {
	if len(repos) > max {
		repos = repos[:max]
	}
	rows := make([][]gotgbot.InlineKeyboardButton, 0, len(repos))
	for _, r := range repos {
		label := r.Name
		if r.Private {
			label = "🔒 " + label
		}
		rows = append(rows, []gotgbot.InlineKeyboardButton{
			{Text: label, CallbackData: cbPrefixRepo + r.FullName},
		})
	}
	return &gotgbot.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// contentsKeyboard renders one row per entry plus a back row. At the
// repository root "back" returns to the repo list; inside a folder it
// reopens the repository root.
func contentsKeyboard(repo, path string, entries []github.Entry) *gotgbot.InlineKeyboardMarkup {
	rows := make([][]gotgbot.InlineKeyboardButton, 0, len(entries)+1)
	for _, e := range entries {
		icon := "📄"
		kind := github.EntryTypeFile
		if e.Type == github.EntryTypeDir {
			icon = "📁"
			kind = github.EntryTypeDir
		}
		rows = append(rows, []gotgbot.InlineKeyboardButton{
			{Text: icon + " " + e.Name, CallbackData: cbPrefixItem + kind + ":" + e.Path},
		})
	}
	rows = append(rows, backRow(repo, path))
	return &gotgbot.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func contentsBackKeyboard(repo string, path string) *gotgbot.InlineKeyboardMarkup {
	return &gotgbot.InlineKeyboardMarkup{InlineKeyboard: [][]gotgbot.InlineKeyboardButton{
		backRow(repo, path),
	}}
}

func backRow(repo, path string) []gotgbot.InlineKeyboardButton {
	if path == "" {
		return []gotgbot.InlineKeyboardButton{{Text: "⬅ Repositories", CallbackData: cbBackRepos}}
	}
	return []gotgbot.InlineKeyboardButton{{Text: "⬅ " + repo, CallbackData: cbPrefixRepo + repo}}
}

// Telegram rejects callback data over 64 bytes with BUTTON_DATA_INVALID,
// which would fail the whole message edit. A delete token that does not fit
// is omitted rather than breaking the keyboard.
const maxCallbackDataLen = 64

func deleteToken(e *github.Entry) (string, bool) {
	tok := cbPrefixDelete + e.Path + ":" + e.SHA
	return tok, len(tok) <= maxCallbackDataLen
}

func fileKeyboard(repo string, e *github.Entry) *gotgbot.InlineKeyboardMarkup {
	rows := make([][]gotgbot.InlineKeyboardButton, 0, 2)
	if tok, ok := deleteToken(e); ok {
		rows = append(rows, []gotgbot.InlineKeyboardButton{{Text: "🗑 Delete", CallbackData: tok}})
	}
	rows = append(rows, []gotgbot.InlineKeyboardButton{{Text: "⬅ " + repo, CallbackData: cbPrefixRepo + repo}})
	return &gotgbot.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func listingText(repo, path string, entries []github.Entry) string {
	loc := repo
	if path != "" {
		loc = repo + "/" + path
	}
	if len(entries) == 0 {
		return fmt.Sprintf("📂 %s\n\nEmpty.", loc)
	}
	return fmt.Sprintf("📂 %s\n\n%d items:", loc, len(entries))
}

func fileText(repo string, e *github.Entry) string {
	return strings.Join([]string{
		"📄 " + e.Name,
		"",
		"Repository: " + repo,
		"Path: " + e.Path,
		fmt.Sprintf("Size: %s", formatSize(e.Size)),
	}, "\n")
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func statsText(st storage.Stats, totalUsers int64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Your activity\n\nTotal actions: %d\n", st.TotalActions)
	if len(st.ByType) > 0 {
		b.WriteString("\nBy type:\n")
		// Fixed order keeps the rendering stable across map iterations.
		for _, kind := range []string{
			storage.ActionTokenSaved, storage.ActionViewRepos, storage.ActionOpenRepo,
			storage.ActionOpenFolder, storage.ActionViewFile, storage.ActionDeleteFile,
			storage.ActionCreateFile,
		} {
			if n := st.ByType[kind]; n > 0 {
				fmt.Fprintf(&b, "%s %s: %d\n", actionEmoji[kind], kind, n)
			}
		}
	}
	if len(st.Recent) > 0 {
		b.WriteString("\nRecent:\n")
		for _, a := range st.Recent {
			line := actionEmoji[a.Type] + " " + a.Type
			if a.RepoName != nil {
				line += " " + *a.RepoName
			}
			if a.FilePath != nil {
				line += "/" + *a.FilePath
			}
			b.WriteString(line + "\n")
		}
	}
	if totalUsers > 0 {
		fmt.Fprintf(&b, "\nUsers on this bot: %d", totalUsers)
	}
	return strings.TrimRight(b.String(), "\n")
}
