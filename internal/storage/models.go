package storage

import "time"

// Action kinds recorded in action_history. The history is append-only;
// rows are only ever removed together with their user.
const (
	ActionTokenSaved = "token_saved"
	ActionViewRepos  = "view_repos"
	ActionOpenRepo   = "open_repo"
	ActionOpenFolder = "open_folder"
	ActionViewFile   = "view_file"
	ActionDeleteFile = "delete_file"
	ActionCreateFile = "create_file"
)

type User struct {
	ID             int64
	EncGitHubToken *string
	CurrentRepo    *string
	CurrentPath    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type ActionEntry struct {
	ID        int64
	UserID    int64
	Type      string
	RepoName  *string
	FilePath  *string
	CreatedAt time.Time
}

type Stats struct {
	TotalActions int64
	ByType       map[string]int64
	Recent       []ActionEntry
}
