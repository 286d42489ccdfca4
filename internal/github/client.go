// Package github is a typed client for the slice of the GitHub REST v3 API
// the bot needs: token validation, repository listing, directory contents,
// and file create/delete. Calls are bounded by the client timeout and are
// never retried; a failed call is surfaced immediately.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	EntryTypeDir  = "dir"
	EntryTypeFile = "file"
)

type AccountInfo struct {
	Login       string `json:"login"`
	Name        string `json:"name"`
	PublicRepos int    `json:"public_repos"`
}

type RepositorySummary struct {
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Private  bool   `json:"private"`
}

// Entry is one item of a directory listing. For files, SHA is the content
// revision GitHub requires as the precondition for deletion.
type Entry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
	Size int64  `json:"size"`
}

type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

type Client struct {
	baseURL string
	http    *http.Client
}

func New(cfg Config) *Client {
	base := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = "https://api.github.com"
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: base, http: hc}
}

// ValidateToken checks the token against the authenticated-identity
// endpoint. Anything but a 200 means the token is unusable.
func (c *Client) ValidateToken(ctx context.Context, token string) bool {
	resp, err := c.do(ctx, http.MethodGet, "/user", token, nil)
	if err != nil {
		return false
	}
	defer drain(resp)
	return resp.StatusCode == http.StatusOK
}

func (c *Client) GetAccountInfo(ctx context.Context, token string) (*AccountInfo, error) {
	resp, err := c.do(ctx, http.MethodGet, "/user", token, nil)
	if err != nil {
		return nil, err
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("account info status %d", resp.StatusCode)
	}

	var info AccountInfo
	if err := decode(resp, &info); err != nil {
		return nil, fmt.Errorf("decode account info: %w", err)
	}
	return &info, nil
}

// ListRepositories returns the caller's repositories sorted by update
// recency, up to one page of 100.
func (c *Client) ListRepositories(ctx context.Context, token string) ([]RepositorySummary, error) {
	resp, err := c.do(ctx, http.MethodGet, "/user/repos?per_page=100&sort=updated", token, nil)
	if err != nil {
		return nil, err
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list repositories status %d", resp.StatusCode)
	}

	var repos []RepositorySummary
	if err := decode(resp, &repos); err != nil {
		return nil, fmt.Errorf("decode repositories: %w", err)
	}
	return repos, nil
}

// ListContents lists a directory. An empty path means the repository root.
func (c *Client) ListContents(ctx context.Context, token, repo, path string) ([]Entry, error) {
	resp, err := c.do(ctx, http.MethodGet, contentsPath(repo, path), token, nil)
	if err != nil {
		return nil, err
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list contents status %d", resp.StatusCode)
	}

	var entries []Entry
	if err := decode(resp, &entries); err != nil {
		return nil, fmt.Errorf("decode contents: %w", err)
	}
	return entries, nil
}

// GetFile fetches a single file's metadata (size and the SHA used as the
// delete precondition).
func (c *Client) GetFile(ctx context.Context, token, repo, path string) (*Entry, error) {
	resp, err := c.do(ctx, http.MethodGet, contentsPath(repo, path), token, nil)
	if err != nil {
		return nil, err
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get file status %d", resp.StatusCode)
	}

	var entry Entry
	if err := decode(resp, &entry); err != nil {
		return nil, fmt.Errorf("decode file entry: %w", err)
	}
	return &entry, nil
}

// DeleteFile removes a file at its current revision. GitHub rejects a stale
// sha, which reports as failure here rather than silently succeeding.
func (c *Client) DeleteFile(ctx context.Context, token, repo, path, sha, message string) bool {
	body, err := json.Marshal(map[string]string{
		"message": message,
		"sha":     sha,
	})
	if err != nil {
		return false
	}
	resp, err := c.do(ctx, http.MethodDelete, contentsPath(repo, path), token, body)
	if err != nil {
		return false
	}
	defer drain(resp)
	return resp.StatusCode == http.StatusOK
}

// CreateFile creates a file with the given content. A 201 from GitHub is
// taken as ground truth; no read-back verification.
func (c *Client) CreateFile(ctx context.Context, token, repo, path, content, message string) bool {
	body, err := json.Marshal(map[string]string{
		"message": message,
		"content": base64.StdEncoding.EncodeToString([]byte(content)),
	})
	if err != nil {
		return false
	}
	resp, err := c.do(ctx, http.MethodPut, contentsPath(repo, path), token, body)
	if err != nil {
		return false
	}
	defer drain(resp)
	return resp.StatusCode == http.StatusCreated
}

func (c *Client) do(ctx context.Context, method, path, token string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "token "+token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func contentsPath(repo, path string) string {
	p := "/repos/" + repo + "/contents/"
	if path != "" {
		segments := strings.Split(path, "/")
		escaped := make([]string, 0, len(segments))
		for _, s := range segments {
			escaped = append(escaped, url.PathEscape(s))
		}
		p += strings.Join(escaped, "/")
	}
	return p
}

func decode(resp *http.Response, v any) error {
	b, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	return json.Unmarshal(b, v)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<20))
	_ = resp.Body.Close()
}
