package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"gitrover/internal/crypto"
	"gitrover/internal/github"
	"gitrover/internal/queue"
	"gitrover/internal/storage"
)

// apiRecorder stands in for the Telegram API and records every method the
// bot invokes, so tests can assert what actually reached the user.
type apiRecorder struct {
	mu    sync.Mutex
	calls []apiCall
}

type apiCall struct {
	method string
	params map[string]string
}

func (r *apiRecorder) RequestWithContext(_ context.Context, _ string, method string, params map[string]string, _ map[string]gotgbot.FileReader, _ *gotgbot.RequestOpts) (json.RawMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, apiCall{method: method, params: params})
	switch method {
	case "sendMessage", "editMessageText":
		return json.RawMessage(`{"message_id":1,"date":1,"chat":{"id":42,"type":"private"},"text":"ok"}`), nil
	default:
		return json.RawMessage(`true`), nil
	}
}

func (r *apiRecorder) TimeoutContext(_ *gotgbot.RequestOpts) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Second)
}

func (r *apiRecorder) GetAPIURL(_ *gotgbot.RequestOpts) string {
	return gotgbot.DefaultAPIURL
}

func (r *apiRecorder) FileURL(token string, tgFilePath string, _ *gotgbot.RequestOpts) string {
	return gotgbot.DefaultAPIURL + "/file/bot" + token + "/" + tgFilePath
}

func (r *apiRecorder) count(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.method == method {
			n++
		}
	}
	return n
}

func (r *apiRecorder) lastText(method string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	text := ""
	for _, c := range r.calls {
		if c.method == method {
			text = c.params["text"]
		}
	}
	return text
}

type serviceFixture struct {
	svc    *Service
	bot    *gotgbot.Bot
	rec    *apiRecorder
	store  *storage.Store
	ghHits *atomic.Int64
}

func newServiceFixture(t *testing.T, ratePerHour int64) *serviceFixture {
	t.Helper()

	cm, err := crypto.NewManager("test", map[string][]byte{"test": make([]byte, 32)})
	if err != nil {
		t.Fatalf("new crypto manager: %v", err)
	}
	store, err := storage.Open(context.Background(), "sqlite", "file:"+t.Name()+"?mode=memory&cache=shared", cm, true, "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	hits := &atomic.Int64{}
	gh := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if strings.HasPrefix(r.URL.Path, "/repos/") {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(gh.Close)

	var rl *queue.RateLimiter
	if ratePerHour > 0 {
		rl = queue.NewRateLimiter(rdb, ratePerHour)
	}

	rec := &apiRecorder{}
	bot := &gotgbot.Bot{
		Token:     "123:test",
		User:      gotgbot.User{Id: 1, IsBot: true, Username: "gitrover_test_bot"},
		BotClient: rec,
	}
	svc := NewService(Config{
		Store:       store,
		GitHub:      github.New(github.Config{BaseURL: gh.URL}),
		RateLimiter: rl,
		Sessions:    SessionConfig{Redis: rdb, TTL: time.Hour},
		Logger:      zerolog.Nop(),
	})
	return &serviceFixture{svc: svc, bot: bot, rec: rec, store: store, ghHits: hits}
}

func callbackContext(data string) *ext.Context {
	chat := gotgbot.Chat{Id: 42, Type: "private"}
	user := gotgbot.User{Id: 42, FirstName: "Ada"}
	return &ext.Context{
		Update: &gotgbot.Update{
			UpdateId: 1,
			CallbackQuery: &gotgbot.CallbackQuery{
				Id:      "cb-1",
				From:    user,
				Data:    data,
				Message: &gotgbot.Message{MessageId: 7, Date: 1, Chat: chat},
			},
		},
		EffectiveChat: &chat,
		EffectiveUser: &user,
	}
}

// A tap on a stale keyboard (token never stored, or erased since the
// buttons were sent) must land a visible rejection in the chat; the query
// itself is answered exactly once.
func TestCallbackWithoutTokenRejectsVisibly(t *testing.T) {
	f := newServiceFixture(t, 0)

	if err := f.svc.onCallback(f.bot, callbackContext("repo:octocat/Hello-World")); err != nil {
		t.Fatalf("onCallback: %v", err)
	}

	if got := f.rec.count("answerCallbackQuery"); got != 1 {
		t.Fatalf("expected exactly one callback answer, got %d", got)
	}
	if f.rec.count("editMessageText") == 0 {
		t.Fatal("expected the rejection to edit the message, got no edit")
	}
	if text := f.rec.lastText("editMessageText"); !strings.Contains(text, "token first") {
		t.Fatalf("rejection text = %q", text)
	}
	if f.ghHits.Load() != 0 {
		t.Fatalf("expected no remote calls without a token, got %d", f.ghHits.Load())
	}
}

func TestCallbackMalformedTokenRejectsVisibly(t *testing.T) {
	f := newServiceFixture(t, 0)
	if err := f.store.SaveToken(context.Background(), 42, "ghp_test"); err != nil {
		t.Fatalf("save token: %v", err)
	}

	for _, data := range []string{"delete:onlypath", "item:link:README.md", "bogus"} {
		f.rec.calls = nil
		if err := f.svc.onCallback(f.bot, callbackContext(data)); err != nil {
			t.Fatalf("onCallback(%q): %v", data, err)
		}
		if got := f.rec.count("answerCallbackQuery"); got != 1 {
			t.Fatalf("%q: expected exactly one callback answer, got %d", data, got)
		}
		if f.rec.count("editMessageText") == 0 {
			t.Fatalf("%q: expected a visible rejection edit", data)
		}
	}
	if f.ghHits.Load() != 0 {
		t.Fatalf("expected no remote calls for malformed tokens, got %d", f.ghHits.Load())
	}
}

// Navigation callbacks hit the remote API and go through the same rate
// limiter as /repos.
func TestCallbackRateLimited(t *testing.T) {
	f := newServiceFixture(t, 1)
	if err := f.store.SaveToken(context.Background(), 42, "ghp_test"); err != nil {
		t.Fatalf("save token: %v", err)
	}

	if err := f.svc.onCallback(f.bot, callbackContext("repo:octocat/Hello-World")); err != nil {
		t.Fatalf("first callback: %v", err)
	}
	if f.ghHits.Load() == 0 {
		t.Fatal("expected the first callback to reach the remote API")
	}

	before := f.ghHits.Load()
	if err := f.svc.onCallback(f.bot, callbackContext("repo:octocat/Hello-World")); err != nil {
		t.Fatalf("second callback: %v", err)
	}
	if f.ghHits.Load() != before {
		t.Fatal("expected the rate-limited callback to skip the remote API")
	}
	if text := f.rec.lastText("sendMessage"); !strings.Contains(text, "Rate limit") {
		t.Fatalf("expected a rate limit notice, got %q", text)
	}
}
