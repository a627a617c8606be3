package alerting

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTelegramServer(t *testing.T, ok bool, received *sync.Map) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"shopwatch","username":"shopwatch_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			if err := r.ParseForm(); err != nil {
				t.Errorf("解析请求体失败: %v", err)
			}
			received.Store("chat_id", r.PostForm.Get("chat_id"))
			received.Store("text", r.PostForm.Get("text"))
			if !ok {
				_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
				return
			}
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestTelegramNotifierSuccess(t *testing.T) {
	var received sync.Map
	srv := newTelegramServer(t, true, &received)
	defer srv.Close()

	notifier, err := NewTelegramNotifier("token", 42, srv.URL, testLogger())
	if err != nil {
		t.Fatalf("构造 Telegram 告警器失败: %v", err)
	}
	note := Notification{SubjectID: "p1", Title: "Desk Lamp", Message: "Stock: in_stock → out_of_stock", At: time.Now()}

	if err := notifier.Notify(context.Background(), note); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if v, _ := received.Load("chat_id"); v != "42" {
		t.Fatalf("chat_id 不正确: %v", v)
	}
	text, _ := received.Load("text")
	if !strings.Contains(text.(string), "Desk Lamp") || !strings.Contains(text.(string), "out_of_stock") {
		t.Fatalf("text 内容不正确: %v", text)
	}
}

func TestTelegramNotifierError(t *testing.T) {
	var received sync.Map
	srv := newTelegramServer(t, false, &received)
	defer srv.Close()

	notifier, err := NewTelegramNotifier("token", 42, srv.URL, testLogger())
	if err != nil {
		t.Fatalf("构造 Telegram 告警器失败: %v", err)
	}
	if err := notifier.Notify(context.Background(), Notification{Title: "x"}); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []Notification
	err   error
}

func (r *recordingNotifier) Notify(ctx context.Context, note Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, note)
	return r.err
}

type blockingNotifier struct {
	release chan struct{}
}

func (b *blockingNotifier) Notify(ctx context.Context, note Notification) error {
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestDispatcherFansOutAndSwallowsErrors(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("boom")}
	ok := &recordingNotifier{}
	d := NewDispatcher([]Notifier{failing, ok}, time.Second, testLogger())

	d.Notify("p1", "Lamp", "Price: 100 → 90 (-10, -10.00%)")
	d.Wait()

	if len(failing.notes) != 1 || len(ok.notes) != 1 {
		t.Fatalf("expected both notifiers called once, got %d and %d", len(failing.notes), len(ok.notes))
	}
	if ok.notes[0].SubjectID != "p1" || ok.notes[0].Title != "Lamp" || ok.notes[0].At.IsZero() {
		t.Fatalf("unexpected notification %+v", ok.notes[0])
	}
}

func TestDispatcherDoesNotBlockCaller(t *testing.T) {
	slow := &blockingNotifier{release: make(chan struct{})}
	d := NewDispatcher([]Notifier{slow}, time.Minute, testLogger())

	done := make(chan struct{})
	go func() {
		d.Notify("p1", "Lamp", "msg")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a slow notifier")
	}
	close(slow.release)
	d.Wait()
}

func TestDispatcherTimeout(t *testing.T) {
	slow := &blockingNotifier{release: make(chan struct{})}
	d := NewDispatcher([]Notifier{slow}, 20*time.Millisecond, testLogger())

	d.Notify("p1", "Lamp", "msg")
	waited := make(chan struct{})
	go func() {
		d.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not honour its timeout")
	}
}

func TestLogNotifier(t *testing.T) {
	var buf strings.Builder
	n := NewLogNotifier(zerolog.New(&buf))
	if err := n.Notify(context.Background(), Notification{SubjectID: "p1", Title: "Lamp", Message: "msg"}); err != nil {
		t.Fatalf("log notify: %v", err)
	}
	if !strings.Contains(buf.String(), `"subject":"p1"`) {
		t.Fatalf("expected subject in log, got %s", buf.String())
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
