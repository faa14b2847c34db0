package notify_test

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MichalRedm/distributed-library-system/model"
	"github.com/MichalRedm/distributed-library-system/notify"
)

type captureNotifier struct {
	events []model.Invalidation
}

func (c *captureNotifier) Invalidate(ev model.Invalidation) {
	c.events = append(c.events, ev)
}

func TestFanout_DeliversToAllSinks(t *testing.T) {
	a := &captureNotifier{}
	b := &captureNotifier{}
	f := notify.NewFanout(a, b, notify.Discard{})

	ev := model.Invalidation{Kind: model.KindBook, ID: "b1"}
	f.Invalidate(ev)

	require.Equal(t, []model.Invalidation{ev}, a.events)
	require.Equal(t, []model.Invalidation{ev}, b.events)
}

func TestWebhook_PostsEvent(t *testing.T) {
	received := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(body)
		received <- body
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	wh := notify.NewWebhook(srv.URL, srv.Client(), log)
	wh.Invalidate(model.Invalidation{Kind: model.KindUser, ID: "u1"})

	select {
	case body := <-received:
		require.JSONEq(t, `{"entity_kind":"user","entity_id":"u1"}`, string(body))
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was never delivered")
	}
}

func TestWebhook_FailureDoesNotPanic(t *testing.T) {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	wh := notify.NewWebhook("http://127.0.0.1:0/unreachable", &http.Client{Timeout: time.Second}, log)
	wh.Invalidate(model.Invalidation{Kind: model.KindBook, ID: "b1"})
	// Delivery is async fire-and-forget; give the goroutine a beat.
	time.Sleep(50 * time.Millisecond)
}
