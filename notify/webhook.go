package notify

import (
	"bytes"
	"log/slog"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/MichalRedm/distributed-library-system/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WebhookNotifier POSTs each invalidation as JSON to a configured URL.
// Delivery is fire-and-forget: a failed POST is logged and dropped, never
// propagated into the request path that produced the event.
type WebhookNotifier struct {
	URL    string
	Client *http.Client
	Log    *slog.Logger
}

func NewWebhook(url string, client *http.Client, log *slog.Logger) *WebhookNotifier {
	return &WebhookNotifier{URL: url, Client: client, Log: log}
}

func (n *WebhookNotifier) Invalidate(ev model.Invalidation) {
	body, err := json.Marshal(ev)
	if err != nil {
		n.Log.Error("webhook marshal failed", "err", err)
		return
	}
	go func() {
		resp, err := n.Client.Post(n.URL, "application/json", bytes.NewReader(body))
		if err != nil {
			n.Log.Warn("webhook delivery failed", "url", n.URL, "err", err)
			return
		}
		_ = resp.Body.Close()
		if resp.StatusCode >= 300 {
			n.Log.Warn("webhook rejected", "url", n.URL, "status", resp.StatusCode)
		}
	}()
}
