package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/inkfeed/inkfeed/internal/core"
	"github.com/inkfeed/inkfeed/internal/db"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	if err := db.Init(db.Config{Path: filepath.Join(t.TempDir(), "test.db")}); err != nil {
		t.Fatalf("db.Init failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
}

func registerWebhook(t *testing.T, url, secret string, events string) {
	t.Helper()
	err := db.Webhooks.Create(context.Background(), &db.Webhook{
		ID:         "wh-test",
		Name:       "test",
		URL:        url,
		Secret:     secret,
		EventsJSON: events,
		Enabled:    true,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		t.Fatalf("Webhooks.Create failed: %v", err)
	}
}

func TestSign(t *testing.T) {
	body := []byte(`{"event":"job_completed"}`)

	a := Sign("secret-one", body)
	b := Sign("secret-one", body)
	c := Sign("secret-two", body)

	if a != b {
		t.Error("signature not deterministic")
	}
	if a == c {
		t.Error("different secrets produced the same signature")
	}
	if len(a) != 64 {
		t.Errorf("signature length = %d, want 64 hex chars", len(a))
	}
}

func TestDeliverySignedAndFiltered(t *testing.T) {
	setupTestDB(t)

	received := make(chan *http.Request, 4)
	bodies := make(chan []byte, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- r
		bodies <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	registerWebhook(t, srv.URL, "s3cret", `["job_completed"]`)

	sender := NewSender(Config{Timeout: time.Second}, zap.NewNop())
	sender.Start()
	defer sender.Stop()

	// Not subscribed: must not be delivered.
	sender.JobEvent(core.EventJobFailed, &core.Job{ID: "j1", Status: core.JobStatusFailed})
	// Subscribed: must arrive signed.
	sender.JobEvent(core.EventJobCompleted, &core.Job{ID: "j2", Status: core.JobStatusCompleted})

	select {
	case req := <-received:
		body := <-bodies

		var payload Payload
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("payload is not valid JSON: %v", err)
		}
		if payload.Event != "job_completed" {
			t.Errorf("event = %s, want job_completed", payload.Event)
		}
		if got := req.Header.Get("X-Inkfeed-Signature"); got != Sign("s3cret", body) {
			t.Error("signature header does not verify against the body")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscribed event never delivered")
	}

	select {
	case <-received:
		t.Fatal("unsubscribed event was delivered")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDeliveryRetries(t *testing.T) {
	setupTestDB(t)

	attempts := make(chan int, 8)
	count := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count++
		attempts <- count
		if count == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	registerWebhook(t, srv.URL, "", `["job_completed"]`)

	sender := NewSender(Config{
		Timeout:     time.Second,
		RetryDelay:  10 * time.Millisecond,
		RetryCount:  3,
		WorkerCount: 1,
	}, zap.NewNop())
	sender.Start()
	defer sender.Stop()

	sender.JobEvent(core.EventJobCompleted, &core.Job{ID: "j1"})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case n := <-attempts:
			if n >= 2 {
				return
			}
		case <-deadline:
			t.Fatal("delivery was not retried after a failure")
		}
	}
}
