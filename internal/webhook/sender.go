// Package webhook delivers job and printer events to subscribed HTTP
// endpoints, with HMAC signing and bounded retries.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/inkfeed/inkfeed/internal/core"
	"github.com/inkfeed/inkfeed/internal/db"
)

const eventPrinterStatus = "printer_status"

type Payload struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type Config struct {
	RetryCount  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	WorkerCount int
	QueueSize   int
}

type task struct {
	webhook *db.Webhook
	body    []byte
	attempt int
}

// Sender fans events out to registered webhooks. It implements
// core.Notifier, so it plugs into the orchestrator next to the websocket
// hub. Delivery is best effort: a full queue drops events rather than
// stalling the print pipeline.
type Sender struct {
	logger     *zap.Logger
	httpClient *http.Client
	retryCount int
	retryDelay time.Duration
	queue      chan *task
	stopCh     chan struct{}
	workers    int
	wg         sync.WaitGroup
}

func NewSender(cfg Config, logger *zap.Logger) *Sender {
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}

	return &Sender{
		logger:     logger,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retryCount: cfg.RetryCount,
		retryDelay: cfg.RetryDelay,
		queue:      make(chan *task, cfg.QueueSize),
		stopCh:     make(chan struct{}),
		workers:    cfg.WorkerCount,
	}
}

func (s *Sender) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

func (s *Sender) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// JobEvent implements core.Notifier.
func (s *Sender) JobEvent(event core.JobEvent, job *core.Job) {
	s.enqueue(string(event), job)
}

// PrinterEvent implements core.Notifier.
func (s *Sender) PrinterEvent(connected bool) {
	s.enqueue(eventPrinterStatus, map[string]bool{"connected": connected})
}

func (s *Sender) enqueue(event string, data interface{}) {
	webhooks, err := db.Webhooks.ListForEvent(context.Background(), event)
	if err != nil {
		s.logger.Warn("failed to load webhooks", zap.String("event", event), zap.Error(err))
		return
	}
	if len(webhooks) == 0 {
		return
	}

	body, err := json.Marshal(Payload{
		Event:     event,
		Timestamp: time.Now(),
		Data:      data,
	})
	if err != nil {
		s.logger.Error("failed to marshal webhook payload", zap.Error(err))
		return
	}

	for _, webhook := range webhooks {
		select {
		case s.queue <- &task{webhook: webhook, body: body}:
		default:
			s.logger.Warn("webhook queue full, dropping event",
				zap.String("event", event), zap.String("webhook", webhook.Name))
		}
	}
}

func (s *Sender) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case t := <-s.queue:
			s.deliver(t)
		}
	}
}

func (s *Sender) deliver(t *task) {
	err := s.post(t.webhook, t.body)
	if err == nil {
		return
	}

	t.attempt++
	if t.attempt >= s.retryCount {
		s.logger.Warn("webhook delivery failed, giving up",
			zap.String("webhook", t.webhook.Name),
			zap.Int("attempts", t.attempt),
			zap.Error(err))
		return
	}

	select {
	case <-time.After(s.retryDelay):
	case <-s.stopCh:
		return
	}
	select {
	case s.queue <- t:
	default:
		s.logger.Warn("webhook queue full, dropping retry",
			zap.String("webhook", t.webhook.Name))
	}
}

func (s *Sender) post(webhook *db.Webhook, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, webhook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if webhook.Secret != "" {
		req.Header.Set("X-Inkfeed-Signature", Sign(webhook.Secret, body))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 of the payload under the webhook's
// secret. Subscribers verify it to authenticate deliveries.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
