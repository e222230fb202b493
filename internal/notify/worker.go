// Package notify sends Web Push alerts when a sensor goes offline or its
// battery runs low.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/sirupsen/logrus"

	"ble-sensors.klederson.com/internal/config"
	"ble-sensors.klederson.com/internal/sensor"
)

// Alert is one status transition worth telling subscribers about.
type Alert struct {
	MAC    string        `json:"mac"`
	Name   string        `json:"name"`
	Status sensor.Status `json:"-"`
	At     time.Time     `json:"at"`
}

// Message returns the human readable alert text.
func (a Alert) Message() string {
	switch a.Status {
	case sensor.StatusLowBattery:
		return fmt.Sprintf("%s: battery low", a.Name)
	case sensor.StatusOffline:
		return fmt.Sprintf("%s: no data received", a.Name)
	default:
		return fmt.Sprintf("%s: back to normal", a.Name)
	}
}

type payload struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	MAC    string `json:"mac"`
	Status string `json:"status"`
	At     string `json:"at"`
}

// Payload encodes the alert as the JSON body of a push message.
func (a Alert) Payload() ([]byte, error) {
	return json.Marshal(payload{
		Title:  config.AppName,
		Body:   a.Message(),
		MAC:    a.MAC,
		Status: a.Status.String(),
		At:     a.At.UTC().Format(time.RFC3339),
	})
}

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender sends notifications with the webpush library.
type WebPushSender struct{}

// Send implements NotificationSender.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool fans alerts out to every configured subscription.
type WorkerPool struct {
	size    int
	jobs    chan Alert
	webpush *webpush.Options
	sender  NotificationSender
	log     *logrus.Entry

	mu      sync.Mutex
	subs    []config.PushSubscription
	expired map[string]bool
	sent    int
}

// NewWorkerPool creates a pool with size workers from the push settings.
func NewWorkerPool(cfg config.PushConfig, logger *logrus.Logger) *WorkerPool {
	size := cfg.Workers
	if size < 1 {
		size = 1
	}
	return &WorkerPool{
		size: size,
		jobs: make(chan Alert, size*4),
		webpush: &webpush.Options{
			VAPIDPublicKey:  cfg.PublicKey,
			VAPIDPrivateKey: cfg.PrivateKey,
			Subscriber:      cfg.Subject,
			TTL:             cfg.TTL,
		},
		sender:  &WebPushSender{},
		log:     logger.WithField("component", "notify"),
		subs:    append([]config.PushSubscription(nil), cfg.Subscriptions...),
		expired: make(map[string]bool),
	}
}

// Start launches the worker goroutines. They exit when ctx is cancelled.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log := wp.log.WithField("worker", id)
	log.Debug("worker started")
	for {
		select {
		case alert := <-wp.jobs:
			wp.deliver(alert)
		case <-ctx.Done():
			log.Debug("worker shutting down")
			return
		}
	}
}

// Dispatch queues an alert. It blocks while the queue is full unless ctx is
// cancelled first.
func (wp *WorkerPool) Dispatch(ctx context.Context, alert Alert) {
	select {
	case wp.jobs <- alert:
	case <-ctx.Done():
		wp.log.WithField("mac", alert.MAC).Warn("dropping alert, shutting down")
	}
}

// Sent returns how many notifications were accepted by push services.
func (wp *WorkerPool) Sent() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.sent
}

// Active returns the subscriptions that have not expired.
func (wp *WorkerPool) Active() []config.PushSubscription {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	out := make([]config.PushSubscription, 0, len(wp.subs))
	for _, s := range wp.subs {
		if !wp.expired[s.Endpoint] {
			out = append(out, s)
		}
	}
	return out
}

func (wp *WorkerPool) deliver(alert Alert) {
	body, err := alert.Payload()
	if err != nil {
		wp.log.WithError(err).Error("failed to encode alert")
		return
	}

	subs := wp.Active()
	wp.log.WithFields(logrus.Fields{
		"mac":    alert.MAC,
		"status": alert.Status.String(),
		"subs":   len(subs),
	}).Info("sending alert")

	for _, sub := range subs {
		wp.sendNotification(sub, body)
	}
}

func (wp *WorkerPool) sendNotification(sub config.PushSubscription, body []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(body, wpSub, wp.webpush)
	if err != nil {
		wp.log.WithField("endpoint", sub.Endpoint).WithError(err).Warn("failed to send notification")
		return
	}
	defer resp.Body.Close()

	wp.mu.Lock()
	defer wp.mu.Unlock()
	switch {
	case resp.StatusCode == http.StatusGone:
		wp.log.WithField("endpoint", sub.Endpoint).Info("subscription expired, disabling")
		wp.expired[sub.Endpoint] = true
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		wp.sent++
	default:
		wp.log.WithFields(logrus.Fields{
			"endpoint": sub.Endpoint,
			"status":   resp.StatusCode,
		}).Warn("push service rejected notification")
	}
}
