// Package main runs a demo: it starts a local receiver, registers it as a webhook, tails its
// delivery log over WebSocket and emits a domain event (over Redis when REDIS_URL is set,
// otherwise through the HTTP ingest endpoint).
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"bruinhooks/internal/config"
	"bruinhooks/internal/events"
	"bruinhooks/internal/model"
	"bruinhooks/internal/webhooks"
)

const demoSecret = "demo-secret"

func main() {
	log := logrus.New()
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Local receiver that checks the signature
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Fatal(err)
	}
	go func() {
		_ = http.Serve(ln, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			ok := webhooks.Verify(body, demoSecret, r.Header.Get(webhooks.SignatureHeader))
			log.WithFields(logrus.Fields{
				"event":     r.Header.Get("X-Bruin-Event"),
				"attempt":   r.Header.Get("X-Bruin-Attempt"),
				"signature": ok,
			}).Infof("receiver <- %s", body)
			if !ok {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
	}()

	// Register the receiver
	reg, _ := json.Marshal(model.SubscriptionInput{URL: "http://" + ln.Addr().String() + "/hook", Secret: demoSecret})
	resp, err := http.Post(base+"/v1/webhooks", "application/json", bytes.NewReader(reg))
	if err != nil {
		log.Fatal(err)
	}
	var sub model.Subscription
	err = json.NewDecoder(resp.Body).Decode(&sub)
	_ = resp.Body.Close()
	if err != nil || sub.ID == "" {
		log.Fatalf("register failed: status=%d err=%v", resp.StatusCode, err)
	}
	log.Infof("webhook id: %s", sub.ID)
	defer func() {
		req, _ := http.NewRequest(http.MethodDelete, base+"/v1/webhooks/"+sub.ID, nil)
		_, _ = http.DefaultClient.Do(req)
	}()

	// Tail the delivery log
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/webhooks/" + sub.ID + "/logs/stream"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var entry model.DeliveryLog
			if err := c.ReadJSON(&entry); err != nil {
				log.Infof("read: %v", err)
				return
			}
			log.WithFields(logrus.Fields{"attempt": entry.Attempt, "success": entry.Success, "duration_ms": entry.DurationMs}).
				Infof("WS <- %s", entry.EventType)
		}
	}()

	note := "demo-note"
	evt := model.DomainEvent{EventType: model.EventNoteCreated, NoteID: &note, Summary: "Created from the demo client", Actor: model.ActorUser, Timestamp: time.Now().UTC()}
	time.Sleep(300 * time.Millisecond)
	if err := emit(base, evt); err != nil {
		log.Fatal(err)
	}

	// Wait briefly to receive the delivery
	select {
	case <-time.After(3 * time.Second):
	case <-done:
	}
}

func emit(base string, evt model.DomainEvent) error {
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg := config.RedisConfig{URL: redisURL, EventsChannel: os.Getenv("REDIS_EVENTS_CHANNEL")}
		if cfg.EventsChannel == "" {
			cfg.EventsChannel = "bruin:events"
		}
		rdb, err := events.NewRedisClient(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return events.NewRedisPublisher(rdb, cfg.EventsChannel).Publish(ctx, evt)
	}
	body, _ := json.Marshal(evt)
	resp, err := http.Post(base+"/v1/events", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("emit event: status %d", resp.StatusCode)
	}
	return nil
}
