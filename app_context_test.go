package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"inventariagent/internal/model"
	"inventariagent/internal/notify"
	"inventariagent/internal/store"
)

func TestBuildSinkFallsBackToLog(t *testing.T) {
	cfg := newTestConfig()
	sink := buildSink(cfg, http.DefaultClient)
	if _, ok := sink.(notify.LogSink); !ok {
		t.Fatalf("expected LogSink when no channel is enabled, got %T", sink)
	}
}

func TestBuildSinkFansOutToEnabledChannels(t *testing.T) {
	cfg := newTestConfig()
	cfg.Notifications.MailRelay = MailRelayConfig{Enabled: true, BaseURL: "http://relay.local", APIKey: "k", Recipients: []string{"it@school.example"}, TimeoutSeconds: 1}
	cfg.Notifications.SMTP = SMTPConfig{Enabled: true, Addr: "mail.local:587", From: "agent@school.example", Recipients: []string{"it@school.example"}}

	cfg.Notifications.Telegram = TelegramConfig{Enabled: true, BotToken: "123:abc", ChatID: 42}

	// Telegram is not contacted until the first alert.
	sink := buildSink(cfg, http.DefaultClient)
	multi, ok := sink.(notify.Multi)
	if !ok || len(multi) != 3 {
		t.Fatalf("expected three sinks, got %T %v", sink, sink)
	}
}

func TestOpenStoreBackends(t *testing.T) {
	cfg := newTestConfig()
	st, closer, err := openStore(context.Background(), cfg)
	if err != nil || closer != nil {
		t.Fatalf("memory store: %v", err)
	}
	if _, ok := st.(*store.Memory); !ok {
		t.Fatalf("expected memory store, got %T", st)
	}

	mr := miniredis.RunT(t)
	cfg.Store.Backend = "redis"
	cfg.Store.RedisURL = "redis://" + mr.Addr() + "/0"
	st, closer, err = openStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("redis store: %v", err)
	}
	defer closer()
	if err := st.Heartbeat(context.Background(), "pc-lab-07", model.MetricsSnapshot{CPUTempC: 50}, testNow); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if got := mr.HGet("inv:device:pc-lab-07", "cpuTemp"); got == "" {
		t.Fatalf("heartbeat hash not written")
	}

	cfg.Store.Backend = "firestore"
	if _, _, err := openStore(context.Background(), cfg); err == nil {
		t.Fatalf("unknown backend should fail")
	}
}

func TestInitAppWithRedisAndMailRelay(t *testing.T) {
	var mu sync.Mutex
	var posted []map[string]string
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var p map[string]string
		_ = json.Unmarshal(body, &p)
		mu.Lock()
		posted = append(posted, p)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer relay.Close()

	mr := miniredis.RunT(t)
	cfg := newTestConfig()
	cfg.Store.Backend = "redis"
	cfg.Store.RedisURL = "redis://" + mr.Addr()
	cfg.Notifications.MailRelay = MailRelayConfig{
		Enabled:        true,
		BaseURL:        relay.URL,
		Endpoint:       "/api/sendMail",
		APIKey:         "secret",
		Recipients:     []string{"a@school.example", "b@school.example"},
		TimeoutSeconds: 2,
	}

	app, err := InitApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("InitApp: %v", err)
	}
	defer app.Close()

	// Swap the real killer out before any process is handled.
	app = assembleApp(cfg, appParts{Store: app.Store, Sink: buildSink(cfg, http.DefaultClient), Killer: fakeKiller{}, Sensors: &fakeSensors{}, Inventory: fakeInventory{}})

	registerDevice(context.Background(), app)
	if got := mr.HGet("inv:device:pc-lab-07", "cpu"); got != "Intel Core i5-10400" {
		t.Fatalf("device inventory not in redis, cpu = %q", got)
	}

	res := app.Enforcer.Handle(context.Background(), model.ProcessObservation{Name: "HD-Player.exe", PID: 77})
	if !res.Decision.Blocked() || !res.Notified {
		t.Fatalf("expected blocked and notified, got %+v", res)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(posted) != 2 || posted[0]["to"] != "a@school.example" || posted[1]["to"] != "b@school.example" {
		t.Fatalf("expected one relay post per recipient, got %v", posted)
	}
	if keys := mr.Keys(); len(keys) == 0 {
		t.Fatalf("policy incident not persisted in redis")
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	inc, err := app.Store.FindRecentByTagAndSeverity(waitCtx, "pc-lab-07", "policy", model.SeverityHigh, testNow.Add(-time.Hour*24*365*10))
	if err != nil || inc == nil {
		t.Fatalf("policy incident lookup: %v %v", inc, err)
	}
}

func TestInitAppSurvivesUnreachableStore(t *testing.T) {
	cfg := newTestConfig()
	cfg.Store.Backend = "redis"
	cfg.Store.RedisURL = "redis://127.0.0.1:1/0"
	cfg.Intervals.StoreTimeoutMillis = 200

	app, err := InitApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("InitApp should not fail on an unreachable store: %v", err)
	}
	defer app.Close()
	app = assembleApp(cfg, appParts{Store: app.Store, Killer: fakeKiller{}, Sensors: &fakeSensors{}, Inventory: fakeInventory{}})
	registerDevice(context.Background(), app)

	res := app.Enforcer.Handle(context.Background(), model.ProcessObservation{Name: "HD-Player.exe", PID: 77})
	if !res.Decision.Blocked() || !res.Termination.Terminated {
		t.Fatalf("blocking must keep working without the store, got %+v", res)
	}
}
