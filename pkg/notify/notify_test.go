package notify

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/aion/internal/health"
	"github.com/invisible-tech/aion/internal/organism"
)

func canListen(t *testing.T) bool {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot bind for test: %v", err)
		return false
	}
	ln.Close()
	return true
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func sampleAlert() health.Alert {
	return health.Alert{
		ID:        "alert-1",
		Timestamp: time.Now(),
		Tick:      3,
		Subject:   "cortex",
		From:      organism.TierOK,
		To:        organism.TierDegraded,
		Label:     "degraded",
		Value:     0.8,
	}
}

func TestNewPayload(t *testing.T) {
	p := NewPayload(sampleAlert())
	if p.Severity != "DEGRADED" || p.Resolved || p.From != "ok" || p.To != "degraded" {
		t.Errorf("payload = %+v", p)
	}

	a := sampleAlert()
	a.From, a.To = organism.TierCritical, organism.TierOK
	p = NewPayload(a)
	if p.Severity != "RESOLVED" || !p.Resolved {
		t.Errorf("recovery payload = %+v", p)
	}
}

func TestForwarder_SendAlert_Success(t *testing.T) {
	if !canListen(t) {
		return
	}
	got := make(chan Payload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/alerts" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer my-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var p Payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		got <- p
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := NewForwarder(Config{Endpoint: server.URL + "/", APIKey: "my-key", Timeout: 5 * time.Second}, quietLogger())
	if err := f.SendAlert(context.Background(), sampleAlert()); err != nil {
		t.Fatalf("SendAlert: %v", err)
	}
	p := <-got
	if p.ID != "alert-1" || p.Subject != "cortex" || p.Tick != 3 {
		t.Errorf("received payload = %+v", p)
	}
}

func TestForwarder_SendAlert_ServerError(t *testing.T) {
	if !canListen(t) {
		return
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	f := NewForwarder(Config{Endpoint: server.URL}, quietLogger())
	if err := f.SendAlert(context.Background(), sampleAlert()); err == nil {
		t.Error("expected error on 500")
	}
}

func TestForwarder_NotConfigured(t *testing.T) {
	f := NewForwarder(Config{}, quietLogger())
	if err := f.SendAlert(context.Background(), sampleAlert()); err == nil {
		t.Error("SendAlert without endpoint should fail")
	}
	if err := f.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck without endpoint should fail")
	}
}

func TestForwarder_NotifyDropsWhenFull(t *testing.T) {
	f := NewForwarder(Config{Endpoint: "http://127.0.0.1:1", BufferSize: 2}, quietLogger())
	for i := 0; i < 5; i++ {
		f.Notify(sampleAlert())
	}
	_, _, dropped := f.Stats()
	if dropped != 3 {
		t.Errorf("dropped = %d, want 3", dropped)
	}
}

func TestForwarder_Run(t *testing.T) {
	if !canListen(t) {
		return
	}
	received := make(chan struct{}, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- struct{}{}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	f := NewForwarder(Config{Endpoint: server.URL}, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	f.Notify(sampleAlert())
	f.Notify(sampleAlert())
	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-time.After(2 * time.Second):
			t.Fatalf("alert %d not delivered", i+1)
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if sent, _, _ := f.Stats(); sent == 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	sent, failed, _ := f.Stats()
	if sent != 2 || failed != 0 {
		t.Errorf("sent=%d failed=%d, want 2/0", sent, failed)
	}
}

func TestForwarder_HealthCheck(t *testing.T) {
	if !canListen(t) {
		return
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := NewForwarder(Config{Endpoint: server.URL}, quietLogger())
	if err := f.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
}
