package fedtrain

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
)

func TestPushRound(t *testing.T) {
	var got prompb.WriteRequest
	var header http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		raw, err := snappy.Decode(nil, body)
		if err != nil {
			t.Errorf("snappy decode: %v", err)
		}
		if err := got.Unmarshal(raw); err != nil {
			t.Errorf("proto decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client, err := NewRemoteWriteClient(RemoteWriteConfig{Enabled: true, URL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	m := RoundMetrics{Round: 2, Loss: 0.42, Accuracy: 0.8, Clients: 4}
	if err := client.PushRound(context.Background(), "run-abc", m); err != nil {
		t.Fatalf("push: %v", err)
	}

	if header.Get("Content-Encoding") != "snappy" {
		t.Fatalf("Content-Encoding = %q", header.Get("Content-Encoding"))
	}
	if header.Get("Content-Type") != "application/x-protobuf" {
		t.Fatalf("Content-Type = %q", header.Get("Content-Type"))
	}
	if header.Get("X-Prometheus-Remote-Write-Version") == "" {
		t.Fatal("missing remote-write version header")
	}

	if len(got.Timeseries) != 3 {
		t.Fatalf("got %d series, want 3", len(got.Timeseries))
	}
	byName := map[string]prompb.TimeSeries{}
	for _, ts := range got.Timeseries {
		labels := map[string]string{}
		for _, l := range ts.Labels {
			labels[l.Name] = l.Value
		}
		byName[labels["__name__"]] = ts
		if labels["run_id"] != "run-abc" || labels["round"] != "2" || labels["job"] != "fedtrain" {
			t.Fatalf("unexpected labels %v", labels)
		}
	}
	if s, ok := byName["fedtrain_round_loss"]; !ok || s.Samples[0].Value != 0.42 {
		t.Fatalf("loss series = %+v", byName["fedtrain_round_loss"])
	}
	if s, ok := byName["fedtrain_round_accuracy"]; !ok || s.Samples[0].Value != 0.8 {
		t.Fatalf("accuracy series = %+v", byName["fedtrain_round_accuracy"])
	}
	if s, ok := byName["fedtrain_round_clients"]; !ok || s.Samples[0].Value != 4 {
		t.Fatalf("clients series = %+v", byName["fedtrain_round_clients"])
	}
}

func TestPushRoundRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client, err := NewRemoteWriteClient(RemoteWriteConfig{
		Enabled:    true,
		URL:        srv.URL,
		MaxRetries: 3,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if err := client.PushRound(context.Background(), "run-retry", RoundMetrics{Round: 1}); err != nil {
		t.Fatalf("push should succeed on the third attempt: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("server saw %d attempts, want 3", calls.Load())
	}
}

func TestPushRoundGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := NewRemoteWriteClient(RemoteWriteConfig{
		Enabled:    true,
		URL:        srv.URL,
		MaxRetries: 2,
		Timeout:    time.Second,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if err := client.PushRound(context.Background(), "run-fail", RoundMetrics{Round: 1}); err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
}

func TestNewRemoteWriteClientRequiresURL(t *testing.T) {
	if _, err := NewRemoteWriteClient(RemoteWriteConfig{Enabled: true}); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}
