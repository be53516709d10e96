package fedtrain

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
)

// RemoteWriteConfig configures pushing per-round metrics to a Prometheus
// remote-write endpoint. The push is observability only: failures are
// logged by the orchestrator and never affect the training run.
type RemoteWriteConfig struct {
	// Enabled turns the push on.
	Enabled bool `yaml:"enabled"`

	// URL is the remote-write endpoint.
	URL string `yaml:"url"`

	// Job is attached as a "job" label. Default: "fedtrain".
	Job string `yaml:"job"`

	// Timeout bounds each push. Default: 10s.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries is the attempt budget per push. Default: 3.
	MaxRetries int `yaml:"max_retries"`
}

// RemoteWriteClient encodes round metrics in the Prometheus remote-write
// wire format (snappy-compressed protobuf) and POSTs them.
type RemoteWriteClient struct {
	cfg     RemoteWriteConfig
	client  *http.Client
	retryer *Retryer
}

// NewRemoteWriteClient validates the config and builds a client.
func NewRemoteWriteClient(cfg RemoteWriteConfig) (*RemoteWriteClient, error) {
	if cfg.URL == "" {
		return nil, &ConfigError{Field: "remote_write.url", Message: "must not be empty"}
	}
	if cfg.Job == "" {
		cfg.Job = "fedtrain"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &RemoteWriteClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		retryer: NewRetryer(RetryConfig{
			MaxAttempts:       cfg.MaxRetries,
			InitialBackoff:    200 * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            0.1,
		}),
	}, nil
}

// PushRound sends one round's aggregate loss and accuracy as the series
// fedtrain_round_loss and fedtrain_round_accuracy, labeled with the run.
func (c *RemoteWriteClient) PushRound(ctx context.Context, runID string, m RoundMetrics) error {
	now := time.Now().UnixMilli()

	req := &prompb.WriteRequest{
		Timeseries: []prompb.TimeSeries{
			c.series("fedtrain_round_loss", runID, m.Round, m.Loss, now),
			c.series("fedtrain_round_accuracy", runID, m.Round, m.Accuracy, now),
			c.series("fedtrain_round_clients", runID, m.Round, float64(m.Clients), now),
		},
	}

	raw, err := req.Marshal()
	if err != nil {
		return fmt.Errorf("encode remote write request: %w", err)
	}
	body := snappy.Encode(nil, raw)

	return c.retryer.Do(ctx, func() error {
		return c.post(ctx, body)
	})
}

func (c *RemoteWriteClient) series(name, runID string, round int, value float64, ts int64) prompb.TimeSeries {
	return prompb.TimeSeries{
		Labels: []prompb.Label{
			{Name: "__name__", Value: name},
			{Name: "job", Value: c.cfg.Job},
			{Name: "run_id", Value: runID},
			{Name: "round", Value: fmt.Sprintf("%d", round)},
		},
		Samples: []prompb.Sample{{Value: value, Timestamp: ts}},
	}
}

func (c *RemoteWriteClient) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Content-Encoding", "snappy")
	req.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("remote write rejected: %s", resp.Status)
	}
	return nil
}
