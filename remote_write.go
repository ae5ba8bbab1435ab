package procession

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
)

// HTTPDoer allows injecting a custom HTTP client, primarily for testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RemoteWriteConfig configures Prometheus remote-write export.
type RemoteWriteConfig struct {
	// URL is the remote-write endpoint.
	URL string `yaml:"url"`
	// TimeoutSeconds bounds the request when set.
	TimeoutSeconds int `yaml:"timeout_seconds"`
	// Headers are added to every request, e.g. for authentication.
	Headers map[string]string `yaml:"headers"`

	// Timeout overrides TimeoutSeconds when set programmatically.
	Timeout time.Duration `yaml:"-"`
	// HTTPClient overrides the default client. If nil, a client with
	// the configured timeout is used.
	HTTPClient HTTPDoer `yaml:"-"`
}

func (cfg RemoteWriteConfig) timeout() time.Duration {
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	if cfg.TimeoutSeconds > 0 {
		return time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return 10 * time.Second
}

// ToWriteRequest converts the recorded events into a Prometheus
// remote-write request. Every event becomes one sample on the series
// identified by __name__ plus the key's label pairs; raw event values are
// exported without aggregation, so counter deltas arrive as deltas. Events
// sharing a key collapse into one time series in first-seen order.
func ToWriteRequest(p *Procession) *prompb.WriteRequest {
	series := make(map[string]*prompb.TimeSeries)
	var order []string

	it := p.Iter()
	for ref, ok := it.Next(); ok; ref, ok = it.Next() {
		ck := ref.Key.String()
		ts, exists := series[ck]
		if !exists {
			ts = &prompb.TimeSeries{Labels: promLabels(ref.Key)}
			series[ck] = ts
			order = append(order, ck)
		}
		var value float64
		if ref.Entry.Kind == KindCounter {
			value = float64(ref.Entry.Count)
		} else {
			value = float64(ref.Entry.Value)
		}
		ts.Samples = append(ts.Samples, prompb.Sample{
			Value:     value,
			Timestamp: ref.When,
		})
	}

	req := &prompb.WriteRequest{Timeseries: make([]prompb.TimeSeries, 0, len(order))}
	for _, ck := range order {
		req.Timeseries = append(req.Timeseries, *series[ck])
	}
	return req
}

// promLabels converts a key to remote-write labels sorted by name, with
// the metric name under __name__.
func promLabels(k *Key) []prompb.Label {
	labels := make([]prompb.Label, 0, len(k.Labels())+1)
	labels = append(labels, prompb.Label{Name: "__name__", Value: k.Name()})
	for _, l := range k.Labels() {
		labels = append(labels, prompb.Label{Name: l.Key, Value: l.Value})
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i].Name < labels[j].Name })
	return labels
}

// ExportRemoteWrite pushes every recorded event to a Prometheus
// remote-write endpoint as a snappy-compressed protobuf request.
func ExportRemoteWrite(ctx context.Context, p *Procession, cfg RemoteWriteConfig) error {
	if cfg.URL == "" {
		return fmt.Errorf("remote write: no URL configured")
	}
	data, err := ToWriteRequest(p).Marshal()
	if err != nil {
		return fmt.Errorf("remote write: marshal: %w", err)
	}
	compressed := snappy.Encode(nil, data)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("remote write: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("Content-Encoding", "snappy")
	req.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout()}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("remote write: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("remote write: endpoint returned %s", resp.Status)
	}
	return nil
}
