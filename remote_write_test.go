package procession

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
)

func TestToWriteRequest(t *testing.T) {
	const ref = int64(1_700_000_000_000)
	p := &Procession{}
	a := p.EnsureLabel(NewKey("requests", Label{Key: "method", Value: "GET"}))
	b := p.EnsureLabel(NewKey("temperature"))
	p.insertAt(CounterEntry(1, OpAdd), a, ref)
	p.insertAt(GaugeEntry(21.5, OpSet), b, ref+10)
	p.insertAt(CounterEntry(2, OpAdd), a, ref+20)

	req := ToWriteRequest(p)
	if len(req.Timeseries) != 2 {
		t.Fatalf("len(Timeseries) = %d, want 2", len(req.Timeseries))
	}

	first := req.Timeseries[0]
	wantLabels := []prompb.Label{
		{Name: "__name__", Value: "requests"},
		{Name: "method", Value: "GET"},
	}
	if len(first.Labels) != len(wantLabels) {
		t.Fatalf("len(Labels) = %d, want %d", len(first.Labels), len(wantLabels))
	}
	for i, l := range wantLabels {
		if first.Labels[i].Name != l.Name || first.Labels[i].Value != l.Value {
			t.Errorf("label %d = %+v, want %+v", i, first.Labels[i], l)
		}
	}
	if len(first.Samples) != 2 {
		t.Fatalf("len(Samples) = %d, want 2", len(first.Samples))
	}
	if first.Samples[0].Value != 1 || first.Samples[0].Timestamp != ref {
		t.Errorf("sample 0 = %+v, want value 1 at %d", first.Samples[0], ref)
	}
	if first.Samples[1].Value != 2 || first.Samples[1].Timestamp != ref+20 {
		t.Errorf("sample 1 = %+v, want value 2 at %d", first.Samples[1], ref+20)
	}

	second := req.Timeseries[1]
	if len(second.Labels) != 1 || second.Labels[0].Value != "temperature" {
		t.Errorf("second series labels = %+v", second.Labels)
	}
	if len(second.Samples) != 1 || second.Samples[0].Value != 21.5 {
		t.Errorf("second series samples = %+v", second.Samples)
	}
}

func TestExportRemoteWrite(t *testing.T) {
	var (
		gotBody    []byte
		gotHeaders http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := &Procession{}
	label := p.EnsureLabel(NewKey("requests"))
	p.insertAt(CounterEntry(3, OpAdd), label, 1000)

	cfg := RemoteWriteConfig{
		URL:     srv.URL,
		Headers: map[string]string{"Authorization": "Bearer token"},
	}
	if err := ExportRemoteWrite(context.Background(), p, cfg); err != nil {
		t.Fatalf("ExportRemoteWrite() error = %v", err)
	}

	for name, want := range map[string]string{
		"Content-Type":                      "application/x-protobuf",
		"Content-Encoding":                  "snappy",
		"X-Prometheus-Remote-Write-Version": "0.1.0",
		"Authorization":                     "Bearer token",
	} {
		if got := gotHeaders.Get(name); got != want {
			t.Errorf("header %s = %q, want %q", name, got, want)
		}
	}

	raw, err := snappy.Decode(nil, gotBody)
	if err != nil {
		t.Fatalf("snappy.Decode() error = %v", err)
	}
	var req prompb.WriteRequest
	if err := req.Unmarshal(raw); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(req.Timeseries) != 1 {
		t.Fatalf("len(Timeseries) = %d, want 1", len(req.Timeseries))
	}
	sample := req.Timeseries[0].Samples[0]
	if sample.Value != 3 || sample.Timestamp != 1000 {
		t.Errorf("sample = %+v, want value 3 at 1000", sample)
	}
}

func TestExportRemoteWriteErrors(t *testing.T) {
	p := &Procession{}
	label := p.EnsureLabel(NewKey("m"))
	p.insertAt(CounterEntry(1, OpAdd), label, 1000)

	if err := ExportRemoteWrite(context.Background(), p, RemoteWriteConfig{}); err == nil {
		t.Error("missing URL should fail")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()
	if err := ExportRemoteWrite(context.Background(), p, RemoteWriteConfig{URL: srv.URL}); err == nil {
		t.Error("non-2xx response should fail")
	}
}
