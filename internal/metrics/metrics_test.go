package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserveFlush(t *testing.T) {
	ObserveFlush("metrics_test_events", 3, nil)
	ObserveFlush("metrics_test_events", 0, errors.New("boom"))

	if val := testutil.ToFloat64(flushesTotal.WithLabelValues("metrics_test_events", "success")); val != 1 {
		t.Errorf("expected one successful flush, got %f", val)
	}
	if val := testutil.ToFloat64(flushesTotal.WithLabelValues("metrics_test_events", "error")); val != 1 {
		t.Errorf("expected one failed flush, got %f", val)
	}
	if val := testutil.ToFloat64(flushedDocumentsTotal.WithLabelValues("metrics_test_events")); val != 3 {
		t.Errorf("expected 3 flushed documents, got %f", val)
	}
}

func TestObserveRecordAndBuffered(t *testing.T) {
	ObserveRecord("metrics_test_profiles", "duplicate")
	ObserveRecord("metrics_test_profiles", "duplicate")
	SetBuffered("metrics_test_profiles", 7)

	if val := testutil.ToFloat64(recordsTotal.WithLabelValues("metrics_test_profiles", "duplicate")); val != 2 {
		t.Errorf("expected 2 duplicates, got %f", val)
	}
	if val := testutil.ToFloat64(bufferedDocuments.WithLabelValues("metrics_test_profiles")); val != 7 {
		t.Errorf("expected gauge 7, got %f", val)
	}
}

func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://google.com", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
