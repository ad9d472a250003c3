package telemetry

import (
	"context"
	"testing"
)

func TestSafeAttributesFiltersSecrets(t *testing.T) {
	kvs := map[string]interface{}{
		"prompt":               "should drop",
		"post_text":            "drop",
		"api_key":              "AIza123",
		"customApiKey":         "AIza456",
		"credential":           "abc",
		"postscore.locale":     "ja",
		"postscore.custom_key": true,
		"long_string":          string(make([]byte, 600)),
		"postscore.graphemes":  42,
		"postscore.score":      71.5,
		"postscore.tags":       []string{"unsupported"},
		"authorization":        "secret",
	}

	attrs := SafeAttributes(kvs)
	kept := map[string]bool{}
	for _, a := range attrs {
		switch a.Key {
		case "prompt", "post_text", "api_key", "customApiKey", "credential", "authorization":
			t.Fatalf("unexpected unsafe attribute %s", a.Key)
		case "long_string":
			t.Fatalf("expected long string to be skipped")
		case "postscore.tags":
			t.Fatalf("expected unsupported value type to be skipped")
		}
		kept[string(a.Key)] = true
	}
	for _, k := range []string{"postscore.locale", "postscore.custom_key", "postscore.graphemes", "postscore.score"} {
		if !kept[k] {
			t.Fatalf("expected %s to be kept", k)
		}
	}
}

func TestNoopProviderRecords(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if p.Enabled {
		t.Fatalf("expected disabled provider")
	}
	p.RecordRequestMetrics(context.Background(), "stream", "complete", "", 12.5)
	p.RecordStreamMetrics(context.Background(), 3.2, 7)
	_, span := p.Tracer().Start(context.Background(), "postscore.request")
	span.End()
	p.Shutdown(context.Background())

	var nilProvider *Provider
	nilProvider.RecordRequestMetrics(context.Background(), "once", "error", "NETWORK_ERROR", 1)
	_, span = nilProvider.Tracer().Start(context.Background(), "postscore.request")
	span.End()
}

func TestNewProviderRejectsUnknownProtocol(t *testing.T) {
	if _, err := NewProvider(context.Background(), Config{Enabled: true, Protocol: "carrier-pigeon"}); err == nil {
		t.Fatalf("expected error for unknown protocol")
	}
}
