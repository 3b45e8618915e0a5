package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestBuildEmitsJSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := Build(Config{Level: "info", Component: "ingest"}, &buf)
	l.Info().Msg("hello")

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if decoded["component"] != "ingest" {
		t.Errorf("component = %v, want ingest", decoded["component"])
	}
	if decoded["msg"] != "hello" {
		t.Errorf("msg = %v, want hello", decoded["msg"])
	}
}

func TestFromContextAttachesFields(t *testing.T) {
	var buf bytes.Buffer
	base := Build(Config{Level: "info"}, &buf)

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithOperation(ctx, "query.rank_nearby")
	ctx = WithTaxonID(ctx, 42)

	scoped := FromContext(ctx, &base)
	scoped.Info().Msg("scoped")

	line := buf.String()
	if !strings.Contains(line, `"request_id":"req-1"`) {
		t.Errorf("expected request_id in log line: %s", line)
	}
	if !strings.Contains(line, `"operation":"query.rank_nearby"`) {
		t.Errorf("expected operation in log line: %s", line)
	}
	if !strings.Contains(line, `"taxon_id":42`) {
		t.Errorf("expected taxon_id in log line: %s", line)
	}
}

func TestNewIDIsNonEmptyAndUnique(t *testing.T) {
	a := NewID()
	b := NewID()
	if a == "" || b == "" {
		t.Fatal("expected non-empty ids")
	}
	if a == b {
		t.Error("expected distinct ids")
	}
}
