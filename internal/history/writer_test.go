package history

import (
	"context"
	"testing"
	"time"

	"lp-hedge-bot/internal/config"

	"go.uber.org/zap"
)

func TestDisabledWriterIsNil(t *testing.T) {
	w, err := New(config.HistoryConfig{Enabled: false}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if w != nil {
		t.Fatalf("disabled config returned a live writer")
	}
}

func TestNilWriterIsNoOp(t *testing.T) {
	var w *Writer
	w.Start(context.Background())
	w.Enqueue(HedgeRow{Time: time.Now(), PositionID: "pos-1"})
	if err := w.Close(); err != nil {
		t.Fatalf("Close on nil writer: %v", err)
	}
}

func TestEnabledWriterRequiresDSN(t *testing.T) {
	if _, err := New(config.HistoryConfig{Enabled: true}, zap.NewNop()); err == nil {
		t.Fatalf("expected error for enabled history without dsn")
	}
}
