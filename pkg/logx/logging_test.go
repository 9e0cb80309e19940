package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	kit "remindbot/internal/transport"
)

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "dispatch"))
	log.Info("job fired", String("job", "event:7"), Int64("item", 7), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal %q: %v", buf.String(), err)
	}
	if m["message"] != "job fired" || m["comp"] != "dispatch" || m["job"] != "event:7" {
		t.Fatalf("unexpected fields: %v", m)
	}
	if m["item"] != float64(7) {
		t.Fatalf("item = %v, want 7", m["item"])
	}
	if _, ok := m["caller"]; !ok {
		t.Fatalf("caller missing: %v", m)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %q", buf.String())
	}
	if log.Enabled(LevelDebug) || !log.Enabled(LevelError) {
		t.Fatal("Enabled() disagrees with level")
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var log Logger
	if !log.IsZero() {
		t.Fatal("zero Logger should report IsZero")
	}
	log.Error("ignored", String("k", "v"))
	if Nop().IsZero() {
		t.Fatal("Nop() should not be zero")
	}
}

func TestFormatTelegramJSON(t *testing.T) {
	got := formatTelegramJSON([]byte(`{"level":"warn","message":"delivery failed","time":"x","job":"event:1","comp":"dispatch"}` + "\n"))
	want := "[WARN] delivery failed\n- comp=dispatch\n- job=event:1"
	if got != want {
		t.Fatalf("formatTelegramJSON = %q, want %q", got, want)
	}
	if got := formatTelegramJSON([]byte("  plain text  ")); got != "plain text" {
		t.Fatalf("formatTelegramJSON(plain) = %q", got)
	}
	long := strings.Repeat("a", 4000)
	if got := truncate(long, 100); len(got) != 100 || !strings.HasSuffix(got, "...") {
		t.Fatalf("truncate len = %d", len(got))
	}
}

type chatSink struct{ sent chan string }

func (c *chatSink) Start(context.Context, chan<- kit.Update) error { return nil }
func (c *chatSink) Stop(context.Context) error                     { return nil }
func (c *chatSink) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	c.sent <- text
	return kit.MessageRef{}, nil
}
func (c *chatSink) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}
func (c *chatSink) AnswerCallback(context.Context, string, string) error { return nil }

func TestServiceSinks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	chat := &chatSink{sent: make(chan string, 4)}
	svc, log := New(Config{
		Level: "debug",
		File:  FileConfig{Enabled: true, Path: path},
		Telegram: TelegramConfig{
			Enabled: true, ChatID: -5, MinLevel: "error", RatePerSec: 10,
		},
	}, chat)

	log.Warn("queue filling")
	log.Error("delivery failed", String("job", "reminder:3"))
	select {
	case got := <-chat.sent:
		if !strings.HasPrefix(got, "[ERROR] delivery failed") || !strings.Contains(got, "job=reminder:3") {
			t.Fatalf("telegram text = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("error entry not forwarded")
	}

	svc.Apply(Config{Level: "error", File: FileConfig{Enabled: true, Path: path}})
	log.Info("after apply")
	if err := svc.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"queue filling", "delivery failed"} {
		if !bytes.Contains(data, []byte(want)) {
			t.Fatalf("log file missing %q:\n%s", want, data)
		}
	}
	if bytes.Contains(data, []byte("after apply")) {
		t.Fatal("info entry written after level raised to error")
	}
	select {
	case got := <-chat.sent:
		t.Fatalf("warn entry forwarded: %q", got)
	default:
	}
}
