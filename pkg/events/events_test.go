package events

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/autostack/pkg/engine"
)

const sampleStream = `{"sequence":0,"timestamp":1700000000,"preludeEvent":{"config":{"proj:bar":"abc"}}}
{"sequence":1,"timestamp":1700000001,"resourcePreEvent":{"metadata":{"op":"create","urn":"urn:a","type":"pulumi:pulumi:Stack","provider":""}}}

this is not json
{"sequence":2,"timestamp":1700000002,"diagnosticEvent":{"message":"hello","color":"never","severity":"warning"}}
{"sequence":3,"timestamp":1700000003}
{"sequence":4,"timestamp":1700000004,"summaryEvent":{"maybeCorrupt":false,"durationSeconds":2,"resourceChanges":{"create":1}}}
{"sequence":5,"timestamp":1700000005,"cancelEvent":{}}
`

func TestDecoder_SkipsMalformedLines(t *testing.T) {
	dec := NewDecoder(strings.NewReader(sampleStream), zerolog.Nop())

	var types []string
	for ev := range dec.All() {
		types = append(types, ev.Type())
	}

	want := []string{TypePrelude, TypeResourcePre, TypeDiagnostic, TypeSummary, TypeCancel}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Errorf("Expected %v, got %v", want, types)
	}
	if dec.Skipped() != 2 {
		t.Errorf("Expected 2 skipped lines, got %d", dec.Skipped())
	}
}

func TestDecoder_DecodesSummary(t *testing.T) {
	line := `{"sequence":9,"timestamp":1,"summaryEvent":{"maybeCorrupt":true,"durationSeconds":7,"resourceChanges":{"same":1,"update":2}}}` + "\n"
	dec := NewDecoder(strings.NewReader(line), zerolog.Nop())

	ev, err := dec.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	s := ev.SummaryEvent
	if s == nil {
		t.Fatalf("Expected summary event")
	}
	if !s.MaybeCorrupt || s.DurationSeconds != 7 {
		t.Errorf("Unexpected summary: %+v", s)
	}
	if s.ResourceChanges[engine.OpSame] != 1 || s.ResourceChanges[engine.OpUpdate] != 2 {
		t.Errorf("Unexpected resource changes: %v", s.ResourceChanges)
	}
	if ev.Sequence != 9 {
		t.Errorf("Expected sequence 9, got %d", ev.Sequence)
	}
}

func TestDecoder_HoldsPartialLine(t *testing.T) {
	path := t.TempDir() + "/events.ndjson"
	w, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create log: %v", err)
	}
	defer w.Close()
	r, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open log: %v", err)
	}
	defer r.Close()

	dec := NewDecoder(r, zerolog.Nop())
	w.WriteString(`{"sequence":1,"timestamp":1,"stdout`)
	if _, err := dec.Next(); err != io.EOF {
		t.Fatalf("Expected EOF on partial line, got %v", err)
	}

	w.WriteString(`Event":{"message":"hi","color":"never"}}` + "\n")
	ev, err := dec.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if ev.StdoutEvent == nil || ev.StdoutEvent.Message != "hi" {
		t.Errorf("Expected stdout event, got %+v", ev)
	}
}

func TestDecoder_FlushUnterminatedLine(t *testing.T) {
	dec := NewDecoder(strings.NewReader(`{"sequence":1,"timestamp":1,"cancelEvent":{}}`), zerolog.Nop())

	var count int
	for range dec.All() {
		count++
	}
	if count != 1 {
		t.Errorf("Expected unterminated final line to be decoded, got %d events", count)
	}
}

func TestDecoder_SkipsOversizedLines(t *testing.T) {
	cancel := `{"sequence":1,"timestamp":1,"cancelEvent":{}}`
	oversized := `{"sequence":2,"timestamp":2,"stdoutEvent":{"message":"` + strings.Repeat("x", 200) + `"}}`

	tests := []struct {
		name        string
		input       string
		wantEvents  int
		wantSkipped int
	}{
		{"terminated oversized line", cancel + "\n" + oversized + "\n" + cancel + "\n", 2, 1},
		{"oversized line first", oversized + "\n" + cancel + "\n", 1, 1},
		{"unterminated oversized line", cancel + "\n" + oversized, 1, 1},
		{"line under the limit", cancel + "\n", 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := NewDecoder(strings.NewReader(tt.input), zerolog.Nop())
			dec.maxLine = 64

			var count int
			for range dec.All() {
				count++
			}
			if count != tt.wantEvents {
				t.Errorf("Expected %d events, got %d", tt.wantEvents, count)
			}
			if dec.Skipped() != tt.wantSkipped {
				t.Errorf("Expected %d skipped, got %d", tt.wantSkipped, dec.Skipped())
			}
		})
	}
}

func TestDecoder_OversizedLineAcrossReads(t *testing.T) {
	path := t.TempDir() + "/events.ndjson"
	w, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create log: %v", err)
	}
	defer w.Close()
	r, err := os.Open(path)
	if err != nil {
		t.Fatalf("failed to open log: %v", err)
	}
	defer r.Close()

	dec := NewDecoder(r, zerolog.Nop())
	dec.maxLine = 64

	w.WriteString(`{"sequence":1,"timestamp":1,"stdoutEvent":{"message":"` + strings.Repeat("x", 100))
	if _, err := dec.Next(); err != io.EOF {
		t.Fatalf("Expected EOF while the line is incomplete, got %v", err)
	}
	if dec.Skipped() != 1 || len(dec.partial) != 0 {
		t.Errorf("Expected the oversized line to be dropped before its newline, skipped %d, held %d bytes",
			dec.Skipped(), len(dec.partial))
	}

	w.WriteString(strings.Repeat("y", 100) + `"}}` + "\n" + `{"sequence":2,"timestamp":2,"cancelEvent":{}}` + "\n")
	ev, err := dec.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if ev.CancelEvent == nil || ev.Sequence != 2 {
		t.Errorf("Expected the cancel event after the oversized line, got %+v", ev)
	}
	if dec.Skipped() != 1 {
		t.Errorf("Expected 1 skipped, got %d", dec.Skipped())
	}
}

func TestTailer_FollowsLogInOrder(t *testing.T) {
	var mu sync.Mutex
	var seqs []int
	tailer := NewTailer(func(ev EngineEvent) {
		mu.Lock()
		defer mu.Unlock()
		seqs = append(seqs, ev.Sequence)
	}, zerolog.Nop(), WithPollInterval(10*time.Millisecond))

	binding, err := tailer.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if len(binding.Args) != 2 || binding.Args[0] != "--event-log" {
		t.Fatalf("Unexpected binding: %+v", binding)
	}
	path := binding.Args[1]

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(sampleStream), "\n")
	for i, line := range lines {
		f.WriteString(line + "\n")
		if i == 2 {
			time.Sleep(30 * time.Millisecond)
		}
	}
	f.Close()

	if err := tailer.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	want := []int{0, 1, 2, 4, 5}
	if len(seqs) != len(want) {
		t.Fatalf("Expected %v, got %v", want, seqs)
	}
	for i := range want {
		if seqs[i] != want[i] {
			t.Errorf("Expected sequence %v, got %v", want, seqs)
			break
		}
	}
	if tailer.Delivered() != 5 {
		t.Errorf("Expected 5 delivered, got %d", tailer.Delivered())
	}
	if tailer.Skipped() != 2 {
		t.Errorf("Expected 2 skipped, got %d", tailer.Skipped())
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Expected temporary event log to be removed")
	}
}

func TestTailer_StopWithoutLog(t *testing.T) {
	tailer := NewTailer(nil, zerolog.Nop())
	if _, err := tailer.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := tailer.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := tailer.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
	if tailer.Delivered() != 0 {
		t.Errorf("Expected no events")
	}
}

func TestTailer_KeepsCallerDir(t *testing.T) {
	dir := t.TempDir()
	tailer := NewTailer(nil, zerolog.Nop(), WithDir(dir))
	if _, err := tailer.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := os.WriteFile(tailer.Path(), []byte(`{"sequence":0,"timestamp":0,"cancelEvent":{}}`+"\n"), 0o600); err != nil {
		t.Fatalf("failed to write log: %v", err)
	}
	if err := tailer.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("Expected caller dir to survive: %v", err)
	}
	if tailer.Delivered() != 1 {
		t.Errorf("Expected 1 event, got %d", tailer.Delivered())
	}
}

func TestHandlers(t *testing.T) {
	var collector Collector
	ch := make(chan EngineEvent, 4)
	var count int
	h := Fanout(collector.Handle, nil, ToChannels(ch), func(EngineEvent) { count++ })

	dec := NewDecoder(strings.NewReader(sampleStream), zerolog.Nop())
	for ev := range dec.All() {
		if ev.DiagnosticEvent != nil || ev.SummaryEvent != nil {
			h(ev)
		}
	}
	close(ch)

	if count != 2 {
		t.Errorf("Expected 2 calls, got %d", count)
	}
	if len(collector.Events()) != 2 {
		t.Errorf("Expected 2 collected events")
	}
	if s := collector.Summary(); s == nil || s.ResourceChanges[engine.OpCreate] != 1 {
		t.Errorf("Expected summary with create=1, got %+v", s)
	}
	if d := collector.Diagnostics(SeverityWarning); len(d) != 1 || d[0].Message != "hello" {
		t.Errorf("Expected one warning diagnostic, got %+v", d)
	}
	if d := collector.Diagnostics(SeverityError); len(d) != 0 {
		t.Errorf("Expected no error diagnostics, got %+v", d)
	}
	var received int
	for range ch {
		received++
	}
	if received != 2 {
		t.Errorf("Expected 2 channel events, got %d", received)
	}
}
