package generate

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/lucahttp/morti/internal/capability"
)

// scriptedGenerator replays fixed fragments through the consumer.
type scriptedGenerator struct {
	fragments []string
	convs     []Conversation
	closed    int
}

func (g *scriptedGenerator) Generate(_ context.Context, conv Conversation, consumer func(Fragment) error) error {
	g.convs = append(g.convs, conv)
	for i, f := range g.fragments {
		if err := consumer(Fragment{Content: f, Final: i == len(g.fragments)-1}); err != nil {
			return err
		}
	}
	return nil
}

func (g *scriptedGenerator) Close() error {
	g.closed++
	return nil
}

func TestHandleReplyStreamsAndRecordsHistory(t *testing.T) {
	gen := &scriptedGenerator{fragments: []string{"sure, ", "turning them on"}}
	h, err := NewHandle(gen, Options{SystemPrompt: "be brief"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	var emitted []string
	reply, err := h.Reply(context.Background(), "lights on", func(f Fragment) error {
		emitted = append(emitted, f.Content)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if reply != "sure, turning them on" {
		t.Fatalf("reply = %q", reply)
	}
	if len(emitted) != 2 {
		t.Fatalf("emitted %d fragments", len(emitted))
	}

	conv := gen.convs[0]
	if conv[0].Role != RoleSystem || conv[0].Content != "be brief" {
		t.Fatalf("system turn missing: %+v", conv)
	}

	// Second turn sees the first exchange in its history.
	if _, err := h.Reply(context.Background(), "and the heating", nil); err != nil {
		t.Fatal(err)
	}
	second := gen.convs[1]
	var sawAssistant bool
	for _, turn := range second {
		if turn.Role == RoleAssistant && turn.Content == "sure, turning them on" {
			sawAssistant = true
		}
	}
	if !sawAssistant {
		t.Fatalf("previous reply not carried into history: %+v", second)
	}
}

func TestHandleInterruptStopsStream(t *testing.T) {
	flag := new(atomic.Bool)
	gen := &scriptedGenerator{fragments: []string{"one", "two", "three"}}
	h, err := NewHandle(gen, Options{}, flag)
	if err != nil {
		t.Fatal(err)
	}

	var emitted int
	_, err = h.Reply(context.Background(), "hi", func(f Fragment) error {
		emitted++
		flag.Store(true)
		return nil
	})
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("err = %v", err)
	}
	if emitted != 1 {
		t.Fatalf("emitted %d fragments after interrupt", emitted)
	}
}

func TestHandleResetClearsHistory(t *testing.T) {
	gen := &scriptedGenerator{fragments: []string{"reply"}}
	h, err := NewHandle(gen, Options{SystemPrompt: "sys"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := h.Reply(context.Background(), "first", nil); err != nil {
		t.Fatal(err)
	}
	h.Reset()
	if _, err := h.Reply(context.Background(), "second", nil); err != nil {
		t.Fatal(err)
	}

	conv := gen.convs[1]
	for _, turn := range conv {
		if turn.Content == "first" || (turn.Role == RoleAssistant && turn.Content == "reply" && len(conv) > 3) {
			t.Fatalf("stale history after reset: %+v", conv)
		}
	}
}

func TestHandleTrimsHistoryToBudget(t *testing.T) {
	gen := &scriptedGenerator{fragments: []string{"short"}}
	h, err := NewHandle(gen, Options{SystemPrompt: "sys", MaxHistoryTokens: 3}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := h.Reply(context.Background(), "one two three four", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Reply(context.Background(), "five", nil); err != nil {
		t.Fatal(err)
	}

	second := gen.convs[1]
	for _, turn := range second {
		if turn.Content == "one two three four" {
			t.Fatalf("over-budget turn not trimmed: %+v", second)
		}
	}
}

func TestHandleDisposeOnce(t *testing.T) {
	gen := &scriptedGenerator{}
	h, err := NewHandle(gen, Options{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if h.Kind() != capability.KindGeneration {
		t.Fatalf("kind = %v", h.Kind())
	}
	if err := h.Dispose(); err != nil {
		t.Fatal(err)
	}
	if err := h.Dispose(); err != nil {
		t.Fatal(err)
	}
	if gen.closed != 1 {
		t.Fatalf("generator closed %d times", gen.closed)
	}
}
