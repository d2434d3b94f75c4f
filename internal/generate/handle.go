package generate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/lucahttp/morti/internal/capability"
)

// ErrInterrupted marks a reply cut short by the shared interrupt flag.
var ErrInterrupted = errors.New("generation interrupted")

// Options configure a generation handle.
type Options struct {
	SystemPrompt     string
	MaxHistoryTokens int
	Counter          TokenCounter
}

// Handle owns the generator plus the per-session conversation history for
// the generation capability. The interrupt flag is shared with the caller
// and checked between stream steps.
type Handle struct {
	gen       Generator
	opts      Options
	interrupt *atomic.Bool

	mu      sync.Mutex
	history Conversation

	disposeOnce sync.Once
	disposeErr  error
}

// NewHandle wraps a generator. interrupt may be shared across components;
// when nil a private flag is allocated.
func NewHandle(gen Generator, opts Options, interrupt *atomic.Bool) (*Handle, error) {
	if gen == nil {
		return nil, errors.New("generator is required")
	}
	if opts.Counter == nil {
		opts.Counter = WordCounter{}
	}
	if interrupt == nil {
		interrupt = new(atomic.Bool)
	}
	return &Handle{gen: gen, opts: opts, interrupt: interrupt}, nil
}

func (h *Handle) Kind() capability.Kind {
	return capability.KindGeneration
}

// Dispose releases the generator. Safe to call more than once.
func (h *Handle) Dispose() error {
	h.disposeOnce.Do(func() {
		h.disposeErr = h.gen.Close()
	})
	return h.disposeErr
}

// Reset clears carried-over conversation state between turns.
func (h *Handle) Reset() {
	h.mu.Lock()
	h.history = nil
	h.mu.Unlock()
	h.interrupt.Store(false)
}

// SetHistory replaces the carried conversation with a caller-supplied one.
func (h *Handle) SetHistory(turns []Turn) {
	h.mu.Lock()
	h.history = append(Conversation(nil), turns...)
	h.mu.Unlock()
}

// Reply appends the user text to the history, streams the model's reply
// through emit fragment by fragment, and returns the full reply text. When
// the interrupt flag trips between steps the stream stops and the partial
// reply is kept in history alongside ErrInterrupted.
func (h *Handle) Reply(ctx context.Context, userText string, emit func(Fragment) error) (string, error) {
	h.mu.Lock()
	h.history = append(h.history, Turn{Role: RoleUser, Content: userText})
	conv := Normalize(h.history, h.opts.SystemPrompt)

	conv, err := TrimToBudget(conv, h.opts.MaxHistoryTokens, h.opts.Counter)
	if err != nil {
		h.mu.Unlock()
		return "", err
	}
	h.history = conv
	h.mu.Unlock()

	h.interrupt.Store(false)

	var reply strings.Builder
	err = h.gen.Generate(ctx, conv, func(f Fragment) error {
		if h.interrupt.Load() {
			return ErrInterrupted
		}
		reply.WriteString(f.Content)
		if emit != nil {
			if err := emit(f); err != nil {
				return err
			}
		}
		return nil
	})

	text := reply.String()
	if text != "" {
		h.mu.Lock()
		h.history = append(h.history, Turn{Role: RoleAssistant, Content: text})
		h.mu.Unlock()
	}

	if err != nil {
		return text, err
	}
	return text, nil
}

// Interrupt trips the shared flag; the active stream stops before its next
// fragment is emitted.
func (h *Handle) Interrupt() {
	h.interrupt.Store(true)
}
