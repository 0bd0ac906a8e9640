package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/veea/vbus/pkg/worker"
)

// Level segments of remote log subjects
const (
	SegmentTrace   = "trace"
	SegmentDebug   = "debug"
	SegmentInfo    = "info"
	SegmentWarning = "warning"
	SegmentError   = "error"
)

// SystemSegment starts the log subject under a client root.
const SystemSegment = "__system__"

// LevelTrace is below slog.LevelDebug.
const LevelTrace = slog.Level(-8)

// Publisher sends raw payloads. transport.Transport satisfies it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Segment returns the subject segment of level.
func Segment(level slog.Level) string {
	switch {
	case level < slog.LevelDebug:
		return SegmentTrace
	case level < slog.LevelInfo:
		return SegmentDebug
	case level < slog.LevelWarn:
		return SegmentInfo
	case level < slog.LevelError:
		return SegmentWarning
	default:
		return SegmentError
	}
}

// ParseLevel maps a level name to a slog level; unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Subject returns "<prefix>.__system__.log.<segment>", or the subject without
// prefix when prefix is empty.
func Subject(prefix string, level slog.Level) string {
	s := SystemSegment + ".log." + Segment(level)
	if prefix == "" {
		return s
	}
	return prefix + "." + s
}

type entry struct {
	subject string
	data    []byte
}

// shared is the state common to a handler and its WithAttrs/WithGroup copies.
type shared struct {
	out     Publisher
	prefix  string
	level   slog.Leveler
	timeout time.Duration
	pool    *worker.Pool[*entry]
	dropped atomic.Int64
}

// BusHandler forwards records to next and publishes those at or above its level
// on the bus as JSON. Publishing is asynchronous; records are dropped when the
// queue is full or the handler is not started.
type BusHandler struct {
	next  slog.Handler
	s     *shared
	chain []func(slog.Handler) slog.Handler
}

// Option configures a BusHandler.
type Option func(*shared)

// WithLevel sets the minimum level published on the bus. Default is info.
func WithLevel(level slog.Leveler) Option {
	return func(s *shared) {
		if level != nil {
			s.level = level
		}
	}
}

// WithPublishTimeout bounds each publish. Default is one second.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *shared) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewBusHandler creates a handler publishing under prefix (usually the client
// root). next may be nil.
func NewBusHandler(next slog.Handler, out Publisher, prefix string, opts ...Option) *BusHandler {
	s := &shared{
		out:     out,
		prefix:  prefix,
		level:   slog.LevelInfo,
		timeout: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pool = worker.NewSerial(256, func(ctx context.Context, e *entry) error {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return s.out.Publish(ctx, e.subject, e.data)
	}, worker.WithErrorHandler(func(*entry, error) {
		s.dropped.Add(1)
	}))
	return &BusHandler{next: next, s: s}
}

// Start begins publishing.
func (h *BusHandler) Start(ctx context.Context) error {
	return h.s.pool.Start(ctx)
}

// Close stops publishing after flushing queued records for up to timeout.
func (h *BusHandler) Close(timeout time.Duration) error {
	return h.s.pool.Stop(timeout)
}

// Dropped returns how many records could not be published.
func (h *BusHandler) Dropped() int64 {
	return h.s.dropped.Load()
}

// Enabled implements slog.Handler.
func (h *BusHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if level >= h.s.level.Level() {
		return true
	}
	return h.next != nil && h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *BusHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.next != nil && h.next.Enabled(ctx, r.Level) {
		err = h.next.Handle(ctx, r)
	}
	if r.Level < h.s.level.Level() {
		return err
	}

	data, encErr := h.encode(ctx, r)
	if encErr != nil {
		h.s.dropped.Add(1)
		return err
	}
	if subErr := h.s.pool.Submit(&entry{subject: Subject(h.s.prefix, r.Level), data: data}); subErr != nil {
		h.s.dropped.Add(1)
	}
	return err
}

func (h *BusHandler) encode(ctx context.Context, r slog.Record) ([]byte, error) {
	var buf bytes.Buffer
	var enc slog.Handler = slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: LevelTrace})
	for _, apply := range h.chain {
		enc = apply(enc)
	}
	if err := enc.Handle(ctx, r); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// WithAttrs implements slog.Handler.
func (h *BusHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return h.with(func(next slog.Handler) slog.Handler { return next.WithAttrs(attrs) })
}

// WithGroup implements slog.Handler.
func (h *BusHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.with(func(next slog.Handler) slog.Handler { return next.WithGroup(name) })
}

func (h *BusHandler) with(apply func(slog.Handler) slog.Handler) *BusHandler {
	clone := &BusHandler{s: h.s, chain: make([]func(slog.Handler) slog.Handler, 0, len(h.chain)+1)}
	clone.chain = append(clone.chain, h.chain...)
	clone.chain = append(clone.chain, apply)
	if h.next != nil {
		clone.next = apply(h.next)
	}
	return clone
}
