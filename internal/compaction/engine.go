package compaction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config controls compaction behavior. Immutable per session.
type Config struct {
	// MaxUncompressedMessages is the ceiling on retained messages plus
	// the optional summary entry.
	MaxUncompressedMessages int
	// MaxMessageAge triggers compaction when the oldest retained
	// message exceeds it.
	MaxMessageAge time.Duration
	// MaxMemoryBytes triggers compaction when estimated history memory
	// exceeds it.
	MaxMemoryBytes int64
	// CompactionInterval is the minimum spacing between automatic
	// compaction passes.
	CompactionInterval time.Duration
	// MinContextConfidence marks messages below it as eviction-eligible.
	MinContextConfidence float64
	// MaxContextAge marks messages older than it as eviction-eligible.
	MaxContextAge time.Duration
	// AutoCompactionEnabled gates the orchestrator's automatic
	// end-of-turn compaction checks.
	AutoCompactionEnabled bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxUncompressedMessages: 50,
		MaxMessageAge:           time.Hour,
		MaxMemoryBytes:          100 * 1024 * 1024,
		CompactionInterval:      5 * time.Minute,
		MinContextConfidence:    0.3,
		MaxContextAge:           2 * time.Hour,
		AutoCompactionEnabled:   true,
	}
}

// Result reports what one compaction pass did.
type Result struct {
	MessagesProcessed int           `json:"messages_processed"`
	MessagesCompacted int           `json:"messages_compacted"`
	OriginalSize      int64         `json:"original_size"`
	CompactedSize     int64         `json:"compacted_size"`
	CompressionRatio  float64       `json:"compression_ratio"`
	ProcessingTime    time.Duration `json:"processing_time"`
}

// Statistics is a read-only snapshot of history state, recomputed on
// demand. Two calls without an intervening AddMessage yield identical
// results.
type Statistics struct {
	TotalMessages      int            `json:"total_messages"`
	MessagesByPriority map[string]int `json:"messages_by_priority"`
	TotalMemoryUsage   int64          `json:"total_memory_usage"`
	AverageMessageSize int64          `json:"average_message_size"`
	LastCompactionTime time.Time      `json:"last_compaction_time"`
	CompactionFrequency float64       `json:"compaction_frequency"` // passes per hour
}

// Engine owns the conversation history. All access serializes through
// an internal mutex so a partial compaction is never visible to a
// concurrent reader.
type Engine struct {
	config     Config
	summarizer Summarizer
	logger     *slog.Logger
	archive    *Archive

	mu          sync.Mutex
	messages    []Message
	summary     *Message
	evictedEver int

	createdAt      time.Time
	lastCompaction time.Time
	compactions    int
}

// NewEngine creates an engine with the given configuration. A nil
// summarizer falls back to the extractive summarizer.
func NewEngine(config Config, summarizer Summarizer, logger *slog.Logger) *Engine {
	if summarizer == nil {
		summarizer = &ExtractiveSummarizer{}
	}
	return &Engine{
		config:     config,
		summarizer: summarizer,
		logger:     logger,
		createdAt:  time.Now(),
	}
}

// SetArchive configures a SQLite archive that receives evicted
// messages before the summary replaces them.
func (e *Engine) SetArchive(a *Archive) {
	e.lock()
	e.archive = a
	e.unlock()
}

func (e *Engine) lock()   { e.mu.Lock() }
func (e *Engine) unlock() { e.mu.Unlock() }

// AddMessage appends a message to the history and returns the created
// immutable entry.
func (e *Engine) AddMessage(content string, t MessageType) Message {
	return e.add(Message{Content: content, Type: t})
}

// AddAssistantToolCalls appends an assistant entry that requested tool
// execution. The calls are preserved so the transcript keeps each
// request paired with its results.
func (e *Engine) AddAssistantToolCalls(content string, calls []ToolCallRecord) Message {
	return e.add(Message{
		Content:   content,
		Type:      AssistantMessage,
		ToolCalls: calls,
	})
}

// AddToolResult appends a tool result entry carrying pairing metadata.
func (e *Engine) AddToolResult(toolName, toolCallID, content string) Message {
	return e.add(Message{
		Content:    content,
		Type:       ToolResult,
		ToolName:   toolName,
		ToolCallID: toolCallID,
	})
}

func (e *Engine) add(msg Message) Message {
	msg.ID = uuid.New()
	msg.Role = roleFor(msg.Type)
	msg.Timestamp = time.Now()
	msg.Size = int64(len(msg.Content))
	msg.Priority = analyzePriority(msg.Content, msg.Type)
	msg.Confidence = confidenceFor(msg.Priority)

	e.lock()
	e.messages = append(e.messages, msg)
	e.unlock()

	return msg
}

// Visible returns the conversation as presented to the provider: the
// summary entry (if any) in its insertion position followed by all
// retained messages, in insertion order.
func (e *Engine) Visible() []Message {
	e.lock()
	defer e.unlock()

	out := make([]Message, 0, len(e.messages)+1)
	if e.summary != nil {
		out = append(out, *e.summary)
	}
	out = append(out, e.messages...)
	return out
}

// Len returns the retained message count including the summary entry.
func (e *Engine) Len() int {
	e.lock()
	defer e.unlock()
	n := len(e.messages)
	if e.summary != nil {
		n++
	}
	return n
}

// Replace swaps the entire history for a restored message set. Used by
// snapshot rollback. A CompactionSummary entry in the set takes the
// summary slot.
func (e *Engine) Replace(messages []Message) {
	e.lock()
	defer e.unlock()

	e.summary = nil
	e.messages = e.messages[:0]
	for _, m := range messages {
		if m.Type == CompactionSummary && e.summary == nil {
			s := m
			e.summary = &s
			continue
		}
		e.messages = append(e.messages, m)
	}
}

// memoryUsageLocked estimates history memory from message sizes.
func (e *Engine) memoryUsageLocked() int64 {
	var total int64
	for i := range e.messages {
		total += e.messages[i].Size
	}
	if e.summary != nil {
		total += e.summary.Size
	}
	return total
}

// ShouldCompact reports whether any configured threshold is exceeded:
// message count, oldest message age, or estimated memory usage.
func (e *Engine) ShouldCompact() bool {
	e.lock()
	defer e.unlock()

	count := len(e.messages)
	if e.summary != nil {
		count++
	}
	if count > e.config.MaxUncompressedMessages {
		return true
	}
	if len(e.messages) > 0 && e.config.MaxMessageAge > 0 {
		if time.Since(e.messages[0].Timestamp) > e.config.MaxMessageAge {
			return true
		}
	}
	if e.config.MaxMemoryBytes > 0 && e.memoryUsageLocked() > e.config.MaxMemoryBytes {
		return true
	}
	return false
}

// AutoEnabled reports whether automatic compaction is configured.
func (e *Engine) AutoEnabled() bool {
	return e.config.AutoCompactionEnabled
}

// Due reports whether enough time has passed since the last automatic
// pass. Forced compaction (context overflow recovery) ignores this.
func (e *Engine) Due() bool {
	e.lock()
	defer e.unlock()
	if e.lastCompaction.IsZero() {
		return true
	}
	return time.Since(e.lastCompaction) >= e.config.CompactionInterval
}

// Compact shrinks the history to satisfy the configured ceiling.
// Messages below the confidence floor or older than the context age
// are evicted first, oldest first; if the ceiling is still exceeded,
// the oldest messages follow in ascending priority order, critical
// last. The evicted run is replaced by a single synthesized summary
// entry so removal is never silent.
func (e *Engine) Compact(ctx context.Context) (*Result, error) {
	start := time.Now()

	e.lock()
	defer e.unlock()

	originalCount := len(e.messages)
	originalSize := e.memoryUsageLocked()

	// Retain at most ceiling-1 messages so retained plus the summary
	// entry never exceeds the ceiling.
	target := e.config.MaxUncompressedMessages - 1
	if target < 0 {
		target = 0
	}

	evictSet := e.selectEvictionsLocked(target)
	if len(evictSet) == 0 {
		return &Result{
			MessagesProcessed: originalCount,
			OriginalSize:      originalSize,
			CompactedSize:     originalSize,
			CompressionRatio:  1.0,
			ProcessingTime:    time.Since(start),
		}, nil
	}

	var evicted, retained []Message
	for _, m := range e.messages {
		if evictSet[m.ID] {
			evicted = append(evicted, m)
		} else {
			retained = append(retained, m)
		}
	}

	if e.archive != nil {
		if err := e.archive.Store(ctx, evicted); err != nil {
			e.logger.Warn("failed to archive evicted messages", "error", err, "count", len(evicted))
		}
	}

	text, err := e.summarizer.Summarize(ctx, evicted)
	if err != nil {
		e.logger.Warn("summarizer failed, using extractive fallback", "error", err)
		text, _ = (&ExtractiveSummarizer{}).Summarize(ctx, evicted)
	}

	e.evictedEver += len(evicted)
	content := formatSummary(e.summary, evicted, e.evictedEver, text)

	summary := Message{
		ID:         uuid.New(),
		Role:       "system",
		Content:    content,
		Timestamp:  time.Now(),
		Size:       int64(len(content)),
		Type:       CompactionSummary,
		Priority:   PriorityCritical,
		Confidence: 1.0,
	}
	e.summary = &summary
	e.messages = retained

	e.lastCompaction = time.Now()
	e.compactions++

	compactedSize := e.memoryUsageLocked()
	ratio := 1.0
	if originalSize > 0 {
		ratio = float64(compactedSize) / float64(originalSize)
	}
	// The summary entry can outweigh a handful of tiny evicted
	// messages; the reported ratio stays within (0, 1].
	if ratio > 1.0 {
		ratio = 1.0
	}

	result := &Result{
		MessagesProcessed: originalCount,
		MessagesCompacted: len(evicted),
		OriginalSize:      originalSize,
		CompactedSize:     compactedSize,
		CompressionRatio:  ratio,
		ProcessingTime:    time.Since(start),
	}

	e.logger.Info("history compacted",
		"evicted", len(evicted),
		"retained", len(retained),
		"ratio", fmt.Sprintf("%.3f", ratio),
	)

	return result, nil
}

// selectEvictionsLocked picks messages to evict. Critical messages are
// spared as long as the ceiling can be met without them; the ceiling
// itself is never negotiable.
func (e *Engine) selectEvictionsLocked(target int) map[uuid.UUID]bool {
	evict := make(map[uuid.UUID]bool)
	retainedCount := len(e.messages)

	// First pass: eligible messages (stale or low confidence),
	// oldest first. Message order is insertion order, which is also
	// timestamp order.
	for _, m := range e.messages {
		if retainedCount <= target {
			break
		}
		if m.Priority == PriorityCritical {
			continue
		}
		stale := e.config.MaxContextAge > 0 && time.Since(m.Timestamp) > e.config.MaxContextAge
		lowConfidence := m.Confidence < e.config.MinContextConfidence
		if stale || lowConfidence {
			evict[m.ID] = true
			retainedCount--
		}
	}

	// Second pass: still over the ceiling, evict oldest non-critical
	// in ascending priority order.
	for _, pri := range []Priority{PriorityLow, PriorityNormal, PriorityHigh} {
		for _, m := range e.messages {
			if retainedCount <= target {
				return evict
			}
			if m.Priority != pri || evict[m.ID] {
				continue
			}
			evict[m.ID] = true
			retainedCount--
		}
	}

	// Final pass: everything left is critical. The ceiling still wins;
	// evict the oldest critical messages until it is met. Their content
	// survives in the archive and the summary.
	for _, m := range e.messages {
		if retainedCount <= target {
			break
		}
		if evict[m.ID] {
			continue
		}
		evict[m.ID] = true
		retainedCount--
	}

	return evict
}

// Statistics returns a read-only snapshot of history state.
func (e *Engine) Statistics() Statistics {
	e.lock()
	defer e.unlock()

	stats := Statistics{
		MessagesByPriority: make(map[string]int),
		LastCompactionTime: e.lastCompaction,
	}

	count := 0
	var total int64
	record := func(m *Message) {
		stats.MessagesByPriority[m.Priority.String()]++
		total += m.Size
		count++
	}
	if e.summary != nil {
		record(e.summary)
	}
	for i := range e.messages {
		record(&e.messages[i])
	}

	stats.TotalMessages = count
	stats.TotalMemoryUsage = total
	if count > 0 {
		stats.AverageMessageSize = total / int64(count)
	}
	if e.compactions > 0 {
		elapsed := e.lastCompaction.Sub(e.createdAt).Hours()
		if elapsed < 1 {
			elapsed = 1
		}
		stats.CompactionFrequency = float64(e.compactions) / elapsed
	}
	return stats
}
