package app

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"coroner-assist/internal/ai"
)

const DefaultChunkSize = 1500

// Mode selects between a single pass over the chunks and a second
// summarising pass that turns the joined answers into a report.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeReport Mode = "report"
)

//go:embed prompts/coroner_report.txt
var reportInstructions string

func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "":
		return "", nil
	case ModeSingle:
		return ModeSingle, nil
	case ModeReport:
		return ModeReport, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, raw)
	}
}

type ChunkOutcome struct {
	Index int    `json:"index"`
	Runes int    `json:"runes"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type Answer struct {
	Text   string         `json:"answer"`
	Mode   Mode           `json:"mode"`
	Chunks []ChunkOutcome `json:"chunks"`
	Final  *ChunkOutcome  `json:"final,omitempty"`
}

// Partial reports whether any remote call behind the answer failed.
func (a *Answer) Partial() bool {
	for _, c := range a.Chunks {
		if !c.OK {
			return true
		}
	}
	return a.Final != nil && !a.Final.OK
}

type Orchestrator struct {
	llm         ai.Client
	chatConfig  ai.ChatConfig
	chunkSize   int
	defaultMode Mode
	logger      *slog.Logger
}

func NewOrchestrator(llm ai.Client, chatConfig ai.ChatConfig, chunkSize int, defaultMode Mode, logger *slog.Logger) *Orchestrator {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if defaultMode == "" {
		defaultMode = ModeSingle
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		llm:         llm,
		chatConfig:  chatConfig,
		chunkSize:   chunkSize,
		defaultMode: defaultMode,
		logger:      logger,
	}
}

// Answer asks query against every chunk of text in order and joins the
// successful answers with newlines. A failed chunk is recorded in the
// outcome list and skipped. In ModeReport the joined text goes through one
// more call with the report instructions; if that call fails the joined text
// is returned.
func (o *Orchestrator) Answer(ctx context.Context, text, query string, mode Mode) (*Answer, error) {
	if mode == "" {
		mode = o.defaultMode
	}
	chunks := ChunkText(text, o.chunkSize)
	if len(chunks) == 0 {
		return nil, ErrNoExtractableText
	}

	result := &Answer{Mode: mode, Chunks: make([]ChunkOutcome, 0, len(chunks))}
	answers := make([]string, 0, len(chunks))
	var lastErr error
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		outcome := ChunkOutcome{Index: i, Runes: utf8.RuneCountInString(chunk)}
		out, err := o.ask(ctx, chunk, query)
		if err != nil {
			lastErr = err
			outcome.Error = err.Error()
			o.logger.Warn("chunk completion failed", "chunk", i, "of", len(chunks), "err", err)
		} else {
			outcome.OK = true
			answers = append(answers, out)
		}
		result.Chunks = append(result.Chunks, outcome)
	}
	if len(answers) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrCompletionFailed, lastErr)
	}

	joined := strings.Join(answers, "\n")
	result.Text = joined
	if mode != ModeReport {
		return result, nil
	}

	final := &ChunkOutcome{Index: len(chunks), Runes: utf8.RuneCountInString(joined)}
	report, err := o.ask(ctx, joined, reportInstructions)
	if err != nil {
		final.Error = err.Error()
		o.logger.Warn("report completion failed, returning joined answers", "err", err)
	} else {
		final.OK = true
		result.Text = report
	}
	result.Final = final
	return result, nil
}

func (o *Orchestrator) ask(ctx context.Context, document, question string) (string, error) {
	return o.llm.Complete(ctx, o.chatConfig, []ai.ChatMessage{
		{Role: "user", Content: BuildPrompt(document, question)},
	})
}

func BuildPrompt(document, question string) string {
	return fmt.Sprintf("Analyze the following document: %s. Based on this text, answer the question: %s.", document, question)
}

// ChunkText splits text into consecutive slices of size runes. The last
// slice may be shorter; empty text yields no slices.
func ChunkText(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	runes := []rune(text)
	chunks := make([]string, 0, (len(runes)+size-1)/size)
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}
