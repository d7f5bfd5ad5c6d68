package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coroner-assist/internal/ai"
)

// stubLLM answers "ack:<document>" for every prompt built by BuildPrompt.
type stubLLM struct {
	mu      sync.Mutex
	prompts []string
	fail    func(document string) error
	reply   func(document, question string) string
}

func (s *stubLLM) Complete(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prompt := messages[len(messages)-1].Content
	s.prompts = append(s.prompts, prompt)

	document, question := splitPrompt(prompt)
	if s.fail != nil {
		if err := s.fail(document); err != nil {
			return "", err
		}
	}
	if s.reply != nil {
		return s.reply(document, question), nil
	}
	return "ack:" + document, nil
}

func (s *stubLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

func splitPrompt(prompt string) (string, string) {
	rest := strings.TrimPrefix(prompt, "Analyze the following document: ")
	i := strings.Index(rest, ". Based on this text, answer the question: ")
	document := rest[:i]
	question := strings.TrimSuffix(rest[i+len(". Based on this text, answer the question: "):], ".")
	return document, question
}

func TestChunkText_CountAndReassembly(t *testing.T) {
	for _, tc := range []struct {
		length, size int
	}{
		{0, 1500}, {1, 1500}, {1499, 1500}, {1500, 1500}, {1501, 1500}, {4500, 1500}, {4501, 1500}, {10, 3}, {7, 1},
	} {
		text := strings.Repeat("ab", tc.length)[:tc.length]
		chunks := ChunkText(text, tc.size)

		want := (tc.length + tc.size - 1) / tc.size
		assert.Len(t, chunks, want, "L=%d C=%d", tc.length, tc.size)
		assert.Equal(t, text, strings.Join(chunks, ""), "L=%d C=%d", tc.length, tc.size)
		for i, c := range chunks {
			if i < len(chunks)-1 {
				assert.Len(t, []rune(c), tc.size)
			}
		}
	}
}

func TestChunkText_CountsRunesNotBytes(t *testing.T) {
	text := strings.Repeat("é", 5)
	chunks := ChunkText(text, 2)
	assert.Equal(t, []string{"éé", "éé", "é"}, chunks)
}

func TestChunkText_DefaultSize(t *testing.T) {
	assert.Len(t, ChunkText(strings.Repeat("x", 3001), 0), 3)
}

func TestAnswer_JoinsAcksInChunkOrder(t *testing.T) {
	llm := &stubLLM{}
	o := NewOrchestrator(llm, ai.ChatConfig{}, 4, ModeSingle, nil)

	res, err := o.Answer(context.Background(), "abcdefghij", "why?", "")
	require.NoError(t, err)

	assert.Equal(t, "ack:abcd\nack:efgh\nack:ij", res.Text)
	assert.Equal(t, 3, llm.calls())
	assert.False(t, res.Partial())
	assert.Nil(t, res.Final)
	require.Len(t, res.Chunks, 3)
	assert.Equal(t, ChunkOutcome{Index: 2, Runes: 2, OK: true}, res.Chunks[2])

	_, q := splitPrompt(llm.prompts[0])
	assert.Equal(t, "why?", q)
	assert.Equal(t, "Analyze the following document: abcd. Based on this text, answer the question: why?.", llm.prompts[0])
}

func TestAnswer_FailedChunkIsRecordedAndSkipped(t *testing.T) {
	llm := &stubLLM{fail: func(doc string) error {
		if doc == "efgh" {
			return errors.New("provider unavailable")
		}
		return nil
	}}
	o := NewOrchestrator(llm, ai.ChatConfig{}, 4, ModeSingle, nil)

	res, err := o.Answer(context.Background(), "abcdefghij", "q", "")
	require.NoError(t, err)

	assert.Equal(t, "ack:abcd\nack:ij", res.Text)
	assert.True(t, res.Partial())
	assert.False(t, res.Chunks[1].OK)
	assert.Contains(t, res.Chunks[1].Error, "provider unavailable")
	assert.Equal(t, 3, llm.calls())
}

func TestAnswer_AllChunksFailed(t *testing.T) {
	llm := &stubLLM{fail: func(string) error { return errors.New("down") }}
	o := NewOrchestrator(llm, ai.ChatConfig{}, 4, ModeSingle, nil)

	_, err := o.Answer(context.Background(), "abcdefgh", "q", "")
	assert.ErrorIs(t, err, ErrCompletionFailed)
	assert.Contains(t, err.Error(), "down")
}

func TestAnswer_EmptyText(t *testing.T) {
	o := NewOrchestrator(&stubLLM{}, ai.ChatConfig{}, 4, ModeSingle, nil)
	_, err := o.Answer(context.Background(), "", "q", "")
	assert.ErrorIs(t, err, ErrNoExtractableText)
}

func TestAnswer_ReportModeRunsFinalPass(t *testing.T) {
	llm := &stubLLM{reply: func(doc, question string) string {
		if strings.Contains(question, "coroner") {
			return "REPORT(" + doc + ")"
		}
		return "ack:" + doc
	}}
	o := NewOrchestrator(llm, ai.ChatConfig{}, 4, ModeSingle, nil)

	res, err := o.Answer(context.Background(), "abcdef", "q", ModeReport)
	require.NoError(t, err)

	assert.Equal(t, "REPORT(ack:abcd\nack:ef)", res.Text)
	assert.Equal(t, ModeReport, res.Mode)
	require.NotNil(t, res.Final)
	assert.True(t, res.Final.OK)
	assert.Equal(t, 3, llm.calls())
	assert.Contains(t, llm.prompts[2], "General principles")
}

func TestAnswer_ReportFailureFallsBackToJoined(t *testing.T) {
	llm := &stubLLM{fail: func(doc string) error {
		if strings.HasPrefix(doc, "ack:") {
			return errors.New("final pass failed")
		}
		return nil
	}}
	o := NewOrchestrator(llm, ai.ChatConfig{}, 4, ModeReport, nil)

	res, err := o.Answer(context.Background(), "abcdef", "q", "")
	require.NoError(t, err)

	assert.Equal(t, "ack:abcd\nack:ef", res.Text)
	require.NotNil(t, res.Final)
	assert.False(t, res.Final.OK)
	assert.True(t, res.Partial())
}

func TestAnswer_StopsOnCancelledContext(t *testing.T) {
	llm := &stubLLM{}
	o := NewOrchestrator(llm, ai.ChatConfig{}, 1, ModeSingle, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Answer(ctx, "abc", "q", "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, llm.calls())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Report ")
	require.NoError(t, err)
	assert.Equal(t, ModeReport, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, Mode(""), m)

	_, err = ParseMode("haiku")
	assert.ErrorIs(t, err, ErrUnknownMode)
}
