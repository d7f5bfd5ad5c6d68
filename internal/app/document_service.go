package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"coroner-assist/internal/pkg/extract"
	"coroner-assist/internal/pkg/upload"
	"coroner-assist/internal/store"
)

const DefaultDoctorName = "DocName"

// UploadedFile is one part of a multipart upload. Open may be called once.
type UploadedFile struct {
	Filename string
	Size     int64
	Open     func() (io.ReadCloser, error)
}

type QueryInput struct {
	UserID     string
	DoctorName string
	Query      string
	Mode       Mode
	Files      []UploadedFile
}

type ContinueInput struct {
	UserID   string
	ThreadID string
	Query    string
	Mode     Mode
	Files    []UploadedFile
}

type FileReport struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Format   string `json:"format"`
	Bytes    int64  `json:"bytes"`
	Chars    int    `json:"chars"`
	Error    string `json:"error,omitempty"`
}

type QueryResult struct {
	Query         string         `json:"query"`
	Answer        string         `json:"answer"`
	ThreadID      string         `json:"thread_id"`
	UserID        string         `json:"user_id"`
	Mode          Mode           `json:"mode"`
	UploadedFiles []string       `json:"uploaded_files"`
	Files         []FileReport   `json:"files"`
	Chunks        []ChunkOutcome `json:"chunks"`
	Partial       bool           `json:"partial"`
}

// ExtractionObserver is told the outcome of every file extraction:
// "ok", "empty" or "failed".
type ExtractionObserver interface {
	ObserveExtraction(format, outcome string)
}

type DocumentService struct {
	threads  *ThreadService
	storage  *upload.Storage
	orch     *Orchestrator
	observer ExtractionObserver
	logger   *slog.Logger
}

func NewDocumentService(threads *ThreadService, storage *upload.Storage, orch *Orchestrator, observer ExtractionObserver, logger *slog.Logger) *DocumentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentService{
		threads:  threads,
		storage:  storage,
		orch:     orch,
		observer: observer,
		logger:   logger,
	}
}

// ingestion is the saved and extracted state of one request's uploads.
type ingestion struct {
	threadID  string
	requestID string
	text      string
	files     []FileReport
}

func (i *ingestion) paths() []string {
	return lo.Map(i.files, func(f FileReport, _ int) string { return f.Path })
}

// UploadAndQuery extracts the uploaded files, answers query against the
// combined text and records the exchange in a new thread.
func (s *DocumentService) UploadAndQuery(ctx context.Context, input QueryInput) (*QueryResult, error) {
	query := strings.TrimSpace(input.Query)
	userID := strings.TrimSpace(input.UserID)
	if err := validateUpload(userID, query, input.Files); err != nil {
		return nil, err
	}

	threadID := uuid.NewString()
	ing, err := s.ingest(ctx, threadID, input.Files)
	if err != nil {
		return nil, err
	}
	answer, err := s.orch.Answer(ctx, ing.text, query, input.Mode)
	if err != nil {
		s.discard(ing)
		return nil, err
	}

	doctor := strings.TrimSpace(input.DoctorName)
	if doctor == "" {
		doctor = DefaultDoctorName
	}
	thread := store.Thread{
		ID:         threadID,
		DoctorName: doctor,
		UserID:     userID,
		Content:    ing.text,
		Messages: []store.Message{
			{UserID: userID, Content: query},
			{UserID: store.AssistantAuthor, Content: answer.Text},
		},
		UploadedFiles: ing.paths(),
	}
	if _, err := s.threads.Create(thread); err != nil {
		s.discard(ing)
		return nil, fmt.Errorf("record thread failed: %w", err)
	}

	s.logger.Info("query answered",
		"thread_id", threadID, "user_id", userID, "files", len(ing.files),
		"chunks", len(answer.Chunks), "partial", answer.Partial())
	return newQueryResult(query, userID, threadID, ing, answer), nil
}

// UploadAndContinueChat answers query against newly uploaded files and
// appends the exchange to an existing thread. An unknown owner or thread is
// reported before anything is written to disk.
func (s *DocumentService) UploadAndContinueChat(ctx context.Context, input ContinueInput) (*QueryResult, error) {
	query := strings.TrimSpace(input.Query)
	userID := strings.TrimSpace(input.UserID)
	threadID := strings.TrimSpace(input.ThreadID)
	if threadID == "" {
		return nil, fmt.Errorf("%w: thread_id is required", ErrInvalidInput)
	}
	if err := validateUpload(userID, query, input.Files); err != nil {
		return nil, err
	}
	if _, err := s.threads.Get(userID, threadID); err != nil {
		return nil, err
	}

	ing, err := s.ingest(ctx, threadID, input.Files)
	if err != nil {
		return nil, err
	}
	answer, err := s.orch.Answer(ctx, ing.text, query, input.Mode)
	if err != nil {
		s.discard(ing)
		return nil, err
	}

	_, err = s.threads.AppendExchange(userID, threadID, ing.paths(),
		store.Message{UserID: userID, Content: query},
		store.Message{UserID: store.AssistantAuthor, Content: answer.Text},
	)
	if err != nil {
		// the thread was deleted while we were answering
		s.discard(ing)
		return nil, err
	}

	s.logger.Info("chat continued",
		"thread_id", threadID, "user_id", userID, "files", len(ing.files),
		"chunks", len(answer.Chunks), "partial", answer.Partial())
	return newQueryResult(query, userID, threadID, ing, answer), nil
}

func validateUpload(userID, query string, files []UploadedFile) error {
	switch {
	case userID == "":
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	case query == "":
		return fmt.Errorf("%w: query is required", ErrInvalidInput)
	case len(files) == 0:
		return fmt.Errorf("%w: at least one file is required", ErrInvalidInput)
	}
	return nil
}

// ingest rejects the whole batch if any file type is unsupported, then saves
// and extracts each file. Files that fail to extract are reported and
// skipped; the batch fails only when no text at all was recovered.
func (s *DocumentService) ingest(ctx context.Context, threadID string, files []UploadedFile) (*ingestion, error) {
	for _, f := range files {
		if !extract.Supported(f.Filename) {
			return nil, extract.UnsupportedError(upload.BaseName(f.Filename))
		}
	}

	ing := &ingestion{
		threadID:  threadID,
		requestID: uuid.NewString(),
		files:     make([]FileReport, 0, len(files)),
	}
	texts := make([]string, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			s.discard(ing)
			return nil, err
		}
		report, text, err := s.ingestOne(ing, f)
		if err != nil {
			s.discard(ing)
			return nil, err
		}
		ing.files = append(ing.files, report)
		if text != "" {
			texts = append(texts, text)
		}
	}

	ing.text = strings.Join(texts, "\n")
	if strings.TrimSpace(ing.text) == "" {
		s.discard(ing)
		return nil, ErrNoExtractableText
	}
	return ing, nil
}

func (s *DocumentService) ingestOne(ing *ingestion, f UploadedFile) (FileReport, string, error) {
	name := upload.BaseName(f.Filename)
	rc, err := f.Open()
	if err != nil {
		return FileReport{}, "", fmt.Errorf("open upload %s failed: %w", name, err)
	}
	path, err := s.storage.Save(ing.threadID, ing.requestID, name, rc)
	rc.Close()
	if err != nil {
		return FileReport{}, "", err
	}

	saved, err := os.Open(path)
	if err != nil {
		return FileReport{}, "", fmt.Errorf("reopen upload %s failed: %w", name, err)
	}
	res := extract.Extract(name, saved)
	saved.Close()

	report := FileReport{Filename: name, Path: path, Format: string(res.Format), Bytes: f.Size}
	switch {
	case !res.OK():
		report.Error = res.Err.Error()
		s.observe(report.Format, "failed")
		s.logger.Warn("extraction failed", "file", name, "format", report.Format, "err", res.Err)
		return report, "", nil
	case res.Empty():
		report.Error = "no extractable text"
		s.observe(report.Format, "empty")
		return report, "", nil
	}
	report.Chars = utf8.RuneCountInString(res.Text)
	s.observe(report.Format, "ok")
	return report, res.Text, nil
}

func (s *DocumentService) observe(format, outcome string) {
	if s.observer != nil {
		s.observer.ObserveExtraction(format, outcome)
	}
}

func (s *DocumentService) discard(ing *ingestion) {
	if err := s.storage.Discard(ing.threadID, ing.requestID); err != nil {
		s.logger.Warn("discard uploads failed", "thread_id", ing.threadID, "err", err)
	}
}

func newQueryResult(query, userID, threadID string, ing *ingestion, answer *Answer) *QueryResult {
	return &QueryResult{
		Query:         query,
		Answer:        answer.Text,
		ThreadID:      threadID,
		UserID:        userID,
		Mode:          answer.Mode,
		UploadedFiles: ing.paths(),
		Files:         ing.files,
		Chunks:        answer.Chunks,
		Partial:       answer.Partial(),
	}
}
