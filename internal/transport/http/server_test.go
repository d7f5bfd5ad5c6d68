package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/suite"

	"coroner-assist/internal/ai"
	"coroner-assist/internal/bootstrap"
	"coroner-assist/internal/config"
	"coroner-assist/internal/pkg/jwtutil"
	"coroner-assist/internal/pkg/logger"
	"coroner-assist/internal/store"
)

type stubCompleter struct {
	mu    sync.Mutex
	calls int
	reply string
	err   error
}

func (s *stubCompleter) Complete(_ context.Context, _ ai.ChatConfig, _ []ai.ChatMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func (s *stubCompleter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type upload struct {
	name    string
	content string
}

type ServerSuite struct {
	suite.Suite

	llm    *stubCompleter
	app    *bootstrap.App
	router *gin.Engine
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerSuite))
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "none.env"))
	cfg, err := config.LoadFile("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.App.GinMode = gin.TestMode
	cfg.App.UploadDir = t.TempDir()
	cfg.Orchestrator.Mode = "single"
	cfg.MySQL.Enabled = false
	cfg.Redis.Enabled = false
	cfg.RabbitMQ.Enabled = false
	cfg.Auth.Enabled = false
	return cfg
}

func (s *ServerSuite) SetupTest() {
	s.llm = &stubCompleter{reply: "it is a greeting"}
	app, err := bootstrap.NewWithClient(context.Background(), newTestConfig(s.T()), logger.Discard(), s.llm)
	s.Require().NoError(err)
	s.app = app
	s.router = NewRouter(app)
}

func (s *ServerSuite) TearDownTest() {
	s.Require().NoError(s.app.Close())
}

func (s *ServerSuite) do(method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *ServerSuite) doJSON(method, path string, payload any) *httptest.ResponseRecorder {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		s.Require().NoError(err)
		body = bytes.NewReader(b)
	}
	return s.do(method, path, body, "application/json")
}

func (s *ServerSuite) doMultipart(path string, fields map[string]string, files ...upload) *httptest.ResponseRecorder {
	body, contentType := multipartBody(s.T(), fields, files...)
	return s.do(http.MethodPost, path, body, contentType)
}

func multipartBody(t *testing.T, fields map[string]string, files ...upload) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for _, f := range files {
		part, err := w.CreateFormFile("files", f.name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(part, f.content); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

func (s *ServerSuite) decode(rec *httptest.ResponseRecorder, out any) {
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
}

type queryResponse struct {
	Query         string   `json:"query"`
	Answer        string   `json:"answer"`
	ThreadID      string   `json:"thread_id"`
	UserID        string   `json:"user_id"`
	UploadedFiles []string `json:"uploaded_files"`
	Partial       bool     `json:"partial"`
	Chunks        []struct {
		OK bool `json:"ok"`
	} `json:"chunks"`
}

type errorResponse struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
}

func (s *ServerSuite) TestUploadAndQuery_TextFile() {
	rec := s.doMultipart("/upload_and_query/",
		map[string]string{"user_id": "u1", "query": "what is this?"},
		upload{"hello.txt", "hello world"},
	)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var res queryResponse
	s.decode(rec, &res)
	s.Equal("it is a greeting", res.Answer)
	s.Equal("what is this?", res.Query)
	s.Equal(1, s.llm.count())
	s.Len(res.Chunks, 1)
	s.False(res.Partial)
	s.NotEmpty(res.ThreadID)

	rec = s.doJSON(http.MethodGet, "/threads/u1/"+res.ThreadID, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var thread store.Thread
	s.decode(rec, &thread)
	s.Equal("DocName", thread.DoctorName)
	s.Equal("hello world", thread.Content)
	s.Equal(res.UploadedFiles, thread.UploadedFiles)
	s.Equal([]store.Message{
		{UserID: "u1", Content: "what is this?"},
		{UserID: "assistant", Content: "it is a greeting"},
	}, thread.Messages)
}

func (s *ServerSuite) TestUploadAndQuery_UnsupportedType() {
	rec := s.doMultipart("/upload_and_query/",
		map[string]string{"user_id": "u1", "query": "q"},
		upload{"report.docx", "binary"},
	)
	s.Require().Equal(http.StatusUnsupportedMediaType, rec.Code)

	var body errorResponse
	s.decode(rec, &body)
	s.Contains(body.Error, "report.docx")

	rec = s.doJSON(http.MethodGet, "/threads/", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{}`, rec.Body.String())
	s.Zero(s.llm.count())
}

func (s *ServerSuite) TestUploadAndQuery_BadRequests() {
	rec := s.doMultipart("/upload_and_query/",
		map[string]string{"user_id": "u1", "query": "q", "mode": "poem"},
		upload{"a.txt", "x"},
	)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.doMultipart("/upload_and_query/",
		map[string]string{"user_id": "u1", "query": "q"},
		upload{"empty.txt", ""},
	)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.doMultipart("/upload_and_query/", map[string]string{"user_id": "u1", "query": "q"})
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.doJSON(http.MethodPost, "/upload_and_query/", map[string]string{"user_id": "u1"})
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *ServerSuite) TestUploadAndQuery_UpstreamFailure() {
	s.llm.err = errors.New("boom")
	rec := s.doMultipart("/upload_and_query/",
		map[string]string{"user_id": "u1", "query": "q"},
		upload{"a.txt", "text"},
	)
	s.Equal(http.StatusBadGateway, rec.Code)

	rec = s.doJSON(http.MethodGet, "/threads/u1", nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *ServerSuite) TestContinueChat() {
	rec := s.doMultipart("/upload_and_query/",
		map[string]string{"user_id": "u1", "query": "q1"},
		upload{"a.txt", "one"},
	)
	s.Require().Equal(http.StatusOK, rec.Code)
	var first queryResponse
	s.decode(rec, &first)

	s.llm.reply = "second answer"
	rec = s.doMultipart("/upload_and_continue_chat/",
		map[string]string{"user_id": "u1", "query": "q2", "thread_id": first.ThreadID},
		upload{"b.csv", "a,b\n"},
	)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var second queryResponse
	s.decode(rec, &second)
	s.Equal("second answer", second.Answer)
	s.Equal(first.ThreadID, second.ThreadID)
	s.Equal("u1", second.UserID)
	s.Len(second.UploadedFiles, 1)

	thread, err := s.app.Threads.Get("u1", first.ThreadID)
	s.Require().NoError(err)
	s.Len(thread.Messages, 4)
	s.Equal("second answer", thread.Messages[3].Content)
	s.Len(thread.UploadedFiles, 2)
}

func (s *ServerSuite) TestContinueChat_UnknownThread() {
	rec := s.doJSON(http.MethodPost, "/threads/", store.Thread{ID: "t1", UserID: "u1", DoctorName: "Dr A"})
	s.Require().Equal(http.StatusOK, rec.Code)

	rec = s.doMultipart("/upload_and_continue_chat/",
		map[string]string{"user_id": "u1", "query": "q", "thread_id": "missing"},
		upload{"a.txt", "text"},
	)
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.doMultipart("/upload_and_continue_chat/",
		map[string]string{"user_id": "ghost", "query": "q", "thread_id": "t1"},
		upload{"a.txt", "text"},
	)
	s.Equal(http.StatusNotFound, rec.Code)

	thread, err := s.app.Threads.Get("u1", "t1")
	s.Require().NoError(err)
	s.Empty(thread.Messages)
	s.Zero(s.llm.count())
}

func (s *ServerSuite) TestThreadCRUD() {
	thread := store.Thread{ID: "t1", UserID: "u1", DoctorName: "Dr A", Content: "notes"}

	rec := s.doJSON(http.MethodPost, "/threads/", thread)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"id":"t1","user_id":"u1","doctor_name":"Dr A","content":"notes","messages":[],"uploaded_files":[]}`, rec.Body.String())

	rec = s.doJSON(http.MethodPost, "/threads/", store.Thread{ID: "t1", UserID: "u1", DoctorName: "other"})
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.doJSON(http.MethodPost, "/threads/", map[string]string{"doctor_name": "no ids"})
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.doJSON(http.MethodGet, "/threads/u1", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var list []store.Thread
	s.decode(rec, &list)
	s.Require().Len(list, 1)
	s.Equal("Dr A", list[0].DoctorName)

	rec = s.doJSON(http.MethodPut, "/threads/u1/t1", store.Thread{ID: "t2", DoctorName: "Dr B"})
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.doJSON(http.MethodPut, "/threads/u1/missing", store.Thread{ID: "x"})
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.doJSON(http.MethodPut, "/threads/u1/t1", store.Thread{DoctorName: "Dr B", Messages: []store.Message{{UserID: "u1", Content: "hi"}}})
	s.Require().Equal(http.StatusOK, rec.Code)
	var updated store.Thread
	s.decode(rec, &updated)
	s.Equal("t1", updated.ID)
	s.Equal("u1", updated.UserID)
	s.Equal("Dr B", updated.DoctorName)

	rec = s.doJSON(http.MethodPut, "/threads/u1/missing", store.Thread{})
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.doJSON(http.MethodDelete, "/threads/u1/t1", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var removed store.Thread
	s.decode(rec, &removed)
	s.Equal("Dr B", removed.DoctorName)

	rec = s.doJSON(http.MethodGet, "/threads/u1/t1", nil)
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.doJSON(http.MethodDelete, "/threads/u1/t1", nil)
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.doJSON(http.MethodGet, "/threads/ghost", nil)
	s.Equal(http.StatusNotFound, rec.Code)
	var notFound errorResponse
	s.decode(rec, &notFound)
	s.Equal("user threads not found", notFound.Error)
}

func (s *ServerSuite) TestHealthAndMetrics() {
	rec := s.doJSON(http.MethodGet, "/healthz", nil)
	s.Equal(http.StatusOK, rec.Code)

	rec = s.doJSON(http.MethodGet, "/metrics", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.True(strings.Contains(rec.Body.String(), "coroner_assist_http_requests_total"))
}

func TestAuthEnabled(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Auth.Enabled = true
	cfg.Auth.JWTSecret = "s3cret"
	app, err := bootstrap.NewWithClient(context.Background(), cfg, logger.Discard(), &stubCompleter{reply: "ok"})
	if err != nil {
		t.Fatal(err)
	}
	defer app.Close()
	router := NewRouter(app)

	token, err := jwtutil.IssueToken("s3cret", "u1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		token  string
		want   int
	}{
		{"no token", http.MethodGet, "/threads/u1", "", "", http.StatusUnauthorized},
		{"other owner", http.MethodGet, "/threads/u2", "", token, http.StatusForbidden},
		{"own owner", http.MethodGet, "/threads/u1", "", token, http.StatusNotFound},
		{"list all", http.MethodGet, "/threads/", "", token, http.StatusOK},
		{"health is public", http.MethodGet, "/healthz", "", "", http.StatusOK},
		{"create without owner", http.MethodPost, "/threads/", `{"id":"t1"}`, token, http.StatusBadRequest},
		{"create for other owner", http.MethodPost, "/threads/", `{"id":"t1","user_id":"u2"}`, token, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var body io.Reader
			if tc.body != "" {
				body = strings.NewReader(tc.body)
			}
			req := httptest.NewRequest(tc.method, tc.path, body)
			if tc.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}
