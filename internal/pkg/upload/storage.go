// Package upload saves uploaded files under a per-thread, per-request
// directory so identically named uploads never overwrite each other.
package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

type Storage struct {
	root string
}

func New(root string) (*Storage, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("upload root is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir failed: %w", err)
	}
	return &Storage{root: root}, nil
}

// Save copies r to <root>/<thread>/<request>/<base name> and returns that
// path. A name already used within the same request gets a numeric suffix.
func (s *Storage) Save(threadID, requestID, filename string, r io.Reader) (string, error) {
	dir := s.dir(threadID, requestID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir failed: %w", err)
	}

	name := BaseName(filename)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		target := filepath.Join(dir, name)
		f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			name = fmt.Sprintf("%s-%d%s", stem, i, ext)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create upload file failed: %w", err)
		}
		if _, err := io.Copy(f, r); err != nil {
			f.Close()
			_ = os.Remove(target)
			return "", fmt.Errorf("write upload file failed: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("close upload file failed: %w", err)
		}
		return target, nil
	}
}

// Discard removes everything saved for one request.
func (s *Storage) Discard(threadID, requestID string) error {
	if err := os.RemoveAll(s.dir(threadID, requestID)); err != nil {
		return fmt.Errorf("discard uploads failed: %w", err)
	}
	// the thread directory only goes away when nothing else lives in it
	_ = os.Remove(filepath.Join(s.root, segment(threadID)))
	return nil
}

func (s *Storage) dir(threadID, requestID string) string {
	return filepath.Join(s.root, segment(threadID), segment(requestID))
}

// BaseName strips any directory part a client put into the filename,
// including Windows-style separators.
func BaseName(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	if name == "." || name == "/" || name == ".." || name == "" {
		return "upload"
	}
	return name
}

func segment(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
