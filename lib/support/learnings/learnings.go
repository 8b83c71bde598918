// Package learnings keeps chat feedback and operator-added answers in flat
// JSON files under a data directory.
package learnings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

const (
	FeedbackFile = "feedback.json"
	CustomQAFile = "custom-qa.json"
)

var (
	ErrInvalidFeedback = errors.New("learnings: feedback needs an id, a question and a helpful flag")
	ErrInvalidQA       = errors.New("learnings: question and answer are required")
)

type FeedbackEntry struct {
	ID        string `json:"id"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Helpful   bool   `json:"helpful"`
	Timestamp int64  `json:"timestamp"` // milliseconds since the epoch
	SessionID string `json:"sessionId"`
}

func (f FeedbackEntry) Valid() error {
	if f.ID == "" || f.Question == "" {
		return ErrInvalidFeedback
	}

	return nil
}

type CustomQA struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
	AddedAt  int64  `json:"addedAt"` // milliseconds since the epoch
}

// FileStore appends to and lists the learnings files. All reads and writes
// in one process go through a single lock; files are replaced atomically.
type FileStore struct {
	dir  string
	lock sync.Mutex
	now  func() time.Time
}

func New(dir string) *FileStore {
	return &FileStore{dir: dir, now: time.Now}
}

func (s *FileStore) Dir() string { return s.dir }

// LogFeedback appends entry, stamping it with the current time.
func (s *FileStore) LogFeedback(_ context.Context, entry FeedbackEntry) error {
	if err := entry.Valid(); err != nil {
		return err
	}

	entry.Timestamp = s.now().UnixMilli()

	s.lock.Lock()
	defer s.lock.Unlock()

	var entries []FeedbackEntry
	if err := s.read(FeedbackFile, &entries); err != nil {
		return err
	}

	return s.write(FeedbackFile, append(entries, entry))
}

func (s *FileStore) Feedback(_ context.Context) ([]FeedbackEntry, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	entries := []FeedbackEntry{}
	if err := s.read(FeedbackFile, &entries); err != nil {
		return nil, err
	}

	return entries, nil
}

// AddCustomQA appends a new question/answer pair with an id of the form
// custom-<unix millis>.
func (s *FileStore) AddCustomQA(_ context.Context, question, answer string) (*CustomQA, error) {
	if question == "" || answer == "" {
		return nil, ErrInvalidQA
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	var entries []CustomQA
	if err := s.read(CustomQAFile, &entries); err != nil {
		return nil, err
	}

	now := s.now().UnixMilli()
	qa := CustomQA{
		ID:       uniqueID(entries, now),
		Question: question,
		Answer:   answer,
		AddedAt:  now,
	}

	if err := s.write(CustomQAFile, append(entries, qa)); err != nil {
		return nil, err
	}

	return &qa, nil
}

func (s *FileStore) CustomQAs(_ context.Context) ([]CustomQA, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	entries := []CustomQA{}
	if err := s.read(CustomQAFile, &entries); err != nil {
		return nil, err
	}

	return entries, nil
}

// uniqueID returns custom-<now>, suffixed when two pairs land in the same
// millisecond.
func uniqueID(entries []CustomQA, now int64) string {
	base := "custom-" + strconv.FormatInt(now, 10)
	id := base

	for n := 1; ; n++ {
		taken := false
		for _, e := range entries {
			if e.ID == id {
				taken = true
				break
			}
		}
		if !taken {
			return id
		}
		id = fmt.Sprintf("%s-%d", base, n)
	}
}

// read decodes fname into dst. A missing file leaves dst untouched.
func (s *FileStore) read(fname string, dst any) error {
	data, err := os.ReadFile(filepath.Join(s.dir, fname))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("learnings: can't read %s: %w", fname, err)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("learnings: can't decode %s: %w", fname, err)
	}

	return nil
}

func (s *FileStore) write(fname string, v any) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("learnings: can't create data dir: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("learnings: can't encode %s: %w", fname, err)
	}

	fout, err := os.CreateTemp(s.dir, "."+fname+".*")
	if err != nil {
		return fmt.Errorf("learnings: can't create temp file: %w", err)
	}
	tmpName := fout.Name()
	defer os.Remove(tmpName)

	if _, err := fout.Write(data); err != nil {
		fout.Close()
		return fmt.Errorf("learnings: can't write %s: %w", fname, err)
	}

	if err := fout.Close(); err != nil {
		return fmt.Errorf("learnings: can't write %s: %w", fname, err)
	}

	if err := os.Rename(tmpName, filepath.Join(s.dir, fname)); err != nil {
		return fmt.Errorf("learnings: can't replace %s: %w", fname, err)
	}

	return nil
}
