// Package logstore persists build logs as compressed chunks. Content is
// written append-only while a build runs and read back whole for reporting.
package logstore

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"gorm.io/gorm"

	"github.com/switchyard-ci/switchyard/internal/models"
)

// compressThreshold is the chunk size below which compression is skipped;
// tiny chunks grow under zstd framing.
const compressThreshold = 64

var ErrLogComplete = errors.New("logstore: log is complete")

// Store reads and writes build logs.
type Store struct {
	db  *gorm.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// New builds a log store over db. The zstd encoder and decoder are shared
// across calls; both are safe for concurrent use via EncodeAll/DecodeAll.
func New(db *gorm.DB) (*Store, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("logstore: create encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("logstore: create decoder: %w", err)
	}
	return &Store{db: db, enc: enc, dec: dec}, nil
}

// AddLog creates an empty log of the given type attached to a build.
func (s *Store) AddLog(buildID int64, name, logType string) (int64, error) {
	if logType == "" {
		logType = "stdio"
	}
	l := models.Log{BuildID: buildID, Name: name, Type: logType}
	if err := s.db.Create(&l).Error; err != nil {
		return 0, fmt.Errorf("logstore: add log %q for build %d: %w", name, buildID, err)
	}
	return l.ID, nil
}

// Append writes one chunk of content to an incomplete log.
func (s *Store) Append(logID int64, content []byte) error {
	if len(content) == 0 {
		return nil
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		var l models.Log
		if err := tx.First(&l, logID).Error; err != nil {
			return fmt.Errorf("logstore: load log %d: %w", logID, err)
		}
		if l.Complete {
			return ErrLogComplete
		}

		chunk := models.LogChunk{LogID: logID, Seq: l.NumChunks, Content: content}
		if len(content) >= compressThreshold {
			chunk.Content = s.enc.EncodeAll(content, nil)
			chunk.Compressed = true
		}
		if err := tx.Create(&chunk).Error; err != nil {
			return fmt.Errorf("logstore: append chunk %d to log %d: %w", chunk.Seq, logID, err)
		}
		if err := tx.Model(&models.Log{}).Where("id = ?", logID).
			Update("num_chunks", l.NumChunks+1).Error; err != nil {
			return fmt.Errorf("logstore: bump chunk count for log %d: %w", logID, err)
		}
		return nil
	})
}

// Finish marks a log complete; further appends fail.
func (s *Store) Finish(logID int64) error {
	if err := s.db.Model(&models.Log{}).Where("id = ?", logID).
		Update("complete", true).Error; err != nil {
		return fmt.Errorf("logstore: finish log %d: %w", logID, err)
	}
	return nil
}

// Content returns the full decompressed content of a log.
func (s *Store) Content(logID int64) (string, error) {
	var chunks []models.LogChunk
	if err := s.db.Where("log_id = ?", logID).Order("seq ASC").Find(&chunks).Error; err != nil {
		return "", fmt.Errorf("logstore: load chunks for log %d: %w", logID, err)
	}
	var buf bytes.Buffer
	for _, c := range chunks {
		if !c.Compressed {
			buf.Write(c.Content)
			continue
		}
		raw, err := s.dec.DecodeAll(c.Content, nil)
		if err != nil {
			return "", fmt.Errorf("logstore: decompress chunk %d of log %d: %w", c.Seq, logID, err)
		}
		buf.Write(raw)
	}
	return buf.String(), nil
}

// Entry is one log with its content loaded.
type Entry struct {
	Log     models.Log
	Content string
}

// LogsForBuild loads every log of a build with full content, ordered by
// creation.
func (s *Store) LogsForBuild(buildID int64) ([]Entry, error) {
	var logs []models.Log
	if err := s.db.Where("build_id = ?", buildID).Order("id ASC").Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("logstore: load logs for build %d: %w", buildID, err)
	}
	entries := make([]Entry, 0, len(logs))
	for _, l := range logs {
		content, err := s.Content(l.ID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Log: l, Content: content})
	}
	return entries, nil
}

// Tail returns the last n lines of a log's content.
func (s *Store) Tail(logID int64, n int) (string, error) {
	content, err := s.Content(logID)
	if err != nil {
		return "", err
	}
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n"), nil
}
