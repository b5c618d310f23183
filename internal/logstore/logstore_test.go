package logstore

import (
	"errors"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/switchyard-ci/switchyard/internal/db"
	"github.com/switchyard-ci/switchyard/internal/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s, err := New(gdb)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestAddLogDefaultsType(t *testing.T) {
	s := testStore(t)
	id, err := s.AddLog(1, "stdio", "")
	if err != nil {
		t.Fatalf("add log: %v", err)
	}
	var l models.Log
	if err := s.db.First(&l, id).Error; err != nil {
		t.Fatalf("load log: %v", err)
	}
	if l.Type != "stdio" {
		t.Fatalf("type = %q", l.Type)
	}
}

func TestAppendAndContent(t *testing.T) {
	s := testStore(t)
	id, err := s.AddLog(1, "stdio", "stdio")
	if err != nil {
		t.Fatalf("add log: %v", err)
	}

	short := "ok\n"
	long := strings.Repeat("compiling unit with very verbose output\n", 20)

	if err := s.Append(id, []byte(short)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(id, []byte(long)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(id, nil); err != nil {
		t.Fatalf("empty append: %v", err)
	}

	var chunks []models.LogChunk
	if err := s.db.Where("log_id = ?", id).Order("seq ASC").Find(&chunks).Error; err != nil {
		t.Fatalf("load chunks: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d", len(chunks))
	}
	if chunks[0].Compressed {
		t.Fatal("short chunk must not be compressed")
	}
	if !chunks[1].Compressed {
		t.Fatal("long chunk must be compressed")
	}
	if len(chunks[1].Content) >= len(long) {
		t.Fatal("compressed chunk did not shrink")
	}

	content, err := s.Content(id)
	if err != nil {
		t.Fatalf("content: %v", err)
	}
	if content != short+long {
		t.Fatalf("content mismatch, got %d bytes", len(content))
	}
}

func TestFinishBlocksAppend(t *testing.T) {
	s := testStore(t)
	id, err := s.AddLog(1, "stdio", "stdio")
	if err != nil {
		t.Fatalf("add log: %v", err)
	}
	if err := s.Append(id, []byte("before\n")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Finish(id); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := s.Append(id, []byte("after\n")); !errors.Is(err, ErrLogComplete) {
		t.Fatalf("err = %v", err)
	}
	content, err := s.Content(id)
	if err != nil {
		t.Fatalf("content: %v", err)
	}
	if content != "before\n" {
		t.Fatalf("content = %q", content)
	}
}

func TestLogsForBuild(t *testing.T) {
	s := testStore(t)
	first, err := s.AddLog(7, "stdio", "stdio")
	if err != nil {
		t.Fatalf("add log: %v", err)
	}
	second, err := s.AddLog(7, "warnings", "text")
	if err != nil {
		t.Fatalf("add log: %v", err)
	}
	if _, err := s.AddLog(8, "stdio", "stdio"); err != nil {
		t.Fatalf("add log: %v", err)
	}
	if err := s.Append(first, []byte("hello\n")); err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, err := s.LogsForBuild(7)
	if err != nil {
		t.Fatalf("logs for build: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d", len(entries))
	}
	if entries[0].Log.ID != first || entries[1].Log.ID != second {
		t.Fatal("entries out of creation order")
	}
	if entries[0].Content != "hello\n" {
		t.Fatalf("content = %q", entries[0].Content)
	}
	if entries[1].Content != "" {
		t.Fatal("empty log must have empty content")
	}
}

func TestTail(t *testing.T) {
	s := testStore(t)
	id, err := s.AddLog(1, "stdio", "stdio")
	if err != nil {
		t.Fatalf("add log: %v", err)
	}
	if err := s.Append(id, []byte("one\ntwo\nthree\nfour\n")); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := s.Tail(id, 2)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if got != "three\nfour" {
		t.Fatalf("tail = %q", got)
	}

	got, err = s.Tail(id, 10)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if got != "one\ntwo\nthree\nfour" {
		t.Fatalf("tail = %q", got)
	}
}
