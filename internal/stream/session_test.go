package stream

import (
	"strings"
	"sync"
	"testing"
)

func TestSession_AccumulatesInOrder(t *testing.T) {
	s := NewSession("sess-1", "bookkeeper")

	if s.Status() != StatusIdle {
		t.Fatalf("initial Status() = %v, want idle", s.Status())
	}
	if !s.Start() {
		t.Fatal("Start() = false on idle session")
	}

	chunks := []string{"Hi ", "there", ", ", "héllo ✓"}
	for _, c := range chunks {
		if !s.AppendChunk(c) {
			t.Fatalf("AppendChunk(%q) = false while streaming", c)
		}
	}

	want := strings.Join(chunks, "")
	if got := s.Finalize(); got != want {
		t.Errorf("Finalize() = %q, want %q", got, want)
	}
	if s.Status() != StatusCompleted {
		t.Errorf("Status() = %v, want completed", s.Status())
	}
}

func TestSession_AppendOutsideStreamingIsRejected(t *testing.T) {
	s := NewSession("sess-1", "bookkeeper")

	if s.AppendChunk("early") {
		t.Error("AppendChunk should be rejected while idle")
	}

	s.Start()
	s.AppendChunk("kept")
	s.Finalize()

	if s.AppendChunk("late") {
		t.Error("AppendChunk should be rejected after completion")
	}
	if got := s.Text(); got != "kept" {
		t.Errorf("Text() = %q, want 'kept'", got)
	}
}

func TestSession_RepeatedStartResetsBuffer(t *testing.T) {
	s := NewSession("sess-1", "bookkeeper")
	s.Start()
	s.AppendChunk("stale")
	s.Start()
	s.AppendChunk("fresh")

	if got := s.Text(); got != "fresh" {
		t.Errorf("Text() = %q, want 'fresh'", got)
	}
}

func TestSession_TerminalStatesAreFrozen(t *testing.T) {
	tests := []struct {
		name   string
		end    func(*Session)
		status Status
	}{
		{"fail", func(s *Session) { s.Fail("boom") }, StatusErrored},
		{"cancel", func(s *Session) { s.Cancel() }, StatusCancelled},
		{"finalize", func(s *Session) { s.Finalize() }, StatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession("sess-1", "bookkeeper")
			s.Start()
			s.AppendChunk("partial")
			tt.end(s)

			if s.Status() != tt.status {
				t.Fatalf("Status() = %v, want %v", s.Status(), tt.status)
			}
			if s.Start() {
				t.Error("Start() should fail on a terminal session")
			}
			if s.Fail("again") || s.Cancel() {
				t.Error("terminal transitions should not apply twice")
			}
			if got := s.Finalize(); got != "partial" {
				t.Errorf("Finalize() = %q, want frozen 'partial'", got)
			}
			if s.Status() != tt.status {
				t.Errorf("Status() changed to %v after Finalize on terminal session", s.Status())
			}
		})
	}
}

func TestSession_FailRecordsMessage(t *testing.T) {
	s := NewSession("sess-1", "bookkeeper")
	s.Start()
	s.Fail("connection lost")

	summary := s.Summary()
	if summary.Error != "connection lost" {
		t.Errorf("Summary().Error = %q, want 'connection lost'", summary.Error)
	}
	if summary.StartedAt.IsZero() || summary.EndedAt.IsZero() {
		t.Error("Summary() should report start and end")
	}
	if summary.EndedAt.Before(summary.StartedAt) {
		t.Error("end time before start time")
	}
}

func TestSession_ChunksReturnsCopy(t *testing.T) {
	s := NewSession("sess-1", "bookkeeper")
	s.Start()
	s.AppendChunk("a")

	chunks := s.Chunks()
	chunks[0] = "mutated"

	if s.Text() != "a" {
		t.Error("Chunks() should return a copy")
	}
}

func TestSession_ConcurrentReaders(t *testing.T) {
	s := NewSession("sess-1", "bookkeeper")
	s.Start()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			s.AppendChunk("x")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = s.Text()
			_ = s.Status()
		}
	}()
	wg.Wait()

	if got := len(s.Finalize()); got != 500 {
		t.Errorf("len(Finalize()) = %d, want 500", got)
	}
}

func TestSession_Summary(t *testing.T) {
	s := NewSession("sess-1", "tax-helper")
	s.Start()
	s.AppendChunk("Hi")
	s.AppendChunk(" there")
	s.Finalize()

	sum := s.Summary()
	if sum.SessionID != "sess-1" || sum.Agent != "tax-helper" {
		t.Errorf("ids = %q/%q", sum.SessionID, sum.Agent)
	}
	if sum.Status != StatusCompleted || sum.Text != "Hi there" {
		t.Errorf("Summary() = %+v", sum)
	}
	if sum.Duration() < 0 || sum.EndedAt.IsZero() {
		t.Errorf("Duration() = %v, EndedAt = %v", sum.Duration(), sum.EndedAt)
	}

	idle := NewSession("s", "a").Summary()
	if idle.Duration() != 0 {
		t.Errorf("idle Duration() = %v, want 0", idle.Duration())
	}
}
