// Package stream implements the conversation stream engine (C5): it spawns
// the agent CLI for one user turn, parses its stdout line stream, fans out
// events over the event bus, and persists the resulting message and tool
// usage rows.
package stream

import (
	"context"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StreamState is the in-memory record of one active turn, indexed by
// conversation id (§4.5). Mutations to ActiveTools/PartialContent happen
// only on the owning goroutine (the stdout-parse loop); Snapshot takes a
// read lock for concurrent subscribers.
type StreamState struct {
	ConversationID uuid.UUID
	ProjectID      uuid.UUID
	MessageID      uuid.UUID
	StartedAt      time.Time

	mu             sync.RWMutex
	activeTools    []string
	partialContent string

	cmd    *exec.Cmd
	cancel context.CancelFunc
}

// Snapshot is a point-in-time, lock-free copy of a StreamState used to
// synthesize the resubscribe sequence (§4.5).
type Snapshot struct {
	ConversationID uuid.UUID
	MessageID      uuid.UUID
	ActiveTools    []string
	PartialContent string
}

func (s *StreamState) snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tools := make([]string, len(s.activeTools))
	copy(tools, s.activeTools)
	return Snapshot{
		ConversationID: s.ConversationID,
		MessageID:      s.MessageID,
		ActiveTools:    tools,
		PartialContent: s.partialContent,
	}
}

func (s *StreamState) pushTool(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeTools = append(s.activeTools, name)
}

func (s *StreamState) popTool(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.activeTools {
		if t == name {
			s.activeTools = append(s.activeTools[:i], s.activeTools[i+1:]...)
			return
		}
	}
}

func (s *StreamState) appendProgress(delta string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partialContent += delta
}

func (s *StreamState) setContent(final string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partialContent = final
}

func (s *StreamState) content() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.partialContent
}
