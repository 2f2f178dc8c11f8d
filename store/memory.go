package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/brokemediaio-a11y/OffLink/chat"
	"github.com/brokemediaio-a11y/OffLink/identity"
)

// Memory is an in-process chat.Store for ephemeral runs and tests.
type Memory struct {
	mu       sync.Mutex
	messages map[string]chat.Message
	names    map[identity.PeerID]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		messages: make(map[string]chat.Message),
		names:    make(map[identity.PeerID]string),
	}
}

func (s *Memory) SaveMessage(m chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ID] = m
	return nil
}

func (s *Memory) UpdateStatus(messageID string, status chat.DeliveryStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return fmt.Errorf("message %s not found", messageID)
	}
	m.Status = status
	s.messages[messageID] = m
	return nil
}

func (s *Memory) GetAllMessages() ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]chat.Message, 0, len(s.messages))
	for _, m := range s.messages {
		msgs = append(msgs, m)
	}
	sortByTime(msgs)
	return msgs, nil
}

func (s *Memory) GetMessagesForConversation(peer identity.PeerID) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var msgs []chat.Message
	for _, m := range s.messages {
		if m.PeerID() == peer {
			msgs = append(msgs, m)
		}
	}
	sortByTime(msgs)
	return msgs, nil
}

func (s *Memory) GetDisplayName(peer identity.PeerID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.names[peer], nil
}

func (s *Memory) SetDisplayName(peer identity.PeerID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[peer] = name
	return nil
}

// Close is a no-op: nothing to release.
func (s *Memory) Close() error { return nil }

func sortByTime(msgs []chat.Message) {
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Timestamp.Before(msgs[j].Timestamp) })
}
