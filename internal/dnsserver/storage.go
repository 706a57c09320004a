package dnsserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"sync"
	"time"
)

var (
	ErrNotFound = errors.New("message not found")
	ErrExists   = errors.New("message already exists")
	ErrExpired  = errors.New("message expired")
)

// Message is one published carrier: its manifest and encoded chunks keyed
// by record label (c-<n>-<id>).
type Message struct {
	ID          string            `json:"id"`
	Chunks      map[string]string `json:"chunks"`
	TotalChunks int               `json:"total_chunks"`
	Manifest    string            `json:"manifest"`
	CreatedAt   time.Time         `json:"created_at"`
	State       MessageState      `json:"state"`
	Consumers   []ConsumerRecord  `json:"consumers"`
}

// MessageState tracks lifecycle.
type MessageState int

const (
	StateNew       MessageState = iota // uploaded, never fetched
	StateDelivered                     // fetched at least once
	StateConsumed                      // acknowledged by a receiver
	StateExpired                       // past TTL, no longer served
)

func (s MessageState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateDelivered:
		return "delivered"
	case StateConsumed:
		return "consumed"
	case StateExpired:
		return "expired"
	}
	return "unknown"
}

// ConsumerRecord tracks who fetched what.
type ConsumerRecord struct {
	ClientID  string    `json:"client_id"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Storage holds published messages.
type Storage interface {
	StoreMessage(msg *Message) error
	GetMessage(id string) (*Message, error)
	GetChunk(msgID, label string) (string, error)

	GetNewMessages(clientID string) ([]*Message, error)
	MarkAsDelivered(msgID, clientID string) error
	MarkAsConsumed(msgID, clientID string) error

	ListMessages() ([]*Message, error)
	CleanExpired(ttl time.Duration) int
	GetStats() StorageStats
}

// StorageStats counts messages by state.
type StorageStats struct {
	TotalMessages int `json:"total_messages"`
	NewMessages   int `json:"new"`
	Delivered     int `json:"delivered"`
	Consumed      int `json:"consumed"`
	Expired       int `json:"expired"`
	TotalChunks   int `json:"total_chunks"`
}

// MemoryStorage keeps everything in RAM.
type MemoryStorage struct {
	messages map[string]*Message
	index    map[string][]string // clientID -> msgIDs seen
	mu       sync.RWMutex
	now      func() time.Time
}

// NewMemoryStorage creates in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		messages: make(map[string]*Message),
		index:    make(map[string][]string),
		now:      time.Now,
	}
}

// snapshot copies a message so callers never share mutable state with
// the store. Chunks are immutable after upload and stay shared.
func snapshot(msg *Message) *Message {
	cp := *msg
	cp.Consumers = slices.Clone(msg.Consumers)
	return &cp
}

// StoreMessage adds a new message with all its chunks at once.
func (ms *MemoryStorage) StoreMessage(msg *Message) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.messages[msg.ID]; exists {
		return fmt.Errorf("%w: %s", ErrExists, msg.ID)
	}

	stored := snapshot(msg)
	stored.Chunks = maps.Clone(msg.Chunks)
	stored.State = StateNew
	stored.CreatedAt = ms.now()
	if stored.TotalChunks == 0 {
		stored.TotalChunks = len(stored.Chunks)
	}
	ms.messages[msg.ID] = stored
	return nil
}

// GetMessage retrieves a message by ID.
func (ms *MemoryStorage) GetMessage(id string) (*Message, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	msg, exists := ms.messages[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return snapshot(msg), nil
}

// GetChunk retrieves a chunk by its record label.
func (ms *MemoryStorage) GetChunk(msgID, label string) (string, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	msg, exists := ms.messages[msgID]
	if !exists {
		return "", fmt.Errorf("%w: %s", ErrNotFound, msgID)
	}
	if msg.State == StateExpired {
		return "", fmt.Errorf("%w: %s", ErrExpired, msgID)
	}
	data, exists := msg.Chunks[label]
	if !exists {
		return "", fmt.Errorf("chunk %s not found", label)
	}
	return data, nil
}

// GetNewMessages returns messages in StateNew the client has not seen.
func (ms *MemoryStorage) GetNewMessages(clientID string) ([]*Message, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	seen := make(map[string]bool)
	for _, id := range ms.index[clientID] {
		seen[id] = true
	}

	var newMessages []*Message
	for id, msg := range ms.messages {
		if !seen[id] && msg.State == StateNew {
			newMessages = append(newMessages, snapshot(msg))
		}
	}
	slices.SortFunc(newMessages, func(a, b *Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return newMessages, nil
}

// MarkAsDelivered records a fetch by clientID.
func (ms *MemoryStorage) MarkAsDelivered(msgID, clientID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	msg, exists := ms.messages[msgID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, msgID)
	}
	if msg.State == StateNew {
		msg.State = StateDelivered
	}
	msg.Consumers = append(msg.Consumers, ConsumerRecord{
		ClientID:  clientID,
		FetchedAt: ms.now(),
	})
	if !slices.Contains(ms.index[clientID], msgID) {
		ms.index[clientID] = append(ms.index[clientID], msgID)
	}
	return nil
}

// MarkAsConsumed marks a message as fully processed.
func (ms *MemoryStorage) MarkAsConsumed(msgID, clientID string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	msg, exists := ms.messages[msgID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, msgID)
	}
	if msg.State == StateExpired {
		return fmt.Errorf("%w: %s", ErrExpired, msgID)
	}
	msg.State = StateConsumed
	return nil
}

// ListMessages returns all messages, oldest first.
func (ms *MemoryStorage) ListMessages() ([]*Message, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	messages := make([]*Message, 0, len(ms.messages))
	for _, msg := range ms.messages {
		messages = append(messages, snapshot(msg))
	}
	slices.SortFunc(messages, func(a, b *Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return messages, nil
}

// CleanExpired expires messages older than ttl. Messages already expired
// by an earlier pass are removed, so an expired message stays visible in
// status output for one cleanup interval. It returns the number of
// messages expired or removed.
func (ms *MemoryStorage) CleanExpired(ttl time.Duration) int {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	cutoff := ms.now().Add(-ttl)
	changed := 0
	for id, msg := range ms.messages {
		switch {
		case msg.State == StateExpired:
			delete(ms.messages, id)
			changed++
		case msg.CreatedAt.Before(cutoff):
			msg.State = StateExpired
			changed++
		}
	}
	return changed
}

// GetStats counts messages by state.
func (ms *MemoryStorage) GetStats() StorageStats {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var stats StorageStats
	for _, msg := range ms.messages {
		stats.TotalMessages++
		stats.TotalChunks += len(msg.Chunks)
		switch msg.State {
		case StateNew:
			stats.NewMessages++
		case StateDelivered:
			stats.Delivered++
		case StateConsumed:
			stats.Consumed++
		case StateExpired:
			stats.Expired++
		}
	}
	return stats
}

// FileStorage persists MemoryStorage to a JSON file after every change.
type FileStorage struct {
	*MemoryStorage
	dataFile string
	mu       sync.Mutex
}

// NewFileStorage creates persistent storage, loading dataFile if present.
func NewFileStorage(dataFile string) (*FileStorage, error) {
	fs := &FileStorage{
		MemoryStorage: NewMemoryStorage(),
		dataFile:      dataFile,
	}
	if err := fs.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}
	return fs, nil
}

type fileState struct {
	Messages map[string]*Message `json:"messages"`
	Index    map[string][]string `json:"index"`
}

// StoreMessage adds a message and persists.
func (fs *FileStorage) StoreMessage(msg *Message) error {
	if err := fs.MemoryStorage.StoreMessage(msg); err != nil {
		return err
	}
	return fs.Save()
}

// MarkAsDelivered records a fetch and persists.
func (fs *FileStorage) MarkAsDelivered(msgID, clientID string) error {
	if err := fs.MemoryStorage.MarkAsDelivered(msgID, clientID); err != nil {
		return err
	}
	return fs.Save()
}

// MarkAsConsumed marks a message consumed and persists.
func (fs *FileStorage) MarkAsConsumed(msgID, clientID string) error {
	if err := fs.MemoryStorage.MarkAsConsumed(msgID, clientID); err != nil {
		return err
	}
	return fs.Save()
}

// CleanExpired expires old messages and persists when anything changed.
func (fs *FileStorage) CleanExpired(ttl time.Duration) int {
	n := fs.MemoryStorage.CleanExpired(ttl)
	if n > 0 {
		// Best effort: the next successful Save catches up.
		_ = fs.Save()
	}
	return n
}

// Save writes current state to disk atomically.
func (fs *FileStorage) Save() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.MemoryStorage.mu.RLock()
	jsonData, err := json.MarshalIndent(fileState{
		Messages: fs.messages,
		Index:    fs.index,
	}, "", "  ")
	fs.MemoryStorage.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	tempFile := fs.dataFile + ".tmp"
	if err := os.WriteFile(tempFile, jsonData, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFile, fs.dataFile); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Load replaces in-memory state with the contents of the data file.
func (fs *FileStorage) Load() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	jsonData, err := os.ReadFile(fs.dataFile)
	if err != nil {
		return err
	}

	var state fileState
	if err := json.Unmarshal(jsonData, &state); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}
	if state.Messages == nil {
		state.Messages = make(map[string]*Message)
	}
	if state.Index == nil {
		state.Index = make(map[string][]string)
	}

	fs.MemoryStorage.mu.Lock()
	fs.messages = state.Messages
	fs.index = state.Index
	fs.MemoryStorage.mu.Unlock()
	return nil
}

// QueueManager adds queue semantics on top of storage.
type QueueManager struct {
	storage Storage
}

// NewQueueManager creates a queue manager.
func NewQueueManager(storage Storage) *QueueManager {
	return &QueueManager{storage: storage}
}

// PublishMessage adds a new message to the queue.
func (qm *QueueManager) PublishMessage(id string, chunks map[string]string, manifest string) error {
	return qm.storage.StoreMessage(&Message{
		ID:          id,
		Chunks:      chunks,
		TotalChunks: len(chunks),
		Manifest:    manifest,
	})
}

// ConsumeMessages returns messages new to clientID and marks them
// delivered to it.
func (qm *QueueManager) ConsumeMessages(clientID string) ([]*Message, error) {
	messages, err := qm.storage.GetNewMessages(clientID)
	if err != nil {
		return nil, err
	}
	for _, msg := range messages {
		if err := qm.storage.MarkAsDelivered(msg.ID, clientID); err != nil {
			return nil, err
		}
	}
	return messages, nil
}

// AcknowledgeMessage marks a message as consumed.
func (qm *QueueManager) AcknowledgeMessage(msgID, clientID string) error {
	return qm.storage.MarkAsConsumed(msgID, clientID)
}

// GetMessageStatus describes the current state of a message.
func (qm *QueueManager) GetMessageStatus(msgID string) (string, error) {
	msg, err := qm.storage.GetMessage(msgID)
	if err != nil {
		return "", err
	}
	if msg.State == StateDelivered {
		return fmt.Sprintf("delivered to %d clients", len(msg.Consumers)), nil
	}
	return msg.State.String(), nil
}
