package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gatekeeper/internal/models"
)

// JSONStorage implements the Storage interface using a JSON file for
// persistence. The whole log is held in memory and rewritten on every save,
// so MaxEvents should stay modest.
type JSONStorage struct {
	filePath  string
	maxEvents int
	mu        sync.RWMutex
	data      *JSONData
}

// JSONData represents the structure of data stored in JSON format.
// Events are kept oldest first.
type JSONData struct {
	Events      []*models.SecurityEvent `json:"events"`
	LastUpdated time.Time               `json:"last_updated"`
}

// NewJSONStorage creates a new JSON-based storage instance
func NewJSONStorage(config Config) (*JSONStorage, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("path is required for JSON storage")
	}

	storage := &JSONStorage{
		filePath:  config.Path,
		maxEvents: config.maxEvents(),
	}

	// Initialize with empty data if file doesn't exist
	if err := storage.ensureFileExists(); err != nil {
		return nil, fmt.Errorf("failed to ensure file exists: %w", err)
	}

	if err := storage.loadData(); err != nil {
		return nil, fmt.Errorf("failed to load initial data: %w", err)
	}

	return storage, nil
}

// ensureFileExists creates the JSON file with empty data if it doesn't exist
func (j *JSONStorage) ensureFileExists() error {
	if _, err := os.Stat(j.filePath); os.IsNotExist(err) {
		// Create directory if it doesn't exist
		if err := os.MkdirAll(filepath.Dir(j.filePath), 0700); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}

		return j.saveData(&JSONData{Events: []*models.SecurityEvent{}})
	}
	return nil
}

func (j *JSONStorage) loadData() error {
	fileData, err := os.ReadFile(j.filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var data JSONData
	if err := json.Unmarshal(fileData, &data); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	if data.Events == nil {
		data.Events = []*models.SecurityEvent{}
	}

	sort.SliceStable(data.Events, func(a, b int) bool {
		return data.Events[a].Timestamp.Before(data.Events[b].Timestamp)
	})
	if len(data.Events) > j.maxEvents {
		data.Events = data.Events[len(data.Events)-j.maxEvents:]
	}

	j.mu.Lock()
	j.data = &data
	j.mu.Unlock()
	return nil
}

// saveData writes data to a temporary file and renames it over the real one
// so a crash never leaves a truncated log behind.
func (j *JSONStorage) saveData(data *JSONData) error {
	data.LastUpdated = time.Now()

	fileData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	tmp := j.filePath + ".tmp"
	if err := os.WriteFile(tmp, fileData, 0600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp, j.filePath); err != nil {
		return fmt.Errorf("failed to replace file: %w", err)
	}

	return nil
}

// SaveEvent appends event and rewrites the file
func (j *JSONStorage) SaveEvent(ctx context.Context, event *models.SecurityEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	events := append(j.data.Events, copyEvent(event))
	if len(events) > j.maxEvents {
		events = events[len(events)-j.maxEvents:]
	}

	next := &JSONData{Events: events}
	if err := j.saveData(next); err != nil {
		return err
	}
	j.data = next
	return nil
}

// GetEvent retrieves an event by its ID
func (j *JSONStorage) GetEvent(ctx context.Context, id string) (*models.SecurityEvent, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	for i := len(j.data.Events) - 1; i >= 0; i-- {
		if j.data.Events[i].ID == id {
			return copyEvent(j.data.Events[i]), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// RecentEvents returns events matching filter, newest first
func (j *JSONStorage) RecentEvents(ctx context.Context, filter models.EventFilter) ([]*models.SecurityEvent, error) {
	limit := filter.EffectiveLimit()

	j.mu.RLock()
	defer j.mu.RUnlock()

	events := make([]*models.SecurityEvent, 0)
	for i := len(j.data.Events) - 1; i >= 0 && len(events) < limit; i-- {
		if e := j.data.Events[i]; filter.Matches(e) {
			events = append(events, copyEvent(e))
		}
	}
	return events, nil
}

// CountEvents returns how many events occurred at or after since
func (j *JSONStorage) CountEvents(ctx context.Context, since time.Time) (int, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	count := 0
	for _, e := range j.data.Events {
		if !e.Timestamp.Before(since) {
			count++
		}
	}
	return count, nil
}

// Ping verifies the backing file is still accessible.
func (j *JSONStorage) Ping(_ context.Context) error {
	if _, err := os.Stat(j.filePath); err != nil {
		return fmt.Errorf("storage file unavailable: %w", err)
	}
	return nil
}

// Close is a no-op; every save is already flushed to disk.
func (j *JSONStorage) Close() error {
	return nil
}
