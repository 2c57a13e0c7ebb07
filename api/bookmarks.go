package api

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// Bookmark is one saved address, grounded on bookmarks.h's Bookmark struct.
type Bookmark struct {
	Address   uint64 `json:"address"`
	Label     string `json:"label"`
	Notes     string `json:"notes"`
	Category  string `json:"category"`
	Module    string `json:"module"`
	CreatedAt int64  `json:"created_at"`
}

// BookmarkManager holds a dirty-tracked, JSON-persisted bookmark list, the
// same shape bookmarks.h/.cpp describe.
type BookmarkManager struct {
	mu        sync.Mutex
	bookmarks []Bookmark
	dirty     bool
	filePath  string
}

// NewBookmarkManager builds a BookmarkManager that persists to filePath.
func NewBookmarkManager(filePath string) *BookmarkManager {
	return &BookmarkManager{filePath: filePath}
}

// Add appends a bookmark, stamping CreatedAt if unset, and returns its
// index.
func (m *BookmarkManager) Add(b Bookmark, now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.CreatedAt == 0 {
		b.CreatedAt = now.Unix()
	}
	m.bookmarks = append(m.bookmarks, b)
	m.dirty = true
	return len(m.bookmarks) - 1
}

// Remove deletes the bookmark at index, reporting whether it existed.
func (m *BookmarkManager) Remove(index int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.bookmarks) {
		return false
	}
	m.bookmarks = append(m.bookmarks[:index], m.bookmarks[index+1:]...)
	m.dirty = true
	return true
}

// RemoveByAddress deletes the first bookmark at address, reporting whether
// one was found.
func (m *BookmarkManager) RemoveByAddress(address uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, b := range m.bookmarks {
		if b.Address == address {
			m.bookmarks = append(m.bookmarks[:i], m.bookmarks[i+1:]...)
			m.dirty = true
			return true
		}
	}
	return false
}

// GetAll returns every bookmark, in insertion order.
func (m *BookmarkManager) GetAll() []Bookmark {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Bookmark, len(m.bookmarks))
	copy(out, m.bookmarks)
	return out
}

// GetByCategory returns every bookmark tagged with category.
func (m *BookmarkManager) GetByCategory(category string) []Bookmark {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Bookmark
	for _, b := range m.bookmarks {
		if b.Category == category {
			out = append(out, b)
		}
	}
	return out
}

// FindByAddress returns the first bookmark at address, if any.
func (m *BookmarkManager) FindByAddress(address uint64) (Bookmark, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookmarks {
		if b.Address == address {
			return b, true
		}
	}
	return Bookmark{}, false
}

// IsBookmarked reports whether address has any bookmark.
func (m *BookmarkManager) IsBookmarked(address uint64) bool {
	_, ok := m.FindByAddress(address)
	return ok
}

// GetCategories returns every distinct, non-empty category in first-seen
// order.
func (m *BookmarkManager) GetCategories() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, b := range m.bookmarks {
		if b.Category == "" || seen[b.Category] {
			continue
		}
		seen[b.Category] = true
		out = append(out, b.Category)
	}
	return out
}

// Clear removes every bookmark.
func (m *BookmarkManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookmarks = nil
	m.dirty = true
}

// Save writes every bookmark to the manager's file path if dirty.
func (m *BookmarkManager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dirty || m.filePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(m.bookmarks, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.filePath, data, 0o644); err != nil {
		return err
	}
	m.dirty = false
	return nil
}

// Load reads the bookmark list from the manager's file path. A missing
// file is not an error (fresh install).
func (m *BookmarkManager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.filePath == "" {
		return nil
	}
	data, err := os.ReadFile(m.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var bookmarks []Bookmark
	if err := json.Unmarshal(data, &bookmarks); err != nil {
		return err
	}
	m.bookmarks = bookmarks
	return nil
}
