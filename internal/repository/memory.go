package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"cfprogress/internal/models"

	"github.com/google/uuid"
)

// MemoryStore is an in-process StudentStore for STORE_DRIVER=memory and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	students map[string]models.Student
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		students: make(map[string]models.Student),
		now:      time.Now,
	}
}

func (m *MemoryStore) Create(_ context.Context, student *models.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conflictLocked(student.Email, student.CodeForcesHandle, "") {
		return models.ErrConflict
	}
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := m.now()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now
	m.students[student.ID] = *student
	return nil
}

func (m *MemoryStore) ListAll(_ context.Context) ([]models.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Student, 0, len(m.students))
	for _, s := range m.students {
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) FindByID(_ context.Context, id string) (*models.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.students[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &s, nil
}

func (m *MemoryStore) FindOne(_ context.Context, filter StudentFilter) (*models.Student, error) {
	if filter.IsEmpty() {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.sortedLocked() {
		if s.ID == filter.ExcludeID {
			continue
		}
		if (filter.Email != "" && s.Email == filter.Email) ||
			(filter.Handle != "" && s.CodeForcesHandle == filter.Handle) {
			found := s
			return &found, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) UpdateByID(_ context.Context, id string, fields map[string]interface{}) (*models.Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.students[id]
	if !ok {
		return nil, models.ErrNotFound
	}

	for col, val := range fields {
		if err := applyColumn(&s, col, val); err != nil {
			return nil, err
		}
	}
	if m.conflictLocked(s.Email, s.CodeForcesHandle, id) {
		return nil, models.ErrConflict
	}

	s.UpdatedAt = m.now()
	m.students[id] = s
	return &s, nil
}

func (m *MemoryStore) DeleteByID(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.students[id]; !ok {
		return false, nil
	}
	delete(m.students, id)
	return true, nil
}

func (m *MemoryStore) Count(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.students)), nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) conflictLocked(email, handle, excludeID string) bool {
	for id, s := range m.students {
		if id == excludeID {
			continue
		}
		if s.Email == email || s.CodeForcesHandle == handle {
			return true
		}
	}
	return false
}

func (m *MemoryStore) sortedLocked() []models.Student {
	out := make([]models.Student, 0, len(m.students))
	for _, s := range m.students {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// applyColumn sets one column of a partial update on s
func applyColumn(s *models.Student, col string, val interface{}) error {
	var ok bool
	switch col {
	case models.ColName:
		s.Name, ok = val.(string)
	case models.ColEmail:
		s.Email, ok = val.(string)
	case models.ColPhoneNumber:
		s.PhoneNumber, ok = val.(string)
	case models.ColHandle:
		s.CodeForcesHandle, ok = val.(string)
	case models.ColCurrentRating:
		s.CurrentRating, ok = val.(int)
	case models.ColMaxRating:
		s.MaxRating, ok = val.(int)
	case models.ColRemindersEnabled:
		s.RemindersEnabled, ok = val.(bool)
	case models.ColReminderCount:
		s.ReminderCount, ok = val.(int)
	case models.ColLastSyncedAt:
		switch t := val.(type) {
		case time.Time:
			s.LastSyncedAt, ok = &t, true
		case *time.Time:
			s.LastSyncedAt, ok = t, true
		case nil:
			s.LastSyncedAt, ok = nil, true
		}
	default:
		return fmt.Errorf("unknown column %q", col)
	}
	if !ok {
		return fmt.Errorf("column %q: unexpected value type %T", col, val)
	}
	return nil
}

// MemoryBoard is an in-process Board. Ties are ordered by insertion sequence.
type MemoryBoard struct {
	mu      sync.RWMutex
	ratings map[string]int
	seq     map[string]uint64
	next    uint64
	version int64
	summary *models.SyncSummary
}

// NewMemoryBoard creates an empty in-memory board
func NewMemoryBoard() *MemoryBoard {
	return &MemoryBoard{
		ratings: make(map[string]int),
		seq:     make(map[string]uint64),
	}
}

func (b *MemoryBoard) UpdateRating(_ context.Context, handle string, rating int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setLocked(handle, rating)
	b.version++
	return nil
}

func (b *MemoryBoard) setLocked(handle string, rating int) {
	if old, ok := b.ratings[handle]; !ok || old != rating {
		b.next++
		b.seq[handle] = b.next
	}
	b.ratings[handle] = rating
}

func (b *MemoryBoard) RemoveHandle(_ context.Context, handle string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.ratings, handle)
	delete(b.seq, handle)
	b.version++
	return nil
}

func (b *MemoryBoard) BulkUpdateRatings(_ context.Context, ratings map[string]int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ratings = make(map[string]int, len(ratings))
	b.seq = make(map[string]uint64, len(ratings))
	for handle, rating := range ratings {
		b.setLocked(handle, rating)
	}
	b.version++
	return nil
}

func (b *MemoryBoard) sortedLocked() []models.BoardEntry {
	entries := make([]models.BoardEntry, 0, len(b.ratings))
	for h, r := range b.ratings {
		entries = append(entries, models.BoardEntry{Handle: h, Rating: r})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Rating != entries[j].Rating {
			return entries[i].Rating > entries[j].Rating
		}
		return b.seq[entries[i].Handle] < b.seq[entries[j].Handle]
	})
	return entries
}

func (b *MemoryBoard) GetTop(_ context.Context, offset, limit int) ([]models.BoardEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entries := b.sortedLocked()
	if offset >= len(entries) {
		return []models.BoardEntry{}, nil
	}
	end := offset + limit
	if end > len(entries) {
		end = len(entries)
	}
	return entries[offset:end], nil
}

func (b *MemoryBoard) GetRank(_ context.Context, handle string) (int, int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rating, ok := b.ratings[handle]
	if !ok {
		return 0, 0, models.ErrNotFound
	}
	higher := 0
	for _, r := range b.ratings {
		if r > rating {
			higher++
		}
	}
	return higher + 1, rating, nil
}

func (b *MemoryBoard) GetTotal(context.Context) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return int64(len(b.ratings)), nil
}

func (b *MemoryBoard) GetVersion(context.Context) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.version, nil
}

func (b *MemoryBoard) BumpVersion(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.version++
	return nil
}

func (b *MemoryBoard) SaveSyncSummary(_ context.Context, summary models.SyncSummary) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.summary = &summary
	return nil
}

func (b *MemoryBoard) GetSyncSummary(context.Context) (*models.SyncSummary, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.summary == nil {
		return nil, nil
	}
	s := *b.summary
	return &s, nil
}

func (b *MemoryBoard) Ping(context.Context) error { return nil }

func (b *MemoryBoard) Close() error { return nil }

var (
	_ StudentStore = (*MemoryStore)(nil)
	_ StudentStore = (*PostgresRepository)(nil)
	_ Board        = (*MemoryBoard)(nil)
	_ Board        = (*RedisRepository)(nil)
)
