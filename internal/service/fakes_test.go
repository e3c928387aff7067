package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloudvault/upload-service/internal/domain"
	"cloudvault/upload-service/internal/quota"
	"cloudvault/upload-service/internal/repository"
	"cloudvault/upload-service/internal/storage"
)

// In-memory fakes for the orchestrator's ports. They reproduce the semantics
// the real implementations guarantee (atomic admission, conflict
// classification, clamped release) so the state-machine tests exercise the
// same contracts.

// --- Session repository fake ---

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.UploadSession

	findStaleErr error
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: map[string]*domain.UploadSession{}}
}

func (r *fakeSessionRepo) Create(_ context.Context, session *domain.UploadSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[session.ID]; exists {
		return repository.ErrDuplicateID
	}
	clone := *session
	r.sessions[session.ID] = &clone
	return nil
}

func (r *fakeSessionRepo) GetByID(_ context.Context, id string) (*domain.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *session
	clone.Parts = append([]domain.UploadPart{}, session.Parts...)
	return &clone, nil
}

func (r *fakeSessionRepo) ListActiveByOwner(_ context.Context, ownerID string) ([]domain.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	active := []domain.UploadSession{}
	for _, s := range r.sessions {
		if s.OwnerID == ownerID && !s.Status.IsTerminal() {
			active = append(active, *s)
		}
	}
	return active, nil
}

func (r *fakeSessionRepo) CountActiveByOwner(ctx context.Context, ownerID string) (int64, error) {
	active, err := r.ListActiveByOwner(ctx, ownerID)
	return int64(len(active)), err
}

func (r *fakeSessionRepo) FindStale(_ context.Context, cutoff time.Time, limit int64) ([]domain.UploadSession, error) {
	if r.findStaleErr != nil {
		return nil, r.findStaleErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stale := []domain.UploadSession{}
	for _, s := range r.sessions {
		if !s.Status.IsTerminal() && s.LastActivityAt.Before(cutoff) && int64(len(stale)) < limit {
			stale = append(stale, *s)
		}
	}
	return stale, nil
}

func (r *fakeSessionRepo) RecordPart(_ context.Context, id string, part domain.UploadPart) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return repository.ErrNotFound
	}
	if session.Status.IsTerminal() {
		return repository.ErrConflict
	}
	for i := range session.Parts {
		if session.Parts[i].PartNumber == part.PartNumber {
			session.Parts[i] = part
			session.LastActivityAt = time.Now().UTC()
			return nil
		}
	}
	session.Parts = append(session.Parts, part)
	session.LastActivityAt = time.Now().UTC()
	return nil
}

func (r *fakeSessionRepo) Touch(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return repository.ErrNotFound
	}
	if session.Status.IsTerminal() {
		return repository.ErrConflict
	}
	session.LastActivityAt = at
	return nil
}

func (r *fakeSessionRepo) TransitionStatus(_ context.Context, id string, from []domain.SessionStatus, to domain.SessionStatus) (*domain.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	legal := false
	for _, f := range from {
		if session.Status == f {
			legal = true
			break
		}
	}
	if !legal {
		return nil, repository.ErrConflict
	}
	session.Status = to
	session.LastActivityAt = time.Now().UTC()
	clone := *session
	return &clone, nil
}

func (r *fakeSessionRepo) Rename(_ context.Context, id string, filename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return repository.ErrNotFound
	}
	if session.Status.IsTerminal() {
		return repository.ErrConflict
	}
	session.Filename = filename
	return nil
}

func (r *fakeSessionRepo) status(id string) domain.SessionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id].Status
}

// --- Slot manager fake ---

type fakeSlotManager struct {
	mu         sync.Mutex
	counts     map[string]int64
	underflows int
	acquireErr error
}

func newFakeSlotManager() *fakeSlotManager {
	return &fakeSlotManager{counts: map[string]int64{}}
}

func (m *fakeSlotManager) TryAcquire(_ context.Context, ownerID string, limit int64) (bool, error) {
	if m.acquireErr != nil {
		return false, m.acquireErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts[ownerID] >= limit {
		return false, nil
	}
	m.counts[ownerID]++
	return true, nil
}

func (m *fakeSlotManager) Release(_ context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts[ownerID] <= 0 {
		m.underflows++
		return nil
	}
	m.counts[ownerID]--
	return nil
}

func (m *fakeSlotManager) CurrentCount(_ context.Context, ownerID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[ownerID], nil
}

// --- Quota ledger fake ---

type fakeLedger struct {
	mu       sync.Mutex
	reserved map[string]int64
	consumed map[string]int64
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{reserved: map[string]int64{}, consumed: map[string]int64{}}
}

func (l *fakeLedger) Reserve(_ context.Context, ownerID string, bytes, limit int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reserved[ownerID]+bytes > limit {
		return false, nil
	}
	l.reserved[ownerID] += bytes
	return true, nil
}

func (l *fakeLedger) Commit(_ context.Context, ownerID string, reservedBytes, actualBytes int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	// Only the unused portion of the reservation is refunded; the consumed
	// footprint keeps counting against the limit.
	l.reserved[ownerID] -= reservedBytes - actualBytes
	if l.reserved[ownerID] < 0 {
		l.reserved[ownerID] = 0
	}
	l.consumed[ownerID] += actualBytes
	return nil
}

func (l *fakeLedger) Release(_ context.Context, ownerID string, bytes int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reserved[ownerID] -= bytes
	if l.reserved[ownerID] < 0 {
		l.reserved[ownerID] = 0
	}
	return nil
}

func (l *fakeLedger) Usage(_ context.Context, ownerID string) (quota.Usage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return quota.Usage{ReservedBytes: l.reserved[ownerID], ConsumedBytes: l.consumed[ownerID]}, nil
}

func (l *fakeLedger) reservedFor(ownerID string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reserved[ownerID]
}

// --- Object storage fake ---

type fakeObjectStorage struct {
	mu sync.Mutex

	createErr   error
	presignErr  error
	completeErr error
	abortErr    error

	// abortFailFor makes AbortMultipartUpload fail for specific object keys,
	// used by the partial-reclamation tests.
	abortFailFor map[string]bool

	// completeHook runs before each assembly attempt, letting tests inject a
	// concurrent terminal transition mid-completion.
	completeHook func()

	completedSize int64
	createCalls   int
	abortCalls    []string
	completeCalls int
}

func newFakeObjectStorage() *fakeObjectStorage {
	return &fakeObjectStorage{completedSize: 0}
}

func (s *fakeObjectStorage) CreateMultipartUpload(_ context.Context, objectKey, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return "", s.createErr
	}
	s.createCalls++
	return fmt.Sprintf("upload-%s-%d", objectKey, s.createCalls), nil
}

func (s *fakeObjectStorage) PresignUploadPart(_ context.Context, objectKey, uploadID string, partNumber int, _ int64, expires time.Duration) (storage.PartURL, error) {
	if s.presignErr != nil {
		return storage.PartURL{}, s.presignErr
	}
	return storage.PartURL{
		URL:       fmt.Sprintf("https://storage.example/%s/%s/%d", objectKey, uploadID, partNumber),
		ExpiresAt: time.Now().Add(expires),
	}, nil
}

func (s *fakeObjectStorage) CompleteMultipartUpload(_ context.Context, _, _ string, parts []storage.AssembledPart) (int64, error) {
	s.mu.Lock()
	hook := s.completeHook
	s.completeCalls++
	err := s.completeErr
	size := s.completedSize
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return 0, err
	}
	return size, nil
}

func (s *fakeObjectStorage) AbortMultipartUpload(_ context.Context, objectKey, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.abortErr != nil {
		return s.abortErr
	}
	if s.abortFailFor[objectKey] {
		return fmt.Errorf("backend refused to abort %s", objectKey)
	}
	s.abortCalls = append(s.abortCalls, objectKey)
	return nil
}
