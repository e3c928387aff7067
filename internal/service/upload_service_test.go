package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"cloudvault/upload-service/internal/authz"
	"cloudvault/upload-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mb = int64(1024 * 1024)

var (
	ownerActor = authz.Actor{ID: "owner-1", Role: authz.RoleUser}
	adminActor = authz.Actor{ID: "admin-1", Role: authz.RoleAdmin}
)

type testEnv struct {
	repo   *fakeSessionRepo
	slots  *fakeSlotManager
	ledger *fakeLedger
	store  *fakeObjectStorage
	svc    UploadService
}

func newTestEnv(t *testing.T, maxSessions, quotaLimitBytes int64, allowedMimePrefixes []string) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:   newFakeSessionRepo(),
		slots:  newFakeSlotManager(),
		ledger: newFakeLedger(),
		store:  newFakeObjectStorage(),
	}
	env.svc = NewUploadService(
		env.repo,
		env.slots,
		env.ledger,
		env.store,
		NewStaticTierResolver(maxSessions, quotaLimitBytes),
		authz.NewRoleAuthorizer(),
		time.Hour,
		allowedMimePrefixes,
	)
	return env
}

func initiateRequest(sizeBytes int64) InitiateRequest {
	return InitiateRequest{
		OwnerID:           ownerActor.ID,
		ScopeID:           "tenant-1",
		Filename:          "report.pdf",
		OriginalName:      "Quarterly Report.pdf",
		MimeType:          "application/pdf",
		DeclaredSizeBytes: sizeBytes,
	}
}

// mustInitiate initiates a session and fails the test on any error.
func (env *testEnv) mustInitiate(t *testing.T, sizeBytes int64) *domain.UploadSession {
	t.Helper()
	session, err := env.svc.Initiate(context.Background(), ownerActor, initiateRequest(sizeBytes))
	require.NoError(t, err)
	return session
}

// mustUpload issues a part URL, which moves the session to uploading.
func (env *testEnv) mustUpload(t *testing.T, sessionID string, partNumber int, sizeBytes int64) {
	t.Helper()
	_, err := env.svc.GeneratePartURL(context.Background(), ownerActor, sessionID, partNumber, sizeBytes)
	require.NoError(t, err)
}

// === Initiation ===

func TestInitiateCreatesPendingSession(t *testing.T) {
	env := newTestEnv(t, 3, 100*mb, nil)

	session := env.mustInitiate(t, 50*mb)

	assert.Equal(t, domain.StatusPending, session.Status)
	assert.Equal(t, ownerActor.ID, session.OwnerID)
	assert.NotEmpty(t, session.StorageUploadID)
	assert.Equal(t, 50*mb, session.QuotaReservedBytes)

	count, err := env.slots.CurrentCount(context.Background(), ownerActor.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, 50*mb, env.ledger.reservedFor(ownerActor.ID))
}

func TestInitiateQuotaExceededHasNoSideEffects(t *testing.T) {
	env := newTestEnv(t, 3, 100*mb, nil)

	_, err := env.svc.Initiate(context.Background(), ownerActor, initiateRequest(150*mb))
	require.ErrorIs(t, err, ErrQuotaExceeded)

	count, _ := env.slots.CurrentCount(context.Background(), ownerActor.ID)
	assert.Zero(t, count, "no slot may be held after a quota denial")
	assert.Zero(t, env.ledger.reservedFor(ownerActor.ID))
	assert.Zero(t, env.store.createCalls, "storage must not be touched on a failed admission")
}

func TestInitiateSlotDenialRollsBackReservation(t *testing.T) {
	env := newTestEnv(t, 1, 1000*mb, nil)
	env.mustInitiate(t, 10*mb)

	_, err := env.svc.Initiate(context.Background(), ownerActor, initiateRequest(10*mb))
	require.ErrorIs(t, err, ErrConcurrencyLimitExceeded)

	// Only the first session's reservation may remain.
	assert.Equal(t, 10*mb, env.ledger.reservedFor(ownerActor.ID))
	count, _ := env.slots.CurrentCount(context.Background(), ownerActor.ID)
	assert.Equal(t, int64(1), count)
}

func TestInitiateStorageFailureRollsBackEverything(t *testing.T) {
	env := newTestEnv(t, 3, 100*mb, nil)
	env.store.createErr = fmt.Errorf("backend down")

	_, err := env.svc.Initiate(context.Background(), ownerActor, initiateRequest(50*mb))
	require.ErrorIs(t, err, ErrStorageBackendFailure)

	count, _ := env.slots.CurrentCount(context.Background(), ownerActor.ID)
	assert.Zero(t, count)
	assert.Zero(t, env.ledger.reservedFor(ownerActor.ID))
}

func TestInitiateRejectsDisallowedMimeType(t *testing.T) {
	env := newTestEnv(t, 3, 100*mb, []string{"video/", "image/"})

	req := initiateRequest(10 * mb)
	req.MimeType = "application/x-msdownload"
	_, err := env.svc.Initiate(context.Background(), ownerActor, req)
	require.ErrorIs(t, err, ErrInvalidFileType)
}

func TestInitiateForeignOwnerDenied(t *testing.T) {
	env := newTestEnv(t, 3, 100*mb, nil)

	req := initiateRequest(10 * mb)
	req.OwnerID = "someone-else"
	_, err := env.svc.Initiate(context.Background(), ownerActor, req)
	require.ErrorIs(t, err, authz.ErrNotPermitted)
}

// N parallel initiations against limit K must admit exactly K.
func TestConcurrentInitiationsRespectSlotLimit(t *testing.T) {
	const parallel = 10
	const limit = 3
	env := newTestEnv(t, limit, 10000*mb, nil)

	var wg sync.WaitGroup
	results := make(chan error, parallel)
	for i := 0; i < parallel; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Initiate(context.Background(), ownerActor, initiateRequest(10*mb))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	admitted := 0
	for err := range results {
		if err == nil {
			admitted++
		} else {
			require.ErrorIs(t, err, ErrConcurrencyLimitExceeded)
		}
	}
	assert.Equal(t, limit, admitted)

	count, _ := env.slots.CurrentCount(context.Background(), ownerActor.ID)
	assert.Equal(t, int64(limit), count)
	assert.Equal(t, int64(limit)*10*mb, env.ledger.reservedFor(ownerActor.ID))
}

// === Part URLs ===

func TestGeneratePartURLMovesSessionToUploading(t *testing.T) {
	env := newTestEnv(t, 3, 100*mb, nil)
	session := env.mustInitiate(t, 50*mb)

	result, err := env.svc.GeneratePartURL(context.Background(), ownerActor, session.ID, 1, 30*mb)
	require.NoError(t, err)
	assert.NotEmpty(t, result.URL)
	assert.Equal(t, 1, result.PartNumber)
	assert.True(t, result.ExpiresAt.After(time.Now()))

	updated, err := env.repo.GetByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUploading, updated.Status)
	require.Len(t, updated.Parts, 1)
	assert.Equal(t, 30*mb, updated.Parts[0].SizeBytes)
}

func TestGeneratePartURLValidatesBounds(t *testing.T) {
	env := newTestEnv(t, 3, 100000*mb, nil)
	session := env.mustInitiate(t, 50*mb)

	cases := []struct {
		name       string
		partNumber int
		size       int64
	}{
		{"part number zero", 0, 10 * mb},
		{"part number too large", domain.MaxPartNumber + 1, 10 * mb},
		{"size zero", 1, 0},
		{"size above maximum", 1, domain.MaxPartSizeBytes + 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.GeneratePartURL(context.Background(), ownerActor, session.ID, tc.partNumber, tc.size)
			require.ErrorIs(t, err, ErrInvalidPartParameters)
		})
	}
}

func TestGeneratePartURLRejectsExceedingReservation(t *testing.T) {
	env := newTestEnv(t, 3, 100*mb, nil)
	session := env.mustInitiate(t, 50*mb)
	env.mustUpload(t, session.ID, 1, 30*mb)

	// 30 + 30 > 50 reserved.
	_, err := env.svc.GeneratePartURL(context.Background(), ownerActor, session.ID, 2, 30*mb)
	require.ErrorIs(t, err, ErrInvalidPartParameters)

	// Re-issuing part 1 replaces its previous size, so this fits.
	_, err = env.svc.GeneratePartURL(context.Background(), ownerActor, session.ID, 1, 25*mb)
	require.NoError(t, err)

	updated, _ := env.repo.GetByID(context.Background(), session.ID)
	require.Len(t, updated.Parts, 1, "re-issued part must overwrite, not duplicate")
	assert.Equal(t, 25*mb, updated.Parts[0].SizeBytes)
}

func TestGeneratePartURLOnTerminalSession(t *testing.T) {
	env := newTestEnv(t, 3, 100*mb, nil)
	session := env.mustInitiate(t, 50*mb)
	_, err := env.svc.Abort(context.Background(), ownerActor, session.ID, "test")
	require.NoError(t, err)

	_, err = env.svc.GeneratePartURL(context.Background(), ownerActor, session.ID, 1, 10*mb)
	require.ErrorIs(t, err, ErrInvalidStateTransition)
}

// === Heartbeat ===

func TestHeartbeatRefreshesActivity(t *testing.T) {
	env := newTestEnv(t, 3, 100*mb, nil)
	session := env.mustInitiate(t, 50*mb)

	before, _ := env.repo.GetByID(context.Background(), session.ID)
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, env.svc.Heartbeat(context.Background(), ownerActor, session.ID))

	after, _ := env.repo.GetByID(context.Background(), session.ID)
	assert.True(t, after.LastActivityAt.After(before.LastActivityAt))
	assert.Equal(t, before.Status, after.Status, "heartbeat must have no other side effect")
}

func TestHeartbeatOnUnknownSession(t *testing.T) {
	env := newTestEnv(t, 3, 100*mb, nil)
	err := env.svc.Heartbeat(context.Background(), ownerActor, "no-such-session")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestHeartbeatOnTerminalSession(t *testing.T) {
	env := newTestEnv(t, 3, 100*mb, nil)
	session := env.mustInitiate(t, 50*mb)
	_, err := env.svc.Abort(context.Background(), ownerActor, session.ID, "test")
	require.NoError(t, err)

	err = env.svc.Heartbeat(context.Background(), ownerActor, session.ID)
	require.ErrorIs(t, err, ErrInvalidStateTransition)
}

// === Completion ===

// End-to-end: 100MB quota, 50MB declared, two parts, complete.
func TestCompleteHappyPath(t *testing.T) {
	env := newTestEnv(t, 3, 100*mb, nil)
	env.store.completedSize = 50 * mb

	session := env.mustInitiate(t, 50*mb)
	assert.Equal(t, 50*mb, env.ledger.reservedFor(ownerActor.ID))

	env.mustUpload(t, session.ID, 1, 30*mb)
	env.mustUpload(t, session.ID, 2, 20*mb)

	completed, err := env.svc.Complete(context.Background(), ownerActor, session.ID, []CompletedPartInput{
		{PartNumber: 1, Checksum: "etag-1"},
		{PartNumber: 2, Checksum: "etag-2"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, completed.Status)

	// Slot released; the reservation now reflects the stored object and keeps
	// counting against the quota.
	count, _ := env.slots.CurrentCount(context.Background(), ownerActor.ID)
	assert.Zero(t, count)
	usage, _ := env.ledger.Usage(context.Background(), ownerActor.ID)
	assert.Equal(t, 50*mb, usage.ReservedBytes)
	assert.Equal(t, 50*mb, usage.ConsumedBytes)

	// A second upload only has the remaining 50MB of headroom.
	_, err = env.svc.Initiate(context.Background(), ownerActor, initiateRequest(60*mb))
	require.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestCompleteRequiresUploadingState(t *testing.T) {
	env := newTestEnv(t, 3, 100*mb, nil)
	session := env.mustInitiate(t, 50*mb)

	// Still pending: no part URL was ever issued.
	_, err := env.svc.Complete(context.Background(), ownerActor, session.ID, []CompletedPartInput{
		{PartNumber: 1, Checksum: "etag-1"},
	})
	require.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestCompleteRejectsGappedPartList(t *testing.T) {
	env := newTestEnv(t, 3, 100*mb, nil)
	session := env.mustInitiate(t, 50*mb)
	env.mustUpload(t, session.ID, 1, 30*mb)
	env.mustUpload(t, session.ID, 2, 20*mb)

	// Gap: part 2 missing below the highest part number.
	_, err := env.svc.Complete(context.Background(), ownerActor, session.ID, []CompletedPartInput{
		{PartNumber: 1, Checksum: "etag-1"},
		{PartNumber: 3, Checksum: "etag-3"},
	})
	require.ErrorIs(t, err, ErrInvalidPartParameters)

	// Omitting an acknowledged part is also rejected.
	_, err = env.svc.Complete(context.Background(), ownerActor, session.ID, []CompletedPartInput{
		{PartNumber: 1, Checksum: "etag-1"},
	})
	require.ErrorIs(t, err, ErrInvalidPartParameters)

	// The failed attempts must not have settled anything.
	count, _ := env.slots.CurrentCount(context.Background(), ownerActor.ID)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, 50*mb, env.ledger.reservedFor(ownerActor.ID))
}

func TestCompleteRejectsUndersizedMiddlePart(t *testing.T) {
	env := newTestEnv(t, 3, 100*mb, nil)
	session := env.mustInitiate(t, 50*mb)
	env.mustUpload(t, session.ID, 1, 1*mb) // below the 5 MiB floor
	env.mustUpload(t, session.ID, 2, 20*mb)

	_, err := env.svc.Complete(context.Background(), ownerActor, session.ID, []CompletedPartInput{
		{PartNumber: 1, Checksum: "etag-1"},
		{PartNumber: 2, Checksum: "etag-2"},
	})
	require.ErrorIs(t, err, ErrInvalidPartParameters)
}

func TestCompleteAssemblyFailureReleasesResources(t *testing.T) {
	env := newTestEnv(t, 3, 100*mb, nil)
	env.store.completeErr = fmt.Errorf("assembly exploded")

	session := env.mustInitiate(t, 50*mb)
	env.mustUpload(t, session.ID, 1, 30*mb)
	env.mustUpload(t, session.ID, 2, 20*mb)

	_, err := env.svc.Complete(context.Background(), ownerActor, session.ID, []CompletedPartInput{
		{PartNumber: 1, Checksum: "etag-1"},
		{PartNumber: 2, Checksum: "etag-2"},
	})
	require.ErrorIs(t, err, ErrStorageBackendFailure)

	// Bounded retry: all attempts consumed.
	assert.Equal(t, assemblyAttempts, env.store.completeCalls)

	// Session flipped to error, but resources are not stranded.
	assert.Equal(t, domain.StatusError, env.repo.status(session.ID))
	count, _ := env.slots.CurrentCount(context.Background(), ownerActor.ID)
	assert.Zero(t, count)
	assert.Zero(t, env.ledger.reservedFor(ownerActor.ID))
}

func TestCompleteLosingTerminalRaceDoesNotDoubleRelease(t *testing.T) {
	env := newTestEnv(t, 3, 100*mb, nil)
	env.store.completedSize = 50 * mb

	session := env.mustInitiate(t, 50*mb)
	env.mustUpload(t, session.ID, 1, 30*mb)
	env.mustUpload(t, session.ID, 2, 20*mb)

	// Simulate a reaper abort landing while assembly is in flight.
	env.store.completeHook = func() {
		_, err := env.repo.TransitionStatus(context.Background(), session.ID,
			[]domain.SessionStatus{domain.StatusUploading}, domain.StatusAborted)
		require.NoError(t, err)
		require.NoError(t, env.slots.Release(context.Background(), ownerActor.ID))
		require.NoError(t, env.ledger.Release(context.Background(), ownerActor.ID, 50*mb))
	}

	_, err := env.svc.Complete(context.Background(), ownerActor, session.ID, []CompletedPartInput{
		{PartNumber: 1, Checksum: "etag-1"},
		{PartNumber: 2, Checksum: "etag-2"},
	})
	require.ErrorIs(t, err, ErrInvalidStateTransition)

	// The winner already settled; the loser must not release again.
	assert.Zero(t, env.slots.underflows, "no release without a matching acquire")
	count, _ := env.slots.CurrentCount(context.Background(), ownerActor.ID)
	assert.Zero(t, count)
	assert.Zero(t, env.ledger.reservedFor(ownerActor.ID))
}

// === Abort ===

func TestAbortReleasesSlotAndRefundsQuota(t *testing.T) {
	env := newTestEnv(t, 3, 100*mb, nil)
	session := env.mustInitiate(t, 50*mb)
	env.mustUpload(t, session.ID, 1, 30*mb)

	aborted, err := env.svc.Abort(context.Background(), ownerActor, session.ID, "user cancelled")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAborted, aborted.Status)

	count, _ := env.slots.CurrentCount(context.Background(), ownerActor.ID)
	assert.Zero(t, count)
	assert.Zero(t, env.ledger.reservedFor(ownerActor.ID), "full reservation refunded on abort")
	assert.Len(t, env.store.abortCalls, 1)
}

func TestAbortIsIdempotent(t *testing.T) {
	env := newTestEnv(t, 3, 100*mb, nil)
	session := env.mustInitiate(t, 50*mb)

	first, err := env.svc.Abort(context.Background(), ownerActor, session.ID, "first")
	require.NoError(t, err)
	require.Equal(t, domain.StatusAborted, first.Status)

	// Second abort is a no-op returning the existing terminal state.
	second, err := env.svc.Abort(context.Background(), ownerActor, session.ID, "second")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAborted, second.Status)

	// Resources were released exactly once.
	assert.Zero(t, env.slots.underflows)
	count, _ := env.slots.CurrentCount(context.Background(), ownerActor.ID)
	assert.Zero(t, count)
	assert.Len(t, env.store.abortCalls, 1, "terminal no-op must not hit the backend again")
}

func TestAbortAfterCompleteIsNoOp(t *testing.T) {
	env := newTestEnv(t, 3, 100*mb, nil)
	env.store.completedSize = 50 * mb
	session := env.mustInitiate(t, 50*mb)
	env.mustUpload(t, session.ID, 1, 30*mb)
	env.mustUpload(t, session.ID, 2, 20*mb)

	_, err := env.svc.Complete(context.Background(), ownerActor, session.ID, []CompletedPartInput{
		{PartNumber: 1, Checksum: "etag-1"},
		{PartNumber: 2, Checksum: "etag-2"},
	})
	require.NoError(t, err)

	result, err := env.svc.Abort(context.Background(), ownerActor, session.ID, "late abort")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, result.Status)
	assert.Zero(t, env.slots.underflows)
}

func TestAbortStorageFailureKeepsSessionAlive(t *testing.T) {
	env := newTestEnv(t, 3, 100*mb, nil)
	session := env.mustInitiate(t, 50*mb)
	env.store.abortErr = fmt.Errorf("backend down")

	_, err := env.svc.Abort(context.Background(), ownerActor, session.ID, "doomed")
	require.ErrorIs(t, err, ErrStorageBackendFailure)

	// The session stays non-terminal and keeps its slot so a later sweep
	// can retry; decrementing here would understate the count while parts
	// still exist backend-side.
	assert.Equal(t, domain.StatusPending, env.repo.status(session.ID))
	count, _ := env.slots.CurrentCount(context.Background(), ownerActor.ID)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, 50*mb, env.ledger.reservedFor(ownerActor.ID))
}

// === Rename ===

func TestRenameChangesFilename(t *testing.T) {
	env := newTestEnv(t, 3, 100*mb, nil)
	session := env.mustInitiate(t, 50*mb)

	require.NoError(t, env.svc.Rename(context.Background(), ownerActor, session.ID, "renamed.pdf"))

	updated, _ := env.repo.GetByID(context.Background(), session.ID)
	assert.Equal(t, "renamed.pdf", updated.Filename)
}

// === Bulk Reclamation ===

func TestClearOwnerSessionsPartialFailure(t *testing.T) {
	env := newTestEnv(t, 10, 1000*mb, nil)

	sessions := make([]*domain.UploadSession, 0, 5)
	for i := 0; i < 5; i++ {
		sessions = append(sessions, env.mustInitiate(t, 10*mb))
	}

	// Two of the five refuse to discard backend-side.
	env.store.abortFailFor = map[string]bool{
		sessions[1].Path: true,
		sessions[3].Path: true,
	}

	report, err := env.svc.ClearOwnerSessions(context.Background(), adminActor, ownerActor.ID)
	require.ErrorIs(t, err, ErrPartialReclamationFailure)
	require.NotNil(t, report)

	assert.Len(t, report.Cleared, 3)
	assert.Len(t, report.Failed, 2)
	assert.Contains(t, report.Failed, sessions[1].ID)
	assert.Contains(t, report.Failed, sessions[3].ID)

	// The three successes released their slots; the two failures kept theirs.
	count, _ := env.slots.CurrentCount(context.Background(), ownerActor.ID)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, 2*10*mb, env.ledger.reservedFor(ownerActor.ID))
	assert.Zero(t, env.slots.underflows)
}

func TestClearOwnerSessionsAllSucceed(t *testing.T) {
	env := newTestEnv(t, 10, 1000*mb, nil)
	for i := 0; i < 3; i++ {
		env.mustInitiate(t, 10*mb)
	}

	report, err := env.svc.ClearOwnerSessions(context.Background(), adminActor, ownerActor.ID)
	require.NoError(t, err)
	assert.Len(t, report.Cleared, 3)
	assert.Empty(t, report.Failed)

	count, _ := env.slots.CurrentCount(context.Background(), ownerActor.ID)
	assert.Zero(t, count)
	assert.Zero(t, env.ledger.reservedFor(ownerActor.ID))
}

func TestClearOwnerSessionsRequiresAdmin(t *testing.T) {
	env := newTestEnv(t, 10, 1000*mb, nil)
	_, err := env.svc.ClearOwnerSessions(context.Background(), ownerActor, ownerActor.ID)
	require.ErrorIs(t, err, authz.ErrNotPermitted)
}

// === Stats ===

func TestOwnerStatsReflectsState(t *testing.T) {
	env := newTestEnv(t, 5, 100*mb, nil)
	env.mustInitiate(t, 20*mb)
	env.mustInitiate(t, 30*mb)

	stats, err := env.svc.OwnerStats(context.Background(), adminActor, ownerActor.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(2), stats.ActiveSessions)
	assert.Equal(t, int64(2), stats.SlotsInUse)
	assert.Equal(t, int64(5), stats.SlotLimit)
	assert.Equal(t, 50*mb, stats.Quota.ReservedBytes)
	assert.Equal(t, 100*mb, stats.QuotaLimitBytes)
}

// Slot count always equals the number of non-terminal sessions, through a
// mixed workload.
func TestSlotCountMatchesActiveSessions(t *testing.T) {
	env := newTestEnv(t, 10, 1000*mb, nil)
	env.store.completedSize = 10 * mb

	a := env.mustInitiate(t, 10*mb)
	b := env.mustInitiate(t, 10*mb)
	c := env.mustInitiate(t, 10*mb)

	checkInvariant := func() {
		t.Helper()
		count, err := env.slots.CurrentCount(context.Background(), ownerActor.ID)
		require.NoError(t, err)
		active, err := env.repo.CountActiveByOwner(context.Background(), ownerActor.ID)
		require.NoError(t, err)
		assert.Equal(t, active, count)
	}
	checkInvariant()

	env.mustUpload(t, a.ID, 1, 10*mb)
	_, err := env.svc.Complete(context.Background(), ownerActor, a.ID, []CompletedPartInput{{PartNumber: 1, Checksum: "e1"}})
	require.NoError(t, err)
	checkInvariant()

	_, err = env.svc.Abort(context.Background(), ownerActor, b.ID, "test")
	require.NoError(t, err)
	checkInvariant()

	_, err = env.svc.Abort(context.Background(), ownerActor, c.ID, "test")
	require.NoError(t, err)
	checkInvariant()
}
