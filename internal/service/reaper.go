package service

import (
	"context"
	"log"
	"sync"
	"time"

	"cloudvault/upload-service/internal/authz"
	"cloudvault/upload-service/internal/repository"
)

// Reaper is the background worker that reclaims stale upload sessions:
// sessions whose last recorded activity is older than the inactivity
// threshold are aborted, releasing their slot and quota reservation. The
// sweep runs on its own ticker, independent of request traffic, and has an
// explicit Start/Stop lifecycle owned by main.
type Reaper struct {
	sessions  repository.SessionRepository
	uploads   UploadService
	interval  time.Duration
	threshold time.Duration
	batchSize int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewReaper creates a reaper sweeping every interval for sessions inactive
// longer than threshold, reclaiming at most batchSize sessions per sweep.
func NewReaper(sessions repository.SessionRepository, uploads UploadService, interval, threshold time.Duration, batchSize int64) *Reaper {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Reaper{
		sessions:  sessions,
		uploads:   uploads,
		interval:  interval,
		threshold: threshold,
		batchSize: batchSize,
	}
}

// Start launches the sweep loop. Calling Start more than once has no effect.
func (r *Reaper) Start() {
	r.once.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		r.cancel = cancel

		r.wg.Add(1)
		go r.run(ctx)

		log.Printf("Reaper started (interval %s, inactivity threshold %s)", r.interval, r.threshold)
	})
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (r *Reaper) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.wg.Wait()
	log.Println("Reaper stopped")
}

func (r *Reaper) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep aborts every stale session it finds, up to the batch size. A session
// that fails to abort keeps its slot and reservation and is simply picked up
// again on the next sweep; individual failures never stop the loop.
func (r *Reaper) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-r.threshold)

	stale, err := r.sessions.FindStale(ctx, cutoff, r.batchSize)
	if err != nil {
		log.Printf("ERROR: Reaper failed to scan for stale sessions: %v", err)
		return
	}
	if len(stale) == 0 {
		return
	}

	reclaimed := 0
	for i := range stale {
		if ctx.Err() != nil {
			return
		}
		// Abort re-checks the current status, so a session the owner
		// completed or aborted between the scan and now is a no-op.
		if _, err := r.uploads.Abort(ctx, authz.SystemActor, stale[i].ID, "stale session"); err != nil {
			log.Printf("WARN: Reaper could not reclaim session %s (owner %s), will retry next sweep: %v",
				stale[i].ID, stale[i].OwnerID, err)
			continue
		}
		reclaimed++
	}

	log.Printf("Reaper sweep reclaimed %d of %d stale sessions", reclaimed, len(stale))
}
