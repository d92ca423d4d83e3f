// Package scheduler runs the reply-timeout sweep: conversations parked on a
// question past the configured timeout get a synthetic timeout event so their
// retry/handover fallback fires without the contact ever replying.
package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kanalhq/kanal/engine/convmanager"
)

const sweepBatchSize = 100

type ReplyTimeoutSweeper struct {
	manager      *convmanager.Manager
	replyTimeout time.Duration
	cron         *cron.Cron
	running      bool
}

func NewReplyTimeoutSweeper(manager *convmanager.Manager, replyTimeout time.Duration) *ReplyTimeoutSweeper {
	return &ReplyTimeoutSweeper{
		manager:      manager,
		replyTimeout: replyTimeout,
		cron:         cron.New(),
	}
}

// Start schedules the sweep once a minute and runs one pass immediately.
func (s *ReplyTimeoutSweeper) Start(ctx context.Context) error {
	if s.running {
		log.Println("⚠️ Reply timeout sweeper already running")
		return nil
	}

	_, err := s.cron.AddFunc("* * * * *", func() {
		s.sweep(ctx)
	})
	if err != nil {
		return err
	}

	s.running = true
	log.Printf("⏰ Starting reply timeout sweeper (timeout: %s)...", s.replyTimeout)

	go s.sweep(ctx)
	s.cron.Start()
	return nil
}

// Stop halts scheduling and waits for an in-flight sweep to finish.
func (s *ReplyTimeoutSweeper) Stop() {
	if !s.running {
		return
	}
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.running = false
	log.Println("⏹️ Reply timeout sweeper stopped")
}

func (s *ReplyTimeoutSweeper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.replyTimeout)

	swept, err := s.manager.SweepReplyTimeouts(ctx, cutoff, sweepBatchSize)
	if err != nil {
		log.Printf("❌ Reply timeout sweep failed: %v", err)
		return
	}

	if swept > 0 {
		log.Printf("⏰ Reply timeout sweep handled %d conversation(s)", swept)
	}
}
