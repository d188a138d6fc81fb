package transcribe

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/Taichi-iskw/vid-scribe/internal/service/events"
)

// cancelGrace is how long an interrupted command waits for the pipeline
// to reset the affected videos before giving up
const cancelGrace = 10 * time.Second

// watchJobs prints queue events until every job reaches a terminal state.
// On interruption it cancels what is left and waits briefly so the
// pipeline can put the affected videos back to pending.
func watchJobs(ctx context.Context, cmd *cobra.Command, s *session, eventCh <-chan events.Event, jobIDs []string) error {
	w := newWatcher(cmd, jobIDs)
	w.watch(ctx, eventCh)

	if remaining := w.remaining(); len(remaining) > 0 {
		cmd.Println("\nInterrupted, cancelling remaining jobs...")
		for _, jobID := range remaining {
			if err := s.queue.Cancel(jobID); err != nil {
				s.logger.Warnf("failed to cancel job %s: %v", jobID, err)
			}
		}

		graceCtx, cancel := context.WithTimeout(context.Background(), cancelGrace)
		defer cancel()
		w.watch(graceCtx, eventCh)
		return nil
	}

	if w.failed > 0 {
		return fmt.Errorf("%d of %d job(s) failed", w.failed, len(jobIDs))
	}
	return nil
}

// watcher follows a set of jobs through the event stream and prints
// their progress without repeating identical lines
type watcher struct {
	cmd     *cobra.Command
	pending map[string]bool
	last    map[string]string
	failed  int
}

func newWatcher(cmd *cobra.Command, jobIDs []string) *watcher {
	pending := make(map[string]bool, len(jobIDs))
	for _, id := range jobIDs {
		pending[id] = true
	}
	return &watcher{
		cmd:     cmd,
		pending: pending,
		last:    make(map[string]string),
	}
}

// watch consumes events until every tracked job is terminal or the
// context ends
func (w *watcher) watch(ctx context.Context, eventCh <-chan events.Event) {
	for len(w.pending) > 0 {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			w.handle(event)
		}
	}
}

func (w *watcher) handle(event events.Event) {
	if !w.pending[event.JobID] {
		return
	}

	switch event.Type {
	case events.TypeStarted:
		w.cmd.Printf("Processing video %s...\n", event.VideoID)

	case events.TypeProgress:
		// The same stage/percent pair arrives often, print it once
		key := fmt.Sprintf("%s/%d", event.Stage, event.Progress)
		if w.last[event.JobID] == key {
			return
		}
		w.last[event.JobID] = key
		w.cmd.Printf("  [%-16s] %3d%%  %s\n", event.Stage, event.Progress, event.Message)

	case events.TypeCompleted:
		w.cmd.Printf("✅ Video %s transcribed successfully!\n", event.VideoID)
		delete(w.pending, event.JobID)

	case events.TypeFailed:
		w.cmd.Printf("❌ Transcription failed for video %s: %s\n", event.VideoID, event.Message)
		w.failed++
		delete(w.pending, event.JobID)

	case events.TypeCancelled:
		w.cmd.Printf("Transcription cancelled for video %s\n", event.VideoID)
		delete(w.pending, event.JobID)
	}
}

// remaining lists the tracked jobs that are not terminal yet
func (w *watcher) remaining() []string {
	out := make([]string, 0, len(w.pending))
	for id := range w.pending {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
