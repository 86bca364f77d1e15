package api

import (
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/localpages/directory/internal/progress"
)

// runIngest serves POST /ingest. It starts one batch and streams plain
// text progress lines until the batch finishes. The batch itself runs on the
// server's base context, so a client that disconnects mid-run observes
// nothing more but the batch still completes.
func (s *Server) runIngest(w http.ResponseWriter, r *http.Request) {
	if s.orch == nil {
		s.writeError(w, http.StatusServiceUnavailable, "ingestion is not configured")
		return
	}
	if !s.batchMu.TryLock() {
		s.writeError(w, http.StatusConflict, "an ingestion batch is already running")
		return
	}

	flusher, canStream := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	s.batchSeq++
	batchNumber := s.batchSeq

	// The batch publishes from its own goroutine, so writes to the response
	// are serialized and cut off before this handler returns.
	var streamMu sync.Mutex
	streamClosed := false
	clientGone := r.Context().Done()
	unsubscribe := s.tracker.Subscribe(func(state progress.State) {
		if state.Note == "" {
			return
		}
		streamMu.Lock()
		defer streamMu.Unlock()
		if streamClosed {
			return
		}
		fmt.Fprintln(w, state.Note)
		if canStream {
			flusher.Flush()
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer s.batchMu.Unlock()
		if _, err := s.orch.Run(s.baseCtx, batchNumber); err != nil {
			s.logger.Warn("ingestion batch finished with failures",
				zap.Int("batch", batchNumber),
				zap.Error(err),
			)
		}
	}()

	select {
	case <-done:
	case <-clientGone:
		s.logger.Info("ingest stream client disconnected, batch continues",
			zap.Int("batch", batchNumber),
		)
	}
	unsubscribe()
	streamMu.Lock()
	streamClosed = true
	streamMu.Unlock()
}
