package server

import (
	"github.com/funnyzak/reportsync/internal/events"
)

// pumpCaptures moves captures into the selection, the log and the bus. It
// returns once the interceptor is closed.
func (s *Server) pumpCaptures() {
	for c := range s.interceptor.Captures() {
		if !s.orch.Add(c) {
			s.logger.Debug("Capture already selected", "capture_id", c.ID)
		}
		if err := s.store.RecordCapture(c); err != nil {
			s.logger.Error("Failed to record capture", "capture_id", c.ID, "error", err)
		}
		s.bus.Publish(events.CaptureEvent(c))
	}
}

// recordEvents persists results and echoes every event to the printer until
// the bus is closed.
func (s *Server) recordEvents(sub <-chan events.Event) {
	for ev := range sub {
		if ev.Kind == events.KindResult && ev.Result != nil {
			if err := s.store.RecordResult(ev.Result); err != nil {
				s.logger.Error("Failed to record result", "run_id", ev.RunID, "error", err)
			}
		}
		if s.printer != nil {
			if err := s.printer.PrintEvent(ev); err != nil {
				s.logger.Debug("Print failed", "error", err)
			}
		}
	}
}
