package call

import (
	"time"

	"github.com/petmatch/pawcall/internal/domain"
)

// The duration counter starts on first entry to Connected and ticks
// once per interval while the session stays there. Duration is derived
// from the captured connect timestamp and the wall clock on every tick,
// not from an increment counter, so it stays correct across scheduler
// pauses and backgrounding.

func (s *Service) startTicker() {
	if s.ticker != nil {
		return
	}
	s.ticker = time.NewTicker(s.tickInterval)
}

func (s *Service) stopTicker() {
	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	s.ticker = nil
}

func (s *Service) onTick() {
	if s.sess == nil || s.sess.state != domain.StateConnected {
		s.stopTicker()
		return
	}
	s.emit()
}
