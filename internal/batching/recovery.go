package batching

import (
	"github.com/AltairaLabs/locbatch-mcp/internal/types"
)

// recover handles an engine (re)start: it records the capabilities, restores
// every session the engine forgot and replays commands held until now.
func (s *Service) recover(caps types.Capabilities) {
	firstUp := !s.capsKnown
	s.capsKnown = true
	s.caps = caps

	s.logger.Info("Engine up",
		"capabilities", caps.Names(),
		"first", firstUp,
		"sessions", s.registry.Len(),
		"trip_sessions", len(s.trips.sessions),
		"deferred", len(s.deferred),
	)

	s.clients.broadcastCapabilities(caps)
	s.engine.SetBatchSizes(s.settings.BatchSize, s.settings.TripBatchSize)

	s.events.forget()
	s.syncEvents()

	s.restoreRoutineSessions()
	s.restoreTrip()

	deferred := s.deferred
	s.deferred = nil
	for _, cmd := range deferred {
		s.logger.Debug("Replaying deferred command", "command", cmd.name)
		cmd.run()
	}
}

func (s *Service) restoreRoutineSessions() {
	for _, key := range s.registry.Keys() {
		e := s.registry.entries[key]
		if !e.live() || e.Options.IsTrip() {
			continue
		}
		opts := e.Options
		s.engine.StartBatching(key.ID, opts, s.settings.Accuracy, s.settings.SessionTimeout, func(err error) {
			if err != nil {
				s.logger.Warn("Failed to restore batching session after engine restart",
					"session", key.String(),
					"error", err,
				)
			}
		})
	}
}

// restoreTrip restarts the engine trip once for every surviving trip session.
// The restore target becomes the ongoing thresholds as soon as it is issued,
// so joins resolving before the engine answers are measured against it.
func (s *Service) restoreTrip() {
	s.trips.epoch++
	if len(s.trips.sessions) == 0 {
		s.trips.reset()
		return
	}

	var want Thresholds
	first := true
	for _, id := range s.trips.ids() {
		st := s.trips.sessions[id]
		st.rebase()
		rem := sub(st.TripDistance, st.AccumulatedDistanceThisTrip)
		if rem == 0 {
			rem = st.TripDistance
		}
		if first || rem < want.Distance {
			want.Distance = rem
		}
		if first || st.TripInterval < want.Interval {
			want.Interval = st.TripInterval
		}
		first = false
	}
	s.trips.commit(want)

	epoch := s.trips.epoch
	s.engine.StartOutdoorTripBatching(want.Distance, want.Interval, s.settings.SessionTimeout, func(err error) {
		s.resume("restore_trip.done", func() {
			if err == nil {
				return
			}
			s.logger.Warn("Failed to restore trip batching after engine restart", "error", err)
			if s.trips.epoch == epoch && s.trips.ongoing == want {
				s.trips.reset()
			}
		})
	})
}
