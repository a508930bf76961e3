package batching

import (
	"github.com/AltairaLabs/locbatch-mcp/internal/engine"
	"github.com/AltairaLabs/locbatch-mcp/internal/types"
)

func newTripStatus(key SessionKey, opts types.BatchingOptions) *TripSessionStatus {
	return &TripSessionStatus{
		Key:          key,
		TripDistance: opts.MinDistance,
		TripInterval: opts.MinInterval,
	}
}

func (s *Service) startTrip(key SessionKey, opts types.BatchingOptions, r *reply) {
	tx := newTxn(s.registry, s.trips)
	tx.Put(key, opts)

	if len(s.trips.sessions) > 0 {
		s.syncEvents()
		s.joinTrip(key, opts, tx, r)
		return
	}
	s.startFirstTrip(key, opts, tx, r)
}

// startFirstTrip starts the engine trip for the only trip session
func (s *Service) startFirstTrip(key SessionKey, opts types.BatchingOptions, tx *Txn, r *reply) {
	tx.PutTrip(newTripStatus(key, opts))
	s.syncEvents()

	want := Thresholds{Distance: opts.MinDistance, Interval: opts.MinInterval}
	s.engine.StartOutdoorTripBatching(want.Distance, want.Interval, s.settings.SessionTimeout, func(err error) {
		s.resume("start_trip.done", func() {
			if err != nil {
				tx.Rollback()
				s.syncEvents()
				s.logger.Warn("Engine rejected trip start",
					"session", key.String(),
					"error", err,
				)
				r.send(failure(key.ID, err))
				return
			}
			tx.Commit()
			s.trips.commit(want)
			s.logger.Info("Trip batching started",
				"session", key.String(),
				"distance_m", want.Distance,
				"interval_ms", want.Interval,
			)
			r.send(success(key.ID))
		})
	})
}

// joinTrip adds a session to the running engine trip. The join always
// succeeds; the engine is restarted only when the new session needs tighter
// thresholds.
func (s *Service) joinTrip(key SessionKey, opts types.BatchingOptions, tx *Txn, r *reply) {
	epoch := s.trips.epoch
	s.engine.QueryAccumulatedTripDistance(func(d engine.TripDistance, err error) {
		s.resume("trip_join.distance", func() {
			if !tx.Holds(key) {
				// stopped before the join resolved
				r.send(success(key.ID))
				return
			}
			if len(s.trips.sessions) == 0 {
				s.startFirstTrip(key, opts, tx, r)
				return
			}
			accKnown := err == nil
			if err != nil {
				s.logger.Warn("Accumulated distance query failed, joining without progress",
					"session", key.String(),
					"error", err,
				)
			} else if s.trips.epoch != epoch {
				// the figure belongs to the engine run before the last engine_up
				accKnown = false
				s.logger.Debug("Engine restarted during trip join, discarding distance",
					"session", key.String(),
					"accumulated_m", d.AccumulatedDistance,
				)
			}
			s.completeJoin(key, opts, tx, d.AccumulatedDistance, accKnown, r)
		})
	})
}

func (s *Service) completeJoin(key SessionKey, opts types.BatchingOptions, tx *Txn, acc uint32, accKnown bool, r *reply) {
	if !accKnown {
		acc = 0
	}
	req := Thresholds{Distance: opts.MinDistance, Interval: opts.MinInterval}
	next, restart := decideJoin(s.trips.ongoing, req, acc, accKnown)

	st := newTripStatus(key, opts)
	st.AccumulatedDistanceOngoingBatch = acc
	if restart {
		for _, id := range s.trips.ids() {
			if accKnown {
				s.trips.sessions[id].checkpoint(acc)
			} else {
				s.trips.sessions[id].rebase()
			}
		}
		st.rebase()
	} else if accKnown {
		s.trips.noteAccumulated(acc)
	}
	tx.PutTrip(st)
	tx.Commit()

	s.logger.Info("Session joined trip batching",
		"session", key.String(),
		"accumulated_m", acc,
		"restart", restart,
		"distance_m", next.Distance,
		"interval_ms", next.Interval,
	)
	if !restart {
		r.send(success(key.ID))
		return
	}

	epoch := s.trips.epoch
	s.engine.RestartOutdoorTripBatching(next.Distance, next.Interval, s.settings.SessionTimeout, func(err error) {
		s.resume("trip_join.restart", func() {
			switch {
			case err != nil:
				s.logger.Warn("Engine trip restart failed, keeping previous thresholds",
					"session", key.String(),
					"error", err,
				)
			case s.trips.epoch != epoch:
				s.logger.Debug("Ignoring trip restart issued before engine_up", "session", key.String())
			default:
				s.trips.commit(next)
			}
			r.send(success(key.ID))
		})
	})
}

func (s *Service) stopTrip(key SessionKey, replacement *types.BatchingOptions, r *reply) {
	tx := newTxn(s.registry, s.trips)
	tx.Remove(key)

	if !s.trips.only(key.ID) {
		tx.Commit()
		s.commonTripStop(key)
		s.syncEvents()
		s.finishStop(key, replacement, r)
		return
	}

	s.engine.StopOutdoorTripBatching(false, func(err error) {
		s.resume("stop_trip.done", func() {
			if err != nil {
				tx.Rollback()
				s.syncEvents()
				s.logger.Warn("Engine rejected trip stop",
					"session", key.String(),
					"error", err,
				)
				r.send(failure(key.ID, err))
				s.completeAfterFailedStop(key)
				return
			}
			tx.Commit()
			s.commonTripStop(key)
			s.syncEvents()
			s.finishStop(key, replacement, r)
		})
	})
}

// completeAfterFailedStop completes a restored trip session whose distance
// was reached while its stop was pending
func (s *Service) completeAfterFailedStop(key SessionKey) {
	st := s.trips.sessions[key.ID]
	if st == nil || !s.trips.accSeen || st.remainingAt(s.trips.lastAccumulated) > 0 {
		return
	}
	s.reportCompletedTrips(s.trips.lastAccumulated)
}

// commonTripStop removes trip bookkeeping once a stop is final. The engine
// figure is queried when none was seen since the last commit.
func (s *Service) commonTripStop(key SessionKey) {
	if s.trips.drop(key.ID) == nil {
		return
	}
	if len(s.trips.sessions) == 0 {
		s.trips.reset()
		return
	}
	s.restartTripBatching(!s.trips.accSeen, s.trips.lastAccumulated)
}

// restartTripBatching re-evaluates the engine thresholds against the
// surviving sessions. With query set the engine figure is fetched first.
func (s *Service) restartTripBatching(query bool, acc uint32) {
	if len(s.trips.sessions) == 0 {
		s.stopEngineTrip()
		return
	}
	if !query {
		s.evaluateRestart(acc, true)
		return
	}
	epoch := s.trips.epoch
	s.engine.QueryAccumulatedTripDistance(func(d engine.TripDistance, err error) {
		s.resume("trip_restart.distance", func() {
			if len(s.trips.sessions) == 0 {
				return
			}
			if err != nil {
				s.logger.Warn("Accumulated distance query failed", "error", err)
				s.evaluateRestart(s.trips.lastAccumulated, s.trips.accSeen)
				return
			}
			if s.trips.epoch != epoch {
				s.evaluateRestart(0, false)
				return
			}
			s.evaluateRestart(d.AccumulatedDistance, true)
		})
	})
}

func (s *Service) stopEngineTrip() {
	s.trips.reset()
	s.syncEvents()
	s.engine.StopOutdoorTripBatching(false, func(err error) {
		if err != nil {
			s.logger.Warn("Engine trip stop failed", "error", err)
		}
	})
}

// evaluateRestart applies decideRestart at acc. accKnown is false when acc
// is not an engine figure of the current run.
func (s *Service) evaluateRestart(acc uint32, accKnown bool) {
	if len(s.trips.sessions) == 0 {
		s.stopEngineTrip()
		return
	}
	for _, st := range s.trips.sessions {
		if s.tripLive(st) && st.remainingAt(acc) == 0 {
			s.reportCompletedTrips(acc)
			return
		}
	}

	minRemaining, minInterval := s.trips.minima(acc)
	next, restart := decideRestart(s.trips.ongoing,
		s.trips.distanceHolderDropped, s.trips.intervalHolderDropped,
		minRemaining, minInterval, acc)
	if !restart {
		if accKnown {
			s.trips.noteAccumulated(acc)
		}
		return
	}

	s.logger.Info("Restarting trip batching",
		"accumulated_m", acc,
		"distance_m", next.Distance,
		"interval_ms", next.Interval,
		"sessions", len(s.trips.sessions),
	)
	epoch := s.trips.epoch
	s.engine.RestartOutdoorTripBatching(next.Distance, next.Interval, s.settings.SessionTimeout, func(err error) {
		s.resume("trip_restart.done", func() {
			if err != nil {
				s.logger.Warn("Engine trip restart failed", "error", err)
				return
			}
			if s.trips.epoch != epoch {
				s.logger.Debug("Ignoring trip restart issued before engine_up")
				return
			}
			for _, id := range s.trips.ids() {
				s.trips.sessions[id].checkpoint(acc)
			}
			s.trips.commit(next)
		})
	})
}

// reportCompletedTrips credits acc to every trip session and completes those
// that reached their distance. Sessions with a stop in flight are left to
// the stop's outcome.
func (s *Service) reportCompletedTrips(acc uint32) {
	var completed []uint32
	for _, id := range s.trips.ids() {
		st := s.trips.sessions[id]
		if !s.tripLive(st) {
			s.logger.Debug("Trip session stop pending, completion deferred",
				"session", st.Key.String(),
				"accumulated_m", acc,
			)
			continue
		}
		st.AccumulatedDistanceThisTrip = st.progressAt(acc)
		if st.AccumulatedDistanceThisTrip < st.TripDistance {
			continue
		}
		s.trips.drop(id)
		s.registry.markCompleted(st.Key)
		completed = append(completed, id)
		s.logger.Info("Trip session completed",
			"session", st.Key.String(),
			"trip_distance_m", st.TripDistance,
			"accumulated_m", st.AccumulatedDistanceThisTrip,
		)
	}

	if len(completed) == 0 {
		s.trips.noteAccumulated(acc)
		return
	}
	s.trips.lastAccumulated = acc
	s.trips.accSeen = true
	s.clients.broadcastStatus(StatusChange{
		Status:           types.BatchStatusTripCompleted,
		CompletedTripIDs: completed,
	})
	s.syncEvents()
	s.restartTripBatching(false, acc)
}

// tripLive reports whether the session's registry entry still runs, that is
// no stop is in flight for it
func (s *Service) tripLive(st *TripSessionStatus) bool {
	e, ok := s.registry.entries[st.Key]
	return ok && e.live()
}
