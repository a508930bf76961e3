package batching

import (
	"github.com/AltairaLabs/locbatch-mcp/internal/types"
)

// validateOptions checks a request before any engine call is issued
func validateOptions(opts types.BatchingOptions) Code {
	if opts.Size == 0 || !opts.Mode.Valid() {
		return CodeInvalidParameter
	}
	if opts.IsTrip() && opts.MinDistance == 0 {
		return CodeInvalidParameter
	}
	return CodeSuccess
}

// supports reports whether the engine can serve opts
func (s *Service) supports(opts types.BatchingOptions) bool {
	if opts.IsTrip() {
		return s.caps.Has(types.CapOutdoorTripBatching)
	}
	if opts.MinInterval == 0 && opts.MinDistance > 0 {
		return s.caps.Has(types.CapDistanceBasedBatching)
	}
	return s.caps.Has(types.CapTimeBasedBatching)
}

func (s *Service) startSession(key SessionKey, opts types.BatchingOptions, r *reply) {
	if !s.clients.hasBatchingCallback(key.Client) {
		r.send(reject(key.ID, CodeCallbackMissing))
		return
	}
	if code := validateOptions(opts); code != CodeSuccess {
		r.send(reject(key.ID, code))
		return
	}
	s.startAccepted(key, opts, r)
}

// startAccepted starts a validated session, including update replacements
func (s *Service) startAccepted(key SessionKey, opts types.BatchingOptions, r *reply) {
	if !s.supports(opts) {
		r.send(reject(key.ID, CodeNotSupported))
		return
	}
	if opts.IsTrip() {
		s.startTrip(key, opts, r)
		return
	}
	s.startRoutine(key, opts, r)
}

func (s *Service) startRoutine(key SessionKey, opts types.BatchingOptions, r *reply) {
	tx := newTxn(s.registry, s.trips)
	tx.Put(key, opts)
	s.syncEvents()

	s.engine.StartBatching(key.ID, opts, s.settings.Accuracy, s.settings.SessionTimeout, func(err error) {
		s.resume("start_batching.done", func() {
			if err != nil {
				tx.Rollback()
				s.syncEvents()
				s.logger.Warn("Engine rejected batching start",
					"session", key.String(),
					"error", err,
				)
				r.send(failure(key.ID, err))
				return
			}
			tx.Commit()
			s.logger.Info("Batching session started",
				"session", key.String(),
				"mode", opts.Mode.String(),
				"size", opts.Size,
				"min_interval_ms", opts.MinInterval,
				"min_distance_m", opts.MinDistance,
			)
			r.send(success(key.ID))
		})
	})
}

func (s *Service) updateSession(key SessionKey, opts types.BatchingOptions, r *reply) {
	if code := validateOptions(opts); code != CodeSuccess {
		r.send(reject(key.ID, code))
		return
	}
	if _, _, ok := s.registry.Get(key); !ok {
		r.send(reject(key.ID, CodeIDUnknown))
		return
	}
	s.stopSession(key, &opts, r)
}

// stopSession ends a session. With a replacement the session is restarted
// under the same id once the stop succeeds, and the replacement's outcome is
// the command's response.
func (s *Service) stopSession(key SessionKey, replacement *types.BatchingOptions, r *reply) {
	opts, _, ok := s.registry.Get(key)
	if !ok {
		r.send(reject(key.ID, CodeIDUnknown))
		return
	}
	if opts.IsTrip() {
		s.stopTrip(key, replacement, r)
		return
	}
	s.stopRoutine(key, replacement, r)
}

func (s *Service) stopRoutine(key SessionKey, replacement *types.BatchingOptions, r *reply) {
	tx := newTxn(s.registry, s.trips)
	tx.Remove(key)

	s.engine.StopBatching(key.ID, func(err error) {
		s.resume("stop_batching.done", func() {
			if err != nil {
				tx.Rollback()
				s.syncEvents()
				s.logger.Warn("Engine rejected batching stop",
					"session", key.String(),
					"error", err,
				)
				r.send(failure(key.ID, err))
				return
			}
			tx.Commit()
			s.syncEvents()
			s.finishStop(key, replacement, r)
		})
	})
}

// finishStop answers a completed stop or starts the replacement
func (s *Service) finishStop(key SessionKey, replacement *types.BatchingOptions, r *reply) {
	if replacement != nil {
		s.logger.Debug("Restarting session with new options", "session", key.String())
		s.startAccepted(key, *replacement, r)
		return
	}
	s.logger.Info("Batching session stopped", "session", key.String())
	r.send(success(key.ID))
}

func (s *Service) getBatchedLocations(key SessionKey, count int, r *reply) {
	if !s.clients.hasBatchingCallback(key.Client) {
		r.send(reject(key.ID, CodeCallbackMissing))
		return
	}
	opts, _, ok := s.registry.Get(key)
	if !ok {
		r.send(reject(key.ID, CodeIDUnknown))
		return
	}
	if count <= 0 {
		r.send(reject(key.ID, CodeInvalidParameter))
		return
	}

	done := func(locations []types.Location, err error) {
		s.resume("get_batched_locations.done", func() {
			if err != nil {
				r.send(failure(key.ID, err))
				return
			}
			s.clients.deliverLocations(key.Client, BatchedLocations{
				SessionID: key.ID,
				Count:     len(locations),
				Locations: locations,
				Options:   opts,
			})
			resp := success(key.ID)
			resp.Locations = locations
			r.send(resp)
		})
	}

	if opts.IsTrip() {
		s.engine.GetBatchedTripLocations(count, 0, done)
		return
	}
	s.engine.GetBatchedLocations(count, done)
}
