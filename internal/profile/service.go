package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/selfscope/selfscope/internal/jobs"
	"github.com/selfscope/selfscope/internal/metrics"
)

// Service combines the state resolver with the transition recorder.
type Service struct {
	store    *Store
	enqueuer jobs.Enqueuer
}

// NewService creates the lifecycle service.
func NewService(store *Store, enqueuer jobs.Enqueuer) *Service {
	return &Service{store: store, enqueuer: enqueuer}
}

// CurrentState derives the profile's lifecycle state from the transition log.
func (s *Service) CurrentState(ctx context.Context, profileID int64) (State, error) {
	return s.store.CurrentState(ctx, profileID)
}

// HasActiveSubscription reports whether the profile is gated into paid
// features. Cancelled still counts: a cancelled subscription keeps access
// through the end of its billing period. Staff users always pass. Resolution
// errors degrade to false rather than surfacing.
func (s *Service) HasActiveSubscription(ctx context.Context, p *Profile, isStaff bool) bool {
	if isStaff {
		return true
	}
	if p == nil {
		return false
	}
	state, err := s.store.CurrentState(ctx, p.ID)
	if err != nil {
		log.Warn().Err(err).Int64("profile_id", p.ID).Msg("State resolution failed, treating as no subscription")
		return false
	}
	return state == StateSubscribed || state == StateCancelled
}

// RecordTransition captures the current state and enqueues a typed
// track_state_change job. Fire-and-forget: the read and the eventual write
// are not atomic (concurrent recorders can capture the same from_state), and
// enqueue failures are logged, never surfaced to the caller. Any from/to pair
// is accepted; the state machine is deliberately unchecked.
func (s *Service) RecordTransition(ctx context.Context, p *Profile, toState State, metadata map[string]any, sourceFunction string) {
	if p == nil {
		log.Error().Str("to_state", string(toState)).Msg("RecordTransition called with nil profile")
		return
	}

	fromState, err := s.store.CurrentState(ctx, p.ID)
	if err != nil {
		log.Error().Err(err).Int64("profile_id", p.ID).Msg("RecordTransition: state resolution failed")
		return
	}

	job, err := jobs.NewTrackStateChange(jobs.TrackStateChangePayload{
		ProfileID:      p.ID,
		FromState:      string(fromState),
		ToState:        string(toState),
		Metadata:       metadata,
		SourceFunction: sourceFunction,
	})
	if err != nil {
		log.Error().Err(err).Int64("profile_id", p.ID).Msg("RecordTransition: build job failed")
		return
	}
	if err := s.enqueuer.Enqueue(ctx, job); err != nil {
		log.Error().Err(err).
			Int64("profile_id", p.ID).
			Str("from_state", string(fromState)).
			Str("to_state", string(toState)).
			Msg("RecordTransition: enqueue failed, transition lost")
	}
}

// HandleTrackStateChange is the job handler for track_state_change. It
// appends the transition row and refreshes the cached state column. No-op
// transitions (from == to) are dropped so the log never shows X -> X; a
// vanished profile is logged, not an error.
func (s *Service) HandleTrackStateChange(ctx context.Context, job jobs.Job) error {
	var p jobs.TrackStateChangePayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("decode track_state_change payload: %w", err)
	}

	prof, err := s.store.GetByID(ctx, p.ProfileID)
	if err != nil {
		return fmt.Errorf("load profile %d: %w", p.ProfileID, err)
	}
	if prof == nil {
		log.Error().
			Int64("profile_id", p.ProfileID).
			Str("from_state", p.FromState).
			Str("to_state", p.ToState).
			Msg("TrackStateChange: profile not found")
		return nil
	}

	if p.FromState == p.ToState {
		return nil
	}

	log.Info().
		Int64("profile_id", p.ProfileID).
		Str("from_state", p.FromState).
		Str("to_state", p.ToState).
		Msg("Tracking state change")

	transition := &StateTransition{
		ProfileID:       &prof.ID,
		FromState:       State(p.FromState),
		ToState:         State(p.ToState),
		BackupProfileID: prof.ID,
		Metadata:        p.Metadata,
	}
	if err := s.store.InsertTransition(ctx, transition); err != nil {
		return err
	}
	if err := s.store.SetState(ctx, prof.ID, State(p.ToState)); err != nil {
		return err
	}
	metrics.TransitionsRecordedTotal.WithLabelValues(p.ToState).Inc()
	return nil
}

// RunStateMetrics refreshes the profiles-by-state gauge until ctx is
// cancelled.
func (s *Service) RunStateMetrics(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counts, err := s.store.CountByState(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("Failed to count profiles for state metrics")
				continue
			}
			for _, state := range []State{StateStranger, StateSignedUp, StateSubscribed, StateCancelled, StateChurned} {
				metrics.ProfilesByState.WithLabelValues(string(state)).Set(float64(counts[state]))
			}
		}
	}
}
