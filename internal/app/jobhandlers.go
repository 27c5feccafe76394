package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/selfscope/selfscope/internal/account"
	"github.com/selfscope/selfscope/internal/analytics"
	"github.com/selfscope/selfscope/internal/email"
	"github.com/selfscope/selfscope/internal/jobs"
	"github.com/selfscope/selfscope/internal/metrics"
	"github.com/selfscope/selfscope/internal/newsletter"
	"github.com/selfscope/selfscope/internal/profile"
)

// jobHandlers bundles the collaborators the background handlers need.
type jobHandlers struct {
	profiles      *profile.Store
	users         *account.Store
	sink          analytics.Sink
	posthogAPIKey string
	sender        email.Sender
	newsletter    *newsletter.Client
}

// registerJobHandlers binds every job kind to its handler. track_state_change
// belongs to the lifecycle service; the rest live here.
func registerJobHandlers(pool *jobs.Pool, lifecycle *profile.Service, h *jobHandlers) {
	pool.Register(jobs.KindTrackStateChange, lifecycle.HandleTrackStateChange)
	pool.Register(jobs.KindTrackEvent, h.handleTrackEvent)
	pool.Register(jobs.KindCreateAnalyticsAlias, h.handleCreateAnalyticsAlias)
	pool.Register(jobs.KindSendEmail, h.handleSendEmail)
	pool.Register(jobs.KindSubscribeNewsletter, h.handleSubscribeNewsletter)
}

// handleTrackEvent forwards a named analytics event, enriched with the
// profile's identity and cached state.
func (h *jobHandlers) handleTrackEvent(ctx context.Context, job jobs.Job) error {
	var p jobs.TrackEventPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("decode track_event payload: %w", err)
	}

	prof, err := h.profiles.GetByID(ctx, p.ProfileID)
	if err != nil {
		return fmt.Errorf("load profile %d: %w", p.ProfileID, err)
	}
	if prof == nil {
		log.Warn().Int64("profile_id", p.ProfileID).Str("event", p.Event).Msg("TrackEvent: profile not found")
		return nil
	}

	distinctID := prof.Key
	props := map[string]any{
		"profile_id":  prof.ID,
		"profile_key": prof.Key,
		"state":       string(prof.State),
	}
	if user, err := h.users.GetByID(ctx, prof.UserID); err != nil {
		log.Warn().Err(err).Int64("user_id", prof.UserID).Msg("TrackEvent: user lookup failed")
	} else if user != nil {
		distinctID = user.Email
		props["email"] = user.Email
	}
	for k, v := range p.Properties {
		props[k] = v
	}

	return h.sink.Track(ctx, distinctID, p.Event, props)
}

// handleCreateAnalyticsAlias links the anonymous analytics identity captured
// in the signup request cookies to the authenticated identity. A missing
// cookie is a logged no-op.
func (h *jobHandlers) handleCreateAnalyticsAlias(ctx context.Context, job jobs.Job) error {
	var p jobs.CreateAnalyticsAliasPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("decode create_analytics_alias payload: %w", err)
	}

	distinctID, err := analytics.DistinctIDFromCookies(h.posthogAPIKey, p.Cookies)
	if err != nil {
		return err
	}
	if distinctID == "" {
		log.Info().Int64("profile_id", p.ProfileID).Msg("CreateAnalyticsAlias: no analytics cookie, skipping")
		return nil
	}

	prof, err := h.profiles.GetByID(ctx, p.ProfileID)
	if err != nil {
		return fmt.Errorf("load profile %d: %w", p.ProfileID, err)
	}
	if prof == nil {
		log.Warn().Int64("profile_id", p.ProfileID).Msg("CreateAnalyticsAlias: profile not found")
		return nil
	}

	if user, err := h.users.GetByID(ctx, prof.UserID); err != nil {
		log.Warn().Err(err).Int64("user_id", prof.UserID).Msg("CreateAnalyticsAlias: user lookup failed")
	} else if user != nil {
		if err := h.sink.Alias(ctx, distinctID, user.Email); err != nil {
			return err
		}
	}
	return h.sink.Alias(ctx, distinctID, strconv.FormatInt(prof.ID, 10))
}

// handleSendEmail delivers one transactional email.
func (h *jobHandlers) handleSendEmail(ctx context.Context, job jobs.Job) error {
	var p jobs.SendEmailPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("decode send_email payload: %w", err)
	}

	err := h.sender.Send(ctx, email.Message{
		From:    p.From,
		To:      p.To,
		Subject: p.Subject,
		HTML:    p.HTML,
		Text:    p.Text,
	})
	if err != nil {
		metrics.EmailsSentTotal.WithLabelValues("failed").Inc()
		return err
	}
	metrics.EmailsSentTotal.WithLabelValues("sent").Inc()
	return nil
}

// handleSubscribeNewsletter registers the address with the newsletter list.
// An unconfigured client is a silent no-op inside Subscribe.
func (h *jobHandlers) handleSubscribeNewsletter(ctx context.Context, job jobs.Job) error {
	var p jobs.SubscribeNewsletterPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return fmt.Errorf("decode subscribe_newsletter payload: %w", err)
	}
	return h.newsletter.Subscribe(ctx, p.Email, p.Tag)
}
