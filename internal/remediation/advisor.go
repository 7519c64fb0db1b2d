// Package remediation proposes and executes human-gated container
// operations.
//
// Responsibilities:
//   - Map insights to action proposals through a fixed keyword table;
//     the table is the only place those mappings live
//   - Suppress a proposal while an unresolved action of the same type
//     already exists for the container; resolved history never
//     suppresses a new proposal
//   - Enforce the action state machine pending → approved → executing →
//     completed | failed (with pending → rejected); transitions outside
//     the table are refused without touching the stored record
//   - Run the platform operation at most once per executing transition
//     and record its outcome instead of retrying
package remediation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stackwatch/stackwatch-ai/internal/audit"
	"github.com/stackwatch/stackwatch-ai/internal/config"
	"github.com/stackwatch/stackwatch-ai/internal/metrics"
	"github.com/stackwatch/stackwatch-ai/internal/models"
	"github.com/stackwatch/stackwatch-ai/internal/store"
)

// Publisher broadcasts action lifecycle events to subscribers.
type Publisher interface {
	Publish(event string, payload interface{})
}

// rule maps an insight text fragment to a proposed operation.
type rule struct {
	needle    string
	action    models.ActionType
	rationale string
}

// keywordRules is checked in order against the lowercased insight
// title and description; the first match wins. Memory-pressure rules
// come first so an insight mentioning both an OOM kill and a failing
// health check proposes the stronger intervention.
var keywordRules = []rule{
	{"out of memory", models.ActionStopContainer,
		"the container is being OOM killed; stopping it breaks the crash loop until its memory limit is reviewed"},
	{"oom", models.ActionStopContainer,
		"the container is being OOM killed; stopping it breaks the crash loop until its memory limit is reviewed"},
	{"failing health check", models.ActionRestartContainer,
		"the container is failing its health check; a restart clears most transient faults"},
	{"unhealthy", models.ActionRestartContainer,
		"the container is failing its health check; a restart clears most transient faults"},
}

func matchRule(in *models.Insight) (rule, bool) {
	text := strings.ToLower(in.Title + " " + in.Description)
	for _, r := range keywordRules {
		if strings.Contains(text, r.needle) {
			return r, true
		}
	}
	return rule{}, false
}

// Advisor proposes remediation actions for insights.
type Advisor struct {
	store    store.ActionStore
	pub      Publisher
	auditLog audit.Logger
	logger   *zap.Logger
	enabled  bool
}

// NewAdvisor builds the advisor from configuration.
func NewAdvisor(cfg *config.Config, st store.ActionStore, pub Publisher, auditLog audit.Logger, logger *zap.Logger) *Advisor {
	return &Advisor{
		store:    st,
		pub:      pub,
		auditLog: auditLog,
		logger:   logger,
		enabled:  cfg.Remediation.Enabled,
	}
}

// SuggestionFor returns the action type the keyword table proposes for
// the insight, or the empty string when no rule matches. It never
// consults the store, so callers may use it to annotate insights
// without proposing anything.
func (a *Advisor) SuggestionFor(in *models.Insight) models.ActionType {
	r, ok := matchRule(in)
	if !ok {
		return ""
	}
	return r.action
}

// Suggest proposes a pending action for the insight. It returns nil
// without error when remediation is disabled, no rule matches, the
// insight is fleet-wide, or an unresolved action of the same type
// already exists for the container. The unresolved check is the only
// duplicate suppression: completed, failed and rejected actions never
// block a fresh proposal.
func (a *Advisor) Suggest(ctx context.Context, in *models.Insight) (*models.Action, error) {
	if !a.enabled {
		return nil, nil
	}
	r, ok := matchRule(in)
	if !ok {
		return nil, nil
	}
	if in.ContainerID == "" {
		// Fleet-wide insights name no container to act on.
		return nil, nil
	}

	dup, err := a.store.HasPendingAction(ctx, in.ContainerID, r.action)
	if err != nil {
		return nil, fmt.Errorf("duplicate check: %w", err)
	}
	if dup {
		a.logger.Debug("action proposal suppressed as duplicate",
			zap.String("container", in.ContainerName),
			zap.String("type", string(r.action)))
		return nil, nil
	}

	now := time.Now().UTC()
	action := &models.Action{
		ID:            uuid.NewString(),
		InsightID:     in.ID,
		EndpointID:    in.EndpointID,
		ContainerID:   in.ContainerID,
		ContainerName: in.ContainerName,
		Type:          r.action,
		Rationale:     r.rationale,
		Status:        models.ActionPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := a.store.InsertAction(ctx, action); err != nil {
		return nil, fmt.Errorf("insert action: %w", err)
	}

	metrics.ActionsProposed.WithLabelValues(string(action.Type)).Inc()
	if a.auditLog != nil {
		_ = a.auditLog.LogActionProposed(ctx, string(action.Type), in.ContainerName)
	}
	if a.pub != nil {
		a.pub.Publish("action.proposed", action)
	}
	a.logger.Info("remediation action proposed",
		zap.String("action", action.ID),
		zap.String("type", string(action.Type)),
		zap.String("container", in.ContainerName),
		zap.String("insight", in.ID))

	return action, nil
}
