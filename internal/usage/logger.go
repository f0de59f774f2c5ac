package usage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hr-platform/backend/internal/metrics"
	"github.com/hr-platform/backend/internal/storage/models"
	"github.com/hr-platform/backend/pkg/logger"
	"github.com/hr-platform/backend/pkg/utils"
)

// Recorder persists usage events.
type Recorder interface {
	InsertUsage(ctx context.Context, ev *models.UsageEvent) error
}

// TokenCounter keeps running per-tenant token totals.
type TokenCounter interface {
	IncrTenantTokens(ctx context.Context, tenantID string, tokens int) error
}

const writeTimeout = 5 * time.Second

// Logger appends one usage event per LM call. Record never fails: a write
// error is logged, counted and dropped.
type Logger struct {
	store   Recorder
	counter TokenCounter
}

func NewLogger(store Recorder, counter TokenCounter) *Logger {
	return &Logger{store: store, counter: counter}
}

// Record writes ev and reports whether it was persisted.
func (l *Logger) Record(ctx context.Context, ev *models.UsageEvent) bool {
	ev.TotalTokens = ev.PromptTokens + ev.CompletionTokens
	ev.EstimatedCost = utils.Round6(ev.EstimatedCost)
	if ev.Status == "" {
		ev.Status = models.UsageSuccess
	}

	metrics.LLMCalls.WithLabelValues(ev.Provider, string(ev.Status)).Inc()
	metrics.LLMTokensUsed.WithLabelValues(ev.Model, "prompt").Add(float64(ev.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues(ev.Model, "completion").Add(float64(ev.CompletionTokens))
	metrics.LLMCost.WithLabelValues(ev.Model).Add(ev.EstimatedCost)

	// the caller's deadline may already be spent by the LM call
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	fields := append(logger.AIFields(ev.Provider, ev.Model),
		zap.String("tenant_id", ev.TenantID),
		zap.String("operation", ev.OperationType),
		zap.String("entity_id", ev.EntityID),
		zap.Int("total_tokens", ev.TotalTokens),
	)

	if l.counter != nil && ev.TotalTokens > 0 {
		if err := l.counter.IncrTenantTokens(wctx, ev.TenantID, ev.TotalTokens); err != nil {
			logger.Warn("Failed to update tenant token counter", append(fields, zap.Error(err))...)
		}
	}

	if err := l.store.InsertUsage(wctx, ev); err != nil {
		metrics.UsageLogFailures.Inc()
		logger.Error("Failed to record LLM usage", append(fields, zap.Error(err))...)
		return false
	}

	logger.Debug("LLM usage recorded", fields...)
	return true
}
