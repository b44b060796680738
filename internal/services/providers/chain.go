package providers

import (
	"context"
	"errors"
	"strings"
	"time"

	"commentaryapp/internal/config"
	"commentaryapp/internal/models"
	"commentaryapp/internal/observability"
	contextutils "commentaryapp/internal/utils"
)

// quotaSignals are matched case-insensitively against error text
var quotaSignals = []string{
	"429",
	"exceeded your current quota",
	"resource_exhausted",
	"quotafailure",
	"generaterequestsperday",
}

// IsQuotaError reports whether err looks like a rate or quota rejection
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, contextutils.ErrQuotaExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range quotaSignals {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// ChainResult is a commentary plus the concrete service that produced it
type ChainResult struct {
	Slot           models.LogicalSlot
	ActualProvider string
	Commentary     models.Commentary
}

// SlotChain runs a slot's primary service and, depending on the policy, its fallback
type SlotChain struct {
	slot    models.LogicalSlot
	policy  string
	clients []Client
	timeout time.Duration
	metrics *observability.CommentaryMetrics
	logger  *observability.Logger
}

// NewSlotChain builds a chain. Policy none uses only the first client.
func NewSlotChain(slot models.LogicalSlot, policy string, timeout time.Duration, clients ...Client) *SlotChain {
	if policy == "" {
		policy = config.FallbackNone
	}
	return &SlotChain{
		slot:    slot,
		policy:  policy,
		clients: clients,
		timeout: timeout,
		logger:  observability.NewNopLogger(),
	}
}

// WithMetrics attaches the pipeline instruments
func (c *SlotChain) WithMetrics(m *observability.CommentaryMetrics) *SlotChain {
	c.metrics = m
	return c
}

// WithLogger attaches a logger
func (c *SlotChain) WithLogger(l *observability.Logger) *SlotChain {
	if l != nil {
		c.logger = l
	}
	return c
}

// Slot returns the logical slot served by the chain
func (c *SlotChain) Slot() models.LogicalSlot { return c.slot }

// Policy returns the fallback policy
func (c *SlotChain) Policy() string { return c.policy }

// Services lists the concrete service names in chain order
func (c *SlotChain) Services() []string {
	names := make([]string, 0, len(c.clients))
	for _, cl := range c.clients {
		names = append(names, cl.Name())
	}
	return names
}

type callOutcome struct {
	commentary models.Commentary
	err        error
}

// call races one client against the chain timeout. A client that outlives the deadline has its
// late result dropped and the call counts as failed.
func (c *SlotChain) call(ctx context.Context, client Client, prompt Prompt) (models.Commentary, error) {
	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	done := make(chan callOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callOutcome{err: contextutils.ErrorWithContextf("%s panicked: %v", client.Name(), r)}
			}
		}()
		commentary, err := client.GenerateCommentary(callCtx, prompt)
		done <- callOutcome{commentary: commentary, err: err}
	}()

	var out callOutcome
	select {
	case out = <-done:
		// an answer racing the deadline still counts as late
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			if out.err != nil {
				out = callOutcome{err: contextutils.WrapErrorf(contextutils.ErrTimeout, "%s timed out after %v: %w", client.Name(), c.timeout, out.err)}
			} else {
				out = callOutcome{err: contextutils.WrapErrorf(contextutils.ErrTimeout, "%s answered after the %v deadline", client.Name(), c.timeout)}
			}
		}
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			out.err = contextutils.WrapErrorf(contextutils.ErrTimeout, "%s timed out after %v", client.Name(), c.timeout)
		} else {
			out.err = contextutils.WrapErrorf(contextutils.ErrTimeout, "%s cancelled: %w", client.Name(), callCtx.Err())
		}
	}
	c.metrics.RecordProviderCall(ctx, string(c.slot), client.Name(), out.err == nil)
	return out.commentary, out.err
}

// Generate runs the chain and returns the first successful result
func (c *SlotChain) Generate(ctx context.Context, prompt Prompt) (result ChainResult, err error) {
	ctx, span := observability.TraceAIFunction(ctx, "slot_chain_generate",
		observability.AttributeSlot(string(c.slot)),
	)
	defer observability.FinishSpan(span, &err)

	if len(c.clients) == 0 {
		return ChainResult{}, contextutils.WrapErrorf(contextutils.ErrAIConfigInvalid, "slot %s has no services", c.slot)
	}

	primary := c.clients[0]
	commentary, primaryErr := c.call(ctx, primary, prompt)
	if primaryErr == nil {
		span.SetAttributes(observability.AttributeProvider(primary.Name()))
		return ChainResult{Slot: c.slot, ActualProvider: primary.Name(), Commentary: commentary}, nil
	}

	if !c.shouldFallback(primaryErr) || len(c.clients) < 2 {
		return ChainResult{}, primaryErr
	}

	fallback := c.clients[1]
	c.metrics.RecordFallback(ctx, string(c.slot))
	c.logger.Warn(ctx, "Primary service failed, switching to fallback", map[string]interface{}{
		"slot":     string(c.slot),
		"primary":  primary.Name(),
		"fallback": fallback.Name(),
		"error":    primaryErr.Error(),
	})

	commentary, fallbackErr := c.call(ctx, fallback, prompt)
	if fallbackErr != nil {
		return ChainResult{}, contextutils.WrapErrorf(contextutils.ErrFallbackExhausted,
			"slot %s: primary %s failed: %v; fallback %s failed: %v",
			c.slot, primary.Name(), primaryErr, fallback.Name(), fallbackErr)
	}

	span.SetAttributes(observability.AttributeProvider(fallback.Name()))
	return ChainResult{Slot: c.slot, ActualProvider: fallback.Name(), Commentary: commentary}, nil
}

func (c *SlotChain) shouldFallback(err error) bool {
	switch c.policy {
	case config.FallbackAnyError:
		return true
	case config.FallbackQuota:
		return IsQuotaError(err)
	default:
		return false
	}
}
