package providers

import (
	"net/http"

	"commentaryapp/internal/config"
	"commentaryapp/internal/models"
	"commentaryapp/internal/observability"
	contextutils "commentaryapp/internal/utils"
)

// Factory builds provider clients and slot chains from configuration
type Factory struct {
	cfg        *config.Config
	httpClient *http.Client
	logger     *observability.Logger
	metrics    *observability.CommentaryMetrics
}

// NewFactory creates a factory sharing one instrumented HTTP client across providers
func NewFactory(cfg *config.Config, logger *observability.Logger, metrics *observability.CommentaryMetrics) *Factory {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	// The per-call context deadline is the real limit; this only guards hung connections.
	timeout := cfg.Commentary.RequestTimeout + config.DefaultHTTPTimeout
	return &Factory{
		cfg:        cfg,
		httpClient: NewInstrumentedHTTPClient(timeout),
		logger:     logger,
		metrics:    metrics,
	}
}

// WithHTTPClient replaces the shared HTTP client
func (f *Factory) WithHTTPClient(c *http.Client) *Factory {
	f.httpClient = c
	return f
}

// NewClient builds the concrete client for one chain entry
func (f *Factory) NewClient(entry config.ChainEntry) (Client, error) {
	p, ok := f.cfg.FindProvider(entry.Provider)
	if !ok {
		return nil, contextutils.WrapErrorf(contextutils.ErrAIConfigInvalid, "unknown provider %q", entry.Provider)
	}

	maxTokens := p.MaxTokensFor(entry.Model, config.DefaultMaxTokens)
	placeholder := f.cfg.Commentary.Placeholder

	switch p.Client {
	case config.ClientOpenAI:
		return NewOpenAIClient(p.Code, entry.Model, p.APIKey(), p.URL, maxTokens, placeholder, f.httpClient), nil
	case config.ClientAnthropic:
		return NewAnthropicClient(p.Code, entry.Model, p.APIKey(), p.URL, maxTokens, placeholder, f.httpClient), nil
	case config.ClientGoogle:
		return NewGeminiClient(p.Code, entry.Model, p.APIKey(), p.URL, maxTokens, placeholder, f.httpClient), nil
	case config.ClientOllama:
		return NewOllamaClient(p.Code, entry.Model, p.URL, maxTokens, placeholder, f.httpClient)
	case config.ClientOpenAICompatible:
		return NewCompatibleClient(p.Code, entry.Model, p.URL, p.APIKey(), maxTokens, p.SupportsGrammar, placeholder, f.httpClient, f.logger), nil
	default:
		return nil, contextutils.WrapErrorf(contextutils.ErrAIConfigInvalid, "provider %q has unsupported client %q", p.Code, p.Client)
	}
}

// NewSlotChain builds the chain of a slot. Entries past the second are ignored.
func (f *Factory) NewSlotChain(slot config.SlotConfig) (*SlotChain, error) {
	entries := slot.Chain
	if slot.Fallback == config.FallbackNone || slot.Fallback == "" {
		entries = entries[:1]
	} else if len(entries) > 2 {
		entries = entries[:2]
	}

	clients := make([]Client, 0, len(entries))
	for _, e := range entries {
		c, err := f.NewClient(e)
		if err != nil {
			return nil, contextutils.WrapErrorf(err, "slot %s", slot.Name)
		}
		clients = append(clients, c)
	}

	return NewSlotChain(models.LogicalSlot(slot.Name), slot.Fallback, f.cfg.Commentary.RequestTimeout, clients...).
		WithMetrics(f.metrics).
		WithLogger(f.logger), nil
}

// NewSlotChains builds one chain per configured commentary slot, keyed by slot name
func (f *Factory) NewSlotChains() (map[models.LogicalSlot]*SlotChain, error) {
	chains := make(map[models.LogicalSlot]*SlotChain, len(f.cfg.Commentary.Slots))
	for _, s := range f.cfg.Commentary.Slots {
		chain, err := f.NewSlotChain(s)
		if err != nil {
			return nil, err
		}
		chains[chain.Slot()] = chain
	}
	return chains, nil
}
