package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/twinforge/twincore/internal/rewrite"
)

// Query is the orchestrator's input, derived from a RewriteResult.
type Query struct {
	TwinID  string
	Text    string
	Intent  rewrite.Intent
	Filters map[string]string
}

// Config holds the orchestrator's tunables.
type Config struct {
	// Per-source candidate limit before merging. Default 10.
	PerSourceLimit int

	// MaxCandidates bounds the merged set handed to the reranker.
	// Default 20.
	MaxCandidates int

	// Sub-query timeouts, independent of each other. Default 4s each;
	// EmbedTimeout default 3s.
	EmbedTimeout    time.Duration
	VerifiedTimeout time.Duration
	VectorTimeout   time.Duration
	ToolTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.PerSourceLimit <= 0 {
		c.PerSourceLimit = 10
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = 20
	}
	if c.EmbedTimeout <= 0 {
		c.EmbedTimeout = 3 * time.Second
	}
	if c.VerifiedTimeout <= 0 {
		c.VerifiedTimeout = 4 * time.Second
	}
	if c.VectorTimeout <= 0 {
		c.VectorTimeout = 4 * time.Second
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = 4 * time.Second
	}
	return c
}

// Orchestrator fans a query out to the configured sources and fuses the
// results into one deduplicated, precedence-ordered EvidenceSet.
//
// Safe for concurrent use.
type Orchestrator struct {
	cfg      Config
	embedder Embedder
	verified VerifiedStore
	vector   VectorIndex
	tools    []ToolSource
	logger   *slog.Logger
}

// New creates an Orchestrator. verified, vector, and tools may each be nil/
// empty; the orchestrator queries whatever is wired.
func New(cfg Config, embedder Embedder, verified VerifiedStore, vector VectorIndex, tools []ToolSource, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:      cfg.withDefaults(),
		embedder: embedder,
		verified: verified,
		vector:   vector,
		tools:    tools,
		logger:   logger,
	}
}

// Retrieve gathers evidence for q. Sub-queries run concurrently, each under
// its own timeout. A failed sub-query is recorded on the EvidenceSet and
// never aborts the others: a verified hit still surfaces when the vector
// index is down, and vice versa. The only returned error is caller
// cancellation.
func (o *Orchestrator) Retrieve(ctx context.Context, q Query) (*EvidenceSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Embed once; both semantic sub-queries share the vector. An embedding
	// failure disables them but tool sources still run.
	embedding, embedErr := o.embedQuery(ctx, q.Text)

	var (
		mu       sync.Mutex
		verified []Candidate
		vector   []Candidate
		tools    []Candidate
		failed   []string
	)
	fail := func(source string, err error) {
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, source)
		o.logger.Warn("sub-retrieval failed, continuing without it",
			"source", source, "twin", q.TwinID, "error", err)
	}

	// Sub-query goroutines report failures through fail() and return nil,
	// so one failing source never cancels its siblings; gctx only cancels
	// when the caller does.
	g, gctx := errgroup.WithContext(ctx)

	if o.verified != nil && embedErr == nil {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, o.cfg.VerifiedTimeout)
			defer cancel()
			res, err := o.verified.Search(sctx, q.TwinID, embedding, o.cfg.PerSourceLimit)
			if err != nil {
				fail("verified", err)
				return nil
			}
			mu.Lock()
			verified = res
			mu.Unlock()
			return nil
		})
	} else if o.verified != nil {
		fail("verified", embedErr)
	}

	if o.vector != nil && embedErr == nil {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, o.cfg.VectorTimeout)
			defer cancel()
			res, err := o.vector.Search(sctx, q.TwinID, embedding, q.Filters, o.cfg.PerSourceLimit)
			if err != nil {
				fail("vector", err)
				return nil
			}
			mu.Lock()
			vector = res
			mu.Unlock()
			return nil
		})
	} else if o.vector != nil {
		fail("vector", embedErr)
	}

	for _, tool := range o.tools {
		if !tool.Supports(q.Intent) {
			continue
		}
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, o.cfg.ToolTimeout)
			defer cancel()
			res, err := tool.Fetch(sctx, q.TwinID, q.Text)
			if err != nil {
				fail("tool:"+tool.Name(), err)
				return nil
			}
			mu.Lock()
			tools = append(tools, res...)
			mu.Unlock()
			return nil
		})
	}

	// Sub-queries swallow their own errors; Wait only fails on caller
	// cancellation propagated through gctx.
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ev := &EvidenceSet{
		Candidates:    merge(verified, tools, vector),
		Partial:       len(failed) > 0,
		FailedSources: failed,
	}
	ev.Sort()
	ev.Truncate(o.cfg.MaxCandidates)

	o.logger.Debug("retrieval complete",
		"twin", q.TwinID,
		"verified", len(verified),
		"vector", len(vector),
		"tools", len(tools),
		"merged", len(ev.Candidates),
		"partial", ev.Partial,
	)
	return ev, nil
}

// embedQuery embeds q under its own timeout.
func (o *Orchestrator) embedQuery(ctx context.Context, text string) ([]float32, error) {
	if o.embedder == nil {
		return nil, errors.New("no embedder configured")
	}
	ectx, cancel := context.WithTimeout(ctx, o.cfg.EmbedTimeout)
	defer cancel()
	return o.embedder.Embed(ectx, text)
}
