// Package resolver maps requested model identifier strings onto concrete
// host model handles. Resolution is exact match first, then character-bigram
// Jaccard fuzzy match, then an "auto" fallback. The handle listing is cached
// at process scope: the host capability's listing does not change within a
// process run, so the cache refreshes only on an explicit Reload, never on a
// resolution miss (a known limitation, not a bug — refreshing on miss cannot
// observe new handles).
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/hbollon/go-edlib"

	"github.com/sandrinn/llm-gateway/internal/hostcap"
)

// FuzzyThreshold is the minimum bigram Jaccard similarity for a fuzzy
// substitution. A candidate scoring exactly the threshold is accepted.
const FuzzyThreshold = 0.30

// autoModelID is the designated alias handle used for last-resort fallback.
const autoModelID = "auto"

var dateSuffixRe = regexp.MustCompile(`-\d{8}$`)

// Resolver caches the host capability's handle listing and resolves
// identifiers against it. Safe for concurrent use.
type Resolver struct {
	capability hostcap.Capability
	logger     *slog.Logger

	// Claude-family refinement targets; empty disables the refinement.
	mainModel string
	fastModel string

	mu      sync.RWMutex
	handles []hostcap.ModelHandle
	loaded  bool
}

// New builds a resolver. mainModel and fastModel are the user-configured
// identifiers the Claude date-suffix refinement redirects to.
func New(capability hostcap.Capability, logger *slog.Logger, mainModel, fastModel string) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{
		capability: capability,
		logger:     logger,
		mainModel:  mainModel,
		fastModel:  fastModel,
	}
}

// Reload refreshes the cached handle listing. This is the only invalidation
// path.
func (r *Resolver) Reload(ctx context.Context) error {
	handles, err := r.capability.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}

	r.mu.Lock()
	r.handles = handles
	r.loaded = true
	r.mu.Unlock()

	r.logger.Info("Model handles loaded", "count", len(handles))

	return nil
}

// Handles returns the cached listing, loading it on first use.
func (r *Resolver) Handles(ctx context.Context) ([]hostcap.ModelHandle, error) {
	r.mu.RLock()
	if r.loaded {
		handles := r.handles
		r.mu.RUnlock()

		return handles, nil
	}
	r.mu.RUnlock()

	if err := r.Reload(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.handles, nil
}

// Resolve maps a requested identifier to a handle: exact match, fuzzy match
// at or above FuzzyThreshold, auto fallback, else hostcap.ErrModelNotFound.
func (r *Resolver) Resolve(ctx context.Context, requested string) (hostcap.ModelHandle, error) {
	handles, err := r.Handles(ctx)
	if err != nil {
		return hostcap.ModelHandle{}, err
	}

	if len(handles) == 0 {
		return hostcap.ModelHandle{}, fmt.Errorf("%w: no model handles available", hostcap.ErrModelNotFound)
	}

	for _, handle := range handles {
		if handle.ID == requested {
			return handle, nil
		}
	}

	if handle, ok := r.fuzzyMatch(requested, handles); ok {
		return handle, nil
	}

	handle := autoFallback(handles)
	r.logger.Warn("Model not matched, using fallback handle",
		"requested", requested,
		"resolved", handle.ID,
	)

	return handle, nil
}

// ResolveClaude applies the Claude-family refinement before the normal
// resolution chain: the trailing 8-digit date suffix is stripped and the
// result compared against the configured main and fast identifiers. An
// unrecognized stripped id goes to the main model rather than on to fuzzy
// matching.
func (r *Resolver) ResolveClaude(ctx context.Context, requested string) (hostcap.ModelHandle, error) {
	if r.mainModel == "" {
		return r.Resolve(ctx, requested)
	}

	stripped := dateSuffixRe.ReplaceAllString(requested, "")

	target := r.mainModel
	if r.fastModel != "" && strings.EqualFold(stripped, r.fastModel) {
		target = r.fastModel
	}

	if !strings.EqualFold(stripped, target) {
		r.logger.Info("Redirecting unrecognized claude model to main",
			"requested", requested,
			"main", r.mainModel,
		)
	}

	return r.Resolve(ctx, target)
}

func (r *Resolver) fuzzyMatch(requested string, handles []hostcap.ModelHandle) (hostcap.ModelHandle, bool) {
	normalized := normalizeID(requested)
	if normalized == "" {
		return hostcap.ModelHandle{}, false
	}

	var (
		best      hostcap.ModelHandle
		bestScore float32 = -1
	)

	for _, handle := range handles {
		candidate := normalizeID(handle.ID)
		if candidate == "" {
			continue
		}

		score := edlib.JaccardSimilarity(normalized, candidate, 2)
		if score > bestScore {
			best = handle
			bestScore = score
		}
	}

	if bestScore < FuzzyThreshold {
		return hostcap.ModelHandle{}, false
	}

	r.logger.Info("Fuzzy model substitution",
		"requested", requested,
		"resolved", best.ID,
		"similarity", bestScore,
	)

	return best, true
}

// autoFallback prefers the concrete version sibling of the "auto" alias
// handle, then the alias itself, then the first available handle.
func autoFallback(handles []hostcap.ModelHandle) hostcap.ModelHandle {
	var auto *hostcap.ModelHandle

	for i := range handles {
		if handles[i].ID == autoModelID {
			auto = &handles[i]
			break
		}
	}

	if auto != nil {
		for _, handle := range handles {
			if handle.ID != autoModelID && handle.Version == auto.Version {
				return handle
			}
		}

		return *auto
	}

	return handles[0]
}

// normalizeID lowercases and strips everything but alphanumerics so
// punctuation and separator differences do not dominate the bigram sets.
func normalizeID(id string) string {
	var sb strings.Builder

	for _, r := range strings.ToLower(id) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		}
	}

	return sb.String()
}
