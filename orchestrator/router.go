package orchestrator

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// RouteResult is the routing decision for one task description.
type RouteResult struct {
	// Worker is the chosen worker name, empty when the registry is empty.
	Worker string `json:"worker"`

	// Confidence is the routing confidence in [0,1].
	Confidence float64 `json:"confidence"`

	// Rationale is a human-readable explanation of the decision.
	Rationale string `json:"rationale"`

	// Alternative is the runner-up worker name, if any.
	Alternative string `json:"alternative,omitempty"`

	// Alternatives ranks every other worker with a positive score.
	Alternatives []string `json:"alternatives,omitempty"`
}

// RoutingStats is a snapshot of routing activity counters.
type RoutingStats struct {
	TotalRoutes   int            `json:"total_routes"`
	ByWorker      map[string]int `json:"by_worker"`
	Fallbacks     int            `json:"fallbacks"`
	Preferred     int            `json:"preferred"`
	CacheHits     int            `json:"cache_hits"`
	EmptyRoutes   int            `json:"empty_routes"`
	AvgConfidence float64        `json:"avg_confidence"`

	sumConfidence float64
}

// Router matches task descriptions against worker capability tags and
// picks the best-fit worker. Routing never mutates registry load; that
// is the engine's job at dispatch time, so routing stays repeatable.
type Router struct {
	registry *Registry
	cfg      *Config
	logger   *slog.Logger

	mu    sync.Mutex
	stats RoutingStats
	cache map[string]RouteResult
}

// NewRouter creates a router over the given registry.
func NewRouter(registry *Registry, cfg *Config, logger *slog.Logger) *Router {
	r := &Router{
		registry: registry,
		cfg:      cfg,
		logger:   logger,
		stats:    RoutingStats{ByWorker: make(map[string]int)},
	}
	if cfg.EnableRouteCache {
		r.cache = make(map[string]RouteResult)
	}
	return r
}

// Route picks a worker for the task description. A registered preferred
// worker short-circuits scoring with confidence 1.0. When the best score
// falls below the configured minimum confidence, the default worker is
// chosen but the low computed score is preserved so callers can detect
// weak routing.
func (r *Router) Route(description, preferred string) RouteResult {
	if preferred != "" {
		if r.registry.Get(preferred) != nil {
			result := RouteResult{
				Worker:     preferred,
				Confidence: 1.0,
				Rationale:  "explicit preference",
			}
			r.record(result, true, false)
			return result
		}
		r.logger.Warn("router: preferred worker not registered, falling back to scoring",
			"preferred", preferred)
	}

	normalized := strings.ToLower(strings.TrimSpace(description))

	if r.cache != nil {
		r.mu.Lock()
		if cached, ok := r.cache[normalized]; ok {
			r.stats.CacheHits++
			r.mu.Unlock()
			return cached
		}
		r.mu.Unlock()
	}

	names := r.registry.Names()
	if len(names) == 0 {
		result := RouteResult{Rationale: "no workers registered"}
		r.recordEmpty()
		return result
	}

	type scored struct {
		name  string
		score float64
		load  int
		order int
	}

	candidates := make([]scored, 0, len(names))
	for i, name := range names {
		profile := r.registry.Get(name)
		if profile == nil {
			continue
		}
		score := scoreProfile(normalized, profile.Tags)
		load := profile.Load()
		// Inverse-load penalty: each in-flight task shaves 5%, capped
		// at a 30% reduction so a busy specialist still beats an idle
		// generalist with no tag overlap.
		score *= 1 - minFloat(0.3, 0.05*float64(load))
		candidates = append(candidates, scored{name: name, score: score, load: load, order: i})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if candidates[i].load != candidates[j].load {
			return candidates[i].load < candidates[j].load
		}
		return candidates[i].order < candidates[j].order
	})

	best := candidates[0]
	var alternative string
	var alternatives []string
	for _, c := range candidates[1:] {
		if c.score > 0 {
			alternatives = append(alternatives, c.name)
		}
	}
	if len(alternatives) > 0 {
		alternative = alternatives[0]
	}

	defaultWorker := r.cfg.DefaultWorker
	if defaultWorker == "" || r.registry.Get(defaultWorker) == nil {
		defaultWorker = names[0]
	}

	var result RouteResult
	fallback := false
	if best.score < r.cfg.MinConfidence {
		fallback = true
		result = RouteResult{
			Worker:     defaultWorker,
			Confidence: clampConfidence(best.score),
			Rationale: fmt.Sprintf("no strong capability match (best %.2f below threshold %.2f), using default worker",
				best.score, r.cfg.MinConfidence),
			Alternative:  alternative,
			Alternatives: alternatives,
		}
	} else {
		result = RouteResult{
			Worker:       best.name,
			Confidence:   clampConfidence(best.score),
			Rationale:    fmt.Sprintf("capability match score %.2f (load %d)", best.score, best.load),
			Alternative:  alternative,
			Alternatives: alternatives,
		}
	}

	if r.cache != nil {
		r.mu.Lock()
		r.cache[normalized] = result
		r.mu.Unlock()
	}
	r.record(result, false, fallback)

	r.logger.Debug("router: routed task",
		"worker", result.Worker,
		"confidence", result.Confidence,
		"fallback", fallback)
	return result
}

// RouteBatch routes each task independently. A non-empty Worker field on
// a task acts as a per-task preference.
func (r *Router) RouteBatch(tasks []*Task) []RouteResult {
	results := make([]RouteResult, len(tasks))
	for i, task := range tasks {
		results[i] = r.Route(task.Description, task.Worker)
	}
	return results
}

// Stats returns a copy of the routing counters.
func (r *Router) Stats() RoutingStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.stats
	out.ByWorker = make(map[string]int, len(r.stats.ByWorker))
	for k, v := range r.stats.ByWorker {
		out.ByWorker[k] = v
	}
	if routed := r.stats.TotalRoutes - r.stats.EmptyRoutes; routed > 0 {
		out.AvgConfidence = r.stats.sumConfidence / float64(routed)
	}
	return out
}

// ClearStats resets the routing counters.
func (r *Router) ClearStats() {
	r.mu.Lock()
	r.stats = RoutingStats{ByWorker: make(map[string]int)}
	r.mu.Unlock()
}

// InvalidateCache clears the route cache. Call after registry mutation
// when caching is enabled.
func (r *Router) InvalidateCache() {
	if r.cache == nil {
		return
	}
	r.mu.Lock()
	r.cache = make(map[string]RouteResult)
	r.mu.Unlock()
}

func (r *Router) record(result RouteResult, preferred, fallback bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.TotalRoutes++
	r.stats.sumConfidence += result.Confidence
	if result.Worker != "" {
		r.stats.ByWorker[result.Worker]++
	}
	if preferred {
		r.stats.Preferred++
	}
	if fallback {
		r.stats.Fallbacks++
	}
}

func (r *Router) recordEmpty() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.TotalRoutes++
	r.stats.EmptyRoutes++
}

// scoreProfile returns the specificity-weighted fraction of capability
// tags present in the normalized text. Multi-word and longer tags carry
// more weight than short generic ones.
func scoreProfile(text string, tags []string) float64 {
	if len(tags) == 0 {
		return 0
	}

	var total, matched float64
	for _, tag := range tags {
		normalized := strings.ToLower(strings.TrimSpace(tag))
		if normalized == "" {
			continue
		}
		weight := tagWeight(normalized)
		total += weight
		if matchesKeyword(text, normalized) {
			matched += weight
		}
	}
	if total == 0 {
		return 0
	}
	return matched / total
}

// tagWeight estimates tag specificity: base 1.0, plus 0.5 per extra
// word, plus a small bonus for longer tags.
func tagWeight(tag string) float64 {
	weight := 1.0
	weight += 0.5 * float64(strings.Count(tag, " "))
	if len(tag) > 8 {
		weight += 0.25
	}
	return weight
}

// matchesKeyword checks whether the keyword occurs in the text. ASCII
// keywords require word boundaries to avoid partial matches; non-ASCII
// keywords (e.g. CJK) use plain containment.
func matchesKeyword(text, keyword string) bool {
	idx := strings.Index(text, keyword)
	if idx == -1 {
		return false
	}
	if isNonASCII(keyword) {
		return true
	}

	for idx != -1 {
		leftOk := idx == 0 || !isWordChar(text[idx-1])
		end := idx + len(keyword)
		rightOk := end == len(text) || !isWordChar(text[end])
		if leftOk && rightOk {
			return true
		}
		next := strings.Index(text[idx+1:], keyword)
		if next == -1 {
			break
		}
		idx += 1 + next
	}
	return false
}

func isNonASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 128 {
			return true
		}
	}
	return false
}

func isWordChar(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '_'
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
