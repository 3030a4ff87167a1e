// Package memory stores decaying factual and preference memories with
// semantic de-duplication, weighted recall and reinforcement.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lazypower/aide/internal/domain"
	"github.com/lazypower/aide/internal/store"
)

// Memory is the persisted memory row.
type Memory = store.Memory

// Type aliases the memory lifecycle classes.
type Type = store.MemoryType

const (
	Ephemeral = store.MemoryEphemeral
	Working   = store.MemoryWorking
	LongTerm  = store.MemoryLongTerm
	Permanent = store.MemoryPermanent
)

var decayRates = map[Type]float64{
	Ephemeral: 0.2,
	Working:   0.05,
	LongTerm:  0.002,
	Permanent: 0,
}

var reinforceBoost = map[Type]float64{
	Ephemeral: 0.3,
	Working:   0.2,
	LongTerm:  0.1,
	Permanent: 0,
}

const (
	promoteToWorking  = 5
	promoteToLongTerm = 10
)

// ValidType reports whether t is a known memory type.
func ValidType(t Type) bool {
	_, ok := decayRates[t]
	return ok
}

// Backend is the durable row store for memories.
type Backend interface {
	CreateMemory(m *store.Memory) error
	UpdateMemory(m *store.Memory) error
	UpdateStrength(id string, strength float64) error
	GetMemory(id string) (*store.Memory, error)
	ListMemories(f store.MemoryFilter) ([]store.Memory, error)
	DeleteMemory(id string) error
	PruneMemories(minStrength float64) (int, error)
	MemoryCounts(userID string) (map[store.MemoryType]int, error)
}

// Config tunes thresholds.
type Config struct {
	MinStrength    float64
	DedupThreshold float64
	RecallLimit    int
	RecencyWindow  time.Duration
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		MinStrength:    0.1,
		DedupThreshold: 0.95,
		RecallLimit:    5,
		RecencyWindow:  24 * time.Hour,
	}
}

// Service is the memory store.
type Service struct {
	db       Backend
	embedder Embedder
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a memory service. emb may be nil; memories are then stored
// without vectors and recall is keyword-only.
func New(db Backend, emb Embedder, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.MinStrength <= 0 {
		cfg.MinStrength = def.MinStrength
	}
	if cfg.DedupThreshold <= 0 {
		cfg.DedupThreshold = def.DedupThreshold
	}
	if cfg.RecallLimit <= 0 {
		cfg.RecallLimit = def.RecallLimit
	}
	if cfg.RecencyWindow <= 0 {
		cfg.RecencyWindow = def.RecencyWindow
	}
	return &Service{
		db:       db,
		embedder: emb,
		cfg:      cfg,
		now:      time.Now,
		logger:   slog.Default().With("component", "memory"),
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// SetEmbedder swaps the embedder, e.g. after rebuilding a TF-IDF vocabulary.
func (s *Service) SetEmbedder(emb Embedder) {
	s.embedder = emb
}

// RememberInput describes a memory to store.
type RememberInput struct {
	UserID     string   `json:"user_id"`
	Content    string   `json:"content"`
	Type       Type     `json:"type,omitempty"`
	Category   string   `json:"category,omitempty"`
	Importance int      `json:"importance,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
	Entities   []string `json:"entities,omitempty"`
}

// Remember stores content, or reinforces an existing memory that matches it
// exactly (case-insensitive) or semantically. The bool reports a duplicate.
func (s *Service) Remember(ctx context.Context, in RememberInput) (*Memory, bool, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, false, domain.ErrMemoryInvalid.Wrap("content required")
	}
	if in.UserID == "" {
		return nil, false, domain.ErrMemoryInvalid.Wrap("user id required")
	}
	typ := in.Type
	if typ == "" {
		typ = Working
	}
	if !ValidType(typ) {
		return nil, false, domain.ErrMemoryInvalid.Wrap("unknown type " + string(typ))
	}
	importance := in.Importance
	if importance == 0 {
		importance = 5
	}
	if importance < 1 || importance > 10 {
		return nil, false, domain.ErrMemoryInvalid.Wrap("importance must be 1-10")
	}

	vec, model := s.embed(ctx, content)

	existing, err := s.db.ListMemories(store.MemoryFilter{UserID: in.UserID})
	if err != nil {
		return nil, false, fmt.Errorf("remember: %w", err)
	}
	if dup := s.findDuplicate(existing, content, vec, model); dup != nil {
		m, err := s.Reinforce(dup.ID)
		if err != nil {
			return nil, false, err
		}
		s.logger.Debug("memory reinforced by duplicate", "id", m.ID, "strength", m.Strength)
		return m, true, nil
	}

	keywords := in.Keywords
	if len(keywords) == 0 {
		keywords = Keywords(content)
	}
	if len(keywords) > maxKeywords {
		keywords = keywords[:maxKeywords]
	}
	entities := in.Entities
	if len(entities) == 0 {
		entities = Entities(content)
	}
	category := in.Category
	if category == "" {
		category = "general"
	}

	now := s.now().UTC()
	m := &Memory{
		ID:             uuid.New().String(),
		UserID:         in.UserID,
		Content:        content,
		Type:           typ,
		Category:       category,
		Importance:     importance,
		Strength:       1.0,
		AnchorStrength: 1.0,
		Keywords:       keywords,
		Entities:       entities,
		Embedding:      vec,
		EmbeddingModel: model,
		CreatedAt:      now,
		LastAccessed:   now,
		LastReinforced: now,
	}
	if err := s.db.CreateMemory(m); err != nil {
		return nil, false, err
	}
	s.logger.Info("memory stored", "id", m.ID, "type", m.Type, "embedded", vec != nil)
	return m, false, nil
}

func (s *Service) findDuplicate(existing []Memory, content string, vec []float64, model string) *Memory {
	norm := normalizeContent(content)
	for i := range existing {
		if normalizeContent(existing[i].Content) == norm {
			return &existing[i]
		}
	}
	if vec == nil || !s.semanticDedup() {
		return nil
	}
	var best *Memory
	bestSim := 0.0
	for i := range existing {
		m := &existing[i]
		if m.Embedding == nil || m.EmbeddingModel != model {
			continue
		}
		if sim := CosineSimilarity(vec, m.Embedding); sim >= s.cfg.DedupThreshold && sim > bestSim {
			best, bestSim = m, sim
		}
	}
	return best
}

// semanticDedup reports whether vector similarity may merge memories. A
// TF-IDF vocabulary ignores words it has not seen, so distinct memories can
// share a vector; only exact matches dedup then.
func (s *Service) semanticDedup() bool {
	_, tfidf := s.embedder.(*TFIDFEmbedder)
	return !tfidf
}

// embed returns nil on failure; memories persist without vectors.
func (s *Service) embed(ctx context.Context, text string) ([]float64, string) {
	if s.embedder == nil {
		return nil, ""
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.logger.Warn("embedding failed", "err", err)
		return nil, ""
	}
	if len(vec) == 0 {
		return nil, ""
	}
	return vec, s.embedder.Model()
}

// RecallOptions narrows a recall.
type RecallOptions struct {
	UserID   string `json:"user_id"`
	Limit    int    `json:"limit,omitempty"`
	Type     Type   `json:"type,omitempty"`
	Category string `json:"category,omitempty"`
}

// Scored is a recalled memory with its score breakdown.
type Scored struct {
	Memory   Memory  `json:"memory"`
	Score    float64 `json:"score"`
	Semantic float64 `json:"semantic"`
	Keyword  float64 `json:"keyword"`
}

// Recall ranks the user's memories against query:
//
//	0.6·cosine + 0.2·keywordOverlap/queryKeywords + 0.1·(importance/10)·strength + 0.1·recent
//
// Only memories with semantic or keyword relevance are returned. Each
// returned memory counts as accessed.
func (s *Service) Recall(ctx context.Context, query string, opts RecallOptions) ([]Scored, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = s.cfg.RecallLimit
	}

	candidates, err := s.db.ListMemories(store.MemoryFilter{UserID: opts.UserID, Type: opts.Type, Category: opts.Category})
	if err != nil {
		return nil, fmt.Errorf("recall: %w", err)
	}

	now := s.now().UTC()
	qvec, model := s.embed(ctx, query)
	qkw := Keywords(query)

	var results []Scored
	for i := range candidates {
		m := candidates[i]
		var semantic, keyword float64
		if qvec != nil && m.Embedding != nil && m.EmbeddingModel == model {
			semantic = math.Max(0, CosineSimilarity(qvec, m.Embedding))
		}
		if len(qkw) > 0 {
			keyword = float64(keywordOverlap(qkw, &m)) / float64(len(qkw))
		}
		if semantic == 0 && keyword == 0 {
			continue
		}

		strength := s.currentStrength(&m, now)
		score := 0.6*semantic + 0.2*keyword + 0.1*(float64(m.Importance)/10)*strength
		if now.Sub(m.LastAccessed) < s.cfg.RecencyWindow {
			score += 0.1
		}
		results = append(results, Scored{Memory: m, Score: score, Semantic: semantic, Keyword: keyword})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}

	for i := range results {
		m := &results[i].Memory
		s.touch(m, now)
		if err := s.db.UpdateMemory(m); err != nil {
			s.logger.Warn("record access failed", "id", m.ID, "err", err)
		}
	}
	return results, nil
}

// touch counts an access, re-anchoring decay at the current strength.
func (s *Service) touch(m *Memory, now time.Time) {
	m.Strength = s.currentStrength(m, now)
	m.AnchorStrength = m.Strength
	m.AccessCount++
	m.LastAccessed = now
}

// Reinforce strengthens a memory by its type's boost, capped at 1.0, and
// promotes it after enough reinforcements.
func (s *Service) Reinforce(id string) (*Memory, error) {
	m, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	m.Strength = math.Min(1, s.currentStrength(m, now)+reinforceBoost[m.Type])
	m.AnchorStrength = m.Strength
	m.ReinforceCount++
	m.LastReinforced = now
	m.LastAccessed = now

	switch {
	case m.Type == Ephemeral && m.ReinforceCount >= promoteToWorking:
		m.Type = Working
		s.logger.Info("memory promoted", "id", m.ID, "to", m.Type)
	case m.Type == Working && m.ReinforceCount >= promoteToLongTerm:
		m.Type = LongTerm
		s.logger.Info("memory promoted", "id", m.ID, "to", m.Type)
	}

	if err := s.db.UpdateMemory(m); err != nil {
		return nil, err
	}
	return m, nil
}

// currentStrength is the anchor minus linear decay since last access.
func (s *Service) currentStrength(m *Memory, now time.Time) float64 {
	rate := decayRates[m.Type]
	if rate == 0 {
		return m.Strength
	}
	hours := now.Sub(m.LastAccessed).Hours()
	if hours < 0 {
		hours = 0
	}
	return Decayed(m.AnchorStrength, hours, rate)
}

// Decayed is max(0, anchor − hours × rate).
func Decayed(anchor, hours, rate float64) float64 {
	return math.Max(0, anchor-hours*rate)
}

// DecayResult summarises one decay pass.
type DecayResult struct {
	Decayed int `json:"decayed"`
	Pruned  int `json:"pruned"`
}

// ApplyDecay recomputes strength for every non-permanent memory, then
// prunes those below the minimum strength. Re-running it at the same
// instant changes nothing.
func (s *Service) ApplyDecay() (DecayResult, error) {
	var res DecayResult
	all, err := s.db.ListMemories(store.MemoryFilter{})
	if err != nil {
		return res, fmt.Errorf("decay memories: %w", err)
	}

	now := s.now().UTC()
	var errs []error
	for i := range all {
		m := &all[i]
		if m.Type == Permanent {
			continue
		}
		strength := s.currentStrength(m, now)
		if strength == m.Strength {
			continue
		}
		if err := s.db.UpdateStrength(m.ID, strength); err != nil {
			errs = append(errs, err)
			continue
		}
		res.Decayed++
	}

	pruned, err := s.db.PruneMemories(s.cfg.MinStrength)
	if err != nil {
		errs = append(errs, err)
	}
	res.Pruned = pruned
	if pruned > 0 {
		s.logger.Info("memories pruned", "count", pruned)
	}
	return res, errors.Join(errs...)
}

// Get returns a memory by id.
func (s *Service) Get(id string) (*Memory, error) {
	m, err := s.db.GetMemory(id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, domain.ErrMemoryNotFound.Wrap(id)
	}
	return m, nil
}

// Forget deletes a memory.
func (s *Service) Forget(id string) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	return s.db.DeleteMemory(id)
}

// List returns memories matching f, strongest first.
func (s *Service) List(f store.MemoryFilter) ([]Memory, error) {
	return s.db.ListMemories(f)
}

// Stats counts a user's memories by type.
type Stats struct {
	Total  int          `json:"total"`
	ByType map[Type]int `json:"by_type"`
}

// Stats returns memory counts for a user.
func (s *Service) Stats(userID string) (Stats, error) {
	counts, err := s.db.MemoryCounts(userID)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{ByType: counts}
	for _, n := range counts {
		st.Total += n
	}
	return st, nil
}

// Reembed refreshes vectors for memories embedded by a different model or
// not at all. It returns the number updated.
func (s *Service) Reembed(ctx context.Context) (int, error) {
	if s.embedder == nil {
		return 0, nil
	}
	all, err := s.db.ListMemories(store.MemoryFilter{})
	if err != nil {
		return 0, err
	}
	model := s.embedder.Model()
	n := 0
	for i := range all {
		m := &all[i]
		if m.Embedding != nil && m.EmbeddingModel == model {
			continue
		}
		vec, got := s.embed(ctx, m.Content)
		if vec == nil {
			continue
		}
		m.Embedding, m.EmbeddingModel = vec, got
		if err := s.db.UpdateMemory(m); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// BuildTFIDF builds a TF-IDF embedder from every stored memory.
func BuildTFIDF(db Backend, maxTerms int) (*TFIDFEmbedder, error) {
	all, err := db.ListMemories(store.MemoryFilter{})
	if err != nil {
		return nil, fmt.Errorf("list memories for tfidf: %w", err)
	}
	docs := make([]string, 0, len(all))
	for _, m := range all {
		docs = append(docs, m.Content)
	}
	return NewTFIDFEmbedder(docs, maxTerms), nil
}
