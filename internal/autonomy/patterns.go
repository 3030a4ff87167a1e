package autonomy

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/lazypower/aide/internal/domain"
	"github.com/lazypower/aide/internal/value"
)

const (
	DefaultPatternCacheSize = 1024
	DefaultPatternTTL       = 30 * 24 * time.Hour
	maxPatternContexts      = 10
	learnedApprovals        = 3
)

// volatileParams never take part in a pattern hash.
var volatileParams = map[string]bool{
	"id":        true,
	"timestamp": true,
	"requestId": true,
}

// Context is the situation an approval was given in.
type Context struct {
	TimeOfDay string `json:"time_of_day,omitempty"`
	Mode      string `json:"mode,omitempty"`
}

// Pattern counts approvals of one (action, stable params) combination.
type Pattern struct {
	Hash           string    `json:"hash"`
	Action         string    `json:"action"`
	ApprovalCount  int       `json:"approval_count"`
	RejectionCount int       `json:"rejection_count"`
	Contexts       []Context `json:"contexts"`
	LastSeen       time.Time `json:"last_seen"`
}

// matches reports whether any recorded context shares time of day or mode with c.
func (p Pattern) matches(c Context) bool {
	for _, pc := range p.Contexts {
		if (c.TimeOfDay != "" && pc.TimeOfDay == c.TimeOfDay) || (c.Mode != "" && pc.Mode == c.Mode) {
			return true
		}
	}
	return false
}

// PatternLookup resolves a pattern hash.
type PatternLookup interface {
	Lookup(hash string) (Pattern, bool)
}

// Patterns is a bounded, expiring cache of approval patterns.
type Patterns struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, Pattern]
	now   func() time.Time
}

// NewPatterns creates a cache of at most size patterns, each forgotten ttl
// after its last update.
func NewPatterns(size int, ttl time.Duration) *Patterns {
	if size <= 0 {
		size = DefaultPatternCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultPatternTTL
	}
	return &Patterns{
		cache: expirable.NewLRU[string, Pattern](size, nil, ttl),
		now:   time.Now,
	}
}

// PatternHash hashes an action with its stable parameters in sorted key order.
func PatternHash(action string, params value.Object) string {
	stable := make(value.Object, len(params))
	for k, v := range params {
		if !volatileParams[k] {
			stable[k] = v
		}
	}
	sum := sha256.Sum256([]byte(action + "\x00" + stable.Serialize()))
	return hex.EncodeToString(sum[:])
}

// ContextOf extracts the pattern context from a world state.
func ContextOf(world domain.WorldState) Context {
	return Context{TimeOfDay: world.TimeOfDay, Mode: world.User.Mode}
}

// Lookup returns a copy of the pattern for hash.
func (p *Patterns) Lookup(hash string) (Pattern, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pat, ok := p.cache.Get(hash)
	if !ok {
		return Pattern{}, false
	}
	pat.Contexts = append([]Context(nil), pat.Contexts...)
	return pat, true
}

// RecordApproval counts an approval of the intent in the given world.
func (p *Patterns) RecordApproval(intent domain.Intent, world domain.WorldState) Pattern {
	p.mu.Lock()
	defer p.mu.Unlock()

	hash := PatternHash(intent.ToolName, intent.Params)
	pat, ok := p.cache.Peek(hash)
	if !ok {
		pat = Pattern{Hash: hash, Action: intent.ToolName}
	}
	pat.ApprovalCount++
	pat.LastSeen = p.now()
	contexts := append(append([]Context(nil), pat.Contexts...), ContextOf(world))
	if over := len(contexts) - maxPatternContexts; over > 0 {
		contexts = contexts[over:]
	}
	pat.Contexts = contexts
	p.cache.Add(hash, pat)
	return pat
}

// RecordRejection resets the approval count; the user has to re-teach it.
func (p *Patterns) RecordRejection(intent domain.Intent) Pattern {
	p.mu.Lock()
	defer p.mu.Unlock()

	hash := PatternHash(intent.ToolName, intent.Params)
	pat, ok := p.cache.Peek(hash)
	if !ok {
		pat = Pattern{Hash: hash, Action: intent.ToolName}
	}
	pat.RejectionCount++
	pat.ApprovalCount = 0
	pat.Contexts = nil
	pat.LastSeen = p.now()
	p.cache.Add(hash, pat)
	return pat
}

// Len returns the number of cached patterns.
func (p *Patterns) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache.Len()
}
