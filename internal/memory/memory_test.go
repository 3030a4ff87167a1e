package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/aide/internal/domain"
	"github.com/lazypower/aide/internal/store"
)

// fakeEmbedder maps text containing a topic word to a fixed axis.
type fakeEmbedder struct {
	fail  bool
	calls int
}

var axes = []string{"coffee", "music", "travel"}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("provider down")
	}
	vec := make([]float64, len(axes)+1)
	lower := strings.ToLower(text)
	hit := false
	for i, a := range axes {
		if strings.Contains(lower, a) {
			vec[i] = 1
			hit = true
		}
	}
	if !hit {
		vec[len(axes)] = 1
	}
	return vec, nil
}

func (f *fakeEmbedder) Model() string { return "fake" }

type fixture struct {
	svc *Service
	db  *store.DB
	emb *fakeEmbedder
	now time.Time
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{db: db, emb: &fakeEmbedder{}, now: time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)}
	f.svc = New(db, f.emb, DefaultConfig()).WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) remember(t *testing.T, in RememberInput) *Memory {
	t.Helper()
	if in.UserID == "" {
		in.UserID = "u1"
	}
	m, _, err := f.svc.Remember(context.Background(), in)
	require.NoError(t, err)
	return m
}

func TestRememberDefaults(t *testing.T) {
	f := setup(t)
	m := f.remember(t, RememberInput{Content: "Alice drinks oat milk coffee every morning"})

	assert.Equal(t, Working, m.Type)
	assert.Equal(t, "general", m.Category)
	assert.Equal(t, 5, m.Importance)
	assert.Equal(t, 1.0, m.Strength)
	assert.Contains(t, m.Keywords, "coffee")
	assert.NotContains(t, m.Keywords, "every")
	assert.Equal(t, []string{"Alice"}, m.Entities)
	assert.Equal(t, "fake", m.EmbeddingModel)
	assert.Len(t, m.Embedding, 4)
}

func TestRememberValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, _, err := f.svc.Remember(ctx, RememberInput{UserID: "u1", Content: "  "})
	assert.ErrorIs(t, err, domain.ErrMemoryInvalid)
	_, _, err = f.svc.Remember(ctx, RememberInput{UserID: "u1", Content: "x", Type: "forever"})
	assert.ErrorIs(t, err, domain.ErrMemoryInvalid)
	_, _, err = f.svc.Remember(ctx, RememberInput{UserID: "u1", Content: "x", Importance: 11})
	assert.ErrorIs(t, err, domain.ErrMemoryInvalid)
}

func TestRememberExactDuplicateReinforces(t *testing.T) {
	f := setup(t)
	first := f.remember(t, RememberInput{Content: "Bob is allergic to peanuts", Type: Ephemeral})

	f.advance(2 * time.Hour) // strength 0.6
	again, dup, err := f.svc.Remember(context.Background(), RememberInput{UserID: "u1", Content: "bob is  ALLERGIC to peanuts"})
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 1, again.ReinforceCount)
	assert.InDelta(t, 0.9, again.Strength, 1e-9)

	all, _ := f.svc.List(store.MemoryFilter{UserID: "u1"})
	assert.Len(t, all, 1)
}

func TestRememberSemanticDuplicate(t *testing.T) {
	f := setup(t)
	first := f.remember(t, RememberInput{Content: "likes strong coffee"})
	again, dup, err := f.svc.Remember(context.Background(), RememberInput{UserID: "u1", Content: "enjoys coffee, very strong"})
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, first.ID, again.ID)

	other := f.remember(t, RememberInput{Content: "plans travel to Lisbon"})
	assert.NotEqual(t, first.ID, other.ID)

	// Another user's memory is never a duplicate.
	theirs := f.remember(t, RememberInput{UserID: "u2", Content: "likes strong coffee"})
	assert.NotEqual(t, first.ID, theirs.ID)
}

func TestTFIDFFallbackDedupsExactOnly(t *testing.T) {
	f := setup(t)
	f.svc.SetEmbedder(NewTFIDFEmbedder([]string{"meeting tomorrow"}, 0))

	alice := f.remember(t, RememberInput{Content: "Meeting with Alice tomorrow"})
	bob, dup, err := f.svc.Remember(context.Background(), RememberInput{UserID: "u1", Content: "Meeting with Bob tomorrow"})
	require.NoError(t, err)
	assert.False(t, dup)
	assert.NotEqual(t, alice.ID, bob.ID)
	assert.Equal(t, "Meeting with Bob tomorrow", bob.Content)

	again, dup, err := f.svc.Remember(context.Background(), RememberInput{UserID: "u1", Content: "meeting with alice TOMORROW"})
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, alice.ID, again.ID)

	all, _ := f.svc.List(store.MemoryFilter{UserID: "u1"})
	assert.Len(t, all, 2)
}

func TestSuppliedKeywordsCapped(t *testing.T) {
	f := setup(t)
	kw := []string{"a1", "a2", "a3", "a4", "a5", "a6", "a7", "a8", "a9", "a10", "a11", "a12"}
	m := f.remember(t, RememberInput{Content: "lots of tags", Keywords: kw})
	assert.Equal(t, kw[:10], m.Keywords)
}

func TestEmbeddingFailureIsNonFatal(t *testing.T) {
	f := setup(t)
	f.emb.fail = true

	m := f.remember(t, RememberInput{Content: "the garage code is 4412"})
	assert.Nil(t, m.Embedding)
	assert.Empty(t, m.EmbeddingModel)

	got, err := f.svc.Recall(context.Background(), "garage code", RecallOptions{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, m.ID, got[0].Memory.ID)
	assert.Zero(t, got[0].Semantic)
	assert.Equal(t, 1.0, got[0].Keyword)
}

func TestRecallRanksAndTouches(t *testing.T) {
	f := setup(t)
	coffee := f.remember(t, RememberInput{Content: "prefers coffee black", Importance: 8})
	f.remember(t, RememberInput{Content: "favourite music is jazz"})
	f.remember(t, RememberInput{Content: "travel insurance renews in May"})

	f.advance(48 * time.Hour)
	got, err := f.svc.Recall(context.Background(), "how do they take their coffee", RecallOptions{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, got, 1, "only relevant memories are returned")
	assert.Equal(t, coffee.ID, got[0].Memory.ID)
	assert.InDelta(t, 1.0, got[0].Semantic, 1e-9)

	stored, _ := f.svc.Get(coffee.ID)
	assert.Equal(t, 1, stored.AccessCount)
	assert.True(t, stored.LastAccessed.Equal(f.now))
	assert.InDelta(t, 0.0, stored.Strength, 1e-9, "48h of working decay, re-anchored on access")
}

func TestRecallRecencyBonusAndLimit(t *testing.T) {
	f := setup(t)
	f.svc.SetEmbedder(nil)
	for i := 0; i < 7; i++ {
		f.remember(t, RememberInput{Content: "music note " + string(rune('a'+i)) + "x"})
	}
	got, err := f.svc.Recall(context.Background(), "music", RecallOptions{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, got, DefaultConfig().RecallLimit)
	// keyword 0.2 + importance 0.1*0.5*1.0 + recency 0.1
	assert.InDelta(t, 0.35, got[0].Score, 1e-9)
}

func TestReinforceCapsAndPromotes(t *testing.T) {
	f := setup(t)
	m := f.remember(t, RememberInput{Content: "parking spot is B12", Type: Ephemeral})

	for i := 1; i <= 10; i++ {
		var err error
		m, err = f.svc.Reinforce(m.ID)
		require.NoError(t, err)
		assert.LessOrEqual(t, m.Strength, 1.0)
		switch {
		case i < 5:
			assert.Equal(t, Ephemeral, m.Type, "after %d", i)
		case i < 10:
			assert.Equal(t, Working, m.Type, "after %d", i)
		default:
			assert.Equal(t, LongTerm, m.Type)
		}
	}
	assert.Equal(t, 10, m.ReinforceCount)
}

func TestEphemeralDecaysToZeroAndIsPruned(t *testing.T) {
	f := setup(t)
	m := f.remember(t, RememberInput{Content: "the oven is preheating", Type: Ephemeral})

	f.advance(5 * time.Hour)
	res, err := f.svc.ApplyDecay()
	require.NoError(t, err)
	assert.Equal(t, 1, res.Decayed)
	assert.Equal(t, 1, res.Pruned)

	_, err = f.svc.Get(m.ID)
	assert.ErrorIs(t, err, domain.ErrMemoryNotFound)
}

func TestPermanentNeverDecays(t *testing.T) {
	f := setup(t)
	m := f.remember(t, RememberInput{Content: "birthday is March 3", Type: Permanent})

	f.advance(10000 * time.Hour)
	res, err := f.svc.ApplyDecay()
	require.NoError(t, err)
	assert.Zero(t, res.Decayed)

	got, err := f.svc.Get(m.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Strength)
}

func TestDecayIsIdempotent(t *testing.T) {
	f := setup(t)
	m := f.remember(t, RememberInput{Content: "working memory", Type: Working})

	f.advance(4 * time.Hour)
	f.svc.ApplyDecay()
	res, _ := f.svc.ApplyDecay()
	assert.Zero(t, res.Decayed)

	got, _ := f.svc.Get(m.ID)
	assert.InDelta(t, 0.8, got.Strength, 1e-9)
}

func TestForgetAndStats(t *testing.T) {
	f := setup(t)
	a := f.remember(t, RememberInput{Content: "a coffee"})
	f.remember(t, RememberInput{Content: "b music", Type: LongTerm})

	st, err := f.svc.Stats("u1")
	require.NoError(t, err)
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.ByType[LongTerm])

	require.NoError(t, f.svc.Forget(a.ID))
	assert.ErrorIs(t, f.svc.Forget(a.ID), domain.ErrMemoryNotFound)
}

func TestReembedWithTFIDF(t *testing.T) {
	f := setup(t)
	f.svc.SetEmbedder(nil)
	f.remember(t, RememberInput{Content: "the dentist appointment is on Friday"})
	f.remember(t, RememberInput{Content: "renew the car registration"})

	tfidf, err := BuildTFIDF(f.db, 64)
	require.NoError(t, err)
	f.svc.SetEmbedder(tfidf)

	n, err := f.svc.Reembed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := f.svc.Recall(context.Background(), "dentist friday", RecallOptions{UserID: "u1"})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Contains(t, got[0].Memory.Content, "dentist")
	assert.Greater(t, got[0].Semantic, 0.0)
}

func TestStrengthProperties(t *testing.T) {
	types := []Type{Ephemeral, Working, LongTerm}

	properties := gopter.NewProperties(nil)
	properties.Property("decay is non-increasing and never negative", prop.ForAll(
		func(anchor, h1, h2 float64, ti int) bool {
			rate := decayRates[types[ti]]
			if h1 > h2 {
				h1, h2 = h2, h1
			}
			a, b := Decayed(anchor, h1, rate), Decayed(anchor, h2, rate)
			return a >= 0 && b >= 0 && b <= a && a <= anchor
		},
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 500),
		gen.Float64Range(0, 500),
		gen.IntRange(0, len(types)-1),
	))
	properties.Property("reinforcement never exceeds 1", prop.ForAll(
		func(n int) bool {
			f := setupQuiet()
			defer f.db.Close()
			m, _, err := f.svc.Remember(context.Background(), RememberInput{UserID: "u", Content: "x1", Type: Ephemeral})
			if err != nil {
				return false
			}
			for i := 0; i < n; i++ {
				f.advance(30 * time.Minute)
				if m, err = f.svc.Reinforce(m.ID); err != nil || m.Strength > 1.0 || m.Strength < 0 {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 12),
	))
	properties.TestingRun(t)
}

func setupQuiet() *fixture {
	db, err := store.OpenMemory()
	if err != nil {
		panic(err)
	}
	f := &fixture{db: db, now: time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)}
	f.svc = New(db, nil, DefaultConfig()).WithClock(func() time.Time { return f.now })
	return f
}

func TestKeywordsAndEntities(t *testing.T) {
	kw := Keywords("The quick brown fox jumps over the lazy dog while the cat sleeps in the warm sun near a river bank")
	assert.Len(t, kw, 10)
	assert.Equal(t, "quick", kw[0])
	assert.NotContains(t, kw, "the")

	assert.Equal(t, []string{"Sarah", "Berlin"}, Entities("met Sarah's team in Berlin. The agenda is long."))
	assert.Empty(t, Entities("all lowercase words here"))
}

func TestTFIDFEmbedderSimilarity(t *testing.T) {
	emb := NewTFIDFEmbedder([]string{
		"water the tomato plants",
		"tomato soup recipe",
		"book train tickets",
	}, 0)
	ctx := context.Background()
	a, _ := emb.Embed(ctx, "tomato plants need water")
	b, _ := emb.Embed(ctx, "water tomato plants")
	c, _ := emb.Embed(ctx, "train tickets")

	assert.Greater(t, CosineSimilarity(a, b), CosineSimilarity(a, c))
	assert.Equal(t, emb.Dimensions(), len(a))
	assert.True(t, strings.HasPrefix(emb.Model(), "tfidf:"))

	empty := NewTFIDFEmbedder(nil, 0)
	v, err := empty.Embed(ctx, "anything")
	require.NoError(t, err)
	assert.Len(t, v, 1)
}
