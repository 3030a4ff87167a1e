package prefs

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/aide/internal/store"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestGetReturnsDefaults(t *testing.T) {
	s := testStore(t)

	p, err := s.Get("u1")
	require.NoError(t, err)
	assert.Equal(t, Defaults("u1"), p)
	assert.Equal(t, 10, p.Interruption.MaxPerHour)
}

func TestPartialDocumentMergesDefaults(t *testing.T) {
	db, err := store.OpenMemory()
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.PutPreferences("u1", `{"risk_tolerance":"cautious","interruption":{"max_per_hour":4}}`, time.Now()))

	p, err := New(db).Get("u1")
	require.NoError(t, err)
	assert.Equal(t, RiskCautious, p.RiskTolerance)
	assert.Equal(t, 4, p.Interruption.MaxPerHour)
	assert.Equal(t, 30, p.Interruption.CooldownSeconds, "unset nested field keeps default")
	assert.True(t, p.Autonomy.LearnPatterns)
	assert.NotNil(t, p.CategoryTolerances)
}

func TestPutValidates(t *testing.T) {
	s := testStore(t)

	p := Defaults("u1")
	p.RiskTolerance = "reckless"
	assert.Error(t, s.Put(p))

	p = Defaults("u1")
	p.CategoryTolerances["media"] = "sometimes"
	assert.Error(t, s.Put(p))

	p = Defaults("u1")
	p.Interruption.QuietHours = QuietHours{Enabled: true, Start: "25:00", End: "07:00"}
	assert.Error(t, s.Put(p))
}

func TestPatchPersists(t *testing.T) {
	s := testStore(t)

	got, err := s.Patch("u1", []byte(`{"category_tolerances":{"messaging":"confirm"},"autonomy":{"denied_actions":["makePurchase"]}}`))
	require.NoError(t, err)
	assert.Equal(t, "confirm", got.CategoryTolerances["messaging"])
	assert.True(t, got.Denies("makePurchase"))
	assert.False(t, got.Denies("playMusic"))

	again, err := s.Get("u1")
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestGetReturnsCopy(t *testing.T) {
	s := testStore(t)
	p, _ := s.Get("u1")
	p.CategoryTolerances["x"] = "auto"

	fresh, _ := s.Get("u1")
	assert.NotContains(t, fresh.CategoryTolerances, "x")
}

func TestQuietHours(t *testing.T) {
	day := func(h, m int) time.Time { return time.Date(2026, 1, 1, h, m, 0, 0, time.UTC) }

	wrap := QuietHours{Enabled: true, Start: "22:00", End: "07:00"}
	assert.True(t, wrap.Contains(day(23, 30)))
	assert.True(t, wrap.Contains(day(3, 0)))
	assert.False(t, wrap.Contains(day(7, 0)))
	assert.False(t, wrap.Contains(day(12, 0)))

	span := QuietHours{Enabled: true, Start: "13:00", End: "14:00"}
	assert.True(t, span.Contains(day(13, 15)))
	assert.False(t, span.Contains(day(14, 0)))

	assert.False(t, QuietHours{Start: "00:00", End: "23:59"}.Contains(day(12, 0)), "disabled window")
}

type failingBackend struct{}

func (failingBackend) GetPreferences(string) (string, error) { return "", errors.New("disk gone") }
func (failingBackend) PutPreferences(string, string, time.Time) error {
	return errors.New("disk gone")
}

func TestBackendFailureFallsBackToDefaults(t *testing.T) {
	s := New(failingBackend{})
	p, err := s.Get("u1")
	assert.Error(t, err)
	assert.Equal(t, Defaults("u1"), p)
}
