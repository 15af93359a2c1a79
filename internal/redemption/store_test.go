package redemption

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "redemption.json"))
	require.NoError(t, err)
	return s
}

func TestStore_CreateOrReuseTokenReturnsSameTokenWhileValid(t *testing.T) {
	s := newTestStore(t)

	first, err := s.CreateOrReuseToken("ORD-001", "P1", "a@x.com")
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.NotEmpty(t, first.Token)

	second, err := s.CreateOrReuseToken("ORD-001", "P1", "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, first.Token, second.Token)
}

func TestStore_ValidateTokenLifecycle(t *testing.T) {
	s := newTestStore(t)

	issued, err := s.CreateOrReuseToken("ORD-001", "P1", "a@x.com")
	require.NoError(t, err)

	assert.Equal(t, StatusValid, s.ValidateToken(issued.Token))

	status, err := s.MarkRedeemed(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, StatusRedeemed, status)
	assert.Equal(t, StatusRedeemed, s.ValidateToken(issued.Token))

	status, err = s.MarkRedeemed(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, StatusRedeemed, status)
}

func TestStore_CreateOrReuseTokenRefusesAfterRedemptionViaNormalizedOrderID(t *testing.T) {
	s := newTestStore(t)

	issued, err := s.CreateOrReuseToken("ORD-001", "P1", "a@x.com")
	require.NoError(t, err)
	_, err = s.MarkRedeemed(issued.Token)
	require.NoError(t, err)

	result, err := s.CreateOrReuseToken("ord 001", "P1", "a@x.com")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.AlreadyRedeemed)
}

func TestStore_ValidateTokenNotFound(t *testing.T) {
	s := newTestStore(t)
	assert.Equal(t, StatusNotFound, s.ValidateToken("nope"))
}

func TestStore_ExpiredTokenIsRefreshedOnReissue(t *testing.T) {
	s := newTestStore(t)

	issued, err := s.CreateOrReuseToken("ORD-002", "P1", "a@x.com")
	require.NoError(t, err)

	s.mu.Lock()
	rec := s.recs[key{normalizeOrderID("ORD-002"), "P1"}]
	rec.CreatedAt = time.Now().Add(-73 * time.Hour)
	s.mu.Unlock()

	assert.Equal(t, StatusExpired, s.ValidateToken(issued.Token))

	reissued, err := s.CreateOrReuseToken("ORD-002", "P1", "a@x.com")
	require.NoError(t, err)
	assert.True(t, reissued.Success)
	assert.NotEqual(t, issued.Token, reissued.Token)
	assert.Equal(t, StatusValid, s.ValidateToken(reissued.Token))
}

func TestStore_SweepExpiredRemovesOnlyUnredeemed(t *testing.T) {
	s := newTestStore(t)

	expired, err := s.CreateOrReuseToken("ORD-003", "P1", "a@x.com")
	require.NoError(t, err)
	redeemed, err := s.CreateOrReuseToken("ORD-004", "P1", "a@x.com")
	require.NoError(t, err)
	_, err = s.MarkRedeemed(redeemed.Token)
	require.NoError(t, err)

	s.mu.Lock()
	s.recs[key{normalizeOrderID("ORD-003"), "P1"}].CreatedAt = time.Now().Add(-100 * time.Hour)
	s.recs[key{normalizeOrderID("ORD-004"), "P1"}].CreatedAt = time.Now().Add(-100 * time.Hour)
	s.mu.Unlock()

	removed, err := s.SweepExpired()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.Equal(t, StatusNotFound, s.ValidateToken(expired.Token))
	assert.Equal(t, StatusRedeemed, s.ValidateToken(redeemed.Token))
}

func TestStore_PersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "redemption.json")
	s1, err := New(path)
	require.NoError(t, err)
	issued, err := s1.CreateOrReuseToken("ORD-005", "P1", "a@x.com")
	require.NoError(t, err)

	s2, err := New(path)
	require.NoError(t, err)
	assert.Equal(t, StatusValid, s2.ValidateToken(issued.Token))
}
