package service

import (
	"clash-tracker/internal/domain"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddPlayerRequiresAuthorization(t *testing.T) {
	provider := newFakeProvider()
	provider.set("#2PPYL", "Alice", 5000)
	svc, repo, _ := newTestService(t, provider, testConfig())

	_, _, err := svc.AddPlayer(context.Background(), "short-key", "#2PPYL")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, 0, provider.totalCalls())

	state, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, state.Players)
	assert.Equal(t, int64(0), state.Version)
}

func TestAddPlayer(t *testing.T) {
	provider := newFakeProvider()
	provider.set("#2PPYL", "Alice", 5000)
	svc, repo, _ := newTestService(t, provider, testConfig())
	ctx := context.Background()

	player, obs, err := svc.AddPlayer(ctx, testKey, " 2ppyl ")
	require.NoError(t, err)
	assert.Equal(t, domain.Player{Tag: "#2PPYL", Name: "Alice"}, player)
	assert.Equal(t, 5000, obs.Trophies)
	assert.Equal(t, testTime, obs.Timestamp)

	state, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Contains(t, state.Players, "#2PPYL")
	require.Len(t, state.History, 1)
	assert.Equal(t, "#2PPYL", state.History[0].Tag)
}

func TestAddPlayerUsesProviderTag(t *testing.T) {
	provider := newFakeProvider()
	provider.mu.Lock()
	provider.stats["#8L9L9GL"] = domain.Stats{Tag: "#2ppyl", Name: "Alice", Trophies: 5000, Level: 13}
	provider.mu.Unlock()
	svc, repo, _ := newTestService(t, provider, testConfig())
	ctx := context.Background()

	player, obs, err := svc.AddPlayer(ctx, testKey, "#8L9L9GL")
	require.NoError(t, err)
	assert.Equal(t, "#2PPYL", player.Tag)
	assert.Equal(t, "#2PPYL", obs.Tag)

	state, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Contains(t, state.Players, "#2PPYL")
	assert.NotContains(t, state.Players, "#8L9L9GL")
}

func TestAddPlayerDuplicate(t *testing.T) {
	provider := newFakeProvider()
	provider.set("#2PPYL", "Alice", 5000)
	svc, repo, _ := newTestService(t, provider, testConfig())
	ctx := context.Background()

	_, _, err := svc.AddPlayer(ctx, testKey, "#2PPYL")
	require.NoError(t, err)

	_, _, err = svc.AddPlayer(ctx, testKey, "2ppyl")
	assert.ErrorIs(t, err, domain.ErrDuplicatePlayer)
	assert.Equal(t, 1, provider.callCount("#2PPYL"))

	state, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, state.History, 1)
}

func TestAddPlayerFetchFailure(t *testing.T) {
	provider := newFakeProvider()
	svc, repo, _ := newTestService(t, provider, testConfig())
	ctx := context.Background()

	_, _, err := svc.AddPlayer(ctx, testKey, "#CCCC")
	assert.ErrorIs(t, err, domain.ErrFetchFailed)

	state, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, state.Players)
	assert.Empty(t, state.History)
}

func TestAddPlayerInvalidTag(t *testing.T) {
	provider := newFakeProvider()
	svc, _, _ := newTestService(t, provider, testConfig())

	_, _, err := svc.AddPlayer(context.Background(), testKey, "not a tag")
	assert.ErrorIs(t, err, domain.ErrInvalidTag)
	assert.Equal(t, 0, provider.totalCalls())
}

func TestRemovePlayerCascades(t *testing.T) {
	provider := newFakeProvider()
	provider.set("#2PPYL", "Alice", 5000)
	provider.set("#8L9L9GL", "Bob", 4000)
	svc, repo, clock := newTestService(t, provider, testConfig())
	ctx := context.Background()

	_, _, err := svc.AddPlayer(ctx, testKey, "#2PPYL")
	require.NoError(t, err)
	_, _, err = svc.AddPlayer(ctx, testKey, "#8L9L9GL")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = svc.RefreshAll(ctx, testKey)
	require.NoError(t, err)

	removed, err := svc.RemovePlayer(ctx, testKey, "#2PPYL")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = svc.TrophyHistory(ctx, "#2PPYL")
	assert.ErrorIs(t, err, domain.ErrPlayerNotFound)

	state, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.NotContains(t, state.Players, "#2PPYL")
	for _, obs := range state.History {
		assert.NotEqual(t, "#2PPYL", obs.Tag)
	}
	assert.Len(t, state.History, 2)
}

func TestRemovePlayerIsIdempotent(t *testing.T) {
	provider := newFakeProvider()
	svc, repo, _ := newTestService(t, provider, testConfig())
	ctx := context.Background()

	removed, err := svc.RemovePlayer(ctx, testKey, "#2PPYL")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	state, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), state.Version)
}

func TestRemovePlayerRequiresAuthorization(t *testing.T) {
	svc, _, _ := newTestService(t, newFakeProvider(), testConfig())

	_, err := svc.RemovePlayer(context.Background(), "", "#2PPYL")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestRefreshAll(t *testing.T) {
	provider := newFakeProvider()
	for _, tag := range []string{"#22", "#88", "#99"} {
		provider.set(tag, "player "+tag, 5000)
	}
	svc, repo, clock := newTestService(t, provider, testConfig())
	ctx := context.Background()

	for _, tag := range []string{"#22", "#88", "#99"} {
		_, _, err := svc.AddPlayer(ctx, testKey, tag)
		require.NoError(t, err)
	}

	provider.failWith("#88", assert.AnError)
	clock.Advance(5 * time.Minute)

	result, err := svc.RefreshAll(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)

	state, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, state.History, 5)
	assert.True(t, testTime.Add(5*time.Minute).Equal(state.LastAutoRefresh))
}

func TestRefreshAllRequiresAuthorization(t *testing.T) {
	provider := newFakeProvider()
	svc, _, _ := newTestService(t, provider, testConfig())

	_, err := svc.RefreshAll(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, 0, provider.totalCalls())
}

func TestAutoRefreshIfDue(t *testing.T) {
	provider := newFakeProvider()
	provider.set("#2PPYL", "Alice", 5000)
	cfg := testConfig()
	cfg.ClashRoyaleAPIKey = testKey
	svc, _, clock := newTestService(t, provider, cfg)
	ctx := context.Background()

	_, _, err := svc.AddPlayer(ctx, testKey, "#2PPYL")
	require.NoError(t, err)

	result, ran, err := svc.AutoRefreshIfDue(ctx)
	require.NoError(t, err)
	assert.True(t, ran, "never refreshed")
	assert.Equal(t, 1, result.Succeeded)

	clock.Advance(29 * time.Minute)
	_, ran, err = svc.AutoRefreshIfDue(ctx)
	require.NoError(t, err)
	assert.False(t, ran, "29 minutes later")

	clock.Advance(2 * time.Minute)
	_, ran, err = svc.AutoRefreshIfDue(ctx)
	require.NoError(t, err)
	assert.True(t, ran, "31 minutes later")

	assert.Equal(t, 3, provider.callCount("#2PPYL"))
}

func TestAutoRefreshWithoutKeySkips(t *testing.T) {
	provider := newFakeProvider()
	svc, repo, _ := newTestService(t, provider, testConfig())

	_, ran, err := svc.AutoRefreshIfDue(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)

	state, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, state.LastAutoRefresh.IsZero())
}

func TestAutoRefreshUsesStoredKey(t *testing.T) {
	provider := newFakeProvider()
	provider.set("#2PPYL", "Alice", 5000)
	svc, _, clock := newTestService(t, provider, testConfig())
	ctx := context.Background()

	require.NoError(t, svc.SetAPIKey(ctx, testKey))
	_, _, err := svc.AddPlayer(ctx, testKey, "#2PPYL")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	result, ran, err := svc.AutoRefreshIfDue(ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, result.Succeeded)
}

func TestSetAPIKeyTrimsWhitespace(t *testing.T) {
	provider := newFakeProvider()
	provider.set("#2PPYL", "Alice", 5000)
	svc, repo, clock := newTestService(t, provider, testConfig())
	ctx := context.Background()

	require.NoError(t, svc.SetAPIKey(ctx, "  "+testKey+"\n"))

	state, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, testKey, state.APIKey)

	_, _, err = svc.AddPlayer(ctx, testKey, "#2PPYL")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, ran, err := svc.AutoRefreshIfDue(ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, testKey, provider.lastAPIKey())
}

func TestSetAPIKeyRejectsMalformedKey(t *testing.T) {
	svc, repo, _ := newTestService(t, newFakeProvider(), testConfig())

	err := svc.SetAPIKey(context.Background(), strings.Repeat("k", 20))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	state, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, state.APIKey)
}

func TestClearData(t *testing.T) {
	provider := newFakeProvider()
	provider.set("#2PPYL", "Alice", 5000)
	svc, repo, _ := newTestService(t, provider, testConfig())
	ctx := context.Background()

	_, _, err := svc.AddPlayer(ctx, testKey, "#2PPYL")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.ClearData(ctx, ""), domain.ErrUnauthorized)
	require.NoError(t, svc.ClearData(ctx, testKey))

	state, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, state.Players)
	assert.Empty(t, state.History)
	assert.Equal(t, int64(2), state.Version)
}

func TestDashboardAndHistoryViews(t *testing.T) {
	provider := newFakeProvider()
	provider.set("#2PPYL", "Alice", 5000)
	provider.set("#8L9L9GL", "Bob", 4000)
	svc, _, clock := newTestService(t, provider, testConfig())
	ctx := context.Background()

	_, _, err := svc.AddPlayer(ctx, testKey, "#2PPYL")
	require.NoError(t, err)
	_, _, err = svc.AddPlayer(ctx, testKey, "#8L9L9GL")
	require.NoError(t, err)

	clock.Advance(time.Hour)
	provider.set("#2PPYL", "Alice", 5100)
	_, err = svc.RefreshAll(ctx, testKey)
	require.NoError(t, err)

	d, err := svc.Dashboard(ctx)
	require.NoError(t, err)
	require.Len(t, d.Players, 2)
	assert.Equal(t, "#2PPYL", d.Players[0].Player.Tag)
	require.NotNil(t, d.Players[0].Latest)
	assert.Equal(t, 5100, d.Players[0].Latest.Trophies)
	assert.Equal(t, 4, d.Observations)
	assert.Equal(t, d.LastAutoRefresh.Add(30*time.Minute), d.NextAutoRefresh)

	series, err := svc.TrophyHistory(ctx, "")
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, "Alice", series[0].Name)
	require.Len(t, series[0].Points, 2)
	assert.Equal(t, 5000, series[0].Points[0].Trophies)
	assert.Equal(t, 5100, series[0].Points[1].Trophies)

	rows, err := svc.RawHistory(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	for i := 1; i < len(rows); i++ {
		assert.False(t, rows[i].Timestamp.Before(rows[i-1].Timestamp))
	}
}

func TestMutationHonorsDeadlineDuringRefresh(t *testing.T) {
	provider := newFakeProvider()
	provider.set("#2PPYL", "Alice", 5000)
	cfg := testConfig()
	cfg.FetchTimeout = 5 * time.Second
	svc, repo, _ := newTestService(t, provider, cfg)
	ctx := context.Background()

	_, _, err := svc.AddPlayer(ctx, testKey, "#2PPYL")
	require.NoError(t, err)

	provider.setBlock(true)
	refreshCtx, stopRefresh := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = svc.RefreshAll(refreshCtx, testKey)
	}()
	require.Eventually(t, func() bool {
		return provider.callCount("#2PPYL") == 2
	}, time.Second, time.Millisecond)

	removeCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = svc.RemovePlayer(removeCtx, testKey, "#2PPYL")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	stopRefresh()
	<-done

	state, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Contains(t, state.Players, "#2PPYL")
}

func TestTrophyHistoryUnknownPlayer(t *testing.T) {
	svc, _, _ := newTestService(t, newFakeProvider(), testConfig())

	_, err := svc.TrophyHistory(context.Background(), "#2PPYL")
	assert.ErrorIs(t, err, domain.ErrPlayerNotFound)
}
