// Package storetest holds the behaviour every store.Store must share.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/civ-draft-backend/internal/engine"
	"github.com/DoyleJ11/civ-draft-backend/internal/store"
)

// Run exercises a fresh store from newStore in each subtest.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("SessionRoundTrip", func(t *testing.T) { testSessionRoundTrip(t, newStore(t)) })
	t.Run("SessionNotFound", func(t *testing.T) { testSessionNotFound(t, newStore(t)) })
	t.Run("PatchOnlyTouchesSetFields", func(t *testing.T) { testPatch(t, newStore(t)) })
	t.Run("AppendAndListInOrder", func(t *testing.T) { testAppendList(t, newStore(t)) })
	t.Run("DuplicateSlotRejected", func(t *testing.T) { testDuplicateSlot(t, newStore(t)) })
	t.Run("ConcurrentAppendsOneWinner", func(t *testing.T) { testConcurrentAppends(t, newStore(t)) })
}

func newSession() engine.Session {
	return engine.Session{
		ID:                   uuid.NewString(),
		TeamMode:             engine.Mode3v3,
		EnableSouvenirBan:    true,
		TimerSeconds:         60,
		Team1Name:            "Blue",
		AutoBanCivilizations: []string{"rome"},
		AutoBanLeaders:       []string{"napoleon", "xerxes"},
		CreatedAt:            time.Now().UTC().Truncate(time.Millisecond),
	}
}

func newAction(sessionID string, slot int) engine.Action {
	return engine.Action{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Team:      engine.Team1,
		Move:      engine.Ban{Cat: engine.CategoryCiv, Item: fmt.Sprintf("civ-%d", slot)},
		Slot:      slot,
	}
}

func testSessionRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	in := newSession()

	created, err := s.CreateSession(ctx, in)
	require.NoError(t, err)

	got, err := s.GetSession(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, in.TeamMode, got.TeamMode)
	assert.Equal(t, in.EnableSouvenirBan, got.EnableSouvenirBan)
	assert.Equal(t, in.TimerSeconds, got.TimerSeconds)
	assert.Equal(t, in.Team1Name, got.Team1Name)
	assert.Empty(t, got.Team2Name)
	assert.Equal(t, in.AutoBanCivilizations, got.AutoBanCivilizations)
	assert.Equal(t, in.AutoBanLeaders, got.AutoBanLeaders)
	assert.Empty(t, got.AutoBanSouvenirs)
	assert.False(t, got.Team1Ready)
	assert.False(t, got.Team2Ready)
}

func testSessionNotFound(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.GetSession(ctx, uuid.NewString())
	assert.ErrorIs(t, err, engine.ErrNotFound)

	ready := true
	_, err = s.UpdateSession(ctx, uuid.NewString(), engine.Patch{Team1Ready: &ready})
	assert.ErrorIs(t, err, engine.ErrNotFound)

	_, err = s.ListActions(ctx, uuid.NewString())
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func testPatch(t *testing.T, s store.Store) {
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, newSession())
	require.NoError(t, err)

	name := "Red"
	got, err := s.UpdateSession(ctx, sess.ID, engine.Patch{Team2Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Red", got.Team2Name)
	assert.False(t, got.Team1Ready)

	ready := true
	got, err = s.UpdateSession(ctx, sess.ID, engine.Patch{Team2Ready: &ready})
	require.NoError(t, err)
	assert.True(t, got.Team2Ready)
	assert.False(t, got.Team1Ready)
	assert.Equal(t, "Red", got.Team2Name)

	reread, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Team2Ready, reread.Team2Ready)
	assert.Equal(t, got.Team2Name, reread.Team2Name)
}

func testAppendList(t *testing.T, s store.Store) {
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, newSession())
	require.NoError(t, err)

	base := time.Now().UTC().Truncate(time.Millisecond)
	var want []string
	for i := 0; i < 5; i++ {
		a := newAction(sess.ID, i)
		a.CreatedAt = base.Add(time.Duration(i) * time.Millisecond)
		if i == 3 {
			a.Move = engine.Pick{Cat: engine.CategoryLeader, Item: "ashoka"}
			a.Team = engine.Team2
		}
		got, err := s.AppendAction(ctx, a)
		require.NoError(t, err)
		assert.NotZero(t, got.Seq)
		want = append(want, a.ID)
	}

	list, err := s.ListActions(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, list, 5)
	for i, a := range list {
		assert.Equal(t, want[i], a.ID)
		assert.Equal(t, i, a.Slot)
		assert.Equal(t, sess.ID, a.SessionID)
	}
	assert.Equal(t, engine.Pick{Cat: engine.CategoryLeader, Item: "ashoka"}, list[3].Move)
	assert.Equal(t, engine.Team2, list[3].Team)
	assert.Equal(t, engine.Ban{Cat: engine.CategoryCiv, Item: "civ-0"}, list[0].Move)
}

func testDuplicateSlot(t *testing.T, s store.Store) {
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, newSession())
	require.NoError(t, err)

	_, err = s.AppendAction(ctx, newAction(sess.ID, 0))
	require.NoError(t, err)

	_, err = s.AppendAction(ctx, newAction(sess.ID, 0))
	assert.ErrorIs(t, err, engine.ErrDuplicateTurn)

	list, err := s.ListActions(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func testConcurrentAppends(t *testing.T, s store.Store) {
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, newSession())
	require.NoError(t, err)

	const racers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		won  int
		lost int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AppendAction(ctx, newAction(sess.ID, 0))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case assert.ErrorIs(t, err, engine.ErrDuplicateTurn):
				lost++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, won)
	assert.Equal(t, racers-1, lost)
}
