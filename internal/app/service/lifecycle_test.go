package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jose-valero/pickup-bot/internal/domain"
)

type harness struct {
	store   *fakeStore
	ann     *fakeAnnouncer
	afk     *stageFunc
	picking *stageFunc
	metrics *Metrics
	orch    *Orchestrator
	queue   *QueueService
	gc      GuildContext
}

func testGuildContext() GuildContext {
	return GuildContext{
		Settings: domain.GuildSettings{
			GuildID:         testGuild,
			PickupChannelID: "chan",
			StartMessage:    "🚀 %pickup: %players",
			NotifyMessage:   "arrancó %pickup",
			AfkCheckAfter:   0,
			AfkCheckTimeout: time.Second,
			PickingTimeout:  time.Second,
		},
		Log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func newHarness(t *testing.T, cfgs ...domain.PickupConfig) *harness {
	t.Helper()
	h := &harness{
		store:   newFakeStore(cfgs...),
		ann:     newFakeAnnouncer(),
		afk:     &stageFunc{},
		picking: &stageFunc{},
		metrics: NewMetrics(nil),
		gc:      testGuildContext(),
	}
	h.orch = NewOrchestrator(OrchestratorDeps{
		State:    h.store,
		Players:  h.store,
		Recorder: h.store,
		Announce: h.ann,
		AfkCheck: h.afk,
		Picking:  h.picking,
		Metrics:  h.metrics,
		Log:      h.gc.Log,
	})
	h.queue = NewQueueService(h.store, h.store, h.store, h.orch, h.ann)
	return h
}

func (h *harness) addAll(t *testing.T, pickup string, players ...string) {
	t.Helper()
	for _, p := range players {
		_, err := h.queue.Add(context.Background(), h.gc, Member{ID: p, Nick: "nick-" + p}, pickup)
		require.NoError(t, err)
	}
}

func (h *harness) outcome(o string) float64 {
	return testutil.ToFloat64(h.metrics.outcomes.WithLabelValues(o))
}

func containsAny(msgs []string, sub string) bool {
	for _, m := range msgs {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}

var four = []string{"p1", "p2", "p3", "p4"}

func TestNoTeamsPickupStartsWhenFull(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, domain.PickupConfig{ID: 1, Name: "2v2", PlayerCount: 4})

	h.addAll(t, "2v2", four...)
	h.orch.Wait()

	live, queued, teams := h.store.snapshot(1)
	assert.False(t, live)
	assert.Zero(t, queued)
	assert.Zero(t, teams)

	recs := h.store.records()
	require.Len(t, recs, 1)
	assert.Equal(t, four, recs[0].players)
	assert.Nil(t, recs[0].teams)

	starts, _, _ := h.ann.snapshot()
	require.Len(t, starts, 1)
	assert.Equal(t, "🚀 2v2: <@p1> <@p2> <@p3> <@p4>", starts[0])
	assert.Equal(t, 1.0, h.outcome(outcomeStartedWithoutTeams))
}

func TestNoTeamsStartFailureResets(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t,
		domain.PickupConfig{ID: 1, Name: "2v2", PlayerCount: 4},
		domain.PickupConfig{ID: 2, Name: "ffa", PlayerCount: 8},
	)
	h.store.failTake = 1
	h.store.queuePlayers(2, "p1")

	h.addAll(t, "2v2", four...)
	h.orch.Wait()

	live, queued, teams := h.store.snapshot(1)
	assert.False(t, live)
	assert.Zero(t, queued)
	assert.Zero(t, teams)
	assert.Empty(t, h.store.records())
	assert.Equal(t, 1, h.store.resets)

	// p1 sigue en ffa: su timer queda; el resto se limpia
	assert.True(t, h.store.hasTimer("p1"))
	assert.False(t, h.store.hasTimer("p2"))
	assert.Equal(t, []string{"p1"}, h.store.queued(2))

	_, notices, _ := h.ann.snapshot()
	assert.True(t, containsAny(notices, "se reseteó"))
	assert.Equal(t, 1.0, h.outcome(outcomeReset))
}

func TestManualPickingFailureStartsWithoutTeams(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, domain.PickupConfig{ID: 1, Name: "2v2", PlayerCount: 4, PickMode: domain.PickModeManual})
	h.picking.fn = func(ctx context.Context, gc GuildContext, id int64, _ bool) error {
		// picking a medias
		assert.NoError(t, h.store.AssignTeams(ctx, gc.GuildID(), id, []domain.TeamAssignment{
			{PlayerID: "p1", Team: "A", IsCaptain: true, CaptainTurn: true},
			{PlayerID: "p2", Team: "B", IsCaptain: true},
		}))
		return domain.ErrStageTimeout
	}

	h.addAll(t, "2v2", four...)
	h.orch.Wait()

	assert.Equal(t, []bool{true}, h.picking.initialFlags())
	live, _, teams := h.store.snapshot(1)
	assert.False(t, live)
	assert.Zero(t, teams)

	recs := h.store.records()
	require.Len(t, recs, 1)
	assert.Nil(t, recs[0].teams)
	assert.Zero(t, h.store.resets)

	_, notices, _ := h.ann.snapshot()
	assert.True(t, containsAny(notices, "Arrancamos sin equipos"))
	assert.Equal(t, 1.0, h.outcome(outcomeStartedWithoutTeams))
}

func TestManualPickingFailureAndRetryFailureResets(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, domain.PickupConfig{ID: 1, Name: "2v2", PlayerCount: 4, PickMode: domain.PickModeManual})
	h.store.failTake = 1
	h.picking.fn = func(ctx context.Context, gc GuildContext, id int64, _ bool) error {
		assert.NoError(t, h.store.AssignTeams(ctx, gc.GuildID(), id, []domain.TeamAssignment{
			{PlayerID: "p1", Team: "A", IsCaptain: true, CaptainTurn: true},
		}))
		return errors.New("captains gone")
	}

	h.addAll(t, "2v2", four...)
	h.orch.Wait()

	live, queued, teams := h.store.snapshot(1)
	assert.False(t, live)
	assert.Zero(t, queued)
	assert.Zero(t, teams)
	assert.Empty(t, h.store.records())
	assert.Equal(t, 1, h.store.resets)
	assert.Equal(t, 1, h.store.takes)

	_, notices, _ := h.ann.snapshot()
	assert.True(t, containsAny(notices, "Arrancamos sin equipos"))
	assert.True(t, containsAny(notices, "se reseteó"))
}

func TestManualPickingSuccessStartsWithTeams(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, domain.PickupConfig{ID: 1, Name: "2v2", PlayerCount: 4, PickMode: domain.PickModeManual})
	h.gc.Settings.StartMessage = "%pickup\n%teams"
	h.picking.fn = func(ctx context.Context, gc GuildContext, id int64, _ bool) error {
		return h.store.AssignTeams(ctx, gc.GuildID(), id, []domain.TeamAssignment{
			{PlayerID: "p1", Team: "A", IsCaptain: true},
			{PlayerID: "p3", Team: "A"},
			{PlayerID: "p2", Team: "B", IsCaptain: true},
			{PlayerID: "p4", Team: "B"},
		})
	}

	h.addAll(t, "2v2", four...)
	h.orch.Wait()

	recs := h.store.records()
	require.Len(t, recs, 1)
	require.Len(t, recs[0].teams, 2)
	assert.Equal(t, []string{"p1", "p3"}, recs[0].teams[0].Players)
	assert.Equal(t, domain.Some("p2"), recs[0].teams[1].Captain)

	starts, _, _ := h.ann.snapshot()
	require.Len(t, starts, 1)
	assert.Equal(t, "2v2\n**A**: <@p1> (C), <@p3>\n**B**: <@p2> (C), <@p4>", starts[0])
	assert.Equal(t, 1.0, h.outcome(outcomeStarted))
}

func TestAfkCheckFailureClearsFlagsAndStarts(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, domain.PickupConfig{ID: 1, Name: "2v2", PlayerCount: 4, AfkCheck: true})
	h.afk.fn = func(ctx context.Context, gc GuildContext, id int64, _ bool) error {
		stage, _ := h.store.stageOf(id)
		assert.Equal(t, domain.StageAfkCheck, stage)
		assert.NoError(t, h.store.SetAfk(ctx, gc.GuildID(), []string{"p2", "p4"}, true))
		return domain.ErrStageTimeout
	}

	h.addAll(t, "2v2", four...)
	h.orch.Wait()

	assert.Equal(t, []bool{true}, h.afk.initialFlags())
	for _, p := range []string{"p2", "p4"} {
		_, present := h.store.isAfk(p)
		assert.False(t, present, p)
	}
	require.Len(t, h.store.records(), 1)
	_, notices, _ := h.ann.snapshot()
	assert.True(t, containsAny(notices, "afk check"))
	assert.Zero(t, h.store.resets)
}

func TestAfkCheckAbortedDoesNotDispatch(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, domain.PickupConfig{ID: 1, Name: "2v2", PlayerCount: 4, AfkCheck: true})
	h.afk.fn = func(ctx context.Context, gc GuildContext, id int64, _ bool) error {
		_, err := h.queue.Remove(ctx, gc, "p3")
		assert.NoError(t, err)
		return domain.ErrStageAborted
	}

	h.addAll(t, "2v2", four...)
	h.orch.Wait()

	stage, live := h.store.stageOf(1)
	assert.True(t, live)
	assert.Equal(t, domain.StageFill, stage)
	assert.Equal(t, []string{"p1", "p2", "p4"}, h.store.queued(1))
	assert.Empty(t, h.store.records())
	assert.Zero(t, h.store.takes)
	assert.Zero(t, h.store.resets)
}

func TestRecordFailureIsNoticeOnly(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, domain.PickupConfig{ID: 1, Name: "2v2", PlayerCount: 4})
	h.store.failRecord = true

	h.addAll(t, "2v2", four...)
	h.orch.Wait()

	live, queued, _ := h.store.snapshot(1)
	assert.False(t, live)
	assert.Zero(t, queued)
	assert.Zero(t, h.store.resets)

	starts, notices, _ := h.ann.snapshot()
	assert.Len(t, starts, 1)
	assert.True(t, containsAny(notices, "no se pudo guardar"))
	assert.Equal(t, 1.0, h.outcome(outcomeRecordFailed))
	assert.Zero(t, h.outcome(outcomeReset))
}

func TestStartRemovesPlayersFromEveryPickup(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t,
		domain.PickupConfig{ID: 1, Name: "2v2", PlayerCount: 4},
		domain.PickupConfig{ID: 2, Name: "ffa", PlayerCount: 8},
	)
	h.addAll(t, "ffa", "p1", "p9")
	h.addAll(t, "2v2", four...)
	h.orch.Wait()

	assert.Equal(t, []string{"p9"}, h.store.queued(2))
	ids, err := h.store.QueuedIn(context.Background(), testGuild, "p1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDirectNotificationFailureIsIsolated(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, domain.PickupConfig{ID: 1, Name: "2v2", PlayerCount: 4})
	ctx := context.Background()
	for _, p := range []string{"p1", "p2"} {
		_, err := h.queue.Notify(ctx, testGuild, Member{ID: p, Nick: p}, true)
		require.NoError(t, err)
	}
	h.ann.failUser = "p1"

	h.addAll(t, "2v2", four...)
	h.orch.Wait()

	_, _, directs := h.ann.snapshot()
	assert.Equal(t, map[string]string{"p2": "arrancó 2v2"}, directs)
	require.Len(t, h.store.records(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.deliveryFailures.WithLabelValues("direct")))
}

func TestEloUsesGeneratorAndFallsBack(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("generator teams", func(t *testing.T) {
		h := newHarness(t, domain.PickupConfig{ID: 1, Name: "elo", PlayerCount: 4, PickMode: domain.PickModeElo})
		h.orch.elo = teamGenFunc(func(_ context.Context, ap domain.ActivePickup) ([]domain.Team, error) {
			ids := ap.PlayerIDs()
			return []domain.Team{
				{Label: "A", Players: []string{ids[0], ids[3]}},
				{Label: "B", Players: []string{ids[1], ids[2]}},
			}, nil
		})
		h.addAll(t, "elo", four...)
		h.orch.Wait()

		recs := h.store.records()
		require.Len(t, recs, 1)
		assert.Len(t, recs[0].teams, 2)
	})

	t.Run("no generator", func(t *testing.T) {
		h := newHarness(t, domain.PickupConfig{ID: 1, Name: "elo", PlayerCount: 4, PickMode: domain.PickModeElo})
		h.addAll(t, "elo", four...)
		h.orch.Wait()

		recs := h.store.records()
		require.Len(t, recs, 1)
		assert.Nil(t, recs[0].teams)
		_, notices, _ := h.ann.snapshot()
		assert.True(t, containsAny(notices, "No se pudieron armar equipos"))
	})
}

func TestDuplicateTriggersStartOnce(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, domain.PickupConfig{ID: 1, Name: "2v2", PlayerCount: 4})
	h.store.queuePlayers(1, four...)

	// un segundo proceso contra el mismo store
	other := NewOrchestrator(OrchestratorDeps{
		State: h.store, Players: h.store, Recorder: h.store, Announce: h.ann,
		AfkCheck: h.afk, Picking: h.picking, Log: h.gc.Log,
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o := h.orch
			if i%2 == 1 {
				o = other
			}
			assert.NoError(t, o.Handle(context.Background(), h.gc, 1))
		}(i)
	}
	wg.Wait()

	assert.Len(t, h.store.records(), 1)
	starts, _, _ := h.ann.snapshot()
	assert.Len(t, starts, 1)
	assert.Zero(t, h.store.resets)
}

func TestResumeReentersPendingStages(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t,
		domain.PickupConfig{ID: 1, Name: "manual", PlayerCount: 4, PickMode: domain.PickModeManual},
		domain.PickupConfig{ID: 2, Name: "afk", PlayerCount: 2, AfkCheck: true},
		domain.PickupConfig{ID: 3, Name: "open", PlayerCount: 4},
		domain.PickupConfig{ID: 4, Name: "full", PlayerCount: 2},
	)
	h.store.queuePlayers(1, four...)
	h.store.forceStage(1, domain.StagePickingManual)
	h.store.queuePlayers(2, "a1", "a2")
	h.store.forceStage(2, domain.StageAfkCheck)
	h.store.queuePlayers(3, "o1")
	h.store.queuePlayers(4, "f1", "f2")

	h.picking.fn = func(ctx context.Context, gc GuildContext, id int64, _ bool) error {
		return h.store.AssignTeams(ctx, gc.GuildID(), id, []domain.TeamAssignment{
			{PlayerID: "p1", Team: "A", IsCaptain: true},
			{PlayerID: "p2", Team: "A"},
			{PlayerID: "p3", Team: "B", IsCaptain: true},
			{PlayerID: "p4", Team: "B"},
		})
	}

	require.NoError(t, h.orch.Resume(context.Background(), h.gc))
	h.orch.Wait()

	assert.Equal(t, []bool{false}, h.picking.initialFlags())
	assert.Equal(t, []bool{false}, h.afk.initialFlags())

	started := map[int64]bool{}
	for _, r := range h.store.records() {
		started[r.configID] = true
		if r.configID == 1 {
			assert.Len(t, r.teams, 2)
		}
	}
	assert.Equal(t, map[int64]bool{1: true, 2: true, 4: true}, started)

	stage, live := h.store.stageOf(3)
	assert.True(t, live)
	assert.Equal(t, domain.StageFill, stage)
}

func TestResumeSkipsIncompleteFill(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t,
		domain.PickupConfig{ID: 1, Name: "2v2", PlayerCount: 4},
		domain.PickupConfig{ID: 2, Name: "ffa", PlayerCount: 8},
	)
	h.store.queuePlayers(1, "p1", "p2")
	h.store.queuePlayers(2, "p1", "p3", "p4")

	require.NoError(t, h.orch.Resume(context.Background(), h.gc))
	h.orch.Wait()

	// ni siquiera se lee el pickup
	assert.Zero(t, h.store.readCount())
	assert.Empty(t, h.store.records())
	for _, id := range []int64{1, 2} {
		stage, live := h.store.stageOf(id)
		assert.True(t, live)
		assert.Equal(t, domain.StageFill, stage)
	}
}

func TestCancelledContextLeavesStateForResume(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, domain.PickupConfig{ID: 1, Name: "2v2", PlayerCount: 4, AfkCheck: true})
	ctx, cancel := context.WithCancel(context.Background())
	h.afk.fn = func(ctx context.Context, _ GuildContext, _ int64, _ bool) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}
	h.store.queuePlayers(1, four...)

	err := h.orch.Handle(ctx, h.gc, 1)
	assert.ErrorIs(t, err, context.Canceled)

	stage, live := h.store.stageOf(1)
	assert.True(t, live)
	assert.Equal(t, domain.StageAfkCheck, stage)
	assert.Zero(t, h.store.resets)
	assert.Empty(t, h.store.records())
}
