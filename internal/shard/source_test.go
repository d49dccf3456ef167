package shard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/legacyplayers/lcec/internal/models"
)

type chanSource struct {
	ch chan models.Message
}

func (s chanSource) Messages() <-chan models.Message { return s.ch }

func TestRun_ProcessesEachMessageThenStopsOnClose(t *testing.T) {
	sink := &recordingSink{}
	s := newTestServer(sink, newFakePersister())

	src := chanSource{ch: make(chan models.Message, 3)}
	src.ch <- msg(900, models.Position{Unit: p1, MapID: 409, InstanceID: 7, MapDifficulty: 9})
	src.ch <- msg(1000, models.Loot{Unit: p1, ItemID: 1})
	src.ch <- msg(1100, models.CombatState{Unit: p2, InCombat: true})
	close(src.ch)

	done := make(chan struct{})
	go func() {
		Run(context.Background(), s, src)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after source channel closed")
	}

	require.Len(t, sink.events, 2)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	sink := &recordingSink{}
	s := newTestServer(sink, newFakePersister())

	src := chanSource{ch: make(chan models.Message)}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		Run(ctx, s, src)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancel")
	}
}
