package rpc

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"repchain/core/events"
	"repchain/crypto"
	"repchain/services/archive"
)

func TestArchiveMethods(t *testing.T) {
	db, err := archive.Open(archive.Config{DSN: filepath.Join(t.TempDir(), "archive.db")})
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	store, err := archive.New(db)
	if err != nil {
		t.Fatalf("new archive: %v", err)
	}
	slashed := common.HexToAddress("0x00000000000000000000000000000000000000b1")
	for _, evt := range []events.Event{
		events.MinerSlashed{Cycle: 2, Miner: slashed, Amount: big.NewInt(40), Reason: "timeout"},
		events.CycleConfirmed{Cycle: 2, Root: common.HexToHash("0xaa"), NLeaves: 3},
		events.CycleConfirmed{Cycle: 3, Root: common.HexToHash("0xbb"), NLeaves: 4},
	} {
		if err := store.Record(evt); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	h := newHarness(t, Config{Archive: store})
	ctx := context.Background()
	client := NewClient(ClientConfig{URL: h.srv.URL})

	var slashes []ArchivedSlash
	if err := client.Call(ctx, MethodArchiveSlashes, ArchiveQuery{Miner: slashed.Hex()}, &slashes, false); err != nil {
		t.Fatalf("slashes: %v", err)
	}
	if len(slashes) != 1 || slashes[0].Miner != crypto.MinerAddress(slashed) || slashes[0].Amount != "40" {
		t.Fatalf("unexpected slashes %+v", slashes)
	}

	var confirmations []ArchivedConfirmation
	if err := client.Call(ctx, MethodArchiveConfirmations, ArchiveQuery{Limit: 1}, &confirmations, false); err != nil {
		t.Fatalf("confirmations: %v", err)
	}
	if len(confirmations) != 1 || confirmations[0].Cycle != 3 {
		t.Fatalf("unexpected confirmations %+v", confirmations)
	}

	var evts []ArchivedEvent
	if err := client.Call(ctx, MethodArchiveEvents, ArchiveQuery{Type: events.TypeCycleConfirmed}, &evts, false); err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) != 2 || evts[0].Attributes["nLeaves"] != "3" {
		t.Fatalf("unexpected events %+v", evts)
	}
}

func TestArchiveMethodsNeedArchive(t *testing.T) {
	h := newHarness(t, Config{})
	err := NewClient(ClientConfig{URL: h.srv.URL}).Call(context.Background(), MethodArchiveEvents, nil, nil, false)
	if err == nil {
		t.Fatalf("expected method not found")
	}
}
