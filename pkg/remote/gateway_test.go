package remote

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/retroplay/retroplay/pkg/config"
)

type caller string

func (c caller) Principal() (string, bool) { return string(c), c != "" }

func TestGateway(t *testing.T) {
	ctx := context.Background()
	g := NewBucketGateway(NewMemoryStore(), caller("alice"), nil)

	t0 := time.UnixMilli(1_700_000_000_000)
	saves := []struct {
		game, id, title string
		at              time.Time
		data            []byte
	}{
		{"zelda", "s2", "Before the boss", t0.Add(time.Minute), []byte{2}},
		{"zelda", "s1", "Quick Save 1", t0, []byte{1}},
		{"metroid", "s3", "Ridley / 100%", t0.Add(time.Hour), []byte{3}},
	}
	for _, s := range saves {
		meta := EntryMetadata{Title: s.title, Description: "desc", Timestamp: s.at}
		if err := g.AddEntry(ctx, s.game, s.id, meta, s.data); err != nil {
			t.Fatal(err)
		}
	}

	list, err := g.GetAllSavesForGame(ctx, "zelda")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "s1" || list[1].ID != "s2" {
		t.Fatalf("list = %+v", list)
	}
	if list[0].Title != "Quick Save 1" || list[0].GameID != "zelda" || !list[0].Timestamp.Equal(t0) {
		t.Errorf("entry = %+v", list[0])
	}

	save, err := g.GetSaveForGame(ctx, "metroid", "s3")
	if err != nil {
		t.Fatal(err)
	}
	if save.Metadata.Title != "Ridley / 100%" || !bytes.Equal(save.Data, []byte{3}) {
		t.Errorf("save = %+v", save)
	}

	latest, err := g.GetLatestSaveForGame(ctx, "zelda")
	if err != nil {
		t.Fatal(err)
	}
	if latest.Metadata.ID != "s2" {
		t.Errorf("latest = %v", latest.Metadata.ID)
	}

	all, err := g.GetAllEntriesByTimestamp(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != "s3" || all[2].ID != "s1" {
		t.Errorf("all = %+v", all)
	}

	if err := g.DeleteSaveForGame(ctx, "zelda", "s1"); err != nil {
		t.Fatal(err)
	}
	if _, err := g.GetSaveForGame(ctx, "zelda", "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get deleted = %v", err)
	}
	if _, err := g.GetLatestSaveForGame(ctx, "none"); !errors.Is(err, ErrNotFound) {
		t.Errorf("latest for unknown game = %v", err)
	}
}

func TestGatewayScopedByCaller(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	alice := NewBucketGateway(store, caller("alice"), nil)
	bob := NewBucketGateway(store, caller("bob"), nil)

	if err := alice.AddEntry(ctx, "zelda", "s1", EntryMetadata{Title: "mine"}, []byte{1}); err != nil {
		t.Fatal(err)
	}
	if list, _ := bob.GetAllSavesForGame(ctx, "zelda"); len(list) != 0 {
		t.Errorf("bob sees alice's saves: %+v", list)
	}
	if _, err := bob.GetSaveForGame(ctx, "zelda", "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("bob gets alice's save: %v", err)
	}
}

func TestGatewayFailures(t *testing.T) {
	ctx := context.Background()

	anonymous := NewBucketGateway(NewMemoryStore(), caller(""), nil)
	if err := anonymous.AddEntry(ctx, "g", "s", EntryMetadata{}, []byte{1}); !errors.Is(err, ErrRemoteCallFailed) {
		t.Errorf("unauthenticated add = %v", err)
	}
	if _, err := anonymous.GetAllEntriesByTimestamp(ctx); !errors.Is(err, ErrRemoteCallFailed) {
		t.Errorf("unauthenticated list = %v", err)
	}

	store := NewMemoryStore()
	g := NewBucketGateway(store, caller("alice"), nil)
	_ = g.AddEntry(ctx, "g", "s", EntryMetadata{}, []byte{1})
	store.SetFailure(errors.New("connection reset"))
	if _, err := g.GetSaveForGame(ctx, "g", "s"); !errors.Is(err, ErrRemoteCallFailed) {
		t.Errorf("get = %v", err)
	}
	if err := g.DeleteSaveForGame(ctx, "g", "s"); !errors.Is(err, ErrRemoteCallFailed) {
		t.Errorf("delete = %v", err)
	}

	noop := NewBucketGateway(NoopStore{}, caller("alice"), nil)
	if _, err := noop.GetAllSavesForGame(ctx, "g"); !errors.Is(err, ErrRemoteCallFailed) {
		t.Errorf("noop list = %v", err)
	}
}

func TestNewObjectStore(t *testing.T) {
	tests := []struct {
		provider string
		err      bool
	}{
		{provider: "", err: false},
		{provider: "none", err: false},
		{provider: "memory", err: false},
		{provider: "ftp", err: true},
	}
	for _, test := range tests {
		st, err := NewObjectStore(config.Remote{Provider: test.provider}, nil)
		if (err != nil) != test.err {
			t.Errorf("provider %q: error = %v", test.provider, err)
		}
		if err == nil && st == nil {
			t.Errorf("provider %q: no store", test.provider)
		}
	}
}
