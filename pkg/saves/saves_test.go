package saves

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/retroplay/retroplay/pkg/auth"
	"github.com/retroplay/retroplay/pkg/remote"
	"github.com/retroplay/retroplay/pkg/store"
)

type env struct {
	identity *auth.Identity
	objects  *remote.MemoryStore
	local    *store.SaveStore
	saves    *Coordinator
}

func newEnv(t *testing.T) env {
	t.Helper()
	identity := auth.NewIdentity(nil)
	objects := remote.NewMemoryStore()
	local := store.NewSaveStore(filepath.Join(t.TempDir(), "saves.db"), nil)
	t.Cleanup(func() { _ = local.Close() })
	gateway := remote.NewBucketGateway(objects, identity, nil)
	return env{identity: identity, objects: objects, local: local, saves: NewCoordinator(identity, local, gateway, nil)}
}

func TestQuickSaveScenario(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	entry, err := e.saves.CreateSave(ctx, "zelda", "Quick Save 1", []byte("state"))
	if err != nil {
		t.Fatal(err)
	}
	list, err := e.saves.ListSaves(ctx, "zelda")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Title != "Quick Save 1" || list[0].ID != entry.ID {
		t.Fatalf("list = %+v", list)
	}

	data, err := e.saves.LoadSave(ctx, "zelda", entry.ID)
	if err != nil || !bytes.Equal(data, []byte("state")) {
		t.Errorf("load = %q, %v", data, err)
	}

	if err := e.saves.DeleteSave(ctx, "zelda", entry.ID); err != nil {
		t.Fatal(err)
	}
	if list, _ := e.saves.ListSaves(ctx, "zelda"); len(list) != 0 {
		t.Errorf("list after delete = %+v", list)
	}
	if _, err := e.saves.LoadSave(ctx, "zelda", entry.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("load deleted = %v", err)
	}
}

func TestTwoSavesListed(t *testing.T) {
	for _, mode := range []Mode{Local, Remote} {
		t.Run(mode.String(), func(t *testing.T) {
			ctx := context.Background()
			e := newEnv(t)
			if mode == Remote {
				e.identity.SetPrincipal("alice")
			}

			var wg sync.WaitGroup
			ids := make(chan string, 2)
			for _, title := range []string{"t1", "t2"} {
				wg.Add(1)
				go func() {
					defer wg.Done()
					entry, err := e.saves.CreateSave(ctx, "g", title, []byte(title))
					if err != nil {
						t.Error(err)
						return
					}
					ids <- entry.ID
				}()
			}
			wg.Wait()
			close(ids)

			list, err := e.saves.ListSaves(ctx, "g")
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 2 {
				t.Fatalf("list = %+v", list)
			}
			seen := map[string]bool{}
			for _, s := range list {
				seen[s.ID] = true
				if s.Payload != nil {
					t.Errorf("listed entry has a payload")
				}
			}
			for id := range ids {
				if !seen[id] {
					t.Errorf("save %v is not listed", id)
				}
			}
		})
	}
}

func TestModeSwitch(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	if e.saves.Mode() != Local {
		t.Fatalf("mode = %v", e.saves.Mode())
	}
	local, err := e.saves.CreateSave(ctx, "zelda", "local", []byte{1})
	if err != nil {
		t.Fatal(err)
	}

	e.identity.SetPrincipal("alice")
	if e.saves.Mode() != Remote {
		t.Fatalf("mode = %v", e.saves.Mode())
	}
	if list, _ := e.saves.ListSaves(ctx, "zelda"); len(list) != 0 {
		t.Errorf("local saves are visible remotely: %+v", list)
	}
	if _, err := e.saves.LoadSave(ctx, "zelda", local.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("load local save in remote mode = %v", err)
	}
	remoteSave, err := e.saves.CreateSave(ctx, "zelda", "remote", []byte{2})
	if err != nil {
		t.Fatal(err)
	}
	if objects, _ := e.objects.List(ctx, ""); len(objects) != 1 {
		t.Errorf("remote objects = %v", len(objects))
	}

	e.identity.Clear()
	list, _ := e.saves.ListSaves(ctx, "zelda")
	if len(list) != 1 || list[0].ID != local.ID {
		t.Errorf("local list = %+v", list)
	}
	if _, err := e.saves.LoadSave(ctx, "zelda", remoteSave.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("load remote save in local mode = %v", err)
	}
}

func TestRemoteFailureDoesNotFallBack(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	if _, err := e.saves.CreateSave(ctx, "zelda", "local", []byte{1}); err != nil {
		t.Fatal(err)
	}

	e.identity.SetPrincipal("alice")
	e.objects.SetFailure(errors.New("network is down"))

	if _, err := e.saves.CreateSave(ctx, "zelda", "remote", []byte{2}); !errors.Is(err, ErrRemoteCallFailed) {
		t.Errorf("create = %v", err)
	}
	if _, err := e.saves.ListSaves(ctx, "zelda"); !errors.Is(err, ErrRemoteCallFailed) {
		t.Errorf("list = %v", err)
	}
	if _, err := e.saves.LatestSave(ctx, "zelda"); !errors.Is(err, ErrRemoteCallFailed) {
		t.Errorf("latest = %v", err)
	}

	e.identity.Clear()
	if list, _ := e.saves.ListSaves(ctx, "zelda"); len(list) != 1 {
		t.Errorf("local store was written in remote mode: %+v", list)
	}
}

func TestLatestSave(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	t0 := time.UnixMilli(1_700_000_000_000)
	tick := t0
	e.saves.now = func() time.Time { tick = tick.Add(time.Second); return tick }

	if _, err := e.saves.LatestSave(ctx, "zelda"); !errors.Is(err, ErrNotFound) {
		t.Errorf("latest of nothing = %v", err)
	}
	for _, title := range []string{"one", "two", "three"} {
		if _, err := e.saves.CreateSave(ctx, "zelda", title, []byte(title)); err != nil {
			t.Fatal(err)
		}
	}
	latest, err := e.saves.LatestSave(ctx, "zelda")
	if err != nil {
		t.Fatal(err)
	}
	if latest.Title != "three" || string(latest.Payload) != "three" {
		t.Errorf("latest = %+v", latest)
	}

	e.identity.SetPrincipal("bob")
	_, _ = e.saves.CreateSave(ctx, "zelda", "cloud", []byte("cloud"))
	latest, err = e.saves.LatestSave(ctx, "zelda")
	if err != nil || latest.Title != "cloud" {
		t.Errorf("remote latest = %+v, %v", latest, err)
	}
}

func TestAllSaves(t *testing.T) {
	for _, mode := range []Mode{Local, Remote} {
		t.Run(mode.String(), func(t *testing.T) {
			ctx := context.Background()
			e := newEnv(t)
			if mode == Remote {
				e.identity.SetPrincipal("alice")
			}
			tick := time.UnixMilli(1_700_000_000_000)
			e.saves.now = func() time.Time { tick = tick.Add(time.Second); return tick }

			if list, err := e.saves.AllSaves(ctx); err != nil || len(list) != 0 {
				t.Fatalf("all of nothing = %+v, %v", list, err)
			}
			for _, s := range []struct{ game, title string }{{"zelda", "one"}, {"metroid", "two"}, {"zelda", "three"}} {
				if _, err := e.saves.CreateSave(ctx, s.game, s.title, []byte(s.title)); err != nil {
					t.Fatal(err)
				}
			}

			list, err := e.saves.AllSaves(ctx)
			if err != nil {
				t.Fatal(err)
			}
			var got []string
			for _, s := range list {
				got = append(got, s.GameID+"/"+s.Title)
				if s.Payload != nil {
					t.Errorf("listed entry has a payload")
				}
			}
			want := []string{"zelda/three", "metroid/two", "zelda/one"}
			if !slices.Equal(got, want) {
				t.Errorf("all = %v, want %v", got, want)
			}
		})
	}
}

func TestAllSavesRemoteFailure(t *testing.T) {
	e := newEnv(t)
	e.identity.SetPrincipal("alice")
	e.objects.SetFailure(errors.New("network is down"))
	if _, err := e.saves.AllSaves(context.Background()); !errors.Is(err, ErrRemoteCallFailed) {
		t.Errorf("all = %v", err)
	}
}

func TestWrongGame(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	entry, _ := e.saves.CreateSave(ctx, "zelda", "s", []byte{1})
	if _, err := e.saves.LoadSave(ctx, "metroid", entry.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("load with another game = %v", err)
	}
	if err := e.saves.DeleteSave(ctx, "metroid", entry.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.saves.LoadSave(ctx, "zelda", entry.ID); err != nil {
		t.Errorf("save was deleted through another game: %v", err)
	}
}

func TestEmptyPayload(t *testing.T) {
	e := newEnv(t)
	if _, err := e.saves.CreateSave(context.Background(), "g", "t", nil); !errors.Is(err, ErrEmptyPayload) {
		t.Errorf("error = %v", err)
	}
}

func TestSaveID(t *testing.T) {
	re := regexp.MustCompile(`^save-1700000000000-[0-9a-z]{9}$`)
	seen := map[string]bool{}
	for range 1000 {
		id := NewSaveID(time.UnixMilli(1_700_000_000_000))
		if !re.MatchString(id) {
			t.Fatalf("bad id %v", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %v", id)
		}
		seen[id] = true
	}
}
