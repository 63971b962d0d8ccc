package library

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/retroplay/retroplay/pkg/config"
	"github.com/retroplay/retroplay/pkg/store"
)

var testConf = config.Library{Extensions: []string{".nes", ".gb"}, MaxRomSize: 1024}

func newLibrary(t *testing.T, conf config.Library) (*Library, *store.LibraryStore) {
	t.Helper()
	st := store.NewLibraryStore(filepath.Join(t.TempDir(), "library.db"), nil)
	t.Cleanup(func() { _ = st.Close() })
	return New(st, conf, nil), st
}

func zipOf(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, data := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err = f.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func gzipOf(t *testing.T, name string, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	w.Name = name
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestImport(t *testing.T) {
	rom := []byte("NES\x1a rom body")

	tests := []struct {
		name    string
		title   string
		file    string
		data    []byte
		want    string
		wantRom []byte
		err     error
	}{
		{name: "raw", file: "Zelda.nes", data: rom, want: "Zelda", wantRom: rom},
		{name: "raw with title", title: "The Legend", file: "zelda.nes", data: rom, want: "The Legend", wantRom: rom},
		{
			name: "zip",
			file: "pack.zip",
			data: zipOf(t, map[string][]byte{"readme.txt": []byte("hi"), "roms/Metroid.nes": rom}),
			want: "Metroid", wantRom: rom,
		},
		{name: "gzip", file: "tetris.gb.gz", data: gzipOf(t, "Tetris.gb", rom), want: "Tetris", wantRom: rom},
		{name: "zip without rom", file: "docs.zip", data: zipOf(t, map[string][]byte{"a.txt": []byte("a")}), err: ErrNoROMFile},
		{name: "raw without extension", title: "Zelda", file: "Zelda", data: rom, want: "Zelda", wantRom: rom},
		{name: "raw any name", file: "notes.txt", data: rom, want: "notes", wantRom: rom},
		{name: "no names", data: rom, want: "Untitled", wantRom: rom},
		{name: "too large", file: "big.nes", data: make([]byte, 2048), err: ErrFileTooLarge},
		{name: "empty", file: "a.nes", data: nil, err: ErrEmptyROM},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			lib, _ := newLibrary(t, testConf)
			ctx := context.Background()

			g, err := lib.Import(ctx, test.title, test.file, test.data)
			if !errors.Is(err, test.err) {
				t.Fatalf("error = %v, want %v", err, test.err)
			}
			if test.err != nil {
				return
			}
			if g.Title != test.want {
				t.Errorf("title = %v, want %v", g.Title, test.want)
			}
			stored, err := lib.Get(ctx, g.ID)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(stored.ROM, test.wantRom) {
				t.Errorf("rom = %q", stored.ROM)
			}
		})
	}
}

func TestImportFile(t *testing.T) {
	dir := t.TempDir()
	lib, _ := newLibrary(t, testConf)
	ctx := context.Background()

	notes := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(notes, []byte("text"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := lib.ImportFile(ctx, notes); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("import of a text file = %v, want ErrUnsupportedFormat", err)
	}

	rom := filepath.Join(dir, "Mario.nes")
	if err := os.WriteFile(rom, []byte("mario"), 0644); err != nil {
		t.Fatal(err)
	}
	g, err := lib.ImportFile(ctx, rom)
	if err != nil || g.Title != "Mario" {
		t.Errorf("import = %+v, %v", g, err)
	}
}

func TestListTouchRemove(t *testing.T) {
	ctx := context.Background()
	lib, _ := newLibrary(t, testConf)
	t0 := time.UnixMilli(1_700_000_000_000)
	tick := t0
	lib.now = func() time.Time { tick = tick.Add(time.Minute); return tick }

	a, _ := lib.Add(ctx, "A", []byte{1})
	b, _ := lib.Add(ctx, "B", []byte{2})

	list, err := lib.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != b.ID {
		t.Fatalf("list = %+v", list)
	}
	if list[0].ROM != nil {
		t.Errorf("list carries the images")
	}

	if err := lib.Touch(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	if list, _ := lib.List(ctx); list[0].ID != a.ID {
		t.Errorf("touched game is not the first: %+v", list)
	}

	if err := lib.Remove(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := lib.Get(ctx, a.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("get removed = %v", err)
	}
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	conf := testConf
	conf.WatchDir = dir
	lib, _ := newLibrary(t, conf)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := lib.Watch(ctx); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Kirby.gb"), []byte("kirby"), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		list, _ := lib.List(ctx)
		if len(list) == 1 {
			if list[0].Title != "Kirby" {
				t.Errorf("imported %+v", list[0])
			}
			return
		}
		if len(list) > 1 {
			t.Fatalf("imported too much: %+v", list)
		}
		if time.Now().After(deadline) {
			t.Fatal("the file wasn't imported")
		}
		time.Sleep(50 * time.Millisecond)
	}
}
