package remote

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/retroplay/retroplay/pkg/logger"
)

const (
	metaID          = "id"
	metaGame        = "game"
	metaTitle       = "title"
	metaDescription = "description"
	metaTimestamp   = "timestamp"
)

// BucketGateway keeps every save as a separate object named
// <principal>/<game>/<save> with the entry metadata in the object metadata.
type BucketGateway struct {
	store  ObjectStore
	caller Caller
	log    *logger.Logger
}

func NewBucketGateway(store ObjectStore, caller Caller, log *logger.Logger) *BucketGateway {
	if log == nil {
		log = logger.Nop()
	}
	return &BucketGateway{store: store, caller: caller, log: log.Module("gateway")}
}

func (g *BucketGateway) AddEntry(ctx context.Context, gameID, saveID string, meta EntryMetadata, data []byte) error {
	root, err := g.root()
	if err != nil {
		return err
	}
	meta.ID, meta.GameID = saveID, gameID
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now()
	}
	if err := g.store.Put(ctx, objectName(root, gameID, saveID), data, encodeMeta(meta)); err != nil {
		return g.fail("add", err)
	}
	return nil
}

func (g *BucketGateway) GetAllSavesForGame(ctx context.Context, gameID string) ([]EntryMetadata, error) {
	root, err := g.root()
	if err != nil {
		return nil, err
	}
	entries, err := g.list(ctx, root+url.PathEscape(gameID)+"/")
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

func (g *BucketGateway) GetSaveForGame(ctx context.Context, gameID, saveID string) (GameSaveState, error) {
	root, err := g.root()
	if err != nil {
		return GameSaveState{}, err
	}
	data, meta, err := g.store.Get(ctx, objectName(root, gameID, saveID))
	if errors.Is(err, errObjectNotFound) {
		return GameSaveState{}, ErrNotFound
	}
	if err != nil {
		return GameSaveState{}, g.fail("get", err)
	}
	md := decodeMeta(meta)
	md.ID, md.GameID = saveID, gameID
	return GameSaveState{Metadata: md, Data: data}, nil
}

func (g *BucketGateway) DeleteSaveForGame(ctx context.Context, gameID, saveID string) error {
	root, err := g.root()
	if err != nil {
		return err
	}
	if err := g.store.Delete(ctx, objectName(root, gameID, saveID)); err != nil {
		return g.fail("delete", err)
	}
	return nil
}

func (g *BucketGateway) GetLatestSaveForGame(ctx context.Context, gameID string) (GameSaveState, error) {
	entries, err := g.GetAllSavesForGame(ctx, gameID)
	if err != nil {
		return GameSaveState{}, err
	}
	if len(entries) == 0 {
		return GameSaveState{}, ErrNotFound
	}
	return g.GetSaveForGame(ctx, gameID, entries[len(entries)-1].ID)
}

func (g *BucketGateway) GetAllEntriesByTimestamp(ctx context.Context) ([]EntryMetadata, error) {
	root, err := g.root()
	if err != nil {
		return nil, err
	}
	entries, err := g.list(ctx, root)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].ID > entries[j].ID
		}
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	return entries, nil
}

func (g *BucketGateway) list(ctx context.Context, prefix string) ([]EntryMetadata, error) {
	objects, err := g.store.List(ctx, prefix)
	if err != nil {
		return nil, g.fail("list", err)
	}
	entries := make([]EntryMetadata, 0, len(objects))
	for _, o := range objects {
		md := decodeMeta(o.Meta)
		if md.ID == "" {
			g.log.Warn().Str("name", o.Name).Msg("object without save metadata")
			continue
		}
		entries = append(entries, md)
	}
	return entries, nil
}

// root returns the object prefix of the caller.
func (g *BucketGateway) root() (string, error) {
	principal, ok := g.caller.Principal()
	if !ok {
		return "", fmt.Errorf("%w: caller is not authenticated", ErrRemoteCallFailed)
	}
	return url.PathEscape(principal) + "/", nil
}

func (g *BucketGateway) fail(op string, err error) error {
	g.log.Error().Err(err).Str("op", op).Msg("remote call failed")
	return fmt.Errorf("%w: %v: %v", ErrRemoteCallFailed, op, err)
}

func objectName(root, gameID, saveID string) string {
	return root + url.PathEscape(gameID) + "/" + url.PathEscape(saveID)
}

// Metadata values are escaped since they travel as HTTP headers.
func encodeMeta(m EntryMetadata) map[string]string {
	return map[string]string{
		metaID:          url.QueryEscape(m.ID),
		metaGame:        url.QueryEscape(m.GameID),
		metaTitle:       url.QueryEscape(m.Title),
		metaDescription: url.QueryEscape(m.Description),
		metaTimestamp:   strconv.FormatInt(m.Timestamp.UnixMilli(), 10),
	}
}

func decodeMeta(meta map[string]string) EntryMetadata {
	unescape := func(key string) string {
		v, err := url.QueryUnescape(meta[key])
		if err != nil {
			return strings.TrimSpace(meta[key])
		}
		return v
	}
	md := EntryMetadata{
		ID:          unescape(metaID),
		GameID:      unescape(metaGame),
		Title:       unescape(metaTitle),
		Description: unescape(metaDescription),
	}
	if ms, err := strconv.ParseInt(meta[metaTimestamp], 10, 64); err == nil {
		md.Timestamp = time.UnixMilli(ms)
	}
	return md
}
