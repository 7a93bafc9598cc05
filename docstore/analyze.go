package docstore

import (
	"context"

	"github.com/nonibytes/docsync/docstore/storage"
)

type CollectionReport struct {
	Name    string              `json:"name"`
	KeyPath string              `json:"keyPath"`
	Count   int                 `json:"count"`
	Indexes []storage.IndexInfo `json:"indexes"`
}

type Analysis struct {
	Name        string             `json:"name"`
	Version     int                `json:"version"`
	Collections []CollectionReport `json:"collections"`
}

// AnalyzeDB lists every collection of the named database with its
// indexes and record count. An empty name analyzes this engine's
// database.
func (e *Engine) AnalyzeDB(ctx context.Context, name string) (Analysis, error) {
	if name == "" {
		name = e.name
	}
	info, err := e.sub.Describe(ctx, name)
	if err != nil {
		return Analysis{}, e.storageErr("analyze", err)
	}

	h, err := e.sub.Open(ctx, name, info.Version, nil)
	if err != nil {
		return Analysis{}, e.storageErr("analyze", err)
	}
	defer h.Close()

	out := Analysis{Name: info.Name, Version: info.Version, Collections: []CollectionReport{}}
	for _, st := range info.Stores {
		n, err := countStore(ctx, h, st.Name)
		if err != nil {
			return Analysis{}, e.storageErr("analyze", err)
		}
		indexes := st.Indexes
		if indexes == nil {
			indexes = []storage.IndexInfo{}
		}
		out.Collections = append(out.Collections, CollectionReport{
			Name: st.Name, KeyPath: st.KeyPath, Count: n, Indexes: indexes,
		})
	}
	return out, nil
}

func countStore(ctx context.Context, h storage.Handle, store string) (int, error) {
	tx, err := h.Begin(ctx, storage.ReadOnly, store)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	return tx.Count(ctx, store)
}
