// Package backup exports a collection to a portable encrypted file and
// restores it.
//
// The payload {modelName, timestamp, data} is encoded as BSON, sealed with
// sealbox and wrapped in a small JSON envelope carrying the format version
// and the sealing parameters.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/nonibytes/docsync/docstore"
	dserrors "github.com/nonibytes/docsync/docstore/errors"
	"github.com/nonibytes/docsync/sealbox"
)

const FormatVersion = 1

type Payload struct {
	ModelName string    `bson:"modelName"`
	Timestamp time.Time `bson:"timestamp"`
	Data      []bson.M  `bson:"data"`
}

type Envelope struct {
	Version    int    `json:"version"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// ModelName identifies the collection an export belongs to.
func ModelName(e *docstore.Engine) string {
	return e.Name() + "/" + e.ActiveCollection()
}

// Export seals every record of the engine's active collection.
func Export(ctx context.Context, e *docstore.Engine, passphrase string) ([]byte, error) {
	recs, err := e.Find(ctx, docstore.FindOptions{})
	if err != nil {
		return nil, err
	}
	p := Payload{
		ModelName: ModelName(e),
		Timestamp: e.Now().UTC(),
		Data:      make([]bson.M, len(recs)),
	}
	for i, r := range recs {
		p.Data[i] = bson.M(r)
	}
	raw, err := bson.Marshal(p)
	if err != nil {
		return nil, dserrors.Wrap(dserrors.ErrStorage, "encode export", err)
	}
	sealed, err := sealbox.Seal(passphrase, raw)
	if err != nil {
		return nil, dserrors.Wrap(dserrors.ErrCrypto, "seal export", err)
	}
	return json.Marshal(Envelope{
		Version:    FormatVersion,
		Salt:       sealed.Salt,
		Nonce:      sealed.Nonce,
		Ciphertext: sealed.Ciphertext,
	})
}

type ImportOptions struct {
	// Replace clears the collection before writing the imported records.
	Replace bool
}

type ImportResult struct {
	ModelName string    `json:"modelName"`
	Timestamp time.Time `json:"timestamp"`
	Imported  int       `json:"imported"`
}

// Open decrypts and decodes an export without touching any store.
func Open(blob []byte, passphrase string) (Payload, error) {
	var env Envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return Payload{}, dserrors.Wrap(dserrors.ErrSchemaMismatch, "not a backup file", err)
	}
	if env.Version != FormatVersion {
		return Payload{}, dserrors.New(dserrors.ErrSchemaMismatch, fmt.Sprintf("unsupported backup version %d", env.Version))
	}
	raw, err := sealbox.Open(passphrase, sealbox.Sealed{Salt: env.Salt, Nonce: env.Nonce, Ciphertext: env.Ciphertext})
	if err != nil {
		return Payload{}, dserrors.Wrap(dserrors.ErrCrypto, "open backup", err)
	}
	var p Payload
	if err := bson.Unmarshal(raw, &p); err != nil {
		return Payload{}, dserrors.Wrap(dserrors.ErrSchemaMismatch, "decode backup", err)
	}
	return p, nil
}

// Import restores an export into the engine's active collection. The
// payload identity is checked before anything is written or cleared.
func Import(ctx context.Context, e *docstore.Engine, blob []byte, passphrase string, opts ImportOptions) (ImportResult, error) {
	p, err := Open(blob, passphrase)
	if err != nil {
		return ImportResult{}, err
	}
	if want := ModelName(e); p.ModelName != want {
		return ImportResult{}, dserrors.New(dserrors.ErrSchemaMismatch,
			fmt.Sprintf("backup is for %q, not %q", p.ModelName, want))
	}
	if opts.Replace {
		if err := e.Clear(ctx); err != nil {
			return ImportResult{}, err
		}
	}
	res := ImportResult{ModelName: p.ModelName, Timestamp: p.Timestamp}
	for _, doc := range p.Data {
		rec := normalize(doc).(map[string]any)
		if err := e.Put(ctx, rec); err != nil {
			return res, err
		}
		res.Imported++
	}
	e.Logger().Infow("imported backup", "model", p.ModelName, "records", res.Imported, "replace", opts.Replace)
	return res, nil
}

// normalize turns decoded BSON values back into the plain Go values the
// store works with.
func normalize(v any) any {
	switch t := v.(type) {
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(t.T), 0).UTC()
	case primitive.ObjectID:
		return t.Hex()
	case int32:
		return int64(t)
	case primitive.A:
		return normalize([]any(t))
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = normalize(x)
		}
		return out
	case primitive.D:
		out := make(map[string]any, len(t))
		for _, el := range t {
			out[el.Key] = normalize(el.Value)
		}
		return out
	case primitive.M:
		return normalize(map[string]any(t))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = normalize(x)
		}
		return out
	}
	return v
}
