package namespace

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"

	pebblestore "github.com/rzbill/kvbridge/internal/storage/pebble"
)

// Meta is the registry entry a producer writes for each namespace it uses.
type Meta struct {
	Name        string `json:"name"`
	CreatedAtMs int64  `json:"createdAtMs"`
	// DB is the downstream database index the namespace replicates into.
	DB int `json:"db"`
}

var nsMetaPrefix = []byte("nsmeta/")

func nsMetaKey(ns string) []byte {
	k := make([]byte, 0, len(nsMetaPrefix)+len(ns))
	k = append(k, nsMetaPrefix...)
	k = append(k, ns...)
	return k
}

// EnsureNamespace registers ns with the given downstream DB if absent and
// returns the effective entry. An existing entry is returned unchanged.
func EnsureNamespace(db *pebblestore.DB, name string, downstreamDB int) (Meta, error) {
	if err := ValidateName(name); err != nil {
		return Meta{}, err
	}
	key := nsMetaKey(name)
	if b, err := db.Get(key); err == nil && len(b) > 0 {
		var m Meta
		if err := json.Unmarshal(b, &m); err == nil {
			return m, nil
		}
		// rewrite a corrupted entry
	}
	m := Meta{Name: name, CreatedAtMs: time.Now().UnixMilli(), DB: downstreamDB}
	b, err := json.Marshal(m)
	if err != nil {
		return Meta{}, err
	}
	if err := db.Set(key, b); err != nil {
		return Meta{}, errors.Wrapf(err, "register namespace %q", name)
	}
	return m, nil
}

// List returns every registered namespace sorted by name.
func List(db *pebblestore.DB) ([]Meta, error) {
	upper := append(append([]byte(nil), nsMetaPrefix...), 0xff)
	it, err := db.NewIter(&pebble.IterOptions{LowerBound: nsMetaPrefix, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out []Meta
	for ok := it.First(); ok; ok = it.Next() {
		if !bytes.HasPrefix(it.Key(), nsMetaPrefix) {
			break
		}
		var m Meta
		if err := json.Unmarshal(it.Value(), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, it.Error()
}
