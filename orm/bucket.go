package orm

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/trustkeep/keep/errors"
	"github.com/trustkeep/keep/store"
)

// Model is implemented by all entities that can be persisted in a
// Bucket. Validate is called before every write.
type Model interface {
	Validate() error
}

// isBucketName enforces a short, constant name so key prefixes stay
// unambiguous between buckets.
var isBucketName = regexp.MustCompile(`^[a-z]{3,10}$`).MatchString

// Bucket is a generic holder that stores models of one kind under a
// common key prefix. Values are serialized as JSON.
type Bucket struct {
	name   string
	prefix []byte
}

// NewBucket creates a bucket to store data under the given name. It
// panics on an invalid name as buckets are constructed during the
// program startup phase only.
func NewBucket(name string) Bucket {
	if !isBucketName(name) {
		panic(fmt.Sprintf("illegal bucket name: %s", name))
	}
	return Bucket{
		name:   name,
		prefix: []byte(name + ":"),
	}
}

// Name returns the name of the bucket.
func (b Bucket) Name() string {
	return b.name
}

// DBKey is the full key we store in the db, including the bucket prefix.
func (b Bucket) DBKey(key []byte) []byte {
	return append(append([]byte{}, b.prefix...), key...)
}

// ParseKey strips the bucket prefix from a full database key, as
// returned by Iterator.
func (b Bucket) ParseKey(dbKey []byte) []byte {
	return dbKey[len(b.prefix):]
}

// One loads the model stored under the given key into dest. It returns
// ErrNotFound when no entity exists under the key.
func (b Bucket) One(db store.ReadOnlyKVStore, key []byte, dest Model) error {
	raw := db.Get(b.DBKey(key))
	if raw == nil {
		return errors.Wrapf(errors.ErrNotFound, "%s: %X", b.name, key)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return errors.Wrapf(errors.ErrDatabase, "cannot deserialize %s: %s", b.name, err)
	}
	return nil
}

// Has returns true if an entity is stored under the given key.
func (b Bucket) Has(db store.ReadOnlyKVStore, key []byte) bool {
	return db.Has(b.DBKey(key))
}

// Put validates and saves the model under the given key, overwriting any
// previous version.
func (b Bucket) Put(db store.KVStore, key []byte, m Model) error {
	if err := m.Validate(); err != nil {
		return errors.Wrapf(err, "invalid %s model", b.name)
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return errors.Wrapf(errors.ErrDatabase, "cannot serialize %s: %s", b.name, err)
	}
	db.Set(b.DBKey(key), raw)
	return nil
}

// Delete removes the entity stored under the given key. Deleting an
// absent key is not an error.
func (b Bucket) Delete(db store.KVStore, key []byte) {
	db.Delete(b.DBKey(key))
}

// Iterator returns an iterator over all entities of this bucket in
// ascending key order. Returned keys include the bucket prefix, use
// ParseKey to recover the entity key.
func (b Bucket) Iterator(db store.ReadOnlyKVStore) store.Iterator {
	start, end := prefixRange(b.prefix)
	return db.Iterator(start, end)
}

// prefixRange turns a prefix into a (start, end) range covering exactly
// all keys with that prefix.
//
//	prefixRange([]byte{1, 3, 4}) == ([]byte{1, 3, 4}, []byte{1, 3, 5})
//	prefixRange([]byte{255, 255}) == ([]byte{255, 255}, nil)
func prefixRange(prefix []byte) ([]byte, []byte) {
	if len(prefix) == 0 {
		return nil, nil
	}

	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return prefix, end[:i+1]
		}
	}
	// all bytes are 0xff, no upper bound
	return prefix, nil
}
