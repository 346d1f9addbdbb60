package cache

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"sort"
	"time"

	perrors "github.com/jmgilman/go/errors"
	bolt "go.etcd.io/bbolt"
)

// Storage is the partitioned response cache used by the worker.
// Implementations must be safe for concurrent use by multiple goroutines.
type Storage interface {
	Open(partition string) error
	Match(partition string, key Key, opts MatchOptions) (*Response, bool, error)
	Put(partition string, key Key, resp *Response) error
	PutIfPresent(partition string, key Key, resp *Response) (bool, error)
	AddAll(partition string, entries map[Key]*Response) error
	Delete(partition string, key Key) (bool, error)
	Partitions() ([]string, error)
	DeleteAllExcept(retain func(name string) bool) ([]string, error)
	SaveState(key string, value []byte) error
	LoadState(key string) ([]byte, bool, error)
}

// stateBucket holds registration records. It is not a partition: Match,
// Partitions, Stats and DeleteAllExcept skip it.
const stateBucket = "_registration"

func reserved(partition string) error {
	if partition == stateBucket || partition == AllPartitions {
		return perrors.Newf(perrors.CodeInvalidInput, "%q is not a partition name", partition)
	}
	return nil
}

// partitions calls fn for every partition bucket in tx.
func partitions(tx *bolt.Tx, fn func(name []byte, b *bolt.Bucket) error) error {
	return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
		if string(name) == stateBucket {
			return nil
		}
		return fn(name, b)
	})
}

// MatchOptions tunes a lookup.
type MatchOptions struct {
	// IgnoreQuery matches any stored entry whose URL equals the request URL
	// once both query strings are dropped.
	IgnoreQuery bool
}

// Store provides a persistent partitioned response cache on bbolt.
// Every partition is a top-level bucket.
type Store struct {
	db  *bolt.DB
	now func() time.Time
}

// Options configures Open.
type Options struct {
	// Timeout bounds how long Open waits for the file lock.
	Timeout time.Duration
}

// Open initializes or opens a Store at the given path.
func Open(path string, opts Options) (*Store, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: opts.Timeout})
	if err != nil {
		return nil, perrors.Wrapf(err, perrors.CodeDatabase, "open cache %s", path)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Open creates the partition if absent.
func (s *Store) Open(partition string) error {
	if err := reserved(partition); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(partition))
		return err
	})
}

// Match looks key up in one partition, or in every partition when partition
// is AllPartitions. A miss is (nil, false, nil).
func (s *Store) Match(partition string, key Key, opts MatchOptions) (*Response, bool, error) {
	var out *Response
	err := s.db.View(func(tx *bolt.Tx) error {
		if partition != AllPartitions {
			b := tx.Bucket([]byte(partition))
			if b == nil {
				return nil
			}
			v := lookup(b, key, opts)
			if v == nil {
				return nil
			}
			resp, err := decode(v)
			out = resp
			return err
		}
		return partitions(tx, func(_ []byte, b *bolt.Bucket) error {
			if out != nil {
				return nil
			}
			v := lookup(b, key, opts)
			if v == nil {
				return nil
			}
			resp, err := decode(v)
			out = resp
			return err
		})
	})
	if err != nil {
		return nil, false, perrors.Wrap(err, perrors.CodeDatabase, "match "+string(key))
	}
	return out, out != nil, nil
}

// lookup returns the raw value for key. With IgnoreQuery it tries the
// query-less URL, then seeks to the first "<url>?..." sibling.
func lookup(b *bolt.Bucket, key Key, opts MatchOptions) []byte {
	if !opts.IgnoreQuery {
		return b.Get([]byte(key))
	}
	base := key.WithoutQuery()
	if v := b.Get([]byte(base)); v != nil {
		return v
	}
	prefix := []byte(base + "?")
	k, v := b.Cursor().Seek(prefix)
	if k != nil && bytes.HasPrefix(k, prefix) {
		return v
	}
	return nil
}

// Put stores resp under key, replacing any existing entry. The partition is
// created when missing.
func (s *Store) Put(partition string, key Key, resp *Response) error {
	if err := reserved(partition); err != nil {
		return err
	}
	buf, err := s.encode(resp)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(partition))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), buf)
	})
}

// PutIfPresent stores resp only if the partition exists and reports whether
// it did. A purged partition stays purged.
func (s *Store) PutIfPresent(partition string, key Key, resp *Response) (bool, error) {
	if err := reserved(partition); err != nil {
		return false, err
	}
	buf, err := s.encode(resp)
	if err != nil {
		return false, err
	}
	var written bool
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(partition))
		if b == nil {
			return nil
		}
		written = true
		return b.Put([]byte(key), buf)
	})
	return written, err
}

// AddAll writes every entry in a single transaction. Either all entries land
// or none do.
func (s *Store) AddAll(partition string, entries map[Key]*Response) error {
	if err := reserved(partition); err != nil {
		return err
	}
	encoded := make(map[Key][]byte, len(entries))
	for k, resp := range entries {
		buf, err := s.encode(resp)
		if err != nil {
			return err
		}
		encoded[k] = buf
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(partition))
		if err != nil {
			return err
		}
		for k, buf := range encoded {
			if err := b.Put([]byte(k), buf); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes a key and reports whether it existed.
func (s *Store) Delete(partition string, key Key) (bool, error) {
	var existed bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(partition))
		if b == nil {
			return nil
		}
		existed = b.Get([]byte(key)) != nil
		return b.Delete([]byte(key))
	})
	return existed, err
}

// Partitions lists partition names in byte order.
func (s *Store) Partitions() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return partitions(tx, func(name []byte, _ *bolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	return names, err
}

// DeleteAllExcept drops every partition whose name fails retain and returns
// the names it removed. The whole purge is one transaction.
func (s *Store) DeleteAllExcept(retain func(name string) bool) ([]string, error) {
	var deleted []string
	err := s.db.Update(func(tx *bolt.Tx) error {
		var doomed []string
		if err := partitions(tx, func(name []byte, _ *bolt.Bucket) error {
			if !retain(string(name)) {
				doomed = append(doomed, string(name))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, name := range doomed {
			if err := tx.DeleteBucket([]byte(name)); err != nil {
				return err
			}
		}
		deleted = doomed
		return nil
	})
	if err != nil {
		return nil, perrors.Wrap(err, perrors.CodeDatabase, "purge partitions")
	}
	return deleted, nil
}

// PartitionStats is the entry count and payload size of one partition.
type PartitionStats struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Bytes   int64  `json:"bytes"`
}

// Stats reports every partition, sorted by name.
func (s *Store) Stats() ([]PartitionStats, error) {
	var out []PartitionStats
	err := s.db.View(func(tx *bolt.Tx) error {
		return partitions(tx, func(name []byte, b *bolt.Bucket) error {
			ps := PartitionStats{Name: string(name)}
			err := b.ForEach(func(_, v []byte) error {
				ps.Entries++
				ps.Bytes += int64(len(v))
				return nil
			})
			out = append(out, ps)
			return err
		})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, err
}

// SaveState records value under key outside every partition.
func (s *Store) SaveState(key string, value []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(stateBucket))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), value)
	})
	if err != nil {
		return perrors.Wrap(err, perrors.CodeDatabase, "save state "+key)
	}
	return nil
}

// LoadState returns the value SaveState recorded for key.
func (s *Store) LoadState(key string) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(stateBucket))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, perrors.Wrap(err, perrors.CodeDatabase, "load state "+key)
	}
	return out, out != nil, nil
}

// Keys lists the keys of one partition.
func (s *Store) Keys(partition string) ([]Key, error) {
	var keys []Key
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(partition))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, Key(k))
			return nil
		})
	})
	return keys, err
}

// Layout: 8 bytes big endian storedAt (unix nanos) || JSON snapshot.
func (s *Store) encode(resp *Response) ([]byte, error) {
	snap := resp.Clone()
	if snap.StoredAt.IsZero() {
		snap.StoredAt = s.now()
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 8+len(body))
	binary.BigEndian.PutUint64(buf[:8], uint64(snap.StoredAt.UnixNano()))
	copy(buf[8:], body)
	return buf, nil
}

func decode(v []byte) (*Response, error) {
	if len(v) < 8 {
		return nil, perrors.New(perrors.CodeDatabase, "corrupt cache entry")
	}
	var resp Response
	if err := json.Unmarshal(v[8:], &resp); err != nil {
		return nil, err
	}
	if resp.StoredAt.IsZero() {
		resp.StoredAt = time.Unix(0, int64(binary.BigEndian.Uint64(v[:8])))
	}
	return &resp, nil
}
