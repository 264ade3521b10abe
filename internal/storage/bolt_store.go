package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/sitepulse-hq/sitepulse-notifier/internal/domain"
)

const (
	sourcesBucket = "sources"
	urlsBucket    = "urls"

	// URL record values carry a presence byte so a nil marker and an empty
	// marker string stay distinguishable.
	markerAbsent  = 0x00
	markerPresent = 0x01
)

// boltStore implements Store backed by BoltDB. Sources are JSON records keyed
// by big-endian id (so cursor order is ascending id); URL records live in a
// nested bucket per source.
type boltStore struct {
	db *bolt.DB
}

// openBolt initializes a BoltDB-backed Store.
func openBolt(path string) (Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}
	if err := db.Update(createBuckets); err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}
	return &boltStore{db: db}, nil
}

func createBuckets(tx *bolt.Tx) error {
	if _, err := tx.CreateBucketIfNotExists([]byte(sourcesBucket)); err != nil {
		return err
	}
	_, err := tx.CreateBucketIfNotExists([]byte(urlsBucket))
	return err
}

func (b *boltStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *boltStore) Sources() ([]domain.Source, error) {
	var out []domain.Source
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(sourcesBucket))
		if bucket == nil {
			return fmt.Errorf("sources bucket missing")
		}
		return bucket.ForEach(func(_, v []byte) error {
			var src domain.Source
			if err := json.Unmarshal(v, &src); err != nil {
				return fmt.Errorf("decode source record: %w", err)
			}
			out = append(out, src)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *boltStore) SourceByID(id int64) (domain.Source, error) {
	var src domain.Source
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(sourcesBucket))
		if bucket == nil {
			return fmt.Errorf("sources bucket missing")
		}
		raw := bucket.Get(idKey(id))
		if raw == nil {
			return ErrSourceNotFound
		}
		return json.Unmarshal(raw, &src)
	})
	return src, err
}

func (b *boltStore) SourceExists(sourceURL string) (bool, error) {
	exists := false
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(sourcesBucket))
		if bucket == nil {
			return fmt.Errorf("sources bucket missing")
		}
		return bucket.ForEach(func(_, v []byte) error {
			var src domain.Source
			if err := json.Unmarshal(v, &src); err != nil {
				return err
			}
			if src.SourceURL == sourceURL {
				exists = true
			}
			return nil
		})
	})
	return exists, err
}

func (b *boltStore) AddSource(src domain.Source) (int64, error) {
	var id int64
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(sourcesBucket))
		if bucket == nil {
			return fmt.Errorf("sources bucket missing")
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("next source id: %w", err)
		}
		id = int64(seq)
		src.ID = id
		raw, err := json.Marshal(src)
		if err != nil {
			return fmt.Errorf("encode source record: %w", err)
		}
		return bucket.Put(idKey(id), raw)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (b *boltStore) UpdateSource(src domain.Source) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(sourcesBucket))
		if bucket == nil {
			return fmt.Errorf("sources bucket missing")
		}
		key := idKey(src.ID)
		if bucket.Get(key) == nil {
			return ErrSourceNotFound
		}
		raw, err := json.Marshal(src)
		if err != nil {
			return fmt.Errorf("encode source record: %w", err)
		}
		return bucket.Put(key, raw)
	})
}

func (b *boltStore) RemoveSource(id int64) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(sourcesBucket))
		if bucket == nil {
			return fmt.Errorf("sources bucket missing")
		}
		key := idKey(id)
		if bucket.Get(key) == nil {
			return ErrSourceNotFound
		}
		if err := bucket.Delete(key); err != nil {
			return err
		}
		urls := tx.Bucket([]byte(urlsBucket))
		if urls == nil {
			return fmt.Errorf("urls bucket missing")
		}
		if urls.Bucket(key) != nil {
			return urls.DeleteBucket(key)
		}
		return nil
	})
}

func (b *boltStore) KnownMarkers(sourceID int64) (map[string]*string, error) {
	out := make(map[string]*string)
	err := b.db.View(func(tx *bolt.Tx) error {
		urls := tx.Bucket([]byte(urlsBucket))
		if urls == nil {
			return fmt.Errorf("urls bucket missing")
		}
		perSource := urls.Bucket(idKey(sourceID))
		if perSource == nil {
			return nil
		}
		return perSource.ForEach(func(k, v []byte) error {
			out[string(k)] = decodeMarker(v)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *boltStore) RecordURL(sourceID int64, url string, marker *string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		urls := tx.Bucket([]byte(urlsBucket))
		if urls == nil {
			return fmt.Errorf("urls bucket missing")
		}
		perSource, err := urls.CreateBucketIfNotExists(idKey(sourceID))
		if err != nil {
			return fmt.Errorf("create source url bucket: %w", err)
		}
		return perSource.Put([]byte(url), encodeMarker(marker))
	})
}

func (b *boltStore) IsFirstRun(sourceID int64) (bool, error) {
	src, err := b.SourceByID(sourceID)
	if err != nil {
		return false, err
	}
	return !src.FirstRunCompleted, nil
}

func (b *boltStore) MarkFirstRunDone(sourceID int64) error {
	src, err := b.SourceByID(sourceID)
	if err != nil {
		return err
	}
	src.FirstRunCompleted = true
	return b.UpdateSource(src)
}

func (b *boltStore) Clear() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{sourcesBucket, urlsBucket} {
			if tx.Bucket([]byte(name)) != nil {
				if err := tx.DeleteBucket([]byte(name)); err != nil {
					return err
				}
			}
		}
		return createBuckets(tx)
	})
}

func idKey(id int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	return key
}

func encodeMarker(marker *string) []byte {
	if marker == nil {
		return []byte{markerAbsent}
	}
	buf := make([]byte, 1+len(*marker))
	buf[0] = markerPresent
	copy(buf[1:], *marker)
	return buf
}

func decodeMarker(value []byte) *string {
	if len(value) == 0 || value[0] != markerPresent {
		return nil
	}
	s := string(value[1:])
	return &s
}
