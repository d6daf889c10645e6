package storage

import (
	"fmt"
	"time"

	"molva/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketSession = []byte("session")
	bucketUnread  = []byte("unread")

	// The session bucket holds exactly one record.
	keyPrincipal = []byte("principal")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketSession); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketUnread); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// SavePrincipal stores the authenticated principal under the well-known
// session key, replacing any previous record.
func (s *BboltStorage) SavePrincipal(p models.Principal) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSession)
		dbPrincipal := &DBPrincipal{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			Email:       p.Email,
			AvatarURL:   p.AvatarURL,
			Active:      p.Active,
			Credential:  p.Credential,
			Bio:         p.Bio,
		}

		data, err := dbPrincipal.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbPrincipal.Key(), data)
	})
}

func (s *BboltStorage) LoadPrincipal() (models.Principal, error) {
	var dbPrincipal DBPrincipal
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSession)
		data := b.Get(keyPrincipal)
		if data == nil {
			return models.ErrNotFound
		}
		return dbPrincipal.UnmarshalBinary(data)
	})
	if err != nil {
		return models.Principal{}, err
	}

	return models.Principal{
		ID:          dbPrincipal.ID,
		DisplayName: dbPrincipal.DisplayName,
		Email:       dbPrincipal.Email,
		AvatarURL:   dbPrincipal.AvatarURL,
		Active:      dbPrincipal.Active,
		Credential:  dbPrincipal.Credential,
		Bio:         dbPrincipal.Bio,
	}, nil
}

// ClearSession deletes the principal record and all unread counters in one
// transaction, so a logout cannot leave partial state behind.
func (s *BboltStorage) ClearSession() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketSession).Delete(keyPrincipal); err != nil {
			return err
		}
		if err := tx.DeleteBucket(bucketUnread); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketUnread)
		return err
	})
}

func (s *BboltStorage) SaveUnread(peerID string, count int) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUnread)
		dbUnread := &DBUnread{PeerID: peerID, Count: count}
		if count == 0 {
			return b.Delete(dbUnread.Key())
		}
		data, err := dbUnread.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbUnread.Key(), data)
	})
}

func (s *BboltStorage) ListUnread() (map[string]int, error) {
	counts := make(map[string]int)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUnread)
		return b.ForEach(func(k, v []byte) error {
			var dbUnread DBUnread
			if err := dbUnread.UnmarshalBinary(v); err != nil {
				return err
			}
			counts[dbUnread.PeerID] = dbUnread.Count
			return nil
		})
	})
	return counts, err
}
