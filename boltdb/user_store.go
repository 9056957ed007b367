// Package boltdb persists the user registry in a local bbolt database
// file, for hubs that keep all their state on disk without running an
// external database.
package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"

	"github.com/hearthhome/hubauth"
)

var (
	usersBucket         = []byte("users")
	refreshTokensBucket = []byte("refresh_tokens")
)

type credentialsRecord struct {
	ID           string            `json:"id"`
	ProviderType string            `json:"provider_type"`
	ProviderID   string            `json:"provider_id"`
	IdentityKey  string            `json:"identity_key"`
	Data         map[string]string `json:"data,omitempty"`
}

type userRecord struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	IsOwner     bool                `json:"is_owner"`
	IsActive    bool                `json:"is_active"`
	Credentials []credentialsRecord `json:"credentials,omitempty"`
}

type refreshTokenRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ClientID  string    `json:"client_id"`
	CreatedAt time.Time `json:"created_at"`
}

// UserStore is a hubauth.UserStore backed by a bbolt database file.
type UserStore struct {
	db *bbolt.DB
}

// NewUserStore opens, or creates, the database file at path and makes sure
// the buckets exist. A missing parent directory is created.
func NewUserStore(path string) (*UserStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db at %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{usersBucket, refreshTokensBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("creating bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Info().Str("path", path).Msg("Bolt user store opened")
	return &UserStore{db: db}, nil
}

// Close closes the underlying database file.
func (s *UserStore) Close() error {
	return s.db.Close()
}

// LoadAll reads every user and refresh token from disk. Token records
// reference their user by ID; tokens whose user no longer exists are
// skipped.
func (s *UserStore) LoadAll(ctx context.Context) ([]*hubauth.User, []*hubauth.RefreshToken, error) {
	var users []*hubauth.User
	var tokens []*hubauth.RefreshToken

	err := s.db.View(func(tx *bbolt.Tx) error {
		byID := make(map[string]*hubauth.User)
		if err := tx.Bucket(usersBucket).ForEach(func(_, v []byte) error {
			var rec userRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decoding user record: %w", err)
			}
			u := toUser(rec)
			users = append(users, u)
			byID[u.ID] = u
			return nil
		}); err != nil {
			return err
		}

		return tx.Bucket(refreshTokensBucket).ForEach(func(_, v []byte) error {
			var rec refreshTokenRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decoding refresh token record: %w", err)
			}
			user, ok := byID[rec.UserID]
			if !ok {
				log.Warn().
					Str("token_id", rec.ID).
					Str("user_id", rec.UserID).
					Msg("Skipping refresh token for unknown user")
				return nil
			}
			tokens = append(tokens, &hubauth.RefreshToken{
				ID:        rec.ID,
				User:      user,
				ClientID:  rec.ClientID,
				CreatedAt: rec.CreatedAt,
			})
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return users, tokens, nil
}

// SaveUser upserts one user together with its embedded credentials.
func (s *UserStore) SaveUser(ctx context.Context, user *hubauth.User) error {
	buf, err := json.Marshal(toUserRecord(user))
	if err != nil {
		return fmt.Errorf("encoding user %s: %w", user.ID, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(usersBucket).Put([]byte(user.ID), buf)
	})
}

// SaveRefreshToken upserts one refresh token.
func (s *UserStore) SaveRefreshToken(ctx context.Context, token *hubauth.RefreshToken) error {
	rec := refreshTokenRecord{
		ID:        token.ID,
		UserID:    token.User.ID,
		ClientID:  token.ClientID,
		CreatedAt: token.CreatedAt,
	}
	buf, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding refresh token %s: %w", token.ID, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(refreshTokensBucket).Put([]byte(token.ID), buf)
	})
}

// DeleteRefreshToken removes one refresh token. Deleting an absent token
// is not an error.
func (s *UserStore) DeleteRefreshToken(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(refreshTokensBucket).Delete([]byte(id))
	})
}

func toUser(rec userRecord) *hubauth.User {
	u := &hubauth.User{
		ID:       rec.ID,
		Name:     rec.Name,
		IsOwner:  rec.IsOwner,
		IsActive: rec.IsActive,
	}
	for _, c := range rec.Credentials {
		u.Credentials = append(u.Credentials, &hubauth.Credentials{
			ID:           c.ID,
			ProviderType: c.ProviderType,
			ProviderID:   c.ProviderID,
			IdentityKey:  c.IdentityKey,
			Data:         c.Data,
		})
	}
	return u
}

func toUserRecord(u *hubauth.User) userRecord {
	rec := userRecord{
		ID:       u.ID,
		Name:     u.Name,
		IsOwner:  u.IsOwner,
		IsActive: u.IsActive,
	}
	for _, c := range u.Credentials {
		rec.Credentials = append(rec.Credentials, credentialsRecord{
			ID:           c.ID,
			ProviderType: c.ProviderType,
			ProviderID:   c.ProviderID,
			IdentityKey:  c.IdentityKey,
			Data:         c.Data,
		})
	}
	return rec
}

var _ hubauth.UserStore = (*UserStore)(nil)
