package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/hearthhome/hubauth"
)

type credentialsDoc struct {
	ID           string            `bson:"_id"`
	ProviderType string            `bson:"provider_type"`
	ProviderID   string            `bson:"provider_id"`
	IdentityKey  string            `bson:"identity_key"`
	Data         map[string]string `bson:"data"`
}

type userDoc struct {
	ID          string           `bson:"_id"`
	Name        string           `bson:"name"`
	IsOwner     bool             `bson:"is_owner"`
	IsActive    bool             `bson:"is_active"`
	Credentials []credentialsDoc `bson:"credentials"`
}

type refreshTokenDoc struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	ClientID  string    `bson:"client_id"`
	CreatedAt time.Time `bson:"created_at"`
}

// UserStore stores users with their credentials embedded and refresh
// tokens in a collection of their own.
type UserStore struct {
	users   *mongo.Collection
	refresh *mongo.Collection
}

// NewUserStore wires the collections and ensures their indexes.
func NewUserStore(ctx context.Context, db *mongo.Database) (*UserStore, error) {
	s := &UserStore{
		users:   db.Collection(UsersCollection),
		refresh: db.Collection(RefreshTokensCollection),
	}
	if err := s.createIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *UserStore) createIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "credentials.provider_type", Value: 1},
			{Key: "credentials.provider_id", Value: 1},
			{Key: "credentials.identity_key", Value: 1},
		},
	})
	if err != nil {
		return fmt.Errorf("creating credentials index: %w", err)
	}

	_, err = s.refresh.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("creating refresh token index: %w", err)
	}
	return nil
}

// LoadAll reads every user and refresh token, resolving each token's user
// reference. Tokens whose user is gone are skipped with a warning.
func (s *UserStore) LoadAll(ctx context.Context) ([]*hubauth.User, []*hubauth.RefreshToken, error) {
	cur, err := s.users.Find(ctx, bson.M{})
	if err != nil {
		return nil, nil, fmt.Errorf("loading users: %w", err)
	}
	var userDocs []userDoc
	if err := cur.All(ctx, &userDocs); err != nil {
		return nil, nil, fmt.Errorf("decoding users: %w", err)
	}

	users := make([]*hubauth.User, 0, len(userDocs))
	byID := make(map[string]*hubauth.User, len(userDocs))
	for _, d := range userDocs {
		u := d.toUser()
		users = append(users, u)
		byID[u.ID] = u
	}

	cur, err = s.refresh.Find(ctx, bson.M{})
	if err != nil {
		return nil, nil, fmt.Errorf("loading refresh tokens: %w", err)
	}
	var tokenDocs []refreshTokenDoc
	if err := cur.All(ctx, &tokenDocs); err != nil {
		return nil, nil, fmt.Errorf("decoding refresh tokens: %w", err)
	}

	tokens := make([]*hubauth.RefreshToken, 0, len(tokenDocs))
	for _, d := range tokenDocs {
		u, ok := byID[d.UserID]
		if !ok {
			log.Warn().
				Str("refresh_token_id", d.ID).
				Str("user_id", d.UserID).
				Msg("Skipping refresh token for unknown user")
			continue
		}
		tokens = append(tokens, &hubauth.RefreshToken{
			ID:        d.ID,
			User:      u,
			ClientID:  d.ClientID,
			CreatedAt: d.CreatedAt,
		})
	}
	return users, tokens, nil
}

// SaveUser upserts the user document with its embedded credentials.
func (s *UserStore) SaveUser(ctx context.Context, u *hubauth.User) error {
	doc := toUserDoc(u)
	_, err := s.users.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("saving user %s: %w", u.ID, err)
	}
	return nil
}

// SaveRefreshToken upserts one refresh token.
func (s *UserStore) SaveRefreshToken(ctx context.Context, rt *hubauth.RefreshToken) error {
	doc := refreshTokenDoc{
		ID:        rt.ID,
		UserID:    rt.User.ID,
		ClientID:  rt.ClientID,
		CreatedAt: rt.CreatedAt,
	}
	_, err := s.refresh.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("saving refresh token %s: %w", rt.ID, err)
	}
	return nil
}

// DeleteRefreshToken removes one refresh token. Deleting an absent id is
// not an error.
func (s *UserStore) DeleteRefreshToken(ctx context.Context, id string) error {
	if _, err := s.refresh.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("deleting refresh token %s: %w", id, err)
	}
	return nil
}

func (d userDoc) toUser() *hubauth.User {
	u := &hubauth.User{
		ID:       d.ID,
		Name:     d.Name,
		IsOwner:  d.IsOwner,
		IsActive: d.IsActive,
	}
	for _, c := range d.Credentials {
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

func toUserDoc(u *hubauth.User) userDoc {
	doc := userDoc{
		ID:          u.ID,
		Name:        u.Name,
		IsOwner:     u.IsOwner,
		IsActive:    u.IsActive,
		Credentials: make([]credentialsDoc, 0, len(u.Credentials)),
	}
	for _, c := range u.Credentials {
		doc.Credentials = append(doc.Credentials, credentialsDoc{
			ID:           c.ID,
			ProviderType: c.ProviderType,
			ProviderID:   c.ProviderID,
			IdentityKey:  c.IdentityKey,
			Data:         c.Data,
		})
	}
	return doc
}

var _ hubauth.UserStore = (*UserStore)(nil)
