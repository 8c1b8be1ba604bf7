// Package store persists accounts and their embedded sheets in MongoDB.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ficherp/api/internal/fiche"
)

// ErrNotFound reports that no document matched the target of an operation.
var ErrNotFound = errors.New("not found")

const (
	collAccounts = "account"
	collMeta     = "website_meta"
	metaID       = "meta"
)

type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// Open connects to MongoDB and verifies the connection.
func Open(ctx context.Context, uri, database string) (*MongoStore, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	return &MongoStore{client: client, db: client.Database(database)}, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) accounts() *mongo.Collection {
	return s.db.Collection(collAccounts)
}

func (s *MongoStore) GetAccountByAuthID(ctx context.Context, authID string) (Account, error) {
	return s.findAccount(ctx, bson.M{"auth_id": authID})
}

func (s *MongoStore) GetAccountByDiscordID(ctx context.Context, discordID string) (Account, error) {
	return s.findAccount(ctx, bson.M{"_id": discordID})
}

// GetAccountByFicheID finds the account owning the given sheet.
func (s *MongoStore) GetAccountByFicheID(ctx context.Context, ficheID string) (Account, error) {
	return s.findAccount(ctx, bson.M{"fiches.id": ficheID})
}

func (s *MongoStore) findAccount(ctx context.Context, filter bson.M) (Account, error) {
	var account Account
	err := s.accounts().FindOne(ctx, filter).Decode(&account)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("find account: %w", err)
	}
	return account, nil
}

func (s *MongoStore) ListAccounts(ctx context.Context) ([]Account, error) {
	cursor, err := s.accounts().Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	var accounts []Account
	if err := cursor.All(ctx, &accounts); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	return accounts, nil
}

func (s *MongoStore) InsertAccount(ctx context.Context, account Account) error {
	if _, err := s.accounts().InsertOne(ctx, account); err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// RenewAccountAuth rotates the auth credential and stores the fresh token
// pair after a successful exchange or refresh.
func (s *MongoStore) RenewAccountAuth(ctx context.Context, discordID, authID string, token TokenPair, renewedAt time.Time) error {
	update := bson.M{"$set": bson.M{
		"auth_id":      authID,
		"token":        token,
		"last_renewal": renewedAt,
	}}
	return s.updateAccount(ctx, bson.M{"_id": discordID}, update)
}

// UpdateAccountToken stores a refreshed token pair without touching the
// auth credential, so live sessions survive the renewal sweep.
func (s *MongoStore) UpdateAccountToken(ctx context.Context, discordID string, token TokenPair, renewedAt time.Time) error {
	update := bson.M{"$set": bson.M{
		"token":        token,
		"last_renewal": renewedAt,
	}}
	return s.updateAccount(ctx, bson.M{"_id": discordID}, update)
}

// UpdateAccountProfile replaces the profile snapshot and guild role set.
func (s *MongoStore) UpdateAccountProfile(ctx context.Context, discordID string, user DiscordUser, roleIDs []string) error {
	update := bson.M{"$set": bson.M{
		"discord_user":  user,
		"discord_roles": roleIDs,
	}}
	return s.updateAccount(ctx, bson.M{"_id": discordID}, update)
}

func (s *MongoStore) SetBanned(ctx context.Context, discordID string, banned bool) error {
	return s.updateAccount(ctx, bson.M{"_id": discordID}, bson.M{"$set": bson.M{"banned": banned}})
}

// InsertFiche appends a new sheet to the owner's embedded list.
func (s *MongoStore) InsertFiche(ctx context.Context, ownerID string, f fiche.FicheRP) error {
	update := bson.M{"$push": bson.M{"fiches": f}}
	return s.updateAccount(ctx, bson.M{"_id": ownerID}, update)
}

// ReplaceFicheFields overwrites a sheet's editable fields, resets its state
// and appends a version snapshot in one atomic document update.
func (s *MongoStore) ReplaceFicheFields(ctx context.Context, ownerID, ficheID string, f fiche.FicheRP, version fiche.Version) error {
	filter := bson.M{"_id": ownerID, "fiches.id": ficheID}
	update := bson.M{
		"$set": bson.M{
			"fiches.$.name":        f.Name,
			"fiches.$.job":         f.Job,
			"fiches.$.description": f.Description,
			"fiches.$.lore":        f.Lore,
			"fiches.$.state":       f.State,
		},
		"$push": bson.M{"fiches.$.versions": version},
	}
	return s.updateAccount(ctx, filter, update)
}

// AppendFicheMessage pushes a review message onto a sheet's log and, when
// the message carries a decision, sets the sheet state in the same update.
func (s *MongoStore) AppendFicheMessage(ctx context.Context, ownerID, ficheID string, msg fiche.ReviewMessage, newState *fiche.State) error {
	filter := bson.M{"_id": ownerID, "fiches.id": ficheID}
	update := bson.M{"$push": bson.M{"fiches.$.messages": msg}}
	if newState != nil {
		update["$set"] = bson.M{"fiches.$.state": *newState}
	}
	return s.updateAccount(ctx, filter, update)
}

func (s *MongoStore) updateAccount(ctx context.Context, filter, update bson.M) error {
	result, err := s.accounts().UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) GetMeta(ctx context.Context) (WebsiteMeta, error) {
	var meta WebsiteMeta
	err := s.db.Collection(collMeta).FindOne(ctx, bson.M{"_id": metaID}).Decode(&meta)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return WebsiteMeta{}, nil
	}
	if err != nil {
		return WebsiteMeta{}, fmt.Errorf("find meta: %w", err)
	}
	return meta, nil
}

func (s *MongoStore) AddWhitelist(ctx context.Context, discordID string) error {
	_, err := s.db.Collection(collMeta).UpdateOne(ctx,
		bson.M{"_id": metaID},
		bson.M{"$addToSet": bson.M{"whitelist": discordID}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("add whitelist: %w", err)
	}
	return nil
}

func (s *MongoStore) RemoveWhitelist(ctx context.Context, discordID string) error {
	_, err := s.db.Collection(collMeta).UpdateOne(ctx,
		bson.M{"_id": metaID},
		bson.M{"$pull": bson.M{"whitelist": discordID}},
	)
	if err != nil {
		return fmt.Errorf("remove whitelist: %w", err)
	}
	return nil
}
