package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/utafrali/DinerGo/pkg/database"
)

const profileCollection = "user_profiles"

type profileDocument struct {
	UserID          string `bson:"_id"`
	DeliveryAddress string `bson:"delivery_address"`
}

// ProfileRepository implements repository.ProfileRepository on db.user_profiles.
type ProfileRepository struct {
	collection *mongo.Collection
}

func NewProfileRepository(db *mongo.Database) *ProfileRepository {
	return &ProfileRepository{collection: db.Collection(profileCollection)}
}

// DeliveryAddress returns the user's saved address, or "" if they have no profile.
func (r *ProfileRepository) DeliveryAddress(ctx context.Context, userID string) (addr string, err error) {
	ctx, end := database.Trace(ctx, "mongodb", "GetDeliveryAddress", "user_profiles.findOne")
	defer func() { end(err) }()

	var doc profileDocument
	opts := options.FindOne().SetProjection(bson.M{"delivery_address": 1})
	if err = r.collection.FindOne(ctx, bson.M{"_id": userID}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", nil
		}
		return "", fmt.Errorf("find delivery address: %w", err)
	}
	return doc.DeliveryAddress, nil
}

// SaveDeliveryAddress upserts the user's profile with address.
func (r *ProfileRepository) SaveDeliveryAddress(ctx context.Context, userID, address string) (err error) {
	ctx, end := database.Trace(ctx, "mongodb", "SaveDeliveryAddress", "user_profiles.updateOne")
	defer func() { end(err) }()

	update := bson.M{
		"$set":         bson.M{"delivery_address": address},
		"$currentDate": bson.M{"updated_at": true},
	}
	_, err = r.collection.UpdateOne(ctx, bson.M{"_id": userID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert delivery address: %w", err)
	}
	return nil
}
