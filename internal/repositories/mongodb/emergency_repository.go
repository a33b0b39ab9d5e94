package mongodb

import (
	"context"
	"fmt"
	"time"

	"goride-sos/internal/models"
	"goride-sos/internal/repositories/interfaces"
	"goride-sos/internal/utils"
	"goride-sos/pkg/cache"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const activeEmergencyCacheTTL = 5 * time.Minute

type emergencyRepository struct {
	collection *mongo.Collection
	cache      *cache.RedisCache
}

func NewEmergencyRepository(db *mongo.Database, cacheService *cache.RedisCache) interfaces.EmergencyRepository {
	return &emergencyRepository{
		collection: db.Collection("emergencies"),
		cache:      cacheService,
	}
}

func (r *emergencyRepository) Create(ctx context.Context, emergency *models.Emergency) error {
	if emergency.ID.IsZero() {
		emergency.ID = primitive.NewObjectID()
	}
	emergency.CreatedAt = time.Now()
	emergency.UpdatedAt = emergency.CreatedAt

	if _, err := r.collection.InsertOne(ctx, emergency); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return models.ErrDuplicateActiveEmergency
		}
		return fmt.Errorf("failed to create emergency: %w", err)
	}

	r.cacheEmergency(ctx, emergency)

	return nil
}

func (r *emergencyRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Emergency, error) {
	if emergency := r.getEmergencyFromCache(ctx, id.Hex()); emergency != nil {
		return emergency, nil
	}

	var emergency models.Emergency
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&emergency)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, models.ErrEmergencyNotFound
		}
		return nil, fmt.Errorf("failed to get emergency: %w", err)
	}

	r.cacheEmergency(ctx, &emergency)

	return &emergency, nil
}

func (r *emergencyRepository) GetActiveByReporter(ctx context.Context, reporterID, rideID primitive.ObjectID) (*models.Emergency, error) {
	filter := bson.M{
		"reporter_id": reporterID,
		"status":      bson.M{"$in": bson.A{models.EmergencyStatusActive, models.EmergencyStatusResponding}},
	}
	if rideID.IsZero() {
		filter["ride_context"] = nil
	} else {
		filter["ride_context.ride_id"] = rideID
	}

	var emergency models.Emergency
	err := r.collection.FindOne(ctx, filter).Decode(&emergency)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, models.ErrEmergencyNotFound
		}
		return nil, fmt.Errorf("failed to get active emergency: %w", err)
	}

	return &emergency, nil
}

func (r *emergencyRepository) UpdateStatus(ctx context.Context, id primitive.ObjectID, allowedFrom []models.EmergencyStatus, to models.EmergencyStatus, event models.TimelineEvent, updates map[string]interface{}) (bool, error) {
	filter := bson.M{
		"_id":    id,
		"status": bson.M{"$in": allowedFrom},
	}

	set := bson.M{
		"status":     to,
		"updated_at": time.Now(),
	}
	for k, v := range updates {
		set[k] = v
	}

	result, err := r.collection.UpdateOne(ctx, filter, bson.M{
		"$set":  set,
		"$push": bson.M{"timeline": event},
	})
	if err != nil {
		return false, fmt.Errorf("failed to update emergency status: %w", err)
	}

	if result.ModifiedCount > 0 {
		r.invalidateEmergencyCache(ctx, id.Hex())
		return true, nil
	}

	return false, nil
}

func (r *emergencyRepository) UpdateLocation(ctx context.Context, id primitive.ObjectID, sample *models.LocationSample, event *models.TimelineEvent) (bool, error) {
	// Freshness guard lives in the filter so a stale retry can never win,
	// whatever order the requests land in.
	filter := bson.M{
		"_id":    id,
		"status": bson.M{"$in": bson.A{models.EmergencyStatusActive, models.EmergencyStatusResponding}},
		"$or": bson.A{
			bson.M{"last_location": nil},
			bson.M{"last_location.timestamp": bson.M{"$lt": sample.Timestamp}},
		},
	}

	update := bson.M{
		"$set": bson.M{
			"last_location": sample,
			"updated_at":    time.Now(),
		},
	}
	if event != nil {
		update["$push"] = bson.M{"timeline": *event}
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to update emergency location: %w", err)
	}

	if result.ModifiedCount > 0 {
		r.invalidateEmergencyCache(ctx, id.Hex())
		return true, nil
	}

	return false, nil
}

func (r *emergencyRepository) AddResponder(ctx context.Context, id, responderID primitive.ObjectID, event models.TimelineEvent) (bool, error) {
	filter := bson.M{
		"_id":        id,
		"status":     bson.M{"$in": bson.A{models.EmergencyStatusActive, models.EmergencyStatusResponding}},
		"responders": bson.M{"$ne": responderID},
	}

	result, err := r.collection.UpdateOne(ctx, filter, bson.M{
		"$addToSet": bson.M{"responders": responderID},
		"$push":     bson.M{"timeline": event},
		"$set":      bson.M{"updated_at": time.Now()},
	})
	if err != nil {
		return false, fmt.Errorf("failed to add responder: %w", err)
	}

	if result.ModifiedCount > 0 {
		r.invalidateEmergencyCache(ctx, id.Hex())
		return true, nil
	}

	return false, nil
}

func (r *emergencyRepository) RemoveResponder(ctx context.Context, id, responderID primitive.ObjectID, event models.TimelineEvent) (bool, error) {
	filter := bson.M{
		"_id":        id,
		"status":     bson.M{"$in": bson.A{models.EmergencyStatusActive, models.EmergencyStatusResponding}},
		"responders": responderID,
	}

	result, err := r.collection.UpdateOne(ctx, filter, bson.M{
		"$pull": bson.M{"responders": responderID},
		"$push": bson.M{"timeline": event},
		"$set":  bson.M{"updated_at": time.Now()},
	})
	if err != nil {
		return false, fmt.Errorf("failed to remove responder: %w", err)
	}

	if result.ModifiedCount > 0 {
		r.invalidateEmergencyCache(ctx, id.Hex())
		return true, nil
	}

	return false, nil
}

func (r *emergencyRepository) AppendTimeline(ctx context.Context, id primitive.ObjectID, event models.TimelineEvent) error {
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$push": bson.M{"timeline": event},
		"$set":  bson.M{"updated_at": time.Now()},
	})
	if err != nil {
		return fmt.Errorf("failed to append timeline event: %w", err)
	}
	if result.MatchedCount == 0 {
		return models.ErrEmergencyNotFound
	}

	r.invalidateEmergencyCache(ctx, id.Hex())

	return nil
}

func (r *emergencyRepository) SetAddress(ctx context.Context, id primitive.ObjectID, address string) error {
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"address": address, "updated_at": time.Now()},
	})
	if err != nil {
		return fmt.Errorf("failed to set emergency address: %w", err)
	}

	r.invalidateEmergencyCache(ctx, id.Hex())

	return nil
}

func (r *emergencyRepository) ListByStatus(ctx context.Context, status models.EmergencyStatus, params *utils.PaginationParams) ([]*models.Emergency, int64, error) {
	filter := bson.M{"status": status}

	total, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count emergencies: %w", err)
	}

	cursor, err := r.collection.Find(ctx, filter, params.FindOptions())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to find emergencies: %w", err)
	}
	defer cursor.Close(ctx)

	emergencies, err := decodeEmergencies(ctx, cursor)
	if err != nil {
		return nil, 0, err
	}

	return emergencies, total, nil
}

func (r *emergencyRepository) ListActive(ctx context.Context) ([]*models.Emergency, error) {
	filter := bson.M{
		"status": bson.M{"$in": bson.A{models.EmergencyStatusActive, models.EmergencyStatusResponding}},
	}

	cursor, err := r.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to find active emergencies: %w", err)
	}
	defer cursor.Close(ctx)

	return decodeEmergencies(ctx, cursor)
}

func (r *emergencyRepository) ListStale(ctx context.Context, olderThan time.Duration) ([]*models.Emergency, error) {
	cutoff := time.Now().Add(-olderThan)

	// RESPONDING is excluded on purpose: an operator is already engaged,
	// and a silent device mid-incident must not withdraw the alert.
	filter := bson.M{
		"status": models.EmergencyStatusActive,
		"$and": bson.A{
			bson.M{"created_at": bson.M{"$lt": cutoff}},
			bson.M{"$or": bson.A{
				bson.M{"last_location": nil},
				bson.M{"last_location.timestamp": bson.M{"$lt": cutoff}},
			}},
		},
	}

	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find stale emergencies: %w", err)
	}
	defer cursor.Close(ctx)

	return decodeEmergencies(ctx, cursor)
}

func decodeEmergencies(ctx context.Context, cursor *mongo.Cursor) ([]*models.Emergency, error) {
	var emergencies []*models.Emergency
	for cursor.Next(ctx) {
		var emergency models.Emergency
		if err := cursor.Decode(&emergency); err != nil {
			return nil, fmt.Errorf("failed to decode emergency: %w", err)
		}
		emergencies = append(emergencies, &emergency)
	}

	return emergencies, cursor.Err()
}

func (r *emergencyRepository) cacheEmergency(ctx context.Context, emergency *models.Emergency) {
	if r.cache == nil || emergency.IsTerminal() {
		return
	}
	_ = r.cache.Set(ctx, emergencyCacheKey(emergency.ID.Hex()), emergency, activeEmergencyCacheTTL)
}

func (r *emergencyRepository) getEmergencyFromCache(ctx context.Context, id string) *models.Emergency {
	if r.cache == nil {
		return nil
	}

	var emergency models.Emergency
	if err := r.cache.Get(ctx, emergencyCacheKey(id), &emergency); err != nil {
		return nil
	}

	return &emergency
}

func (r *emergencyRepository) invalidateEmergencyCache(ctx context.Context, id string) {
	if r.cache == nil {
		return
	}
	_ = r.cache.Delete(ctx, emergencyCacheKey(id))
}

func emergencyCacheKey(id string) string {
	return "emergency:" + id
}
