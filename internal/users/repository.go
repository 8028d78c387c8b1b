package users

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/noosphere/hub/internal/models"
)

var (
	// ErrDuplicateUser is returned by Insert when the id, email or api key
	// is already taken.
	ErrDuplicateUser = errors.New("user already exists")
	// ErrUserNotFound is returned by operations that require an existing user.
	ErrUserNotFound = errors.New("user not found")
)

// ActivationFilter restricts lookups by the activated flag.
type ActivationFilter int

const (
	AnyStatus ActivationFilter = iota
	ActiveOnly
	InactiveOnly
)

// Matches reports whether u passes the filter.
func (f ActivationFilter) Matches(u *models.User) bool {
	switch f {
	case ActiveOnly:
		return u.Activated
	case InactiveOnly:
		return !u.Activated
	}
	return true
}

func (f ActivationFilter) String() string {
	switch f {
	case ActiveOnly:
		return "active"
	case InactiveOnly:
		return "inactive"
	}
	return "any"
}

// UserRepository defines persistence operations for users.
// Lookups return (nil, nil) when nothing matches.
type UserRepository interface {
	GetByAPIKey(ctx context.Context, apiKey string, f ActivationFilter) (*models.User, error)
	GetByEmail(ctx context.Context, email string, f ActivationFilter) (*models.User, error)
	Insert(ctx context.Context, u *models.User) error
	Save(ctx context.Context, u *models.User) error
}

// AuthorityRepository stores every role name ever observed.
type AuthorityRepository interface {
	List(ctx context.Context) ([]models.Authority, error)
	// Insert adds the name; inserting an existing name is a no-op.
	Insert(ctx context.Context, name string) error
}

// MongoUserRepository implements UserRepository using MongoDB
type MongoUserRepository struct {
	col *mongo.Collection
}

// NewMongoUserRepository creates a new repository for the given collection
func NewMongoUserRepository(col *mongo.Collection) *MongoUserRepository {
	return &MongoUserRepository{col: col}
}

func withActivation(filter bson.M, f ActivationFilter) bson.M {
	switch f {
	case ActiveOnly:
		filter["activated"] = true
	case InactiveOnly:
		filter["activated"] = false
	}
	return filter
}

func (r *MongoUserRepository) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var u models.User
	if err := r.col.FindOne(ctx, filter).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (r *MongoUserRepository) GetByAPIKey(ctx context.Context, apiKey string, f ActivationFilter) (*models.User, error) {
	return r.findOne(ctx, withActivation(bson.M{"apiKey": apiKey}, f))
}

func (r *MongoUserRepository) GetByEmail(ctx context.Context, email string, f ActivationFilter) (*models.User, error) {
	return r.findOne(ctx, withActivation(bson.M{"email": email}, f))
}

func (r *MongoUserRepository) Insert(ctx context.Context, u *models.User) error {
	if _, err := r.col.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateUser, u.ID)
		}
		return err
	}
	return nil
}

func (r *MongoUserRepository) Save(ctx context.Context, u *models.User) error {
	opts := options.Replace().SetUpsert(true)
	if _, err := r.col.ReplaceOne(ctx, bson.M{"_id": u.ID}, u, opts); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateUser, u.ID)
		}
		return err
	}
	return nil
}

// MongoAuthorityRepository implements AuthorityRepository using MongoDB
type MongoAuthorityRepository struct {
	col *mongo.Collection
}

func NewMongoAuthorityRepository(col *mongo.Collection) *MongoAuthorityRepository {
	return &MongoAuthorityRepository{col: col}
}

func (r *MongoAuthorityRepository) List(ctx context.Context) ([]models.Authority, error) {
	cur, err := r.col.Find(ctx, bson.M{}, options.Find().SetSort(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []models.Authority
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoAuthorityRepository) Insert(ctx context.Context, name string) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"_id": name},
		bson.M{"$setOnInsert": bson.M{"_id": name}},
		options.Update().SetUpsert(true))
	return err
}
