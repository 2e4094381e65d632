package account

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/dmitrymomot/creditkit/pkg/catalog"
)

// mongoDoc is the persisted shape of an account record. A version counter
// provides optimistic per-account serialization: Update re-reads and retries
// when another writer got in between.
type mongoDoc struct {
	ID                   string     `bson:"_id"`
	Email                string     `bson:"email"`
	Credits              int64      `bson:"credits"`
	SubscriptionTier     *string    `bson:"subscription_tier,omitempty"`
	SubscriptionActive   bool       `bson:"subscription_active"`
	SubscriptionExpires  *time.Time `bson:"subscription_expires_at,omitempty"`
	PendingCheckoutToken *string    `bson:"pending_checkout_token,omitempty"`
	CreatedAt            time.Time  `bson:"created_at"`
	UpdatedAt            time.Time  `bson:"updated_at"`
	Version              int64      `bson:"version"`
}

// mongoUpdateRetries bounds the optimistic retry loop; contention on a single
// account is already serialized by the callers' workflow, so conflicts are rare.
const mongoUpdateRetries = 5

type mongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore returns a Store backed by the given collection.
func NewMongoStore(coll *mongo.Collection) Store {
	if coll == nil {
		panic("account: mongo collection is required")
	}
	return &mongoStore{coll: coll}
}

func docFromRecord(rec *Record) *mongoDoc {
	doc := &mongoDoc{
		ID:        rec.ID.String(),
		Email:     rec.Email,
		Credits:   rec.Credits,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if rec.Subscription != nil {
		t := string(rec.Subscription.Tier)
		doc.SubscriptionTier = &t
		doc.SubscriptionActive = rec.Subscription.Active
		doc.SubscriptionExpires = rec.Subscription.ExpiresAt
	}
	if rec.PendingCheckoutToken != "" {
		doc.PendingCheckoutToken = &rec.PendingCheckoutToken
	}
	return doc
}

func (d *mongoDoc) toRecord() (*Record, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadAccount, err)
	}
	rec := &Record{
		ID:        id,
		Email:     d.Email,
		Credits:   d.Credits,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if d.SubscriptionTier != nil {
		rec.Subscription = &Subscription{
			Tier:      catalog.Tier(*d.SubscriptionTier),
			Active:    d.SubscriptionActive,
			ExpiresAt: d.SubscriptionExpires,
		}
	}
	if d.PendingCheckoutToken != nil {
		rec.PendingCheckoutToken = *d.PendingCheckoutToken
	}
	return rec, nil
}

func (s *mongoStore) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	var doc mongoDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrAccountNotFound
		}
		return nil, errors.Join(ErrFailedToLoadAccount, err)
	}
	return doc.toRecord()
}

func (s *mongoStore) Create(ctx context.Context, rec *Record) error {
	doc := docFromRecord(rec)
	doc.Version = 1
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrAccountAlreadyExists
		}
		return errors.Join(ErrFailedToSaveAccount, err)
	}
	return nil
}

func (s *mongoStore) Update(ctx context.Context, id uuid.UUID, fn UpdateFunc) (*Record, error) {
	for range mongoUpdateRetries {
		var cur mongoDoc
		err := s.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&cur)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return nil, ErrAccountNotFound
			}
			return nil, errors.Join(ErrFailedToLoadAccount, err)
		}

		rec, err := cur.toRecord()
		if err != nil {
			return nil, err
		}
		if err := fn(rec); err != nil {
			return nil, err
		}
		rec.UpdatedAt = time.Now().UTC()

		next := docFromRecord(rec)
		next.Version = cur.Version + 1

		res, err := s.coll.ReplaceOne(ctx,
			bson.M{"_id": id.String(), "version": cur.Version}, next)
		if err != nil {
			return nil, errors.Join(ErrFailedToSaveAccount, err)
		}
		if res.ModifiedCount == 1 {
			return rec, nil
		}
		// Version moved underneath us, reload and retry.
	}
	return nil, ErrConcurrentUpdate
}
