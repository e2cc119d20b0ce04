package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/mansoorceksport/storefront/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoPaymentRepository implements domain.PaymentRepository
type MongoPaymentRepository struct {
	collection *mongo.Collection
}

func NewMongoPaymentRepository(db *mongo.Database) *MongoPaymentRepository {
	coll := db.Collection("payments")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// One payment per invoice, and an authority maps to at most one payment
	_, _ = coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "invoice_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "authority", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"authority": bson.M{"$gt": ""}}),
		},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
	})

	return &MongoPaymentRepository{
		collection: coll,
	}
}

func (r *MongoPaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	now := time.Now().UTC()
	payment.CreatedAt = now
	payment.UpdatedAt = now
	if payment.Status == "" {
		payment.Status = domain.PaymentStatusPending
	}

	invoiceID, err := primitive.ObjectIDFromHex(payment.InvoiceID)
	if err != nil {
		return fmt.Errorf("invalid invoice id: %w", err)
	}

	objID := primitive.NewObjectID()
	payment.ID = objID.Hex()

	doc := bson.M{
		"_id":           objID,
		"invoice_id":    invoiceID,
		"user_id":       payment.UserID,
		"total":         toDecimal128(payment.Total),
		"ref":           payment.Ref,
		"status":        string(payment.Status),
		"authority":     payment.Authority,
		"description":   payment.Description,
		"user_ip":       payment.UserIP,
		"session_id":    payment.SessionID,
		"error_code":    payment.ErrorCode,
		"error_message": payment.ErrorMessage,
		"created_at":    payment.CreatedAt,
		"updated_at":    payment.UpdatedAt,
	}

	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (r *MongoPaymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, domain.ErrNotFound
	}
	return r.findOne(ctx, bson.M{"_id": objID})
}

func (r *MongoPaymentRepository) GetByInvoiceID(ctx context.Context, invoiceID string) (*domain.Payment, error) {
	objID, err := primitive.ObjectIDFromHex(invoiceID)
	if err != nil {
		return nil, domain.ErrNotFound
	}
	return r.findOne(ctx, bson.M{"invoice_id": objID})
}

// GetPendingByAuthority resolves a gateway callback. Settled payments never match,
// so a replayed callback finds nothing.
func (r *MongoPaymentRepository) GetPendingByAuthority(ctx context.Context, authority string) (*domain.Payment, error) {
	if authority == "" {
		return nil, domain.ErrPaymentNotFound
	}
	payment, err := r.findOne(ctx, bson.M{
		"authority": authority,
		"status":    string(domain.PaymentStatusPending),
	})
	if err == domain.ErrNotFound {
		return nil, domain.ErrPaymentNotFound
	}
	return payment, err
}

// SetAuthority attaches the gateway token to a pending payment that has none yet.
func (r *MongoPaymentRepository) SetAuthority(ctx context.Context, id, authority string) error {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.ErrNotFound
	}

	filter := bson.M{
		"_id":       objID,
		"status":    string(domain.PaymentStatusPending),
		"authority": "",
	}
	update := bson.M{
		"$set": bson.M{
			"authority":  authority,
			"updated_at": time.Now().UTC(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to set payment authority: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrTransitionRejected
	}
	return nil
}

// Transition moves the payment from one status to another in a single conditional update.
// Concurrent callers race on the status filter and exactly one wins.
func (r *MongoPaymentRepository) Transition(ctx context.Context, id string, from, to domain.PaymentStatus, update domain.PaymentUpdate) error {
	if !from.CanTransitionTo(to) {
		return domain.ErrInvalidTransition
	}
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.ErrNotFound
	}

	set := bson.M{
		"status":     string(to),
		"updated_at": time.Now().UTC(),
	}
	if update.Ref != "" {
		set["ref"] = update.Ref
	}
	if update.ErrorCode != "" {
		set["error_code"] = update.ErrorCode
	}
	if update.ErrorMessage != "" {
		set["error_message"] = update.ErrorMessage
	}

	filter := bson.M{
		"_id":    objID,
		"status": string(from),
	}
	result, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to transition payment: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrTransitionRejected
	}
	return nil
}

// ListPendingBefore returns pending payments created before the cutoff, oldest first.
func (r *MongoPaymentRepository) ListPendingBefore(ctx context.Context, before time.Time, limit int64) ([]*domain.Payment, error) {
	filter := bson.M{
		"status":     string(domain.PaymentStatusPending),
		"created_at": bson.M{"$lt": before},
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending payments: %w", err)
	}
	defer cursor.Close(ctx)

	var payments []*domain.Payment
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, err
		}
		payments = append(payments, mapBsonToPayment(raw))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to list pending payments: %w", err)
	}
	return payments, nil
}

func (r *MongoPaymentRepository) findOne(ctx context.Context, filter bson.M) (*domain.Payment, error) {
	var raw bson.M
	if err := r.collection.FindOne(ctx, filter).Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return mapBsonToPayment(raw), nil
}

func mapBsonToPayment(raw bson.M) *domain.Payment {
	payment := &domain.Payment{}

	if oid, ok := raw["_id"].(primitive.ObjectID); ok {
		payment.ID = oid.Hex()
	}
	if oid, ok := raw["invoice_id"].(primitive.ObjectID); ok {
		payment.InvoiceID = oid.Hex()
	}
	if userID, ok := raw["user_id"].(string); ok {
		payment.UserID = userID
	}
	payment.Total = decimalFrom(raw["total"])
	if ref, ok := raw["ref"].(string); ok {
		payment.Ref = ref
	}
	if status, ok := raw["status"].(string); ok {
		payment.Status = domain.PaymentStatus(status)
	}
	if authority, ok := raw["authority"].(string); ok {
		payment.Authority = authority
	}
	if description, ok := raw["description"].(string); ok {
		payment.Description = description
	}
	if ip, ok := raw["user_ip"].(string); ok {
		payment.UserIP = ip
	}
	if sessionID, ok := raw["session_id"].(string); ok {
		payment.SessionID = sessionID
	}
	if code, ok := raw["error_code"].(string); ok {
		payment.ErrorCode = code
	}
	if message, ok := raw["error_message"].(string); ok {
		payment.ErrorMessage = message
	}
	if created, ok := raw["created_at"].(primitive.DateTime); ok {
		payment.CreatedAt = created.Time().UTC()
	}
	if updated, ok := raw["updated_at"].(primitive.DateTime); ok {
		payment.UpdatedAt = updated.Time().UTC()
	}

	return payment
}
