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

// MongoInvoiceRepository implements domain.InvoiceRepository.
// Items live in their own collection and are loaded with the invoice.
type MongoInvoiceRepository struct {
	invoices *mongo.Collection
	items    *mongo.Collection
}

// NewMongoInvoiceRepository creates a new invoice repository
func NewMongoInvoiceRepository(db *mongo.Database) *MongoInvoiceRepository {
	invoices := db.Collection("invoices")
	items := db.Collection("invoice_items")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Numbers are unique once assigned; unnumbered invoices are left out of the index
	_, _ = invoices.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "number", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"number": bson.M{"$type": "number"}}),
		},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "date", Value: -1}}},
	})
	_, _ = items.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "invoice_id", Value: 1}},
	})

	return &MongoInvoiceRepository{
		invoices: invoices,
		items:    items,
	}
}

// Create inserts the invoice followed by its items. Run it inside a transaction so a
// failed item insert leaves no orphan header.
func (r *MongoInvoiceRepository) Create(ctx context.Context, invoice *domain.Invoice) error {
	if invoice.Date.IsZero() {
		invoice.Date = time.Now().UTC()
	}

	objID := primitive.NewObjectID()
	invoice.ID = objID.Hex()

	doc := bson.M{
		"_id":              objID,
		"date":             invoice.Date,
		"number":           nil,
		"user_id":          invoice.UserID,
		"total":            toDecimal128(invoice.Total),
		"discount":         toDecimal128(invoice.Discount),
		"description":      invoice.Description,
		"address":          invoice.Address,
		"vat":              toDecimal128(invoice.VAT),
		"stock_shortfalls": bson.A{},
	}
	if _, err := r.invoices.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to create invoice: %w", err)
	}

	if len(invoice.Items) == 0 {
		return nil
	}

	docs := make([]interface{}, 0, len(invoice.Items))
	for i := range invoice.Items {
		item := &invoice.Items[i]
		itemID := primitive.NewObjectID()
		item.ID = itemID.Hex()
		item.InvoiceID = invoice.ID
		docs = append(docs, bson.M{
			"_id":        itemID,
			"invoice_id": objID,
			"product_id": item.ProductID,
			"name":       item.Name,
			"count":      item.Count,
			"price":      toDecimal128(item.Price),
			"discount":   toDecimal128(item.Discount),
			"total":      toDecimal128(item.Total),
		})
	}
	if _, err := r.items.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to create invoice items: %w", err)
	}
	return nil
}

func (r *MongoInvoiceRepository) GetByID(ctx context.Context, id string) (*domain.Invoice, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, domain.ErrNotFound
	}

	var raw bson.M
	if err := r.invoices.FindOne(ctx, bson.M{"_id": objID}).Decode(&raw); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}

	invoice := mapBsonToInvoice(raw)
	items, err := r.itemsFor(ctx, []primitive.ObjectID{objID})
	if err != nil {
		return nil, err
	}
	invoice.Items = items[invoice.ID]
	return invoice, nil
}

// GetByUserID lists a user's invoices, newest first, with their items.
func (r *MongoInvoiceRepository) GetByUserID(ctx context.Context, userID string) ([]*domain.Invoice, error) {
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: -1}})
	cursor, err := r.invoices.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices by user: %w", err)
	}
	defer cursor.Close(ctx)

	var invoices []*domain.Invoice
	var ids []primitive.ObjectID
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, err
		}
		if oid, ok := raw["_id"].(primitive.ObjectID); ok {
			ids = append(ids, oid)
		}
		invoices = append(invoices, mapBsonToInvoice(raw))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to list invoices by user: %w", err)
	}

	items, err := r.itemsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, inv := range invoices {
		inv.Items = items[inv.ID]
	}
	return invoices, nil
}

// AssignNumber sets the invoice number only when none has been assigned.
func (r *MongoInvoiceRepository) AssignNumber(ctx context.Context, id string, number int64) error {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.ErrNotFound
	}

	filter := bson.M{
		"_id":    objID,
		"number": nil,
	}
	result, err := r.invoices.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"number": number}})
	if err != nil {
		return fmt.Errorf("failed to assign invoice number: %w", err)
	}
	if result.MatchedCount == 0 {
		count, err := r.invoices.CountDocuments(ctx, bson.M{"_id": objID})
		if err != nil {
			return fmt.Errorf("failed to assign invoice number: %w", err)
		}
		if count == 0 {
			return domain.ErrNotFound
		}
		return domain.ErrNumberAssigned
	}
	return nil
}

// RecordShortfalls appends product ids whose stock could not cover the invoice.
func (r *MongoInvoiceRepository) RecordShortfalls(ctx context.Context, id string, productIDs []int64) error {
	if len(productIDs) == 0 {
		return nil
	}
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.ErrNotFound
	}

	update := bson.M{
		"$addToSet": bson.M{"stock_shortfalls": bson.M{"$each": productIDs}},
	}
	result, err := r.invoices.UpdateOne(ctx, bson.M{"_id": objID}, update)
	if err != nil {
		return fmt.Errorf("failed to record stock shortfalls: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// itemsFor loads the items of the given invoices grouped by invoice id hex.
func (r *MongoInvoiceRepository) itemsFor(ctx context.Context, invoiceIDs []primitive.ObjectID) (map[string][]domain.InvoiceItem, error) {
	out := make(map[string][]domain.InvoiceItem, len(invoiceIDs))
	if len(invoiceIDs) == 0 {
		return out, nil
	}

	opts := options.Find().SetSort(bson.D{{Key: "product_id", Value: 1}})
	cursor, err := r.items.Find(ctx, bson.M{"invoice_id": bson.M{"$in": invoiceIDs}}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoice items: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, err
		}
		item := mapBsonToInvoiceItem(raw)
		out[item.InvoiceID] = append(out[item.InvoiceID], item)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to list invoice items: %w", err)
	}
	return out, nil
}

func mapBsonToInvoice(raw bson.M) *domain.Invoice {
	invoice := &domain.Invoice{}

	if oid, ok := raw["_id"].(primitive.ObjectID); ok {
		invoice.ID = oid.Hex()
	}
	if date, ok := raw["date"].(primitive.DateTime); ok {
		invoice.Date = date.Time().UTC()
	}
	if number, ok := int64From(raw["number"]); ok {
		invoice.Number = &number
	}
	if userID, ok := raw["user_id"].(string); ok {
		invoice.UserID = userID
	}
	invoice.Total = decimalFrom(raw["total"])
	invoice.Discount = decimalFrom(raw["discount"])
	invoice.VAT = decimalFrom(raw["vat"])
	if description, ok := raw["description"].(string); ok {
		invoice.Description = description
	}
	if address, ok := raw["address"].(string); ok {
		invoice.Address = address
	}
	if shortfalls, ok := raw["stock_shortfalls"].(bson.A); ok {
		for _, v := range shortfalls {
			if id, ok := int64From(v); ok {
				invoice.StockShortfalls = append(invoice.StockShortfalls, id)
			}
		}
	}

	return invoice
}

func mapBsonToInvoiceItem(raw bson.M) domain.InvoiceItem {
	item := domain.InvoiceItem{}

	if oid, ok := raw["_id"].(primitive.ObjectID); ok {
		item.ID = oid.Hex()
	}
	if oid, ok := raw["invoice_id"].(primitive.ObjectID); ok {
		item.InvoiceID = oid.Hex()
	}
	if productID, ok := int64From(raw["product_id"]); ok {
		item.ProductID = productID
	}
	if name, ok := raw["name"].(string); ok {
		item.Name = name
	}
	if count, ok := int64From(raw["count"]); ok {
		item.Count = int(count)
	}
	item.Price = decimalFrom(raw["price"])
	item.Discount = decimalFrom(raw["discount"])
	item.Total = decimalFrom(raw["total"])

	return item
}
