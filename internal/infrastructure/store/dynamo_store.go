package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/example/foodlots/internal/domain/freshness"
	"github.com/example/foodlots/internal/domain/lot"
	"github.com/example/foodlots/internal/domain/reservation"
	"github.com/shopspring/decimal"
)

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoStore stores lots and reservations in two DynamoDB tables keyed by id.
// Reservation changes reach the notifier through the table's Kinesis stream.
type DynamoStore struct {
	client            DynamoAPI
	lotsTable         string
	reservationsTable string
}

var _ Store = (*DynamoStore)(nil)

func NewDynamoStore(client DynamoAPI, lotsTable, reservationsTable string) *DynamoStore {
	return &DynamoStore{
		client:            client,
		lotsTable:         lotsTable,
		reservationsTable: reservationsTable,
	}
}

// dynamoDecimal is stored as a DynamoDB number so condition expressions compare numerically.
type dynamoDecimal struct {
	decimal.Decimal
}

func (d dynamoDecimal) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberN{Value: d.String()}, nil
}

func (d *dynamoDecimal) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return fmt.Errorf("expected number attribute, got %T", av)
	}
	v, err := decimal.NewFromString(n.Value)
	if err != nil {
		return err
	}
	d.Decimal = v
	return nil
}

func numberValue(d decimal.Decimal) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: d.String()}
}

type dynamoLot struct {
	ID                string        `dynamodbav:"id"`
	Product           string        `dynamodbav:"product"`
	Unit              string        `dynamodbav:"unit"`
	QuantityTotal     dynamoDecimal `dynamodbav:"quantity_total"`
	QuantityAvailable dynamoDecimal `dynamodbav:"quantity_available"`
	ExpiresAt         string        `dynamodbav:"expires_at"`
	PermanenceDays    int           `dynamodbav:"permanence_days"`
	Price             dynamoDecimal `dynamodbav:"price"`
	OwnerID           string        `dynamodbav:"owner_id"`
	Freshness         int           `dynamodbav:"freshness"`
	Version           int           `dynamodbav:"version"`
	CreatedAt         string        `dynamodbav:"created_at"`
	UpdatedAt         string        `dynamodbav:"updated_at"`
}

func toDynamoLot(l lot.Lot) dynamoLot {
	return dynamoLot{
		ID:                l.ID,
		Product:           l.Product,
		Unit:              string(l.Unit),
		QuantityTotal:     dynamoDecimal{l.QuantityTotal},
		QuantityAvailable: dynamoDecimal{l.QuantityAvailable},
		ExpiresAt:         l.ExpiresAt.Format(time.RFC3339Nano),
		PermanenceDays:    l.PermanenceDays,
		Price:             dynamoDecimal{l.Price},
		OwnerID:           l.OwnerID,
		Freshness:         int(l.Freshness),
		Version:           l.Version,
		CreatedAt:         l.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:         l.UpdatedAt.Format(time.RFC3339Nano),
	}
}

// parseTime parses an RFC 3339 attribute, naming the item and field on failure.
func parseTime(id, field, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("item %s: invalid %s: %w", id, field, err)
	}
	return t, nil
}

func (d dynamoLot) toLot() (lot.Lot, error) {
	expiresAt, err := parseTime(d.ID, "expires_at", d.ExpiresAt)
	if err != nil {
		return lot.Lot{}, err
	}
	createdAt, err := parseTime(d.ID, "created_at", d.CreatedAt)
	if err != nil {
		return lot.Lot{}, err
	}
	updatedAt, err := parseTime(d.ID, "updated_at", d.UpdatedAt)
	if err != nil {
		return lot.Lot{}, err
	}
	return lot.Lot{
		ID:                d.ID,
		Product:           d.Product,
		Unit:              lot.Unit(d.Unit),
		QuantityTotal:     d.QuantityTotal.Decimal,
		QuantityAvailable: d.QuantityAvailable.Decimal,
		ExpiresAt:         expiresAt,
		PermanenceDays:    d.PermanenceDays,
		Price:             d.Price.Decimal,
		OwnerID:           d.OwnerID,
		Freshness:         freshness.State(d.Freshness),
		Version:           d.Version,
		CreatedAt:         createdAt,
		UpdatedAt:         updatedAt,
	}, nil
}

type dynamoReservation struct {
	ID         string        `dynamodbav:"id"`
	LotID      string        `dynamodbav:"lot_id"`
	ActorID    string        `dynamodbav:"actor_id"`
	ActorEmail string        `dynamodbav:"actor_email"`
	Quantity   dynamoDecimal `dynamodbav:"quantity"`
	Note       string        `dynamodbav:"note"`
	Status     string        `dynamodbav:"status"`
	Version    int           `dynamodbav:"version"`
	CreatedAt  string        `dynamodbav:"created_at"`
	UpdatedAt  string        `dynamodbav:"updated_at"`
}

func toDynamoReservation(r reservation.Reservation) dynamoReservation {
	return dynamoReservation{
		ID:         r.ID,
		LotID:      r.LotID,
		ActorID:    r.ActorID,
		ActorEmail: r.ActorEmail,
		Quantity:   dynamoDecimal{r.Quantity},
		Note:       r.Note,
		Status:     string(r.Status),
		Version:    r.Version,
		CreatedAt:  r.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:  r.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func (d dynamoReservation) toReservation() (reservation.Reservation, error) {
	createdAt, err := parseTime(d.ID, "created_at", d.CreatedAt)
	if err != nil {
		return reservation.Reservation{}, err
	}
	updatedAt, err := parseTime(d.ID, "updated_at", d.UpdatedAt)
	if err != nil {
		return reservation.Reservation{}, err
	}
	return reservation.Reservation{
		ID:         d.ID,
		LotID:      d.LotID,
		ActorID:    d.ActorID,
		ActorEmail: d.ActorEmail,
		Quantity:   d.Quantity.Decimal,
		Note:       d.Note,
		Status:     reservation.Status(d.Status),
		Version:    d.Version,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}, nil
}

func decodeLot(item map[string]types.AttributeValue) (lot.Lot, error) {
	var dl dynamoLot
	if err := attributevalue.UnmarshalMap(item, &dl); err != nil {
		return lot.Lot{}, fmt.Errorf("failed to unmarshal lot: %w", err)
	}
	l, err := dl.toLot()
	if err != nil {
		return lot.Lot{}, fmt.Errorf("failed to decode lot: %w", err)
	}
	return l, nil
}

func decodeReservation(item map[string]types.AttributeValue) (reservation.Reservation, error) {
	var dr dynamoReservation
	if err := attributevalue.UnmarshalMap(item, &dr); err != nil {
		return reservation.Reservation{}, fmt.Errorf("failed to unmarshal reservation: %w", err)
	}
	r, err := dr.toReservation()
	if err != nil {
		return reservation.Reservation{}, fmt.Errorf("failed to decode reservation: %w", err)
	}
	return r, nil
}

func idKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func (s *DynamoStore) CreateLot(ctx context.Context, l lot.Lot) error {
	av, err := attributevalue.MarshalMap(toDynamoLot(l))
	if err != nil {
		return fmt.Errorf("failed to marshal lot: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.lotsTable),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if isConditionFailed(err) {
		return ErrStaleWrite
	}
	if err != nil {
		return fmt.Errorf("failed to put lot: %w", err)
	}
	return nil
}

func (s *DynamoStore) GetLot(ctx context.Context, id string) (lot.Lot, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.lotsTable),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return lot.Lot{}, fmt.Errorf("failed to get lot: %w", err)
	}
	if result.Item == nil {
		return lot.Lot{}, lot.ErrLotNotFound
	}

	return decodeLot(result.Item)
}

// scanAll reads every item of a table, following pagination.
func (s *DynamoStore) scanAll(ctx context.Context, table string) ([]map[string]types.AttributeValue, error) {
	var (
		items    []map[string]types.AttributeValue
		startKey map[string]types.AttributeValue
	)
	for {
		result, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(table),
			ExclusiveStartKey: startKey,
			ConsistentRead:    aws.Bool(true),
		})
		if err != nil {
			return nil, err
		}
		items = append(items, result.Items...)
		if len(result.LastEvaluatedKey) == 0 {
			return items, nil
		}
		startKey = result.LastEvaluatedKey
	}
}

// ListLots scans the lots table and filters in memory. Freshness depends on the
// request time, so it cannot be pushed into a filter expression.
func (s *DynamoStore) ListLots(ctx context.Context, f lot.Filter) ([]lot.Lot, error) {
	items, err := s.scanAll(ctx, s.lotsTable)
	if err != nil {
		return nil, fmt.Errorf("failed to scan lots: %w", err)
	}

	out := make([]lot.Lot, 0, len(items))
	for _, item := range items {
		l, err := decodeLot(item)
		if err != nil {
			return nil, err
		}
		if f.Matches(&l) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return paginate(out, f.Limit, f.Offset), nil
}

func (s *DynamoStore) SetFreshness(ctx context.Context, lotID string, state freshness.State, at time.Time) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.lotsTable),
		Key:                 idKey(lotID),
		UpdateExpression:    aws.String("SET freshness = :s, updated_at = :at"),
		ConditionExpression: aws.String("attribute_exists(id) AND freshness < :s"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s":  &types.AttributeValueMemberN{Value: strconv.Itoa(int(state))},
			":at": &types.AttributeValueMemberS{Value: at.Format(time.RFC3339Nano)},
		},
	})
	if err == nil {
		return nil
	}
	if !isConditionFailed(err) {
		return fmt.Errorf("failed to set freshness: %w", err)
	}
	// Either the lot is missing or it is already at or past state.
	_, err = s.GetLot(ctx, lotID)
	return err
}

func (s *DynamoStore) GetReservation(ctx context.Context, id string) (reservation.Reservation, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.reservationsTable),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return reservation.Reservation{}, fmt.Errorf("failed to get reservation: %w", err)
	}
	if result.Item == nil {
		return reservation.Reservation{}, reservation.ErrReservationNotFound
	}

	return decodeReservation(result.Item)
}

func (s *DynamoStore) ListReservations(ctx context.Context, f reservation.Filter) ([]reservation.Reservation, error) {
	items, err := s.scanAll(ctx, s.reservationsTable)
	if err != nil {
		return nil, fmt.Errorf("failed to scan reservations: %w", err)
	}

	out := make([]reservation.Reservation, 0, len(items))
	for _, item := range items {
		r, err := decodeReservation(item)
		if err != nil {
			return nil, err
		}
		if f.Matches(&r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return paginate(out, f.Limit, f.Offset), nil
}

// RunInTx collects the writes fn stages and commits them with one TransactWriteItems call.
// Any failed condition cancels the whole transaction.
func (s *DynamoStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &dynamoTx{s: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if len(tx.items) == 0 {
		return nil
	}

	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: tx.items,
	})
	if err == nil {
		return nil
	}

	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		for _, reason := range tce.CancellationReasons {
			if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
				return ErrStaleWrite
			}
		}
	}
	return fmt.Errorf("failed to commit transaction: %w", err)
}

type dynamoTx struct {
	s     *DynamoStore
	items []types.TransactWriteItem
}

func (t *dynamoTx) AdjustAvailable(ctx context.Context, lotID string, delta, expected decimal.Decimal) (lot.Lot, error) {
	l, err := t.s.GetLot(ctx, lotID)
	if err != nil {
		return lot.Lot{}, err
	}
	if !l.QuantityAvailable.Equal(expected) {
		return lot.Lot{}, ErrStaleWrite
	}
	if !l.CanAdjust(delta) {
		return lot.Lot{}, ErrOutOfBounds
	}

	l.QuantityAvailable = l.QuantityAvailable.Add(delta)
	l.Version++
	l.UpdatedAt = time.Now().UTC()

	t.items = append(t.items, types.TransactWriteItem{
		Update: &types.Update{
			TableName:           aws.String(t.s.lotsTable),
			Key:                 idKey(lotID),
			UpdateExpression:    aws.String("SET quantity_available = :next, version = :version, updated_at = :at"),
			ConditionExpression: aws.String("quantity_available = :expected"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":next":     numberValue(l.QuantityAvailable),
				":expected": numberValue(expected),
				":version":  &types.AttributeValueMemberN{Value: strconv.Itoa(l.Version)},
				":at":       &types.AttributeValueMemberS{Value: l.UpdatedAt.Format(time.RFC3339Nano)},
			},
		},
	})
	return l, nil
}

func (t *dynamoTx) SaveReservation(ctx context.Context, r reservation.Reservation, expectedVersion int) error {
	av, err := attributevalue.MarshalMap(toDynamoReservation(r))
	if err != nil {
		return fmt.Errorf("failed to marshal reservation: %w", err)
	}

	put := &types.Put{
		TableName: aws.String(t.s.reservationsTable),
		Item:      av,
	}
	if expectedVersion == 0 {
		put.ConditionExpression = aws.String("attribute_not_exists(id)")
	} else {
		put.ConditionExpression = aws.String("version = :ev")
		put.ExpressionAttributeValues = map[string]types.AttributeValue{
			":ev": &types.AttributeValueMemberN{Value: strconv.Itoa(expectedVersion)},
		}
	}

	t.items = append(t.items, types.TransactWriteItem{Put: put})
	return nil
}
