package kinesis

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/example/foodlots/internal/domain/reservation"
	"github.com/example/foodlots/internal/notification"
	"github.com/shopspring/decimal"
)

// ConvertFromKinesisRecord converts a Kinesis record carrying a change to the
// reservations table (DynamoDB Streams format) into a lifecycle notification.
// It returns nil for changes that do not produce a notification.
func ConvertFromKinesisRecord(record events.KinesisEventRecord) (*notification.Event, error) {
	var dynamoDBRecord events.DynamoDBEventRecord
	if err := json.Unmarshal(record.Kinesis.Data, &dynamoDBRecord); err != nil {
		return nil, fmt.Errorf("failed to unmarshal DynamoDB record: %w", err)
	}
	return ConvertFromDynamoDBStreamRecord(dynamoDBRecord)
}

// ConvertFromDynamoDBStreamRecord converts a DynamoDB Stream record into a lifecycle notification.
func ConvertFromDynamoDBStreamRecord(record events.DynamoDBEventRecord) (*notification.Event, error) {
	switch record.EventName {
	case "INSERT", "MODIFY":
		return convertChange(record.EventName, record.Change.OldImage, record.Change.NewImage)
	}
	return nil, nil
}

func convertChange(eventName string, oldImage, newImage map[string]events.DynamoDBAttributeValue) (*notification.Event, error) {
	current, err := reservationFromImage(newImage)
	if err != nil {
		return nil, err
	}

	eventType := reservation.EventForStatus(current.Status)
	if eventName == "MODIFY" {
		previous, err := reservationFromImage(oldImage)
		if err != nil {
			return nil, fmt.Errorf("old image: %w", err)
		}
		switch {
		case previous.Status != current.Status:
		case !previous.Quantity.Equal(current.Quantity):
			eventType = reservation.EventReservationUpdated
		default:
			return nil, nil
		}
	}
	if eventType == "" {
		return nil, nil
	}

	payload := reservation.LifecycleEvent{
		ReservationID: current.ID,
		LotID:         current.LotID,
		ActorID:       current.ActorID,
		ActorEmail:    current.ActorEmail,
		Quantity:      current.Quantity,
		Status:        current.Status,
		OccurredAt:    current.UpdatedAt,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &notification.Event{
		ID:            fmt.Sprintf("%s:%d", current.ID, current.Version),
		AggregateID:   current.ID,
		AggregateType: reservation.AggregateType,
		EventType:     eventType,
		Data:          data,
		Timestamp:     current.UpdatedAt,
		Version:       current.Version,
	}, nil
}

// reservationFromImage extracts a reservation from DynamoDB attribute values.
func reservationFromImage(image map[string]events.DynamoDBAttributeValue) (reservation.Reservation, error) {
	if image == nil {
		return reservation.Reservation{}, fmt.Errorf("DynamoDB image is nil")
	}

	var r reservation.Reservation
	if v, ok := image["id"]; ok {
		r.ID = v.String()
	}
	if v, ok := image["lot_id"]; ok {
		r.LotID = v.String()
	}
	if v, ok := image["actor_id"]; ok {
		r.ActorID = v.String()
	}
	if v, ok := image["actor_email"]; ok {
		r.ActorEmail = v.String()
	}
	if v, ok := image["status"]; ok {
		r.Status = reservation.Status(v.String())
	}
	if v, ok := image["quantity"]; ok {
		q, err := decimal.NewFromString(v.Number())
		if err != nil {
			return reservation.Reservation{}, fmt.Errorf("failed to parse quantity: %w", err)
		}
		r.Quantity = q
	}
	if v, ok := image["version"]; ok {
		version, err := v.Integer()
		if err != nil {
			return reservation.Reservation{}, fmt.Errorf("failed to parse version: %w", err)
		}
		r.Version = int(version)
	}
	if v, ok := image["updated_at"]; ok {
		t, err := time.Parse(time.RFC3339Nano, v.String())
		if err != nil {
			return reservation.Reservation{}, fmt.Errorf("failed to parse updated_at: %w", err)
		}
		r.UpdatedAt = t
	}

	if r.ID == "" || r.LotID == "" || r.Status == "" {
		return reservation.Reservation{}, fmt.Errorf("missing required fields: id=%s, lot_id=%s, status=%s",
			r.ID, r.LotID, r.Status)
	}
	return r, nil
}
