package lot

import (
	"time"

	"github.com/example/foodlots/internal/domain/freshness"
	"github.com/shopspring/decimal"
)

const (
	EventLotCreated          = "LotCreated"
	EventLotFreshnessChanged = "LotFreshnessChanged"
)

type LotCreated struct {
	LotID         string          `json:"lot_id"`
	OwnerID       string          `json:"owner_id"`
	Product       string          `json:"product"`
	QuantityTotal decimal.Decimal `json:"quantity_total"`
	Unit          Unit            `json:"unit"`
	ExpiresAt     time.Time       `json:"expires_at"`
	CreatedAt     time.Time       `json:"created_at"`
}

type LotFreshnessChanged struct {
	LotID     string          `json:"lot_id"`
	From      freshness.State `json:"from"`
	To        freshness.State `json:"to"`
	ChangedAt time.Time       `json:"changed_at"`
}
