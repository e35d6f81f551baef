package persist

import (
	"time"
)

// StrategyRow mirrors the strategies table owned by the CRUD collaborator.
// The engine reads definitions and never writes configuration.
type StrategyRow struct {
	ID        string    `gorm:"column:id;type:varchar(32);primaryKey"`
	TenantID  string    `gorm:"column:tenant_id;type:varchar(32);index;not null"`
	Symbol    string    `gorm:"column:symbol;type:varchar(20);not null"`
	BuyTime   string    `gorm:"column:buy_time;type:varchar(5);not null"`
	SellTime  string    `gorm:"column:sell_time;type:varchar(5);not null"`
	StopLoss  string    `gorm:"column:stop_loss;type:decimal(18,4);not null"`
	Quantity  int64     `gorm:"column:quantity;not null"`
	Status    string    `gorm:"column:status;type:varchar(20);index;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (StrategyRow) TableName() string { return "strategies" }

// OrderAttemptRow is one append-only audit record of a broker call.
type OrderAttemptRow struct {
	ID            uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	StrategyID    string    `gorm:"column:strategy_id;type:varchar(32);index;not null"`
	TenantID      string    `gorm:"column:tenant_id;type:varchar(32);index;not null"`
	Side          string    `gorm:"column:side;type:varchar(4);not null"`
	AttemptNumber int       `gorm:"column:attempt_number;not null"`
	OrderID       string    `gorm:"column:order_id;type:varchar(64)"`
	Error         string    `gorm:"column:error;type:text"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

func (OrderAttemptRow) TableName() string { return "order_attempts" }

// TerminalStateRow records a strategy's final outcome for audit.
type TerminalStateRow struct {
	ID          uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	StrategyID  string    `gorm:"column:strategy_id;type:varchar(32);index;not null"`
	TenantID    string    `gorm:"column:tenant_id;type:varchar(32);index;not null"`
	Phase       string    `gorm:"column:phase;type:varchar(20);not null"`
	BuyOrderID  string    `gorm:"column:buy_order_id;type:varchar(64)"`
	SellOrderID string    `gorm:"column:sell_order_id;type:varchar(64)"`
	LastAction  string    `gorm:"column:last_action;type:text"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (TerminalStateRow) TableName() string { return "terminal_states" }
