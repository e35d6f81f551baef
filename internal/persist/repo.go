package persist

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"gorm.io/gorm"

	"main/internal/model"
)

var ErrDefinitionNotFound = errors.New("strategy definition not found")

// Repo is the engine-side view of the relational store: definitions in,
// audit rows out. Strategy configuration stays owned by the CRUD service.
type Repo struct {
	db *gorm.DB
}

// NewRepo wraps a gorm connection.
func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Migrate creates the engine-owned audit tables. The strategies table is
// migrated by its owning service.
func (r *Repo) Migrate() error {
	return r.db.AutoMigrate(&OrderAttemptRow{}, &TerminalStateRow{})
}

// LoadStrategyDefinition reads one definition by id.
func (r *Repo) LoadStrategyDefinition(ctx context.Context, id string) (model.StrategyDefinition, error) {
	var row StrategyRow
	result := r.db.WithContext(ctx).First(&row, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return model.StrategyDefinition{}, ErrDefinitionNotFound
		}
		return model.StrategyDefinition{}, errors.Wrap(result.Error, "load strategy definition").With("id", id)
	}
	return rowToDefinition(row)
}

// ListActiveDefinitions returns every definition marked active, used by
// boot-time recovery alongside the runtime store.
func (r *Repo) ListActiveDefinitions(ctx context.Context) ([]model.StrategyDefinition, error) {
	var rows []StrategyRow
	result := r.db.WithContext(ctx).Where("status = ?", "active").Find(&rows)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "list active definitions")
	}

	defs := make([]model.StrategyDefinition, 0, len(rows))
	for _, row := range rows {
		def, err := rowToDefinition(row)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// AppendOrderAttempt writes one audit row. Never read back for control.
func (r *Repo) AppendOrderAttempt(ctx context.Context, attempt model.OrderAttempt) error {
	row := OrderAttemptRow{
		StrategyID:    attempt.StrategyID,
		TenantID:      attempt.TenantID,
		Side:          string(attempt.Side),
		AttemptNumber: attempt.AttemptNumber,
		OrderID:       attempt.OrderID,
		Error:         attempt.Error,
		CreatedAt:     attempt.At,
	}
	if result := r.db.WithContext(ctx).Create(&row); result.Error != nil {
		return errors.Wrap(result.Error, "append order attempt")
	}
	return nil
}

// RecordTerminalState writes a strategy's final outcome.
func (r *Repo) RecordTerminalState(ctx context.Context, state model.ExecutionState) error {
	row := TerminalStateRow{
		StrategyID:  state.StrategyID,
		TenantID:    state.TenantID,
		Phase:       string(state.Phase),
		BuyOrderID:  state.BuyOrderID,
		SellOrderID: state.SellOrderID,
		LastAction:  state.LastAction,
		CreatedAt:   state.LastUpdatedAt,
	}
	if result := r.db.WithContext(ctx).Create(&row); result.Error != nil {
		return errors.Wrap(result.Error, "record terminal state")
	}
	return nil
}

func rowToDefinition(row StrategyRow) (model.StrategyDefinition, error) {
	stopLoss, err := decimal.NewFromString(row.StopLoss)
	if err != nil {
		return model.StrategyDefinition{}, errors.Wrap(err, "parse stop loss").With("id", row.ID)
	}
	return model.StrategyDefinition{
		ID:       row.ID,
		TenantID: row.TenantID,
		Symbol:   row.Symbol,
		BuyTime:  row.BuyTime,
		SellTime: row.SellTime,
		StopLoss: stopLoss,
		Quantity: row.Quantity,
	}, nil
}
