// Package storage is the gorm-backed durable log the execution core's
// managers write through: one upserted row per order keyed by client_id,
// plus append-only position/balance snapshots with a monotone id.
package storage

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/web3guy0/polybot/internal/money"
)

// OrderRow is the durable projection of money.Order, keyed by client_id
// per §6's persistence layout. status_id carries the merged OrderStatus.
type OrderRow struct {
	ClientID   string `gorm:"column:client_id;primaryKey"`
	LocalID    string `gorm:"column:local_id;index"`
	ServerID   string `gorm:"column:server_id;index"`
	Exchange   string `gorm:"column:exchange;index"`
	Symbol     string `gorm:"column:symbol"`

	Side               string          `gorm:"column:side"`
	Size               decimal.Decimal `gorm:"column:size;type:decimal(30,10)"`
	Price              decimal.Decimal `gorm:"column:price;type:decimal(30,10)"`
	FilledSize         decimal.Decimal `gorm:"column:filled_size;type:decimal(30,10)"`
	AverageFilledPrice decimal.Decimal `gorm:"column:average_filled_price;type:decimal(30,10)"`

	Type   string `gorm:"column:type"`
	TIF    string `gorm:"column:tif"`
	Effect string `gorm:"column:effect"`
	Status string `gorm:"column:status"`
	StatusID int   `gorm:"column:status_id;index"`

	StrategyID   string `gorm:"column:strategy_id;index"`
	OpeningCloid string `gorm:"column:opening_cloid"`

	CreateLT int64 `gorm:"column:create_lt"`
	UpdateLT int64 `gorm:"column:update_lt;index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (OrderRow) TableName() string { return "order" }

// PositionSnapshotRow is an append-only record of a position book's state.
type PositionSnapshotRow struct {
	ID         uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	Account    string          `gorm:"column:account;index"`
	Exchange   string          `gorm:"column:exchange;index"`
	Symbol     string          `gorm:"column:symbol"`
	Total      decimal.Decimal `gorm:"column:total;type:decimal(30,10)"`
	Available  decimal.Decimal `gorm:"column:available;type:decimal(30,10)"`
	Locked     decimal.Decimal `gorm:"column:locked;type:decimal(30,10)"`
	UpdatedLT  int64           `gorm:"column:updated_lt"`
	CreatedAt  time.Time
}

func (PositionSnapshotRow) TableName() string { return "position_snapshot" }

// BalanceSnapshotRow is an append-only record of a venue balance's state.
type BalanceSnapshotRow struct {
	ID        uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	Exchange  string          `gorm:"column:exchange;index"`
	Free      decimal.Decimal `gorm:"column:free;type:decimal(30,10)"`
	Reserved  decimal.Decimal `gorm:"column:reserved;type:decimal(30,10)"`
	Total     decimal.Decimal `gorm:"column:total;type:decimal(30,10)"`
	CreatedAt time.Time
}

func (BalanceSnapshotRow) TableName() string { return "balance_snapshot" }

// Store wraps a *gorm.DB with the execution core's three write paths.
type Store struct {
	db *gorm.DB
}

// Open connects to either Postgres (a postgres:// URL) or SQLite (any
// other path), sniffing the dialect from the DSN.
func Open(dsn string) (*Store, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("execution core storage connected (PostgreSQL)")
	} else {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dsn).Msg("execution core storage initialized (SQLite)")
	}

	if err := db.AutoMigrate(&OrderRow{}, &PositionSnapshotRow{}, &BalanceSnapshotRow{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// SaveOrder implements ordercore.OrderLog: an upsert keyed by client_id.
func (s *Store) SaveOrder(o money.Order) error {
	if o.ClientID == "" {
		return nil
	}
	row := OrderRow{
		ClientID:           o.ClientID,
		LocalID:            o.LocalID,
		ServerID:           o.ServerID,
		Exchange:           o.Instrument.Exchange,
		Symbol:             o.Instrument.Symbol,
		Side:               string(o.Side),
		Size:               o.Size,
		Price:              o.Price,
		FilledSize:         o.FilledSize,
		AverageFilledPrice: o.AverageFilledPrice,
		Type:               string(o.Type),
		TIF:                string(o.TIF),
		Effect:             string(o.Effect),
		Status:             o.Status.String(),
		StatusID:           int(o.Status),
		StrategyID:         o.StrategyID,
		OpeningCloid:       o.OpeningCloid,
		CreateLT:           int64(o.CreateLT),
		UpdateLT:           int64(o.UpdateLT),
	}
	return s.db.Save(&row).Error
}

// SavePositionSnapshot appends one position book reading.
func (s *Store) SavePositionSnapshot(account string, instrument money.Instrument, total, available, locked decimal.Decimal, updatedLT money.Time) error {
	row := PositionSnapshotRow{
		Account: account, Exchange: instrument.Exchange, Symbol: instrument.Symbol,
		Total: total, Available: available, Locked: locked, UpdatedLT: int64(updatedLT),
	}
	return s.db.Create(&row).Error
}

// SaveBalanceSnapshot appends one venue balance reading.
func (s *Store) SaveBalanceSnapshot(exchange string, free, reserved, total decimal.Decimal) error {
	row := BalanceSnapshotRow{Exchange: exchange, Free: free, Reserved: reserved, Total: total}
	return s.db.Create(&row).Error
}

// LoadOpenOrders returns every row whose status hasn't reached the dead
// bucket, for SyncOrders-style recovery after a restart.
func (s *Store) LoadOpenOrders(exchange string) ([]OrderRow, error) {
	var rows []OrderRow
	deadStatuses := []int{
		int(money.StatusFilled), int(money.StatusCancelled), int(money.StatusRejected),
		int(money.StatusExpired), int(money.StatusError), int(money.StatusAbsent), int(money.StatusDiscarded),
	}
	err := s.db.Where("exchange = ? AND status_id NOT IN ?", exchange, deadStatuses).Find(&rows).Error
	return rows, err
}
