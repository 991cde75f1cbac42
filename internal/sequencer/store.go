// Package sequencer allocates per-symbol monotonically increasing order
// sequence numbers.
package sequencer

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mercadex/matchcore/internal/store"
)

// Store allocates sequence numbers under a row-level lock.
type Store struct{}

func NewStore() *Store { return &Store{} }

// NextInTx selects the counter row for symbol under FOR UPDATE, increments
// it, and returns the new value. Gaps may appear if the caller's
// transaction later aborts; only monotonicity is guaranteed.
func (s *Store) NextInTx(tx *gorm.DB, symbol string) (int64, error) {
	var row store.SequenceCounterRow
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("symbol = ?", symbol).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = store.SequenceCounterRow{Symbol: symbol, NextSequenceNumber: 0}
		if err := tx.Create(&row).Error; err != nil {
			return 0, fmt.Errorf("create sequence counter: %w", err)
		}
	} else if err != nil {
		return 0, fmt.Errorf("lock sequence counter: %w", err)
	}

	next := row.NextSequenceNumber + 1
	if err := tx.Model(&store.SequenceCounterRow{}).Where("symbol = ?", symbol).
		Update("next_sequence_number", next).Error; err != nil {
		return 0, fmt.Errorf("increment sequence counter: %w", err)
	}
	return next, nil
}
