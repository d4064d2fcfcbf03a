package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"nft_auction/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Storage persists auction state in SQLite.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the database at path. An empty path uses
// the per-user data directory.
func NewStorage(path string) (*Storage, error) {
	if path == "" {
		var err error
		if path, err = getDBPath(); err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
	}

	// Ensure directory exists
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrate(db); err != nil {
		return nil, err
	}
	return &Storage{db: db}, nil
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&domain.Auction{},
		&domain.EscrowRecord{},
		&domain.PriceFeedEntry{},
		&domain.PendingRefund{},
		&domain.EventRecord{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "NFTAuction", "data", "auction.db"), nil
}

// Close releases the underlying connection.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// State Operations
// ======================================================================================

// Commit writes one operation's changes in a single transaction.
// Records are upserted by primary key; retracted events and paid refunds
// are deleted.
func (s *Storage) Commit(ctx context.Context, change domain.StateChange) error {
	if change.IsEmpty() {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(change.Auctions) > 0 {
			if err := upsert(tx).Create(&change.Auctions).Error; err != nil {
				return fmt.Errorf("save auctions: %w", err)
			}
		}
		if len(change.Escrows) > 0 {
			if err := upsert(tx).Create(&change.Escrows).Error; err != nil {
				return fmt.Errorf("save escrow records: %w", err)
			}
		}
		if len(change.Feeds) > 0 {
			if err := upsert(tx).Create(&change.Feeds).Error; err != nil {
				return fmt.Errorf("save price feeds: %w", err)
			}
		}
		if len(change.Refunds) > 0 {
			if err := upsert(tx).Create(&change.Refunds).Error; err != nil {
				return fmt.Errorf("save pending refunds: %w", err)
			}
		}
		if len(change.Paid) > 0 {
			if err := tx.Where("id IN ?", change.Paid).Delete(&domain.PendingRefund{}).Error; err != nil {
				return fmt.Errorf("clear paid refunds: %w", err)
			}
		}
		if len(change.Events) > 0 {
			if err := tx.Create(&change.Events).Error; err != nil {
				return fmt.Errorf("append events: %w", err)
			}
		}
		if len(change.Retract) > 0 {
			if err := tx.Where("id IN ?", change.Retract).Delete(&domain.EventRecord{}).Error; err != nil {
				return fmt.Errorf("retract events: %w", err)
			}
		}
		return nil
	})
}

// upsert starts a fresh statement per table; a chained *gorm.DB keeps the
// schema of the first model it was used with.
func upsert(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.OnConflict{UpdateAll: true})
}

// Load reads the full durable state.
func (s *Storage) Load(ctx context.Context) (domain.Snapshot, error) {
	var snap domain.Snapshot
	db := s.db.WithContext(ctx)

	if err := db.Order("id").Find(&snap.Auctions).Error; err != nil {
		return domain.Snapshot{}, fmt.Errorf("load auctions: %w", err)
	}
	if err := db.Order("auction_id").Find(&snap.Escrows).Error; err != nil {
		return domain.Snapshot{}, fmt.Errorf("load escrow records: %w", err)
	}
	if err := db.Order("asset").Find(&snap.Feeds).Error; err != nil {
		return domain.Snapshot{}, fmt.Errorf("load price feeds: %w", err)
	}
	if err := db.Order("created_at, id").Find(&snap.Refunds).Error; err != nil {
		return domain.Snapshot{}, fmt.Errorf("load pending refunds: %w", err)
	}
	return snap, nil
}

// GetAuction retrieves one auction by ID
func (s *Storage) GetAuction(ctx context.Context, id uint64) (*domain.Auction, error) {
	var a domain.Auction
	err := s.db.WithContext(ctx).First(&a, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ======================================================================================
// Event Log Operations
// ======================================================================================

// EventsByAuction returns the event log of one auction, oldest first.
// Global events (auction_id NULL) never match.
func (s *Storage) EventsByAuction(ctx context.Context, auctionID uint64) ([]domain.EventRecord, error) {
	var events []domain.EventRecord
	err := s.db.WithContext(ctx).
		Where("auction_id = ?", auctionID).
		Order("occurred_at, rowid").
		Find(&events).Error
	return events, err
}

// CountEvents returns the number of logged events.
func (s *Storage) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&domain.EventRecord{}).Count(&n).Error
	return n, err
}
