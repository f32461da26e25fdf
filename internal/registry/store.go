package registry

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	sqlitegorm "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/1ureka/dprox/internal/protocol"
)

// peerRow is the persisted form of an Entry.
type peerRow struct {
	ID       uint8  `gorm:"primaryKey;autoIncrement:false"`
	Addr     string `gorm:"not null"`
	LastSeen time.Time
}

func (peerRow) TableName() string { return "peers" }

// Store persists registry entries in a sqlite file so a restarted rendezvous
// can relay to known peers before their next heartbeat.
type Store struct {
	db *gorm.DB
}

// OpenStore opens (creating if needed) the sqlite database at path.
func OpenStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlitegorm.Open(path), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}
	if err := db.AutoMigrate(&peerRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}
	return &Store{db: db}, nil
}

// Save replaces the stored table with entries.
func (s *Store) Save(entries []Entry) error {
	rows := make([]peerRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, peerRow{ID: uint8(e.ID), Addr: e.Addr.String(), LastSeen: e.LastSeen})
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&peerRow{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error
	})
}

// Load returns every stored entry. Rows with unparsable addresses are skipped.
func (s *Store) Load() ([]Entry, error) {
	var rows []peerRow
	if err := s.db.Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load peers: %w", err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		addr, err := netip.ParseAddrPort(row.Addr)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{ID: protocol.NodeID(row.ID), Addr: addr, LastSeen: row.LastSeen})
	}
	return entries, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
