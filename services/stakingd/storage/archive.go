package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"stakepool/core/events"
)

// ErrDSNRequired is returned when the archive DSN is missing.
var ErrDSNRequired = errors.New("stakingd archive dsn must be configured")

// FactRecord is the archived form of a fact.
type FactRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex;not null"`
	Type       string    `gorm:"size:64;index"`
	Account    string    `gorm:"size:42;index"`
	Timestamp  uint64    `gorm:"index"`
	Attributes string    `gorm:"type:text"`
	PrevHash   string    `gorm:"size:64"`
	Hash       string    `gorm:"size:64"`
	CreatedAt  time.Time
}

// TableName pins the table name independent of gorm's pluralisation rules.
func (FactRecord) TableName() string { return "staking_facts" }

// Archive persists facts for history queries and exports.
type Archive struct {
	db *gorm.DB
}

// Open connects to the archive identified by dsn.
func Open(dsn string) (*Archive, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrDSNRequired
	}
	var dialector gorm.Dialector
	if isPostgres(dsn) {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return New(db)
}

// New wraps an existing gorm handle and migrates the schema.
func New(db *gorm.DB) (*Archive, error) {
	if db == nil {
		return nil, fmt.Errorf("archive database required")
	}
	if err := db.AutoMigrate(&FactRecord{}); err != nil {
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	return &Archive{db: db}, nil
}

func isPostgres(dsn string) bool {
	lower := strings.ToLower(dsn)
	return strings.HasPrefix(lower, "postgres://") ||
		strings.HasPrefix(lower, "postgresql://") ||
		strings.Contains(lower, "host=")
}

// Close releases database resources.
func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Append stores facts. Sequences already present are skipped so replays after
// a restart are harmless.
func (a *Archive) Append(ctx context.Context, facts ...events.Fact) error {
	if a == nil {
		return fmt.Errorf("archive not configured")
	}
	if len(facts) == 0 {
		return nil
	}
	records := make([]FactRecord, 0, len(facts))
	for _, fact := range facts {
		record, err := toRecord(fact)
		if err != nil {
			return err
		}
		records = append(records, record)
	}
	err := a.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "sequence"}}, DoNothing: true}).
		Create(&records).Error
	if err != nil {
		return fmt.Errorf("insert facts: %w", err)
	}
	return nil
}

// LatestSequence returns the newest archived sequence and its hash. An empty
// archive reports zero and an empty hash.
func (a *Archive) LatestSequence(ctx context.Context) (uint64, string, error) {
	if a == nil {
		return 0, "", fmt.Errorf("archive not configured")
	}
	var record FactRecord
	err := a.db.WithContext(ctx).Order("sequence desc").Limit(1).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("query latest fact: %w", err)
	}
	return record.Sequence, record.Hash, nil
}

// Range returns facts with from <= sequence (and sequence <= to when to is
// non-zero) in ascending order. A non-positive limit returns every match.
func (a *Archive) Range(ctx context.Context, from, to uint64, limit int) ([]events.Fact, error) {
	if a == nil {
		return nil, fmt.Errorf("archive not configured")
	}
	query := a.db.WithContext(ctx).Where("sequence >= ?", from)
	if to != 0 {
		query = query.Where("sequence <= ?", to)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var records []FactRecord
	if err := query.Order("sequence asc").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	return fromRecords(records)
}

// History returns the most recent facts that name account, newest first.
func (a *Archive) History(ctx context.Context, account common.Address, limit int) ([]events.Fact, error) {
	if a == nil {
		return nil, fmt.Errorf("archive not configured")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var records []FactRecord
	err := a.db.WithContext(ctx).
		Where("account = ?", strings.ToLower(account.Hex())).
		Order("sequence desc").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return fromRecords(records)
}

func toRecord(fact events.Fact) (FactRecord, error) {
	attrs, err := json.Marshal(fact.Attributes)
	if err != nil {
		return FactRecord{}, fmt.Errorf("encode attributes: %w", err)
	}
	return FactRecord{
		ID:         uuid.New(),
		Sequence:   fact.Sequence,
		Type:       fact.Type,
		Account:    accountOf(fact),
		Timestamp:  fact.Timestamp,
		Attributes: string(attrs),
		PrevHash:   fact.PrevHash,
		Hash:       fact.Hash,
	}, nil
}

func fromRecords(records []FactRecord) ([]events.Fact, error) {
	out := make([]events.Fact, 0, len(records))
	for _, record := range records {
		fact := events.Fact{
			Sequence:  record.Sequence,
			Timestamp: record.Timestamp,
			Type:      record.Type,
			PrevHash:  record.PrevHash,
			Hash:      record.Hash,
		}
		if record.Attributes != "" {
			if err := json.Unmarshal([]byte(record.Attributes), &fact.Attributes); err != nil {
				return nil, fmt.Errorf("decode attributes for %d: %w", record.Sequence, err)
			}
		}
		out = append(out, fact)
	}
	return out, nil
}

// accountOf picks the account a fact is indexed under. Admin facts are filed
// under the acting owner.
func accountOf(fact events.Fact) string {
	for _, key := range []string{"account", "from", "previous"} {
		if value := strings.TrimSpace(fact.Attributes[key]); value != "" {
			return strings.ToLower(value)
		}
	}
	return ""
}
