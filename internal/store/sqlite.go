package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/leonardotrapani/sttbench/internal/session"
)

// SessionRecord is one stored session. Result holds the full document.
type SessionRecord struct {
	ID          string    `gorm:"primaryKey;size:36"`
	StartedAt   time.Time `gorm:"index"`
	Language    string    `gorm:"size:16"`
	Providers   string    // comma separated, sorted
	Result      []byte
	CreatedAt   time.Time
	Transcripts []TranscriptRecord `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}

// TranscriptRecord is one finalized transcript, kept as a row for queries
// across sessions.
type TranscriptRecord struct {
	ID          uint   `gorm:"primaryKey"`
	SessionID   string `gorm:"index;size:36"`
	ProviderID  string `gorm:"index;size:64"`
	Text        string
	TimestampMs int64
	LatencyMs   int64
	Speaker     string `gorm:"size:64"`
}

// OpenSQLite opens dsn and migrates the session tables.
func OpenSQLite(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.AutoMigrate(&SessionRecord{}, &TranscriptRecord{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return db, nil
}

type sqliteStore struct {
	db *gorm.DB
}

// NewSQLite builds a SQLite-backed store on a migrated handle.
func NewSQLite(db *gorm.DB) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlite store requires database handle")
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Save(ctx context.Context, res session.Result) error {
	if err := requireID(res); err != nil {
		return err
	}
	data, err := sonic.Marshal(res)
	if err != nil {
		return err
	}
	sum := summarize(res)
	record := &SessionRecord{
		ID:        sum.ID,
		StartedAt: sum.StartedAt,
		Language:  sum.Language,
		Providers: strings.Join(sum.Providers, ","),
		Result:    data,
	}
	for _, id := range sum.Providers {
		for _, tr := range res.Providers[id].Transcripts {
			record.Transcripts = append(record.Transcripts, TranscriptRecord{
				ProviderID:  id,
				Text:        tr.Text,
				TimestampMs: tr.TimestampMs,
				LatencyMs:   tr.LatencyMs,
				Speaker:     tr.Speaker,
			})
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sum.ID).Delete(&TranscriptRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("id = ?", sum.ID).Delete(&SessionRecord{}).Error; err != nil {
			return err
		}
		return tx.Create(record).Error
	})
}

func (s *sqliteStore) Get(ctx context.Context, id string) (session.Result, error) {
	var record SessionRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return session.Result{}, notFound(id)
	}
	if err != nil {
		return session.Result{}, err
	}
	var res session.Result
	if err := sonic.Unmarshal(record.Result, &res); err != nil {
		return session.Result{}, err
	}
	return res, nil
}

func (s *sqliteStore) List(ctx context.Context) ([]Summary, error) {
	var records []SessionRecord
	if err := s.db.WithContext(ctx).
		Select("id", "started_at", "language", "providers").
		Order("started_at DESC, id").
		Find(&records).Error; err != nil {
		return nil, err
	}
	list := make([]Summary, 0, len(records))
	for _, r := range records {
		sum := Summary{ID: r.ID, StartedAt: r.StartedAt, Language: r.Language, Providers: []string{}}
		if r.Providers != "" {
			sum.Providers = strings.Split(r.Providers, ",")
		}
		list = append(list, sum)
	}
	return list, nil
}

// FinalsByProvider returns every stored final of providerID across
// sessions, oldest session first.
func FinalsByProvider(ctx context.Context, db *gorm.DB, providerID string) ([]TranscriptRecord, error) {
	var rows []TranscriptRecord
	err := db.WithContext(ctx).
		Joins("JOIN session_records ON session_records.id = transcript_records.session_id").
		Where("transcript_records.provider_id = ?", providerID).
		Order("session_records.started_at, transcript_records.timestamp_ms").
		Find(&rows).Error
	return rows, err
}

func (s *sqliteStore) Remove(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&TranscriptRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&SessionRecord{}).Error
	})
}

func (s *sqliteStore) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
