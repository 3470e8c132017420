// Package store persists the profile collection. The connection core only
// ever consumes parsed profiles from here; the on-disk shape is this
// package's private business.
package store

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"xrayctl/internal/logger"
	"xrayctl/internal/profile"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Record is one stored share link plus the metadata we derive from it.
type Record struct {
	ID         uint   `gorm:"primaryKey"`
	Hash       string `gorm:"uniqueIndex"`
	Raw        string
	Protocol   string
	Remark     string
	Address    string
	Port       int
	Country    string
	LatencyMS  int64
	LastTested time.Time
	CreatedAt  time.Time
}

type Store struct {
	db *gorm.DB
}

func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Error),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open profile database: %w", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("failed to migrate profile database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Import parses each link and inserts the valid ones, deduplicating by
// canonical fingerprint. enrich, when non-nil, supplies the country code
// for a parsed profile. Unparseable links are counted, logged at debug
// and skipped; a bad link never aborts the batch.
func (s *Store) Import(raws []string, enrich func(*profile.Profile) string) (added, dup, failed int) {
	for _, raw := range raws {
		p, err := profile.Parse(raw)
		if err != nil {
			logger.Log.Debugf("skipping link: %v", err)
			failed++
			continue
		}

		rec := Record{
			Hash:     p.Fingerprint(),
			Raw:      raw,
			Protocol: string(p.Protocol),
			Remark:   p.Remark,
			Address:  p.Host,
			Port:     p.Port,
		}
		if enrich != nil {
			rec.Country = enrich(p)
		}

		res := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
		if res.Error != nil {
			logger.Log.Warnf("failed to store %s: %v", p.Remark, res.Error)
			failed++
			continue
		}
		if res.RowsAffected == 0 {
			dup++
		} else {
			added++
		}
	}
	return added, dup, failed
}

func (s *Store) List() ([]Record, error) {
	var recs []Record
	if err := s.db.Order("id").Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// Resolve finds a record by numeric ID or by exact remark.
func (s *Store) Resolve(arg string) (*Record, error) {
	var rec Record

	if id, err := strconv.Atoi(arg); err == nil {
		res := s.db.Limit(1).Find(&rec, "id = ?", id)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected > 0 {
			return &rec, nil
		}
	}

	res := s.db.Limit(1).Find(&rec, "remark = ?", arg)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, errors.New("no profile matches " + strconv.Quote(arg))
	}
	return &rec, nil
}

func (s *Store) Remove(arg string) error {
	rec, err := s.Resolve(arg)
	if err != nil {
		return err
	}
	return s.db.Delete(&Record{}, rec.ID).Error
}

// RecordLatency stores one measurement; failures store -1 so the listing
// can distinguish "never tested" from "unreachable".
func (s *Store) RecordLatency(id uint, latency time.Duration, ok bool) error {
	ms := int64(-1)
	if ok {
		ms = latency.Milliseconds()
	}
	return s.db.Model(&Record{}).Where("id = ?", id).Updates(map[string]interface{}{
		"latency_ms":  ms,
		"last_tested": time.Now(),
	}).Error
}
