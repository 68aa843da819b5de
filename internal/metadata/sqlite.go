package metadata

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/withObsrvr/obsrvr-fast-flux/internal/source"
)

// rawFile is the catalog row for one consumed raw file.
type rawFile struct {
	ID             uint      `gorm:"primaryKey"`
	RunID          string    `gorm:"index;size:36"`
	Site           string    `gorm:"uniqueIndex:uniq_site_path;size:32"`
	FilePath       string    `gorm:"uniqueIndex:uniq_site_path;size:1024"`
	FileTimestamp  time.Time `gorm:"index"`
	OutputInterval time.Time `gorm:"index"`
	OutputPath     string    `gorm:"size:1024"`

	FileFormat       string `gorm:"size:16"`
	StationName      string `gorm:"size:64"`
	LoggerModel      string `gorm:"size:32"`
	LoggerSerial     string `gorm:"size:32"`
	LoggerOS         string `gorm:"size:64"`
	ProgramName      string `gorm:"size:128"`
	ProgramSignature string `gorm:"size:32"`
	LoggerTable      string `gorm:"column:table_name;size:64"`
	Converter        string `gorm:"size:64"`
	ConverterVersion string `gorm:"size:32"`
	SourceFile       string `gorm:"size:1024"`
	ConvertedAt      string `gorm:"size:32"`

	CreatedAt time.Time
}

func (rawFile) TableName() string { return "raw_files" }

func toRow(runID string, r FileRecord) rawFile {
	h := r.Header
	return rawFile{
		RunID:            runID,
		Site:             r.Site,
		FilePath:         r.FilePath,
		FileTimestamp:    r.FileTimestamp,
		OutputInterval:   r.OutputInterval,
		OutputPath:       r.OutputPath,
		FileFormat:       h[0],
		StationName:      h[1],
		LoggerModel:      h[2],
		LoggerSerial:     h[3],
		LoggerOS:         h[4],
		ProgramName:      h[5],
		ProgramSignature: h[6],
		LoggerTable:      h[7],
		Converter:        h[8],
		ConverterVersion: h[9],
		SourceFile:       h[10],
		ConvertedAt:      h[11],
	}
}

func (row rawFile) record() FileRecord {
	return FileRecord{
		Site:           row.Site,
		OutputInterval: row.OutputInterval.UTC(),
		OutputPath:     row.OutputPath,
		FileTimestamp:  row.FileTimestamp.UTC(),
		FilePath:       row.FilePath,
		Header: source.Header{
			row.FileFormat, row.StationName, row.LoggerModel, row.LoggerSerial,
			row.LoggerOS, row.ProgramName, row.ProgramSignature, row.LoggerTable,
			row.Converter, row.ConverterVersion, row.SourceFile, row.ConvertedAt,
		},
	}
}

// SQLiteWriter keeps the catalog in a local sqlite file.
type SQLiteWriter struct {
	db    *gorm.DB
	runID string
	log   *slog.Logger
}

// NewSQLiteWriter opens (and migrates) the sqlite catalog at cfg.Path.
func NewSQLiteWriter(cfg CatalogConfig) (*SQLiteWriter, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite metadata backend needs a path")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("create catalog directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open sqlite catalog %s: %w", cfg.Path, err)
	}
	if err := db.AutoMigrate(&rawFile{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite catalog: %w", err)
	}

	return &SQLiteWriter{
		db:    db,
		runID: cfg.RunID,
		log:   slog.With("component", "metadata", "backend", "sqlite"),
	}, nil
}

// RecordFiles upserts recs keyed by (site, file path).
func (w *SQLiteWriter) RecordFiles(ctx context.Context, recs []FileRecord) error {
	if len(recs) == 0 {
		return nil
	}
	rows := make([]rawFile, len(recs))
	for i, r := range recs {
		rows[i] = toRow(w.runID, r)
	}

	err := w.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "site"}, {Name: "file_path"}},
			UpdateAll: true,
		}).
		Create(&rows).Error
	if err != nil {
		return fmt.Errorf("record %d files: %w", len(rows), err)
	}
	w.log.Debug("recorded files", "count", len(rows))
	return nil
}

// Records returns the catalog rows of site in file-timestamp order.
func (w *SQLiteWriter) Records(ctx context.Context, site string) ([]FileRecord, error) {
	var rows []rawFile
	err := w.db.WithContext(ctx).
		Where("site = ?", site).
		Order("file_timestamp").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query files for %s: %w", site, err)
	}
	out := make([]FileRecord, len(rows))
	for i, row := range rows {
		out[i] = row.record()
	}
	return out, nil
}

// Close closes the database.
func (w *SQLiteWriter) Close() error {
	sqlDB, err := w.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
