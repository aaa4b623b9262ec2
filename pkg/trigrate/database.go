package trigrate

import (
	"context"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// DBConfig selects the rate database. Driver is "mysql" (Host, User, Pass,
// DBName) or "sqlite3" (Path).
type DBConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	Host   string `json:"host,omitempty" yaml:"host,omitempty"`
	User   string `json:"user,omitempty" yaml:"user,omitempty"`
	Pass   string `json:"pass,omitempty" yaml:"pass,omitempty"`
	DBName string `json:"dbname,omitempty" yaml:"dbname,omitempty"`
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`
}

func ConnectToDatabase(cfg DBConfig) (*sqlx.DB, error) {
	switch cfg.Driver {
	case "mysql":
		port := "3306"
		dbURI := fmt.Sprintf("%s:%s@(%s:%s)/%s?parseTime=true", cfg.User, cfg.Pass, cfg.Host, port, cfg.DBName)
		return sqlx.Connect("mysql", dbURI)
	case "sqlite3":
		db, err := sqlx.Connect("sqlite3", cfg.Path)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(1)
		return db, nil
	}
	return nil, fmt.Errorf("unsupported rate database driver %q", cfg.Driver)
}

// RateRow is one line of the TriggerRates table.
type RateRow struct {
	RunDir        string  `db:"RunDir"`
	FileName      string  `db:"FileName"`
	TrigTimestamp int64   `db:"TrigTimestamp"`
	TrigRate      float64 `db:"TrigRate"`
	RateErr       float64 `db:"RateErr"`
	ProcTimestamp int64   `db:"ProcTimestamp"`
	NEvents       int     `db:"NEvents"`
}

const createRatesTable = `CREATE TABLE IF NOT EXISTS TriggerRates (
	RunDir VARCHAR(255) NOT NULL,
	FileName VARCHAR(255) NOT NULL,
	TrigTimestamp BIGINT NOT NULL,
	TrigRate DOUBLE NOT NULL,
	RateErr DOUBLE NOT NULL,
	ProcTimestamp BIGINT NOT NULL,
	NEvents INTEGER NOT NULL
)`

type DBSink struct {
	db *sqlx.DB
}

// NewDBSink creates the TriggerRates table if it does not exist.
func NewDBSink(ctx context.Context, db *sqlx.DB) (*DBSink, error) {
	if _, err := db.ExecContext(ctx, createRatesTable); err != nil {
		return nil, fmt.Errorf("creating TriggerRates table: %w", err)
	}
	return &DBSink{db: db}, nil
}

func (s *DBSink) Insert(ctx context.Context, row RateRow) error {
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO TriggerRates
		(RunDir, FileName, TrigTimestamp, TrigRate, RateErr, ProcTimestamp, NEvents)
		VALUES (:RunDir, :FileName, :TrigTimestamp, :TrigRate, :RateErr, :ProcTimestamp, :NEvents)`, row)
	if err != nil {
		return fmt.Errorf("inserting trigger rate of %s/%s: %w", row.RunDir, row.FileName, err)
	}
	return nil
}

// Rates returns the rows of a run directory ordered by trigger time.
func (s *DBSink) Rates(ctx context.Context, runDir string) ([]RateRow, error) {
	var rows []RateRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM TriggerRates WHERE RunDir = ? ORDER BY TrigTimestamp", runDir)
	return rows, err
}

func (s *DBSink) Close() error {
	return s.db.Close()
}
