// Package sqlstore implements store.Store on a relational database through
// gorm. PostgreSQL is the hosted backend; SQLite serves local runs and tests.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"conciliation-service/internal/models"
	"conciliation-service/internal/store"
)

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Store is a gorm-backed store. Inside Atomically the same type wraps the
// transaction handle.
type Store struct {
	db     *gorm.DB
	driver string
	inTx   bool
}

var _ store.Store = (*Store)(nil)

// Open connects to the database. Migrations are not applied; call Migrate.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if driver == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// SQLite serializes writers; one connection avoids "database is locked".
		sqlDB.SetMaxOpenConns(1)
	}

	return &Store{db: db, driver: driver}, nil
}

// Driver returns the driver name the store was opened with
func (s *Store) Driver() string {
	return s.driver
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// translate maps driver errors onto the store sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), errors.Is(err, gorm.ErrForeignKeyViolated):
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	case strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	default:
		return err
	}
}

// missingOrConflict resolves a conditional write that touched no rows.
func (s *Store) missingOrConflict(ctx context.Context, model interface{}, id string) error {
	var count int64
	if err := s.conn(ctx).Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return store.ErrNotFound
	}
	return store.ErrConflict
}

func (s *Store) GetBankTransaction(ctx context.Context, id string) (*models.BankTransaction, error) {
	var row bankTransactionRow
	if err := s.conn(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, translate(err)
	}
	return row.model(), nil
}

func (s *Store) FindBankTransactionByExternalID(ctx context.Context, tenantID, accountID, externalID string) (*models.BankTransaction, error) {
	var row bankTransactionRow
	err := s.conn(ctx).
		Where("tenant_id = ? AND account_id = ? AND external_id = ?", tenantID, accountID, externalID).
		Order("created_at ASC").
		Take(&row).Error
	if err != nil {
		return nil, translate(err)
	}
	return row.model(), nil
}

func (s *Store) ListBankTransactions(ctx context.Context, filter store.BankTransactionFilter) ([]*models.BankTransaction, error) {
	q := s.conn(ctx).Model(&bankTransactionRow{})
	if filter.TenantID != "" {
		q = q.Where("tenant_id = ?", filter.TenantID)
	}
	if filter.AccountID != "" {
		q = q.Where("account_id = ?", filter.AccountID)
	}
	q = dateRange(q, "posted_at", filter.From, filter.To)
	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, st := range filter.States {
			states[i] = string(st)
		}
		q = q.Where("state IN ?", states)
	}
	q = q.Order("posted_at ASC").Order("id ASC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var rows []bankTransactionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, translate(err)
	}
	result := make([]*models.BankTransaction, len(rows))
	for i := range rows {
		result[i] = rows[i].model()
	}
	return result, nil
}

func (s *Store) InsertBankTransaction(ctx context.Context, txn *models.BankTransaction) error {
	return translate(s.conn(ctx).Create(toBankTransactionRow(txn)).Error)
}

// UpdateBankTransaction writes every mutable column when both the stored
// state and its conciliation flag still hold the expected values.
func (s *Store) UpdateBankTransaction(ctx context.Context, txn *models.BankTransaction, expected models.State) error {
	row := toBankTransactionRow(txn)
	result := s.conn(ctx).Model(&bankTransactionRow{}).
		Where("id = ? AND state = ? AND conciliation_flag = ?", txn.ID, string(expected), string(expected.Flag())).
		Updates(row.updates())
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return s.missingOrConflict(ctx, &bankTransactionRow{}, txn.ID)
	}
	return nil
}

func (s *Store) GetLedgerEntry(ctx context.Context, id string) (*models.LedgerEntry, error) {
	var row ledgerEntryRow
	if err := s.conn(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, translate(err)
	}
	return row.model(), nil
}

func (s *Store) ListLedgerEntries(ctx context.Context, filter store.LedgerEntryFilter) ([]*models.LedgerEntry, error) {
	q := s.conn(ctx).Model(&ledgerEntryRow{})
	if len(filter.IDs) > 0 {
		q = q.Where("id IN ?", filter.IDs)
	}
	if filter.TenantID != "" {
		q = q.Where("tenant_id = ?", filter.TenantID)
	}
	if filter.AccountID != "" {
		q = q.Where("account_id = ?", filter.AccountID)
	}
	if filter.Usage != "" {
		q = q.Where("usage_status = ?", string(filter.Usage))
	}
	q = dateRange(q, "entry_date", filter.From, filter.To)

	var rows []ledgerEntryRow
	if err := q.Order("entry_date ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, translate(err)
	}
	result := make([]*models.LedgerEntry, len(rows))
	for i := range rows {
		result[i] = rows[i].model()
	}
	return result, nil
}

func (s *Store) InsertLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error {
	return translate(s.conn(ctx).Create(toLedgerEntryRow(entry)).Error)
}

func (s *Store) UpdateLedgerEntryUsage(ctx context.Context, id string, expected, next models.UsageStatus, consumedBy string) error {
	result := s.conn(ctx).Model(&ledgerEntryRow{}).
		Where("id = ? AND usage_status = ?", id, string(expected)).
		Updates(map[string]interface{}{
			"usage_status": string(next),
			"consumed_by":  consumedBy,
		})
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return s.missingOrConflict(ctx, &ledgerEntryRow{}, id)
	}
	return nil
}

func (s *Store) InsertMatches(ctx context.Context, matches []*models.Match) error {
	if len(matches) == 0 {
		return nil
	}
	rows := make([]*matchRow, len(matches))
	for i, m := range matches {
		rows[i] = toMatchRow(m)
	}
	// a batch insert is a single statement, so a repeated id leaves nothing behind
	return translate(s.conn(ctx).Create(&rows).Error)
}

func (s *Store) ListMatches(ctx context.Context, filter store.MatchFilter) ([]*models.Match, error) {
	q := s.conn(ctx).Model(&matchRow{})
	if filter.BankTransactionID != "" {
		q = q.Where("bank_transaction_id = ?", filter.BankTransactionID)
	}
	if filter.LedgerEntryID != "" {
		q = q.Where("ledger_entry_id = ?", filter.LedgerEntryID)
	}
	if len(filter.Statuses) > 0 {
		q = q.Where("status IN ?", statusStrings(filter.Statuses))
	}

	var rows []matchRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, translate(err)
	}
	result := make([]*models.Match, len(rows))
	for i := range rows {
		result[i] = rows[i].model()
	}
	store.SortMatches(result)
	return result, nil
}

func (s *Store) UpdateMatch(ctx context.Context, match *models.Match, expected models.MatchStatus) error {
	row := toMatchRow(match)
	result := s.conn(ctx).Model(&matchRow{}).
		Where("id = ? AND status = ?", match.ID, string(expected)).
		Updates(map[string]interface{}{
			"status":       row.Status,
			"match_type":   row.MatchType,
			"confidence":   row.Confidence,
			"is_primary":   row.IsPrimary,
			"total_amount": row.TotalAmount,
			"notes":        row.Notes,
		})
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return s.missingOrConflict(ctx, &matchRow{}, match.ID)
	}
	return nil
}

func (s *Store) DeleteMatches(ctx context.Context, bankTransactionID string, statuses []models.MatchStatus) (int, error) {
	q := s.conn(ctx).Where("bank_transaction_id = ?", bankTransactionID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statusStrings(statuses))
	}
	result := q.Delete(&matchRow{})
	if result.Error != nil {
		return 0, translate(result.Error)
	}
	return int(result.RowsAffected), nil
}

// Atomically runs fn inside a database transaction. Nested calls become
// savepoints of the enclosing transaction.
func (s *Store) Atomically(ctx context.Context, fn func(tx store.Store) error) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, driver: s.driver, inTx: true})
	})
}

// Close releases the connection pool. It is a no-op on transaction views.
func (s *Store) Close() error {
	if s.inTx {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// dateRange restricts column to the calendar days [from, to]; zero bounds are open.
func dateRange(q *gorm.DB, column string, from, to time.Time) *gorm.DB {
	if !from.IsZero() {
		q = q.Where(column+" >= ?", models.DateOnly(from))
	}
	if !to.IsZero() {
		q = q.Where(column+" < ?", models.DateOnly(to).AddDate(0, 0, 1))
	}
	return q
}

func statusStrings(statuses []models.MatchStatus) []string {
	result := make([]string, len(statuses))
	for i, st := range statuses {
		result[i] = string(st)
	}
	return result
}
