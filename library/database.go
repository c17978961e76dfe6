package library

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"
)

// Driver names a supported SQL dialect.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Database is the relational Store. Queries are written with $N placeholders
// and rebound for SQLite.
type Database struct {
	db     *sql.DB
	driver Driver
}

var _ Store = (*Database)(nil)

// NewDatabase opens (or creates) the database, applies schema migrations and
// verifies the connection. For DriverSQLite dsn is a file path.
func NewDatabase(ctx context.Context, drv Driver, dsn string) (*Database, error) {
	var (
		db  *sql.DB
		err error
	)
	switch drv {
	case DriverSQLite:
		db, err = openSQLite(dsn)
	case DriverPostgres:
		db, err = openPostgres(dsn)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidInput, drv)
	}
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", ErrUnavailable, drv, err)
	}

	d := &Database{db: db, driver: drv}
	if err := d.applyMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func openSQLite(path string) (*sql.DB, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	// Immediate transactions take the write lock at BEGIN, so two loan
	// openings on the same book serialize instead of both reading Available.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return db, nil
}

func openPostgres(url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// Close closes the DB.
func (d *Database) Close() error {
	return d.db.Close()
}

// ---------------------------------------------------------------------------
// Dialect helpers
// ---------------------------------------------------------------------------

var placeholderRe = regexp.MustCompile(`\$\d+`)

func (d *Database) rebind(query string) string {
	if d.driver == DriverPostgres {
		return query
	}
	return placeholderRe.ReplaceAllString(query, "?")
}

// forUpdate locks selected rows on PostgreSQL. SQLite transactions already
// hold the database write lock.
func (d *Database) forUpdate() string {
	if d.driver == DriverPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// translate maps driver errors onto the package taxonomy.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %v", ErrConflict, err)
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%w: referenced record: %v", ErrNotFound, err)
		}
		if sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %v", ErrConflict, err)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: referenced record: %v", ErrNotFound, err)
		}
		return err
	}

	var connErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connErr) || errors.As(err, &netErr) ||
		errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
        id TEXT PRIMARY KEY,
        name TEXT NOT NULL,
        email TEXT NOT NULL UNIQUE,
        password_hash TEXT NOT NULL,
        role TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('admin','user')),
        created_at DATETIME NOT NULL
    );`,
	`CREATE TABLE IF NOT EXISTS books (
        id TEXT PRIMARY KEY,
        title TEXT NOT NULL,
        author TEXT NOT NULL,
        category TEXT NOT NULL DEFAULT '',
        year INTEGER NOT NULL DEFAULT 0,
        isbn TEXT NOT NULL DEFAULT '',
        status TEXT NOT NULL DEFAULT 'Available' CHECK (status IN ('Available','Borrowed')),
        created_at DATETIME NOT NULL
    );`,
	`CREATE TABLE IF NOT EXISTS loans (
        id TEXT PRIMARY KEY,
        user_id TEXT NOT NULL REFERENCES users(id),
        book_id TEXT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
        loan_date TEXT NOT NULL,
        return_date TEXT,
        status TEXT NOT NULL DEFAULT 'Active' CHECK (status IN ('Active','Returned'))
    );`,
	`CREATE UNIQUE INDEX IF NOT EXISTS loans_one_active_per_book ON loans(book_id) WHERE status = 'Active';`,
	`CREATE INDEX IF NOT EXISTS loans_user_id ON loans(user_id);`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
        id TEXT PRIMARY KEY,
        name TEXT NOT NULL,
        email TEXT NOT NULL UNIQUE,
        password_hash TEXT NOT NULL,
        role TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('admin','user')),
        created_at TIMESTAMPTZ NOT NULL
    );`,
	`CREATE TABLE IF NOT EXISTS books (
        id TEXT PRIMARY KEY,
        title TEXT NOT NULL,
        author TEXT NOT NULL,
        category TEXT NOT NULL DEFAULT '',
        year INTEGER NOT NULL DEFAULT 0,
        isbn TEXT NOT NULL DEFAULT '',
        status TEXT NOT NULL DEFAULT 'Available' CHECK (status IN ('Available','Borrowed')),
        created_at TIMESTAMPTZ NOT NULL
    );`,
	`CREATE TABLE IF NOT EXISTS loans (
        id TEXT PRIMARY KEY,
        user_id TEXT NOT NULL REFERENCES users(id),
        book_id TEXT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
        loan_date DATE NOT NULL,
        return_date DATE,
        status TEXT NOT NULL DEFAULT 'Active' CHECK (status IN ('Active','Returned'))
    );`,
	`CREATE UNIQUE INDEX IF NOT EXISTS loans_one_active_per_book ON loans(book_id) WHERE status = 'Active';`,
	`CREATE INDEX IF NOT EXISTS loans_user_id ON loans(user_id);`,
}

func (d *Database) applyMigrations(ctx context.Context) error {
	if d.driver == DriverSQLite {
		// WAL improves write concurrency.
		if _, err := d.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("enable WAL: %w", err)
		}
	}

	if _, err := d.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return fmt.Errorf("create meta table: %w", err)
	}

	var current int
	_ = d.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key='schema_version'`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := sqliteSchema
	if d.driver == DriverPostgres {
		stmts = postgresSchema
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, d.rebind(`INSERT INTO meta(key,value) VALUES('schema_version',$1)
        ON CONFLICT(key) DO UPDATE SET value=excluded.value`), strconv.Itoa(schemaVersion)); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

const userColumns = `id, name, email, password_hash, role, created_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (d *Database) CreateUser(ctx context.Context, nu NewUser) (*User, error) {
	u := &User{
		ID:           uuid.NewString(),
		Name:         nu.Name,
		Email:        nu.Email,
		PasswordHash: nu.PasswordHash,
		Role:         nu.Role,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := d.db.ExecContext(ctx, d.rebind(`INSERT INTO users(`+userColumns+`) VALUES($1,$2,$3,$4,$5,$6)`),
		u.ID, u.Name, u.Email, u.PasswordHash, u.Role, u.CreatedAt)
	if err != nil {
		err = translate(err)
		if errors.Is(err, ErrConflict) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (d *Database) GetUser(ctx context.Context, id string) (*User, error) {
	u, err := scanUser(d.db.QueryRowContext(ctx, d.rebind(`SELECT `+userColumns+` FROM users WHERE id=$1`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user", id)
	}
	return u, translate(err)
}

func (d *Database) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanUser(d.db.QueryRowContext(ctx, d.rebind(`SELECT `+userColumns+` FROM users WHERE LOWER(email)=LOWER($1)`), email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user", email)
	}
	return u, translate(err)
}

func (d *Database) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY name, id`)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, translate(rows.Err())
}

// ---------------------------------------------------------------------------
// Books
// ---------------------------------------------------------------------------

const bookColumns = `id, title, author, category, year, isbn, status, created_at`

func scanBook(row interface{ Scan(...any) error }) (*Book, error) {
	var b Book
	if err := row.Scan(&b.ID, &b.Title, &b.Author, &b.Category, &b.Year, &b.ISBN, &b.Status, &b.CreatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBook inserts a book; id, status and creation time are assigned here.
func (d *Database) CreateBook(ctx context.Context, in BookInput) (*Book, error) {
	b := &Book{
		ID:        uuid.NewString(),
		Title:     in.Title,
		Author:    in.Author,
		Category:  in.Category,
		Year:      in.Year,
		ISBN:      in.ISBN,
		Status:    BookAvailable,
		CreatedAt: time.Now().UTC(),
	}
	_, err := d.db.ExecContext(ctx, d.rebind(`INSERT INTO books(`+bookColumns+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8)`),
		b.ID, b.Title, b.Author, b.Category, b.Year, b.ISBN, b.Status, b.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert book: %w", translate(err))
	}
	return b, nil
}

func (d *Database) GetBook(ctx context.Context, id string) (*Book, error) {
	b, err := scanBook(d.db.QueryRowContext(ctx, d.rebind(`SELECT `+bookColumns+` FROM books WHERE id=$1`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("book", id)
	}
	return b, translate(err)
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// ListBooks returns books newest first.
func (d *Database) ListBooks(ctx context.Context, f BookFilter) ([]Book, error) {
	return d.listBooks(ctx, d.db, f)
}

func (d *Database) listBooks(ctx context.Context, q querier, f BookFilter) ([]Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books`
	var args []any
	if f.Status != "" {
		query += ` WHERE status=$1`
		args = append(args, f.Status)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := q.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var books []Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, *b)
	}
	return books, translate(rows.Err())
}

// UpdateBook patches catalog fields. Status is owned by the loan operations
// and is never written here.
func (d *Database) UpdateBook(ctx context.Context, id string, p BookPatch) (*Book, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, translate(err)
	}
	defer tx.Rollback()

	b, err := scanBook(tx.QueryRowContext(ctx, d.rebind(`SELECT `+bookColumns+` FROM books WHERE id=$1`+d.forUpdate()), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("book", id)
	}
	if err != nil {
		return nil, translate(err)
	}

	p.Apply(b)
	if _, err := tx.ExecContext(ctx, d.rebind(`UPDATE books SET title=$1, author=$2, category=$3, year=$4, isbn=$5 WHERE id=$6`),
		b.Title, b.Author, b.Category, b.Year, b.ISBN, id); err != nil {
		return nil, fmt.Errorf("update book: %w", translate(err))
	}
	return b, translate(tx.Commit())
}

// DeleteBook removes a book and its returned-loan history. A book that is
// currently Borrowed is refused with ErrBookOnLoan.
func (d *Database) DeleteBook(ctx context.Context, id string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return translate(err)
	}
	defer tx.Rollback()

	var status BookStatus
	err = tx.QueryRowContext(ctx, d.rebind(`SELECT status FROM books WHERE id=$1`+d.forUpdate()), id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("book", id)
	}
	if err != nil {
		return translate(err)
	}
	if status != BookAvailable {
		return ErrBookOnLoan
	}

	if _, err := tx.ExecContext(ctx, d.rebind(`DELETE FROM books WHERE id=$1`), id); err != nil {
		return fmt.Errorf("delete book: %w", translate(err))
	}
	return translate(tx.Commit())
}

// ---------------------------------------------------------------------------
// Loans
// ---------------------------------------------------------------------------

const loanColumns = `id, user_id, book_id, loan_date, return_date, status`

func scanLoan(row interface{ Scan(...any) error }) (*Loan, error) {
	var l Loan
	if err := row.Scan(&l.ID, &l.UserID, &l.BookID, &l.LoanDate, &l.ReturnDate, &l.Status); err != nil {
		return nil, err
	}
	return &l, nil
}

func (d *Database) GetLoan(ctx context.Context, id string) (*Loan, error) {
	l, err := scanLoan(d.db.QueryRowContext(ctx, d.rebind(`SELECT `+loanColumns+` FROM loans WHERE id=$1`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("loan", id)
	}
	return l, translate(err)
}

// ListLoans returns loans with the most recent loan date first.
func (d *Database) ListLoans(ctx context.Context, f LoanFilter) ([]Loan, error) {
	return d.listLoans(ctx, d.db, f)
}

func (d *Database) listLoans(ctx context.Context, q querier, f LoanFilter) ([]Loan, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}
	if f.UserID != "" {
		add("user_id = ?", f.UserID)
	}
	if f.BookID != "" {
		add("book_id = ?", f.BookID)
	}
	if f.Status != "" {
		add("status = ?", f.Status)
	}
	if !f.From.IsZero() {
		add("loan_date >= ?", f.From)
	}
	if !f.To.IsZero() {
		add("loan_date <= ?", f.To)
	}

	query := `SELECT ` + loanColumns + ` FROM loans`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY loan_date DESC, id`

	rows, err := q.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var loans []Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, *l)
	}
	return loans, translate(rows.Err())
}

// Inventory reads every book and loan inside one read-only transaction so
// both lists reflect the same committed state.
func (d *Database) Inventory(ctx context.Context) ([]Book, []Loan, error) {
	var opts *sql.TxOptions
	if d.driver == DriverPostgres {
		opts = &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead}
	}
	// SQLite transactions are serialized by the immediate write lock.
	tx, err := d.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, nil, translate(err)
	}
	defer tx.Rollback()

	books, err := d.listBooks(ctx, tx, BookFilter{})
	if err != nil {
		return nil, nil, err
	}
	loans, err := d.listLoans(ctx, tx, LoanFilter{})
	if err != nil {
		return nil, nil, err
	}
	return books, loans, translate(tx.Commit())
}

// OpenLoan records the loan and flips the book to Borrowed in one
// transaction. The availability check and the status write are one
// conditional UPDATE, so two concurrent openings cannot both succeed.
func (d *Database) OpenLoan(ctx context.Context, nl NewLoan) (*Loan, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, translate(err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, d.rebind(`UPDATE books SET status=$1 WHERE id=$2 AND status=$3`),
		BookBorrowed, nl.BookID, BookAvailable)
	if err != nil {
		return nil, translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, translate(err)
	}
	if n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, d.rebind(`SELECT EXISTS(SELECT 1 FROM books WHERE id=$1)`), nl.BookID).Scan(&exists); err != nil {
			return nil, translate(err)
		}
		if !exists {
			return nil, notFound("book", nl.BookID)
		}
		return nil, ErrBookBorrowed
	}

	loan := &Loan{
		ID:         uuid.NewString(),
		UserID:     nl.UserID,
		BookID:     nl.BookID,
		LoanDate:   nl.LoanDate,
		ReturnDate: nl.ReturnDate,
		Status:     LoanActive,
	}
	if _, err := tx.ExecContext(ctx, d.rebind(`INSERT INTO loans(`+loanColumns+`) VALUES($1,$2,$3,$4,$5,$6)`),
		loan.ID, loan.UserID, loan.BookID, loan.LoanDate, loan.ReturnDate, loan.Status); err != nil {
		err = translate(err)
		if errors.Is(err, ErrConflict) {
			return nil, ErrBookBorrowed
		}
		return nil, fmt.Errorf("insert loan: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, translate(err)
	}
	return loan, nil
}

// CloseLoan marks an Active loan Returned on the given date and makes its
// book Available, in one transaction.
func (d *Database) CloseLoan(ctx context.Context, id string, returned Date) (*Loan, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, translate(err)
	}
	defer tx.Rollback()

	loan, err := scanLoan(tx.QueryRowContext(ctx, d.rebind(`SELECT `+loanColumns+` FROM loans WHERE id=$1`+d.forUpdate()), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("loan", id)
	}
	if err != nil {
		return nil, translate(err)
	}

	res, err := tx.ExecContext(ctx, d.rebind(`UPDATE loans SET status=$1, return_date=$2 WHERE id=$3 AND status=$4`),
		LoanReturned, returned, id, LoanActive)
	if err != nil {
		return nil, translate(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, translate(err)
	} else if n == 0 {
		return nil, ErrLoanReturned
	}

	if _, err := tx.ExecContext(ctx, d.rebind(`UPDATE books SET status=$1 WHERE id=$2`), BookAvailable, loan.BookID); err != nil {
		return nil, translate(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, translate(err)
	}

	loan.Status = LoanReturned
	loan.ReturnDate = returned
	return loan, nil
}
