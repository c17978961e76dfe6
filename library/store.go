package library

import (
	"context"
	"fmt"
	"time"
)

// NewUser is the input to Store.CreateUser.
type NewUser struct {
	Name         string
	Email        string
	PasswordHash string
	Role         Role
}

// NewLoan is the input to Store.OpenLoan. Callers go through Engine.Open,
// which validates it first.
type NewLoan struct {
	UserID     string
	BookID     string
	LoanDate   Date
	ReturnDate Date
}

// Store holds the authoritative Users, Books and Loans.
//
// OpenLoan and CloseLoan are the only operations that change Book.Status and
// each must be a single atomic check-then-set: OpenLoan fails with
// ErrBookBorrowed when the book is not Available at write time, CloseLoan
// fails with ErrLoanReturned when the loan is no longer Active. On any error
// the store is left as it was.
type Store interface {
	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	CreateUser(ctx context.Context, u NewUser) (*User, error)

	ListBooks(ctx context.Context, f BookFilter) ([]Book, error)
	GetBook(ctx context.Context, id string) (*Book, error)
	CreateBook(ctx context.Context, in BookInput) (*Book, error)
	UpdateBook(ctx context.Context, id string, p BookPatch) (*Book, error)
	// DeleteBook rejects books with an Active loan with ErrBookOnLoan.
	DeleteBook(ctx context.Context, id string) error

	ListLoans(ctx context.Context, f LoanFilter) ([]Loan, error)
	GetLoan(ctx context.Context, id string) (*Loan, error)
	OpenLoan(ctx context.Context, nl NewLoan) (*Loan, error)
	CloseLoan(ctx context.Context, id string, returned Date) (*Loan, error)

	// Inventory returns all books and loans as of a single point in time.
	Inventory(ctx context.Context) ([]Book, []Loan, error)

	Close() error
}

// SessionRecorder is implemented by stores that remember the last signed-in
// user (the offline snapshot's currentUser key).
type SessionRecorder interface {
	SetCurrentUser(ctx context.Context, userID string) error
	CurrentUser(ctx context.Context) (*User, error)
}

// Backend names accepted by OpenStore.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendSnapshot = "snapshot"
)

// StoreOptions selects and locates the backing store.
type StoreOptions struct {
	Backend string
	// Offline must be set to use the snapshot backend.
	Offline      bool
	SQLitePath   string
	DatabaseURL  string
	SnapshotPath string
	// ConnectTimeout bounds the initial ping of SQL backends.
	ConnectTimeout time.Duration
}

// OpenStore opens the store named by opts.Backend. The choice is made once;
// a SQL backend that cannot be reached is an error, never a fallback to the
// snapshot.
func OpenStore(ctx context.Context, opts StoreOptions) (Store, error) {
	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}
	switch opts.Backend {
	case BackendSQLite:
		if opts.SQLitePath == "" {
			return nil, fmt.Errorf("%w: sqlite backend needs a database path", ErrInvalidInput)
		}
		return openDatabase(ctx, DriverSQLite, opts.SQLitePath)
	case BackendPostgres:
		if opts.DatabaseURL == "" {
			return nil, fmt.Errorf("%w: postgres backend needs DATABASE_URL", ErrInvalidInput)
		}
		return openDatabase(ctx, DriverPostgres, opts.DatabaseURL)
	case BackendSnapshot:
		if !opts.Offline {
			return nil, fmt.Errorf("%w: snapshot backend requires offline mode to be enabled explicitly", ErrInvalidInput)
		}
		if opts.SnapshotPath == "" {
			return nil, fmt.Errorf("%w: snapshot backend needs a file path", ErrInvalidInput)
		}
		snap, err := NewSnapshotStore(opts.SnapshotPath)
		if err != nil {
			return nil, err
		}
		return snap, nil
	default:
		return nil, fmt.Errorf("%w: unknown storage backend %q", ErrInvalidInput, opts.Backend)
	}
}

func openDatabase(ctx context.Context, drv Driver, dsn string) (Store, error) {
	db, err := NewDatabase(ctx, drv, dsn)
	if err != nil {
		return nil, err
	}
	return db, nil
}
