package library

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var snapshotJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// snapshotUser keeps the password hash, which User hides from JSON.
type snapshotUser struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (u snapshotUser) user() User {
	return User{ID: u.ID, Name: u.Name, Email: u.Email, PasswordHash: u.PasswordHash, Role: u.Role, CreatedAt: u.CreatedAt}
}

// snapshotDoc is the on-disk document.
type snapshotDoc struct {
	Users       []snapshotUser `json:"users"`
	Books       []Book         `json:"books"`
	Loans       []Loan         `json:"loans"`
	CurrentUser *User          `json:"currentUser"`
}

func (doc *snapshotDoc) clone() *snapshotDoc {
	c := &snapshotDoc{
		Users: append([]snapshotUser(nil), doc.Users...),
		Books: append([]Book(nil), doc.Books...),
		Loans: append([]Loan(nil), doc.Loans...),
	}
	if doc.CurrentUser != nil {
		u := *doc.CurrentUser
		c.CurrentUser = &u
	}
	return c
}

func (doc *snapshotDoc) bookIndex(id string) int {
	for i := range doc.Books {
		if doc.Books[i].ID == id {
			return i
		}
	}
	return -1
}

func (doc *snapshotDoc) loanIndex(id string) int {
	for i := range doc.Loans {
		if doc.Loans[i].ID == id {
			return i
		}
	}
	return -1
}

func (doc *snapshotDoc) userIndex(id string) int {
	for i := range doc.Users {
		if doc.Users[i].ID == id {
			return i
		}
	}
	return -1
}

// SnapshotStore keeps the whole library in one JSON file. It backs the
// offline/demo mode.
//
// Every mutation runs under mu against a copy of the document, is written to
// disk, and only then replaces the in-memory state, so a failed write leaves
// the previous state intact.
type SnapshotStore struct {
	path string

	mu  sync.RWMutex
	doc *snapshotDoc
}

var (
	_ Store           = (*SnapshotStore)(nil)
	_ SessionRecorder = (*SnapshotStore)(nil)
)

// NewSnapshotStore loads the snapshot at path, seeding it with the sample
// library when the file does not exist yet.
func NewSnapshotStore(path string) (*SnapshotStore, error) {
	s := &SnapshotStore{path: path}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		doc, err := sampleSnapshot()
		if err != nil {
			return nil, err
		}
		if err := s.write(doc); err != nil {
			return nil, err
		}
		s.doc = doc
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var doc snapshotDoc
	if err := snapshotJSON.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	if err := CheckInvariants(doc.Books, doc.Loans); err != nil {
		return nil, fmt.Errorf("snapshot %s is inconsistent: %w", path, err)
	}
	s.doc = &doc
	return s, nil
}

// Close is a no-op; every mutation is already on disk.
func (s *SnapshotStore) Close() error { return nil }

// write replaces the file atomically via a temp file in the same directory.
func (s *SnapshotStore) write(doc *snapshotDoc) error {
	data, err := snapshotJSON.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// mutate applies fn to a copy of the document and commits it on success.
func (s *SnapshotStore) mutate(ctx context.Context, fn func(doc *snapshotDoc) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.doc.clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := s.write(next); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.doc = next
	return nil
}

// ------------------ Users ------------------

func (s *SnapshotStore) ListUsers(ctx context.Context) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]User, 0, len(s.doc.Users))
	for _, u := range s.doc.Users {
		users = append(users, u.user())
	}
	sort.SliceStable(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, nil
}

func (s *SnapshotStore) GetUser(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.doc.userIndex(id); i >= 0 {
		u := s.doc.Users[i].user()
		return &u, nil
	}
	return nil, notFound("user", id)
}

func (s *SnapshotStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, su := range s.doc.Users {
		if strings.EqualFold(su.Email, email) {
			u := su.user()
			return &u, nil
		}
	}
	return nil, notFound("user", email)
}

func (s *SnapshotStore) CreateUser(ctx context.Context, nu NewUser) (*User, error) {
	su := snapshotUser{
		ID:           uuid.NewString(),
		Name:         nu.Name,
		Email:        nu.Email,
		PasswordHash: nu.PasswordHash,
		Role:         nu.Role,
		CreatedAt:    time.Now().UTC(),
	}
	err := s.mutate(ctx, func(doc *snapshotDoc) error {
		for _, existing := range doc.Users {
			if strings.EqualFold(existing.Email, nu.Email) {
				return ErrDuplicateEmail
			}
		}
		doc.Users = append(doc.Users, su)
		return nil
	})
	if err != nil {
		return nil, err
	}
	u := su.user()
	return &u, nil
}

// SetCurrentUser records the last signed-in user under currentUser. An empty
// id clears it.
func (s *SnapshotStore) SetCurrentUser(ctx context.Context, userID string) error {
	return s.mutate(ctx, func(doc *snapshotDoc) error {
		if userID == "" {
			doc.CurrentUser = nil
			return nil
		}
		i := doc.userIndex(userID)
		if i < 0 {
			return notFound("user", userID)
		}
		u := doc.Users[i].user()
		u.PasswordHash = ""
		doc.CurrentUser = &u
		return nil
	})
}

// CurrentUser returns the last signed-in user, or nil.
func (s *SnapshotStore) CurrentUser(ctx context.Context) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc.CurrentUser == nil {
		return nil, nil
	}
	u := *s.doc.CurrentUser
	return &u, nil
}

// ------------------ Books ------------------

func (s *SnapshotStore) ListBooks(ctx context.Context, f BookFilter) ([]Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	books := make([]Book, 0, len(s.doc.Books))
	for _, b := range s.doc.Books {
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		books = append(books, b)
	}
	sort.SliceStable(books, func(i, j int) bool { return books[i].CreatedAt.After(books[j].CreatedAt) })
	return books, nil
}

func (s *SnapshotStore) GetBook(ctx context.Context, id string) (*Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.doc.bookIndex(id); i >= 0 {
		b := s.doc.Books[i]
		return &b, nil
	}
	return nil, notFound("book", id)
}

func (s *SnapshotStore) CreateBook(ctx context.Context, in BookInput) (*Book, error) {
	b := Book{
		ID:        uuid.NewString(),
		Title:     in.Title,
		Author:    in.Author,
		Category:  in.Category,
		Year:      in.Year,
		ISBN:      in.ISBN,
		Status:    BookAvailable,
		CreatedAt: time.Now().UTC(),
	}
	err := s.mutate(ctx, func(doc *snapshotDoc) error {
		doc.Books = append(doc.Books, b)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *SnapshotStore) UpdateBook(ctx context.Context, id string, p BookPatch) (*Book, error) {
	var updated Book
	err := s.mutate(ctx, func(doc *snapshotDoc) error {
		i := doc.bookIndex(id)
		if i < 0 {
			return notFound("book", id)
		}
		p.Apply(&doc.Books[i])
		updated = doc.Books[i]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteBook refuses a Borrowed book and drops the returned-loan history of
// the deleted one.
func (s *SnapshotStore) DeleteBook(ctx context.Context, id string) error {
	return s.mutate(ctx, func(doc *snapshotDoc) error {
		i := doc.bookIndex(id)
		if i < 0 {
			return notFound("book", id)
		}
		if doc.Books[i].Status != BookAvailable {
			return ErrBookOnLoan
		}
		doc.Books = append(doc.Books[:i], doc.Books[i+1:]...)
		loans := doc.Loans[:0]
		for _, l := range doc.Loans {
			if l.BookID != id {
				loans = append(loans, l)
			}
		}
		doc.Loans = loans
		return nil
	})
}

// ------------------ Loans ------------------

// Inventory copies every book and loan under one read lock.
func (s *SnapshotStore) Inventory(ctx context.Context) ([]Book, []Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Book(nil), s.doc.Books...), append([]Loan(nil), s.doc.Loans...), nil
}

func (s *SnapshotStore) ListLoans(ctx context.Context, f LoanFilter) ([]Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loans := make([]Loan, 0, len(s.doc.Loans))
	for _, l := range s.doc.Loans {
		if f.Match(l) {
			loans = append(loans, l)
		}
	}
	sort.SliceStable(loans, func(i, j int) bool {
		if !loans[i].LoanDate.Equal(loans[j].LoanDate) {
			return loans[i].LoanDate.After(loans[j].LoanDate)
		}
		return loans[i].ID < loans[j].ID
	})
	return loans, nil
}

func (s *SnapshotStore) GetLoan(ctx context.Context, id string) (*Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.doc.loanIndex(id); i >= 0 {
		l := s.doc.Loans[i]
		return &l, nil
	}
	return nil, notFound("loan", id)
}

// OpenLoan checks availability and records the loan under the store lock.
func (s *SnapshotStore) OpenLoan(ctx context.Context, nl NewLoan) (*Loan, error) {
	loan := Loan{
		ID:         uuid.NewString(),
		UserID:     nl.UserID,
		BookID:     nl.BookID,
		LoanDate:   nl.LoanDate,
		ReturnDate: nl.ReturnDate,
		Status:     LoanActive,
	}
	err := s.mutate(ctx, func(doc *snapshotDoc) error {
		bi := doc.bookIndex(nl.BookID)
		if bi < 0 {
			return notFound("book", nl.BookID)
		}
		if doc.userIndex(nl.UserID) < 0 {
			return notFound("user", nl.UserID)
		}
		if doc.Books[bi].Status != BookAvailable {
			return ErrBookBorrowed
		}
		doc.Books[bi].Status = BookBorrowed
		doc.Loans = append(doc.Loans, loan)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

// CloseLoan returns an Active loan and frees its book under the store lock.
func (s *SnapshotStore) CloseLoan(ctx context.Context, id string, returned Date) (*Loan, error) {
	var closed Loan
	err := s.mutate(ctx, func(doc *snapshotDoc) error {
		li := doc.loanIndex(id)
		if li < 0 {
			return notFound("loan", id)
		}
		if doc.Loans[li].Status != LoanActive {
			return ErrLoanReturned
		}
		doc.Loans[li].Status = LoanReturned
		doc.Loans[li].ReturnDate = returned
		if bi := doc.bookIndex(doc.Loans[li].BookID); bi >= 0 {
			doc.Books[bi].Status = BookAvailable
		}
		closed = doc.Loans[li]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &closed, nil
}
