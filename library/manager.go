package library

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Principal is the authenticated actor behind a request.
type Principal struct {
	UserID string
	Email  string
	Role   Role
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// SystemPrincipal acts for command-line tooling.
var SystemPrincipal = Principal{UserID: "system", Email: "system@localhost", Role: RoleAdmin}

// RegisterInput is a self-service or admin-created account.
type RegisterInput struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=3,max=72"`
}

// LoanInput is a request to lend a book. UserID defaults to the caller.
type LoanInput struct {
	BookID     string `json:"bookId"`
	UserID     string `json:"userId,omitempty"`
	LoanDate   Date   `json:"loanDate"`
	ReturnDate Date   `json:"returnDate"`
}

// LibraryManager is a thin façade over the Store, keeping the HTTP and CLI
// code simple. It applies access rules and input validation; the loan state
// machine lives in Engine.
type LibraryManager struct {
	store    Store
	engine   *Engine
	validate *validator.Validate
}

// NewLibraryManager wraps an opened store.
func NewLibraryManager(store Store) *LibraryManager {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &LibraryManager{store: store, engine: NewEngine(store), validate: v}
}

// Close closes the underlying store.
func (lm *LibraryManager) Close() error { return lm.store.Close() }

// Engine exposes the loan lifecycle engine.
func (lm *LibraryManager) Engine() *Engine { return lm.engine }

func requireUser(p Principal) error {
	if p.UserID == "" {
		return fmt.Errorf("%w: sign in required", ErrUnauthorized)
	}
	return nil
}

func requireAdmin(p Principal) error {
	if err := requireUser(p); err != nil {
		return err
	}
	if !p.IsAdmin() {
		return fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return nil
}

// check runs struct validation and converts failures to *ValidationError.
func (lm *LibraryManager) check(v any) error {
	err := lm.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			fields[fe.Field()] = "field is required"
		case "email":
			fields[fe.Field()] = "invalid email address"
		case "min":
			fields[fe.Field()] = "must be at least " + fe.Param() + " characters"
		case "max":
			fields[fe.Field()] = "must be at most " + fe.Param() + " characters"
		case "gte", "lte":
			fields[fe.Field()] = "out of range"
		default:
			fields[fe.Field()] = "invalid value"
		}
	}
	return &ValidationError{Fields: fields}
}

// ------------------ Users ------------------

// Register creates an account with the user role.
func (lm *LibraryManager) Register(ctx context.Context, in RegisterInput) (*User, error) {
	return lm.createUser(ctx, in, RoleUser)
}

// AddUser creates an account with any role. Admin only.
func (lm *LibraryManager) AddUser(ctx context.Context, p Principal, in RegisterInput, role Role) (*User, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	if role != RoleAdmin && role != RoleUser {
		return nil, &ValidationError{Fields: map[string]string{"role": "must be admin or user"}}
	}
	return lm.createUser(ctx, in, role)
}

func (lm *LibraryManager) createUser(ctx context.Context, in RegisterInput, role Role) (*User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := lm.check(in); err != nil {
		return nil, err
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	return lm.store.CreateUser(ctx, NewUser{Name: in.Name, Email: in.Email, PasswordHash: hash, Role: role})
}

// Authenticate checks credentials. Unknown email and wrong password both
// yield ErrUnauthorized. Stores that keep a session record it.
func (lm *LibraryManager) Authenticate(ctx context.Context, email, password string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := lm.store.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: invalid email or password", ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}
	if !CheckPassword(password, u.PasswordHash) {
		return nil, fmt.Errorf("%w: invalid email or password", ErrUnauthorized)
	}
	if rec, ok := lm.store.(SessionRecorder); ok {
		if err := rec.SetCurrentUser(ctx, u.ID); err != nil {
			return nil, fmt.Errorf("record session: %w", err)
		}
	}
	return u, nil
}

// Logout clears the recorded session when it belongs to p. Stores that do
// not keep a session have nothing to clear.
func (lm *LibraryManager) Logout(ctx context.Context, p Principal) error {
	if err := requireUser(p); err != nil {
		return err
	}
	rec, ok := lm.store.(SessionRecorder)
	if !ok {
		return nil
	}
	cur, err := rec.CurrentUser(ctx)
	if err != nil {
		return err
	}
	if cur == nil || cur.ID != p.UserID {
		return nil
	}
	return rec.SetCurrentUser(ctx, "")
}

// Me returns the principal's own account.
func (lm *LibraryManager) Me(ctx context.Context, p Principal) (*User, error) {
	if err := requireUser(p); err != nil {
		return nil, err
	}
	return lm.store.GetUser(ctx, p.UserID)
}

func (lm *LibraryManager) ListUsers(ctx context.Context, p Principal) ([]User, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	return lm.store.ListUsers(ctx)
}

// ------------------ Books ------------------

func (lm *LibraryManager) ListBooks(ctx context.Context, f BookFilter) ([]Book, error) {
	switch f.Status {
	case "", BookAvailable, BookBorrowed:
	default:
		return nil, fmt.Errorf("%w: unknown book status %q", ErrInvalidInput, f.Status)
	}
	return lm.store.ListBooks(ctx, f)
}

func (lm *LibraryManager) GetBook(ctx context.Context, id string) (*Book, error) {
	return lm.store.GetBook(ctx, id)
}

// AddBook catalogs a new book. Its status always starts Available.
func (lm *LibraryManager) AddBook(ctx context.Context, p Principal, in BookInput) (*Book, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	in.Title = strings.TrimSpace(in.Title)
	in.Author = strings.TrimSpace(in.Author)
	in.Category = strings.TrimSpace(in.Category)
	in.ISBN = strings.TrimSpace(in.ISBN)
	if err := lm.check(in); err != nil {
		return nil, err
	}
	return lm.store.CreateBook(ctx, in)
}

// UpdateBook edits catalog fields. Status cannot be changed this way.
func (lm *LibraryManager) UpdateBook(ctx context.Context, p Principal, id string, patch BookPatch) (*Book, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	trim := func(s *string) *string {
		if s == nil {
			return nil
		}
		t := strings.TrimSpace(*s)
		return &t
	}
	patch.Title = trim(patch.Title)
	patch.Author = trim(patch.Author)
	patch.Category = trim(patch.Category)
	patch.ISBN = trim(patch.ISBN)
	if err := lm.check(patch); err != nil {
		return nil, err
	}
	return lm.store.UpdateBook(ctx, id, patch)
}

// DeleteBook removes a book that is not on loan.
func (lm *LibraryManager) DeleteBook(ctx context.Context, p Principal, id string) error {
	if err := requireAdmin(p); err != nil {
		return err
	}
	return lm.store.DeleteBook(ctx, id)
}

// ------------------ Loans ------------------

// OpenLoan lends a book. Lending on behalf of another user is admin only.
func (lm *LibraryManager) OpenLoan(ctx context.Context, p Principal, in LoanInput) (*Loan, error) {
	if err := requireUser(p); err != nil {
		return nil, err
	}
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		userID = p.UserID
	}
	if userID != p.UserID && !p.IsAdmin() {
		return nil, fmt.Errorf("%w: only admins can lend to another user", ErrForbidden)
	}
	if _, err := lm.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return lm.engine.Open(ctx, OpenRequest{
		BookID:     in.BookID,
		UserID:     userID,
		LoanDate:   in.LoanDate,
		ReturnDate: in.ReturnDate,
	})
}

// ReturnLoan closes a loan. The borrower or an admin may return it.
func (lm *LibraryManager) ReturnLoan(ctx context.Context, p Principal, id string, returned Date) (*Loan, error) {
	if err := requireUser(p); err != nil {
		return nil, err
	}
	loan, err := lm.store.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	if loan.UserID != p.UserID && !p.IsAdmin() {
		return nil, fmt.Errorf("%w: loan belongs to another user", ErrForbidden)
	}
	return lm.engine.Close(ctx, id, returned)
}

// ListLoans returns loan views, most recent loan date first. Non-admins only
// see their own loans.
func (lm *LibraryManager) ListLoans(ctx context.Context, p Principal, f LoanFilter) ([]LoanView, error) {
	if err := requireUser(p); err != nil {
		return nil, err
	}
	if !p.IsAdmin() {
		f.UserID = p.UserID
	}
	switch f.Status {
	case "", LoanActive, LoanReturned:
	default:
		return nil, fmt.Errorf("%w: unknown loan status %q", ErrInvalidInput, f.Status)
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return nil, fmt.Errorf("%w: from %s is after to %s", ErrInvalidInput, f.From, f.To)
	}

	loans, err := lm.store.ListLoans(ctx, f)
	if err != nil {
		return nil, err
	}
	return lm.views(ctx, loans)
}

// GetLoan returns one loan view.
func (lm *LibraryManager) GetLoan(ctx context.Context, p Principal, id string) (*LoanView, error) {
	if err := requireUser(p); err != nil {
		return nil, err
	}
	loan, err := lm.store.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	if loan.UserID != p.UserID && !p.IsAdmin() {
		return nil, fmt.Errorf("%w: loan belongs to another user", ErrForbidden)
	}
	views, err := lm.views(ctx, []Loan{*loan})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// unknownName stands in for a user or book that no longer resolves.
const unknownName = "Unknown"

// views joins loans with the current user names and book titles.
func (lm *LibraryManager) views(ctx context.Context, loans []Loan) ([]LoanView, error) {
	out := make([]LoanView, 0, len(loans))
	if len(loans) == 0 {
		return out, nil
	}
	users, err := lm.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	books, err := lm.store.ListBooks(ctx, BookFilter{})
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Name
	}
	titles := make(map[string]string, len(books))
	for _, b := range books {
		titles[b.ID] = b.Title
	}
	for _, l := range loans {
		v := LoanView{Loan: l, UserName: names[l.UserID], BookTitle: titles[l.BookID]}
		if v.UserName == "" {
			v.UserName = unknownName
		}
		if v.BookTitle == "" {
			v.BookTitle = unknownName
		}
		out = append(out, v)
	}
	return out, nil
}

// ------------------ Stats ------------------

// Stats counts books and loans from one consistent read of the store.
func (lm *LibraryManager) Stats(ctx context.Context) (Stats, error) {
	books, loans, err := lm.store.Inventory(ctx)
	if err != nil {
		return Stats{}, err
	}
	return ComputeStats(books, loans), nil
}
