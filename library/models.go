package library

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// Role of a registered user.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// BookStatus is the cached availability flag of a book. It is Borrowed iff an
// Active loan references the book.
type BookStatus string

const (
	BookAvailable BookStatus = "Available"
	BookBorrowed  BookStatus = "Borrowed"
)

// LoanStatus is the lifecycle state of a loan. Returned is terminal.
type LoanStatus string

const (
	LoanActive   LoanStatus = "Active"
	LoanReturned LoanStatus = "Returned"
)

// User is a registered library user.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Don't serialize password hash
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Book represents catalog metadata and current availability of a book.
type Book struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Author    string     `json:"author"`
	Category  string     `json:"category"`
	Year      int        `json:"year"`
	ISBN      string     `json:"isbn"`
	Status    BookStatus `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Loan records one book lent to one user. ReturnDate is the planned due date
// while the loan is Active and the actual return date once Returned.
type Loan struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	BookID     string     `json:"bookId"`
	LoanDate   Date       `json:"loanDate"`
	ReturnDate Date       `json:"returnDate"`
	Status     LoanStatus `json:"status"`
}

// LoanView is a loan joined with the current user name and book title.
// It is computed at read time and never stored.
type LoanView struct {
	Loan
	UserName  string `json:"userName"`
	BookTitle string `json:"bookTitle"`
}

// BookInput carries the caller-editable fields of a book.
type BookInput struct {
	Title    string `json:"title" validate:"required,max=300"`
	Author   string `json:"author" validate:"required,max=200"`
	Category string `json:"category" validate:"max=100"`
	Year     int    `json:"year" validate:"gte=0,lte=9999"`
	ISBN     string `json:"isbn" validate:"max=20"`
}

// BookPatch is a partial update; nil fields are left unchanged.
type BookPatch struct {
	Title    *string `json:"title,omitempty" validate:"omitnil,min=1,max=300"`
	Author   *string `json:"author,omitempty" validate:"omitnil,min=1,max=200"`
	Category *string `json:"category,omitempty" validate:"omitnil,max=100"`
	Year     *int    `json:"year,omitempty" validate:"omitnil,gte=0,lte=9999"`
	ISBN     *string `json:"isbn,omitempty" validate:"omitnil,max=20"`
}

// Apply copies the set fields of p onto b.
func (p BookPatch) Apply(b *Book) {
	if p.Title != nil {
		b.Title = *p.Title
	}
	if p.Author != nil {
		b.Author = *p.Author
	}
	if p.Category != nil {
		b.Category = *p.Category
	}
	if p.Year != nil {
		b.Year = *p.Year
	}
	if p.ISBN != nil {
		b.ISBN = *p.ISBN
	}
}

// BookFilter narrows ListBooks. Zero value lists everything.
type BookFilter struct {
	Status BookStatus
}

// LoanFilter narrows ListLoans. From/To bound the loan date inclusively.
type LoanFilter struct {
	UserID string
	BookID string
	Status LoanStatus
	From   Date
	To     Date
}

// Match reports whether l passes the filter.
func (f LoanFilter) Match(l Loan) bool {
	if f.UserID != "" && l.UserID != f.UserID {
		return false
	}
	if f.BookID != "" && l.BookID != f.BookID {
		return false
	}
	if f.Status != "" && l.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && l.LoanDate.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && l.LoanDate.After(f.To) {
		return false
	}
	return true
}

// Stats are summary counts over the catalog and loan history.
type Stats struct {
	TotalBooks     int `json:"totalBooks"`
	AvailableBooks int `json:"availableBooks"`
	BorrowedBooks  int `json:"borrowedBooks"`
	ActiveLoans    int `json:"activeLoans"`
	CompletedLoans int `json:"completedLoans"`
}

// ---------------------------------------------------------------------------
// Date
// ---------------------------------------------------------------------------

// DateLayout is the wire and storage format of loan dates.
const DateLayout = "2006-01-02"

// Date is a calendar day in UTC. The zero value means "not set".
type Date struct {
	t time.Time
}

// NewDate truncates t to its calendar day.
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses YYYY-MM-DD. A full RFC 3339 timestamp is accepted too and
// truncated to its day.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, nil
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return NewDate(t), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: invalid date %q, want YYYY-MM-DD", ErrInvalidInput, s)
	}
	return NewDate(t), nil
}

// MustDate is ParseDate for literals in tests and seed data.
func MustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) IsZero() bool       { return d.t.IsZero() }
func (d Date) Time() time.Time    { return d.t }
func (d Date) Before(o Date) bool { return d.t.Before(o.t) }
func (d Date) After(o Date) bool  { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool  { return d.t.Equal(o.t) }
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" || s == `""` {
		*d = Date{}
		return nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("%w: date must be a string", ErrInvalidInput)
	}
	parsed, err := ParseDate(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value stores dates as YYYY-MM-DD text, or NULL when unset.
func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.String(), nil
}

// Scan accepts TEXT (SQLite) and DATE/TIMESTAMP (PostgreSQL) columns.
func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
		return nil
	case time.Time:
		*d = NewDate(v)
		return nil
	case string:
		parsed, err := ParseDate(v)
		*d = parsed
		return err
	case []byte:
		parsed, err := ParseDate(string(v))
		*d = parsed
		return err
	default:
		return fmt.Errorf("scan date: unsupported type %T", src)
	}
}
