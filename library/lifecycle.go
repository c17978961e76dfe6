package library

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// OpenRequest asks the engine to lend a book.
type OpenRequest struct {
	BookID   string
	UserID   string
	LoanDate Date
	// ReturnDate is the planned due date and may be zero.
	ReturnDate Date
}

// Engine drives the loan state machine. A book slot moves Available ->
// Borrowed on Open and back on Close; a loan moves Active -> Returned once.
type Engine struct {
	store Store
	now   func() time.Time
}

// NewEngine returns an engine over store using the wall clock.
func NewEngine(store Store) *Engine {
	return &Engine{store: store, now: time.Now}
}

// Today is the engine's current calendar day.
func (e *Engine) Today() Date { return NewDate(e.now()) }

// Open validates req and creates an Active loan, flipping the book to
// Borrowed in the same store operation.
//
// Errors: ErrInvalidInput for missing ids or a due date not at least one day
// after the loan date, ErrNotFound for an unknown book, ErrBookBorrowed when
// the book already has an active loan.
func (e *Engine) Open(ctx context.Context, req OpenRequest) (*Loan, error) {
	req.BookID = strings.TrimSpace(req.BookID)
	req.UserID = strings.TrimSpace(req.UserID)
	if req.BookID == "" {
		return nil, fmt.Errorf("%w: bookId is required", ErrInvalidInput)
	}
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}
	if req.LoanDate.IsZero() {
		req.LoanDate = e.Today()
	}
	if err := ValidateLoanDates(req.LoanDate, req.ReturnDate); err != nil {
		return nil, err
	}

	loan, err := e.store.OpenLoan(ctx, NewLoan{
		UserID:     req.UserID,
		BookID:     req.BookID,
		LoanDate:   req.LoanDate,
		ReturnDate: req.ReturnDate,
	})
	if err != nil {
		return nil, fmt.Errorf("open loan for book %s: %w", req.BookID, err)
	}
	return loan, nil
}

// Close marks the loan Returned on actual (today when zero) and makes its
// book Available again. A loan that is already Returned yields
// ErrLoanReturned and nothing changes.
func (e *Engine) Close(ctx context.Context, loanID string, actual Date) (*Loan, error) {
	loanID = strings.TrimSpace(loanID)
	if loanID == "" {
		return nil, fmt.Errorf("%w: loan id is required", ErrInvalidInput)
	}
	if actual.IsZero() {
		actual = e.Today()
	}
	loan, err := e.store.CloseLoan(ctx, loanID, actual)
	if err != nil {
		return nil, fmt.Errorf("return loan %s: %w", loanID, err)
	}
	return loan, nil
}

// ValidateLoanDates checks that a due date, when given, falls at least one
// calendar day after the loan date.
func ValidateLoanDates(loanDate, returnDate Date) error {
	if loanDate.IsZero() {
		return fmt.Errorf("%w: loanDate is required", ErrInvalidInput)
	}
	if returnDate.IsZero() {
		return nil
	}
	if returnDate.Before(loanDate.AddDays(1)) {
		return fmt.Errorf("%w: returnDate %s must be at least one day after loanDate %s",
			ErrInvalidInput, returnDate, loanDate)
	}
	return nil
}
