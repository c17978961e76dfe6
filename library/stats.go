package library

import "fmt"

// ComputeStats counts books by status and loans by state. It is recomputed
// from scratch on every call.
func ComputeStats(books []Book, loans []Loan) Stats {
	s := Stats{TotalBooks: len(books)}
	for _, b := range books {
		switch b.Status {
		case BookAvailable:
			s.AvailableBooks++
		case BookBorrowed:
			s.BorrowedBooks++
		}
	}
	for _, l := range loans {
		switch l.Status {
		case LoanActive:
			s.ActiveLoans++
		case LoanReturned:
			s.CompletedLoans++
		}
	}
	return s
}

// CheckInvariants verifies book exclusivity and status coherence: every book
// has at most one Active loan, and it is Borrowed exactly when it has one.
func CheckInvariants(books []Book, loans []Loan) error {
	active := make(map[string]int, len(loans))
	for _, l := range loans {
		if l.Status == LoanActive {
			active[l.BookID]++
		}
	}
	seen := make(map[string]bool, len(books))
	for _, b := range books {
		seen[b.ID] = true
		n := active[b.ID]
		if n > 1 {
			return fmt.Errorf("book %s has %d active loans", b.ID, n)
		}
		if (b.Status == BookBorrowed) != (n == 1) {
			return fmt.Errorf("book %s is %s with %d active loan(s)", b.ID, b.Status, n)
		}
	}
	for bookID := range active {
		if !seen[bookID] {
			return fmt.Errorf("active loan references missing book %s", bookID)
		}
	}
	return nil
}
