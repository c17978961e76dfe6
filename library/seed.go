package library

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// SamplePassword is the password of both sample accounts.
const SamplePassword = "123"

// SampleUser is a seed account.
type SampleUser struct {
	Name  string
	Email string
	Role  Role
}

// SampleUsers are the demo accounts.
var SampleUsers = []SampleUser{
	{Name: "Admin User", Email: "admin@bookflow.com", Role: RoleAdmin},
	{Name: "John Doe", Email: "user@bookflow.com", Role: RoleUser},
}

// SampleBooks is the demo catalog.
var SampleBooks = []BookInput{
	{Title: "Clean Code", Author: "Robert C. Martin", Category: "Technology", Year: 2008, ISBN: "978-0132350884"},
	{Title: "The Pragmatic Programmer", Author: "Andrew Hunt", Category: "Technology", Year: 1999, ISBN: "978-0201616224"},
	{Title: "Design Patterns", Author: "Erich Gamma", Category: "Technology", Year: 1994, ISBN: "978-0201633610"},
	{Title: "Refactoring", Author: "Martin Fowler", Category: "Technology", Year: 1999, ISBN: "978-0201485677"},
	{Title: "Introduction to Algorithms", Author: "Thomas H. Cormen", Category: "Education", Year: 2009, ISBN: "978-0262033848"},
}

// sampleLoan lends SampleBooks[book] to SampleUsers[user].
type sampleLoan struct {
	user, book           int
	loanDate, returnDate string
}

var sampleLoans = []sampleLoan{
	{user: 1, book: 1, loanDate: "2023-10-01", returnDate: "2023-10-15"},
	{user: 1, book: 4, loanDate: "2023-10-05", returnDate: "2023-10-20"},
}

// sampleSnapshot builds the initial offline document. Ids are the 1-based
// positions in the sample tables.
func sampleSnapshot() (*snapshotDoc, error) {
	hash, err := HashPassword(SamplePassword)
	if err != nil {
		return nil, err
	}
	created := time.Date(2023, 9, 1, 0, 0, 0, 0, time.UTC)

	doc := &snapshotDoc{}
	for i, u := range SampleUsers {
		doc.Users = append(doc.Users, snapshotUser{
			ID:           strconv.Itoa(i + 1),
			Name:         u.Name,
			Email:        u.Email,
			PasswordHash: hash,
			Role:         u.Role,
			CreatedAt:    created,
		})
	}
	for i, in := range SampleBooks {
		doc.Books = append(doc.Books, Book{
			ID:        strconv.Itoa(i + 1),
			Title:     in.Title,
			Author:    in.Author,
			Category:  in.Category,
			Year:      in.Year,
			ISBN:      in.ISBN,
			Status:    BookAvailable,
			CreatedAt: created.Add(time.Duration(i) * time.Hour),
		})
	}
	for i, sl := range sampleLoans {
		doc.Loans = append(doc.Loans, Loan{
			ID:         strconv.Itoa(i + 1),
			UserID:     doc.Users[sl.user].ID,
			BookID:     doc.Books[sl.book].ID,
			LoanDate:   MustDate(sl.loanDate),
			ReturnDate: MustDate(sl.returnDate),
			Status:     LoanActive,
		})
		doc.Books[sl.book].Status = BookBorrowed
	}
	return doc, nil
}

// SeedStore loads the sample accounts, catalog and loans into store. Accounts
// that already exist are reused; books are always added.
func SeedStore(ctx context.Context, store Store) error {
	hash, err := HashPassword(SamplePassword)
	if err != nil {
		return err
	}

	users := make([]*User, len(SampleUsers))
	for i, su := range SampleUsers {
		u, err := store.GetUserByEmail(ctx, su.Email)
		if errors.Is(err, ErrNotFound) {
			u, err = store.CreateUser(ctx, NewUser{Name: su.Name, Email: su.Email, PasswordHash: hash, Role: su.Role})
		}
		if err != nil {
			return fmt.Errorf("seed user %s: %w", su.Email, err)
		}
		users[i] = u
	}

	books := make([]*Book, len(SampleBooks))
	for i, in := range SampleBooks {
		b, err := store.CreateBook(ctx, in)
		if err != nil {
			return fmt.Errorf("seed book %q: %w", in.Title, err)
		}
		books[i] = b
	}

	engine := NewEngine(store)
	for _, sl := range sampleLoans {
		_, err := engine.Open(ctx, OpenRequest{
			BookID:     books[sl.book].ID,
			UserID:     users[sl.user].ID,
			LoanDate:   MustDate(sl.loanDate),
			ReturnDate: MustDate(sl.returnDate),
		})
		if err != nil {
			return fmt.Errorf("seed loan: %w", err)
		}
	}
	return nil
}
