package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"bookflow/library"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}

	var (
		name  string
		email string
		admin bool
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Create an account (prompts for the password)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			mgr, err := openManager(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer mgr.Close()

			password, err := readPassword("Enter password: ")
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			confirm, err := readPassword("Confirm password: ")
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			if password != confirm {
				return fmt.Errorf("passwords do not match")
			}

			role := library.RoleUser
			if admin {
				role = library.RoleAdmin
			}
			u, err := mgr.AddUser(cmd.Context(), library.SystemPrincipal,
				library.RegisterInput{Name: name, Email: email, Password: password}, role)
			if err != nil {
				return err
			}
			fmt.Printf("Created %s %s <%s> (ID: %s)\n", u.Role, u.Name, u.Email, u.ID)
			return nil
		},
	}
	add.Flags().StringVar(&name, "name", "", "display name")
	add.Flags().StringVar(&email, "email", "", "login email")
	add.Flags().BoolVar(&admin, "admin", false, "grant the admin role")
	_ = add.MarkFlagRequired("name")
	_ = add.MarkFlagRequired("email")

	list := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			mgr, err := openManager(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer mgr.Close()

			users, err := mgr.ListUsers(cmd.Context(), library.SystemPrincipal)
			if err != nil {
				return err
			}
			if len(users) == 0 {
				fmt.Println("No users registered.")
				return nil
			}
			fmt.Printf("%-38s %-25s %-30s %-6s\n", "ID", "Name", "Email", "Role")
			fmt.Println(strings.Repeat("-", 102))
			for _, u := range users {
				fmt.Printf("%-38s %-25s %-30s %-6s\n", u.ID, truncateString(u.Name, 25), truncateString(u.Email, 30), u.Role)
			}
			return nil
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

func newBooksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "books",
		Short: "Inspect the catalog",
	}
	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List books with their current borrower",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			mgr, err := openManager(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer mgr.Close()

			books, err := mgr.ListBooks(cmd.Context(), library.BookFilter{Status: library.BookStatus(status)})
			if err != nil {
				return err
			}
			if len(books) == 0 {
				fmt.Println("No books in library.")
				return nil
			}

			active, err := mgr.ListLoans(cmd.Context(), library.SystemPrincipal, library.LoanFilter{Status: library.LoanActive})
			if err != nil {
				return err
			}
			borrower := make(map[string]library.LoanView, len(active))
			for _, l := range active {
				borrower[l.BookID] = l
			}

			fmt.Printf("%-38s %-30s %-25s %-10s %-20s %s\n", "ID", "Title", "Author", "Status", "Borrower", "Due")
			fmt.Println(strings.Repeat("-", 140))
			for _, b := range books {
				borrowerInfo, due := "None", ""
				if l, ok := borrower[b.ID]; ok {
					borrowerInfo = l.UserName
					due = l.ReturnDate.String()
				}
				fmt.Printf("%-38s %-30s %-25s %-10s %-20s %s\n",
					b.ID,
					truncateString(b.Title, 30),
					truncateString(b.Author, 25),
					b.Status,
					truncateString(borrowerInfo, 20),
					due)
			}
			return nil
		},
	}
	list.Flags().StringVar(&status, "status", "", "filter by status (Available or Borrowed)")
	cmd.AddCommand(list)
	return cmd
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load the sample accounts, books and loans",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Storage.Backend == library.BackendSnapshot {
				fmt.Println("The snapshot store seeds itself on first start.")
				return nil
			}
			store, err := library.OpenStore(cmd.Context(), cfg.StoreOptions())
			if err != nil {
				return err
			}
			defer store.Close()

			if err := library.SeedStore(cmd.Context(), store); err != nil {
				return err
			}
			log.Info("sample data loaded", "books", len(library.SampleBooks), "users", len(library.SampleUsers))
			return nil
		},
	}
}
