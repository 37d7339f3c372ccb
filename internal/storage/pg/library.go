package pg

import (
	"context"
	"fmt"

	"bookswap/internal/models"
)

// LibraryContains reports whether the book is in the member's library
func (db *PostgresDB) LibraryContains(ctx context.Context, memberID, bookID string) (bool, error) {
	ok, err := db.exists(ctx,
		`SELECT EXISTS (SELECT 1 FROM library WHERE member_id = $1 AND book_id = $2)`, memberID, bookID)
	if err != nil {
		return false, wrap(err, "failed to check library")
	}
	return ok, nil
}

// AddToLibrary adds a book to the member's library
func (db *PostgresDB) AddToLibrary(ctx context.Context, memberID, bookID string) error {
	_, err := db.q.Exec(ctx,
		`INSERT INTO library (member_id, book_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, memberID, bookID)
	if err != nil {
		return wrap(err, fmt.Sprintf("failed to add book %s to library of %s", bookID, memberID))
	}
	return nil
}

// RemoveFromLibrary removes a book from the member's library; the offer cascades
func (db *PostgresDB) RemoveFromLibrary(ctx context.Context, memberID, bookID string) error {
	_, err := db.q.Exec(ctx, `DELETE FROM library WHERE member_id = $1 AND book_id = $2`, memberID, bookID)
	if err != nil {
		return wrap(err, fmt.Sprintf("failed to remove book %s from library of %s", bookID, memberID))
	}
	return nil
}

// ListLibrary returns the member's books sorted by title
func (db *PostgresDB) ListLibrary(ctx context.Context, memberID string) ([]models.Book, error) {
	return db.listBooks(ctx, "library", memberID)
}

// OfferedContains reports whether the member offers the book for exchange
func (db *PostgresDB) OfferedContains(ctx context.Context, memberID, bookID string) (bool, error) {
	ok, err := db.exists(ctx,
		`SELECT EXISTS (SELECT 1 FROM offered WHERE member_id = $1 AND book_id = $2)`, memberID, bookID)
	if err != nil {
		return false, wrap(err, "failed to check offered books")
	}
	return ok, nil
}

// AddToOffered marks a library book as available for exchange
func (db *PostgresDB) AddToOffered(ctx context.Context, memberID, bookID string) error {
	tag, err := db.q.Exec(ctx,
		`INSERT INTO offered (member_id, book_id)
		 SELECT member_id, book_id FROM library WHERE member_id = $1 AND book_id = $2
		 ON CONFLICT DO NOTHING`, memberID, bookID)
	if err != nil {
		return wrap(err, fmt.Sprintf("failed to offer book %s of %s", bookID, memberID))
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	if ok, err := db.OfferedContains(ctx, memberID, bookID); err != nil || ok {
		return err
	}
	if _, err := db.GetMember(ctx, memberID); err != nil {
		return err
	}
	if _, err := db.GetBook(ctx, bookID); err != nil {
		return err
	}
	return fmt.Errorf("book %s is not in library of %s: %w", bookID, memberID, models.ErrValidation)
}

// RemoveFromOffered withdraws a book from exchange
func (db *PostgresDB) RemoveFromOffered(ctx context.Context, memberID, bookID string) error {
	_, err := db.q.Exec(ctx, `DELETE FROM offered WHERE member_id = $1 AND book_id = $2`, memberID, bookID)
	if err != nil {
		return wrap(err, fmt.Sprintf("failed to withdraw book %s of %s", bookID, memberID))
	}
	return nil
}

// ListOffered returns the member's offered books sorted by title
func (db *PostgresDB) ListOffered(ctx context.Context, memberID string) ([]models.Book, error) {
	return db.listBooks(ctx, "offered", memberID)
}

// BookOwners returns ids of members owning the book, sorted
func (db *PostgresDB) BookOwners(ctx context.Context, bookID string) ([]string, error) {
	rows, err := db.q.Query(ctx, `SELECT member_id FROM library WHERE book_id = $1 ORDER BY member_id`, bookID)
	if err != nil {
		return nil, wrap(err, "failed to list owners of book "+bookID)
	}
	defer rows.Close()

	owners := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan owner: %w", err)
		}
		owners = append(owners, id)
	}
	return owners, rows.Err()
}

// listBooks lists the books of memberID joined from table, which is library or offered
func (db *PostgresDB) listBooks(ctx context.Context, table, memberID string) ([]models.Book, error) {
	query := `SELECT b.id, b.title, b.author, b.description FROM ` + table + ` t
		JOIN books b ON b.id = t.book_id
		WHERE t.member_id = $1
		ORDER BY b.title, b.id`
	rows, err := db.q.Query(ctx, query, memberID)
	if err != nil {
		return nil, wrap(err, "failed to list "+table+" of "+memberID)
	}
	defer rows.Close()

	books := make([]models.Book, 0)
	for rows.Next() {
		var book models.Book
		if err := rows.Scan(&book.ID, &book.Title, &book.Author, &book.Description); err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		books = append(books, book)
	}
	return books, rows.Err()
}
