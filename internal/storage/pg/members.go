package pg

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"bookswap/internal/models"
)

// CreateMember stores a member, generating an id when none is given
func (db *PostgresDB) CreateMember(ctx context.Context, member models.Member) (models.Member, error) {
	if member.ID == "" {
		member.ID = uuid.NewString()
	}
	address, err := json.Marshal(member.Address)
	if err != nil {
		return models.Member{}, fmt.Errorf("failed to encode address: %w", err)
	}

	_, err = db.q.Exec(ctx,
		`INSERT INTO members (id, name, email, telegram_chat_id, address) VALUES ($1, $2, $3, $4, $5)`,
		member.ID, member.Name, member.Email, member.TelegramChatID, address)
	if err != nil {
		return models.Member{}, wrap(err, "failed to create member "+member.ID)
	}
	return member, nil
}

// GetMember returns a member by id
func (db *PostgresDB) GetMember(ctx context.Context, id string) (models.Member, error) {
	var (
		member  models.Member
		address []byte
	)
	err := db.q.QueryRow(ctx,
		`SELECT id, name, email, telegram_chat_id, address FROM members WHERE id = $1`, id).
		Scan(&member.ID, &member.Name, &member.Email, &member.TelegramChatID, &address)
	if err != nil {
		return models.Member{}, wrap(err, "member "+id)
	}
	if err := json.Unmarshal(address, &member.Address); err != nil {
		return models.Member{}, fmt.Errorf("failed to decode address of member %s: %w", id, err)
	}
	return member, nil
}

// CreateBook stores a book, generating an id when none is given
func (db *PostgresDB) CreateBook(ctx context.Context, book models.Book) (models.Book, error) {
	if book.ID == "" {
		book.ID = uuid.NewString()
	}
	_, err := db.q.Exec(ctx,
		`INSERT INTO books (id, title, author, description) VALUES ($1, $2, $3, $4)`,
		book.ID, book.Title, book.Author, book.Description)
	if err != nil {
		return models.Book{}, wrap(err, "failed to create book "+book.ID)
	}
	return book, nil
}

// GetBook returns a book by id
func (db *PostgresDB) GetBook(ctx context.Context, id string) (models.Book, error) {
	var book models.Book
	err := db.q.QueryRow(ctx, `SELECT id, title, author, description FROM books WHERE id = $1`, id).
		Scan(&book.ID, &book.Title, &book.Author, &book.Description)
	if err != nil {
		return models.Book{}, wrap(err, "book "+id)
	}
	return book, nil
}

// GrantAddressAccess lets viewerID see ownerID's address
func (db *PostgresDB) GrantAddressAccess(ctx context.Context, ownerID, viewerID string) error {
	_, err := db.q.Exec(ctx,
		`INSERT INTO address_access (owner_id, viewer_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		ownerID, viewerID)
	if err != nil {
		return wrap(err, "failed to grant address access")
	}
	return nil
}

// CanViewAddress reports whether viewerID was granted access to ownerID's address
func (db *PostgresDB) CanViewAddress(ctx context.Context, viewerID, ownerID string) (bool, error) {
	if viewerID == ownerID {
		return true, nil
	}
	ok, err := db.exists(ctx,
		`SELECT EXISTS (SELECT 1 FROM address_access WHERE owner_id = $1 AND viewer_id = $2)`,
		ownerID, viewerID)
	if err != nil {
		return false, wrap(err, "failed to check address access")
	}
	return ok, nil
}
