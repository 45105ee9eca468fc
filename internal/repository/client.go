package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nzukiegan/blaiz-loan-backend/internal/domain"
	"github.com/nzukiegan/blaiz-loan-backend/internal/ledger"
)

type ClientRepository struct {
	db *sql.DB
}

func NewClientRepository(db *sql.DB) *ClientRepository {
	return &ClientRepository{db: db}
}

const clientColumns = `id, name, phone, email, id_number, address, created_at`

func scanClient(row rowScanner) (*domain.Client, error) {
	var c domain.Client
	var email, idNumber, address sql.NullString
	if err := row.Scan(&c.ID, &c.Name, &c.Phone, &email, &idNumber, &address, &c.CreatedAt); err != nil {
		return nil, err
	}
	if email.Valid {
		v := email.String
		c.Email = &v
	}
	if idNumber.Valid {
		v := idNumber.String
		c.IDNumber = &v
	}
	if address.Valid {
		v := address.String
		c.Address = &v
	}
	return &c, nil
}

func (r *ClientRepository) Create(ctx context.Context, client *domain.Client) error {
	if client.ID == "" {
		client.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO clients (id, name, phone, email, id_number, address)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		client.ID, client.Name, client.Phone, client.Email, client.IDNumber, client.Address)
	if err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	return nil
}

func (r *ClientRepository) Get(ctx context.Context, id string) (*domain.Client, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, id)
	client, err := scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get client: %w", err)
	}
	return client, nil
}

func (r *ClientRepository) List(ctx context.Context) ([]domain.Client, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+clientColumns+` FROM clients ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// FindByPhone matches a payer phone number against the directory. Stored
// numbers may carry a leading 0 or +254 while gateway callbacks report the
// international form, so both spellings are checked.
func (r *ClientRepository) FindByPhone(ctx context.Context, phone string) (*domain.Client, error) {
	variants := []string{phone}
	if len(phone) > 3 && phone[:3] == "254" {
		variants = append(variants, "0"+phone[3:], "+"+phone)
	}

	for _, v := range variants {
		row := r.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE phone = $1`, v)
		client, err := scanClient(row)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("find client by phone: %w", err)
		}
		return client, nil
	}
	return nil, ledger.ErrClientNotFound
}
