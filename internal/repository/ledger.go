package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nzukiegan/blaiz-loan-backend/internal/domain"
	"github.com/nzukiegan/blaiz-loan-backend/internal/ledger"
)

// LedgerRepository is the Postgres implementation of ledger.Store. Each
// mutating method runs as a single transaction; loan rows are locked with
// SELECT ... FOR UPDATE so concurrent settlements and scheduler penalties
// for the same loan serialize instead of interleaving.
type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const loanColumns = `
	l.id, l.client_id, l.principal, l.interest_rate, l.penalty_rate,
	l.term, l.term_unit, l.installment_frequency,
	l.installment_amount, l.total_repayable, l.remaining_balance,
	l.penalties, l.total_paid,
	l.due_date, l.payment_start_date, l.status, l.created_at, l.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoan(row rowScanner) (*domain.Loan, error) {
	var l domain.Loan
	var dueDate, startDate sql.NullTime
	if err := row.Scan(
		&l.ID,
		&l.ClientID,
		&l.Principal,
		&l.InterestRate,
		&l.PenaltyRate,
		&l.Term,
		&l.TermUnit,
		&l.InstallmentFrequency,
		&l.InstallmentAmount,
		&l.TotalRepayable,
		&l.RemainingBalance,
		&l.Penalties,
		&l.TotalPaid,
		&dueDate,
		&startDate,
		&l.Status,
		&l.CreatedAt,
		&l.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if dueDate.Valid {
		l.DueDate = &dueDate.Time
	}
	if startDate.Valid {
		l.PaymentStartDate = &startDate.Time
	}
	return &l, nil
}

func (r *LedgerRepository) CreateLoan(ctx context.Context, loan *domain.Loan) error {
	if loan.ID == "" {
		loan.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO loans (
			id, client_id, principal, interest_rate, penalty_rate,
			term, term_unit, installment_frequency,
			installment_amount, total_repayable, remaining_balance,
			penalties, total_paid, due_date, payment_start_date, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		loan.ID, loan.ClientID, loan.Principal, loan.InterestRate, loan.PenaltyRate,
		loan.Term, loan.TermUnit, loan.InstallmentFrequency,
		loan.InstallmentAmount, loan.TotalRepayable, loan.RemainingBalance,
		loan.Penalties, loan.TotalPaid, loan.DueDate, loan.PaymentStartDate, loan.Status,
	)
	if err != nil {
		return fmt.Errorf("insert loan: %w", err)
	}
	return nil
}

func (r *LedgerRepository) GetLoan(ctx context.Context, id string) (*domain.Loan, error) {
	loans, err := r.listLoans(ctx, "l.id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("get loan: %w", err)
	}
	if len(loans) == 0 {
		return nil, ledger.ErrLoanNotFound
	}
	return &loans[0], nil
}

func (r *LedgerRepository) listLoans(ctx context.Context, where string, args ...any) ([]domain.Loan, error) {
	query := `
		SELECT ` + loanColumns + `, c.name, c.phone
		FROM loans l
		LEFT JOIN clients c ON c.id = l.client_id`
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY l.created_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Loan
	for rows.Next() {
		var l domain.Loan
		var dueDate, startDate sql.NullTime
		var clientName, clientPhone sql.NullString
		if err := rows.Scan(
			&l.ID,
			&l.ClientID,
			&l.Principal,
			&l.InterestRate,
			&l.PenaltyRate,
			&l.Term,
			&l.TermUnit,
			&l.InstallmentFrequency,
			&l.InstallmentAmount,
			&l.TotalRepayable,
			&l.RemainingBalance,
			&l.Penalties,
			&l.TotalPaid,
			&dueDate,
			&startDate,
			&l.Status,
			&l.CreatedAt,
			&l.UpdatedAt,
			&clientName,
			&clientPhone,
		); err != nil {
			return nil, err
		}
		if dueDate.Valid {
			l.DueDate = &dueDate.Time
		}
		if startDate.Valid {
			l.PaymentStartDate = &startDate.Time
		}
		if clientName.Valid {
			name := clientName.String
			l.ClientName = &name
		}
		if clientPhone.Valid {
			phone := clientPhone.String
			l.ClientPhone = &phone
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *LedgerRepository) ListLoans(ctx context.Context) ([]domain.Loan, error) {
	return r.listLoans(ctx, "")
}

func (r *LedgerRepository) ListLoansByClient(ctx context.Context, clientID string) ([]domain.Loan, error) {
	return r.listLoans(ctx, "l.client_id = $1", clientID)
}

func (r *LedgerRepository) ListDueLoans(ctx context.Context) ([]domain.Loan, error) {
	return r.listLoans(ctx,
		"l.status IN ($1, $2) AND l.payment_start_date IS NOT NULL",
		domain.LoanActive, domain.LoanOverdue)
}

func (r *LedgerRepository) FindOpenLoanByClient(ctx context.Context, clientID string) (*domain.Loan, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+loanColumns+`
		FROM loans l
		WHERE l.client_id = $1 AND l.status IN ($2, $3)
		ORDER BY l.created_at ASC
		LIMIT 1`,
		clientID, domain.LoanActive, domain.LoanOverdue)
	loan, err := scanLoan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrLoanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find open loan: %w", err)
	}
	return loan, nil
}

func lockLoan(ctx context.Context, tx *sql.Tx, loanID string) (*domain.Loan, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans l WHERE l.id = $1 FOR UPDATE`, loanID)
	loan, err := scanLoan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrLoanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock loan: %w", err)
	}
	return loan, nil
}

func (r *LedgerRepository) TransitionLoanStatus(ctx context.Context, loanID string, from, to domain.LoanStatus) (*domain.Loan, error) {
	var loan *domain.Loan
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		l, err := lockLoan(ctx, tx, loanID)
		if err != nil {
			return err
		}
		if l.Status != from {
			return fmt.Errorf("loan %s is %s, not %s: %w", loanID, l.Status, from, ledger.ErrInvalidTransition)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE loans SET status = $1, updated_at = NOW() WHERE id = $2`,
			to, loanID); err != nil {
			return fmt.Errorf("update loan status: %w", err)
		}
		l.Status = to
		loan = l
		return nil
	})
	return loan, err
}

func (r *LedgerRepository) ActivateLoan(ctx context.Context, loanID string, startDate, dueDate time.Time) (*domain.Loan, error) {
	var loan *domain.Loan
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		l, err := lockLoan(ctx, tx, loanID)
		if err != nil {
			return err
		}
		if l.Status != domain.LoanApproved {
			return fmt.Errorf("loan %s is %s, not approved: %w", loanID, l.Status, ledger.ErrInvalidTransition)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE loans
			SET status = $1, payment_start_date = $2, due_date = $3, updated_at = NOW()
			WHERE id = $4`,
			domain.LoanActive, startDate, dueDate, loanID); err != nil {
			return fmt.Errorf("activate loan: %w", err)
		}
		l.Status = domain.LoanActive
		l.PaymentStartDate = &startDate
		l.DueDate = &dueDate
		loan = l
		return nil
	})
	return loan, err
}

// applyPaymentTx applies amount to a locked loan. Balance floors at zero and
// a zero balance closes the loan as paid.
func applyPaymentTx(ctx context.Context, tx *sql.Tx, loan *domain.Loan, amount decimal.Decimal) error {
	newBalance := loan.RemainingBalance.Sub(amount)
	if newBalance.Sign() < 0 {
		newBalance = decimal.Zero
	}
	newPaid := loan.TotalPaid.Add(amount)
	status := loan.Status
	if newBalance.IsZero() {
		status = domain.LoanPaid
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE loans
		SET remaining_balance = $1, total_paid = $2, status = $3, updated_at = NOW()
		WHERE id = $4`,
		newBalance, newPaid, status, loan.ID); err != nil {
		return fmt.Errorf("apply payment: %w", err)
	}
	loan.RemainingBalance = newBalance
	loan.TotalPaid = newPaid
	loan.Status = status
	return nil
}

func (r *LedgerRepository) ApplyPayment(ctx context.Context, loanID string, amount decimal.Decimal) (*domain.Loan, error) {
	var loan *domain.Loan
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		l, err := lockLoan(ctx, tx, loanID)
		if err != nil {
			return err
		}
		if err := applyPaymentTx(ctx, tx, l, amount); err != nil {
			return err
		}
		loan = l
		return nil
	})
	return loan, err
}

func insertPenaltyTx(ctx context.Context, tx *sql.Tx, loan *domain.Loan, amount decimal.Decimal, reason string) (*domain.Penalty, error) {
	p := &domain.Penalty{
		ID:       uuid.NewString(),
		LoanID:   loan.ID,
		ClientID: loan.ClientID,
		Amount:   amount,
		Reason:   reason,
		Status:   domain.PenaltyActive,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO penalties (id, loan_id, client_id, amount, reason, status)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		p.ID, p.LoanID, p.ClientID, p.Amount, p.Reason, p.Status); err != nil {
		return nil, fmt.Errorf("insert penalty: %w", err)
	}
	return p, nil
}

func (r *LedgerRepository) AccruePenalty(ctx context.Context, loanID string, amount decimal.Decimal, reason string) (*domain.Penalty, error) {
	var penalty *domain.Penalty
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		loan, err := lockLoan(ctx, tx, loanID)
		if err != nil {
			return err
		}
		p, err := insertPenaltyTx(ctx, tx, loan, amount, reason)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE loans
			SET penalties = penalties + $1, remaining_balance = remaining_balance + $1, updated_at = NOW()
			WHERE id = $2`,
			amount, loanID); err != nil {
			return fmt.Errorf("accrue penalty: %w", err)
		}
		penalty = p
		return nil
	})
	return penalty, err
}

func (r *LedgerRepository) AccrueOverduePenalty(ctx context.Context, loanID string, amount decimal.Decimal, reason string, nextDue time.Time) (*domain.Loan, *domain.Penalty, error) {
	var loan *domain.Loan
	var penalty *domain.Penalty
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		l, err := lockLoan(ctx, tx, loanID)
		if err != nil {
			return err
		}
		p, err := insertPenaltyTx(ctx, tx, l, amount, reason)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE loans
			SET penalties = penalties + $1,
			    remaining_balance = remaining_balance + $1,
			    status = $2,
			    due_date = $3,
			    updated_at = NOW()
			WHERE id = $4`,
			amount, domain.LoanOverdue, nextDue, loanID); err != nil {
			return fmt.Errorf("accrue overdue penalty: %w", err)
		}
		l.Penalties = l.Penalties.Add(amount)
		l.RemainingBalance = l.RemainingBalance.Add(amount)
		l.Status = domain.LoanOverdue
		l.DueDate = &nextDue
		loan = l
		penalty = p
		return nil
	})
	return loan, penalty, err
}

const paymentColumns = `
	p.id, p.loan_id, p.client_id, p.amount, p.method,
	p.reference, p.account_ref, p.receipt_code, p.status, p.created_at, p.updated_at`

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var p domain.Payment
	var loanID, clientID, accountRef, receipt sql.NullString
	if err := row.Scan(
		&p.ID,
		&loanID,
		&clientID,
		&p.Amount,
		&p.Method,
		&p.Reference,
		&accountRef,
		&receipt,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if loanID.Valid {
		v := loanID.String
		p.LoanID = &v
	}
	if clientID.Valid {
		v := clientID.String
		p.ClientID = &v
	}
	if accountRef.Valid {
		v := accountRef.String
		p.AccountRef = &v
	}
	if receipt.Valid {
		v := receipt.String
		p.ReceiptCode = &v
	}
	return &p, nil
}

func (r *LedgerRepository) RecordPayment(ctx context.Context, payment *domain.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	if payment.Status == "" {
		payment.Status = domain.PaymentPending
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM payments WHERE reference = $1 AND status = $2 FOR UPDATE`,
			payment.Reference, domain.PaymentPending).Scan(&existing)
		if err == nil {
			return fmt.Errorf("reference %s already pending: %w", payment.Reference, ledger.ErrDuplicateReference)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check payment reference: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO payments (id, loan_id, client_id, amount, method, reference, account_ref, receipt_code, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			payment.ID, payment.LoanID, payment.ClientID, payment.Amount,
			payment.Method, payment.Reference, payment.AccountRef, payment.ReceiptCode, payment.Status); err != nil {
			if strings.Contains(err.Error(), "payments_reference_key") {
				return fmt.Errorf("reference %s already recorded: %w", payment.Reference, ledger.ErrDuplicateReference)
			}
			return fmt.Errorf("insert payment: %w", err)
		}
		return nil
	})
}

func (r *LedgerRepository) GetPaymentByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments p WHERE p.reference = $1`, reference)
	payment, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return payment, nil
}

func (r *LedgerRepository) ListPayments(ctx context.Context) ([]domain.Payment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`, c.name
		FROM payments p
		LEFT JOIN clients c ON c.id = p.client_id
		ORDER BY p.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		var p domain.Payment
		var loanID, clientID, accountRef, receipt, clientName sql.NullString
		if err := rows.Scan(
			&p.ID,
			&loanID,
			&clientID,
			&p.Amount,
			&p.Method,
			&p.Reference,
			&accountRef,
			&receipt,
			&p.Status,
			&p.CreatedAt,
			&p.UpdatedAt,
			&clientName,
		); err != nil {
			return nil, err
		}
		if loanID.Valid {
			v := loanID.String
			p.LoanID = &v
		}
		if clientID.Valid {
			v := clientID.String
			p.ClientID = &v
		}
		if accountRef.Valid {
			v := accountRef.String
			p.AccountRef = &v
		}
		if receipt.Valid {
			v := receipt.String
			p.ReceiptCode = &v
		}
		if clientName.Valid {
			v := clientName.String
			p.ClientName = &v
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *LedgerRepository) SettlePayment(ctx context.Context, reference, receiptCode string, outcome ledger.Outcome, loanID *string) (*domain.Payment, *domain.Loan, error) {
	var payment *domain.Payment
	var loan *domain.Loan
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+paymentColumns+` FROM payments p WHERE p.reference = $1 FOR UPDATE`, reference)
		p, err := scanPayment(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.ErrPaymentNotFound
		}
		if err != nil {
			return fmt.Errorf("lock payment: %w", err)
		}

		// Already terminal: the idempotent no-op path. The row is returned
		// unchanged and no ledger mutation happens.
		if p.Terminal() {
			payment = p
			return nil
		}

		if outcome == ledger.OutcomeFailure {
			if _, err := tx.ExecContext(ctx,
				`UPDATE payments SET status = $1, updated_at = NOW() WHERE id = $2`,
				domain.PaymentFailed, p.ID); err != nil {
				return fmt.Errorf("settle payment failed: %w", err)
			}
			p.Status = domain.PaymentFailed
			payment = p
			return nil
		}

		targetLoan := p.LoanID
		if targetLoan == nil {
			targetLoan = loanID
		}

		// The reference is the idempotency key and never changes. An
		// unresolved loan is marked on the account reference instead, so
		// replays still find the terminal row.
		var unmatchedRef *string
		if targetLoan == nil {
			tag := receiptCode
			if tag == "" {
				tag = p.Reference
			}
			marked := domain.UnmatchedReferencePrefix + tag
			unmatchedRef = &marked
		}

		// A poll resolution may not carry a receipt; keep whatever the
		// callback already stored in that case.
		if _, err := tx.ExecContext(ctx, `
			UPDATE payments
			SET status = $1, receipt_code = COALESCE(NULLIF($2, ''), receipt_code),
			    account_ref = COALESCE($3, account_ref), loan_id = $4, updated_at = NOW()
			WHERE id = $5`,
			domain.PaymentCompleted, receiptCode, unmatchedRef, targetLoan, p.ID); err != nil {
			return fmt.Errorf("settle payment: %w", err)
		}
		p.Status = domain.PaymentCompleted
		if receiptCode != "" {
			p.ReceiptCode = &receiptCode
		}
		if unmatchedRef != nil {
			p.AccountRef = unmatchedRef
		}
		p.LoanID = targetLoan
		payment = p

		if targetLoan != nil {
			l, err := lockLoan(ctx, tx, *targetLoan)
			if err != nil {
				return err
			}
			if err := applyPaymentTx(ctx, tx, l, p.Amount); err != nil {
				return err
			}
			loan = l
		}
		return nil
	})
	return payment, loan, err
}

func (r *LedgerRepository) MarkPenaltiesPaid(ctx context.Context, loanID string) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE penalties SET status = $1 WHERE loan_id = $2 AND status = $3`,
		domain.PenaltyPaid, loanID, domain.PenaltyActive)
	if err != nil {
		return 0, fmt.Errorf("mark penalties paid: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *LedgerRepository) ListPenalties(ctx context.Context) ([]domain.Penalty, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.id, p.loan_id, p.client_id, p.amount, p.reason, p.status,
		       p.created_at, p.waived_at, c.name
		FROM penalties p
		LEFT JOIN clients c ON c.id = p.client_id
		ORDER BY p.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Penalty
	for rows.Next() {
		var p domain.Penalty
		var waivedAt sql.NullTime
		var clientName sql.NullString
		if err := rows.Scan(
			&p.ID,
			&p.LoanID,
			&p.ClientID,
			&p.Amount,
			&p.Reason,
			&p.Status,
			&p.CreatedAt,
			&waivedAt,
			&clientName,
		); err != nil {
			return nil, err
		}
		if waivedAt.Valid {
			p.WaivedAt = &waivedAt.Time
		}
		if clientName.Valid {
			v := clientName.String
			p.ClientName = &v
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *LedgerRepository) WaivePenalty(ctx context.Context, penaltyID string) (*domain.Penalty, error) {
	var penalty *domain.Penalty
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var p domain.Penalty
		var waivedAt sql.NullTime
		err := tx.QueryRowContext(ctx, `
			SELECT id, loan_id, client_id, amount, reason, status, created_at, waived_at
			FROM penalties WHERE id = $1 FOR UPDATE`, penaltyID).Scan(
			&p.ID, &p.LoanID, &p.ClientID, &p.Amount, &p.Reason, &p.Status, &p.CreatedAt, &waivedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.ErrPenaltyNotFound
		}
		if err != nil {
			return fmt.Errorf("lock penalty: %w", err)
		}
		if p.Status != domain.PenaltyActive {
			return fmt.Errorf("penalty %s is %s, not active: %w", penaltyID, p.Status, ledger.ErrInvalidTransition)
		}
		// Only the penalty's status changes; the loan's balance is left as
		// accrued. Balance moves only through completed payments.
		if _, err := tx.ExecContext(ctx,
			`UPDATE penalties SET status = $1, waived_at = NOW() WHERE id = $2`,
			domain.PenaltyWaived, penaltyID); err != nil {
			return fmt.Errorf("waive penalty: %w", err)
		}
		p.Status = domain.PenaltyWaived
		penalty = &p
		return nil
	})
	return penalty, err
}
