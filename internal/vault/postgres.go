package vault

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Postgres is a Vault persisted in a vault_balances table. Every transfer
// runs inside a single SQL transaction so a failure never moves only one
// leg of the transfer.
type Postgres struct {
	db      *sql.DB
	custody common.Address
}

// NewPostgres creates a Postgres vault on an open connection pool.
func NewPostgres(db *sql.DB, custody common.Address) *Postgres {
	return &Postgres{db: db, custody: custody}
}

// EnsureSchema creates the balances table if it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS vault_balances (
			asset   TEXT NOT NULL,
			owner   TEXT NOT NULL,
			balance NUMERIC(78,0) NOT NULL DEFAULT 0,
			PRIMARY KEY (asset, owner)
		)`)
	if err != nil {
		return fmt.Errorf("ensure vault schema: %w", err)
	}
	return nil
}

// Credit adds funds to an owner's balance outside of a transfer. Bootstrap
// helper, mirrors Memory.Mint.
func (p *Postgres) Credit(ctx context.Context, asset string, owner common.Address, amount *big.Int) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO vault_balances (asset, owner, balance) VALUES ($1, $2, $3)
		ON CONFLICT (asset, owner) DO UPDATE SET balance = vault_balances.balance + EXCLUDED.balance`,
		asset, owner.Hex(), amount.String())
	if err != nil {
		return fmt.Errorf("credit %s: %w", asset, err)
	}
	return nil
}

func (p *Postgres) TransferIn(ctx context.Context, asset string, from common.Address, amount *big.Int) error {
	return p.move(ctx, asset, from, p.custody, amount)
}

func (p *Postgres) TransferOut(ctx context.Context, asset string, to common.Address, amount *big.Int) error {
	return p.move(ctx, asset, p.custody, to, amount)
}

func (p *Postgres) BalanceOf(ctx context.Context, asset string, owner common.Address) (*big.Int, error) {
	var raw string
	err := p.db.QueryRowContext(ctx,
		"SELECT balance FROM vault_balances WHERE asset = $1 AND owner = $2",
		asset, owner.Hex(),
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("balance of %s: %w", asset, err)
	}

	bal, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("balance of %s: malformed value %q", asset, raw)
	}
	return bal, nil
}

func (p *Postgres) move(ctx context.Context, asset string, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("vault: negative transfer")
	}
	if amount.Sign() == 0 {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transfer: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx,
		"SELECT balance FROM vault_balances WHERE asset = $1 AND owner = $2 FOR UPDATE",
		asset, from.Hex(),
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return fmt.Errorf("vault: %s from %s: %w", asset, from.Hex(), ErrInsufficientFunds)
	}
	if err != nil {
		return fmt.Errorf("lock balance: %w", err)
	}

	bal, ok := new(big.Int).SetString(raw, 10)
	if !ok || bal.Cmp(amount) < 0 {
		return fmt.Errorf("vault: %s from %s: %w", asset, from.Hex(), ErrInsufficientFunds)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE vault_balances SET balance = balance - $3 WHERE asset = $1 AND owner = $2",
		asset, from.Hex(), amount.String()); err != nil {
		return fmt.Errorf("debit: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO vault_balances (asset, owner, balance) VALUES ($1, $2, $3)
		ON CONFLICT (asset, owner) DO UPDATE SET balance = vault_balances.balance + EXCLUDED.balance`,
		asset, to.Hex(), amount.String()); err != nil {
		return fmt.Errorf("credit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transfer: %w", err)
	}
	return nil
}
