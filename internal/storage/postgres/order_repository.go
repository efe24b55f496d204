package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/uos/internal/domain"
)

// orderWithUserQuery выбирает заказ вместе с владельцем одним запросом.
const orderWithUserQuery = `
	SELECT o.id, o.user_id, o.product, o.quantity, o.price, o.created_at, o.updated_at,
	       u.id, u.first_name, u.last_name, u.email, u.created_at, u.updated_at
	FROM orders o
	JOIN users u ON u.id = o.user_id
`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) GetAll(ctx context.Context) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, orderWithUserQuery+` ORDER BY o.id`)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

func (r *orderRepository) GetByUserID(ctx context.Context, userID int64) ([]domain.Order, error) {
	if userID <= 0 {
		return nil, domain.ErrInvalidID
	}

	rows, err := r.db.QueryContext(ctx, orderWithUserQuery+` WHERE o.user_id = $1 ORDER BY o.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list orders by user: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

func (r *orderRepository) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	if id <= 0 {
		return nil, domain.ErrInvalidID
	}

	var order domain.Order
	err := scanOrderWithUser(r.db.QueryRowContext(ctx, orderWithUserQuery+` WHERE o.id = $1`, id), &order)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &order, nil
}

func (r *orderRepository) Add(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	if order == nil {
		return nil, domain.ErrNilOrder
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return nil, errs[0]
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var owner domain.User
	if err = loadUserTx(ctx, tx, order.UserID, &owner); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	stored := *order
	stored.CreatedAt = now
	stored.UpdatedAt = now

	err = tx.QueryRowContext(ctx, `
		INSERT INTO orders (user_id, product, quantity, price, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`,
		stored.UserID, stored.Product, stored.Quantity, stored.Price, stored.CreatedAt, stored.UpdatedAt,
	).Scan(&stored.ID)
	if err != nil {
		// Гонка с конкурентным удалением пользователя: внешний ключ orders.user_id.
		if isForeignKeyViolation(err) {
			err = domain.ErrUserNotFound
			return nil, err
		}
		err = fmt.Errorf("insert order: %w", err)
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit add order: %w", err)
	}

	stored.User = &owner
	return &stored, nil
}

func (r *orderRepository) Update(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	if order == nil {
		return nil, domain.ErrNilOrder
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return nil, errs[0]
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var (
		currentUserID int64
		createdAt     time.Time
	)
	err = tx.QueryRowContext(ctx, `
		SELECT user_id, created_at FROM orders WHERE id = $1 FOR UPDATE
	`, order.ID).Scan(&currentUserID, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = domain.ErrOrderNotFound
			return nil, err
		}
		err = fmt.Errorf("select order for update: %w", err)
		return nil, err
	}

	var owner domain.User
	if err = loadUserTx(ctx, tx, order.UserID, &owner); err != nil {
		return nil, err
	}

	// created_at неизменяем: берётся из существующей строки, а не от вызывающего.
	updated := *order
	updated.CreatedAt = createdAt.UTC()
	updated.UpdatedAt = time.Now().UTC()

	if _, err = tx.ExecContext(ctx, `
		UPDATE orders
		SET user_id = $1,
		    product = $2,
		    quantity = $3,
		    price = $4,
		    updated_at = $5
		WHERE id = $6
	`,
		updated.UserID, updated.Product, updated.Quantity, updated.Price, updated.UpdatedAt, updated.ID,
	); err != nil {
		if isForeignKeyViolation(err) {
			err = domain.ErrUserNotFound
			return nil, err
		}
		err = fmt.Errorf("update order: %w", err)
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update order: %w", err)
	}

	updated.User = &owner
	return &updated, nil
}

func (r *orderRepository) Delete(ctx context.Context, id int64) (bool, error) {
	if id <= 0 {
		return false, domain.ErrInvalidID
	}

	res, err := r.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	return affected > 0, nil
}

func (r *orderRepository) Exists(ctx context.Context, id int64) (bool, error) {
	if id <= 0 {
		return false, nil
	}

	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM orders WHERE id = $1`, id).Scan(&one)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

func collectOrders(rows *sql.Rows) ([]domain.Order, error) {
	orders := make([]domain.Order, 0)
	for rows.Next() {
		var order domain.Order
		if err := scanOrderWithUser(rows, &order); err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	return orders, nil
}

func scanOrderWithUser(row rowScanner, order *domain.Order) error {
	var user domain.User
	if err := row.Scan(
		&order.ID, &order.UserID, &order.Product, &order.Quantity, &order.Price,
		&order.CreatedAt, &order.UpdatedAt,
		&user.ID, &user.FirstName, &user.LastName, &user.Email,
		&user.CreatedAt, &user.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return fmt.Errorf("scan order row: %w", err)
	}
	order.User = &user
	return nil
}

// loadUserTx читает владельца заказа; отсутствие строки — ErrUserNotFound.
func loadUserTx(ctx context.Context, tx *sql.Tx, userID int64, user *domain.User) error {
	err := tx.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, email, created_at, updated_at
		FROM users
		WHERE id = $1
	`, userID).Scan(
		&user.ID, &user.FirstName, &user.LastName, &user.Email,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrUserNotFound
		}
		return fmt.Errorf("check user exists: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
