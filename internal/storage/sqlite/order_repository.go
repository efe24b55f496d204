package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/uos/internal/domain"
)

const orderWithUserQuery = `
	SELECT o.id, o.user_id, o.product, o.quantity, o.price, o.created_at, o.updated_at,
	       u.id, u.first_name, u.last_name, u.email, u.created_at, u.updated_at
	FROM orders o
	JOIN users u ON u.id = o.user_id
`

type orderRepository struct {
	db    *sql.DB
	users domain.UserRepository
}

// NewOrderRepository создаёт SQLite-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB(), users: NewUserRepository(store)}
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

	rows, err := r.db.QueryContext(ctx, orderWithUserQuery+` WHERE o.user_id = ? ORDER BY o.id`, userID)
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
	err := scanOrderWithUser(r.db.QueryRowContext(ctx, orderWithUserQuery+` WHERE o.id = ?`, id), &order)
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

	owner, err := r.users.GetByID(ctx, order.UserID)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, domain.ErrUserNotFound
	}

	now := time.Now().UTC()
	stored := *order
	stored.CreatedAt = now
	stored.UpdatedAt = now

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO orders (user_id, product, quantity, price, created_at, updated_at)
		VALUES (?,?,?,?,?,?)
	`,
		stored.UserID, stored.Product, stored.Quantity, stored.Price, stored.CreatedAt, stored.UpdatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("insert order: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	stored.ID = id
	stored.User = owner

	return &stored, nil
}

func (r *orderRepository) Update(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	if order == nil {
		return nil, domain.ErrNilOrder
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return nil, errs[0]
	}

	var (
		currentUserID int64
		createdAt     time.Time
	)
	err := r.db.QueryRowContext(ctx, `SELECT user_id, created_at FROM orders WHERE id = ?`, order.ID).Scan(&currentUserID, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("select order: %w", err)
	}

	owner, err := r.users.GetByID(ctx, order.UserID)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, domain.ErrUserNotFound
	}

	// created_at неизменяем: берётся из существующей строки, а не от вызывающего.
	updated := *order
	updated.CreatedAt = createdAt.UTC()
	updated.UpdatedAt = time.Now().UTC()

	if _, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET user_id = ?, product = ?, quantity = ?, price = ?, updated_at = ?
		WHERE id = ?
	`,
		updated.UserID, updated.Product, updated.Quantity, updated.Price, updated.UpdatedAt, updated.ID,
	); err != nil {
		if isForeignKeyViolation(err) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("update order: %w", err)
	}

	updated.User = owner
	return &updated, nil
}

func (r *orderRepository) Delete(ctx context.Context, id int64) (bool, error) {
	if id <= 0 {
		return false, domain.ErrInvalidID
	}

	res, err := r.db.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, id)
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
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM orders WHERE id = ?`, id).Scan(&one)
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

var _ domain.OrderRepository = (*orderRepository)(nil)
