package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/uos/internal/domain"
)

const userColumns = "id, first_name, last_name, email, created_at, updated_at"

type userRepository struct {
	db *sql.DB
}

// NewUserRepository создаёт PostgreSQL-реализацию UserRepository.
func NewUserRepository(store *Store) domain.UserRepository {
	return &userRepository{db: store.DB()}
}

func (r *userRepository) GetAll(ctx context.Context) ([]domain.User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		var user domain.User
		if err := scanUser(rows, &user); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user rows: %w", err)
	}

	return users, nil
}

func (r *userRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	if id <= 0 {
		return nil, domain.ErrInvalidID
	}

	var user domain.User
	err := scanUser(r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id), &user)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &user, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	norm := domain.NormalizeEmail(email)
	if norm == "" {
		return nil, domain.ErrEmailRequired
	}

	var user domain.User
	err := scanUser(r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email_norm = $1
	`, norm), &user)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &user, nil
}

func (r *userRepository) Add(ctx context.Context, user *domain.User) (*domain.User, error) {
	if user == nil {
		return nil, domain.ErrNilUser
	}
	if errs := user.ValidateInvariants(); len(errs) > 0 {
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

	norm := domain.NormalizeEmail(user.Email)

	var taken bool
	if taken, err = emailTakenTx(ctx, tx, norm, 0); err != nil {
		return nil, err
	}
	if taken {
		err = domain.ErrEmailTaken
		return nil, err
	}

	now := time.Now().UTC()
	stored := *user
	stored.Orders = nil
	stored.CreatedAt = now
	stored.UpdatedAt = now

	err = tx.QueryRowContext(ctx, `
		INSERT INTO users (first_name, last_name, email, email_norm, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`,
		stored.FirstName, stored.LastName, stored.Email, norm, stored.CreatedAt, stored.UpdatedAt,
	).Scan(&stored.ID)
	if err != nil {
		// Гонка с конкурентной вставкой: уникальный индекс по email_norm.
		if isUniqueViolation(err) {
			err = domain.ErrEmailTaken
			return nil, err
		}
		err = fmt.Errorf("insert user: %w", err)
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit add user: %w", err)
	}

	return &stored, nil
}

func (r *userRepository) Update(ctx context.Context, user *domain.User) (*domain.User, error) {
	if user == nil {
		return nil, domain.ErrNilUser
	}
	if errs := user.ValidateInvariants(); len(errs) > 0 {
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

	var current domain.User
	err = scanUser(tx.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
		FOR UPDATE
	`, user.ID), &current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = domain.ErrUserNotFound
		}
		return nil, err
	}

	norm := domain.NormalizeEmail(user.Email)
	if norm != domain.NormalizeEmail(current.Email) {
		var taken bool
		if taken, err = emailTakenTx(ctx, tx, norm, current.ID); err != nil {
			return nil, err
		}
		if taken {
			err = domain.ErrEmailTaken
			return nil, err
		}
	}

	// Переписываются только изменяемые поля, id остаётся прежним.
	current.FirstName = user.FirstName
	current.LastName = user.LastName
	current.Email = user.Email
	current.UpdatedAt = time.Now().UTC()

	if _, err = tx.ExecContext(ctx, `
		UPDATE users
		SET first_name = $1,
		    last_name = $2,
		    email = $3,
		    email_norm = $4,
		    updated_at = $5
		WHERE id = $6
	`,
		current.FirstName, current.LastName, current.Email, norm, current.UpdatedAt, current.ID,
	); err != nil {
		if isUniqueViolation(err) {
			err = domain.ErrEmailTaken
			return nil, err
		}
		err = fmt.Errorf("update user: %w", err)
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update user: %w", err)
	}

	return &current, nil
}

func (r *userRepository) Delete(ctx context.Context, id int64) (bool, error) {
	if id <= 0 {
		return false, domain.ErrInvalidID
	}

	// Заказы пользователя удаляет каскад по внешнему ключу.
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete user: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	return affected > 0, nil
}

func (r *userRepository) Exists(ctx context.Context, id int64) (bool, error) {
	if id <= 0 {
		return false, nil
	}

	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = $1`, id).Scan(&one)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check user exists: %w", err)
}

func (r *userRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	norm := domain.NormalizeEmail(email)
	if norm == "" {
		return false, nil
	}

	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE email_norm = $1`, norm).Scan(&one)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check email exists: %w", err)
}

// rowScanner покрывает *sql.Row и *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner, user *domain.User) error {
	if err := row.Scan(
		&user.ID, &user.FirstName, &user.LastName, &user.Email,
		&user.CreatedAt, &user.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return fmt.Errorf("scan user row: %w", err)
	}
	return nil
}

// emailTakenTx проверяет занятость нормализованного email другим пользователем.
func emailTakenTx(ctx context.Context, tx *sql.Tx, norm string, excludeID int64) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `
		SELECT 1 FROM users WHERE email_norm = $1 AND id <> $2
	`, norm, excludeID).Scan(&one)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check email taken: %w", err)
}

var _ domain.UserRepository = (*userRepository)(nil)
