package sqlite

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

// NewUserRepository создаёт SQLite-реализацию UserRepository.
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
		WHERE id = ?
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
		WHERE email_norm = ?
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

	norm := domain.NormalizeEmail(user.Email)

	taken, err := r.EmailExists(ctx, norm)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, domain.ErrEmailTaken
	}

	now := time.Now().UTC()
	stored := *user
	stored.Orders = nil
	stored.CreatedAt = now
	stored.UpdatedAt = now

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO users (first_name, last_name, email, email_norm, created_at, updated_at)
		VALUES (?,?,?,?,?,?)
	`,
		stored.FirstName, stored.LastName, stored.Email, norm, stored.CreatedAt, stored.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrEmailTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	stored.ID = id

	return &stored, nil
}

func (r *userRepository) Update(ctx context.Context, user *domain.User) (*domain.User, error) {
	if user == nil {
		return nil, domain.ErrNilUser
	}
	if errs := user.ValidateInvariants(); len(errs) > 0 {
		return nil, errs[0]
	}

	current, err := r.GetByID(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, domain.ErrUserNotFound
	}

	norm := domain.NormalizeEmail(user.Email)
	if norm != domain.NormalizeEmail(current.Email) {
		var one int
		err := r.db.QueryRowContext(ctx, `
			SELECT 1 FROM users WHERE email_norm = ? AND id <> ?
		`, norm, current.ID).Scan(&one)
		if err == nil {
			return nil, domain.ErrEmailTaken
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("check email taken: %w", err)
		}
	}

	current.FirstName = user.FirstName
	current.LastName = user.LastName
	current.Email = user.Email
	current.UpdatedAt = time.Now().UTC()

	if _, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET first_name = ?, last_name = ?, email = ?, email_norm = ?, updated_at = ?
		WHERE id = ?
	`,
		current.FirstName, current.LastName, current.Email, norm, current.UpdatedAt, current.ID,
	); err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrEmailTaken
		}
		return nil, fmt.Errorf("update user: %w", err)
	}

	return current, nil
}

func (r *userRepository) Delete(ctx context.Context, id int64) (bool, error) {
	if id <= 0 {
		return false, domain.ErrInvalidID
	}

	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
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
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, id).Scan(&one)
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
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE email_norm = ?`, norm).Scan(&one)
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

var _ domain.UserRepository = (*userRepository)(nil)
