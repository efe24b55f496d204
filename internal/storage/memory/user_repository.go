package memory

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/uos/internal/domain"
)

// userRepositoryInMemory — in-memory реализация UserRepository поверх общего Store.
type userRepositoryInMemory struct {
	store *Store
}

// NewUserRepository возвращает in-memory репозиторий пользователей.
func NewUserRepository(store *Store) domain.UserRepository {
	return &userRepositoryInMemory{store: store}
}

// GetAll возвращает копии всех пользователей.
func (r *userRepositoryInMemory) GetAll(_ context.Context) ([]domain.User, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.User, 0, len(s.users))
	for _, user := range s.users {
		result = append(result, user)
	}
	return result, nil
}

// GetByID возвращает пользователя или (nil, nil), если его нет.
func (r *userRepositoryInMemory) GetByID(_ context.Context, id int64) (*domain.User, error) {
	if id <= 0 {
		return nil, domain.ErrInvalidID
	}

	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.userByIDLocked(id)
	if !ok {
		return nil, nil
	}
	return &user, nil
}

// GetByEmail ищет пользователя по нормализованному email.
func (r *userRepositoryInMemory) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	norm := domain.NormalizeEmail(email)
	if norm == "" {
		return nil, domain.ErrEmailRequired
	}

	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.emailIndex[norm]
	if !ok {
		return nil, nil
	}
	user := s.users[id]
	return &user, nil
}

// Add сохраняет нового пользователя и присваивает сгенерированный id.
func (r *userRepositoryInMemory) Add(_ context.Context, user *domain.User) (*domain.User, error) {
	if user == nil {
		return nil, domain.ErrNilUser
	}
	if errs := user.ValidateInvariants(); len(errs) > 0 {
		return nil, errs[0]
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	norm := domain.NormalizeEmail(user.Email)
	if _, taken := s.emailIndex[norm]; taken {
		return nil, domain.ErrEmailTaken
	}

	s.nextUserID++
	now := time.Now().UTC()

	stored := *user
	stored.ID = s.nextUserID
	stored.Orders = nil
	stored.CreatedAt = now
	stored.UpdatedAt = now

	s.users[stored.ID] = stored
	s.emailIndex[norm] = stored.ID

	return &stored, nil
}

// Update переписывает изменяемые поля по user.ID; сам id не переназначается.
func (r *userRepositoryInMemory) Update(_ context.Context, user *domain.User) (*domain.User, error) {
	if user == nil {
		return nil, domain.ErrNilUser
	}
	if errs := user.ValidateInvariants(); len(errs) > 0 {
		return nil, errs[0]
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.userByIDLocked(user.ID)
	if !ok {
		return nil, domain.ErrUserNotFound
	}

	norm := domain.NormalizeEmail(user.Email)
	if owner, taken := s.emailIndex[norm]; taken && owner != current.ID {
		return nil, domain.ErrEmailTaken
	}

	delete(s.emailIndex, domain.NormalizeEmail(current.Email))
	current.FirstName = user.FirstName
	current.LastName = user.LastName
	current.Email = user.Email
	current.UpdatedAt = time.Now().UTC()

	s.users[current.ID] = current
	s.emailIndex[norm] = current.ID

	return &current, nil
}

// Delete удаляет пользователя и каскадно все его заказы.
func (r *userRepositoryInMemory) Delete(_ context.Context, id int64) (bool, error) {
	if id <= 0 {
		return false, domain.ErrInvalidID
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.userByIDLocked(id)
	if !ok {
		return false, nil
	}

	for orderID, order := range s.orders {
		if order.UserID == id {
			delete(s.orders, orderID)
		}
	}
	delete(s.emailIndex, domain.NormalizeEmail(user.Email))
	delete(s.users, id)

	return true, nil
}

// Exists сообщает о наличии пользователя; неположительный id — просто false.
func (r *userRepositoryInMemory) Exists(_ context.Context, id int64) (bool, error) {
	if id <= 0 {
		return false, nil
	}

	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.users[id]
	return ok, nil
}

// EmailExists сообщает, занят ли email; пустой email — просто false.
func (r *userRepositoryInMemory) EmailExists(_ context.Context, email string) (bool, error) {
	norm := domain.NormalizeEmail(email)
	if norm == "" {
		return false, nil
	}

	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.emailIndex[norm]
	return ok, nil
}

var _ domain.UserRepository = (*userRepositoryInMemory)(nil)
