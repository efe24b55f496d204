package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/uos/internal/domain"
)

// orderRepositoryInMemory — in-memory реализация OrderRepository поверх общего Store.
type orderRepositoryInMemory struct {
	store *Store
}

// NewOrderRepository возвращает in-memory репозиторий заказов.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepositoryInMemory{store: store}
}

// GetAll возвращает все заказы с прикреплёнными владельцами, отсортированные по id.
func (r *orderRepositoryInMemory) GetAll(_ context.Context) ([]domain.Order, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0, len(s.orders))
	for _, order := range s.orders {
		result = append(result, s.attachUserLocked(order))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// GetByUserID возвращает заказы пользователя (возможно, пустой список).
func (r *orderRepositoryInMemory) GetByUserID(_ context.Context, userID int64) ([]domain.Order, error) {
	if userID <= 0 {
		return nil, domain.ErrInvalidID
	}

	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range s.orders {
		if order.UserID != userID {
			continue
		}
		result = append(result, s.attachUserLocked(order))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// GetByID возвращает заказ с владельцем или (nil, nil), если его нет.
func (r *orderRepositoryInMemory) GetByID(_ context.Context, id int64) (*domain.Order, error) {
	if id <= 0 {
		return nil, domain.ErrInvalidID
	}

	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	attached := s.attachUserLocked(order)
	return &attached, nil
}

// Add сохраняет новый заказ, проверив существование пользователя-владельца.
func (r *orderRepositoryInMemory) Add(_ context.Context, order *domain.Order) (*domain.Order, error) {
	if order == nil {
		return nil, domain.ErrNilOrder
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return nil, errs[0]
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.userByIDLocked(order.UserID); !ok {
		return nil, domain.ErrUserNotFound
	}

	s.nextOrderID++
	now := time.Now().UTC()

	stored := *order
	stored.ID = s.nextOrderID
	stored.User = nil
	stored.CreatedAt = now
	stored.UpdatedAt = now

	s.orders[stored.ID] = stored

	attached := s.attachUserLocked(stored)
	return &attached, nil
}

// Update переписывает изменяемые поля по order.ID; сам id не переназначается.
func (r *orderRepositoryInMemory) Update(_ context.Context, order *domain.Order) (*domain.Order, error) {
	if order == nil {
		return nil, domain.ErrNilOrder
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return nil, errs[0]
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.orders[order.ID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	if order.UserID != current.UserID {
		if _, ok := s.userByIDLocked(order.UserID); !ok {
			return nil, domain.ErrUserNotFound
		}
	}

	current.UserID = order.UserID
	current.Product = order.Product
	current.Quantity = order.Quantity
	current.Price = order.Price
	current.UpdatedAt = time.Now().UTC()

	s.orders[current.ID] = current

	attached := s.attachUserLocked(current)
	return &attached, nil
}

// Delete удаляет заказ без каскадных эффектов.
func (r *orderRepositoryInMemory) Delete(_ context.Context, id int64) (bool, error) {
	if id <= 0 {
		return false, domain.ErrInvalidID
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[id]; !ok {
		return false, nil
	}
	delete(s.orders, id)
	return true, nil
}

// Exists сообщает о наличии заказа; неположительный id — просто false.
func (r *orderRepositoryInMemory) Exists(_ context.Context, id int64) (bool, error) {
	if id <= 0 {
		return false, nil
	}

	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.orders[id]
	return ok, nil
}

// attachUserLocked прикрепляет копию владельца к копии заказа; вызывается под мьютексом.
func (s *Store) attachUserLocked(order domain.Order) domain.Order {
	if user, ok := s.userByIDLocked(order.UserID); ok {
		user.Orders = nil
		order.User = &user
	}
	return order
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
