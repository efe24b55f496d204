package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/uos/internal/domain"
)

// Store держит общее in-memory состояние пользователей и заказов.
// Обе коллекции живут под одним мьютексом, чтобы каскадное удаление и
// проверки ссылочной целостности были атомарными.
type Store struct {
	mu sync.RWMutex

	users  map[int64]domain.User
	orders map[int64]domain.Order
	// emailIndex отображает нормализованный email на id владельца —
	// уникальность email проверяется только по этому ключу.
	emailIndex map[string]int64

	nextUserID  int64
	nextOrderID int64
}

// NewStore создаёт пустое in-memory хранилище для локальной разработки и тестов.
func NewStore() *Store {
	return &Store{
		users:      make(map[int64]domain.User),
		orders:     make(map[int64]domain.Order),
		emailIndex: make(map[string]int64),
	}
}

// userByIDLocked возвращает копию пользователя; вызывается под мьютексом.
func (s *Store) userByIDLocked(id int64) (domain.User, bool) {
	user, ok := s.users[id]
	return user, ok
}
