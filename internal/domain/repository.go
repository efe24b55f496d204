package domain

import "context"

// UserRepository описывает требования к хранилищу пользователей.
//
// Контракт на отсутствие данных несимметричен и это намеренно: чтения
// возвращают (nil, nil), Delete возвращает (false, nil), и только Update
// считает отсутствие цели ошибкой (ErrUserNotFound) — обновление всегда
// адресует реальные данные.
type UserRepository interface {
	// GetAll возвращает всех пользователей без фильтрации.
	GetAll(ctx context.Context) ([]User, error)
	// GetByID возвращает пользователя или (nil, nil), если его нет.
	// Для id <= 0 возвращает ErrInvalidID.
	GetByID(ctx context.Context, id int64) (*User, error)
	// GetByEmail ищет пользователя по email без учёта регистра.
	// Для пустого email возвращает ErrEmailRequired.
	GetByEmail(ctx context.Context, email string) (*User, error)
	// Add сохраняет нового пользователя, присваивает сгенерированный id и
	// возвращает сохранённую сущность. Дубликат email — ErrEmailTaken.
	Add(ctx context.Context, user *User) (*User, error)
	// Update переписывает first_name, last_name и email по user.ID (сам id
	// неизменяем). Несуществующий id — ErrUserNotFound; email, занятый другим
	// пользователем, — ErrEmailTaken.
	Update(ctx context.Context, user *User) (*User, error)
	// Delete удаляет пользователя вместе с его заказами (каскад).
	// Возвращает true, если хранилище отчиталось хотя бы об одной затронутой записи.
	Delete(ctx context.Context, id int64) (bool, error)
	// Exists сообщает, существует ли пользователь; для id <= 0 — false без ошибки.
	Exists(ctx context.Context, id int64) (bool, error)
	// EmailExists сообщает, занят ли email (без учёта регистра);
	// для пустого email — false без ошибки.
	EmailExists(ctx context.Context, email string) (bool, error)
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// GetAll возвращает все заказы, к каждому прикреплён владелец (Order.User).
	GetAll(ctx context.Context) ([]Order, error)
	// GetByUserID возвращает заказы пользователя (возможно, пустой список).
	// Для userID <= 0 возвращает ErrInvalidID.
	GetByUserID(ctx context.Context, userID int64) ([]Order, error)
	// GetByID возвращает заказ с владельцем или (nil, nil), если его нет.
	GetByID(ctx context.Context, id int64) (*Order, error)
	// Add сохраняет новый заказ. Несуществующий order.UserID — ErrUserNotFound.
	Add(ctx context.Context, order *Order) (*Order, error)
	// Update переписывает user_id, product, quantity и price по order.ID
	// (сам id неизменяем). Несуществующий заказ — ErrOrderNotFound,
	// несуществующий новый user_id — ErrUserNotFound.
	Update(ctx context.Context, order *Order) (*Order, error)
	// Delete удаляет заказ без каскадных эффектов.
	Delete(ctx context.Context, id int64) (bool, error)
	// Exists сообщает, существует ли заказ; для id <= 0 — false без ошибки.
	Exists(ctx context.Context, id int64) (bool, error)
}
