package domain

import "errors"

var (
	// Ошибка неположительного идентификатора в аргументах.
	ErrInvalidID = errors.New("id must be greater than zero")
	// Ошибка пустого/пробельного email в аргументах.
	ErrEmailRequired = errors.New("email is required")
	// Ошибка nil-пользователя, переданного в Add/Update.
	ErrNilUser = errors.New("user is required")
	// Ошибка nil-заказа, переданного в Add/Update.
	ErrNilOrder = errors.New("order is required")
	// Ошибка отсутствующего имени пользователя.
	ErrFirstNameRequired = errors.New("first_name is required")
	// Ошибка отсутствующей фамилии пользователя.
	ErrLastNameRequired = errors.New("last_name is required")
	// Ошибка отсутствующего наименования товара.
	ErrProductRequired = errors.New("product is required")
	// Ошибка слишком длинного наименования товара (> 100 символов).
	ErrProductTooLong = errors.New("product must be at most 100 characters")
	// Ошибка некорректного количества товара (< 1).
	ErrQuantityInvalid = errors.New("quantity must be at least one")
	// Ошибка некорректной цены (<= 0 или больше двух знаков после запятой).
	ErrPriceInvalid = errors.New("price must be positive with at most two decimal places")

	// ErrUserNotFound возвращается, если пользователь отсутствует в хранилище.
	// Update возвращает её для несуществующего id, OrderRepository — для
	// несуществующего user_id при создании/обновлении заказа.
	ErrUserNotFound = errors.New("user not found")
	// ErrOrderNotFound возвращается Update, если заказ отсутствует в хранилище.
	ErrOrderNotFound = errors.New("order not found")
	// ErrEmailTaken сигнализирует о нарушении уникальности email (без учёта регистра).
	ErrEmailTaken = errors.New("email is already taken")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// invalidArgumentErrors — ошибки валидации аргументов: проверяются до обращения
// к хранилищу, поэтому неудачный вызов не меняет сохранённое состояние.
var invalidArgumentErrors = []error{
	ErrInvalidID,
	ErrEmailRequired,
	ErrNilUser,
	ErrNilOrder,
	ErrFirstNameRequired,
	ErrLastNameRequired,
	ErrProductRequired,
	ErrProductTooLong,
	ErrQuantityInvalid,
	ErrPriceInvalid,
}

// IsInvalidArgument проверяет, является ли ошибка ошибкой валидации аргументов.
func IsInvalidArgument(err error) bool {
	for _, target := range invalidArgumentErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsNotFound проверяет, является ли ошибка отсутствием сущности.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrOrderNotFound)
}

// IsConflict проверяет, является ли ошибка конфликтом уникальности.
func IsConflict(err error) bool {
	return errors.Is(err, ErrEmailTaken)
}
