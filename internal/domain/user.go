package domain

import (
	"strings"
	"time"
)

// User — владелец заказов. Email уникален без учёта регистра; сравнение всегда
// идёт по нормализованному ключу (NormalizeEmail), а не по store-side LOWER().
type User struct {
	ID        int64
	FirstName string
	LastName  string
	Email     string
	// Orders — принадлежащие пользователю заказы. Репозитории пользователей
	// коллекцию не загружают: связанные заказы читаются через
	// OrderRepository.GetByUserID. Удаление пользователя каскадно удаляет их.
	Orders    []Order
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizeEmail приводит email к ключу сравнения: trim + нижний регистр.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateInvariants проверяет базовые инварианты пользователя и возвращает список замечаний.
func (u *User) ValidateInvariants() []error {
	var errs []error

	if strings.TrimSpace(u.FirstName) == "" {
		errs = append(errs, ErrFirstNameRequired)
	}
	if strings.TrimSpace(u.LastName) == "" {
		errs = append(errs, ErrLastNameRequired)
	}
	if NormalizeEmail(u.Email) == "" {
		errs = append(errs, ErrEmailRequired)
	}

	return errs
}
