package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// maxProductLen — предел длины наименования товара, повторяет ограничение схемы.
const maxProductLen = 100

// Order — заказ пользователя. UserID обязан ссылаться на существующего
// пользователя в момент создания или обновления.
type Order struct {
	ID     int64
	UserID int64
	// Product — наименование товара, не длиннее 100 символов.
	Product string
	// Quantity — количество единиц, минимум 1.
	Quantity int32
	// Price — цена в денежных единицах, > 0, два знака после запятой.
	Price decimal.Decimal
	// User — невладеющая обратная ссылка на пользователя; заполняется при чтении
	// заказа, источником истины остаётся UserID.
	User      *User
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID <= 0 {
		errs = append(errs, ErrInvalidID)
	}
	if strings.TrimSpace(o.Product) == "" {
		errs = append(errs, ErrProductRequired)
	} else if len([]rune(o.Product)) > maxProductLen {
		errs = append(errs, ErrProductTooLong)
	}
	if o.Quantity < 1 {
		errs = append(errs, ErrQuantityInvalid)
	}
	if !validPrice(o.Price) {
		errs = append(errs, ErrPriceInvalid)
	}

	return errs
}

// validPrice требует положительную цену не более чем с двумя знаками после запятой.
func validPrice(price decimal.Decimal) bool {
	if !price.IsPositive() {
		return false
	}
	return price.Equal(price.Round(2))
}
