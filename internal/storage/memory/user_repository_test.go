package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/uos/internal/domain"
	"github.com/vladislavdragonenkov/uos/internal/storage/memory"
)

func newUser() domain.User {
	return domain.User{
		FirstName: "John",
		LastName:  "Doe",
		Email:     "john@example.com",
	}
}

func TestUserRepository_AddGetByID(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewUserRepository(store)
	ctx := context.Background()

	user := newUser()
	stored, err := repo.Add(ctx, &user)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if stored.ID == 0 {
		t.Fatal("expected generated id, got 0")
	}

	found, err := repo.GetByID(ctx, stored.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if found == nil {
		t.Fatal("expected user, got nil")
	}
	if found.Email != user.Email || found.FirstName != user.FirstName || found.LastName != user.LastName {
		t.Fatalf("stored user differs: %+v", found)
	}
}

func TestUserRepository_GetByIDAbsent(t *testing.T) {
	repo := memory.NewUserRepository(memory.NewStore())

	found, err := repo.GetByID(context.Background(), 999)
	if err != nil {
		t.Fatalf("expected no error for absent user, got %v", err)
	}
	if found != nil {
		t.Fatalf("expected nil for absent user, got %+v", found)
	}
}

func TestUserRepository_GetByIDInvalid(t *testing.T) {
	repo := memory.NewUserRepository(memory.NewStore())

	if _, err := repo.GetByID(context.Background(), 0); !errors.Is(err, domain.ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
}

func TestUserRepository_GetByEmailCaseInsensitive(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewUserRepository(store)
	ctx := context.Background()

	user := newUser()
	stored, err := repo.Add(ctx, &user)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	found, err := repo.GetByEmail(ctx, "JOHN@EXAMPLE.COM")
	if err != nil {
		t.Fatalf("get by email failed: %v", err)
	}
	if found == nil || found.ID != stored.ID {
		t.Fatalf("expected user %d, got %+v", stored.ID, found)
	}

	if _, err := repo.GetByEmail(ctx, "   "); !errors.Is(err, domain.ErrEmailRequired) {
		t.Fatalf("expected ErrEmailRequired, got %v", err)
	}
}

func TestUserRepository_AddDuplicateEmail(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewUserRepository(store)
	ctx := context.Background()

	first := newUser()
	first.Email = "dup@x.com"
	if _, err := repo.Add(ctx, &first); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	second := newUser()
	second.Email = "DUP@x.com"
	if _, err := repo.Add(ctx, &second); !errors.Is(err, domain.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestUserRepository_AddNil(t *testing.T) {
	repo := memory.NewUserRepository(memory.NewStore())

	if _, err := repo.Add(context.Background(), nil); !errors.Is(err, domain.ErrNilUser) {
		t.Fatalf("expected ErrNilUser, got %v", err)
	}
}

func TestUserRepository_Update(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewUserRepository(store)
	ctx := context.Background()

	user := newUser()
	stored, err := repo.Add(ctx, &user)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	stored.FirstName = "Jane"
	stored.Email = "jane@example.com"
	updated, err := repo.Update(ctx, stored)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.FirstName != "Jane" || updated.Email != "jane@example.com" {
		t.Fatalf("update not applied: %+v", updated)
	}
	if updated.ID != stored.ID {
		t.Fatalf("id must be immutable, got %d", updated.ID)
	}

	// Старый email освобождается после обновления.
	exists, err := repo.EmailExists(ctx, "john@example.com")
	if err != nil {
		t.Fatalf("email exists failed: %v", err)
	}
	if exists {
		t.Fatal("old email should be released after update")
	}
}

func TestUserRepository_UpdateNotFound(t *testing.T) {
	repo := memory.NewUserRepository(memory.NewStore())

	missing := newUser()
	missing.ID = 404
	if _, err := repo.Update(context.Background(), &missing); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUserRepository_UpdateEmailConflict(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewUserRepository(store)
	ctx := context.Background()

	first := newUser()
	if _, err := repo.Add(ctx, &first); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	second := newUser()
	second.Email = "second@example.com"
	storedSecond, err := repo.Add(ctx, &second)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	storedSecond.Email = "John@Example.com"
	if _, err := repo.Update(ctx, storedSecond); !errors.Is(err, domain.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestUserRepository_UpdateKeepOwnEmail(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewUserRepository(store)
	ctx := context.Background()

	user := newUser()
	stored, err := repo.Add(ctx, &user)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	// Смена регистра собственного email конфликтом не считается.
	stored.Email = "John@Example.COM"
	if _, err := repo.Update(ctx, stored); err != nil {
		t.Fatalf("update with own email failed: %v", err)
	}
}

func TestUserRepository_DeleteCascades(t *testing.T) {
	store := memory.NewStore()
	users := memory.NewUserRepository(store)
	orders := memory.NewOrderRepository(store)
	ctx := context.Background()

	user := newUser()
	stored, err := users.Add(ctx, &user)
	if err != nil {
		t.Fatalf("add user failed: %v", err)
	}

	order := domain.Order{
		UserID:   stored.ID,
		Product:  "keyboard",
		Quantity: 1,
		Price:    decimal.RequireFromString("9.99"),
	}
	if _, err := orders.Add(ctx, &order); err != nil {
		t.Fatalf("add order failed: %v", err)
	}

	deleted, err := users.Delete(ctx, stored.ID)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if !deleted {
		t.Fatal("expected delete to report true")
	}

	remaining, err := orders.GetByUserID(ctx, stored.ID)
	if err != nil {
		t.Fatalf("get by user id failed: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected cascade delete of orders, got %d", len(remaining))
	}
}

func TestUserRepository_DeleteAbsent(t *testing.T) {
	repo := memory.NewUserRepository(memory.NewStore())

	deleted, err := repo.Delete(context.Background(), 999)
	if err != nil {
		t.Fatalf("expected no error for absent user, got %v", err)
	}
	if deleted {
		t.Fatal("expected false for absent user")
	}
}

func TestUserRepository_ExistsAndEmailExists(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewUserRepository(store)
	ctx := context.Background()

	// Невалидные аргументы не считаются ошибкой.
	if ok, err := repo.Exists(ctx, -1); err != nil || ok {
		t.Fatalf("expected (false, nil) for invalid id, got (%v, %v)", ok, err)
	}
	if ok, err := repo.EmailExists(ctx, ""); err != nil || ok {
		t.Fatalf("expected (false, nil) for blank email, got (%v, %v)", ok, err)
	}

	user := newUser()
	stored, err := repo.Add(ctx, &user)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if ok, _ := repo.Exists(ctx, stored.ID); !ok {
		t.Fatal("expected user to exist")
	}
	if ok, _ := repo.EmailExists(ctx, "JOHN@example.com"); !ok {
		t.Fatal("expected email to exist regardless of casing")
	}
}
