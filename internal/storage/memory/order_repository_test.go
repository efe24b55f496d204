package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/uos/internal/domain"
	"github.com/vladislavdragonenkov/uos/internal/storage/memory"
)

// seedUser добавляет пользователя-владельца для заказов.
func seedUser(t *testing.T, store *memory.Store) *domain.User {
	t.Helper()

	user := newUser()
	stored, err := memory.NewUserRepository(store).Add(context.Background(), &user)
	if err != nil {
		t.Fatalf("seed user failed: %v", err)
	}
	return stored
}

func newOrder(userID int64) domain.Order {
	return domain.Order{
		UserID:   userID,
		Product:  "keyboard",
		Quantity: 2,
		Price:    decimal.RequireFromString("49.90"),
	}
}

func TestOrderRepository_AddGetByID(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewOrderRepository(store)
	ctx := context.Background()
	owner := seedUser(t, store)

	order := newOrder(owner.ID)
	stored, err := repo.Add(ctx, &order)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if stored.ID == 0 {
		t.Fatal("expected generated id, got 0")
	}
	if stored.User == nil || stored.User.ID != owner.ID {
		t.Fatalf("expected owner attached, got %+v", stored.User)
	}

	found, err := repo.GetByID(ctx, stored.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if found == nil || found.Product != order.Product || !found.Price.Equal(order.Price) {
		t.Fatalf("stored order differs: %+v", found)
	}
	if found.User == nil || found.User.Email != owner.Email {
		t.Fatal("expected owning user attached on read")
	}
}

func TestOrderRepository_AddUnknownUser(t *testing.T) {
	repo := memory.NewOrderRepository(memory.NewStore())

	order := newOrder(12345)
	if _, err := repo.Add(context.Background(), &order); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	// Ничего не должно сохраниться.
	all, err := repo.GetAll(context.Background())
	if err != nil {
		t.Fatalf("get all failed: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected no persisted orders, got %d", len(all))
	}
}

func TestOrderRepository_AddNil(t *testing.T) {
	repo := memory.NewOrderRepository(memory.NewStore())

	if _, err := repo.Add(context.Background(), nil); !errors.Is(err, domain.ErrNilOrder) {
		t.Fatalf("expected ErrNilOrder, got %v", err)
	}
}

func TestOrderRepository_GetByUserID(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewOrderRepository(store)
	ctx := context.Background()
	owner := seedUser(t, store)

	for i := 0; i < 3; i++ {
		order := newOrder(owner.ID)
		if _, err := repo.Add(ctx, &order); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}

	orders, err := repo.GetByUserID(ctx, owner.ID)
	if err != nil {
		t.Fatalf("get by user id failed: %v", err)
	}
	if len(orders) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(orders))
	}

	empty, err := repo.GetByUserID(ctx, owner.ID+1)
	if err != nil {
		t.Fatalf("expected no error for user without orders, got %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty list, got %d", len(empty))
	}

	if _, err := repo.GetByUserID(ctx, 0); !errors.Is(err, domain.ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
}

func TestOrderRepository_Update(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewOrderRepository(store)
	ctx := context.Background()
	owner := seedUser(t, store)

	order := newOrder(owner.ID)
	stored, err := repo.Add(ctx, &order)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	stored.Product = "mouse"
	stored.Quantity = 5
	stored.Price = decimal.RequireFromString("19.99")
	updated, err := repo.Update(ctx, stored)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Product != "mouse" || updated.Quantity != 5 {
		t.Fatalf("update not applied: %+v", updated)
	}
	if updated.ID != stored.ID {
		t.Fatalf("id must be immutable, got %d", updated.ID)
	}
}

func TestOrderRepository_UpdateNotFound(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewOrderRepository(store)
	owner := seedUser(t, store)

	missing := newOrder(owner.ID)
	missing.ID = 404
	if _, err := repo.Update(context.Background(), &missing); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_UpdateUnknownUser(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewOrderRepository(store)
	ctx := context.Background()
	owner := seedUser(t, store)

	order := newOrder(owner.ID)
	stored, err := repo.Add(ctx, &order)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	stored.UserID = owner.ID + 100
	if _, err := repo.Update(ctx, stored); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	// Исходный заказ не должен измениться.
	current, err := repo.GetByID(ctx, stored.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if current.UserID != owner.ID {
		t.Fatalf("order must stay with original user, got %d", current.UserID)
	}
}

func TestOrderRepository_Delete(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewOrderRepository(store)
	ctx := context.Background()
	owner := seedUser(t, store)

	order := newOrder(owner.ID)
	stored, err := repo.Add(ctx, &order)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	deleted, err := repo.Delete(ctx, stored.ID)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if !deleted {
		t.Fatal("expected delete to report true")
	}

	deleted, err = repo.Delete(ctx, stored.ID)
	if err != nil {
		t.Fatalf("expected no error for absent order, got %v", err)
	}
	if deleted {
		t.Fatal("expected false for absent order")
	}
}

func TestOrderRepository_Exists(t *testing.T) {
	store := memory.NewStore()
	repo := memory.NewOrderRepository(store)
	ctx := context.Background()
	owner := seedUser(t, store)

	if ok, err := repo.Exists(ctx, -5); err != nil || ok {
		t.Fatalf("expected (false, nil) for invalid id, got (%v, %v)", ok, err)
	}

	order := newOrder(owner.ID)
	stored, err := repo.Add(ctx, &order)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if ok, _ := repo.Exists(ctx, stored.ID); !ok {
		t.Fatal("expected order to exist")
	}
}
