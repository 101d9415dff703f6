package repositories

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/giovaniif/stock-reservation/domain/reservation"
	"github.com/giovaniif/stock-reservation/infra/clock"
	"github.com/giovaniif/stock-reservation/infra/database"
	"github.com/giovaniif/stock-reservation/protocols"
)

type stockSetter interface {
	protocols.Catalog
	SetStock(ctx context.Context, productId string, quantity int) error
}

type stack struct {
	store   reservation.Repository
	catalog stockSetter
	uow     protocols.UnitOfWork
	clock   *clock.Manual
}

func stacks(t *testing.T) map[string]func(t *testing.T) stack {
	t.Helper()
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	out := map[string]func(t *testing.T) stack{
		"memory": func(t *testing.T) stack {
			clk := clock.NewManual(start)
			return stack{
				store:   NewMemoryReservationRepository(clk),
				catalog: NewMemoryCatalog(nil),
				uow:     NewMemoryUnitOfWork(),
				clock:   clk,
			}
		},
		"sqlite": func(t *testing.T) stack {
			return sqlStack(t, database.DriverSqlite, ":memory:", start)
		},
	}
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		out["postgres"] = func(t *testing.T) stack {
			return sqlStack(t, database.DriverPostgres, dsn, start)
		}
	}
	return out
}

func sqlStack(t *testing.T, driver, dsn string, start time.Time) stack {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, driver, dsn)
	if err != nil {
		t.Fatalf("open %s: %v", driver, err)
	}
	t.Cleanup(func() { _ = db.Close() })
	for _, stmt := range []string{`DELETE FROM stock_reservations`, `DELETE FROM products`} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("truncate: %v", err)
		}
	}
	clk := clock.NewManual(start)
	return stack{
		store:   NewSqlReservationRepository(db, clk),
		catalog: NewSqlCatalog(db, clk),
		uow:     database.NewUnitOfWork(db),
		clock:   clk,
	}
}

func TestReservationRepository(t *testing.T) {
	for name, newStack := range stacks(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("Create assigns id and deadline", func(t *testing.T) {
				s := newStack(t)
				ctx := context.Background()
				created, err := s.store.Create(ctx, reservation.CreateInput{
					ProductId: "p1", UserId: "u1", Quantity: 2, SessionId: "s1", Duration: 15 * time.Minute,
				})
				if err != nil {
					t.Fatalf("expected nil error, got %v", err)
				}
				if created.Id == "" {
					t.Fatalf("expected id to be assigned")
				}
				if !created.IsActive || created.Outcome != reservation.OutcomeActive {
					t.Fatalf("expected active reservation, got %+v", created)
				}
				if !created.ExpiresAt.Equal(s.clock.Now().Add(15 * time.Minute)) {
					t.Fatalf("unexpected deadline %v", created.ExpiresAt)
				}

				got, err := s.store.Get(ctx, created.Id)
				if err != nil {
					t.Fatalf("get: %v", err)
				}
				if got.ProductId != "p1" || got.UserId != "u1" || got.Quantity != 2 || got.SessionId != "s1" {
					t.Fatalf("unexpected record %+v", got)
				}
				if !got.ExpiresAt.Equal(created.ExpiresAt) || !got.CreatedAt.Equal(created.CreatedAt) {
					t.Fatalf("timestamps did not round trip: %+v vs %+v", got, created)
				}
			})

			t.Run("Create rejects non-positive quantity", func(t *testing.T) {
				s := newStack(t)
				_, err := s.store.Create(context.Background(), reservation.CreateInput{ProductId: "p1", UserId: "u1", Quantity: 0, Duration: time.Minute})
				if !errors.Is(err, reservation.ErrInvalidQuantity) {
					t.Fatalf("expected ErrInvalidQuantity, got %v", err)
				}
			})

			t.Run("Get returns ErrReservationNotFound", func(t *testing.T) {
				s := newStack(t)
				_, err := s.store.Get(context.Background(), "missing")
				if !errors.Is(err, reservation.ErrReservationNotFound) {
					t.Fatalf("expected ErrReservationNotFound, got %v", err)
				}
			})

			t.Run("Deactivate is compare-and-set", func(t *testing.T) {
				s := newStack(t)
				ctx := context.Background()
				created, _ := s.store.Create(ctx, reservation.CreateInput{ProductId: "p1", UserId: "u1", Quantity: 1, Duration: time.Minute})
				s.clock.Advance(time.Second)

				ok, err := s.store.Deactivate(ctx, created.Id, reservation.OutcomeReleased)
				if err != nil || !ok {
					t.Fatalf("expected first deactivate to win, got ok=%v err=%v", ok, err)
				}
				ok, err = s.store.Deactivate(ctx, created.Id, reservation.OutcomeExpired)
				if err != nil || ok {
					t.Fatalf("expected second deactivate to lose, got ok=%v err=%v", ok, err)
				}
				ok, err = s.store.Deactivate(ctx, "missing", reservation.OutcomeExpired)
				if err != nil || ok {
					t.Fatalf("expected missing id to report false, got ok=%v err=%v", ok, err)
				}

				got, _ := s.store.Get(ctx, created.Id)
				if got.IsActive || got.Outcome != reservation.OutcomeReleased {
					t.Fatalf("expected released record, got %+v", got)
				}
				if !got.UpdatedAt.After(created.UpdatedAt) {
					t.Fatalf("expected UpdatedAt to move on transition")
				}
			})

			t.Run("queries split live and overdue holds", func(t *testing.T) {
				s := newStack(t)
				ctx := context.Background()
				short, _ := s.store.Create(ctx, reservation.CreateInput{ProductId: "p1", UserId: "u1", Quantity: 1, Duration: time.Minute})
				long, _ := s.store.Create(ctx, reservation.CreateInput{ProductId: "p1", UserId: "u2", Quantity: 2, Duration: time.Hour})
				_, _ = s.store.Create(ctx, reservation.CreateInput{ProductId: "p2", UserId: "u1", Quantity: 3, Duration: time.Hour})
				released, _ := s.store.Create(ctx, reservation.CreateInput{ProductId: "p1", UserId: "u3", Quantity: 4, Duration: time.Hour})
				if _, err := s.store.Deactivate(ctx, released.Id, reservation.OutcomeReleased); err != nil {
					t.Fatalf("deactivate: %v", err)
				}

				s.clock.Advance(time.Minute)

				live, err := s.store.ActiveForProduct(ctx, "p1")
				if err != nil {
					t.Fatalf("active for product: %v", err)
				}
				if len(live) != 1 || live[0].Id != long.Id {
					t.Fatalf("expected only the long hold to be live, got %+v", live)
				}

				byUser, err := s.store.ActiveForUser(ctx, "u1")
				if err != nil {
					t.Fatalf("active for user: %v", err)
				}
				if len(byUser) != 2 {
					t.Fatalf("expected overdue and live holds for u1, got %+v", byUser)
				}

				expired, err := s.store.ExpiredButActive(ctx)
				if err != nil {
					t.Fatalf("expired but active: %v", err)
				}
				if len(expired) != 1 || expired[0].Id != short.Id {
					t.Fatalf("expected only the short hold to be overdue, got %+v", expired)
				}
			})
		})
	}
}

func TestCatalog(t *testing.T) {
	for name, newStack := range stacks(t) {
		t.Run(name, func(t *testing.T) {
			s := newStack(t)
			ctx := context.Background()
			if err := s.catalog.SetStock(ctx, "p1", 5); err != nil {
				t.Fatalf("set stock: %v", err)
			}

			if err := s.catalog.DecrementStock(ctx, "p1", 3); err != nil {
				t.Fatalf("expected decrement to succeed, got %v", err)
			}
			if err := s.catalog.DecrementStock(ctx, "p1", 3); !errors.Is(err, reservation.ErrInsufficientStock) {
				t.Fatalf("expected ErrInsufficientStock, got %v", err)
			}
			if err := s.catalog.DecrementStock(ctx, "missing", 1); !errors.Is(err, reservation.ErrProductNotFound) {
				t.Fatalf("expected ErrProductNotFound, got %v", err)
			}
			if _, err := s.catalog.OnHandStock(ctx, "missing"); !errors.Is(err, reservation.ErrProductNotFound) {
				t.Fatalf("expected ErrProductNotFound, got %v", err)
			}
			stock, err := s.catalog.OnHandStock(ctx, "p1")
			if err != nil || stock != 2 {
				t.Fatalf("expected stock 2, got %d (err=%v)", stock, err)
			}
		})
	}
}

func TestUnitOfWork_RollsBackRepositoryWrites(t *testing.T) {
	for name, newStack := range stacks(t) {
		t.Run(name, func(t *testing.T) {
			s := newStack(t)
			ctx := context.Background()
			_ = s.catalog.SetStock(ctx, "p1", 5)

			boom := errors.New("boom")
			var createdId string
			err := s.uow.RunAtomically(ctx, "p1", func(ctx context.Context) error {
				created, err := s.store.Create(ctx, reservation.CreateInput{ProductId: "p1", UserId: "u1", Quantity: 2, Duration: time.Minute})
				if err != nil {
					return err
				}
				createdId = created.Id
				if err := s.catalog.DecrementStock(ctx, "p1", 2); err != nil {
					return err
				}
				return boom
			})
			if !errors.Is(err, boom) {
				t.Fatalf("expected boom, got %v", err)
			}
			if _, err := s.store.Get(ctx, createdId); !errors.Is(err, reservation.ErrReservationNotFound) {
				t.Fatalf("expected created hold to be rolled back, got %v", err)
			}
			if stock, _ := s.catalog.OnHandStock(ctx, "p1"); stock != 5 {
				t.Fatalf("expected stock restored to 5, got %d", stock)
			}
		})
	}
}

func TestMemoryUnitOfWork(t *testing.T) {
	t.Run("serialises units on the same product", func(t *testing.T) {
		uow := NewMemoryUnitOfWork()
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			inside  int
			overlap bool
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = uow.RunAtomically(context.Background(), "p1", func(ctx context.Context) error {
					mu.Lock()
					inside++
					if inside > 1 {
						overlap = true
					}
					mu.Unlock()
					time.Sleep(time.Millisecond)
					mu.Lock()
					inside--
					mu.Unlock()
					return nil
				})
			}()
		}
		wg.Wait()
		if overlap {
			t.Fatalf("expected units on the same product not to overlap")
		}
		if len(uow.locks) != 0 {
			t.Fatalf("expected product locks to be released, got %d", len(uow.locks))
		}
	})

	t.Run("nested unit on the same product does not deadlock", func(t *testing.T) {
		uow := NewMemoryUnitOfWork()
		calls := 0
		err := uow.RunAtomically(context.Background(), "p1", func(ctx context.Context) error {
			return uow.RunAtomically(ctx, "p1", func(ctx context.Context) error {
				calls++
				return nil
			})
		})
		if err != nil || calls != 1 {
			t.Fatalf("expected nested unit to run once, got calls=%d err=%v", calls, err)
		}
	})

	t.Run("failed outer unit undoes committed inner unit", func(t *testing.T) {
		uow := NewMemoryUnitOfWork()
		catalog := NewMemoryCatalog(map[string]int{"p1": 5, "p2": 5})
		boom := errors.New("boom")
		err := uow.RunAtomically(context.Background(), "p1", func(ctx context.Context) error {
			if err := catalog.DecrementStock(ctx, "p1", 1); err != nil {
				return err
			}
			if err := uow.RunAtomically(ctx, "p2", func(ctx context.Context) error {
				return catalog.DecrementStock(ctx, "p2", 2)
			}); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		for _, id := range []string{"p1", "p2"} {
			if stock, _ := catalog.OnHandStock(context.Background(), id); stock != 5 {
				t.Fatalf("expected %s stock restored to 5, got %d", id, stock)
			}
		}
	})

	t.Run("panic rolls back and propagates", func(t *testing.T) {
		uow := NewMemoryUnitOfWork()
		catalog := NewMemoryCatalog(map[string]int{"p1": 5})
		func() {
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic to propagate")
				}
			}()
			_ = uow.RunAtomically(context.Background(), "p1", func(ctx context.Context) error {
				_ = catalog.DecrementStock(ctx, "p1", 5)
				panic("boom")
			})
		}()
		if stock, _ := catalog.OnHandStock(context.Background(), "p1"); stock != 5 {
			t.Fatalf("expected stock restored to 5, got %d", stock)
		}
	})
}
