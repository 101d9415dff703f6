package repositories

import (
	"context"
	"sync"
)

// MemoryUnitOfWork serialises units per product with a keyed mutex. Memory repositories
// register compensations on the unit's journal, which are replayed in reverse when fn fails.
type MemoryUnitOfWork struct {
	mu    sync.Mutex
	locks map[string]*productLock
}

type productLock struct {
	mu   sync.Mutex
	refs int
}

type journal struct {
	products map[string]struct{}
	undo     []func()
}

type journalKey struct{}

func NewMemoryUnitOfWork() *MemoryUnitOfWork {
	return &MemoryUnitOfWork{locks: make(map[string]*productLock)}
}

func (u *MemoryUnitOfWork) RunAtomically(ctx context.Context, productId string, fn func(ctx context.Context) error) (err error) {
	parent := journalFrom(ctx)
	if parent != nil {
		if _, held := parent.products[productId]; held {
			return fn(ctx)
		}
	}

	unlock := u.lock(productId)
	defer unlock()

	j := &journal{products: map[string]struct{}{productId: {}}}
	if parent != nil {
		for p := range parent.products {
			j.products[p] = struct{}{}
		}
	}

	defer func() {
		if r := recover(); r != nil {
			j.rollback()
			panic(r)
		}
		if err != nil {
			j.rollback()
			return
		}
		if parent != nil {
			parent.undo = append(parent.undo, j.undo...)
		}
	}()
	return fn(context.WithValue(ctx, journalKey{}, j))
}

func (u *MemoryUnitOfWork) lock(productId string) func() {
	u.mu.Lock()
	l, ok := u.locks[productId]
	if !ok {
		l = &productLock{}
		u.locks[productId] = l
	}
	l.refs++
	u.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		u.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(u.locks, productId)
		}
		u.mu.Unlock()
	}
}

func journalFrom(ctx context.Context) *journal {
	j, _ := ctx.Value(journalKey{}).(*journal)
	return j
}

// onRollback registers fn to run if the enclosing unit fails. Outside a unit it is a no-op.
func onRollback(ctx context.Context, fn func()) {
	if j := journalFrom(ctx); j != nil {
		j.undo = append(j.undo, fn)
	}
}

func (j *journal) rollback() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}
