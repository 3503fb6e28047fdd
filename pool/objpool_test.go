package pool_test

import (
	"testing"

	"github.com/momentics/kqreactor/pool"
)

func TestSyncPoolReuse(t *testing.T) {
	created := 0
	p := pool.NewSyncPool(func() *int {
		created++
		v := 0
		return &v
	})

	a := p.Get()
	*a = 42
	p.Put(a)

	b := p.Get()
	if created != 1 {
		t.Errorf("expected exactly one allocation, got %d", created)
	}
	if b != a {
		t.Error("expected Get to return the recycled pointer after Put")
	}
}
