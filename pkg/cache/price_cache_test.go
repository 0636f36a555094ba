package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
)

func TestSetGet(t *testing.T) {
	c := NewPriceCache()

	if _, ok := c.Get("BTCUSDT"); ok {
		t.Fatal("empty cache returned a price")
	}

	c.Set("BTCUSDT", decimal.NewFromInt(50000))
	c.Set("ETHUSDT", decimal.NewFromInt(3000))
	c.Set("BTCUSDT", decimal.NewFromInt(51000)) // overwrite

	price, ok := c.Get("BTCUSDT")
	if !ok || !price.Equal(decimal.NewFromInt(51000)) {
		t.Fatalf("price = %s ok=%v, want 51000", price, ok)
	}
	if c.Len() != 2 {
		t.Fatalf("len = %d, want 2", c.Len())
	}

	all := c.All()
	if len(all) != 2 || !all["ETHUSDT"].Equal(decimal.NewFromInt(3000)) {
		t.Fatalf("all = %v", all)
	}
}

func TestGetWithAge(t *testing.T) {
	c := NewPriceCache()
	c.Set("BTCUSDT", decimal.NewFromInt(100))

	price, age, ok := c.GetWithAge("BTCUSDT")
	if !ok || !price.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("price = %s ok=%v", price, ok)
	}
	if age < 0 {
		t.Fatalf("age = %v", age)
	}
	if _, _, ok := c.GetWithAge("missing"); ok {
		t.Fatal("missing symbol reported ok")
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := NewPriceCache()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sym := fmt.Sprintf("SYM%d", j%20)
				c.Set(sym, decimal.NewFromInt(int64(n*100+j)))
				c.Get(sym)
			}
		}(i)
	}
	wg.Wait()
	if c.Len() != 20 {
		t.Fatalf("len = %d, want 20", c.Len())
	}
}
