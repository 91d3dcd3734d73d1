package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mallkit/cart/internal/adapter/storage"
	"github.com/mallkit/cart/internal/core/domain"
	"github.com/mallkit/cart/internal/core/service"
)

const (
	totalMutators = 50
	opsPerMutator = 20
	productCount  = 8
)

var sizes = []domain.Size{domain.SizeNone, domain.SizeS, domain.SizeM, domain.SizeL}

func main() {
	dir, err := os.MkdirTemp("", "cart-stress-*")
	if err != nil {
		log.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	persist := storage.NewLocalAdapter(filepath.Join(dir, "cart.json"))
	store := service.NewCartStore(persist)

	if err := store.Load(context.Background()); err != nil {
		log.Fatalf("failed to load cart: %v", err)
	}

	events, unsubscribe := store.Subscribe()
	var reverted atomic.Int32
	go func() {
		for ev := range events {
			if ev.Type == service.EventReverted {
				reverted.Add(1)
			}
		}
	}()

	var applied atomic.Int32
	var rejected atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalMutators; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for op := 0; op < opsPerMutator; op++ {
				n := (worker + op) % productCount
				product := domain.Product{
					ID:    fmt.Sprintf("sku-%d", n),
					Name:  fmt.Sprintf("Product %d", n),
					Price: int64(100 * (n + 1)),
				}
				size := sizes[(worker+op)%len(sizes)]

				var err error
				switch op % 4 {
				case 0, 1:
					err = store.AddItem(product, 1, size)
				case 2:
					err = store.SetQuantity(product.ID, size, 1+op%domain.MaxQuantity)
				case 3:
					err = store.RemoveItem(product.ID, size)
				}
				if err == nil {
					applied.Add(1)
				} else {
					rejected.Add(1)
				}
			}
		}(i)
	}

	wg.Wait()

	// Drain background persists before checking the durable snapshot.
	store.Close()
	unsubscribe()
	elapsed := time.Since(start)

	items := store.Items()
	seen := make(map[domain.ItemKey]bool, len(items))
	duplicates := 0
	var literalTotal int64
	for _, it := range items {
		if seen[it.Key()] {
			duplicates++
		}
		seen[it.Key()] = true
		literalTotal += it.UnitPrice * int64(it.Quantity)
	}

	persisted, err := persist.Load(context.Background())
	if err != nil {
		log.Fatalf("failed to re-read persisted cart: %v", err)
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Mutators:          %d x %d ops\n", totalMutators, opsPerMutator)
	fmt.Printf("Applied:           %d\n", applied.Load())
	fmt.Printf("Rejected:          %d\n", rejected.Load())
	fmt.Printf("Reverted:          %d\n", reverted.Load())
	fmt.Printf("Line items:        %d\n", len(items))
	fmt.Printf("Duration:          %v\n", elapsed)
	fmt.Println("==========================================")

	pass := true
	if duplicates != 0 {
		pass = false
		fmt.Printf("FAIL: %d duplicate (product, size) keys\n", duplicates)
	}
	if store.Total() != literalTotal {
		pass = false
		fmt.Printf("FAIL: Total() %d != literal sum %d\n", store.Total(), literalTotal)
	}
	if len(persisted) != len(items) {
		pass = false
		fmt.Printf("FAIL: persisted %d items, in-memory %d\n", len(persisted), len(items))
	}
	if pass {
		fmt.Println("PASS: no duplicate keys, totals consistent, snapshot durable")
	}
}
