package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/mallkit/cart/internal/adapter/auth"
	"github.com/mallkit/cart/internal/adapter/remote"
	"github.com/mallkit/cart/internal/adapter/storage"
	"github.com/mallkit/cart/internal/core/domain"
	"github.com/mallkit/cart/internal/core/service"
)

func TestIntegration_GuestCartSurvivesSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cart.json")

	// Session one: a guest fills the cart.
	first := service.NewCartStore(storage.NewLocalAdapter(path))
	if err := first.Load(context.Background()); err != nil {
		t.Fatalf("first load failed: %v", err)
	}

	hoodie := domain.Product{ID: "sku-hoodie", Name: "Zip Hoodie", Price: 5900, Images: []string{"hoodie.jpg"}}
	poster := domain.Product{ID: "sku-poster", Name: "Gallery Poster", Price: 1500}

	first.AddItem(hoodie, 1, domain.SizeM)
	first.AddItem(poster, 2, domain.SizeNone)
	first.AddItem(hoodie, 1, domain.SizeM) // merges to quantity 2
	first.Close()

	wantTotal := first.Total()
	if wantTotal != 2*5900+2*1500 {
		t.Fatalf("unexpected total in first session: %d", wantTotal)
	}

	// Session two: a fresh store on the same local snapshot.
	second := service.NewCartStore(storage.NewLocalAdapter(path))
	if err := second.Load(context.Background()); err != nil {
		t.Fatalf("second load failed: %v", err)
	}
	defer second.Close()

	if !second.Initialized() {
		t.Error("second session should be initialized after load")
	}
	items := second.Items()
	if len(items) != 2 {
		t.Fatalf("expected 2 items restored, got %d", len(items))
	}
	if items[0].ProductID != "sku-hoodie" || items[0].Quantity != 2 {
		t.Errorf("expected merged hoodie line first, got %+v", items[0])
	}
	if got := second.Total(); got != wantTotal {
		t.Errorf("expected total %d restored, got %d", wantTotal, got)
	}
}

// fakeCartAPI is an in-memory stand-in for the storefront's cart service,
// including bearer auth with an expiring access token.
type fakeCartAPI struct {
	mu      sync.Mutex
	entries []fakeEntry
	token   string
	refresh string
}

type fakeEntry struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Size      string `json:"selectedSize"`
	Product   struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Price int64  `json:"price"`
	} `json:"product"`
}

func (f *fakeCartAPI) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		defer f.mu.Unlock()
		if body["refreshToken"] != f.refresh {
			http.Error(w, "bad refresh token", http.StatusUnauthorized)
			return
		}
		f.token = f.token + "+"
		f.refresh = f.refresh + "+"
		json.NewEncoder(w).Encode(map[string]string{
			"accessToken":  f.token,
			"refreshToken": f.refresh,
		})
	})

	mux.HandleFunc("/cart", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(f.entries)
		case http.MethodDelete:
			f.entries = nil
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/cart/items", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body struct {
			ProductID string `json:"productId"`
			Quantity  int    `json:"quantity"`
			Size      string `json:"selectedSize"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		for i := range f.entries {
			if f.entries[i].ProductID == body.ProductID && f.entries[i].Size == body.Size {
				f.entries[i].Quantity = body.Quantity
				w.WriteHeader(http.StatusOK)
				return
			}
		}
		e := fakeEntry{ProductID: body.ProductID, Quantity: body.Quantity, Size: body.Size}
		e.Product.ID = body.ProductID
		e.Product.Name = "Product " + body.ProductID
		e.Product.Price = 1000
		f.entries = append(f.entries, e)
		w.WriteHeader(http.StatusCreated)
	})

	mux.HandleFunc("/cart/items/", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Method != http.MethodDelete {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/cart/items/"), "/")
		if len(parts) != 2 {
			http.Error(w, "bad path", http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		for i := range f.entries {
			if f.entries[i].ProductID == parts[0] && f.entries[i].Size == parts[1] {
				f.entries = append(f.entries[:i], f.entries[i+1:]...)
				break
			}
		}
		w.WriteHeader(http.StatusNoContent)
	})

	return mux
}

func (f *fakeCartAPI) authorized(r *http.Request) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return r.Header.Get("Authorization") == "Bearer "+f.token
}

func (f *fakeCartAPI) snapshot() []fakeEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakeEntry(nil), f.entries...)
}

// expireToken invalidates the current access token while keeping the
// refresh token honored, like a server-side access-token TTL firing.
func (f *fakeCartAPI) expireToken() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = f.token + "+"
}

func TestIntegration_RemoteCartFullFlow(t *testing.T) {
	api := &fakeCartAPI{token: "t1", refresh: "r1"}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	guard := auth.NewTokenGuard(
		auth.Credentials{AccessToken: "t1", RefreshToken: "r1"},
		auth.NewHTTPRefresher(srv.URL, nil),
	)
	store := service.NewCartStore(remote.NewClient(srv.URL, nil, guard))

	if err := store.Load(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	shirt := domain.Product{ID: "sku-shirt", Name: "Shirt", Price: 2500}
	mug := domain.Product{ID: "sku-mug", Name: "Mug", Price: 900}

	if err := store.AddItem(shirt, 2, domain.SizeL); err != nil {
		t.Fatalf("add shirt failed: %v", err)
	}
	if err := store.AddItem(mug, 1, domain.SizeNone); err != nil {
		t.Fatalf("add mug failed: %v", err)
	}
	if err := store.SetQuantity("sku-shirt", domain.SizeL, 5); err != nil {
		t.Fatalf("set quantity failed: %v", err)
	}
	if err := store.RemoveItem("sku-mug", domain.SizeNone); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	store.Close()

	entries := api.snapshot()
	if len(entries) != 1 {
		t.Fatalf("expected 1 remote entry, got %d", len(entries))
	}
	if entries[0].ProductID != "sku-shirt" || entries[0].Quantity != 5 || entries[0].Size != "L" {
		t.Errorf("unexpected remote state: %+v", entries[0])
	}
}

func TestIntegration_RemoteCartRecoversFromTokenExpiry(t *testing.T) {
	api := &fakeCartAPI{token: "t1", refresh: "r1"}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	guard := auth.NewTokenGuard(
		auth.Credentials{AccessToken: "t1", RefreshToken: "r1"},
		auth.NewHTTPRefresher(srv.URL, nil),
	)
	store := service.NewCartStore(remote.NewClient(srv.URL, nil, guard))

	events, unsubscribe := store.Subscribe()
	defer unsubscribe()

	if err := store.Load(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	// The server rotates its expected token mid-session: the next persist
	// hits a 401 and must refresh and retry transparently.
	api.expireToken()

	shirt := domain.Product{ID: "sku-shirt", Name: "Shirt", Price: 2500}
	if err := store.AddItem(shirt, 1, domain.SizeM); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	store.Close()

	entries := api.snapshot()
	if len(entries) != 1 || entries[0].Quantity != 1 {
		t.Fatalf("expected the persist to survive token expiry, got %+v", entries)
	}

	// The mutation stuck, so no revert notification may have fired.
	reverts := 0
	for drained := false; !drained; {
		select {
		case ev := <-events:
			if ev.Type == service.EventReverted {
				reverts++
			}
		default:
			drained = true
		}
	}
	if reverts != 0 {
		t.Errorf("expected no reverts, got %d", reverts)
	}
	if guard.Expired() {
		t.Error("guard must stay valid after a successful refresh")
	}
}
