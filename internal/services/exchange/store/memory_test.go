package store_test

import (
	"testing"

	"cashlink/internal/services/exchange/store"
	"cashlink/internal/services/exchange/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return store.NewMemory()
	})
}
