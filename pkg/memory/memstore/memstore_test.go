package memstore_test

import (
	"testing"

	"github.com/MrWong99/foglamp/pkg/memory"
	"github.com/MrWong99/foglamp/pkg/memory/memorytest"
	"github.com/MrWong99/foglamp/pkg/memory/memstore"
)

func TestStore(t *testing.T) {
	memorytest.Run(t, func(t *testing.T) memory.Store {
		return memstore.New()
	})
}
