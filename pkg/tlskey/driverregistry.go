package tlskey

import (
	"fmt"
	"sync"

	"github.com/ThalesGroup/crypto11"
)

// driverRef is a process-wide, reference-counted PKCS#11 context. The
// underlying driver library may only be initialized once per process;
// closing one HardwareKey must not finalize a driver other Keys still
// hold sessions against.
type driverRef struct {
	ctx      *crypto11.Context
	refCount int
}

var (
	driverCacheMu sync.RWMutex
	driverCache   = make(map[string]*driverRef)
)

// driverCacheKey identifies a cacheable PKCS#11 context by the triple that
// determines its identity: library path, slot, and PIN (distinct PINs on
// the same slot are treated as distinct sessions).
func driverCacheKey(libraryPath, slot, pin string) string {
	return libraryPath + "|" + slot + "|" + pin
}

// acquireDriver returns the cached *crypto11.Context for (libraryPath,
// slot, pin), configuring and caching a new one on first use. Each call
// that succeeds must be matched by exactly one releaseDriver.
func acquireDriver(libraryPath, slot, pin string) (*crypto11.Context, error) {
	key := driverCacheKey(libraryPath, slot, pin)

	driverCacheMu.Lock()
	defer driverCacheMu.Unlock()

	if ref, ok := driverCache[key]; ok {
		ref.refCount++
		return ref.ctx, nil
	}

	cfg := &crypto11.Config{
		Path: libraryPath,
		Pin:  pin,
	}
	if slotID, ok := parseSlotID(slot); ok {
		cfg.SlotNumber = &slotID
	} else {
		cfg.TokenLabel = slot
	}

	ctx, err := crypto11.Configure(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDriverLoad, err)
	}

	driverCache[key] = &driverRef{ctx: ctx, refCount: 1}
	return ctx, nil
}

// releaseDriver decrements the reference count for (libraryPath, slot,
// pin) and closes the underlying context only when the last Key sharing
// it releases.
func releaseDriver(libraryPath, slot, pin string) error {
	key := driverCacheKey(libraryPath, slot, pin)

	driverCacheMu.Lock()
	defer driverCacheMu.Unlock()

	ref, ok := driverCache[key]
	if !ok {
		return nil
	}
	ref.refCount--
	if ref.refCount > 0 {
		return nil
	}
	delete(driverCache, key)
	return ref.ctx.Close()
}

func parseSlotID(slot string) (int, bool) {
	var n int
	if slot == "" {
		return 0, false
	}
	if _, err := fmt.Sscanf(slot, "%d", &n); err != nil {
		return 0, false
	}
	return n, true
}
