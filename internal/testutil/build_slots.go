// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"os"
	"runtime"
	"strconv"
	"sync"
	"testing"
)

// buildSlots caps the number of real image builds running at once across the
// test binary. Set IMGPROV_TEST_BUILD_SLOTS to override the default of
// min(GOMAXPROCS, 2).
var buildSlots = sync.OnceValue(func() chan struct{} {
	n := min(runtime.GOMAXPROCS(0), 2)
	if v, err := strconv.Atoi(os.Getenv("IMGPROV_TEST_BUILD_SLOTS")); err == nil && v > 0 {
		n = v
	}
	return make(chan struct{}, n)
})

// AcquireBuildSlot blocks until an image build slot is free and releases it
// when t finishes.
func AcquireBuildSlot(t testing.TB) {
	t.Helper()

	slots := buildSlots()
	select {
	case slots <- struct{}{}:
	case <-t.Context().Done():
		t.Fatal("gave up waiting for a build slot")
	}
	t.Cleanup(func() { <-slots })
}
