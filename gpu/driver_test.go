package gpu_test

import (
	"testing"

	"github.com/fynet/fyusenet/gpu"
)

type fakeDriver struct{ name string }

func (d *fakeDriver) Open() (gpu.GPU, error) { return nil, nil }
func (d *fakeDriver) Name() string           { return d.name }
func (d *fakeDriver) Close()                 {}

func TestRegisterDedup(t *testing.T) {
	before := len(gpu.Drivers())
	gpu.Register(&fakeDriver{name: "test-driver-a"})
	gpu.Register(&fakeDriver{name: "test-driver-a"})
	drivers := gpu.Drivers()
	if len(drivers) != before+1 {
		t.Fatalf("gpu.Register: length\nhave %d\nwant %d", len(drivers), before+1)
	}
}

func TestRegisterDistinctNames(t *testing.T) {
	gpu.Register(&fakeDriver{name: "test-driver-b"})
	gpu.Register(&fakeDriver{name: "test-driver-c"})
	seen := map[string]int{}
	for _, d := range gpu.Drivers() {
		seen[d.Name()]++
	}
	for name, n := range seen {
		if n != 1 {
			t.Errorf("gpu.Drivers: Name %q registered %d times, want 1", name, n)
		}
	}
}

func TestUsageMask(t *testing.T) {
	u := gpu.UShaderRead | gpu.UTransferDst
	if u&gpu.UShaderWrite != 0 {
		t.Fatalf("gpu.Usage: unexpected UShaderWrite bit set in %v", u)
	}
	if u&gpu.UShaderRead == 0 || u&gpu.UTransferDst == 0 {
		t.Fatalf("gpu.Usage: expected bits missing in %v", u)
	}
	if gpu.UGeneric&gpu.UShaderRead == 0 {
		t.Fatalf("gpu.UGeneric should include UShaderRead")
	}
}
