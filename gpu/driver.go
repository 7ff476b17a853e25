// Package gpu defines the interfaces that the execution engine and buffer
// manager use to drive an underlying shader-compute backend (OpenGL/GLES
// class APIs). It intentionally knows nothing about shader kernels,
// parameter formats, or network topology: those are external collaborators
// (see spec.md §1).
package gpu

import (
	"errors"
	"log"
	"sync"
)

// Driver loads and unloads an underlying backend implementation
// (e.g. an OpenGL context bound to an offscreen surface).
type Driver interface {
	// Open initializes the driver and returns the GPU it exposes.
	// Further calls on an already-open driver return the same GPU.
	// Not safe for parallel execution.
	Open() (GPU, error)

	// Name returns the name of the driver. Must not open it.
	Name() string

	// Close deinitializes the driver. Closing a driver that is not
	// open has no effect. Not safe for parallel execution.
	Close()
}

// Sentinel errors surfaced by backend implementations.
var (
	ErrNotInstalled  = errors.New("gpu: missing required backend library")
	ErrNoDevice      = errors.New("gpu: no suitable device found")
	ErrNoHostMemory  = errors.New("gpu: out of host memory")
	ErrNoDeviceMemory = errors.New("gpu: out of device memory")
	ErrFatal         = errors.New("gpu: fatal backend error")
	ErrFenceTimeout  = errors.New("gpu: fence wait timed out")
)

// Drivers returns the registered Drivers.
func Drivers() []Driver {
	mu.Lock()
	defer mu.Unlock()
	drv := make([]Driver, len(drivers))
	copy(drv, drivers)
	return drv
}

// Register registers a Driver. Backend packages call this exactly once
// from an init function. A driver with the same name is replaced.
func Register(drv Driver) {
	mu.Lock()
	defer mu.Unlock()
	for i := range drivers {
		if drivers[i].Name() == drv.Name() {
			drivers[i] = drv
			log.Printf("[!] gpu: driver %q replaced", drv.Name())
			return
		}
	}
	drivers = append(drivers, drv)
	log.Printf("gpu: driver %q registered", drv.Name())
}

var (
	mu      sync.Mutex
	drivers = make([]Driver, 0, 1)
)
