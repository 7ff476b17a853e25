// Package glbackend implements gpu.Driver and friends on top of an
// offscreen OpenGL core-profile context, using go-gl/gl for the API
// bindings and go-gl/glfw for context/window creation.
package glbackend

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/go-gl/gl/v4.6-core/gl"
	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/fynet/fyusenet/gpu"
)

func init() {
	runtime.LockOSThread()
	gpu.Register(&Driver{})
}

const driverName = "opengl"

// Driver opens a hidden GLFW window solely to obtain an OpenGL context;
// no window is ever shown, and no swapchain is used. All GPU work is
// compute/copy traffic driven through shader passes and buffer copies.
type Driver struct {
	mu     sync.Mutex
	window *glfw.Window
	gpu    *GPU
}

// Name returns "opengl".
func (d *Driver) Name() string { return driverName }

// Open creates the offscreen context and returns the GPU it exposes.
func (d *Driver) Open() (gpu.GPU, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gpu != nil {
		return d.gpu, nil
	}
	if err := glfw.Init(); err != nil {
		return nil, fmt.Errorf("%w: %v", gpu.ErrNotInstalled, err)
	}
	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.ContextVersionMajor, 4)
	glfw.WindowHint(glfw.ContextVersionMinor, 6)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)
	win, err := glfw.CreateWindow(1, 1, "fyusenet", nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("%w: %v", gpu.ErrNoDevice, err)
	}
	win.MakeContextCurrent()
	if err := gl.Init(); err != nil {
		win.Destroy()
		glfw.Terminate()
		return nil, fmt.Errorf("%w: %v", gpu.ErrFatal, err)
	}

	var maxTexSize int32
	gl.GetIntegerv(gl.MAX_TEXTURE_SIZE, &maxTexSize)
	var maxArrayLayers int32
	gl.GetIntegerv(gl.MAX_ARRAY_TEXTURE_LAYERS, &maxArrayLayers)

	d.window = win
	d.gpu = &GPU{
		drv:    d,
		window: win,
		limits: gpu.Limits{
			MaxTextureSize:   int(maxTexSize),
			MaxTextureLayers: int(maxArrayLayers),
		},
	}
	return d.gpu, nil
}

// Close destroys the offscreen context.
func (d *Driver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.window == nil {
		return
	}
	d.window.Destroy()
	d.window = nil
	d.gpu = nil
	glfw.Terminate()
}
