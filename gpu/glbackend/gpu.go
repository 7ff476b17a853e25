package glbackend

import (
	"fmt"
	"runtime"

	"github.com/go-gl/gl/v4.6-core/gl"
	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/fynet/fyusenet/gpu"
)

// GPU implements gpu.GPU on top of a single OpenGL context bound to a
// hidden GLFW window.
type GPU struct {
	drv    *Driver
	window *glfw.Window
	limits gpu.Limits
}

func (g *GPU) Driver() gpu.Driver { return g.drv }

func (g *GPU) Limits() gpu.Limits { return g.limits }

// Derive creates a second hidden window sharing this GPU's context
// object namespace (buffers, textures survive across contexts) and
// makes it current on the calling goroutine. The caller must keep the
// OS thread locked for the derived GPU's lifetime, matching the engine's
// one-context-per-background-thread discipline (spec.md §5).
func (g *GPU) Derive() (gpu.GPU, error) {
	runtime.LockOSThread()
	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.ContextVersionMajor, 4)
	glfw.WindowHint(glfw.ContextVersionMinor, 6)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)
	win, err := glfw.CreateWindow(1, 1, "fyusenet-derived", nil, g.window)
	if err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("%w: %v", gpu.ErrNoDevice, err)
	}
	win.MakeContextCurrent()
	return &GPU{drv: g.drv, window: win, limits: g.limits}, nil
}

// NewBuffer allocates a GL buffer object. A visible buffer is backed by
// persistent-mapped client storage (GL_MAP_PERSISTENT_BIT); an invisible
// one is server-storage only and has no Bytes() access.
func (g *GPU) NewBuffer(size int64, visible bool, usg gpu.Usage) (gpu.Buffer, error) {
	var id uint32
	gl.GenBuffers(1, &id)
	if id == 0 {
		return nil, gpu.ErrNoDeviceMemory
	}
	gl.BindBuffer(gl.COPY_READ_BUFFER, id)
	flags := uint32(gl.DYNAMIC_STORAGE_BIT)
	if visible {
		flags |= gl.MAP_READ_BIT | gl.MAP_WRITE_BIT | gl.MAP_PERSISTENT_BIT | gl.MAP_COHERENT_BIT
	}
	gl.BufferStorage(gl.COPY_READ_BUFFER, size, nil, flags)

	b := &Buffer{id: id, size: size, visible: visible, usage: usg}
	if visible {
		ptr := gl.MapBufferRange(gl.COPY_READ_BUFFER, 0, size,
			gl.MAP_READ_BIT|gl.MAP_WRITE_BIT|gl.MAP_PERSISTENT_BIT|gl.MAP_COHERENT_BIT)
		if ptr == nil {
			gl.BindBuffer(gl.COPY_READ_BUFFER, 0)
			gl.DeleteBuffers(1, &id)
			return nil, gpu.ErrNoHostMemory
		}
		b.mapped = mapBytes(ptr, int(size))
	}
	gl.BindBuffer(gl.COPY_READ_BUFFER, 0)
	return b, nil
}

// NewTexture allocates an immutable-storage 2D texture.
func (g *GPU) NewTexture(desc gpu.TextureDesc) (gpu.Texture, error) {
	if desc.Width <= 0 || desc.Height <= 0 {
		return nil, fmt.Errorf("glbackend: invalid texture dimensions %dx%d", desc.Width, desc.Height)
	}
	internal, _, _ := glFormat(desc.Format)
	var id uint32
	gl.GenTextures(1, &id)
	if id == 0 {
		return nil, gpu.ErrNoDeviceMemory
	}
	gl.BindTexture(gl.TEXTURE_2D, id)
	gl.TexStorage2D(gl.TEXTURE_2D, 1, internal, int32(desc.Width), int32(desc.Height))
	filt := glFilter(desc.Interp)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, filt)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, filt)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	gl.BindTexture(gl.TEXTURE_2D, 0)
	return &Texture{id: id, desc: desc}, nil
}

// NewFence inserts a GL sync object into the current command stream.
func (g *GPU) NewFence() (gpu.Fence, error) {
	sync := gl.FenceSync(gl.SYNC_GPU_COMMANDS_COMPLETE, 0)
	if sync == 0 {
		return nil, gpu.ErrFatal
	}
	return &Fence{sync: sync}, nil
}

// CopyBufferToTexture uploads src into dst via glTexSubImage2D from a
// bound pixel unpack buffer, then blocks on a fence before reporting
// completion on ch.
func (g *GPU) CopyBufferToTexture(src gpu.Buffer, srcOffset int64, dst gpu.Texture, ch chan<- error) error {
	sb, ok := src.(*Buffer)
	if !ok {
		return fmt.Errorf("glbackend: foreign buffer type %T", src)
	}
	dt, ok := dst.(*Texture)
	if !ok {
		return fmt.Errorf("glbackend: foreign texture type %T", dst)
	}
	_, format, xtype := glFormat(dt.desc.Format)
	gl.BindBuffer(gl.PIXEL_UNPACK_BUFFER, sb.id)
	gl.BindTexture(gl.TEXTURE_2D, dt.id)
	gl.TexSubImage2D(gl.TEXTURE_2D, 0, 0, 0, int32(dt.desc.Width), int32(dt.desc.Height),
		format, xtype, gl.PtrOffset(int(srcOffset)))
	gl.BindTexture(gl.TEXTURE_2D, 0)
	gl.BindBuffer(gl.PIXEL_UNPACK_BUFFER, 0)
	return g.completeAfterFence(ch)
}

// CopyTextureToBuffer downloads src into dst via glGetTexImage into a
// bound pixel pack buffer, with the same completion contract.
func (g *GPU) CopyTextureToBuffer(src gpu.Texture, dst gpu.Buffer, dstOffset int64, ch chan<- error) error {
	st, ok := src.(*Texture)
	if !ok {
		return fmt.Errorf("glbackend: foreign texture type %T", src)
	}
	db, ok := dst.(*Buffer)
	if !ok {
		return fmt.Errorf("glbackend: foreign buffer type %T", dst)
	}
	_, format, xtype := glFormat(st.desc.Format)
	gl.BindBuffer(gl.PIXEL_PACK_BUFFER, db.id)
	gl.BindTexture(gl.TEXTURE_2D, st.id)
	gl.GetTexImage(gl.TEXTURE_2D, 0, format, xtype, gl.PtrOffset(int(dstOffset)))
	gl.BindTexture(gl.TEXTURE_2D, 0)
	gl.BindBuffer(gl.PIXEL_PACK_BUFFER, 0)
	return g.completeAfterFence(ch)
}

func (g *GPU) completeAfterFence(ch chan<- error) error {
	if ch == nil {
		return nil
	}
	f, err := g.NewFence()
	if err != nil {
		ch <- err
		return nil
	}
	err = f.Wait(fenceWaitForever)
	f.Destroy()
	ch <- err
	return nil
}
