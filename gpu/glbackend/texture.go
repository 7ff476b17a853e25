package glbackend

import (
	"github.com/go-gl/gl/v4.6-core/gl"

	"github.com/fynet/fyusenet/gpu"
)

// Texture is a single immutable-storage 2D GL texture.
type Texture struct {
	id   uint32
	desc gpu.TextureDesc
}

func (t *Texture) Width() int  { return t.desc.Width }
func (t *Texture) Height() int { return t.desc.Height }

func (t *Texture) Format() gpu.PixelFormat { return t.desc.Format }
func (t *Texture) Interp() gpu.Filter      { return t.desc.Interp }

func (t *Texture) Destroy() {
	if t.id == 0 {
		return
	}
	gl.DeleteTextures(1, &t.id)
	t.id = 0
}
