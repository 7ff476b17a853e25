package shape

// ToShallow converts src, which must hold s.Bytes(Channelwise) bytes of
// channel-major data described by s, into ShallowGPU layout: ⌈C/4⌉
// slices of (W+2p)×(H+2p) pixels at 4 channels/pixel, concatenated in
// slice order. Unused channel lanes in the last slice are zeroed.
func ToShallow(src []byte, s Shape) []byte {
	esz := s.Elem.Size()
	w, h, c, p := s.Width, s.Height, s.Channels, s.Padding
	dst := make([]byte, s.Bytes(ShallowGPU))
	sw := w + 2*p
	for ch := 0; ch < c; ch++ {
		slice := ch / 4
		lane := ch % 4
		sliceBase := slice * sw * (h + 2*p) * 4 * esz
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				srcOff := (ch*h*w + y*w + x) * esz
				dstOff := sliceBase + (((y+p)*sw + (x + p)) * 4 + lane) * esz
				copy(dst[dstOff:dstOff+esz], src[srcOff:srcOff+esz])
			}
		}
	}
	return dst
}

// FromShallow is the inverse of ToShallow: it reconstructs channel-major
// data from ShallowGPU-layout bytes described by s.
func FromShallow(src []byte, s Shape) []byte {
	esz := s.Elem.Size()
	w, h, c, p := s.Width, s.Height, s.Channels, s.Padding
	dst := make([]byte, s.Bytes(Channelwise))
	sw := w + 2*p
	for ch := 0; ch < c; ch++ {
		slice := ch / 4
		lane := ch % 4
		sliceBase := slice * sw * (h + 2*p) * 4 * esz
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dstOff := (ch*h*w + y*w + x) * esz
				srcOff := sliceBase + (((y+p)*sw + (x + p)) * 4 + lane) * esz
				copy(dst[dstOff:dstOff+esz], src[srcOff:srcOff+esz])
			}
		}
	}
	return dst
}

// ToDeep converts src (channel-major, as described by s) into DeepGPU
// layout: a single slice of (tilesX·(W+p)+p) × (tilesY·(H+p)+p) pixels
// with channels arrayed four-per-pixel across tiles.
func ToDeep(src []byte, s Shape) []byte {
	esz := s.Elem.Size()
	w, h, c, p := s.Width, s.Height, s.Channels, s.Padding
	tx, _ := s.DeepTiles()
	dw, dh := s.DeepWidth(), s.DeepHeight()
	dst := make([]byte, s.Bytes(DeepGPU))
	for ch := 0; ch < c; ch++ {
		tile := ch / 4
		lane := ch % 4
		tileX := tile % tx
		tileY := tile / tx
		baseX := p + tileX*(w+p)
		baseY := p + tileY*(h+p)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				srcOff := (ch*h*w + y*w + x) * esz
				dstOff := (((baseY+y)*dw + (baseX + x)) * 4 + lane) * esz
				copy(dst[dstOff:dstOff+esz], src[srcOff:srcOff+esz])
			}
		}
	}
	_ = dh
	return dst
}

// FromDeep is the inverse of ToDeep: it reconstructs channel-major data
// from DeepGPU-layout bytes described by s.
func FromDeep(src []byte, s Shape) []byte {
	esz := s.Elem.Size()
	w, h, c, p := s.Width, s.Height, s.Channels, s.Padding
	tx, _ := s.DeepTiles()
	dw := s.DeepWidth()
	dst := make([]byte, s.Bytes(Channelwise))
	for ch := 0; ch < c; ch++ {
		tile := ch / 4
		lane := ch % 4
		tileX := tile % tx
		tileY := tile / tx
		baseX := p + tileX*(w+p)
		baseY := p + tileY*(h+p)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dstOff := (ch*h*w + y*w + x) * esz
				srcOff := (((baseY+y)*dw + (baseX + x)) * 4 + lane) * esz
				copy(dst[dstOff:dstOff+esz], src[srcOff:srcOff+esz])
			}
		}
	}
	return dst
}
