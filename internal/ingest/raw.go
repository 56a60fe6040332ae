package ingest

import (
	"image"

	"github.com/disintegration/imaging"

	"github.com/example/kyc-verif/internal/kyc"
)

// ImageType describes the memory layout of a raw pixel buffer.
type ImageType int

const (
	ImageTypeRGB24 ImageType = iota
	ImageTypeRGBA32
	ImageTypeBGRA32
	ImageTypeBGR24
	ImageTypeNV12
	ImageTypeNV21
	ImageTypeYUV420P
	ImageTypeYVU420P
	ImageTypeYUV422P
	ImageTypeYUV444P
	ImageTypeY
)

// RawImage is an uncompressed buffer plus its geometry. Stride is in bytes;
// zero means tightly packed. Orientation follows EXIF (1..8), zero means 1.
type RawImage struct {
	Type        ImageType
	Pix         []byte
	Width       int
	Height      int
	Stride      int
	Orientation int
}

func (t ImageType) bytesPerPixel() int {
	switch t {
	case ImageTypeRGB24, ImageTypeBGR24:
		return 3
	case ImageTypeRGBA32, ImageTypeBGRA32:
		return 4
	case ImageTypeY:
		return 1
	}
	return 0
}

// DecodeRaw converts a packed RGB, BGR, RGBA, BGRA or gray buffer into a
// frame, applying the EXIF orientation. Planar YUV layouts are not supported.
func (d *Decoder) DecodeRaw(raw RawImage) (*kyc.Frame, error) {
	const op = "ingest.decode_raw"
	bpp := raw.Type.bytesPerPixel()
	if bpp == 0 {
		return nil, kyc.Errorf(kyc.KindUnsupportedFormat, op, "unsupported raw image type %d", raw.Type)
	}
	if len(raw.Pix) == 0 {
		return nil, kyc.Errorf(kyc.KindCorruptData, op, "empty input")
	}
	if err := d.checkSize(raw.Width, raw.Height); err != nil {
		return nil, err
	}
	orientation := raw.Orientation
	if orientation == 0 {
		orientation = 1
	}
	if orientation < 1 || orientation > 8 {
		return nil, kyc.Errorf(kyc.KindCorruptData, op, "exif orientation %d outside [1, 8]", orientation)
	}
	row := raw.Width * bpp
	stride := raw.Stride
	if stride == 0 {
		stride = row
	}
	if stride < row {
		return nil, kyc.Errorf(kyc.KindCorruptData, op, "stride %d shorter than row of %d bytes", stride, row)
	}
	// stride*(Height-1)+row <= len(Pix), rearranged so nothing overflows.
	if len(raw.Pix) < row || (raw.Height > 1 && stride > (len(raw.Pix)-row)/(raw.Height-1)) {
		return nil, kyc.Errorf(kyc.KindCorruptData, op,
			"buffer holds %d bytes, too short for %d rows of stride %d", len(raw.Pix), raw.Height, stride)
	}

	img := image.NewNRGBA(image.Rect(0, 0, raw.Width, raw.Height))
	for y := 0; y < raw.Height; y++ {
		src := raw.Pix[y*stride:]
		dst := img.Pix[y*img.Stride:]
		for x := 0; x < raw.Width; x++ {
			s := src[x*bpp:]
			o := dst[4*x:]
			switch raw.Type {
			case ImageTypeRGB24:
				o[0], o[1], o[2], o[3] = s[0], s[1], s[2], 0xff
			case ImageTypeBGR24:
				o[0], o[1], o[2], o[3] = s[2], s[1], s[0], 0xff
			case ImageTypeRGBA32:
				o[0], o[1], o[2], o[3] = s[0], s[1], s[2], s[3]
			case ImageTypeBGRA32:
				o[0], o[1], o[2], o[3] = s[2], s[1], s[0], s[3]
			case ImageTypeY:
				o[0], o[1], o[2], o[3] = s[0], s[0], s[0], 0xff
			}
		}
	}

	frame := d.toFrame(orient(img, orientation), "raw")
	frame.Orientation = orientation
	return frame, nil
}

// orient undoes an EXIF orientation so the result is upright.
func orient(img *image.NRGBA, orientation int) *image.NRGBA {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	}
	return img
}
