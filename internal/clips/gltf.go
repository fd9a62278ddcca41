package clips

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/qmuntal/gltf"
)

var ErrNoAnimation = errors.New("asset has no animation")

// DecodeFunc turns raw asset bytes into a clip named name.
type DecodeFunc func(r io.Reader, name string) (*Clip, error)

// DecodeGLTF reads a glTF or GLB document and extracts its animation.
func DecodeGLTF(r io.Reader, name string) (*Clip, error) {
	doc := new(gltf.Document)
	if err := gltf.NewDecoder(r).Decode(doc); err != nil {
		return nil, fmt.Errorf("decode gltf: %w", err)
	}
	return ExtractClip(doc, name)
}

// ExtractClip builds a clip from the animation named name, or the first
// animation when none matches.
func ExtractClip(doc *gltf.Document, name string) (*Clip, error) {
	if len(doc.Animations) == 0 {
		return nil, ErrNoAnimation
	}

	anim := doc.Animations[0]
	for _, a := range doc.Animations {
		if a.Name == name {
			anim = a
			break
		}
	}

	clip := &Clip{Name: name}
	for i, ch := range anim.Channels {
		if ch.Target.Node == nil {
			continue
		}
		if ch.Sampler < 0 || ch.Sampler >= len(anim.Samplers) {
			return nil, fmt.Errorf("channel %d: sampler %d out of range", i, ch.Sampler)
		}
		sampler := anim.Samplers[ch.Sampler]

		times, _, err := readFloats(doc, sampler.Input)
		if err != nil {
			return nil, fmt.Errorf("channel %d input: %w", i, err)
		}
		values, width, err := readFloats(doc, sampler.Output)
		if err != nil {
			return nil, fmt.Errorf("channel %d output: %w", i, err)
		}

		if ch.Target.Path == gltf.TRSWeights && len(times) > 0 {
			// weights are stored as scalars, one run of morph targets per key
			perKey := len(values) / len(times)
			if sampler.Interpolation == gltf.InterpolationCubicSpline {
				perKey /= 3
			}
			width = perKey
		}

		want := len(times) * width
		if sampler.Interpolation == gltf.InterpolationCubicSpline {
			want *= 3
		}
		if width == 0 || len(values) < want {
			return nil, fmt.Errorf("channel %d: %d output values for %d keyframes", i, len(values), len(times))
		}

		clip.Tracks = append(clip.Tracks, Track{
			Node:          *ch.Target.Node,
			Path:          ch.Target.Path,
			Interpolation: sampler.Interpolation,
			Times:         times,
			Values:        values[:want],
			Width:         width,
		})
		if n := len(times); n > 0 && times[n-1] > clip.Duration {
			clip.Duration = times[n-1]
		}
	}

	return clip, nil
}

// readFloats returns the accessor's elements flattened to float32 along with
// the component count per element.
func readFloats(doc *gltf.Document, accessorIdx int) ([]float32, int, error) {
	if accessorIdx < 0 || accessorIdx >= len(doc.Accessors) {
		return nil, 0, fmt.Errorf("accessor %d out of range", accessorIdx)
	}
	accessor := doc.Accessors[accessorIdx]
	width := componentsOf(accessor.Type)
	count := int(accessor.Count)
	if accessor.BufferView == nil {
		// sparse-only or zero-filled accessor
		return make([]float32, count*width), width, nil
	}

	bufferView := doc.BufferViews[*accessor.BufferView]
	if int(bufferView.Buffer) >= len(doc.Buffers) {
		return nil, 0, fmt.Errorf("buffer %d out of range", bufferView.Buffer)
	}
	data := doc.Buffers[bufferView.Buffer].Data
	if len(data) == 0 {
		return nil, 0, errors.New("buffer has no embedded data")
	}

	size := componentSize(accessor.ComponentType)
	if size == 0 {
		return nil, 0, fmt.Errorf("unsupported component type %v", accessor.ComponentType)
	}

	offset := int(bufferView.ByteOffset) + int(accessor.ByteOffset)
	stride := int(bufferView.ByteStride)
	if stride == 0 {
		stride = size * width
	}
	if end := offset + (count-1)*stride + size*width; count > 0 && end > len(data) {
		return nil, 0, fmt.Errorf("accessor %d overruns buffer (%d > %d)", accessorIdx, end, len(data))
	}

	out := make([]float32, count*width)
	for i := 0; i < count; i++ {
		base := offset + i*stride
		for c := 0; c < width; c++ {
			p := data[base+c*size:]
			out[i*width+c] = readComponent(p, accessor.ComponentType, accessor.Normalized)
		}
	}
	return out, width, nil
}

func readComponent(p []byte, ct gltf.ComponentType, normalized bool) float32 {
	switch ct {
	case gltf.ComponentFloat:
		return math.Float32frombits(binary.LittleEndian.Uint32(p))
	case gltf.ComponentByte:
		v := float32(int8(p[0]))
		if normalized {
			return max(v/127, -1)
		}
		return v
	case gltf.ComponentUbyte:
		v := float32(p[0])
		if normalized {
			return v / 255
		}
		return v
	case gltf.ComponentShort:
		v := float32(int16(binary.LittleEndian.Uint16(p)))
		if normalized {
			return max(v/32767, -1)
		}
		return v
	case gltf.ComponentUshort:
		v := float32(binary.LittleEndian.Uint16(p))
		if normalized {
			return v / 65535
		}
		return v
	case gltf.ComponentUint:
		return float32(binary.LittleEndian.Uint32(p))
	}
	return 0
}

func componentSize(ct gltf.ComponentType) int {
	switch ct {
	case gltf.ComponentByte, gltf.ComponentUbyte:
		return 1
	case gltf.ComponentShort, gltf.ComponentUshort:
		return 2
	case gltf.ComponentFloat, gltf.ComponentUint:
		return 4
	}
	return 0
}

func componentsOf(t gltf.AccessorType) int {
	switch t {
	case gltf.AccessorScalar:
		return 1
	case gltf.AccessorVec2:
		return 2
	case gltf.AccessorVec3:
		return 3
	case gltf.AccessorVec4, gltf.AccessorMat2:
		return 4
	case gltf.AccessorMat3:
		return 9
	case gltf.AccessorMat4:
		return 16
	}
	return 0
}
