// Package clips loads named animation clips from glTF assets and caches them.
package clips

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
)

// Clip is a decoded, immutable animation sequence.
type Clip struct {
	Name     string
	Duration float32 // seconds
	Tracks   []Track
}

// Track animates one property of one node.
type Track struct {
	Node          int
	Path          gltf.TRSProperty
	Interpolation gltf.Interpolation
	Times         []float32
	// Values holds Width floats per keyframe, or 3*Width for cubic splines
	// (in-tangent, value, out-tangent).
	Values []float32
	Width  int
}

// NodeTransform is the sampled local transform of a single node. Only the
// properties flagged in Has carry meaning.
type NodeTransform struct {
	Translation mgl32.Vec3
	Rotation    mgl32.Quat
	Scale       mgl32.Vec3
	Weights     []float32
	Has         PropertyMask
}

// PropertyMask flags which NodeTransform fields were animated.
type PropertyMask uint8

const (
	HasTranslation PropertyMask = 1 << iota
	HasRotation
	HasScale
	HasWeights
)

// Pose maps node index to its sampled transform.
type Pose map[int]NodeTransform

// Sample evaluates every track at time t, wrapped into the clip duration.
func (c *Clip) Sample(t float32) Pose {
	if c.Duration > 0 {
		t = float32(math.Mod(float64(t), float64(c.Duration)))
		if t < 0 {
			t += c.Duration
		}
	}

	pose := make(Pose)
	for i := range c.Tracks {
		tr := &c.Tracks[i]
		v := tr.sample(t)
		if v == nil {
			continue
		}
		nt := pose[tr.Node]
		switch tr.Path {
		case gltf.TRSTranslation:
			nt.Translation = mgl32.Vec3{v[0], v[1], v[2]}
			nt.Has |= HasTranslation
		case gltf.TRSRotation:
			nt.Rotation = mgl32.Quat{W: v[3], V: mgl32.Vec3{v[0], v[1], v[2]}}.Normalize()
			nt.Has |= HasRotation
		case gltf.TRSScale:
			nt.Scale = mgl32.Vec3{v[0], v[1], v[2]}
			nt.Has |= HasScale
		case gltf.TRSWeights:
			nt.Weights = v
			nt.Has |= HasWeights
		}
		pose[tr.Node] = nt
	}
	return pose
}

func (tr *Track) sample(t float32) []float32 {
	n := len(tr.Times)
	if n == 0 || tr.Width == 0 {
		return nil
	}

	cubic := tr.Interpolation == gltf.InterpolationCubicSpline
	key := func(i int) []float32 {
		if cubic {
			off := (i*3 + 1) * tr.Width
			return tr.Values[off : off+tr.Width]
		}
		return tr.Values[i*tr.Width : (i+1)*tr.Width]
	}

	if t <= tr.Times[0] {
		return clone(key(0))
	}
	if t >= tr.Times[n-1] {
		return clone(key(n - 1))
	}

	// first keyframe strictly after t
	next := sort.Search(n, func(i int) bool { return tr.Times[i] > t })
	prev := next - 1
	t0, t1 := tr.Times[prev], tr.Times[next]
	span := t1 - t0
	u := (t - t0) / span

	switch {
	case tr.Interpolation == gltf.InterpolationStep:
		return clone(key(prev))
	case cubic:
		return tr.hermite(prev, next, u, span)
	case tr.Path == gltf.TRSRotation:
		a, b := key(prev), key(next)
		qa := mgl32.Quat{W: a[3], V: mgl32.Vec3{a[0], a[1], a[2]}}
		qb := mgl32.Quat{W: b[3], V: mgl32.Vec3{b[0], b[1], b[2]}}
		q := mgl32.QuatSlerp(qa, qb, u)
		return []float32{q.V[0], q.V[1], q.V[2], q.W}
	default:
		a, b := key(prev), key(next)
		out := make([]float32, tr.Width)
		for i := range out {
			out[i] = a[i] + (b[i]-a[i])*u
		}
		return out
	}
}

func (tr *Track) hermite(prev, next int, u, span float32) []float32 {
	w := tr.Width
	v0 := tr.Values[(prev*3+1)*w:]
	out0 := tr.Values[(prev*3+2)*w:]
	in1 := tr.Values[(next*3)*w:]
	v1 := tr.Values[(next*3+1)*w:]

	u2, u3 := u*u, u*u*u
	h00 := 2*u3 - 3*u2 + 1
	h10 := u3 - 2*u2 + u
	h01 := -2*u3 + 3*u2
	h11 := u3 - u2

	out := make([]float32, w)
	for i := 0; i < w; i++ {
		out[i] = h00*v0[i] + h10*span*out0[i] + h01*v1[i] + h11*span*in1[i]
	}
	if tr.Path == gltf.TRSRotation && w == 4 {
		q := mgl32.Quat{W: out[3], V: mgl32.Vec3{out[0], out[1], out[2]}}.Normalize()
		out = []float32{q.V[0], q.V[1], q.V[2], q.W}
	}
	return out
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

// Blend mixes b into a by weight w in [0, 1]. Nodes present in only one pose
// are carried through unchanged.
func Blend(a, b Pose, w float32) Pose {
	if w <= 0 {
		return a
	}
	if w >= 1 && len(a) == 0 {
		return b
	}

	out := make(Pose, len(a)+len(b))
	for node, ta := range a {
		out[node] = ta
	}
	for node, tb := range b {
		ta, ok := out[node]
		if !ok {
			out[node] = tb
			continue
		}
		out[node] = blendNode(ta, tb, w)
	}
	return out
}

func blendNode(a, b NodeTransform, w float32) NodeTransform {
	out := a
	if b.Has&HasTranslation != 0 {
		if a.Has&HasTranslation != 0 {
			out.Translation = a.Translation.Add(b.Translation.Sub(a.Translation).Mul(w))
		} else {
			out.Translation = b.Translation
		}
	}
	if b.Has&HasRotation != 0 {
		if a.Has&HasRotation != 0 {
			out.Rotation = mgl32.QuatSlerp(a.Rotation, b.Rotation, w)
		} else {
			out.Rotation = b.Rotation
		}
	}
	if b.Has&HasScale != 0 {
		if a.Has&HasScale != 0 {
			out.Scale = a.Scale.Add(b.Scale.Sub(a.Scale).Mul(w))
		} else {
			out.Scale = b.Scale
		}
	}
	if b.Has&HasWeights != 0 {
		if a.Has&HasWeights != 0 && len(a.Weights) == len(b.Weights) {
			ws := make([]float32, len(b.Weights))
			for i := range ws {
				ws[i] = a.Weights[i] + (b.Weights[i]-a.Weights[i])*w
			}
			out.Weights = ws
		} else {
			out.Weights = b.Weights
		}
	}
	out.Has = a.Has | b.Has
	return out
}
