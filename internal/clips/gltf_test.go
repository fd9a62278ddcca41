package clips

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/qmuntal/gltf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatBytes(values ...float32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

// testDoc builds a document with one translation animation named animName.
func testDoc(animName string) *gltf.Document {
	data := floatBytes(0, 1, 0, 0, 0, 2, 4, 6)
	return &gltf.Document{
		Asset:   gltf.Asset{Version: "2.0"},
		Buffers: []*gltf.Buffer{{ByteLength: len(data), Data: data}},
		BufferViews: []*gltf.BufferView{
			{Buffer: 0, ByteOffset: 0, ByteLength: 8},
			{Buffer: 0, ByteOffset: 8, ByteLength: 24},
		},
		Accessors: []*gltf.Accessor{
			{BufferView: gltf.Index(0), Count: 2, ComponentType: gltf.ComponentFloat, Type: gltf.AccessorScalar, Min: []float64{0}, Max: []float64{1}},
			{BufferView: gltf.Index(1), Count: 2, ComponentType: gltf.ComponentFloat, Type: gltf.AccessorVec3},
		},
		Nodes: []*gltf.Node{{Name: "Hips"}},
		Animations: []*gltf.Animation{{
			Name: animName,
			Channels: []*gltf.AnimationChannel{{
				Sampler: 0,
				Target:  gltf.AnimationChannelTarget{Node: gltf.Index(0), Path: gltf.TRSTranslation},
			}},
			Samplers: []*gltf.AnimationSampler{{Input: 0, Output: 1, Interpolation: gltf.InterpolationLinear}},
		}},
	}
}

func encodeGLB(t *testing.T, doc *gltf.Document) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := gltf.NewEncoder(&buf)
	enc.AsBinary = true
	require.NoError(t, enc.Encode(doc))
	return buf.Bytes()
}

func TestExtractClip(t *testing.T) {
	clip, err := ExtractClip(testDoc("Armature|wave"), "wave")
	require.NoError(t, err)

	assert.Equal(t, "wave", clip.Name)
	assert.InDelta(t, 1.0, clip.Duration, 1e-6)
	require.Len(t, clip.Tracks, 1)
	assert.Equal(t, 3, clip.Tracks[0].Width)
	assert.Equal(t, []float32{0, 1}, clip.Tracks[0].Times)
}

func TestExtractClip_NoAnimation(t *testing.T) {
	doc := testDoc("wave")
	doc.Animations = nil

	_, err := ExtractClip(doc, "wave")
	assert.ErrorIs(t, err, ErrNoAnimation)
}

func TestExtractClip_BadSampler(t *testing.T) {
	doc := testDoc("wave")
	doc.Animations[0].Channels[0].Sampler = 5

	_, err := ExtractClip(doc, "wave")
	assert.ErrorContains(t, err, "sampler 5 out of range")
}

func TestDecodeGLTF_RoundTrip(t *testing.T) {
	data := encodeGLB(t, testDoc("wave"))

	clip, err := DecodeGLTF(bytes.NewReader(data), "wave")
	require.NoError(t, err)

	pose := clip.Sample(0.5)
	assert.InDelta(t, 2.0, pose[0].Translation.Y(), 1e-5)
}

func TestDecodeGLTF_Garbage(t *testing.T) {
	_, err := DecodeGLTF(bytes.NewReader([]byte("not a model")), "wave")
	assert.Error(t, err)
}
