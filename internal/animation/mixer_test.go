package animation

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/avatarstage/internal/clips"
)

func constantClip(name string, x float32) *clips.Clip {
	return &clips.Clip{
		Name:     name,
		Duration: 1,
		Tracks: []clips.Track{{
			Node:   0,
			Path:   gltf.TRSTranslation,
			Times:  []float32{0, 1},
			Values: []float32{x, 0, 0, x, 0, 0},
			Width:  3,
		}},
	}
}

func TestMixer_LoopsActionTime(t *testing.T) {
	m := NewMixer()
	a := m.ClipAction(constantClip("idle", 0))
	m.Play(a)

	m.Update(1.25)
	actions := m.Actions()
	require.Len(t, actions, 1)
	assert.InDelta(t, 0.25, actions[0].Time, 1e-5)
}

func TestMixer_FrameBlendsPoses(t *testing.T) {
	m := NewMixer()
	a := m.ClipAction(constantClip("idle", 0))
	b := m.ClipAction(constantClip("wave", 10))
	m.Play(a)
	m.CrossFade(a, b, 1, InterpLinear)

	m.Update(0.25)
	f := m.Frame()
	assert.InDelta(t, 2.5, f.Pose[0].Translation.X(), 1e-4)
	assert.Equal(t, mgl32.Vec3{}, f.Pose[0].Scale)
}

func TestMixer_ZeroDurationFadeCompletesOnUpdate(t *testing.T) {
	m := NewMixer()
	var fired int
	m.OnTransitionComplete(func(from, to *Action) { fired++ })

	a := m.ClipAction(constantClip("idle", 0))
	b := m.ClipAction(constantClip("wave", 1))
	m.Play(a)
	m.CrossFade(a, b, 0, InterpLinear)
	m.Update(0)

	assert.Equal(t, 1, fired)
	assert.Nil(t, m.Transition())
	assert.Len(t, m.Actions(), 1)
}

func TestMixer_CrossFadeTakesOverRunningFade(t *testing.T) {
	m := NewMixer()
	var fired []string
	m.OnTransitionComplete(func(from, to *Action) { fired = append(fired, to.ClipName()) })

	a := m.ClipAction(constantClip("idle", 0))
	b := m.ClipAction(constantClip("wave", 10))
	c := m.ClipAction(constantClip("talk", 20))
	m.Play(a)
	m.CrossFade(a, b, 1, InterpLinear)
	m.Update(0.5)

	m.CrossFade(b, c, 1, InterpLinear)
	f := m.Frame()
	assert.InDelta(t, 5, f.Pose[0].Translation.X(), 1e-4)

	m.Update(0.5)
	actions := m.Actions()
	require.Len(t, actions, 3)
	assert.InDelta(t, 0.25, actions[0].Weight, 1e-5)
	assert.InDelta(t, 0.25, actions[1].Weight, 1e-5)
	assert.InDelta(t, 0.5, actions[2].Weight, 1e-5)
	assert.Empty(t, fired)

	m.Update(0.5)
	actions = m.Actions()
	require.Len(t, actions, 1)
	assert.Equal(t, "talk", actions[0].Clip)
	assert.Equal(t, []string{"talk"}, fired)
}

func TestTransition_Easing(t *testing.T) {
	tr := &Transition{Duration: 1, Elapsed: 0.5, Mode: InterpEaseInOut}
	assert.InDelta(t, 0.5, tr.Progress(), 1e-5)

	tr.Mode = InterpEaseIn
	assert.InDelta(t, 0.125, tr.Progress(), 1e-5)

	tr.Mode = InterpEaseOut
	assert.InDelta(t, 0.875, tr.Progress(), 1e-5)

	tr.Elapsed = 2
	assert.Equal(t, float32(1), tr.Progress())
	assert.True(t, tr.IsComplete())

	assert.Equal(t, InterpEaseOut, ParseInterpolationMode("ease-out"))
	assert.Equal(t, InterpLinear, ParseInterpolationMode("bogus"))
}
