package normalizer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sluice/internal/config"
	"sluice/pkg/models"
)

func TestNormalize_RemovesTransportFields(t *testing.T) {
	n := New(config.NormalizerConfig{})
	ev := models.NewEventBuilder().
		WithString("host", "collector-1").
		WithString("@version", "1").
		WithInt("port", 5044).
		WithString("level", "info").
		Build()

	out := n.Normalize(context.Background(), ev)

	assert.False(t, out.Has("host"))
	assert.False(t, out.Has("@version"))
	assert.False(t, out.Has("port"))
	assert.True(t, out.Has("level"))
	assert.True(t, ev.Has("host"), "input must not be modified")
}

func TestNormalize_Renames(t *testing.T) {
	n := New(config.NormalizerConfig{
		Renames: []config.RenameConfig{
			{From: "src_ip", To: "client_ip"},
			{From: "lvl", To: "level"},
		},
	})

	t.Run("moves value to canonical name", func(t *testing.T) {
		ev := models.NewEventBuilder().WithString("src_ip", "8.8.8.8").Build()
		out := n.Normalize(context.Background(), ev)

		v, ok := out.Get("client_ip")
		require.True(t, ok)
		assert.Equal(t, "8.8.8.8", v.String())
		assert.False(t, out.Has("src_ip"))
	})

	t.Run("does not overwrite existing target", func(t *testing.T) {
		ev := models.NewEventBuilder().
			WithString("lvl", "warn").
			WithString("level", "error").
			Build()
		out := n.Normalize(context.Background(), ev)

		v, _ := out.Get("level")
		assert.Equal(t, "error", v.String())
		assert.True(t, out.Has("lvl"))
	})
}

func TestNormalize_InjectsMetadataAndService(t *testing.T) {
	n := New(config.NormalizerConfig{Environment: "production", Application: "storefront"})

	out := n.Normalize(context.Background(), models.NewEventBuilder().Build())

	env, _ := out.Get("environment")
	app, _ := out.Get("application")
	svc, _ := out.Get("service")
	assert.Equal(t, "production", env.String())
	assert.Equal(t, "storefront", app.String())
	assert.Equal(t, "unknown", svc.String())
}

func TestNormalize_KeepsResolvedService(t *testing.T) {
	n := New(config.NormalizerConfig{})
	ev := models.NewEventBuilder().WithString("service", "auth").Build()

	out := n.Normalize(context.Background(), ev)

	svc, _ := out.Get("service")
	assert.Equal(t, "auth", svc.String())
}

func TestNormalize_DropsEmptyValues(t *testing.T) {
	n := New(config.NormalizerConfig{})
	ev := models.NewEventBuilder().
		WithString("blank", "   ").
		WithString("empty", "").
		WithAttribute("nothing", models.NullValue()).
		WithInt("zero", 0).
		WithAttribute("off", models.BoolValue(false)).
		WithString("service", "").
		Build()

	out := n.Normalize(context.Background(), ev)

	for name, v := range out.Attributes {
		assert.False(t, v.IsEmpty(), "attribute %q is empty", name)
	}
	assert.True(t, out.Has("zero"))
	assert.True(t, out.Has("off"))
	svc, _ := out.Get("service")
	assert.Equal(t, "unknown", svc.String())
}
