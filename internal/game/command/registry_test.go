package command

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Len(t, r.Commands(), len(BuiltinCommands()))
}

func TestResolve_CanonicalName(t *testing.T) {
	r := DefaultRegistry()
	cmd, ok := r.Resolve("SendGift")
	require.True(t, ok)
	assert.Equal(t, CommandSendGift, cmd.Name)
	assert.Equal(t, HandlerSendGift, cmd.Handler)
}

func TestResolve_CaseInsensitive(t *testing.T) {
	r := DefaultRegistry()
	for _, name := range []string{"login", "LOGIN", "LoGiN", " Login "} {
		cmd, ok := r.Resolve(name)
		require.True(t, ok, name)
		assert.Equal(t, CommandLogin, cmd.Name)
	}
}

func TestResolve_NotFound(t *testing.T) {
	r := DefaultRegistry()
	_, ok := r.Resolve("Teleport")
	assert.False(t, ok)
	_, ok = r.Resolve("")
	assert.False(t, ok)
}

func TestNewRegistry_DuplicateIgnoringCase(t *testing.T) {
	_, err := NewRegistry([]Command{
		{Name: "Login", Handler: HandlerLogin},
		{Name: "LOGIN", Handler: HandlerLogin},
	})
	assert.Error(t, err)
}

func TestNewRegistry_EmptyName(t *testing.T) {
	_, err := NewRegistry([]Command{{Name: "", Handler: HandlerLogin}})
	assert.Error(t, err)
}

func TestPropertyResolveIgnoresCase(t *testing.T) {
	r := DefaultRegistry()
	names := []string{CommandLogin, CommandGetBalance, CommandUpdateResources, CommandSendGift}
	rapid.Check(t, func(t *rapid.T) {
		name := rapid.SampledFrom(names).Draw(t, "name")
		mask := rapid.SliceOfN(rapid.Bool(), len(name), len(name)).Draw(t, "mask")
		var b strings.Builder
		for i, c := range name {
			if mask[i] {
				b.WriteString(strings.ToUpper(string(c)))
			} else {
				b.WriteString(strings.ToLower(string(c)))
			}
		}
		cmd, ok := r.Resolve(b.String())
		if !ok || cmd.Name != name {
			t.Fatalf("Resolve(%q) = %v, %v", b.String(), cmd, ok)
		}
	})
}
