package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveInherited(t *testing.T) {
	t.Run("no inheritance", func(t *testing.T) {
		gate := GateConfig{
			ID: "smoke",
			Entrypoints: []EntrypointConfig{
				{Name: "dummy", Script: "tests/test_dummy.py"},
			},
		}
		err := gate.ResolveInherited(map[string]GateConfig{})
		require.NoError(t, err)
		assert.Len(t, gate.Entrypoints, 1)
	})

	t.Run("inherits entrypoints from parent", func(t *testing.T) {
		gates := map[string]GateConfig{
			"smoke": {
				ID: "smoke",
				Entrypoints: []EntrypointConfig{
					{Name: "dummy", Script: "tests/test_dummy.py"},
				},
			},
		}
		gate := GateConfig{
			ID:       "full",
			Inherits: []string{"smoke"},
			Entrypoints: []EntrypointConfig{
				{Name: "addon", Script: "tests/test_parallel_render.py"},
			},
		}
		err := gate.ResolveInherited(gates)
		require.NoError(t, err)
		require.Len(t, gate.Entrypoints, 2)
		// Child's own entry points come first.
		assert.Equal(t, "addon", gate.Entrypoints[0].Name)
		assert.Equal(t, "dummy", gate.Entrypoints[1].Name)
	})

	t.Run("child takes precedence on duplicate", func(t *testing.T) {
		gates := map[string]GateConfig{
			"base": {
				ID: "base",
				Entrypoints: []EntrypointConfig{
					{Name: "addon", Script: "tests/test_parallel_render.py", Args: []string{"-v"}},
				},
			},
		}
		gate := GateConfig{
			ID:       "full",
			Inherits: []string{"base"},
			Entrypoints: []EntrypointConfig{
				{Name: "addon", Script: "tests/test_parallel_render.py"},
			},
		}
		err := gate.ResolveInherited(gates)
		require.NoError(t, err)
		require.Len(t, gate.Entrypoints, 1)
		assert.Empty(t, gate.Entrypoints[0].Args)
	})

	t.Run("transitive inheritance", func(t *testing.T) {
		gates := map[string]GateConfig{
			"a": {
				ID:          "a",
				Entrypoints: []EntrypointConfig{{Name: "a", Script: "tests/a.py"}},
			},
			"b": {
				ID:          "b",
				Inherits:    []string{"a"},
				Entrypoints: []EntrypointConfig{{Name: "b", Script: "tests/b.py"}},
			},
		}
		gate := GateConfig{ID: "c", Inherits: []string{"b"}}
		err := gate.ResolveInherited(gates)
		require.NoError(t, err)
		assert.Len(t, gate.Entrypoints, 2)
	})

	t.Run("suites only inherited when absent", func(t *testing.T) {
		gates := map[string]GateConfig{
			"base": {
				ID: "base",
				Suites: map[string]SuiteConfig{
					"render": {Entrypoints: []EntrypointConfig{{Script: "tests/base_render.py"}}},
					"io":     {Entrypoints: []EntrypointConfig{{Script: "tests/io.py"}}},
				},
			},
		}
		gate := GateConfig{
			ID:       "full",
			Inherits: []string{"base"},
			Suites: map[string]SuiteConfig{
				"render": {Entrypoints: []EntrypointConfig{{Script: "tests/full_render.py"}}},
			},
		}
		err := gate.ResolveInherited(gates)
		require.NoError(t, err)
		require.Len(t, gate.Suites, 2)
		assert.Equal(t, "tests/full_render.py", gate.Suites["render"].Entrypoints[0].Script)
	})

	t.Run("missing parent", func(t *testing.T) {
		gate := GateConfig{ID: "full", Inherits: []string{"nope"}}
		err := gate.ResolveInherited(map[string]GateConfig{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "non-existent gate")
	})

	t.Run("circular inheritance", func(t *testing.T) {
		gates := map[string]GateConfig{
			"a": {ID: "a", Inherits: []string{"b"}},
			"b": {ID: "b", Inherits: []string{"a"}},
		}
		gate := gates["a"]
		err := gate.ResolveInherited(gates)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "circular inheritance")
	})
}

func TestCaseStats(t *testing.T) {
	result := &EntrypointResult{
		Cases: map[string]*CaseResult{
			"m.C.test_a": {Name: "test_a", Class: "m.C", Status: StatusPass},
			"m.C.test_b": {Name: "test_b", Class: "m.C", Status: StatusFail},
			"m.C.test_c": {Name: "test_c", Class: "m.C", Status: StatusError},
			"m.C.test_d": {Name: "test_d", Class: "m.C", Status: StatusSkip},
		},
	}
	passed, failed, skipped := result.CaseStats()
	assert.Equal(t, 1, passed)
	assert.Equal(t, 2, failed)
	assert.Equal(t, 1, skipped)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "addon", DisplayName("addon", EntrypointMetadata{}))
	assert.Equal(t, "test_dummy.py", DisplayName("", EntrypointMetadata{Script: "tests/test_dummy.py"}))
	assert.Equal(t, "id", DisplayName("", EntrypointMetadata{ID: "id"}))
}
