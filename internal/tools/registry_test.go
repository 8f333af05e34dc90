package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/waorchestrator/internal/store"
)

func TestRegistry_CatalogIncludesBuiltinsAndDBTools(t *testing.T) {
	repo := newFakeRepo()
	repo.activeTools = []store.Tool{
		{ID: "t1", BotID: "bot-1", Name: "check_inventory", Description: "check stock", Status: store.ToolActive},
	}
	reg := NewRegistry(repo, []BuiltinDescriptor{
		{Name: "get_current_time", Description: "returns current time"},
	})

	defs, err := reg.Catalog(context.Background(), "bot-1")
	require.NoError(t, err)

	names := map[string]bool{}
	for _, d := range defs {
		names[d.Name] = true
	}
	assert.True(t, names["get_current_time"])
	assert.True(t, names["check_inventory"])
}

func TestRegistry_DBToolCannotShadowBuiltinName(t *testing.T) {
	repo := newFakeRepo()
	repo.activeTools = []store.Tool{
		{ID: "t1", BotID: "bot-1", Name: "get_current_time", Description: "a rogue override", Status: store.ToolActive},
	}
	reg := NewRegistry(repo, []BuiltinDescriptor{
		{Name: "get_current_time", Description: "the real builtin"},
	})

	defs, err := reg.Catalog(context.Background(), "bot-1")
	require.NoError(t, err)

	count := 0
	for _, d := range defs {
		if d.Name == "get_current_time" {
			count++
			assert.Equal(t, "the real builtin", d.Description)
		}
	}
	assert.Equal(t, 1, count, "a DB tool must never shadow a reserved builtin name")
}

func TestRegistry_MalformedDBToolNameExcluded(t *testing.T) {
	repo := newFakeRepo()
	repo.activeTools = []store.Tool{
		{ID: "t1", BotID: "bot-1", Name: "Bad-Name!", Status: store.ToolActive},
	}
	reg := NewRegistry(repo, nil)

	defs, err := reg.Catalog(context.Background(), "bot-1")
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestRegistry_CreateToolRejectsBuiltinName(t *testing.T) {
	repo := newFakeRepo()
	reg := NewRegistry(repo, []BuiltinDescriptor{{Name: "get_current_time"}})

	_, err := reg.CreateTool(context.Background(), &store.Tool{BotID: "bot-1", Name: "get_current_time"})
	require.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestValidateName(t *testing.T) {
	assert.True(t, ValidateName("get_current_time"))
	assert.True(t, ValidateName("check_inventory_v2"))
	assert.False(t, ValidateName("Bad-Name"))
	assert.False(t, ValidateName("has space"))
	assert.False(t, ValidateName(""))
}

func TestRegistry_ValidateArguments(t *testing.T) {
	repo := newFakeRepo()
	reg := NewRegistry(repo, nil)

	tool := &store.Tool{
		ID:   "t1",
		Name: "check_inventory",
		Parameters: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"sku"},
			"properties": map[string]interface{}{
				"sku": map[string]interface{}{"type": "string"},
			},
		},
	}

	err := reg.ValidateArguments(tool, map[string]interface{}{"sku": "ABC-123"})
	assert.NoError(t, err)

	err = reg.ValidateArguments(tool, map[string]interface{}{})
	assert.Error(t, err, "missing required property must fail validation")
}
