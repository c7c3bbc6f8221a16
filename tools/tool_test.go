package tools

import (
	"context"
	"testing"

	"github.com/hydra-run/hydra/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool(name string, perm Permission) *Tool {
	return &Tool{
		Name:       name,
		Permission: perm,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return args["value"], nil
		},
	}
}

func TestRegistry_RegisterGetList(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("b_tool", PermissionSafe))
	r.Register(echoTool("a_tool", PermissionSafe))

	tool, ok := r.Get("a_tool")
	require.True(t, ok)
	assert.Equal(t, "a_tool", tool.Name)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a_tool", list[0].Name)
	assert.Equal(t, "b_tool", list[1].Name)
}

func TestRegistry_RegisterReplacesSameName(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("t", PermissionSafe))
	r.Register(&Tool{Name: "t", Permission: PermissionCritical, Handler: echoTool("t", PermissionSafe).Handler})

	tool, _ := r.Get("t")
	assert.Equal(t, PermissionCritical, tool.Permission)
}

func TestRegistry_InvokeUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Invoke(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, core.ErrToolNotFound)
}

func TestRegistry_InvokeCallsHandler(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("echo", PermissionSafe))
	result, err := r.Invoke(context.Background(), "echo", map[string]interface{}{"value": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", result)
}
