package handler_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itayshmool/ucp-payments-go/internal/checkout/domain"
	"github.com/itayshmool/ucp-payments-go/internal/checkout/handler"
)

func TestSandboxHandlerAccepts(t *testing.T) {
	ctx := context.Background()
	h := handler.NewSandboxHandler()

	assert.NoError(t, h.Validate(ctx, nil))
	assert.NoError(t, h.Validate(ctx, map[string]any{"cardNumber": "4111111111111111"}))
	assert.NoError(t, h.Validate(ctx, map[string]any{"token": "tok_abc"}))
}

func TestSandboxHandlerDeclines(t *testing.T) {
	ctx := context.Background()
	h := handler.NewSandboxHandler()

	err := h.Validate(ctx, map[string]any{"cardNumber": handler.DefaultDeclineCard})
	require.Error(t, err)

	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.CodeHandlerDeclined, derr.Code)
}

func TestRegistryUnknownHandler(t *testing.T) {
	r := handler.NewRegistry(handler.NewSandboxHandler())

	_, err := r.Get("com.example.missing")
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.CodeHandlerNotFound, derr.Code)

	h, err := r.Get(handler.SandboxHandlerID)
	require.NoError(t, err)
	assert.Equal(t, handler.SandboxHandlerID, h.ID())
}

func TestLoadConfigDefault(t *testing.T) {
	r, err := handler.LoadConfig("")
	require.NoError(t, err)

	_, err = r.Get(handler.SandboxHandlerID)
	assert.NoError(t, err)
}

func TestLoadConfigFromFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "handlers.yaml")
	config := `handlers:
  - id: com.ucp.sandbox
    kind: sandbox
    decline_cards: ["4000000000000002", "4000000000009995"]
  - id: com.acme.test
    kind: sandbox
`
	require.NoError(t, os.WriteFile(path, []byte(config), 0o644))

	r, err := handler.LoadConfig(path)
	require.NoError(t, err)

	sandbox, err := r.Get("com.ucp.sandbox")
	require.NoError(t, err)
	assert.Error(t, sandbox.Validate(ctx, map[string]any{"cardNumber": "4000000000009995"}))

	acme, err := r.Get("com.acme.test")
	require.NoError(t, err)
	assert.Error(t, acme.Validate(ctx, map[string]any{"cardNumber": handler.DefaultDeclineCard}))
	assert.NoError(t, acme.Validate(ctx, map[string]any{"cardNumber": "4111111111111111"}))
}

func TestLoadConfigUnknownKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "handlers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("handlers:\n  - id: x\n    kind: quantum\n"), 0o644))

	_, err := handler.LoadConfig(path)
	assert.Error(t, err)
}

func TestSandboxHandlerHonorsContext(t *testing.T) {
	h := handler.NewSandboxHandler()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.Validate(ctx, map[string]any{"cardNumber": "4111111111111111"})
	assert.ErrorIs(t, err, context.Canceled)
}
