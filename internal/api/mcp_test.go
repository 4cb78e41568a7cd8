package api

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/voloshyn/retouch/internal/controller"
	"github.com/voloshyn/retouch/internal/history"
	"github.com/voloshyn/retouch/internal/prefs"
	"github.com/voloshyn/retouch/internal/provider"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T, enh *fakeEnhancer) MCPDeps {
	t.Helper()
	store, err := history.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctrl := controller.New(enh, store, &fakeHost{}, prefs.NewManager(store))
	t.Cleanup(ctrl.Close)

	return MCPDeps{Controller: ctrl, Version: "test"}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// --- tests ---

func TestMCPTool_EnhanceImage(t *testing.T) {
	enh := &fakeEnhancer{
		configured: true,
		result:     provider.Result{ImageData: "WQ==", MimeType: "image/webp"},
	}
	deps := newTestMCPDeps(t, enh)
	handler := mcpEnhanceImage(deps)

	req := makeCallToolRequest("enhance_image", map[string]interface{}{
		"image_data": testPNG(t),
		"prompt":     "make it pop",
		"resolution": "2K",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var out map[string]string
	if err := json.Unmarshal([]byte(toolText(t, result)), &out); err != nil {
		t.Fatalf("decoding tool output: %v", err)
	}
	if out["image_data"] != "WQ==" {
		t.Errorf("image_data = %q, want WQ==", out["image_data"])
	}
	if out["mime_type"] != "image/webp" {
		t.Errorf("mime_type = %q, want image/webp", out["mime_type"])
	}

	// The enhancement was recorded.
	items := deps.Controller.History()
	if len(items) != 1 {
		t.Fatalf("history length = %d, want 1", len(items))
	}
	if items[0].Resolution != "2K" {
		t.Errorf("history resolution = %q, want 2K", items[0].Resolution)
	}
}

func TestMCPTool_EnhanceImage_MissingArgs(t *testing.T) {
	deps := newTestMCPDeps(t, &fakeEnhancer{configured: true})
	handler := mcpEnhanceImage(deps)

	result, err := handler(context.Background(), makeCallToolRequest("enhance_image", map[string]interface{}{
		"prompt": "no image",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for missing image_data")
	}
}

func TestMCPTool_EnhanceImage_InvalidResolution(t *testing.T) {
	deps := newTestMCPDeps(t, &fakeEnhancer{configured: true})
	handler := mcpEnhanceImage(deps)

	result, err := handler(context.Background(), makeCallToolRequest("enhance_image", map[string]interface{}{
		"image_data": testPNG(t),
		"prompt":     "x",
		"resolution": "8K",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for invalid resolution")
	}
}

func TestMCPTool_EnhanceImage_ProviderFailure(t *testing.T) {
	enh := &fakeEnhancer{
		configured: true,
		err:        provider.Classify("429: RESOURCE_EXHAUSTED: Quota exceeded"),
	}
	deps := newTestMCPDeps(t, enh)
	handler := mcpEnhanceImage(deps)

	result, err := handler(context.Background(), makeCallToolRequest("enhance_image", map[string]interface{}{
		"image_data": testPNG(t),
		"prompt":     "x",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for provider failure")
	}
}

func TestMCPTool_ListHistory(t *testing.T) {
	enh := &fakeEnhancer{
		configured: true,
		result:     provider.Result{ImageData: "WQ==", MimeType: "image/png"},
	}
	deps := newTestMCPDeps(t, enh)

	if _, err := deps.Controller.EnhanceOnce(context.Background(), provider.Request{
		ImageData: testPNG(t),
		Prompt:    "first",
	}); err != nil {
		t.Fatalf("EnhanceOnce: %v", err)
	}

	handler := mcpListHistory(deps)
	result, err := handler(context.Background(), makeCallToolRequest("list_history", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var items []historySummary
	if err := json.Unmarshal([]byte(toolText(t, result)), &items); err != nil {
		t.Fatalf("decoding tool output: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	if items[0].Prompt != "first" {
		t.Errorf("prompt = %q, want first", items[0].Prompt)
	}
}

func TestMCPTool_DeleteHistoryItem(t *testing.T) {
	enh := &fakeEnhancer{
		configured: true,
		result:     provider.Result{ImageData: "WQ==", MimeType: "image/png"},
	}
	deps := newTestMCPDeps(t, enh)

	item, err := deps.Controller.EnhanceOnce(context.Background(), provider.Request{
		ImageData: testPNG(t),
		Prompt:    "x",
	})
	if err != nil {
		t.Fatalf("EnhanceOnce: %v", err)
	}

	handler := mcpDeleteHistoryItem(deps)
	result, herr := handler(context.Background(), makeCallToolRequest("delete_history_item", map[string]interface{}{
		"id": item.ID,
	}))
	if herr != nil {
		t.Fatalf("unexpected error: %v", herr)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	if items := deps.Controller.History(); len(items) != 0 {
		t.Errorf("history length = %d, want 0", len(items))
	}
}

func TestMCPTool_ClearHistory(t *testing.T) {
	enh := &fakeEnhancer{
		configured: true,
		result:     provider.Result{ImageData: "WQ==", MimeType: "image/png"},
	}
	deps := newTestMCPDeps(t, enh)

	for _, p := range []string{"a", "b"} {
		if _, err := deps.Controller.EnhanceOnce(context.Background(), provider.Request{
			ImageData: testPNG(t),
			Prompt:    p,
		}); err != nil {
			t.Fatalf("EnhanceOnce: %v", err)
		}
	}

	handler := mcpClearHistory(deps)
	result, err := handler(context.Background(), makeCallToolRequest("clear_history", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	if items := deps.Controller.History(); len(items) != 0 {
		t.Errorf("history length = %d, want 0", len(items))
	}
}
