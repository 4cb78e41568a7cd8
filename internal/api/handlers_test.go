package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/voloshyn/retouch/internal/controller"
	"github.com/voloshyn/retouch/internal/history"
	"github.com/voloshyn/retouch/internal/prefs"
	"github.com/voloshyn/retouch/internal/provider"
)

// fakeEnhancer satisfies controller.Enhancer with a canned outcome.
type fakeEnhancer struct {
	configured bool
	result     provider.Result
	err        error
}

func (f *fakeEnhancer) Enhance(ctx context.Context, req provider.Request) (provider.Result, error) {
	if f.err != nil {
		return provider.Result{}, f.err
	}
	return f.result, nil
}

func (f *fakeEnhancer) Configured() bool { return f.configured }

// fakeHost satisfies studio.Host.
type fakeHost struct {
	selected  bool
	selectErr error
}

func (f *fakeHost) HasSelectedKey(ctx context.Context) (bool, error) { return f.selected, nil }

func (f *fakeHost) OpenSelectKey(ctx context.Context) error {
	if f.selectErr != nil {
		return f.selectErr
	}
	f.selected = true
	return nil
}

func testPNG(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			img.Set(x, y, color.RGBA{B: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding test image: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func newTestHandler(t *testing.T, enh *fakeEnhancer, token string) (http.Handler, *controller.Controller) {
	t.Helper()

	store, err := history.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mgr := prefs.NewManager(store)
	ctrl := controller.New(enh, store, &fakeHost{}, mgr)
	t.Cleanup(ctrl.Close)

	h := NewHandler(Deps{Controller: ctrl, Prefs: mgr, Token: token})
	return h, ctrl
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthRoute(t *testing.T) {
	h, _ := newTestHandler(t, &fakeEnhancer{configured: true}, "")

	rr := doJSON(t, h, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var body map[string]string
	json.NewDecoder(rr.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("body = %v, want status=ok", body)
	}
}

func TestBearerAuth(t *testing.T) {
	h, _ := newTestHandler(t, &fakeEnhancer{configured: true}, "secret-token")

	rr := doJSON(t, h, http.MethodGet, "/api/state", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d, want %d", rr.Code, http.StatusOK)
	}

	// Health stays open for probes.
	rr = doJSON(t, h, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestUploadImage(t *testing.T) {
	h, _ := newTestHandler(t, &fakeEnhancer{configured: true}, "")

	body := fmt.Sprintf(`{"image_data":%q,"mime_type":"image/png"}`, testPNG(t))
	rr := doJSON(t, h, http.MethodPost, "/api/image", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var snap controller.Snapshot
	if err := json.NewDecoder(rr.Body).Decode(&snap); err != nil {
		t.Fatalf("decoding snapshot: %v", err)
	}
	if snap.State != controller.StateReady {
		t.Errorf("state = %q, want ready", snap.State)
	}
	if snap.Image == nil || snap.Image.Width != 10 || snap.Image.Height != 10 {
		t.Errorf("image meta = %+v, want 10x10", snap.Image)
	}
}

func TestUploadImage_RejectsGarbage(t *testing.T) {
	h, _ := newTestHandler(t, &fakeEnhancer{configured: true}, "")

	rr := doJSON(t, h, http.MethodPost, "/api/image", `{"image_data":"bm90IGFuIGltYWdl"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestUploadImage_MissingData(t *testing.T) {
	h, _ := newTestHandler(t, &fakeEnhancer{configured: true}, "")

	rr := doJSON(t, h, http.MethodPost, "/api/image", `{}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestClearImage(t *testing.T) {
	h, _ := newTestHandler(t, &fakeEnhancer{configured: true}, "")

	body := fmt.Sprintf(`{"image_data":%q}`, testPNG(t))
	doJSON(t, h, http.MethodPost, "/api/image", body)

	rr := doJSON(t, h, http.MethodDelete, "/api/image", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var snap controller.Snapshot
	json.NewDecoder(rr.Body).Decode(&snap)
	if snap.State != controller.StateIdle {
		t.Errorf("state = %q, want idle", snap.State)
	}
}

func TestPatchSlot(t *testing.T) {
	h, _ := newTestHandler(t, &fakeEnhancer{configured: true}, "")

	rr := doJSON(t, h, http.MethodPatch, "/api/slot", `{"prompt":"make it blue","resolution":"2K"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var snap controller.Snapshot
	json.NewDecoder(rr.Body).Decode(&snap)
	if snap.Prompt != "make it blue" {
		t.Errorf("prompt = %q", snap.Prompt)
	}
	if snap.Resolution != "2K" {
		t.Errorf("resolution = %q, want 2K", snap.Resolution)
	}
}

func TestPatchSlot_RejectsInvalidResolution(t *testing.T) {
	h, _ := newTestHandler(t, &fakeEnhancer{configured: true}, "")

	rr := doJSON(t, h, http.MethodPatch, "/api/slot", `{"resolution":"8K"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestEnhance_Success(t *testing.T) {
	enh := &fakeEnhancer{
		configured: true,
		result:     provider.Result{ImageData: testPNG(t), MimeType: "image/webp"},
	}
	h, _ := newTestHandler(t, enh, "")

	doJSON(t, h, http.MethodPost, "/api/image", fmt.Sprintf(`{"image_data":%q}`, testPNG(t)))
	doJSON(t, h, http.MethodPatch, "/api/slot", `{"prompt":"sharpen"}`)

	rr := doJSON(t, h, http.MethodPost, "/api/enhance", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var snap controller.Snapshot
	json.NewDecoder(rr.Body).Decode(&snap)
	if snap.Result == nil {
		t.Fatal("snapshot has no result")
	}
	if snap.Result.MimeType != "image/webp" {
		t.Errorf("result mime = %q, want image/webp", snap.Result.MimeType)
	}

	rr = doJSON(t, h, http.MethodGet, "/api/history", "")
	var items []history.Item
	json.NewDecoder(rr.Body).Decode(&items)
	if len(items) != 1 {
		t.Fatalf("history length = %d, want 1", len(items))
	}
	if items[0].Prompt != "sharpen" {
		t.Errorf("history prompt = %q", items[0].Prompt)
	}
}

func TestEnhance_NotConfigured(t *testing.T) {
	h, _ := newTestHandler(t, &fakeEnhancer{configured: false}, "")

	doJSON(t, h, http.MethodPost, "/api/image", fmt.Sprintf(`{"image_data":%q}`, testPNG(t)))
	doJSON(t, h, http.MethodPatch, "/api/slot", `{"prompt":"sharpen"}`)

	rr := doJSON(t, h, http.MethodPost, "/api/enhance", "")
	if rr.Code != http.StatusPreconditionFailed {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusPreconditionFailed, rr.Body.String())
	}
}

func TestEnhance_ClassifiedError(t *testing.T) {
	enh := &fakeEnhancer{
		configured: true,
		err:        provider.Classify("400: API key not valid. Please pass a valid API key."),
	}
	h, _ := newTestHandler(t, enh, "")

	doJSON(t, h, http.MethodPost, "/api/image", fmt.Sprintf(`{"image_data":%q}`, testPNG(t)))
	doJSON(t, h, http.MethodPatch, "/api/slot", `{"prompt":"sharpen"}`)

	rr := doJSON(t, h, http.MethodPost, "/api/enhance", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusUnauthorized, rr.Body.String())
	}

	var body struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	json.NewDecoder(rr.Body).Decode(&body)
	if body.Error.Type != "key-invalid" {
		t.Errorf("error type = %q, want key-invalid", body.Error.Type)
	}
}

func TestEnhance_MissingPrompt(t *testing.T) {
	h, _ := newTestHandler(t, &fakeEnhancer{configured: true}, "")

	doJSON(t, h, http.MethodPost, "/api/image", fmt.Sprintf(`{"image_data":%q}`, testPNG(t)))

	rr := doJSON(t, h, http.MethodPost, "/api/enhance", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestHistoryRoutes(t *testing.T) {
	enh := &fakeEnhancer{
		configured: true,
		result:     provider.Result{ImageData: testPNG(t), MimeType: "image/png"},
	}
	h, ctrl := newTestHandler(t, enh, "")

	item, err := ctrl.EnhanceOnce(context.Background(), provider.Request{
		ImageData: testPNG(t),
		Prompt:    "test",
	})
	if err != nil {
		t.Fatalf("EnhanceOnce: %v", err)
	}

	rr := doJSON(t, h, http.MethodGet, "/api/history/"+item.ID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d, want %d", rr.Code, http.StatusOK)
	}
	var got history.Item
	json.NewDecoder(rr.Body).Decode(&got)
	if got.ID != item.ID {
		t.Errorf("item id = %q, want %q", got.ID, item.ID)
	}

	rr = doJSON(t, h, http.MethodGet, "/api/history/"+item.ID+"/thumbnail", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("thumbnail status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("thumbnail Content-Type = %q, want image/png", ct)
	}

	rr = doJSON(t, h, http.MethodGet, "/api/history/no-such-id", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing id status = %d, want %d", rr.Code, http.StatusNotFound)
	}

	rr = doJSON(t, h, http.MethodDelete, "/api/history/"+item.ID, "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want %d", rr.Code, http.StatusNoContent)
	}

	rr = doJSON(t, h, http.MethodDelete, "/api/history", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("clear status = %d, want %d", rr.Code, http.StatusNoContent)
	}

	rr = doJSON(t, h, http.MethodGet, "/api/history", "")
	var items []history.Item
	json.NewDecoder(rr.Body).Decode(&items)
	if len(items) != 0 {
		t.Errorf("history length after clear = %d, want 0", len(items))
	}
}

func TestKeyRoutes(t *testing.T) {
	h, _ := newTestHandler(t, &fakeEnhancer{configured: false}, "")

	rr := doJSON(t, h, http.MethodGet, "/api/key", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("key status = %d, want %d", rr.Code, http.StatusOK)
	}
	var ks keyStatus
	json.NewDecoder(rr.Body).Decode(&ks)
	if ks.Selected {
		t.Error("key should not be selected initially")
	}

	rr = doJSON(t, h, http.MethodPost, "/api/key/select", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("select status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	json.NewDecoder(rr.Body).Decode(&ks)
	if !ks.Selected {
		t.Error("key should be selected after select")
	}
}

func TestPrefsRoutes(t *testing.T) {
	h, _ := newTestHandler(t, &fakeEnhancer{configured: true}, "")

	rr := doJSON(t, h, http.MethodGet, "/api/prefs", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d, want %d", rr.Code, http.StatusOK)
	}
	var p prefs.Preferences
	json.NewDecoder(rr.Body).Decode(&p)
	if p.DefaultResolution != "1K" {
		t.Errorf("default resolution = %q, want 1K", p.DefaultResolution)
	}

	rr = doJSON(t, h, http.MethodPatch, "/api/prefs", `{"default_resolution":"4K","theme":"dark"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("patch status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	json.NewDecoder(rr.Body).Decode(&p)
	if p.DefaultResolution != "4K" || p.Theme != "dark" {
		t.Errorf("prefs = %+v, want 4K/dark", p)
	}

	rr = doJSON(t, h, http.MethodPatch, "/api/prefs", `{"default_resolution":"8K"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid patch status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

// TestPatchPrefs_InvalidKeyAppliesNothing verifies a patch mixing valid and
// invalid keys is rejected whole: the valid keys must not be applied.
func TestPatchPrefs_InvalidKeyAppliesNothing(t *testing.T) {
	h, _ := newTestHandler(t, &fakeEnhancer{configured: true}, "")

	rr := doJSON(t, h, http.MethodPatch, "/api/prefs", `{"theme":"dark","bogus":"x"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("mixed patch status = %d, want %d", rr.Code, http.StatusBadRequest)
	}

	rr = doJSON(t, h, http.MethodGet, "/api/prefs", "")
	var p prefs.Preferences
	json.NewDecoder(rr.Body).Decode(&p)
	if p.Theme != "system" {
		t.Errorf("theme = %q after rejected patch, want untouched default system", p.Theme)
	}
}
