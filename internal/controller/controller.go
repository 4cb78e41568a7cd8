// Package controller owns the enhancement slot: the single unit of UI state
// behind the studio frontend. It orchestrates the provider client, the
// history store, and the host key-selection surface.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/voloshyn/retouch/internal/history"
	"github.com/voloshyn/retouch/internal/media"
	"github.com/voloshyn/retouch/internal/prefs"
	"github.com/voloshyn/retouch/internal/provider"
	"github.com/voloshyn/retouch/internal/studio"
)

// State identifies the enhancement slot's lifecycle phase.
type State string

const (
	StateIdle    State = "idle"    // no image uploaded
	StateReady   State = "ready"   // image present, no request in flight
	StatePending State = "pending" // request in flight
)

// ErrBusy is returned when a second enhancement is attempted while one is in
// flight. Requests are rejected, never queued.
var ErrBusy = errors.New("an enhancement is already in flight")

// Enhancer abstracts the provider client.
type Enhancer interface {
	Enhance(ctx context.Context, req provider.Request) (provider.Result, error)
	Configured() bool
}

// HistoryStore abstracts best-effort persistence of enhancement records.
type HistoryStore interface {
	Append(item history.Item)
	List() []history.Item
	Get(id string) (history.Item, bool)
	Remove(id string)
	Clear()
}

// ImageMeta describes the uploaded image without carrying its bytes.
type ImageMeta struct {
	MimeType string `json:"mime_type"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// ResultView is the settled enhancement result attached to the slot.
type ResultView struct {
	ImageData string `json:"image_data"`
	MimeType  string `json:"mime_type"`
	HistoryID string `json:"history_id"`
}

// ErrorView is the settled failure attached to the slot.
type ErrorView struct {
	Kind       string `json:"kind"`
	StatusCode int    `json:"status_code,omitempty"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
}

// Snapshot is an immutable view of the slot for rendering.
type Snapshot struct {
	State         State       `json:"state"`
	Prompt        string      `json:"prompt"`
	Resolution    string      `json:"resolution"`
	StatusMessage string      `json:"status_message,omitempty"`
	KeySelected   bool        `json:"key_selected"`
	KeyConfigured bool        `json:"key_configured"`
	CanSubmit     bool        `json:"can_submit"`
	Image         *ImageMeta  `json:"image,omitempty"`
	Result        *ResultView `json:"result,omitempty"`
	Error         *ErrorView  `json:"error,omitempty"`
}

// Controller is safe for concurrent use by the HTTP, MCP, and CLI surfaces.
type Controller struct {
	client Enhancer
	store  HistoryStore
	host   studio.Host
	prefs  *prefs.Manager

	// inflight enforces exactly one enhancement at a time across all
	// surfaces.
	inflight *semaphore.Weighted

	mu            sync.Mutex
	state         State
	imageData     string
	imageMime     string
	imageMeta     *ImageMeta
	prompt        string
	resolution    provider.Resolution
	result        *ResultView
	lastError     *ErrorView
	keySelected   bool
	statusIdx     int
	statusMessage string
	rotateStop    chan struct{}
}

// New creates a Controller in the Idle state. prefsMgr may be nil.
func New(client Enhancer, store HistoryStore, host studio.Host, prefsMgr *prefs.Manager) *Controller {
	c := &Controller{
		client:   client,
		store:    store,
		host:     host,
		prefs:    prefsMgr,
		inflight: semaphore.NewWeighted(1),
		state:    StateIdle,
	}
	c.resolution = c.defaultResolution()
	return c
}

// Close stops the status rotation if one is running.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rotateStop != nil {
		close(c.rotateStop)
		c.rotateStop = nil
	}
}

func (c *Controller) defaultResolution() provider.Resolution {
	if c.prefs != nil {
		if p, err := c.prefs.Get(); err == nil {
			if r, perr := provider.ParseResolution(p.DefaultResolution); perr == nil {
				return r
			}
		}
	}
	return provider.DefaultResolution
}

// RefreshKeyStatus queries the host environment for credential-selection
// state. When the host surface is unavailable the process-configured
// credential is the fallback.
func (c *Controller) RefreshKeyStatus(ctx context.Context) {
	selected, err := c.host.HasSelectedKey(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if !errors.Is(err, studio.ErrUnavailable) {
			slog.Warn("could not query key selection state", "error", err)
		}
		c.keySelected = c.client.Configured()
		return
	}
	c.keySelected = selected
}

// SelectKey delegates to the host's key-selection UI. The host gives no
// synchronous confirmation, so the selected flag is set optimistically; the
// next key-invalid failure corrects a false positive.
func (c *Controller) SelectKey(ctx context.Context) error {
	if err := c.host.OpenSelectKey(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.keySelected = true
	c.mu.Unlock()
	return nil
}

// SetImage validates and attaches an upload, replacing any prior result and
// clearing any prior error.
func (c *Controller) SetImage(data, mimeType string) error {
	info, err := media.Validate(data, mimeType)
	if err != nil {
		return fmt.Errorf("invalid image: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StatePending {
		return ErrBusy
	}
	c.imageData = data
	c.imageMime = info.MimeType
	c.imageMeta = &ImageMeta{MimeType: info.MimeType, Width: info.Width, Height: info.Height}
	c.result = nil
	c.lastError = nil
	c.state = StateReady
	return nil
}

// ClearImage returns the slot to Idle: image, prompt, result, and error are
// dropped and the resolution resets to its default.
func (c *Controller) ClearImage() error {
	def := c.defaultResolution()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StatePending {
		return ErrBusy
	}
	c.imageData = ""
	c.imageMime = ""
	c.imageMeta = nil
	c.prompt = ""
	c.result = nil
	c.lastError = nil
	c.resolution = def
	c.state = StateIdle
	return nil
}

// SetPrompt updates the enhancement instruction.
func (c *Controller) SetPrompt(prompt string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StatePending {
		return ErrBusy
	}
	c.prompt = prompt
	return nil
}

// SetResolution updates the output resolution.
func (c *Controller) SetResolution(r provider.Resolution) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StatePending {
		return ErrBusy
	}
	c.resolution = r
	return nil
}

// Snapshot returns a copy of the slot for rendering.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:         c.state,
		Prompt:        c.prompt,
		Resolution:    string(c.resolution),
		StatusMessage: c.statusMessage,
		KeySelected:   c.keySelected,
		KeyConfigured: c.client.Configured(),
	}
	snap.CanSubmit = c.state == StateReady &&
		strings.TrimSpace(c.prompt) != "" &&
		(c.keySelected || snap.KeyConfigured)

	if c.imageMeta != nil {
		m := *c.imageMeta
		snap.Image = &m
	}
	if c.result != nil {
		r := *c.result
		snap.Result = &r
	}
	if c.lastError != nil {
		e := *c.lastError
		snap.Error = &e
	}
	return snap
}

// Submit runs one enhancement for the current slot. It blocks until the
// request settles; a concurrent submit fails with ErrBusy instead of
// queueing. On success the result is attached to the slot and persisted to
// history; on failure the classified error is attached and the slot returns
// to Ready for retry.
func (c *Controller) Submit(ctx context.Context) (history.Item, error) {
	if !c.inflight.TryAcquire(1) {
		return history.Item{}, ErrBusy
	}
	defer c.inflight.Release(1)

	c.mu.Lock()
	if c.imageData == "" {
		c.mu.Unlock()
		return history.Item{}, errors.New("no image uploaded")
	}
	if strings.TrimSpace(c.prompt) == "" {
		c.mu.Unlock()
		return history.Item{}, errors.New("prompt must not be empty")
	}
	if !c.keySelected && !c.client.Configured() {
		c.mu.Unlock()
		return history.Item{}, provider.ErrNotConfigured
	}

	req := provider.Request{
		ImageData:  c.imageData,
		MimeType:   c.imageMime,
		Prompt:     c.prompt,
		Resolution: c.resolution,
	}
	c.beginPending()
	c.mu.Unlock()

	res, err := c.client.Enhance(ctx, req)
	if err != nil {
		c.settleFailure(err)
		return history.Item{}, err
	}

	item := newItem(req, res)
	// Persistence is best-effort; the slot result below is the session's
	// source of truth.
	c.store.Append(item)

	c.mu.Lock()
	c.endPending()
	c.result = &ResultView{ImageData: res.ImageData, MimeType: res.MimeType, HistoryID: item.ID}
	c.lastError = nil
	c.mu.Unlock()

	return item, nil
}

// EnhanceOnce performs a slot-independent enhancement for the CLI and MCP
// surfaces. It shares the single in-flight budget with Submit and records
// successful results in history, but leaves the UI slot untouched.
func (c *Controller) EnhanceOnce(ctx context.Context, req provider.Request) (history.Item, error) {
	if !c.inflight.TryAcquire(1) {
		return history.Item{}, ErrBusy
	}
	defer c.inflight.Release(1)

	if req.ImageData == "" {
		return history.Item{}, errors.New("image data is required")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return history.Item{}, errors.New("prompt must not be empty")
	}
	if req.Resolution == "" {
		req.Resolution = c.defaultResolution()
	}

	c.mu.Lock()
	configured := c.keySelected || c.client.Configured()
	c.mu.Unlock()
	if !configured {
		return history.Item{}, provider.ErrNotConfigured
	}

	res, err := c.client.Enhance(ctx, req)
	if err != nil {
		c.noteKeyInvalid(err)
		return history.Item{}, err
	}

	item := newItem(req, res)
	c.store.Append(item)
	return item, nil
}

// History lists persisted enhancement records, most recent first.
func (c *Controller) History() []history.Item {
	return c.store.List()
}

// HistoryItem returns one persisted record by id.
func (c *Controller) HistoryItem(id string) (history.Item, bool) {
	return c.store.Get(id)
}

// RemoveHistory deletes one record by id; absent ids are a no-op.
func (c *Controller) RemoveHistory(id string) {
	c.store.Remove(id)
}

// ClearHistory deletes all records.
func (c *Controller) ClearHistory() {
	c.store.Clear()
}

func newItem(req provider.Request, res provider.Result) history.Item {
	return history.Item{
		ID:                    uuid.NewString(),
		OriginalImage:         req.ImageData,
		OriginalImageMimeType: req.MimeType,
		Prompt:                req.Prompt,
		EnhancedImage:         res.ImageData,
		EnhancedImageMimeType: res.MimeType,
		Timestamp:             time.Now().UnixMilli(),
		Resolution:            string(req.Resolution),
	}
}

func (c *Controller) settleFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endPending()
	c.result = nil
	c.lastError = errorView(err)
	if e, ok := provider.AsError(err); ok && e.Kind == provider.KindKeyInvalid {
		// The optimistic selected flag was wrong; re-offer selection.
		c.keySelected = false
	}
}

func (c *Controller) noteKeyInvalid(err error) {
	if e, ok := provider.AsError(err); ok && e.Kind == provider.KindKeyInvalid {
		c.mu.Lock()
		c.keySelected = false
		c.mu.Unlock()
	}
}

func errorView(err error) *ErrorView {
	if e, ok := provider.AsError(err); ok {
		return &ErrorView{
			Kind:       string(e.Kind),
			StatusCode: e.StatusCode,
			Message:    e.Message,
			Detail:     e.Detail,
		}
	}
	if errors.Is(err, provider.ErrNotConfigured) {
		return &ErrorView{Kind: "not-configured", Message: err.Error()}
	}
	return &ErrorView{Kind: string(provider.KindUnknown), Message: err.Error()}
}
