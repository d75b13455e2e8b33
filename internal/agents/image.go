package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ccr-gateway/ccr/internal/canonical"
	"github.com/ccr-gateway/ccr/internal/gwerrors"
)

const (
	imageCacheCapacity = 100
	imageCacheTTL      = 5 * time.Minute
)

type imageCacheEntry struct {
	source    canonical.ImageSource
	expiresAt time.Time
}

// imageCache is a capacity-bounded, TTL-expiring store of image sources
// keyed by the synthetic id ImageAgent hands out in place of inline
// image content, so a later analyzeImage tool call can retrieve the
// bytes without the model ever re-transmitting them.
type imageCache struct {
	mu       sync.Mutex
	entries  map[string]imageCacheEntry
	order    []string
	capacity int
	ttl      time.Duration
}

func newImageCache() *imageCache {
	return &imageCache{entries: make(map[string]imageCacheEntry), capacity: imageCacheCapacity, ttl: imageCacheTTL}
}

func (c *imageCache) put(key string, source canonical.ImageSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = imageCacheEntry{source: source, expiresAt: time.Now().Add(c.ttl)}
	c.order = append(c.order, key)
	for len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

func (c *imageCache) get(key string) (canonical.ImageSource, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return canonical.ImageSource{}, false
	}
	return e.source, true
}

const imageSystemInstruction = "When you need to inspect an image referenced by an id like [Image #1], call the analyzeImage tool with that image's id to receive a textual description of its contents."

// ImageAgent activates when the most recent user message carries image
// parts and an image route is configured. It replaces each image part
// with a text placeholder and a cache lookup key, then exposes the
// analyzeImage tool that re-enters the gateway against the image-route
// model to describe the cached image on demand (§4.I).
type ImageAgent struct {
	model string // image-route model; empty means no route configured
	cache *imageCache
}

// NewImageAgent builds an ImageAgent targeting the given image-route
// model. An empty model disables the agent entirely.
func NewImageAgent(model string) *ImageAgent {
	return &ImageAgent{model: model, cache: newImageCache()}
}

func (a *ImageAgent) Name() string { return "image" }

func (a *ImageAgent) ShouldHandle(req *canonical.Request, rc *RequestContext) bool {
	if a.model == "" {
		return false
	}
	msg := lastUserMessage(req)
	if msg == nil {
		return false
	}
	for _, p := range msg.Content.AsParts() {
		if p.Type == canonical.PartImage {
			return true
		}
	}
	return false
}

func (a *ImageAgent) HandleRequest(req *canonical.Request, rc *RequestContext) error {
	msg := lastUserMessage(req)
	if msg == nil {
		return nil
	}
	parts := msg.Content.AsParts()
	rewritten := make([]canonical.ContentPart, len(parts))
	n := 0
	for i, p := range parts {
		rewritten[i] = p
		if p.Type != canonical.PartImage {
			continue
		}
		n++
		key := fmt.Sprintf("%s_Image#%d", rc.RequestID, n)
		if p.Source != nil {
			a.cache.put(key, *p.Source)
		}
		rewritten[i] = canonical.ContentPart{
			Type: canonical.PartText,
			Text: fmt.Sprintf("[Image #%d]This is an image, if you need to view or analyze it, you need to extract the imageId", n),
		}
	}
	msg.Content = canonical.NewPartsContent(rewritten)
	req.System.Blocks = append(req.System.Blocks, canonical.SystemBlock{Type: "text", Text: imageSystemInstruction})
	return nil
}

func (a *ImageAgent) Tools() []ToolSpec {
	schema := json.RawMessage(`{"type":"object","properties":{"imageId":{"type":"string","description":"the image id printed next to the [Image #n] placeholder"}},"required":["imageId"]}`)
	return []ToolSpec{{
		Def: canonical.Tool{
			Name:        "analyzeImage",
			Description: "Describe the contents of a previously uploaded image by its cached id.",
			InputSchema: schema,
		},
		Handler: a.handleAnalyzeImage,
	}}
}

type analyzeImageArgs struct {
	ImageID string `json:"imageId"`
}

func (a *ImageAgent) handleAnalyzeImage(ctx context.Context, rc *RequestContext, args json.RawMessage) (string, error) {
	var parsed analyzeImageArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return "", gwerrors.NewToolValidationFailedError("analyzeImage: invalid arguments: " + err.Error())
	}
	source, ok := a.cache.get(parsed.ImageID)
	if !ok {
		return "", gwerrors.NewToolValidationFailedError("analyzeImage: unknown or expired image id " + parsed.ImageID)
	}
	if rc.Reenter == nil {
		return "", gwerrors.NewSubAgentExecutionFailedError("analyzeImage: gateway re-entry not available", nil)
	}

	child := &canonical.Request{
		Model: a.model,
		Messages: []canonical.Message{{
			Role: canonical.RoleUser,
			Content: canonical.NewPartsContent([]canonical.ContentPart{
				{Type: canonical.PartImage, Source: &source},
				{Type: canonical.PartText, Text: "Describe this image in detail."},
			}),
		}},
		MaxTokens: 1024,
	}

	resp, err := rc.Reenter(ctx, child)
	if err != nil {
		return "", gwerrors.NewSubAgentExecutionFailedError("analyzeImage: re-entry failed", err)
	}
	for _, p := range resp.Content {
		if p.Type == canonical.PartText {
			return p.Text, nil
		}
	}
	return "", nil
}
