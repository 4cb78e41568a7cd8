package history

// Item is one persisted enhancement record. Image fields hold base64 exactly
// as produced by the browser's file reader and the provider response; the
// store never re-encodes them. JSON tags match the SPA's record shape so the
// persisted blob round-trips field for field.
type Item struct {
	ID                    string `json:"id"`
	OriginalImage         string `json:"originalImage"`
	OriginalImageMimeType string `json:"originalImageMimeType"`
	Prompt                string `json:"prompt"`
	EnhancedImage         string `json:"enhancedImage"`
	EnhancedImageMimeType string `json:"enhancedImageMimeType"`
	Timestamp             int64  `json:"timestamp"` // epoch millis, set at save time
	Resolution            string `json:"resolution"`
}
