package provider

import "strings"

// credentialPatterns are substrings the provider uses when it rejects an API
// key. Checked before the generic status markers.
var credentialPatterns = []string{
	"API key not valid",
	"API_KEY_INVALID",
	"API key expired",
}

// markers are provider status tokens embedded in error text, checked in
// order. The provider exposes no structured error taxonomy at this layer, so
// substring matching against its message is the only available signal.
var markers = []struct {
	token string
	kind  Kind
}{
	{"INVALID_ARGUMENT", KindBadRequest},
	{"PERMISSION_DENIED", KindPermissionDenied},
	{"RESOURCE_EXHAUSTED", KindResourceExhausted},
	{"INTERNAL", KindInternal},
}

// Classify maps a raw provider error message to a classified Error. First
// matching rule wins; anything unmatched degrades to KindUnknown with the
// message passed through verbatim.
func Classify(raw string) *Error {
	for _, p := range credentialPatterns {
		if strings.Contains(raw, p) {
			return newError(KindKeyInvalid, "the provider rejected the API key", raw)
		}
	}

	for _, m := range markers {
		if i := strings.Index(raw, m.token); i >= 0 {
			detail := strings.TrimSpace(strings.TrimLeft(raw[i+len(m.token):], ":,. "))
			return newError(m.kind, "the provider reported "+m.token, detail)
		}
	}

	return newError(KindUnknown, raw, "")
}
