package adapter

import (
	"encoding/base64"
	"strings"

	"github.com/tickline/tickline/content"
)

// ExtractSystemPrompt concatenates consecutive leading system messages into a
// single prompt string, joined by a blank line, and returns the remaining
// (non-leading-system) messages unchanged. Every adapter MUST apply this
// normalization before constructing a provider request, since most provider
// wire formats accept only one system prompt string.
func ExtractSystemPrompt(messages []content.Message) (system string, rest []content.Message) {
	var parts []string
	i := 0
	for ; i < len(messages); i++ {
		if messages[i].Role != content.RoleSystem {
			break
		}
		parts = append(parts, messages[i].Text())
	}
	return strings.Join(parts, "\n\n"), messages[i:]
}

// DataURLFor builds a data: URL from base64 image/document bytes and a media
// type, per the base64<->URL normalization every adapter must support.
func DataURLFor(base64Bytes string, mediaType string) string {
	return "data:" + mediaType + ";base64," + base64Bytes
}

// DecodeDataURL extracts the media type and base64 payload from a data: URL.
// ok is false if src is not a data URL.
func DecodeDataURL(src string) (mediaType, b64 string, ok bool) {
	const prefix = "data:"
	if !strings.HasPrefix(src, prefix) {
		return "", "", false
	}
	rest := src[len(prefix):]
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return "", "", false
	}
	meta := rest[:comma]
	payload := rest[comma+1:]
	meta = strings.TrimSuffix(meta, ";base64")
	return meta, payload, true
}

// EncodeBase64 is a small convenience wrapper so adapters share one encoding
// path for MediaSource.Base64 construction.
func EncodeBase64(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeBase64 is the inverse of EncodeBase64.
func DecodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// NormalizeUsage reads token counts from a map of provider-reported synonyms
// (prompt_tokens | promptTokens | inputTokens, completion_tokens |
// completionTokens | outputTokens, total_tokens | totalTokens) and returns a
// canonical Usage. Unknown keys are ignored.
func NormalizeUsage(fields map[string]int) Usage {
	u := Usage{}
	for _, k := range []string{"prompt_tokens", "promptTokens", "inputTokens", "input_tokens"} {
		if v, ok := fields[k]; ok {
			u.InputTokens = v
			break
		}
	}
	for _, k := range []string{"completion_tokens", "completionTokens", "outputTokens", "output_tokens"} {
		if v, ok := fields[k]; ok {
			u.OutputTokens = v
			break
		}
	}
	for _, k := range []string{"total_tokens", "totalTokens"} {
		if v, ok := fields[k]; ok {
			u.TotalTokens = v
			break
		}
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
	return u
}

// MapStopReason maps a provider-specific stop/finish reason string to the
// canonical StopReason. Adapters pass their own provider vocabulary; unknown
// values map to StopOther.
func MapStopReason(providerReason string, table map[string]StopReason) StopReason {
	if sr, ok := table[providerReason]; ok {
		return sr
	}
	return StopOther
}
