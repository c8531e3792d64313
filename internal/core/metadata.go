package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Side-channel markers the assistant wraps its structured lead data in.
const (
	MetadataStartMarker = "[[LEAD_METADATA]]"
	MetadataEndMarker   = "[[/LEAD_METADATA]]"
)

// maxSideChannelBytes bounds how far past the start marker the end marker is
// searched for.
const maxSideChannelBytes = 16 * 1024

// sideChannel is the located block: body is the raw text between the markers
// and start/end delimit the whole block (markers included) in the reply.
// An oversized block is located but its body is never decoded.
type sideChannel struct {
	body       string
	start, end int
	oversized  bool
}

// ExtractMetadata strips the side-channel block from reply and decodes its
// JSON body. A missing block returns the reply unchanged. A malformed body is
// still stripped and yields nil metadata.
func ExtractMetadata(reply string) (string, map[string]any) {
	block, ok := locateSideChannel(reply)
	if !ok {
		return reply, nil
	}

	clean := stripBlock(reply, block)
	if block.oversized {
		return clean, nil
	}
	metadata, err := decodeSideChannel(block.body)
	if err != nil {
		return clean, nil
	}
	return clean, metadata
}

// locateSideChannel finds the first start marker and the first end marker
// after it. A body longer than maxSideChannelBytes is reported as oversized
// so the block is still stripped without being decoded.
func locateSideChannel(reply string) (sideChannel, bool) {
	start := strings.Index(reply, MetadataStartMarker)
	if start < 0 {
		return sideChannel{}, false
	}
	bodyStart := start + len(MetadataStartMarker)

	rel := strings.Index(reply[bodyStart:], MetadataEndMarker)
	if rel < 0 {
		return sideChannel{}, false
	}
	if rel > maxSideChannelBytes {
		return sideChannel{
			start:     start,
			end:       bodyStart + rel + len(MetadataEndMarker),
			oversized: true,
		}, true
	}

	return sideChannel{
		body:  reply[bodyStart : bodyStart+rel],
		start: start,
		end:   bodyStart + rel + len(MetadataEndMarker),
	}, true
}

// decodeSideChannel parses the block body as a single JSON object.
func decodeSideChannel(body string) (map[string]any, error) {
	trimmed := strings.TrimSpace(stripCodeFence(body))
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty block", ErrParse)
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
	var metadata map[string]any
	if err := dec.Decode(&metadata); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if metadata == nil {
		return nil, fmt.Errorf("%w: block is not a JSON object", ErrParse)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after JSON object", ErrParse)
	}
	return metadata, nil
}

// stripCodeFence removes a Markdown code fence models sometimes wrap JSON in.
func stripCodeFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return s
	}
	t = strings.TrimPrefix(t, "```")
	t = strings.TrimPrefix(t, "json")
	return strings.TrimSuffix(strings.TrimSpace(t), "```")
}

func stripBlock(reply string, block sideChannel) string {
	before := strings.TrimRight(reply[:block.start], " \t\r\n")
	after := strings.TrimLeft(reply[block.end:], " \t\r\n")
	switch {
	case before == "":
		return after
	case after == "":
		return before
	default:
		return before + "\n\n" + after
	}
}
