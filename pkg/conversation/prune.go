package conversation

// DefaultImageChunk is the removal granularity used when none is configured.
const DefaultImageChunk = 10

// RetentionPolicy bounds how many tool-result images stay in the history.
// Keep < 0 means the policy is unset and pruning is skipped.
type RetentionPolicy struct {
	Keep  int
	Chunk int
}

// Enabled reports whether the policy prunes anything.
func (p RetentionPolicy) Enabled() bool {
	return p.Keep >= 0
}

// CountImages returns the number of image parts inside tool_result blocks.
func CountImages(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		for _, block := range m.Content {
			if block.Type != BlockToolResult {
				continue
			}
			for _, part := range block.Content {
				if part.Type == BlockImage {
					total++
				}
			}
		}
	}
	return total
}

// PruneImages removes the oldest tool-result images in place so that at
// most keep remain, rounding the removal count down to a multiple of chunk.
// A non-positive chunk means DefaultImageChunk.
// Removing in chunks keeps the history prefix stable between calls so the
// backend's prompt cache is not invalidated on every step. Non-image parts
// are never touched. Returns the number of images removed.
func PruneImages(msgs []Message, keep, chunk int) int {
	if chunk <= 0 {
		chunk = DefaultImageChunk
	}
	toRemove := CountImages(msgs) - keep
	if toRemove <= 0 {
		return 0
	}
	toRemove -= toRemove % chunk
	if toRemove == 0 {
		return 0
	}

	removed := 0
	for i := range msgs {
		for j := range msgs[i].Content {
			block := &msgs[i].Content[j]
			if block.Type != BlockToolResult || len(block.Content) == 0 {
				continue
			}
			kept := make([]ContentBlock, 0, len(block.Content))
			for _, part := range block.Content {
				if part.Type == BlockImage && removed < toRemove {
					removed++
					continue
				}
				kept = append(kept, part)
			}
			block.Content = kept
		}
	}
	return removed
}
