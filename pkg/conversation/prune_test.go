package conversation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// screenshotHistory builds n worker/user pairs, each tool result carrying a
// text part followed by one image.
func screenshotHistory(n int) []Message {
	var msgs []Message
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("toolu_%02d", i)
		msgs = append(msgs,
			Message{Role: RoleWorker, Content: []ContentBlock{NewToolUseBlock(id, "computer", nil)}},
			Message{Role: RoleUser, Content: []ContentBlock{
				NewToolResultBlock(id, []ContentBlock{
					NewTextBlock(fmt.Sprintf("step %d", i)),
					NewImageBlock(fmt.Sprintf("img-%02d", i)),
				}, false),
			}},
		)
	}
	return msgs
}

func TestPruneImages(t *testing.T) {
	t.Run("removes in whole chunks", func(t *testing.T) {
		msgs := screenshotHistory(25)

		removed := PruneImages(msgs, 10, 10)

		assert.Equal(t, 10, removed)
		assert.Equal(t, 15, CountImages(msgs))
	})

	t.Run("below one chunk removes nothing", func(t *testing.T) {
		msgs := screenshotHistory(12)

		removed := PruneImages(msgs, 10, 10)

		assert.Equal(t, 0, removed)
		assert.Equal(t, 12, CountImages(msgs))
	})

	t.Run("drops the oldest images first", func(t *testing.T) {
		msgs := screenshotHistory(25)

		PruneImages(msgs, 10, 10)

		first := msgs[1].Content[0]
		require.Len(t, first.Content, 1)
		assert.Equal(t, BlockText, first.Content[0].Type)

		survivor := msgs[21].Content[0]
		require.Len(t, survivor.Content, 2)
		assert.Equal(t, "img-10", survivor.Content[1].Source.Data)
	})

	t.Run("leaves text parts untouched", func(t *testing.T) {
		msgs := screenshotHistory(25)

		PruneImages(msgs, 0, 5)

		assert.Equal(t, 0, CountImages(msgs))
		for i := 1; i < len(msgs); i += 2 {
			result := msgs[i].Content[0]
			require.Len(t, result.Content, 1)
			assert.Equal(t, fmt.Sprintf("step %d", i/2), result.Content[0].Text)
			assert.Equal(t, result.ToolUseID, msgs[i-1].Content[0].ID)
		}
	})

	t.Run("ignores images outside tool results", func(t *testing.T) {
		msgs := []Message{{Role: RoleUser, Content: []ContentBlock{NewImageBlock("loose")}}}

		assert.Equal(t, 0, CountImages(msgs))
		assert.Equal(t, 0, PruneImages(msgs, 0, 1))
		assert.Len(t, msgs[0].Content, 1)
	})

	t.Run("non-positive chunk uses the default chunk", func(t *testing.T) {
		msgs := screenshotHistory(25)

		assert.Equal(t, 10, PruneImages(msgs, 3, 0))
		assert.Equal(t, 15, CountImages(msgs))
	})
}

func TestPruneImagesChunkLaw(t *testing.T) {
	for total := 0; total <= 40; total += 3 {
		for keep := 0; keep <= 20; keep += 4 {
			for _, chunk := range []int{1, 3, 10} {
				msgs := screenshotHistory(total)

				removed := PruneImages(msgs, keep, chunk)

				expected := total - keep
				if expected < 0 {
					expected = 0
				}
				expected -= expected % chunk
				assert.GreaterOrEqual(t, removed, 0)
				assert.Equal(t, expected, removed, "total=%d keep=%d chunk=%d", total, keep, chunk)
				assert.Equal(t, total-removed, CountImages(msgs))
			}
		}
	}
}

func TestPruneImagesIdempotent(t *testing.T) {
	for _, total := range []int{0, 5, 12, 25, 31, 100} {
		once := screenshotHistory(total)
		twice := screenshotHistory(total)

		PruneImages(once, 10, 10)
		PruneImages(twice, 10, 10)
		PruneImages(twice, 10, 10)

		assert.Equal(t, once, twice, "total=%d", total)
	}
}

func TestHistoryPrune(t *testing.T) {
	t.Run("unset policy is a no-op", func(t *testing.T) {
		h := NewHistory(screenshotHistory(30))

		assert.Equal(t, 0, h.Prune(RetentionPolicy{Keep: -1, Chunk: 10}))
		assert.Equal(t, 30, CountImages(h.Messages()))
	})

	t.Run("unset chunk keeps twelve of twelve", func(t *testing.T) {
		h := NewHistory(screenshotHistory(12))

		assert.Equal(t, 0, h.Prune(RetentionPolicy{Keep: 10}))
		assert.Equal(t, 12, CountImages(h.Messages()))
	})

	t.Run("enabled policy prunes in place", func(t *testing.T) {
		h := NewHistory(screenshotHistory(30))

		assert.Equal(t, 20, h.Prune(RetentionPolicy{Keep: 10, Chunk: 10}))
		assert.Equal(t, 10, CountImages(h.Messages()))
	})
}
