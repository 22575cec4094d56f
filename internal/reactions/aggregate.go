// Package reactions turns flat reaction rows into per-emoji counts and issues
// the add/remove mutations behind a reaction toggle.
package reactions

import "github.com/careerct/room-whisper-sync/internal/domain"

// Aggregate groups reactions by emoji. The result is ordered by the first
// appearance of each emoji in list, not alphabetically. A user is counted at
// most once per emoji even if a replayed row shows up twice.
func Aggregate(list []domain.Reaction, currentUserID string) []domain.ReactionCount {
	if len(list) == 0 {
		return []domain.ReactionCount{}
	}

	counts := make([]domain.ReactionCount, 0, 4)
	index := make(map[string]int, 4)
	seen := make(map[[2]string]struct{}, len(list))

	for _, r := range list {
		emoji := domain.NormalizeEmoji(r.Emoji)
		if emoji == "" {
			continue
		}
		key := [2]string{emoji, r.UserID}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		i, ok := index[emoji]
		if !ok {
			i = len(counts)
			index[emoji] = i
			counts = append(counts, domain.ReactionCount{Emoji: emoji})
		}
		counts[i].Count++
		if currentUserID != "" && r.UserID == currentUserID {
			counts[i].ReactedByCurrentUser = true
		}
	}
	return counts
}

// ReactedBy reports whether counts mark emoji as reacted by the current user.
func ReactedBy(counts []domain.ReactionCount, emoji string) bool {
	emoji = domain.NormalizeEmoji(emoji)
	for _, c := range counts {
		if c.Emoji == emoji {
			return c.ReactedByCurrentUser
		}
	}
	return false
}
