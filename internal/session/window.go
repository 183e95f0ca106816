package session

import "github.com/hyperjump/lumimind/internal/models"

// Window returns a copy of the last n turns of history.
func Window(history []models.Turn, n int) models.ConversationWindow {
	if n <= 0 || len(history) == 0 {
		return nil
	}
	if len(history) > n {
		history = history[len(history)-n:]
	}
	out := make(models.ConversationWindow, len(history))
	copy(out, history)
	return out
}
