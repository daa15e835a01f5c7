package telegram

import (
	"sync"

	"snap-solver/internal/queue"
)

var (
	chatView sync.Map // chatID -> queue.View: where new photos are enqueued
	viewChat sync.Map // queue.View -> chatID: who receives run events
)

func setView(chatID int64, v queue.View) { chatView.Store(chatID, v) }

func viewFor(chatID int64) queue.View {
	if v, ok := chatView.Load(chatID); ok {
		return v.(queue.View)
	}
	return queue.ViewPrimary
}

func bindChat(v queue.View, chatID int64) { viewChat.Store(v, chatID) }

func chatFor(v queue.View) (int64, bool) {
	if c, ok := viewChat.Load(v); ok {
		return c.(int64), true
	}
	return 0, false
}
