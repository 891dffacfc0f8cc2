package assistant

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// History keeps the last few turns of each chat. The least recently active
// conversations are dropped once maxChats is reached.
type History struct {
	size int

	mu    sync.Mutex
	chats *lru.Cache[int64, []Turn]
}

func NewHistory(size, maxChats int) (*History, error) {
	if size <= 0 {
		size = 10
	}
	if maxChats <= 0 {
		maxChats = 1000
	}
	cache, err := lru.New[int64, []Turn](maxChats)
	if err != nil {
		return nil, err
	}
	return &History{size: size, chats: cache}, nil
}

// Get returns a copy of the turns stored for chatID.
func (h *History) Get(chatID int64) []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	turns, _ := h.chats.Get(chatID)
	return append([]Turn(nil), turns...)
}

func (h *History) Append(chatID int64, turns ...Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cur, _ := h.chats.Get(chatID)
	cur = append(append([]Turn(nil), cur...), turns...)
	if len(cur) > h.size {
		cur = cur[len(cur)-h.size:]
	}
	h.chats.Add(chatID, cur)
}

func (h *History) Len() int {
	return h.chats.Len()
}
