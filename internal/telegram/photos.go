package telegram

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"snap-solver/internal/queue"
)

// Album pages arrive as separate updates with a shared MediaGroupID, so the
// confirmation is debounced: it fires once the batch has been quiet this long.
const photoDebounce = 1200 * time.Millisecond

type photoBatch struct {
	mu    sync.Mutex
	count int
	timer *time.Timer
}

var batches sync.Map // "grp:<mediaGroupID>" | "chat:<chatID>" -> *photoBatch

func (r *Router) acceptPhoto(msg tgbotapi.Message) {
	cid := msg.Chat.ID
	ph := msg.Photo[len(msg.Photo)-1] // largest size

	file, err := r.Bot.GetFile(tgbotapi.FileConfig{FileID: ph.FileID})
	if err != nil {
		r.send(cid, "Could not fetch the photo: "+err.Error())
		return
	}
	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", r.Bot.Token, file.FilePath)
	img, err := download(url)
	if err != nil {
		r.send(cid, "Could not download the photo: "+err.Error())
		return
	}

	view := viewFor(cid)
	if _, err := r.Queue.Save(view, img); err != nil {
		r.send(cid, "Could not store the screenshot: "+err.Error())
		return
	}
	r.confirmLater(cid, view, msg.MediaGroupID)
}

// confirmLater counts saved photos per batch and sends a single confirmation
// once the batch stops growing.
func (r *Router) confirmLater(cid int64, view queue.View, mediaGroupID string) {
	key := "chat:" + fmt.Sprint(cid)
	if mediaGroupID != "" {
		key = "grp:" + mediaGroupID
	}
	v, _ := batches.LoadOrStore(key, &photoBatch{})
	b := v.(*photoBatch)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.count++
	fire := func() {
		b.mu.Lock()
		n := b.count
		b.mu.Unlock()
		batches.Delete(key)
		r.send(cid, fmt.Sprintf("Stored %d screenshot(s) in the %s queue (%d/%d). /solve when ready.",
			n, view, r.Queue.Len(view), queue.MaxPerQueue))
	}
	if b.timer == nil {
		b.timer = time.AfterFunc(photoDebounce, fire)
	} else {
		b.timer.Reset(photoDebounce)
	}
}

func download(url string) ([]byte, error) {
	resp, err := httpClient().Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	return io.ReadAll(resp.Body)
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 60 * time.Second}
}
