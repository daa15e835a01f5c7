// Package telegram is the chat host shell: incoming photos become screenshot
// tasks, commands trigger pipeline runs, and run events are rendered as
// messages.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"snap-solver/internal/ledger"
	"snap-solver/internal/pipeline"
	"snap-solver/internal/queue"
	"snap-solver/internal/solve"
)

type Router struct {
	Bot    *tgbotapi.BotAPI
	Queue  *queue.Manager
	Orch   *pipeline.Orchestrator
	Ledger *ledger.Client
	Log    zerolog.Logger
}

func (r *Router) HandleUpdate(upd tgbotapi.Update) {
	if upd.Message == nil {
		return
	}
	cid := upd.Message.Chat.ID

	if upd.Message.IsCommand() {
		r.handleCommand(cid, upd.Message)
		return
	}
	if len(upd.Message.Photo) > 0 {
		r.acceptPhoto(*upd.Message)
	}
}

func (r *Router) handleCommand(cid int64, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		r.send(cid, "Send screenshots of a question, then /solve.\n"+
			"Commands: /solve, /debug, /view, /queue, /clear, /credits, /cancel")
	case "view":
		arg := strings.TrimSpace(msg.CommandArguments())
		switch arg {
		case "":
			r.send(cid, "Current view: "+string(viewFor(cid))+"\nUsage: /view primary|supplementary")
		case string(queue.ViewPrimary), string(queue.ViewSupplementary):
			setView(cid, queue.View(arg))
			r.send(cid, "View switched to "+arg+". New photos land there.")
		default:
			r.send(cid, "Unknown view. Use primary or supplementary.")
		}
	case "solve":
		r.trigger(cid, queue.ViewPrimary)
	case "debug":
		r.trigger(cid, queue.ViewSupplementary)
	case "queue":
		pr := r.Queue.Len(queue.ViewPrimary)
		su := r.Queue.Len(queue.ViewSupplementary)
		r.send(cid, fmt.Sprintf("Queues: primary %d/%d, supplementary %d/%d",
			pr, queue.MaxPerQueue, su, queue.MaxPerQueue))
	case "clear":
		view := viewFor(cid)
		r.Queue.Clear(view)
		r.send(cid, "Cleared the "+string(view)+" queue.")
	case "credits":
		r.showCredits(cid, strings.TrimSpace(msg.CommandArguments()) == "refresh")
	case "cancel":
		stopped := r.Orch.Cancel(queue.ViewPrimary)
		stopped = r.Orch.Cancel(queue.ViewSupplementary) || stopped
		if stopped {
			r.send(cid, "Cancelling the active run.")
		} else {
			r.send(cid, "Nothing to cancel.")
		}
	default:
		r.send(cid, "Unknown command.")
	}
}

func (r *Router) trigger(cid int64, view queue.View) {
	bindChat(view, cid)
	go func() {
		_, err := r.Orch.Solve(context.Background(), view)
		if errors.Is(err, pipeline.ErrRunActive) {
			r.send(cid, "A run is already in progress for this view.")
		}
		// Other outcomes arrive through the emitter callbacks.
	}()
}

func (r *Router) showCredits(cid int64, refresh bool) {
	ctx := context.Background()
	var (
		credits int
		err     error
	)
	if refresh {
		credits, err = r.Ledger.ForceBalance(ctx)
	} else {
		credits, err = r.Ledger.Balance(ctx)
	}
	if err != nil {
		r.send(cid, "Could not reach the credit ledger: "+err.Error())
		return
	}
	r.send(cid, fmt.Sprintf("Credits: %d", credits))
}

// ---- pipeline.Emitter ----

// progressMsg tracks the message edited in place as the run advances.
var progressMsg sync.Map // queue.View -> int (message ID)

func (r *Router) Progress(view queue.View, p pipeline.Progress) {
	cid, ok := chatFor(view)
	if !ok {
		return
	}
	text := fmt.Sprintf("⏳ %s (%d%%)", p.Message, p.Percent)
	if id, ok := progressMsg.Load(view); ok {
		if _, err := r.Bot.Send(tgbotapi.NewEditMessageText(cid, id.(int), text)); err == nil {
			return
		}
		// Fall through to a fresh message when the edit is rejected.
	}
	if sent, err := r.Bot.Send(tgbotapi.NewMessage(cid, text)); err == nil {
		progressMsg.Store(view, sent.MessageID)
	}
}

func (r *Router) Done(view queue.View, sol *solve.Solution) {
	progressMsg.Delete(view)
	cid, ok := chatFor(view)
	if !ok {
		return
	}
	msg := tgbotapi.NewMessage(cid, renderSolution(sol))
	msg.ParseMode = "Markdown"
	if _, err := r.Bot.Send(msg); err != nil {
		// Markdown can fail on odd model output; retry as plain text.
		r.send(cid, renderSolution(sol))
	}
	r.Queue.Clear(view)
}

func (r *Router) Failed(view queue.View, err error) {
	progressMsg.Delete(view)
	if cid, ok := chatFor(view); ok {
		r.send(cid, "❌ "+err.Error())
	}
}

func (r *Router) Cancelled(view queue.View) {
	progressMsg.Delete(view)
	if cid, ok := chatFor(view); ok {
		r.send(cid, "Run cancelled.")
		r.Queue.Clear(view)
	}
}

func (r *Router) send(chatID int64, text string) {
	if len(text) > 3900 {
		text = text[:3900] + "…"
	}
	if _, err := r.Bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		r.Log.Warn().Err(err).Int64("chat", chatID).Msg("send failed")
	}
}
