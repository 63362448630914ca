package scene

import (
	"context"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/paybot/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/paybot/core/telegram/helpers"
)

// FromTele extracts the engine's view of an inbound telebot update. Button
// callbacks become Actions; everything else is routed as message text.
func FromTele(c tele.Context) Update {
	upd := Update{Text: c.Text()}
	if chat := c.Chat(); chat != nil {
		upd.ChatID = chat.ID
	}
	if sender := c.Sender(); sender != nil {
		upd.UserID = sender.ID
	}
	if c.Callback() != nil {
		upd.Action = &Action{
			Key:     callbacks.CallbackKey(c),
			Payload: callbacks.CallbackPayload(c),
		}
	}
	return upd
}

// Adapter plugs the engine into the telegram message router, which expects
// the FSM interface (InProgress + ManagerHandler). tele.Context itself
// satisfies Responder, so replies go straight back through the transport.
type Adapter struct {
	Engine *Engine
}

// InProgress reports whether the user has an active scene. The bot talks in
// private chats, where the chat ID equals the user ID.
func (a *Adapter) InProgress(userID int64) bool {
	_, _, ok := a.Engine.Active(context.Background(), userID)
	return ok
}

// ManagerHandler routes the update into the active scene.
func (a *Adapter) ManagerHandler(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	return a.Engine.Dispatch(ctx, FromTele(c), c)
}

// Enter starts a scene from a command or callback handler.
func (a *Adapter) Enter(c tele.Context, sceneID string, initial map[string]interface{}) error {
	ctx := tghelpers.BuildContext(c)
	return a.Engine.Enter(ctx, FromTele(c), c, sceneID, initial)
}

// Leave aborts the active scene, if any.
func (a *Adapter) Leave(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	upd := FromTele(c)
	return a.Engine.Leave(ctx, upd.ChatID)
}
