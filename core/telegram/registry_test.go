package telegram

import (
	"testing"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/paybot/core/telegram/commands"
)

type recordingSetter struct {
	calls [][]interface{}
	err   error
}

func (r *recordingSetter) SetCommands(opts ...interface{}) error {
	r.calls = append(r.calls, opts)
	return r.err
}

func TestSetupCommandsPublishesVisibleMenu(t *testing.T) {
	reg := NewRegistry()
	handler := func(c tele.Context) error { return nil }
	reg.RegisterCommand("/wallets", commands.Command{Handler: handler, Description: "List wallets"})
	reg.RegisterCommand("/debug", commands.Command{Handler: handler, Description: "Internals", Hidden: true})
	reg.RegisterCommand("/sweep", commands.Command{Handler: handler, Description: "Sweep", AdminOnly: true})
	reg.RegisterCommand("/help", commands.Command{Handler: handler, Description: "Show help"})

	setter := &recordingSetter{}
	SetupCommands(setter, reg)

	if len(setter.calls) != 1 {
		t.Fatalf("expected one SetCommands call, got %d", len(setter.calls))
	}
	if len(setter.calls[0]) != 1 {
		t.Fatalf("expected one argument, got %d", len(setter.calls[0]))
	}
	list, ok := setter.calls[0][0].([]tele.Command)
	if !ok {
		t.Fatalf("expected []tele.Command, got %T", setter.calls[0][0])
	}
	want := []tele.Command{
		{Text: "/help", Description: "Show help"},
		{Text: "/wallets", Description: "List wallets"},
	}
	if len(list) != len(want) {
		t.Fatalf("expected %d visible commands, got %d: %v", len(want), len(list), list)
	}
	for i := range want {
		if list[i] != want[i] {
			t.Fatalf("command %d: got %+v, want %+v", i, list[i], want[i])
		}
	}
}
