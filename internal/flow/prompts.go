package flow

import (
	"fmt"

	"github.com/fleetbot-io/fleetbot/internal/gateway"
	"github.com/fleetbot-io/fleetbot/pkg/protocol"
)

const (
	promptAsset     = "Where is the issue?"
	promptProblem   = "Describe the problem (free text), or type Skip."
	promptPlan      = "Action plan? (free text), or type Skip."
	promptETA       = "ETA?"
	promptETAFormat = "Enter ETA as YYYY-MM-DD HH:MM"
	promptPhotos    = "Attach photos, or press Skip to mark the ticket as needing photos. Then press Submit."
	promptBadETA    = "Couldn't read that time. Use YYYY-MM-DD HH:MM."
	promptSendPhoto = "Send photo(s) to attach."

	msgSaveFailed = "Something went wrong saving that. Please try again."
	msgNoOpen     = "No open tickets."
	msgUseMenu    = "Use the menu:"
)

// MainMenu is the top-level action keyboard.
func MainMenu() gateway.Keyboard {
	return gateway.Keyboard{
		gateway.Row(gateway.Btn("Create report", "cmd:new"), gateway.Btn("Update status", "cmd:update")),
		gateway.Row(gateway.Btn("Close report", "cmd:close"), gateway.Btn("My open tickets", "cmd:my")),
	}
}

func assetKeyboard() gateway.Keyboard {
	return gateway.Keyboard{
		gateway.Row(gateway.Btn("Truck", "new:asset:truck"), gateway.Btn("Trailer", "new:asset:trailer")),
		gateway.Row(gateway.Btn("Skip", "new:asset:skip")),
	}
}

func etaKeyboard() gateway.Keyboard {
	return gateway.Keyboard{
		gateway.Row(gateway.Btn("Today", "new:eta:today"), gateway.Btn("+24h", "new:eta:+24h"), gateway.Btn("+48h", "new:eta:+48h")),
		gateway.Row(gateway.Btn("Set time…", "new:eta:set"), gateway.Btn("Skip", "new:eta:skip")),
	}
}

func photosKeyboard() gateway.Keyboard {
	return gateway.Keyboard{
		gateway.Row(gateway.Btn("Skip", "new:photos:skip"), gateway.Btn("Submit", "new:submit")),
	}
}

func updateMenuKeyboard() gateway.Keyboard {
	return gateway.Keyboard{
		gateway.Row(gateway.Btn("In progress", "upd:status:in_progress"), gateway.Btn("Awaiting parts", "upd:status:awaiting_parts")),
		gateway.Row(gateway.Btn("Vendor scheduled", "upd:status:vendor_scheduled"), gateway.Btn("Done", "upd:status:done")),
		gateway.Row(gateway.Btn("Snooze 2h", "upd:snooze:2h"), gateway.Btn("Change ETA", "upd:eta:set")),
		gateway.Row(gateway.Btn("Add photos", "upd:photos:add")),
	}
}

func closePhotosKeyboard() gateway.Keyboard {
	return gateway.Keyboard{
		gateway.Row(gateway.Btn("Skip", "close:photos:skip"), gateway.Btn("Close now", "close:submit")),
	}
}

func pickKeyboard(tickets []*protocol.Ticket, prefix string) gateway.Keyboard {
	kb := make(gateway.Keyboard, 0, len(tickets))
	for _, t := range tickets {
		kb = append(kb, gateway.Row(gateway.Btn(gateway.TicketButtonLabel(t), fmt.Sprintf("%s%d", prefix, t.ID))))
	}
	return kb
}

// guidance is the re-prompt sent when an input does not match the
// current state's grammar. The draft is never mutated on that path.
func guidance(s protocol.State) string {
	switch s {
	case protocol.StateCreateAsset:
		return promptAsset
	case protocol.StateCreateAssetID:
		return "Enter the asset number, or type Skip."
	case protocol.StateCreateProblem:
		return promptProblem
	case protocol.StateCreatePlan:
		return promptPlan
	case protocol.StateCreateETA:
		return promptETA
	case protocol.StateCreateETASet, protocol.StateUpdateETASet:
		return promptETAFormat
	case protocol.StateCreatePhotos:
		return promptPhotos
	case protocol.StateUpdatePick, protocol.StateClosePick:
		return "Pick a ticket from the list."
	case protocol.StateUpdateMenu:
		return "Use the buttons to choose an update."
	case protocol.StateUpdateAddPhotos:
		return promptSendPhoto
	case protocol.StateClosePhotos:
		return "Send completion photos, or press Close now."
	}
	return msgUseMenu
}
