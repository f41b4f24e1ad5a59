package protocol

import (
	"strings"
	"time"
)

// State identifies the step a user's conversation is waiting on.
// The zero value means the user has no flow in progress.
type State string

const (
	StateIdle State = ""

	// Create flow: one linear pass assembling a new ticket draft.
	StateCreateAsset   State = "create.asset.wait"
	StateCreateAssetID State = "create.assetId.wait"
	StateCreateProblem State = "create.problem.wait"
	StateCreatePlan    State = "create.plan.wait"
	StateCreateETA     State = "create.eta.wait"
	StateCreateETASet  State = "create.eta.set.wait"
	StateCreatePhotos  State = "create.photos.wait"

	// Update flow: pick a ticket, then one mutation.
	StateUpdatePick      State = "update.pick"
	StateUpdateMenu      State = "update.menu"
	StateUpdateETASet    State = "update.eta.set.wait"
	StateUpdateAddPhotos State = "update.addphotos.wait"

	// Close flow: pick a ticket, collect completion photos, close.
	StateClosePick   State = "close.pick"
	StateClosePhotos State = "close.photos.wait"
)

// Flow names one of the three conversational sequences.
type Flow string

const (
	FlowNone   Flow = ""
	FlowCreate Flow = "create"
	FlowUpdate Flow = "update"
	FlowClose  Flow = "close"
)

// Flow returns the flow a state belongs to.
func (s State) Flow() Flow {
	switch {
	case strings.HasPrefix(string(s), "create."):
		return FlowCreate
	case strings.HasPrefix(string(s), "update."):
		return FlowUpdate
	case strings.HasPrefix(string(s), "close."):
		return FlowClose
	}
	return FlowNone
}

// Draft holds the partially assembled ticket fields while a flow is in
// progress. The create flow fills the asset/problem/plan/ETA fields;
// the update and close flows only carry TicketID and, for close, the
// completion photos.
type Draft struct {
	AssetType   AssetType  `json:"asset_type,omitempty"`
	AssetID     string     `json:"asset_id,omitempty"`
	Problem     string     `json:"problem,omitempty"`
	Plan        string     `json:"plan,omitempty"`
	ETA         *time.Time `json:"eta,omitempty"`
	Photos      []string   `json:"photos,omitempty"`
	NeedsPhotos bool       `json:"needs_photos,omitempty"`
	TicketID    int64      `json:"ticket_id,omitempty"`
}

// Session is the single row tracking where a user is in a flow.
// It is overwritten whole on every transition and deleted when the
// flow completes or is abandoned.
type Session struct {
	UserID    string    `json:"user_id"`
	State     State     `json:"state"`
	Draft     Draft     `json:"draft"`
	UpdatedAt time.Time `json:"updated_at"`
}
