package room

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a room.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusPlaying, StatusFinished:
		return true
	}
	return false
}

// Room is one shared game session.
type Room struct {
	ID        string       `json:"id"`
	JoinCode  string       `json:"join_code"`
	HostID    string       `json:"host_id"`
	Status    Status       `json:"status"`
	Template  Template     `json:"template"`
	Seats     Seats        `json:"seats"`
	State     CurrentState `json:"current_state"`
	CreatedAt time.Time    `json:"created_at"`

	// Version increases with every committed write to the room row.
	// Copies carrying a lower version are older states of the same room.
	Version int64 `json:"version"`
}

// NewerThan reports whether r is a strictly later state than o. Versions of
// zero are unknown and never compare as newer or older.
func (r *Room) NewerThan(o *Room) bool {
	return r != nil && o != nil && r.Version > 0 && o.Version > 0 && r.Version > o.Version
}

// Complete reports whether r carries enough data to replace a cached copy.
// Notifications may arrive without a payload or with only some columns.
func (r *Room) Complete() bool {
	return r != nil && r.ID != "" && r.State.Players != nil
}

// Clone returns a deep copy of r.
func (r Room) Clone() Room {
	cp := r
	cp.Template = r.Template.Clone()
	cp.Seats = append(Seats(nil), r.Seats...)
	cp.State = r.State.Clone()
	return cp
}

// Seats is the fixed-length ordered seat list. An empty string is a free seat.
type Seats []string

// MarshalJSON encodes free seats as null.
func (s Seats) MarshalJSON() ([]byte, error) {
	out := make([]*string, len(s))
	for i := range s {
		if s[i] != "" {
			id := s[i]
			out[i] = &id
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes null seats as free.
func (s *Seats) UnmarshalJSON(data []byte) error {
	var raw []*string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Seats, len(raw))
	for i, id := range raw {
		if id != nil {
			out[i] = *id
		}
	}
	*s = out
	return nil
}

// IndexOf returns the seat index held by participantID, or -1.
func (s Seats) IndexOf(participantID string) int {
	for i, id := range s {
		if id != "" && id == participantID {
			return i
		}
	}
	return -1
}

// Template describes the variables, pot and settlement rules of a room.
type Template struct {
	Name        string           `json:"name"`
	Variables   []Variable       `json:"variables"`
	Permissions []string         `json:"permissions,omitempty"`
	Pot         PotConfig        `json:"pot"`
	Settlement  SettlementConfig `json:"settlement"`
	MaxPlayers  int              `json:"max_players"`
}

// Variable is one numeric per-participant variable.
type Variable struct {
	Key     string  `json:"key"`
	Label   string  `json:"label"`
	Initial float64 `json:"initial"`
}

// PotConfig configures the shared pot account.
type PotConfig struct {
	Enabled bool               `json:"enabled"`
	Label   string             `json:"label,omitempty"`
	Initial map[string]float64 `json:"initial,omitempty"`
}

// SettlementConfig is carried for display-side settlement arithmetic.
type SettlementConfig struct {
	Mode         string    `json:"mode,omitempty"`
	ReturnPoints float64   `json:"return_points,omitempty"`
	Uma          []float64 `json:"uma,omitempty"`
	Oka          float64   `json:"oka,omitempty"`
}

// Variable returns the template variable named key.
func (t Template) Variable(key string) (Variable, bool) {
	for _, v := range t.Variables {
		if v.Key == key {
			return v, true
		}
	}
	return Variable{}, false
}

// Permissions a template may grant. Each gates one ledger operation.
const (
	PermTransfer   = "transfer"
	PermForceEdit  = "force_edit"
	PermReset      = "reset"
	PermUndo       = "undo"
	PermSettlement = "settlement"
)

// KnownPermission reports whether perm names a grantable permission.
func KnownPermission(perm string) bool {
	switch perm {
	case PermTransfer, PermForceEdit, PermReset, PermUndo, PermSettlement:
		return true
	}
	return false
}

// HasPermission reports whether the template grants perm. A template without
// any permissions grants everything.
func (t Template) HasPermission(perm string) bool {
	if len(t.Permissions) == 0 {
		return true
	}
	for _, p := range t.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// PotLabel returns the display label of the pot.
func (t Template) PotLabel() string {
	if t.Pot.Label != "" {
		return t.Pot.Label
	}
	return "Pot"
}

// PotInitial returns the configured starting pot value for key.
func (t Template) PotInitial(key string) float64 {
	return t.Pot.Initial[key]
}

// InitialValues returns a fresh variable map seeded from the template.
func (t Template) InitialValues() map[string]float64 {
	values := make(map[string]float64, len(t.Variables))
	for _, v := range t.Variables {
		values[v.Key] = v.Initial
	}
	return values
}

// Clone returns a deep copy of t.
func (t Template) Clone() Template {
	cp := t
	cp.Variables = append([]Variable(nil), t.Variables...)
	cp.Permissions = append([]string(nil), t.Permissions...)
	if t.Pot.Initial != nil {
		cp.Pot.Initial = make(map[string]float64, len(t.Pot.Initial))
		for k, v := range t.Pot.Initial {
			cp.Pot.Initial[k] = v
		}
	}
	cp.Settlement.Uma = append([]float64(nil), t.Settlement.Uma...)
	return cp
}

// NewState seeds a CurrentState for the given participants from the template.
func NewState(t Template, participants []string) CurrentState {
	s := CurrentState{Players: make(map[string]PlayerState, len(participants))}
	for _, id := range participants {
		s.Players[id] = PlayerState{Values: t.InitialValues()}
	}
	if t.Pot.Enabled {
		for k, v := range t.Pot.Initial {
			s.SetPot(k, v)
		}
	}
	return s
}
