package room

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

const (
	// PotID is the reserved identity of the shared pot account.
	PotID = "__pot__"

	// LogKey is the reserved wire key holding the recent-operations log.
	LogKey = "__log__"

	// StatusPrefix marks status flags inside a player object.
	StatusPrefix = "_"

	reservedPrefix = "__"
)

// IsReserved reports whether id is in the reserved namespace.
func IsReserved(id string) bool {
	return strings.HasPrefix(id, reservedPrefix)
}

// PlayerState holds one participant's variables and status flags.
type PlayerState struct {
	Values map[string]float64
	Status map[string]string
}

// Clone returns a deep copy of p.
func (p PlayerState) Clone() PlayerState {
	cp := PlayerState{Values: make(map[string]float64, len(p.Values))}
	for k, v := range p.Values {
		cp.Values[k] = v
	}
	if len(p.Status) > 0 {
		cp.Status = make(map[string]string, len(p.Status))
		for k, v := range p.Status {
			cp.Status[k] = v
		}
	}
	return cp
}

// CurrentState is the authoritative per-room ledger.
type CurrentState struct {
	Players   map[string]PlayerState
	Pot       map[string]float64
	RecentLog []string
}

// Clone returns a deep copy of s. Empty pot, log and status collections are
// normalised to nil so that clones compare equal to decoded wire values.
func (s CurrentState) Clone() CurrentState {
	cp := CurrentState{Players: make(map[string]PlayerState, len(s.Players))}
	for id, p := range s.Players {
		cp.Players[id] = p.Clone()
	}
	if len(s.Pot) > 0 {
		cp.Pot = make(map[string]float64, len(s.Pot))
		for k, v := range s.Pot {
			cp.Pot[k] = v
		}
	}
	if len(s.RecentLog) > 0 {
		cp.RecentLog = append([]string(nil), s.RecentLog...)
	}
	return cp
}

// HasParticipant reports whether id has an entry in the state.
func (s CurrentState) HasParticipant(id string) bool {
	_, ok := s.Players[id]
	return ok
}

// Participants returns participant ids in sorted order.
func (s CurrentState) Participants() []string {
	ids := make([]string, 0, len(s.Players))
	for id := range s.Players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Seed adds id with the template's initial values unless it is already
// present. It reports whether an entry was added.
func (s *CurrentState) Seed(id string, t Template) bool {
	if s.HasParticipant(id) {
		return false
	}
	if s.Players == nil {
		s.Players = make(map[string]PlayerState)
	}
	s.Players[id] = PlayerState{Values: t.InitialValues()}
	return true
}

// FillVariables gives every participant each template variable it lacks,
// at the variable's initial value. Existing values are left alone.
func (s *CurrentState) FillVariables(t Template) {
	for id, p := range s.Players {
		for _, v := range t.Variables {
			if _, ok := p.Values[v.Key]; ok {
				continue
			}
			if p.Values == nil {
				p.Values = make(map[string]float64, len(t.Variables))
				s.Players[id] = p
			}
			p.Values[v.Key] = v.Initial
		}
	}
}

// Balance returns the value of key on the account id. The pot is addressed
// by PotID. Missing keys read as zero.
func (s CurrentState) Balance(id, key string) float64 {
	if id == PotID {
		return s.Pot[key]
	}
	return s.Players[id].Values[key]
}

// SetPot writes key on the pot, creating it when absent.
func (s *CurrentState) SetPot(key string, value float64) {
	if s.Pot == nil {
		s.Pot = make(map[string]float64)
	}
	s.Pot[key] = value
}

// Set writes key on account id. The participant must exist unless id is PotID.
func (s *CurrentState) Set(id, key string, value float64) bool {
	if id == PotID {
		s.SetPot(key, value)
		return true
	}
	p, ok := s.Players[id]
	if !ok {
		return false
	}
	if p.Values == nil {
		p.Values = make(map[string]float64)
		s.Players[id] = p
	}
	p.Values[key] = value
	return true
}

// Add adds delta to key on account id.
func (s *CurrentState) Add(id, key string, delta float64) bool {
	return s.Set(id, key, s.Balance(id, key)+delta)
}

// Total sums key over every participant and the pot.
func (s CurrentState) Total(key string) float64 {
	total := s.Pot[key]
	for _, p := range s.Players {
		total += p.Values[key]
	}
	return total
}

// AppendLog appends line to the recent-operations log, evicting the oldest
// lines beyond limit.
func (s *CurrentState) AppendLog(line string, limit int) {
	s.RecentLog = append(s.RecentLog, line)
	if limit > 0 && len(s.RecentLog) > limit {
		s.RecentLog = append([]string(nil), s.RecentLog[len(s.RecentLog)-limit:]...)
	}
}

// StripLog removes the most recent occurrence of line from the log.
func (s *CurrentState) StripLog(line string) {
	for i := len(s.RecentLog) - 1; i >= 0; i-- {
		if s.RecentLog[i] == line {
			s.RecentLog = append(s.RecentLog[:i:i], s.RecentLog[i+1:]...)
			break
		}
	}
	if len(s.RecentLog) == 0 {
		s.RecentLog = nil
	}
}

// MarshalJSON encodes the flat wire mapping.
func (s CurrentState) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(s.Players)+2)
	for id, p := range s.Players {
		obj := make(map[string]any, len(p.Values)+len(p.Status))
		for k, v := range p.Values {
			obj[k] = v
		}
		for k, v := range p.Status {
			obj[k] = v
		}
		m[id] = obj
	}
	if len(s.Pot) > 0 {
		m[PotID] = s.Pot
	}
	if len(s.RecentLog) > 0 {
		m[LogKey] = s.RecentLog
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes the flat wire mapping.
func (s *CurrentState) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := CurrentState{Players: make(map[string]PlayerState, len(raw))}
	for key, msg := range raw {
		switch key {
		case PotID:
			var pot map[string]float64
			if err := json.Unmarshal(msg, &pot); err != nil {
				return fmt.Errorf("decode pot: %w", err)
			}
			if len(pot) > 0 {
				out.Pot = pot
			}
		case LogKey:
			var log []string
			if err := json.Unmarshal(msg, &log); err != nil {
				return fmt.Errorf("decode log: %w", err)
			}
			if len(log) > 0 {
				out.RecentLog = log
			}
		default:
			p, err := decodePlayer(msg)
			if err != nil {
				return fmt.Errorf("decode participant %s: %w", key, err)
			}
			out.Players[key] = p
		}
	}
	*s = out
	return nil
}

func decodePlayer(msg json.RawMessage) (PlayerState, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(msg, &fields); err != nil {
		return PlayerState{}, err
	}
	p := PlayerState{Values: make(map[string]float64, len(fields))}
	for k, v := range fields {
		if strings.HasPrefix(k, StatusPrefix) {
			var flag string
			if err := json.Unmarshal(v, &flag); err != nil {
				flag = string(v)
			}
			if p.Status == nil {
				p.Status = make(map[string]string)
			}
			p.Status[k] = flag
			continue
		}
		var n float64
		if err := json.Unmarshal(v, &n); err != nil {
			return PlayerState{}, fmt.Errorf("variable %s: %w", k, err)
		}
		p.Values[k] = n
	}
	return p, nil
}

// Finite reports whether v is a finite real number.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
