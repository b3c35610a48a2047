// Package lobby manages room lifecycle around the ledger: creating rooms from
// templates, seating participants, status changes and deletion.
package lobby

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/roach88/syncboard/internal/ledger"
	"github.com/roach88/syncboard/internal/notify"
	"github.com/roach88/syncboard/internal/room"
	"github.com/roach88/syncboard/internal/store"
	"github.com/roach88/syncboard/internal/template"
)

var (
	// ErrRoomNotFound is returned when the room or join code does not exist.
	ErrRoomNotFound = errors.New("room not found")

	// ErrInvalid wraps every request validation failure.
	ErrInvalid = errors.New("invalid request")

	// ErrSeatTaken is returned when joining an occupied seat.
	ErrSeatTaken = errors.New("seat taken")

	// ErrRoomFull is returned when no seat is free.
	ErrRoomFull = errors.New("room full")
)

// codeAttempts bounds join code regeneration on collision with an active room.
const codeAttempts = 8

// CodeGenerator returns a join code candidate.
type CodeGenerator func() (string, error)

// Lobby creates, seats and removes rooms.
type Lobby struct {
	store     *store.Store
	publisher notify.Publisher
	ids       ledger.IDGenerator
	codes     CodeGenerator
	now       func() time.Time
}

// Option configures a Lobby.
type Option func(*Lobby)

// WithPublisher sets where room changes are announced.
func WithPublisher(p notify.Publisher) Option {
	return func(l *Lobby) {
		if p != nil {
			l.publisher = p
		}
	}
}

// WithIDGenerator sets the room id generator.
func WithIDGenerator(g ledger.IDGenerator) Option {
	return func(l *Lobby) {
		if g != nil {
			l.ids = g
		}
	}
}

// WithCodeGenerator sets the join code generator.
func WithCodeGenerator(g CodeGenerator) Option {
	return func(l *Lobby) {
		if g != nil {
			l.codes = g
		}
	}
}

// WithNow sets the creation timestamp source.
func WithNow(now func() time.Time) Option {
	return func(l *Lobby) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a lobby over s.
func New(s *store.Store, opts ...Option) *Lobby {
	l := &Lobby{
		store:     s,
		publisher: notify.Discard,
		ids:       ledger.UUIDv7Generator{},
		codes:     RandomCode,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RandomCode returns a uniformly random 6-digit join code.
func RandomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate join code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// CreateRequest describes a new room. The host is always seated first.
type CreateRequest struct {
	Template     room.Template `json:"template"`
	HostID       string        `json:"host_id"`
	Participants []string      `json:"participants,omitempty"`
}

// Create validates req and inserts a waiting room seeded from the template.
func (l *Lobby) Create(ctx context.Context, req CreateRequest) (room.Room, error) {
	if err := template.Validate(req.Template); err != nil {
		return room.Room{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	participants, err := seatOrder(req.HostID, req.Participants)
	if err != nil {
		return room.Room{}, err
	}
	maxPlayers := req.Template.MaxPlayers
	if len(participants) > maxPlayers {
		return room.Room{}, fmt.Errorf("%w: %d participants for %d seats", ErrInvalid, len(participants), maxPlayers)
	}

	code, err := l.freeCode(ctx)
	if err != nil {
		return room.Room{}, err
	}

	seats := make(room.Seats, maxPlayers)
	copy(seats, participants)
	r := room.Room{
		ID:        l.ids.Generate(),
		JoinCode:  code,
		HostID:    participants[0],
		Status:    room.StatusWaiting,
		Template:  req.Template.Clone(),
		Seats:     seats,
		State:     room.NewState(req.Template, participants),
		CreatedAt: l.now().UTC(),
		Version:   1,
	}
	if err := l.store.CreateRoom(ctx, r); err != nil {
		return room.Room{}, err
	}

	slog.Info("room created", "room_id", r.ID, "template", r.Template.Name, "seats", maxPlayers)
	return r, nil
}

func seatOrder(hostID string, participants []string) ([]string, error) {
	hostID = strings.TrimSpace(hostID)
	if err := validateParticipant(hostID); err != nil {
		return nil, err
	}
	out := []string{hostID}
	seen := map[string]bool{hostID: true}
	for _, id := range participants {
		id = strings.TrimSpace(id)
		if seen[id] {
			continue
		}
		if err := validateParticipant(id); err != nil {
			return nil, err
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

func validateParticipant(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: participant id is required", ErrInvalid)
	case room.IsReserved(id):
		return fmt.Errorf("%w: participant id %q is reserved", ErrInvalid, id)
	case strings.HasPrefix(id, room.StatusPrefix):
		return fmt.Errorf("%w: participant id %q must not start with %q", ErrInvalid, id, room.StatusPrefix)
	}
	return nil
}

// freeCode returns a code that no active room currently uses.
func (l *Lobby) freeCode(ctx context.Context) (string, error) {
	for range codeAttempts {
		code, err := l.codes()
		if err != nil {
			return "", err
		}
		_, err = l.store.FindRoomByCode(ctx, code)
		if errors.Is(err, store.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
		slog.Debug("join code collision", "code", code)
	}
	return "", fmt.Errorf("no free join code after %d attempts", codeAttempts)
}

// AnySeat lets Join pick the first free seat.
const AnySeat = -1

// Join seats participantID at seat (or the first free seat for AnySeat) and
// seeds their variables from the template. Joining again is a no-op that
// returns the room unchanged.
func (l *Lobby) Join(ctx context.Context, roomID, participantID string, seat int) (room.Room, error) {
	participantID = strings.TrimSpace(participantID)
	if err := validateParticipant(participantID); err != nil {
		return room.Room{}, err
	}

	joined := false
	r, err := l.store.UpdateRoom(ctx, roomID, func(tx *store.Tx) error {
		if tx.Room.Seats.IndexOf(participantID) >= 0 {
			return nil
		}
		if tx.Room.Status == room.StatusFinished {
			return fmt.Errorf("%w: room %s is finished", ErrInvalid, roomID)
		}

		seats := tx.Room.Seats
		if seat == AnySeat {
			if seat = firstFree(seats); seat < 0 {
				return ErrRoomFull
			}
		}
		if seat < 0 || seat >= len(seats) {
			return fmt.Errorf("%w: seat %d out of range [0,%d)", ErrInvalid, seat, len(seats))
		}
		if seats[seat] != "" {
			return fmt.Errorf("%w: seat %d held by %s", ErrSeatTaken, seat, seats[seat])
		}

		tx.Room.Seats = append(room.Seats(nil), seats...)
		tx.Room.Seats[seat] = participantID
		if !tx.Room.State.HasParticipant(participantID) {
			tx.Room.State.Players[participantID] = room.PlayerState{Values: tx.Room.Template.InitialValues()}
		}
		joined = true
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return room.Room{}, fmt.Errorf("room %s: %w", roomID, ErrRoomNotFound)
	}
	if err != nil {
		return room.Room{}, err
	}

	if joined {
		slog.Info("participant joined", "room_id", roomID, "participant", participantID, "seat", seat)
		l.announce(r)
	}
	return r, nil
}

func firstFree(seats room.Seats) int {
	for i, id := range seats {
		if id == "" {
			return i
		}
	}
	return -1
}

// UpdateTemplate replaces the room's template. Every participant gains the
// variables it lacks at their initial values, and pot keys the new template
// starts with are added. Values of variables the template drops are kept.
// The seat list follows MaxPlayers; shrinking it past an occupied seat is
// rejected.
func (l *Lobby) UpdateTemplate(ctx context.Context, roomID string, tmpl room.Template) (room.Room, error) {
	if err := template.Validate(tmpl); err != nil {
		return room.Room{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	r, err := l.store.UpdateRoom(ctx, roomID, func(tx *store.Tx) error {
		if tx.Room.Status == room.StatusFinished {
			return fmt.Errorf("%w: room %s is finished", ErrInvalid, roomID)
		}
		seats, err := resizeSeats(tx.Room.Seats, tmpl.MaxPlayers)
		if err != nil {
			return err
		}
		tx.Room.Seats = seats
		tx.Room.Template = tmpl.Clone()
		tx.Room.State.FillVariables(tmpl)
		if tmpl.Pot.Enabled {
			for key, v := range tmpl.Pot.Initial {
				if _, ok := tx.Room.State.Pot[key]; !ok {
					tx.Room.State.SetPot(key, v)
				}
			}
		}
		return nil
	})
	if err != nil {
		return room.Room{}, notFound(roomID, err)
	}

	slog.Info("room template updated", "room_id", roomID, "template", tmpl.Name, "seats", len(r.Seats))
	l.announce(r)
	return r, nil
}

func resizeSeats(seats room.Seats, n int) (room.Seats, error) {
	for i := n; i < len(seats); i++ {
		if seats[i] != "" {
			return nil, fmt.Errorf("%w: seat %d held by %s is beyond max_players %d", ErrInvalid, i, seats[i], n)
		}
	}
	out := make(room.Seats, n)
	copy(out, seats)
	return out, nil
}

// SetStatus changes only the room's status.
func (l *Lobby) SetStatus(ctx context.Context, roomID string, status room.Status) (room.Room, error) {
	if !status.Valid() {
		return room.Room{}, fmt.Errorf("%w: unknown status %q", ErrInvalid, status)
	}
	if err := l.store.SetStatus(ctx, roomID, status); err != nil {
		return room.Room{}, notFound(roomID, err)
	}
	r, err := l.store.GetRoom(ctx, roomID)
	if err != nil {
		return room.Room{}, notFound(roomID, err)
	}

	slog.Info("room status changed", "room_id", roomID, "status", status)
	l.announce(r)
	return r, nil
}

// Delete removes the room, its history and settlements, then announces the
// deletion.
func (l *Lobby) Delete(ctx context.Context, roomID string) error {
	if err := l.store.DeleteRoom(ctx, roomID); err != nil {
		return notFound(roomID, err)
	}
	slog.Info("room deleted", "room_id", roomID)
	l.publisher.Publish(notify.Event{Kind: notify.KindDelete, RoomID: roomID})
	return nil
}

// Get returns the room.
func (l *Lobby) Get(ctx context.Context, roomID string) (room.Room, error) {
	r, err := l.store.GetRoom(ctx, roomID)
	if err != nil {
		return room.Room{}, notFound(roomID, err)
	}
	return r, nil
}

// FindByCode returns the newest unfinished room using code.
func (l *Lobby) FindByCode(ctx context.Context, code string) (room.Room, error) {
	code = strings.TrimSpace(code)
	r, err := l.store.FindRoomByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return room.Room{}, fmt.Errorf("join code %s: %w", code, ErrRoomNotFound)
	}
	return r, err
}

func (l *Lobby) announce(r room.Room) {
	l.publisher.Publish(notify.UpdateOf(r))
}

func notFound(roomID string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("room %s: %w", roomID, ErrRoomNotFound)
	}
	return err
}
