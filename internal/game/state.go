package game

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// GameState is the referee-owned state of a single match.
type GameState string

const (
	StateIdle              GameState = "IDLE"
	StateWaitingForPlayers GameState = "WAITING_FOR_PLAYERS"
	StateCollectingChoices GameState = "COLLECTING_CHOICES"
	StateDrawingNumber     GameState = "DRAWING_NUMBER"
	StateEvaluating        GameState = "EVALUATING"
	StateFinished          GameState = "FINISHED"
	StateAborted           GameState = "ABORTED"
)

// RoundState is the manager-owned state of one round.
type RoundState string

const (
	RoundPending    RoundState = "PENDING"
	RoundAnnounced  RoundState = "ANNOUNCED"
	RoundInProgress RoundState = "IN_PROGRESS"
	RoundCompleted  RoundState = "COMPLETED"
)

// TournamentState is the manager-owned state of the whole league.
type TournamentState string

const (
	TournamentInitializing TournamentState = "INITIALIZING"
	TournamentRegistration TournamentState = "REGISTRATION"
	TournamentScheduling   TournamentState = "SCHEDULING"
	TournamentRoundActive  TournamentState = "ROUND_ACTIVE"
	TournamentCompleted    TournamentState = "COMPLETED"
)

// Transition tables. An edge absent from the table is a hard error.
var gameTransitions = map[GameState][]GameState{
	StateIdle:              {StateWaitingForPlayers},
	StateWaitingForPlayers: {StateCollectingChoices, StateAborted},
	StateCollectingChoices: {StateDrawingNumber, StateAborted},
	StateDrawingNumber:     {StateEvaluating, StateAborted},
	StateEvaluating:        {StateFinished},
}

var roundTransitions = map[RoundState][]RoundState{
	RoundPending:    {RoundAnnounced},
	RoundAnnounced:  {RoundInProgress},
	RoundInProgress: {RoundCompleted},
}

var tournamentTransitions = map[TournamentState][]TournamentState{
	TournamentInitializing: {TournamentRegistration},
	TournamentRegistration: {TournamentScheduling},
	TournamentScheduling:   {TournamentRoundActive},
	TournamentRoundActive:  {TournamentRoundActive, TournamentCompleted},
}

// Machine tracks one state value and enforces its transition table.
// Safe for concurrent use.
type Machine[S comparable] struct {
	mu      sync.Mutex
	name    string
	subject string
	state   S
	table   map[S][]S
	log     *zap.Logger
}

func newMachine[S comparable](name, subject string, initial S, table map[S][]S, log *zap.Logger) *Machine[S] {
	if log == nil {
		log = zap.NewNop()
	}
	return &Machine[S]{name: name, subject: subject, state: initial, table: table, log: log}
}

// State returns the current state.
func (m *Machine[S]) State() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Is reports whether the machine currently holds s.
func (m *Machine[S]) Is(s S) bool {
	return m.State() == s
}

// To moves the machine to next, failing hard on an edge the table does not
// declare. Every successful transition is logged as a structured event.
func (m *Machine[S]) To(next S) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, allowed := range m.table[m.state] {
		if allowed == next {
			m.log.Info("transition",
				zap.String("machine", m.name),
				zap.String("subject", m.subject),
				zap.Any("from", m.state),
				zap.Any("to", next),
			)
			m.state = next
			return nil
		}
	}
	return fmt.Errorf("%s %s: invalid transition %v -> %v", m.name, m.subject, m.state, next)
}

// NewGameMachine returns a match state machine starting at IDLE.
func NewGameMachine(matchID string, log *zap.Logger) *Machine[GameState] {
	return newMachine("game", matchID, StateIdle, gameTransitions, log)
}

// NewRoundMachine returns a round state machine starting at PENDING.
func NewRoundMachine(roundID string, log *zap.Logger) *Machine[RoundState] {
	return newMachine("round", roundID, RoundPending, roundTransitions, log)
}

// NewTournamentMachine returns a tournament state machine starting at
// INITIALIZING.
func NewTournamentMachine(leagueID string, log *zap.Logger) *Machine[TournamentState] {
	return newMachine("tournament", leagueID, TournamentInitializing, tournamentTransitions, log)
}
