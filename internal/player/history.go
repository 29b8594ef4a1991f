package player

import (
	"sync"

	"go.uber.org/zap"

	"github.com/parityleague/backend/internal/models"
	"github.com/parityleague/backend/internal/storage"
)

// History is the player-owned record of past matches and per-opponent
// profiles. Every mutation is persisted with the atomic write pattern so a
// crash mid-append never corrupts the files.
type History struct {
	mu       sync.Mutex
	playerID string
	store    *storage.Store
	log      *zap.Logger

	records  []models.MatchRecord
	profiles map[string]*models.OpponentProfile
}

// NewHistory loads any persisted state for the player, or starts empty.
func NewHistory(playerID string, store *storage.Store, log *zap.Logger) *History {
	h := &History{
		playerID: playerID,
		store:    store,
		log:      log.Named("history"),
		profiles: make(map[string]*models.OpponentProfile),
	}

	if doc, err := storage.Read[[]models.MatchRecord](store, "players", playerID, "match_history.json"); err == nil {
		h.records = doc.Data
	}
	if doc, err := storage.Read[map[string]*models.OpponentProfile](store, "players", playerID, "opponent_profiles.json"); err == nil && doc.Data != nil {
		h.profiles = doc.Data
	}
	return h
}

// Append records a finished match and folds the opponent's choice into the
// profile.
func (h *History) Append(rec models.MatchRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records = append(h.records, rec)

	opponent := rec.Players[0]
	if opponent == h.playerID {
		opponent = rec.Players[1]
	}
	prof, ok := h.profiles[opponent]
	if !ok {
		prof = &models.OpponentProfile{OpponentID: opponent}
		h.profiles[opponent] = prof
	}
	if choice, ok := rec.Choices[opponent]; ok && choice.Valid() {
		if choice == models.ParityEven {
			prof.EvenCount++
		} else {
			prof.OddCount++
		}
		prof.History = append(prof.History, choice)
	}

	h.persistLocked()
}

// Profile returns a copy of the profile for an opponent, or nil when the
// opponent has never been seen.
func (h *History) Profile(opponentID string) *models.OpponentProfile {
	h.mu.Lock()
	defer h.mu.Unlock()
	prof, ok := h.profiles[opponentID]
	if !ok {
		return nil
	}
	cp := *prof
	cp.History = append([]models.Parity(nil), prof.History...)
	return &cp
}

// Len returns the number of recorded matches.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

func (h *History) persistLocked() {
	if err := storage.Write(h.store, h.playerID, h.records, "players", h.playerID, "match_history.json"); err != nil {
		h.log.Error("persist match history failed", zap.Error(err))
	}
	if err := storage.Write(h.store, h.playerID, h.profiles, "players", h.playerID, "opponent_profiles.json"); err != nil {
		h.log.Error("persist opponent profiles failed", zap.Error(err))
	}
}
