package league

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/parityleague/backend/internal/models"
)

// Registry owns agent identities and minted auth tokens. IDs are
// sequential per role (P01..., REF01...); tokens are minted once and never
// renewed within a tournament.
type Registry struct {
	mu          sync.Mutex
	maxPlayers  int
	maxReferees int

	players  []models.AgentIdentity
	referees []models.AgentIdentity
	// tokens maps "<role>:<id>" to the minted bearer token.
	tokens map[string]string
}

// NewRegistry creates an empty registry with the given capacity limits.
func NewRegistry(maxPlayers, maxReferees int) *Registry {
	return &Registry{
		maxPlayers:  maxPlayers,
		maxReferees: maxReferees,
		tokens:      make(map[string]string),
	}
}

// RegisterPlayer assigns the next player id and mints a token.
// Returns an error when the configured capacity is reached.
func (r *Registry) RegisterPlayer(identity models.AgentIdentity) (models.AgentIdentity, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.players) >= r.maxPlayers {
		return models.AgentIdentity{}, "", fmt.Errorf("player capacity reached (%d)", r.maxPlayers)
	}
	identity.Role = models.RolePlayer
	identity.ID = fmt.Sprintf("P%02d", len(r.players)+1)
	token, err := mintToken(identity.ID)
	if err != nil {
		return models.AgentIdentity{}, "", err
	}
	r.players = append(r.players, identity)
	r.tokens[string(models.RolePlayer)+":"+identity.ID] = token
	return identity, token, nil
}

// RegisterReferee assigns the next referee id and mints a token.
func (r *Registry) RegisterReferee(identity models.AgentIdentity) (models.AgentIdentity, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.referees) >= r.maxReferees {
		return models.AgentIdentity{}, "", fmt.Errorf("referee capacity reached (%d)", r.maxReferees)
	}
	identity.Role = models.RoleReferee
	identity.ID = fmt.Sprintf("REF%02d", len(r.referees)+1)
	token, err := mintToken(identity.ID)
	if err != nil {
		return models.AgentIdentity{}, "", err
	}
	r.referees = append(r.referees, identity)
	r.tokens[string(models.RoleReferee)+":"+identity.ID] = token
	return identity, token, nil
}

// Token returns the minted token for a sender, if any.
func (r *Registry) Token(role, id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok, ok := r.tokens[role+":"+id]
	return tok, ok
}

// SetToken installs an externally minted token (orchestrator control token).
func (r *Registry) SetToken(role, id, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[role+":"+id] = token
}

// Players returns a copy of the registered players.
func (r *Registry) Players() []models.AgentIdentity {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.AgentIdentity, len(r.players))
	copy(out, r.players)
	return out
}

// Referees returns a copy of the registered referees.
func (r *Registry) Referees() []models.AgentIdentity {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.AgentIdentity, len(r.referees))
	copy(out, r.referees)
	return out
}

// Agent looks up any registered identity by id.
func (r *Registry) Agent(id string) (models.AgentIdentity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.players {
		if a.ID == id {
			return a, true
		}
	}
	for _, a := range r.referees {
		if a.ID == id {
			return a, true
		}
	}
	return models.AgentIdentity{}, false
}

// Counts returns the number of registered referees and players.
func (r *Registry) Counts() (referees, players int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.referees), len(r.players)
}

// mintToken builds an opaque bearer token of the form
// tok_<id>_<random>, with 128 bits of CSPRNG entropy.
func mintToken(id string) (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("mint token: %w", err)
	}
	return fmt.Sprintf("tok_%s_%s", id, hex.EncodeToString(buf[:])), nil
}
