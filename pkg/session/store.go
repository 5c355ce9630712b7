package session

import (
	"sync"
	"time"

	"github.com/menta2k/aspect-cropper/pkg/types"
)

// Snapshot is a read-only copy of a session's state
type Snapshot struct {
	ID         string                 `json:"id"`
	Status     Status                 `json:"status"`
	Message    string                 `json:"message,omitempty"`
	Loaded     bool                   `json:"loaded"`
	Image      types.Dimensions       `json:"image"`
	Ratio      string                 `json:"ratio"`
	Rotation   types.Rotation         `json:"rotation"`
	Crop       types.Region           `json:"crop"`
	CropPixels types.PixelRegion      `json:"crop_px"`
	Committed  *types.Region          `json:"committed,omitempty"`
	Suggested  *types.SuggestedRegion `json:"suggested,omitempty"`
	Suggesting bool                   `json:"suggesting"`
	Output     *types.Dimensions      `json:"output,omitempty"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// Snapshot copies the current state
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:         s.id,
		Status:     s.status.status(),
		Message:    s.message,
		Loaded:     s.source != nil,
		Image:      s.dims,
		Ratio:      s.ratio.Label,
		Rotation:   s.rotation,
		Crop:       s.live,
		Suggesting: s.busy.Load(),
		UpdatedAt:  s.updatedAt,
	}
	if s.source != nil {
		snap.CropPixels = s.live.ToPixels(s.dims)
	}
	if s.committed != nil {
		c := *s.committed
		snap.Committed = &c
	}
	if s.suggested != nil {
		sg := *s.suggested
		snap.Suggested = &sg
	}
	if s.output != nil {
		snap.Output = &types.Dimensions{Width: s.output.Width, Height: s.output.Height}
	}
	return snap
}

// Store keeps independent sessions in memory
type Store struct {
	opts Options

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewStore(opts Options) *Store {
	return &Store{opts: opts.withDefaults(), sessions: make(map[string]*Session)}
}

// Create adds a new idle session
func (st *Store) Create() *Session {
	s := New(st.opts)
	st.mu.Lock()
	st.sessions[s.id] = s
	st.mu.Unlock()
	return s
}

func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

// Delete removes a session and reports whether it existed
func (st *Store) Delete(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, ok := st.sessions[id]
	delete(st.sessions, id)
	return ok
}

func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Prune drops sessions untouched for longer than maxAge, skipping ones with
// a suggestion in flight
func (st *Store) Prune(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	st.mu.Lock()
	defer st.mu.Unlock()
	n := 0
	for id, s := range st.sessions {
		if s.Suggesting() || s.UpdatedAt().After(cutoff) {
			continue
		}
		delete(st.sessions, id)
		n++
	}
	return n
}
