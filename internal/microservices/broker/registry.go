package broker

import (
	"errors"
	"log/slog"
	"maps"
	"sync"

	"ikarusms/internal/merge"
)

var (
	ErrMasterUnknown = errors.New("master is not logged in")
	ErrSlaveUnknown  = errors.New("slave is not logged in")
	ErrMasterOffline = errors.New("required master is not logged in")
)

type Registry struct {
	masters map[string]map[string]any
	// master id -> last stored state
	slaves map[string]string
	// slave id -> required master id, which may not be logged in (yet)
	mu     sync.Mutex
	logger *slog.Logger
}

// constructor for Registry
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		masters: make(map[string]map[string]any),
		slaves:  make(map[string]string),
		logger:  logger,
	}
}

// LoginMaster creates an empty session; false if the id is taken.
func (r *Registry) LoginMaster(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.masters[id]; exists {
		r.logger.Warn("master_login_rejected", "master_id", id)
		return false
	}
	r.masters[id] = map[string]any{}
	r.logger.Info("master_login", "master_id", id)
	return true
}

func (r *Registry) LogoutMaster(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.masters, id)
	r.logger.Info("master_logout", "master_id", id)
}

// LoginSlave creates a session bound to requiredMaster; false if the id is
// taken. The master does not need to exist yet.
func (r *Registry) LoginSlave(id, requiredMaster string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.slaves[id]; exists {
		r.logger.Warn("slave_login_rejected", "slave_id", id)
		return false
	}
	r.slaves[id] = requiredMaster
	r.logger.Info("slave_login", "slave_id", id, "master_id", requiredMaster)
	return true
}

func (r *Registry) LogoutSlave(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.slaves, id)
	r.logger.Info("slave_logout", "slave_id", id)
}

// SyncMaster replaces the master's stored state and returns the state it
// held before. A nil state stores an empty mapping.
func (r *Registry) SyncMaster(id string, state map[string]any) (map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot, exists := r.masters[id]
	if !exists {
		r.logger.Warn("master_not_logged_in", "master_id", id)
		return nil, ErrMasterUnknown
	}
	if state == nil {
		state = map[string]any{}
	}
	r.masters[id] = state
	return snapshot, nil
}

// SyncSlave merges the slave's partial report into its master's stored state
// and returns the master's state from before the merge.
func (r *Registry) SyncSlave(id string, report map[string]any) (map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	masterID := r.slaves[id]
	if masterID == "" {
		r.logger.Warn("slave_not_logged_in", "slave_id", id)
		return nil, ErrSlaveUnknown
	}
	snapshot, exists := r.masters[masterID]
	if !exists {
		r.logger.Warn("required_master_not_logged_in", "slave_id", id, "master_id", masterID)
		return nil, ErrMasterOffline
	}
	r.masters[masterID] = merge.Merge(snapshot, report)
	return snapshot, nil
}

// MasterState returns a shallow copy of the state stored for a master.
// Stored states are replaced on sync, never modified in place.
func (r *Registry) MasterState(id string) (map[string]any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.masters[id]
	return maps.Clone(state), ok
}

// Sessions describes the registry for the status endpoint.
type Sessions struct {
	Masters map[string]int    `json:"masters"` // id -> number of stored sections
	Slaves  map[string]string `json:"slaves"`  // id -> required master
}

func (r *Registry) Sessions() Sessions {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Sessions{
		Masters: make(map[string]int, len(r.masters)),
		Slaves:  make(map[string]string, len(r.slaves)),
	}
	for id, state := range r.masters {
		s.Masters[id] = len(state)
	}
	for id, master := range r.slaves {
		s.Slaves[id] = master
	}
	return s
}

// Counts returns the number of master and slave sessions.
func (r *Registry) Counts() (masters, slaves int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.masters), len(r.slaves)
}
