// Package registry is the module registry actor: a bidirectional
// uid<->id map plus cached per-module metadata, serialized by a single
// message loop so mutation never needs a lock. internal/hub.Hub guards its
// state with a sync.RWMutex; here the same "one owner, many callers" shape
// is expressed instead as a goroutine draining a command channel and
// replying on a per-request one-shot channel.
package registry

import (
	"context"
	"fmt"

	"github.com/naokiiwakami/mission-control/internal/logging"
	"github.com/naokiiwakami/mission-control/internal/mcerr"
	"github.com/naokiiwakami/mission-control/internal/metrics"
)

// Module is a physical device known to mission-control.
type Module struct {
	UID            uint32
	ID             uint8
	Name           *string
	ModuleTypeID   *uint16
	ModuleTypeName *string
}

// SetFields carries the optional per-field update for SetProperties: a nil
// field preserves the existing value, a non-nil field overwrites it.
type SetFields struct {
	Name           *string
	ModuleTypeID   *uint16
	ModuleTypeName *string
}

type opKind uint8

const (
	opGetOrCreate opKind = iota
	opRegister
	opDeregister
	opList
	opGetByID
	opSetProperties
)

type request struct {
	kind   opKind
	uid    uint32
	id     uint8
	fields SetFields
	reply  chan response
}

type response struct {
	id      uint8
	module  Module
	modules []Module
	err     error
}

// Registry is the module registry actor's client handle.
type Registry struct {
	reqs chan request
}

// Start launches the registry actor loop and returns a handle to it. The
// loop exits when ctx is cancelled.
func Start(ctx context.Context) *Registry {
	r := &Registry{reqs: make(chan request)}
	go r.run(ctx)
	return r
}

func (r *Registry) run(ctx context.Context) {
	byUID := map[uint32]*Module{}
	byID := map[uint8]*Module{}

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-r.reqs:
			switch req.kind {
			case opGetOrCreate:
				id := getOrCreateIDByUID(byUID, byID, req.uid)
				req.reply <- response{id: id}

			case opRegister:
				m := &Module{UID: req.uid, ID: req.id}
				if old, ok := byUID[req.uid]; ok {
					delete(byID, old.ID)
				}
				if old, ok := byID[req.id]; ok {
					delete(byUID, old.UID)
				}
				byUID[req.uid] = m
				byID[req.id] = m
				metrics.SetModulesRegistered(len(byUID))
				req.reply <- response{}

			case opDeregister:
				if m, ok := byUID[req.uid]; ok {
					delete(byID, m.ID)
					delete(byUID, req.uid)
				}
				metrics.SetModulesRegistered(len(byUID))
				req.reply <- response{}

			case opList:
				out := make([]Module, 0, len(byUID))
				for _, m := range byUID {
					out = append(out, *m)
				}
				req.reply <- response{modules: out}

			case opGetByID:
				m, ok := byID[req.id]
				if !ok {
					req.reply <- response{err: fmt.Errorf("%w: id %d", mcerr.ErrModuleNotFound, req.id)}
					continue
				}
				req.reply <- response{module: *m}

			case opSetProperties:
				m, ok := byID[req.id]
				if !ok {
					req.reply <- response{err: fmt.Errorf("%w: id %d", mcerr.ErrModuleNotFound, req.id)}
					continue
				}
				if req.fields.Name != nil {
					m.Name = req.fields.Name
				}
				if req.fields.ModuleTypeID != nil {
					m.ModuleTypeID = req.fields.ModuleTypeID
				}
				if req.fields.ModuleTypeName != nil {
					m.ModuleTypeName = req.fields.ModuleTypeName
				}
				req.reply <- response{module: *m}
			}
		}
	}
}

// getOrCreateIDByUID returns the uid's existing id, or allocates the
// smallest free id in [1,255], or 0 if the space is exhausted.
func getOrCreateIDByUID(byUID map[uint32]*Module, byID map[uint8]*Module, uid uint32) uint8 {
	if m, ok := byUID[uid]; ok {
		return m.ID
	}
	for id := 1; id <= 255; id++ {
		if _, taken := byID[uint8(id)]; !taken {
			m := &Module{UID: uid, ID: uint8(id)}
			byUID[uid] = m
			byID[uint8(id)] = m
			metrics.SetModulesRegistered(len(byUID))
			return uint8(id)
		}
	}
	return 0
}

func (r *Registry) call(ctx context.Context, req request) response {
	req.reply = make(chan response, 1)
	select {
	case r.reqs <- req:
	case <-ctx.Done():
		return response{err: ctx.Err()}
	}
	select {
	case resp := <-req.reply:
		return resp
	case <-ctx.Done():
		return response{err: ctx.Err()}
	}
}

// GetOrCreateIDByUID returns uid's id if known, else allocates and returns
// the smallest free id, or 0 if [1,255] is exhausted.
func (r *Registry) GetOrCreateIDByUID(ctx context.Context, uid uint32) uint8 {
	resp := r.call(ctx, request{kind: opGetOrCreate, uid: uid})
	return resp.id
}

// Register overwrites any prior mapping for uid or id and installs {uid,id}.
func (r *Registry) Register(ctx context.Context, uid uint32, id uint8) {
	r.call(ctx, request{kind: opRegister, uid: uid, id: id})
}

// Deregister removes the entry for uid, by both uid and its associated id.
func (r *Registry) Deregister(ctx context.Context, uid uint32) {
	r.call(ctx, request{kind: opDeregister, uid: uid})
}

// List returns a snapshot copy of every known module.
func (r *Registry) List(ctx context.Context) []Module {
	resp := r.call(ctx, request{kind: opList})
	return resp.modules
}

// GetByID returns the module registered under id, or ErrModuleNotFound.
func (r *Registry) GetByID(ctx context.Context, id uint8) (Module, error) {
	resp := r.call(ctx, request{kind: opGetByID, id: id})
	return resp.module, resp.err
}

// SetProperties applies fields to the module registered under id; a nil
// field preserves the current value.
func (r *Registry) SetProperties(ctx context.Context, id uint8, fields SetFields) (Module, error) {
	resp := r.call(ctx, request{kind: opSetProperties, id: id, fields: fields})
	if resp.err != nil {
		logging.L().Warn("set_properties_failed", "id", id, "error", resp.err)
	}
	return resp.module, resp.err
}
