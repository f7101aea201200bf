package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/tolelom/tolotto/core"
	"github.com/tolelom/tolotto/crypto"
	"github.com/tolelom/tolotto/lottery"
)

// registerPrefix records a state-key prefix into statePrefixes so that
// ComputeRoot() always covers it.  All prefix constants must be declared
// via this function; manually editing statePrefixes is not required.
func registerPrefix(p string) string {
	statePrefixes = append(statePrefixes, p)
	return p
}

// statePrefixes is populated automatically by registerPrefix() below.
// ComputeRoot() iterates these prefixes to build the full world-state view.
var statePrefixes []string

var (
	prefixAccount = registerPrefix("acct:")
	prefixRound   = registerPrefix("round:")
	prefixTicket  = registerPrefix("ticket:")
	prefixOwned   = registerPrefix("owned:")
	prefixClaim   = registerPrefix("claim:")
	prefixPicks   = registerPrefix("picks:")
	prefixSeq     = registerPrefix("seq:")
	prefixParams  = registerPrefix("params:")
)

var keyLotteryParams = prefixParams + "lottery"

// idKey zero-pads numeric ids so prefix iteration returns them in order.
func idKey(prefix string, id uint64) string {
	return fmt.Sprintf("%s%020d", prefix, id)
}

func ownedKey(roundID uint64, owner string) string {
	return fmt.Sprintf("%s%020d:%s", prefixOwned, roundID, owner)
}

func picksPrefix(roundID uint64) string {
	return fmt.Sprintf("%s%020d:", prefixPicks, roundID)
}

func picksKey(roundID, pick uint64) string {
	return fmt.Sprintf("%s%020d", picksPrefix(roundID), pick)
}

type stateSnapshot struct {
	dirty   map[string][]byte
	deleted map[string]bool
}

// StateDB implements core.State on top of a DB with in-memory write buffer,
// snapshot/rollback, and deterministic state-root computation. It is safe for
// concurrent readers alongside the single block-producing writer.
type StateDB struct {
	mu        sync.RWMutex
	db        DB
	dirty     map[string][]byte
	deleted   map[string]bool
	snapshots []stateSnapshot
}

// NewStateDB creates a StateDB backed by db.
func NewStateDB(db DB) *StateDB {
	return &StateDB{
		db:      db,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

// ---- internal helpers ----

func (s *StateDB) get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.deleted[key] {
		return nil, core.ErrNotFound
	}
	if v, ok := s.dirty[key]; ok {
		return v, nil
	}
	return s.db.Get([]byte(key))
}

func (s *StateDB) set(key string, val []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deleted, key)
	s.dirty[key] = val
}

func (s *StateDB) del(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dirty, key)
	s.deleted[key] = true
}

// scan returns every live key-value pair under prefix, merging the DB with
// the write buffer.
func (s *StateDB) scan(prefix string) map[string][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	merged := make(map[string][]byte)
	it := s.db.NewIterator([]byte(prefix))
	for it.Next() {
		v := make([]byte, len(it.Value()))
		copy(v, it.Value())
		merged[string(it.Key())] = v
	}
	it.Release()
	for k, v := range s.dirty {
		if strings.HasPrefix(k, prefix) {
			merged[k] = v
		}
	}
	for k := range s.deleted {
		delete(merged, k)
	}
	return merged
}

func (s *StateDB) getUint(key string) (uint64, error) {
	data, err := s.get(key)
	if errors.Is(err, core.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode %s: %w", key, err)
	}
	return n, nil
}

func (s *StateDB) getJSON(key string, v any) error {
	data, err := s.get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *StateDB) setJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.set(key, data)
	return nil
}

// ---- Account ----

func (s *StateDB) GetAccount(address string) (*core.Account, error) {
	var acc core.Account
	err := s.getJSON(prefixAccount+address, &acc)
	if errors.Is(err, core.ErrNotFound) {
		return &core.Account{Address: address}, nil // zero-value account
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *StateDB) SetAccount(acc *core.Account) error {
	return s.setJSON(prefixAccount+acc.Address, acc)
}

// ---- Rounds ----

func (s *StateDB) GetRound(id uint64) (*lottery.Round, error) {
	var r lottery.Round
	if err := s.getJSON(idKey(prefixRound, id), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *StateDB) SetRound(r *lottery.Round) error {
	return s.setJSON(idKey(prefixRound, r.ID), r)
}

// ---- Tickets ----

func (s *StateDB) GetTicket(id uint64) (*lottery.Ticket, error) {
	var t lottery.Ticket
	if err := s.getJSON(idKey(prefixTicket, id), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *StateDB) SetTicket(t *lottery.Ticket) error {
	return s.setJSON(idKey(prefixTicket, t.ID), t)
}

func (s *StateDB) DeleteTicket(id uint64) error {
	s.del(idKey(prefixTicket, id))
	return nil
}

func (s *StateDB) GetOwnedTickets(roundID uint64, owner string) ([]uint64, error) {
	var ids []uint64
	err := s.getJSON(ownedKey(roundID, owner), &ids)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	return ids, err
}

func (s *StateDB) SetOwnedTickets(roundID uint64, owner string, ids []uint64) error {
	if ids == nil {
		ids = []uint64{}
	}
	return s.setJSON(ownedKey(roundID, owner), ids)
}

// ---- Claims ----

func (s *StateDB) IsClaimed(ticketID uint64) (bool, error) {
	_, err := s.get(idKey(prefixClaim, ticketID))
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *StateDB) SetClaimed(ticketID uint64) error {
	s.set(idKey(prefixClaim, ticketID), []byte{1})
	return nil
}

func (s *StateDB) ClearClaimed(ticketID uint64) error {
	s.del(idKey(prefixClaim, ticketID))
	return nil
}

// ---- Pick tallies ----

// AddPicks reads every counter before writing any, so a decode error leaves
// the tally untouched.
func (s *StateDB) AddPicks(roundID uint64, keys []uint64) error {
	cur, err := s.tally(roundID, keys)
	if err != nil {
		return err
	}
	for pick, delta := range keysCount(keys) {
		s.set(picksKey(roundID, pick), []byte(strconv.FormatUint(cur[pick]+delta, 10)))
	}
	return nil
}

func (s *StateDB) RemovePicks(roundID uint64, keys []uint64) error {
	cur, err := s.tally(roundID, keys)
	if err != nil {
		return err
	}
	need := keysCount(keys)
	for pick, n := range need {
		if cur[pick] < n {
			return fmt.Errorf("round %d: pick %d sold %d times, cannot remove %d", roundID, pick, cur[pick], n)
		}
	}
	for pick, n := range need {
		if left := cur[pick] - n; left == 0 {
			s.del(picksKey(roundID, pick))
		} else {
			s.set(picksKey(roundID, pick), []byte(strconv.FormatUint(left, 10)))
		}
	}
	return nil
}

func (s *StateDB) tally(roundID uint64, keys []uint64) (map[uint64]uint64, error) {
	cur := make(map[uint64]uint64, len(keys))
	for _, pick := range keys {
		if _, ok := cur[pick]; ok {
			continue
		}
		n, err := s.getUint(picksKey(roundID, pick))
		if err != nil {
			return nil, err
		}
		cur[pick] = n
	}
	return cur, nil
}

func keysCount(keys []uint64) map[uint64]uint64 {
	out := make(map[uint64]uint64, len(keys))
	for _, k := range keys {
		out[k]++
	}
	return out
}

func (s *StateDB) GetPickCounts(roundID uint64) (map[uint64]uint64, error) {
	prefix := picksPrefix(roundID)
	out := make(map[uint64]uint64)
	for k, v := range s.scan(prefix) {
		pick, err := strconv.ParseUint(strings.TrimPrefix(k, prefix), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode tally key %s: %w", k, err)
		}
		n, err := strconv.ParseUint(string(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", k, err)
		}
		out[pick] = n
	}
	return out, nil
}

// ---- Sequences and params ----

func (s *StateDB) NextSequence(name string) (uint64, error) {
	key := prefixSeq + name
	n, err := s.getUint(key)
	if err != nil {
		return 0, err
	}
	n++
	s.set(key, []byte(strconv.FormatUint(n, 10)))
	return n, nil
}

func (s *StateDB) GetLotteryParams() (*core.LotteryParams, error) {
	var p core.LotteryParams
	if err := s.getJSON(keyLotteryParams, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *StateDB) SetLotteryParams(p *core.LotteryParams) error {
	return s.setJSON(keyLotteryParams, p)
}

// ---- Snapshot / Rollback / Commit ----

// Snapshot saves the current write buffer and returns a snapshot ID.
func (s *StateDB) Snapshot() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := stateSnapshot{
		dirty:   make(map[string][]byte, len(s.dirty)),
		deleted: make(map[string]bool, len(s.deleted)),
	}
	for k, v := range s.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		snap.dirty[k] = cp
	}
	for k, v := range s.deleted {
		snap.deleted[k] = v
	}
	s.snapshots = append(s.snapshots, snap)
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot restores the write buffer to a previously saved snapshot.
// The snapshot maps are deep-copied so that subsequent writes cannot corrupt them.
func (s *StateDB) RevertToSnapshot(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	snap := s.snapshots[id]

	dirty := make(map[string][]byte, len(snap.dirty))
	for k, v := range snap.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		dirty[k] = cp
	}
	deleted := make(map[string]bool, len(snap.deleted))
	for k, v := range snap.deleted {
		deleted[k] = v
	}

	s.dirty = dirty
	s.deleted = deleted
	s.snapshots = s.snapshots[:id]
	return nil
}

// ComputeRoot returns the deterministic hash of the complete world state.
// It merges all persisted state entries (scanned from DB by the known state
// prefixes) with the current write buffer, then hashes the sorted key-value
// pairs using length-prefix encoding.  It does NOT flush or modify state,
// so it is safe to call before signing a block.
func (s *StateDB) ComputeRoot() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	merged := make(map[string][]byte)
	for _, prefix := range statePrefixes {
		it := s.db.NewIterator([]byte(prefix))
		for it.Next() {
			k := string(it.Key())
			v := make([]byte, len(it.Value()))
			copy(v, it.Value())
			merged[k] = v
		}
		it.Release()
	}
	for k, v := range s.dirty {
		merged[k] = v
	}
	for k := range s.deleted {
		delete(merged, k)
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, k := range keys {
		v := merged[k]
		kb := []byte(k)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(kb)))
		buf.Write(lenBuf[:])
		buf.Write(kb)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.Write(v)
	}
	return crypto.Hash(buf.Bytes())
}

// Commit atomically flushes the write buffer to the underlying DB via a
// Batch and then clears it. Call ComputeRoot() before signing the block,
// then call Commit() after the block is safely stored.
func (s *StateDB) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		batch.Set([]byte(k), v)
	}
	for k := range s.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snapshots = nil
	return nil
}
