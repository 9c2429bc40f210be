package leaderboard

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"emojiboard/core/events"
	board "emojiboard/native/leaderboard"
	"emojiboard/storage"
)

const (
	gateKey          = "leaderboard/gate"
	entriesKey       = "leaderboard/entries"
	supplyKey        = "leaderboard/supply"
	balancePrefix    = "leaderboard/balance/"
	eventPrefix      = "leaderboard/events/"
	eventKeyFormat   = eventPrefix + "%020d"
	defaultRetention = 4096
)

// Store persists the gate into a key-value database. Every Change is written
// in a single batch. Records are RLP encoded.
type Store struct {
	db        storage.Database
	retention int
}

// StoreOption customises the store.
type StoreOption func(*Store)

// WithEventRetention bounds the number of update events kept on disk. Older
// events are pruned as new ones are committed.
func WithEventRetention(limit int) StoreOption {
	return func(s *Store) {
		if limit > 0 {
			s.retention = limit
		}
	}
}

// NewStore returns a store backed by db.
func NewStore(db storage.Database, opts ...StoreOption) (*Store, error) {
	if db == nil {
		return nil, errors.New("leaderboard store: database required")
	}
	s := &Store{db: db, retention: defaultRetention}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Periods are signed; RLP only carries unsigned integers, so they are stored
// as their two's complement bit pattern.
type storedGate struct {
	LastUpdatedPeriod uint64
	UpdateInProgress  bool
	Forced            bool
	LastUpdateTime    uint64
}

type storedEntry struct {
	Address []byte
	Score   uint64
}

type storedBoard struct {
	Period  uint64
	Entries []storedEntry
}

type storedEvent struct {
	Sequence     uint64
	Updater      []byte
	Period       uint64
	Timestamp    uint64
	RewardAmount []byte
	Entries      uint64
	Digest       []byte
}

// Load implements board.Store.
func (s *Store) Load(eventLimit int) (*board.Snapshot, error) {
	raw, err := s.db.Get([]byte(gateKey))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var gate storedGate
	if err := rlp.DecodeBytes(raw, &gate); err != nil {
		return nil, fmt.Errorf("leaderboard store: decode gate: %w", err)
	}
	snapshot := &board.Snapshot{
		State: board.GateState{
			LastUpdatedPeriod: int64(gate.LastUpdatedPeriod),
			UpdateInProgress:  gate.UpdateInProgress,
			Forced:            gate.Forced,
			LastUpdateTime:    int64(gate.LastUpdateTime),
		},
		Supply:   new(uint256.Int),
		Balances: make(map[common.Address]*uint256.Int),
	}

	if raw, err := s.db.Get([]byte(entriesKey)); err == nil {
		var stored storedBoard
		if err := rlp.DecodeBytes(raw, &stored); err != nil {
			return nil, fmt.Errorf("leaderboard store: decode entries: %w", err)
		}
		snapshot.BoardPeriod = int64(stored.Period)
		snapshot.Entries = make([]board.Entry, 0, len(stored.Entries))
		for _, entry := range stored.Entries {
			snapshot.Entries = append(snapshot.Entries, board.Entry{
				Participant: common.BytesToAddress(entry.Address),
				Score:       entry.Score,
			})
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	if raw, err := s.db.Get([]byte(supplyKey)); err == nil {
		snapshot.Supply.SetBytes(raw)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	var decodeErr error
	err = s.db.Iterate([]byte(balancePrefix), func(key, value []byte) bool {
		addrHex := strings.TrimPrefix(string(key), balancePrefix)
		addrBytes, err := hex.DecodeString(addrHex)
		if err != nil || len(addrBytes) != common.AddressLength {
			decodeErr = fmt.Errorf("leaderboard store: malformed balance key %q", key)
			return false
		}
		snapshot.Balances[common.BytesToAddress(addrBytes)] = new(uint256.Int).SetBytes(value)
		return true
	})
	if err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, decodeErr
	}

	history, err := s.events()
	if err != nil {
		return nil, err
	}
	if eventLimit > 0 && len(history) > eventLimit {
		history = history[len(history)-eventLimit:]
	}
	snapshot.Events = history
	return snapshot, nil
}

func (s *Store) events() ([]events.LeaderboardUpdated, error) {
	var (
		history   []events.LeaderboardUpdated
		decodeErr error
	)
	err := s.db.Iterate([]byte(eventPrefix), func(_, value []byte) bool {
		var stored storedEvent
		if err := rlp.DecodeBytes(value, &stored); err != nil {
			decodeErr = fmt.Errorf("leaderboard store: decode event: %w", err)
			return false
		}
		evt := events.LeaderboardUpdated{
			Sequence:     stored.Sequence,
			Updater:      common.BytesToAddress(stored.Updater),
			Period:       int64(stored.Period),
			Timestamp:    int64(stored.Timestamp),
			RewardAmount: new(uint256.Int).SetBytes(stored.RewardAmount),
			Entries:      stored.Entries,
		}
		copy(evt.Digest[:], stored.Digest)
		history = append(history, evt)
		return true
	})
	if err != nil {
		return nil, err
	}
	return history, decodeErr
}

// Commit implements board.Store.
func (s *Store) Commit(change board.Change) error {
	batch := s.db.NewBatch()
	gate, err := rlp.EncodeToBytes(storedGate{
		LastUpdatedPeriod: uint64(change.State.LastUpdatedPeriod),
		UpdateInProgress:  change.State.UpdateInProgress,
		Forced:            change.State.Forced,
		LastUpdateTime:    uint64(change.State.LastUpdateTime),
	})
	if err != nil {
		return err
	}
	batch.Put([]byte(gateKey), gate)

	if change.ReplaceEntries {
		stored := storedBoard{Period: uint64(change.BoardPeriod), Entries: make([]storedEntry, 0, len(change.Entries))}
		for _, entry := range change.Entries {
			stored.Entries = append(stored.Entries, storedEntry{Address: entry.Participant.Bytes(), Score: entry.Score})
		}
		encoded, err := rlp.EncodeToBytes(stored)
		if err != nil {
			return err
		}
		batch.Put([]byte(entriesKey), encoded)
	}
	if change.Supply != nil {
		batch.Put([]byte(supplyKey), change.Supply.Bytes())
	}
	if change.Balance != nil && change.Balance.Balance != nil {
		batch.Put(balanceKey(change.Balance.Address), change.Balance.Balance.Bytes())
	}
	if change.Event != nil {
		evt := change.Event
		reward := []byte{}
		if evt.RewardAmount != nil {
			reward = evt.RewardAmount.Bytes()
		}
		encoded, err := rlp.EncodeToBytes(storedEvent{
			Sequence:     evt.Sequence,
			Updater:      evt.Updater.Bytes(),
			Period:       uint64(evt.Period),
			Timestamp:    uint64(evt.Timestamp),
			RewardAmount: reward,
			Entries:      evt.Entries,
			Digest:       evt.Digest[:],
		})
		if err != nil {
			return err
		}
		batch.Put(eventKey(evt.Sequence), encoded)
		if evt.Sequence > uint64(s.retention) {
			batch.Delete(eventKey(evt.Sequence - uint64(s.retention)))
		}
	}
	return batch.Write()
}

func balanceKey(addr common.Address) []byte {
	return []byte(balancePrefix + hex.EncodeToString(addr.Bytes()))
}

func eventKey(sequence uint64) []byte {
	return []byte(fmt.Sprintf(eventKeyFormat, sequence))
}
