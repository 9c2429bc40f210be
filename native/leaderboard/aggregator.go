package leaderboard

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/bits"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"lukechampine.com/blake3"
)

// ActivityRecord is one unit of participant activity supplied by the
// activity data source.
type ActivityRecord struct {
	ID          string
	Participant common.Address
	Kind        string
	Quantity    uint64
	OccurredAt  time.Time
}

// Entry is a participant's aggregated score.
type Entry struct {
	Participant common.Address
	Score       uint64
}

// RankedEntry pairs an entry with its derived 1-based rank.
type RankedEntry struct {
	Rank int
	Entry
}

// Aggregator rebuilds the leaderboard from activity records. It never reads
// or writes gate state.
type Aggregator struct {
	params AggregationParams
}

// NewAggregator validates params and returns an aggregator.
func NewAggregator(params AggregationParams) (*Aggregator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	weights := make(map[string]uint64, len(params.KindWeights))
	for kind, weight := range params.KindWeights {
		weights[normalizeKind(kind)] = weight
	}
	params.KindWeights = weights
	return &Aggregator{params: params}, nil
}

type meter struct {
	used    uint64
	ceiling uint64
}

func (m *meter) charge(units uint64) error {
	next, carry := bits.Add64(m.used, units, 0)
	if carry != 0 || next > m.ceiling {
		return fmt.Errorf("%w: needs more than %d units", ErrResourceExceeded, m.ceiling)
	}
	m.used = next
	return nil
}

// Compute scores records and returns entries ordered by score descending,
// ties broken by participant address. The second return value is the number
// of resource units consumed. Exceeding ceiling aborts with
// ErrResourceExceeded; malformed records abort with ErrInvalidData.
func (a *Aggregator) Compute(records []ActivityRecord, ceiling uint64) ([]Entry, uint64, error) {
	m := &meter{ceiling: ceiling}
	scores := make(map[common.Address]uint64)
	for i, record := range records {
		if err := m.charge(a.params.CostPerRecord); err != nil {
			return nil, m.used, err
		}
		if record.Participant == (common.Address{}) {
			return nil, m.used, fmt.Errorf("%w: record %d has no participant", ErrInvalidData, i)
		}
		if record.Quantity == 0 {
			return nil, m.used, fmt.Errorf("%w: record %d has zero quantity", ErrInvalidData, i)
		}
		weight, ok := a.params.KindWeights[normalizeKind(record.Kind)]
		if !ok {
			return nil, m.used, fmt.Errorf("%w: record %d has unknown kind %q", ErrInvalidData, i, record.Kind)
		}
		hi, points := bits.Mul64(weight, record.Quantity)
		if hi != 0 {
			return nil, m.used, fmt.Errorf("%w: record %d overflows score", ErrInvalidData, i)
		}
		total, carry := bits.Add64(scores[record.Participant], points, 0)
		if carry != 0 {
			return nil, m.used, fmt.Errorf("%w: score for %s overflows", ErrInvalidData, record.Participant.Hex())
		}
		scores[record.Participant] = total
	}

	entries := make([]Entry, 0, len(scores))
	for participant, score := range scores {
		if err := m.charge(a.params.CostPerEntry); err != nil {
			return nil, m.used, err
		}
		entries = append(entries, Entry{Participant: participant, Score: score})
	}
	sortEntries(entries)
	if a.params.MaxEntries > 0 && len(entries) > a.params.MaxEntries {
		entries = entries[:a.params.MaxEntries]
	}
	return entries, m.used, nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return bytes.Compare(entries[i].Participant[:], entries[j].Participant[:]) < 0
	})
}

// Rank attaches derived ranks to an ordered board.
func Rank(entries []Entry) []RankedEntry {
	ranked := make([]RankedEntry, len(entries))
	for i, entry := range entries {
		ranked[i] = RankedEntry{Rank: i + 1, Entry: entry}
	}
	return ranked
}

// Digest fingerprints an ordered board with blake3 over the concatenation of
// 20-byte participant and 8-byte big-endian score for each entry.
func Digest(entries []Entry) [32]byte {
	buf := make([]byte, 0, len(entries)*(common.AddressLength+8))
	var score [8]byte
	for _, entry := range entries {
		buf = append(buf, entry.Participant[:]...)
		binary.BigEndian.PutUint64(score[:], entry.Score)
		buf = append(buf, score[:]...)
	}
	return blake3.Sum256(buf)
}

func normalizeKind(kind string) string {
	return strings.ToLower(strings.TrimSpace(kind))
}
