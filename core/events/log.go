package events

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"lukechampine.com/blake3"

	"stakepool/core/types"
)

// DefaultHistoryLimit bounds the in-memory replay window of a Log.
const DefaultHistoryLimit = 2048

const subscriberBuffer = 64

// ErrChainBroken is returned by VerifyChain when a fact does not link to its
// predecessor.
var ErrChainBroken = errors.New("events: hash chain broken")

// Fact is an event stamped with its position in the append-only log. Hash
// commits to the previous fact's hash so archived history can be verified.
type Fact struct {
	Sequence   uint64            `json:"sequence"`
	Timestamp  uint64            `json:"timestamp"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	PrevHash   string            `json:"prevHash"`
	Hash       string            `json:"hash"`
}

func (f Fact) clone() Fact {
	cloned := f
	if f.Attributes != nil {
		cloned.Attributes = make(map[string]string, len(f.Attributes))
		for k, v := range f.Attributes {
			cloned.Attributes[k] = v
		}
	}
	return cloned
}

// Log is an append-only, hash-chained fact log. It keeps a bounded window of
// recent facts for replay and fans new facts out to subscribers. Subscribers
// that fall behind miss facts rather than stalling the writer; consumers detect
// the gap from the sequence numbers.
type Log struct {
	mu       sync.Mutex
	limit    int
	seq      uint64
	lastHash [32]byte
	history  []Fact
	subs     map[uint64]chan Fact
	nextSub  uint64
	now      func() time.Time
}

// NewLog constructs a log retaining at most limit facts in memory.
func NewLog(limit int) *Log {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Log{
		limit: limit,
		subs:  make(map[uint64]chan Fact),
		now:   time.Now,
	}
}

// Resume positions an empty log after an externally archived fact so that
// sequence numbers and the hash chain continue across restarts.
func (l *Log) Resume(seq uint64, hash string) error {
	decoded, err := hex.DecodeString(hash)
	if err != nil || (len(decoded) != 0 && len(decoded) != 32) {
		return fmt.Errorf("events: invalid resume hash %q", hash)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seq != 0 {
		return errors.New("events: log already in use")
	}
	l.seq = seq
	copy(l.lastHash[:], decoded)
	return nil
}

// Emit implements Emitter. Payloads that cannot render themselves are ignored.
func (l *Log) Emit(evt Event) {
	rendered, ts, ok := Render(evt)
	if !ok {
		return
	}
	l.Append(ts, rendered)
}

// Append stamps evt with the next sequence number and publishes it. A zero
// timestamp is replaced with the current wall-clock time.
func (l *Log) Append(ts uint64, evt *types.Event) Fact {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ts == 0 {
		ts = uint64(l.now().Unix())
	}
	l.seq++
	owned := evt.Clone()
	fact := Fact{
		Sequence:   l.seq,
		Timestamp:  ts,
		Type:       owned.Type,
		Attributes: owned.Attributes,
		PrevHash:   hex.EncodeToString(l.lastHash[:]),
	}
	sum := HashFact(l.lastHash, fact)
	fact.Hash = hex.EncodeToString(sum[:])
	l.lastHash = sum

	l.history = append(l.history, fact)
	if len(l.history) > l.limit {
		excess := len(l.history) - l.limit
		trimmed := make([]Fact, l.limit)
		copy(trimmed, l.history[excess:])
		l.history = trimmed
	}
	for _, ch := range l.subs {
		select {
		case ch <- fact.clone():
		default:
		}
	}
	return fact.clone()
}

// Latest returns the sequence number of the newest fact.
func (l *Log) Latest() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Since returns retained facts with a sequence greater than cursor. truncated
// reports that facts after cursor have already left the window.
func (l *Log) Since(cursor uint64) ([]Fact, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sinceLocked(cursor)
}

func (l *Log) sinceLocked(cursor uint64) ([]Fact, bool) {
	out := make([]Fact, 0)
	truncated := false
	if len(l.history) > 0 && cursor+1 < l.history[0].Sequence {
		truncated = true
	} else if len(l.history) == 0 && cursor < l.seq {
		truncated = true
	}
	for _, fact := range l.history {
		if fact.Sequence > cursor {
			out = append(out, fact.clone())
		}
	}
	return out, truncated
}

// Subscribe registers a live subscriber and returns the retained backlog after
// cursor. Registration and the backlog snapshot happen atomically, so the first
// live fact directly follows the backlog. The channel is closed when cancel is
// invoked or ctx is done.
func (l *Log) Subscribe(ctx context.Context, cursor uint64) (<-chan Fact, []Fact, bool, func()) {
	updates := make(chan Fact, subscriberBuffer)

	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = updates
	backlog, truncated := l.sinceLocked(cursor)
	l.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			l.mu.Lock()
			if sub, ok := l.subs[id]; ok {
				delete(l.subs, id)
				close(sub)
			}
			l.mu.Unlock()
		})
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return updates, backlog, truncated, cancel
}

// HashFact computes the chained digest of fact given its predecessor's hash.
func HashFact(prev [32]byte, fact Fact) [32]byte {
	var buf bytes.Buffer
	buf.Write(prev[:])
	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], fact.Sequence)
	buf.Write(scratch[:])
	binary.BigEndian.PutUint64(scratch[:], fact.Timestamp)
	buf.Write(scratch[:])
	buf.WriteString(fact.Type)
	buf.WriteByte(0)
	keys := make([]string, 0, len(fact.Attributes))
	for k := range fact.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.WriteString(fact.Attributes[k])
		buf.WriteByte(0)
	}
	return blake3.Sum256(buf.Bytes())
}

// VerifyChain checks that consecutive facts link to each other and that each
// stored hash matches its content.
func VerifyChain(facts []Fact) error {
	for i, fact := range facts {
		prev, err := decodeHash(fact.PrevHash)
		if err != nil {
			return fmt.Errorf("%w: fact %d: %v", ErrChainBroken, fact.Sequence, err)
		}
		if i > 0 && facts[i-1].Hash != fact.PrevHash {
			return fmt.Errorf("%w: fact %d does not follow %d", ErrChainBroken, fact.Sequence, facts[i-1].Sequence)
		}
		sum := HashFact(prev, fact)
		if hex.EncodeToString(sum[:]) != fact.Hash {
			return fmt.Errorf("%w: fact %d hash mismatch", ErrChainBroken, fact.Sequence)
		}
	}
	return nil
}

func decodeHash(value string) ([32]byte, error) {
	var out [32]byte
	decoded, err := hex.DecodeString(value)
	if err != nil {
		return out, err
	}
	if len(decoded) != len(out) {
		return out, fmt.Errorf("hash length %d", len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}
