package repository

import (
	"sort"

	kafkago "github.com/segmentio/kafka-go"
)

// A consumer-group commit of offset N acknowledges every earlier offset of the
// partition too. offsetTracker keeps fetched offsets in order and only lets the
// group commit the prefix in which every offset is settled. A held (nacked)
// offset is never settled, so the partition stops committing there and the job
// comes back after a restart or rebalance.
type offsetTracker struct {
	partitions map[partitionKey]*partitionLog
}

type partitionKey struct {
	topic     string
	partition int
}

type position struct {
	partitionKey
	offset int64
}

type offsetState int

const (
	offsetPending offsetState = iota
	offsetSettled
	offsetHeld
)

type trackedOffset struct {
	offset int64
	state  offsetState
}

// partitionLog holds uncommitted offsets in ascending order.
type partitionLog struct {
	entries []trackedOffset
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{partitions: make(map[partitionKey]*partitionLog)}
}

func (t *offsetTracker) track(msg kafkago.Message) position {
	key := partitionKey{topic: msg.Topic, partition: msg.Partition}
	pl, ok := t.partitions[key]
	if !ok {
		pl = &partitionLog{}
		t.partitions[key] = pl
	}

	// после ребаланса offset может откатиться назад: всё начиная с него придёт снова
	if i := pl.find(msg.Offset); i < len(pl.entries) {
		pl.entries = pl.entries[:i]
	}
	pl.entries = append(pl.entries, trackedOffset{offset: msg.Offset, state: offsetPending})

	return position{partitionKey: key, offset: msg.Offset}
}

func (t *offsetTracker) settle(pos position) {
	t.mark(pos, offsetSettled)
}

func (t *offsetTracker) hold(pos position) {
	t.mark(pos, offsetHeld)
}

func (t *offsetTracker) mark(pos position, state offsetState) {
	pl, ok := t.partitions[pos.partitionKey]
	if !ok {
		return
	}
	i := pl.find(pos.offset)
	if i < len(pl.entries) && pl.entries[i].offset == pos.offset {
		pl.entries[i].state = state
	}
}

// committable returns, per partition, the last offset of the settled prefix.
func (t *offsetTracker) committable() []kafkago.Message {
	var msgs []kafkago.Message
	for key, pl := range t.partitions {
		last := -1
		for i, e := range pl.entries {
			if e.state != offsetSettled {
				break
			}
			last = i
		}
		if last < 0 {
			continue
		}
		msgs = append(msgs, kafkago.Message{
			Topic:     key.topic,
			Partition: key.partition,
			Offset:    pl.entries[last].offset,
		})
	}
	return msgs
}

// committed drops the offsets a successful commit of msgs covered.
func (t *offsetTracker) committed(msgs []kafkago.Message) {
	for _, m := range msgs {
		pl, ok := t.partitions[partitionKey{topic: m.Topic, partition: m.Partition}]
		if !ok {
			continue
		}
		i := pl.find(m.Offset + 1)
		pl.entries = append(pl.entries[:0], pl.entries[i:]...)
	}
}

// uncommitted is the number of fetched offsets the group has not committed yet.
func (t *offsetTracker) uncommitted() int {
	n := 0
	for _, pl := range t.partitions {
		n += len(pl.entries)
	}
	return n
}

// find returns the index of the first entry with offset >= off.
func (pl *partitionLog) find(off int64) int {
	return sort.Search(len(pl.entries), func(i int) bool {
		return pl.entries[i].offset >= off
	})
}
