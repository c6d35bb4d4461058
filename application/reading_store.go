package application

import "time"

// ReadingStore keeps an insertion-ordered history of readings per topic.
// Once a topic holds retention readings, the oldest is overwritten in place.
// A retention of 0 keeps everything.
//
// ReadingStore is not safe for concurrent use; the telemetry service owns it.
type ReadingStore struct {
	retention int
	buffers   map[TopicID]*readingBuffer
}

func NewReadingStore(retention int) *ReadingStore {
	if retention < 0 {
		retention = 0
	}
	return &ReadingStore{retention: retention, buffers: make(map[TopicID]*readingBuffer)}
}

func (s *ReadingStore) Retention() int {
	return s.retention
}

func (s *ReadingStore) Append(topic TopicID, value float64, receivedAt time.Time) Reading {
	r := Reading{Topic: topic, Value: value, ReceivedAt: receivedAt}

	b, ok := s.buffers[topic]
	if !ok {
		b = &readingBuffer{capacity: s.retention}
		s.buffers[topic] = b
	}
	b.append(r)
	return r
}

// History returns a copy of the topic's readings, oldest first.
func (s *ReadingStore) History(topic TopicID) []Reading {
	b, ok := s.buffers[topic]
	if !ok {
		return []Reading{}
	}
	return b.all()
}

func (s *ReadingStore) Latest(topic TopicID) (Reading, bool) {
	b, ok := s.buffers[topic]
	if !ok || b.size == 0 {
		return Reading{}, false
	}
	return b.at(b.size - 1), true
}

func (s *ReadingStore) Len(topic TopicID) int {
	b, ok := s.buffers[topic]
	if !ok {
		return 0
	}
	return b.size
}

type readingBuffer struct {
	data     []Reading
	capacity int // 0 = unbounded
	start    int // index of the oldest reading once the buffer wrapped
	size     int
}

func (b *readingBuffer) append(r Reading) {
	if b.capacity == 0 || b.size < b.capacity {
		b.data = append(b.data, r)
		b.size++
		return
	}

	b.data[b.start] = r
	b.start = (b.start + 1) % b.capacity
}

func (b *readingBuffer) at(i int) Reading {
	if b.capacity == 0 {
		return b.data[i]
	}
	return b.data[(b.start+i)%len(b.data)]
}

func (b *readingBuffer) all() []Reading {
	out := make([]Reading, b.size)
	for i := range out {
		out[i] = b.at(i)
	}
	return out
}
