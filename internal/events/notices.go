package events

import "sync"

// NoticeLog keeps the most recent notices for views that poll instead of subscribe.
type NoticeLog struct {
	mu    sync.Mutex
	items []Notice
	size  int
	sub   Subscription
}

func NewNoticeLog(bus *Bus, size int) (*NoticeLog, error) {
	if size <= 0 {
		size = 50
	}
	l := &NoticeLog{size: size}
	sub, err := bus.OnNotice(l.add)
	if err != nil {
		return nil, err
	}
	l.sub = sub
	return l, nil
}

func (l *NoticeLog) add(n Notice) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, n)
	if len(l.items) > l.size {
		l.items = l.items[len(l.items)-l.size:]
	}
}

// Recent returns notices newest first.
func (l *NoticeLog) Recent() []Notice {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Notice, len(l.items))
	for i, n := range l.items {
		out[len(l.items)-1-i] = n
	}
	return out
}

func (l *NoticeLog) Close() error {
	return l.sub.Unsubscribe()
}
