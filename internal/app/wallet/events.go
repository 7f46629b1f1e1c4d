package wallet

import (
	"sync"
	"time"
)

// ConnectionState 是面向展示层的连接状态。
type ConnectionState string

const (
	StateDisconnected ConnectionState = "DISCONNECTED"
	StatePairing      ConnectionState = "PAIRING"
	StateActive       ConnectionState = "ACTIVE"
	StateFailed       ConnectionState = "FAILED"
)

// ConnectionStatus 描述一次状态变化，Reason 仅在 Failed 时有值。
type ConnectionStatus struct {
	State  ConnectionState `json:"state"`
	Reason string          `json:"reason,omitempty"`
	Topic  string          `json:"topic,omitempty"`
}

// WalletAddressKnown 在配对成功后告知展示层本地钱包地址。
type WalletAddressKnown struct {
	Address string `json:"address"`
}

// Event 是推送给展示层的事件，Status 与 Address 只有一个非空。
type Event struct {
	Status  *ConnectionStatus   `json:"status,omitempty"`
	Address *WalletAddressKnown `json:"address,omitempty"`
	At      time.Time           `json:"at"`
}

// Snapshot 是最近一次状态与地址。
type Snapshot struct {
	Status    ConnectionStatus `json:"status"`
	Address   string           `json:"address,omitempty"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

const subscriberBuffer = 16

// Broadcaster 把事件扇出给所有订阅者。订阅者消费过慢时丢弃事件，不阻塞事件循环。
type Broadcaster struct {
	now func() time.Time

	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	latest Snapshot
}

func newBroadcaster(now func() time.Time) *Broadcaster {
	return &Broadcaster{
		now:    now,
		subs:   make(map[int]chan Event),
		latest: Snapshot{Status: ConnectionStatus{State: StateDisconnected}, UpdatedAt: now()},
	}
}

// Subscribe 注册订阅者，返回事件通道与取消函数。
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Snapshot 返回最近状态。
func (b *Broadcaster) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest
}

func (b *Broadcaster) status(state ConnectionState, topic, reason string) {
	status := ConnectionStatus{State: state, Topic: topic, Reason: reason}
	b.publish(Event{Status: &status})
}

func (b *Broadcaster) address(addr string) {
	b.publish(Event{Address: &WalletAddressKnown{Address: addr}})
}

func (b *Broadcaster) publish(ev Event) {
	ev.At = b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	if ev.Status != nil {
		b.latest.Status = *ev.Status
	}
	if ev.Address != nil {
		b.latest.Address = ev.Address.Address
	}
	b.latest.UpdatedAt = ev.At
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
