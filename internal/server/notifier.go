package server

import "sync"

// Notifier broadcasts the tokens of newly stored runs to subscribed
// listeners.
type Notifier struct {
	mu        sync.RWMutex
	listeners map[chan string]struct{}
}

// NewNotifier creates a notifier without listeners.
func NewNotifier() *Notifier {
	return &Notifier{listeners: make(map[chan string]struct{})}
}

// Subscribe returns a channel receiving run tokens. The caller must call
// Unsubscribe when done.
func (n *Notifier) Subscribe() chan string {
	ch := make(chan string, 8)
	n.mu.Lock()
	n.listeners[ch] = struct{}{}
	n.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener channel and closes it.
func (n *Notifier) Unsubscribe(ch chan string) {
	n.mu.Lock()
	if _, ok := n.listeners[ch]; ok {
		delete(n.listeners, ch)
		close(ch)
	}
	n.mu.Unlock()
}

// Broadcast sends token to all listeners. Listeners whose buffer is full
// miss the token.
func (n *Notifier) Broadcast(token string) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for ch := range n.listeners {
		select {
		case ch <- token:
		default:
		}
	}
}

// Len returns the number of listeners.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.listeners)
}
