package monitor

import "github.com/Avinash-jetwani/glazing-ai-bot/pkg/glazing"

// Multi fans notifications out to several monitors in order.
type Multi []glazing.ConnectionMonitor

// NewMulti drops nil entries. With a single monitor it returns that monitor.
func NewMulti(monitors ...glazing.ConnectionMonitor) glazing.ConnectionMonitor {
	m := make(Multi, 0, len(monitors))
	for _, mon := range monitors {
		if mon != nil {
			m = append(m, mon)
		}
	}
	switch len(m) {
	case 0:
		return glazing.BaseMonitor{}
	case 1:
		return m[0]
	}
	return m
}

func (m Multi) OnStateChange(event glazing.StateEvent) {
	for _, mon := range m {
		mon.OnStateChange(event)
	}
}

func (m Multi) OnMessage(msg glazing.Message) {
	for _, mon := range m {
		mon.OnMessage(msg)
	}
}

func (m Multi) OnSystemMessage(text string) {
	for _, mon := range m {
		mon.OnSystemMessage(text)
	}
}

func (m Multi) OnRetriesExhausted(attempts int) {
	for _, mon := range m {
		mon.OnRetriesExhausted(attempts)
	}
}
