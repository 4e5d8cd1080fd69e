// Package actuator abstracts the pump output: a binary level plus a read-back
// of the last commanded level.
package actuator

import "sync"

// Driver commands a binary output. Set must be idempotent; Get reports the
// last commanded level and is diagnostic only.
type Driver interface {
	Set(on bool) error
	Get() bool
}

// Memory keeps the level in process. Writes counts only real level changes.
type Memory struct {
	mu     sync.Mutex
	level  bool
	writes int
	fail   error
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Set(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	if m.level == on {
		return nil
	}
	m.level = on
	m.writes++
	return nil
}

func (m *Memory) Get() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// Writes returns how many times the level actually changed.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// FailWith makes every following Set return err (nil clears it).
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}
