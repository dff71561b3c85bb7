package logging

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// LevelCounter is a logrus hook counting entries per level, used to summarise a run.
type LevelCounter struct {
	mu     sync.Mutex
	counts map[log.Level]int
}

func NewLevelCounter() *LevelCounter {
	return &LevelCounter{counts: make(map[log.Level]int)}
}

func (h *LevelCounter) Levels() []log.Level {
	return log.AllLevels
}

func (h *LevelCounter) Fire(entry *log.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.counts[entry.Level]++
	return nil
}

func (h *LevelCounter) Count(level log.Level) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[level]
}

// AttachHook adds hook to logger and returns a function that restores the hooks logger had before.
func AttachHook(logger *log.Logger, hook log.Hook) (detach func()) {
	previous := make(log.LevelHooks, len(logger.Hooks))
	for level, hooks := range logger.Hooks {
		previous[level] = append([]log.Hook(nil), hooks...)
	}
	logger.AddHook(hook)
	return func() { logger.ReplaceHooks(previous) }
}
