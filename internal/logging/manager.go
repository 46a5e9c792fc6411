package logging

import (
	"fmt"
	"io"
	"sort"
	"sync"
)

// Имена компонентов сервиса
const (
	ComponentApp     = "app"
	ComponentEngine  = "engine"
	ComponentAPI     = "api"
	ComponentStorage = "storage"
	ComponentCache   = "cache"
	ComponentEvents  = "events"
)

// LoggerManager хранит по одному логгеру на компонент
type LoggerManager struct {
	mu      sync.RWMutex
	loggers map[string]*Logger
}

var (
	globalManager *LoggerManager
	managerOnce   sync.Once
)

// NewLoggerManager создаёт пустой менеджер
func NewLoggerManager() *LoggerManager {
	return &LoggerManager{loggers: make(map[string]*Logger)}
}

// GetLoggerManager возвращает менеджер процесса
func GetLoggerManager() *LoggerManager {
	managerOnce.Do(func() { globalManager = NewLoggerManager() })
	return globalManager
}

// GetLogger возвращает логгер компонента, создавая его при первом обращении
func (lm *LoggerManager) GetLogger(component string) (*Logger, error) {
	lm.mu.RLock()
	l, ok := lm.loggers[component]
	lm.mu.RUnlock()
	if ok {
		return l, nil
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()
	if l, ok := lm.loggers[component]; ok {
		return l, nil
	}
	l, err := NewLogger(component)
	if err != nil {
		return nil, fmt.Errorf("логгер %s: %w", component, err)
	}
	lm.loggers[component] = l
	return l, nil
}

// MustGetLogger не возвращает ошибку: если файл не открылся,
// компонент пишет только в консоль.
func (lm *LoggerManager) MustGetLogger(component string) *Logger {
	l, err := lm.GetLogger(component)
	if err == nil {
		return l
	}
	out, level := consoleSettings()
	if out == nil {
		out = io.Discard
	}
	l = NewConsoleLogger(component, out)
	l.minConsoleLevel = level
	defaultLogger.Warn("%v; %s пишет только в консоль", err, component)

	lm.mu.Lock()
	defer lm.mu.Unlock()
	if existing, ok := lm.loggers[component]; ok {
		return existing
	}
	lm.loggers[component] = l
	return l
}

// CloseAll закрывает файлы всех логгеров и забывает их
func (lm *LoggerManager) CloseAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var firstErr error
	for component, l := range lm.loggers {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("закрытие логгера %s: %w", component, err)
		}
	}
	lm.loggers = make(map[string]*Logger)
	return firstErr
}

// ListComponents возвращает имена компонентов по алфавиту
func (lm *LoggerManager) ListComponents() []string {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	out := make([]string, 0, len(lm.loggers))
	for component := range lm.loggers {
		out = append(out, component)
	}
	sort.Strings(out)
	return out
}

// SetLogLevel меняет уровни уже созданного логгера компонента
func (lm *LoggerManager) SetLogLevel(component string, consoleLevel, fileLevel LogLevel) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	l, ok := lm.loggers[component]
	if !ok {
		return fmt.Errorf("логгер %s не создан", component)
	}
	l.minConsoleLevel = consoleLevel
	l.minFileLevel = fileLevel
	return nil
}

// SetConsoleLevelAll меняет уровень консоли всех созданных логгеров.
// Логгеры, создаваемые позже, берут уровень из SetDefaultLevel.
func (lm *LoggerManager) SetConsoleLevelAll(level LogLevel) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	for _, l := range lm.loggers {
		l.minConsoleLevel = level
	}
}

func GetComponentLogger(component string) *Logger {
	return GetLoggerManager().MustGetLogger(component)
}

func GetAppLogger() *Logger { return GetComponentLogger(ComponentApp) }
func GetEngineLogger() *Logger { return GetComponentLogger(ComponentEngine) }
func GetAPILogger() *Logger { return GetComponentLogger(ComponentAPI) }
func GetStorageLogger() *Logger { return GetComponentLogger(ComponentStorage) }
func GetCacheLogger() *Logger { return GetComponentLogger(ComponentCache) }
func GetEventsLogger() *Logger { return GetComponentLogger(ComponentEvents) }
