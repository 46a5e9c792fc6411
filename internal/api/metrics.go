package api

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// ServerMetrics содержит метрики процесса для /health
type ServerMetrics struct {
	StartTime time.Time
}

// NewServerMetrics создает новый экземпляр метрик
func NewServerMetrics() *ServerMetrics {
	return &ServerMetrics{
		StartTime: time.Now(),
	}
}

// HealthReport - ответ /health
type HealthReport struct {
	Status     string         `json:"status"`
	Time       int64          `json:"time"`
	Uptime     string         `json:"uptime"`
	CPUPercent float64        `json:"cpu_percent"`
	Memory     map[string]any `json:"memory"`
	Shards     int            `json:"shards"`
}

// GetUptime возвращает время работы сервера
func (sm *ServerMetrics) GetUptime() string {
	uptime := time.Since(sm.StartTime)

	days := int(uptime.Hours()) / 24
	hours := int(uptime.Hours()) % 24
	minutes := int(uptime.Minutes()) % 60
	seconds := int(uptime.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dд %dч %dм %dс", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dч %dм %dс", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dм %dс", minutes, seconds)
	default:
		return fmt.Sprintf("%dс", seconds)
	}
}

// GetCPUUsage возвращает использование CPU процессом в процентах.
// Если метрика процесса недоступна, берётся мгновенная системная.
func (sm *ServerMetrics) GetCPUUsage() (float64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err == nil {
		if pct, err := proc.CPUPercent(); err == nil {
			return pct, nil
		}
	}

	cpuPercents, err := cpu.Percent(0, false)
	if err != nil {
		return 0, err
	}
	if len(cpuPercents) == 0 {
		return 0, fmt.Errorf("нет данных о CPU")
	}
	return cpuPercents[0], nil
}

// GetMemoryStats возвращает статистику памяти в MB
func (sm *ServerMetrics) GetMemoryStats() map[string]any {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]any{
		"alloc_mb":      float64(m.Alloc) / 1024 / 1024,
		"sys_mb":        float64(m.Sys) / 1024 / 1024,
		"heap_alloc_mb": float64(m.HeapAlloc) / 1024 / 1024,
		"num_gc":        m.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}
}

// Report собирает отчёт о здоровье; shards - число сохранённых шардов
func (sm *ServerMetrics) Report(shards int) HealthReport {
	cpuPct, err := sm.GetCPUUsage()
	if err != nil {
		cpuPct = -1
	}
	return HealthReport{
		Status:     "ok",
		Time:       time.Now().Unix(),
		Uptime:     sm.GetUptime(),
		CPUPercent: cpuPct,
		Memory:     sm.GetMemoryStats(),
		Shards:     shards,
	}
}
