// Package handlers holds the server-level HTTP handlers that do not belong
// to a feature module.
package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/mantonx/chunkstream/internal/jobs"
)

var startTime = time.Now()

// SystemStatus reports host capacity alongside the transcode job load so
// operators can see whether the box has headroom for more work.
func SystemStatus(c *gin.Context) {
	status := gin.H{
		"uptime_seconds": int64(time.Since(startTime).Seconds()),
		"go_routines":    runtime.NumGoroutine(),
		"cpu_count":      runtime.NumCPU(),
		"active_jobs":    jobs.GetRegistry().Count(),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		status["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		status["memory_total_bytes"] = vm.Total
		status["memory_used_bytes"] = vm.Used
		status["memory_percent"] = vm.UsedPercent
	}

	c.JSON(http.StatusOK, status)
}
