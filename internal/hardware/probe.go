package hardware

import (
	"context"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"routerd/pkg/types"
)

// probeTimeout bounds every shell invocation; a hung tool yields "unknown",
// never a stuck refresh loop.
const probeTimeout = 10 * time.Second

// runCommandFunc executes a tool and returns its combined stdout. Injectable
// so parsers can be tested against canned output.
type runCommandFunc func(ctx context.Context, name string, args ...string) (string, error)

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, name, args...).Output()
	return string(out), err
}

// VRAMUsage is an aggregate VRAM reading across all devices, in MB.
type VRAMUsage struct {
	UsedMB  int
	TotalMB int
}

// Probe answers best-effort hardware questions by shelling out to OS tools.
// Every method degrades to nil/empty on any failure; the caller owns caching.
type Probe struct {
	run  runCommandFunc
	goos string
	log  zerolog.Logger
}

// New constructs a Probe for the current OS.
func New(log zerolog.Logger) *Probe {
	return &Probe{run: runCommand, goos: runtime.GOOS, log: log}
}

// DetectGPUs lists GPU devices with vendor and VRAM capacity. Empty when no
// tool answered.
func (p *Probe) DetectGPUs(ctx context.Context) []types.GPUInfo {
	if p.goos == "darwin" {
		out, err := p.run(ctx, "system_profiler", "SPDisplaysDataType")
		if err != nil {
			return nil
		}
		return parseSystemProfilerGPUs(out)
	}
	if out, err := p.run(ctx, "nvidia-smi", "--query-gpu=name,memory.total", "--format=csv,noheader,nounits"); err == nil {
		if gpus := parseNvidiaSMIList(out); len(gpus) > 0 {
			return gpus
		}
	}
	if p.goos == "windows" {
		out, err := p.run(ctx, "wmic", "path", "win32_VideoController", "get", "Name,AdapterRAM", "/Value")
		if err != nil {
			return nil
		}
		return parseWmicGPUs(out)
	}
	if out, err := p.run(ctx, "rocm-smi", "--showproductname"); err == nil {
		return parseRocmSMINames(out)
	}
	return nil
}

// SystemMemory reports total and free system memory in MB, nil on failure.
func (p *Probe) SystemMemory(ctx context.Context) *types.MemoryInfo {
	switch p.goos {
	case "darwin":
		totalOut, err := p.run(ctx, "sysctl", "-n", "hw.memsize")
		if err != nil {
			return nil
		}
		vmOut, err := p.run(ctx, "vm_stat")
		if err != nil {
			return nil
		}
		return parseDarwinMemory(totalOut, vmOut)
	case "windows":
		out, err := p.run(ctx, "wmic", "OS", "get", "FreePhysicalMemory,TotalVisibleMemorySize", "/Value")
		if err != nil {
			return nil
		}
		return parseWmicMemory(out)
	default:
		out, err := p.run(ctx, "free", "-m")
		if err != nil {
			return nil
		}
		return parseFreeOutput(out)
	}
}

// GPUUtilization returns the aggregate GPU utilization percent, nil when no
// tool gave an answer.
func (p *Probe) GPUUtilization(ctx context.Context) *float64 {
	if p.goos == "darwin" {
		// No portable utilization counter on macOS.
		return nil
	}
	if out, err := p.run(ctx, "nvidia-smi", "--query-gpu=utilization.gpu", "--format=csv,noheader,nounits"); err == nil {
		if v := parseNvidiaUtilization(out); v != nil {
			return v
		}
	}
	if out, err := p.run(ctx, "rocm-smi", "--showuse"); err == nil {
		return parseRocmUtilization(out)
	}
	return nil
}

// VRAMUsage returns used/total VRAM in MB summed across devices, nil when no
// tool gave an answer.
func (p *Probe) VRAMUsage(ctx context.Context) *VRAMUsage {
	if p.goos == "darwin" {
		// Unified memory; there is no separate VRAM pool to meter.
		return nil
	}
	if out, err := p.run(ctx, "nvidia-smi", "--query-gpu=memory.used,memory.total", "--format=csv,noheader,nounits"); err == nil {
		if u := parseNvidiaVRAM(out); u != nil {
			return u
		}
	}
	if out, err := p.run(ctx, "rocm-smi", "--showmeminfo", "vram"); err == nil {
		return parseRocmVRAM(out)
	}
	return nil
}

func parseNvidiaSMIList(out string) []types.GPUInfo {
	var gpus []types.GPUInfo
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) < 2 {
			continue
		}
		total, err := strconv.Atoi(strings.TrimSpace(parts[len(parts)-1]))
		if err != nil {
			continue
		}
		name := strings.TrimSpace(strings.Join(parts[:len(parts)-1], ","))
		gpus = append(gpus, types.GPUInfo{Name: name, Vendor: "nvidia", VRAMTotalMB: total})
	}
	return gpus
}

func parseNvidiaUtilization(out string) *float64 {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil
		}
		return &v
	}
	return nil
}

func parseNvidiaVRAM(out string) *VRAMUsage {
	var u VRAMUsage
	found := false
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) != 2 {
			continue
		}
		used, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
		total, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err1 != nil || err2 != nil {
			continue
		}
		u.UsedMB += used
		u.TotalMB += total
		found = true
	}
	if !found || u.TotalMB == 0 {
		return nil
	}
	return &u
}

func parseRocmUtilization(out string) *float64 {
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "GPU use (%)") {
			continue
		}
		idx := strings.LastIndex(line, ":")
		if idx < 0 {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(line[idx+1:]), 64)
		if err != nil {
			continue
		}
		return &v
	}
	return nil
}

func parseRocmVRAM(out string) *VRAMUsage {
	var u VRAMUsage
	for _, line := range strings.Split(out, "\n") {
		idx := strings.LastIndex(line, ":")
		if idx < 0 {
			continue
		}
		val, err := strconv.ParseInt(strings.TrimSpace(line[idx+1:]), 10, 64)
		if err != nil {
			continue
		}
		switch {
		case strings.Contains(line, "Total Used Memory"):
			u.UsedMB += int(val / (1024 * 1024))
		case strings.Contains(line, "Total Memory"):
			u.TotalMB += int(val / (1024 * 1024))
		}
	}
	if u.TotalMB == 0 {
		return nil
	}
	return &u
}

func parseRocmSMINames(out string) []types.GPUInfo {
	var gpus []types.GPUInfo
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "Card series") && !strings.Contains(line, "Card model") {
			continue
		}
		idx := strings.LastIndex(line, ":")
		if idx < 0 {
			continue
		}
		name := strings.TrimSpace(line[idx+1:])
		if name == "" {
			continue
		}
		gpus = append(gpus, types.GPUInfo{Name: name, Vendor: "amd"})
	}
	return gpus
}

func parseSystemProfilerGPUs(out string) []types.GPUInfo {
	var gpus []types.GPUInfo
	var cur *types.GPUInfo
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		if name, ok := strings.CutPrefix(trimmed, "Chipset Model:"); ok {
			if cur != nil {
				gpus = append(gpus, *cur)
			}
			name = strings.TrimSpace(name)
			cur = &types.GPUInfo{Name: name, Vendor: vendorFromName(name)}
			continue
		}
		if cur == nil {
			continue
		}
		if v, ok := strings.CutPrefix(trimmed, "VRAM (Total):"); ok {
			cur.VRAMTotalMB = parseVRAMSize(strings.TrimSpace(v))
		} else if v, ok := strings.CutPrefix(trimmed, "VRAM (Dynamic, Max):"); ok {
			cur.VRAMTotalMB = parseVRAMSize(strings.TrimSpace(v))
		}
	}
	if cur != nil {
		gpus = append(gpus, *cur)
	}
	return gpus
}

// parseVRAMSize handles "8 GB" / "1536 MB" strings from system_profiler.
func parseVRAMSize(s string) int {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return 0
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0
	}
	switch strings.ToUpper(fields[1]) {
	case "GB":
		return n * 1024
	case "MB":
		return n
	}
	return 0
}

func vendorFromName(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "nvidia") || strings.Contains(lower, "geforce") || strings.Contains(lower, "quadro"):
		return "nvidia"
	case strings.Contains(lower, "amd") || strings.Contains(lower, "radeon"):
		return "amd"
	case strings.Contains(lower, "apple"):
		return "apple"
	case strings.Contains(lower, "intel"):
		return "intel"
	}
	return "unknown"
}

func parseWmicGPUs(out string) []types.GPUInfo {
	var gpus []types.GPUInfo
	var ramMB int
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, "AdapterRAM="); ok {
			if b, err := strconv.ParseInt(v, 10, 64); err == nil {
				ramMB = int(b / (1024 * 1024))
			}
			continue
		}
		if v, ok := strings.CutPrefix(line, "Name="); ok && v != "" {
			gpus = append(gpus, types.GPUInfo{Name: v, Vendor: vendorFromName(v), VRAMTotalMB: ramMB})
			ramMB = 0
		}
	}
	return gpus
}

func parseFreeOutput(out string) *types.MemoryInfo {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 || fields[0] != "Mem:" {
			continue
		}
		total, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil
		}
		// Prefer the "available" column when present, else "free".
		free, err := strconv.Atoi(fields[len(fields)-1])
		if err != nil {
			free, err = strconv.Atoi(fields[3])
			if err != nil {
				return nil
			}
		}
		return &types.MemoryInfo{TotalMB: total, FreeMB: free}
	}
	return nil
}

func parseDarwinMemory(sysctlOut, vmStatOut string) *types.MemoryInfo {
	totalBytes, err := strconv.ParseInt(strings.TrimSpace(sysctlOut), 10, 64)
	if err != nil {
		return nil
	}
	info := &types.MemoryInfo{TotalMB: int(totalBytes / (1024 * 1024))}

	pageSize := int64(4096)
	var freePages int64
	for _, line := range strings.Split(vmStatOut, "\n") {
		if strings.Contains(line, "page size of") {
			fields := strings.Fields(line)
			for i, f := range fields {
				if f == "of" && i+1 < len(fields) {
					if n, err := strconv.ParseInt(fields[i+1], 10, 64); err == nil {
						pageSize = n
					}
				}
			}
			continue
		}
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), "Pages free:"); ok {
			v = strings.TrimSuffix(strings.TrimSpace(v), ".")
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				freePages = n
			}
		}
	}
	info.FreeMB = int(freePages * pageSize / (1024 * 1024))
	return info
}

func parseWmicMemory(out string) *types.MemoryInfo {
	var freeKB, totalKB int64
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, "FreePhysicalMemory="); ok {
			freeKB, _ = strconv.ParseInt(v, 10, 64)
		}
		if v, ok := strings.CutPrefix(line, "TotalVisibleMemorySize="); ok {
			totalKB, _ = strconv.ParseInt(v, 10, 64)
		}
	}
	if totalKB == 0 {
		return nil
	}
	return &types.MemoryInfo{TotalMB: int(totalKB / 1024), FreeMB: int(freeKB / 1024)}
}
