package metrics

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// CommandSet holds the remote shell commands used to probe one OS family.
// CPU and RAM commands print a percentage; the network command prints raw
// counters that ParseNet turns into a cumulative byte total.
type CommandSet struct {
	CPU      string
	RAM      string
	Net      string
	ParseCPU func(string) (float64, error)
	ParseRAM func(string) (float64, error)
	ParseNet func(string) (uint64, error)
}

// LinuxCommands reads CPU idle from top, memory from free, and interface
// counters from /proc/net/dev.
var LinuxCommands = CommandSet{
	CPU:      `top -bn1 | grep 'Cpu(s)' | sed 's/.*, *\([0-9.]*\)%* id.*/\1/' | awk '{print 100 - $1}'`,
	RAM:      `free | grep Mem | awk '{print ($3/$2) * 100.0}'`,
	Net:      `cat /proc/net/dev`,
	ParseCPU: ParsePercent,
	ParseRAM: ParsePercent,
	ParseNet: ParseProcNetDev,
}

// WindowsCommands uses wmic and netstat, which exist on every supported
// Windows release without extra modules.
var WindowsCommands = CommandSet{
	CPU:      `wmic cpu get loadpercentage /value`,
	RAM:      `wmic OS get FreePhysicalMemory,TotalVisibleMemorySize /value`,
	Net:      `netstat -e`,
	ParseCPU: ParseWMICLoad,
	ParseRAM: ParseWMICMemory,
	ParseNet: ParseNetstatE,
}

// ParsePercent parses a command output consisting of a single number.
func ParsePercent(out string) (float64, error) {
	s := strings.TrimSpace(out)
	if s == "" {
		return 0, fmt.Errorf("empty output")
	}
	// Some tools print a trailing % or use a decimal comma.
	s = strings.TrimSuffix(strings.Fields(s)[0], "%")
	s = strings.Replace(s, ",", ".", 1)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", strings.TrimSpace(out))
	}
	return clampPercent(v), nil
}

var wmicLoadRe = regexp.MustCompile(`(?i)LoadPercentage=(\d+)`)

// ParseWMICLoad averages every LoadPercentage=N line (one per socket).
func ParseWMICLoad(out string) (float64, error) {
	matches := wmicLoadRe.FindAllStringSubmatch(out, -1)
	if len(matches) == 0 {
		return 0, fmt.Errorf("no LoadPercentage in wmic output")
	}
	var sum float64
	for _, m := range matches {
		v, _ := strconv.ParseFloat(m[1], 64)
		sum += v
	}
	return clampPercent(sum / float64(len(matches))), nil
}

// ParseWMICMemory computes used memory percent from FreePhysicalMemory and
// TotalVisibleMemorySize (both in KB).
func ParseWMICMemory(out string) (float64, error) {
	var free, total float64
	var haveFree, haveTotal bool

	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		key, val, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			continue
		}
		switch strings.ToLower(key) {
		case "freephysicalmemory":
			free, haveFree = n, true
		case "totalvisiblememorysize":
			total, haveTotal = n, true
		}
	}
	if !haveFree || !haveTotal || total <= 0 {
		return 0, fmt.Errorf("incomplete wmic memory output")
	}
	return clampPercent((total - free) / total * 100), nil
}

// ParseProcNetDev sums received and transmitted bytes across all interfaces
// except loopback. The first two lines of /proc/net/dev are headers.
func ParseProcNetDev(out string) (uint64, error) {
	scanner := bufio.NewScanner(strings.NewReader(out))
	lineNum := 0
	found := false
	var total uint64

	for scanner.Scan() {
		lineNum++
		if lineNum <= 2 {
			continue
		}

		name, rest, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		if strings.TrimSpace(name) == "lo" {
			continue
		}

		// Fields: bytes packets errs drop fifo frame compressed multicast (rx), then tx
		fields := strings.Fields(rest)
		if len(fields) < 9 {
			continue
		}
		rx, err1 := strconv.ParseUint(fields[0], 10, 64)
		tx, err2 := strconv.ParseUint(fields[8], 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		total += rx + tx
		found = true
	}

	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("error scanning /proc/net/dev: %w", err)
	}
	if !found {
		return 0, fmt.Errorf("no interfaces in /proc/net/dev output")
	}
	return total, nil
}

// ParseNetstatE reads the "Bytes <received> <sent>" row of `netstat -e`.
func ParseNetstatE(out string) (uint64, error) {
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 3 && strings.EqualFold(fields[0], "Bytes") {
			rx, err1 := strconv.ParseUint(fields[1], 10, 64)
			tx, err2 := strconv.ParseUint(fields[2], 10, 64)
			if err1 != nil || err2 != nil {
				return 0, fmt.Errorf("malformed netstat bytes row: %q", scanner.Text())
			}
			return rx + tx, nil
		}
	}
	return 0, fmt.Errorf("no Bytes row in netstat output")
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
