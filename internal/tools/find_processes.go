package tools

import (
	"context"
	"iter"
	"regexp"
	"slices"
	"time"
)

// cpuSampleInterval is the minimum gap between the two CPU time samples
const cpuSampleInterval = 200 * time.Millisecond

// FindProcessesParams parameters of the find_processes tool
type FindProcessesParams struct {
	DetailedOutput   *bool    `json:"detailed_output,omitempty"`
	MaxCPUUsage      *float64 `json:"max_cpu_usage,omitempty" jsonschema_description:"Percentage"`
	MaxMemory        *uint64  `json:"max_memory,omitempty" jsonschema_description:"In bytes"`
	MaxReadFromDisk  *uint64  `json:"max_read_from_disk,omitempty" jsonschema_description:"In bytes"`
	MaxWrittenToDisk *uint64  `json:"max_written_to_disk,omitempty" jsonschema_description:"In bytes"`
	MinCPUUsage      *float64 `json:"min_cpu_usage,omitempty" jsonschema_description:"Percentage"`
	MinMemory        *uint64  `json:"min_memory,omitempty" jsonschema_description:"In bytes"`
	MinReadFromDisk  *uint64  `json:"min_read_from_disk,omitempty" jsonschema_description:"In bytes"`
	MinWrittenToDisk *uint64  `json:"min_written_to_disk,omitempty" jsonschema_description:"In bytes"`
	NameRegex        *string  `json:"name_regex,omitempty" jsonschema_description:"Optional, RE2-compatible."`
	TCPPort          *uint16  `json:"tcp_port,omitempty" jsonschema_description:"Zero means any."`
	UDPPort          *uint16  `json:"udp_port,omitempty" jsonschema_description:"Zero means any."`
}

// ProcessDetails are the fields dropped from compact output
type ProcessDetails struct {
	Cmd           []string `json:"cmd"`
	CPUUsage      float64  `json:"cpu_usage"`
	Exe           *string  `json:"exe"`
	Memory        uint64   `json:"memory"`
	ReadFromDisk  uint64   `json:"read_from_disk"`
	TCPPorts      []uint16 `json:"tcp_ports"`
	UDPPorts      []uint16 `json:"udp_ports"`
	WrittenToDisk uint64   `json:"written_to_disk"`
}

// FindProcessesOutput a matching process; details are flattened into it
type FindProcessesOutput struct {
	*ProcessDetails
	Name string `json:"name"`
	PID  uint32 `json:"pid"`
}

// FindProcesses finds processes running in the system
type FindProcesses struct {
	source   ProcessSource
	interval time.Duration
	now      func() time.Time
	sleep    func(time.Duration)
}

// NewFindProcesses creates a FindProcesses tool reading the local system
func NewFindProcesses() *FindProcesses {
	return NewFindProcessesWithSource(systemSource{})
}

// NewFindProcessesWithSource creates a FindProcesses tool reading from source
func NewFindProcessesWithSource(source ProcessSource) *FindProcesses {
	return &FindProcesses{
		source:   source,
		interval: cpuSampleInterval,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

func (f *FindProcesses) Name() string { return "find_processes" }

func (f *FindProcesses) Description() string {
	return "Finds running processes by resource usage, name and open ports"
}

// Call samples the process table eagerly and returns a lazily filtered sequence
func (f *FindProcesses) Call(ctx context.Context, params FindProcessesParams) (iter.Seq[FindProcessesOutput], error) {
	filter, err := newProcessFilter(params)
	if err != nil {
		return nil, err
	}

	processes, err := f.snapshot(ctx)
	if err != nil {
		return nil, newError(CodeProcesses, "failed to read process table", err)
	}
	if err := f.addNetPorts(ctx, processes); err != nil {
		return nil, newError(CodeProcesses, "failed to read socket table", err)
	}

	detailed := params.DetailedOutput != nil && *params.DetailedOutput

	return func(yield func(FindProcessesOutput) bool) {
		for _, p := range processes {
			if ctx.Err() != nil {
				return
			}
			if !filter.matches(p) {
				continue
			}
			if !detailed {
				p.ProcessDetails = nil
			}
			if !yield(p) {
				return
			}
		}
	}, nil
}

// snapshot samples CPU times twice, interval apart, and converts the delta to percent
func (f *FindProcesses) snapshot(ctx context.Context) ([]FindProcessesOutput, error) {
	first, err := f.source.CPUTimes(ctx)
	if err != nil {
		return nil, err
	}
	start := f.now()

	f.sleep(f.interval)

	snapshots, err := f.source.Processes(ctx)
	if err != nil {
		return nil, err
	}
	elapsed := f.now().Sub(start).Seconds()

	processes := make([]FindProcessesOutput, 0, len(snapshots))
	for _, s := range snapshots {
		var usage float64
		if prev, ok := first[s.PID]; ok && elapsed > 0 {
			usage = max((s.CPUTime-prev)/elapsed*100, 0)
		}

		details := &ProcessDetails{
			Cmd:           s.Cmd,
			CPUUsage:      usage,
			Memory:        s.Memory,
			ReadFromDisk:  s.ReadBytes,
			TCPPorts:      []uint16{},
			UDPPorts:      []uint16{},
			WrittenToDisk: s.WriteBytes,
		}
		if details.Cmd == nil {
			details.Cmd = []string{}
		}
		if s.Exe != "" {
			exe := s.Exe
			details.Exe = &exe
		}

		processes = append(processes, FindProcessesOutput{
			ProcessDetails: details,
			Name:           s.Name,
			PID:            uint32(s.PID),
		})
	}

	slices.SortFunc(processes, func(a, b FindProcessesOutput) int { return int(a.PID) - int(b.PID) })
	return processes, nil
}

func (f *FindProcesses) addNetPorts(ctx context.Context, processes []FindProcessesOutput) error {
	sockets, err := f.source.Sockets(ctx)
	if err != nil {
		return err
	}

	byPID := make(map[uint32]*ProcessDetails, len(processes))
	for _, p := range processes {
		byPID[p.PID] = p.ProcessDetails
	}

	for _, s := range sockets {
		details, ok := byPID[uint32(s.PID)]
		if !ok {
			continue
		}
		port := uint16(s.LocalPort)
		switch s.Proto {
		case ProtoTCP:
			if !slices.Contains(details.TCPPorts, port) {
				details.TCPPorts = append(details.TCPPorts, port)
			}
		case ProtoUDP:
			if !slices.Contains(details.UDPPorts, port) {
				details.UDPPorts = append(details.UDPPorts, port)
			}
		}
	}

	for _, details := range byPID {
		slices.Sort(details.TCPPorts)
		slices.Sort(details.UDPPorts)
	}
	return nil
}

type uintBounds struct {
	min, max *uint64
}

func (b uintBounds) contains(v uint64) bool {
	return (b.min == nil || v >= *b.min) && (b.max == nil || v <= *b.max)
}

func (b uintBounds) consistent() bool {
	return b.min == nil || b.max == nil || *b.min <= *b.max
}

// processFilter is the precompiled form of FindProcessesParams
type processFilter struct {
	minCPU, maxCPU *float64
	memory         uintBounds
	readFromDisk   uintBounds
	writtenToDisk  uintBounds
	nameRegex      *regexp.Regexp
	tcpPort        *uint16
	udpPort        *uint16
}

func newProcessFilter(params FindProcessesParams) (*processFilter, error) {
	f := &processFilter{
		minCPU:        params.MinCPUUsage,
		maxCPU:        params.MaxCPUUsage,
		memory:        uintBounds{params.MinMemory, params.MaxMemory},
		readFromDisk:  uintBounds{params.MinReadFromDisk, params.MaxReadFromDisk},
		writtenToDisk: uintBounds{params.MinWrittenToDisk, params.MaxWrittenToDisk},
		tcpPort:       params.TCPPort,
		udpPort:       params.UDPPort,
	}

	if f.minCPU != nil && f.maxCPU != nil && *f.minCPU > *f.maxCPU {
		return nil, newError(CodeInconsistentParams, "min_cpu_usage is greater than max_cpu_usage", nil)
	}
	if !f.memory.consistent() || !f.readFromDisk.consistent() || !f.writtenToDisk.consistent() {
		return nil, newError(CodeInconsistentParams, "a min bound is greater than its max bound", nil)
	}

	if params.NameRegex != nil {
		re, err := regexp.Compile(*params.NameRegex)
		if err != nil {
			return nil, newError(CodeRegex, "failed to parse regex", err)
		}
		f.nameRegex = re
	}
	return f, nil
}

func (f *processFilter) matches(p FindProcessesOutput) bool {
	d := p.ProcessDetails

	if f.minCPU != nil && d.CPUUsage < *f.minCPU {
		return false
	}
	if f.maxCPU != nil && d.CPUUsage > *f.maxCPU {
		return false
	}
	if !f.memory.contains(d.Memory) || !f.readFromDisk.contains(d.ReadFromDisk) || !f.writtenToDisk.contains(d.WrittenToDisk) {
		return false
	}
	if f.nameRegex != nil && !f.nameRegex.MatchString(p.Name) {
		return false
	}
	return portMatches(f.tcpPort, d.TCPPorts) && portMatches(f.udpPort, d.UDPPorts)
}

// portMatches treats port 0 as "any port present"
func portMatches(want *uint16, ports []uint16) bool {
	switch {
	case want == nil:
		return true
	case *want == 0:
		return len(ports) > 0
	default:
		return slices.Contains(ports, *want)
	}
}
