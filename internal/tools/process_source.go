package tools

import (
	"context"
	"errors"

	"github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
)

// Socket protocols, matching the SOCK_STREAM and SOCK_DGRAM socket types
const (
	ProtoTCP uint32 = 1
	ProtoUDP uint32 = 2
)

// ProcessSnapshot is the state of one process at a point in time
type ProcessSnapshot struct {
	PID        int32
	Name       string
	Cmd        []string
	Exe        string
	Memory     uint64  // resident set size in bytes
	ReadBytes  uint64
	WriteBytes uint64
	CPUTime    float64 // user + system seconds
}

// Socket is a local socket owned by a process
type Socket struct {
	PID       int32
	Proto     uint32
	LocalPort uint32
}

// ProcessSource reads the process and socket tables
type ProcessSource interface {
	CPUTimes(ctx context.Context) (map[int32]float64, error)
	Processes(ctx context.Context) ([]ProcessSnapshot, error)
	Sockets(ctx context.Context) ([]Socket, error)
}

// systemSource reads the local system through gopsutil
type systemSource struct{}

func (systemSource) CPUTimes(ctx context.Context) (map[int32]float64, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	cpuTimes := make(map[int32]float64, len(procs))
	for _, p := range procs {
		t, err := p.TimesWithContext(ctx)
		if err != nil {
			continue
		}
		cpuTimes[p.Pid] = t.User + t.System
	}
	return cpuTimes, nil
}

func (systemSource) Processes(ctx context.Context) ([]ProcessSnapshot, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	snapshots := make([]ProcessSnapshot, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			// Exited since listing
			if errors.Is(err, process.ErrorProcessNotRunning) {
				continue
			}
		}

		s := ProcessSnapshot{PID: p.Pid, Name: name}
		if cmd, err := p.CmdlineSliceWithContext(ctx); err == nil {
			s.Cmd = cmd
		}
		if exe, err := p.ExeWithContext(ctx); err == nil {
			s.Exe = exe
		}
		if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
			s.Memory = mem.RSS
		}
		if counters, err := p.IOCountersWithContext(ctx); err == nil && counters != nil {
			s.ReadBytes = counters.ReadBytes
			s.WriteBytes = counters.WriteBytes
		}
		if t, err := p.TimesWithContext(ctx); err == nil && t != nil {
			s.CPUTime = t.User + t.System
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, nil
}

func (systemSource) Sockets(ctx context.Context) ([]Socket, error) {
	conns, err := net.ConnectionsWithContext(ctx, "inet")
	if err != nil {
		return nil, err
	}

	sockets := make([]Socket, 0, len(conns))
	for _, c := range conns {
		if c.Pid == 0 || (c.Type != ProtoTCP && c.Type != ProtoUDP) {
			continue
		}
		sockets = append(sockets, Socket{PID: c.Pid, Proto: c.Type, LocalPort: c.Laddr.Port})
	}
	return sockets, nil
}
