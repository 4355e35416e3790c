// Package perfdata handles performance data file writing and command execution.
package perfdata

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/corvidwatch/sentryd/internal/objects"
)

// perfFile wraps a single perfdata output file handle so the host and
// service sides of Processor share open/close/write instead of repeating
// the nil-guarded os.File calls twice.
type perfFile struct {
	f *os.File
}

func (pf *perfFile) open(path string, mode int) error {
	f, err := openPerfdataFile(path, mode)
	if err != nil {
		return err
	}
	pf.f = f
	return nil
}

func (pf *perfFile) close() {
	if pf.f != nil {
		pf.f.Close()
		pf.f = nil
	}
}

func (pf *perfFile) write(line string) {
	if pf.f != nil {
		pf.f.WriteString(line + "\n")
	}
}

// Processor handles performance data output.
type Processor struct {
	Global *objects.GlobalState

	hostFile    perfFile
	serviceFile perfFile
}

// NewProcessor creates a new perfdata processor.
func NewProcessor(gs *objects.GlobalState) *Processor {
	return &Processor{Global: gs}
}

// OpenFiles opens the perfdata files for writing.
func (p *Processor) OpenFiles() error {
	if p.Global.HostPerfdataFile != "" {
		if err := p.hostFile.open(p.Global.HostPerfdataFile, p.Global.HostPerfdataFileMode); err != nil {
			return err
		}
	}
	if p.Global.ServicePerfdataFile != "" {
		if err := p.serviceFile.open(p.Global.ServicePerfdataFile, p.Global.ServicePerfdataFileMode); err != nil {
			return err
		}
	}
	return nil
}

// Close closes any open perfdata files.
func (p *Processor) Close() {
	p.hostFile.close()
	p.serviceFile.close()
}

// processPerfdata runs the command-dispatch and file-template logic shared
// by the host and service perfdata paths once enabled/empty-result gating
// has already been decided by the caller.
func (p *Processor) processPerfdata(pf *perfFile, processEnabled bool, hasPerfData, processEmptyResults bool, command, fileTemplate string, macros map[string]string) {
	if !p.Global.ProcessPerformanceData || !processEnabled {
		return
	}
	if !processEmptyResults && !hasPerfData {
		return
	}
	if command != "" {
		cmdLine := expandMacros(command, macros)
		go runCommand(cmdLine, 30*time.Second)
	}
	if fileTemplate != "" {
		pf.write(expandMacros(fileTemplate, macros))
	}
}

// UpdateHostPerfdata processes host check performance data.
func (p *Processor) UpdateHostPerfdata(h *objects.Host) {
	p.processPerfdata(&p.hostFile, h.ProcessPerfData, h.PerfData != "", p.Global.HostPerfdataProcessEmptyResults,
		p.Global.HostPerfdataCommand, p.Global.HostPerfdataFileTemplate, hostMacros(h))
}

// UpdateServicePerfdata processes service check performance data.
func (p *Processor) UpdateServicePerfdata(s *objects.Service) {
	p.processPerfdata(&p.serviceFile, s.ProcessPerfData, s.PerfData != "", p.Global.ServicePerfdataProcessEmptyResults,
		p.Global.ServicePerfdataCommand, p.Global.ServicePerfdataFileTemplate, serviceMacros(s))
}

// runFileProcessingCommand closes the file (in write mode, so the
// processing command sees a complete file), runs cmd, then reopens it.
func (p *Processor) runFileProcessingCommand(pf *perfFile, cmd, path string, mode int) {
	if cmd == "" {
		return
	}
	if mode == objects.PerfdataFileWrite {
		pf.close()
	}
	runCommand(cmd, 60*time.Second)
	if path != "" && mode == objects.PerfdataFileWrite {
		pf.open(path, mode)
	}
}

// RunHostFileProcessingCommand runs the host perfdata file processing command.
func (p *Processor) RunHostFileProcessingCommand() {
	p.runFileProcessingCommand(&p.hostFile, p.Global.HostPerfdataFileProcessingCommand, p.Global.HostPerfdataFile, p.Global.HostPerfdataFileMode)
}

// RunServiceFileProcessingCommand runs the service perfdata file processing command.
func (p *Processor) RunServiceFileProcessingCommand() {
	p.runFileProcessingCommand(&p.serviceFile, p.Global.ServicePerfdataFileProcessingCommand, p.Global.ServicePerfdataFile, p.Global.ServicePerfdataFileMode)
}

func openPerfdataFile(path string, mode int) (*os.File, error) {
	switch mode {
	case objects.PerfdataFileWrite:
		return os.Create(path)
	case objects.PerfdataFilePipe:
		return os.OpenFile(path, os.O_WRONLY, 0)
	default: // append
		return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	}
}

func runCommand(cmdLine string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return exec.CommandContext(ctx, "/bin/sh", "-c", cmdLine).Run()
}

func expandMacros(template string, macros map[string]string) string {
	result := template
	for k, v := range macros {
		result = strings.ReplaceAll(result, "$"+k+"$", v)
	}
	return result
}

func hostMacros(h *objects.Host) map[string]string {
	return map[string]string{
		"HOSTNAME":         h.Name,
		"HOSTALIAS":        h.Alias,
		"HOSTADDRESS":      h.Address,
		"HOSTSTATE":        objects.HostStateName(h.CurrentState),
		"HOSTSTATETYPE":    objects.StateTypeName(h.StateType),
		"HOSTOUTPUT":       h.PluginOutput,
		"LONGHOSTOUTPUT":   h.LongPluginOutput,
		"HOSTPERFDATA":     h.PerfData,
		"HOSTCHECKCOMMAND": cmdStr(h.CheckCommand),
	}
}

func serviceMacros(s *objects.Service) map[string]string {
	hostName, hostAlias, hostAddr := "", "", ""
	if s.Host != nil {
		hostName = s.Host.Name
		hostAlias = s.Host.Alias
		hostAddr = s.Host.Address
	}
	return map[string]string{
		"HOSTNAME":            hostName,
		"HOSTALIAS":           hostAlias,
		"HOSTADDRESS":         hostAddr,
		"SERVICEDESC":         s.Description,
		"SERVICESTATE":        objects.ServiceStateName(s.CurrentState),
		"SERVICESTATETYPE":    objects.StateTypeName(s.StateType),
		"SERVICEOUTPUT":       s.PluginOutput,
		"LONGSERVICEOUTPUT":   s.LongPluginOutput,
		"SERVICEPERFDATA":     s.PerfData,
		"SERVICECHECKCOMMAND": cmdStr(s.CheckCommand),
	}
}

func cmdStr(cmd *objects.Command) string {
	if cmd == nil {
		return ""
	}
	return cmd.Name
}
