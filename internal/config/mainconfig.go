package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// MainConfig carries every process-level directive from the main config
// file. Field groups mirror the documentation's sections; unknown directives
// are ignored for forward compatibility.
type MainConfig struct {
	// File paths
	LogFile             string
	CfgFiles            []string
	CfgDirs             []string
	ResourceFiles       []string
	StatusFile          string
	StateRetentionFile  string
	ObjectCacheFile     string
	PrecachedObjectFile string
	TempFile            string
	TempPath            string
	CheckResultPath     string
	LockFile            string
	LogArchivePath      string
	CommandFile         string
	DebugFile           string

	// Permissions
	NagiosUser  string
	NagiosGroup string

	// Logging
	UseSyslog           bool
	LogNotifications    bool
	LogServiceRetries   bool
	LogHostRetries      bool
	LogEventHandlers    bool
	LogExternalCommands bool
	LogPassiveChecks    bool
	LogInitialStates    bool
	LogCurrentStates    bool
	LogRotationMethod   byte   // n/h/d/w/m
	MaxLogFileSize      uint64 // bytes; 0=unlimited (default 100MB)
	DebugLevel          int
	DebugVerbosity      int
	MaxDebugFileSize    uint64

	// Check execution
	ServiceCheckTimeout      int
	ServiceCheckTimeoutState byte // o/w/c/u
	HostCheckTimeout         int
	EventHandlerTimeout      int
	NotificationTimeout      int
	OCSPTimeout              int
	OCHPTimeout              int
	PerfdataTimeout          int
	MaxConcurrentChecks      int
	MaxCheckResultFileAge    uint64
	CheckWorkers             int

	// Scheduling
	IntervalLength               int
	ServiceInterCheckDelayMethod string
	HostInterCheckDelayMethod    string
	ServiceInterleaveFactor      string
	MaxServiceCheckSpread        int
	MaxHostCheckSpread           int
	CheckResultReaperFrequency   int
	MaxCheckResultReaperTime     int
	AutoRescheduleChecks         bool
	AutoReschedulingInterval     int
	AutoReschedulingWindow       int

	// State management
	RetainStateInformation              bool
	RetentionUpdateInterval             int
	UseRetainedProgramState             bool
	UseRetainedSchedulingInfo           bool
	RetentionSchedulingHorizon          int
	StatusUpdateInterval                int
	AdditionalFreshnessLatency          int
	RetainedHostAttributeMask           uint64
	RetainedServiceAttributeMask        uint64
	RetainedProcessHostAttributeMask    uint64
	RetainedProcessServiceAttributeMask uint64
	RetainedContactHostAttributeMask    uint64
	RetainedContactServiceAttributeMask uint64

	// Feature toggles
	ExecuteServiceChecks       bool
	AcceptPassiveServiceChecks bool
	ExecuteHostChecks          bool
	AcceptPassiveHostChecks    bool
	EnableEventHandlers        bool
	EnableNotifications        bool
	EnableFlapDetection        bool
	ProcessPerformanceData     bool
	ObsessOverServices         bool
	ObsessOverHosts            bool
	CheckForOrphanedServices   bool
	CheckForOrphanedHosts      bool
	CheckServiceFreshness      bool
	CheckHostFreshness         bool
	CheckExternalCommands      bool
	CheckForUpdates            bool
	BareUpdateCheck            bool

	// Freshness
	ServiceFreshnessCheckInterval int
	HostFreshnessCheckInterval    int

	// Flap detection
	LowServiceFlapThreshold  float64
	HighServiceFlapThreshold float64
	LowHostFlapThreshold     float64
	HighHostFlapThreshold    float64

	// Host checking
	UseAggressiveHostChecking               bool
	CachedHostCheckHorizon                  uint64
	CachedServiceCheckHorizon               uint64
	EnablePredictiveHostDependencyChecks    bool
	EnablePredictiveServiceDependencyChecks bool
	SoftStateDependencies                   bool
	TranslatePassiveHostChecks              bool
	PassiveHostChecksAreSoft                bool

	// Commands
	GlobalHostEventHandler    string
	GlobalServiceEventHandler string
	OCSPCommand               string
	OCHPCommand               string

	// Performance data
	HostPerfdataCommand                   string
	ServicePerfdataCommand                string
	HostPerfdataFile                      string
	ServicePerfdataFile                   string
	HostPerfdataFileTemplate              string
	ServicePerfdataFileTemplate           string
	HostPerfdataFileMode                  byte
	ServicePerfdataFileMode               byte
	HostPerfdataFileProcessingInterval    uint64
	ServicePerfdataFileProcessingInterval uint64
	HostPerfdataFileProcessingCommand     string
	ServicePerfdataFileProcessingCommand  string
	HostPerfdataProcessEmptyResults       bool
	ServicePerfdataProcessEmptyResults    bool

	// Misc
	DateFormat                    string
	UseTimezone                   string
	IllegalObjectNameChars        string
	IllegalMacroOutputChars       string
	UseRegexpMatching             bool
	UseTrueRegexpMatching         bool
	AdminEmail                    string
	AdminPager                    string
	EventBrokerOptions            int
	BrokerModules                 []string
	DaemonDumpsCore               bool
	UseLargeInstallationTweaks    bool
	EnableEnvironmentMacros       bool
	FreeChildProcessMemory        int
	ChildProcessesForkTwice       int
	AllowEmptyHostgroupAssignment bool
	HostDownDisableServiceChecks  uint64
	TimeChangeThreshold           int
	LoadctlOptions                string
	MetricsListenAddr             string
	AcknowledgementExpireSeconds  int

	// NRDP relay
	NRDPListen         string // listen address, e.g. ":5668"
	NRDPPath           string // URL path, default "/nrdp/"
	NRDPTokenHash      string // bcrypt hash of accepted token
	NRDPDynamicEnabled bool   // auto-register hosts/services from NRDP submissions
	NRDPDynamicTTL     int    // seconds before stale dynamic objects are pruned
	NRDPDynamicPrune   int    // seconds between prune runs
	NRDPSSLCert        string // TLS certificate file
	NRDPSSLKey         string // TLS key file

	// For resolving relative paths
	basedir string
}

// NewMainConfig returns the documented defaults.
func NewMainConfig() *MainConfig {
	return &MainConfig{
		UseSyslog:           true,
		LogNotifications:    true,
		LogServiceRetries:   true,
		LogHostRetries:      true,
		LogEventHandlers:    true,
		LogExternalCommands: true,
		LogPassiveChecks:    true,
		LogCurrentStates:    true,
		LogRotationMethod:   'd',
		MaxLogFileSize:      100 * 1024 * 1024,

		ServiceCheckTimeout: 60,
		HostCheckTimeout:    30,
		EventHandlerTimeout: 30,
		NotificationTimeout: 30,
		OCSPTimeout:         15,
		OCHPTimeout:         15,

		IntervalLength:               60,
		ServiceInterCheckDelayMethod: "s",
		HostInterCheckDelayMethod:    "s",
		ServiceInterleaveFactor:      "s",
		MaxServiceCheckSpread:        30,
		MaxHostCheckSpread:           30,
		CheckResultReaperFrequency:   10,
		MaxCheckResultReaperTime:     30,

		RetainStateInformation:     true,
		RetentionUpdateInterval:    60,
		UseRetainedProgramState:    true,
		StatusUpdateInterval:       10,
		RetentionSchedulingHorizon: 900,
		AdditionalFreshnessLatency: 15,

		ExecuteServiceChecks:       true,
		AcceptPassiveServiceChecks: true,
		ExecuteHostChecks:          true,
		AcceptPassiveHostChecks:    true,
		EnableEventHandlers:        true,
		EnableNotifications:        true,
		CheckForOrphanedServices:   true,
		CheckForOrphanedHosts:      true,
		CheckExternalCommands:      true,
		CheckForUpdates:            true,

		ServiceFreshnessCheckInterval: 60,
		HostFreshnessCheckInterval:    60,
		LowServiceFlapThreshold:       25.0,
		HighServiceFlapThreshold:      50.0,
		LowHostFlapThreshold:          25.0,
		HighHostFlapThreshold:         50.0,

		CachedHostCheckHorizon:                  15,
		CachedServiceCheckHorizon:               15,
		EnablePredictiveHostDependencyChecks:    true,
		EnablePredictiveServiceDependencyChecks: true,

		DateFormat:              "us",
		EnableEnvironmentMacros: true,
		FreeChildProcessMemory:  -1,
		ChildProcessesForkTwice: -1,
		TimeChangeThreshold:     900,
		HostPerfdataFileMode:    'a',
		ServicePerfdataFileMode: 'a',

		NRDPPath:         "/nrdp/",
		NRDPDynamicTTL:   86400,
		NRDPDynamicPrune: 600,
	}
}

// ReadMainConfig parses path line by line; each directive routes through the
// setter table built once per load.
func ReadMainConfig(path string) (*MainConfig, error) {
	cfg := NewMainConfig()
	cfg.basedir = filepath.Dir(path)
	setters := cfg.directiveSetters()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open main config: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for lineNum := 1; sc.Scan(); lineNum++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' || line[0] == 0 {
			continue
		}
		if semi := strings.IndexByte(line, ';'); semi >= 0 {
			line = strings.TrimSpace(line[:semi])
			if line == "" {
				continue
			}
		}
		key, val, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		set, known := setters[strings.TrimSpace(key)]
		if !known {
			continue
		}
		if err := set(strings.TrimSpace(val)); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNum, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return cfg, nil
}

func (c *MainConfig) resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.basedir, p)
}

// Setter constructors for the directive table.

func asString(dst *string) func(string) error {
	return func(v string) error { *dst = v; return nil }
}

func (c *MainConfig) asPath(dst *string) func(string) error {
	return func(v string) error { *dst = c.resolvePath(v); return nil }
}

func (c *MainConfig) asPathList(dst *[]string) func(string) error {
	return func(v string) error { *dst = append(*dst, c.resolvePath(v)); return nil }
}

func asFlag(dst *bool) func(string) error {
	return func(v string) error { *dst = v == "1"; return nil }
}

func asInt(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid integer %q: %w", v, err)
		}
		*dst = n
		return nil
	}
}

func asUint64(dst *uint64) func(string) error {
	return func(v string) error {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid unsigned integer %q: %w", v, err)
		}
		*dst = n
		return nil
	}
}

func asFloat(dst *float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid float %q: %w", v, err)
		}
		*dst = f
		return nil
	}
}

func asChar(dst *byte) func(string) error {
	return func(v string) error {
		if v != "" {
			*dst = v[0]
		}
		return nil
	}
}

func (c *MainConfig) directiveSetters() map[string]func(string) error {
	return map[string]func(string) error{
		// multi-valued paths
		"cfg_file":      c.asPathList(&c.CfgFiles),
		"cfg_dir":       c.asPathList(&c.CfgDirs),
		"resource_file": c.asPathList(&c.ResourceFiles),
		"broker_module": func(v string) error { c.BrokerModules = append(c.BrokerModules, v); return nil },

		// single paths
		"log_file":              c.asPath(&c.LogFile),
		"status_file":           c.asPath(&c.StatusFile),
		"state_retention_file":  c.asPath(&c.StateRetentionFile),
		"object_cache_file":     c.asPath(&c.ObjectCacheFile),
		"precached_object_file": c.asPath(&c.PrecachedObjectFile),
		"temp_file":             c.asPath(&c.TempFile),
		"temp_path":             c.asPath(&c.TempPath),
		"check_result_path":     c.asPath(&c.CheckResultPath),
		"lock_file":             c.asPath(&c.LockFile),
		"log_archive_path":      c.asPath(&c.LogArchivePath),
		"command_file":          c.asPath(&c.CommandFile),
		"debug_file":            c.asPath(&c.DebugFile),
		"host_perfdata_file":    c.asPath(&c.HostPerfdataFile),
		"service_perfdata_file": c.asPath(&c.ServicePerfdataFile),
		"nrdp_ssl_cert":         c.asPath(&c.NRDPSSLCert),
		"nrdp_ssl_key":          c.asPath(&c.NRDPSSLKey),

		// strings
		"nagios_user":                              asString(&c.NagiosUser),
		"nagios_group":                             asString(&c.NagiosGroup),
		"global_host_event_handler":                asString(&c.GlobalHostEventHandler),
		"global_service_event_handler":             asString(&c.GlobalServiceEventHandler),
		"ocsp_command":                             asString(&c.OCSPCommand),
		"ochp_command":                             asString(&c.OCHPCommand),
		"host_perfdata_command":                    asString(&c.HostPerfdataCommand),
		"service_perfdata_command":                 asString(&c.ServicePerfdataCommand),
		"host_perfdata_file_template":              asString(&c.HostPerfdataFileTemplate),
		"service_perfdata_file_template":           asString(&c.ServicePerfdataFileTemplate),
		"host_perfdata_file_processing_command":    asString(&c.HostPerfdataFileProcessingCommand),
		"service_perfdata_file_processing_command": asString(&c.ServicePerfdataFileProcessingCommand),
		"date_format":                              asString(&c.DateFormat),
		"use_timezone":                             asString(&c.UseTimezone),
		"illegal_object_name_chars":                asString(&c.IllegalObjectNameChars),
		"illegal_macro_output_chars":               asString(&c.IllegalMacroOutputChars),
		"admin_email":                              asString(&c.AdminEmail),
		"admin_pager":                              asString(&c.AdminPager),
		"service_inter_check_delay_method":         asString(&c.ServiceInterCheckDelayMethod),
		"host_inter_check_delay_method":            asString(&c.HostInterCheckDelayMethod),
		"service_interleave_factor":                asString(&c.ServiceInterleaveFactor),
		"loadctl_options":                          asString(&c.LoadctlOptions),
		"metrics_listen_addr":                      asString(&c.MetricsListenAddr),
		"nrdp_listen":                              asString(&c.NRDPListen),
		"nrdp_path":                                asString(&c.NRDPPath),
		"nrdp_token_hash":                          asString(&c.NRDPTokenHash),

		// booleans
		"use_syslog":                       asFlag(&c.UseSyslog),
		"log_notifications":                asFlag(&c.LogNotifications),
		"log_service_retries":              asFlag(&c.LogServiceRetries),
		"log_host_retries":                 asFlag(&c.LogHostRetries),
		"log_event_handlers":               asFlag(&c.LogEventHandlers),
		"log_external_commands":            asFlag(&c.LogExternalCommands),
		"log_passive_checks":               asFlag(&c.LogPassiveChecks),
		"log_initial_states":               asFlag(&c.LogInitialStates),
		"log_current_states":               asFlag(&c.LogCurrentStates),
		"retain_state_information":         asFlag(&c.RetainStateInformation),
		"use_retained_program_state":       asFlag(&c.UseRetainedProgramState),
		"use_retained_scheduling_info":     asFlag(&c.UseRetainedSchedulingInfo),
		"execute_service_checks":           asFlag(&c.ExecuteServiceChecks),
		"accept_passive_service_checks":    asFlag(&c.AcceptPassiveServiceChecks),
		"execute_host_checks":              asFlag(&c.ExecuteHostChecks),
		"accept_passive_host_checks":       asFlag(&c.AcceptPassiveHostChecks),
		"enable_event_handlers":            asFlag(&c.EnableEventHandlers),
		"enable_notifications":             asFlag(&c.EnableNotifications),
		"enable_flap_detection":            asFlag(&c.EnableFlapDetection),
		"process_performance_data":         asFlag(&c.ProcessPerformanceData),
		"obsess_over_services":             asFlag(&c.ObsessOverServices),
		"obsess_over_hosts":                asFlag(&c.ObsessOverHosts),
		"check_for_orphaned_services":      asFlag(&c.CheckForOrphanedServices),
		"check_for_orphaned_hosts":         asFlag(&c.CheckForOrphanedHosts),
		"check_service_freshness":          asFlag(&c.CheckServiceFreshness),
		"check_host_freshness":             asFlag(&c.CheckHostFreshness),
		"check_external_commands":          asFlag(&c.CheckExternalCommands),
		"check_for_updates":                asFlag(&c.CheckForUpdates),
		"bare_update_check":                asFlag(&c.BareUpdateCheck),
		"auto_reschedule_checks":           asFlag(&c.AutoRescheduleChecks),
		"use_aggressive_host_checking":     asFlag(&c.UseAggressiveHostChecking),
		"soft_state_dependencies":          asFlag(&c.SoftStateDependencies),
		"translate_passive_host_checks":    asFlag(&c.TranslatePassiveHostChecks),
		"passive_host_checks_are_soft":     asFlag(&c.PassiveHostChecksAreSoft),
		"use_regexp_matching":              asFlag(&c.UseRegexpMatching),
		"use_true_regexp_matching":         asFlag(&c.UseTrueRegexpMatching),
		"daemon_dumps_core":                asFlag(&c.DaemonDumpsCore),
		"use_large_installation_tweaks":    asFlag(&c.UseLargeInstallationTweaks),
		"enable_environment_macros":        asFlag(&c.EnableEnvironmentMacros),
		"allow_empty_hostgroup_assignment": asFlag(&c.AllowEmptyHostgroupAssignment),
		"nrdp_dynamic_enabled":             asFlag(&c.NRDPDynamicEnabled),
		"enable_predictive_host_dependency_checks":    asFlag(&c.EnablePredictiveHostDependencyChecks),
		"enable_predictive_service_dependency_checks": asFlag(&c.EnablePredictiveServiceDependencyChecks),
		"host_perfdata_process_empty_results":         asFlag(&c.HostPerfdataProcessEmptyResults),
		"service_perfdata_process_empty_results":      asFlag(&c.ServicePerfdataProcessEmptyResults),

		// integers
		"service_check_timeout":            asInt(&c.ServiceCheckTimeout),
		"host_check_timeout":               asInt(&c.HostCheckTimeout),
		"event_handler_timeout":            asInt(&c.EventHandlerTimeout),
		"notification_timeout":             asInt(&c.NotificationTimeout),
		"ocsp_timeout":                     asInt(&c.OCSPTimeout),
		"ochp_timeout":                     asInt(&c.OCHPTimeout),
		"perfdata_timeout":                 asInt(&c.PerfdataTimeout),
		"max_concurrent_checks":            asInt(&c.MaxConcurrentChecks),
		"check_workers":                    asInt(&c.CheckWorkers),
		"interval_length":                  asInt(&c.IntervalLength),
		"max_service_check_spread":         asInt(&c.MaxServiceCheckSpread),
		"max_host_check_spread":            asInt(&c.MaxHostCheckSpread),
		"check_result_reaper_frequency":    asInt(&c.CheckResultReaperFrequency),
		"max_check_result_reaper_time":     asInt(&c.MaxCheckResultReaperTime),
		"auto_rescheduling_interval":       asInt(&c.AutoReschedulingInterval),
		"auto_rescheduling_window":         asInt(&c.AutoReschedulingWindow),
		"retention_update_interval":        asInt(&c.RetentionUpdateInterval),
		"retention_scheduling_horizon":     asInt(&c.RetentionSchedulingHorizon),
		"status_update_interval":           asInt(&c.StatusUpdateInterval),
		"additional_freshness_latency":     asInt(&c.AdditionalFreshnessLatency),
		"service_freshness_check_interval": asInt(&c.ServiceFreshnessCheckInterval),
		"host_freshness_check_interval":    asInt(&c.HostFreshnessCheckInterval),
		"debug_level":                      asInt(&c.DebugLevel),
		"debug_verbosity":                  asInt(&c.DebugVerbosity),
		"event_broker_options":             asInt(&c.EventBrokerOptions),
		"free_child_process_memory":        asInt(&c.FreeChildProcessMemory),
		"child_processes_fork_twice":       asInt(&c.ChildProcessesForkTwice),
		"time_change_threshold":            asInt(&c.TimeChangeThreshold),
		"acknowledgement_expire_seconds":   asInt(&c.AcknowledgementExpireSeconds),
		"nrdp_dynamic_ttl":                 asInt(&c.NRDPDynamicTTL),
		"nrdp_dynamic_prune_interval":      asInt(&c.NRDPDynamicPrune),

		// unsigned integers
		"max_debug_file_size":                       asUint64(&c.MaxDebugFileSize),
		"max_log_file_size":                         asUint64(&c.MaxLogFileSize),
		"max_check_result_file_age":                 asUint64(&c.MaxCheckResultFileAge),
		"cached_host_check_horizon":                 asUint64(&c.CachedHostCheckHorizon),
		"cached_service_check_horizon":              asUint64(&c.CachedServiceCheckHorizon),
		"retained_host_attribute_mask":              asUint64(&c.RetainedHostAttributeMask),
		"retained_service_attribute_mask":           asUint64(&c.RetainedServiceAttributeMask),
		"retained_process_host_attribute_mask":      asUint64(&c.RetainedProcessHostAttributeMask),
		"retained_process_service_attribute_mask":   asUint64(&c.RetainedProcessServiceAttributeMask),
		"retained_contact_host_attribute_mask":      asUint64(&c.RetainedContactHostAttributeMask),
		"retained_contact_service_attribute_mask":   asUint64(&c.RetainedContactServiceAttributeMask),
		"host_perfdata_file_processing_interval":    asUint64(&c.HostPerfdataFileProcessingInterval),
		"service_perfdata_file_processing_interval": asUint64(&c.ServicePerfdataFileProcessingInterval),
		"host_down_disable_service_checks":          asUint64(&c.HostDownDisableServiceChecks),

		// floats
		"low_service_flap_threshold":  asFloat(&c.LowServiceFlapThreshold),
		"high_service_flap_threshold": asFloat(&c.HighServiceFlapThreshold),
		"low_host_flap_threshold":     asFloat(&c.LowHostFlapThreshold),
		"high_host_flap_threshold":    asFloat(&c.HighHostFlapThreshold),

		// single characters
		"log_rotation_method":         asChar(&c.LogRotationMethod),
		"service_check_timeout_state": asChar(&c.ServiceCheckTimeoutState),
		"host_perfdata_file_mode":     asChar(&c.HostPerfdataFileMode),
		"service_perfdata_file_mode":  asChar(&c.ServicePerfdataFileMode),
	}
}
