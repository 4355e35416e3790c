package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/corvidwatch/sentryd/internal/objects"
)

// BuildStore turns a resolved DefinitionSet into a fully cross-linked
// ObjectStore. Kinds are built in dependency order (commands and timeperiods
// before anything that references them, groups after their members, fan-out
// kinds last), then name references are replaced with direct pointers and
// the host parent/child topology is wired.
func BuildStore(set *DefinitionSet, store *objects.ObjectStore) error {
	b := &builder{set: set, store: store}
	steps := []func() error{
		b.commands,
		b.timeperiods,
		b.contacts,
		b.contactGroups,
		b.hosts,
		b.hostGroups,
		b.services,
		b.serviceGroups,
		b.hostDependencies,
		b.serviceDependencies,
		b.hostEscalations,
		b.serviceEscalations,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	b.inheritHostProperties()
	if err := b.wireHostTopology(); err != nil {
		return err
	}
	b.backlinkGroups()
	return nil
}

type builder struct {
	set   *DefinitionSet
	store *objects.ObjectStore
}

func (b *builder) fail(d *Definition, format string, args ...interface{}) error {
	return fmt.Errorf("%s:%d: %s", d.Source, d.SourceLine, fmt.Sprintf(format, args...))
}

// props wraps one definition with typed, defaulting accessors. The literal
// value "null" reads as unset, matching the directive used to blank an
// inherited string.
type props struct{ d *Definition }

func (p props) str(key, def string) string {
	v, ok := p.d.Props[key]
	if !ok || v == "null" {
		return def
	}
	return v
}

func (p props) flag(key string, def bool) bool {
	v, ok := p.d.Props[key]
	if !ok {
		return def
	}
	return v == "1"
}

func (p props) num(key string, def int) int {
	v, ok := p.d.Props[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (p props) real(key string, def float64) float64 {
	v, ok := p.d.Props[key]
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func (p props) importance() uint {
	v, ok := p.d.Props["hourly_value"]
	if !ok {
		v, ok = p.d.Props["minimum_importance"]
	}
	if !ok {
		return 0
	}
	n, _ := strconv.ParseUint(v, 10, 64)
	return uint(n)
}

// --- option-letter bitmasks ---

// optionWords maps long-form option tokens down to their single letter, so
// the per-mask accept strings below only have to enumerate letters.
var optionWords = map[string]string{
	"ok": "o", "warning": "w", "unknown": "u", "unreachable": "u",
	"critical": "c", "down": "d", "recovery": "r", "flapping": "f",
	"downtime": "s", "pending": "p",
}

// optionBits maps an accepted letter to its bit. The letter "u" is
// ambiguous (UNKNOWN for service masks, UNREACHABLE for host masks) and is
// resolved per mask.
var optionBits = map[byte]uint32{
	'o': objects.OptOK,
	'w': objects.OptWarning,
	'c': objects.OptCritical,
	'd': objects.OptDown,
	'r': objects.OptRecovery,
	'f': objects.OptFlapping,
	's': objects.OptDowntime,
	'p': objects.OptPending,
}

type optionMask struct {
	accept   string // accepted letters
	uMeans   uint32 // what the ambiguous letter "u" maps to
	emptyAll bool   // empty value means OptAll rather than 0
}

var (
	hostNotifyMask   = optionMask{accept: "durfs", uMeans: objects.OptUnreachable}
	svcNotifyMask    = optionMask{accept: "wucrfs", uMeans: objects.OptUnknown}
	hostFlapMask     = optionMask{accept: "odu", uMeans: objects.OptUnreachable, emptyAll: true}
	svcFlapMask      = optionMask{accept: "owuc", uMeans: objects.OptUnknown, emptyAll: true}
	hostStalkMask    = optionMask{accept: "odu", uMeans: objects.OptUnreachable}
	svcStalkMask     = optionMask{accept: "owuc", uMeans: objects.OptUnknown}
	hostDependMask   = optionMask{accept: "odup", uMeans: objects.OptUnreachable}
	svcDependMask    = optionMask{accept: "owucp", uMeans: objects.OptUnknown}
	hostEscalateMask = optionMask{accept: "dur", uMeans: objects.OptUnreachable, emptyAll: true}
	svcEscalateMask  = optionMask{accept: "wucr", uMeans: objects.OptUnknown, emptyAll: true}
)

func (m optionMask) parse(s string) uint32 {
	if s == "" {
		if m.emptyAll {
			return objects.OptAll
		}
		return 0
	}
	var bits uint32
	for _, tok := range listValues(s) {
		switch tok {
		case "a", "all":
			return objects.OptAll
		case "n", "none":
			return objects.OptNone
		}
		if long, ok := optionWords[tok]; ok {
			tok = long
		}
		if len(tok) != 1 || !strings.Contains(m.accept, tok) {
			continue
		}
		if tok == "u" {
			bits |= m.uMeans
		} else {
			bits |= optionBits[tok[0]]
		}
	}
	return bits
}

// --- per-kind build passes ---

func (b *builder) commands() error {
	return b.set.ForKind("command", func(d *Definition) error {
		name := props{d}.str("command_name", "")
		if name == "" {
			return b.fail(d, "command missing command_name")
		}
		cmd := &objects.Command{Name: name, CommandLine: props{d}.str("command_line", "")}
		if err := b.store.AddCommand(cmd); err != nil {
			return b.fail(d, "%v", err)
		}
		return nil
	})
}

var weekdayDirectives = [7]string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

// timeperiodReserved lists directive keys on a timeperiod block that are NOT
// date exceptions.
var timeperiodReserved = map[string]bool{
	"timeperiod_name": true, "alias": true, "use": true, "name": true,
	"register": true, "exclude": true,
	"sunday": true, "monday": true, "tuesday": true, "wednesday": true,
	"thursday": true, "friday": true, "saturday": true,
}

func (b *builder) timeperiods() error {
	err := b.set.ForKind("timeperiod", func(d *Definition) error {
		p := props{d}
		name := p.str("timeperiod_name", "")
		if name == "" {
			return b.fail(d, "timeperiod missing timeperiod_name")
		}
		tp := &objects.Timeperiod{Name: name, Alias: p.str("alias", name)}
		for dow, directive := range weekdayDirectives {
			tp.Ranges[dow] = p.str(directive, "")
		}
		// Every remaining directive is a date-exception line; the evaluation
		// engine in internal/timeperiod classifies and matches the raw text.
		for key, val := range d.Props {
			if timeperiodReserved[key] {
				continue
			}
			tp.Exceptions = append(tp.Exceptions, objects.TimeDateException{Timerange: key + " " + val})
		}
		if err := b.store.AddTimeperiod(tp); err != nil {
			return b.fail(d, "%v", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	// Exclusions can reference periods defined later in the file set, so
	// they resolve in a second sweep.
	return b.set.ForKind("timeperiod", func(d *Definition) error {
		tp := b.store.GetTimeperiod(props{d}.str("timeperiod_name", ""))
		for _, ref := range listValues(props{d}.str("exclude", "")) {
			excluded := b.store.GetTimeperiod(ref)
			if excluded == nil {
				return b.fail(d, "excluded timeperiod '%s' not found", ref)
			}
			tp.Exclusions = append(tp.Exclusions, excluded)
		}
		return nil
	})
}

func (b *builder) contacts() error {
	err := b.set.ForKind("contact", func(d *Definition) error {
		p := props{d}
		name := p.str("contact_name", "")
		if name == "" {
			return b.fail(d, "contact missing contact_name")
		}
		c := &objects.Contact{
			Name:                        name,
			Alias:                       p.str("alias", name),
			Email:                       p.str("email", ""),
			Pager:                       p.str("pager", ""),
			HostNotificationsEnabled:    p.flag("host_notifications_enabled", true),
			ServiceNotificationsEnabled: p.flag("service_notifications_enabled", true),
			CanSubmitCommands:           p.flag("can_submit_commands", true),
			RetainStatusInformation:     p.flag("retain_status_information", true),
			RetainNonstatusInformation:  p.flag("retain_nonstatus_information", true),
			MinimumImportance:           p.importance(),
			HostNotificationOptions:     hostNotifyMask.parse(p.str("host_notification_options", "")),
			ServiceNotificationOptions:  svcNotifyMask.parse(p.str("service_notification_options", "")),
			CustomVars:                  cloneVars(d.Custom),
		}
		for slot := 0; slot < objects.MaxContactAddresses; slot++ {
			c.Addresses[slot] = p.str(fmt.Sprintf("address%d", slot+1), "")
		}
		if err := b.store.AddContact(c); err != nil {
			return b.fail(d, "%v", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	// Period and command references resolve once those kinds exist.
	return b.set.ForKind("contact", func(d *Definition) error {
		p := props{d}
		c := b.store.GetContact(p.str("contact_name", ""))
		c.HostNotificationPeriod = b.store.GetTimeperiod(p.str("host_notification_period", ""))
		c.ServiceNotificationPeriod = b.store.GetTimeperiod(p.str("service_notification_period", ""))
		c.HostNotificationCommands = b.commandList(p.str("host_notification_commands", ""))
		c.ServiceNotificationCommands = b.commandList(p.str("service_notification_commands", ""))
		return nil
	})
}

func (b *builder) contactGroups() error {
	if err := b.set.ForKind("contactgroup", func(d *Definition) error {
		p := props{d}
		name := p.str("contactgroup_name", "")
		if name == "" {
			return b.fail(d, "contactgroup missing contactgroup_name")
		}
		cg := &objects.ContactGroup{Name: name, Alias: p.str("alias", name)}
		if err := b.store.AddContactGroup(cg); err != nil {
			return b.fail(d, "%v", err)
		}
		return nil
	}); err != nil {
		return err
	}

	// members= and nested contactgroup_members= fill in after every group
	// exists.
	if err := b.set.ForKind("contactgroup", func(d *Definition) error {
		p := props{d}
		cg := b.store.GetContactGroup(p.str("contactgroup_name", ""))
		for _, ref := range listValues(p.str("members", "")) {
			member := b.store.GetContact(ref)
			if member == nil {
				return b.fail(d, "contact '%s' not found in contactgroup '%s'", ref, cg.Name)
			}
			cg.Members = appendContact(cg.Members, member)
		}
		for _, ref := range listValues(p.str("contactgroup_members", "")) {
			nested := b.store.GetContactGroup(ref)
			if nested == nil {
				return b.fail(d, "contactgroup '%s' not found in contactgroup_members", ref)
			}
			for _, member := range nested.Members {
				cg.Members = appendContact(cg.Members, member)
			}
		}
		return nil
	}); err != nil {
		return err
	}

	// The inverse direction: a contact naming its groups.
	return b.set.ForKind("contact", func(d *Definition) error {
		p := props{d}
		c := b.store.GetContact(p.str("contact_name", ""))
		for _, ref := range listValues(p.str("contactgroups", "")) {
			cg := b.store.GetContactGroup(ref)
			if cg == nil {
				return b.fail(d, "contactgroup '%s' not found", ref)
			}
			cg.Members = appendContact(cg.Members, c)
			c.ContactGroups = append(c.ContactGroups, cg)
		}
		return nil
	})
}

func (b *builder) hosts() error {
	return b.set.ForKind("host", func(d *Definition) error {
		p := props{d}
		name := p.str("host_name", "")
		if name == "" {
			return b.fail(d, "host missing host_name")
		}
		h := &objects.Host{
			Name:                       name,
			DisplayName:                p.str("display_name", name),
			Alias:                      p.str("alias", name),
			Address:                    p.str("address", name),
			CheckInterval:              p.real("check_interval", 5.0),
			RetryInterval:              p.real("retry_interval", 1.0),
			MaxCheckAttempts:           p.num("max_check_attempts", -2),
			InitialState:               hostStateLetter(p.str("initial_state", "o")),
			ActiveChecksEnabled:        p.flag("active_checks_enabled", true),
			PassiveChecksEnabled:       p.flag("passive_checks_enabled", true),
			ObsessOver:                 p.flag("obsess_over_host", true),
			EventHandlerEnabled:        p.flag("event_handler_enabled", true),
			CheckFreshness:             p.flag("check_freshness", false),
			FreshnessThreshold:         p.num("freshness_threshold", 0),
			LowFlapThreshold:           p.real("low_flap_threshold", 0),
			HighFlapThreshold:          p.real("high_flap_threshold", 0),
			FlapDetectionEnabled:       p.flag("flap_detection_enabled", true),
			FlapDetectionOptions:       hostFlapMask.parse(p.str("flap_detection_options", "")),
			NotificationsEnabled:       p.flag("notifications_enabled", true),
			NotificationInterval:       p.real("notification_interval", 30.0),
			FirstNotificationDelay:     p.real("first_notification_delay", 0),
			StalingOptions:             hostStalkMask.parse(p.str("stalking_options", "")),
			ProcessPerfData:            p.flag("process_perf_data", true),
			Notes:                      p.str("notes", ""),
			NotesURL:                   p.str("notes_url", ""),
			ActionURL:                  p.str("action_url", ""),
			IconImage:                  p.str("icon_image", ""),
			IconImageAlt:               p.str("icon_image_alt", ""),
			VRMLImage:                  p.str("vrml_image", ""),
			StatusmapImage:             p.str("statusmap_image", ""),
			RetainStatusInformation:    p.flag("retain_status_information", true),
			RetainNonstatusInformation: p.flag("retain_nonstatus_information", true),
			HourlyValue:                p.importance(),
			CustomVars:                 cloneVars(d.Custom),
			ShouldBeScheduled:          true,
		}
		if v, ok := d.Prop("notification_options"); ok {
			h.NotificationOptions = hostNotifyMask.parse(v)
		} else {
			h.NotificationOptions = objects.OptAll
		}
		parseCoords(d, h)
		if ref, ok := d.Prop("check_command"); ok {
			cmdName, args := splitBangArgs(ref)
			h.CheckCommand = b.store.GetCommand(cmdName)
			h.CheckCommandArgs = args
		}
		h.CheckPeriod = b.store.GetTimeperiod(p.str("check_period", ""))
		h.NotificationPeriod = b.store.GetTimeperiod(p.str("notification_period", ""))
		h.EventHandler = b.store.GetCommand(p.str("event_handler", ""))
		h.ContactGroups = b.contactGroupList(p.str("contact_groups", ""))
		h.Contacts = b.contactList(p.str("contacts", ""))

		if err := b.store.AddHost(h); err != nil {
			return b.fail(d, "%v", err)
		}
		return nil
	})
}

func parseCoords(d *Definition, h *objects.Host) {
	if v, ok := d.Prop("2d_coords"); ok {
		var x, y int
		if n, _ := fmt.Sscanf(strings.ReplaceAll(v, " ", ""), "%d,%d", &x, &y); n == 2 {
			h.X2D, h.Y2D, h.Have2DCoords = x, y, true
		}
	}
	if v, ok := d.Prop("3d_coords"); ok {
		var x, y, z float64
		if n, _ := fmt.Sscanf(strings.ReplaceAll(v, " ", ""), "%g,%g,%g", &x, &y, &z); n == 3 {
			h.X3D, h.Y3D, h.Z3D, h.Have3DCoords = x, y, z, true
		}
	}
}

func (b *builder) hostGroups() error {
	if err := b.set.ForKind("hostgroup", func(d *Definition) error {
		p := props{d}
		name := p.str("hostgroup_name", "")
		if name == "" {
			return b.fail(d, "hostgroup missing hostgroup_name")
		}
		hg := &objects.HostGroup{
			Name:      name,
			Alias:     p.str("alias", name),
			Notes:     p.str("notes", ""),
			NotesURL:  p.str("notes_url", ""),
			ActionURL: p.str("action_url", ""),
		}
		for _, ref := range listValues(p.str("members", "")) {
			member := b.store.GetHost(ref)
			if member == nil {
				return b.fail(d, "host '%s' not found in hostgroup '%s'", ref, name)
			}
			hg.Members = appendHost(hg.Members, member)
		}
		if err := b.store.AddHostGroup(hg); err != nil {
			return b.fail(d, "%v", err)
		}
		return nil
	}); err != nil {
		return err
	}

	if err := b.set.ForKind("hostgroup", func(d *Definition) error {
		hg := b.store.GetHostGroup(props{d}.str("hostgroup_name", ""))
		for _, ref := range listValues(props{d}.str("hostgroup_members", "")) {
			nested := b.store.GetHostGroup(ref)
			if nested == nil {
				return b.fail(d, "hostgroup '%s' not found in hostgroup_members", ref)
			}
			for _, member := range nested.Members {
				hg.Members = appendHost(hg.Members, member)
			}
		}
		return nil
	}); err != nil {
		return err
	}

	return b.set.ForKind("host", func(d *Definition) error {
		h := b.store.GetHost(props{d}.str("host_name", ""))
		for _, ref := range listValues(props{d}.str("hostgroups", "")) {
			hg := b.store.GetHostGroup(ref)
			if hg == nil {
				return b.fail(d, "hostgroup '%s' not found", ref)
			}
			hg.Members = appendHost(hg.Members, h)
		}
		return nil
	})
}

func (b *builder) services() error {
	return b.set.ForKind("service", func(d *Definition) error {
		p := props{d}
		desc := p.str("service_description", "")
		if desc == "" {
			return b.fail(d, "service missing service_description")
		}
		targets, err := b.serviceTargets(d)
		if err != nil {
			return err
		}
		for _, h := range targets {
			svc := &objects.Service{
				Host:                       h,
				Description:                desc,
				DisplayName:                p.str("display_name", desc),
				CheckInterval:              p.real("check_interval", 5.0),
				RetryInterval:              p.real("retry_interval", 1.0),
				MaxCheckAttempts:           p.num("max_check_attempts", -2),
				InitialState:               svcStateLetter(p.str("initial_state", "o")),
				IsVolatile:                 p.flag("is_volatile", false),
				ActiveChecksEnabled:        p.flag("active_checks_enabled", true),
				PassiveChecksEnabled:       p.flag("passive_checks_enabled", true),
				ObsessOver:                 p.flag("obsess_over_service", false),
				EventHandlerEnabled:        p.flag("event_handler_enabled", true),
				CheckFreshness:             p.flag("check_freshness", false),
				FreshnessThreshold:         p.num("freshness_threshold", 0),
				LowFlapThreshold:           p.real("low_flap_threshold", 0),
				HighFlapThreshold:          p.real("high_flap_threshold", 0),
				FlapDetectionEnabled:       p.flag("flap_detection_enabled", true),
				FlapDetectionOptions:       svcFlapMask.parse(p.str("flap_detection_options", "")),
				NotificationsEnabled:       p.flag("notifications_enabled", true),
				NotificationInterval:       p.real("notification_interval", 30.0),
				FirstNotificationDelay:     p.real("first_notification_delay", 0),
				StalingOptions:             svcStalkMask.parse(p.str("stalking_options", "")),
				ProcessPerfData:            p.flag("process_perf_data", true),
				Notes:                      p.str("notes", ""),
				NotesURL:                   p.str("notes_url", ""),
				ActionURL:                  p.str("action_url", ""),
				IconImage:                  p.str("icon_image", ""),
				IconImageAlt:               p.str("icon_image_alt", ""),
				RetainStatusInformation:    p.flag("retain_status_information", true),
				RetainNonstatusInformation: p.flag("retain_nonstatus_information", true),
				ParallelizeCheck:           p.flag("parallelize_check", true),
				HourlyValue:                p.importance(),
				CustomVars:                 cloneVars(d.Custom),
				ShouldBeScheduled:          true,
			}
			if v, ok := d.Prop("notification_options"); ok {
				svc.NotificationOptions = svcNotifyMask.parse(v)
			} else {
				svc.NotificationOptions = objects.OptAll
			}
			if ref, ok := d.Prop("check_command"); ok {
				cmdName, args := splitBangArgs(ref)
				svc.CheckCommand = b.store.GetCommand(cmdName)
				svc.CheckCommandArgs = args
			}
			svc.CheckPeriod = b.store.GetTimeperiod(p.str("check_period", ""))
			svc.NotificationPeriod = b.store.GetTimeperiod(p.str("notification_period", ""))
			svc.EventHandler = b.store.GetCommand(p.str("event_handler", ""))
			svc.ContactGroups = b.contactGroupList(p.str("contact_groups", ""))
			svc.Contacts = b.contactList(p.str("contacts", ""))

			if err := b.store.AddService(svc); err != nil {
				return b.fail(d, "%v", err)
			}
			h.Services = append(h.Services, svc)
		}
		return nil
	})
}

// serviceTargets expands a service block's host_name + hostgroup_name lists
// into the deduplicated set of hosts it applies to; one Service is created
// per target.
func (b *builder) serviceTargets(d *Definition) ([]*objects.Host, error) {
	var targets []*objects.Host
	for _, ref := range listValues(props{d}.str("host_name", "")) {
		h := b.store.GetHost(ref)
		if h == nil {
			return nil, b.fail(d, "host '%s' not found for service '%s'", ref, props{d}.str("service_description", ""))
		}
		targets = appendHost(targets, h)
	}
	for _, ref := range listValues(props{d}.str("hostgroup_name", "")) {
		hg := b.store.GetHostGroup(ref)
		if hg == nil {
			return nil, b.fail(d, "hostgroup '%s' not found for service", ref)
		}
		for _, h := range hg.Members {
			targets = appendHost(targets, h)
		}
	}
	return targets, nil
}

func (b *builder) serviceGroups() error {
	if err := b.set.ForKind("servicegroup", func(d *Definition) error {
		p := props{d}
		name := p.str("servicegroup_name", "")
		if name == "" {
			return b.fail(d, "servicegroup missing servicegroup_name")
		}
		sg := &objects.ServiceGroup{
			Name:      name,
			Alias:     p.str("alias", name),
			Notes:     p.str("notes", ""),
			NotesURL:  p.str("notes_url", ""),
			ActionURL: p.str("action_url", ""),
		}
		// members is a host,description,host,description,... list.
		refs := listValues(p.str("members", ""))
		for i := 0; i+1 < len(refs); i += 2 {
			svc := b.store.GetService(refs[i], refs[i+1])
			if svc == nil {
				return b.fail(d, "service '%s/%s' not found in servicegroup '%s'", refs[i], refs[i+1], name)
			}
			sg.Members = appendService(sg.Members, svc)
		}
		if err := b.store.AddServiceGroup(sg); err != nil {
			return b.fail(d, "%v", err)
		}
		return nil
	}); err != nil {
		return err
	}

	if err := b.set.ForKind("servicegroup", func(d *Definition) error {
		sg := b.store.GetServiceGroup(props{d}.str("servicegroup_name", ""))
		for _, ref := range listValues(props{d}.str("servicegroup_members", "")) {
			nested := b.store.GetServiceGroup(ref)
			if nested == nil {
				return b.fail(d, "servicegroup '%s' not found", ref)
			}
			for _, member := range nested.Members {
				sg.Members = appendService(sg.Members, member)
			}
		}
		return nil
	}); err != nil {
		return err
	}

	return b.set.ForKind("service", func(d *Definition) error {
		p := props{d}
		desc := p.str("service_description", "")
		for _, ref := range listValues(p.str("servicegroups", "")) {
			sg := b.store.GetServiceGroup(ref)
			if sg == nil {
				continue
			}
			for _, hostRef := range listValues(p.str("host_name", "")) {
				if svc := b.store.GetService(hostRef, desc); svc != nil {
					sg.Members = appendService(sg.Members, svc)
				}
			}
		}
		return nil
	})
}

func (b *builder) hostDependencies() error {
	return b.set.ForKind("hostdependency", func(d *Definition) error {
		p := props{d}
		masters := b.hostFanout(p.str("host_name", ""), p.str("hostgroup_name", ""))
		dependents := b.hostFanout(p.str("dependent_host_name", ""), p.str("dependent_hostgroup_name", ""))
		period := b.store.GetTimeperiod(p.str("dependency_period", ""))
		inherits := p.flag("inherits_parent", false)
		execBits := hostDependMask.parse(p.str("execution_failure_options", ""))
		notifBits := hostDependMask.parse(p.str("notification_failure_options", ""))
		for _, master := range masters {
			for _, dep := range dependents {
				b.store.AddHostDependency(&objects.HostDependency{
					Host:                       master,
					DependentHost:              dep,
					DependencyPeriod:           period,
					InheritsParent:             inherits,
					ExecutionFailureOptions:    execBits,
					NotificationFailureOptions: notifBits,
				})
			}
		}
		return nil
	})
}

func (b *builder) serviceDependencies() error {
	return b.set.ForKind("servicedependency", func(d *Definition) error {
		p := props{d}
		masters := b.hostFanout(p.str("host_name", ""), p.str("hostgroup_name", ""))
		dependents := b.hostFanout(p.str("dependent_host_name", ""), p.str("dependent_hostgroup_name", ""))
		masterDesc := p.str("service_description", "")
		depDesc := p.str("dependent_service_description", "")
		period := b.store.GetTimeperiod(p.str("dependency_period", ""))
		inherits := p.flag("inherits_parent", false)
		execBits := svcDependMask.parse(p.str("execution_failure_options", ""))
		notifBits := svcDependMask.parse(p.str("notification_failure_options", ""))
		for _, mh := range masters {
			masterSvc := b.store.GetService(mh.Name, masterDesc)
			if masterSvc == nil {
				continue
			}
			for _, dh := range dependents {
				depSvc := b.store.GetService(dh.Name, depDesc)
				if depSvc == nil {
					continue
				}
				b.store.AddServiceDependency(&objects.ServiceDependency{
					Host:                       mh,
					Service:                    masterSvc,
					DependentHost:              dh,
					DependentService:           depSvc,
					DependencyPeriod:           period,
					InheritsParent:             inherits,
					ExecutionFailureOptions:    execBits,
					NotificationFailureOptions: notifBits,
				})
			}
		}
		return nil
	})
}

func (b *builder) hostEscalations() error {
	return b.set.ForKind("hostescalation", func(d *Definition) error {
		p := props{d}
		for _, h := range b.hostFanout(p.str("host_name", ""), p.str("hostgroup_name", "")) {
			b.store.AddHostEscalation(&objects.HostEscalation{
				Host:                 h,
				ContactGroups:        b.contactGroupList(p.str("contact_groups", "")),
				Contacts:             b.contactList(p.str("contacts", "")),
				FirstNotification:    p.num("first_notification", -2),
				LastNotification:     p.num("last_notification", -2),
				NotificationInterval: p.real("notification_interval", -1),
				EscalationPeriod:     b.store.GetTimeperiod(p.str("escalation_period", "")),
				EscalationOptions:    hostEscalateMask.parse(p.str("escalation_options", "")),
			})
		}
		return nil
	})
}

func (b *builder) serviceEscalations() error {
	return b.set.ForKind("serviceescalation", func(d *Definition) error {
		p := props{d}
		desc := p.str("service_description", "")
		for _, h := range b.hostFanout(p.str("host_name", ""), p.str("hostgroup_name", "")) {
			svc := b.store.GetService(h.Name, desc)
			if svc == nil {
				continue
			}
			b.store.AddServiceEscalation(&objects.ServiceEscalation{
				Host:                 h,
				Service:              svc,
				ContactGroups:        b.contactGroupList(p.str("contact_groups", "")),
				Contacts:             b.contactList(p.str("contacts", "")),
				FirstNotification:    p.num("first_notification", -2),
				LastNotification:     p.num("last_notification", -2),
				NotificationInterval: p.real("notification_interval", -1),
				EscalationPeriod:     b.store.GetTimeperiod(p.str("escalation_period", "")),
				EscalationOptions:    svcEscalateMask.parse(p.str("escalation_options", "")),
			})
		}
		return nil
	})
}

// inheritHostProperties fills service notification settings left unset from
// the owning host: contacts and notification period flow down when the
// service names neither.
func (b *builder) inheritHostProperties() {
	for _, svc := range b.store.Services {
		h := svc.Host
		if h == nil {
			continue
		}
		if len(svc.ContactGroups) == 0 && len(svc.Contacts) == 0 {
			svc.ContactGroups = h.ContactGroups
			svc.Contacts = h.Contacts
		}
		if svc.NotificationPeriod == nil {
			svc.NotificationPeriod = h.NotificationPeriod
		}
	}
}

// wireHostTopology resolves each host's parents directive into the
// Parents/Children pointer graph used by reachability and check
// propagation.
func (b *builder) wireHostTopology() error {
	return b.set.ForKind("host", func(d *Definition) error {
		h := b.store.GetHost(props{d}.str("host_name", ""))
		for _, ref := range listValues(props{d}.str("parents", "")) {
			parent := b.store.GetHost(ref)
			if parent == nil {
				return b.fail(d, "parent host '%s' not found for host '%s'", ref, h.Name)
			}
			h.Parents = appendHost(h.Parents, parent)
			parent.Children = appendHost(parent.Children, h)
		}
		return nil
	})
}

// backlinkGroups fills the entity-side group membership lists so a host or
// service can enumerate its own groups.
func (b *builder) backlinkGroups() {
	for _, hg := range b.store.HostGroups {
		for _, h := range hg.Members {
			h.HostGroups = appendHostGroup(h.HostGroups, hg)
		}
	}
	for _, sg := range b.store.ServiceGroups {
		for _, svc := range sg.Members {
			svc.ServiceGroups = appendServiceGroup(svc.ServiceGroups, sg)
		}
	}
}

// --- reference-list resolvers ---

func (b *builder) hostFanout(hostRefs, groupRefs string) []*objects.Host {
	var out []*objects.Host
	for _, ref := range listValues(hostRefs) {
		if h := b.store.GetHost(ref); h != nil {
			out = appendHost(out, h)
		}
	}
	for _, ref := range listValues(groupRefs) {
		hg := b.store.GetHostGroup(ref)
		if hg == nil {
			continue
		}
		for _, h := range hg.Members {
			out = appendHost(out, h)
		}
	}
	return out
}

func (b *builder) commandList(refs string) []*objects.Command {
	var out []*objects.Command
	for _, ref := range listValues(refs) {
		if cmd := b.store.GetCommand(ref); cmd != nil {
			out = append(out, cmd)
		}
	}
	return out
}

func (b *builder) contactList(refs string) []*objects.Contact {
	var out []*objects.Contact
	for _, ref := range listValues(refs) {
		if c := b.store.GetContact(ref); c != nil {
			out = append(out, c)
		}
	}
	return out
}

func (b *builder) contactGroupList(refs string) []*objects.ContactGroup {
	var out []*objects.ContactGroup
	for _, ref := range listValues(refs) {
		if cg := b.store.GetContactGroup(ref); cg != nil {
			out = append(out, cg)
		}
	}
	return out
}

// --- deduplicating append helpers ---

func appendContact(list []*objects.Contact, c *objects.Contact) []*objects.Contact {
	for _, have := range list {
		if have.Name == c.Name {
			return list
		}
	}
	return append(list, c)
}

func appendHost(list []*objects.Host, h *objects.Host) []*objects.Host {
	for _, have := range list {
		if have.Name == h.Name {
			return list
		}
	}
	return append(list, h)
}

func appendService(list []*objects.Service, s *objects.Service) []*objects.Service {
	for _, have := range list {
		if have.Host.Name == s.Host.Name && have.Description == s.Description {
			return list
		}
	}
	return append(list, s)
}

func appendHostGroup(list []*objects.HostGroup, hg *objects.HostGroup) []*objects.HostGroup {
	for _, have := range list {
		if have.Name == hg.Name {
			return list
		}
	}
	return append(list, hg)
}

func appendServiceGroup(list []*objects.ServiceGroup, sg *objects.ServiceGroup) []*objects.ServiceGroup {
	for _, have := range list {
		if have.Name == sg.Name {
			return list
		}
	}
	return append(list, sg)
}

// --- small value parsers ---

// splitBangArgs separates "name!arg1!arg2" into the command name and its raw
// !-joined argument tail.
func splitBangArgs(ref string) (string, string) {
	name, args, _ := strings.Cut(ref, "!")
	return name, args
}

func hostStateLetter(s string) int {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "d":
		return objects.HostDown
	case "u":
		return objects.HostUnreachable
	}
	return objects.HostUp
}

func svcStateLetter(s string) int {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "w":
		return objects.ServiceWarning
	case "c":
		return objects.ServiceCritical
	case "u":
		return objects.ServiceUnknown
	}
	return objects.ServiceOK
}

func cloneVars(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

