package objects

import (
	"fmt"
	"sync"
)

// ObjectStore is the process-wide object graph: every configured entity in
// registration order, plus name-keyed indexes for O(1) lookup. The graph's
// shape is fixed after the configuration build (dynamic passive-check
// registration being the one sanctioned exception, via the Remove* helpers);
// per-entity runtime state stays mutable.
type ObjectStore struct {
	// Mu protects mutable runtime state on Host/Service objects. The
	// scheduler takes the write lock while applying check results;
	// concurrent readers (status writers, passive-check intake) take the
	// read lock.
	Mu sync.RWMutex

	Hosts               []*Host
	Services            []*Service
	Commands            []*Command
	Contacts            []*Contact
	ContactGroups       []*ContactGroup
	Timeperiods         []*Timeperiod
	HostGroups          []*HostGroup
	ServiceGroups       []*ServiceGroup
	HostDependencies    []*HostDependency
	ServiceDependencies []*ServiceDependency
	HostEscalations     []*HostEscalation
	ServiceEscalations  []*ServiceEscalation

	hostIdx         map[string]*Host
	serviceIdx      map[serviceID]*Service
	commandIdx      map[string]*Command
	contactIdx      map[string]*Contact
	contactGroupIdx map[string]*ContactGroup
	timeperiodIdx   map[string]*Timeperiod
	hostGroupIdx    map[string]*HostGroup
	serviceGroupIdx map[string]*ServiceGroup
}

// serviceID is the composite key a service is registered under.
type serviceID struct {
	host, description string
}

func NewObjectStore() *ObjectStore {
	return &ObjectStore{
		hostIdx:         make(map[string]*Host),
		serviceIdx:      make(map[serviceID]*Service),
		commandIdx:      make(map[string]*Command),
		contactIdx:      make(map[string]*Contact),
		contactGroupIdx: make(map[string]*ContactGroup),
		timeperiodIdx:   make(map[string]*Timeperiod),
		hostGroupIdx:    make(map[string]*HostGroup),
		serviceGroupIdx: make(map[string]*ServiceGroup),
	}
}

// register appends item under key, rejecting duplicates by name.
func register[K comparable, T any](kind string, key K, item *T, idx map[K]*T, list *[]*T) error {
	if _, dup := idx[key]; dup {
		return fmt.Errorf("duplicate %s: %v", kind, key)
	}
	idx[key] = item
	*list = append(*list, item)
	return nil
}

func (s *ObjectStore) AddHost(h *Host) error {
	return register("host", h.Name, h, s.hostIdx, &s.Hosts)
}

func (s *ObjectStore) GetHost(name string) *Host { return s.hostIdx[name] }

func (s *ObjectStore) AddService(svc *Service) error {
	id := serviceID{svc.Host.Name, svc.Description}
	if _, dup := s.serviceIdx[id]; dup {
		return fmt.Errorf("duplicate service: %s/%s", id.host, id.description)
	}
	s.serviceIdx[id] = svc
	s.Services = append(s.Services, svc)
	return nil
}

func (s *ObjectStore) GetService(hostName, desc string) *Service {
	return s.serviceIdx[serviceID{hostName, desc}]
}

func (s *ObjectStore) AddCommand(c *Command) error {
	return register("command", c.Name, c, s.commandIdx, &s.Commands)
}

func (s *ObjectStore) GetCommand(name string) *Command { return s.commandIdx[name] }

func (s *ObjectStore) AddContact(c *Contact) error {
	return register("contact", c.Name, c, s.contactIdx, &s.Contacts)
}

func (s *ObjectStore) GetContact(name string) *Contact { return s.contactIdx[name] }

func (s *ObjectStore) AddContactGroup(cg *ContactGroup) error {
	return register("contactgroup", cg.Name, cg, s.contactGroupIdx, &s.ContactGroups)
}

func (s *ObjectStore) GetContactGroup(name string) *ContactGroup { return s.contactGroupIdx[name] }

func (s *ObjectStore) AddTimeperiod(tp *Timeperiod) error {
	return register("timeperiod", tp.Name, tp, s.timeperiodIdx, &s.Timeperiods)
}

func (s *ObjectStore) GetTimeperiod(name string) *Timeperiod { return s.timeperiodIdx[name] }

func (s *ObjectStore) AddHostGroup(hg *HostGroup) error {
	return register("hostgroup", hg.Name, hg, s.hostGroupIdx, &s.HostGroups)
}

func (s *ObjectStore) GetHostGroup(name string) *HostGroup { return s.hostGroupIdx[name] }

func (s *ObjectStore) AddServiceGroup(sg *ServiceGroup) error {
	return register("servicegroup", sg.Name, sg, s.serviceGroupIdx, &s.ServiceGroups)
}

func (s *ObjectStore) GetServiceGroup(name string) *ServiceGroup { return s.serviceGroupIdx[name] }

// AddHostDependency records hd and threads it onto the dependent host's
// per-direction dependency lists, so check and notification suppression can
// walk only the dependencies that apply to them.
func (s *ObjectStore) AddHostDependency(hd *HostDependency) {
	s.HostDependencies = append(s.HostDependencies, hd)
	if hd.DependentHost == nil {
		return
	}
	if hd.NotificationFailureOptions != 0 {
		hd.DependentHost.NotifyDeps = append(hd.DependentHost.NotifyDeps, hd)
	}
	if hd.ExecutionFailureOptions != 0 {
		hd.DependentHost.ExecDeps = append(hd.DependentHost.ExecDeps, hd)
	}
}

func (s *ObjectStore) AddServiceDependency(sd *ServiceDependency) {
	s.ServiceDependencies = append(s.ServiceDependencies, sd)
	if sd.DependentService == nil {
		return
	}
	if sd.NotificationFailureOptions != 0 {
		sd.DependentService.NotifyDeps = append(sd.DependentService.NotifyDeps, sd)
	}
	if sd.ExecutionFailureOptions != 0 {
		sd.DependentService.ExecDeps = append(sd.DependentService.ExecDeps, sd)
	}
}

func (s *ObjectStore) AddHostEscalation(he *HostEscalation) {
	s.HostEscalations = append(s.HostEscalations, he)
	if he.Host != nil {
		he.Host.Escalations = append(he.Host.Escalations, he)
	}
}

func (s *ObjectStore) AddServiceEscalation(se *ServiceEscalation) {
	s.ServiceEscalations = append(s.ServiceEscalations, se)
	if se.Service != nil {
		se.Service.Escalations = append(se.Service.Escalations, se)
	}
}

// GetServicesForHost returns every service bound to hostName, in
// registration order.
func (s *ObjectStore) GetServicesForHost(hostName string) []*Service {
	var out []*Service
	for _, svc := range s.Services {
		if svc.Host != nil && svc.Host.Name == hostName {
			out = append(out, svc)
		}
	}
	return out
}

// RemoveService drops one service. Caller must hold the write lock.
func (s *ObjectStore) RemoveService(hostName, desc string) {
	id := serviceID{hostName, desc}
	if _, ok := s.serviceIdx[id]; !ok {
		return
	}
	delete(s.serviceIdx, id)
	s.Services = dropFirst(s.Services, func(svc *Service) bool {
		return svc.Host != nil && svc.Host.Name == hostName && svc.Description == desc
	})
}

// RemoveHost drops a host and every service bound to it. Caller must hold
// the write lock.
func (s *ObjectStore) RemoveHost(name string) {
	if s.hostIdx[name] == nil {
		return
	}
	kept := s.Services[:0:0]
	for _, svc := range s.Services {
		if svc.Host != nil && svc.Host.Name == name {
			delete(s.serviceIdx, serviceID{name, svc.Description})
			continue
		}
		kept = append(kept, svc)
	}
	s.Services = kept

	delete(s.hostIdx, name)
	s.Hosts = dropFirst(s.Hosts, func(h *Host) bool { return h.Name == name })
}

func dropFirst[T any](list []*T, match func(*T) bool) []*T {
	for i, item := range list {
		if match(item) {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
