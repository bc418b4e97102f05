// Package inventory parses the grouped host inventory and resolves per-host
// variables from group_vars and host_vars files.
package inventory

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/compose-fleet/fleetctl/internal/vars"
)

// GroupAll is the implicit group containing every inventory host.
const GroupAll = "all"

// Host is a single managed machine with its inline inventory variables.
type Host struct {
	// Name is the inventory hostname.
	Name string
	// Vars holds key=value pairs declared on the host line.
	Vars vars.Vars

	groups []string
}

// Group is a named set of hosts, optionally composed of child groups.
type Group struct {
	// Name is the group identifier.
	Name string
	// Hosts lists hostnames declared directly in the group section.
	Hosts []string
	// Children lists child group names from a [name:children] section.
	Children []string
}

// Inventory is the parsed host/group tree.
type Inventory struct {
	groups     map[string]*Group
	hosts      map[string]*Host
	hostOrder  []string
	groupOrder []string
}

// Load reads and parses an inventory file.
func Load(path string) (*Inventory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open inventory %q: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	inv, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse inventory %q: %w", path, err)
	}
	return inv, nil
}

// Parse reads an INI-style inventory: [group] sections with one host per line
// and optional inline key=value vars, plus [group:children] sections.
func Parse(r io.Reader) (*Inventory, error) {
	inv := &Inventory{
		groups: make(map[string]*Group),
		hosts:  make(map[string]*Host),
	}

	var (
		current  *Group
		children bool
		lineNo   int
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "[") {
			if !strings.HasSuffix(line, "]") {
				return nil, fmt.Errorf("line %d: malformed section header %q", lineNo, line)
			}
			name := strings.TrimSpace(line[1 : len(line)-1])
			children = false
			if rest, ok := strings.CutSuffix(name, ":children"); ok {
				name = strings.TrimSpace(rest)
				children = true
			}
			if name == "" {
				return nil, fmt.Errorf("line %d: empty group name", lineNo)
			}
			if name == GroupAll {
				return nil, fmt.Errorf("line %d: group name %q is reserved", lineNo, GroupAll)
			}
			current = inv.ensureGroup(name)
			continue
		}

		if current == nil {
			return nil, fmt.Errorf("line %d: host %q outside of any group", lineNo, line)
		}

		if children {
			current.Children = append(current.Children, line)
			continue
		}

		host, hostVars, err := parseHostLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		inv.addHost(current, host, hostVars)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if err := inv.validate(); err != nil {
		return nil, err
	}
	return inv, nil
}

// parseHostLine splits "hostname k=v k2=v2" into a name and inline vars.
func parseHostLine(line string) (string, vars.Vars, error) {
	fields := strings.Fields(line)
	name := fields[0]
	hostVars := make(vars.Vars)
	for _, field := range fields[1:] {
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			return "", nil, fmt.Errorf("invalid host var %q for host %q, expected key=value", field, name)
		}
		hostVars[kv[0]] = kv[1]
	}
	return name, hostVars, nil
}

func (inv *Inventory) ensureGroup(name string) *Group {
	if g, ok := inv.groups[name]; ok {
		return g
	}
	g := &Group{Name: name}
	inv.groups[name] = g
	inv.groupOrder = append(inv.groupOrder, name)
	return g
}

// addHost registers a host in a group. A repeated host line merges vars, with
// the later line winning on conflicts.
func (inv *Inventory) addHost(g *Group, name string, hostVars vars.Vars) {
	host, ok := inv.hosts[name]
	if !ok {
		host = &Host{Name: name, Vars: make(vars.Vars)}
		inv.hosts[name] = host
		inv.hostOrder = append(inv.hostOrder, name)
	}
	host.Vars = vars.Merge(host.Vars, hostVars)

	for _, existing := range g.Hosts {
		if existing == name {
			return
		}
	}
	g.Hosts = append(g.Hosts, name)
	host.groups = append(host.groups, g.Name)
}

// validate checks child references and rejects membership cycles.
func (inv *Inventory) validate() error {
	for _, name := range inv.groupOrder {
		g := inv.groups[name]
		for _, child := range g.Children {
			if _, ok := inv.groups[child]; !ok {
				return fmt.Errorf("group %q references undefined child group %q", g.Name, child)
			}
		}
	}
	for _, name := range inv.groupOrder {
		if err := inv.walkChildren(name, map[string]bool{}); err != nil {
			return err
		}
	}
	return nil
}

func (inv *Inventory) walkChildren(name string, seen map[string]bool) error {
	if seen[name] {
		return fmt.Errorf("group membership cycle detected at %q", name)
	}
	seen[name] = true
	defer delete(seen, name)
	for _, child := range inv.groups[name].Children {
		if err := inv.walkChildren(child, seen); err != nil {
			return err
		}
	}
	return nil
}

// Hosts returns all hosts in declaration order.
func (inv *Inventory) Hosts() []*Host {
	out := make([]*Host, 0, len(inv.hostOrder))
	for _, name := range inv.hostOrder {
		out = append(out, inv.hosts[name])
	}
	return out
}

// Host returns the named host, if defined.
func (inv *Inventory) Host(name string) (*Host, bool) {
	h, ok := inv.hosts[name]
	return h, ok
}

// Groups returns all groups in declaration order.
func (inv *Inventory) Groups() []*Group {
	out := make([]*Group, 0, len(inv.groupOrder))
	for _, name := range inv.groupOrder {
		out = append(out, inv.groups[name])
	}
	return out
}

// Group returns the named group, if defined.
func (inv *Inventory) Group(name string) (*Group, bool) {
	g, ok := inv.groups[name]
	return g, ok
}

// HasGroup reports whether a group is defined (or is the implicit all group).
func (inv *Inventory) HasGroup(name string) bool {
	if name == GroupAll {
		return true
	}
	_, ok := inv.groups[name]
	return ok
}

// HostsInGroup returns the hosts of a group, walking child groups
// transitively. The implicit "all" group yields every host.
func (inv *Inventory) HostsInGroup(name string) ([]*Host, error) {
	if name == GroupAll {
		return inv.Hosts(), nil
	}
	g, ok := inv.groups[name]
	if !ok {
		return nil, fmt.Errorf("group %q not defined in inventory", name)
	}

	var out []*Host
	seen := make(map[string]bool)
	var collect func(g *Group)
	collect = func(g *Group) {
		for _, hn := range g.Hosts {
			if seen[hn] {
				continue
			}
			seen[hn] = true
			out = append(out, inv.hosts[hn])
		}
		for _, child := range g.Children {
			collect(inv.groups[child])
		}
	}
	collect(g)
	return out, nil
}

// GroupsOfHost returns the groups a host belongs to, ordered from broad to
// specific: parent groups reaching the host through children sections come
// first, direct membership groups last. Variable resolution applies them in
// this order so that more specific groups win.
func (inv *Inventory) GroupsOfHost(name string) []string {
	host, ok := inv.hosts[name]
	if !ok {
		return nil
	}

	direct := make(map[string]bool, len(host.groups))
	for _, g := range host.groups {
		direct[g] = true
	}

	var out []string
	for _, gname := range inv.groupOrder {
		if direct[gname] {
			continue
		}
		hosts, err := inv.HostsInGroup(gname)
		if err != nil {
			continue
		}
		for _, h := range hosts {
			if h.Name == name {
				out = append(out, gname)
				break
			}
		}
	}
	return append(out, host.groups...)
}
