package fakehost

import (
	"fmt"
	"strconv"
	"strings"
)

func (h *Host) exec(argv []string, stdin string, stdout, stderr *strings.Builder) int {
	switch argv[0] {
	case "sudo":
		rest := argv[1:]
		for len(rest) > 0 && strings.HasPrefix(rest[0], "-") {
			rest = rest[1:]
		}
		if len(rest) == 0 {
			stderr.WriteString("usage: sudo command\n")
			return 1
		}
		return h.exec(rest, stdin, stdout, stderr)
	case "sh":
		if len(argv) < 3 || argv[1] != "-c" {
			stderr.WriteString("sh: only -c is supported\n")
			return 2
		}
		out, errOut, code := h.runScript(argv[2], stdin)
		stdout.WriteString(out)
		stderr.WriteString(errOut)
		return code
	case "true":
		return 0
	case "echo":
		stdout.WriteString(strings.Join(argv[1:], " ") + "\n")
		return 0
	case "false":
		return 1
	case "id":
		fmt.Fprintf(stdout, "%d\n", h.uid)
		return 0
	case "[", "test":
		return h.test(argv)
	case "command":
		if len(argv) == 3 && argv[1] == "-v" {
			if h.binaries[argv[2]] {
				fmt.Fprintf(stdout, "/usr/sbin/%s\n", argv[2])
				return 0
			}
			return 1
		}
		return 2
	case "cat":
		if len(argv) == 1 {
			stdout.WriteString(stdin)
			return 0
		}
		for _, p := range argv[1:] {
			content, ok := h.files[p]
			if !ok {
				fmt.Fprintf(stderr, "cat: %s: No such file or directory\n", p)
				return 1
			}
			stdout.WriteString(content)
		}
		return 0
	case "ls":
		return h.ls(argv[1:], stdout, stderr)
	case "printf":
		return printf(argv[1:], stdout)
	case "rm":
		for _, path := range argv[1:] {
			if strings.HasPrefix(path, "-") {
				continue
			}
			delete(h.files, path)
		}
		return 0
	case "chmod":
		if len(argv) < 3 {
			return 1
		}
		if _, ok := h.files[argv[2]]; !ok {
			fmt.Fprintf(stderr, "chmod: cannot access '%s': No such file or directory\n", argv[2])
			return 1
		}
		return 0
	case "ip":
		return h.ip(argv[1:], stdout, stderr)
	case "nmcli":
		return h.nmcli(argv[1:], stdout, stderr)
	case "ifup":
		return h.ifup(argv[1:], stderr)
	case "ifdown":
		return h.ifdown(argv[1:], stderr)
	case "netplan":
		if len(argv) == 2 && argv[1] == "apply" {
			return h.netplanApply(stderr)
		}
		return 1
	case "dhclient":
		return h.dhclient(argv[1:])
	case "ping":
		return h.ping(argv[1:], stdout)
	default:
		fmt.Fprintf(stderr, "sh: %s: not found\n", argv[0])
		return 127
	}
}

func (h *Host) test(argv []string) int {
	args := argv[1:]
	if argv[0] == "[" {
		if len(args) == 0 || args[len(args)-1] != "]" {
			return 2
		}
		args = args[:len(args)-1]
	}
	if len(args) == 2 && (args[0] == "-f" || args[0] == "-e") {
		if _, ok := h.files[args[1]]; ok {
			return 0
		}
		return 1
	}
	return 2
}

func (h *Host) ls(args []string, stdout, stderr *strings.Builder) int {
	code := 0
	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			continue
		}
		if _, ok := h.files[a]; ok {
			stdout.WriteString(a + "\n")
			continue
		}
		fmt.Fprintf(stderr, "ls: cannot access '%s': No such file or directory\n", a)
		code = 2
	}
	return code
}

func printf(args []string, stdout *strings.Builder) int {
	if len(args) == 0 {
		return 1
	}
	format := strings.NewReplacer(`\n`, "\n", `\t`, "\t", "%%", "\x00").Replace(args[0])
	values := args[1:]
	verbs := strings.Count(format, "%s")
	if verbs == 0 {
		stdout.WriteString(strings.ReplaceAll(format, "\x00", "%"))
		return 0
	}
	for {
		out := format
		for i := 0; i < verbs; i++ {
			v := ""
			if len(values) > 0 {
				v, values = values[0], values[1:]
			}
			out = strings.Replace(out, "%s", v, 1)
		}
		stdout.WriteString(strings.ReplaceAll(out, "\x00", "%"))
		if len(values) == 0 {
			return 0
		}
	}
}

func (h *Host) dhclient(args []string) int {
	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			continue
		}
		h.acquireLease(a, a)
	}
	return 0
}

func (h *Host) acquireLease(iface, label string) {
	l := h.link(iface)
	lease, ok := h.leases[iface]
	if l == nil || !ok {
		return
	}
	for _, a := range l.addrs {
		if a.cidr == lease {
			return
		}
	}
	l.addrs = append(l.addrs, address{cidr: lease, dynamic: true, label: label})
}

func (h *Host) ping(args []string, stdout *strings.Builder) int {
	if len(args) == 0 {
		return 2
	}
	target := args[len(args)-1]
	fmt.Fprintf(stdout, "PING %s (%s) 56(84) bytes of data.\n64 bytes from %s: icmp_seq=1 ttl=64 time=0.42 ms\n", target, target, target)
	return 0
}

func (h *Host) ip(args []string, stdout, stderr *strings.Builder) int {
	if len(args) > 0 && args[0] == "-o" {
		args = args[1:]
	}
	if len(args) < 2 {
		stderr.WriteString("Usage: ip [ OPTIONS ] OBJECT { COMMAND | help }\n")
		return 1
	}
	object, verb, rest := args[0], args[1], args[2:]

	switch {
	case (object == "addr" || object == "a") && verb == "show":
		stdout.WriteString(h.renderAddrs())
		return 0
	case object == "link" && verb == "show":
		stdout.WriteString(h.renderLinks())
		return 0
	case object == "route" && verb == "show":
		stdout.WriteString(h.renderRoutes())
		return 0
	case object == "link" && verb == "set":
		if len(rest) < 2 {
			return 1
		}
		l := h.link(rest[0])
		if l == nil {
			return noDevice(stderr, rest[0])
		}
		l.up = rest[1] == "up"
		return 0
	}

	dev := argAfter(rest, "dev")
	l := h.link(dev)
	if l == nil {
		return noDevice(stderr, dev)
	}

	switch {
	case object == "addr" && verb == "flush":
		l.addrs = nil
		return 0
	case object == "addr" && verb == "add":
		cidr := rest[0]
		for _, a := range l.addrs {
			if a.cidr == cidr {
				stderr.WriteString("RTNETLINK answers: File exists\n")
				return 2
			}
		}
		l.addrs = append(l.addrs, address{cidr: cidr, label: l.name})
		return 0
	case object == "addr" && verb == "del":
		cidr := rest[0]
		for i, a := range l.addrs {
			if a.cidr == cidr {
				l.addrs = append(l.addrs[:i], l.addrs[i+1:]...)
				return 0
			}
		}
		stderr.WriteString("RTNETLINK answers: Cannot assign requested address\n")
		return 2
	case object == "route" && (verb == "replace" || verb == "add"):
		if len(rest) == 0 || rest[0] != "default" {
			return 0
		}
		if _, exists := h.routes[l.name]; exists && verb == "add" {
			stderr.WriteString("RTNETLINK answers: File exists\n")
			return 2
		}
		h.routes[l.name] = argAfter(rest, "via")
		return 0
	case object == "route" && verb == "del":
		if _, ok := h.routes[l.name]; !ok {
			stderr.WriteString("RTNETLINK answers: No such process\n")
			return 2
		}
		delete(h.routes, l.name)
		return 0
	}
	fmt.Fprintf(stderr, "ip: unsupported command %q\n", strings.Join(args, " "))
	return 1
}

func noDevice(stderr *strings.Builder, dev string) int {
	fmt.Fprintf(stderr, "Cannot find device %q\n", dev)
	return 1
}

func argAfter(args []string, key string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == key {
			return args[i+1]
		}
	}
	return ""
}

func (h *Host) ifdown(args []string, stderr *strings.Builder) int {
	name := ""
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			name = a
		}
	}
	base, _, _ := strings.Cut(name, ":")
	l := h.link(base)
	if l == nil {
		fmt.Fprintf(stderr, "ifdown: unknown interface %s\n", name)
		return 1
	}
	kept := l.addrs[:0]
	removed := false
	for _, a := range l.addrs {
		if a.label == name {
			removed = true
			continue
		}
		kept = append(kept, a)
	}
	l.addrs = kept
	if !strings.Contains(name, ":") {
		delete(h.routes, base)
	}
	if !removed {
		fmt.Fprintf(stderr, "ifdown: interface %s not configured\n", name)
		return 1
	}
	return 0
}

func (h *Host) ifup(args []string, stderr *strings.Builder) int {
	if len(args) == 0 {
		return 1
	}
	name := args[len(args)-1]
	base, _, _ := strings.Cut(name, ":")
	l := h.link(base)
	if l == nil {
		fmt.Fprintf(stderr, "ifup: unknown interface %s\n", name)
		return 1
	}
	for _, a := range l.addrs {
		if a.label == name {
			return 0
		}
	}

	st, ok := findStanza(h.files["/etc/network/interfaces"], name)
	if !ok {
		fmt.Fprintf(stderr, "ifup: unknown interface %s\n", name)
		return 1
	}
	switch st.method {
	case "dhcp":
		h.acquireLease(base, name)
	case "static":
		cidr := st.address
		if !strings.Contains(cidr, "/") && st.netmask != "" {
			cidr += "/" + prefixFromMask(st.netmask)
		}
		for _, a := range l.addrs {
			if a.cidr == cidr {
				stderr.WriteString("RTNETLINK answers: File exists\n")
				return 1
			}
		}
		l.addrs = append(l.addrs, address{cidr: cidr, label: name})
		if st.gateway != "" {
			h.routes[base] = st.gateway
		}
	}
	l.up = true
	return 0
}

type stanza struct {
	method  string
	address string
	netmask string
	gateway string
}

func findStanza(content, name string) (stanza, bool) {
	var st stanza
	found := false
	for _, line := range strings.Split(content, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "iface":
			if found {
				return st, true
			}
			if len(fields) >= 4 && fields[1] == name {
				found = true
				st.method = fields[3]
			}
			continue
		case "auto", "allow-hotplug", "mapping", "source":
			if found {
				return st, true
			}
			continue
		}
		if !found || len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "address":
			st.address = fields[1]
		case "netmask":
			st.netmask = fields[1]
		case "gateway":
			st.gateway = fields[1]
		}
	}
	return st, found
}

func (h *Host) nmcli(args []string, stdout, stderr *strings.Builder) int {
	terse := false
	fields := ""
	getField := ""
	for len(args) > 0 && strings.HasPrefix(args[0], "-") {
		switch args[0] {
		case "-t":
			terse = true
			args = args[1:]
		case "-f":
			fields, args = args[1], args[2:]
		case "-g":
			getField, args = args[1], args[2:]
		default:
			args = args[1:]
		}
	}
	_ = terse
	if len(args) < 2 {
		return 2
	}

	switch {
	case args[0] == "con" && args[1] == "show" && getField != "":
		if len(args) < 3 {
			return 2
		}
		p := h.profile(args[2])
		if p == nil {
			return unknownConnection(stderr, args[2])
		}
		if getField == "ipv4.addresses" {
			stdout.WriteString(strings.Join(p.addresses, ", ") + "\n")
		}
		return 0
	case args[0] == "con" && args[1] == "show" && fields == "NAME,DEVICE":
		for _, p := range h.profiles {
			device := ""
			if p.active {
				device = p.device
			}
			fmt.Fprintf(stdout, "%s:%s\n", escapeTerse(p.name), device)
		}
		return 0
	case args[0] == "dev" && args[1] == "status":
		for _, l := range h.links {
			conn := "--"
			for _, p := range h.profiles {
				if p.active && p.device == l.name {
					conn = p.name
				}
			}
			fmt.Fprintf(stdout, "%s:%s\n", escapeTerse(conn), l.name)
		}
		return 0
	case args[0] == "con" && args[1] == "mod":
		if len(args) < 3 {
			return 2
		}
		return h.nmcliModify(args[2], args[3:], stderr)
	case args[0] == "con" && args[1] == "up":
		if len(args) < 3 {
			return 2
		}
		return h.nmcliUp(args[2], stderr)
	}
	fmt.Fprintf(stderr, "Error: unsupported nmcli command %q\n", strings.Join(args, " "))
	return 2
}

func escapeTerse(s string) string {
	return strings.ReplaceAll(s, ":", `\:`)
}

func unknownConnection(stderr *strings.Builder, name string) int {
	fmt.Fprintf(stderr, "Error: unknown connection '%s'.\n", name)
	return 10
}

func (h *Host) nmcliModify(name string, pairs []string, stderr *strings.Builder) int {
	p := h.profile(name)
	if p == nil {
		return unknownConnection(stderr, name)
	}
	if len(pairs)%2 != 0 {
		stderr.WriteString("Error: value for property missing.\n")
		return 2
	}
	next := *p
	next.addresses = append([]string(nil), p.addresses...)

	for i := 0; i < len(pairs); i += 2 {
		prop, value := pairs[i], pairs[i+1]
		switch prop {
		case "+ipv4.addresses":
			for _, v := range splitList(value) {
				if !contains(next.addresses, v) {
					next.addresses = append(next.addresses, v)
				}
			}
		case "-ipv4.addresses":
			for _, v := range splitList(value) {
				next.addresses = remove(next.addresses, v)
			}
		case "ipv4.addresses":
			next.addresses = splitList(value)
		case "ipv4.gateway":
			next.gateway = value
		case "ipv4.dns":
			next.dns = value
		case "ipv4.method":
			next.method = value
		case "connection.autoconnect":
			next.autoconnect = value
		default:
			fmt.Fprintf(stderr, "Error: invalid property '%s'.\n", prop)
			return 2
		}
	}
	if next.method == "manual" && len(next.addresses) == 0 {
		stderr.WriteString("Error: Failed to modify connection: ipv4.addresses: this property cannot be empty for 'method=manual'\n")
		return 4
	}
	*p = next
	return 0
}

func (h *Host) nmcliUp(name string, stderr *strings.Builder) int {
	p := h.profile(name)
	if p == nil {
		return unknownConnection(stderr, name)
	}
	l := h.link(p.device)
	if l == nil {
		fmt.Fprintf(stderr, "Error: Connection activation failed: no device for '%s'.\n", name)
		return 4
	}
	for _, other := range h.profiles {
		if other != p && other.device == p.device {
			other.active = false
		}
	}
	p.active = true
	l.up = true
	l.addrs = nil
	delete(h.routes, l.name)

	switch p.method {
	case "manual":
		for _, c := range p.addresses {
			l.addrs = append(l.addrs, address{cidr: c, label: l.name})
		}
		if p.gateway != "" {
			h.routes[l.name] = p.gateway
		}
	case "auto":
		h.acquireLease(l.name, l.name)
	}
	return 0
}

func splitList(value string) []string {
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func remove(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

// prefixFromMask converts a dotted mask to a prefix length string.
func prefixFromMask(mask string) string {
	if _, err := strconv.Atoi(mask); err == nil {
		return mask
	}
	bits := 0
	for _, part := range strings.Split(mask, ".") {
		n, err := strconv.Atoi(part)
		if err != nil {
			return mask
		}
		for n&0x80 != 0 {
			bits++
			n = (n << 1) & 0xff
		}
	}
	return strconv.Itoa(bits)
}
