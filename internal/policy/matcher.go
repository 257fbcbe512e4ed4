package policy

import (
	"strings"

	"inventariagent/internal/format"
	"inventariagent/internal/model"
)

// Verdict is the outcome of classifying one process.
type Verdict string

const (
	VerdictAllowed Verdict = "allowed"
	VerdictBlocked Verdict = "blocked"
	VerdictIgnored Verdict = "ignored"
)

// Decision reasons.
const (
	ReasonExplicitlyAllowed = "explicitly_allowed"
	ReasonAllowedTool       = "allowed_tool"
	ReasonOverride          = "override"
	ReasonBlocklist         = "blocklist"
	ReasonSignature         = "signature"
	ReasonUnlisted          = "unlisted"
)

// Decision is the classification of a ProcessObservation. Name is the
// effective executable name after disambiguation.
type Decision struct {
	Verdict  Verdict
	Name     string
	Category string
	Reason   string
}

func (d Decision) Blocked() bool { return d.Verdict == VerdictBlocked }

type disguise struct {
	signature string
	name      string
	category  string
}

var interpreterHosts = map[string]bool{"java": true, "javaw": true}

// Command-line signatures of applications that run under a JVM.
var jvmDisguises = []disguise{
	{signature: "tlauncher", name: "tlauncher.exe", category: "launcher_juegos"},
	{signature: "sklauncher", name: "sklauncher.exe", category: "launcher_juegos"},
	{signature: "net.minecraft.client", name: "minecraft.exe", category: "launcher_juegos"},
}

type override struct {
	substr   string
	category string
}

// Vendor launchers that respawn under renamed binaries.
var forcedBlocks = []override{
	{substr: "epicgameslauncher", category: "launcher_juegos"},
	{substr: "riotclient", category: "launcher_juegos"},
	{substr: "battle.net", category: "launcher_juegos"},
	{substr: "eadesktop", category: "launcher_juegos"},
	{substr: "ubisoftconnect", category: "launcher_juegos"},
	{substr: "bluestacks", category: "android_emulador"},
	{substr: "hd-player", category: "android_emulador"},
	{substr: "ldplayer", category: "android_emulador"},
}

// Policy is a compiled, read-only policy. The zero value blocks nothing
// beyond the fixed overrides.
type Policy struct {
	blocked map[string]string
	allowed map[string]bool
	tools   map[string]bool
}

// Counts returns the sizes of the blocked, allowed and tools tables.
func (p *Policy) Counts() (blocked, allowed, tools int) {
	if p == nil {
		return 0, 0, 0
	}
	return len(p.blocked), len(p.allowed), len(p.tools)
}

// Classify decides what to do with obs. First match wins: allow lists,
// fixed overrides, blocklist, then a disguise signature's own category.
func (p *Policy) Classify(obs model.ProcessObservation) Decision {
	name := format.BaseName(obs.Name)
	if name == "" {
		return Decision{Verdict: VerdictIgnored, Reason: ReasonUnlisted}
	}

	var masked *disguise
	if interpreterHosts[key(name)] {
		cmd := strings.ToLower(obs.Cmdline)
		for i := range jvmDisguises {
			if strings.Contains(cmd, jvmDisguises[i].signature) {
				masked = &jvmDisguises[i]
				name = masked.name
				break
			}
		}
	}

	k := key(name)
	if p != nil {
		if p.allowed[k] {
			return Decision{Verdict: VerdictAllowed, Name: name, Reason: ReasonExplicitlyAllowed}
		}
		if p.tools[k] {
			return Decision{Verdict: VerdictAllowed, Name: name, Reason: ReasonAllowedTool}
		}
	}

	for _, o := range forcedBlocks {
		if strings.Contains(name, o.substr) {
			return Decision{Verdict: VerdictBlocked, Name: name, Category: o.category, Reason: ReasonOverride}
		}
	}

	if p != nil {
		if cat, ok := p.blocked[k]; ok {
			return Decision{Verdict: VerdictBlocked, Name: name, Category: cat, Reason: ReasonBlocklist}
		}
	}
	if masked != nil {
		return Decision{Verdict: VerdictBlocked, Name: name, Category: masked.category, Reason: ReasonSignature}
	}
	return Decision{Verdict: VerdictIgnored, Name: name, Reason: ReasonUnlisted}
}
