package mcp

import (
	"sort"
	"strings"
)

// NameSeparator joins a server name and a tool name into a qualified name.
//
// The separator may also appear inside server and tool names, which makes
// splitting ambiguous; [Resolver.Resolve] handles that by preferring the
// longest registered server-name prefix.
const NameSeparator = "_"

// Join builds the qualified tool name offered to the model.
func Join(server, tool string) string {
	return server + NameSeparator + tool
}

// Resolver maps qualified tool names back to a server and bare tool name.
type Resolver struct {
	// servers holds registered server names sorted longest first, so that
	// prefix matching picks "time_http" over "time".
	servers       []string
	defaultServer string
}

// NewResolver builds a Resolver for the given registered server names.
// defaultServer, when non-empty, is assumed to own any name that matches no
// registered server.
func NewResolver(defaultServer string, servers []string) *Resolver {
	sorted := make([]string, len(servers))
	copy(sorted, servers)
	sort.Slice(sorted, func(i, j int) bool {
		if len(sorted[i]) != len(sorted[j]) {
			return len(sorted[i]) > len(sorted[j])
		}
		return sorted[i] < sorted[j]
	})
	return &Resolver{servers: sorted, defaultServer: defaultServer}
}

// Resolve splits a qualified tool name into its server and bare tool name.
//
// Resolution order:
//
//  1. The longest registered server name that prefixes the qualified name
//     (followed by the separator) wins.
//  2. Otherwise the name is cut at its first separator.
//  3. A name without any separator belongs to the default server, when one
//     is configured.
//
// ok is false when no rule applies.
func (r *Resolver) Resolve(qualified string) (server, tool string, ok bool) {
	for _, s := range r.servers {
		if rest, found := strings.CutPrefix(qualified, s+NameSeparator); found && rest != "" {
			return s, rest, true
		}
	}
	if before, after, found := strings.Cut(qualified, NameSeparator); found && before != "" && after != "" {
		return before, after, true
	}
	if r.defaultServer != "" && qualified != "" {
		return r.defaultServer, qualified, true
	}
	return "", "", false
}
