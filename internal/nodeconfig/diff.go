package nodeconfig

import (
	"fmt"
	"sort"
	"strings"
)

// ChangeKind classifies one entry in a structural diff.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeRemoved  ChangeKind = "removed"
	ChangeModified ChangeKind = "modified"
)

// Change is one difference between two config documents, addressed by a
// dotted key path.
type Change struct {
	Path string     `json:"path"`
	Kind ChangeKind `json:"kind"`
	Old  any        `json:"old,omitempty"`
	New  any        `json:"new,omitempty"`
}

// Diff walks two documents and returns every added, removed, and modified
// key, sorted by path.
func Diff(oldDoc, newDoc map[string]any) []Change {
	var changes []Change
	diffMaps("", oldDoc, newDoc, &changes)
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes
}

func diffMaps(prefix string, oldMap, newMap map[string]any, changes *[]Change) {
	for key, oldValue := range oldMap {
		path := joinPath(prefix, key)
		newValue, present := newMap[key]
		if !present {
			*changes = append(*changes, Change{Path: path, Kind: ChangeRemoved, Old: oldValue})
			continue
		}
		diffValues(path, oldValue, newValue, changes)
	}

	for key, newValue := range newMap {
		if _, present := oldMap[key]; !present {
			*changes = append(*changes, Change{Path: joinPath(prefix, key), Kind: ChangeAdded, New: newValue})
		}
	}
}

func diffValues(path string, oldValue, newValue any, changes *[]Change) {
	oldChild, oldIsMap := asMap(oldValue)
	newChild, newIsMap := asMap(newValue)
	if oldIsMap && newIsMap {
		diffMaps(path, oldChild, newChild, changes)
		return
	}

	if !equalValues(oldValue, newValue) {
		*changes = append(*changes, Change{Path: path, Kind: ChangeModified, Old: oldValue, New: newValue})
	}
}

// equalValues compares leaf values through their canonical rendering, so 5
// and 5.0 or reordered nested lists compare sanely.
func equalValues(a, b any) bool {
	return renderLeaf(a) == renderLeaf(b)
}

func renderLeaf(v any) string {
	if m, ok := asMap(v); ok {
		return Canonicalize(m)
	}
	if list, ok := v.([]any); ok {
		var b strings.Builder
		writeValue(&b, list, 0)
		return b.String()
	}
	return renderScalar(v)
}

// FormatChanges renders a diff as readable text, one change per line.
func FormatChanges(changes []Change) string {
	if len(changes) == 0 {
		return "no changes"
	}

	var b strings.Builder
	for _, change := range changes {
		switch change.Kind {
		case ChangeAdded:
			fmt.Fprintf(&b, "+ %s = %s\n", change.Path, renderLeaf(change.New))
		case ChangeRemoved:
			fmt.Fprintf(&b, "- %s (was %s)\n", change.Path, renderLeaf(change.Old))
		case ChangeModified:
			fmt.Fprintf(&b, "~ %s: %s -> %s\n", change.Path, renderLeaf(change.Old), renderLeaf(change.New))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
