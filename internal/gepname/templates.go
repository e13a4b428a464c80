package gepname

import "time"

// Grammar constants — the shared name vocabulary of spec.md §6. Process-wide,
// immutable once initialized: safe as read-only globals.
const (
	CompRead   = "READ"
	CompSample = "SAMPLE"
	CompFor    = "FOR"
	CompAccess = "ACCESS"
	CompEKey   = "E-KEY"
	CompDKey   = "D-KEY"
	CompCKey   = "C-KEY"
)

// ContentNamespace returns "<prefix>/SAMPLE/<dataType>", the namespace under
// which produced content objects are published.
func ContentNamespace(prefix, dataType string) Name {
	return New(prefix).Append(CompSample).Append(dataType)
}

// ContentName returns "<prefix>/SAMPLE/<dataType>/<iso(ts)>".
func ContentName(prefix, dataType string, ts time.Time) Name {
	return ContentNamespace(prefix, dataType).Append(ISO(ts))
}

// ContentKeyName returns "<namespace>/C-KEY/<iso(hour)>".
func ContentKeyName(namespace Name, hour time.Time) Name {
	return namespace.Append(CompCKey).Append(ISO(hour))
}

// EKeyAuthorityName returns "<prefix>/READ/<suffix>/E-KEY" for one node of
// the data-type hierarchy (suffix may be empty).
func EKeyAuthorityName(prefix, suffix string) Name {
	n := New(prefix).Append(CompRead)
	if suffix != "" {
		n = n.Append(suffix)
	}
	return n.Append(CompEKey)
}

// EKeyInstanceName returns "<authority>/<iso(begin)>/<iso(end)>".
func EKeyInstanceName(authority Name, begin, end time.Time) Name {
	return authority.Append(ISO(begin)).Append(ISO(end))
}

// DKeyInstanceName derives "<prefix>/READ/<suffix>/D-KEY/<iso(begin)>/<iso(end)>"
// given the matching E-KEY authority name.
func DKeyInstanceName(eKeyAuthority Name, begin, end time.Time) Name {
	base := eKeyAuthority.DropLast(1) // drop "E-KEY"
	return base.Append(CompDKey).Append(ISO(begin)).Append(ISO(end))
}

// DKeyNameFromEKeyInstance derives the D-KEY instance name from a full E-KEY
// instance name (".../E-KEY/<begin>/<end>"), per spec.md §4.6 step 2:
// replace the "E-KEY/<begin>/<end>" tail with "D-KEY/<begin>/<end>".
func DKeyNameFromEKeyInstance(eKeyInstance Name) Name {
	n := eKeyInstance.Len()
	begin := eKeyInstance.At(n - 2)
	end := eKeyInstance.At(n - 1)
	base := eKeyInstance.DropLast(3) // drop "E-KEY", begin, end
	return base.Append(CompDKey).Append(string(begin)).Append(string(end))
}

// CKeyFetchName returns "<cKeyName>/FOR/<group>".
func CKeyFetchName(cKeyName Name, group string) Name {
	return cKeyName.Append(CompFor).Append(group)
}

// DKeyFetchName returns "<dKeyName>/FOR/<consumer>".
func DKeyFetchName(dKeyName Name, consumer string) Name {
	return dKeyName.Append(CompFor).Append(consumer)
}

// DataTypeSuffixes enumerates every suffix of dataType, including the empty
// suffix, innermost first — the hierarchy of group authorities that must
// each wrap a content key, per spec.md §4.5's initialization step.
//
// For dataType "/b/c" this yields ["b/c", "c", ""].
func DataTypeSuffixes(dataType string) []string {
	comps := New(dataType).comps
	suffixes := make([]string, 0, len(comps)+1)
	for i := 0; i < len(comps); i++ {
		parts := make([]string, 0, len(comps)-i)
		for _, c := range comps[i:] {
			parts = append(parts, string(c))
		}
		suffixes = append(suffixes, joinSlash(parts))
	}
	suffixes = append(suffixes, "")
	return suffixes
}

func joinSlash(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "/"
		}
		out += p
	}
	return out
}
