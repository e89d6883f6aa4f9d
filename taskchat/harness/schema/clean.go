package schema

// metadataKeys are JSON-Schema keys the model's function-declaration format rejects.
var metadataKeys = map[string]struct{}{
	"$schema":              {},
	"additionalProperties": {},
}

// Clean returns a copy of a tool input schema with metadata keys removed at
// every level reachable through "properties" and "items". Non-map values are
// returned unchanged. The input is never modified.
func Clean(v Value) Value {
	if v.kind != KindMap {
		return v.Clone()
	}

	out := newMap(len(v.keys))
	for _, k := range v.keys {
		if _, drop := metadataKeys[k]; drop {
			continue
		}
		child := v.m[k]
		switch k {
		case "properties":
			child = cleanProperties(child)
		case "items":
			child = cleanItems(child)
		default:
			child = child.Clone()
		}
		out.set(k, child)
	}
	return out
}

func cleanProperties(props Value) Value {
	if props.kind != KindMap {
		return props.Clone()
	}
	out := newMap(len(props.keys))
	for _, name := range props.keys {
		out.set(name, Clean(props.m[name]))
	}
	return out
}

// cleanItems handles both the single-schema and the tuple (list) form.
func cleanItems(items Value) Value {
	switch items.kind {
	case KindMap:
		return Clean(items)
	case KindList:
		out := make([]Value, len(items.list))
		for i, item := range items.list {
			out[i] = Clean(item)
		}
		return Value{kind: KindList, list: out}
	default:
		return items.Clone()
	}
}
