// Package codec centralizes the encoding used for chunk metadata and
// snapshot manifests.
//
// Codec selection is a compatibility boundary: snapshot blobs record the
// codec name in their header and are decoded by selecting the codec by
// name, so changing the default never breaks existing snapshots.
package codec

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName returns a built-in codec by its stable name.
//
// Self-describing snapshot blobs store the codec name in their header and
// resolve it through this lookup on load.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "go-json":
		return GoJSON{}, true
	default:
		return nil, false
	}
}
