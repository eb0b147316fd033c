package settlement

import (
	"encoding/json"
	"slices"
	"strings"

	"gorm.io/datatypes"
)

// WinningSet is the set of option ids declared winning. The zero value is
// the void outcome.
type WinningSet struct {
	ids []string
}

func NewWinningSet(ids ...string) WinningSet {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return WinningSet{ids: slices.Compact(out)}
}

// ParseWinningSet reads the set recorded on a pool. ok is false when nothing
// was recorded yet; a recorded empty array is a void outcome.
func ParseWinningSet(raw datatypes.JSON) (ws WinningSet, ok bool, err error) {
	if len(raw) == 0 || string(raw) == "null" {
		return WinningSet{}, false, nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return WinningSet{}, false, err
	}
	return NewWinningSet(ids...), true, nil
}

func (w WinningSet) Void() bool {
	return len(w.ids) == 0
}

func (w WinningSet) Contains(optionID string) bool {
	_, found := slices.BinarySearch(w.ids, optionID)
	return found
}

func (w WinningSet) Equal(other WinningSet) bool {
	return slices.Equal(w.ids, other.ids)
}

func (w WinningSet) IDs() []string {
	return slices.Clone(w.ids)
}

func (w WinningSet) JSON() datatypes.JSON {
	ids := w.ids
	if ids == nil {
		ids = []string{}
	}
	raw, _ := json.Marshal(ids)
	return datatypes.JSON(raw)
}

func (w WinningSet) String() string {
	if w.Void() {
		return "void"
	}
	return strings.Join(w.ids, ",")
}
