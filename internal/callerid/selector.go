package callerid

import (
	"outbound-dialer/pkg/phone"
)

// Number is an outbound number the workspace may present as caller ID.
type Number struct {
	PhoneNumber  string `json:"phone_number"`
	AreaCode     string `json:"area_code"`
	FriendlyName string `json:"friendly_name,omitempty"`
}

// Input is everything the selection depends on. Re-running Select whenever any
// field changes replaces an implicit observer graph.
type Input struct {
	Numbers       []Number
	Selected      string
	TargetPhone   string
	LocalPresence bool
}

type Selection struct {
	Number string `json:"number"`
	// LocalMatch is true when Number shares the target's area code under local presence.
	LocalMatch bool `json:"local_match"`
	// Changed is true when Number differs from Input.Selected.
	Changed bool `json:"changed"`
}

// Select applies the local-presence policy:
//  1. local presence on and a number matches the target's area code: use it,
//     overriding any manual choice;
//  2. nothing selected yet: fall back to the first available number;
//  3. otherwise keep the current selection.
//
// Select is pure and idempotent: feeding its output back as Selected yields no change.
func Select(in Input) Selection {
	target := phone.AreaCode(in.TargetPhone)
	out := Selection{Number: in.Selected}

	if in.LocalPresence && target != "" {
		if n, ok := matchAreaCode(in.Numbers, target); ok {
			out.Number = n.PhoneNumber
		}
	}
	if out.Number == "" && len(in.Numbers) > 0 {
		out.Number = in.Numbers[0].PhoneNumber
	}

	out.Changed = out.Number != in.Selected
	out.LocalMatch = in.LocalPresence && target != "" && areaCodeOf(in.Numbers, out.Number) == target
	return out
}

func matchAreaCode(numbers []Number, areaCode string) (Number, bool) {
	for _, n := range numbers {
		if numberAreaCode(n) == areaCode {
			return n, true
		}
	}
	return Number{}, false
}

func areaCodeOf(numbers []Number, selected string) string {
	if selected == "" {
		return ""
	}
	for _, n := range numbers {
		if n.PhoneNumber == selected {
			return numberAreaCode(n)
		}
	}
	return phone.AreaCode(selected)
}

func numberAreaCode(n Number) string {
	if n.AreaCode != "" {
		return n.AreaCode
	}
	return phone.AreaCode(n.PhoneNumber)
}

// Keep reports in.Selected as is, without the local-presence override. It is
// used for a manual choice, which stands until the target or the number set
// changes.
func Keep(in Input) Selection {
	target := phone.AreaCode(in.TargetPhone)
	return Selection{
		Number:     in.Selected,
		LocalMatch: in.LocalPresence && target != "" && in.Selected != "" && areaCodeOf(in.Numbers, in.Selected) == target,
	}
}
