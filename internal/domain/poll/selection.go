package poll

import "fmt"

// Selection is either Single(index) or Multiple(index, index).
type Selection struct {
	indexes  []int
	multiple bool
}

func Single(index int) Selection {
	return Selection{indexes: []int{index}}
}

func Multiple(first, second int) Selection {
	return Selection{indexes: []int{first, second}, multiple: true}
}

func (s Selection) IsMultiple() bool { return s.multiple }

func (s Selection) Indexes() []int {
	out := make([]int, len(s.indexes))
	copy(out, s.indexes)
	return out
}

// ParseSelection turns the loosely shaped wire fields into a Selection.
// declaredMultiple is the mode the client claims; when present it must agree
// with the fields that were sent.
func ParseSelection(optionIndex *int, optionIndexes []int, declaredMultiple *bool) (Selection, error) {
	switch {
	case optionIndex != nil && optionIndexes != nil:
		return Selection{}, fmt.Errorf("%w: send either optionIndex or optionIndexes, not both", ErrInvalidSelection)
	case optionIndexes != nil:
		if declaredMultiple != nil && !*declaredMultiple {
			return Selection{}, fmt.Errorf("%w: optionIndexes requires allowMultiple", ErrInvalidSelection)
		}
		if len(optionIndexes) != 2 {
			return Selection{}, fmt.Errorf("%w: select exactly 2 options", ErrInvalidSelection)
		}
		return Multiple(optionIndexes[0], optionIndexes[1]), nil
	case optionIndex != nil:
		if declaredMultiple != nil && *declaredMultiple {
			return Selection{}, fmt.Errorf("%w: select exactly 2 options", ErrInvalidSelection)
		}
		return Single(*optionIndex), nil
	default:
		return Selection{}, fmt.Errorf("%w: no option selected", ErrInvalidSelection)
	}
}

// Validate checks the selection against a poll's mode and option count.
func (s Selection) Validate(optionCount int, allowMultiple bool) error {
	if allowMultiple && !s.multiple {
		return fmt.Errorf("%w: select exactly 2 options", ErrInvalidSelection)
	}
	if !allowMultiple && s.multiple {
		return fmt.Errorf("%w: this poll accepts a single option", ErrInvalidSelection)
	}
	if s.multiple {
		if len(s.indexes) != 2 {
			return fmt.Errorf("%w: select exactly 2 options", ErrInvalidSelection)
		}
		if s.indexes[0] == s.indexes[1] {
			return fmt.Errorf("%w: select 2 different options", ErrInvalidSelection)
		}
	} else if len(s.indexes) != 1 {
		return fmt.Errorf("%w: select exactly 1 option", ErrInvalidSelection)
	}
	for _, idx := range s.indexes {
		if idx < 0 || idx >= optionCount {
			return fmt.Errorf("%w: option index %d out of range [0, %d)", ErrInvalidSelection, idx, optionCount)
		}
	}
	return nil
}
