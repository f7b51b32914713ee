package notion

import (
	"fmt"
	"strconv"

	"github.com/jomei/notionapi"
)

// Filter is a database query filter: a single equality condition on a status,
// select or checkbox property, or an AND of such conditions.
type Filter struct {
	Property string
	Status   *string
	Select   *string
	Checkbox *bool
	And      []Filter
}

// api converts the filter to the notionapi filter grammar. A false checkbox
// is sent as does_not_equal true, since equals false is dropped on the wire.
func (f Filter) api() (notionapi.Filter, error) {
	if len(f.And) > 0 {
		and := make(notionapi.AndCompoundFilter, 0, len(f.And))
		for _, sub := range f.And {
			af, err := sub.api()
			if err != nil {
				return nil, err
			}
			and = append(and, af)
		}
		return and, nil
	}

	pf := &notionapi.PropertyFilter{Property: f.Property}
	switch {
	case f.Status != nil:
		pf.Status = &notionapi.StatusFilterCondition{Equals: *f.Status}
	case f.Select != nil:
		pf.Select = &notionapi.SelectFilterCondition{Equals: *f.Select}
	case f.Checkbox != nil && *f.Checkbox:
		pf.Checkbox = &notionapi.CheckboxFilterCondition{Equals: true}
	case f.Checkbox != nil:
		pf.Checkbox = &notionapi.CheckboxFilterCondition{DoesNotEqual: true}
	default:
		return nil, fmt.Errorf("filter on %q has no condition", f.Property)
	}
	return pf, nil
}

// Condition is an equality condition as configured by the user.
type Condition struct {
	Property string
	Type     string
	Equals   string
}

// FilterFrom builds a filter from conditions: nil for none, the bare condition
// for one, an AND for several.
func FilterFrom(conds []Condition) (*Filter, error) {
	var filters []Filter
	for _, c := range conds {
		f := Filter{Property: c.Property}
		value := c.Equals
		switch c.Type {
		case "status":
			f.Status = &value
		case "select":
			f.Select = &value
		case "checkbox":
			b, err := strconv.ParseBool(c.Equals)
			if err != nil {
				return nil, fmt.Errorf("checkbox filter on %q: %w", c.Property, err)
			}
			f.Checkbox = &b
		default:
			return nil, fmt.Errorf("unsupported filter type %q on %q", c.Type, c.Property)
		}
		filters = append(filters, f)
	}

	switch len(filters) {
	case 0:
		return nil, nil
	case 1:
		return &filters[0], nil
	default:
		return &Filter{And: filters}, nil
	}
}
