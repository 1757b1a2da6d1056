package domain

import "github.com/sahilm/fuzzy"

const maxSuggestions = 3

// Locate returns the first group, in declared order, whose name equals name
// exactly. The lookup is case-sensitive and does not trim.
func (c Configuration) Locate(name string) (ModGroup, error) {
	for _, group := range c.Groups {
		if group.Name == name {
			return group, nil
		}
	}
	return ModGroup{}, groupNotFoundError(name, c.suggest(name))
}

// GroupNames lists group names in declared order.
func (c Configuration) GroupNames() []string {
	names := make([]string, 0, len(c.Groups))
	for _, group := range c.Groups {
		names = append(names, group.Name)
	}
	return names
}

func (c Configuration) suggest(query string) []string {
	if query == "" || len(c.Groups) == 0 {
		return nil
	}
	names := c.GroupNames()
	matches := fuzzy.Find(query, names)
	var out []string
	seen := map[string]struct{}{}
	for _, match := range matches {
		if _, ok := seen[match.Str]; ok {
			continue
		}
		seen[match.Str] = struct{}{}
		out = append(out, match.Str)
		if len(out) == maxSuggestions {
			break
		}
	}
	return out
}
