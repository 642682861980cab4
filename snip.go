package velomigrate

type snipKey struct {
	entity       string
	relationship string
}

// snipSet holds the relationships traversal must not follow.
type snipSet map[snipKey]struct{}

// add reports whether the relationship was not snipped before.
func (s snipSet) add(entity, relationship string) bool {
	k := snipKey{entity, relationship}
	if _, ok := s[k]; ok {
		return false
	}
	s[k] = struct{}{}
	return true
}

func (s snipSet) has(entity, relationship string) bool {
	_, ok := s[snipKey{entity, relationship}]
	return ok
}
