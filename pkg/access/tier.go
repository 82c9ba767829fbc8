package access

// ApplyInheritance grants lower tiers to holders of a higher tier: slot 2
// implies slots 1 and 0, slot 1 implies slot 0. Slots granted directly are
// left untouched. Inherited slots have no join link of their own.
func ApplyInheritance(servers [Slots]*ServerAccess) [Slots]*ServerAccess {
	for tier := Slots - 1; tier > 0; tier-- {
		if servers[tier] == nil {
			continue
		}
		for lower := tier - 1; lower >= 0; lower-- {
			if servers[lower] == nil {
				servers[lower] = &ServerAccess{Inherited: true}
			}
		}
		break
	}
	return servers
}
