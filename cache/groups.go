package cache

// SetDeviceGroups replaces clientID's group membership with groupNames,
// rebuilding the groupMembers reverse index in lockstep: clientID is
// removed from any group not in the new list and inserted into all listed
// groups. A group whose membership becomes empty is deleted from the
// reverse index entirely.
func (c *Cache) SetDeviceGroups(clientID string, groupNames []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	want := make(map[string]struct{}, len(groupNames))
	for _, g := range groupNames {
		want[g] = struct{}{}
	}

	existing := c.deviceGroups[clientID]
	for g := range existing {
		if _, keep := want[g]; !keep {
			c.removeFromGroupLocked(clientID, g)
		}
	}

	next := make(map[string]struct{}, len(want))
	for g := range want {
		next[g] = struct{}{}
		members, ok := c.groupMembers[g]
		if !ok {
			members = make(map[string]struct{})
			c.groupMembers[g] = members
		}
		members[clientID] = struct{}{}
	}
	if len(next) == 0 {
		delete(c.deviceGroups, clientID)
	} else {
		c.deviceGroups[clientID] = next
	}
}

// removeFromGroupLocked removes clientID from group's membership, deleting
// the group's reverse-index entry if it becomes empty. Caller must hold
// c.mu.
func (c *Cache) removeFromGroupLocked(clientID, group string) {
	members, ok := c.groupMembers[group]
	if !ok {
		return
	}
	delete(members, clientID)
	if len(members) == 0 {
		delete(c.groupMembers, group)
	}
}

// IsDeviceInGroup reports whether clientID is a cached member of group.
// A false return means "not known to be a member", not "definitely not a
// member" — callers fall back to the Identity Store on a miss per the ACL
// contract.
func (c *Cache) IsDeviceInGroup(clientID, group string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	groups, ok := c.deviceGroups[clientID]
	if !ok {
		return false
	}
	_, in := groups[group]
	return in
}

// GroupMembers returns a snapshot of group's current cached membership.
func (c *Cache) GroupMembers(group string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	members := c.groupMembers[group]
	out := make([]string, 0, len(members))
	for cid := range members {
		out = append(out, cid)
	}
	return out
}

// DeviceGroups returns a snapshot of clientID's current cached group set.
func (c *Cache) DeviceGroups(clientID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	groups := c.deviceGroups[clientID]
	out := make([]string, 0, len(groups))
	for g := range groups {
		out = append(out, g)
	}
	return out
}
