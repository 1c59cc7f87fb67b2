package permit

import "errors"

// Policy CRUD. The p/g shorthand methods operate on the default "p" and
// "g" definitions; the Named variants take the definition key explicitly.
// Add and Remove report whether anything changed rather than erroring on
// duplicates and absences.

func (e *Enforcer) GetPolicy() [][]string {
	return e.GetNamedPolicy(sectionPolicy)
}

func (e *Enforcer) GetNamedPolicy(ptype string) [][]string {
	return e.model.Rows(sectionPolicy, ptype)
}

func (e *Enforcer) GetFilteredPolicy(fieldIndex int, fieldValues ...string) [][]string {
	return e.GetFilteredNamedPolicy(sectionPolicy, fieldIndex, fieldValues...)
}

func (e *Enforcer) GetFilteredNamedPolicy(ptype string, fieldIndex int, fieldValues ...string) [][]string {
	a, ok := e.model.GetAssertion(sectionPolicy, ptype)
	if !ok {
		return nil
	}
	rules := a.getFilteredPolicy(fieldIndex, fieldValues...)
	out := make([][]string, len(rules))
	for i, r := range rules {
		out[i] = r.Strings()
	}
	return out
}

func (e *Enforcer) GetGroupingPolicy() [][]string {
	return e.GetNamedGroupingPolicy(sectionRole)
}

func (e *Enforcer) GetNamedGroupingPolicy(ptype string) [][]string {
	return e.model.Rows(sectionRole, ptype)
}

func (e *Enforcer) HasPolicy(fields ...string) bool {
	return e.HasNamedPolicy(sectionPolicy, fields...)
}

func (e *Enforcer) HasNamedPolicy(ptype string, fields ...string) bool {
	a, ok := e.model.GetAssertion(sectionPolicy, ptype)
	return ok && a.hasPolicy(newStringRule(fields))
}

func (e *Enforcer) HasGroupingPolicy(fields ...string) bool {
	return e.HasNamedGroupingPolicy(sectionRole, fields...)
}

func (e *Enforcer) HasNamedGroupingPolicy(ptype string, fields ...string) bool {
	a, ok := e.model.GetAssertion(sectionRole, ptype)
	return ok && a.hasPolicy(newStringRule(fields))
}

func (e *Enforcer) AddPolicy(fields ...string) (bool, error) {
	return e.addPolicyInternal(sectionPolicy, sectionPolicy, fields)
}

func (e *Enforcer) AddNamedPolicy(ptype string, fields ...string) (bool, error) {
	return e.addPolicyInternal(sectionPolicy, ptype, fields)
}

func (e *Enforcer) AddGroupingPolicy(fields ...string) (bool, error) {
	return e.addPolicyInternal(sectionRole, sectionRole, fields)
}

func (e *Enforcer) AddNamedGroupingPolicy(ptype string, fields ...string) (bool, error) {
	return e.addPolicyInternal(sectionRole, ptype, fields)
}

func (e *Enforcer) AddPolicies(rules [][]string) (bool, error) {
	return e.addPoliciesInternal(sectionPolicy, sectionPolicy, rules)
}

func (e *Enforcer) AddNamedPolicies(ptype string, rules [][]string) (bool, error) {
	return e.addPoliciesInternal(sectionPolicy, ptype, rules)
}

func (e *Enforcer) AddGroupingPolicies(rules [][]string) (bool, error) {
	return e.addPoliciesInternal(sectionRole, sectionRole, rules)
}

func (e *Enforcer) RemovePolicy(fields ...string) (bool, error) {
	return e.removePolicyInternal(sectionPolicy, sectionPolicy, fields)
}

func (e *Enforcer) RemoveNamedPolicy(ptype string, fields ...string) (bool, error) {
	return e.removePolicyInternal(sectionPolicy, ptype, fields)
}

func (e *Enforcer) RemoveGroupingPolicy(fields ...string) (bool, error) {
	return e.removePolicyInternal(sectionRole, sectionRole, fields)
}

func (e *Enforcer) RemoveNamedGroupingPolicy(ptype string, fields ...string) (bool, error) {
	return e.removePolicyInternal(sectionRole, ptype, fields)
}

func (e *Enforcer) RemovePolicies(rules [][]string) (bool, error) {
	return e.removePoliciesInternal(sectionPolicy, sectionPolicy, rules)
}

func (e *Enforcer) RemoveGroupingPolicies(rules [][]string) (bool, error) {
	return e.removePoliciesInternal(sectionRole, sectionRole, rules)
}

func (e *Enforcer) RemoveFilteredPolicy(fieldIndex int, fieldValues ...string) (bool, error) {
	return e.removeFilteredPolicyInternal(sectionPolicy, sectionPolicy, fieldIndex, fieldValues)
}

func (e *Enforcer) RemoveFilteredNamedPolicy(ptype string, fieldIndex int, fieldValues ...string) (bool, error) {
	return e.removeFilteredPolicyInternal(sectionPolicy, ptype, fieldIndex, fieldValues)
}

func (e *Enforcer) RemoveFilteredGroupingPolicy(fieldIndex int, fieldValues ...string) (bool, error) {
	return e.removeFilteredPolicyInternal(sectionRole, sectionRole, fieldIndex, fieldValues)
}

func (e *Enforcer) UpdatePolicy(oldFields, newFields []string) (bool, error) {
	return e.updatePolicyInternal(sectionPolicy, sectionPolicy, oldFields, newFields)
}

func (e *Enforcer) UpdateNamedPolicy(ptype string, oldFields, newFields []string) (bool, error) {
	return e.updatePolicyInternal(sectionPolicy, ptype, oldFields, newFields)
}

// addPolicyInternal applies one row in memory, maintains role links for
// grouping rows, then persists and notifies. Persistence failure keeps the
// in-memory row but suppresses the watcher notification.
func (e *Enforcer) addPolicyInternal(sec, ptype string, fields []string) (bool, error) {
	a, err := e.model.requireAssertion(sec, ptype)
	if err != nil {
		return false, err
	}
	rule := newStringRule(fields)
	if a.hasPolicy(rule) {
		return false, nil
	}
	if err := a.addPolicy(rule); err != nil {
		return false, err
	}
	defer e.changed()
	if err := e.afterPolicyChange(sec, ptype, PolicyAdd, []*Rule{rule}); err != nil {
		return false, err
	}
	persisted := e.persistMutation(func(ad Adapter) error {
		return ad.AddPolicy(sec, ptype, fields)
	})
	e.notifyWatcher(persisted)
	return true, nil
}

func (e *Enforcer) addPoliciesInternal(sec, ptype string, rows [][]string) (bool, error) {
	a, err := e.model.requireAssertion(sec, ptype)
	if err != nil {
		return false, err
	}
	var added []*Rule
	var addedRows [][]string
	defer func() {
		if len(added) > 0 {
			e.changed()
		}
	}()
	for _, fields := range rows {
		rule := newStringRule(fields)
		if a.hasPolicy(rule) {
			continue
		}
		if err := a.addPolicy(rule); err != nil {
			return len(added) > 0, err
		}
		added = append(added, rule)
		addedRows = append(addedRows, fields)
	}
	if len(added) == 0 {
		return false, nil
	}
	if err := e.afterPolicyChange(sec, ptype, PolicyAdd, added); err != nil {
		return true, err
	}
	persisted := e.persistMutation(func(ad Adapter) error {
		if ba, ok := ad.(BatchAdapter); ok {
			return ba.AddPolicies(sec, ptype, addedRows)
		}
		for _, fields := range addedRows {
			if err := ad.AddPolicy(sec, ptype, fields); err != nil {
				return err
			}
		}
		return nil
	})
	e.notifyWatcher(persisted)
	return true, nil
}

func (e *Enforcer) removePolicyInternal(sec, ptype string, fields []string) (bool, error) {
	a, err := e.model.requireAssertion(sec, ptype)
	if err != nil {
		return false, err
	}
	rule := newStringRule(fields)
	if !a.removePolicy(rule) {
		return false, nil
	}
	defer e.changed()
	if err := e.afterPolicyChange(sec, ptype, PolicyRemove, []*Rule{rule}); err != nil {
		return false, err
	}
	persisted := e.persistMutation(func(ad Adapter) error {
		return ad.RemovePolicy(sec, ptype, fields)
	})
	e.notifyWatcher(persisted)
	return true, nil
}

func (e *Enforcer) removePoliciesInternal(sec, ptype string, rows [][]string) (bool, error) {
	a, err := e.model.requireAssertion(sec, ptype)
	if err != nil {
		return false, err
	}
	var removed []*Rule
	var removedRows [][]string
	defer func() {
		if len(removed) > 0 {
			e.changed()
		}
	}()
	for _, fields := range rows {
		rule := newStringRule(fields)
		if a.removePolicy(rule) {
			removed = append(removed, rule)
			removedRows = append(removedRows, fields)
		}
	}
	if len(removed) == 0 {
		return false, nil
	}
	if err := e.afterPolicyChange(sec, ptype, PolicyRemove, removed); err != nil {
		return true, err
	}
	persisted := e.persistMutation(func(ad Adapter) error {
		if ba, ok := ad.(BatchAdapter); ok {
			return ba.RemovePolicies(sec, ptype, removedRows)
		}
		for _, fields := range removedRows {
			if err := ad.RemovePolicy(sec, ptype, fields); err != nil {
				return err
			}
		}
		return nil
	})
	e.notifyWatcher(persisted)
	return true, nil
}

func (e *Enforcer) removeFilteredPolicyInternal(sec, ptype string, fieldIndex int, fieldValues []string) (bool, error) {
	a, err := e.model.requireAssertion(sec, ptype)
	if err != nil {
		return false, err
	}
	removed := a.removeFilteredPolicy(fieldIndex, fieldValues...)
	if len(removed) == 0 {
		return false, nil
	}
	defer e.changed()
	if err := e.afterPolicyChange(sec, ptype, PolicyRemove, removed); err != nil {
		return true, err
	}
	persisted := e.persistMutation(func(ad Adapter) error {
		return ad.RemoveFilteredPolicy(sec, ptype, fieldIndex, fieldValues...)
	})
	e.notifyWatcher(persisted)
	return true, nil
}

func (e *Enforcer) updatePolicyInternal(sec, ptype string, oldFields, newFields []string) (bool, error) {
	a, err := e.model.requireAssertion(sec, ptype)
	if err != nil {
		return false, err
	}
	oldRule := newStringRule(oldFields)
	newRule := newStringRule(newFields)
	if !a.hasPolicy(oldRule) {
		return false, nil
	}
	if err := a.updatePolicy(oldRule, newRule); err != nil {
		return false, err
	}
	defer e.changed()
	if sec == sectionRole && e.autoBuildRoleLinks {
		if err := e.model.BuildIncrementalRoleLinks(e.rmMap, PolicyRemove, ptype, []*Rule{oldRule}); err != nil {
			return false, err
		}
		if err := e.model.BuildIncrementalRoleLinks(e.rmMap, PolicyAdd, ptype, []*Rule{newRule}); err != nil {
			return false, err
		}
	}
	if err := e.sortPoliciesBySubjectHierarchy(); err != nil {
		return false, err
	}
	persisted := e.persistMutation(func(ad Adapter) error {
		ua, ok := ad.(UpdatableAdapter)
		if !ok {
			return ErrNotImplemented
		}
		return ua.UpdatePolicy(sec, ptype, oldFields, newFields)
	})
	e.notifyWatcher(persisted)
	return true, nil
}

// afterPolicyChange maintains role links for grouping rows and the
// subject-priority ordering of policy rows after any mutation.
func (e *Enforcer) afterPolicyChange(sec, ptype string, op PolicyOp, rules []*Rule) error {
	if sec == sectionRole && e.autoBuildRoleLinks {
		if err := e.model.BuildIncrementalRoleLinks(e.rmMap, op, ptype, rules); err != nil {
			return err
		}
	}
	return e.sortPoliciesBySubjectHierarchy()
}

// persistMutation runs one adapter write under the auto-save setting.
// ErrNotImplemented means the adapter opted out; any other failure is
// logged and the in-memory change stands. Reports whether the store now
// reflects the change.
func (e *Enforcer) persistMutation(write func(Adapter) error) bool {
	if e.adapter == nil || !e.autoSave {
		return false
	}
	err := write(e.adapter)
	if err == nil {
		return true
	}
	if !errors.Is(err, ErrNotImplemented) {
		e.logger.Error("policy persistence failed", "error", err)
	}
	return false
}

func (e *Enforcer) notifyWatcher(persisted bool) {
	if !persisted || e.watcher == nil || !e.autoNotifyWatcher {
		return
	}
	if err := e.watcher.Update(); err != nil {
		e.logger.Error("watcher notification failed", "error", err)
	}
}
