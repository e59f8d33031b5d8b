package attendance

// DeriveAction picks the next action from a student's visit history. The
// active visit with the latest time in, if any, is returned with
// ActionTimeOut; otherwise the action is ActionTimeIn. Order of history does
// not matter; ties go to the later element.
func DeriveAction(history []Visit) (Action, *Visit) {
	var active *Visit
	for i := range history {
		v := &history[i]
		if !v.Active() {
			continue
		}
		if active == nil || !v.TimeIn.Before(active.TimeIn) {
			active = v
		}
	}
	if active == nil {
		return ActionTimeIn, nil
	}
	found := *active
	return ActionTimeOut, &found
}
