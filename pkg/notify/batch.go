package notify

import (
	"github.com/smith3v/family-reminders/pkg/db"
	"github.com/smith3v/family-reminders/pkg/store"
	"github.com/smith3v/family-reminders/pkg/ui"
)

// Event is one change to report. Alert is set for alert-level kinds.
type Event struct {
	Kind     ui.ChangeKind
	Reminder db.Reminder
	Alert    *db.Alert
}

type pairKey struct {
	owner      string
	reminderID string
}

type groupKey struct {
	mode  ui.ChangeKind
	owner string
}

// Batch collects the events of one processing pass. Within a batch each
// (owner, reminder) pair is reported once. The first event claims the pair;
// later events only move the claimed item to the kind that describes the
// final state (see mergeKinds). Handlers re-read the store, so the surviving
// job shows that state.
type Batch struct {
	id     string
	actor  string
	claims map[pairKey]ui.ChangeKind
	groups map[groupKey]*GroupPayload
	order  []groupKey
}

func (f *Fanout) NewBatch(actorUserID string) *Batch {
	return &Batch{
		id:     store.NewID(),
		actor:  actorUserID,
		claims: make(map[pairKey]ui.ChangeKind),
		groups: make(map[groupKey]*GroupPayload),
	}
}

// Add records ev and reports whether it changed what will be sent.
func (b *Batch) Add(ev Event) bool {
	owner := ev.Reminder.OwnerUserID
	if owner == "" || ev.Reminder.ID == "" || !ev.Kind.Valid() {
		return false
	}
	pair := pairKey{owner: owner, reminderID: ev.Reminder.ID}
	claimed, ok := b.claims[pair]
	if !ok {
		b.claims[pair] = ev.Kind
		b.append(ev.Kind, owner, newItem(ev))
		return true
	}

	mode := mergeKinds(claimed, ev)
	if mode == claimed {
		return false
	}
	b.remove(claimed, owner, ev.Reminder.ID)
	item := newItem(ev)
	if mode == ui.ChangeUpdated {
		item = GroupItem{ReminderID: ev.Reminder.ID, Text: ev.Reminder.Text}
	}
	b.claims[pair] = mode
	b.append(mode, owner, item)
	return true
}

// mergeKinds picks the kind reported for a pair that already has a claimed
// item. A deletion always wins. Added and completed items are re-read on
// delivery and need no change. A mix of other kinds, or a second alert-level
// event, is reported as a plain update so the message lists current alerts
// instead of one stale alert.
func mergeKinds(claimed ui.ChangeKind, ev Event) ui.ChangeKind {
	switch {
	case claimed == ui.ChangeDeleted:
		return claimed
	case ev.Kind == ui.ChangeDeleted:
		return ui.ChangeDeleted
	case claimed == ui.ChangeAdded || claimed == ui.ChangeCompleted:
		return claimed
	case ev.Kind == ui.ChangeCompleted:
		return ui.ChangeCompleted
	case claimed == ev.Kind && !isAlertKind(claimed):
		return claimed
	default:
		return ui.ChangeUpdated
	}
}

func isAlertKind(kind ui.ChangeKind) bool {
	return kind == ui.ChangeAlertAdded || kind == ui.ChangeAlertDeleted
}

func newItem(ev Event) GroupItem {
	item := GroupItem{ReminderID: ev.Reminder.ID, Text: ev.Reminder.Text}
	if ev.Alert != nil {
		item.AlertID = ev.Alert.ID
		due := ev.Alert.DueAt
		item.DueAt = &due
	} else if ev.Reminder.NextDueAt != nil {
		due := *ev.Reminder.NextDueAt
		item.DueAt = &due
	}
	return item
}

func (b *Batch) append(mode ui.ChangeKind, owner string, item GroupItem) {
	key := groupKey{mode: mode, owner: owner}
	group, ok := b.groups[key]
	if !ok {
		group = &GroupPayload{OwnerUserID: owner, ActorUserID: b.actor, Mode: mode}
		b.groups[key] = group
		b.order = append(b.order, key)
	}
	group.Items = append(group.Items, item)
}

func (b *Batch) remove(mode ui.ChangeKind, owner, reminderID string) {
	group, ok := b.groups[groupKey{mode: mode, owner: owner}]
	if !ok {
		return
	}
	kept := group.Items[:0]
	for _, item := range group.Items {
		if item.ReminderID != reminderID {
			kept = append(kept, item)
		}
	}
	group.Items = kept
}

// Len returns the number of owner groups that will be queued.
func (b *Batch) Len() int {
	n := 0
	for _, key := range b.order {
		if len(b.groups[key].Items) > 0 {
			n++
		}
	}
	return n
}
