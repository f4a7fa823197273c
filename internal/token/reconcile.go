package token

// Outcome describes what a reconciliation did to the stored records.
type Outcome int

const (
	// OutcomeNoRecord means no record matched the identity; nothing was written.
	OutcomeNoRecord Outcome = iota
	// OutcomeUnchanged means the record found by user ID was already consistent.
	OutcomeUnchanged
	// OutcomeUsernameUpdated means the record found by user ID got the new username.
	OutcomeUsernameUpdated
	// OutcomeUserLinked means the record found by username got the user ID.
	OutcomeUserLinked
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoRecord:
		return "no_record"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeUsernameUpdated:
		return "username_updated"
	case OutcomeUserLinked:
		return "user_linked"
	default:
		return "unknown"
	}
}

// Changed reports whether the outcome requires a write.
func (o Outcome) Changed() bool {
	return o == OutcomeUsernameUpdated || o == OutcomeUserLinked
}

// PlanReconciliation decides how the stored records are aligned with an
// authenticated identity. byUserID and byUsername are the records found by the
// respective lookups, nil when absent. byUsername is only consulted when no
// record carries the user ID.
func PlanReconciliation(identity Identity, byUserID, byUsername *Record) (Record, Outcome) {
	if byUserID != nil {
		if byUserID.Username == identity.Username {
			return *byUserID, OutcomeUnchanged
		}

		rec := *byUserID
		rec.Username = identity.Username

		return rec, OutcomeUsernameUpdated
	}

	if byUsername != nil {
		rec := *byUsername
		rec.UserID = identity.UserID

		return rec, OutcomeUserLinked
	}

	return Record{}, OutcomeNoRecord
}
